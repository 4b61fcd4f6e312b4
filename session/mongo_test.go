package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoTestClient connects to CREDCORE_TEST_MONGO_URI or skips the test.
func mongoTestClient(t *testing.T) *mongo.Client {
	t.Helper()
	uri := os.Getenv("CREDCORE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CREDCORE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client
}

func newMongoTestStore(t *testing.T, client *mongo.Client, clock *testClock, opts ...Option) *MongoStore {
	t.Helper()
	db := client.Database("credcore_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s := NewMongoStore(db.Collection(DefaultCollection), opts...)
	require.NoError(t, s.EnsureIndexes(context.Background()))
	return s
}

func TestMongoStore(t *testing.T) {
	client := mongoTestClient(t)
	runStoreSuite(t, func(t *testing.T, clock *testClock) Store {
		return newMongoTestStore(t, client, clock)
	})
}

func TestMongoStoreTransactions(t *testing.T) {
	client := mongoTestClient(t)
	if os.Getenv("CREDCORE_TEST_MONGO_REPLSET") == "" {
		t.Skip("CREDCORE_TEST_MONGO_REPLSET not set")
	}
	runStoreSuite(t, func(t *testing.T, clock *testClock) Store {
		return newMongoTestStore(t, client, clock, WithTransactions(true))
	})
}

func TestMongoStoreOptions(t *testing.T) {
	s := NewMongoStore(nil)
	require.False(t, s.opts.transactions)
	require.Equal(t, DefaultRetention, s.opts.retention)

	s = NewMongoStore(nil, WithTransactions(true), WithRetention(time.Minute), nil)
	require.True(t, s.opts.transactions)
	require.Equal(t, time.Minute, s.opts.retention)
	require.NotNil(t, s.opts.now)

	require.NotNil(t, options.Client().ApplyURI("mongodb://localhost:27017"))
}

type settleCalls struct {
	finds    int
	removes  int
	removeOK bool
}

func (c *settleCalls) find(old *Record, err error) func(context.Context) (*Record, error) {
	return func(ctx context.Context) (*Record, error) {
		c.finds++
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return old, err
	}
}

func (c *settleCalls) remove(err error) func(context.Context) error {
	return func(ctx context.Context) error {
		c.removes++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.removeOK = err == nil
		return err
	}
}

func TestSettleClaimAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls settleCalls
	err := settleClaim(ctx, ErrAlreadyRotated, "next", calls.find(nil, nil), calls.remove(nil))
	require.ErrorIs(t, err, ErrAlreadyRotated)
	require.Zero(t, calls.finds, "a definite miss needs no re-read")
	require.Equal(t, 1, calls.removes)
	require.True(t, calls.removeOK, "cleanup must not inherit the cancelled context")
}

func TestSettleClaimKeepsAppliedRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lost := fmt.Errorf("%w: %v", ErrUnavailable, context.Canceled)
	old := &Record{TokenID: "old", Revoked: true, ReplacedBy: "next"}

	var calls settleCalls
	err := settleClaim(ctx, lost, "next", calls.find(old, nil), calls.remove(nil))
	require.NoError(t, err)
	require.Equal(t, 1, calls.finds)
	require.Zero(t, calls.removes)
}

func TestSettleClaimRemovesSuccessorWhenNotApplied(t *testing.T) {
	lost := fmt.Errorf("%w: connection reset", ErrUnavailable)

	tests := []struct {
		name string
		old  *Record
		err  error
	}{
		{"still active", &Record{TokenID: "old"}, nil},
		{"rotated elsewhere", &Record{TokenID: "old", Revoked: true, ReplacedBy: "other"}, nil},
		{"unreadable", nil, fmt.Errorf("%w: timeout", ErrUnavailable)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls settleCalls
			err := settleClaim(context.Background(), lost, "next", calls.find(tt.old, tt.err), calls.remove(nil))
			require.ErrorIs(t, err, ErrUnavailable)
			require.Equal(t, 1, calls.removes)
		})
	}
}

func TestSettleClaimReportsFailedCleanup(t *testing.T) {
	var calls settleCalls
	err := settleClaim(context.Background(), ErrExpired, "next", calls.find(nil, nil), calls.remove(errors.New("socket closed")))
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "remove orphan successor")
}
