package challenge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *testClock) Store

var secretSeq atomic.Int64

func newRecord(t *testing.T, clock *testClock, purpose Purpose, subject string, ttl time.Duration) *Record {
	now := clock.Now()
	return &Record{
		ID:        HashSecret(fmt.Sprintf("%s-%d", t.Name(), secretSeq.Add(1))),
		Purpose:   purpose,
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, factory storeFactory) {
	t.Run("SaveAndConsume", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, PurposePasswordReset, "alice", time.Hour)

		require.NoError(t, s.Save(ctx, rec))
		got, err := s.Consume(ctx, PurposePasswordReset, rec.ID)
		require.NoError(t, err)
		require.Equal(t, rec.ID, got.ID)
		require.Equal(t, "alice", got.Subject)
		require.Equal(t, PurposePasswordReset, got.Purpose)
		require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v != %v", rec.ExpiresAt, got.ExpiresAt)

		_, err = s.Consume(ctx, PurposePasswordReset, rec.ID)
		require.ErrorIs(t, err, ErrNotFound, "a record is single-use")
	})

	t.Run("DuplicateSave", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		rec := newRecord(t, clock, PurposePasswordReset, "alice", time.Hour)
		require.NoError(t, s.Save(context.Background(), rec))
		require.ErrorIs(t, s.Save(context.Background(), rec), ErrDuplicate)
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		rec := newRecord(t, clock, Purpose("other"), "alice", time.Hour)
		require.ErrorIs(t, s.Save(context.Background(), rec), ErrInvalidRecord)
		rec = newRecord(t, clock, PurposePasswordReset, "", time.Hour)
		require.ErrorIs(t, s.Save(context.Background(), rec), ErrInvalidRecord)
	})

	t.Run("WrongPurposeIsNotConsumed", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, PurposeEmailVerification, "alice", time.Hour)
		require.NoError(t, s.Save(ctx, rec))

		_, err := s.Consume(ctx, PurposePasswordReset, rec.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Consume(ctx, PurposeEmailVerification, rec.ID)
		require.NoError(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, PurposePasswordReset, "alice", time.Minute)
		require.NoError(t, s.Save(ctx, rec))

		clock.Advance(time.Minute)
		_, err := s.Consume(ctx, PurposePasswordReset, rec.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UnknownID", func(t *testing.T) {
		s := factory(t, newTestClock())
		_, err := s.Consume(context.Background(), PurposePasswordReset, HashSecret("never-issued"))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteForSubject", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		a1 := newRecord(t, clock, PurposePasswordReset, "alice", time.Hour)
		a2 := newRecord(t, clock, PurposePasswordReset, "alice", time.Hour)
		av := newRecord(t, clock, PurposeEmailVerification, "alice", time.Hour)
		b1 := newRecord(t, clock, PurposePasswordReset, "bob", time.Hour)
		for _, rec := range []*Record{a1, a2, av, b1} {
			require.NoError(t, s.Save(ctx, rec))
		}

		n, err := s.DeleteForSubject(ctx, PurposePasswordReset, "alice")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		_, err = s.Consume(ctx, PurposePasswordReset, a1.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Consume(ctx, PurposeEmailVerification, av.ID)
		require.NoError(t, err, "other purposes are untouched")
		_, err = s.Consume(ctx, PurposePasswordReset, b1.ID)
		require.NoError(t, err, "other subjects are untouched")

		n, err = s.DeleteForSubject(ctx, PurposePasswordReset, "nobody")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("ConcurrentConsumeSingleWinner", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, PurposePasswordReset, "alice", time.Hour)
		require.NoError(t, s.Save(ctx, rec))

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Consume(ctx, PurposePasswordReset, rec.ID); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})
}

func TestHashSecretIsStable(t *testing.T) {
	require.Equal(t, HashSecret("s"), HashSecret("s"))
	require.NotEqual(t, HashSecret("s"), HashSecret("t"))
	require.Len(t, HashSecret("s"), 64)
}
