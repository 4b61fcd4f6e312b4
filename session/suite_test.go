package session

import (
	"context"
	"fmt"
	"sync"
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

var idSeq struct {
	sync.Mutex
	n int
}

func nextID(t *testing.T) string {
	idSeq.Lock()
	idSeq.n++
	n := idSeq.n
	idSeq.Unlock()
	return HashTokenID(fmt.Sprintf("%s-%d", t.Name(), n))
}

func newRecord(t *testing.T, clock *testClock, subject, sessionID string, ttl time.Duration) *Record {
	now := clock.Now()
	return &Record{
		TokenID:   nextID(t),
		Subject:   subject,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, factory storeFactory) {
	t.Run("InsertAndFind", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, "alice", "sid-1", time.Hour)

		require.NoError(t, s.InsertRefreshRecord(ctx, rec))
		got, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
		require.NoError(t, err)
		require.Equal(t, rec.Subject, got.Subject)
		require.Equal(t, rec.SessionID, got.SessionID)
		require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v != %v", rec.ExpiresAt, got.ExpiresAt)
		require.False(t, got.Revoked)
		require.True(t, got.Active(clock.Now()))
	})

	t.Run("DuplicateInsert", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, "alice", "sid-1", time.Hour)

		require.NoError(t, s.InsertRefreshRecord(ctx, rec))
		require.ErrorIs(t, s.InsertRefreshRecord(ctx, rec), ErrDuplicate)
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		rec := newRecord(t, clock, "", "sid-1", time.Hour)
		require.ErrorIs(t, s.InsertRefreshRecord(context.Background(), rec), ErrInvalidRecord)
	})

	t.Run("FindMissing", func(t *testing.T) {
		s := factory(t, newTestClock())
		_, err := s.FindActiveRefreshRecord(context.Background(), nextID(t))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.NoError(t, s.InsertRefreshRecord(ctx, rec))

		require.NoError(t, s.Revoke(ctx, rec.TokenID))
		require.NoError(t, s.Revoke(ctx, rec.TokenID))

		got, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
		require.ErrorIs(t, err, ErrRevoked)
		require.NotNil(t, got)
		require.True(t, got.Revoked)
		require.False(t, got.RevokedAt.IsZero())

		require.ErrorIs(t, s.Revoke(ctx, nextID(t)), ErrNotFound)
	})

	t.Run("Expired", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		rec := newRecord(t, clock, "alice", "sid-1", time.Minute)
		require.NoError(t, s.InsertRefreshRecord(ctx, rec))

		clock.Advance(2 * time.Minute)
		got, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
		require.ErrorIs(t, err, ErrExpired)
		require.NotNil(t, got)

		next := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.ErrorIs(t, s.Rotate(ctx, rec.TokenID, next), ErrExpired)
		_, err = s.FindActiveRefreshRecord(ctx, next.TokenID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Rotate", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		old := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.NoError(t, s.InsertRefreshRecord(ctx, old))

		clock.Advance(time.Second)
		next := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.NoError(t, s.Rotate(ctx, old.TokenID, next))

		prev, err := s.FindActiveRefreshRecord(ctx, old.TokenID)
		require.ErrorIs(t, err, ErrRevoked)
		require.Equal(t, next.TokenID, prev.ReplacedBy)
		require.True(t, prev.RevokedAt.Equal(clock.Now()), "revoked_at %v != %v", prev.RevokedAt, clock.Now())

		cur, err := s.FindActiveRefreshRecord(ctx, next.TokenID)
		require.NoError(t, err)
		require.Equal(t, "sid-1", cur.SessionID)

		// A second rotation of the same predecessor loses and leaves nothing behind.
		loser := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.ErrorIs(t, s.Rotate(ctx, old.TokenID, loser), ErrAlreadyRotated)
		_, err = s.FindActiveRefreshRecord(ctx, loser.TokenID)
		require.ErrorIs(t, err, ErrNotFound)

		missing := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.ErrorIs(t, s.Rotate(ctx, nextID(t), missing), ErrNotFound)
	})

	t.Run("ConcurrentRotateSingleWinner", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		old := newRecord(t, clock, "alice", "sid-1", time.Hour)
		require.NoError(t, s.InsertRefreshRecord(ctx, old))

		const workers = 16
		successors := make([]*Record, workers)
		for i := range successors {
			successors[i] = newRecord(t, clock, "alice", "sid-1", time.Hour)
		}

		errs := make([]error, workers)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = s.Rotate(ctx, old.TokenID, successors[i])
			}(i)
		}
		close(start)
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			require.ErrorIs(t, err, ErrAlreadyRotated)
		}
		require.Equal(t, 1, winners)

		active := 0
		for _, rec := range successors {
			if _, err := s.FindActiveRefreshRecord(ctx, rec.TokenID); err == nil {
				active++
			}
		}
		require.Equal(t, 1, active)
	})

	t.Run("RevokeAllForSubject", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		a1 := newRecord(t, clock, "alice", "sid-1", time.Hour)
		a2 := newRecord(t, clock, "alice", "sid-2", time.Hour)
		a3 := newRecord(t, clock, "alice", "sid-3", time.Hour)
		b1 := newRecord(t, clock, "bob", "sid-4", time.Hour)
		for _, rec := range []*Record{a1, a2, a3, b1} {
			require.NoError(t, s.InsertRefreshRecord(ctx, rec))
		}
		require.NoError(t, s.Revoke(ctx, a3.TokenID))

		n, err := s.RevokeAllForSubject(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		for _, rec := range []*Record{a1, a2, a3} {
			_, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
			require.ErrorIs(t, err, ErrRevoked)
		}
		_, err = s.FindActiveRefreshRecord(ctx, b1.TokenID)
		require.NoError(t, err)

		n, err = s.RevokeAllForSubject(ctx, "nobody")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		clock := newTestClock()
		s := factory(t, clock)
		ctx := context.Background()
		short := newRecord(t, clock, "carol", "sid-1", time.Minute)
		long := newRecord(t, clock, "carol", "sid-2", time.Hour)
		require.NoError(t, s.InsertRefreshRecord(ctx, short))
		require.NoError(t, s.InsertRefreshRecord(ctx, long))

		clock.Advance(10 * time.Minute)
		n, err := s.PurgeExpired(ctx, clock.Now())
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 1)

		_, err = s.FindActiveRefreshRecord(ctx, short.TokenID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindActiveRefreshRecord(ctx, long.TokenID)
		require.NoError(t, err)
	})
}
