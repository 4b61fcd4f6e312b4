package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *testClock) Store {
		_, rdb := newMiniredis(t)
		return NewRedisStore(rdb, "test", WithClock(clock.Now))
	})
}

func TestRedisStoreKeyExpiryFollowsRetention(t *testing.T) {
	mr, rdb := newMiniredis(t)
	clock := newTestClock()
	s := NewRedisStore(rdb, "test", WithClock(clock.Now), WithRetention(time.Hour))
	ctx := context.Background()

	rec := newRecord(t, clock, "alice", "sid-1", time.Minute)
	require.NoError(t, s.InsertRefreshRecord(ctx, rec))

	require.Equal(t, time.Hour+time.Minute, mr.TTL(s.key(rec.TokenID)))
	require.Equal(t, time.Hour+time.Minute, mr.TTL(s.subjectKey("alice")))

	mr.FastForward(2 * time.Hour)
	_, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, mr.Exists(s.subjectKey("alice")))
}

func TestRedisStorePurgeDropsStaleIndexEntries(t *testing.T) {
	mr, rdb := newMiniredis(t)
	clock := newTestClock()
	s := NewRedisStore(rdb, "test", WithClock(clock.Now), WithRetention(0))
	ctx := context.Background()

	short := newRecord(t, clock, "alice", "sid-1", time.Minute)
	long := newRecord(t, clock, "alice", "sid-2", time.Hour)
	require.NoError(t, s.InsertRefreshRecord(ctx, short))
	require.NoError(t, s.InsertRefreshRecord(ctx, long))

	// The short record's hash expires out of Redis; its index entry stays.
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(s.key(short.TokenID)))
	members, err := mr.Members(s.subjectKey("alice"))
	require.NoError(t, err)
	require.Len(t, members, 2)

	n, err := s.PurgeExpired(ctx, clock.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	members, err = mr.Members(s.subjectKey("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{long.TokenID}, members)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, rdb := newMiniredis(t)
	clock := newTestClock()
	s := NewRedisStore(rdb, "test", WithClock(clock.Now))
	mr.Close()

	ctx := context.Background()
	rec := newRecord(t, clock, "alice", "sid-1", time.Hour)
	require.ErrorIs(t, s.InsertRefreshRecord(ctx, rec), ErrUnavailable)
	_, err := s.FindActiveRefreshRecord(ctx, rec.TokenID)
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = s.RevokeAllForSubject(ctx, "alice")
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = s.Ping(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}
