package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scriptMissing  int64 = 0
	scriptOK       int64 = 1
	scriptRevoked  int64 = 2
	scriptExpired  int64 = 3
	scriptConflict int64 = 4
)

// Record hash fields. Times are unix milliseconds.
const (
	fieldSubject    = "sub"
	fieldSessionID  = "sid"
	fieldIssuedAt   = "iat"
	fieldExpiresAt  = "exp"
	fieldRevoked    = "rev"
	fieldRevokedAt  = "rat"
	fieldReplacedBy = "rby"
)

// Shared by insert and rotate: write the record hash, expire it, index it in
// the subject set and stretch the set's TTL to cover it.
const putRecordLua = `
local function put_record(key, set_key, id, sub, sid, iat, exp, ttl)
  redis.call("HSET", key, "sub", sub, "sid", sid, "iat", iat, "exp", exp, "rev", "0")
  redis.call("PEXPIRE", key, ttl)
  redis.call("SADD", set_key, id)
  local current = redis.call("PTTL", set_key)
  if current < tonumber(ttl) then
    redis.call("PEXPIRE", set_key, ttl)
  end
end
`

var insertRecordLua = redis.NewScript(putRecordLua + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 4
end
put_record(KEYS[1], KEYS[2], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

var rotateRecordLua = redis.NewScript(putRecordLua + `
local now = tonumber(ARGV[7])
local state = redis.call("HMGET", KEYS[1], "rev", "exp")
if not state[1] then
  return 0
end
if state[1] == "1" then
  return 2
end
if tonumber(state[2]) <= now then
  return 3
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 4
end
redis.call("HSET", KEYS[1], "rev", "1", "rat", ARGV[7], "rby", ARGV[1])
put_record(KEYS[2], KEYS[3], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

var revokeRecordLua = redis.NewScript(`
local rev = redis.call("HGET", KEYS[1], "rev")
if not rev then
  return 0
end
if rev == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "rev", "1", "rat", ARGV[1])
return 1
`)

var revokeSubjectLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local now = tonumber(ARGV[2])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local state = redis.call("HMGET", key, "rev", "exp")
  if not state[1] then
    redis.call("SREM", KEYS[1], id)
  elseif state[1] ~= "1" and tonumber(state[2]) > now then
    redis.call("HSET", key, "rev", "1", "rat", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`)

// RedisStore keeps each record in a hash keyed by token id and indexes
// records per subject in a set. Every mutation runs as a Lua script so it is
// atomic on the server. Scripts touch several keys, so the client must talk
// to a single shard.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	opts   storeOptions
}

// NewRedisStore returns a store using prefix as the key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "credcore"
	}
	return &RedisStore{redis: client, prefix: prefix, opts: buildOptions(opts)}
}

func (s *RedisStore) recordPrefix() string {
	return s.prefix + ":rt:"
}

func (s *RedisStore) key(tokenID string) string {
	return s.recordPrefix() + tokenID
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.prefix + ":subj:" + subject
}

// recordArgs returns the put_record arguments following the token id.
func (s *RedisStore) recordArgs(rec *Record, now time.Time) []interface{} {
	ttl := rec.ExpiresAt.Add(s.opts.retention).Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	return []interface{}{
		rec.TokenID,
		rec.Subject,
		rec.SessionID,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl,
	}
}

func (s *RedisStore) InsertRefreshRecord(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	code, err := insertRecordLua.Run(ctx, s.redis,
		[]string{s.key(rec.TokenID), s.subjectKey(rec.Subject)},
		s.recordArgs(rec, s.opts.now())...,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if code == scriptConflict {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) FindActiveRefreshRecord(ctx context.Context, tokenID string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rec, err := decodeRecord(tokenID, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return checkFound(rec, s.opts.now())
}

func (s *RedisStore) Revoke(ctx context.Context, tokenID string) error {
	code, err := revokeRecordLua.Run(ctx, s.redis,
		[]string{s.key(tokenID)},
		s.opts.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if code == scriptMissing {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, oldTokenID string, next *Record) error {
	if err := next.validate(); err != nil {
		return err
	}
	now := s.opts.now()
	args := append(s.recordArgs(next, now), now.UnixMilli())
	code, err := rotateRecordLua.Run(ctx, s.redis,
		[]string{s.key(oldTokenID), s.key(next.TokenID), s.subjectKey(next.Subject)},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch code {
	case scriptOK:
		return nil
	case scriptMissing:
		return ErrNotFound
	case scriptRevoked:
		return ErrAlreadyRotated
	case scriptExpired:
		return ErrExpired
	case scriptConflict:
		return ErrDuplicate
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrUnavailable, code)
	}
}

func (s *RedisStore) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	n, err := revokeSubjectLua.Run(ctx, s.redis,
		[]string{s.subjectKey(subject)},
		s.recordPrefix(),
		s.opts.now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// PurgeExpired walks every subject index, deleting records that expired
// before the cutoff and index entries whose record already expired out of
// Redis. It is an O(n) maintenance call and is not atomic across subjects.
func (s *RedisStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	var (
		cursor uint64
		purged int
	)
	cutoff := before.UnixMilli()
	pattern := s.prefix + ":subj:*"

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, setKey := range keys {
			n, err := s.purgeSubject(ctx, setKey, cutoff)
			purged += n
			if err != nil {
				return purged, err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}

func (s *RedisStore) purgeSubject(ctx context.Context, setKey string, cutoff int64) (int, error) {
	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.key(id), fieldExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var stale, expired []string
	for i, cmd := range cmds {
		exp, err := cmd.Int64()
		switch {
		case errors.Is(err, redis.Nil):
			stale = append(stale, ids[i])
		case err != nil:
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		case exp < cutoff:
			expired = append(expired, ids[i])
		}
	}
	if len(stale)+len(expired) == 0 {
		return 0, nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(stale)+len(expired))
		for _, id := range stale {
			members = append(members, id)
		}
		for _, id := range expired {
			members = append(members, id)
			pipe.Del(ctx, s.key(id))
		}
		pipe.SRem(ctx, setKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return len(expired), nil
}

// Ping reports Redis availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func decodeRecord(tokenID string, fields map[string]string) (*Record, error) {
	rec := &Record{
		TokenID:    tokenID,
		Subject:    fields[fieldSubject],
		SessionID:  fields[fieldSessionID],
		Revoked:    fields[fieldRevoked] == "1",
		ReplacedBy: fields[fieldReplacedBy],
	}
	var err error
	if rec.IssuedAt, err = parseMillis(fields[fieldIssuedAt]); err != nil {
		return nil, fmt.Errorf("record %s: iat: %w", tokenID, err)
	}
	if rec.ExpiresAt, err = parseMillis(fields[fieldExpiresAt]); err != nil {
		return nil, fmt.Errorf("record %s: exp: %w", tokenID, err)
	}
	if v := fields[fieldRevokedAt]; v != "" {
		if rec.RevokedAt, err = parseMillis(v); err != nil {
			return nil, fmt.Errorf("record %s: rat: %w", tokenID, err)
		}
	}
	if rec.Subject == "" || rec.SessionID == "" {
		return nil, fmt.Errorf("record %s: missing fields", tokenID)
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ Store = (*RedisStore)(nil)
