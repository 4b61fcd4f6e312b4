package challenge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scriptMissing   int64 = 0
	scriptOK        int64 = 1
	scriptExpired   int64 = 2
	scriptDuplicate int64 = 3
)

// KEYS[1] record hash, KEYS[2] subject set.
// ARGV: id, purpose, subject, created ms, expires ms, ttl ms.
var saveLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 3
end
redis.call("HSET", KEYS[1], "p", ARGV[2], "sub", ARGV[3], "cat", ARGV[4], "exp", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[1])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[6]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[6])
end
return 1
`)

// KEYS[1] record hash. ARGV: purpose, now ms, subject set prefix, id.
// Returns {status, subject, created ms, expires ms}.
var consumeLua = redis.NewScript(`
local state = redis.call("HMGET", KEYS[1], "p", "sub", "cat", "exp")
if not state[1] or state[1] ~= ARGV[1] then
  return {0}
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[3] .. state[2], ARGV[4])
if tonumber(state[4]) <= tonumber(ARGV[2]) then
  return {2}
end
return {1, state[2], state[3], state[4]}
`)

// KEYS[1] subject set. ARGV[1] record key prefix.
var deleteSubjectLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`)

// RedisStore keeps each record in a hash that expires with the record and
// indexes ids per subject and purpose in a set. Scripts touch several keys,
// so the client must talk to a single shard.
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
	return s.prefix + ":ch:"
}

func (s *RedisStore) subjectPrefix(purpose Purpose) string {
	return s.prefix + ":chs:" + string(purpose) + ":"
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	ttl := rec.ExpiresAt.Sub(s.opts.now()).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	res, err := saveLua.Run(ctx, s.redis,
		[]string{s.recordPrefix() + rec.ID, s.subjectPrefix(rec.Purpose) + rec.Subject},
		rec.ID, string(rec.Purpose), rec.Subject,
		rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), ttl,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == scriptDuplicate {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, purpose Purpose, id string) (*Record, error) {
	res, err := consumeLua.Run(ctx, s.redis,
		[]string{s.recordPrefix() + id},
		string(purpose), s.opts.now().UnixMilli(), s.subjectPrefix(purpose), id,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty script reply", ErrUnavailable)
	}
	status, _ := res[0].(int64)
	if status != scriptOK || len(res) != 4 {
		return nil, ErrNotFound
	}

	subject, _ := res[1].(string)
	created, err := parseMillis(res[2])
	if err != nil {
		return nil, err
	}
	expires, err := parseMillis(res[3])
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:        id,
		Purpose:   purpose,
		Subject:   subject,
		CreatedAt: created,
		ExpiresAt: expires,
	}, nil
}

func (s *RedisStore) DeleteForSubject(ctx context.Context, purpose Purpose, subject string) (int, error) {
	n, err := deleteSubjectLua.Run(ctx, s.redis,
		[]string{s.subjectPrefix(purpose) + subject},
		s.recordPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func parseMillis(v interface{}) (time.Time, error) {
	str, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unexpected field type %T", ErrUnavailable, v)
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrUnavailable, str)
	}
	return time.UnixMilli(ms), nil
}

var _ Store = (*RedisStore)(nil)
