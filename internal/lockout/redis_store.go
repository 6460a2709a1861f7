package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "authguard:lockout:"

// RedisStore shares lockout state across instances. Failures live in a sorted set scored by
// unix nanoseconds so the window slides with ZREMRANGEBYSCORE; the lock is a separate key
// whose TTL equals the lock duration, so the key existing means the lock is in force.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func failuresKey(key string) string { return redisKeyPrefix + key + ":failures" }
func lockKey(key string) string     { return redisKeyPrefix + key + ":until" }

func (s *RedisStore) Get(ctx context.Context, key string, now time.Time, window time.Duration) (State, error) {
	var (
		card  *redis.IntCmd
		until *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, failuresKey(key), "-inf", cutoffScore(now, window))
		card = p.ZCard(ctx, failuresKey(key))
		until = p.Get(ctx, lockKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, err
	}
	st := State{Failures: int(card.Val())}
	if lu, ok := parseUnixNano(until); ok && now.Before(lu) {
		st.LockedUntil = lu
	}
	return st, nil
}

// recordFailureScript counts a failure and engages the lock in one server-side step, so instances
// sharing Redis agree on which failure locks. Returns {count, lockedUntil}; count is -1 when the
// key was already locked and 0 when this call locked it.
var recordFailureScript = redis.NewScript(`
local held = redis.call('GET', KEYS[2])
if held then
	return {-1, held}
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[5]) then
	redis.call('SET', KEYS[2], ARGV[6], 'PX', ARGV[7])
	redis.call('DEL', KEYS[1])
	return {0, ARGV[6]}
end
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {count, ''}
`)

func (s *RedisStore) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration, max int, duration time.Duration) (State, error) {
	lockedUntil := now.Add(duration)
	res, err := recordFailureScript.Run(ctx, s.client, []string{failuresKey(key), lockKey(key)},
		cutoffScore(now, window),
		strconv.FormatInt(now.UnixNano(), 10),
		uuid.NewString(),
		window.Milliseconds(),
		max,
		strconv.FormatInt(lockedUntil.UnixNano(), 10),
		duration.Milliseconds(),
	).Slice()
	if err != nil {
		return State{}, err
	}
	if len(res) != 2 {
		return State{}, fmt.Errorf("lockout script: unexpected reply %v", res)
	}
	count, _ := res[0].(int64)
	until, _ := res[1].(string)
	switch count {
	case -1:
		lu, ok := parseUnixNanoString(until)
		if !ok {
			return State{}, fmt.Errorf("lockout script: bad lock value %q", until)
		}
		return State{LockedUntil: lu}, nil
	case 0:
		return State{LockedUntil: lockedUntil, Engaged: true}, nil
	}
	return State{Failures: int(count)}, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, failuresKey(key), lockKey(key)).Err()
}

// cutoffScore is the exclusive upper bound of expired failures: everything strictly before now-window.
func cutoffScore(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).UnixNano(), 10)
}

func parseUnixNano(cmd *redis.StringCmd) (time.Time, bool) {
	raw, err := cmd.Result()
	if err != nil {
		return time.Time{}, false
	}
	return parseUnixNanoString(raw)
}

func parseUnixNanoString(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}
