package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dkrish7/osprey/internal/config"
)

// slideScript runs the whole sliding-window step server-side so concurrent
// callers sharing a key can never push the count past max.
//
// KEYS[1] window zset
// ARGV[1] now (unix micros)
// ARGV[2] window (micros)
// ARGV[3] max
// ARGV[4] member id for this request
// Returns {allowed, count, oldest-score-or-0}.
var slideScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])

local allowed = 0
if count < max then
	redis.call('ZADD', KEYS[1], now, ARGV[4])
	redis.call('PEXPIRE', KEYS[1], math.ceil(window / 1000))
	allowed = 1
	count = count + 1
end

local oldest = 0
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:            cfg.URL,
		Password:        cfg.ClientPassword,
		DB:              1,
		PoolSize:        50,
		MinIdleConns:    10,
		PoolTimeout:     1 * time.Second,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &RedisStore{client: rc}, nil
}

func (s *RedisStore) Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (SlideResult, error) {
	member := fmt.Sprintf("%d-%s", now.UnixMicro(), uuid.NewString())

	raw, err := slideScript.Run(ctx, s.client, []string{key},
		now.UnixMicro(),
		window.Microseconds(),
		max,
		member,
	).Slice()
	if err != nil {
		return SlideResult{}, err
	}
	if len(raw) != 3 {
		return SlideResult{}, fmt.Errorf("unexpected script reply length %d", len(raw))
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	oldestMicros, _ := raw[2].(int64)

	res := SlideResult{
		Allowed: allowed == 1,
		Count:   int(count),
	}
	if oldestMicros > 0 {
		res.Oldest = time.UnixMicro(oldestMicros)
	}
	return res, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
