// Package ratelimit meters API callers with a Redis-backed token bucket.
// Compression requests are charged by payload size, see CostForBytes.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelpress:ratelimit"

// CostForBytes charges one token per started MiB, minimum one.
func CostForBytes(n int64) int64 {
	const unit = 1 << 20
	if n <= 0 {
		return 1
	}
	return (n + unit - 1) / unit
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the elapsed time, then takes ARGV[4]
// tokens when enough are available. A denied take leaves the balance
// untouched apart from the refill. Replies {allowed, remaining, retry_ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// NewRedisTokenBucket refills capacity tokens per window. An empty keyPrefix
// uses "pixelpress:ratelimit".
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(1, window.Milliseconds())),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens at once. Costs above capacity are capped so a
// single large upload can always eventually pass.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = min(max(cost, 1), l.capacity)

	reply, err := takeTokens.Run(ctx, l.client, []string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return decisionFromReply(reply)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func decisionFromReply(reply any) (Decision, error) {
	values, ok := reply.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket reply %v", reply)
	}

	var parsed [3]int64
	for i, name := range []string{"allowed", "remaining", "retry_after"} {
		v, err := toInt64(values[i])
		if err != nil {
			return Decision{}, fmt.Errorf("parse %s: %w", name, err)
		}
		parsed[i] = v
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
