package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"trustaudit/internal/logging"
)

// tokenBucketScript runs refill-then-deduct atomically for one bucket.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
// Returns {allowed, wait_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
local wait_ms = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
else
    wait_ms = math.ceil((cost - tokens) / rate * 1000)
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {allowed, wait_ms}
`)

// scriptRunner evaluates the bucket script. Satisfied by redisScriptRunner
// in production and by fakes in tests.
type scriptRunner interface {
	Run(ctx context.Context, keys []string, args ...interface{}) (interface{}, error)
}

type redisScriptRunner struct {
	client redis.Scripter
}

func (r redisScriptRunner) Run(ctx context.Context, keys []string, args ...interface{}) (interface{}, error) {
	return tokenBucketScript.Run(ctx, r.client, keys, args...).Result()
}

// RedisLimiter shares buckets across processes through Redis so several
// collectors respect one per-domain budget.
type RedisLimiter struct {
	runner    scriptRunner
	rates     *DomainLimiter
	keyPrefix string
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRedisLimiter creates a Redis-backed limiter. rates supplies bucket sizes.
func NewRedisLimiter(client redis.Scripter, rates *DomainLimiter, keyPrefix string) *RedisLimiter {
	return newRedisLimiter(redisScriptRunner{client: client}, rates, keyPrefix)
}

func newRedisLimiter(runner scriptRunner, rates *DomainLimiter, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisLimiter{
		runner:    runner,
		rates:     rates,
		keyPrefix: keyPrefix,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// NewRedisClient opens a go-redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Acquire blocks until the shared bucket grants n tokens. Costs above the
// bucket capacity are taken in capacity-sized chunks.
func (l *RedisLimiter) Acquire(ctx context.Context, domain string, n int) error {
	if n < 1 {
		n = 1
	}
	domain = normalizeDomain(domain)
	r := l.rates.Rate(domain)
	perSecond := r.PerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1.0
	}
	capacity := r.burst()
	key := l.keyPrefix + domain

	for n > 0 {
		chunk := n
		if chunk > capacity {
			chunk = capacity
		}
		if err := l.take(ctx, key, domain, perSecond, capacity, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (l *RedisLimiter) take(ctx context.Context, key, domain string, perSecond float64, capacity, n int) error {
	for {
		now := float64(l.now().UnixMicro()) / 1e6
		res, err := l.runner.Run(ctx, []string{key}, perSecond, capacity, n, now)
		if err != nil {
			return fmt.Errorf("redis limiter error: %w", err)
		}

		allowed, waitMS, err := parseScriptResult(res)
		if err != nil {
			return err
		}
		if allowed {
			logging.RateLimitDebug("acquired %d shared tokens for %s", n, domain)
			return nil
		}

		wait := time.Duration(waitMS) * time.Millisecond
		logging.RateLimitDebug("shared bucket %s empty, waiting %v", domain, wait)
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", domain, err)
		}
	}
}

func parseScriptResult(res interface{}) (bool, int64, error) {
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, 0, fmt.Errorf("invalid response from lua script")
	}
	allowed, _ := results[0].(int64)
	waitMS, _ := results[1].(int64)
	if waitMS < 1 {
		waitMS = 1
	}
	return allowed == 1, int64(math.Min(float64(waitMS), float64(time.Minute/time.Millisecond))), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
