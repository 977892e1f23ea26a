package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"quotagate/pkg/metrics"
)

// bumpScript performs the conditional check-and-increment in one round trip
// so concurrent requests against the same key cannot lose updates. The TTL
// is only stamped when the counter is created.
var bumpScript = redis.NewScript(`
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if ARGV[3] == "1" and current + cost > limit then
  return {current, 0}
end
local total = redis.call("INCRBY", KEYS[1], cost)
if total == cost then
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
return {total, 1}
`)

// RedisStore is a Store backed by a shared Redis instance. Every operation
// carries a bounded timeout; callers treat any returned error as a hard
// rejection, so a slow or absent Redis fails closed, never open.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedis wraps client with the given per-operation timeout.
func NewRedis(client *redis.Client, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, timeout: timeout}
}

func (s *RedisStore) Bump(ctx context.Context, key string, cost, limit int64, enforce bool, ttl time.Duration) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	enforceArg := "0"
	if enforce {
		enforceArg = "1"
	}

	start := time.Now()
	res, err := bumpScript.Run(ctx, s.client, []string{key},
		cost, limit, enforceArg, ttl.Milliseconds()).Result()
	metrics.CounterOpLatency.WithLabelValues("bump", "redis").
		Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		metrics.CounterOpErrors.WithLabelValues("bump", "redis").Inc()
		return 0, false, fmt.Errorf("counter bump failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		metrics.CounterOpErrors.WithLabelValues("bump", "redis").Inc()
		return 0, false, fmt.Errorf("counter bump: unexpected script result %T", res)
	}
	total, _ := vals[0].(int64)
	appliedFlag, _ := vals[1].(int64)
	return total, appliedFlag == 1, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	total, err := s.client.Get(ctx, key).Int64()
	metrics.CounterOpLatency.WithLabelValues("peek", "redis").
		Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		metrics.CounterOpErrors.WithLabelValues("peek", "redis").Inc()
		return 0, fmt.Errorf("counter peek failed: %w", err)
	}
	return total, nil
}
