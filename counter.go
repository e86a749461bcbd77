package lexibase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// raiseScript sets the counter to ARGV[1] only when that is higher
const raiseScript = `
local cur = tonumber(redis.call("get", KEYS[1]) or "0")
local want = tonumber(ARGV[1])
if want > cur then
	redis.call("set", KEYS[1], ARGV[1])
	return want
end
return cur
`

// Counter is a Redis-backed monotonic sequence. Backup ids come from here.
type Counter struct {
	redis *redis.Client
	key   string
}

// NewCounter creates a new Redis-backed atomic counter
func NewCounter(client *redis.Client, key string) *Counter {
	return &Counter{
		redis: client,
		key:   key,
	}
}

// Next atomically increments the counter and returns the new value
func (c *Counter) Next(ctx context.Context) (int64, error) {
	val, err := c.redis.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", c.key, err)
	}
	return val, nil
}

// Current returns the last issued value, 0 when nothing was issued
func (c *Counter) Current(ctx context.Context) (int64, error) {
	val, err := c.redis.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", c.key, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value: %w", err)
	}
	return n, nil
}

// AtLeast raises the counter to n if it is lower and returns the resulting
// value. It never lowers the counter.
func (c *Counter) AtLeast(ctx context.Context, n int64) (int64, error) {
	val, err := c.redis.Eval(ctx, raiseScript, []string{c.key}, n).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to raise counter %s: %w", c.key, err)
	}
	return val, nil
}
