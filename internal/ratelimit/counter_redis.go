package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/failure"
)

// The window starts on the first INCR; PTTL below zero means the key lost
// its expiry and the window is restarted.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisCounter keeps windows in Redis so every instance shares them. Key
// expiry removes finished windows.
type RedisCounter struct {
	client redis.Scripter
	script *redis.Script
	clock  clock.Clock
}

func NewRedisCounter(client redis.Scripter, clk clock.Clock) *RedisCounter {
	if clk == nil {
		clk = clock.System()
	}
	return &RedisCounter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		clock:  clk,
	}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (WindowRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return WindowRecord{}, ErrInvalidKey
	}
	if window < time.Millisecond {
		return WindowRecord{}, ErrInvalidWindow
	}
	if c == nil || c.client == nil {
		return WindowRecord{}, failure.Configuration("redis counter not configured")
	}

	now := c.clock.Now()
	res, err := c.script.Run(ctx, c.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return WindowRecord{}, failure.StoreUnavailable("redis counter increment", err)
	}
	if len(res) < 2 {
		return WindowRecord{}, failure.StoreUnavailable("redis counter increment", errors.New("invalid script response"))
	}

	count := castToInt(res[0])
	ttl := castToInt(res[1])
	if count <= 0 || ttl < 0 {
		return WindowRecord{}, failure.StoreUnavailable("redis counter increment", errors.New("invalid script response"))
	}

	return WindowRecord{
		Key:     key,
		Count:   count,
		ResetAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return -1
	}
}
