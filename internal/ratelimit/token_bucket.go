package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

-- tokens is returned as a string to keep the fraction
return {allowed, tostring(tokens), ts}
`

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrInvalidBucket = errors.New("rate_limiter_invalid_bucket")
)

// TokenBucket refills at rate tokens per second up to burst. State lives in
// one redis hash per key so every API replica draws from the same bucket.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

// Result describes one Allow decision. Limit is the bucket burst.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from the bucket at key.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	denied := &Result{Limit: burst}
	if t == nil || t.client == nil {
		return denied, ErrNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return denied, fmt.Errorf("%w: key=%q rate=%v burst=%d", ErrInvalidBucket, key, rate, burst)
	}

	ttlMillis := bucketTTL(rate, burst).Milliseconds()
	reply, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttlMillis).Slice()
	if err != nil {
		return denied, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(reply) != 3 {
		return denied, fmt.Errorf("token bucket script returned %d values", len(reply))
	}
	return bucketResult(reply, rate, burst), nil
}

// bucketResult decodes the script reply {allowed, tokens, now_ms}.
func bucketResult(reply []any, rate float64, burst int) *Result {
	allowed := scriptNumber(reply[0]) == 1
	tokens := scriptNumber(reply[1])
	now := time.UnixMilli(int64(scriptNumber(reply[2])))

	res := &Result{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(math.Floor(tokens)),
		ResetTime: now,
	}
	if !allowed && tokens < 1 {
		res.RetryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
		res.ResetTime = now.Add(res.RetryAfter)
	}
	return res
}

// bucketTTL keeps an idle bucket around for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	ttl := time.Duration(math.Ceil(2*float64(burst)/rate)) * time.Second
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func scriptNumber(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
