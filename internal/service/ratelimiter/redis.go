package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl/internal/domain"
)

// luaTokenBucket refills and drains one bucket atomically. Returns
// { allowed, tokens, last_refill, retry_after_seconds }.
const luaTokenBucket = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

return { allowed, tokens, last_refill, retry_after }
`

// RedisPacer is a token bucket shared across processes via a Redis hash.
// Redis failures fail open: a scraper should keep working when the
// coordination layer is down, at the cost of looser pacing.
type RedisPacer struct {
	rdb      *redis.Client
	key      string
	capacity int64
	refill   float64
	script   *redis.Script

	// Now and maxSleep are test seams.
	Now      func() time.Time
	maxSleep time.Duration
}

var _ domain.Pacer = (*RedisPacer)(nil)

// NewRedisPacer builds a shared bucket refilling at perSecond under the given
// key. Burst defaults to one second of quota.
func NewRedisPacer(rdb *redis.Client, key string, perSecond float64, burst int) *RedisPacer {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = int(math.Ceil(perSecond))
	}
	return &RedisPacer{
		rdb:      rdb,
		key:      "rate:" + key,
		capacity: int64(burst),
		refill:   perSecond,
		script:   redis.NewScript(luaTokenBucket),
		Now:      time.Now,
		maxSleep: time.Second,
	}
}

// Allow probes the bucket once without blocking.
func (p *RedisPacer) Allow() bool {
	allowed, _, err := p.probe()
	if err != nil {
		return true
	}
	return allowed
}

// Wait blocks until a token is granted or the context ends.
func (p *RedisPacer) Wait(ctx domain.Context) error {
	for {
		allowed, retryAfter, err := p.probe()
		if err != nil {
			slog.Error("redis pacer probe failed, failing open", slog.String("key", p.key), slog.Any("error", err))
			return nil
		}
		if allowed {
			return nil
		}
		sleep := retryAfter
		if sleep <= 0 || sleep > p.maxSleep {
			sleep = p.maxSleep
		}
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (p *RedisPacer) probe() (bool, time.Duration, error) {
	ctx := context.Background()
	nowSec := float64(p.Now().UnixNano()) / 1e9
	res, err := p.script.Run(ctx, p.rdb, []string{p.key}, p.capacity, p.refill, nowSec, 1).Result()
	if err != nil {
		return true, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toFloat64(vals[3]) * float64(time.Second))
	return allowed, retryAfter, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
