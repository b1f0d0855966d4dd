package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 10000)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter is a Redis sliding-window limiter. FailOpen decides what happens
// when Redis cannot be reached: analysis stays available because the credit
// ledger is the real guard, login is refused.
type RateLimiter struct {
	client   redis.Scripter
	failOpen bool
}

func NewRateLimiter(client redis.Scripter, failOpen bool) *RateLimiter {
	return &RateLimiter{client: client, failOpen: failOpen}
}

// CheckLimit records one hit for key and reports whether it fits in the window.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().UnixMilli()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		now,
		window.Milliseconds(),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Bool("fail_open", rl.failOpen).
			Msg("rate limit check failed")
		return rl.failOpen, time.Now().Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result")
		return rl.failOpen, time.Now().Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}
