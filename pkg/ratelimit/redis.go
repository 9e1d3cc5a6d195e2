package ratelimit

import (
	"time"

	"github.com/zeromicro/go-zero/core/limit"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

const defaultKeyPrefix = "tradelink:ratelimit:"

// RedisWindow shares a fixed-window budget across processes through Redis.
// Windows are aligned to wall-clock multiples of the period, matching Window.
type RedisWindow struct {
	limiter *limit.PeriodLimit
}

// NewRedisWindow builds a shared limiter. Periods shorter than one second
// are rounded up because the Redis counters expire at second granularity.
func NewRedisWindow(store *redis.Redis, requests int, window time.Duration, keyPrefix string) *RedisWindow {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	seconds := int((window + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &RedisWindow{
		limiter: limit.NewPeriodLimit(seconds, requests, store, keyPrefix, limit.Align()),
	}
}

// TryAcquire takes one unit of budget. A Redis failure admits the call so a
// cache outage cannot block protective orders.
func (r *RedisWindow) TryAcquire(key string) bool {
	code, err := r.limiter.Take(key)
	if err != nil {
		logx.Errorf("ratelimit: redis take %s failed, admitting call: %v", key, err)
		return true
	}
	switch code {
	case limit.Allowed, limit.HitQuota:
		return true
	case limit.OverQuota:
		return false
	default:
		logx.Errorf("ratelimit: unknown period limit code %d for %s, admitting call", code, key)
		return true
	}
}
