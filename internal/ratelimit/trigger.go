package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/poolbilling/internal/config"
	"go.uber.org/zap"
)

const keyTrigger = "poolbilling:trigger:"

// TriggerLimiter bounds how often an operator can start work on one
// campaign. A nil limiter allows everything.
type TriggerLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewTriggerLimiter(client redis.UniversalClient, cfg config.Config, log *zap.Logger) *TriggerLimiter {
	if client == nil || cfg.TriggerRate <= 0 || cfg.TriggerBurst <= 0 {
		return nil
	}
	return &TriggerLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.TriggerRate,
		burst:  cfg.TriggerBurst,
		log:    log.Named("ratelimit"),
	}
}

// Allow fails open when redis is unreachable.
func (l *TriggerLimiter) Allow(ctx context.Context, scope string) Result {
	if l == nil {
		return Result{Allowed: true}
	}
	res, err := l.bucket.Allow(ctx, keyTrigger+scope, l.rate, l.burst)
	if err != nil {
		l.log.Warn("trigger rate limit unavailable", zap.String("scope", scope), zap.Error(err))
		return Result{Allowed: true, Limit: l.burst}
	}
	return res
}
