package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

// Limiter is a fixed-window per-key limiter over a shared Store.
type Limiter struct {
	name     string
	store    Store
	limit    int
	window   time.Duration
	failOpen bool
	log      *zap.Logger
}

func NewLimiter(name string, store Store, limit int, window time.Duration, failOpen bool, log *zap.Logger) *Limiter {
	return &Limiter{
		name:     name,
		store:    store,
		limit:    limit,
		window:   window,
		failOpen: failOpen,
		log:      log.With(zap.String("limiter", name)),
	}
}

func (l *Limiter) Name() string { return l.name }
func (l *Limiter) Limit() int   { return l.limit }

func (l *Limiter) key(key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.name, key)
}

// Allow records one request for key. A denied decision carries the time
// until the window resets. Store failures admit the request when the
// limiter fails open and reject it otherwise.
func (l *Limiter) Allow(ctx context.Context, key string) (domain.RateDecision, error) {
	count, ttl, err := l.store.Incr(ctx, l.key(key), l.window)
	if err != nil {
		telemetry.RateLimitStoreErrors.WithLabelValues(l.name).Inc()
		if l.failOpen {
			l.log.Warn("Rate limit store unavailable, admitting request", zap.String("key", key), zap.Error(err))
			return domain.RateDecision{Allowed: true, Remaining: l.limit}, nil
		}
		return domain.RateDecision{Allowed: false, RetryAfter: time.Second}, fmt.Errorf("rate limit store: %w", err)
	}

	if count > int64(l.limit) {
		telemetry.RateLimitRejections.WithLabelValues(l.name).Inc()
		if ttl <= 0 {
			ttl = l.window
		}
		return domain.RateDecision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	return domain.RateDecision{Allowed: true, Remaining: l.limit - int(count)}, nil
}

// Remaining reports how many requests key may still issue in the current
// window without consuming one.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	count, _, err := l.store.Peek(ctx, l.key(key))
	if err != nil {
		return 0, fmt.Errorf("rate limit store: %w", err)
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
