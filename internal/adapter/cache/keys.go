package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

// Operation prefixes. Invalidating a prefix drops every entry of that kind.
const (
	OpIntent = "intent"
	OpTTS    = "tts"
)

// Key derives a deterministic cache key for operation from its normalized
// inputs: "<operation>:<blake2b-256 hex>".
func Key(operation string, parts ...string) string {
	h, _ := blake2b.New256(nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return operation + ":" + hex.EncodeToString(h.Sum(nil))
}

// Lookup reads key and records a hit or miss for operation. Store errors
// are logged and reported as misses.
func Lookup(ctx context.Context, c ports.Cache, operation, key string, log *zap.Logger) (string, bool) {
	val, err := c.Get(ctx, key)
	switch {
	case err == nil:
		telemetry.CacheRequests.WithLabelValues(operation, "hit").Inc()
		log.Debug("Cache lookup", zap.String("operation", operation), zap.String("cache_result", "hit"))
		return val, true
	case errors.Is(err, ports.ErrCacheMiss):
		telemetry.CacheRequests.WithLabelValues(operation, "miss").Inc()
		log.Debug("Cache lookup", zap.String("operation", operation), zap.String("cache_result", "miss"))
	default:
		telemetry.CacheRequests.WithLabelValues(operation, "error").Inc()
		log.Warn("Cache lookup failed", zap.String("operation", operation), zap.Error(err))
	}
	return "", false
}

// Store writes value and logs, but does not return, store errors.
func Store(ctx context.Context, c ports.Cache, operation, key string, value interface{}, ttl time.Duration, log *zap.Logger) {
	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Warn("Cache store failed", zap.String("operation", operation), zap.Error(err))
	}
}

func LookupJSON[T any](ctx context.Context, c ports.Cache, operation, key string, log *zap.Logger) (T, bool) {
	var out T
	raw, ok := Lookup(ctx, c, operation, key, log)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Warn("Discarding undecodable cache entry", zap.String("operation", operation), zap.Error(err))
		_ = c.Delete(ctx, key)
		return out, false
	}
	return out, true
}

func StoreJSON(ctx context.Context, c ports.Cache, operation, key string, value interface{}, ttl time.Duration, log *zap.Logger) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn("Cache encode failed", zap.String("operation", operation), zap.Error(err))
		return
	}
	Store(ctx, c, operation, key, string(data), ttl, log)
}
