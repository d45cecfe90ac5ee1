package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/queue"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

// InvalidationPayload builds the payload of a cache.invalidate event.
func InvalidationPayload(prefix string) map[string]interface{} {
	return map[string]interface{}{"prefix": prefix}
}

// SubscribeInvalidations drops local cache entries whenever any gateway
// instance publishes a cache.invalidate event.
func SubscribeInvalidations(bus queue.MessageQueue, subjectPrefix string, cache ports.Cache, log *zap.Logger) error {
	subject := Subject(subjectPrefix, domain.EventCacheInvalidate)
	return bus.Subscribe(subject, func(data []byte) error {
		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode invalidation event: %w", err)
		}
		prefix, _ := event.Payload["prefix"].(string)
		if prefix == "" {
			return fmt.Errorf("invalidation event %s has no prefix", event.ID)
		}

		n, err := cache.DeletePrefix(context.Background(), prefix)
		if err != nil {
			return fmt.Errorf("invalidate %q: %w", prefix, err)
		}
		log.Info("Cache invalidated",
			zap.String("prefix", prefix),
			zap.Int("entries", n),
			zap.String("event_id", event.ID),
		)
		return nil
	})
}
