package queue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/pkg/config"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	// Healthy returns an error while the broker connection is down.
	Healthy() error
	Close() error
}

// Open connects to the configured event bus. It returns nil and no error
// when the backend is "none".
func Open(cfg config.EventsConfig, log *zap.Logger) (MessageQueue, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "nats":
		return NewNATSQueue(cfg.URL, log)
	case "rabbitmq":
		return NewRabbitMQQueue(cfg.URL, cfg.SubjectPrefix, log)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
