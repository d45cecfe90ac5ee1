package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/queue"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

// Emitter publishes session events on the bus from a single background
// goroutine. Publish never blocks: when the buffer is full the event is
// dropped and counted.
type Emitter struct {
	bus    queue.MessageQueue
	prefix string
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan domain.Event
	done   chan struct{}
}

func NewEmitter(bus queue.MessageQueue, prefix string, buffer int, log *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 1024
	}
	e := &Emitter{
		bus:    bus,
		prefix: prefix,
		log:    log.With(zap.String("component", "events")),
		ch:     make(chan domain.Event, buffer),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Subject returns the bus subject for an event type.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

func (e *Emitter) Publish(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		telemetry.EventsDropped.Inc()
		return
	}

	select {
	case e.ch <- event:
	default:
		telemetry.EventsDropped.Inc()
		e.log.Debug("Event buffer full, dropping event", zap.String("type", event.Type))
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for event := range e.ch {
		data, err := json.Marshal(event)
		if err != nil {
			telemetry.EventsDropped.Inc()
			e.log.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
			continue
		}
		if err := e.bus.Publish(Subject(e.prefix, event.Type), data); err != nil {
			telemetry.EventsDropped.Inc()
			e.log.Warn("Failed to publish event",
				zap.String("type", event.Type),
				zap.String("session_id", event.SessionID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx to
// expire.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is the publisher used when no event bus is configured.
type Discard struct{}

func (Discard) Publish(context.Context, domain.Event) {}
