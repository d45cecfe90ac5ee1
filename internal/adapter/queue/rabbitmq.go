package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errNoChannel = errors.New("rabbitmq: not connected")

const redialEvery = 5 * time.Second

// RabbitMQQueue publishes every subject on one durable topic exchange with
// the subject as routing key. Each subscription gets its own exclusive
// queue, so every gateway instance sees every message. Subscriptions are
// re-bound after a reconnect.
type RabbitMQQueue struct {
	url      string
	exchange string
	log      *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string]func([]byte) error
	closed   bool
}

func NewRabbitMQQueue(url, exchange string, log *zap.Logger) (*RabbitMQQueue, error) {
	if exchange == "" {
		exchange = "voice-gateway"
	}
	q := &RabbitMQQueue{
		url:      url,
		exchange: exchange,
		log:      log.With(zap.String("component", "rabbitmq"), zap.String("exchange", exchange)),
		handlers: map[string]func([]byte) error{},
	}
	if err := q.connect(); err != nil {
		return nil, err
	}
	q.log.Info("Connected to RabbitMQ")
	return q, nil
}

// connect dials, declares the exchange and re-binds known subscriptions.
// The caller must not hold q.mu.
func (q *RabbitMQQueue) connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(q.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}

	q.mu.Lock()
	q.conn, q.ch = conn, ch
	subs := make(map[string]func([]byte) error, len(q.handlers))
	for subject, h := range q.handlers {
		subs[subject] = h
	}
	q.mu.Unlock()

	for subject, h := range subs {
		if err := q.consume(ch, subject, h); err != nil {
			q.log.Error("Could not restore subscription", zap.String("subject", subject), zap.Error(err))
		}
	}

	go q.watch(conn)
	return nil
}

func (q *RabbitMQQueue) watch(conn *amqp.Connection) {
	reason, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || reason == nil {
		return
	}
	q.log.Warn("RabbitMQ connection lost", zap.String("reason", reason.Reason))

	for {
		time.Sleep(redialEvery)
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if err := q.connect(); err != nil {
			q.log.Error("RabbitMQ reconnect failed", zap.Error(err))
			continue
		}
		q.log.Info("Reconnected to RabbitMQ")
		return
	}
}

func (q *RabbitMQQueue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch == nil || q.ch.IsClosed() {
		return nil, errNoChannel
	}
	return q.ch, nil
}

func (q *RabbitMQQueue) Publish(subject string, data []byte) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         data,
	}
	if err := ch.Publish(q.exchange, subject, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", subject, err)
	}
	return nil
}

func (q *RabbitMQQueue) Subscribe(subject string, handler func(data []byte) error) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	if err := q.consume(ch, subject, handler); err != nil {
		return err
	}
	q.mu.Lock()
	q.handlers[subject] = handler
	q.mu.Unlock()
	q.log.Info("Subscribed", zap.String("subject", subject))
	return nil
}

func (q *RabbitMQQueue) consume(ch *amqp.Channel, subject string, handler func([]byte) error) error {
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, subject, q.exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind %s: %w", subject, err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", subject, err)
	}

	go func() {
		for d := range deliveries {
			if err := handler(d.Body); err != nil {
				q.log.Error("Message handler failed", zap.String("subject", subject), zap.Error(err))
			}
		}
	}()
	return nil
}

func (q *RabbitMQQueue) Healthy() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil || q.conn.IsClosed() {
		return errors.New("rabbitmq: connection closed")
	}
	return nil
}

func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
