package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentplan/logging"
)

// RabbitMQConfig describes the RabbitMQ queue.
type RabbitMQConfig struct {
	URL string
	// Queue is the queue name, default "agentplan.requests".
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue publishes to the default exchange and consumes with manual
// acknowledgement. Failed handlers are rejected without requeue so a broker
// dead-letter policy can pick them up.
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger logging.Logger
}

// compile-time assertion
var _ Queue = (*RabbitMQQueue)(nil)

// NewRabbitMQQueue dials the broker and declares the queue.
func NewRabbitMQQueue(cfg RabbitMQConfig, optFns ...func(o *Options)) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("queue: rabbitmq url must not be empty")
	}
	name := cfg.Queue
	if name == "" {
		name = "agentplan.requests"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open rabbitmq channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("queue: set rabbitmq qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(name, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare rabbitmq queue %s: %w", name, err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: name, logger: newOptions(optFns).Logger}, nil
}

// Publish sends the id as a persistent text message.
func (q *RabbitMQQueue) Publish(ctx context.Context, requestID string) error {
	if q == nil || q.ch == nil {
		return errors.New("queue: rabbitmq queue not initialized")
	}
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(requestID),
	})
	if err != nil {
		return fmt.Errorf("queue: rabbitmq publish: %w", err)
	}
	return nil
}

// Consume delivers messages to workerCount workers until ctx ends or the
// delivery channel closes.
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("queue: rabbitmq queue not initialized")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: rabbitmq consume: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.deliver(ctx, handler, msg)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, handler Handler, msg amqp.Delivery) {
	id := string(msg.Body)
	if err := handler(ctx, id); err != nil {
		q.logger.Warn("queue.handler.error", "driver", DriverRabbitMQ, "request_id", id, "error", err.Error())
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// Close closes the channel and the connection.
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
