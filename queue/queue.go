// Package queue carries submitted request ids from producers (the engine's
// Submit) to consumers (the engine's Start loop). Three drivers are
// provided: an in-process channel queue, a Redis list (LPUSH / BRPOP) and a
// RabbitMQ queue with manual acknowledgement.
//
// Delivery is at-most-once from the handler's point of view: a message whose
// handler returns an error is logged and dropped, never redelivered, because
// generation requests are not idempotent.
package queue

import (
	"context"
	"fmt"
)

// Handler processes one request id.
type Handler func(ctx context.Context, requestID string) error

// Producer publishes request ids.
type Producer interface {
	Publish(ctx context.Context, requestID string) error
	Close() error
}

// Consumer runs workerCount handlers until ctx ends or the queue fails.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both Producer and Consumer.
type Queue interface {
	Producer
	Consumer
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Config selects and configures a driver.
type Config struct {
	Driver string
	// Size is the buffer of the memory driver.
	Size     int
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
}

// Open creates the configured queue. An empty driver selects memory.
func Open(ctx context.Context, cfg Config, optFns ...func(o *Options)) (Queue, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryQueue(cfg.Size, optFns...), nil
	case DriverRedis:
		return NewRedisQueue(ctx, cfg.Redis, optFns...)
	case DriverRabbitMQ:
		return NewRabbitMQQueue(cfg.RabbitMQ, optFns...)
	default:
		return nil, fmt.Errorf("queue: unknown driver %q", cfg.Driver)
	}
}
