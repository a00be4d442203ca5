package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentplan/logging"
)

// RedisConfig describes the Redis list queue.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Queue is the list key, default "agentplan:requests".
	Queue string
	// BlockWait bounds a single BRPOP, default 5s.
	BlockWait time.Duration
}

// RedisQueue is a Redis list queue: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	wait   time.Duration
	logger logging.Logger
}

// compile-time assertion
var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisConfig, optFns ...func(o *Options)) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("queue: redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("queue: connect redis %s: %w", cfg.Address, err)
	}
	return NewRedisQueueFromClient(client, cfg, optFns...), nil
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(client redis.UniversalClient, cfg RedisConfig, optFns ...func(o *Options)) *RedisQueue {
	q := &RedisQueue{client: client, queue: cfg.Queue, wait: cfg.BlockWait, logger: newOptions(optFns).Logger}
	if q.queue == "" {
		q.queue = "agentplan:requests"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	return q
}

// Publish pushes the id onto the list.
func (q *RedisQueue) Publish(ctx context.Context, requestID string) error {
	if err := q.client.LPush(ctx, q.queue, requestID).Err(); err != nil {
		return fmt.Errorf("queue: redis publish: %w", err)
	}
	return nil
}

// Consume pops ids with BRPOP until ctx ends or Redis fails.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() == nil {
						once.Do(func() { firstErr = fmt.Errorf("queue: redis consume: %w", err) })
						cancel()
					}
					return
				}
				if len(values) != 2 {
					continue
				}
				handle(ctx, q.logger, DriverRedis, handler, values[1])
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
