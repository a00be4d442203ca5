// Package redis archives request artifacts in Redis hashes, one hash per
// request keyed by object name.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentplan/artifact"
)

// compile-time assertion
var _ artifact.Store = (*Store)(nil)

// DefaultPrefix namespaces archive keys.
const DefaultPrefix = "agentplan:artifact"

// Config configures the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL expires archived requests. Zero keeps them forever.
	TTL time.Duration
}

// Store is an artifact.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("artifact redis: address must not be empty")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("artifact redis: ping %s: %w", cfg.Address, err)
	}
	s := NewFromClient(client, cfg.Prefix)
	s.ttl = cfg.TTL
	return s, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(requestID string) string { return s.prefix + ":" + requestID }

// Save sets one field of the request hash.
func (s *Store) Save(ctx context.Context, requestID, name string, data []byte) error {
	key := s.key(requestID)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, name, data)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("artifact redis: save %s/%s: %w", requestID, name, err)
	}
	return nil
}

// Get reads one field or returns artifact.ErrNotFound.
func (s *Store) Get(ctx context.Context, requestID, name string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.key(requestID), name).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact redis: get %s/%s: %w", requestID, name, err)
	}
	return data, nil
}

// List returns the sorted field names of the request hash.
func (s *Store) List(ctx context.Context, requestID string) ([]string, error) {
	names, err := s.client.HKeys(ctx, s.key(requestID)).Result()
	if err != nil {
		return nil, fmt.Errorf("artifact redis: list %s: %w", requestID, err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes one field or returns artifact.ErrNotFound.
func (s *Store) Delete(ctx context.Context, requestID, name string) error {
	n, err := s.client.HDel(ctx, s.key(requestID), name).Result()
	if err != nil {
		return fmt.Errorf("artifact redis: delete %s/%s: %w", requestID, name, err)
	}
	if n == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }
