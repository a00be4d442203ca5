// Package redis implements evidence.Store on a Redis server. Ids come from
// INCR on a per-namespace counter, so appends from several processes working
// on the same request never collide.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
)

// Config describes the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "agentplan:evidence".
	Prefix string
}

// Store is a Redis backed evidence.Store scoped to one namespace.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and returns a store rooted at cfg.Prefix.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "agentplan:evidence"
	}
	return &Store{client: client, prefix: prefix}
}

// ForRequest returns a store sharing the connection but scoped to requestID.
func (s *Store) ForRequest(requestID string) *Store {
	return &Store{client: s.client, prefix: s.prefix + ":" + requestID}
}

// Factory adapts the store to evidence.Factory.
func (s *Store) Factory() evidence.Factory {
	return func(requestID string) (evidence.Store, error) {
		return s.ForRequest(requestID), nil
	}
}

func (s *Store) seqKey() string           { return s.prefix + ":seq" }
func (s *Store) idsKey() string           { return s.prefix + ":ids" }
func (s *Store) itemKey(id string) string { return s.prefix + ":item:" + id }

// Append implements evidence.Store.
func (s *Store) Append(ctx context.Context, item core.EvidenceItem) (core.EvidenceItem, error) {
	n, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return core.EvidenceItem{}, fmt.Errorf("allocate evidence id: %w", err)
	}
	item.ID = evidence.FormatID(n)

	data, err := json.Marshal(item)
	if err != nil {
		return core.EvidenceItem{}, fmt.Errorf("encode evidence: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.itemKey(item.ID), data, 0)
		p.RPush(ctx, s.idsKey(), item.ID)
		return nil
	})
	if err != nil {
		return core.EvidenceItem{}, fmt.Errorf("store evidence %s: %w", item.ID, err)
	}
	return item, nil
}

// Get implements evidence.Store.
func (s *Store) Get(ctx context.Context, id string) (core.EvidenceItem, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.EvidenceItem{}, fmt.Errorf("%w: %s", evidence.ErrNotFound, id)
	}
	if err != nil {
		return core.EvidenceItem{}, fmt.Errorf("load evidence %s: %w", id, err)
	}
	return decode(data)
}

// List implements evidence.Store.
func (s *Store) List(ctx context.Context) ([]core.EvidenceItem, error) {
	ids, err := s.client.LRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	if len(ids) == 0 {
		return []core.EvidenceItem{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.itemKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}

	items := make([]core.EvidenceItem, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		item, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	evidence.SortByID(items)
	return items, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decode(data []byte) (core.EvidenceItem, error) {
	var item core.EvidenceItem
	if err := json.Unmarshal(data, &item); err != nil {
		return core.EvidenceItem{}, fmt.Errorf("decode evidence: %w", err)
	}
	return item, nil
}

var _ evidence.Store = (*Store)(nil)
