package request

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/core"
)

// compile-time assertion
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a volatile Store keeping records in a process local map.
// It is safe for concurrent access and suited for tests, the CLI and
// single-process deployments. Records are cloned on the way in and out.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryStore constructs an empty in-memory request store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create stores a new record, stamping CreatedAt and UpdatedAt.
func (s *InMemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return ErrConflict
	}
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Get returns a clone of the stored record.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Update replaces the stored record, keeping CreatedAt.
func (s *InMemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = s.now()
	s.records[rec.ID] = rec.Clone()
	return nil
}

// List returns clones of all records in the given state, oldest first.
func (s *InMemoryStore) List(_ context.Context, state core.RequestState) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if state == "" || rec.State == state {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
