package artifact

import (
	"context"
	"sort"
	"sync"
)

// compile-time assertion
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is an in-process Store useful for tests, the CLI and
// single-process deployments. Objects live in a nested map guarded by an
// RWMutex and are copied on save and retrieval.
//
// Layout: requestID -> name -> raw bytes
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the object. The input slice is copied.
func (a *InMemoryStore) Save(_ context.Context, requestID, name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[requestID]; !ok {
		a.objects[requestID] = make(map[string][]byte)
	}
	a.objects[requestID][name] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored bytes or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, requestID, name string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[requestID][name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// List returns the sorted object names stored for the request.
func (a *InMemoryStore) List(_ context.Context, requestID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.objects[requestID]))
	for name := range a.objects[requestID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the object if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, requestID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.objects[requestID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	if len(m) == 0 {
		delete(a.objects, requestID)
	}
	return nil
}
