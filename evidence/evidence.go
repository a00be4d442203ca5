package evidence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentplan/core"
)

// ErrNotFound is returned when an evidence id is unknown.
var ErrNotFound = errors.New("evidence not found")

// IDPrefix prefixes every evidence id.
const IDPrefix = "E"

// Store is the append-only evidence contract.
type Store interface {
	// Append assigns a fresh id to item, stores it, and returns the stored copy.
	// Any id on the input is ignored.
	Append(ctx context.Context, item core.EvidenceItem) (core.EvidenceItem, error)

	// Get returns the item with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (core.EvidenceItem, error)

	// List returns every item in id order.
	List(ctx context.Context) ([]core.EvidenceItem, error)
}

// FormatID renders the n-th evidence id.
func FormatID(n int64) string { return IDPrefix + strconv.FormatInt(n, 10) }

// ParseID returns the numeric part of an evidence id.
func ParseID(id string) (int64, error) {
	if !strings.HasPrefix(id, IDPrefix) {
		return 0, fmt.Errorf("invalid evidence id %q", id)
	}
	return strconv.ParseInt(strings.TrimPrefix(id, IDPrefix), 10, 64)
}

// InMemoryStore is a process-local Store safe for concurrent appends.
type InMemoryStore struct {
	next  atomic.Int64
	mu    sync.RWMutex
	items map[string]core.EvidenceItem
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]core.EvidenceItem)}
}

// Append implements Store.
func (s *InMemoryStore) Append(ctx context.Context, item core.EvidenceItem) (core.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return core.EvidenceItem{}, err
	}
	item.ID = FormatID(s.next.Add(1))
	item.Metadata = copyMeta(item.Metadata)

	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()

	return cloneItem(item), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (core.EvidenceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return core.EvidenceItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneItem(item), nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context) ([]core.EvidenceItem, error) {
	s.mu.RLock()
	out := make([]core.EvidenceItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneItem(item))
	}
	s.mu.RUnlock()
	SortByID(out)
	return out, nil
}

// Len returns the number of stored items.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SortByID orders items by their numeric id.
func SortByID(items []core.EvidenceItem) {
	sort.Slice(items, func(i, j int) bool {
		a, _ := ParseID(items[i].ID)
		b, _ := ParseID(items[j].ID)
		return a < b
	})
}

func cloneItem(item core.EvidenceItem) core.EvidenceItem {
	item.Metadata = copyMeta(item.Metadata)
	return item
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*InMemoryStore)(nil)

// ErrReadOnly is returned by Append on a View.
var ErrReadOnly = errors.New("evidence view is read-only")

// View is a read-only Store exposing a fixed subset of items. Ids outside
// the subset report ErrNotFound even when the backing store holds them.
type View struct {
	items map[string]core.EvidenceItem
}

// NewView builds a View over items. Items without an id are skipped.
func NewView(items []core.EvidenceItem) *View {
	v := &View{items: make(map[string]core.EvidenceItem, len(items))}
	for _, item := range items {
		if item.ID != "" {
			v.items[item.ID] = cloneItem(item)
		}
	}
	return v
}

// Append implements Store and always fails.
func (v *View) Append(context.Context, core.EvidenceItem) (core.EvidenceItem, error) {
	return core.EvidenceItem{}, ErrReadOnly
}

// Get implements Store.
func (v *View) Get(_ context.Context, id string) (core.EvidenceItem, error) {
	item, ok := v.items[id]
	if !ok {
		return core.EvidenceItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneItem(item), nil
}

// List implements Store.
func (v *View) List(context.Context) ([]core.EvidenceItem, error) {
	out := make([]core.EvidenceItem, 0, len(v.items))
	for _, item := range v.items {
		out = append(out, cloneItem(item))
	}
	SortByID(out)
	return out, nil
}

var _ Store = (*View)(nil)

// Factory creates the evidence store for one generation request.
type Factory func(requestID string) (Store, error)

// InMemoryFactory returns a Factory creating a fresh InMemoryStore per request.
func InMemoryFactory() Factory {
	return func(string) (Store, error) { return NewInMemoryStore(), nil }
}
