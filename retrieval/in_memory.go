package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Document is the unit stored by InMemoryGateway.
type Document struct {
	SourceRef string
	Content   string
	Metadata  map[string]string
}

// InMemoryGateway is a naive process-local Gateway.
//
// Concurrency: protected by RWMutex.
// Search: linear scan scoring each document by the fraction of query terms it
// contains. Suitable only for tests / demos.
type InMemoryGateway struct {
	mu   sync.RWMutex
	docs []Document
}

// NewInMemoryGateway creates a gateway preloaded with docs.
func NewInMemoryGateway(docs ...Document) *InMemoryGateway {
	g := &InMemoryGateway{}
	for _, d := range docs {
		g.Add(d)
	}
	return g
}

// Add appends a document. An empty SourceRef is replaced by "doc_<n>".
func (g *InMemoryGateway) Add(d Document) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.SourceRef == "" {
		d.SourceRef = fmt.Sprintf("doc_%d", len(g.docs))
	}
	d.Metadata = copyMeta(d.Metadata)
	g.docs = append(g.docs, d)
}

// Len returns the number of stored documents.
func (g *InMemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.docs)
}

// Search implements Gateway. An empty query matches every document with
// score 1.0.
func (g *InMemoryGateway) Search(ctx context.Context, query string, topK int, filters map[string]string) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := Terms(query)

	g.mu.RLock()
	hits := make([]Hit, 0)
	for _, d := range g.docs {
		if !matches(d.Metadata, filters) {
			continue
		}
		score := 1.0
		if len(terms) > 0 {
			score = overlap(terms, d.Content)
		}
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{Content: d.Content, SourceRef: d.SourceRef, Score: score, Metadata: copyMeta(d.Metadata)})
	}
	g.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SourceRef < hits[j].SourceRef
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Terms lowercases s and splits it into distinct alphanumeric terms.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func overlap(terms []string, content string) float64 {
	have := make(map[string]bool)
	for _, t := range Terms(content) {
		have[t] = true
	}
	n := 0
	for _, t := range terms {
		if have[t] {
			n++
		}
	}
	return float64(n) / float64(len(terms))
}

func matches(meta, filters map[string]string) bool {
	for k, v := range filters {
		if meta[k] != v {
			return false
		}
	}
	return true
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

var _ Gateway = (*InMemoryGateway)(nil)
