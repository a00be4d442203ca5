package retrieval

import "context"

// Hit is a single ranked search result.
type Hit struct {
	Content   string            `json:"content"`
	SourceRef string            `json:"source_ref"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Gateway searches an evidence corpus.
type Gateway interface {
	// Search returns at most topK hits ranked by descending score. Every
	// filter must equal the hit's metadata value.
	Search(ctx context.Context, query string, topK int, filters map[string]string) ([]Hit, error)
}
