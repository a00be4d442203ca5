package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/retrieval"
)

// Retriever searches a source, dedupes hits by source reference and stores
// them as evidence.
type Retriever struct {
	deps Deps
}

// Execute implements Worker. The result is []core.ScoredEvidence ranked by
// descending score.
func (w *Retriever) Execute(ctx context.Context, node graph.NodeSpec, _ *graph.View) (any, error) {
	args := map[string]any{InQuery: node.String(InQuery)}
	if v, ok := node.Literal(InTopK); ok {
		args[InTopK] = v
	}
	if v, ok := node.Literal(InFilters); ok && v != nil {
		args[InFilters] = v
	}

	out, err := w.deps.Tools.Invoke(ctx, retrieval.SearchToolName, args, w.deps.ToolTimeout)
	if err != nil {
		return nil, err
	}
	hits, ok := out.([]retrieval.Hit)
	if !ok {
		return nil, validationError("retriever", node.ID, "search returned %T", out)
	}

	hits = Dedupe(hits)
	source := node.String(InSource)
	result := make([]core.ScoredEvidence, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]string, len(h.Metadata)+1)
		for k, v := range h.Metadata {
			meta[k] = v
		}
		if source != "" {
			meta["source"] = source
		}
		item, err := w.deps.Evidence.Append(ctx, core.EvidenceItem{
			SourceRef:  h.SourceRef,
			Content:    h.Content,
			ProducedBy: node.ID,
			Score:      h.Score,
			Metadata:   meta,
		})
		if err != nil {
			return nil, fmt.Errorf("append evidence: %w", err)
		}
		result = append(result, core.ScoredEvidence{Item: item, Score: h.Score})
	}

	w.deps.Logger.Debug("worker.retrieve.done", "node_id", node.ID, "hits", len(result))
	return result, nil
}

// Dedupe keeps the highest scoring hit per source reference and ranks the
// result by descending score, then source reference.
func Dedupe(hits []retrieval.Hit) []retrieval.Hit {
	best := make(map[string]retrieval.Hit, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.SourceRef]; !ok || h.Score > cur.Score {
			best[h.SourceRef] = h
		}
	}
	out := make([]retrieval.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceRef < out[j].SourceRef
	})
	return out
}
