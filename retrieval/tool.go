package retrieval

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentplan/tool"
)

// SearchToolName is the registry name of the retrieval tool.
const SearchToolName = "retrieval.search"

// DefaultTopK applies when the caller passes no top_k.
const DefaultTopK = 5

// NewSearchTool exposes gw as the "retrieval.search" tool. Arguments:
// query (string), top_k (integer), filters (object of strings). The result
// is []Hit.
func NewSearchTool(gw Gateway) *tool.FunctionTool {
	return tool.NewFunctionTool(
		SearchToolName,
		"Search the evidence corpus for passages relevant to a query",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":   map[string]any{"type": "string"},
				"top_k":   map[string]any{"type": "integer", "minimum": 1},
				"filters": map[string]any{"type": "object"},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			topK := DefaultTopK
			switch v := args["top_k"].(type) {
			case int:
				topK = v
			case float64:
				topK = int(v)
			}
			filters, err := toFilters(args["filters"])
			if err != nil {
				return nil, tool.NewToolError(SearchToolName, err.Error(), tool.CodeValidation)
			}
			return gw.Search(ctx, query, topK, filters)
		},
	)
}

func toFilters(raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, fmt.Errorf("filters has unsupported type %T", raw)
}
