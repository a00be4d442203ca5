package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
)

// CompletionToolName is the registry name of the LLM completion tool.
const CompletionToolName = "llm.complete"

// CompletionOptions configures the completion tool.
type CompletionOptions struct {
	Temperature    float64
	MaxTokens      int
	MaxConcurrency int
	Logger         logging.Logger
}

// CompletionTool exposes a model.Model as the "llm.complete" tool.
//
// Arguments: prompt (string), system (string), messages ([]model.Message or
// [{"role","content"}]), temperature, max_tokens, model. The result is the
// completion text.
type CompletionTool struct {
	model model.Model
	opts  CompletionOptions
}

// NewCompletionTool wraps m.
func NewCompletionTool(m model.Model, optFns ...func(o *CompletionOptions)) *CompletionTool {
	opts := CompletionOptions{
		Temperature: 0.2,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &CompletionTool{model: m, opts: opts}
}

func (t *CompletionTool) Name() string { return CompletionToolName }

func (t *CompletionTool) Description() string {
	return "Complete a prompt with the configured language model"
}

func (t *CompletionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":      map[string]any{"type": "string"},
			"system":      map[string]any{"type": "string"},
			"messages":    map[string]any{"type": "array"},
			"temperature": map[string]any{"type": "number"},
			"max_tokens":  map[string]any{"type": "integer"},
			"model":       map[string]any{"type": "string"},
		},
	}
}

// MaxConcurrency implements Limited.
func (t *CompletionTool) MaxConcurrency() int { return t.opts.MaxConcurrency }

// Call implements Tool.
func (t *CompletionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	req, err := t.buildRequest(args)
	if err != nil {
		return nil, &ToolError{Tool: CompletionToolName, Message: err.Error(), Code: CodeValidation, Err: err}
	}

	info := t.model.Info()
	start := time.Now()
	resp, err := t.model.Complete(ctx, req)
	if err != nil {
		logging.LogLLMCall(t.opts.Logger, info.Name, info.Provider, 0, time.Since(start), err)
		return nil, err
	}
	logging.LogLLMCall(t.opts.Logger, info.Name, info.Provider, resp.Usage.TotalTokens, time.Since(start), nil)
	return resp.Content, nil
}

func (t *CompletionTool) buildRequest(args map[string]any) (model.Request, error) {
	req := model.Request{
		Temperature: t.opts.Temperature,
		MaxTokens:   t.opts.MaxTokens,
	}
	if s, ok := args["system"].(string); ok && s != "" {
		req.Messages = append(req.Messages, model.Message{Role: "system", Content: s})
	}

	switch msgs := args["messages"].(type) {
	case nil:
	case []model.Message:
		req.Messages = append(req.Messages, msgs...)
	case []any:
		for i, raw := range msgs {
			m, ok := raw.(map[string]any)
			if !ok {
				return req, fmt.Errorf("messages[%d] is %T", i, raw)
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" {
				role = "user"
			}
			req.Messages = append(req.Messages, model.Message{Role: role, Content: content})
		}
	default:
		return req, fmt.Errorf("messages has unsupported type %T", msgs)
	}

	if p, ok := args["prompt"].(string); ok && p != "" {
		req.Messages = append(req.Messages, model.Message{Role: "user", Content: p})
	}
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role == "system" {
		return req, fmt.Errorf("prompt or messages required")
	}

	switch v := args["temperature"].(type) {
	case float64:
		req.Temperature = v
	case int:
		req.Temperature = float64(v)
	}
	switch v := args["max_tokens"].(type) {
	case int:
		req.MaxTokens = v
	case float64:
		req.MaxTokens = int(v)
	}
	if m, ok := args["model"].(string); ok {
		req.Model = m
	}
	return req, nil
}

// CompletionText asserts that an llm.complete result is a
// string.
func CompletionText(result any) (string, error) {
	s, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("llm.complete returned %T", result)
	}
	return s, nil
}

var (
	_ Tool    = (*CompletionTool)(nil)
	_ Limited = (*CompletionTool)(nil)
	_ Tool    = (*FunctionTool)(nil)
	_ Limited = (*FunctionTool)(nil)
)
