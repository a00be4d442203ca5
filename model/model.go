package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/core"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request captures a normalized completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"` // provider default when empty
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a completion call.
type Response struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// RateLimitError reports that the provider rejected the call because of
// rate limiting (HTTP 429). It is classified as core.ToolRateLimited.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
	}
	return e.Provider + " rate limited"
}

// Unwrap exposes the provider error.
func (e *RateLimitError) Unwrap() error { return e.Err }

// ErrorKind implements the core classification contract.
func (e *RateLimitError) ErrorKind() core.ErrorKind { return core.ToolRateLimited }

// Retryable reports that rate limited calls may be retried after backoff.
func (e *RateLimitError) Retryable() bool { return true }

// IsRateLimited reports whether err (or any wrapped error) is a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Responder produces a canned completion for a request.
type Responder func(req Request) (string, error)

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are resolved in order: a matching exact prompt registered with
// AddResponse, then the Responder, then a generic echo.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	responder Responder
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt
// (the content of the last message).
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetResponder installs a function computing responses dynamically.
func (m *MockModel) SetResponder(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// Calls returns a copy of every request received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	prompt := req.Messages[len(req.Messages)-1].Content
	canned, ok := m.responses[prompt]
	responder := m.responder
	m.mu.Unlock()

	content := canned
	if !ok {
		if responder != nil {
			var err error
			if content, err = responder(req); err != nil {
				return nil, err
			}
		} else {
			content = "Mock response to: " + prompt
		}
	}

	return &Response{
		Content:      content,
		FinishReason: "stop",
		Usage:        TokenUsage{PromptTokens: len(prompt), CompletionTokens: len(content), TotalTokens: len(prompt) + len(content)},
	}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Backoff computes retry delays for failed provider calls: exponential in
// the attempt number, scaled by RateLimitMultiplier for rate limited calls
// and never shorter than a provider's Retry-After hint.
type Backoff struct {
	Base                time.Duration
	Max                 time.Duration
	RateLimitMultiplier float64
}

// Delay returns the wait before retrying after the given failed attempt.
func (b Backoff) Delay(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if kind, _ := core.KindOf(err); kind == core.ToolRateLimited {
		if b.RateLimitMultiplier > 1 {
			d *= b.RateLimitMultiplier
		}
		var rl *RateLimitError
		if errors.As(err, &rl) && float64(rl.RetryAfter) > d {
			d = float64(rl.RetryAfter)
		}
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}
