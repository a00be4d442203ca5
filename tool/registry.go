package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
)

// DefaultConcurrency is used when no registered tool declares a limit.
const DefaultConcurrency = 4

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Logger receives tool.call.* events.
	Logger logging.Logger
	// DefaultTimeout applies when Invoke is called with a zero timeout.
	DefaultTimeout time.Duration
}

// Registry resolves tools by name at startup and invokes them uniformly.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	opts   RegistryOptions
	logger logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Logger:         logging.NoOpLogger{},
		DefaultTimeout: 60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:  make(map[string]Tool),
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Register adds tools to the registry.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConcurrencyHint returns the smallest MaxConcurrency declared by a
// registered tool, or DefaultConcurrency when none declares one.
func (r *Registry) ConcurrencyHint() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hint := 0
	for _, t := range r.tools {
		l, ok := t.(Limited)
		if !ok || l.MaxConcurrency() <= 0 {
			continue
		}
		if hint == 0 || l.MaxConcurrency() < hint {
			hint = l.MaxConcurrency()
		}
	}
	if hint == 0 {
		return DefaultConcurrency
	}
	return hint
}

// Invoke calls the named tool with a bounded deadline. Every failure is
// returned as *ToolError; panics inside a tool are recovered.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (result any, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, NewToolError(name, "tool not registered", CodeNotFound)
	}
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", name)

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ToolError{Tool: name, Message: fmt.Sprintf("panic: %v", rec), Code: CodeExecution}
		}
		logging.LogToolCall(r.logger, name, time.Since(start), err)
	}()

	result, err = t.Call(ctx, args)
	if err != nil {
		return nil, normalize(ctx, name, err)
	}
	return result, nil
}

func normalize(ctx context.Context, name string, err error) error {
	var rl *model.RateLimitError
	if errors.As(err, &rl) {
		return &ToolError{Tool: name, Message: err.Error(), Code: CodeRateLimited, Details: rl.RetryAfter.String(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &ToolError{Tool: name, Message: "deadline exceeded", Code: CodeTimeout, Err: err}
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Tool: name, Message: err.Error(), Code: CodeExecution, Err: err}
}

// Invoker is the calling side of the registry that workers depend on.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (any, error)
}

var _ Invoker = (*Registry)(nil)
