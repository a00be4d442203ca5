// Package logging provides a minimal logging interface and adapters for agentplan.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the scheduler, workers and engine use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - AgentPlanLogger on log/slog with component, request and node context
//   - LogToolCall, LogLLMCall and LogTransition event helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(tools, func(o *engine.Options) { o.Logger = logger })
package logging
