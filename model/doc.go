// Package model defines the provider-agnostic abstraction for language model
// completion calls used by agentplan.
//
// Core goals:
//   - Keep the request/response shapes minimal and transport independent
//   - Surface provider rate limits distinctly from other failures (RateLimitError)
//   - Honour per-call timeouts through context.Context
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) implement the Model interface in
// sub-packages. The orchestration core never imports them: a Model is
// registered once as the "llm.complete" tool and reached only through the
// tool registry.
package model
