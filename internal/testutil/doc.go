// Package testutil contains helpers shared by tests, examples and the CLI's
// mock provider: a fluent goal builder, a deterministic responder that
// answers every worker and judge prompt, and a ready-made tool registry.
// They are not intended for production usage.
package testutil
