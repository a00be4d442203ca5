// Package scheduler executes a Task Graph.
//
// A single actor goroutine owns the graph: it promotes Pending nodes whose
// dependencies are satisfied, dispatches Ready nodes to workers up to the
// concurrency limit, and applies every result, retry and checkpoint decision.
// Workers run in their own goroutines and only report back through the
// actor's event channel, so the status map is never shared.
//
// Failure policy:
//
//	ToolExecutionError, Timeout  retried with exponential backoff up to MaxAttempts
//	ToolRateLimited              retried with the backoff scaled by RateLimitMultiplier
//	ValidationFailure            retried ValidationRetries times, then Skipped
//	anything else / exhausted    Failed; fatal unless the node is Optional
//
// Dependents of a failed or skipped optional node receive a core.MissingInput
// placeholder; dependents of a failed or skipped required node are Skipped.
package scheduler
