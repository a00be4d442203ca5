// Package engine implements the Generation Request API.
//
// An Engine accepts goals, runs each request through the full pipeline and
// exposes its progress:
//
//	Submit            goal -> request id (Queued)
//	GetStatus         state plus the checkpoint the request waits on, if any
//	ResolveCheckpoint Approved / Edited / Rejected for an open checkpoint
//	Cancel            stop a queued or running request
//	Wait, Result      block until terminal, read the persisted record
//
// # Pipeline
//
//  1. Plan the goal into a Task Graph (planner).
//  2. Optional plan-approval checkpoint ("plan"). Rejection fails the
//     request with CheckpointRejected; an edited core.Goal is re-planned.
//  3. Run the graph (scheduler) with a fresh evidence store and worker set.
//  4. Optional final sign-off checkpoint ("signoff"). An Edited payload
//     (section title -> text) is re-grounded, bumps the artifact version
//     and re-runs the evaluator.
//  5. Finalize the artifact, persist the record, archive artifact and log.
//
// A request always resolves to Completed, CompletedWithWarnings, Failed or
// Cancelled.
//
// # Execution modes
//
// Without a queue, Submit starts the pipeline in its own goroutine. With a
// queue, Submit only publishes the request id and Start consumes the queue
// with Config.Workers concurrent pipelines.
package engine
