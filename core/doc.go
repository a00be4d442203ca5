// Package core provides the foundational domain types shared by every layer
// of agentplan. It defines:
//
//   - Task kinds and statuses used by the Task Graph and the Scheduler
//   - Goal descriptors consumed by the Planner
//   - Evidence, claims, sections and the assembled GenerationArtifact
//   - Checkpoint records and evaluation results
//   - The error taxonomy (Kind) used for retry and propagation decisions
//
// The package intentionally keeps behavior out of scope. It has no
// dependencies on other agentplan packages so that graph, worker, scheduler
// and engine can all share one vocabulary.
package core
