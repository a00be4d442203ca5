package core

import "fmt"

// TaskKind identifies which worker executes a Task Graph node.
type TaskKind string

const (
	KindRetrieve  TaskKind = "retrieve"
	KindExtract   TaskKind = "extract"
	KindCalculate TaskKind = "calculate"
	KindWrite     TaskKind = "write"
	KindCritique  TaskKind = "critique"
	KindEvaluate  TaskKind = "evaluate"
)

// Valid reports whether k is one of the known task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case KindRetrieve, KindExtract, KindCalculate, KindWrite, KindCritique, KindEvaluate:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a Task Graph node.
type TaskStatus string

const (
	StatusPending          TaskStatus = "Pending"
	StatusReady            TaskStatus = "Ready"
	StatusRunning          TaskStatus = "Running"
	StatusCompleted        TaskStatus = "Completed"
	StatusFailed           TaskStatus = "Failed"
	StatusSkipped          TaskStatus = "Skipped"
	StatusAwaitingApproval TaskStatus = "AwaitingApproval"
)

// IsTerminal reports whether a node in this status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// transitions lists the allowed status changes. Terminal statuses have no
// outgoing edges, which makes completed nodes immutable.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:          {StatusReady, StatusSkipped},
	StatusReady:            {StatusRunning, StatusSkipped},
	StatusRunning:          {StatusCompleted, StatusFailed, StatusSkipped, StatusPending, StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusCompleted, StatusSkipped},
}

// ValidateTransition returns an error when moving from -> to is not allowed.
func ValidateTransition(from, to TaskStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", from, to)
}
