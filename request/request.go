package request

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("request not found")
	// ErrConflict is returned when creating a record whose id is taken.
	ErrConflict = errors.New("request already exists")
)

// Record is the persisted state of one generation request.
type Record struct {
	ID    string            `json:"id"`
	Goal  core.Goal         `json:"goal"`
	State core.RequestState `json:"state"`
	// Error is the first fatal error of a Failed request.
	Error     string          `json:"error,omitempty"`
	ErrorKind core.ErrorKind  `json:"error_kind,omitempty"`
	Artifact  *core.Artifact  `json:"artifact,omitempty"`
	Log       []execlog.Entry `json:"log,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no slices with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Log = append([]execlog.Entry(nil), r.Log...)
	if r.Artifact != nil {
		a := *r.Artifact
		a.Sections = append([]core.Section(nil), r.Artifact.Sections...)
		a.Critique = append([]core.Issue(nil), r.Artifact.Critique...)
		a.CheckpointHistory = append([]core.CheckpointRecord(nil), r.Artifact.CheckpointHistory...)
		a.Warnings = append([]string(nil), r.Artifact.Warnings...)
		cp.Artifact = &a
	}
	return &cp
}

// Store persists request records.
type Store interface {
	// Create inserts a new record. It returns ErrConflict for a duplicate id.
	Create(ctx context.Context, rec *Record) error
	// Get returns a copy of the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Update replaces an existing record or returns ErrNotFound.
	Update(ctx context.Context, rec *Record) error
	// List returns records ordered by creation time. An empty state lists all.
	List(ctx context.Context, state core.RequestState) ([]*Record, error)
}
