package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
	"github.com/hupe1980/agentplan/request"
)

// rowFunc adapts a func to the scanner interface.
type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func TestEncodeScanRoundTrip(t *testing.T) {
	rec := &request.Record{
		ID:        "r1",
		Goal:      core.Goal{TaskType: "memo_section", Title: "Q3"},
		State:     core.RequestFailed,
		Error:     "boom",
		ErrorKind: core.ToolExecutionError,
		Artifact:  &core.Artifact{RequestID: "r1", Version: 2, Sections: []core.Section{{Title: "Revenue", Text: "up [E1]"}}},
		Log:       []execlog.Entry{{Seq: 1, NodeID: "a", From: core.StatusPending, To: core.StatusReady}},
		CreatedAt: time.UnixMilli(1000),
		UpdatedAt: time.UnixMilli(2000),
	}
	cols, err := encode(rec)
	require.NoError(t, err)
	assert.True(t, cols.log.Valid)
	assert.True(t, cols.artifact.Valid)

	row := rowFunc(func(dest ...any) error {
		values := []any{rec.ID, cols.goal, string(rec.State), rec.Error, string(rec.ErrorKind), cols.artifact, cols.log, int64(1000), int64(2000)}
		for i, v := range values {
			switch d := dest[i].(type) {
			case *string:
				*d = v.(string)
			case *int64:
				*d = v.(int64)
			default:
				if err := d.(interface{ Scan(any) error }).Scan(scanValue(v)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	got, err := scan(row)
	require.NoError(t, err)
	assert.Equal(t, rec.Goal, got.Goal)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.ErrorKind, got.ErrorKind)
	require.NotNil(t, got.Artifact)
	assert.Equal(t, 2, got.Artifact.Version)
	assert.Equal(t, "Revenue", got.Artifact.Sections[0].Title)
	require.Len(t, got.Log, 1)
	assert.Equal(t, core.StatusReady, got.Log[0].To)
	assert.Equal(t, int64(2000), got.UpdatedAt.UnixMilli())
}

func scanValue(v any) any {
	if ns, ok := v.(sql.NullString); ok {
		if !ns.Valid {
			return nil
		}
		return ns.String
	}
	return v
}

func TestIsMySQLError(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"})
	assert.True(t, isMySQLError(dup, errDuplicateEntry))
	assert.False(t, isMySQLError(dup, errDuplicateColumn))
	assert.False(t, isMySQLError(errors.New("other"), errDuplicateEntry))
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStore_Live(t *testing.T) {
	dsn := os.Getenv("AGENTPLAN_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AGENTPLAN_MYSQL_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("requests_test_%d", time.Now().UnixNano())
	s, err := New(ctx, Config{DSN: dsn, Table: table})
	require.NoError(t, err)
	defer func() {
		_, _ = s.db.ExecContext(ctx, "DROP TABLE "+table)
		_ = s.Close()
	}()

	rec := &request.Record{ID: "r1", Goal: core.Goal{TaskType: "document_qa", Query: "q"}, State: core.RequestQueued}
	require.NoError(t, s.Create(ctx, rec))
	assert.ErrorIs(t, s.Create(ctx, rec), request.ErrConflict)

	rec.State = core.RequestCompleted
	rec.Artifact = &core.Artifact{RequestID: "r1", Version: 1}
	require.NoError(t, s.Update(ctx, rec))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, core.RequestCompleted, got.State)
	require.NotNil(t, got.Artifact)

	list, err := s.List(ctx, core.RequestCompleted)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, request.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, &request.Record{ID: "missing"}), request.ErrNotFound)
}
