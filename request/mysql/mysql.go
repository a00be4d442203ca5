// Package mysql stores generation request records in MySQL using
// github.com/go-sql-driver/mysql. Goal, artifact and execution log are kept
// as JSON text columns; the state column is indexed for listing.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
	"github.com/hupe1980/agentplan/request"
)

// compile-time assertion
var _ request.Store = (*Store)(nil)

// MySQL error numbers handled by the store.
const (
	errDuplicateColumn = 1060
	errDuplicateEntry  = 1062
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "generation_requests"

// Config configures the store connection.
type Config struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a request.Store backed by a MySQL table.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// New opens the database, verifies connectivity and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("mysql: dsn must not be empty")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(10 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	s := NewFromDB(db, cfg.Table)
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing handle without touching the schema.
func NewFromDB(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table, now: time.Now}
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        id VARCHAR(64) PRIMARY KEY,
        goal MEDIUMTEXT NOT NULL,
        state VARCHAR(32) NOT NULL,
        error TEXT,
        error_kind VARCHAR(64) DEFAULT '',
        artifact MEDIUMTEXT,
        exec_log MEDIUMTEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_request_state (state),
        INDEX idx_request_created (created_at)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("mysql: create table %s: %w", s.table, err)
	}
	// Tables created before error_kind existed.
	alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN error_kind VARCHAR(64) DEFAULT '' AFTER error`, s.table)
	if _, err := s.db.ExecContext(ctx, alter); err != nil && !isMySQLError(err, errDuplicateColumn) {
		return fmt.Errorf("mysql: add error_kind: %w", err)
	}
	return nil
}

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, rec *request.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("mysql: request id must not be empty")
	}
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now

	cols, err := encode(rec)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s
        (id, goal, state, error, error_kind, artifact, exec_log, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, stmt,
		rec.ID, cols.goal, string(rec.State), rec.Error, string(rec.ErrorKind),
		cols.artifact, cols.log,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isMySQLError(err, errDuplicateEntry) {
			return request.ErrConflict
		}
		return fmt.Errorf("mysql: insert request %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (*request.Record, error) {
	stmt := fmt.Sprintf(`SELECT id, goal, state, error, error_kind, artifact, exec_log, created_at, updated_at
        FROM %s WHERE id = ?`, s.table)
	rec, err := scan(s.db.QueryRowContext(ctx, stmt, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, request.ErrNotFound
	}
	return rec, err
}

// Update rewrites the mutable columns of an existing record.
func (s *Store) Update(ctx context.Context, rec *request.Record) error {
	rec.UpdatedAt = s.now()
	cols, err := encode(rec)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET goal = ?, state = ?, error = ?, error_kind = ?, artifact = ?, exec_log = ?, updated_at = ?
        WHERE id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, stmt,
		cols.goal, string(rec.State), rec.Error, string(rec.ErrorKind),
		cols.artifact, cols.log, rec.UpdatedAt.UnixMilli(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("mysql: update request %s: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql: rows affected: %w", err)
	}
	if affected == 0 {
		// MySQL reports 0 for an unchanged row too.
		if _, err := s.Get(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// List returns records in the given state (all when empty), oldest first.
func (s *Store) List(ctx context.Context, state core.RequestState) ([]*request.Record, error) {
	query := fmt.Sprintf(`SELECT id, goal, state, error, error_kind, artifact, exec_log, created_at, updated_at
        FROM %s`, s.table)
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql: list requests: %w", err)
	}
	defer rows.Close()

	var out []*request.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type columns struct {
	goal     string
	artifact sql.NullString
	log      sql.NullString
}

func encode(rec *request.Record) (columns, error) {
	var cols columns
	goal, err := json.Marshal(rec.Goal)
	if err != nil {
		return cols, fmt.Errorf("mysql: encode goal: %w", err)
	}
	cols.goal = string(goal)
	if cols.artifact, err = nullJSON(rec.Artifact, rec.Artifact == nil); err != nil {
		return cols, err
	}
	if cols.log, err = nullJSON(rec.Log, len(rec.Log) == 0); err != nil {
		return cols, err
	}
	return cols, nil
}

func nullJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("mysql: encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*request.Record, error) {
	var (
		rec               request.Record
		goal, state, kind string
		errText           sql.NullString
		artifact, elog    sql.NullString
		created, updated  int64
	)
	if err := row.Scan(&rec.ID, &goal, &state, &errText, &kind, &artifact, &elog, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("mysql: scan request: %w", err)
	}
	rec.State = core.RequestState(state)
	rec.Error = errText.String
	rec.ErrorKind = core.ErrorKind(kind)
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)

	if err := json.Unmarshal([]byte(goal), &rec.Goal); err != nil {
		return nil, fmt.Errorf("mysql: decode goal of %s: %w", rec.ID, err)
	}
	if artifact.Valid {
		rec.Artifact = &core.Artifact{}
		if err := json.Unmarshal([]byte(artifact.String), rec.Artifact); err != nil {
			return nil, fmt.Errorf("mysql: decode artifact of %s: %w", rec.ID, err)
		}
	}
	if elog.Valid {
		var entries []execlog.Entry
		if err := json.Unmarshal([]byte(elog.String), &entries); err != nil {
			return nil, fmt.Errorf("mysql: decode log of %s: %w", rec.ID, err)
		}
		rec.Log = entries
	}
	return &rec, nil
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
