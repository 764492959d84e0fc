package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-formflow/pkg/submit"
)

const defaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// ErrEmptyDSN reports an outbox opened without a database path.
var ErrEmptyDSN = errors.New("sink: database DSN not set")

// Record is one stored submission.
type Record struct {
	ID          submit.ID
	FlowID      string
	Attempt     int
	Payload     submit.Payload
	SubmittedAt time.Time
}

// SQLiteOutbox stores payloads in a local submissions table. A separate
// process can drain it.
type SQLiteOutbox struct {
	db     *sql.DB
	logger *slog.Logger
	newID  func() string
}

var _ submit.Submitter = (*SQLiteOutbox)(nil)

// OutboxOption customises an SQLiteOutbox.
type OutboxOption func(*SQLiteOutbox)

// WithOutboxLogger sets the logger.
func WithOutboxLogger(logger *slog.Logger) OutboxOption {
	return func(o *SQLiteOutbox) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// OpenSQLiteOutbox opens (creating if needed) the database at dsn and
// applies migrations.
func OpenSQLiteOutbox(dsn string, opts ...OutboxOption) (*SQLiteOutbox, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	o := &SQLiteOutbox{logger: slog.Default(), newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, defaultDirPermissions); err != nil {
			return nil, fmt.Errorf("sink: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: ping database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: run migrations: %w", err)
	}
	o.logger.Debug("sqlite outbox ready", "dsn", dsn)
	o.db = db
	return o, nil
}

// Submit implements submit.Submitter.
func (o *SQLiteOutbox) Submit(ctx context.Context, payload submit.Payload) (submit.ID, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("sink: encode payload: %w", err)
	}
	id := o.newID()
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO submissions (id, flow_id, attempt, payload, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		id, payload.FlowID, payload.Attempt, string(encoded), payload.SubmittedAt.UTC(),
	)
	if err != nil {
		o.logger.Error("outbox insert failed", "flow_id", payload.FlowID, "error", err)
		return "", &submit.SubmissionError{FlowID: payload.FlowID, Err: err}
	}
	o.logger.Debug("submission stored", "flow_id", payload.FlowID, "id", id)
	return submit.ID(id), nil
}

// Records lists the stored submissions of flowID, oldest first. An empty
// flowID lists everything.
func (o *SQLiteOutbox) Records(ctx context.Context, flowID string) ([]Record, error) {
	query := `SELECT id, flow_id, attempt, payload, submitted_at FROM submissions`
	var args []any
	if flowID != "" {
		query += ` WHERE flow_id = ?`
		args = append(args, flowID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: query submissions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			id  string
			raw string
		)
		if err := rows.Scan(&id, &rec.FlowID, &rec.Attempt, &raw, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("sink: scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &rec.Payload); err != nil {
			return nil, fmt.Errorf("sink: decode submission %s: %w", id, err)
		}
		rec.ID = submit.ID(id)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sink: iterate submissions: %w", err)
	}
	return out, nil
}

// Delete removes a drained submission.
func (o *SQLiteOutbox) Delete(ctx context.Context, id submit.ID) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("sink: delete submission %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (o *SQLiteOutbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}
