package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("journal schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Record is one journaled transition.
type Record struct {
	ID        int64       `json:"id"`
	EntryID   string      `json:"entry_id"`
	From      queue.State `json:"from,omitempty"`
	To        queue.State `json:"to"`
	Attempts  int         `json:"attempts"`
	Reason    string      `json:"reason,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Journal is the SQLite-backed transition log.
type Journal struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Path returns the database location.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start a new journal)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Append stores one transition.
func (j *Journal) Append(ctx context.Context, tr queue.Transition) error {
	if ctx == nil {
		ctx = context.Background()
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	return retryOnBusy(ctx, func() error {
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO transitions (entry_id, from_state, to_state, attempts, reason, request_id, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tr.EntryID,
			nullableString(string(tr.From)),
			string(tr.To),
			tr.Attempts,
			nullableString(tr.Reason),
			nullableString(tr.RequestID),
			at.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// Observer adapts the journal to a queue.Observer. Append failures are logged
// and swallowed.
func (j *Journal) Observer(logger *slog.Logger) queue.Observer {
	logger = logging.NewComponentLogger(logger, "journal")
	return func(tr queue.Transition) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Append(ctx, tr); err != nil {
			logging.WarnWithContext(logger, "journal append failed; transition not audited", "journal_append_failed",
				logging.String(logging.FieldEntryID, tr.EntryID),
				logging.String("to", string(tr.To)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check journal.db permissions and free disk space"),
				logging.String(logging.FieldImpact, "queue history for this entry is incomplete"),
			)
		}
	}
}

// History returns the transitions recorded for entryID, oldest first.
func (j *Journal) History(ctx context.Context, entryID string) ([]Record, error) {
	return j.query(ctx,
		`SELECT id, entry_id, from_state, to_state, attempts, reason, request_id, created_at
         FROM transitions WHERE entry_id = ? ORDER BY id`, entryID)
}

// Recent returns the latest limit transitions across all entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx,
		`SELECT id, entry_id, from_state, to_state, attempts, reason, request_id, created_at
         FROM transitions ORDER BY id DESC LIMIT ?`, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			from      sql.NullString
			reason    sql.NullString
			requestID sql.NullString
			created   string
			to        string
		)
		if err := rows.Scan(&rec.ID, &rec.EntryID, &from, &to, &rec.Attempts, &reason, &requestID, &created); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		rec.From = queue.State(from.String)
		rec.To = queue.State(to)
		rec.Reason = reason.String
		rec.RequestID = requestID.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return records, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
