// Package requestlog persists one record per forwarded completion request.
// Records are written to SQLite or Postgres through database/sql.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultSQLitePath is used when the sqlite DSN is empty.
const DefaultSQLitePath = "llmrouter-requests.db"

// Entry is one forwarded request.
type Entry struct {
	TraceID      string    `json:"trace_id"`
	Model        string    `json:"model"`
	Backend      string    `json:"backend"`
	BackendURL   string    `json:"backend_url"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"status_code"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List results. Zero-valued filters match everything.
type Query struct {
	Limit   int
	Offset  int
	Model string
	// Backend matches either the backend name or its URL.
	Backend string
}

// ListResult is a page of entries plus the total matching count.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// Writer persists request log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// Open returns a writer for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*SQLWriter, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		return NewSQLiteWriter(dsn)
	case DriverPostgres:
		return NewPostgresWriter(dsn)
	default:
		return nil, fmt.Errorf("unsupported request log driver %q", driver)
	}
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	// One connection keeps SQLite writers from tripping over each other.
	db.SetMaxOpenConns(1)
	w := &SQLWriter{db: db, dialect: DriverSQLite}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: DriverPostgres}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS forwarded_requests (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	model TEXT NOT NULL,
	backend TEXT,
	backend_url TEXT,
	endpoint TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == DriverPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS forwarded_requests (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	model TEXT NOT NULL,
	backend TEXT,
	backend_url TEXT,
	endpoint TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO forwarded_requests(trace_id, model, backend, backend_url, endpoint, status_code, duration_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == DriverPostgres {
		query = `INSERT INTO forwarded_requests(trace_id, model, backend, backend_url, endpoint, status_code, duration_ms, error_message, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	}

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Model,
		entry.Backend,
		entry.BackendURL,
		entry.Endpoint,
		entry.StatusCode,
		entry.DurationMS,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

// List returns entries matching q, newest first.
func (w *SQLWriter) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		conds []string
		args  []interface{}
	)
	if q.Model != "" {
		args = append(args, q.Model)
		conds = append(conds, "model = "+w.placeholder(len(args)))
	}
	if q.Backend != "" {
		args = append(args, q.Backend, q.Backend)
		conds = append(conds, fmt.Sprintf("(backend = %s OR backend_url = %s)",
			w.placeholder(len(args)-1), w.placeholder(len(args))))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM forwarded_requests"+where, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count request logs: %w", err)
	}

	pageArgs := append(append([]interface{}{}, args...), q.Limit, q.Offset)
	query := fmt.Sprintf(
		`SELECT trace_id, model, backend, backend_url, endpoint, status_code, duration_ms, error_message, created_at
		FROM forwarded_requests%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		where, w.placeholder(len(args)+1), w.placeholder(len(args)+2),
	)
	rows, err := w.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := ListResult{Total: total, Data: []Entry{}}
	for rows.Next() {
		var (
			e          Entry
			traceID    sql.NullString
			backend    sql.NullString
			backendURL sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&traceID, &e.Model, &backend, &backendURL, &e.Endpoint, &e.StatusCode, &e.DurationMS, &errMsg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan request log: %w", err)
		}
		e.TraceID = traceID.String
		e.Backend = backend.String
		e.BackendURL = backendURL.String
		e.ErrorMessage = errMsg.String
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate request logs: %w", err)
	}
	return result, nil
}

// Prune deletes entries created before the given time and reports how many
// were removed.
func (w *SQLWriter) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		"DELETE FROM forwarded_requests WHERE created_at < "+w.placeholder(1), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune request logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune request logs: %w", err)
	}
	return n, nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *SQLWriter) placeholder(n int) string {
	if w.dialect == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
