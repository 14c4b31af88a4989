// Package embedlog persists filter events (embedded, rejected and failed
// links) for the admin log view.
package embedlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

// Stages recorded in Entry.Stage.
const (
	StageEmbedded = "embedded"
	StageRejected = "rejected"
	StageFailed   = "failed"
)

// Entry is one persisted filter event.
type Entry struct {
	ID           int64     `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Stage        string    `json:"stage"`
	Provider     string    `json:"provider"`
	URL          string    `json:"url"`
	Type         string    `json:"type,omitempty"`
	CacheHit     bool      `json:"cache_hit"`
	ErrorMessage string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List results.
type Query struct {
	Limit    int
	Offset   int
	Stage    string
	Provider string
	Since    *time.Time
}

// MaintenanceQuery selects entries for deletion. Before is required.
type MaintenanceQuery struct {
	Before   *time.Time
	Stage    string
	Provider string
}

// ListResult is a page of entries plus the total matching count.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// Writer persists embed log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists embed log entries.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
}

// Maintainer deletes old entries.
type Maintainer interface {
	Delete(ctx context.Context, q MaintenanceQuery) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

// Write implements Writer.
func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLStore persists entries to SQLite/Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open opens a store for driver "sqlite" or "postgres".
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported embed log driver %q", driver)
	}
}

// NewSQLiteStore opens a SQLite-backed embed log.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "oembed-log.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite embed log: %w", err)
	}
	s := &SQLStore{db: db, dialect: "sqlite"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed embed log.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres embed log: %w", err)
	}
	s := &SQLStore{db: db, dialect: "postgres"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s embed log: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS oembed_events (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	stage TEXT NOT NULL,
	provider TEXT,
	url TEXT NOT NULL,
	type TEXT,
	cache_hit BOOLEAN NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oembed_events_created ON oembed_events(created_at);`

	if s.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS oembed_events (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	stage TEXT NOT NULL,
	provider TEXT,
	url TEXT NOT NULL,
	type TEXT,
	cache_hit BOOLEAN NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oembed_events_created ON oembed_events(created_at);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize embed log schema: %w", err)
	}
	return nil
}

// Write implements Writer.
func (s *SQLStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := s.bind(`INSERT INTO oembed_events(trace_id, stage, provider, url, type, cache_hit, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Stage,
		entry.Provider,
		entry.URL,
		entry.Type,
		entry.CacheHit,
		entry.ErrorMessage,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write embed log: %w", err)
	}
	return nil
}

func where(stage, provider string, since, before *time.Time) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, stage)
	}
	if provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, provider)
	}
	if since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, since.UTC())
	}
	if before != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, before.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List implements Reader. Entries are newest first; Limit defaults to 50.
func (s *SQLStore) List(ctx context.Context, q Query) (ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	cond, args := where(q.Stage, q.Provider, q.Since, nil)

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind("SELECT COUNT(*) FROM oembed_events"+cond), args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count embed log: %w", err)
	}

	query := s.bind(`SELECT id, trace_id, stage, provider, url, type, cache_hit, error_message, created_at
FROM oembed_events` + cond + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list embed log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := ListResult{Total: total, Data: make([]Entry, 0, q.Limit)}
	for rows.Next() {
		var (
			e                           Entry
			traceID, provider, typ, msg sql.NullString
		)
		if err := rows.Scan(&e.ID, &traceID, &e.Stage, &provider, &e.URL, &typ, &e.CacheHit, &msg, &e.CreatedAt); err != nil {
			return ListResult{}, fmt.Errorf("scan embed log: %w", err)
		}
		e.TraceID, e.Provider, e.Type, e.ErrorMessage = traceID.String, provider.String, typ.String, msg.String
		out.Data = append(out.Data, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list embed log: %w", err)
	}
	return out, nil
}

// Delete implements Maintainer.
func (s *SQLStore) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	if q.Before == nil {
		return 0, fmt.Errorf("before is required")
	}
	cond, args := where(q.Stage, q.Provider, nil, q.Before)
	res, err := s.db.ExecContext(ctx, s.bind("DELETE FROM oembed_events"+cond), args...)
	if err != nil {
		return 0, fmt.Errorf("delete embed log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", argNum)
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
