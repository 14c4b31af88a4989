package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"

	"github.com/ferro-labs/oembed-filter/providers"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists providers and settings in SQL backends (SQLite or
// Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// OpenSQLStore opens a store for driver "sqlite" or "postgres".
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// NewSQLiteStore creates a SQLite-backed store.
// dsn can be a file path (e.g. /tmp/oembed.db) or SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "oembed.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS oembed_providers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	enabled BOOLEAN NOT NULL,
	endpoints TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(source, name)
);
CREATE TABLE IF NOT EXISTS oembed_settings (
	id SMALLINT PRIMARY KEY,
	settings_json TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS oembed_providers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	enabled BOOLEAN NOT NULL,
	endpoints TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(source, name)
);
CREATE TABLE IF NOT EXISTS oembed_settings (
	id INTEGER PRIMARY KEY,
	settings_json TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
	}
	return s.ensureColumns()
}

// ensureColumns adds columns introduced after the first schema.
func (s *SQLStore) ensureColumns() error {
	alterStatements := []string{
		"ALTER TABLE oembed_providers ADD COLUMN url TEXT NOT NULL DEFAULT ''",
	}
	for _, stmt := range alterStatements {
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("ensure oembed_providers columns: %w", err)
		}
	}
	return nil
}

const providerColumns = "id, name, url, source, enabled, endpoints, created_at, updated_at"

// List implements ProviderStore.
func (s *SQLStore) List(ctx context.Context, q ProviderQuery) ([]providers.Provider, error) {
	var (
		conds []string
		args  []interface{}
	)
	if q.Search != "" {
		conds = append(conds, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Search)+"%")
	}
	if q.SourceType != "" {
		conds = append(conds, "source LIKE ?")
		args = append(args, q.SourceType+"::%")
	}
	if q.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, q.Source)
	}
	if q.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, *q.Enabled)
	}
	query := "SELECT " + providerColumns + " FROM oembed_providers"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []providers.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return out, nil
}

// Get implements ProviderStore.
func (s *SQLStore) Get(ctx context.Context, id int64) (providers.Provider, error) {
	row := s.db.QueryRowContext(ctx, s.bind("SELECT "+providerColumns+" FROM oembed_providers WHERE id = ?"), id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return providers.Provider{}, ErrNotFound
	}
	return p, err
}

// Create implements ProviderStore.
func (s *SQLStore) Create(ctx context.Context, p providers.Provider) (providers.Provider, error) {
	endpoints, err := json.Marshal(p.Endpoints)
	if err != nil {
		return providers.Provider{}, fmt.Errorf("encode endpoints: %w", err)
	}
	now := time.Now().UTC()
	q := s.bind(`
INSERT INTO oembed_providers(name, url, source, enabled, endpoints, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
RETURNING id`)
	if err := s.db.QueryRowContext(ctx, q, p.Name, p.URL, p.Source, p.Enabled, string(endpoints), now, now).Scan(&p.ID); err != nil {
		if isUniqueViolation(err) {
			return providers.Provider{}, ErrDuplicate
		}
		return providers.Provider{}, fmt.Errorf("create provider: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return p, nil
}

// Update implements ProviderStore.
func (s *SQLStore) Update(ctx context.Context, p providers.Provider) (providers.Provider, error) {
	endpoints, err := json.Marshal(p.Endpoints)
	if err != nil {
		return providers.Provider{}, fmt.Errorf("encode endpoints: %w", err)
	}
	now := time.Now().UTC()
	q := s.bind(`
UPDATE oembed_providers
SET name = ?, url = ?, source = ?, enabled = ?, endpoints = ?, updated_at = ?
WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, p.Name, p.URL, p.Source, p.Enabled, string(endpoints), now, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return providers.Provider{}, ErrDuplicate
		}
		return providers.Provider{}, fmt.Errorf("update provider: %w", err)
	}
	if err := requireRow(res); err != nil {
		return providers.Provider{}, err
	}
	return s.Get(ctx, p.ID)
}

// SetEnabled implements ProviderStore.
func (s *SQLStore) SetEnabled(ctx context.Context, id int64, enabled bool) (providers.Provider, error) {
	q := s.bind(`UPDATE oembed_providers SET enabled = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, enabled, time.Now().UTC(), id)
	if err != nil {
		return providers.Provider{}, fmt.Errorf("set provider enabled: %w", err)
	}
	if err := requireRow(res); err != nil {
		return providers.Provider{}, err
	}
	return s.Get(ctx, id)
}

// Delete implements ProviderStore.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM oembed_providers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return requireRow(res)
}

// SaveSettings implements SettingsStore.
func (s *SQLStore) SaveSettings(ctx context.Context, st Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	upsert := s.bind(`
INSERT INTO oembed_settings(id, settings_json, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, upsert, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings implements SettingsStore.
func (s *SQLStore) LoadSettings(ctx context.Context) (Settings, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT settings_json FROM oembed_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return st, true, nil
}

// DeleteSettings implements SettingsStore.
func (s *SQLStore) DeleteSettings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oembed_settings WHERE id = 1`); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanProvider(scanner interface {
	Scan(dest ...interface{}) error
}) (providers.Provider, error) {
	var (
		p         providers.Provider
		endpoints string
	)
	err := scanner.Scan(&p.ID, &p.Name, &p.URL, &p.Source, &p.Enabled, &endpoints, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return providers.Provider{}, err
	}
	if err := json.Unmarshal([]byte(endpoints), &p.Endpoints); err != nil {
		return providers.Provider{}, fmt.Errorf("decode endpoints: %w", err)
	}
	return p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "already exists")
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
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
