// Package cache implements the auxiliary SQLite-backed store: structured
// document metadata for rich queries outside the hot retrieval path, a
// TTL-bounded response cache, and a runtime configuration key/value table.
// None of this participates in kNN or BM25 queries — internal/store and
// internal/bm25 own the hot path entirely.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/veloxdb/veloxdb/internal/errs"
)

// Config mirrors original_source's SqliteConfig: db_path defaults to
// in-memory, WAL journal mode and a busy-timeout bound lock waits under
// concurrent access.
type Config struct {
	DBPath          string
	EnableCache     bool
	CacheSizeMB     int
	MaxCacheEntries int
	CacheTTL        time.Duration
	EnableWAL       bool
	BusyTimeoutMS   int
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DBPath == "" {
		c.DBPath = ":memory:"
	}
	if c.CacheSizeMB == 0 {
		c.CacheSizeMB = 100
	}
	if c.MaxCacheEntries == 0 {
		c.MaxCacheEntries = 10000
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 3600 * time.Second
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// DocumentMetadata is the structured-metadata row shape, a superset of
// internal/store.Metadata's hot-path record meant for rich queries by
// higher-level features (external adapters, telemetry) rather than
// kNN/BM25 retrieval.
type DocumentMetadata struct {
	ID           string
	Source       string
	ContentType  string
	Title        string
	Author       string
	Date         string
	CustomFields map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the auxiliary SQLite database: document metadata, response
// cache, and config kv, all independent of the hot retrieval path.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// New opens (and does not yet initialize the schema of) the SQLite
// database at cfg.DBPath.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	dsn := cfg.DBPath
	if cfg.DBPath != ":memory:" {
		dsn = fmt.Sprintf("%s?_busy_timeout=%d", cfg.DBPath, cfg.BusyTimeoutMS)
		if cfg.EnableWAL {
			dsn += "&_journal_mode=WAL"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "failed to open cache database", err)
	}
	db.SetMaxOpenConns(1)

	return &Store{db: db, cfg: cfg, logger: cfg.Logger}, nil
}

// Init creates the three tables if they don't already exist.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS document_metadata (
		id TEXT PRIMARY KEY,
		source TEXT,
		content_type TEXT,
		title TEXT,
		author TEXT,
		date TEXT,
		custom_fields TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS response_cache (
		row_id TEXT PRIMARY KEY,
		cache_key TEXT UNIQUE NOT NULL,
		data TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_response_cache_key ON response_cache(cache_key);

	CREATE TABLE IF NOT EXISTS config_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.Wrap(errs.IoError, "failed to create cache schema", err)
	}

	s.logger.Info("cache_store_initialized", slog.String("db_path", s.cfg.DBPath))
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.IoError, "failed to close cache database", err)
	}
	return nil
}

// StoreMetadata upserts a document metadata row.
func (s *Store) StoreMetadata(ctx context.Context, meta *DocumentMetadata) error {
	customJSON, err := json.Marshal(meta.CustomFields)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal custom fields", err)
	}

	now := meta.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_metadata (id, source, content_type, title, author, date, custom_fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, content_type=excluded.content_type, title=excluded.title,
			author=excluded.author, date=excluded.date, custom_fields=excluded.custom_fields,
			updated_at=excluded.updated_at
	`, meta.ID, meta.Source, meta.ContentType, meta.Title, meta.Author, meta.Date, string(customJSON), meta.CreatedAt, now)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to store document metadata", err)
	}

	return nil
}

// GetMetadata fetches a document metadata row by id.
func (s *Store) GetMetadata(ctx context.Context, id string) (*DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, content_type, title, author, date, custom_fields, created_at, updated_at
		FROM document_metadata WHERE id = ?
	`, id)

	meta, err := scanDocumentMetadata(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("document metadata %s not found", id)
		}
		return nil, errs.Wrap(errs.IoError, "failed to read document metadata", err)
	}

	return meta, nil
}

// UpdateMetadata is an alias for StoreMetadata's upsert semantics, kept
// distinct to mirror the symmetric CRUD surface the original store exposes.
func (s *Store) UpdateMetadata(ctx context.Context, meta *DocumentMetadata) error {
	meta.UpdatedAt = time.Now()
	return s.StoreMetadata(ctx, meta)
}

// DeleteMetadata removes a document metadata row by id.
func (s *Store) DeleteMetadata(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_metadata WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to delete document metadata", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("document metadata %s not found", id)
	}
	return nil
}

// ListMetadata returns a page of document metadata rows ordered by id.
func (s *Store) ListMetadata(ctx context.Context, limit, offset int) ([]*DocumentMetadata, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, content_type, title, author, date, custom_fields, created_at, updated_at
		FROM document_metadata ORDER BY id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "failed to list document metadata", err)
	}
	defer rows.Close()

	var out []*DocumentMetadata
	for rows.Next() {
		meta, err := scanDocumentMetadata(rows)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "failed to scan document metadata row", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.IoError, "failed iterating document metadata rows", err)
	}

	return out, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows so scanDocumentMetadata
// serves both GetMetadata and ListMetadata.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocumentMetadata(row rowScanner) (*DocumentMetadata, error) {
	var meta DocumentMetadata
	var customJSON string

	if err := row.Scan(&meta.ID, &meta.Source, &meta.ContentType, &meta.Title, &meta.Author,
		&meta.Date, &customJSON, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return nil, err
	}

	if customJSON != "" {
		if err := json.Unmarshal([]byte(customJSON), &meta.CustomFields); err != nil {
			return nil, err
		}
	}

	return &meta, nil
}

// CachePut inserts or replaces a cached response under key.
func (s *Store) CachePut(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (row_id, cache_key, data, timestamp, access_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET data=excluded.data, timestamp=excluded.timestamp, access_count=0
	`, uuid.New().String(), key, value, time.Now())
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to write cache entry", err)
	}
	return nil
}

// CacheGet returns the cached value for key, bumping its access count. A
// hit past cfg.CacheTTL is treated as a miss and returns errs.NotFound.
func (s *Store) CacheGet(ctx context.Context, key string) (string, error) {
	var data string
	var timestamp time.Time

	row := s.db.QueryRowContext(ctx, `SELECT data, timestamp FROM response_cache WHERE cache_key = ?`, key)
	if err := row.Scan(&data, &timestamp); err != nil {
		if err == sql.ErrNoRows {
			return "", errs.NotFoundf("cache entry %s not found", key)
		}
		return "", errs.Wrap(errs.IoError, "failed to read cache entry", err)
	}

	if time.Since(timestamp) > s.cfg.CacheTTL {
		return "", errs.NotFoundf("cache entry %s expired", key)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE response_cache SET access_count = access_count + 1 WHERE cache_key = ?`, key); err != nil {
		return "", errs.Wrap(errs.IoError, "failed to bump cache access count", err)
	}

	return data, nil
}

// CacheDelete removes a cached entry by key.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_key = ?`, key); err != nil {
		return errs.Wrap(errs.IoError, "failed to delete cache entry", err)
	}
	return nil
}

// CacheClear removes every cached entry.
func (s *Store) CacheClear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		return errs.Wrap(errs.IoError, "failed to clear cache", err)
	}
	return nil
}

// CacheSize returns the number of cached entries.
func (s *Store) CacheSize(ctx context.Context) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`)
	if err := row.Scan(&n); err != nil {
		return 0, errs.Wrap(errs.IoError, "failed to count cache entries", err)
	}
	return n, nil
}

// EvictExpiredCache deletes every entry older than cfg.CacheTTL and
// returns the number of rows removed.
func (s *Store) EvictExpiredCache(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.CacheTTL)
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, "failed to evict expired cache entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.IoError, "failed to count evicted cache entries", err)
	}
	return n, nil
}

// ConfigSet upserts a runtime configuration key/value pair (e.g. BM25
// k1/b, fusion weights).
func (s *Store) ConfigSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return errs.Wrap(errs.IoError, "failed to set config value", err)
	}
	return nil
}

// ConfigGet reads a runtime configuration value.
func (s *Store) ConfigGet(ctx context.Context, key string) (string, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM config_kv WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", errs.NotFoundf("config key %s not found", key)
		}
		return "", errs.Wrap(errs.IoError, "failed to read config value", err)
	}
	return value, nil
}

// ConfigDelete removes a runtime configuration key.
func (s *Store) ConfigDelete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config_kv WHERE key = ?`, key); err != nil {
		return errs.Wrap(errs.IoError, "failed to delete config value", err)
	}
	return nil
}

// ConfigList returns every runtime configuration key/value pair.
func (s *Store) ConfigList(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config_kv`)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "failed to list config values", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errs.Wrap(errs.IoError, "failed to scan config row", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.IoError, "failed iterating config rows", err)
	}

	return out, nil
}

// Stats returns row counts per table, for health/metrics reporting.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	tables := []string{"document_metadata", "response_cache", "config_kv"}

	for _, table := range tables {
		var n int64
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
		if err := row.Scan(&n); err != nil {
			return nil, errs.Wrap(errs.IoError, fmt.Sprintf("failed to count rows in %s", table), err)
		}
		stats[table] = n
	}

	return stats, nil
}

// Vacuum reclaims space freed by deletes.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return errs.Wrap(errs.IoError, "failed to vacuum cache database", err)
	}
	return nil
}
