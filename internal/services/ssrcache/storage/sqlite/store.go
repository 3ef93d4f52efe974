package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
	_ "modernc.org/sqlite"
)

const defaultMaxOpenConns = 10

// Options tunes the adapter.
type Options struct {
	// Table overrides storage.DefaultTable.
	Table string
	// MaxOpenConns caps the connection pool; zero uses the package default.
	MaxOpenConns int
	// ReadOnly opens the file with mode=ro, so a missing database fails the
	// first query instead of being created.
	ReadOnly bool
}

// Store reads snapshots from SQLite.
type Store struct {
	sqlDB *sql.DB
	table string

	findSQL   string
	listSQL   string
	sampleSQL string
}

// Open prepares a SQLite handle for path without touching the database.
// Connectivity is checked by Ping so startup verification can classify it.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	table := strings.TrimSpace(opts.Table)
	if table == "" {
		table = storage.DefaultTable
	}
	if err := storage.ValidateTableName(table); err != nil {
		return nil, err
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)"
	if opts.ReadOnly {
		dsn = "file:" + filepath.ToSlash(filepath.Clean(path)) + "?mode=ro&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	return newStore(sqlDB, table), nil
}

func newStore(sqlDB *sql.DB, table string) *Store {
	return &Store{
		sqlDB:     sqlDB,
		table:     table,
		findSQL:   fmt.Sprintf(`SELECT html FROM %s WHERE route = ? AND expiry > ? LIMIT 1`, table),
		listSQL:   fmt.Sprintf(`SELECT route, html, expiry FROM %s ORDER BY route, expiry`, table),
		sampleSQL: fmt.Sprintf(`SELECT route, html, expiry FROM %s LIMIT ?`, table),
	}
}

// Close releases the underlying SQLite connection pool.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Table returns the snapshot table name.
func (s *Store) Table() string {
	if s == nil {
		return ""
	}
	return s.table
}

// Ping runs a constant-scalar query.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	var one int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	return nil
}

// TableExists checks sqlite_master for the snapshot table.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var count int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		s.table,
	)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("inspect sqlite schema: %w", err)
	}
	return count > 0, nil
}

// SampleEntries returns at most limit rows.
func (s *Store) SampleEntries(ctx context.Context, limit int) ([]storage.CacheEntry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("sample limit must be positive")
	}
	return s.queryEntries(ctx, "sample cache entries", s.sampleSQL, limit)
}

// FindValidHTML loads the html of one non-expired snapshot for route.
func (s *Store) FindValidHTML(ctx context.Context, route string, now time.Time) (string, bool, error) {
	if s == nil || s.sqlDB == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}
	var html string
	err := s.sqlDB.QueryRowContext(ctx, s.findSQL, route, timeToUnixMillis(now)).Scan(&html)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find cache entry: %w", err)
	}
	return html, true, nil
}

// ListEntries returns every snapshot row, expired ones included.
func (s *Store) ListEntries(ctx context.Context) ([]storage.CacheEntry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.queryEntries(ctx, "list cache entries", s.listSQL)
}

// ApplySchema creates the snapshot table when it does not exist. It is meant
// for local development only; deployed schemas are owned upstream.
func (s *Store) ApplySchema(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    route TEXT NOT NULL,
    html TEXT NOT NULL,
    expiry INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_route_expiry ON %[1]s (route, expiry);
`, s.table)
	if _, err := s.sqlDB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]storage.CacheEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]storage.CacheEntry, 0)
	for rows.Next() {
		var entry storage.CacheEntry
		var expiry int64
		if err := rows.Scan(&entry.Route, &entry.HTML, &expiry); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entry.Expiry = unixMillisToTime(expiry)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var _ storage.Store = (*Store)(nil)
