// Package postgres reads HTML snapshots from PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
)

const defaultMaxOpenConns = 10

// Options tunes the adapter.
type Options struct {
	// Table overrides storage.DefaultTable.
	Table string
	// MaxOpenConns caps the connection pool; zero uses the package default.
	MaxOpenConns int
}

// Store reads snapshots from PostgreSQL.
type Store struct {
	sqlDB *sql.DB
	table string
	// catalogName is table as PostgreSQL stores an unquoted identifier.
	catalogName string

	findSQL   string
	listSQL   string
	sampleSQL string
}

// Open prepares a pooled PostgreSQL handle for dsn. No connection is made
// until the first query.
func Open(dsn string, opts Options) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	table := strings.TrimSpace(opts.Table)
	if table == "" {
		table = storage.DefaultTable
	}
	if err := storage.ValidateTableName(table); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)

	return &Store{
		sqlDB:       sqlDB,
		table:       table,
		catalogName: strings.ToLower(table),
		findSQL:     fmt.Sprintf(`SELECT html FROM %s WHERE route = $1 AND expiry > $2::timestamptz LIMIT 1`, table),
		listSQL:     fmt.Sprintf(`SELECT route, html, expiry FROM %s ORDER BY route, expiry`, table),
		sampleSQL:   fmt.Sprintf(`SELECT route, html, expiry FROM %s LIMIT $1`, table),
	}, nil
}

// Close releases the connection pool.
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
		return fmt.Errorf("ping postgres db: %w", err)
	}
	return nil
}

// TableExists checks information_schema for the snapshot table on the
// current search path. The name is folded to lower case the same way the
// unquoted identifier in the data queries is.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var exists bool
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM information_schema.tables
		    WHERE table_name = $1
		      AND table_schema = ANY (current_schemas(false))
		 )`,
		s.catalogName,
	)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("inspect postgres schema: %w", err)
	}
	return exists, nil
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
	err := s.sqlDB.QueryRowContext(ctx, s.findSQL, route, now.UTC()).Scan(&html)
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
		if err := rows.Scan(&entry.Route, &entry.HTML, &entry.Expiry); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entry.Expiry = entry.Expiry.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

var _ storage.Store = (*Store)(nil)
