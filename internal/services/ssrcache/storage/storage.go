// Package storage defines the read contracts the fallback cache uses against
// the externally owned snapshot table.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// DefaultTable is the snapshot table written by the rendering pipeline.
const DefaultTable = "ssr_cache"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CacheEntry is one persisted HTML snapshot for a route.
type CacheEntry struct {
	Route  string    `json:"route"`
	HTML   string    `json:"html"`
	Expiry time.Time `json:"expiry"`
}

// Valid reports whether the entry is still servable at now.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Before(e.Expiry)
}

// Prober exposes the read-only checks run during startup verification.
type Prober interface {
	// Ping issues a constant-scalar query against the store.
	Ping(ctx context.Context) error
	// TableExists reports whether the snapshot table is present.
	TableExists(ctx context.Context) (bool, error)
	// SampleEntries returns at most limit rows in store order.
	SampleEntries(ctx context.Context, limit int) ([]CacheEntry, error)
}

// Reader exposes the request-path lookups.
type Reader interface {
	// FindValidHTML returns the html of one entry whose route equals route
	// and whose expiry is strictly after now. Multiple valid rows resolve to
	// whichever the store returns first.
	FindValidHTML(ctx context.Context, route string, now time.Time) (string, bool, error)
	// ListEntries returns every row, expired or not.
	ListEntries(ctx context.Context) ([]CacheEntry, error)
}

// Store is the full contract implemented by the SQL adapters.
type Store interface {
	Prober
	Reader
	Close() error
}

// ValidateTableName rejects names that cannot be safely interpolated into SQL.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}
