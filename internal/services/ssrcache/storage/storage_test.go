package storage

import (
	"testing"
	"time"
)

func TestCacheEntryValidIsStrict(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{name: "future", expiry: now.Add(time.Second), want: true},
		{name: "equal", expiry: now, want: false},
		{name: "past", expiry: now.Add(-time.Second), want: false},
	}
	for _, tc := range tests {
		entry := CacheEntry{Route: "/home", Expiry: tc.expiry}
		if got := entry.Valid(now); got != tc.want {
			t.Fatalf("%s: Valid() = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestValidateTableName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"ssr_cache", "_cache", "Cache2"} {
		if err := ValidateTableName(name); err != nil {
			t.Fatalf("ValidateTableName(%q) = %v, want nil", name, err)
		}
	}
	for _, name := range []string{"", "2cache", "ssr-cache", "ssr_cache; DROP TABLE x", "public.ssr_cache"} {
		if err := ValidateTableName(name); err == nil {
			t.Fatalf("ValidateTableName(%q) = nil, want error", name)
		}
	}
}
