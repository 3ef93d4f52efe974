package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/fallback"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage/sqlite"
)

type fakeService struct {
	result   fallback.Result
	entries  []storage.CacheEntry
	err      error
	gotRoute string
}

func (f *fakeService) GetFallback(_ context.Context, rawRoute string) (fallback.Result, error) {
	f.gotRoute = rawRoute
	if f.err != nil {
		return fallback.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeService) DumpAll(context.Context) ([]storage.CacheEntry, error) {
	return f.entries, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func quiet() Option { return WithLogf(func(string, ...any) {}) }

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestFallbackPassesRawRoute(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: fallback.Result{Route: "/home", HTML: "<h1>Home</h1>", Hit: true}}
	h := NewHandler(svc, nil, quiet())

	rr := serve(t, h, http.MethodGet, "/fallback//home")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if svc.gotRoute != "/home" {
		t.Fatalf("raw route = %q, want %q", svc.gotRoute, "/home")
	}
	if rr.Body.String() != "<h1>Home</h1>" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
}

func TestFallbackFaultIsServerError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: &fallback.StoreFaultError{Op: "get fallback", Err: errors.New("down")}}
	rr := serve(t, NewHandler(svc, nil, quiet()), http.MethodGet, "/fallback/home")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if rr.Body.String() != StoreErrorBody {
		t.Fatalf("body = %q, want %q", rr.Body.String(), StoreErrorBody)
	}
}

func TestFallbackRejectsNonGet(t *testing.T) {
	t.Parallel()

	rr := serve(t, NewHandler(&fakeService{}, nil, quiet()), http.MethodPost, "/fallback/home")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestDumpReturnsJSONArray(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeService{entries: []storage.CacheEntry{{Route: "/a", HTML: "<a>", Expiry: expiry}}}
	rr := serve(t, NewHandler(svc, nil, quiet()), http.MethodGet, DumpPath)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var rows []map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["route"] != "/a" || rows[0]["html"] != "<a>" || rows[0]["expiry"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("row = %v", rows[0])
	}
}

func TestDumpEmptyIsEmptyArray(t *testing.T) {
	t.Parallel()

	rr := serve(t, NewHandler(&fakeService{}, nil, quiet()), http.MethodGet, DumpPath)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "[]\n" {
		t.Fatalf("body = %q, want %q", got, "[]\n")
	}
}

func TestDumpFaultIsJSONError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: errors.New("relation missing")}
	rr := serve(t, NewHandler(svc, nil, quiet()), http.MethodGet, DumpPath)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "relation missing" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rr := serve(t, NewHandler(&fakeService{}, fakePinger{}, quiet()), http.MethodGet, HealthPath)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthy = (%d, %q)", rr.Code, rr.Body.String())
	}

	rr = serve(t, NewHandler(&fakeService{}, fakePinger{err: errors.New("down")}, quiet()), http.MethodGet, HealthPath)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	t.Parallel()

	rr := serve(t, NewHandler(&fakeService{}, nil, quiet()), http.MethodGet, "/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestFallbackEndToEndOverSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := sqlite.Open(path, sqlite.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.ApplySchema(context.Background()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	now := time.Now().UTC()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	insert := func(route, html string, expiry time.Time) {
		t.Helper()
		if _, err := db.Exec(`INSERT INTO ssr_cache (route, html, expiry) VALUES (?, ?, ?)`, route, html, expiry.UnixMilli()); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insert("/home", "<h1>Home</h1>", now.Add(time.Hour))
	insert("/old", "<h1>Old</h1>", now.Add(-time.Hour))

	svc := fallback.NewService(store, fallback.WithLogf(func(string, ...any) {}))
	h := NewHandler(svc, store, quiet())

	tests := []struct {
		target string
		want   string
	}{
		{target: "/fallback/home", want: "<h1>Home</h1>"},
		{target: "/fallback///home", want: "<h1>Home</h1>"},
		{target: "/fallback/old", want: fallback.MissPlaceholder},
		{target: "/fallback/unknown", want: fallback.MissPlaceholder},
		{target: "/fallback/", want: fallback.MissPlaceholder},
	}
	for _, tc := range tests {
		rr := serve(t, h, http.MethodGet, tc.target)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want %d", tc.target, rr.Code, http.StatusOK)
		}
		if rr.Body.String() != tc.want {
			t.Fatalf("%s body = %q, want %q", tc.target, rr.Body.String(), tc.want)
		}
	}

	rr := serve(t, h, http.MethodGet, DumpPath)
	var rows []storage.CacheEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("dump rows = %d, want 2 (expired rows included)", len(rows))
	}

	if _, err := db.Exec(`DROP TABLE ssr_cache`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	rr = serve(t, h, http.MethodGet, "/fallback/home")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status after outage = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if rr.Body.String() == fallback.MissPlaceholder {
		t.Fatal("outage must not be reported as a miss")
	}
}
