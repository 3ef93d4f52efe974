// Package httpapi exposes the fallback cache over HTTP.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/platform/httpx"
	"github.com/louisbranch/ssr-fallback/internal/platform/timeouts"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/fallback"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
)

// Route paths served by the handler.
const (
	FallbackPrefix = "/fallback/"
	DumpPath       = "/test-db"
	HealthPath     = "/health"
)

// StoreErrorBody is the generic body returned when a fallback lookup fails.
const StoreErrorBody = "Database error"

// FallbackService is the lookup surface the handler serves.
type FallbackService interface {
	GetFallback(ctx context.Context, rawRoute string) (fallback.Result, error)
	DumpAll(ctx context.Context) ([]storage.CacheEntry, error)
}

// Pinger checks store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler routes fallback, dump and health requests.
type Handler struct {
	service       FallbackService
	pinger        Pinger
	healthTimeout time.Duration
	logf          func(string, ...any)

	fallback http.Handler
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogf replaces log.Printf for handler diagnostics.
func WithLogf(logf func(string, ...any)) Option {
	return func(h *Handler) {
		if logf != nil {
			h.logf = logf
		}
	}
}

// WithHealthTimeout bounds the health-check ping.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.healthTimeout = timeout
		}
	}
}

// NewHandler wires the routes. pinger may be nil, in which case /health
// always reports ok.
func NewHandler(service FallbackService, pinger Pinger, opts ...Option) *Handler {
	h := &Handler{
		service:       service,
		pinger:        pinger,
		healthTimeout: timeouts.HealthProbe,
		logf:          log.Printf,
		mux:           http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.fallback = httpx.RequireMethod(http.MethodGet)(http.HandlerFunc(h.handleFallback))
	h.mux.Handle(DumpPath, httpx.RequireMethod(http.MethodGet)(http.HandlerFunc(h.handleDump)))
	h.mux.Handle(HealthPath, httpx.RequireMethod(http.MethodGet)(http.HandlerFunc(h.handleHealth)))
	return h
}

// ServeHTTP dispatches /fallback/ before ServeMux so the route keeps any
// repeated slashes the mux would otherwise clean and redirect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, FallbackPrefix) {
		h.fallback.ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request) {
	rawRoute := strings.TrimPrefix(r.URL.Path, FallbackPrefix)
	result, err := h.service.GetFallback(r.Context(), rawRoute)
	if err != nil {
		h.logf("fallback request failed route=%q request_id=%s: %v", rawRoute, r.Header.Get("X-Request-ID"), err)
		_ = httpx.WriteText(w, http.StatusInternalServerError, StoreErrorBody)
		return
	}
	if err := httpx.WriteHTML(w, http.StatusOK, result.HTML); err != nil {
		h.logf("write fallback response route=%s: %v", result.Route, err)
	}
}

func (h *Handler) handleDump(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.DumpAll(r.Context())
	if err != nil {
		h.logf("dump request failed request_id=%s: %v", r.Header.Get("X-Request-ID"), err)
		_ = httpx.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.CacheEntry{}
	}
	if err := httpx.WriteJSON(w, http.StatusOK, entries); err != nil {
		h.logf("write dump response: %v", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logf("health check failed: %v", err)
			_ = httpx.WriteText(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	_ = httpx.WriteText(w, http.StatusOK, "ok")
}
