// Package fallback serves pre-rendered HTML snapshots by route.
//
// A lookup either hits a non-expired snapshot, misses (a successful outcome
// that tells the caller to render live) or fails with a store fault. Miss and
// fault are never conflated.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/platform/timeouts"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MissPlaceholder is the body returned when no valid snapshot exists.
const MissPlaceholder = "<div>No cached version</div>"

const tracerName = "github.com/louisbranch/ssr-fallback/internal/services/ssrcache/fallback"

// ErrStoreFault matches every StoreFaultError through errors.Is.
var ErrStoreFault = errors.New("cache store fault")

// StoreFaultError reports a failed store access during an operation.
type StoreFaultError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreFaultError) Error() string {
	if e == nil {
		return ErrStoreFault.Error()
	}
	return fmt.Sprintf("%s: %s: %v", ErrStoreFault, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreFaultError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches ErrStoreFault.
func (e *StoreFaultError) Is(target error) bool {
	return target == ErrStoreFault
}

// Result is the outcome of a successful lookup.
type Result struct {
	Route string
	HTML  string
	Hit   bool
}

// Service answers fallback lookups. It holds no per-request state and is safe
// for concurrent use.
type Service struct {
	store        storage.Reader
	now          func() time.Time
	queryTimeout time.Duration
	tracer       trace.Tracer
	logf         func(string, ...any)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry comparison.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithQueryTimeout bounds every store query. Non-positive values keep the
// default.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.queryTimeout = timeout
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// WithLogf replaces log.Printf for lookup diagnostics.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Service) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// NewService builds a fallback service over store.
func NewService(store storage.Reader, opts ...Option) *Service {
	s := &Service{
		store:        store,
		now:          time.Now,
		queryTimeout: timeouts.StoreQuery,
		tracer:       otel.Tracer(tracerName),
		logf:         log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetFallback normalizes rawRoute and returns the cached HTML for it, or
// MissPlaceholder when no snapshot is valid now. Store failures return a
// *StoreFaultError and an empty Result.
func (s *Service) GetFallback(ctx context.Context, rawRoute string) (Result, error) {
	route := NormalizeRoute(rawRoute)
	ctx, span := s.tracer.Start(ctx, "fallback.GetFallback", trace.WithAttributes(
		attribute.String("ssrcache.route", route),
	))
	defer span.End()

	if s.store == nil {
		return Result{}, s.fault(span, "get fallback", errors.New("store is not configured"))
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	html, found, err := s.store.FindValidHTML(queryCtx, route, s.now())
	if err != nil {
		s.logf("fallback lookup failed route=%s: %v", route, err)
		return Result{}, s.fault(span, "get fallback", err)
	}
	span.SetAttributes(attribute.Bool("ssrcache.hit", found))
	if !found {
		s.logf("cache miss for route %s", route)
		return Result{Route: route, HTML: MissPlaceholder}, nil
	}
	s.logf("cache hit for route %s", route)
	return Result{Route: route, HTML: html, Hit: true}, nil
}

// DumpAll returns every stored snapshot without filtering. It is a
// diagnostic surface and is not meant for the serving path.
func (s *Service) DumpAll(ctx context.Context) ([]storage.CacheEntry, error) {
	ctx, span := s.tracer.Start(ctx, "fallback.DumpAll")
	defer span.End()

	if s.store == nil {
		return nil, s.fault(span, "dump all", errors.New("store is not configured"))
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	entries, err := s.store.ListEntries(queryCtx)
	if err != nil {
		s.logf("dump cache entries failed: %v", err)
		return nil, s.fault(span, "dump all", err)
	}
	span.SetAttributes(attribute.Int("ssrcache.entries", len(entries)))
	return entries, nil
}

func (s *Service) fault(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return &StoreFaultError{Op: op, Err: err}
}
