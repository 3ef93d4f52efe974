// Package bootstrap verifies the cache store before the service is allowed to
// accept traffic.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/platform/timeouts"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
)

// Stage names the verification probe that failed.
type Stage string

const (
	// StageConnectivity indicates the store could not answer a trivial query.
	StageConnectivity Stage = "connectivity"
	// StageSchema indicates the snapshot table is missing or could not be
	// inspected.
	StageSchema Stage = "schema"
)

// ErrTableMissing reports a reachable store without the snapshot table.
var ErrTableMissing = errors.New("cache table not found")

// VerifyError wraps a failed probe with its stage.
type VerifyError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	if e == nil {
		return "store verification error"
	}
	return fmt.Sprintf("store %s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *VerifyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Verifier runs the one-shot startup probes.
type Verifier struct {
	store   storage.Prober
	table   string
	timeout time.Duration
	logf    func(string, ...any)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTimeout bounds each probe. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithLogf replaces log.Printf for diagnostics.
func WithLogf(logf func(string, ...any)) Option {
	return func(v *Verifier) {
		if logf != nil {
			v.logf = logf
		}
	}
}

// NewVerifier builds a verifier for the table served by store.
func NewVerifier(store storage.Prober, table string, opts ...Option) *Verifier {
	v := &Verifier{
		store:   store,
		table:   table,
		timeout: timeouts.StoreVerify,
		logf:    log.Printf,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether the store is reachable and the table exists. The
// failure cause is logged with its stage.
func (v *Verifier) Verify(ctx context.Context) bool {
	if err := v.Check(ctx); err != nil {
		var verifyErr *VerifyError
		if errors.As(err, &verifyErr) {
			v.logf("store verification failed stage=%s table=%s: %v", verifyErr.Stage, v.table, verifyErr.Err)
		} else {
			v.logf("store verification failed table=%s: %v", v.table, err)
		}
		return false
	}
	return true
}

// Check runs the probes in order and returns a *VerifyError on the first
// failing stage. The row sample is informational and never fails the check.
func (v *Verifier) Check(ctx context.Context) error {
	if v == nil || v.store == nil {
		return &VerifyError{Stage: StageConnectivity, Err: errors.New("store is not configured")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := v.probe(ctx, func(ctx context.Context) error {
		return v.store.Ping(ctx)
	}); err != nil {
		return &VerifyError{Stage: StageConnectivity, Err: err}
	}

	var exists bool
	if err := v.probe(ctx, func(ctx context.Context) error {
		var err error
		exists, err = v.store.TableExists(ctx)
		return err
	}); err != nil {
		return &VerifyError{Stage: StageSchema, Err: err}
	}
	if !exists {
		return &VerifyError{Stage: StageSchema, Err: fmt.Errorf("%w: %s", ErrTableMissing, v.table)}
	}

	var sample []storage.CacheEntry
	if err := v.probe(ctx, func(ctx context.Context) error {
		var err error
		sample, err = v.store.SampleEntries(ctx, 1)
		return err
	}); err != nil {
		v.logf("store sample probe failed table=%s: %v", v.table, err)
		return nil
	}
	v.logf("store ready table=%s with %d records", v.table, len(sample))
	return nil
}

func (v *Verifier) probe(ctx context.Context, fn func(context.Context) error) error {
	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return fn(probeCtx)
}
