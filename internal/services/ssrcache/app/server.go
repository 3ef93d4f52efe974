// Package server wires the fallback cache runtime: store, startup
// verification, HTTP API and the optional gRPC health surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/ssr-fallback/internal/platform/config"
	platformgrpc "github.com/louisbranch/ssr-fallback/internal/platform/grpc"
	"github.com/louisbranch/ssr-fallback/internal/platform/httpx"
	"github.com/louisbranch/ssr-fallback/internal/platform/timeouts"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/api/httpapi"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/bootstrap"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/fallback"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage/postgres"
	"github.com/louisbranch/ssr-fallback/internal/services/ssrcache/storage/sqlite"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GRPCServiceName is reported by the gRPC health surface next to "".
const GRPCServiceName = "ssrcache.v1.Fallback"

const (
	defaultHTTPAddr   = ":3000"
	defaultSQLitePath = "data/ssr-cache.db"
)

// ErrVerificationFailed marks a startup refused because the store could not
// be verified.
var ErrVerificationFailed = errors.New("store verification failed")

// errServerStopped cancels the serve group when a server stops cleanly,
// including after Close.
var errServerStopped = errors.New("server stopped")

// StartupError carries the verification failure that stopped startup.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	if e == nil || e.Err == nil {
		return ErrVerificationFailed.Error()
	}
	return fmt.Sprintf("%v: %v", ErrVerificationFailed, e.Err)
}

func (e *StartupError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrVerificationFailed, e.Err}
}

// ExitCode maps a refused startup to its dedicated process exit code.
func (e *StartupError) ExitCode() int {
	return config.ExitVerificationFailed
}

// Phase is the process lifecycle state.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseVerifying
	PhaseServing
	PhaseFailedStart
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseVerifying:
		return "verifying"
	case PhaseServing:
		return "serving"
	case PhaseFailedStart:
		return "failed_start"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Config holds runtime settings resolved by the command layer.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	DBDriver       string
	DBDSN          string
	DBTable        string
	DBMaxOpenConns int
	QueryTimeout   time.Duration
	VerifyTimeout  time.Duration
	// MaxConns caps concurrent HTTP connections; zero is unlimited.
	MaxConns int
	// ApplySchema creates the reference table before verification. Local
	// development only.
	ApplySchema bool
}

func (c Config) withDefaults() Config {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	c.GRPCAddr = strings.TrimSpace(c.GRPCAddr)
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver == "" {
		c.DBDriver = DriverSQLite
	}
	c.DBDSN = strings.TrimSpace(c.DBDSN)
	if c.DBDSN == "" && c.DBDriver == DriverSQLite {
		c.DBDSN = defaultSQLitePath
	}
	c.DBTable = strings.TrimSpace(c.DBTable)
	if c.DBTable == "" {
		c.DBTable = storage.DefaultTable
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = timeouts.StoreQuery
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = timeouts.StoreVerify
	}
	return c
}

type schemaApplier interface {
	ApplySchema(ctx context.Context) error
}

// Server hosts the fallback HTTP API, optional gRPC health and the store.
type Server struct {
	cfg   Config
	phase atomic.Int32
	logf  func(string, ...any)

	store        storage.Store
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *gogrpc.Server
	health       *platformgrpc.Health

	closeOnce sync.Once
}

// New opens and verifies the store, then binds the listeners. Nothing is
// bound when verification fails; the returned error then wraps
// ErrVerificationFailed and the *bootstrap.VerifyError behind it.
func New(ctx context.Context, cfg Config) (*Server, error) {
	s := newServer(cfg)
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		logf:   log.Printf,
		health: platformgrpc.NewHealth(GRPCServiceName),
	}
}

func (s *Server) start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.setPhase(PhaseVerifying)

	store, err := openStore(s.cfg)
	if err != nil {
		s.setPhase(PhaseFailedStart)
		return err
	}
	s.store = store

	if s.cfg.ApplySchema {
		applier, ok := store.(schemaApplier)
		if !ok {
			s.logf("apply schema is not supported for driver %s; skipping", s.cfg.DBDriver)
		} else if err := applier.ApplySchema(ctx); err != nil {
			s.fail()
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	verifier := bootstrap.NewVerifier(store, s.cfg.DBTable,
		bootstrap.WithTimeout(s.cfg.VerifyTimeout),
		bootstrap.WithLogf(s.logf),
	)
	if err := verifier.Check(ctx); err != nil {
		s.logf("refusing to start driver=%s: %v", s.cfg.DBDriver, err)
		s.fail()
		return &StartupError{Err: err}
	}

	if err := s.listen(); err != nil {
		s.fail()
		return err
	}
	return nil
}

func (s *Server) listen() error {
	httpListener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
	}
	if s.cfg.MaxConns > 0 {
		httpListener = netutil.LimitListener(httpListener, s.cfg.MaxConns)
	}
	s.httpListener = httpListener

	service := fallback.NewService(s.store,
		fallback.WithQueryTimeout(s.cfg.QueryTimeout),
		fallback.WithLogf(s.logf),
	)
	handler := httpapi.NewHandler(service, s.store, httpapi.WithLogf(s.logf))
	s.httpServer = &http.Server{
		Handler: httpx.Chain(handler,
			httpx.RequestID("ssr"),
			httpx.AccessLog(s.logf),
			httpx.RecoverPanic(),
		),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	if s.cfg.GRPCAddr == "" {
		return nil
	}
	grpcListener, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.GRPCAddr, err)
	}
	s.grpcListener = grpcListener
	s.grpcServer = platformgrpc.NewServer()
	s.health.Register(s.grpcServer)
	return nil
}

// fail releases anything opened so far and records the failed start.
func (s *Server) fail() {
	s.Close()
	s.setPhase(PhaseFailedStart)
}

// Phase reports the current lifecycle state.
func (s *Server) Phase() Phase {
	if s == nil {
		return PhaseUninitialized
	}
	return Phase(s.phase.Load())
}

func (s *Server) setPhase(phase Phase) {
	s.phase.Store(int32(phase))
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC health listener address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a fallback cache server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP server and, when configured, the gRPC health server
// until ctx ends or either one fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return errors.New("server is not started")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.httpServer.Serve(s.httpListener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return errServerStopped
		}
		s.health.SetNotServing()
		return fmt.Errorf("serve HTTP: %w", err)
	})
	if s.grpcServer != nil {
		group.Go(func() error {
			err := s.grpcServer.Serve(s.grpcListener)
			if err == nil || errors.Is(err, gogrpc.ErrServerStopped) {
				return errServerStopped
			}
			return fmt.Errorf("serve gRPC: %w", err)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown()
		return nil
	})

	s.setPhase(PhaseServing)
	s.health.SetServing()
	s.logReady()

	if err := group.Wait(); err != nil && !errors.Is(err, errServerStopped) {
		return err
	}
	return nil
}

func (s *Server) shutdown() {
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logf("shutdown HTTP server: %v", err)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *Server) logReady() {
	s.logf("ssr fallback cache listening at %s (driver=%s table=%s)", s.Addr(), s.cfg.DBDriver, s.cfg.DBTable)
	if addr := s.GRPCAddr(); addr != "" {
		s.logf("gRPC health listening at %s", addr)
	}
	base := "http://" + dialableAddr(s.Addr())
	s.logf("try: curl %s%s", base, httpapi.DumpPath)
	s.logf("try: curl %s%shome", base, httpapi.FallbackPrefix)
}

// Close releases listeners and the store. Safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.health.Shutdown()
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.httpServer != nil {
			_ = s.httpServer.Close()
		}
		if s.grpcListener != nil {
			_ = s.grpcListener.Close()
		}
		if s.httpListener != nil {
			_ = s.httpListener.Close()
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logf("close ssr cache store: %v", err)
			}
		}
	})
}

func openStore(cfg Config) (storage.Store, error) {
	switch cfg.DBDriver {
	case DriverSQLite:
		// Only a dev schema bootstrap may create the database file.
		if cfg.ApplySchema {
			if dir := filepath.Dir(cfg.DBDSN); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create storage dir: %w", err)
				}
			}
		}
		store, err := sqlite.Open(cfg.DBDSN, sqlite.Options{
			Table:        cfg.DBTable,
			MaxOpenConns: cfg.DBMaxOpenConns,
			ReadOnly:     !cfg.ApplySchema,
		})
		if err != nil {
			return nil, fmt.Errorf("open ssr cache sqlite store: %w", err)
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(cfg.DBDSN, postgres.Options{Table: cfg.DBTable, MaxOpenConns: cfg.DBMaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("open ssr cache postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func dialableAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
