// Package ssrcache parses fallback cache flags and launches the service.
package ssrcache

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/ssr-fallback/internal/platform/cmd"
	server "github.com/louisbranch/ssr-fallback/internal/services/ssrcache/app"
)

// Config holds fallback cache command configuration.
type Config struct {
	HTTPAddr       string        `env:"SSR_FALLBACK_HTTP_ADDR" envDefault:":3000"`
	GRPCAddr       string        `env:"SSR_FALLBACK_GRPC_ADDR"`
	DBDriver       string        `env:"SSR_FALLBACK_DB_DRIVER" envDefault:"sqlite"`
	DBDSN          string        `env:"SSR_FALLBACK_DB_DSN" envDefault:"data/ssr-cache.db"`
	DBTable        string        `env:"SSR_FALLBACK_DB_TABLE" envDefault:"ssr_cache"`
	DBMaxOpenConns int           `env:"SSR_FALLBACK_DB_MAX_OPEN_CONNS" envDefault:"10"`
	QueryTimeout   time.Duration `env:"SSR_FALLBACK_QUERY_TIMEOUT" envDefault:"2s"`
	VerifyTimeout  time.Duration `env:"SSR_FALLBACK_VERIFY_TIMEOUT" envDefault:"5s"`
	MaxConns       int           `env:"SSR_FALLBACK_MAX_CONNS" envDefault:"0"`
	ApplySchema    bool          `env:"SSR_FALLBACK_APPLY_SCHEMA" envDefault:"false"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Store driver: sqlite or postgres")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "SQLite path or PostgreSQL DSN")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) serverConfig() server.Config {
	return server.Config{
		HTTPAddr:       c.HTTPAddr,
		GRPCAddr:       c.GRPCAddr,
		DBDriver:       c.DBDriver,
		DBDSN:          c.DBDSN,
		DBTable:        c.DBTable,
		DBMaxOpenConns: c.DBMaxOpenConns,
		QueryTimeout:   c.QueryTimeout,
		VerifyTimeout:  c.VerifyTimeout,
		MaxConns:       c.MaxConns,
		ApplySchema:    c.ApplySchema,
	}
}

// Run starts the fallback cache service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSSRCache, func(ctx context.Context) error {
		return server.Run(ctx, cfg.serverConfig())
	})
}
