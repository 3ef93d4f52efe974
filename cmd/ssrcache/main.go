// Package main starts the SSR fallback cache process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	ssrcachecmd "github.com/louisbranch/ssr-fallback/internal/cmd/ssrcache"
	entrypoint "github.com/louisbranch/ssr-fallback/internal/platform/cmd"
	"github.com/louisbranch/ssr-fallback/internal/platform/config"
)

func main() {
	cfg, err := ssrcachecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SSRCACHE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ssrcachecmd.Run(ctx, cfg); err != nil {
		stop()
		config.ExitCodef(entrypoint.ExitCode(err), "ssrcache: %v", err)
	}
}
