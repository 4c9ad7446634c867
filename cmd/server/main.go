package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/injector"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.LoadFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := injector.InitializeServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating server:", err)
		return 1
	}
	defer cleanup()
	logger := log.Provide()
	defer func() { _ = logger.Sync() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if *path != "" {
		g.Go(func() error {
			return config.Watch(gctx, *path, logger, func(c *config.Config) {
				logger.SetLevel(c.LogLevel())
				srv.SetSpeedMultiplier(c.Simulation.SpeedMultiplier)
			})
		})
	}

	if err = g.Wait(); err != nil {
		logger.Error("server failed", log.Error(err))
		return 1
	}
	return 0
}
