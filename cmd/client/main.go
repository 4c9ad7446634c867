package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/injector"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", "", "path to a YAML or JSON config file")
	url := flag.String("url", "", "room url, overrides client.url")
	flag.Parse()

	cfg, err := config.LoadFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		return 1
	}
	if *url != "" {
		cfg.Client.URL = *url
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the injector builds the process logger before dialing
	c, err := injector.InitializeClient(ctx, cfg)
	logger := log.Provide()
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Error("connect failed", log.String("url", cfg.Client.URL), log.Error(err))
		return 1
	}
	if err = c.Run(ctx); err != nil {
		logger.Error("connection lost", log.Error(err))
		return 1
	}
	sum := c.Summary()
	logger.Info("final state",
		log.Int("messages", c.Messages()),
		log.Int("circles", sum.Circles),
		log.Int("intersecting", sum.Intersecting))
	return 0
}
