package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lostctl/internal/cli"
	"lostctl/internal/config"
	"lostctl/internal/logging"
	"lostctl/internal/metrics"
	"lostctl/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Storage.HistoryPath)
	if err != nil {
		logger.Warn("history disabled", "path", cfg.Storage.HistoryPath, "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCmd(cfg, logger, store, metrics.New())
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		if store != nil {
			store.Close()
		}
		os.Exit(1)
	}
}
