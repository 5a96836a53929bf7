package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"aanmelden/internal/app"
	"aanmelden/internal/config"
	"aanmelden/internal/logging"
	"aanmelden/internal/observability"
)

// Worker consumes MAC join events and marks the owners' registrations as seen.
func main() {
	cfg := config.Load()
	lg, err := logging.Init(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Closer()
	logger := lg.Component("worker")

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if err := app.CheckWorkerBackends(cfg); err != nil {
		logger.Error("worker cannot run with these backends", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	b, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	defer b.Close()
	go b.Fanout.Run(ctx)

	logger.Info("worker started, waiting for messages")
	if err := b.Dispatcher(logger).Run(ctx, b.Queue); err != nil {
		logger.Error("dispatcher stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}
