// Package main 用量流水消费进程入口（usage-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"z-content-ai-api/internal/config"
	"z-content-ai-api/internal/wire"
	"z-content-ai-api/pkg/logger"
	"z-content-ai-api/pkg/tracer"
)

const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    "usage-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	worker, cleanup, err := wire.InitializeUsageWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize usage-worker", err)
	}
	defer cleanup()

	if err := worker.Consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go worker.Consumer.WatchDeadLetters(ctx, dlqAlertThreshold)

	log := logger.FromContext(ctx)
	log.Info("usage-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("usage-worker shutting down")
	cancel()
	worker.Consumer.Stop()
}
