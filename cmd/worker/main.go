// Package main implements the worker process: it executes queued
// conversion and cleanup tasks and exposes Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/converter"
	"github.com/fsnebula/converter-api/internal/events"
	"github.com/fsnebula/converter-api/internal/platform/logger"
	"github.com/fsnebula/converter-api/internal/task"
	"github.com/fsnebula/converter-api/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	defer b.Close()

	taskStore := task.NewStore(b)
	queue := task.NewQueue(b)
	bus := events.NewBus(b, appLogger)

	runner := task.NewRunner(taskStore, queue, bus, appLogger, task.RunnerConfig{
		DequeueTimeout: cfg.Worker.DequeueTimeout,
	})

	gen := converterGenerator(cfg)
	notifier := webhook.NewNotifier(cfg.Webhook, appLogger)
	runner.Register(task.NewConverterHandler(gen, notifier, cfg.Worker.CaptchaTimeout))
	runner.Register(task.NewCleanupHandler(taskStore, cfg.Cleanup))

	if cfg.Worker.MetricsAddr != "" {
		go serveMetrics(cfg.Worker.MetricsAddr, appLogger)
	}

	// A signal stops the loop; the task in flight finishes first.
	go func() {
		<-ctx.Done()
		appLogger.Info("shutdown requested, finishing current task")
		runner.Stop()
	}()

	return runner.Run(context.Background())
}

// converterGenerator builds the checksum generator, wiring the mirror
// directory through when one is configured.
func converterGenerator(cfg *config.Config) converter.Generator {
	return &mirroringGenerator{
		inner:     converter.NewChecksummer(nil),
		mirrorDir: cfg.Mirror.Path,
		mirrorURL: cfg.Mirror.URL,
	}
}

// mirroringGenerator injects the configured mirror location into every
// run's options.
type mirroringGenerator struct {
	inner     converter.Generator
	mirrorDir string
	mirrorURL string
}

func (g *mirroringGenerator) GenerateChecksums(ctx context.Context, repo json.RawMessage, opts converter.Options) (json.RawMessage, error) {
	opts.MirrorDir = g.mirrorDir
	opts.MirrorBaseURL = g.mirrorURL
	return g.inner.GenerateChecksums(ctx, repo, opts)
}

func serveMetrics(addr string, appLogger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	appLogger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		appLogger.Error("metrics server stopped", "error", err)
	}
}
