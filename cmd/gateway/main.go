// Package main implements the websocket gateway: it streams per-ticket
// events to watchers and forwards interactive input back to tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/events"
	"github.com/fsnebula/converter-api/internal/gateway"
	"github.com/fsnebula/converter-api/internal/platform/logger"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway failed: %v", err)
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

	bus := events.NewBus(b, appLogger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:           gateway.NewServer(bus, cfg.Gateway, appLogger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("gateway listening", "addr", srv.Addr, "origins", cfg.Gateway.AllowedOrigins)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
