// Package main implements the HTTP API server: conversion submission,
// status probes, one-shot retrieval and the signed-path mirror drop
// endpoint.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fsnebula/converter-api/internal/api"
	"github.com/fsnebula/converter-api/internal/api/middleware"
	"github.com/fsnebula/converter-api/internal/api/shared"
	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/mirror"
	"github.com/fsnebula/converter-api/internal/platform/logger"
	"github.com/fsnebula/converter-api/internal/platform/postgres"
	"github.com/fsnebula/converter-api/internal/store"
	"github.com/fsnebula/converter-api/internal/task"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
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

	// The broker is the sole coordination point; refusing to start
	// without it beats serving an API that cannot do anything.
	b, err := broker.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	defer b.Close()

	taskStore := task.NewStore(b)
	queue := task.NewQueue(b)
	service := task.NewService(taskStore, queue, appLogger)

	var requests store.RequestStore
	if cfg.Database.URL != "" {
		pg, err := postgres.Open(ctx, cfg.Database.URL, appLogger)
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		defer pg.DB().Close()
		if err := postgres.Migrate(ctx, pg.DB()); err != nil {
			return err
		}
		requests = pg
		appLogger.Info("relational request store enabled")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(shared.TraceMiddleware)

	converterAPI := api.NewConverterHandler(service, taskStore, requests, cfg.Cleanup.TaskLifetime, appLogger)
	converterAPI.Register(r, middleware.APIKeyAuth(cfg.Auth.APIKeys))

	if cfg.Mirror.Path != "" {
		mirrorStore, err := mirror.New(mirror.Config{
			Root:        cfg.Mirror.Path,
			BaseURL:     cfg.Mirror.URL,
			Secret:      cfg.Mirror.Secret,
			KeyCount:    cfg.Mirror.KeyCount,
			AllowedExts: cfg.Mirror.AllowedExts,
		})
		if err != nil {
			return fmt.Errorf("failed to set up mirror store: %w", err)
		}
		api.NewUploadHandler(mirrorStore, appLogger).Register(r)
		appLogger.Info("mirror drop endpoint enabled", "path", cfg.Mirror.Path)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("API server listening", "addr", srv.Addr)
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

	appLogger.Info("shutdown complete")
	return nil
}
