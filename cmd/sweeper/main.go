// Package main implements the sweeper: a cron-style trigger that
// enqueues a cleanup task and purges expired relational records. The
// actual sweeping happens in the worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/platform/logger"
	"github.com/fsnebula/converter-api/internal/platform/postgres"
	"github.com/fsnebula/converter-api/internal/task"
)

const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("sweeper failed: %v", err)
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

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	b, err := broker.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}
	defer b.Close()

	taskStore := task.NewStore(b)
	queue := task.NewQueue(b)
	service := task.NewService(taskStore, queue, appLogger)

	ticket, err := service.Submit(ctx, task.TypeCleanup, json.RawMessage(`{}`))
	if err != nil {
		return fmt.Errorf("failed to enqueue cleanup: %w", err)
	}
	appLogger.Info("cleanup task enqueued", "ticket", ticket)

	if cfg.Database.URL != "" {
		pg, err := postgres.Open(ctx, cfg.Database.URL, appLogger)
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		defer pg.DB().Close()

		n, err := pg.DeleteExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		appLogger.Info("expired request records purged", "count", n)
	}
	return nil
}
