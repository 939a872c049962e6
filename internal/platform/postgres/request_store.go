// Package postgres implements the relational request store on
// database/sql with the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fsnebula/converter-api/internal/store"
)

// RequestStore persists conversion request records in the
// conversion_requests table.
type RequestStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRequestStore creates a store around an open database handle.
func NewRequestStore(db *sql.DB, logger *slog.Logger) *RequestStore {
	return &RequestStore{db: db, logger: logger.With("component", "request_store")}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*RequestStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return NewRequestStore(db, logger), nil
}

// DB exposes the underlying handle for migrations and shutdown.
func (s *RequestStore) DB() *sql.DB { return s.db }

func (s *RequestStore) CreateRequest(ctx context.Context, req *store.ConversionRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversion_requests (ticket, token, webhook, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		req.Ticket, req.Token, req.Webhook, req.State, req.CreatedAt, req.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert request %d: %w", req.Ticket, err)
	}
	return nil
}

func (s *RequestStore) GetRequest(ctx context.Context, ticket int64) (*store.ConversionRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket, token, webhook, state, created_at, expires_at
		FROM conversion_requests
		WHERE ticket = $1`, ticket)

	var req store.ConversionRequest
	err := row.Scan(&req.Ticket, &req.Token, &req.Webhook, &req.State, &req.CreatedAt, &req.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %d", store.ErrRequestNotFound, ticket)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", ticket, err)
	}
	return &req, nil
}

func (s *RequestStore) UpdateState(ctx context.Context, ticket int64, state string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversion_requests SET state = $2 WHERE ticket = $1`, ticket, state)
	if err != nil {
		return fmt.Errorf("failed to update request %d: %w", ticket, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: ticket %d", store.ErrRequestNotFound, ticket)
	}
	return nil
}

func (s *RequestStore) DeleteRequest(ctx context.Context, ticket int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversion_requests WHERE ticket = $1`, ticket)
	if err != nil {
		return fmt.Errorf("failed to delete request %d: %w", ticket, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: ticket %d", store.ErrRequestNotFound, ticket)
	}
	return nil
}

func (s *RequestStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversion_requests WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired requests: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired request records", "count", n)
	}
	return n, nil
}

// compile-time interface check
var _ store.RequestStore = (*RequestStore)(nil)
