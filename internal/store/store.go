// Package store defines the optional relational record of conversion
// requests. The broker remains the operational source of truth; these
// records exist for audit queries and expiry reporting across restarts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrRequestNotFound is returned when no record exists for a ticket.
var ErrRequestNotFound = errors.New("store: request not found")

// ConversionRequest is one submitted conversion.
type ConversionRequest struct {
	Ticket    int64
	Token     string
	Webhook   string
	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RequestStore persists conversion request records.
type RequestStore interface {
	// CreateRequest inserts a new record.
	CreateRequest(ctx context.Context, req *ConversionRequest) error

	// GetRequest returns the record for a ticket.
	GetRequest(ctx context.Context, ticket int64) (*ConversionRequest, error)

	// UpdateState records a lifecycle transition.
	UpdateState(ctx context.Context, ticket int64, state string) error

	// DeleteRequest removes the record for a ticket.
	DeleteRequest(ctx context.Context, ticket int64) error

	// DeleteExpired removes every record past its expiry and reports how
	// many went away.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
