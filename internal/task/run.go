package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fsnebula/converter-api/internal/events"
)

// Run is the per-execution context handed to a Handler. Its Logger tees
// every record to the worker log and, as persisted log_message events,
// to the ticket's watchers.
type Run struct {
	Ticket int64
	Args   json.RawMessage
	Logger *slog.Logger

	store      *Store
	bus        *events.Bus
	rendezvous *Rendezvous
}

// Emit publishes an event on the ticket's channel.
func (r *Run) Emit(ctx context.Context, ev events.Event) error {
	return r.bus.Emit(ctx, r.Ticket, ev)
}

// Progress publishes a transient progress event. Errors are dropped:
// progress is advisory and must never fail a task.
func (r *Run) Progress(ctx context.Context, percent float64, text string) {
	_ = r.bus.Emit(ctx, r.Ticket, events.Progress{Percent: percent, Text: text})
}

// SaveResult stores the ticket's outcome.
func (r *Run) SaveResult(ctx context.Context, res Result) error {
	return r.store.SaveResult(ctx, r.Ticket, res)
}

// DeleteResult drops the ticket's stored outcome, if any.
func (r *Run) DeleteResult(ctx context.Context) error {
	return r.store.DeleteResultField(ctx, field(r.Ticket))
}

// Captcha blocks until a human answers the challenge behind imageURL,
// or the timeout passes.
func (r *Run) Captcha(ctx context.Context, imageURL string, timeout time.Duration) (string, error) {
	return r.rendezvous.Ask(ctx, imageURL, timeout)
}
