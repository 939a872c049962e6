package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnebula/converter-api/internal/events"
)

// busHandler is a slog.Handler that forwards every record to the event
// bus as a persisted log_message event, then hands it to the worker's
// own handler. Watchers of a ticket see the same lines the worker logs.
type busHandler struct {
	bus    *events.Bus
	ticket int64
	next   slog.Handler
	attrs  []slog.Attr
}

func newBusHandler(bus *events.Bus, ticket int64, next slog.Handler) *busHandler {
	return &busHandler{bus: bus, ticket: ticket, next: next}
}

func (h *busHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *busHandler) Handle(ctx context.Context, rec slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", rec.Level, rec.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})

	// Delivery failures must not break the task that is logging.
	_ = h.bus.Emit(ctx, h.ticket, events.LogMessage{Text: b.String()})
	return h.next.Handle(ctx, rec)
}

func (h *busHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *busHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}
