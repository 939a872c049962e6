package task

import (
	"context"
	"errors"
	"strconv"

	"github.com/fsnebula/converter-api/internal/config"
	"github.com/fsnebula/converter-api/internal/events"
)

// CleanupHandler sweeps expired and orphaned task state. It runs as a
// regular queued task so cleanup competes with conversions for worker
// time instead of racing them.
//
// The retention policy, applied per status record:
//   - corrupt records missing their timestamps are deleted outright
//   - DONE tickets expire ResultLifetime after their last update
//   - unfinished tickets expire TaskLifetime after creation
//
// A second pass drops results and event backlogs whose ticket no longer
// has a status record. Failure to inspect a single ticket is logged and
// the ticket kept; the sweep continues.
type CleanupHandler struct {
	store *Store
	cfg   config.CleanupConfig
}

func NewCleanupHandler(store *Store, cfg config.CleanupConfig) *CleanupHandler {
	return &CleanupHandler{store: store, cfg: cfg}
}

func (h *CleanupHandler) Type() string { return TypeCleanup }

func (h *CleanupHandler) Run(ctx context.Context, run *Run) error {
	now := h.store.Now()
	living := make(map[string]bool)
	removed := 0

	fields, err := h.store.AllStatusFields(ctx)
	if err != nil {
		return err
	}

	for _, f := range fields {
		st, err := h.store.StatusByField(ctx, f)
		switch {
		case errors.Is(err, ErrCorruptStatus):
			run.Logger.Warn("deleting corrupt status record", "ticket", f, "error", err)
		case err != nil:
			// Conservative: an unreadable record survives the sweep.
			run.Logger.Error("cannot inspect ticket, keeping it", "ticket", f, "error", err)
			living[f] = true
			continue
		case st.State == StateDone && now.Unix()-st.UpdatedAt > int64(h.cfg.ResultLifetime.Seconds()):
			run.Logger.Info("expiring finished ticket", "ticket", f)
		case st.State != StateDone && now.Unix()-st.CreatedAt > int64(h.cfg.TaskLifetime.Seconds()):
			run.Logger.Info("expiring stale ticket", "ticket", f, "state", st.State)
		default:
			living[f] = true
			continue
		}

		if ticket, perr := strconv.ParseInt(f, 10, 64); perr == nil {
			if err := h.store.Remove(ctx, ticket); err != nil {
				run.Logger.Error("cannot remove ticket", "ticket", f, "error", err)
				living[f] = true
				continue
			}
		} else if err := h.store.DeleteStatusField(ctx, f); err != nil {
			run.Logger.Error("cannot delete status record", "ticket", f, "error", err)
			continue
		}
		removed++
	}

	orphans := h.sweepOrphanResults(ctx, run, living)
	stale := h.sweepStaleLogs(ctx, run, living)

	run.Logger.Info("cleanup finished",
		"living", len(living),
		"expired", removed,
		"orphan_results", orphans,
		"stale_logs", stale)
	return nil
}

// sweepOrphanResults drops results whose ticket has no status record.
func (h *CleanupHandler) sweepOrphanResults(ctx context.Context, run *Run, living map[string]bool) int {
	fields, err := h.store.ResultFields(ctx)
	if err != nil {
		run.Logger.Error("cannot list results", "error", err)
		return 0
	}

	removed := 0
	for _, f := range fields {
		if living[f] {
			continue
		}
		if err := h.store.DeleteResultField(ctx, f); err != nil {
			run.Logger.Error("cannot delete orphan result", "ticket", f, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// sweepStaleLogs drops event backlogs whose ticket has no status record.
func (h *CleanupHandler) sweepStaleLogs(ctx context.Context, run *Run, living map[string]bool) int {
	keys, err := h.store.LogKeys(ctx)
	if err != nil {
		run.Logger.Error("cannot list event logs", "error", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		ticket, err := events.TicketFromLogKey(key)
		if err != nil {
			run.Logger.Warn("skipping unrecognized log key", "key", key)
			continue
		}
		if living[field(ticket)] {
			continue
		}
		if err := h.store.DeleteLog(ctx, key); err != nil {
			run.Logger.Error("cannot delete stale event log", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed
}
