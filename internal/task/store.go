package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/events"
)

// Store persists ticket lifecycle records and results in the broker.
// Status and result records live in the task:status and task:result
// hashes, keyed by the decimal ticket id.
type Store struct {
	broker broker.Broker

	// Now is the clock used for timestamps. Tests override it.
	Now func() time.Time
}

func NewStore(b broker.Broker) *Store {
	return &Store{broker: b, Now: time.Now}
}

// NextTicket allocates a fresh, strictly increasing ticket id.
func (s *Store) NextTicket(ctx context.Context) (int64, error) {
	id, err := s.broker.Incr(ctx, keyTicketCounter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate ticket: %w", err)
	}
	return id, nil
}

// CreateWaiting records a freshly submitted ticket in the WAITING state.
func (s *Store) CreateWaiting(ctx context.Context, ticket int64) error {
	now := s.Now().Unix()
	return s.writeStatus(ctx, ticket, Status{
		State:     StateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// MarkWorking transitions a ticket from WAITING to WORKING.
func (s *Store) MarkWorking(ctx context.Context, ticket int64) error {
	return s.transition(ctx, ticket, StateWorking)
}

// MarkDone transitions a ticket from WORKING to DONE and records its
// runtime.
func (s *Store) MarkDone(ctx context.Context, ticket int64) error {
	return s.transition(ctx, ticket, StateDone)
}

// MarkFailed transitions a ticket from WORKING to FAILED and records
// its runtime.
func (s *Store) MarkFailed(ctx context.Context, ticket int64) error {
	return s.transition(ctx, ticket, StateFailed)
}

func (s *Store) transition(ctx context.Context, ticket int64, to State) error {
	st, err := s.Status(ctx, ticket)
	if err != nil {
		return err
	}
	if !st.State.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s for ticket %d", ErrInvalidTransition, st.State, to, ticket)
	}

	now := s.Now().Unix()
	if to.Terminal() {
		// Runtime counts from the start of work, stamped by MarkWorking.
		st.Runtime = float64(now - st.UpdatedAt)
	}
	st.State = to
	st.UpdatedAt = now
	return s.writeStatus(ctx, ticket, st)
}

// Status returns the lifecycle record for a ticket.
func (s *Store) Status(ctx context.Context, ticket int64) (Status, error) {
	return s.StatusByField(ctx, field(ticket))
}

// StatusByField reads a status record by its raw hash field. A record
// that is not valid JSON or carries no timestamps yields
// ErrCorruptStatus.
func (s *Store) StatusByField(ctx context.Context, f string) (Status, error) {
	raw, err := s.broker.HGet(ctx, keyStatus, f)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return Status{}, fmt.Errorf("%w: %s", ErrTicketNotFound, f)
		}
		return Status{}, fmt.Errorf("failed to read status %s: %w", f, err)
	}

	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, fmt.Errorf("%w: %s: %v", ErrCorruptStatus, f, err)
	}
	if st.CreatedAt == 0 || st.UpdatedAt == 0 {
		return Status{}, fmt.Errorf("%w: %s: missing timestamps", ErrCorruptStatus, f)
	}
	return st, nil
}

// AllStatuses returns every parseable status record keyed by ticket id.
// Corrupt records are skipped.
func (s *Store) AllStatuses(ctx context.Context) (map[int64]Status, error) {
	fields, err := s.AllStatusFields(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]Status, len(fields))
	for _, f := range fields {
		ticket, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		st, err := s.StatusByField(ctx, f)
		if err != nil {
			continue
		}
		out[ticket] = st
	}
	return out, nil
}

// AllStatusFields lists the raw hash fields of the status hash.
func (s *Store) AllStatusFields(ctx context.Context) ([]string, error) {
	fields, err := s.broker.HKeys(ctx, keyStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return fields, nil
}

// DeleteStatusField drops a single status record by raw field.
func (s *Store) DeleteStatusField(ctx context.Context, f string) error {
	if err := s.broker.HDel(ctx, keyStatus, f); err != nil {
		return fmt.Errorf("failed to delete status %s: %w", f, err)
	}
	return nil
}

// SaveResult stores a ticket's outcome.
func (s *Store) SaveResult(ctx context.Context, ticket int64, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result for ticket %d: %w", ticket, err)
	}
	if err := s.broker.HSet(ctx, keyResult, field(ticket), data); err != nil {
		return fmt.Errorf("failed to save result for ticket %d: %w", ticket, err)
	}
	return nil
}

// Result returns the stored outcome for a ticket, or ErrNoResult.
func (s *Store) Result(ctx context.Context, ticket int64) (Result, error) {
	raw, err := s.broker.HGet(ctx, keyResult, field(ticket))
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: ticket %d", ErrNoResult, ticket)
		}
		return Result{}, fmt.Errorf("failed to read result for ticket %d: %w", ticket, err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, fmt.Errorf("failed to decode result for ticket %d: %w", ticket, err)
	}
	return res, nil
}

// HasResult reports whether an outcome is stored for a ticket.
func (s *Store) HasResult(ctx context.Context, ticket int64) (bool, error) {
	ok, err := s.broker.HExists(ctx, keyResult, field(ticket))
	if err != nil {
		return false, fmt.Errorf("failed to probe result for ticket %d: %w", ticket, err)
	}
	return ok, nil
}

// ResultFields lists the raw hash fields of the result hash.
func (s *Store) ResultFields(ctx context.Context) ([]string, error) {
	fields, err := s.broker.HKeys(ctx, keyResult)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return fields, nil
}

// DeleteResultField drops a single result record by raw field.
func (s *Store) DeleteResultField(ctx context.Context, f string) error {
	if err := s.broker.HDel(ctx, keyResult, f); err != nil {
		return fmt.Errorf("failed to delete result %s: %w", f, err)
	}
	return nil
}

// LogKeys lists every persisted per-ticket event backlog key.
func (s *Store) LogKeys(ctx context.Context) ([]string, error) {
	keys, err := s.broker.Keys(ctx, events.LogKeyPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	return keys, nil
}

// DeleteLog drops a persisted event backlog by its full key.
func (s *Store) DeleteLog(ctx context.Context, key string) error {
	if err := s.broker.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to delete event log %s: %w", key, err)
	}
	return nil
}

// Remove deletes all state held for a ticket: its status, its result
// and its event backlog.
func (s *Store) Remove(ctx context.Context, ticket int64) error {
	if err := s.broker.HDel(ctx, keyStatus, field(ticket)); err != nil {
		return fmt.Errorf("failed to remove status for ticket %d: %w", ticket, err)
	}
	if err := s.broker.HDel(ctx, keyResult, field(ticket)); err != nil {
		return fmt.Errorf("failed to remove result for ticket %d: %w", ticket, err)
	}
	if err := s.broker.Del(ctx, events.LogKey(ticket)); err != nil {
		return fmt.Errorf("failed to remove event log for ticket %d: %w", ticket, err)
	}
	return nil
}

func (s *Store) writeStatus(ctx context.Context, ticket int64, st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode status for ticket %d: %w", ticket, err)
	}
	if err := s.broker.HSet(ctx, keyStatus, field(ticket), data); err != nil {
		return fmt.Errorf("failed to write status for ticket %d: %w", ticket, err)
	}
	return nil
}

func field(ticket int64) string {
	return strconv.FormatInt(ticket, 10)
}
