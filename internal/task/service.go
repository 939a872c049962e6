package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Service is the submission path used by the HTTP API: it allocates a
// ticket, records it as WAITING and hands it to the queue.
type Service struct {
	store  *Store
	queue  *Queue
	logger *slog.Logger
}

func NewService(store *Store, queue *Queue, logger *slog.Logger) *Service {
	return &Service{store: store, queue: queue, logger: logger}
}

// Submit creates a new ticket for the given task type. The ticket is
// visible as WAITING before the envelope reaches the queue, so a status
// probe racing the submission never observes an unknown ticket.
func (s *Service) Submit(ctx context.Context, taskType string, args json.RawMessage) (int64, error) {
	ticket, err := s.store.NextTicket(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.store.CreateWaiting(ctx, ticket); err != nil {
		return 0, err
	}
	if err := s.queue.Enqueue(ctx, Envelope{Ticket: ticket, Type: taskType, Args: args}); err != nil {
		return 0, fmt.Errorf("ticket %d created but not enqueued: %w", ticket, err)
	}

	s.logger.Info("task submitted", "ticket", ticket, "type", taskType)
	return ticket, nil
}
