package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fsnebula/converter-api/internal/broker"
)

// Queue is the FIFO work queue shared by the API and the workers. It is
// an at-most-once queue: a dequeued envelope is never requeued.
type Queue struct {
	broker broker.Broker
}

func NewQueue(b broker.Broker) *Queue {
	return &Queue{broker: b}
}

// Enqueue appends an envelope to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope %s: %w", env, err)
	}
	if err := q.broker.RPush(ctx, keyQueue, data); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", env, err)
	}
	return nil
}

// Dequeue blocks for up to timeout waiting for the next envelope. The
// second return value is false when the wait expired with the queue
// empty. An entry that cannot be decoded is consumed and reported as
// ErrMalformedEnvelope.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Envelope, bool, error) {
	data, ok, err := q.broker.BLPop(ctx, timeout, keyQueue)
	if err != nil {
		return Envelope{}, false, fmt.Errorf("failed to dequeue: %w", err)
	}
	if !ok {
		return Envelope{}, false, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, true, nil
}
