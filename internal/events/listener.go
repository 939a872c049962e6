package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnebula/converter-api/internal/broker"
)

// ErrAwaitTimeout is returned by Await when no matching message arrives
// before the timeout elapses.
var ErrAwaitTimeout = errors.New("events: timed out waiting for input")

// ErrListenerClosed is returned by Await when the listener shuts down
// while waiting.
var ErrListenerClosed = errors.New("events: input listener closed")

// InputHandler receives the raw argument list of one input frame.
// Handlers run synchronously on the listener's receive goroutine, never
// on the task's own goroutine; they must not block for long and must not
// assume the task's execution context.
type InputHandler func(args []json.RawMessage)

// InputListener dispatches reverse-channel messages to named callbacks.
// It is the single auxiliary concurrency inside one task's lifetime.
type InputListener struct {
	sub    broker.Subscription
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]InputHandler

	done chan struct{}
}

func newInputListener(sub broker.Subscription, logger *slog.Logger) *InputListener {
	l := &InputListener{
		sub:       sub,
		logger:    logger,
		listeners: make(map[string]map[int]InputHandler),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *InputListener) run() {
	defer close(l.done)

	for msg := range l.sub.Messages() {
		name, args, err := SplitFrame(msg.Payload)
		if err != nil {
			l.logger.Warn("ignoring malformed input frame", "error", err)
			continue
		}

		l.mu.Lock()
		handlers := make([]InputHandler, 0, len(l.listeners[name]))
		for _, h := range l.listeners[name] {
			handlers = append(handlers, h)
		}
		l.mu.Unlock()

		for _, h := range handlers {
			h(args)
		}
	}
}

// On registers handler for every message named name and returns a
// registration id for Off.
func (l *InputListener) On(name string, handler InputHandler) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	if l.listeners[name] == nil {
		l.listeners[name] = make(map[int]InputHandler)
	}
	l.listeners[name][id] = handler
	return id
}

// Off removes a registration. Removing an id twice is a no-op.
func (l *InputListener) Off(name string, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.listeners[name], id)
	if len(l.listeners[name]) == 0 {
		delete(l.listeners, name)
	}
}

// Once registers a handler that fires exactly once and deregisters
// itself before running, even if duplicate messages race in.
func (l *InputListener) Once(name string, handler InputHandler) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	var once sync.Once
	if l.listeners[name] == nil {
		l.listeners[name] = make(map[int]InputHandler)
	}
	l.listeners[name][id] = func(args []json.RawMessage) {
		once.Do(func() {
			l.Off(name, id)
			handler(args)
		})
	}
	return id
}

// Await blocks until a message named name arrives, the timeout elapses,
// the context is cancelled, or the listener closes. Exactly one message
// is consumed on success.
func (l *InputListener) Await(ctx context.Context, name string, timeout time.Duration) ([]json.RawMessage, error) {
	got := make(chan []json.RawMessage, 1)
	id := l.Once(name, func(args []json.RawMessage) {
		got <- args
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case args := <-got:
		return args, nil
	case <-timer.C:
		l.Off(name, id)
		return nil, ErrAwaitTimeout
	case <-ctx.Done():
		l.Off(name, id)
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Close detaches from the reverse channel and waits for the dispatch
// goroutine to drain.
func (l *InputListener) Close() error {
	err := l.sub.Close()
	<-l.done
	return err
}
