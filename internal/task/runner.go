package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnebula/converter-api/internal/events"
	"github.com/fsnebula/converter-api/internal/metrics"
)

// Handler executes one kind of task.
type Handler interface {
	// Type returns the envelope type tag this handler serves.
	Type() string

	// Run performs the work. A non-nil error (or a panic) fails the
	// ticket; returning nil marks it DONE. Run must emit its own done
	// event on success.
	Run(ctx context.Context, run *Run) error
}

// RunnerConfig carries the tunables of the dequeue loop.
type RunnerConfig struct {
	// DequeueTimeout bounds each blocking queue read so the stop flag
	// is observed promptly.
	DequeueTimeout time.Duration
}

// Runner is the worker's main loop: it pulls envelopes off the queue
// and executes them one at a time through registered handlers.
type Runner struct {
	store    *Store
	queue    *Queue
	bus      *events.Bus
	logger   *slog.Logger
	cfg      RunnerConfig
	handlers map[string]Handler
	stopping atomic.Bool
}

func NewRunner(store *Store, queue *Queue, bus *events.Bus, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	return &Runner{
		store:    store,
		queue:    queue,
		bus:      bus,
		logger:   logger.With("component", "runner"),
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Register installs a handler for its type tag. Later registrations
// win.
func (r *Runner) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Stop asks the loop to exit after the envelope currently in flight,
// if any, has finished. Safe to call from a signal handler goroutine.
func (r *Runner) Stop() {
	r.stopping.Store(true)
}

// Run executes the dequeue loop until Stop is called or ctx is
// cancelled. Cancelling ctx interrupts the blocking read but never an
// execution in flight; those always run to completion.
func (r *Runner) Run(ctx context.Context) error {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	r.logger.Info("worker loop starting", "types", types, "dequeue_timeout", r.cfg.DequeueTimeout)

	for {
		if r.stopping.Load() || ctx.Err() != nil {
			break
		}

		env, ok, err := r.queue.Dequeue(ctx, r.cfg.DequeueTimeout)
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				// At-most-once: a broken entry is consumed, never retried.
				r.logger.Error("dropping malformed queue entry", "error", err)
				metrics.TasksDroppedTotal.WithLabelValues("malformed").Inc()
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return fmt.Errorf("queue read failed: %w", err)
		}
		if !ok {
			continue
		}

		h, known := r.handlers[env.Type]
		if !known {
			r.logger.Error("no handler for task type, dropping", "ticket", env.Ticket, "type", env.Type)
			metrics.TasksDroppedTotal.WithLabelValues("unknown_type").Inc()
			continue
		}

		r.execute(env, h)
	}

	r.logger.Info("worker loop quitting")
	return nil
}

// execute runs one envelope to completion. It deliberately uses a
// detached context: shutdown stops the loop, not work already claimed.
func (r *Runner) execute(env Envelope, h Handler) {
	ctx := context.Background()
	start := r.store.Now()

	if err := r.store.MarkWorking(ctx, env.Ticket); err != nil {
		// The ticket was cleaned up or already claimed; nothing to do.
		r.logger.Error("cannot claim ticket", "ticket", env.Ticket, "error", err)
		metrics.TasksDroppedTotal.WithLabelValues("unclaimable").Inc()
		return
	}

	listener, err := r.bus.ListenInput(ctx, env.Ticket)
	if err != nil {
		r.logger.Error("cannot open input channel", "ticket", env.Ticket, "error", err)
		r.finish(ctx, env, fmt.Errorf("input channel unavailable: %w", err), start)
		return
	}

	run := &Run{
		Ticket: env.Ticket,
		Args:   env.Args,
		Logger: slog.New(newBusHandler(r.bus, env.Ticket, r.logger.With("ticket", env.Ticket).Handler())),
		store:  r.store,
		bus:    r.bus,
	}
	run.rendezvous = NewRendezvous(env.Ticket, r.bus, listener)

	var runErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				runErr = fmt.Errorf("task panicked: %v", p)
			}
		}()
		runErr = h.Run(ctx, run)
	}()

	if err := listener.Close(); err != nil {
		r.logger.Warn("input channel did not close cleanly", "ticket", env.Ticket, "error", err)
	}
	r.finish(ctx, env, runErr, start)
}

// finish is the single teardown path: it records the terminal state and,
// on failure, emits the closing done event the handler never reached.
func (r *Runner) finish(ctx context.Context, env Envelope, runErr error, start time.Time) {
	state := StateDone
	if runErr != nil {
		state = StateFailed
		r.logger.Error("task failed", "ticket", env.Ticket, "type", env.Type, "error", runErr)
		if err := r.bus.Emit(ctx, env.Ticket, events.Done{Success: false}); err != nil {
			r.logger.Error("cannot emit done event", "ticket", env.Ticket, "error", err)
		}
	}

	var err error
	if state == StateDone {
		err = r.store.MarkDone(ctx, env.Ticket)
	} else {
		err = r.store.MarkFailed(ctx, env.Ticket)
	}
	if err != nil {
		r.logger.Error("cannot record terminal state", "ticket", env.Ticket, "state", state, "error", err)
	}

	elapsed := r.store.Now().Sub(start)
	metrics.TasksProcessedTotal.WithLabelValues(env.Type, string(state)).Inc()
	metrics.TaskDurationSeconds.WithLabelValues(env.Type).Observe(elapsed.Seconds())
	r.logger.Info("task finished", "ticket", env.Ticket, "type", env.Type, "state", state, "elapsed", elapsed)
}
