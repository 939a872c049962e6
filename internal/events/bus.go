package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnebula/converter-api/internal/broker"
)

// Sink consumes bus events for one ticket: a gateway connection or an
// in-process listener. HandleEvent is called from a dedicated delivery
// goroutine, one per subscription, in publish order.
type Sink interface {
	HandleEvent(ticket int64, ev Event)
}

// Bus is the per-ticket event relay: a live pub/sub channel, a persisted
// backlog for replay, and a reverse input channel. It is constructed once
// per process and shared; the watcher registry inside it is the only
// process-local mutable state.
type Bus struct {
	broker broker.Broker
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[int64]map[Sink]*delivery
}

// NewBus creates a Bus on top of the given broker.
func NewBus(b broker.Broker, logger *slog.Logger) *Bus {
	return &Bus{
		broker:   b,
		logger:   logger.With("component", "event_bus"),
		watchers: make(map[int64]map[Sink]*delivery),
	}
}

// Emit publishes ev on the ticket's live channel. Persistent events are
// appended to the ticket's backlog first, so a subscriber replaying the
// backlog can never miss an event the live channel already carried; the
// one tolerated duplicate sits at the backlog/live boundary.
func (b *Bus) Emit(ctx context.Context, ticket int64, ev Event) error {
	frame, err := Encode(ev)
	if err != nil {
		return err
	}

	if Persistent(ev) {
		if err := b.broker.RPush(ctx, LogKey(ticket), frame); err != nil {
			return err
		}
	}

	return b.broker.Publish(ctx, ChannelKey(ticket), frame)
}

// Backlog returns the ticket's persisted events in append order.
func (b *Bus) Backlog(ctx context.Context, ticket int64) ([]Event, error) {
	frames, err := b.broker.LRange(ctx, LogKey(ticket), 0, -1)
	if err != nil {
		return nil, err
	}

	evs := make([]Event, 0, len(frames))
	for _, frame := range frames {
		ev, err := Decode(frame)
		if err != nil {
			b.logger.Warn("skipping undecodable backlog entry",
				"ticket", ticket,
				"error", err)
			continue
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// Subscribe attaches sink to the ticket's event stream. The live channel
// is joined before the backlog is read, so no event published in that
// window is lost; the sink then receives the backlog in append order
// followed by live events, all on a single delivery goroutine.
func (b *Bus) Subscribe(ctx context.Context, ticket int64, sink Sink) error {
	sub, err := b.broker.Subscribe(ctx, ChannelKey(ticket))
	if err != nil {
		return err
	}

	d := &delivery{bus: b, ticket: ticket, sink: sink, sub: sub}

	b.mu.Lock()
	sinks, ok := b.watchers[ticket]
	if !ok {
		sinks = make(map[Sink]*delivery)
		b.watchers[ticket] = sinks
	}
	if prev, dup := sinks[sink]; dup {
		// Replace a stale registration rather than leaking its
		// subscription.
		_ = prev.sub.Close()
	}
	sinks[sink] = d
	b.mu.Unlock()

	backlog, err := b.Backlog(ctx, ticket)
	if err != nil {
		b.Unsubscribe(ticket, sink)
		return err
	}

	go d.run(backlog)
	return nil
}

// Unsubscribe detaches sink from the ticket. It does not stop the
// producer; remaining sinks are unaffected.
func (b *Bus) Unsubscribe(ticket int64, sink Sink) {
	b.mu.Lock()
	d, ok := b.watchers[ticket][sink]
	if ok {
		delete(b.watchers[ticket], sink)
		if len(b.watchers[ticket]) == 0 {
			delete(b.watchers, ticket)
		}
	}
	b.mu.Unlock()

	if ok {
		_ = d.sub.Close()
	}
}

// Watchers reports how many sinks are attached to the ticket.
func (b *Bus) Watchers(ticket int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers[ticket])
}

// SendInput publishes a raw, already-validated frame on the ticket's
// reverse channel.
func (b *Bus) SendInput(ctx context.Context, ticket int64, frame []byte) error {
	return b.broker.Publish(ctx, InputKey(ticket), frame)
}

// ListenInput opens the ticket's reverse channel and returns a listener
// dispatching to named callbacks.
func (b *Bus) ListenInput(ctx context.Context, ticket int64) (*InputListener, error) {
	sub, err := b.broker.Subscribe(ctx, InputKey(ticket))
	if err != nil {
		return nil, err
	}
	return newInputListener(sub, b.logger.With("ticket", ticket)), nil
}

// delivery pumps one sink: backlog first, then live messages.
type delivery struct {
	bus    *Bus
	ticket int64
	sink   Sink
	sub    broker.Subscription
}

func (d *delivery) run(backlog []Event) {
	for _, ev := range backlog {
		d.sink.HandleEvent(d.ticket, ev)
	}

	for msg := range d.sub.Messages() {
		ev, err := Decode(msg.Payload)
		if err != nil {
			d.bus.logger.Warn("dropping undecodable live event",
				"ticket", d.ticket,
				"error", err)
			continue
		}
		d.sink.HandleEvent(d.ticket, ev)
	}
}
