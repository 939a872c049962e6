// Package broker abstracts the shared coordination store used by every
// process: hash maps, an atomic counter, append-only lists with blocking
// pop, and pub/sub channels. The broker is the sole cross-process
// coordination point; no task state is shared through in-process memory.
//
// A Broker is an explicit service object constructed once per process and
// passed to every component that needs it. Implementations: Redis (the
// production backend) and Memory (tests, single-node development).
package broker

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Broker implementations.
var (
	// ErrNotFound is returned when a hash field or key does not exist.
	ErrNotFound = errors.New("broker: not found")

	// ErrClosed is returned by operations on a closed broker or
	// subscription.
	ErrClosed = errors.New("broker: closed")
)

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live attachment to a pub/sub channel. Messages
// preserves publish order per channel. Close detaches and closes the
// Messages channel.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Broker exposes exactly the store primitives this system needs.
// All blocking operations honor the passed context.
type Broker interface {
	// Hash primitives.
	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HKeys(ctx context.Context, key string) ([]string, error)
	HExists(ctx context.Context, key, field string) (bool, error)

	// Incr atomically increments the counter stored at key and returns
	// the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// List primitives. BLPop blocks up to timeout for the head of the
	// list; ok is false when the timeout elapsed with no item.
	RPush(ctx context.Context, key string, values ...[]byte) error
	BLPop(ctx context.Context, timeout time.Duration, key string) (value []byte, ok bool, err error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// Key management. Keys matches the glob-style pattern.
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Pub/sub. Publish is fire-and-forget toward subscribers that exist
	// at publish time.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping verifies the backend is reachable. Processes treat a failed
	// ping at startup as fatal.
	Ping(ctx context.Context) error

	Close() error
}
