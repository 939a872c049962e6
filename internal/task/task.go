package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Registered task type tags.
const (
	// TypeConverter runs a checksum conversion job.
	TypeConverter = "Converter"

	// TypeCleanup sweeps expired and orphaned task state.
	TypeCleanup = "Cleanup"
)

// State is a ticket's lifecycle state. Transitions are strictly
// WAITING→WORKING→{DONE|FAILED}; terminal states never regress.
type State string

const (
	StateWaiting State = "WAITING"
	StateWorking State = "WORKING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// canTransition encodes the one legal path through the lifecycle.
func (s State) canTransition(to State) bool {
	switch s {
	case StateWaiting:
		return to == StateWorking
	case StateWorking:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

// Common errors returned by the task store.
var (
	// ErrTicketNotFound is returned for an unknown ticket id.
	ErrTicketNotFound = errors.New("task: ticket not found")

	// ErrInvalidTransition is returned when a status update would violate
	// the lifecycle.
	ErrInvalidTransition = errors.New("task: invalid status transition")

	// ErrNoResult is returned when a ticket has no stored result.
	ErrNoResult = errors.New("task: no result stored")

	// ErrCorruptStatus is returned for a status record that cannot be
	// interpreted.
	ErrCorruptStatus = errors.New("task: corrupt status record")

	// ErrMalformedEnvelope is returned by the queue for an entry that is
	// not valid JSON. Such entries are dropped, never retried.
	ErrMalformedEnvelope = errors.New("task: malformed queue envelope")
)

// Status is the persisted per-ticket lifecycle record. Timestamps are
// unix seconds; Runtime is seconds of work, recorded on the transition
// into a terminal state.
type Status struct {
	State     State   `json:"state"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
	Runtime   float64 `json:"runtime,omitempty"`
}

// Result is a ticket's outcome: written once by the task, retrieved at
// most once by the holder of the matching token.
type Result struct {
	Payload json.RawMessage `json:"payload"`
	Success bool            `json:"success"`
	Token   string          `json:"token"`
}

// Envelope is the queue entry connecting a ticket to its handler.
type Envelope struct {
	Ticket int64           `json:"ticket"`
	Type   string          `json:"type"`
	Args   json.RawMessage `json:"args"`
}

func (e Envelope) String() string {
	return fmt.Sprintf("#%d (%s)", e.Ticket, e.Type)
}

// Broker key layout for task state.
const (
	keyTicketCounter = "task:id"
	keyStatus        = "task:status"
	keyResult        = "task:result"
	keyQueue         = "task:queue"
)
