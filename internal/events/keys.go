package events

import (
	"fmt"
	"strconv"
	"strings"
)

// Broker key layout for a ticket's channels and backlog.
const (
	// LogKeyPattern matches every ticket's backlog list, for the
	// sweeper's stale-log pass.
	LogKeyPattern = "task:*:log"
)

// ChannelKey is the pub/sub channel carrying a ticket's live events.
func ChannelKey(ticket int64) string {
	return fmt.Sprintf("task:%d", ticket)
}

// InputKey is the reverse pub/sub channel for injecting messages into a
// running task.
func InputKey(ticket int64) string {
	return fmt.Sprintf("task:%d:input", ticket)
}

// LogKey is the list holding a ticket's persisted event backlog.
func LogKey(ticket int64) string {
	return fmt.Sprintf("task:%d:log", ticket)
}

// TicketFromLogKey extracts the ticket id from a backlog list key.
func TicketFromLogKey(key string) (int64, error) {
	rest, ok := strings.CutPrefix(key, "task:")
	if !ok {
		return 0, fmt.Errorf("not a task log key: %q", key)
	}
	id, ok := strings.CutSuffix(rest, ":log")
	if !ok {
		return 0, fmt.Errorf("not a task log key: %q", key)
	}
	ticket, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a task log key: %q", key)
	}
	return ticket, nil
}
