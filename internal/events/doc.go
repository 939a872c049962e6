// Package events implements the per-ticket event relay: a closed union
// of event types carried as JSON-array frames, a Bus publishing them over
// the broker's pub/sub channels with a persisted backlog for gap-free
// replay to late subscribers, and an InputListener dispatching
// reverse-channel messages into running tasks.
package events
