package models

import "time"

// EventType categorizes in-process notifications.
type EventType string

const (
	// Cache events
	EventTypeEntryUpdated     EventType = "cache.updated"
	EventTypeEntryStatus      EventType = "cache.status"
	EventTypeEntryInvalidated EventType = "cache.invalidated"
	EventTypeEntryRemoved     EventType = "cache.removed"

	// Realtime events
	EventTypeRealtimePush EventType = "realtime.push"

	// Mutation events
	EventTypeMutationFailed EventType = "mutation.failed"
)

// Event is a notification delivered through the in-process publisher.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Key is the cache entry the event concerns, if any.
	Key QueryKey `json:"key,omitempty"`

	// Topic is the realtime topic for push events.
	Topic string `json:"topic,omitempty"`

	// Push is set for realtime.push events.
	Push *Push `json:"push,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}
