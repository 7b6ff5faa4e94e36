package manager

import "time"

// Event represents a manager lifecycle event: a name plus optional fields.
// Time is stamped by the publisher when left zero.
type Event struct {
	Name   string
	Time   time.Time
	Fields map[string]any
}

// EventPublisher receives events from the manager and its loaders.
// Implementations should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
