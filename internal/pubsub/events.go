// Package pubsub fans host-side notifications out to channel subscribers.
// It is the bridge between goroutines owned by the composition runtime and
// the single Bubble Tea update loop.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogEntryEvent carries a formatted log line.
	LogEntryEvent EventType = "log.entry"
	// ChangedEvent signals that composed output must be re-rendered.
	ChangedEvent EventType = "host.changed"
	// ForwardedEvent carries a broker event relayed into the UI loop.
	ForwardedEvent EventType = "broker.forwarded"
	// ReloadedEvent signals that watched files changed on disk.
	ReloadedEvent EventType = "files.reloaded"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
