// Package pubsub provides a generic publish/subscribe event system used to fan
// lifecycle and diagnostic events out to observers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// BoundEvent is published when a capability is bound to the coordinator.
	BoundEvent EventType = "bound"
	// UnboundEvent is published when a capability is unbound from the coordinator.
	UnboundEvent EventType = "unbound"
	// StateEvent is published when the readiness gate changes state.
	StateEvent EventType = "state"
	// PublishedEvent is published when a service lands in the service directory.
	PublishedEvent EventType = "published"
	// WithdrawnEvent is published when a service is removed from the service directory.
	WithdrawnEvent EventType = "withdrawn"
	// DiagnosticEvent carries a failure report for the host's diagnostic channel.
	DiagnosticEvent EventType = "diagnostic"
	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"
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
