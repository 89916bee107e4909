// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// CreatedEvent is published when an artifact is saved for the first time.
	CreatedEvent EventType = "created"
	// UpdatedEvent is published when an existing artifact is overwritten.
	UpdatedEvent EventType = "updated"
	// DeletedEvent is published when an artifact is removed.
	DeletedEvent EventType = "deleted"
	// InvalidatedEvent is published when the root directory changed outside
	// the registry and cached state was dropped.
	InvalidatedEvent EventType = "invalidated"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
