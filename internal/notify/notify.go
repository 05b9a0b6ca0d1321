// Package notify provides the real-time notification channel for Amparo.
//
// A channel is keyed by a recipient identity (dependent id or caregiver id);
// publishing an event on a channel fans it out to all of that identity's
// active connections. Connection management itself lives outside this
// process; the production implementation hands events to Redis pub/sub,
// which the gateway holding the client sockets subscribes to.
package notify

import (
	"context"

	"github.com/amparo-care/amparo/internal/models"
)

// Notifier is the publish capability injected into the lifecycle manager and
// the scheduler engine.
type Notifier interface {
	// Publish delivers an event with a payload to every subscriber of the
	// recipient's channel. A missing subscriber is not an error.
	Publish(ctx context.Context, channel string, event models.EventType, payload interface{}) error
}

// Envelope is the wire form of a published event.
type Envelope struct {
	Event   models.EventType `json:"event"`
	Payload interface{}      `json:"payload,omitempty"`
}
