// Package notify provides the real-time notification channel for Amparo.
//
// This file implements an in-memory notifier used by unit tests and
// single-process development runs.
package notify

import (
	"context"
	"sync"

	"github.com/amparo-care/amparo/internal/models"
)

// PublishedEvent records one Publish call on the in-memory notifier.
type PublishedEvent struct {
	Channel string
	Event   models.EventType
	Payload interface{}
}

// MemoryNotifier records published events for inspection. FailErr, when set,
// makes every Publish fail with that error, for exercising delivery-failure
// paths.
type MemoryNotifier struct {
	mu      sync.Mutex
	events  []PublishedEvent
	FailErr error
}

// NewMemoryNotifier creates an empty in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Publish records the event, or fails if FailErr is set.
func (n *MemoryNotifier) Publish(ctx context.Context, channel string, event models.EventType, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailErr != nil {
		return n.FailErr
	}
	n.events = append(n.events, PublishedEvent{Channel: channel, Event: event, Payload: payload})
	return nil
}

// Events returns a copy of all recorded events in publish order.
func (n *MemoryNotifier) Events() []PublishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PublishedEvent(nil), n.events...)
}

// EventsFor returns the recorded events published on one channel.
func (n *MemoryNotifier) EventsFor(channel string) []PublishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []PublishedEvent
	for _, e := range n.events {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}

// CountByEvent returns how many recorded events carry the given event type.
func (n *MemoryNotifier) CountByEvent(event models.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.Event == event {
			count++
		}
	}
	return count
}
