package testutil

import (
	"context"
	"sync"
)

// PublishedEvent is one captured outbound notification
type PublishedEvent struct {
	EventType string
	Payload   interface{}
}

// FakePublisher captures outbound webhook events for assertions
type FakePublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (p *FakePublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, PublishedEvent{EventType: eventType, Payload: payload})
	return nil
}

// EventsOfType returns the captured events with the given type
func (p *FakePublisher) EventsOfType(eventType string) []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []PublishedEvent
	for _, event := range p.Events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}
