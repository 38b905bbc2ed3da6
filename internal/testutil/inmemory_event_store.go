package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/subsync/internal/domain/events"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
)

// InMemoryEventStore implements the idempotency ledger for tests
type InMemoryEventStore struct {
	mu         sync.Mutex
	byID       map[string]*events.WebhookEvent
	byProvider map[string]string
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		byID:       make(map[string]*events.WebhookEvent),
		byProvider: make(map[string]string),
	}
}

func copyEvent(event *events.WebhookEvent) *events.WebhookEvent {
	out := *event
	if event.ProcessedAt != nil {
		t := *event.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}

func (s *InMemoryEventStore) Claim(ctx context.Context, event *events.WebhookEvent) (*events.WebhookEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byProvider[event.ProviderEventID]; ok {
		return copyEvent(s.byID[id]), false, nil
	}
	s.byID[event.ID] = copyEvent(event)
	s.byProvider[event.ProviderEventID] = event.ID
	return copyEvent(event), true, nil
}

func (s *InMemoryEventStore) MarkCompleted(ctx context.Context, id string) error {
	return s.setStatus(id, types.WebhookEventStatusCompleted, "")
}

func (s *InMemoryEventStore) MarkFailed(ctx context.Context, id string, errDetail string) error {
	return s.setStatus(id, types.WebhookEventStatusFailed, errDetail)
}

func (s *InMemoryEventStore) MarkPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[id]
	if !ok {
		return eventNotFoundErr()
	}
	// only a failed entry can be re-opened, and by only one delivery
	if event.ProcessingStatus != types.WebhookEventStatusFailed {
		return ierr.NewError("event is no longer failed").
			WithHint("A concurrent delivery already re-opened this event").
			WithReportableDetails(map[string]any{"event_id": id}).
			Mark(ierr.ErrBusy)
	}
	event.ProcessingStatus = types.WebhookEventStatusPending
	event.ErrorDetail = ""
	event.ProcessedAt = nil
	return nil
}

func (s *InMemoryEventStore) setStatus(id string, status types.WebhookEventStatus, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[id]
	if !ok {
		return eventNotFoundErr()
	}
	now := time.Now().UTC()
	event.ProcessingStatus = status
	event.ErrorDetail = errDetail
	event.ProcessedAt = &now
	return nil
}

func (s *InMemoryEventStore) Get(ctx context.Context, id string) (*events.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.byID[id]
	if !ok {
		return nil, eventNotFoundErr()
	}
	return copyEvent(event), nil
}

func (s *InMemoryEventStore) GetByProviderEventID(ctx context.Context, providerEventID string) (*events.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byProvider[providerEventID]
	if !ok {
		return nil, eventNotFoundErr()
	}
	return copyEvent(s.byID[id]), nil
}

func eventNotFoundErr() error {
	return ierr.NewError("webhook event not found").
		WithHint("Webhook event not found").
		Mark(ierr.ErrNotFound)
}
