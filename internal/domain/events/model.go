package events

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/types"
)

// WebhookEvent is the idempotency ledger entry for a provider notification.
// The provider event id is unique; delivery is at-least-once, so the ledger
// is what prevents a notification from being applied twice.
type WebhookEvent struct {
	// ID is the unique identifier for the ledger entry
	ID string `db:"id" json:"id"`

	// ProviderEventID is the provider's event id, unique across deliveries
	ProviderEventID string `db:"provider_event_id" json:"provider_event_id"`

	// EventType is the provider notification type
	EventType types.WebhookEventType `db:"event_type" json:"event_type"`

	// ProcessingStatus moves along pending -> completed or pending -> failed
	ProcessingStatus types.WebhookEventStatus `db:"processing_status" json:"processing_status"`

	// ErrorDetail records why processing failed, for operators
	ErrorDetail string `db:"error_detail" json:"error_detail,omitempty"`

	// FirstSeenAt is when the event id was first claimed
	FirstSeenAt time.Time `db:"first_seen_at" json:"first_seen_at"`

	// ProcessedAt is when processing reached a terminal status
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`

	types.BaseModel
}

// NewWebhookEvent builds a pending ledger entry for a provider event
func NewWebhookEvent(ctx context.Context, providerEventID string, eventType types.WebhookEventType) *WebhookEvent {
	return &WebhookEvent{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		ProviderEventID:  providerEventID,
		EventType:        eventType,
		ProcessingStatus: types.WebhookEventStatusPending,
		FirstSeenAt:      time.Now().UTC(),
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
}
