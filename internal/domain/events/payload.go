package events

import (
	"time"

	"github.com/flexprice/subsync/internal/types"
)

// ProviderEvent is a verified, parsed provider notification. The payload is
// one of a closed set of variants; unknown notification types never make it
// past parsing.
type ProviderEvent struct {
	// ProviderEventID is the provider's unique event id, used as the
	// idempotency key
	ProviderEventID string

	// Type is the notification type
	Type types.WebhookEventType

	// OccurredAt is the provider's emission timestamp. Handlers key off
	// payload-declared times, never off arrival order.
	OccurredAt time.Time

	// Payload is the typed variant for Type
	Payload ProviderEventPayload
}

// ProviderEventPayload is the closed set of notification payloads
type ProviderEventPayload interface {
	isProviderEventPayload()
}

// InvoicePaidPayload signals a period renewal: the provider has billed a new
// period and reports its authoritative boundaries
type InvoicePaidPayload struct {
	ProviderSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

// InvoicePaymentFailedPayload signals a failed renewal charge
type InvoicePaymentFailedPayload struct {
	ProviderSubscriptionID string
}

// SubscriptionUpdatedPayload carries the provider's current view after any
// subscription mutation
type SubscriptionUpdatedPayload struct {
	ProviderSubscriptionID string
	Status                 types.SubscriptionStatus
	CancelAtPeriodEnd      bool
	PeriodStart            time.Time
	PeriodEnd              time.Time
	// PriceID is the price on the subscription's item, used to derive the
	// plan the provider believes is active
	PriceID  string
	Metadata map[string]string
}

// SubscriptionDeletedPayload signals the subscription ended at the provider
type SubscriptionDeletedPayload struct {
	ProviderSubscriptionID string
}

// SchedulePhaseInfo is one declared phase of a provider schedule
type SchedulePhaseInfo struct {
	PriceID   string
	StartDate time.Time
	// EndDate is zero for an open-ended phase
	EndDate time.Time
}

// ScheduleCreatedPayload signals a phase schedule was bound to a subscription
type ScheduleCreatedPayload struct {
	ScheduleID             string
	ProviderSubscriptionID string
	Phases                 []SchedulePhaseInfo
}

// ScheduleReleasedPayload signals the schedule was detached from the
// subscription
type ScheduleReleasedPayload struct {
	ScheduleID             string
	ProviderSubscriptionID string
}

func (InvoicePaidPayload) isProviderEventPayload()          {}
func (InvoicePaymentFailedPayload) isProviderEventPayload() {}
func (SubscriptionUpdatedPayload) isProviderEventPayload()  {}
func (SubscriptionDeletedPayload) isProviderEventPayload()  {}
func (ScheduleCreatedPayload) isProviderEventPayload()      {}
func (ScheduleReleasedPayload) isProviderEventPayload()     {}
