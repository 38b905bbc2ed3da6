package types

import (
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/samber/lo"
)

// WebhookEventType is the closed set of provider notifications the engine
// understands. Anything outside this set is rejected at parse time rather
// than processed best-effort.
type WebhookEventType string

const (
	WebhookEventTypeInvoicePaid           WebhookEventType = "invoice.paid"
	WebhookEventTypeInvoicePaymentFailed  WebhookEventType = "invoice.payment_failed"
	WebhookEventTypeSubscriptionUpdated   WebhookEventType = "customer.subscription.updated"
	WebhookEventTypeSubscriptionDeleted   WebhookEventType = "customer.subscription.deleted"
	WebhookEventTypeScheduleCreated       WebhookEventType = "subscription_schedule.created"
	WebhookEventTypeScheduleReleased      WebhookEventType = "subscription_schedule.released"
)

var WebhookEventTypeValues = []WebhookEventType{
	WebhookEventTypeInvoicePaid,
	WebhookEventTypeInvoicePaymentFailed,
	WebhookEventTypeSubscriptionUpdated,
	WebhookEventTypeSubscriptionDeleted,
	WebhookEventTypeScheduleCreated,
	WebhookEventTypeScheduleReleased,
}

func (t WebhookEventType) String() string {
	return string(t)
}

func (t WebhookEventType) Validate() error {
	if !lo.Contains(WebhookEventTypeValues, t) {
		return ierr.NewError("unsupported webhook event type").
			WithHint("Webhook event type is not handled by this service").
			WithReportableDetails(map[string]any{
				"event_type":     t,
				"allowed_values": WebhookEventTypeValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// WebhookEventStatus is the processing status of a ledger entry.
// A given provider event id moves along pending -> completed or
// pending -> failed; completed entries are never reprocessed.
type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusCompleted WebhookEventStatus = "completed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

var WebhookEventStatusValues = []WebhookEventStatus{
	WebhookEventStatusPending,
	WebhookEventStatusCompleted,
	WebhookEventStatusFailed,
}

func (s WebhookEventStatus) String() string {
	return string(s)
}

func (s WebhookEventStatus) Validate() error {
	if !lo.Contains(WebhookEventStatusValues, s) {
		return ierr.NewError("invalid webhook event status").
			WithHint("Invalid webhook event status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_values": WebhookEventStatusValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
