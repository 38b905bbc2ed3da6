package stripe

import (
	"encoding/json"
	"time"

	"github.com/flexprice/subsync/internal/domain/events"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/types"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookParser authenticates inbound notifications and converts them into
// the engine's typed event set
type WebhookParser struct {
	secret string
	logger *logger.Logger
}

// NewWebhookParser creates a parser bound to the endpoint's signing secret
func NewWebhookParser(secret string, log *logger.Logger) *WebhookParser {
	return &WebhookParser{secret: secret, logger: log}
}

// Parse verifies the payload signature and maps the notification to a typed
// ProviderEvent. Unknown event types are rejected explicitly rather than
// field-accessed best-effort.
func (p *WebhookParser) Parse(payload []byte, signature string) (*events.ProviderEvent, error) {
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, options)
	if err != nil {
		p.logger.Errorw("stripe webhook verification failed", "error", err)
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	eventType := types.WebhookEventType(event.Type)
	if err := eventType.Validate(); err != nil {
		return nil, err
	}

	parsed := &events.ProviderEvent{
		ProviderEventID: event.ID,
		Type:            eventType,
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}

	switch eventType {
	case types.WebhookEventTypeInvoicePaid:
		parsed.Payload, err = parseInvoicePaid(event.Data.Raw)
	case types.WebhookEventTypeInvoicePaymentFailed:
		parsed.Payload, err = parseInvoicePaymentFailed(event.Data.Raw)
	case types.WebhookEventTypeSubscriptionUpdated:
		parsed.Payload, err = parseSubscriptionUpdated(event.Data.Raw)
	case types.WebhookEventTypeSubscriptionDeleted:
		parsed.Payload, err = parseSubscriptionDeleted(event.Data.Raw)
	case types.WebhookEventTypeScheduleCreated:
		parsed.Payload, err = parseSchedule(event.Data.Raw, true)
	case types.WebhookEventTypeScheduleReleased:
		parsed.Payload, err = parseSchedule(event.Data.Raw, false)
	}
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

func parseInvoicePaid(raw json.RawMessage) (events.ProviderEventPayload, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, invalidPayloadErr("invoice", err)
	}

	subID := invoiceSubscriptionID(&invoice)
	if subID == "" {
		return nil, ierr.NewError("invoice without subscription reference").
			WithHint("Invoice notification is missing its subscription").
			Mark(ierr.ErrValidation)
	}

	payload := events.InvoicePaidPayload{ProviderSubscriptionID: subID}
	// the billed period boundaries are declared on the invoice lines
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period != nil {
		payload.PeriodStart = unixToTime(invoice.Lines.Data[0].Period.Start)
		payload.PeriodEnd = unixToTime(invoice.Lines.Data[0].Period.End)
	}
	return payload, nil
}

func parseInvoicePaymentFailed(raw json.RawMessage) (events.ProviderEventPayload, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, invalidPayloadErr("invoice", err)
	}

	subID := invoiceSubscriptionID(&invoice)
	if subID == "" {
		return nil, ierr.NewError("invoice without subscription reference").
			WithHint("Invoice notification is missing its subscription").
			Mark(ierr.ErrValidation)
	}
	return events.InvoicePaymentFailedPayload{ProviderSubscriptionID: subID}, nil
}

func parseSubscriptionUpdated(raw json.RawMessage) (events.ProviderEventPayload, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, invalidPayloadErr("subscription", err)
	}

	mapped, err := fromStripeSubscription(&sub)
	if err != nil {
		return nil, err
	}
	return events.SubscriptionUpdatedPayload{
		ProviderSubscriptionID: mapped.ID,
		Status:                 mapped.Status,
		CancelAtPeriodEnd:      mapped.CancelAtPeriodEnd,
		PeriodStart:            mapped.CurrentPeriodStart,
		PeriodEnd:              mapped.CurrentPeriodEnd,
		PriceID:                mapped.PriceID,
		Metadata:               mapped.Metadata,
	}, nil
}

func parseSubscriptionDeleted(raw json.RawMessage) (events.ProviderEventPayload, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, invalidPayloadErr("subscription", err)
	}
	return events.SubscriptionDeletedPayload{ProviderSubscriptionID: sub.ID}, nil
}

func parseSchedule(raw json.RawMessage, withPhases bool) (events.ProviderEventPayload, error) {
	var schedule stripe.SubscriptionSchedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return nil, invalidPayloadErr("subscription_schedule", err)
	}

	subID := ""
	if schedule.Subscription != nil {
		subID = schedule.Subscription.ID
	}

	if !withPhases {
		return events.ScheduleReleasedPayload{
			ScheduleID:             schedule.ID,
			ProviderSubscriptionID: subID,
		}, nil
	}

	payload := events.ScheduleCreatedPayload{
		ScheduleID:             schedule.ID,
		ProviderSubscriptionID: subID,
	}
	for _, phase := range schedule.Phases {
		info := events.SchedulePhaseInfo{
			StartDate: unixToTime(phase.StartDate),
			EndDate:   unixToTime(phase.EndDate),
		}
		if len(phase.Items) > 0 && phase.Items[0].Price != nil {
			info.PriceID = phase.Items[0].Price.ID
		}
		payload.Phases = append(payload.Phases, info)
	}
	return payload, nil
}

// invoiceSubscriptionID digs the subscription reference out of the invoice
func invoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func invalidPayloadErr(object string, err error) error {
	return ierr.WithError(err).
		WithHintf("Invalid %s data in webhook payload", object).
		Mark(ierr.ErrValidation)
}
