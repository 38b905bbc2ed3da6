package service

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/events"
	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/types"
	"github.com/flexprice/subsync/internal/webhook"
)

const (
	// casRetryAttempts bounds the re-fetch/re-apply loop on version conflicts
	casRetryAttempts = 3

	// landingTolerance absorbs small skew between a scheduled boundary and
	// the period start the provider reports on the renewal invoice
	landingTolerance = time.Hour
)

// EventProcessor applies verified provider notifications to local state.
// Processing is idempotent per provider event id: the ledger is claimed
// before any state changes, and a completed entry is never reprocessed.
type EventProcessor interface {
	Handle(ctx context.Context, event *events.ProviderEvent) (*HandleResult, error)
}

// HandleResult reports the delivery disposition. Acked deliveries must not be
// redelivered; anything else comes back with an error so the provider retries.
type HandleResult struct {
	// Acked means the event's effects are durably recorded (or were already)
	Acked bool
	// Duplicate means a previous delivery already completed this event
	Duplicate bool
}

type eventProcessor struct {
	ServiceParams
}

// NewEventProcessor creates the notification processor
func NewEventProcessor(params ServiceParams) EventProcessor {
	return &eventProcessor{ServiceParams: params}
}

// Handle claims the idempotency ledger entry and, if this delivery won the
// claim, applies the event. Effects are committed before the ledger entry is
// completed, so a crash in between is resolved by the provider's redelivery
// hitting an already-applied, failed-or-pending entry.
func (s *eventProcessor) Handle(ctx context.Context, event *events.ProviderEvent) (*HandleResult, error) {
	entry, inserted, err := s.EventRepo.Claim(ctx, events.NewWebhookEvent(ctx, event.ProviderEventID, event.Type))
	if err != nil {
		return nil, err
	}

	if !inserted {
		switch entry.ProcessingStatus {
		case types.WebhookEventStatusCompleted:
			// duplicate delivery of an applied event, acknowledge without
			// touching anything
			s.Logger.Debugw("duplicate delivery of completed event",
				"provider_event_id", event.ProviderEventID)
			return &HandleResult{Acked: true, Duplicate: true}, nil
		case types.WebhookEventStatusPending:
			// another delivery is being processed right now
			return nil, ierr.NewError("event is already being processed").
				WithHint("A concurrent delivery of this event is in flight").
				WithReportableDetails(map[string]any{"provider_event_id": event.ProviderEventID}).
				Mark(ierr.ErrBusy)
		case types.WebhookEventStatusFailed:
			// redelivery of a failed event, re-open and retry
			if err := s.EventRepo.MarkPending(ctx, entry.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := s.apply(ctx, event); err != nil {
		if markErr := s.EventRepo.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			s.Logger.Errorw("failed to record event failure",
				"provider_event_id", event.ProviderEventID, "error", markErr)
		}
		return nil, err
	}

	if err := s.EventRepo.MarkCompleted(ctx, entry.ID); err != nil {
		return nil, err
	}
	return &HandleResult{Acked: true}, nil
}

func (s *eventProcessor) apply(ctx context.Context, event *events.ProviderEvent) error {
	switch payload := event.Payload.(type) {
	case events.InvoicePaidPayload:
		return s.handleInvoicePaid(ctx, payload)
	case events.InvoicePaymentFailedPayload:
		return s.handleInvoicePaymentFailed(ctx, payload)
	case events.SubscriptionUpdatedPayload:
		return s.handleSubscriptionUpdated(ctx, payload)
	case events.SubscriptionDeletedPayload:
		return s.handleSubscriptionDeleted(ctx, payload, event.OccurredAt)
	case events.ScheduleCreatedPayload:
		return s.handleScheduleCreated(ctx, payload)
	case events.ScheduleReleasedPayload:
		return s.handleScheduleReleased(ctx, payload)
	default:
		return ierr.NewError("unhandled event payload").
			WithHint("The event type is recognized but has no handler").
			WithReportableDetails(map[string]any{"event_type": event.Type}).
			Mark(ierr.ErrSystem)
	}
}

// sideEffect is a post-commit action, run only after the state change landed
type sideEffect func(ctx context.Context)

// withSubscription runs apply against the subscription correlated to the
// provider id, retrying on version conflicts with fresh state. Unknown
// correlation ids are acknowledged as no-ops; redelivery cannot resolve them.
func (s *eventProcessor) withSubscription(ctx context.Context, providerSubscriptionID string, apply func(sub *subscription.Subscription) (bool, []sideEffect, error)) error {
	var conflictErr error
	for attempt := 0; attempt < casRetryAttempts; attempt++ {
		sub, err := s.SubscriptionRepo.GetByProviderID(ctx, providerSubscriptionID)
		if err != nil {
			if ierr.IsNotFound(err) {
				s.Logger.Warnw("notification for unknown subscription, ignoring",
					"provider_subscription_id", providerSubscriptionID)
				return nil
			}
			return err
		}

		changed, effects, err := apply(sub)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
			if ierr.IsConflict(err) {
				conflictErr = err
				continue
			}
			return err
		}

		for _, effect := range effects {
			effect(ctx)
		}
		return nil
	}
	return conflictErr
}

// handleInvoicePaid processes a period renewal: the payload's boundaries are
// authoritative for the new period, and a scheduled change whose boundary is
// covered by the new period start lands now
func (s *eventProcessor) handleInvoicePaid(ctx context.Context, payload events.InvoicePaidPayload) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		changed := false
		var effects []sideEffect

		if !payload.PeriodStart.IsZero() && !sub.CurrentPeriodStart.Equal(payload.PeriodStart) {
			sub.CurrentPeriodStart = payload.PeriodStart
			sub.CurrentPeriodEnd = payload.PeriodEnd
			changed = true
		}

		// a paid invoice clears a delinquent or not-yet-started subscription
		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusPastDue, types.SubscriptionStatusIncomplete, types.SubscriptionStatusTrialing:
			sub.SubscriptionStatus = types.SubscriptionStatusActive
			changed = true
		}

		if sub.HasScheduledChange() && !payload.PeriodStart.IsZero() {
			boundary := payload.PeriodStart.Add(landingTolerance)
			if !sub.ScheduledChange.EffectiveAt.After(boundary) {
				landed := *sub.ScheduledChange
				sub.ApplyScheduledChange()
				changed = true
				effects = append(effects, s.changeLandedEffect(sub.ID, landed))
			}
		}

		return changed, effects, nil
	})
}

func (s *eventProcessor) handleInvoicePaymentFailed(ctx context.Context, payload events.InvoicePaymentFailedPayload) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		if sub.SubscriptionStatus.IsTerminal() || sub.SubscriptionStatus == types.SubscriptionStatusPastDue {
			return false, nil, nil
		}
		sub.SubscriptionStatus = types.SubscriptionStatusPastDue
		s.Logger.Warnw("subscription moved to past_due on failed payment",
			"subscription_id", sub.ID)
		return true, nil, nil
	})
}

// handleSubscriptionUpdated syncs the provider's view: status, cancellation
// flag, period boundaries and the active plan. The plan is derived from the
// item price, never assumed from our own mutation calls.
func (s *eventProcessor) handleSubscriptionUpdated(ctx context.Context, payload events.SubscriptionUpdatedPayload) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		changed := false
		var effects []sideEffect

		if payload.Status != "" && sub.SubscriptionStatus != payload.Status {
			sub.SubscriptionStatus = payload.Status
			changed = true
		}
		if !payload.PeriodStart.IsZero() && !sub.CurrentPeriodStart.Equal(payload.PeriodStart) {
			sub.CurrentPeriodStart = payload.PeriodStart
			sub.CurrentPeriodEnd = payload.PeriodEnd
			changed = true
		}
		if sub.CancelAtPeriodEnd != payload.CancelAtPeriodEnd {
			sub.CancelAtPeriodEnd = payload.CancelAtPeriodEnd
			changed = true
		}

		if payload.PriceID != "" {
			planID, period, err := s.Provider.ResolvePlanFromPrice(ctx, payload.PriceID)
			if err != nil {
				return false, nil, err
			}
			if sub.PlanID != planID || sub.BillingPeriod != period {
				sub.PlanID = planID
				sub.BillingPeriod = period
				changed = true
				// a pending change matching the confirmed plan has landed
				if sub.HasScheduledChange() && sub.ScheduledChange.TargetPlanID == planID {
					landed := *sub.ScheduledChange
					sub.ScheduledChange = nil
					sub.ProviderScheduleID = ""
					effects = append(effects, s.changeLandedEffect(sub.ID, landed))
				}
			}
		}

		// reconstruct a deferred downgrade recorded only at the provider
		if payload.CancelAtPeriodEnd && !sub.HasScheduledChange() {
			if target := payload.Metadata[provider.MetadataKeyDowngradeTarget]; target != "" {
				period := types.BillingPeriod(payload.Metadata[provider.MetadataKeyDowngradePeriod])
				if period.Validate() != nil {
					period = sub.BillingPeriod
				}
				sub.ScheduledChange = subscription.NewScheduledChange(
					target, period, sub.CurrentPeriodEnd, types.ScheduledChangeOriginCancelFlag)
				changed = true
			}
		}

		// the provider dropped the flag, so a flag-encoded change is gone
		if !payload.CancelAtPeriodEnd && sub.HasScheduledChange() &&
			sub.ScheduledChange.Origin == types.ScheduledChangeOriginCancelFlag {
			sub.ScheduledChange = nil
			changed = true
		}

		return changed, effects, nil
	})
}

// handleSubscriptionDeleted moves the subscription to its terminal state. The
// tenant falls back to the free baseline implicitly, by no longer having an
// active subscription.
func (s *eventProcessor) handleSubscriptionDeleted(ctx context.Context, payload events.SubscriptionDeletedPayload, occurredAt time.Time) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
			return false, nil, nil
		}

		pending := sub.ScheduledChange
		sub.SubscriptionStatus = types.SubscriptionStatusCancelled
		cancelledAt := occurredAt
		if cancelledAt.IsZero() {
			cancelledAt = time.Now().UTC()
		}
		sub.CancelledAt = &cancelledAt
		sub.ScheduledChange = nil
		sub.ProviderScheduleID = ""
		sub.CancelAtPeriodEnd = false

		effect := func(ctx context.Context) {
			body := map[string]any{
				"subscription_id": sub.ID,
				"tenant_id":       sub.TenantID,
				"cancelled_at":    cancelledAt,
			}
			// a deferred paid downgrade ends here; the intended target is
			// surfaced so a checkout flow can pick it up
			if pending != nil {
				body["change_reference"] = pending.Reference
				body["intended_plan_id"] = pending.TargetPlanID
				body["intended_billing_period"] = pending.TargetBillingPeriod
			}
			if err := s.Publisher.Publish(ctx, webhook.EventTypeSubscriptionEnded, body); err != nil {
				s.Logger.Errorw("failed to publish subscription ended event",
					"subscription_id", sub.ID, "error", err)
			}
		}
		return true, []sideEffect{effect}, nil
	})
}

// handleScheduleCreated records the provider-side schedule and, when its
// phases declare a future transition, mirrors it as a scheduled change. A
// last phase that is not in the future means the transition already landed
// and there is nothing to mirror.
func (s *eventProcessor) handleScheduleCreated(ctx context.Context, payload events.ScheduleCreatedPayload) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		changed := false
		if sub.ProviderScheduleID != payload.ScheduleID {
			sub.ProviderScheduleID = payload.ScheduleID
			changed = true
		}

		if len(payload.Phases) < 2 {
			return changed, nil, nil
		}
		last := payload.Phases[len(payload.Phases)-1]
		if last.PriceID == "" || !last.StartDate.After(sub.CurrentPeriodStart) {
			return changed, nil, nil
		}

		planID, period, err := s.Provider.ResolvePlanFromPrice(ctx, last.PriceID)
		if err != nil {
			return false, nil, err
		}
		if sub.HasScheduledChange() &&
			sub.ScheduledChange.TargetPlanID == planID &&
			sub.ScheduledChange.TargetBillingPeriod == period {
			return changed, nil, nil
		}

		sub.ScheduledChange = subscription.NewScheduledChange(
			planID, period, last.StartDate, types.ScheduledChangeOriginSchedule)
		return true, nil, nil
	})
}

// handleScheduleReleased clears the schedule binding and any change it was
// encoding
func (s *eventProcessor) handleScheduleReleased(ctx context.Context, payload events.ScheduleReleasedPayload) error {
	return s.withSubscription(ctx, payload.ProviderSubscriptionID, func(sub *subscription.Subscription) (bool, []sideEffect, error) {
		if sub.ProviderScheduleID != payload.ScheduleID {
			return false, nil, nil
		}
		sub.ProviderScheduleID = ""
		if sub.HasScheduledChange() && sub.ScheduledChange.Origin == types.ScheduledChangeOriginSchedule {
			sub.ScheduledChange = nil
		}
		return true, nil, nil
	})
}

func (s *eventProcessor) changeLandedEffect(subscriptionID string, landed subscription.ScheduledChange) sideEffect {
	return func(ctx context.Context) {
		err := s.Publisher.Publish(ctx, webhook.EventTypeChangeLanded, map[string]any{
			"subscription_id":  subscriptionID,
			"change_reference": landed.Reference,
			"plan_id":          landed.TargetPlanID,
			"billing_period":   landed.TargetBillingPeriod,
			"effective_at":     landed.EffectiveAt,
		})
		if err != nil {
			s.Logger.Errorw("failed to publish change landed event",
				"subscription_id", subscriptionID, "error", err)
		}
	}
}
