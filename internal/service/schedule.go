package service

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/types"
)

// SubscriptionService orchestrates user-initiated subscription mutations.
// Every mutation takes the per-subscription lock for its full duration, so at
// most one change is in flight per subscription at a time.
type SubscriptionService interface {
	GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, subscriptionID, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangeResult, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*subscription.Subscription, error)
}

// ChangeResult reports what a plan change did. Immediate changes have already
// been sent to the provider; deferred changes are recorded as a scheduled
// change that lands at EffectiveAt.
type ChangeResult struct {
	SubscriptionID  string                        `json:"subscription_id"`
	ChangeType      types.SubscriptionChangeType  `json:"change_type"`
	Immediate       bool                          `json:"immediate"`
	EffectiveAt     time.Time                     `json:"effective_at"`
	ScheduledChange *subscription.ScheduledChange `json:"scheduled_change,omitempty"`
}

type subscriptionService struct {
	ServiceParams
	transitions TransitionService
}

// NewSubscriptionService creates the mutation orchestrator
func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		transitions:   NewTransitionService(params),
	}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.SubscriptionRepo.Get(ctx, id)
}

// ChangePlan validates, classifies and executes a plan change. At most one
// deferred change can exist at a time; when a new change is requested while
// one is pending, the pending one is retracted first and the new one is
// created only after the retraction fully succeeded.
func (s *subscriptionService) ChangePlan(ctx context.Context, subscriptionID, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangeResult, error) {
	release, err := s.Locks.Acquire(ctx, subscriptionID, s.Config.Locks.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActiveState() {
		return nil, ierr.NewError("subscription is in a terminal state").
			WithHint("Cancelled subscriptions cannot change plans").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	changeType, err := s.transitions.Classify(ctx, sub.PlanID, targetPlanID, sub.BillingPeriod, targetPeriod)
	if err != nil {
		return nil, err
	}

	currentPlan, err := s.Catalog.Lookup(sub.PlanID)
	if err != nil {
		return nil, err
	}
	targetPlan, err := s.Catalog.Lookup(targetPlanID)
	if err != nil {
		return nil, err
	}

	// moving off the free baseline needs a provider-side subscription, which
	// only a checkout flow can create
	if currentPlan.IsFree() || sub.ProviderSubscriptionID == "" {
		return nil, ierr.NewError("no billing subscription to change").
			WithHint("Upgrading from the free plan requires going through checkout").
			WithReportableDetails(map[string]any{"subscription_id": subscriptionID}).
			Mark(ierr.ErrInvalidOperation)
	}

	// an existing deferred change must be fully retracted before the new one
	// is created; if retraction fails nothing new is scheduled
	if sub.HasScheduledChange() {
		if err := s.retractScheduledChange(ctx, sub); err != nil {
			return nil, err
		}
	}

	switch {
	case changeType == types.SubscriptionChangeTypeUpgrade && sub.BillingPeriod == targetPeriod && !targetPlan.IsFree():
		return s.applyImmediateUpgrade(ctx, sub, targetPlanID, targetPeriod)
	case targetPlan.IsFree():
		return s.scheduleCancelFlagChange(ctx, sub, targetPlanID, targetPeriod)
	case changeType == types.SubscriptionChangeTypeDowngrade && sub.BillingPeriod == targetPeriod:
		return s.scheduleCancelFlagChange(ctx, sub, targetPlanID, targetPeriod)
	default:
		// interval changes and cross-interval plan changes land at the period
		// boundary through a provider phase schedule
		return s.schedulePhaseChange(ctx, sub, targetPlanID, targetPeriod)
	}
}

// applyImmediateUpgrade mutates the provider subscription in place with
// proration. The local plan is not touched here; it follows once the provider
// confirms the mutation through its notification stream.
func (s *subscriptionService) applyImmediateUpgrade(ctx context.Context, sub *subscription.Subscription, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangeResult, error) {
	priceID, err := s.Provider.ResolvePriceID(ctx, targetPlanID, targetPeriod)
	if err != nil {
		return nil, err
	}

	err = s.Provider.UpdateSubscriptionPlan(ctx, sub.ProviderSubscriptionID, provider.UpdatePlanParams{
		PriceID: priceID,
		Prorate: true,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("applied immediate plan upgrade",
		"subscription_id", sub.ID,
		"target_plan_id", targetPlanID,
		"billing_period", targetPeriod)

	return &ChangeResult{
		SubscriptionID: sub.ID,
		ChangeType:     types.SubscriptionChangeTypeUpgrade,
		Immediate:      true,
		EffectiveAt:    time.Now().UTC(),
	}, nil
}

// schedulePhaseChange encodes a deferred transition as a two-phase provider
// schedule with absolute boundaries: the current price until the current
// period end, the target price open-ended from there
func (s *subscriptionService) schedulePhaseChange(ctx context.Context, sub *subscription.Subscription, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangeResult, error) {
	currentPriceID, err := s.Provider.ResolvePriceID(ctx, sub.PlanID, sub.BillingPeriod)
	if err != nil {
		return nil, err
	}
	targetPriceID, err := s.Provider.ResolvePriceID(ctx, targetPlanID, targetPeriod)
	if err != nil {
		return nil, err
	}

	scheduleID, err := s.Provider.CreateSchedule(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	phases := []provider.Phase{
		{PriceID: currentPriceID, StartDate: sub.CurrentPeriodStart, EndDate: sub.CurrentPeriodEnd},
		{PriceID: targetPriceID, StartDate: sub.CurrentPeriodEnd},
	}
	if err := s.Provider.UpdateSchedulePhases(ctx, scheduleID, phases); err != nil {
		// the empty schedule would pin the subscription, release it
		if releaseErr := s.Provider.ReleaseSchedule(ctx, scheduleID); releaseErr != nil {
			s.Logger.Errorw("failed to release schedule after phase update failure",
				"schedule_id", scheduleID, "error", releaseErr)
		}
		return nil, err
	}

	changeType, _ := s.transitions.Classify(ctx, sub.PlanID, targetPlanID, sub.BillingPeriod, targetPeriod)

	sub.ProviderScheduleID = scheduleID
	sub.ScheduledChange = subscription.NewScheduledChange(
		targetPlanID, targetPeriod, sub.CurrentPeriodEnd, types.ScheduledChangeOriginSchedule)
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled deferred plan change",
		"subscription_id", sub.ID,
		"target_plan_id", targetPlanID,
		"effective_at", sub.CurrentPeriodEnd,
		"schedule_id", scheduleID)

	return &ChangeResult{
		SubscriptionID:  sub.ID,
		ChangeType:      changeType,
		EffectiveAt:     sub.CurrentPeriodEnd,
		ScheduledChange: sub.ScheduledChange,
	}, nil
}

// scheduleCancelFlagChange encodes a deferred downgrade as the provider's
// cancel-at-period-end flag. The intended target is recorded in provider
// metadata so the notification stream can reconstruct it.
func (s *subscriptionService) scheduleCancelFlagChange(ctx context.Context, sub *subscription.Subscription, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangeResult, error) {
	metadata := map[string]string{
		provider.MetadataKeyDowngradeTarget: targetPlanID,
		provider.MetadataKeyDowngradePeriod: string(targetPeriod),
	}
	if err := s.Provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID, true, metadata); err != nil {
		return nil, err
	}

	changeType, _ := s.transitions.Classify(ctx, sub.PlanID, targetPlanID, sub.BillingPeriod, targetPeriod)

	sub.CancelAtPeriodEnd = true
	sub.ScheduledChange = subscription.NewScheduledChange(
		targetPlanID, targetPeriod, sub.CurrentPeriodEnd, types.ScheduledChangeOriginCancelFlag)
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled deferred downgrade via cancellation flag",
		"subscription_id", sub.ID,
		"target_plan_id", targetPlanID,
		"effective_at", sub.CurrentPeriodEnd)

	return &ChangeResult{
		SubscriptionID:  sub.ID,
		ChangeType:      changeType,
		EffectiveAt:     sub.CurrentPeriodEnd,
		ScheduledChange: sub.ScheduledChange,
	}, nil
}

// retractScheduledChange undoes the provider-side artifact encoding the
// pending change, then persists the cleared local state. It fails closed: any
// error leaves the pending change in place and aborts the caller.
func (s *subscriptionService) retractScheduledChange(ctx context.Context, sub *subscription.Subscription) error {
	change := sub.ScheduledChange

	switch change.Origin {
	case types.ScheduledChangeOriginSchedule:
		if sub.ProviderScheduleID != "" {
			if err := s.Provider.ReleaseSchedule(ctx, sub.ProviderScheduleID); err != nil {
				return err
			}
		}
		sub.ProviderScheduleID = ""
	case types.ScheduledChangeOriginCancelFlag:
		// empty values clear the engine metadata keys at the provider
		metadata := map[string]string{
			provider.MetadataKeyDowngradeTarget: "",
			provider.MetadataKeyDowngradePeriod: "",
		}
		if err := s.Provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID, false, metadata); err != nil {
			return err
		}
		sub.CancelAtPeriodEnd = false
	}

	sub.ScheduledChange = nil
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("retracted pending scheduled change",
		"subscription_id", sub.ID,
		"target_plan_id", change.TargetPlanID)
	return nil
}

// CancelSubscription ends the subscription, either at the period boundary or
// right away. A deferred cancellation is recorded as a scheduled change to
// the free baseline plan.
func (s *subscriptionService) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*subscription.Subscription, error) {
	release, err := s.Locks.Acquire(ctx, subscriptionID, s.Config.Locks.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActiveState() {
		return nil, ierr.NewError("subscription is already ended").
			WithHint("The subscription is in a terminal state").
			WithReportableDetails(map[string]any{"subscription_id": subscriptionID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if sub.ProviderSubscriptionID == "" {
		return nil, ierr.NewError("no billing subscription to cancel").
			WithHint("The subscription has no provider counterpart").
			WithReportableDetails(map[string]any{"subscription_id": subscriptionID}).
			Mark(ierr.ErrInvalidOperation)
	}

	if sub.HasScheduledChange() {
		if err := s.retractScheduledChange(ctx, sub); err != nil {
			return nil, err
		}
	}

	if immediate {
		if err := s.Provider.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
			return nil, err
		}
		// the terminal status lands through the provider's deletion
		// notification, which is authoritative
		s.Logger.Infow("requested immediate cancellation", "subscription_id", sub.ID)
		return sub, nil
	}

	if err := s.Provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID, true, nil); err != nil {
		return nil, err
	}

	sub.CancelAtPeriodEnd = true
	sub.ScheduledChange = subscription.NewScheduledChange(
		s.Catalog.FreePlanID(), sub.BillingPeriod, sub.CurrentPeriodEnd, types.ScheduledChangeOriginCancelFlag)
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled cancellation at period end",
		"subscription_id", sub.ID,
		"effective_at", sub.CurrentPeriodEnd)
	return sub, nil
}
