package service

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/plan"
	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/samber/lo"
)

// TransitionService classifies requested plan/interval changes against the
// catalog's transition graph. The classification is computed fresh on every
// request and never cached, since the catalog can version underneath.
type TransitionService interface {
	Classify(ctx context.Context, currentPlanID, targetPlanID string, currentPeriod, targetPeriod types.BillingPeriod) (types.SubscriptionChangeType, error)
	PreviewChange(ctx context.Context, subscriptionID, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangePreview, error)
}

// ChangePreview describes what a change request would do without mutating
// anything
type ChangePreview struct {
	SubscriptionID  string                       `json:"subscription_id"`
	CurrentPlanID   string                       `json:"current_plan_id"`
	TargetPlanID    string                       `json:"target_plan_id"`
	CurrentPeriod   types.BillingPeriod          `json:"current_billing_period"`
	TargetPeriod    types.BillingPeriod          `json:"target_billing_period"`
	ChangeType      types.SubscriptionChangeType `json:"change_type"`
	Immediate       bool                         `json:"immediate"`
	EffectiveAt     time.Time                    `json:"effective_at"`
	ProrationApplied bool                        `json:"proration_applied"`
}

type transitionService struct {
	ServiceParams
}

// NewTransitionService creates a new transition validator
func NewTransitionService(params ServiceParams) TransitionService {
	return &transitionService{ServiceParams: params}
}

// Classify decides the transition class for (current plan, target plan,
// target interval). Same-plan same-interval requests are always invalid.
// Invalid classifications come back with the allowed-target sets so the
// caller can present valid options.
func (s *transitionService) Classify(ctx context.Context, currentPlanID, targetPlanID string, currentPeriod, targetPeriod types.BillingPeriod) (types.SubscriptionChangeType, error) {
	current, err := s.Catalog.Lookup(currentPlanID)
	if err != nil {
		return types.SubscriptionChangeTypeInvalid, err
	}
	target, err := s.Catalog.Lookup(targetPlanID)
	if err != nil {
		return types.SubscriptionChangeTypeInvalid, err
	}
	if err := targetPeriod.Validate(); err != nil {
		return types.SubscriptionChangeTypeInvalid, err
	}

	// target plan must actually be offered at the requested interval
	if _, ok := target.Prices[targetPeriod]; !ok && !target.IsFree() {
		return types.SubscriptionChangeTypeInvalid, ierr.NewError("plan not offered at billing period").
			WithHint("The plan is not available at the requested billing period").
			WithReportableDetails(map[string]any{
				"target_plan_id": targetPlanID,
				"billing_period": targetPeriod,
			}).
			Mark(ierr.ErrValidation)
	}

	if currentPlanID == targetPlanID {
		if currentPeriod != targetPeriod {
			return types.SubscriptionChangeTypeIntervalOnly, nil
		}
		return types.SubscriptionChangeTypeInvalid, s.invalidTransitionErr(current, targetPlanID)
	}

	if lo.Contains(current.UpgradeTargets, targetPlanID) {
		return types.SubscriptionChangeTypeUpgrade, nil
	}
	if lo.Contains(current.DowngradeTargets, targetPlanID) {
		return types.SubscriptionChangeTypeDowngrade, nil
	}

	return types.SubscriptionChangeTypeInvalid, s.invalidTransitionErr(current, targetPlanID)
}

// PreviewChange classifies and reports effective timing without touching the
// provider or the store
func (s *transitionService) PreviewChange(ctx context.Context, subscriptionID, targetPlanID string, targetPeriod types.BillingPeriod) (*ChangePreview, error) {
	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	changeType, err := s.Classify(ctx, sub.PlanID, targetPlanID, sub.BillingPeriod, targetPeriod)
	if err != nil {
		return nil, err
	}

	preview := &ChangePreview{
		SubscriptionID: subscriptionID,
		CurrentPlanID:  sub.PlanID,
		TargetPlanID:   targetPlanID,
		CurrentPeriod:  sub.BillingPeriod,
		TargetPeriod:   targetPeriod,
		ChangeType:     changeType,
	}

	immediate := isImmediateChange(s.Catalog, sub, changeType, targetPlanID, targetPeriod)
	preview.Immediate = immediate
	if immediate {
		preview.EffectiveAt = time.Now().UTC()
		preview.ProrationApplied = true
	} else {
		preview.EffectiveAt = sub.CurrentPeriodEnd
	}
	return preview, nil
}

// isImmediateChange mirrors the orchestrator's decision policy: only a
// same-interval paid-to-paid upgrade mutates the provider immediately, with
// proration. Everything else lands at the current period end.
func isImmediateChange(catalog *plan.Catalog, sub *subscription.Subscription, changeType types.SubscriptionChangeType, targetPlanID string, targetPeriod types.BillingPeriod) bool {
	if changeType != types.SubscriptionChangeTypeUpgrade {
		return false
	}
	if sub.BillingPeriod != targetPeriod {
		return false
	}
	currentPlan, err := catalog.Lookup(sub.PlanID)
	if err != nil {
		return false
	}
	targetPlan, err := catalog.Lookup(targetPlanID)
	if err != nil {
		return false
	}
	return !currentPlan.IsFree() && !targetPlan.IsFree()
}

func (s *transitionService) invalidTransitionErr(current *plan.Plan, targetPlanID string) error {
	return ierr.NewError("invalid plan transition").
		WithHint("The requested plan change is not allowed").
		WithReportableDetails(map[string]any{
			"current_plan_id":   current.ID,
			"target_plan_id":    targetPlanID,
			"allowed_upgrades":  current.UpgradeTargets,
			"allowed_downgrades": current.DowngradeTargets,
		}).
		Mark(ierr.ErrValidation)
}
