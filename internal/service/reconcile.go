package service

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/flexprice/subsync/internal/webhook"
)

// ReconciliationService compares local subscription state against the
// provider's authoritative view and converges the local side. Fields the
// engine can safely overwrite are converged in place; anything else is
// surfaced as drift for an operator, never auto-resolved.
type ReconciliationService interface {
	Reconcile(ctx context.Context, subscriptionID string) (*ReconcileResult, error)
}

// ReconcileResult reports what a reconciliation pass found and fixed
type ReconcileResult struct {
	SubscriptionID string   `json:"subscription_id"`
	Changed        bool     `json:"changed"`
	Fields         []string `json:"fields,omitempty"`
}

type reconciliationService struct {
	ServiceParams
}

// NewReconciliationService creates the reconciler
func NewReconciliationService(params ServiceParams) ReconciliationService {
	return &reconciliationService{ServiceParams: params}
}

// Reconcile fetches the provider's view and writes back every divergent
// field the provider owns. A missing provider counterpart, or a local row
// with no correlation id at all, is drift: it is reported outward and the
// local row is left untouched.
func (s *reconciliationService) Reconcile(ctx context.Context, subscriptionID string) (*ReconcileResult, error) {
	sub, err := s.SubscriptionRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.ProviderSubscriptionID == "" {
		return nil, s.reportDrift(ctx, sub, "missing provider correlation id")
	}

	providerSub, err := s.Provider.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) && !sub.SubscriptionStatus.IsTerminal() {
			return nil, s.reportDrift(ctx, sub, "subscription missing at provider")
		}
		return nil, err
	}

	result := &ReconcileResult{SubscriptionID: subscriptionID}

	if sub.SubscriptionStatus != providerSub.Status {
		sub.SubscriptionStatus = providerSub.Status
		result.Fields = append(result.Fields, "subscription_status")
	}
	if sub.CancelAtPeriodEnd != providerSub.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = providerSub.CancelAtPeriodEnd
		result.Fields = append(result.Fields, "cancel_at_period_end")
	}
	if !providerSub.CurrentPeriodStart.IsZero() && !sub.CurrentPeriodStart.Equal(providerSub.CurrentPeriodStart) {
		sub.CurrentPeriodStart = providerSub.CurrentPeriodStart
		result.Fields = append(result.Fields, "current_period_start")
	}
	if !providerSub.CurrentPeriodEnd.IsZero() && !sub.CurrentPeriodEnd.Equal(providerSub.CurrentPeriodEnd) {
		sub.CurrentPeriodEnd = providerSub.CurrentPeriodEnd
		result.Fields = append(result.Fields, "current_period_end")
	}

	if providerSub.PriceID != "" {
		planID, period, err := s.Provider.ResolvePlanFromPrice(ctx, providerSub.PriceID)
		if err != nil {
			return nil, err
		}
		if sub.PlanID != planID || sub.BillingPeriod != period {
			sub.PlanID = planID
			sub.BillingPeriod = period
			result.Fields = append(result.Fields, "plan_id")
		}
	}

	if len(result.Fields) == 0 {
		return result, nil
	}

	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	result.Changed = true

	s.Logger.Infow("reconciled subscription against provider",
		"subscription_id", subscriptionID,
		"fields", result.Fields)
	return result, nil
}

func (s *reconciliationService) reportDrift(ctx context.Context, sub *subscription.Subscription, reason string) error {
	s.Logger.Errorw("subscription drift detected",
		"subscription_id", sub.ID,
		"provider_subscription_id", sub.ProviderSubscriptionID,
		"reason", reason)

	if err := s.Publisher.Publish(ctx, webhook.EventTypeDriftDetected, map[string]any{
		"subscription_id":          sub.ID,
		"tenant_id":                sub.TenantID,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"reason":                   reason,
	}); err != nil {
		s.Logger.Errorw("failed to publish drift event",
			"subscription_id", sub.ID, "error", err)
	}

	return ierr.NewError("subscription state has drifted from the provider").
		WithHint("Manual intervention is required to resolve the drift").
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"reason":          reason,
		}).
		Mark(ierr.ErrDrift)
}

// Sweeper periodically reconciles subscriptions that have not been touched
// recently, catching missed notifications
type Sweeper struct {
	ServiceParams
	reconciler ReconciliationService
	stop       chan struct{}
	done       chan struct{}
}

// NewSweeper creates the periodic reconciliation sweeper
func NewSweeper(params ServiceParams) *Sweeper {
	return &Sweeper{
		ServiceParams: params,
		reconciler:    NewReconciliationService(params),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. It is a no-op when the
// sweep is disabled in config.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Config.Reconciler.SweepEnabled {
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Config.Reconciler.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.Config.Reconciler.SweepInterval)
	subs, err := s.SubscriptionRepo.List(ctx, &types.SubscriptionFilter{
		SubscriptionStatus: []types.SubscriptionStatus{
			types.SubscriptionStatusActive,
			types.SubscriptionStatusTrialing,
			types.SubscriptionStatusPastDue,
		},
		UpdatedBefore: &cutoff,
		Limit:         s.Config.Reconciler.BatchSize,
	})
	if err != nil {
		s.Logger.Errorw("reconciliation sweep listing failed", "error", err)
		return
	}

	for _, sub := range subs {
		if _, err := s.reconciler.Reconcile(ctx, sub.ID); err != nil {
			// drift is already reported; anything else gets the next sweep
			if !ierr.IsDrift(err) {
				s.Logger.Errorw("sweep reconciliation failed",
					"subscription_id", sub.ID, "error", err)
			}
		}
	}
	s.Logger.Debugw("reconciliation sweep finished", "count", len(subs))
}
