package service

import (
	"time"

	"github.com/flexprice/subsync/internal/domain/subscription"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/testutil"
	"github.com/flexprice/subsync/internal/types"
)

// newTestParams assembles ServiceParams from the base suite's fakes
func newTestParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		Catalog:          s.GetCatalog(),
		SubscriptionRepo: s.GetSubscriptionStore(),
		EventRepo:        s.GetEventStore(),
		UsageRepo:        s.GetUsageStore(),
		Provider:         s.GetProvider(),
		Locks:            NewLockManager(),
		Publisher:        s.GetPublisher(),
	}
}

// subscriptionChange builds a pending schedule-origin change for fixtures
func subscriptionChange(target string, period types.BillingPeriod, effectiveAt time.Time) subscription.ScheduledChange {
	return *subscription.NewScheduledChange(target, period, effectiveAt, types.ScheduledChangeOriginSchedule)
}

// seedSubscription creates an active subscription in the store and, when a
// provider id is given, the matching provider-side record
func seedSubscription(s *testutil.BaseServiceTestSuite, planID string, period types.BillingPeriod, providerID string) *subscription.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	sub := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:                 planID,
		BillingPeriod:          period,
		SubscriptionStatus:     types.SubscriptionStatusActive,
		CurrentPeriodStart:     now.AddDate(0, 0, -10),
		CurrentPeriodEnd:       now.AddDate(0, 0, 20),
		ProviderSubscriptionID: providerID,
		Version:                1,
		BaseModel:              types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetSubscriptionStore().Create(s.GetContext(), sub))

	if providerID != "" {
		s.GetProvider().Subscriptions[providerID] = &provider.Subscription{
			ID:                 providerID,
			Status:             types.SubscriptionStatusActive,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			PriceID:            testutil.PriceID(planID, period),
		}
	}
	return sub
}
