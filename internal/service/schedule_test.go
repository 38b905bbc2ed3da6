package service

import (
	"strings"
	"testing"
	"time"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/testutil"
	"github.com/flexprice/subsync/internal/types"
	"github.com/stretchr/testify/suite"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *SubscriptionServiceSuite) TestImmediatePaidUpgrade() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_upgrade")

	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_MONTHLY)
	s.NoError(err)
	s.True(result.Immediate)
	s.Equal(types.SubscriptionChangeTypeUpgrade, result.ChangeType)
	s.Nil(result.ScheduledChange)

	// the provider was mutated in place, no schedule involved
	s.Equal(1, s.GetProvider().CallsTo("update_plan"))
	s.Equal(0, s.GetProvider().CallsTo("create_schedule"))
	s.Equal(testutil.PriceID("pro", types.BILLING_PERIOD_MONTHLY),
		s.GetProvider().Subscriptions["sub_upgrade"].PriceID)

	// the local plan waits for provider confirmation
	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal("starter", stored.PlanID)
}

func (s *SubscriptionServiceSuite) TestIntervalChangeCreatesTwoPhaseSchedule() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_interval")

	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)
	s.False(result.Immediate)
	s.Equal(types.SubscriptionChangeTypeIntervalOnly, result.ChangeType)
	s.Require().NotNil(result.ScheduledChange)
	s.Equal("starter", result.ScheduledChange.TargetPlanID)
	s.Equal(types.BILLING_PERIOD_ANNUAL, result.ScheduledChange.TargetBillingPeriod)
	s.Equal(types.ScheduledChangeOriginSchedule, result.ScheduledChange.Origin)
	s.True(strings.HasPrefix(result.ScheduledChange.Reference, types.SHORT_ID_PREFIX_SCHEDULED_CHANGE))
	s.True(result.EffectiveAt.Equal(sub.CurrentPeriodEnd))

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotEmpty(stored.ProviderScheduleID)
	s.Require().NotNil(stored.ScheduledChange)
	s.Equal(result.ScheduledChange.Reference, stored.ScheduledChange.Reference)

	// phases carry absolute boundaries: current price to the period end, the
	// target price open-ended from there
	phases := s.GetProvider().Schedules[stored.ProviderScheduleID]
	s.Require().Len(phases, 2)
	s.Equal(testutil.PriceID("starter", types.BILLING_PERIOD_MONTHLY), phases[0].PriceID)
	s.True(phases[0].StartDate.Equal(sub.CurrentPeriodStart))
	s.True(phases[0].EndDate.Equal(sub.CurrentPeriodEnd))
	s.Equal(testutil.PriceID("starter", types.BILLING_PERIOD_ANNUAL), phases[1].PriceID)
	s.True(phases[1].StartDate.Equal(sub.CurrentPeriodEnd))
	s.True(phases[1].EndDate.IsZero())
}

func (s *SubscriptionServiceSuite) TestCrossIntervalUpgradeIsDeferred() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_cross")

	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)
	s.False(result.Immediate)
	s.Require().NotNil(result.ScheduledChange)
	s.Equal(types.ScheduledChangeOriginSchedule, result.ScheduledChange.Origin)
	s.Equal(0, s.GetProvider().CallsTo("update_plan"))
}

func (s *SubscriptionServiceSuite) TestPaidDowngradeUsesCancelFlag() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "pro", types.BILLING_PERIOD_MONTHLY, "sub_downgrade")

	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_MONTHLY)
	s.NoError(err)
	s.False(result.Immediate)
	s.Require().NotNil(result.ScheduledChange)
	s.Equal(types.ScheduledChangeOriginCancelFlag, result.ScheduledChange.Origin)

	providerSub := s.GetProvider().Subscriptions["sub_downgrade"]
	s.True(providerSub.CancelAtPeriodEnd)
	s.Equal("starter", providerSub.Metadata[provider.MetadataKeyDowngradeTarget])
	s.Equal("MONTHLY", providerSub.Metadata[provider.MetadataKeyDowngradePeriod])

	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(stored.CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestDowngradeToFreeUsesCancelFlag() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_to_free")

	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "free", types.BILLING_PERIOD_MONTHLY)
	s.NoError(err)
	s.Require().NotNil(result.ScheduledChange)
	s.Equal("free", result.ScheduledChange.TargetPlanID)
	s.Equal(types.ScheduledChangeOriginCancelFlag, result.ScheduledChange.Origin)
	s.True(s.GetProvider().Subscriptions["sub_to_free"].CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestNewChangeRetractsPendingOneFirst() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_retract")

	// change A: interval switch encoded as a schedule
	_, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)
	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	firstScheduleID := stored.ProviderScheduleID
	s.NotEmpty(firstScheduleID)

	// change B: the pending schedule is released before B is created
	result, err := s.service.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)
	s.Require().NotNil(result.ScheduledChange)
	s.Equal("pro", result.ScheduledChange.TargetPlanID)

	s.Equal(1, s.GetProvider().CallsTo("release_schedule"))
	_, stillThere := s.GetProvider().Schedules[firstScheduleID]
	s.False(stillThere)

	stored, err = s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.NotEqual(firstScheduleID, stored.ProviderScheduleID)
	s.Equal("pro", stored.ScheduledChange.TargetPlanID)
}

func (s *SubscriptionServiceSuite) TestFailedRetractionKeepsPendingChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_failclosed")

	_, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)

	s.GetProvider().FailOn["release_schedule"] = ierr.NewError("provider unavailable").
		Mark(ierr.ErrProviderTransient)

	_, err = s.service.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_ANNUAL)
	s.Error(err)

	// the original change is untouched, nothing new was scheduled
	stored, getErr := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(getErr)
	s.Require().NotNil(stored.ScheduledChange)
	s.Equal("starter", stored.ScheduledChange.TargetPlanID)
	s.Equal(types.BILLING_PERIOD_ANNUAL, stored.ScheduledChange.TargetBillingPeriod)
}

func (s *SubscriptionServiceSuite) TestFreePlanCannotChangeWithoutProviderSubscription() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "free", types.BILLING_PERIOD_MONTHLY, "")

	_, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_MONTHLY)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestTerminalSubscriptionCannotChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_terminal")
	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	stored.SubscriptionStatus = types.SubscriptionStatusCancelled
	s.NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	_, err = s.service.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_MONTHLY)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestConcurrentChangeGetsBusy() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_busy")

	params := newTestParams(&s.BaseServiceTestSuite)
	svc := NewSubscriptionService(params)

	release, err := params.Locks.Acquire(s.GetContext(), sub.ID, time.Second)
	s.Require().NoError(err)
	defer release()

	_, err = svc.ChangePlan(s.GetContext(), sub.ID, "pro", types.BILLING_PERIOD_MONTHLY)
	s.Error(err)
	s.True(ierr.IsBusy(err))
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEnd() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_cancel")

	updated, err := s.service.CancelSubscription(s.GetContext(), sub.ID, false)
	s.NoError(err)
	s.True(updated.CancelAtPeriodEnd)
	s.Require().NotNil(updated.ScheduledChange)
	s.Equal("free", updated.ScheduledChange.TargetPlanID)
	s.Equal(types.ScheduledChangeOriginCancelFlag, updated.ScheduledChange.Origin)
	s.True(s.GetProvider().Subscriptions["sub_cancel"].CancelAtPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestImmediateCancel() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_cancel_now")

	_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, true)
	s.NoError(err)
	s.Equal(1, s.GetProvider().CallsTo("cancel_subscription"))

	// the local terminal status lands via the deletion notification, so the
	// stored row is not flipped here
	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestCancelRetractsPendingChange() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_cancel_retract")

	_, err := s.service.ChangePlan(s.GetContext(), sub.ID, "starter", types.BILLING_PERIOD_ANNUAL)
	s.NoError(err)

	updated, err := s.service.CancelSubscription(s.GetContext(), sub.ID, false)
	s.NoError(err)
	s.Equal(1, s.GetProvider().CallsTo("release_schedule"))
	s.Empty(updated.ProviderScheduleID)
	s.Equal("free", updated.ScheduledChange.TargetPlanID)
}
