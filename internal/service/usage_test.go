package service

import (
	"testing"
	"time"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/testutil"
	"github.com/flexprice/subsync/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type UsageServiceSuite struct {
	testutil.BaseServiceTestSuite
	service UsageService
}

func TestUsageService(t *testing.T) {
	suite.Run(t, new(UsageServiceSuite))
}

func (s *UsageServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewUsageService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *UsageServiceSuite) recordUsage(metric string, quantity int64) {
	_, err := s.service.Record(s.GetContext(), metric, quantity, time.Time{})
	s.Require().NoError(err)
}

func (s *UsageServiceSuite) TestRecordAndTotal() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_usage")

	s.recordUsage("api_calls", 10)
	s.recordUsage("api_calls", 5)

	total, err := s.service.CurrentTotal(s.GetContext(), "api_calls")
	s.NoError(err)
	s.Equal(int64(15), total)
}

func (s *UsageServiceSuite) TestSignedQuantitiesForConcurrencyMetrics() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_conc")

	s.recordUsage("projects", 1)
	s.recordUsage("projects", 1)
	s.recordUsage("projects", -1)

	total, err := s.service.CurrentTotal(s.GetContext(), "projects")
	s.NoError(err)
	s.Equal(int64(1), total)
}

func (s *UsageServiceSuite) TestAllowanceWithinLimit() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_within")
	s.recordUsage("api_calls", 80)

	result, err := s.service.CheckAllowance(s.GetContext(), "api_calls", 30)
	s.NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(2000), result.Limit)
	s.Equal(int64(80), result.CurrentTotal)
	s.Equal(int64(110), result.ProjectedTotal)
	s.Equal(int64(0), result.OverageQuantity)
	s.True(result.EstimatedOverageCost.IsZero())
}

func (s *UsageServiceSuite) TestAllowanceCrossingIntoOverage() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_overage")
	s.recordUsage("api_calls", 1950)

	result, err := s.service.CheckAllowance(s.GetContext(), "api_calls", 60)
	s.NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(2010), result.ProjectedTotal)
	s.Equal(int64(10), result.OverageQuantity)
	s.True(result.EstimatedOverageCost.Equal(decimal.NewFromFloat(0.2)))
}

func (s *UsageServiceSuite) TestAllowanceFullyInOverage() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_deep_overage")
	s.recordUsage("api_calls", 2010)

	// already past the limit, only the new quantity is overage
	result, err := s.service.CheckAllowance(s.GetContext(), "api_calls", 1)
	s.NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(1), result.OverageQuantity)
	s.True(result.EstimatedOverageCost.Equal(decimal.NewFromFloat(0.02)))
}

func (s *UsageServiceSuite) TestAllowanceDeniedWhenOverageDisabled() {
	seedSubscription(&s.BaseServiceTestSuite, "free", types.BILLING_PERIOD_MONTHLY, "")
	s.recordUsage("api_calls", 80)

	result, err := s.service.CheckAllowance(s.GetContext(), "api_calls", 30)
	s.NoError(err)
	s.False(result.Allowed)
	s.Equal(int64(100), result.Limit)
	s.Equal(int64(110), result.ProjectedTotal)
	s.Equal(int64(10), result.OverageQuantity)
	s.True(result.EstimatedOverageCost.IsZero())
}

func (s *UsageServiceSuite) TestUnlimitedMetricAlwaysAllowed() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_unlimited")

	result, err := s.service.CheckAllowance(s.GetContext(), "storage_gb", 1_000_000)
	s.NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(-1), result.Limit)
}

func (s *UsageServiceSuite) TestTenantWithoutSubscriptionUsesFreeBaseline() {
	// no subscription seeded at all
	result, err := s.service.CheckAllowance(s.GetContext(), "api_calls", 30)
	s.NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(100), result.Limit)
}

func (s *UsageServiceSuite) TestBlockedStatusStillRecordsButDeniesNewUsage() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_blocked")
	stored, err := s.GetSubscriptionStore().Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	stored.SubscriptionStatus = types.SubscriptionStatusIncomplete
	s.Require().NoError(s.GetSubscriptionStore().Update(s.GetContext(), stored))

	// the consumption already happened, the log must take it regardless of
	// the status policy
	_, err = s.service.Record(s.GetContext(), "api_calls", 1, time.Time{})
	s.NoError(err)

	total, err := s.service.CurrentTotal(s.GetContext(), "api_calls")
	s.NoError(err)
	s.Equal(int64(1), total)

	// granting further usage is what the status policy gates
	_, err = s.service.CheckAllowance(s.GetContext(), "api_calls", 1)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *UsageServiceSuite) TestRecordHonorsCallerTimestamp() {
	sub := seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_stamped")

	occurredAt := sub.CurrentPeriodStart.Add(48 * time.Hour)
	record, err := s.service.Record(s.GetContext(), "api_calls", 3, occurredAt)
	s.Require().NoError(err)
	s.True(record.Timestamp.Equal(occurredAt))

	// zero timestamp falls back to now
	record, err = s.service.Record(s.GetContext(), "api_calls", 1, time.Time{})
	s.Require().NoError(err)
	s.WithinDuration(time.Now().UTC(), record.Timestamp, time.Minute)
}

func (s *UsageServiceSuite) TestRecordRequiresMetric() {
	seedSubscription(&s.BaseServiceTestSuite, "starter", types.BILLING_PERIOD_MONTHLY, "sub_nometric")

	_, err := s.service.Record(s.GetContext(), "", 1, time.Time{})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}
