package testutil

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/config"
	"github.com/flexprice/subsync/internal/domain/plan"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// BaseServiceTestSuite provides common setup for service tests: in-memory
// stores, a fake provider, a loaded catalog and a test identity context
type BaseServiceTestSuite struct {
	suite.Suite

	ctx       context.Context
	logger    *logger.Logger
	config    *config.Configuration
	catalog   *plan.Catalog
	subs      *InMemorySubscriptionStore
	events    *InMemoryEventStore
	usage     *InMemoryUsageStore
	provider  *FakeProviderClient
	publisher *FakePublisher
}

// SetupTest initializes fresh state before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()

	log, err := logger.NewLogger(config.GetDefaultConfig())
	s.Require().NoError(err)
	s.logger = log

	s.config = config.GetDefaultConfig()
	s.config.Locks.AcquireTimeout = 100 * time.Millisecond

	s.catalog = plan.NewCatalog()
	s.Require().NoError(s.catalog.Load(DefaultPlans(), "free"))

	s.subs = NewInMemorySubscriptionStore()
	s.events = NewInMemoryEventStore()
	s.usage = NewInMemoryUsageStore()
	s.provider = NewFakeProviderClient()
	s.publisher = NewFakePublisher()
}

func (s *BaseServiceTestSuite) GetContext() context.Context           { return s.ctx }
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger             { return s.logger }
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration      { return s.config }
func (s *BaseServiceTestSuite) GetCatalog() *plan.Catalog             { return s.catalog }
func (s *BaseServiceTestSuite) GetSubscriptionStore() *InMemorySubscriptionStore {
	return s.subs
}
func (s *BaseServiceTestSuite) GetEventStore() *InMemoryEventStore    { return s.events }
func (s *BaseServiceTestSuite) GetUsageStore() *InMemoryUsageStore    { return s.usage }
func (s *BaseServiceTestSuite) GetProvider() *FakeProviderClient      { return s.provider }
func (s *BaseServiceTestSuite) GetPublisher() *FakePublisher          { return s.publisher }

// DefaultPlans returns the standard three-tier test catalog
func DefaultPlans() []*plan.Plan {
	return []*plan.Plan{
		{
			ID:   "free",
			Name: "Free",
			Limits: map[string]int64{
				"api_calls": 100,
				"projects":  1,
			},
			UpgradeTargets: []string{"starter", "pro"},
		},
		{
			ID:   "starter",
			Name: "Starter",
			Prices: map[types.BillingPeriod]decimal.Decimal{
				types.BILLING_PERIOD_MONTHLY: decimal.NewFromInt(10),
				types.BILLING_PERIOD_ANNUAL:  decimal.NewFromInt(100),
			},
			Limits: map[string]int64{
				"api_calls": 2000,
				"projects":  5,
			},
			Overage: plan.OveragePolicy{
				Enabled: true,
				UnitPrices: map[string]decimal.Decimal{
					"api_calls": decimal.NewFromFloat(0.02),
				},
			},
			UpgradeTargets:   []string{"pro"},
			DowngradeTargets: []string{"free"},
		},
		{
			ID:   "pro",
			Name: "Pro",
			Prices: map[types.BillingPeriod]decimal.Decimal{
				types.BILLING_PERIOD_MONTHLY: decimal.NewFromInt(25),
				types.BILLING_PERIOD_ANNUAL:  decimal.NewFromInt(250),
			},
			Limits: map[string]int64{
				"api_calls": 50000,
			},
			Overage: plan.OveragePolicy{
				Enabled: true,
				UnitPrices: map[string]decimal.Decimal{
					"api_calls": decimal.NewFromFloat(0.01),
				},
			},
			DowngradeTargets: []string{"starter", "free"},
		},
	}
}
