package plan

import (
	"testing"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlans() []*Plan {
	return []*Plan{
		{
			ID:             "free",
			Name:           "Free",
			UpgradeTargets: []string{"starter", "pro"},
		},
		{
			ID:   "starter",
			Name: "Starter",
			Prices: map[types.BillingPeriod]decimal.Decimal{
				types.BILLING_PERIOD_MONTHLY: decimal.NewFromInt(10),
				types.BILLING_PERIOD_ANNUAL:  decimal.NewFromInt(100),
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
			DowngradeTargets: []string{"starter", "free"},
		},
	}
}

func TestCatalogLoad(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Load(testPlans(), "free"))

	assert.Equal(t, int64(1), catalog.Version())
	assert.Equal(t, "free", catalog.FreePlanID())

	p, err := catalog.Lookup("starter")
	require.NoError(t, err)
	assert.Equal(t, "Starter", p.Name)

	// reload bumps the version stamp
	require.NoError(t, catalog.Load(testPlans(), "free"))
	assert.Equal(t, int64(2), catalog.Version())
}

func TestCatalogLoadRejectsDuplicateID(t *testing.T) {
	plans := testPlans()
	plans = append(plans, &Plan{ID: "free"})

	err := NewCatalog().Load(plans, "free")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogLoadRejectsMissingFreePlan(t *testing.T) {
	err := NewCatalog().Load(testPlans(), "platinum")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogLoadRejectsUnknownTarget(t *testing.T) {
	plans := testPlans()
	plans[0].UpgradeTargets = []string{"enterprise"}

	err := NewCatalog().Load(plans, "free")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogLoadRejectsSelfTarget(t *testing.T) {
	plans := testPlans()
	plans[1].DowngradeTargets = []string{"starter"}

	err := NewCatalog().Load(plans, "free")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogLoadRejectsCheaperUpgradeTarget(t *testing.T) {
	plans := testPlans()
	// pro "upgrading" to the cheaper starter violates price ordering
	plans[2].UpgradeTargets = []string{"starter"}

	err := NewCatalog().Load(plans, "free")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogLoadRejectsUpgradeCycle(t *testing.T) {
	plans := testPlans()
	// starter -> pro -> starter; keep prices equal so only the cycle trips
	plans[2].Prices = plans[1].Prices
	plans[2].UpgradeTargets = []string{"starter"}

	err := NewCatalog().Load(plans, "free")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogFailedLoadKeepsSnapshot(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Load(testPlans(), "free"))

	bad := testPlans()
	bad[0].UpgradeTargets = []string{"enterprise"}
	require.Error(t, catalog.Load(bad, "free"))

	// the previous snapshot stays live
	assert.Equal(t, int64(1), catalog.Version())
	_, err := catalog.Lookup("starter")
	assert.NoError(t, err)
}

func TestCatalogLookupUnknownPlan(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Load(testPlans(), "free"))

	_, err := catalog.Lookup("enterprise")
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))
}

func TestCatalogAllowedTargets(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Load(testPlans(), "free"))

	upgrades, err := catalog.AllowedTargets("starter", TransitionDirectionUpgrade)
	require.NoError(t, err)
	assert.Equal(t, []string{"pro"}, upgrades)

	downgrades, err := catalog.AllowedTargets("pro", TransitionDirectionDowngrade)
	require.NoError(t, err)
	assert.Equal(t, []string{"starter", "free"}, downgrades)
}

func TestPlanIsFree(t *testing.T) {
	plans := testPlans()
	assert.True(t, plans[0].IsFree())
	assert.False(t, plans[1].IsFree())
}
