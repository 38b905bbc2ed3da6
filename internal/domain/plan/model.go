package plan

import (
	"github.com/flexprice/subsync/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is an immutable plan definition. Plans are owned by the catalog load
// and are read-only to every other component; a catalog version bump replaces
// them wholesale.
type Plan struct {
	// ID is the unique identifier for the plan
	ID string `json:"id"`

	// Name is the display name of the plan
	Name string `json:"name"`

	// Prices maps a billing period to the recurring price for that period
	Prices map[types.BillingPeriod]decimal.Decimal `json:"prices"`

	// Limits maps a usage metric to the quantity included in the plan.
	// A metric absent from the map is unlimited.
	Limits map[string]int64 `json:"limits"`

	// Overage is the plan's overage policy for usage beyond the included limits
	Overage OveragePolicy `json:"overage"`

	// UpgradeTargets is the set of plan ids this plan may upgrade to
	UpgradeTargets []string `json:"upgrade_targets"`

	// DowngradeTargets is the set of plan ids this plan may downgrade to
	DowngradeTargets []string `json:"downgrade_targets"`
}

// OveragePolicy controls whether usage past the included limit is permitted
// and what it costs per unit
type OveragePolicy struct {
	Enabled bool `json:"enabled"`

	// UnitPrices maps a metric to its per-unit overage rate
	UnitPrices map[string]decimal.Decimal `json:"unit_prices"`
}

// Price returns the plan's price for the given billing period, or zero if
// the plan is not offered at that period
func (p *Plan) Price(period types.BillingPeriod) decimal.Decimal {
	if price, ok := p.Prices[period]; ok {
		return price
	}
	return decimal.Zero
}

// IsFree reports whether the plan has no paid price in any billing period
func (p *Plan) IsFree() bool {
	for _, price := range p.Prices {
		if price.IsPositive() {
			return false
		}
	}
	return true
}

// Limit returns the included quantity for the metric and whether a limit is
// configured at all
func (p *Plan) Limit(metric string) (int64, bool) {
	limit, ok := p.Limits[metric]
	return limit, ok
}

// OverageUnitPrice returns the per-unit overage rate for the metric, or zero
// when none is configured
func (p *Plan) OverageUnitPrice(metric string) decimal.Decimal {
	if p.Overage.UnitPrices == nil {
		return decimal.Zero
	}
	if price, ok := p.Overage.UnitPrices[metric]; ok {
		return price
	}
	return decimal.Zero
}
