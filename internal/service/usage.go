package service

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/plan"
	"github.com/flexprice/subsync/internal/domain/subscription"
	"github.com/flexprice/subsync/internal/domain/usage"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/shopspring/decimal"
)

// UsageService is the usage meter. Consumption is an append-only log scoped
// to the tenant's current billing period; allowance checks project a
// requested quantity against the active plan's limits and overage policy.
type UsageService interface {
	Record(ctx context.Context, metric string, quantity int64, occurredAt time.Time) (*usage.UsageRecord, error)
	CurrentTotal(ctx context.Context, metric string) (int64, error)
	CheckAllowance(ctx context.Context, metric string, quantity int64) (*AllowanceResult, error)
}

// AllowanceResult is the outcome of projecting a usage request against the
// plan's limit and overage policy
type AllowanceResult struct {
	Allowed bool `json:"allowed"`

	// Limit is the plan's included quantity; -1 when the metric is unlimited
	Limit int64 `json:"limit"`

	// CurrentTotal is the period total before the requested quantity
	CurrentTotal int64 `json:"current_total"`

	// ProjectedTotal is the period total if the request is granted
	ProjectedTotal int64 `json:"projected_total"`

	// OverageQuantity is how much of the projected total exceeds the limit
	OverageQuantity int64 `json:"overage_quantity"`

	// EstimatedOverageCost prices the overage quantity at the plan's
	// per-unit rate
	EstimatedOverageCost decimal.Decimal `json:"estimated_overage_cost"`
}

type usageService struct {
	ServiceParams
}

// NewUsageService creates the usage meter
func NewUsageService(params ServiceParams) UsageService {
	return &usageService{ServiceParams: params}
}

// Record appends a consumption event at occurredAt (zero means now).
// Recording is unconditional, even when the subscription status forbids new
// feature usage: the consumption already happened and the log must stay
// accurate. Gating belongs to CheckAllowance.
func (s *usageService) Record(ctx context.Context, metric string, quantity int64, occurredAt time.Time) (*usage.UsageRecord, error) {
	if metric == "" {
		return nil, ierr.NewError("metric is required").
			WithHint("Usage records must name their metric").
			Mark(ierr.ErrValidation)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, _, periodStart, _, err := s.billingContext(ctx)
	if err != nil {
		return nil, err
	}

	record := usage.NewUsageRecord(types.GetDefaultBaseModel(ctx), metric, quantity, occurredAt.UTC(), periodStart)
	if err := s.UsageRepo.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CurrentTotal returns the tenant's signed total for the metric over the
// current billing period
func (s *usageService) CurrentTotal(ctx context.Context, metric string) (int64, error) {
	_, _, periodStart, periodEnd, err := s.billingContext(ctx)
	if err != nil {
		return 0, err
	}
	return s.UsageRepo.Total(ctx, types.GetTenantID(ctx), metric, periodStart, periodEnd)
}

// CheckAllowance projects quantity on top of the period total and decides
// whether the plan admits it. Unlimited metrics always pass; limited metrics
// pass within the limit, and past it only when the overage policy allows,
// with the billable overage priced at the plan's unit rate.
func (s *usageService) CheckAllowance(ctx context.Context, metric string, quantity int64) (*AllowanceResult, error) {
	activePlan, sub, periodStart, periodEnd, err := s.billingContext(ctx)
	if err != nil {
		return nil, err
	}

	// new usage is only granted while the status policy allows it; a blocked
	// status still records and reads, it just cannot consume more
	if sub != nil && !sub.UsageAllowed() {
		return nil, ierr.NewError("usage is not permitted in the current subscription state").
			WithHint("The subscription status does not allow feature usage").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	total, err := s.UsageRepo.Total(ctx, types.GetTenantID(ctx), metric, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	result := &AllowanceResult{
		CurrentTotal:         total,
		ProjectedTotal:       total + quantity,
		EstimatedOverageCost: decimal.Zero,
	}

	limit, limited := activePlan.Limit(metric)
	if !limited {
		result.Allowed = true
		result.Limit = -1
		return result, nil
	}
	result.Limit = limit

	if result.ProjectedTotal <= limit {
		result.Allowed = true
		return result, nil
	}

	// only the portion past the limit is new overage; usage already past the
	// limit was accounted for by earlier requests
	result.OverageQuantity = result.ProjectedTotal - limit
	if total >= limit {
		result.OverageQuantity = quantity
	}

	if !activePlan.Overage.Enabled {
		return result, nil
	}

	result.Allowed = true
	result.EstimatedOverageCost = activePlan.OverageUnitPrice(metric).
		Mul(decimal.NewFromInt(result.OverageQuantity))
	return result, nil
}

// billingContext resolves the tenant's effective plan, subscription and
// billing period. A tenant without an active subscription is on the free
// baseline, metered over calendar months, and comes back with a nil
// subscription. Status policy is not enforced here.
func (s *usageService) billingContext(ctx context.Context) (*plan.Plan, *subscription.Subscription, time.Time, time.Time, error) {
	sub, err := s.SubscriptionRepo.GetActiveByTenant(ctx, types.GetTenantID(ctx))
	if err != nil {
		if ierr.IsNotFound(err) {
			freePlan, lookupErr := s.Catalog.Lookup(s.Catalog.FreePlanID())
			if lookupErr != nil {
				return nil, nil, time.Time{}, time.Time{}, lookupErr
			}
			start, end := calendarMonth(time.Now().UTC())
			return freePlan, nil, start, end, nil
		}
		return nil, nil, time.Time{}, time.Time{}, err
	}

	activePlan, err := s.Catalog.Lookup(sub.PlanID)
	if err != nil {
		return nil, nil, time.Time{}, time.Time{}, err
	}
	return activePlan, sub, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, nil
}

func calendarMonth(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
