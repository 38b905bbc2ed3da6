package subscription

import (
	"time"

	"github.com/flexprice/subsync/internal/types"
)

type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// PlanID is the identifier for the current plan in our system
	PlanID string `db:"plan_id" json:"plan_id"`

	// BillingPeriod is the current billing interval of the subscription
	BillingPeriod types.BillingPeriod `db:"billing_period" json:"billing_period"`

	// SubscriptionStatus is the lifecycle status, driven exclusively by
	// provider notifications
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// CurrentPeriodStart is the start of the current billed period
	CurrentPeriodStart time.Time `db:"current_period_start" json:"current_period_start"`

	// CurrentPeriodEnd is the end of the current billed period. At this point
	// a renewal invoice is created by the provider.
	CurrentPeriodEnd time.Time `db:"current_period_end" json:"current_period_end"`

	// CancelAtPeriodEnd mirrors the provider's deferred-cancellation flag
	CancelAtPeriodEnd bool `db:"cancel_at_period_end" json:"cancel_at_period_end"`

	// CancelledAt is the date the subscription was cancelled
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at"`

	// ProviderSubscriptionID is the provider-side correlation id. Empty until
	// the provider confirms the subscription exists.
	ProviderSubscriptionID string `db:"provider_subscription_id" json:"provider_subscription_id"`

	// ProviderScheduleID is set while a provider-side phase schedule encodes
	// a pending transition
	ProviderScheduleID string `db:"provider_schedule_id" json:"provider_schedule_id"`

	// ScheduledChange is the at-most-one pending deferred transition
	ScheduledChange *ScheduledChange `db:"-" json:"scheduled_change,omitempty"`

	// Metadata contains additional key-value pairs
	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	// Version is the optimistic concurrency column; every update must
	// compare-and-swap on it
	Version int64 `db:"version" json:"version"`

	types.BaseModel
}

// ScheduledChange records a future plan/interval transition that has not yet
// been applied to the live subscription. At most one exists per subscription;
// creating a new one must first retract the existing one.
type ScheduledChange struct {
	// Reference is a short human-facing id (e.g. SC-XY12A8) quoted in API
	// responses and outbound events so operators can correlate a pending
	// change with the event that eventually lands or retracts it
	Reference string `db:"reference" json:"reference"`

	// TargetPlanID is the plan the subscription moves to when the change lands
	TargetPlanID string `db:"target_plan_id" json:"target_plan_id"`

	// TargetBillingPeriod is the billing interval after the change lands
	TargetBillingPeriod types.BillingPeriod `db:"target_billing_period" json:"target_billing_period"`

	// EffectiveAt is the absolute boundary the change lands on, derived from
	// the subscription's current period end at creation time
	EffectiveAt time.Time `db:"effective_at" json:"effective_at"`

	// Origin distinguishes a provider-side phase schedule from a
	// deferred-cancellation flag
	Origin types.ScheduledChangeOrigin `db:"origin" json:"origin"`
}

// NewScheduledChange builds a pending transition with a fresh short
// reference
func NewScheduledChange(targetPlanID string, targetPeriod types.BillingPeriod, effectiveAt time.Time, origin types.ScheduledChangeOrigin) *ScheduledChange {
	return &ScheduledChange{
		Reference:           types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_SCHEDULED_CHANGE),
		TargetPlanID:        targetPlanID,
		TargetBillingPeriod: targetPeriod,
		EffectiveAt:         effectiveAt,
		Origin:              origin,
	}
}

// IsActiveState reports whether the subscription is in a non-terminal state
func (s *Subscription) IsActiveState() bool {
	return !s.SubscriptionStatus.IsTerminal()
}

// UsageAllowed reports whether the current lifecycle status permits feature
// usage, per the status policy table
func (s *Subscription) UsageAllowed() bool {
	return s.SubscriptionStatus.UsageAllowed()
}

// HasScheduledChange reports whether a deferred transition is pending
func (s *Subscription) HasScheduledChange() bool {
	return s.ScheduledChange != nil
}

// ApplyScheduledChange swaps the plan and interval to the scheduled target
// and clears the pending change together with the provider-side artifacts
// that encoded it. The caller persists the result.
func (s *Subscription) ApplyScheduledChange() {
	if s.ScheduledChange == nil {
		return
	}
	s.PlanID = s.ScheduledChange.TargetPlanID
	s.BillingPeriod = s.ScheduledChange.TargetBillingPeriod
	s.ScheduledChange = nil
	s.ProviderScheduleID = ""
	s.CancelAtPeriodEnd = false
}
