package provider

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/types"
)

// Subscription is the provider's authoritative view of a subscription,
// reduced to the fields the engine tracks
type Subscription struct {
	// ID is the provider-side subscription id
	ID string

	// Status is the provider's lifecycle status, already mapped to the
	// local status set
	Status types.SubscriptionStatus

	// CancelAtPeriodEnd is the provider's deferred-cancellation flag
	CancelAtPeriodEnd bool

	// CurrentPeriodStart and CurrentPeriodEnd are the provider-reported
	// period boundaries, authoritative over local state
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	// PriceID is the price on the subscription's single item, used to derive
	// the catalog plan the provider believes is active
	PriceID string

	// ScheduleID is the active phase schedule bound to the subscription,
	// empty when none exists
	ScheduleID string

	// Metadata carries engine-written keys, e.g. the deferred downgrade target
	Metadata map[string]string
}

// Phase declares which price applies between two absolute boundaries of a
// multi-step schedule. A zero EndDate leaves the phase open-ended.
type Phase struct {
	PriceID   string
	StartDate time.Time
	EndDate   time.Time
}

// UpdatePlanParams describes an immediate plan mutation
type UpdatePlanParams struct {
	PriceID string
	// Prorate requests a mid-period credit/charge adjustment
	Prorate  bool
	Metadata map[string]string
}

// Client is the billing provider collaborator. The schedule primitive has a
// two-step constraint: CreateSchedule binds an empty schedule to an existing
// subscription, and phases are set in a separate UpdateSchedulePhases call.
type Client interface {
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, providerSubscriptionID string, params UpdatePlanParams) error

	// SetCancelAtPeriodEnd flips the deferred-cancellation flag. Metadata is
	// written alongside so a deferred paid downgrade can record its target.
	SetCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool, metadata map[string]string) error

	CancelSubscription(ctx context.Context, providerSubscriptionID string) error

	CreateSchedule(ctx context.Context, providerSubscriptionID string) (string, error)
	UpdateSchedulePhases(ctx context.Context, scheduleID string, phases []Phase) error
	ReleaseSchedule(ctx context.Context, scheduleID string) error

	// ResolvePriceID maps a catalog plan and billing period to the provider's
	// price id
	ResolvePriceID(ctx context.Context, planID string, period types.BillingPeriod) (string, error)

	// ResolvePlanFromPrice is the reverse mapping, used when a notification
	// declares phases in terms of provider price ids
	ResolvePlanFromPrice(ctx context.Context, priceID string) (planID string, period types.BillingPeriod, err error)
}

// Metadata keys the engine writes on provider objects
const (
	// MetadataKeyDowngradeTarget records the intended plan of a deferred paid
	// downgrade realized via the cancellation flag
	MetadataKeyDowngradeTarget = "subsync_downgrade_target_plan"

	// MetadataKeyDowngradePeriod records the billing period the deferred
	// downgrade lands on
	MetadataKeyDowngradePeriod = "subsync_downgrade_billing_period"
)
