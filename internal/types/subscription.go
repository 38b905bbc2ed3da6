package types

import (
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle status of a subscription.
// The set mirrors the billing provider's subscription statuses since the
// provider is the source of truth and local state only follows its events.
// https://stripe.com/docs/api/subscriptions/object#subscription_object-status
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
)

var SubscriptionStatusValues = []SubscriptionStatus{
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancelled,
}

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	if !lo.Contains(SubscriptionStatusValues, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": SubscriptionStatusValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// StatusPolicy carries the behavior flags for a lifecycle status. Feature
// gating reads these flags instead of switching on status names, so this
// table is the single point of truth for what a status permits.
type StatusPolicy struct {
	// UsageAllowed controls whether feature usage is permitted in this status
	UsageAllowed bool
	// Terminal marks statuses that a subscription never leaves
	Terminal bool
}

var subscriptionStatusPolicies = map[SubscriptionStatus]StatusPolicy{
	SubscriptionStatusIncomplete:        {UsageAllowed: false},
	SubscriptionStatusIncompleteExpired: {UsageAllowed: false, Terminal: true},
	SubscriptionStatusTrialing:          {UsageAllowed: true},
	SubscriptionStatusActive:            {UsageAllowed: true},
	SubscriptionStatusPastDue:           {UsageAllowed: true},
	SubscriptionStatusCancelled:         {UsageAllowed: false, Terminal: true},
}

// Policy returns the behavior flags for the status
func (s SubscriptionStatus) Policy() StatusPolicy {
	return subscriptionStatusPolicies[s]
}

// UsageAllowed returns whether feature usage is permitted in this status
func (s SubscriptionStatus) UsageAllowed() bool {
	return subscriptionStatusPolicies[s].UsageAllowed
}

// IsTerminal returns whether the status is terminal
func (s SubscriptionStatus) IsTerminal() bool {
	return subscriptionStatusPolicies[s].Terminal
}

// BillingPeriod is the recurring interval a plan is billed at
type BillingPeriod string

const (
	BILLING_PERIOD_MONTHLY BillingPeriod = "MONTHLY"
	BILLING_PERIOD_ANNUAL  BillingPeriod = "ANNUAL"
)

var BillingPeriodValues = []BillingPeriod{
	BILLING_PERIOD_MONTHLY,
	BILLING_PERIOD_ANNUAL,
}

func (p BillingPeriod) String() string {
	return string(p)
}

func (p BillingPeriod) Validate() error {
	if !lo.Contains(BillingPeriodValues, p) {
		return ierr.NewError("invalid billing period").
			WithHint("Invalid billing period").
			WithReportableDetails(map[string]any{
				"billing_period": p,
				"allowed_values": BillingPeriodValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionChangeType classifies a requested plan/interval change
type SubscriptionChangeType string

const (
	SubscriptionChangeTypeUpgrade   SubscriptionChangeType = "upgrade"
	SubscriptionChangeTypeDowngrade SubscriptionChangeType = "downgrade"
	// SubscriptionChangeTypeIntervalOnly is a billing period change on the same plan
	SubscriptionChangeTypeIntervalOnly SubscriptionChangeType = "interval_only"
	SubscriptionChangeTypeInvalid      SubscriptionChangeType = "invalid"
)

var SubscriptionChangeTypeValues = []SubscriptionChangeType{
	SubscriptionChangeTypeUpgrade,
	SubscriptionChangeTypeDowngrade,
	SubscriptionChangeTypeIntervalOnly,
	SubscriptionChangeTypeInvalid,
}

func (s SubscriptionChangeType) String() string {
	return string(s)
}

func (s SubscriptionChangeType) Validate() error {
	if !lo.Contains(SubscriptionChangeTypeValues, s) {
		return ierr.NewError("invalid subscription change type").
			WithHint("Invalid subscription change type").
			WithReportableDetails(map[string]any{
				"change_type":    s,
				"allowed_values": SubscriptionChangeTypeValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ScheduledChangeOrigin distinguishes how a deferred change is realized on
// the provider side
type ScheduledChangeOrigin string

const (
	// ScheduledChangeOriginSchedule means a provider-side multi-phase schedule
	// encodes the transition
	ScheduledChangeOriginSchedule ScheduledChangeOrigin = "schedule"
	// ScheduledChangeOriginCancelFlag means a deferred-cancellation flag plus
	// metadata encodes the transition
	ScheduledChangeOriginCancelFlag ScheduledChangeOrigin = "cancel_flag"
)

var ScheduledChangeOriginValues = []ScheduledChangeOrigin{
	ScheduledChangeOriginSchedule,
	ScheduledChangeOriginCancelFlag,
}

func (o ScheduledChangeOrigin) String() string {
	return string(o)
}

func (o ScheduledChangeOrigin) Validate() error {
	if !lo.Contains(ScheduledChangeOriginValues, o) {
		return ierr.NewError("invalid scheduled change origin").
			WithHint("Invalid scheduled change origin").
			WithReportableDetails(map[string]any{
				"origin":         o,
				"allowed_values": ScheduledChangeOriginValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
