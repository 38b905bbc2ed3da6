package types

import "time"

// SubscriptionFilter represents the filter options for subscriptions
type SubscriptionFilter struct {
	// PlanID filters by plan ID
	PlanID string `json:"plan_id,omitempty" form:"plan_id"`
	// SubscriptionStatus filters by subscription status
	SubscriptionStatus []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	// UpdatedBefore filters subscriptions last touched before the given time;
	// the reconciliation sweep uses this to pick stale rows
	UpdatedBefore *time.Time `json:"updated_before,omitempty" form:"updated_before"`
	// Limit caps the number of returned rows; 0 means no limit
	Limit int `json:"limit,omitempty" form:"limit"`
}

// NewSubscriptionFilter creates a new SubscriptionFilter with default values
func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{}
}

// Validate validates the subscription filter
func (f *SubscriptionFilter) Validate() error {
	for _, status := range f.SubscriptionStatus {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	return nil
}
