package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionStatusPolicy(t *testing.T) {
	tests := []struct {
		status       SubscriptionStatus
		usageAllowed bool
		terminal     bool
	}{
		{SubscriptionStatusTrialing, true, false},
		{SubscriptionStatusActive, true, false},
		{SubscriptionStatusPastDue, true, false},
		{SubscriptionStatusIncomplete, false, false},
		{SubscriptionStatusIncompleteExpired, false, true},
		{SubscriptionStatusCancelled, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.usageAllowed, tt.status.UsageAllowed())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestSubscriptionStatusValidate(t *testing.T) {
	assert.NoError(t, SubscriptionStatusActive.Validate())
	assert.Error(t, SubscriptionStatus("paused").Validate())
}

func TestBillingPeriodValidate(t *testing.T) {
	assert.NoError(t, BILLING_PERIOD_MONTHLY.Validate())
	assert.NoError(t, BILLING_PERIOD_ANNUAL.Validate())
	assert.Error(t, BillingPeriod("WEEKLY").Validate())
}

func TestWebhookEventTypeValidate(t *testing.T) {
	assert.NoError(t, WebhookEventTypeInvoicePaid.Validate())
	// unknown provider notification types are rejected, not best-effort parsed
	assert.Error(t, WebhookEventType("charge.refunded").Validate())
}
