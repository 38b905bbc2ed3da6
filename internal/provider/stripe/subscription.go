package stripe

import (
	"context"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// GetSubscription fetches the provider's authoritative subscription state
func (c *Client) GetSubscription(ctx context.Context, providerSubscriptionID string) (*provider.Subscription, error) {
	var stripeSub *stripe.Subscription
	err := c.withRetry(ctx, "subscription.retrieve", func() error {
		var err error
		stripeSub, err = c.sc.V1Subscriptions.Retrieve(ctx, providerSubscriptionID, &stripe.SubscriptionRetrieveParams{
			Expand: []*string{
				stripe.String("items.data.price"),
				stripe.String("schedule"),
			},
		})
		return err
	})
	if err != nil {
		return nil, c.wrapNotFound(err, "subscription not found at provider", providerSubscriptionID)
	}

	return fromStripeSubscription(stripeSub)
}

// UpdateSubscriptionPlan swaps the subscription's price in place, optionally
// with proration. Used for same-interval paid-to-paid upgrades.
func (c *Client) UpdateSubscriptionPlan(ctx context.Context, providerSubscriptionID string, params provider.UpdatePlanParams) error {
	sub, err := c.fetchRaw(ctx, providerSubscriptionID)
	if err != nil {
		return err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ierr.NewError("no items found in provider subscription").
			WithHint("Provider subscription has no price items").
			WithReportableDetails(map[string]any{"provider_subscription_id": providerSubscriptionID}).
			Mark(ierr.ErrInvalidOperation)
	}

	prorationBehavior := "none"
	if params.Prorate {
		prorationBehavior = "create_prorations"
	}

	updateParams := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(params.PriceID),
			},
		},
		ProrationBehavior: stripe.String(prorationBehavior),
	}
	if len(params.Metadata) > 0 {
		updateParams.Metadata = params.Metadata
	}

	return c.withRetry(ctx, "subscription.update", func() error {
		_, err := c.sc.V1Subscriptions.Update(ctx, providerSubscriptionID, updateParams)
		return err
	})
}

// SetCancelAtPeriodEnd flips the deferred-cancellation flag and writes the
// engine metadata in the same call
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool, metadata map[string]string) error {
	updateParams := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	if metadata != nil {
		updateParams.Metadata = metadata
	}

	return c.withRetry(ctx, "subscription.set_cancel_at_period_end", func() error {
		_, err := c.sc.V1Subscriptions.Update(ctx, providerSubscriptionID, updateParams)
		return err
	})
}

// CancelSubscription cancels immediately, not at period end
func (c *Client) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return c.withRetry(ctx, "subscription.cancel", func() error {
		_, err := c.sc.V1Subscriptions.Cancel(ctx, providerSubscriptionID, &stripe.SubscriptionCancelParams{})
		return err
	})
}

func (c *Client) fetchRaw(ctx context.Context, providerSubscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := c.withRetry(ctx, "subscription.retrieve", func() error {
		var err error
		sub, err = c.sc.V1Subscriptions.Retrieve(ctx, providerSubscriptionID, nil)
		return err
	})
	if err != nil {
		return nil, c.wrapNotFound(err, "subscription not found at provider", providerSubscriptionID)
	}
	return sub, nil
}

func (c *Client) wrapNotFound(err error, msg, id string) error {
	var stripeErr *stripe.Error
	if ierr.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
		return ierr.NewError(msg).
			WithHint("The referenced object does not exist at the billing provider").
			WithReportableDetails(map[string]any{"provider_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return err
}

// fromStripeSubscription maps the provider object to the engine's reduced view
func fromStripeSubscription(sub *stripe.Subscription) (*provider.Subscription, error) {
	out := &provider.Subscription{
		ID:                sub.ID,
		Status:            mapSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Schedule != nil {
		out.ScheduleID = sub.Schedule.ID
	}
	// period boundaries and the active price live on the subscription items
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = unixToTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixToTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out, nil
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) types.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return types.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return types.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusIncomplete:
		return types.SubscriptionStatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return types.SubscriptionStatusIncompleteExpired
	default:
		return types.SubscriptionStatusIncomplete
	}
}
