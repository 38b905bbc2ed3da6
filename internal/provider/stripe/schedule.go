package stripe

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/provider"
	"github.com/stripe/stripe-go/v82"
)

// CreateSchedule binds an empty phase schedule to an existing subscription.
// The provider requires this to happen before phases can be set; the phase
// definitions go in through UpdateSchedulePhases.
func (c *Client) CreateSchedule(ctx context.Context, providerSubscriptionID string) (string, error) {
	var schedule *stripe.SubscriptionSchedule
	err := c.withRetry(ctx, "schedule.create", func() error {
		var err error
		schedule, err = c.sc.V1SubscriptionSchedules.Create(ctx, &stripe.SubscriptionScheduleCreateParams{
			FromSubscription: stripe.String(providerSubscriptionID),
		})
		return err
	})
	if err != nil {
		return "", c.wrapNotFound(err, "subscription not found at provider", providerSubscriptionID)
	}

	c.logger.Infow("created provider schedule",
		"schedule_id", schedule.ID,
		"provider_subscription_id", providerSubscriptionID,
	)
	return schedule.ID, nil
}

// UpdateSchedulePhases declares the phase timeline on an existing schedule.
// Boundaries are absolute timestamps; a zero end date leaves the final phase
// open-ended.
func (c *Client) UpdateSchedulePhases(ctx context.Context, scheduleID string, phases []provider.Phase) error {
	params := &stripe.SubscriptionScheduleUpdateParams{
		EndBehavior: stripe.String("release"),
	}
	for _, phase := range phases {
		phaseParams := &stripe.SubscriptionScheduleUpdatePhaseParams{
			Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
				{Price: stripe.String(phase.PriceID)},
			},
			StartDate: stripe.Int64(phase.StartDate.Unix()),
		}
		if !phase.EndDate.IsZero() {
			phaseParams.EndDate = stripe.Int64(phase.EndDate.Unix())
		}
		params.Phases = append(params.Phases, phaseParams)
	}

	err := c.withRetry(ctx, "schedule.update_phases", func() error {
		_, err := c.sc.V1SubscriptionSchedules.Update(ctx, scheduleID, params)
		return err
	})
	if err != nil {
		return c.wrapNotFound(err, "schedule not found at provider", scheduleID)
	}
	return nil
}

// ReleaseSchedule detaches the schedule from the subscription, leaving the
// subscription on its current phase configuration
func (c *Client) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	err := c.withRetry(ctx, "schedule.release", func() error {
		_, err := c.sc.V1SubscriptionSchedules.Release(ctx, scheduleID, &stripe.SubscriptionScheduleReleaseParams{})
		return err
	})
	if err != nil {
		return c.wrapNotFound(err, "schedule not found at provider", scheduleID)
	}
	return nil
}

func unixToTime(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
