package stripe

import (
	"context"
	"fmt"
	"strings"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// priceLookupKey is the convention binding a catalog plan and billing period
// to a provider price, e.g. "starter_monthly"
func priceLookupKey(planID string, period types.BillingPeriod) string {
	return fmt.Sprintf("%s_%s", planID, strings.ToLower(string(period)))
}

// ResolvePriceID maps a catalog plan and billing period to the provider's
// price id via price lookup keys. Results are cached; price ids are stable
// for the life of a price.
func (c *Client) ResolvePriceID(ctx context.Context, planID string, period types.BillingPeriod) (string, error) {
	lookupKey := priceLookupKey(planID, period)

	if cached, ok := c.priceCache.Get(lookupKey); ok {
		return cached.(string), nil
	}

	var priceID string
	err := c.withRetry(ctx, "price.list", func() error {
		params := &stripe.PriceListParams{
			LookupKeys: []*string{stripe.String(lookupKey)},
		}
		params.Limit = stripe.Int64(1)

		for price, err := range c.sc.V1Prices.List(ctx, params) {
			if err != nil {
				return err
			}
			priceID = price.ID
			break
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if priceID == "" {
		return "", ierr.NewError("no provider price for plan").
			WithHint("Provider price is missing for the plan and billing period").
			WithReportableDetails(map[string]any{
				"plan_id":        planID,
				"billing_period": period,
				"lookup_key":     lookupKey,
			}).
			Mark(ierr.ErrConfiguration)
	}

	c.priceCache.SetDefault(lookupKey, priceID)
	return priceID, nil
}

// ResolvePlanFromPrice maps a provider price id back to the catalog plan and
// billing period encoded in its lookup key
func (c *Client) ResolvePlanFromPrice(ctx context.Context, priceID string) (string, types.BillingPeriod, error) {
	cacheKey := "price_id:" + priceID
	if cached, ok := c.priceCache.Get(cacheKey); ok {
		parsed := cached.([2]string)
		return parsed[0], types.BillingPeriod(parsed[1]), nil
	}

	var price *stripe.Price
	err := c.withRetry(ctx, "price.retrieve", func() error {
		var err error
		price, err = c.sc.V1Prices.Retrieve(ctx, priceID, nil)
		return err
	})
	if err != nil {
		return "", "", c.wrapNotFound(err, "price not found at provider", priceID)
	}

	planID, period, ok := parsePriceLookupKey(price.LookupKey)
	if !ok {
		return "", "", ierr.NewError("provider price has no parseable lookup key").
			WithHint("Provider price is not bound to a catalog plan").
			WithReportableDetails(map[string]any{
				"price_id":   priceID,
				"lookup_key": price.LookupKey,
			}).
			Mark(ierr.ErrConfiguration)
	}

	c.priceCache.SetDefault(cacheKey, [2]string{planID, string(period)})
	return planID, period, nil
}

func parsePriceLookupKey(lookupKey string) (string, types.BillingPeriod, bool) {
	idx := strings.LastIndex(lookupKey, "_")
	if idx <= 0 || idx == len(lookupKey)-1 {
		return "", "", false
	}
	period := types.BillingPeriod(strings.ToUpper(lookupKey[idx+1:]))
	if err := period.Validate(); err != nil {
		return "", "", false
	}
	return lookupKey[:idx], period, true
}
