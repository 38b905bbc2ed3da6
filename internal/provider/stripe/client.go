package stripe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/subsync/internal/config"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/provider"
	gocache "github.com/patrickmn/go-cache"
	"github.com/stripe/stripe-go/v82"
)

const (
	priceCacheTTL     = 10 * time.Minute
	priceCachePurge   = 30 * time.Minute
	maxRetryAttempts  = 3
	initialRetryDelay = 200 * time.Millisecond
)

// Client implements provider.Client on top of the Stripe API
type Client struct {
	sc         *stripe.Client
	priceCache *gocache.Cache
	logger     *logger.Logger
}

var _ provider.Client = (*Client)(nil)

// NewClient creates a Stripe-backed provider client
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	if cfg.Stripe.SecretKey == "" {
		return nil, ierr.NewError("stripe secret key not configured").
			WithHint("Stripe credentials are missing").
			Mark(ierr.ErrConfiguration)
	}

	return &Client{
		sc:         stripe.NewClient(cfg.Stripe.SecretKey, nil),
		priceCache: gocache.New(priceCacheTTL, priceCachePurge),
		logger:     log,
	}, nil
}

// withRetry runs the call with bounded exponential backoff, retrying only
// transient provider failures. Non-transient errors surface immediately.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := call()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			c.logger.Warnw("transient stripe error, retrying",
				"op", op,
				"attempt", attempts,
				"error", err,
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetryAttempts), ctx))

	if err == nil {
		return nil
	}
	if isTransient(err) {
		return ierr.WithError(err).
			WithHint("The billing provider is temporarily unavailable, please retry").
			WithReportableDetails(map[string]any{"op": op, "attempts": attempts}).
			Mark(ierr.ErrProviderTransient)
	}
	return err
}

// isTransient classifies rate limits, server-side failures and transport
// errors as retryable
func isTransient(err error) bool {
	var stripeErr *stripe.Error
	if ierr.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500 {
			return true
		}
		return false
	}
	// non-API errors from the SDK are transport-level
	return true
}
