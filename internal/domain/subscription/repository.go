package subscription

import (
	"context"

	"github.com/flexprice/subsync/internal/types"
)

// Repository provides access to the subscription store. Update performs a
// compare-and-swap on the Version column and returns ErrVersionConflict when
// the row moved underneath the caller; everything that mutates a subscription
// goes through it so that per-row mutations serialize.
type Repository interface {
	Create(ctx context.Context, subscription *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// GetActiveByTenant returns the tenant's single non-terminal subscription.
	// A tenant without one is on the baseline free plan; that is a normal
	// state reported as ErrNotFound, not a failure.
	GetActiveByTenant(ctx context.Context, tenantID string) (*Subscription, error)

	// Update writes the subscription if and only if the stored version equals
	// subscription.Version, then increments it
	Update(ctx context.Context, subscription *Subscription) error

	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
}
