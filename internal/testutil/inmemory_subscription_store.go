package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository for tests,
// including the version compare-and-swap semantics of the real store
type InMemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{subs: make(map[string]*subscription.Subscription)}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	out := *sub
	if sub.ScheduledChange != nil {
		change := *sub.ScheduledChange
		out.ScheduledChange = &change
	}
	return &out
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; ok {
		return ierr.NewError("subscription already exists").
			WithHint("A subscription with this id already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	s.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, notFoundErr()
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			return copySubscription(sub), nil
		}
	}
	return nil, notFoundErr()
}

func (s *InMemorySubscriptionStore) GetActiveByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.TenantID == tenantID && !sub.SubscriptionStatus.IsTerminal() {
			return copySubscription(sub), nil
		}
	}
	return nil, notFoundErr()
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subs[sub.ID]
	if !ok {
		return notFoundErr()
	}
	if stored.Version != sub.Version {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("The subscription changed underneath this update, retry with fresh state").
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	s.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if filter != nil {
			if filter.PlanID != "" && sub.PlanID != filter.PlanID {
				continue
			}
			if len(filter.SubscriptionStatus) > 0 && !lo.Contains(filter.SubscriptionStatus, sub.SubscriptionStatus) {
				continue
			}
			if filter.UpdatedBefore != nil && !sub.UpdatedAt.Before(*filter.UpdatedBefore) {
				continue
			}
		}
		out = append(out, copySubscription(sub))
		if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func notFoundErr() error {
	return ierr.NewError("subscription not found").
		WithHint("Subscription not found").
		Mark(ierr.ErrNotFound)
}
