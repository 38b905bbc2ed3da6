package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/provider"
	"github.com/flexprice/subsync/internal/types"
)

// FakeProviderClient is an in-memory provider.Client. It records every call
// and can be primed to fail specific operations.
type FakeProviderClient struct {
	mu sync.Mutex

	Subscriptions map[string]*provider.Subscription
	Schedules     map[string][]provider.Phase

	// Calls records "operation:id" in invocation order
	Calls []string

	// FailOn maps an operation name to the error its next invocation returns
	FailOn map[string]error

	scheduleSeq int
}

func NewFakeProviderClient() *FakeProviderClient {
	return &FakeProviderClient{
		Subscriptions: make(map[string]*provider.Subscription),
		Schedules:     make(map[string][]provider.Phase),
		FailOn:        make(map[string]error),
	}
}

// PriceID returns the deterministic fake price id for a plan and period
func PriceID(planID string, period types.BillingPeriod) string {
	return fmt.Sprintf("price_%s_%s", planID, strings.ToLower(string(period)))
}

func (f *FakeProviderClient) record(op, id string) error {
	f.Calls = append(f.Calls, op+":"+id)
	if err, ok := f.FailOn[op]; ok {
		delete(f.FailOn, op)
		return err
	}
	return nil
}

// CallsTo returns how many recorded calls match the operation
func (f *FakeProviderClient) CallsTo(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, call := range f.Calls {
		if strings.HasPrefix(call, op+":") {
			count++
		}
	}
	return count
}

func (f *FakeProviderClient) GetSubscription(ctx context.Context, providerSubscriptionID string) (*provider.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("get_subscription", providerSubscriptionID); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[providerSubscriptionID]
	if !ok {
		return nil, ierr.NewError("subscription not found at provider").
			WithHint("The referenced object does not exist at the billing provider").
			Mark(ierr.ErrNotFound)
	}
	out := *sub
	return &out, nil
}

func (f *FakeProviderClient) UpdateSubscriptionPlan(ctx context.Context, providerSubscriptionID string, params provider.UpdatePlanParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("update_plan", providerSubscriptionID); err != nil {
		return err
	}
	sub, ok := f.Subscriptions[providerSubscriptionID]
	if !ok {
		return ierr.NewError("subscription not found at provider").Mark(ierr.ErrNotFound)
	}
	sub.PriceID = params.PriceID
	for k, v := range params.Metadata {
		f.setMetadata(sub, k, v)
	}
	return nil
}

func (f *FakeProviderClient) SetCancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string, cancel bool, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("set_cancel_at_period_end", providerSubscriptionID); err != nil {
		return err
	}
	sub, ok := f.Subscriptions[providerSubscriptionID]
	if !ok {
		return ierr.NewError("subscription not found at provider").Mark(ierr.ErrNotFound)
	}
	sub.CancelAtPeriodEnd = cancel
	for k, v := range metadata {
		f.setMetadata(sub, k, v)
	}
	return nil
}

func (f *FakeProviderClient) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("cancel_subscription", providerSubscriptionID); err != nil {
		return err
	}
	sub, ok := f.Subscriptions[providerSubscriptionID]
	if !ok {
		return ierr.NewError("subscription not found at provider").Mark(ierr.ErrNotFound)
	}
	sub.Status = types.SubscriptionStatusCancelled
	return nil
}

func (f *FakeProviderClient) CreateSchedule(ctx context.Context, providerSubscriptionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("create_schedule", providerSubscriptionID); err != nil {
		return "", err
	}
	sub, ok := f.Subscriptions[providerSubscriptionID]
	if !ok {
		return "", ierr.NewError("subscription not found at provider").Mark(ierr.ErrNotFound)
	}

	f.scheduleSeq++
	scheduleID := fmt.Sprintf("sched_%d", f.scheduleSeq)
	f.Schedules[scheduleID] = nil
	sub.ScheduleID = scheduleID
	return scheduleID, nil
}

func (f *FakeProviderClient) UpdateSchedulePhases(ctx context.Context, scheduleID string, phases []provider.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("update_schedule_phases", scheduleID); err != nil {
		return err
	}
	if _, ok := f.Schedules[scheduleID]; !ok {
		return ierr.NewError("schedule not found at provider").Mark(ierr.ErrNotFound)
	}
	f.Schedules[scheduleID] = phases
	return nil
}

func (f *FakeProviderClient) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("release_schedule", scheduleID); err != nil {
		return err
	}
	delete(f.Schedules, scheduleID)
	for _, sub := range f.Subscriptions {
		if sub.ScheduleID == scheduleID {
			sub.ScheduleID = ""
		}
	}
	return nil
}

func (f *FakeProviderClient) ResolvePriceID(ctx context.Context, planID string, period types.BillingPeriod) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("resolve_price", planID); err != nil {
		return "", err
	}
	return PriceID(planID, period), nil
}

func (f *FakeProviderClient) ResolvePlanFromPrice(ctx context.Context, priceID string) (string, types.BillingPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("resolve_plan", priceID); err != nil {
		return "", "", err
	}

	trimmed := strings.TrimPrefix(priceID, "price_")
	idx := strings.LastIndex(trimmed, "_")
	if idx < 0 {
		return "", "", ierr.NewError("unrecognized price id").
			WithHint("Price id does not follow the fake convention").
			Mark(ierr.ErrConfiguration)
	}
	planID := trimmed[:idx]
	period := types.BillingPeriod(strings.ToUpper(trimmed[idx+1:]))
	if err := period.Validate(); err != nil {
		return "", "", err
	}
	return planID, period, nil
}

func (f *FakeProviderClient) setMetadata(sub *provider.Subscription, key, value string) {
	if sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	if value == "" {
		delete(sub.Metadata, key)
		return
	}
	sub.Metadata[key] = value
}
