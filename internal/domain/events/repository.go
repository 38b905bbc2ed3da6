package events

import "context"

// Repository is the idempotency ledger store. Claim is the only entry point
// that may insert: it atomically inserts the entry as pending, or returns
// the existing entry for the same provider event id so the processor can
// decide between ack, reject and retry.
type Repository interface {
	// Claim inserts the event as pending if its provider event id is unseen.
	// It returns the stored entry and whether this call inserted it.
	Claim(ctx context.Context, event *WebhookEvent) (*WebhookEvent, bool, error)

	// MarkCompleted finalizes a pending or previously failed entry
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed records the failure detail; the provider will redeliver
	MarkFailed(ctx context.Context, id string, errDetail string) error

	// MarkPending re-opens a failed entry for a redelivery attempt
	MarkPending(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*WebhookEvent, error)
	GetByProviderEventID(ctx context.Context, providerEventID string) (*WebhookEvent, error)
}
