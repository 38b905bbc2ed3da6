package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flexprice/subsync/internal/domain/events"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/types"
	"github.com/jmoiron/sqlx"
)

type eventRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewEventRepository creates a postgres-backed idempotency ledger
func NewEventRepository(db *sqlx.DB, log *logger.Logger) events.Repository {
	return &eventRepository{db: db, logger: log}
}

const eventColumns = `id, provider_event_id, event_type, processing_status,
	error_detail, first_seen_at, processed_at,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

// Claim inserts the entry unless the provider event id was already claimed.
// The unique index on provider_event_id makes the insert-or-skip atomic; when
// the insert is skipped the stored entry is returned instead.
func (r *eventRepository) Claim(ctx context.Context, event *events.WebhookEvent) (*events.WebhookEvent, bool, error) {
	query := `INSERT INTO webhook_events (` + eventColumns + `) VALUES (
		:id, :provider_event_id, :event_type, :processing_status,
		:error_detail, :first_seen_at, :processed_at,
		:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)
	ON CONFLICT (provider_event_id) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return nil, false, ierr.WithError(err).
			WithHint("Failed to claim webhook event").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, ierr.WithError(err).
			WithHint("Failed to claim webhook event").
			Mark(ierr.ErrDatabase)
	}
	if affected == 1 {
		return event, true, nil
	}

	existing, err := r.GetByProviderEventID(ctx, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *eventRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, types.WebhookEventStatusCompleted, "")
}

func (r *eventRepository) MarkFailed(ctx context.Context, id string, errDetail string) error {
	return r.setStatus(ctx, id, types.WebhookEventStatusFailed, errDetail)
}

// MarkPending re-opens a failed entry for one retrying delivery. The status
// guard makes the reopen exclusive: concurrent redeliveries that both saw
// failed race on it, and the loser is turned away as busy.
func (r *eventRepository) MarkPending(ctx context.Context, id string) error {
	query := `UPDATE webhook_events SET
		processing_status = $1, error_detail = '', processed_at = NULL, updated_at = $2
	WHERE id = $3 AND processing_status = $4`
	res, err := r.db.ExecContext(ctx, query,
		types.WebhookEventStatusPending, time.Now().UTC(), id, types.WebhookEventStatusFailed)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to re-open webhook event").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to re-open webhook event").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("event is no longer failed").
			WithHint("A concurrent delivery already re-opened this event").
			WithReportableDetails(map[string]any{"event_id": id}).
			Mark(ierr.ErrBusy)
	}
	return nil
}

func (r *eventRepository) setStatus(ctx context.Context, id string, status types.WebhookEventStatus, errDetail string) error {
	now := time.Now().UTC()
	query := `UPDATE webhook_events SET
		processing_status = $1, error_detail = $2, processed_at = $3, updated_at = $3
	WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, errDetail, now, id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update webhook event status").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *eventRepository) Get(ctx context.Context, id string) (*events.WebhookEvent, error) {
	return r.getOne(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id)
}

func (r *eventRepository) GetByProviderEventID(ctx context.Context, providerEventID string) (*events.WebhookEvent, error) {
	return r.getOne(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE provider_event_id = $1`, providerEventID)
}

func (r *eventRepository) getOne(ctx context.Context, query string, args ...any) (*events.WebhookEvent, error) {
	var event events.WebhookEvent
	if err := r.db.GetContext(ctx, &event, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.WithError(err).
				WithHint("Webhook event not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load webhook event").
			Mark(ierr.ErrDatabase)
	}
	return &event, nil
}
