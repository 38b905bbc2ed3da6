package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/subsync/internal/domain/subscription"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/flexprice/subsync/internal/types"
	"github.com/jmoiron/sqlx"
)

type subscriptionRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewSubscriptionRepository creates a postgres-backed subscription store
func NewSubscriptionRepository(db *sqlx.DB, log *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: log}
}

// subscriptionRow flattens the scheduled change into nullable columns on the
// subscription row; at most one change exists so it does not need its own
// table
type subscriptionRow struct {
	subscription.Subscription
	ScheduledChangeRef    sql.NullString `db:"scheduled_change_ref"`
	ScheduledTargetPlanID sql.NullString `db:"scheduled_target_plan_id"`
	ScheduledTargetPeriod sql.NullString `db:"scheduled_target_billing_period"`
	ScheduledEffectiveAt  sql.NullTime   `db:"scheduled_effective_at"`
	ScheduledOrigin       sql.NullString `db:"scheduled_origin"`
}

func toRow(sub *subscription.Subscription) *subscriptionRow {
	row := &subscriptionRow{Subscription: *sub}
	if change := sub.ScheduledChange; change != nil {
		row.ScheduledChangeRef = sql.NullString{String: change.Reference, Valid: true}
		row.ScheduledTargetPlanID = sql.NullString{String: change.TargetPlanID, Valid: true}
		row.ScheduledTargetPeriod = sql.NullString{String: string(change.TargetBillingPeriod), Valid: true}
		row.ScheduledEffectiveAt = sql.NullTime{Time: change.EffectiveAt, Valid: true}
		row.ScheduledOrigin = sql.NullString{String: string(change.Origin), Valid: true}
	}
	return row
}

func (r *subscriptionRow) toDomain() *subscription.Subscription {
	sub := r.Subscription
	if r.ScheduledTargetPlanID.Valid {
		sub.ScheduledChange = &subscription.ScheduledChange{
			Reference:           r.ScheduledChangeRef.String,
			TargetPlanID:        r.ScheduledTargetPlanID.String,
			TargetBillingPeriod: types.BillingPeriod(r.ScheduledTargetPeriod.String),
			EffectiveAt:         r.ScheduledEffectiveAt.Time,
			Origin:              types.ScheduledChangeOrigin(r.ScheduledOrigin.String),
		}
	}
	return &sub
}

const subscriptionColumns = `id, plan_id, billing_period, subscription_status,
	current_period_start, current_period_end, cancel_at_period_end, cancelled_at,
	provider_subscription_id, provider_schedule_id, metadata, version,
	scheduled_change_ref, scheduled_target_plan_id, scheduled_target_billing_period,
	scheduled_effective_at, scheduled_origin,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `) VALUES (
		:id, :plan_id, :billing_period, :subscription_status,
		:current_period_start, :current_period_end, :cancel_at_period_end, :cancelled_at,
		:provider_subscription_id, :provider_schedule_id, :metadata, :version,
		:scheduled_change_ref, :scheduled_target_plan_id, :scheduled_target_billing_period,
		:scheduled_effective_at, :scheduled_origin,
		:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	_, err := r.db.NamedExecContext(ctx, query, toRow(sub))
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A subscription with this id already exists").
				WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.getOne(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 AND status != $2`,
		id, types.StatusDeleted)
}

func (r *subscriptionRepository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error) {
	return r.getOne(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = $1 AND status != $2`,
		providerSubscriptionID, types.StatusDeleted)
}

func (r *subscriptionRepository) GetActiveByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return r.getOne(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = $1 AND status = $2
		   AND subscription_status NOT IN ($3, $4)
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, types.StatusActive,
		types.SubscriptionStatusCancelled, types.SubscriptionStatusIncompleteExpired)
}

func (r *subscriptionRepository) getOne(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	var row subscriptionRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.WithError(err).
				WithHint("Subscription not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

// Update writes the row only when the stored version matches the caller's
// version, then increments both. A mismatch means the row moved underneath
// the caller and comes back as a version conflict.
func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	sub.UpdatedBy = types.GetUserID(ctx)

	query := `UPDATE subscriptions SET
		plan_id = :plan_id,
		billing_period = :billing_period,
		subscription_status = :subscription_status,
		current_period_start = :current_period_start,
		current_period_end = :current_period_end,
		cancel_at_period_end = :cancel_at_period_end,
		cancelled_at = :cancelled_at,
		provider_subscription_id = :provider_subscription_id,
		provider_schedule_id = :provider_schedule_id,
		metadata = :metadata,
		scheduled_change_ref = :scheduled_change_ref,
		scheduled_target_plan_id = :scheduled_target_plan_id,
		scheduled_target_billing_period = :scheduled_target_billing_period,
		scheduled_effective_at = :scheduled_effective_at,
		scheduled_origin = :scheduled_origin,
		status = :status,
		updated_at = :updated_at,
		updated_by = :updated_by,
		version = version + 1
	WHERE id = :id AND version = :version`

	res, err := r.db.NamedExecContext(ctx, query, toRow(sub))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		// either the row moved or it does not exist; disambiguate
		if _, getErr := r.Get(ctx, sub.ID); getErr != nil {
			return getErr
		}
		return ierr.NewError("subscription was modified concurrently").
			WithHint("The subscription changed underneath this update, retry with fresh state").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	return nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status != $1`
	args := []any{types.StatusDeleted}

	if filter != nil {
		if filter.PlanID != "" {
			args = append(args, filter.PlanID)
			query += fmt.Sprintf(" AND plan_id = $%d", len(args))
		}
		if len(filter.SubscriptionStatus) > 0 {
			placeholders := make([]string, 0, len(filter.SubscriptionStatus))
			for _, status := range filter.SubscriptionStatus {
				args = append(args, status)
				placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
			}
			query += " AND subscription_status IN (" + strings.Join(placeholders, ", ") + ")"
		}
		if filter.UpdatedBefore != nil {
			args = append(args, *filter.UpdatedBefore)
			query += fmt.Sprintf(" AND updated_at < $%d", len(args))
		}
	}

	query += " ORDER BY created_at DESC"
	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}

	subs := make([]*subscription.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, rows[i].toDomain())
	}
	return subs, nil
}
