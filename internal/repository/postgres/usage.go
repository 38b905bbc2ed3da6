package postgres

import (
	"context"
	"time"

	"github.com/flexprice/subsync/internal/domain/usage"
	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/flexprice/subsync/internal/logger"
	"github.com/jmoiron/sqlx"
)

type usageRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewUsageRepository creates a postgres-backed append-only usage log
func NewUsageRepository(db *sqlx.DB, log *logger.Logger) usage.Repository {
	return &usageRepository{db: db, logger: log}
}

const usageColumns = `id, metric, quantity, timestamp, period_start,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *usageRepository) Insert(ctx context.Context, record *usage.UsageRecord) error {
	query := `INSERT INTO usage_records (` + usageColumns + `) VALUES (
		:id, :metric, :quantity, :timestamp, :period_start,
		:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to insert usage record").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *usageRepository) Total(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(quantity), 0) FROM usage_records
	WHERE tenant_id = $1 AND metric = $2 AND timestamp >= $3 AND timestamp < $4`

	if err := r.db.GetContext(ctx, &total, query, tenantID, metric, periodStart, periodEnd); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to aggregate usage").
			Mark(ierr.ErrDatabase)
	}
	return total, nil
}

func (r *usageRepository) List(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) ([]*usage.UsageRecord, error) {
	var records []*usage.UsageRecord
	query := `SELECT ` + usageColumns + ` FROM usage_records
	WHERE tenant_id = $1 AND metric = $2 AND timestamp >= $3 AND timestamp < $4
	ORDER BY timestamp DESC`

	if err := r.db.SelectContext(ctx, &records, query, tenantID, metric, periodStart, periodEnd); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list usage records").
			Mark(ierr.ErrDatabase)
	}
	return records, nil
}
