package usage

import (
	"context"
	"time"
)

// Repository is the append-only usage log. Insert is the Usage Meter's only
// write entry point; Total is a pure aggregation over the period.
type Repository interface {
	Insert(ctx context.Context, record *UsageRecord) error

	// Total sums signed quantities for the tenant and metric with
	// periodStart <= timestamp < periodEnd
	Total(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) (int64, error)

	// List returns the tenant's records in a period, newest first
	List(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) ([]*UsageRecord, error)
}
