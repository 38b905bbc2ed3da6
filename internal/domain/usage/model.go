package usage

import (
	"time"

	"github.com/flexprice/subsync/internal/types"
)

// UsageRecord is one append-only consumption event. Records are never
// mutated; period totals are a pure aggregation over them. Concurrency-style
// metrics use paired +1/-1 records instead of a mutable counter so the total
// is always recomputable from the log.
type UsageRecord struct {
	// ID is the unique identifier for the record
	ID string `db:"id" json:"id"`

	// Metric is the usage metric name, matching a plan limit key
	Metric string `db:"metric" json:"metric"`

	// Quantity is signed; negative quantities close out concurrency slots
	Quantity int64 `db:"quantity" json:"quantity"`

	// Timestamp is when the consumption happened
	Timestamp time.Time `db:"timestamp" json:"timestamp"`

	// PeriodStart keys the record to the billing period it landed in so
	// aggregation does not rescan unrelated periods
	PeriodStart time.Time `db:"period_start" json:"period_start"`

	types.BaseModel
}

// NewUsageRecord builds a record for the tenant in the request context
func NewUsageRecord(base types.BaseModel, metric string, quantity int64, ts, periodStart time.Time) *UsageRecord {
	return &UsageRecord{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_RECORD),
		Metric:      metric,
		Quantity:    quantity,
		Timestamp:   ts,
		PeriodStart: periodStart,
		BaseModel:   base,
	}
}
