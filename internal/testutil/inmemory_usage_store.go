package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/subsync/internal/domain/usage"
)

// InMemoryUsageStore implements the append-only usage log for tests
type InMemoryUsageStore struct {
	mu      sync.RWMutex
	records []*usage.UsageRecord
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{}
}

func (s *InMemoryUsageStore) Insert(ctx context.Context, record *usage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.records = append(s.records, &stored)
	return nil
}

func (s *InMemoryUsageStore) Total(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, record := range s.records {
		if s.matches(record, tenantID, metric, periodStart, periodEnd) {
			total += record.Quantity
		}
	}
	return total, nil
}

func (s *InMemoryUsageStore) List(ctx context.Context, tenantID, metric string, periodStart, periodEnd time.Time) ([]*usage.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*usage.UsageRecord
	for _, record := range s.records {
		if s.matches(record, tenantID, metric, periodStart, periodEnd) {
			stored := *record
			out = append(out, &stored)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *InMemoryUsageStore) matches(record *usage.UsageRecord, tenantID, metric string, periodStart, periodEnd time.Time) bool {
	return record.TenantID == tenantID &&
		record.Metric == metric &&
		!record.Timestamp.Before(periodStart) &&
		record.Timestamp.Before(periodEnd)
}
