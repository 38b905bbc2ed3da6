package service

import (
	"context"
	"sync"
	"time"

	ierr "github.com/flexprice/subsync/internal/errors"
)

// LockManager serializes user-initiated mutations per subscription id.
// Acquisition is bounded: a caller that cannot take the lock within the
// timeout gets a busy error and must retry explicitly, it is never queued
// silently.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLockManager creates a new per-key lock manager
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*lockEntry)}
}

// Acquire takes the lock for key, waiting at most timeout. On success it
// returns a release function that must be called exactly once.
func (m *LockManager) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			m.release(key, entry)
		}, nil
	case <-timer.C:
		m.release(key, entry)
		return nil, ierr.NewError("could not acquire subscription lock").
			WithHint("A change is already in progress, please retry").
			WithReportableDetails(map[string]any{"subscription_id": key}).
			Mark(ierr.ErrBusy)
	case <-ctx.Done():
		m.release(key, entry)
		return nil, ierr.WithError(ctx.Err()).
			WithHint("Request was cancelled").
			Mark(ierr.ErrBusy)
	}
}

func (m *LockManager) release(key string, entry *lockEntry) {
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
