package service

import (
	"context"
	"sync"
	"testing"
	"time"

	ierr "github.com/flexprice/subsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerSerializesPerKey(t *testing.T) {
	locks := NewLockManager()
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "subs_1", 50*time.Millisecond)
	require.NoError(t, err)

	// same key is busy while held
	_, err = locks.Acquire(ctx, "subs_1", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, ierr.IsBusy(err))

	// a different key is independent
	otherRelease, err := locks.Acquire(ctx, "subs_2", 50*time.Millisecond)
	require.NoError(t, err)
	otherRelease()

	release()

	// released key can be taken again
	release, err = locks.Acquire(ctx, "subs_1", 50*time.Millisecond)
	require.NoError(t, err)
	release()
}

func TestLockManagerWaitsOutShortHolds(t *testing.T) {
	locks := NewLockManager()
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "subs_1", time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// generous timeout so the waiter wins once the holder releases
		r, err := locks.Acquire(ctx, "subs_1", 2*time.Second)
		assert.NoError(t, err)
		if err == nil {
			r()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()
}

func TestLockManagerHonorsContextCancellation(t *testing.T) {
	locks := NewLockManager()

	release, err := locks.Acquire(context.Background(), "subs_1", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = locks.Acquire(ctx, "subs_1", 5*time.Second)
	require.Error(t, err)
	assert.True(t, ierr.IsBusy(err))
}

func TestLockManagerConcurrentContention(t *testing.T) {
	locks := NewLockManager()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		busy      int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, "subs_hot", 10*time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				busy++
				return
			}
			succeeded++
			time.Sleep(50 * time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	// exactly one holder at a time; the rest time out against the 50ms hold
	assert.GreaterOrEqual(t, succeeded, 1)
	assert.Equal(t, 10, succeeded+busy)
}
