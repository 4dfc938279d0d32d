package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRegistry() *Registry {
	r := New()
	r.InitialInterval = time.Millisecond
	r.MaxInterval = 5 * time.Millisecond
	r.MaxRetries = 4
	return r
}

func TestTryAcquireRelease(t *testing.T) {
	t.Parallel()

	r := fastRegistry()
	require.True(t, r.TryAcquire("acct-1|2026-02"))
	require.False(t, r.TryAcquire("acct-1|2026-02"))
	require.True(t, r.TryAcquire("acct-2|2026-02"), "keys are independent")
	r.Release("acct-1|2026-02")
	require.True(t, r.TryAcquire("acct-1|2026-02"))
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	r := fastRegistry()
	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "k"))

	err := r.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	t.Parallel()

	r := fastRegistry()
	r.MaxRetries = 64
	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "k"))

	done := make(chan error, 1)
	go func() { done <- r.Acquire(ctx, "k") }()
	time.Sleep(2 * time.Millisecond)
	r.Release("k")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never returned")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := New() // slow defaults so the context wins
	require.True(t, r.TryAcquire("k"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentHoldersSerialize(t *testing.T) {
	t.Parallel()

	r := fastRegistry()
	r.MaxRetries = 64
	r.MaxInterval = 2 * time.Millisecond

	var counter int
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Acquire(context.Background(), "shared"); err != nil {
				errs <- err
				return
			}
			defer r.Release("shared")
			counter++
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 8, counter)
}

func TestReleaseUnheldPanics(t *testing.T) {
	t.Parallel()

	r := fastRegistry()
	require.Panics(t, func() { r.Release("never-held") })
}
