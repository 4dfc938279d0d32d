// Package keylock provides in-process advisory locks keyed by string,
// with bounded exponential-backoff acquisition.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrLockTimeout is returned when a key stays contended past the retry budget.
// Callers may retry the whole operation later.
var ErrLockTimeout = errors.New("keylock: timed out waiting for key")

// Registry hands out one advisory lock per key. Locks are created on first
// use and never discarded; key cardinality is small (account/period pairs,
// rule ids).
type Registry struct {
	mu   sync.Mutex
	sems map[string]chan struct{}

	// Acquire retry tuning. Zero values fall back to the defaults set by New.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

func New() *Registry {
	return &Registry{
		sems:            make(map[string]chan struct{}),
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxRetries:      8,
	}
}

func (r *Registry) sem(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		r.sems[key] = s
	}
	return s
}

// TryAcquire takes the lock for key without waiting.
func (r *Registry) TryAcquire(key string) bool {
	select {
	case r.sem(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire takes the lock for key, retrying with jittered exponential backoff
// up to MaxRetries attempts. It returns ErrLockTimeout once the budget is
// spent, or the context error if ctx ends first.
func (r *Registry) Acquire(ctx context.Context, key string) error {
	if r.TryAcquire(key) {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		bo.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		bo.MaxInterval = r.MaxInterval
	}
	op := func() error {
		if r.TryAcquire(key) {
			return nil
		}
		return ErrLockTimeout
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.MaxRetries), ctx))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Release frees the lock for key. Releasing a key that is not held is a
// programming error.
func (r *Registry) Release(key string) {
	select {
	case <-r.sem(key):
	default:
		panic("keylock: release of unheld key " + key)
	}
}
