// Package keylock provides per-campaign mutual exclusion for the automation
// engine. Evaluation, approval decisions, and execution for one campaign all
// serialize on the campaign's lock; work on different campaigns proceeds in
// parallel.
package keylock

import (
	"context"
	"sync"
	"time"
)

// Lock is the keyed locking interface.
// Acquire blocks until the key's lock is held or the context ends.
// TryAcquire returns immediately; ok=false means someone else holds the key
// (the scheduler treats that as an overlap and skips the tick).
// Both return a release func that must be called exactly once.
type Lock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Keyed is the in-process implementation: one mutex per key, created on
// first use. Suitable for a single-instance deployment; multi-instance
// deployments use RedisLock so two hosts never evaluate the same campaign.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyState
}

type keyState struct {
	held    bool
	waiters []chan struct{}
}

// NewKeyed creates an in-process keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyState)}
}

// TryAcquire takes the key's lock if it is free.
func (k *Keyed) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := k.locks[key]
	if st == nil {
		st = &keyState{}
		k.locks[key] = st
	}
	if st.held {
		return nil, false, nil
	}
	st.held = true
	return func() { k.release(key) }, true, nil
}

// Acquire blocks until the key's lock is held or ctx is done.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		k.mu.Lock()
		st := k.locks[key]
		if st == nil {
			st = &keyState{}
			k.locks[key] = st
		}
		if !st.held {
			st.held = true
			k.mu.Unlock()
			return func() { k.release(key) }, nil
		}
		wait := make(chan struct{})
		st.waiters = append(st.waiters, wait)
		k.mu.Unlock()

		select {
		case <-ctx.Done():
			k.dropWaiter(key, wait)
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := k.locks[key]
	if st == nil {
		return
	}
	st.held = false
	for _, w := range st.waiters {
		close(w)
	}
	st.waiters = nil
	// Woken waiters loop in Acquire and recreate the key state themselves.
	delete(k.locks, key)
}

func (k *Keyed) dropWaiter(key string, wait chan struct{}) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := k.locks[key]
	if st == nil {
		return
	}
	for i, w := range st.waiters {
		if w == wait {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			break
		}
	}
}

// pollInterval is how often the Redis implementation re-tries a held key
// during a blocking Acquire.
const pollInterval = 50 * time.Millisecond
