package engine

import (
	"context"
	"sync"
	"time"
)

// keyedLocks hands out one mutual-exclusion slot per key with a bounded
// wait. Two requests against the same session serialize here; a request
// that cannot get the slot inside the wait budget fails with ErrBusy
// instead of piling up.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*lockSlot)}
}

// acquire takes the slot for key, waiting at most wait. The caller must
// release with the same key exactly once after a nil return.
func (k *keyedLocks) acquire(ctx context.Context, key string, wait time.Duration) error {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-timer.C:
		k.abandon(key, s)
		return ErrBusy
	case <-ctx.Done():
		k.abandon(key, s)
		return ctx.Err()
	}
}

// release frees the slot for key.
func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	<-s.ch
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

// abandon drops a waiter's reference without taking the slot.
func (k *keyedLocks) abandon(key string, s *lockSlot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}
