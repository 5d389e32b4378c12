package util

import (
	"context"
	"sync"
)

// Slot holds a value that is bound exactly once, possibly after readers
// started waiting for it. Waiters block on a channel closed by Set.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	ready chan struct{}
	once  sync.Once
}

func (s *Slot[T]) init() {
	s.once.Do(func() { s.ready = make(chan struct{}) })
}

// Set binds the value. It returns false if the slot was already bound, in
// which case the existing value is kept.
func (s *Slot[T]) Set(v T) bool {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return false
	}
	s.value = v
	s.set = true
	close(s.ready)
	return true
}

// Get returns the bound value without blocking
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Await blocks until the value is bound or ctx is done
func (s *Slot[T]) Await(ctx context.Context) (T, error) {
	s.init()
	select {
	case <-s.ready:
		v, _ := s.Get()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
