package job

import (
	"context"
	"sync"
)

// Signal is a one-shot completion flag. The first Set wins; later calls are no-ops.
// Any number of goroutines may produce or wait on it.
type Signal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason string
}

// NewSignal returns an unset Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set marks the signal with reason. It reports whether this call was the one that set it.
func (s *Signal) Set(reason string) bool {
	set := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		set = true
	})
	return set
}

// Done is closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// IsSet reports whether Set has been called.
func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason passed to the winning Set call.
func (s *Signal) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Wait blocks until the signal is set or ctx ends.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
