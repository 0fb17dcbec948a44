package crawler

import (
	"context"
	"log/slog"
	"sync"
)

type exemptKey struct{}

// WithExempt marks ctx as belonging to the worker that owns suspension, so
// ParkWhileSuspended never blocks it on its own request.
func WithExempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, exemptKey{}, true)
}

func isExempt(ctx context.Context) bool {
	v, _ := ctx.Value(exemptKey{}).(bool)
	return v
}

// SuspendSupport lets foreground work pause background crawls. Suspend and
// Resume nest; crawls park until the depth returns to zero.
type SuspendSupport struct {
	mu    sync.Mutex
	cond  *sync.Cond
	depth int
}

// NewSuspendSupport creates a resumed SuspendSupport
func NewSuspendSupport() *SuspendSupport {
	s := &SuspendSupport{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Suspend increments the suspend depth
func (s *SuspendSupport) Suspend() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

// Resume decrements the suspend depth and wakes parked crawls at zero
func (s *SuspendSupport) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		slog.Warn("Resume called without matching Suspend")
		return
	}
	s.depth--
	if s.depth == 0 {
		s.cond.Broadcast()
	}
}

// IsSuspended reports a non-zero suspend depth
func (s *SuspendSupport) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth > 0
}

// ParkWhileSuspended blocks until the depth is zero or ctx is done. It
// returns false when ctx ended the wait. Exempt contexts never park.
func (s *SuspendSupport) ParkWhileSuspended(ctx context.Context) bool {
	if s == nil || isExempt(ctx) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth == 0 {
		return true
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	slog.Debug("Crawl parked while suspended")
	for s.depth > 0 {
		if ctx.Err() != nil {
			return false
		}
		s.cond.Wait()
	}
	return true
}
