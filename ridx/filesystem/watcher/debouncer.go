package watcher

import (
	"sync"
	"time"
)

// Task runs fn once the schedule requests stop arriving for delay. Every
// Schedule call slides the window forward, so a burst of requests collapses
// into a single run.
type Task struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	closed  bool

	// held for a whole run, from taking the request to fn returning;
	// always taken before mu
	runMu sync.Mutex
}

// NewTask creates a debounced task
func NewTask(delay time.Duration, fn func()) *Task {
	return &Task{delay: delay, fn: fn}
}

// Schedule requests a run after the window elapses
func (t *Task) Schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.pending = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
	}
	gen := t.gen
	t.timer = time.AfterFunc(t.delay, func() {
		t.fire(gen)
	})
}

// Pending reports whether a run is scheduled but has not started
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Task) fire(gen uint64) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if gen != t.gen || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.mu.Unlock()

	t.fn()
}

// Flush runs a pending request immediately and waits for it. It also waits
// for a run already in progress.
func (t *Task) Flush() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	pending := t.pending
	t.pending = false
	t.gen++
	t.mu.Unlock()

	if pending {
		t.fn()
	}
}

// Stop drops any pending request and refuses new ones
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.pending = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
