// Package dispatch provides timer support for scheduled one-shot actions.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sliceline/pizzabot/internal/util"
)

// SimpleTimer schedules one-shot functions using the standard time package.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.Mutex
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules a function to run after a delay and returns the
// timer id for cancellation.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) string {
	id := util.GenerateRandomID("timer_", 16)

	timer := time.AfterFunc(delay, func() {
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = timer
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter succeeded", "id", id, "delay", delay)
	return id
}

// Cancel cancels a scheduled function by id. Cancelling an unknown or
// already-fired timer is a no-op.
func (t *SimpleTimer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, exists := t.timers[id]; exists {
		timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	}
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	slog.Debug("SimpleTimer stopped all timers")
}
