package main

import (
	"sync"
	"time"
)

// reconnectTimer is a cancellable one-shot timer that posts ReconnectTimerFired.
// Scheduling again replaces the previous timer.
type reconnectTimer struct {
	post func(Event)

	mu    sync.Mutex
	timer *time.Timer
}

func newReconnectTimer(post func(Event)) *reconnectTimer {
	return &reconnectTimer{post: post}
}

func (r *reconnectTimer) Schedule(after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(after, func() {
		r.mu.Lock()
		if r.timer != t {
			// Canceled or replaced before firing.
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()

		r.post(ReconnectTimerFired{})
	})
	r.timer = t
}

func (r *reconnectTimer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer == nil {
		return
	}
	// Clear the handle first so a callback racing with Stop sees it is stale.
	t := r.timer
	r.timer = nil
	t.Stop()
}

// Pending reports whether a timer is armed.
func (r *reconnectTimer) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}
