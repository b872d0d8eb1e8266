package sched

import (
	"sync"
	"time"
)

// Throttle rate-limits events per key with leading plus trailing edge
// semantics: the first event in a window fires immediately, intermediates
// are dropped, and the last event in the window is always delivered when
// the window elapses. Callbacks run outside the internal lock.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	trailing map[string]*pending
	now      func() time.Time
	stopped  bool
}

// NewThrottle creates a throttle with the given window.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		trailing: make(map[string]*pending),
		now:      time.Now,
	}
}

// Do submits an event for key. It returns true when the event fired on the
// leading edge; otherwise the callback is stored (replacing any earlier
// trailing candidate) and fires when the current window ends.
func (t *Throttle) Do(key string, fire func()) bool {
	if fire == nil {
		return false
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	now := t.now()
	elapsed := now.Sub(t.last[key])
	if t.interval <= 0 || elapsed >= t.interval {
		// A trailing candidate left over from the previous window is
		// stale now; it must not fire after this fresher event.
		if p, ok := t.trailing[key]; ok {
			p.timer.Stop()
			delete(t.trailing, key)
		}
		t.last[key] = now
		t.mu.Unlock()
		fire()
		return true
	}

	remaining := t.interval - elapsed
	if p, ok := t.trailing[key]; ok {
		p.timer.Stop()
		p.fire = fire
		p.timer = time.AfterFunc(remaining, func() { t.fireTrailing(key) })
	} else {
		p := &pending{fire: fire}
		p.timer = time.AfterFunc(remaining, func() { t.fireTrailing(key) })
		t.trailing[key] = p
	}
	t.mu.Unlock()
	return false
}

func (t *Throttle) fireTrailing(key string) {
	t.mu.Lock()
	p, ok := t.trailing[key]
	if ok {
		delete(t.trailing, key)
		t.last[key] = t.now()
	}
	t.mu.Unlock()
	if ok {
		p.fire()
	}
}

// Cancel drops any trailing candidate for key without firing it.
func (t *Throttle) Cancel(key string) {
	t.mu.Lock()
	if p, ok := t.trailing[key]; ok {
		p.timer.Stop()
		delete(t.trailing, key)
	}
	t.mu.Unlock()
}

// Reset clears all window state so the next event for every key passes on
// the leading edge. Pending trailing candidates are dropped. Called on file
// switch, where events from the previous file must not delay the new one.
func (t *Throttle) Reset() {
	t.mu.Lock()
	for key, p := range t.trailing {
		p.timer.Stop()
		delete(t.trailing, key)
	}
	t.last = make(map[string]time.Time)
	t.mu.Unlock()
}

// Stop drops all state and rejects further events.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, p := range t.trailing {
		p.timer.Stop()
		delete(t.trailing, key)
	}
}
