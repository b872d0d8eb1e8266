// Package sched provides the per-key timing primitives used by the change
// capture pipeline: a debouncer that coalesces rapid events and a
// leading/trailing-edge throttle.
package sched

import (
	"sync"
	"time"
)

// pending holds the armed timer and the latest callback for one key.
type pending struct {
	timer *time.Timer
	fire  func()
}

// Debouncer coalesces rapid repeated events per key, acting only after a
// quiet period. Re-scheduling a key replaces its pending callback, so only
// the latest one ever fires. Callbacks run outside the internal lock.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	entries map[string]*pending
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{
		delay:   delay,
		entries: make(map[string]*pending),
	}
}

// Schedule arms (or re-arms) the timer for key with the given callback.
// If the delay is zero the callback runs immediately on the calling
// goroutine.
func (d *Debouncer) Schedule(key string, fire func()) {
	if fire == nil {
		return
	}
	if d.delay == 0 {
		fire()
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if p, ok := d.entries[key]; ok {
		p.timer.Stop()
		p.fire = fire
		p.timer = time.AfterFunc(d.delay, func() { d.Flush(key) })
		d.mu.Unlock()
		return
	}
	p := &pending{fire: fire}
	p.timer = time.AfterFunc(d.delay, func() { d.Flush(key) })
	d.entries[key] = p
	d.mu.Unlock()
}

// Flush fires the pending callback for key synchronously, if one exists.
// The timer is cancelled first so the callback runs at most once.
func (d *Debouncer) Flush(key string) {
	d.mu.Lock()
	p, ok := d.entries[key]
	if ok {
		delete(d.entries, key)
		p.timer.Stop()
	}
	d.mu.Unlock()
	if ok {
		p.fire()
	}
}

// FlushAll fires every pending callback synchronously, each exactly once.
func (d *Debouncer) FlushAll() {
	d.mu.Lock()
	fires := make([]func(), 0, len(d.entries))
	for key, p := range d.entries {
		p.timer.Stop()
		fires = append(fires, p.fire)
		delete(d.entries, key)
	}
	d.mu.Unlock()
	for _, fire := range fires {
		fire()
	}
}

// Cancel drops the pending callback for key without firing it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	if p, ok := d.entries[key]; ok {
		p.timer.Stop()
		delete(d.entries, key)
	}
	d.mu.Unlock()
}

// Pending reports whether key has an armed timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}

// PendingKeys returns the keys with armed timers.
func (d *Debouncer) PendingKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.entries))
	for key := range d.entries {
		keys = append(keys, key)
	}
	return keys
}

// Stop cancels all pending timers without firing them and rejects further
// scheduling. Callers that need the last event delivered must FlushAll first.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.entries {
		p.timer.Stop()
		delete(d.entries, key)
	}
}
