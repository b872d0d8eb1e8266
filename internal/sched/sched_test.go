package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesToLatest(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var got atomic.Int32
	for i := 1; i <= 5; i++ {
		v := int32(i)
		d.Schedule("k", func() { got.Store(v) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)
	if got.Load() != 5 {
		t.Errorf("fired value = %d, want 5 (latest)", got.Load())
	}
}

func TestDebouncer_FlushFiresSynchronously(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	fired := false
	d.Schedule("k", func() { fired = true })
	d.Flush("k")
	if !fired {
		t.Error("Flush did not fire the pending callback synchronously")
	}
	if d.Pending("k") {
		t.Error("key still pending after Flush")
	}
}

func TestDebouncer_FlushFiresAtMostOnce(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var count atomic.Int32
	d.Schedule("k", func() { count.Add(1) })
	d.Flush("k")
	d.Flush("k")
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", count.Load())
	}
}

func TestDebouncer_FlushAll(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	var mu sync.Mutex
	fired := map[string]bool{}
	for _, key := range []string{"a", "b", "c"} {
		k := key
		d.Schedule(k, func() {
			mu.Lock()
			fired[k] = true
			mu.Unlock()
		})
	}

	d.FlushAll()
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 3 {
		t.Errorf("FlushAll fired %d callbacks, want 3", len(fired))
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	var count atomic.Int32
	d.Schedule("k", func() { count.Add(1) })
	d.Stop()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != 0 {
		t.Error("callback fired after Stop")
	}

	d.Schedule("k", func() { count.Add(1) })
	time.Sleep(30 * time.Millisecond)
	if count.Load() != 0 {
		t.Error("Schedule accepted after Stop")
	}
}

func TestDebouncer_ZeroDelayFiresInline(t *testing.T) {
	d := NewDebouncer(0)
	fired := false
	d.Schedule("k", func() { fired = true })
	if !fired {
		t.Error("zero-delay debouncer must fire inline")
	}
}

func TestThrottle_LeadingAndTrailing(t *testing.T) {
	th := NewThrottle(30 * time.Millisecond)
	defer th.Stop()

	var count atomic.Int32
	var last atomic.Int32

	// 10 events 5ms apart: the first passes on the leading edge, the rest
	// collapse into a single trailing fire carrying the final payload.
	leading := 0
	for i := 1; i <= 10; i++ {
		v := int32(i)
		if th.Do("k", func() { count.Add(1); last.Store(v) }) {
			leading++
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)

	fired := count.Load()
	if fired < 2 || fired >= 10 {
		t.Errorf("fired %d times, want a small number >= 2 (leading + trailing), never all 10", fired)
	}
	if last.Load() != 10 {
		t.Errorf("final fired payload = %d, want 10 (the last event)", last.Load())
	}
	if leading == 0 {
		t.Error("no event fired on the leading edge")
	}
}

func TestThrottle_TrailingCarriesLatest(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)
	defer th.Stop()

	var got atomic.Int32
	th.Do("k", func() {}) // consume leading edge
	for i := 1; i <= 3; i++ {
		v := int32(i)
		th.Do("k", func() { got.Store(v) })
	}

	time.Sleep(100 * time.Millisecond)
	if got.Load() != 3 {
		t.Errorf("trailing payload = %d, want 3", got.Load())
	}
}

func TestThrottle_ResetPassesNextEvent(t *testing.T) {
	th := NewThrottle(time.Hour)
	defer th.Stop()

	if !th.Do("k", func() {}) {
		t.Fatal("first event should pass on leading edge")
	}
	if th.Do("k", func() {}) {
		t.Fatal("second event inside the window should be deferred")
	}

	th.Reset()
	if !th.Do("k", func() {}) {
		t.Error("event after Reset should pass on leading edge")
	}
}

func TestThrottle_LeadingAbsorbsStaleTrailing(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)
	defer th.Stop()

	clock := time.Now()
	th.now = func() time.Time { return clock }

	var mu sync.Mutex
	var order []string
	record := func(v string) func() {
		return func() {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
		}
	}

	th.Do("k", record("first"))
	th.Do("k", record("stale"))
	clock = clock.Add(60 * time.Millisecond)
	if !th.Do("k", record("fresh")) {
		t.Fatal("event after the window should pass on the leading edge")
	}

	// The stale trailing candidate's timer window passes; it must not
	// deliver after the fresher leading fire.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "fresh" {
		t.Errorf("fired order = %v, want [first fresh]", order)
	}
}

func TestThrottle_KeysIndependent(t *testing.T) {
	th := NewThrottle(time.Hour)
	defer th.Stop()

	th.Do("a", func() {})
	if !th.Do("b", func() {}) {
		t.Error("key b throttled by key a's window")
	}
}
