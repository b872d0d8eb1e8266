package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_MinInterval(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	if got := l.CheckAt("a", base); got != OK {
		t.Fatalf("first message = %v, want OK", got)
	}
	if got := l.CheckAt("a", base.Add(100*time.Millisecond)); got != TooFast {
		t.Errorf("message 100ms later = %v, want TooFast", got)
	}
	if got := l.CheckAt("a", base.Add(600*time.Millisecond)); got != OK {
		t.Errorf("message 600ms later = %v, want OK", got)
	}
}

func TestLimiter_WindowCap(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	// 5 messages spaced 1s apart all fit in the 10s window.
	for i := 0; i < 5; i++ {
		when := base.Add(time.Duration(i) * time.Second)
		if got := l.CheckAt("a", when); got != OK {
			t.Fatalf("message %d = %v, want OK", i, got)
		}
	}

	// The 6th within the window is rejected.
	if got := l.CheckAt("a", base.Add(5*time.Second)); got != TooMany {
		t.Errorf("6th message = %v, want TooMany", got)
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	// 6 messages spaced 2.1s apart: by the time each arrives, the oldest
	// entries have aged out, so none are rejected.
	for i := 0; i < 6; i++ {
		when := base.Add(time.Duration(i) * 2100 * time.Millisecond)
		if got := l.CheckAt("a", when); got != OK {
			t.Fatalf("message %d = %v, want OK", i, got)
		}
	}
}

func TestLimiter_RejectedNotRecorded(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	if got := l.CheckAt("a", base); got != OK {
		t.Fatalf("first message = %v, want OK", got)
	}
	// A burst of rejected messages must not extend the log.
	for i := 1; i <= 3; i++ {
		when := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if got := l.CheckAt("a", when); got != TooFast {
			t.Fatalf("burst message %d = %v, want TooFast", i, got)
		}
	}
	// 500ms after the accepted message the key is clean again.
	if got := l.CheckAt("a", base.Add(500*time.Millisecond)); got != OK {
		t.Errorf("message after interval = %v, want OK", got)
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	for i := 0; i < 5; i++ {
		when := base.Add(time.Duration(i) * time.Second)
		if got := l.CheckAt("noisy", when); got != OK {
			t.Fatalf("noisy message %d = %v, want OK", i, got)
		}
	}
	if got := l.CheckAt("noisy", base.Add(5*time.Second)); got != TooMany {
		t.Fatalf("noisy 6th = %v, want TooMany", got)
	}

	// A different key is unaffected by the noisy one.
	if got := l.CheckAt("quiet", base.Add(5*time.Second)); got != OK {
		t.Errorf("quiet key = %v, want OK", got)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = true
	l := NewLimiter(cfg)
	base := time.Now()

	for i := 0; i < 20; i++ {
		if got := l.CheckAt("a", base); got != OK {
			t.Fatalf("disabled limiter rejected message %d: %v", i, got)
		}
	}
}

func TestLimiter_Forget(t *testing.T) {
	l := NewLimiter(DefaultConfig())
	base := time.Now()

	for i := 0; i < 5; i++ {
		l.CheckAt("a", base.Add(time.Duration(i)*time.Second))
	}
	if got := l.CheckAt("a", base.Add(5*time.Second)); got != TooMany {
		t.Fatalf("6th = %v, want TooMany", got)
	}

	l.Forget("a")
	if got := l.CheckAt("a", base.Add(5*time.Second)); got != OK {
		t.Errorf("after Forget = %v, want OK", got)
	}
}

func TestReason_Message(t *testing.T) {
	if OK.Message() != "" {
		t.Errorf("OK.Message() = %q, want empty", OK.Message())
	}
	if TooFast.Message() == "" || TooMany.Message() == "" {
		t.Error("rejection reasons must carry user-visible text")
	}
	if TooFast.Message() == TooMany.Message() {
		t.Error("rejection reasons must be distinguishable")
	}
}
