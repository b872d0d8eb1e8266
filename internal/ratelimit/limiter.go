// Package ratelimit provides per-connection sliding-window rate limiting
// for chat traffic.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Window is the sliding window over which messages are counted.
	Window time.Duration `yaml:"window"`
	// MaxPerWindow is the maximum number of messages allowed per window.
	MaxPerWindow int `yaml:"max_per_window"`
	// MinInterval is the minimum spacing between two consecutive messages.
	MinInterval time.Duration `yaml:"min_interval"`
	// Disabled turns rate limiting off entirely.
	Disabled bool `yaml:"disabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Window:       10 * time.Second,
		MaxPerWindow: 5,
		MinInterval:  500 * time.Millisecond,
	}
}

// Reason describes why a message was rejected.
type Reason int

const (
	// OK means the message was accepted.
	OK Reason = iota
	// TooFast means the message arrived before MinInterval elapsed.
	TooFast
	// TooMany means the window already holds MaxPerWindow messages.
	TooMany
)

// String returns a short label suitable for metrics and logs.
func (r Reason) String() string {
	switch r {
	case TooFast:
		return "too_fast"
	case TooMany:
		return "too_many"
	default:
		return "ok"
	}
}

// Message returns the user-visible rejection text.
func (r Reason) Message() string {
	switch r {
	case TooFast:
		return "Too fast. Please wait a moment."
	case TooMany:
		return "Too many messages. Please wait a few seconds."
	default:
		return ""
	}
}

// window is the recorded send log for one key.
type window struct {
	times []time.Time
}

// Limiter tracks message timestamps per key. Each key gets an independent
// sliding window, so one abusive client cannot throttle others.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	maxKeys int
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Window <= 0 {
		config.Window = 10 * time.Second
	}
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 5
	}
	if config.MinInterval < 0 {
		config.MinInterval = 0
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
	}
}

// Check records one message for key and reports whether it is allowed.
func (l *Limiter) Check(key string) Reason {
	return l.CheckAt(key, time.Now())
}

// CheckAt checks with an explicit timestamp (for testing).
//
// Order of checks matches the wire behavior: the minimum-interval check runs
// against the most recent accepted message before any pruning, then entries
// older than the window are dropped, then the per-window cap applies. A
// rejected message is never recorded.
func (l *Limiter) CheckAt(key string, now time.Time) Reason {
	if l.config.Disabled {
		return OK
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		if len(l.windows) >= l.maxKeys {
			l.prune(now)
		}
		w = &window{}
		l.windows[key] = w
	}

	if n := len(w.times); n > 0 {
		if now.Sub(w.times[n-1]) < l.config.MinInterval {
			return TooFast
		}
	}

	kept := w.times[:0]
	for _, t := range w.times {
		if now.Sub(t) < l.config.Window {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= l.config.MaxPerWindow {
		return TooMany
	}

	w.times = append(w.times, now)
	return OK
}

// Forget drops the recorded window for a key. Called when a connection closes.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Reset drops all recorded windows. Called at session end.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// prune removes keys whose entire log has aged out of the window.
// Must be called with l.mu held.
func (l *Limiter) prune(now time.Time) {
	for key, w := range l.windows {
		if n := len(w.times); n == 0 || now.Sub(w.times[n-1]) >= l.config.Window {
			delete(l.windows, key)
		}
	}
}
