// Package imagecache inlines local image references as data URIs for
// transmitted markup and HTML, under two contracts: a blocking resolve for
// full resyncs and a cache-only resolve for realtime typing, backed by a
// background optimizer with an LRU-bounded in-memory cache.
package imagecache

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/podium/internal/observability"
)

// Config configures the image cache.
type Config struct {
	// MaxEntries caps the number of cached images (LRU eviction beyond it).
	MaxEntries int `yaml:"max_entries"`
	// MaxWidth is the maximum embedded image width in pixels; wider images
	// are downsampled.
	MaxWidth int `yaml:"max_width"`
	// MaxSizeKB is the maximum encoded size permitted for an embedded image.
	MaxSizeKB int `yaml:"max_size_kb"`
	// OptimizeThresholdKB is the raw size beyond which an image is
	// re-encoded rather than embedded verbatim.
	OptimizeThresholdKB int `yaml:"optimize_threshold_kb"`
	// BatchDelay is how long background optimization requests are batched
	// before the queue drains.
	BatchDelay time.Duration `yaml:"batch_delay"`
}

// DefaultConfig returns the default image cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:          100,
		MaxWidth:            1280,
		MaxSizeKB:           2048,
		OptimizeThresholdKB: 200,
		BatchDelay:          100 * time.Millisecond,
	}
}

// entry is one cached image. Entries are owned exclusively by the cache;
// callers only ever receive the dataURI string.
type entry struct {
	dataURI    string
	mtime      time.Time
	lastAccess time.Time
}

// Cache is the content-addressed-by-path image cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	queue   map[string]struct{}
	timer   *time.Timer
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates an image cache. logger and metrics may be nil.
func New(config Config, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100
	}
	if config.MaxWidth <= 0 {
		config.MaxWidth = 1280
	}
	if config.MaxSizeKB <= 0 {
		config.MaxSizeKB = 2048
	}
	if config.OptimizeThresholdKB <= 0 {
		config.OptimizeThresholdKB = 200
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*entry),
		queue:   make(map[string]struct{}),
		config:  config,
		logger:  logger.With("component", "imagecache"),
		metrics: metrics,
		now:     time.Now,
	}
}

// ResolveBlocking resolves a local image reference to a data URI, reading
// and optimizing from disk on a miss or when the file changed. Returns ""
// on any failure; callers leave the original reference untouched.
func (c *Cache) ResolveBlocking(src, baseDir string) string {
	if !isLocalRef(src) {
		return ""
	}
	abs := resolvePath(src, baseDir)
	if abs == "" {
		return ""
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ""
	}

	c.mu.Lock()
	if e, ok := c.entries[abs]; ok && e.mtime.Equal(info.ModTime()) {
		e.lastAccess = c.now()
		uri := e.dataURI
		c.mu.Unlock()
		c.hit()
		return uri
	}
	c.mu.Unlock()
	c.miss()

	uri, err := c.readAndEncode(abs, info.ModTime())
	if err != nil {
		c.logger.Warn("image resolve failed", "path", abs, "error", err)
		return ""
	}
	return uri
}

// ResolveCacheOnly resolves from cache without any disk I/O. On a miss the
// path is queued for background optimization and "" is returned immediately.
func (c *Cache) ResolveCacheOnly(src, baseDir string) string {
	if !isLocalRef(src) {
		return ""
	}
	abs := resolvePath(src, baseDir)
	if abs == "" {
		return ""
	}

	c.mu.Lock()
	if e, ok := c.entries[abs]; ok {
		e.lastAccess = c.now()
		uri := e.dataURI
		c.mu.Unlock()
		c.hit()
		return uri
	}
	c.enqueueLocked(abs)
	c.mu.Unlock()
	c.miss()
	return ""
}

// RewriteBlocking replaces every resolvable local image reference in text
// with its data URI, reading from disk when needed. Used for full resyncs.
func (c *Cache) RewriteBlocking(text, baseDir string) string {
	if text == "" || baseDir == "" || !HasImagePatterns(text) {
		return text
	}
	return rewrite(text, func(src string) string {
		return c.ResolveBlocking(src, baseDir)
	})
}

// RewriteCacheOnly replaces references that are already cached and leaves
// the rest untouched. Used on the realtime typing path, which must never
// block on disk.
func (c *Cache) RewriteCacheOnly(text, baseDir string) string {
	if text == "" || baseDir == "" || !HasImagePatterns(text) {
		return text
	}
	return rewrite(text, func(src string) string {
		return c.ResolveCacheOnly(src, baseDir)
	})
}

// PreOptimize scans raw source text for local image references and eagerly
// primes the cache. Call with ORIGINAL text, before any rewriting, so the
// relative paths are still intact.
func (c *Cache) PreOptimize(text, baseDir string) {
	if text == "" || baseDir == "" || !HasImagePatterns(text) {
		return
	}
	for _, abs := range collectPaths(text, baseDir) {
		if err := c.optimizeAndStore(abs); err != nil {
			c.logger.Warn("image pre-optimization failed", "path", abs, "error", err)
		}
	}
}

// Clear releases all cached entries and cancels pending background work.
// Called at session end.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.queue = make(map[string]struct{})
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// store inserts or refreshes an entry and applies the LRU cap.
// Must be called with c.mu held.
func (c *Cache) storeLocked(abs, dataURI string, mtime time.Time) {
	c.entries[abs] = &entry{dataURI: dataURI, mtime: mtime, lastAccess: c.now()}
	c.evictLocked()
}

// evictLocked removes least-recently-accessed entries beyond MaxEntries.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.config.MaxEntries {
		var oldestKey string
		var oldest time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey = key
				oldest = e.lastAccess
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
		if c.metrics != nil {
			c.metrics.ImageCacheEvictions.Inc()
		}
	}
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.ImageCacheHits.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.ImageCacheMisses.Inc()
	}
}
