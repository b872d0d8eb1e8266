package imagecache

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// enqueueLocked adds a path to the deduplicated background queue and arms
// the batching timer. Must be called with c.mu held.
func (c *Cache) enqueueLocked(abs string) {
	c.queue[abs] = struct{}{}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.config.BatchDelay, c.drainQueue)
	}
}

// drainQueue performs the queued read/optimize/cache work off the request
// path, so a subsequent realtime or full resync hits cache.
func (c *Cache) drainQueue() {
	c.mu.Lock()
	c.timer = nil
	paths := make([]string, 0, len(c.queue))
	for abs := range c.queue {
		paths = append(paths, abs)
	}
	c.queue = make(map[string]struct{})
	c.mu.Unlock()

	for _, abs := range paths {
		if err := c.optimizeAndStore(abs); err != nil {
			c.logger.Warn("background image optimization failed", "path", abs, "error", err)
		}
	}
}

// optimizeAndStore reads, optionally downsamples, encodes, and caches one
// image. A cached entry with a matching mtime short-circuits.
func (c *Cache) optimizeAndStore(abs string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if e, ok := c.entries[abs]; ok && e.mtime.Equal(info.ModTime()) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err = c.readAndEncode(abs, info.ModTime())
	return err
}

// readAndEncode does the shared read/downsample/encode/cache work for the
// blocking resolve path and the background optimizer.
func (c *Cache) readAndEncode(abs string, mtime time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(abs))
	mime, ok := mimeByExt[ext]
	if !ok {
		return "", fmt.Errorf("unsupported extension %q", ext)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}

	// Rough base64 headroom: reject files beyond 4x the size budget outright.
	if len(raw) > c.config.MaxSizeKB*1024*4 {
		return "", fmt.Errorf("image too large to embed (%d KB)", len(raw)/1024)
	}

	data := raw
	if len(raw) >= c.config.OptimizeThresholdKB*1024 {
		optimized, optMime, err := c.downsample(raw, ext)
		if err != nil {
			c.logger.Warn("image optimization failed, embedding original", "path", abs, "error", err)
		} else {
			data = optimized
			mime = optMime
			if c.metrics != nil {
				c.metrics.ImageOptimizations.Inc()
			}
		}
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	if sizeKB := len(encoded) * 3 / 4 / 1024; sizeKB > c.config.MaxSizeKB {
		c.logger.Warn("image still large after optimization", "path", abs, "size_kb", sizeKB)
	}
	uri := "data:" + mime + ";base64," + encoded

	c.mu.Lock()
	c.storeLocked(abs, uri, mtime)
	c.mu.Unlock()
	return uri, nil
}

// downsample decodes, scales to MaxWidth if wider, and re-encodes. PNG
// keeps PNG only when it carries transparency; everything else becomes
// JPEG. GIF (animation) and SVG (vector) pass through untouched.
func (c *Cache) downsample(raw []byte, ext string) ([]byte, string, error) {
	if ext == ".gif" || ext == ".svg" || ext == ".ico" {
		return raw, mimeByExt[ext], nil
	}

	var img image.Image
	var err error
	if ext == ".bmp" {
		img, err = bmp.Decode(bytes.NewReader(raw))
	} else {
		img, _, err = image.Decode(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	if width := bounds.Dx(); width > c.config.MaxWidth {
		height := bounds.Dy() * c.config.MaxWidth / width
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, c.config.MaxWidth, height))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if ext == ".png" && !isOpaque(img) {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func isOpaque(img image.Image) bool {
	if op, ok := img.(interface{ Opaque() bool }); ok {
		return op.Opaque()
	}
	return false
}
