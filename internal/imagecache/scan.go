package imagecache

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Supported image extensions and their MIME types.
var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".ico":  "image/x-icon",
}

// Markdown: ![alt](path) or ![alt](path "title").
var mdImageRe = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)

// HTML: <img ... src="path" ...> with either quote style.
var htmlImageRe = regexp.MustCompile(`(?i)<img\s+[^>]*?src\s*=\s*['"]([^'"]+)['"][^>]*?>`)

// HasImagePatterns is a cheap pre-check that avoids running the full
// regexes over text with no image references.
func HasImagePatterns(text string) bool {
	return strings.Contains(text, "![") || containsFold(text, "<img ") || containsFold(text, "<img\t")
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

// isLocalRef reports whether src is a local file reference rather than a
// URL or an already-inlined data URI.
func isLocalRef(src string) bool {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return false
	case strings.HasPrefix(src, "data:"):
		return false
	case strings.HasPrefix(src, "//"):
		return false
	}
	return true
}

// resolvePath turns a local reference into a validated absolute path.
// It rejects traversal outside baseDir and unsupported extensions.
// Returns "" when the reference is not usable.
func resolvePath(src, baseDir string) string {
	decoded, err := url.PathUnescape(src)
	if err != nil {
		decoded = src
	}
	abs := decoded
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(baseDir, decoded)
	}
	abs = filepath.Clean(abs)

	base := filepath.Clean(baseDir)
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return ""
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if _, ok := mimeByExt[ext]; !ok {
		return ""
	}
	return abs
}

// rewrite replaces every resolvable local image reference in text using
// replacer. A replacer returning "" leaves the original reference untouched.
func rewrite(text string, replacer func(src string) string) string {
	result := mdImageRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := mdImageRe.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		src := strings.TrimSpace(sub[1])
		dataURI := replacer(src)
		if dataURI == "" {
			return match
		}
		return strings.Replace(match, sub[1], dataURI, 1)
	})

	result = htmlImageRe.ReplaceAllStringFunc(result, func(match string) string {
		sub := htmlImageRe.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		src := strings.TrimSpace(sub[1])
		dataURI := replacer(src)
		if dataURI == "" {
			return match
		}
		return strings.Replace(match, sub[1], dataURI, 1)
	})

	return result
}

// collectPaths returns the validated absolute paths of every local image
// reference in text.
func collectPaths(text, baseDir string) []string {
	seen := make(map[string]struct{})
	var paths []string
	add := func(src string) {
		src = strings.TrimSpace(src)
		if !isLocalRef(src) {
			return
		}
		abs := resolvePath(src, baseDir)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		paths = append(paths, abs)
	}

	for _, sub := range mdImageRe.FindAllStringSubmatch(text, -1) {
		add(sub[1])
	}
	for _, sub := range htmlImageRe.FindAllStringSubmatch(text, -1) {
		add(sub[1])
	}
	return paths
}
