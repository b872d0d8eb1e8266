package document

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource watches a single plain-text file on disk and reports every
// write as a whole-document content change. It gives the server a
// standalone presentation mode with no editor attached.
type FileSource struct {
	mu       sync.Mutex
	path     string
	content  string
	language string
	watchers []Watcher
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// NewFileSource opens path, reads its current content, and starts watching
// it for writes.
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the parent directory: editors that write via rename-and-replace
	// drop the watch on the file itself.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch dir: %w", err)
	}

	s := &FileSource{
		path:     abs,
		content:  string(data),
		language: LanguageForExtension(strings.ToLower(filepath.Ext(abs))),
		fsw:      fsw,
		logger:   logger.With("component", "filesource"),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *FileSource) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.reload()
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watch error", "error", err)
		}
	}
}

func (s *FileSource) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Transient during rename-and-replace saves; the next event retries.
		s.logger.Warn("reload failed", "path", s.path, "error", err)
		return
	}
	text := string(data)

	s.mu.Lock()
	if text == s.content {
		s.mu.Unlock()
		return
	}
	s.content = text
	watchers := append([]Watcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		w.ContentChanged(UnitDocument, text)
	}
}

// Snapshot returns the current file content as a plaintext document.
func (s *FileSource) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode: ModePlaintext,
		Text: &TextDocument{
			FileName:   filepath.Base(s.path),
			Content:    s.content,
			LanguageID: s.language,
		},
		BaseDir: filepath.Dir(s.path),
	}
}

// ReadUnit returns the live document text for UnitDocument.
func (s *FileSource) ReadUnit(unit int) (string, bool) {
	if unit != UnitDocument {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, true
}

// Subscribe registers a watcher.
func (s *FileSource) Subscribe(w Watcher) func() {
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.watchers {
			if cur == w {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				return
			}
		}
	}
}

// Close stops the underlying filesystem watcher.
func (s *FileSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.fsw.Close()
}
