// Package pipeline captures document changes and turns them into broadcast
// frames. It owns the pacing policy: whole-document text edits coalesce
// under a short debounce, cursor and focus movement are throttled, and
// cell edits, execution outputs and structural edits go out immediately.
package pipeline

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/haasonsaas/podium/internal/document"
	"github.com/haasonsaas/podium/internal/hub"
	"github.com/haasonsaas/podium/internal/imagecache"
	"github.com/haasonsaas/podium/internal/sched"
)

// Config sets the pacing intervals.
type Config struct {
	// ContentDebounce coalesces rapid edits to the same unit.
	ContentDebounce time.Duration `yaml:"content_debounce"`
	// CursorThrottle paces cursor movement broadcasts.
	CursorThrottle time.Duration `yaml:"cursor_throttle"`
	// FocusThrottle paces active-cell changes.
	FocusThrottle time.Duration `yaml:"focus_throttle"`
	// BackupDelay is how long after a content send the live text is
	// re-read to catch edits whose change events carried stale text
	// (composed input).
	BackupDelay time.Duration `yaml:"backup_delay"`
}

// DefaultConfig returns the default pacing intervals.
func DefaultConfig() Config {
	return Config{
		ContentDebounce: 100 * time.Millisecond,
		CursorThrottle:  30 * time.Millisecond,
		FocusThrottle:   100 * time.Millisecond,
		BackupDelay:     50 * time.Millisecond,
	}
}

// CellUpdate is the payload of cell:update.
type CellUpdate struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
}

// CellOutput is the payload of cell:output.
type CellOutput struct {
	Index          int               `json:"index"`
	Outputs        []document.Output `json:"outputs"`
	ExecutionOrder int               `json:"executionOrder,omitempty"`
}

// CellsStructure is the payload of cells:structure.
type CellsStructure struct {
	Index   int             `json:"index"`
	Removed int             `json:"removed"`
	Cells   []document.Cell `json:"cells"`
}

// DocumentUpdate is the payload of document:update.
type DocumentUpdate struct {
	Content string `json:"content"`
}

// FocusCell is the payload of focus:cell.
type FocusCell struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
}

// CursorPosition is the payload of cursor:position. It carries location
// metadata only, never document text.
type CursorPosition struct {
	Index int `json:"index"`
	document.Selection
}

// Broadcaster fans frames out to the session's connections. *hub.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(msgType string, data any)
	ClearStrokes()
}

// Pipeline subscribes to a document source and broadcasts paced change
// frames through the broadcaster.
type Pipeline struct {
	cfg    Config
	out    Broadcaster
	images *imagecache.Cache
	logger *slog.Logger

	content *sched.Debouncer
	backup  *sched.Debouncer
	cursor  *sched.Throttle
	focus   *sched.Throttle

	mu          sync.Mutex
	source      document.Source
	unsubscribe func()
	mode        document.Mode
	baseDir     string
	isMarkdown  bool
	cellKinds   map[int]document.CellKind
	latest      map[int]string
	lastSent    map[int]string
}

// New builds a pipeline. A nil logger falls back to slog.Default; a nil
// image cache disables image resolution.
func New(cfg Config, out Broadcaster, images *imagecache.Cache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ContentDebounce <= 0 {
		cfg.ContentDebounce = def.ContentDebounce
	}
	if cfg.CursorThrottle <= 0 {
		cfg.CursorThrottle = def.CursorThrottle
	}
	if cfg.FocusThrottle <= 0 {
		cfg.FocusThrottle = def.FocusThrottle
	}
	if cfg.BackupDelay <= 0 {
		cfg.BackupDelay = def.BackupDelay
	}
	return &Pipeline{
		cfg:       cfg,
		out:       out,
		images:    images,
		logger:    logger.With("component", "pipeline"),
		content:   sched.NewDebouncer(cfg.ContentDebounce),
		backup:    sched.NewDebouncer(cfg.BackupDelay),
		cursor:    sched.NewThrottle(cfg.CursorThrottle),
		focus:     sched.NewThrottle(cfg.FocusThrottle),
		cellKinds: make(map[int]document.CellKind),
		latest:    make(map[int]string),
		lastSent:  make(map[int]string),
	}
}

// SetSource switches the presented document. Pending sends for the old
// source flush first so no edit is lost, then the full new snapshot goes
// out and stale annotations are cleared.
func (p *Pipeline) SetSource(src document.Source) {
	p.content.FlushAll()
	p.backup.FlushAll()
	p.cursor.Reset()
	p.focus.Reset()

	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.source = src
	p.latest = make(map[int]string)
	p.lastSent = make(map[int]string)
	p.cellKinds = make(map[int]document.CellKind)
	if src == nil {
		p.mu.Unlock()
		return
	}
	snap := src.Snapshot()
	p.applySnapshotLocked(snap)
	p.unsubscribe = src.Subscribe(p)
	p.mu.Unlock()

	p.out.ClearStrokes()
	p.preOptimize(snap)
	p.broadcastFull(snap)
}

// preOptimize primes the image cache from the original snapshot text, so
// the full broadcast and later typing-path rewrites hit warm entries.
func (p *Pipeline) preOptimize(snap document.Snapshot) {
	if p.images == nil || snap.BaseDir == "" {
		return
	}
	if snap.Notebook != nil {
		for _, cell := range snap.Notebook.Cells {
			if cell.Kind == document.KindMarkup {
				p.images.PreOptimize(cell.Source, snap.BaseDir)
			}
		}
		return
	}
	if snap.Text != nil && snap.Text.LanguageID == "markdown" {
		p.images.PreOptimize(snap.Text.Content, snap.BaseDir)
	}
}

func (p *Pipeline) applySnapshotLocked(snap document.Snapshot) {
	p.mode = snap.Mode
	p.baseDir = snap.BaseDir
	p.isMarkdown = snap.Mode == document.ModePlaintext &&
		snap.Text != nil && snap.Text.LanguageID == "markdown"
	if snap.Notebook != nil {
		for i, cell := range snap.Notebook.Cells {
			p.cellKinds[i] = cell.Kind
		}
	}
}

// broadcastFull sends the full snapshot to everyone, resolving images
// synchronously and priming the cache for future incremental sends.
func (p *Pipeline) broadcastFull(snap document.Snapshot) {
	if snap.Notebook != nil {
		nb := p.renderNotebook(snap, true)
		p.out.Broadcast(hub.TypeNotebookFull, nb)
		return
	}
	if snap.Text != nil {
		p.out.Broadcast(hub.TypeDocumentFull, p.renderText(snap, true))
	}
}

// Resync sends the complete current state through send, a unicast to one
// newly authorized connection.
func (p *Pipeline) Resync(send func(msgType string, data any)) {
	p.mu.Lock()
	src := p.source
	p.mu.Unlock()
	if src == nil {
		return
	}
	snap := src.Snapshot()
	if snap.Notebook != nil {
		send(hub.TypeNotebookFull, p.renderNotebook(snap, true))
		return
	}
	if snap.Text != nil {
		send(hub.TypeDocumentFull, p.renderText(snap, true))
	}
}

// renderNotebook copies the snapshot notebook with image references
// resolved in markup cells and oversized outputs truncated.
func (p *Pipeline) renderNotebook(snap document.Snapshot, blocking bool) document.Notebook {
	nb := *snap.Notebook
	nb.Cells = make([]document.Cell, len(snap.Notebook.Cells))
	for i, cell := range snap.Notebook.Cells {
		if cell.Kind == document.KindMarkup {
			cell.Source = p.rewrite(cell.Source, snap.BaseDir, blocking)
		}
		cell.Outputs = truncateOutputs(cell.Outputs)
		nb.Cells[i] = cell
	}
	return nb
}

func (p *Pipeline) renderText(snap document.Snapshot, blocking bool) document.TextDocument {
	doc := *snap.Text
	if doc.LanguageID == "markdown" {
		doc.Content = p.rewrite(doc.Content, snap.BaseDir, blocking)
	}
	return doc
}

func (p *Pipeline) rewrite(text, baseDir string, blocking bool) string {
	if p.images == nil {
		return text
	}
	if blocking {
		return p.images.RewriteBlocking(text, baseDir)
	}
	return p.images.RewriteCacheOnly(text, baseDir)
}

func truncateOutputs(outputs []document.Output) []document.Output {
	if len(outputs) == 0 {
		return outputs
	}
	out := make([]document.Output, len(outputs))
	for i, o := range outputs {
		items := make([]document.OutputItem, len(o.Items))
		for j, item := range o.Items {
			items[j] = document.TruncateOutputItem(item)
		}
		out[i] = document.Output{Items: items}
	}
	return out
}

func contentKey(unit int) string { return "content:" + strconv.Itoa(unit) }

// ContentChanged implements document.Watcher. Cell edits go out
// immediately so viewers track keystrokes; whole-document text coalesces
// under the content debounce, with only the latest text sent.
func (p *Pipeline) ContentChanged(unit int, text string) {
	p.mu.Lock()
	notebookCell := p.mode == document.ModeNotebook && unit != document.UnitDocument
	p.latest[unit] = text
	p.mu.Unlock()

	if notebookCell {
		p.sendContent(unit, text)
		return
	}
	p.content.Schedule(contentKey(unit), func() {
		p.mu.Lock()
		current := p.latest[unit]
		p.mu.Unlock()
		p.sendContent(unit, current)
	})
}

// sendContent broadcasts one unit's text and arms the backup check that
// re-reads the live document shortly after. Composed input can deliver
// change events whose text lags the document; the backup catches that.
func (p *Pipeline) sendContent(unit int, text string) {
	p.mu.Lock()
	mode := p.mode
	baseDir := p.baseDir
	isMarkdown := p.isMarkdown
	kind := p.cellKinds[unit]
	src := p.source
	p.lastSent[unit] = text
	p.mu.Unlock()

	if mode == document.ModeNotebook && unit != document.UnitDocument {
		out := text
		if kind == document.KindMarkup {
			out = p.rewrite(text, baseDir, false)
		}
		p.out.Broadcast(hub.TypeCellUpdate, CellUpdate{Index: unit, Source: out})
	} else {
		out := text
		if isMarkdown {
			out = p.rewrite(text, baseDir, false)
		}
		p.out.Broadcast(hub.TypeDocumentUpdate, DocumentUpdate{Content: out})
	}

	p.scheduleBackup(unit, src)
}

// scheduleBackup arms a short verification re-read of the live document.
// Composed input can commit text without a matching change event; the
// re-read resends whenever the live text differs from what went out.
func (p *Pipeline) scheduleBackup(unit int, src document.Source) {
	if src == nil {
		return
	}
	p.backup.Schedule(contentKey(unit), func() {
		live, ok := src.ReadUnit(unit)
		if !ok {
			return
		}
		p.mu.Lock()
		sent, sentBefore := p.lastSent[unit]
		p.mu.Unlock()
		if sentBefore && live != sent {
			p.sendContent(unit, live)
		}
	})
}

// OutputsChanged implements document.Watcher. Execution outputs go out
// immediately, truncated to the per-item cap.
func (p *Pipeline) OutputsChanged(unit int, outputs []document.Output, executionOrder int) {
	p.out.Broadcast(hub.TypeCellOutput, CellOutput{
		Index:          unit,
		Outputs:        truncateOutputs(outputs),
		ExecutionOrder: executionOrder,
	})
}

// StructureChanged implements document.Watcher. Structural edits shift
// cell indices, so pending per-unit sends are dropped, the kind table is
// rebuilt from a fresh snapshot, and stale annotations are cleared.
func (p *Pipeline) StructureChanged(index int, removed int, added []document.Cell) {
	if index < 0 || removed < 0 {
		p.logger.Warn("structure change out of range, dropped", "index", index, "removed", removed)
		return
	}
	p.mu.Lock()
	src := p.source
	for unit := range p.latest {
		delete(p.latest, unit)
	}
	for unit := range p.lastSent {
		delete(p.lastSent, unit)
	}
	p.mu.Unlock()
	for _, key := range p.content.PendingKeys() {
		p.content.Cancel(key)
	}
	for _, key := range p.backup.PendingKeys() {
		p.backup.Cancel(key)
	}

	if src != nil {
		snap := src.Snapshot()
		p.mu.Lock()
		p.cellKinds = make(map[int]document.CellKind)
		p.applySnapshotLocked(snap)
		p.mu.Unlock()
		if snap.Notebook != nil && index > len(snap.Notebook.Cells) {
			p.logger.Warn("structure change out of range, dropped", "index", index, "cells", len(snap.Notebook.Cells))
			return
		}
	}

	cells := make([]document.Cell, len(added))
	p.mu.Lock()
	baseDir := p.baseDir
	p.mu.Unlock()
	for i, cell := range added {
		if cell.Kind == document.KindMarkup {
			cell.Source = p.rewrite(cell.Source, baseDir, false)
		}
		cell.Outputs = truncateOutputs(cell.Outputs)
		cells[i] = cell
	}
	p.out.ClearStrokes()
	p.out.Broadcast(hub.TypeCellsStructure, CellsStructure{
		Index:   index,
		Removed: removed,
		Cells:   cells,
	})
}

// FocusChanged implements document.Watcher. Before the focus frame goes
// out, any pending edit for the previous unit flushes so viewers never see
// focus land on stale content.
func (p *Pipeline) FocusChanged(unit int, kind document.CellKind) {
	p.content.FlushAll()
	p.focus.Do("focus", func() {
		p.out.Broadcast(hub.TypeFocusCell, FocusCell{Index: unit, Kind: string(kind)})
	})
}

// SelectionChanged implements document.Watcher. Cursor frames carry
// position metadata only. Selection movement also arms the backup
// verification, since composed-input commits move the cursor.
func (p *Pipeline) SelectionChanged(unit int, sel Selection) {
	p.cursor.Do("cursor", func() {
		p.out.Broadcast(hub.TypeCursorPosition, CursorPosition{Index: unit, Selection: sel})
	})
	p.mu.Lock()
	src := p.source
	p.mu.Unlock()
	p.scheduleBackup(unit, src)
}

// Selection aliases the document type so watcher wiring stays in one
// import direction.
type Selection = document.Selection

// Flush synchronously sends everything still pending.
func (p *Pipeline) Flush() {
	p.content.FlushAll()
	p.backup.FlushAll()
}

// Stop flushes pending sends once and releases timers. The pipeline is
// unusable afterwards.
func (p *Pipeline) Stop() {
	p.Flush()
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.source = nil
	p.mu.Unlock()
	p.content.Stop()
	p.backup.Stop()
	p.cursor.Stop()
	p.focus.Stop()
}
