package pipeline

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/podium/internal/document"
	"github.com/haasonsaas/podium/internal/hub"
	"github.com/haasonsaas/podium/internal/imagecache"
	"github.com/haasonsaas/podium/internal/observability"
)

type frame struct {
	msgType string
	data    any
}

// recorder captures broadcast frames for assertions.
type recorder struct {
	mu     sync.Mutex
	frames []frame
	clears int
}

func (r *recorder) Broadcast(msgType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{msgType, data})
}

func (r *recorder) ClearStrokes() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *recorder) clearCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

func (r *recorder) snapshot() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame(nil), r.frames...)
}

func (r *recorder) byType(msgType string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.msgType == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, msgType string, n int) []frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := r.byType(msgType)
		if len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never saw %d %s frames, have %d", n, msgType, len(r.byType(msgType)))
	return nil
}

func fastConfig() Config {
	return Config{
		ContentDebounce: 10 * time.Millisecond,
		CursorThrottle:  10 * time.Millisecond,
		FocusThrottle:   10 * time.Millisecond,
		BackupDelay:     5 * time.Millisecond,
	}
}

func notebookSource() *document.MemorySource {
	return document.NewMemoryNotebook("demo.ipynb", "", []document.Cell{
		{Kind: document.KindCode, Source: "print(1)", LanguageID: "python"},
		{Kind: document.KindMarkup, Source: "# Title"},
	})
}

func TestSetSourceBroadcastsFullSnapshot(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	p.SetSource(notebookSource())

	full := rec.waitFor(t, hub.TypeNotebookFull, 1)
	nb := full[0].data.(document.Notebook)
	if nb.FileName != "demo.ipynb" || len(nb.Cells) != 2 {
		t.Fatalf("notebook = %+v", nb)
	}
	if n := rec.clearCount(); n != 1 {
		t.Fatalf("stroke clears = %d, want 1", n)
	}
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSetSourcePrimesImageCache(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "fig.png"))

	m := observability.NewMetrics(prometheus.NewRegistry())
	cache := imagecache.New(imagecache.DefaultConfig(), nil, m)
	rec := &recorder{}
	p := New(fastConfig(), rec, cache, nil)
	defer p.Stop()

	p.SetSource(document.NewMemoryNotebook("demo.ipynb", dir, []document.Cell{
		{Kind: document.KindMarkup, Source: "![fig](fig.png)"},
	}))

	full := rec.waitFor(t, hub.TypeNotebookFull, 1)
	nb := full[0].data.(document.Notebook)
	if !strings.Contains(nb.Cells[0].Source, "data:image/png;base64,") {
		t.Fatalf("markup not rewritten: %.60s", nb.Cells[0].Source)
	}
	// The cache was primed before the full render, so the blocking
	// resolve was served from memory.
	if hits := testutil.ToFloat64(m.ImageCacheHits); hits < 1 {
		t.Fatalf("cache hits = %v, want >= 1", hits)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", cache.Len())
	}
}

func TestCellEditsBroadcastImmediately(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.ContentDebounce = 5 * time.Second // must not gate cell edits
	p := New(cfg, rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	src.SetCellText(0, "print(2)")
	updates := rec.waitFor(t, hub.TypeCellUpdate, 1)
	cu := updates[0].data.(CellUpdate)
	if cu.Index != 0 || cu.Source != "print(2)" {
		t.Fatalf("cell update = %+v", cu)
	}
}

func TestDocumentEditsCoalesce(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.ContentDebounce = 100 * time.Millisecond
	p := New(cfg, rec, nil, nil)
	defer p.Stop()

	src := document.NewMemoryText("notes.md", "", "markdown", "a")
	p.SetSource(src)
	rec.waitFor(t, hub.TypeDocumentFull, 1)

	// Three rapid edits produce one update carrying the final text.
	src.SetText("ab")
	src.SetText("abc")
	src.SetText("abcd")

	updates := rec.waitFor(t, hub.TypeDocumentUpdate, 1)
	du := updates[0].data.(DocumentUpdate)
	if du.Content != "abcd" {
		t.Fatalf("document update = %+v", du)
	}

	// No further updates trickle out once settled.
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.byType(hub.TypeDocumentUpdate)); got != 1 {
		t.Fatalf("document updates = %d, want 1", got)
	}
}

func TestTextDocumentUpdate(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := document.NewMemoryText("notes.md", "", "markdown", "hello")
	p.SetSource(src)
	rec.waitFor(t, hub.TypeDocumentFull, 1)

	src.SetText("hello world")
	updates := rec.waitFor(t, hub.TypeDocumentUpdate, 1)
	du := updates[0].data.(DocumentUpdate)
	if du.Content != "hello world" {
		t.Fatalf("content = %q", du.Content)
	}
}

func TestOutputsBroadcastImmediately(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	src.SetCellOutputs(0, []document.Output{
		{Items: []document.OutputItem{{Mime: "text/plain", Data: "42"}}},
	}, 3)

	outs := rec.waitFor(t, hub.TypeCellOutput, 1)
	co := outs[0].data.(CellOutput)
	if co.Index != 0 || co.ExecutionOrder != 3 || len(co.Outputs) != 1 {
		t.Fatalf("cell output = %+v", co)
	}
}

func TestStructureChangeBroadcastsAndClearsStrokes(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	src.InsertCells(0, []document.Cell{{Kind: document.KindCode, Source: "new", LanguageID: "python"}})

	structs := rec.waitFor(t, hub.TypeCellsStructure, 1)
	cs := structs[0].data.(CellsStructure)
	if cs.Index != 0 || cs.Removed != 0 || len(cs.Cells) != 1 {
		t.Fatalf("structure = %+v", cs)
	}

	// Indices shifted, so annotations over the old layout are wiped.
	if n := rec.clearCount(); n != 2 {
		t.Fatalf("stroke clears = %d, want 2", n)
	}
}

func TestStructureChangeOutOfRangeDropped(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	p.SetSource(notebookSource())
	p.StructureChanged(-1, 0, nil)
	p.StructureChanged(100, 0, nil)

	time.Sleep(30 * time.Millisecond)
	if got := len(rec.byType(hub.TypeCellsStructure)); got != 0 {
		t.Fatalf("structure frames = %d, want 0", got)
	}
	if n := rec.clearCount(); n != 1 {
		t.Fatalf("stroke clears = %d, want 1", n)
	}
}

func TestCursorThrottled(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.CursorThrottle = 30 * time.Millisecond
	p := New(cfg, rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	for i := 0; i < 10; i++ {
		src.SetSelection(0, document.Selection{Active: document.Position{Line: i}})
		time.Sleep(3 * time.Millisecond)
	}

	// Leading edge plus trailing edge, never one frame per movement.
	time.Sleep(80 * time.Millisecond)
	got := rec.byType(hub.TypeCursorPosition)
	if len(got) < 1 || len(got) >= 10 {
		t.Fatalf("cursor frames = %d", len(got))
	}
	last := got[len(got)-1].data.(CursorPosition)
	if last.Active.Line != 9 {
		t.Fatalf("final cursor line = %d, want 9", last.Active.Line)
	}
}

func TestCursorCarriesNoContent(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)
	src.SetSelection(0, document.Selection{Active: document.Position{Line: 1}, TotalLines: 4})

	frames := rec.waitFor(t, hub.TypeCursorPosition, 1)
	cp := frames[0].data.(CursorPosition)
	if cp.Index != 0 || cp.TotalLines != 4 {
		t.Fatalf("cursor position = %+v", cp)
	}
}

func TestFocusFlushesPendingContentFirst(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.ContentDebounce = 5 * time.Second // never fires on its own
	p := New(cfg, rec, nil, nil)
	defer p.Stop()

	src := document.NewMemoryText("notes.md", "", "markdown", "draft")
	p.SetSource(src)
	rec.waitFor(t, hub.TypeDocumentFull, 1)

	src.SetText("pending edit")
	p.FocusChanged(0, document.KindMarkup)

	rec.waitFor(t, hub.TypeFocusCell, 1)
	contentAt, focusAt := -1, -1
	for i, f := range rec.snapshot() {
		switch f.msgType {
		case hub.TypeDocumentUpdate:
			if contentAt == -1 {
				contentAt = i
			}
			if du := f.data.(DocumentUpdate); du.Content != "pending edit" {
				t.Fatalf("flushed update = %+v", du)
			}
		case hub.TypeFocusCell:
			if focusAt == -1 {
				focusAt = i
			}
		}
	}
	if contentAt == -1 {
		t.Fatal("pending edit never flushed")
	}
	if contentAt > focusAt {
		t.Fatalf("content frame at %d after focus frame at %d", contentAt, focusAt)
	}
}

func TestFocusBroadcast(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)
	src.SetFocus(1)

	frames := rec.waitFor(t, hub.TypeFocusCell, 1)
	fc := frames[0].data.(FocusCell)
	if fc.Index != 1 || fc.Kind != string(document.KindMarkup) {
		t.Fatalf("focus = %+v", fc)
	}
}

func TestBackupResendsComposedInput(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	// The change event carries intermediate text while the document has
	// already moved on, as composed input does. The backup re-read sends
	// the authoritative text.
	src.SetCellText(0, "ni")
	src.SetCellTextQuiet(0, "nihao")

	updates := rec.waitFor(t, hub.TypeCellUpdate, 2)
	final := updates[len(updates)-1].data.(CellUpdate)
	if final.Source != "nihao" {
		t.Fatalf("final source = %q, want nihao", final.Source)
	}
}

func TestSelectionArmsBackupReread(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	src := notebookSource()
	p.SetSource(src)

	src.SetCellText(0, "ni")
	rec.waitFor(t, hub.TypeCellUpdate, 1)
	time.Sleep(20 * time.Millisecond)

	// A commit that produced no change event, followed by the cursor
	// moving past it. The selection-armed re-read catches the miss.
	src.SetCellTextQuiet(0, "nihao")
	src.SetSelection(0, document.Selection{Active: document.Position{Line: 0, Character: 5}})

	updates := rec.waitFor(t, hub.TypeCellUpdate, 2)
	if final := updates[len(updates)-1].data.(CellUpdate); final.Source != "nihao" {
		t.Fatalf("final source = %q, want nihao", final.Source)
	}
}

func TestStopFlushesPendingOnce(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.ContentDebounce = 5 * time.Second
	p := New(cfg, rec, nil, nil)

	src := document.NewMemoryText("notes.md", "", "markdown", "draft")
	p.SetSource(src)
	src.SetText("last words")

	p.Stop()
	updates := rec.byType(hub.TypeDocumentUpdate)
	if len(updates) != 1 {
		t.Fatalf("updates after stop = %d, want 1", len(updates))
	}
	if du := updates[0].data.(DocumentUpdate); du.Content != "last words" {
		t.Fatalf("flushed update = %+v", du)
	}
}

func TestResyncUnicastsSnapshot(t *testing.T) {
	rec := &recorder{}
	p := New(fastConfig(), rec, nil, nil)
	defer p.Stop()

	p.SetSource(notebookSource())

	var sent []frame
	p.Resync(func(msgType string, data any) {
		sent = append(sent, frame{msgType, data})
	})
	if len(sent) != 1 || sent[0].msgType != hub.TypeNotebookFull {
		t.Fatalf("resync frames = %+v", sent)
	}
	nb := sent[0].data.(document.Notebook)
	if len(nb.Cells) != 2 {
		t.Fatalf("resync cells = %d", len(nb.Cells))
	}
}

func TestSourceSwitchFlushesOldSource(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.ContentDebounce = 5 * time.Second
	p := New(cfg, rec, nil, nil)
	defer p.Stop()

	first := document.NewMemoryText("draft.md", "", "markdown", "one")
	p.SetSource(first)
	first.SetText("pending edit")

	second := notebookSource()
	p.SetSource(second)

	// The pending edit went out before the switch, then the new full
	// snapshot, and stale strokes were cleared both times.
	if got := rec.byType(hub.TypeDocumentUpdate); len(got) != 1 {
		t.Fatalf("flushed updates = %d, want 1", len(got))
	}
	rec.waitFor(t, hub.TypeNotebookFull, 1)
	if n := rec.clearCount(); n != 2 {
		t.Fatalf("stroke clears = %d, want 2", n)
	}

	// Edits to the old source no longer broadcast.
	first.SetText("ghost")
	time.Sleep(30 * time.Millisecond)
	if got := rec.byType(hub.TypeDocumentUpdate); len(got) != 1 {
		t.Fatalf("updates after switch = %d, want 1", len(got))
	}
}
