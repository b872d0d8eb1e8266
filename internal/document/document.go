// Package document defines the boundary to the live document being
// presented: the serialized shapes that go over the wire and the Source
// interface through which the change capture pipeline observes edits.
//
// The package makes no assumption about any particular editor API. A source
// can be backed by an editor integration, a file on disk (FileSource), or a
// test harness (MemorySource).
package document

// Mode identifies what kind of document a source exposes.
type Mode string

const (
	ModeNotebook  Mode = "notebook"
	ModePlaintext Mode = "plaintext"
)

// CellKind distinguishes executable cells from markup cells.
type CellKind string

const (
	KindCode   CellKind = "code"
	KindMarkup CellKind = "markup"
)

// UnitDocument is the unit id used for whole-document (non-cell) content.
// Cell units are their zero-based index.
const UnitDocument = -1

// MaxOutputItemBytes caps a single serialized output item. Oversized items
// are truncated with a marker rather than dropped.
const MaxOutputItemBytes = 5 * 1024 * 1024

// OutputItem is one MIME representation of a cell output. Image payloads are
// base64, text payloads are UTF-8.
type OutputItem struct {
	Mime string `json:"mime"`
	Data string `json:"data"`
}

// Output is one output block of a code cell.
type Output struct {
	Items []OutputItem `json:"items"`
}

// Cell is the serialized form of one notebook cell.
type Cell struct {
	Kind           CellKind `json:"kind"`
	Source         string   `json:"source"`
	LanguageID     string   `json:"languageId"`
	Outputs        []Output `json:"outputs"`
	ExecutionOrder int      `json:"executionOrder,omitempty"`
}

// Notebook is the full snapshot sent as notebook:full.
type Notebook struct {
	FileName        string `json:"fileName"`
	Cells           []Cell `json:"cells"`
	ActiveCellIndex int    `json:"activeCellIndex"`
}

// TextDocument is the full snapshot sent as document:full.
type TextDocument struct {
	FileName   string `json:"fileName"`
	Content    string `json:"content"`
	LanguageID string `json:"languageId"`
}

// Snapshot is the complete current state of a source, used for full resyncs.
// Exactly one of Notebook or Text is set, matching Mode. BaseDir is the
// directory against which relative image references resolve.
type Snapshot struct {
	Mode     Mode
	Notebook *Notebook
	Text     *TextDocument
	BaseDir  string
}

// Position is a zero-based line/character location.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Selection is cursor and selection metadata for one unit. It never carries
// document content; content synchronization is the content-change path's job.
type Selection struct {
	Active       Position `json:"active"`
	Start        Position `json:"start"`
	End          Position `json:"end"`
	HasSelection bool     `json:"hasSelection"`
	TotalLines   int      `json:"totalLines"`
}

// Watcher receives change notifications from a source. Callbacks are invoked
// sequentially per source; implementations must not block for long.
type Watcher interface {
	// ContentChanged reports new text for a unit (a cell index, or
	// UnitDocument for whole-document text).
	ContentChanged(unit int, text string)
	// OutputsChanged reports new execution outputs for a cell.
	OutputsChanged(unit int, outputs []Output, executionOrder int)
	// StructureChanged reports cells inserted or removed at index.
	StructureChanged(index int, removed int, added []Cell)
	// FocusChanged reports the active unit changing.
	FocusChanged(unit int, kind CellKind)
	// SelectionChanged reports cursor/selection movement within a unit.
	SelectionChanged(unit int, sel Selection)
}

// Source is a live document that can be observed and snapshotted.
type Source interface {
	// Snapshot returns the complete current state.
	Snapshot() Snapshot
	// ReadUnit returns the authoritative live text of a unit, or false when
	// the unit does not exist. Used for flush-before-switch and the
	// composed-input backup resync.
	ReadUnit(unit int) (string, bool)
	// Subscribe registers a watcher and returns an unsubscribe func.
	Subscribe(w Watcher) (unsubscribe func())
	// Close releases any resources held by the source.
	Close() error
}

// LanguageForExtension maps a file extension (with dot, lower-case expected)
// to the languageId carried in document snapshots.
func LanguageForExtension(ext string) string {
	switch ext {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".ipynb":
		return "jupyter"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	default:
		return "plaintext"
	}
}

// TruncateOutputItem enforces MaxOutputItemBytes on a serialized item.
func TruncateOutputItem(item OutputItem) OutputItem {
	if len(item.Data) > MaxOutputItemBytes {
		item.Data = item.Data[:MaxOutputItemBytes] + "\n... (output truncated)"
	}
	return item
}
