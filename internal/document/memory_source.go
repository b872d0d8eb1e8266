package document

import (
	"sync"
)

// MemorySource is an in-process source driven programmatically. Editor
// integrations push edits into it; tests script it directly.
type MemorySource struct {
	mu       sync.Mutex
	mode     Mode
	fileName string
	baseDir  string
	language string
	cells    []Cell
	text     string
	active   int
	watchers []Watcher
}

// NewMemoryNotebook creates a notebook-mode source with the given cells.
func NewMemoryNotebook(fileName, baseDir string, cells []Cell) *MemorySource {
	return &MemorySource{
		mode:     ModeNotebook,
		fileName: fileName,
		baseDir:  baseDir,
		cells:    append([]Cell(nil), cells...),
	}
}

// NewMemoryText creates a plaintext-mode source with the given content.
func NewMemoryText(fileName, baseDir, languageID, content string) *MemorySource {
	return &MemorySource{
		mode:     ModePlaintext,
		fileName: fileName,
		baseDir:  baseDir,
		language: languageID,
		text:     content,
	}
}

// Snapshot returns the complete current state.
func (s *MemorySource) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeNotebook {
		return Snapshot{
			Mode: ModeNotebook,
			Notebook: &Notebook{
				FileName:        s.fileName,
				Cells:           append([]Cell(nil), s.cells...),
				ActiveCellIndex: s.active,
			},
			BaseDir: s.baseDir,
		}
	}
	return Snapshot{
		Mode: ModePlaintext,
		Text: &TextDocument{
			FileName:   s.fileName,
			Content:    s.text,
			LanguageID: s.language,
		},
		BaseDir: s.baseDir,
	}
}

// ReadUnit returns the live text of a cell or of the whole document.
func (s *MemorySource) ReadUnit(unit int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModePlaintext {
		if unit == UnitDocument {
			return s.text, true
		}
		return "", false
	}
	if unit < 0 || unit >= len(s.cells) {
		return "", false
	}
	return s.cells[unit].Source, true
}

// Subscribe registers a watcher.
func (s *MemorySource) Subscribe(w Watcher) func() {
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

// Close is a no-op for memory sources.
func (s *MemorySource) Close() error { return nil }

func (s *MemorySource) snapshotWatchers() []Watcher {
	return append([]Watcher(nil), s.watchers...)
}

// SetCellText updates a cell's source and notifies watchers.
func (s *MemorySource) SetCellText(index int, text string) {
	s.mu.Lock()
	if s.mode != ModeNotebook || index < 0 || index >= len(s.cells) {
		s.mu.Unlock()
		return
	}
	s.cells[index].Source = text
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.ContentChanged(index, text)
	}
}

// SetText updates whole-document content and notifies watchers.
func (s *MemorySource) SetText(text string) {
	s.mu.Lock()
	if s.mode != ModePlaintext {
		s.mu.Unlock()
		return
	}
	s.text = text
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.ContentChanged(UnitDocument, text)
	}
}

// SetCellTextQuiet updates a cell without notifying watchers. Models editors
// whose change notification races behind the document commit (composed
// input); the pipeline's backup resync must still pick the text up.
func (s *MemorySource) SetCellTextQuiet(index int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeNotebook || index < 0 || index >= len(s.cells) {
		return
	}
	s.cells[index].Source = text
}

// SetCellOutputs updates a cell's outputs and notifies watchers.
func (s *MemorySource) SetCellOutputs(index int, outputs []Output, executionOrder int) {
	s.mu.Lock()
	if s.mode != ModeNotebook || index < 0 || index >= len(s.cells) {
		s.mu.Unlock()
		return
	}
	s.cells[index].Outputs = append([]Output(nil), outputs...)
	s.cells[index].ExecutionOrder = executionOrder
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.OutputsChanged(index, outputs, executionOrder)
	}
}

// InsertCells inserts cells at index and notifies watchers.
func (s *MemorySource) InsertCells(index int, added []Cell) {
	s.mu.Lock()
	if s.mode != ModeNotebook || index < 0 || index > len(s.cells) {
		s.mu.Unlock()
		return
	}
	s.cells = append(s.cells[:index], append(append([]Cell(nil), added...), s.cells[index:]...)...)
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.StructureChanged(index, 0, added)
	}
}

// RemoveCells removes count cells at index and notifies watchers.
func (s *MemorySource) RemoveCells(index, count int) {
	s.mu.Lock()
	if s.mode != ModeNotebook || index < 0 || index+count > len(s.cells) {
		s.mu.Unlock()
		return
	}
	s.cells = append(s.cells[:index], s.cells[index+count:]...)
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.StructureChanged(index, count, nil)
	}
}

// SetFocus moves the active cell and notifies watchers.
func (s *MemorySource) SetFocus(index int) {
	s.mu.Lock()
	if s.mode != ModeNotebook || index < 0 || index >= len(s.cells) {
		s.mu.Unlock()
		return
	}
	s.active = index
	kind := s.cells[index].Kind
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.FocusChanged(index, kind)
	}
}

// SetSelection reports cursor movement within a unit.
func (s *MemorySource) SetSelection(unit int, sel Selection) {
	s.mu.Lock()
	watchers := s.snapshotWatchers()
	s.mu.Unlock()
	for _, w := range watchers {
		w.SelectionChanged(unit, sel)
	}
}
