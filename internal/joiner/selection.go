package joiner

import (
	"sort"
	"sync"
)

// UploadedFile is the client-side record of one uploaded PDF.
type UploadedFile struct {
	FileID           string
	OriginalFilename string
	PageCount        int
	FileSize         int64
}

type fileEntry struct {
	meta     UploadedFile
	selected []int // sorted ascending, unique
}

// SelectionStore is the single source of truth for which pages of which files
// go into the merge. Files keep their upload order; selections are always
// sorted ascending with no duplicates and bounded by the file's page count.
type SelectionStore struct {
	mu       sync.Mutex
	files    map[string]*fileEntry
	order    []string
	onChange []func()
}

// NewSelectionStore builds an empty store.
func NewSelectionStore() *SelectionStore {
	return &SelectionStore{files: make(map[string]*fileEntry)}
}

// OnChange registers a hook fired after every mutation. The merge order
// re-derives through this hook, so any mutation path that skips it would leave
// stale order state behind.
func (s *SelectionStore) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *SelectionStore) notify() {
	s.mu.Lock()
	hooks := make([]func(), len(s.onChange))
	copy(hooks, s.onChange)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// AddFile registers an uploaded file with an empty selection. Re-adding a
// known file updates its metadata and keeps its position and selection.
func (s *SelectionStore) AddFile(f UploadedFile) {
	s.mu.Lock()
	if e, ok := s.files[f.FileID]; ok {
		e.meta = f
		s.mu.Unlock()
		s.notify()
		return
	}
	s.files[f.FileID] = &fileEntry{meta: f}
	s.order = append(s.order, f.FileID)
	s.mu.Unlock()
	s.notify()
}

// RemoveFile drops a file and its selection entirely. No-op if unknown.
func (s *SelectionStore) RemoveFile(fileID string) {
	s.mu.Lock()
	if _, ok := s.files[fileID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.files, fileID)
	for i, id := range s.order {
		if id == fileID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

// TogglePage adds the page to the file's selection if absent, removes it if
// present. No-op for unknown files or out-of-range pages.
func (s *SelectionStore) TogglePage(fileID string, page int) {
	s.mu.Lock()
	e, ok := s.files[fileID]
	if !ok || page < 1 || page > e.meta.PageCount {
		s.mu.Unlock()
		return
	}
	idx := sort.SearchInts(e.selected, page)
	if idx < len(e.selected) && e.selected[idx] == page {
		e.selected = append(e.selected[:idx], e.selected[idx+1:]...)
	} else {
		e.selected = append(e.selected, 0)
		copy(e.selected[idx+1:], e.selected[idx:])
		e.selected[idx] = page
	}
	s.mu.Unlock()
	s.notify()
}

// SelectAll sets the file's selection to every page 1..pageCount.
func (s *SelectionStore) SelectAll(fileID string, pageCount int) {
	s.mu.Lock()
	e, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if pageCount > e.meta.PageCount {
		pageCount = e.meta.PageCount
	}
	e.selected = make([]int, 0, pageCount)
	for p := 1; p <= pageCount; p++ {
		e.selected = append(e.selected, p)
	}
	s.mu.Unlock()
	s.notify()
}

// DeselectAll empties the file's selection.
func (s *SelectionStore) DeselectAll(fileID string) {
	s.mu.Lock()
	e, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.selected = nil
	s.mu.Unlock()
	s.notify()
}

// SelectVisible unions the given pages into the file's selection. Used by
// paginated views where only a batch of pages is on screen.
func (s *SelectionStore) SelectVisible(fileID string, pages []int) {
	s.mu.Lock()
	e, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}
	set := make(map[int]struct{}, len(e.selected)+len(pages))
	for _, p := range e.selected {
		set[p] = struct{}{}
	}
	for _, p := range pages {
		if p >= 1 && p <= e.meta.PageCount {
			set[p] = struct{}{}
		}
	}
	e.selected = sortedKeys(set)
	s.mu.Unlock()
	s.notify()
}

// DeselectVisible removes the given pages from the file's selection.
func (s *SelectionStore) DeselectVisible(fileID string, pages []int) {
	s.mu.Lock()
	e, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return
	}
	drop := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		drop[p] = struct{}{}
	}
	kept := e.selected[:0]
	for _, p := range e.selected {
		if _, gone := drop[p]; !gone {
			kept = append(kept, p)
		}
	}
	e.selected = kept
	s.mu.Unlock()
	s.notify()
}

// Selected returns a copy of the file's current selection.
func (s *SelectionStore) Selected(fileID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[fileID]
	if !ok {
		return nil
	}
	out := make([]int, len(e.selected))
	copy(out, e.selected)
	return out
}

// Files returns all registered files in upload order.
func (s *SelectionStore) Files() []UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadedFile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.files[id].meta)
	}
	return out
}

// Snapshot returns the current selections keyed by file, the upload order and
// the display filenames. The copies are safe to hand to DeriveFromSelections.
func (s *SelectionStore) Snapshot() (map[string][]int, []string, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := make(map[string][]int, len(s.files))
	names := make(map[string]string, len(s.files))
	for id, e := range s.files {
		pages := make([]int, len(e.selected))
		copy(pages, e.selected)
		sel[id] = pages
		names[id] = e.meta.OriginalFilename
	}
	order := make([]string, len(s.order))
	copy(order, s.order)
	return sel, order, names
}

// Reset drops all files and selections.
func (s *SelectionStore) Reset() {
	s.mu.Lock()
	s.files = make(map[string]*fileEntry)
	s.order = nil
	s.mu.Unlock()
	s.notify()
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
