package joiner

import (
	"fmt"
	"sync"
)

// OrderedPage is one unit of the final merge sequence.
type OrderedPage struct {
	FileID   string
	Page     int
	Filename string
}

// DeriveFromSelections flattens the selections into merge order: files in
// upload order, each file's selected pages ascending. Pure function.
func DeriveFromSelections(selections map[string][]int, fileOrder []string, names map[string]string) []OrderedPage {
	out := make([]OrderedPage, 0)
	for _, fileID := range fileOrder {
		for _, page := range selections[fileID] {
			out = append(out, OrderedPage{FileID: fileID, Page: page, Filename: names[fileID]})
		}
	}
	return out
}

// Reorder moves the element at from to position to, shifting the elements in
// between. Both indices must be within range; nothing is mutated on error.
func Reorder(seq []OrderedPage, from, to int) ([]OrderedPage, error) {
	if from < 0 || from >= len(seq) {
		return nil, fmt.Errorf("reorder: from index %d out of range [0,%d)", from, len(seq))
	}
	if to < 0 || to >= len(seq) {
		return nil, fmt.Errorf("reorder: to index %d out of range [0,%d)", to, len(seq))
	}
	out := make([]OrderedPage, 0, len(seq))
	out = append(out, seq...)
	moved := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append([]OrderedPage{moved}, out[to:]...)...)
	return out, nil
}

// RemoveAt drops the element at index. Index must be within range.
func RemoveAt(seq []OrderedPage, index int) ([]OrderedPage, error) {
	if index < 0 || index >= len(seq) {
		return nil, fmt.Errorf("removeAt: index %d out of range [0,%d)", index, len(seq))
	}
	out := make([]OrderedPage, 0, len(seq)-1)
	out = append(out, seq[:index]...)
	out = append(out, seq[index+1:]...)
	return out, nil
}

// Sequence holds the authoritative merge order as tagged state: derived from
// the SelectionStore by default, manual after an explicit reorder or removal.
// Any selection mutation resets the tag to derived and discards the manual
// permutation.
type Sequence struct {
	mu     sync.Mutex
	sel    *SelectionStore
	manual []OrderedPage
	tagged bool // true = manual order authoritative
}

// NewSequence binds a Sequence to the store and registers the re-derive hook.
func NewSequence(sel *SelectionStore) *Sequence {
	s := &Sequence{sel: sel}
	sel.OnChange(s.resetToDerived)
	return s
}

func (s *Sequence) resetToDerived() {
	s.mu.Lock()
	s.manual = nil
	s.tagged = false
	s.mu.Unlock()
}

// Manual reports whether an explicit user ordering is in effect.
func (s *Sequence) Manual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagged
}

// Current returns the merge order: the manual permutation when one is in
// effect, otherwise a fresh derivation from the selection store.
func (s *Sequence) Current() []OrderedPage {
	s.mu.Lock()
	if s.tagged {
		out := make([]OrderedPage, len(s.manual))
		copy(out, s.manual)
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()
	return DeriveFromSelections(s.sel.Snapshot())
}

// Reorder applies a manual permutation and makes it authoritative.
func (s *Sequence) Reorder(from, to int) error {
	cur := s.Current()
	next, err := Reorder(cur, from, to)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.manual = next
	s.tagged = true
	s.mu.Unlock()
	return nil
}

// RemoveAt removes one entry from the merge order and makes the result
// authoritative.
func (s *Sequence) RemoveAt(index int) error {
	cur := s.Current()
	next, err := RemoveAt(cur, index)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.manual = next
	s.tagged = true
	s.mu.Unlock()
	return nil
}

// MergeSelections translates the merge order back into per-file page lists
// for submission. Consecutive pages of the same file collapse into one entry
// so interleaved orderings survive the round trip.
func (s *Sequence) MergeSelections() []MergeSelection {
	seq := s.Current()
	out := make([]MergeSelection, 0)
	for _, op := range seq {
		if n := len(out); n > 0 && out[n-1].FileID == op.FileID {
			out[n-1].Pages = append(out[n-1].Pages, op.Page)
			continue
		}
		out = append(out, MergeSelection{FileID: op.FileID, Pages: []int{op.Page}})
	}
	return out
}
