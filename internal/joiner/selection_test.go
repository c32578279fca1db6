package joiner

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func newStoreWithFile(t *testing.T, id string, pages int) *SelectionStore {
	t.Helper()
	s := NewSelectionStore()
	s.AddFile(UploadedFile{FileID: id, OriginalFilename: id + ".pdf", PageCount: pages})
	return s
}

func TestTogglePageKeepsSelectionSortedUnique(t *testing.T) {
	s := newStoreWithFile(t, "f1", 50)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		s.TogglePage("f1", 1+rng.Intn(50))
	}

	sel := s.Selected("f1")
	if !sort.IntsAreSorted(sel) {
		t.Fatalf("selection not sorted: %v", sel)
	}
	seen := map[int]bool{}
	for _, p := range sel {
		if seen[p] {
			t.Fatalf("duplicate page %d in selection %v", p, sel)
		}
		seen[p] = true
		if p < 1 || p > 50 {
			t.Fatalf("page %d out of range", p)
		}
	}
}

func TestToggleTwiceEndsEmpty(t *testing.T) {
	s := newStoreWithFile(t, "f1", 5)
	s.TogglePage("f1", 2)
	s.TogglePage("f1", 2)
	if sel := s.Selected("f1"); len(sel) != 0 {
		t.Fatalf("expected empty selection, got %v", sel)
	}
}

func TestSelectAll(t *testing.T) {
	s := newStoreWithFile(t, "f1", 5)
	s.SelectAll("f1", 5)
	if got := s.Selected("f1"); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("expected [1 2 3 4 5], got %v", got)
	}
	s.DeselectAll("f1")
	if got := s.Selected("f1"); len(got) != 0 {
		t.Fatalf("expected empty after deselect all, got %v", got)
	}
}

func TestSelectVisibleUnionsAndBounds(t *testing.T) {
	s := newStoreWithFile(t, "f1", 10)
	s.TogglePage("f1", 3)
	s.SelectVisible("f1", []int{1, 3, 5, 99})
	if got := s.Selected("f1"); !reflect.DeepEqual(got, []int{1, 3, 5}) {
		t.Fatalf("expected [1 3 5], got %v", got)
	}
	s.DeselectVisible("f1", []int{3, 5})
	if got := s.Selected("f1"); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("expected [1], got %v", got)
	}
}

func TestTogglePageUnknownFileIsNoop(t *testing.T) {
	s := NewSelectionStore()
	s.TogglePage("ghost", 1)
	if sel := s.Selected("ghost"); sel != nil {
		t.Fatalf("expected nil selection for unknown file, got %v", sel)
	}
}

func TestTogglePageOutOfRangeIsNoop(t *testing.T) {
	s := newStoreWithFile(t, "f1", 3)
	s.TogglePage("f1", 0)
	s.TogglePage("f1", 4)
	if sel := s.Selected("f1"); len(sel) != 0 {
		t.Fatalf("expected empty selection, got %v", sel)
	}
}

func TestRemoveFileDropsSelectionAndOrder(t *testing.T) {
	s := NewSelectionStore()
	s.AddFile(UploadedFile{FileID: "f1", PageCount: 3})
	s.AddFile(UploadedFile{FileID: "f2", PageCount: 2})
	s.SelectAll("f1", 3)
	s.RemoveFile("f1")

	files := s.Files()
	if len(files) != 1 || files[0].FileID != "f2" {
		t.Fatalf("expected only f2 to remain, got %v", files)
	}
	if sel := s.Selected("f1"); sel != nil {
		t.Fatalf("expected nil selection for removed file, got %v", sel)
	}
}

func TestFilesKeepUploadOrder(t *testing.T) {
	s := NewSelectionStore()
	for _, id := range []string{"c", "a", "b"} {
		s.AddFile(UploadedFile{FileID: id, PageCount: 1})
	}
	var got []string
	for _, f := range s.Files() {
		got = append(got, f.FileID)
	}
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("expected upload order [c a b], got %v", got)
	}
}
