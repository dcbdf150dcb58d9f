package avl

import (
	"path/filepath"
	"testing"

	"github.com/bobboyms/multidex/pkg/types"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.avl")
	idx, err := Open(path, types.KeyKindInt, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestInsertAndFind(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{50, 30, 70, 20, 40, 60, 80, 10, 90}
	for i, k := range keys {
		if err := idx.Insert(types.IntKey(k), int32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for i, k := range keys {
		slot, ok, err := idx.Find(types.IntKey(k))
		if err != nil {
			t.Fatalf("Find(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("Find(%d): key not found", k)
		}
		if slot != int32(i) {
			t.Fatalf("Find(%d): got slot %d, want %d", k, slot, i)
		}
	}
	if _, ok, err := idx.Find(types.IntKey(999)); err != nil || ok {
		t.Fatalf("Find(999): got ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestInsertDuplicateUpdatesSlot(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Insert(types.IntKey(5), 1); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(types.IntKey(5), 2); err != nil {
		t.Fatal(err)
	}
	slot, ok, err := idx.Find(types.IntKey(5))
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	if slot != 2 {
		t.Fatalf("got slot %d, want 2 (duplicate insert should overwrite)", slot)
	}
}

// TestRemoveKeepsFindConsistent exercises the two-child removal case, which
// replaces a node with its in-order successor. A find for every surviving
// key must still resolve to its original slot afterward.
func TestRemoveKeepsFindConsistent(t *testing.T) {
	idx := openTestIndex(t)
	slots := map[int32]int32{}
	keys := []int32{50, 30, 70, 20, 40, 60, 80}
	for i, k := range keys {
		slots[k] = int32(i)
		if err := idx.Insert(types.IntKey(k), int32(i)); err != nil {
			t.Fatal(err)
		}
	}

	// Remove 50, the root, which has two children: this forces the
	// successor-copy path to carry over both key and slot.
	if err := idx.Remove(types.IntKey(50)); err != nil {
		t.Fatalf("Remove(50): %v", err)
	}
	delete(slots, 50)

	for k, wantSlot := range slots {
		slot, ok, err := idx.Find(types.IntKey(k))
		if err != nil {
			t.Fatalf("Find(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("Find(%d): expected to still be present", k)
		}
		if slot != wantSlot {
			t.Fatalf("Find(%d) = %d, want %d", k, slot, wantSlot)
		}
	}
	if _, ok, err := idx.Find(types.IntKey(50)); err != nil || ok {
		t.Fatalf("Find(50) after remove: ok=%v err=%v, want false", ok, err)
	}
}

func TestRemoveLeafAndSingleChild(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{10, 20, 30, 40, 50}
	for i, k := range keys {
		if err := idx.Insert(types.IntKey(k), int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.Remove(types.IntKey(10)); err != nil {
		t.Fatalf("Remove(10): %v", err)
	}
	if _, ok, err := idx.Find(types.IntKey(10)); err != nil || ok {
		t.Fatalf("Find(10) after remove: ok=%v err=%v", ok, err)
	}
	for _, k := range []int32{20, 30, 40, 50} {
		if _, ok, err := idx.Find(types.IntKey(k)); err != nil || !ok {
			t.Fatalf("Find(%d) after unrelated remove: ok=%v err=%v", k, ok, err)
		}
	}
}

func TestRangeSearch(t *testing.T) {
	idx := openTestIndex(t)
	for i, k := range []int32{50, 30, 70, 20, 40, 60, 80, 10, 90} {
		if err := idx.Insert(types.IntKey(k), int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	slots, err := idx.RangeSearch(types.IntKey(30), types.IntKey(70))
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	if len(slots) != 5 {
		t.Fatalf("RangeSearch(30,70) returned %d slots, want 5", len(slots))
	}
}

func TestReopenPreservesTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.avl")
	idx, err := Open(path, types.KeyKindInt, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range []int32{1, 2, 3, 4, 5} {
		if err := idx.Insert(types.IntKey(k), int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, types.KeyKindInt, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	slot, ok, err := reopened.Find(types.IntKey(3))
	if err != nil || !ok {
		t.Fatalf("Find(3) after reopen: ok=%v err=%v", ok, err)
	}
	if slot != 2 {
		t.Fatalf("Find(3) after reopen = %d, want 2", slot)
	}
}

func TestStringKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.avl")
	idx, err := Open(path, types.KeyKindString, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	words := []string{"mango", "apple", "cherry", "banana"}
	for i, w := range words {
		if err := idx.Insert(types.VarcharKey(w), int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i, w := range words {
		slot, ok, err := idx.Find(types.VarcharKey(w))
		if err != nil || !ok {
			t.Fatalf("Find(%q): ok=%v err=%v", w, ok, err)
		}
		if slot != int32(i) {
			t.Fatalf("Find(%q) = %d, want %d", w, slot, i)
		}
	}
}
