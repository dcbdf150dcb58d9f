package isam

import (
	"path/filepath"
	"testing"

	"github.com/bobboyms/multidex/pkg/types"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(
		filepath.Join(dir, "root.dat"),
		filepath.Join(dir, "mid.dat"),
		filepath.Join(dir, "data.dat"),
		types.KeyKindInt, 0, Options{},
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func buildEntries(keys []int32) []Entry {
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Key: types.IntKey(k), Slot: k * 10}
	}
	return out
}

func TestBuildIndexAndSearch(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{10, 20, 30, 40, 50, 60, 70, 80}
	if err := idx.BuildIndex(buildEntries(keys)); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	for _, k := range keys {
		slot, ok, err := idx.Search(types.IntKey(k))
		if err != nil {
			t.Fatalf("Search(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("Search(%d): not found", k)
		}
		if slot != k*10 {
			t.Fatalf("Search(%d) = %d, want %d", k, slot, k*10)
		}
	}
	if _, ok, err := idx.Search(types.IntKey(999)); err != nil || ok {
		t.Fatalf("Search(999): ok=%v err=%v, want false", ok, err)
	}
}

func TestInsertIntoOverflowChain(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{10, 20, 30, 40, 50, 60, 70, 80}
	if err := idx.BuildIndex(buildEntries(keys)); err != nil {
		t.Fatal(err)
	}

	// Each base data page holds BLOCK_FACTOR (default 3) records; 35 lands
	// in the full base page [10,20,30], so this insert goes to an overflow page.
	inserted, err := idx.Insert(types.IntKey(35), 350)
	if err != nil {
		t.Fatalf("Insert(35): %v", err)
	}
	if !inserted {
		t.Fatal("Insert(35) reported not-inserted")
	}
	slot, ok, err := idx.Search(types.IntKey(35))
	if err != nil || !ok || slot != 350 {
		t.Fatalf("Search(35) = (%d, %v) err=%v, want (350, true)", slot, ok, err)
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.BuildIndex(buildEntries([]int32{10, 20, 30})); err != nil {
		t.Fatal(err)
	}
	inserted, err := idx.Insert(types.IntKey(20), 999)
	if err != nil {
		t.Fatalf("Insert(20): %v", err)
	}
	if inserted {
		t.Fatal("Insert(20) should have been rejected as a duplicate")
	}
	slot, ok, err := idx.Search(types.IntKey(20))
	if err != nil || !ok || slot != 200 {
		t.Fatalf("Search(20) = (%d, %v) err=%v, want original (200, true)", slot, ok, err)
	}
}

func TestInsertIntoEmptyIndexBootstraps(t *testing.T) {
	idx := openTestIndex(t)
	inserted, err := idx.Insert(types.IntKey(5), 50)
	if err != nil {
		t.Fatalf("Insert into empty index: %v", err)
	}
	if !inserted {
		t.Fatal("expected insert into an empty index to succeed")
	}
	slot, ok, err := idx.Search(types.IntKey(5))
	if err != nil || !ok || slot != 50 {
		t.Fatalf("Search(5) = (%d, %v) err=%v, want (50, true)", slot, ok, err)
	}
}

func TestRemoveTombstonesRecord(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{10, 20, 30, 40, 50}
	if err := idx.BuildIndex(buildEntries(keys)); err != nil {
		t.Fatal(err)
	}
	removed, err := idx.Remove(types.IntKey(30))
	if err != nil {
		t.Fatalf("Remove(30): %v", err)
	}
	if !removed {
		t.Fatal("Remove(30) reported not-found")
	}
	if _, ok, err := idx.Search(types.IntKey(30)); err != nil || ok {
		t.Fatalf("Search(30) after remove: ok=%v err=%v, want false", ok, err)
	}
	for _, k := range []int32{10, 20, 40, 50} {
		if _, ok, err := idx.Search(types.IntKey(k)); err != nil || !ok {
			t.Fatalf("Search(%d) after unrelated remove: ok=%v err=%v", k, ok, err)
		}
	}
}

func TestRemoveMissingKeyReturnsFalse(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.BuildIndex(buildEntries([]int32{1, 2, 3})); err != nil {
		t.Fatal(err)
	}
	removed, err := idx.Remove(types.IntKey(999))
	if err != nil {
		t.Fatalf("Remove(999): %v", err)
	}
	if removed {
		t.Fatal("Remove(999) should report false for an absent key")
	}
}

func TestRangeSearch(t *testing.T) {
	idx := openTestIndex(t)
	keys := []int32{10, 20, 30, 40, 50, 60, 70, 80}
	if err := idx.BuildIndex(buildEntries(keys)); err != nil {
		t.Fatal(err)
	}
	slots, err := idx.RangeSearch(types.IntKey(30), types.IntKey(60))
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	want := map[int32]bool{300: true, 400: true, 500: true, 600: true}
	if len(slots) != len(want) {
		t.Fatalf("RangeSearch(30,60) returned %d slots, want %d", len(slots), len(want))
	}
	for _, s := range slots {
		if !want[s] {
			t.Fatalf("RangeSearch(30,60) returned unexpected slot %d", s)
		}
	}
}

func TestRangeSearchSwapsInvertedBounds(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.BuildIndex(buildEntries([]int32{10, 20, 30, 40, 50})); err != nil {
		t.Fatal(err)
	}
	slots, err := idx.RangeSearch(types.IntKey(40), types.IntKey(20))
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("RangeSearch(40,20) returned %d slots, want 3", len(slots))
	}
}

func TestReopenPreservesBuiltIndex(t *testing.T) {
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "root.dat")
	midPath := filepath.Join(dir, "mid.dat")
	dataPath := filepath.Join(dir, "data.dat")

	idx, err := Open(rootPath, midPath, dataPath, types.KeyKindInt, 0, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.BuildIndex(buildEntries([]int32{10, 20, 30})); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(rootPath, midPath, dataPath, types.KeyKindInt, 0, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	slot, ok, err := reopened.Search(types.IntKey(20))
	if err != nil || !ok || slot != 200 {
		t.Fatalf("Search(20) after reopen = (%d, %v) err=%v, want (200, true)", slot, ok, err)
	}
}

func TestCustomFactors(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(
		filepath.Join(dir, "root.dat"),
		filepath.Join(dir, "mid.dat"),
		filepath.Join(dir, "data.dat"),
		types.KeyKindInt, 0, Options{BlockFactor: 2, IndexFactor: 2},
	)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	// One root page of IndexFactor mid pages, each of IndexFactor data pages
	// of BlockFactor records: a static build holds at most 2*2*2 = 8 keys.
	keys := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	if err := idx.BuildIndex(buildEntries(keys)); err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if _, ok, err := idx.Search(types.IntKey(k)); err != nil || !ok {
			t.Fatalf("Search(%d): ok=%v err=%v", k, ok, err)
		}
	}
}
