package rtree

import (
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "rtree.dat"), filepath.Join(dir, "rtree_meta.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return idx
}

func TestAddAndRangeSearch(t *testing.T) {
	idx := openTestIndex(t)
	points := []struct{ x, y float64 }{
		{0, 0}, {1, 1}, {5, 5}, {10, 10}, {-3, -3},
	}
	for i, p := range points {
		if _, err := idx.Add(p.x, p.y, int32(i)); err != nil {
			t.Fatalf("Add(%v): %v", p, err)
		}
	}

	slots, err := idx.RangeSearch(0, 0, 2)
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	got := map[int32]bool{}
	for _, s := range slots {
		got[s] = true
	}
	if !got[0] || !got[1] {
		t.Fatalf("RangeSearch(0,0,2) = %v, want to include slots 0 and 1", slots)
	}
	if got[3] {
		t.Fatalf("RangeSearch(0,0,2) = %v, should not include the far point at (10,10)", slots)
	}
}

func TestKNN(t *testing.T) {
	idx := openTestIndex(t)
	points := []struct{ x, y float64 }{
		{0, 0}, {1, 0}, {2, 0}, {100, 100},
	}
	for i, p := range points {
		if _, err := idx.Add(p.x, p.y, int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	slots, err := idx.KNN(0, 0, 2)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("KNN(0,0,2) returned %d slots, want 2", len(slots))
	}
	got := map[int32]bool{}
	for _, s := range slots {
		got[s] = true
	}
	if !got[0] || !got[1] {
		t.Fatalf("KNN(0,0,2) = %v, want the two closest points (slots 0, 1)", slots)
	}
}

func TestRemove(t *testing.T) {
	idx := openTestIndex(t)
	id, err := idx.Add(1, 1, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Remove(id) {
		t.Fatal("Remove reported false for an existing id")
	}
	if idx.Remove(id) {
		t.Fatal("Remove reported true for an already-removed id")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "rtree.dat")
	metaPath := filepath.Join(dir, "rtree_meta.json")

	idx, err := Open(dataPath, metaPath)
	if err != nil {
		t.Fatal(err)
	}
	points := []struct{ x, y float64 }{{1.5, 2.5}, {-4, 8}, {0, 0}}
	for i, p := range points {
		if _, err := idx.Add(p.x, p.y, int32(i*100)); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Open(dataPath, metaPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	slots, err := reloaded.RangeSearch(1.5, 2.5, 0.01)
	if err != nil {
		t.Fatalf("RangeSearch after reload: %v", err)
	}
	found := false
	for _, s := range slots {
		if s == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("RangeSearch after reload = %v, want to include slot 0", slots)
	}
}

func TestParseArrayFloat(t *testing.T) {
	cases := []struct {
		in      string
		x, y    float64
		wantErr bool
	}{
		{"ARRAY[1.5,2.5]", 1.5, 2.5, false},
		{"3,4", 3, 4, false},
		{" ARRAY[ -1.0 , 2.0 ] ", -1.0, 2.0, false},
		{"ARRAY[1,2,3]", 0, 0, true},
		{"ARRAY[abc,2]", 0, 0, true},
	}
	for _, c := range cases {
		x, y, err := ParseArrayFloat(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseArrayFloat(%q): expected error, got none", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseArrayFloat(%q): %v", c.in, err)
			continue
		}
		if x != c.x || y != c.y {
			t.Errorf("ParseArrayFloat(%q) = (%v, %v), want (%v, %v)", c.in, x, y, c.x, c.y)
		}
	}
}
