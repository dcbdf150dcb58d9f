// Package rtree implements the 2-D spatial secondary index described by
// §4.6, wrapping github.com/dhconnelly/rtreego for the tree structure
// itself and adding the disk persistence format and ARRAY_FLOAT parsing
// §4.6 specifies on top of it.
package rtree

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
)

// pointEpsilon gives each indexed point a vanishingly small bounding box;
// rtreego models every entry as a rectangle, and a zero-size rectangle is
// rejected by NewRect.
const pointEpsilon = 1e-9

type entry struct {
	id   uuid.UUID
	x, y float64
	slot int32
}

func (e *entry) Bounds() rtreego.Rect {
	rect, err := rtreego.NewRect(rtreego.Point{e.x - pointEpsilon, e.y - pointEpsilon}, []float64{2 * pointEpsilon, 2 * pointEpsilon})
	if err != nil {
		// Only reachable if pointEpsilon itself were misconfigured to <= 0.
		panic(fmt.Sprintf("rtree: invalid bounds: %v", err))
	}
	return rect
}

// Index is a 2-D spatial index over (x, y) points, each carrying a heap
// slot, the way spatial_rtree.py's RTreeIndex does.
type Index struct {
	dataPath, metaPath string

	mu      sync.RWMutex
	tree    *rtreego.Rtree
	entries map[uuid.UUID]*entry
}

// Open creates a new, empty index or loads one previously persisted at
// dataPath/metaPath.
func Open(dataPath, metaPath string) (*Index, error) {
	idx := &Index{
		dataPath: dataPath,
		metaPath: metaPath,
		tree:     rtreego.NewTree(2, 4, 8),
		entries:  make(map[uuid.UUID]*entry),
	}
	if _, err := os.Stat(dataPath); err == nil {
		if _, err := os.Stat(metaPath); err == nil {
			if err := idx.load(); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

// Add inserts (x, y) -> slot and returns the entry id assigned to it, the
// same way schema.Table mints a uuid for its own identity.
func (idx *Index) Add(x, y float64, slot int32) (uuid.UUID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id := uuid.New()
	e := &entry{id: id, x: x, y: y, slot: slot}
	idx.tree.Insert(e)
	idx.entries[id] = e
	return id, nil
}

// RangeSearch returns the slot of every point whose axis-aligned bounding
// box (x-radius, y-radius, x+radius, y+radius) intersects the query box
// centered at (x, y), matching rangeSearch's rectangle-intersection test.
func (idx *Index) RangeSearch(x, y, radius float64) ([]int32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	box, err := rtreego.NewRect(rtreego.Point{x - radius, y - radius}, []float64{2 * radius, 2 * radius})
	if err != nil {
		return nil, fmt.Errorf("rtree: invalid search box: %w", err)
	}
	hits := idx.tree.SearchIntersect(box)
	out := make([]int32, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*entry).slot)
	}
	return out, nil
}

// KNN returns the slots of the k nearest points to (x, y).
func (idx *Index) KNN(x, y float64, k int) ([]int32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hits := idx.tree.NearestNeighbors(k, rtreego.Point{x, y})
	out := make([]int32, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		out = append(out, h.(*entry).slot)
	}
	return out, nil
}

// Remove deletes the entry with id, if present.
func (idx *Index) Remove(id uuid.UUID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[id]
	if !ok {
		return false
	}
	idx.tree.Delete(e)
	delete(idx.entries, id)
	return true
}

type meta struct {
	NumEntries int `json:"num_entries"`
}

// recSize is the width of one persisted entry: a 16-byte uuid id followed
// by x, y (float64) and the heap slot (int32).
const recSize = 16 + 8 + 8 + 4

// Save persists the index to dataPath/metaPath: a JSON sidecar carrying the
// entry count, and a fixed-width binary file of (id, x, y, slot) records.
// Unlike spatial_rtree.py's save(), which calls a nonexistent
// float.to_bytes method and would raise at runtime, coordinates here are
// written as proper IEEE-754 float64 via math.Float64bits.
func (idx *Index) Save() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	m := meta{NumEntries: len(idx.entries)}
	mb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(idx.metaPath, mb, 0644); err != nil {
		return fmt.Errorf("write rtree metadata %s: %w", idx.metaPath, err)
	}

	buf := make([]byte, 4, 4+len(idx.entries)*recSize)
	binary.LittleEndian.PutUint32(buf, uint32(len(idx.entries)))
	for _, e := range idx.entries {
		rec := make([]byte, recSize)
		copy(rec[0:16], e.id[:])
		binary.LittleEndian.PutUint64(rec[16:24], math.Float64bits(e.x))
		binary.LittleEndian.PutUint64(rec[24:32], math.Float64bits(e.y))
		binary.LittleEndian.PutUint32(rec[32:36], uint32(e.slot))
		buf = append(buf, rec...)
	}
	return os.WriteFile(idx.dataPath, buf, 0644)
}

func (idx *Index) load() error {
	mb, err := os.ReadFile(idx.metaPath)
	if err != nil {
		return fmt.Errorf("read rtree metadata %s: %w", idx.metaPath, err)
	}
	var m meta
	if err := json.Unmarshal(mb, &m); err != nil {
		return fmt.Errorf("unmarshal rtree metadata %s: %w", idx.metaPath, err)
	}

	data, err := os.ReadFile(idx.dataPath)
	if err != nil {
		return fmt.Errorf("read rtree data %s: %w", idx.dataPath, err)
	}
	if len(data) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	for i := 0; i < n; i++ {
		if off+recSize > len(data) {
			return fmt.Errorf("rtree data %s: truncated at record %d", idx.dataPath, i)
		}
		var id uuid.UUID
		copy(id[:], data[off:off+16])
		x := math.Float64frombits(binary.LittleEndian.Uint64(data[off+16 : off+24]))
		y := math.Float64frombits(binary.LittleEndian.Uint64(data[off+24 : off+32]))
		slot := int32(binary.LittleEndian.Uint32(data[off+32 : off+36]))
		off += recSize

		e := &entry{id: id, x: x, y: y, slot: slot}
		idx.tree.Insert(e)
		idx.entries[id] = e
	}
	return nil
}

// ParseArrayFloat parses a "ARRAY[x,y]" (or bare "x,y") literal into its two
// float components, matching spatial_rtree.py's parse_array_float.
func ParseArrayFloat(s string) (float64, float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "ARRAY[") && strings.HasSuffix(s, "]") {
		s = s[len("ARRAY[") : len(s)-1]
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rtree: array must have exactly 2 elements: %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("rtree: error parsing coordinates %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("rtree: error parsing coordinates %q: %w", s, err)
	}
	return x, y, nil
}

// Close is a no-op; the index keeps no open file handles between calls.
func (idx *Index) Close() error { return nil }
