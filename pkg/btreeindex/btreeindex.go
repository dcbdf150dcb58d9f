// Package btreeindex wraps the teacher's in-memory pkg/btree B+ tree with
// the disk persistence and uniform slot-value contract §4.3 requires:
// every entry maps a key to an int64 heap slot, whether the index is
// clustered or unclustered, grounded on
// original_source/backend/app/data_structures/bplus_tree.py's
// BPLUSClustered/BPLUSUnclustered split.
package btreeindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/bobboyms/multidex/pkg/btree"
	"github.com/bobboyms/multidex/pkg/query"
	"github.com/bobboyms/multidex/pkg/types"
)

// DefaultOrder is the B+ tree minimum degree Open falls back to when it is
// given an order of 1 or less.
const DefaultOrder = 32

type meta struct {
	Order     int  `json:"order"`
	Kind      int  `json:"kind"`
	StrSize   int  `json:"str_size"`
	Clustered bool `json:"clustered"`
	Count     int  `json:"count"`
}

// Index is a disk-backed B+ tree secondary index. Clustered and
// unclustered indexes share the same representation: a (key -> slot)
// mapping. §7's duplicate-key table allows duplicates on both, so the
// underlying tree is always the teacher's non-unique BPlusTree.
type Index struct {
	dataPath, metaPath string
	kind               types.KeyKind
	strSize            int
	order              int
	clustered          bool

	tree  *btree.BPlusTree
	count int
}

// Open creates a fresh index or loads one previously persisted at
// dataPath/metaPath.
func Open(dataPath, metaPath string, kind types.KeyKind, strSize int, clustered bool, order int) (*Index, error) {
	if order <= 1 {
		order = DefaultOrder
	}
	idx := &Index{
		dataPath:  dataPath,
		metaPath:  metaPath,
		kind:      kind,
		strSize:   strSize,
		order:     order,
		clustered: clustered,
		tree:      btree.NewTree(order),
	}
	if _, err := os.Stat(metaPath); err == nil {
		if err := idx.load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Clustered reports whether this index is the table's clustered (primary
// key) index.
func (idx *Index) Clustered() bool { return idx.clustered }

// Insert adds key -> slot. Duplicate keys are appended as additional
// leaf entries rather than rejected, matching §7.
func (idx *Index) Insert(key types.Comparable, slot int64) error {
	if err := idx.tree.Insert(key, slot); err != nil {
		return err
	}
	idx.count++
	return nil
}

// Find returns the slot for the first leaf entry matching key.
func (idx *Index) Find(key types.Comparable) (int64, bool) {
	return idx.tree.Get(key)
}

// RangeSearch walks the leaf linked list starting at cond's lower bound,
// collecting every slot whose key matches cond, and stopping as soon as
// cond.ShouldContinue reports false — the same seek-then-scan contract
// pkg/query's Condition describes for the heap's own range scans.
func (idx *Index) RangeSearch(cond *query.Condition) []int64 {
	var out []int64
	start := cond.GetStartKey()

	node, pos := idx.tree.FindLeafLowerBound(start)
	for node != nil {
		for pos < node.N {
			key := node.Keys[pos]
			if !cond.ShouldContinue(key) {
				return out
			}
			if cond.Matches(key) {
				out = append(out, node.Slots[pos])
			}
			pos++
		}
		node = node.Next
		pos = 0
	}
	return out
}

// Remove is not supported: the teacher's BPlusTree exposes no delete
// path (see pkg/btree.Node.remove, unused by BPlusTree's public API), so
// §4.7's IndexManager.Delete simply leaves stale btree entries behind,
// filtering them against the heap's deleted flag at read time — the
// same "no cleanup on delete" gap Open Question 1 resolves to keep.

// Count returns the number of entries inserted (including duplicates
// and any later shadowed by tombstones upstream).
func (idx *Index) Count() int { return idx.count }

// Save persists the index to dataPath/metaPath: a JSON meta sidecar and
// a binary dump of every (key, slot) leaf entry, produced by walking the
// leaf linked list from the beginning. Reload replays each entry through
// a fresh Insert rather than attempting to serialize node pointers
// directly.
func (idx *Index) Save() error {
	mb, err := json.Marshal(meta{
		Order:     idx.order,
		Kind:      int(idx.kind),
		StrSize:   idx.strSize,
		Clustered: idx.clustered,
		Count:     idx.count,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(idx.metaPath, mb, 0644); err != nil {
		return fmt.Errorf("btreeindex: write meta %s: %w", idx.metaPath, err)
	}

	f, err := os.Create(idx.dataPath)
	if err != nil {
		return fmt.Errorf("btreeindex: create data file %s: %w", idx.dataPath, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	node, pos := idx.tree.FindLeafLowerBound(nil)
	for node != nil {
		for pos < node.N {
			kb, err := types.EncodeKey(node.Keys[pos], idx.kind, idx.strSize)
			if err != nil {
				return err
			}
			if _, err := w.Write(kb); err != nil {
				return err
			}
			var slotBuf [8]byte
			binary.LittleEndian.PutUint64(slotBuf[:], uint64(node.Slots[pos]))
			if _, err := w.Write(slotBuf[:]); err != nil {
				return err
			}
			pos++
		}
		node = node.Next
		pos = 0
	}
	return w.Flush()
}

func (idx *Index) load() error {
	mb, err := os.ReadFile(idx.metaPath)
	if err != nil {
		return fmt.Errorf("btreeindex: read meta %s: %w", idx.metaPath, err)
	}
	var m meta
	if err := json.Unmarshal(mb, &m); err != nil {
		return fmt.Errorf("btreeindex: unmarshal meta %s: %w", idx.metaPath, err)
	}
	idx.order = m.Order
	idx.kind = types.KeyKind(m.Kind)
	idx.strSize = m.StrSize
	idx.clustered = m.Clustered
	idx.tree = btree.NewTree(idx.order)

	data, err := os.ReadFile(idx.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("btreeindex: read data %s: %w", idx.dataPath, err)
	}
	keySize := types.KeySize(idx.kind, idx.strSize)
	recSize := keySize + 8
	entries := make([]struct {
		key  types.Comparable
		slot int64
	}, 0, m.Count)
	for off := 0; off+recSize <= len(data); off += recSize {
		key, err := types.DecodeKey(data[off:off+keySize], idx.kind, idx.strSize)
		if err != nil {
			return fmt.Errorf("btreeindex: decode key at offset %d: %w", off, err)
		}
		slot := int64(binary.LittleEndian.Uint64(data[off+keySize : off+recSize]))
		entries = append(entries, struct {
			key  types.Comparable
			slot int64
		}{key, slot})
	}
	// Inserting in already-sorted order keeps the resulting tree's shape
	// close to what a fresh bulk build would produce; the data file is
	// written by an in-order leaf walk, so it already is sorted, but we
	// don't depend on that invariant holding across future writers.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].key.Compare(entries[j].key) < 0
	})
	for _, e := range entries {
		if err := idx.tree.Insert(e.key, e.slot); err != nil {
			return err
		}
	}
	idx.count = m.Count
	return nil
}

// Close is a no-op; the index keeps no open file handles between calls.
func (idx *Index) Close() error { return nil }
