// Package isam implements the two-level static ISAM secondary index
// described by §4.5: a root index page, a mid-level index page, and a
// data page chain with bounded-length overflow.
package isam

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/bobboyms/multidex/pkg/types"
)

// Defaults mirror isam.py's module-level BLOCK_FACTOR/INDEX_FACTOR.
const (
	DefaultBlockFactor = 3
	DefaultIndexFactor = 4
)

const noPtr int32 = -1

// Options configures the fan-out of each index level and the data page
// capacity. Zero values fall back to the package defaults.
type Options struct {
	BlockFactor int
	IndexFactor int
}

func (o Options) withDefaults() Options {
	if o.BlockFactor <= 0 {
		o.BlockFactor = DefaultBlockFactor
	}
	if o.IndexFactor <= 0 {
		o.IndexFactor = DefaultIndexFactor
	}
	return o
}

// Entry is one (key, heap slot) pair fed to BuildIndex.
type Entry struct {
	Key  types.Comparable
	Slot int32
}

type dataRecord struct {
	key     types.Comparable
	slot    int32
	deleted bool
}

type indexPage struct {
	n    int32
	keys []types.Comparable
	ptrs []int32
}

func newIndexPage(indexFactor int) *indexPage {
	keys := make([]types.Comparable, indexFactor)
	ptrs := make([]int32, indexFactor+1)
	for i := range ptrs {
		ptrs[i] = noPtr
	}
	return &indexPage{keys: keys, ptrs: ptrs}
}

// addEntryBlock seeds the page from up to indexFactor (key, ptr) pairs, the
// way isam.py's add_entry_block builds a page from one chunk of children.
func (p *indexPage) addEntryBlock(block []Entry, indexFactor int) error {
	if len(block) == 0 {
		p.n = 0
		return nil
	}
	if len(block) > indexFactor {
		return fmt.Errorf("isam: index block of %d entries exceeds index factor %d", len(block), indexFactor)
	}
	p.ptrs[0] = block[0].Slot
	for j, e := range block {
		p.keys[j] = e.Key
		p.ptrs[j+1] = e.Slot
	}
	p.n = int32(len(block))
	return nil
}

// choosePtr returns the child pointer to follow for key, per isam.py's
// choose_ptr: the last child whose separator key is <= key, or ptrs[0] if
// key is smaller than every separator.
func (p *indexPage) choosePtr(key types.Comparable) int32 {
	if p.n == 0 {
		return noPtr
	}
	i := -1
	for j := int32(0); j < p.n; j++ {
		if p.keys[j].Compare(key) <= 0 {
			i = int(j)
		} else {
			break
		}
	}
	if i == -1 {
		return p.ptrs[0]
	}
	return p.ptrs[i+1]
}

type dataPage struct {
	records  []dataRecord
	nextPage int32
}

// insertSorted appends record in key order if the page has room, matching
// isam.py's DataPage.insert_sorted.
func (dp *dataPage) insertSorted(r dataRecord, blockFactor int) bool {
	if len(dp.records) >= blockFactor {
		return false
	}
	dp.records = append(dp.records, r)
	sort.Slice(dp.records, func(i, j int) bool { return dp.records[i].key.Compare(dp.records[j].key) < 0 })
	return true
}

// Index is one two-level ISAM structure over three files: a root index
// page, a chain of mid-level index pages, and a chain of data pages.
type Index struct {
	rootPath, midPath, dataPath string
	kind                        types.KeyKind
	keySize                     int
	opts                        Options

	rootFile, midFile, dataFile *os.File

	mu sync.Mutex
}

// Open creates the three backing files (empty) if absent, or opens them if
// present. An Index with empty files has no searchable entries until
// BuildIndex is called.
func Open(rootPath, midPath, dataPath string, kind types.KeyKind, strSize int, opts Options) (*Index, error) {
	idx := &Index{
		rootPath: rootPath,
		midPath:  midPath,
		dataPath: dataPath,
		kind:     kind,
		keySize:  types.KeySize(kind, strSize),
		opts:     opts.withDefaults(),
	}
	var err error
	idx.rootFile, err = os.OpenFile(rootPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open isam root %s: %w", rootPath, err)
	}
	idx.midFile, err = os.OpenFile(midPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		idx.rootFile.Close()
		return nil, fmt.Errorf("open isam mid %s: %w", midPath, err)
	}
	idx.dataFile, err = os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		idx.rootFile.Close()
		idx.midFile.Close()
		return nil, fmt.Errorf("open isam data %s: %w", dataPath, err)
	}

	info, err := idx.rootFile.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		if err := idx.BuildIndex(nil); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) indexPageSize() int64 {
	return 4 + int64(idx.opts.IndexFactor)*int64(idx.keySize) + int64(idx.opts.IndexFactor+1)*4
}

func (idx *Index) dataRecordSize() int64 { return int64(idx.keySize) + 4 + 4 }

func (idx *Index) dataPageSize() int64 {
	return 8 + int64(idx.opts.BlockFactor)*idx.dataRecordSize()
}

func (idx *Index) packIndexPage(p *indexPage) ([]byte, error) {
	buf := make([]byte, idx.indexPageSize())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.n))
	off := 4
	for i := 0; i < idx.opts.IndexFactor; i++ {
		if p.keys[i] != nil {
			kb, err := types.EncodeKey(p.keys[i], idx.kind, idx.keySize)
			if err != nil {
				return nil, err
			}
			copy(buf[off:off+idx.keySize], kb)
		}
		off += idx.keySize
	}
	for i := 0; i < idx.opts.IndexFactor+1; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.ptrs[i]))
		off += 4
	}
	return buf, nil
}

func (idx *Index) unpackIndexPage(buf []byte) (*indexPage, error) {
	p := newIndexPage(idx.opts.IndexFactor)
	p.n = int32(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	for i := 0; i < idx.opts.IndexFactor; i++ {
		key, err := types.DecodeKey(buf[off:off+idx.keySize], idx.kind, idx.keySize)
		if err != nil {
			return nil, err
		}
		p.keys[i] = key
		off += idx.keySize
	}
	for i := 0; i < idx.opts.IndexFactor+1; i++ {
		p.ptrs[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return p, nil
}

func (idx *Index) readIndexPage(f *os.File, offset int32) (*indexPage, error) {
	buf := make([]byte, idx.indexPageSize())
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read isam index page at %d: %w", offset, err)
	}
	return idx.unpackIndexPage(buf)
}

func (idx *Index) packDataPage(dp *dataPage) ([]byte, error) {
	buf := make([]byte, idx.dataPageSize())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(dp.records)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dp.nextPage))
	recSize := int(idx.dataRecordSize())
	off := 8
	for _, r := range dp.records {
		kb, err := types.EncodeKey(r.key, idx.kind, idx.keySize)
		if err != nil {
			return nil, err
		}
		copy(buf[off:off+idx.keySize], kb)
		binary.LittleEndian.PutUint32(buf[off+idx.keySize:off+idx.keySize+4], uint32(r.slot))
		deleted := uint32(0)
		if r.deleted {
			deleted = 1
		}
		binary.LittleEndian.PutUint32(buf[off+idx.keySize+4:off+idx.keySize+8], deleted)
		off += recSize
	}
	return buf, nil
}

func (idx *Index) unpackDataPage(buf []byte) (*dataPage, error) {
	n := int32(binary.LittleEndian.Uint32(buf[0:4]))
	next := int32(binary.LittleEndian.Uint32(buf[4:8]))
	dp := &dataPage{nextPage: next}
	recSize := int(idx.dataRecordSize())
	off := 8
	for i := int32(0); i < n; i++ {
		chunk := buf[off : off+recSize]
		key, err := types.DecodeKey(chunk[:idx.keySize], idx.kind, idx.keySize)
		if err != nil {
			return nil, err
		}
		slot := int32(binary.LittleEndian.Uint32(chunk[idx.keySize : idx.keySize+4]))
		deleted := int32(binary.LittleEndian.Uint32(chunk[idx.keySize+4:idx.keySize+8])) != 0
		dp.records = append(dp.records, dataRecord{key: key, slot: slot, deleted: deleted})
		off += recSize
	}
	return dp, nil
}

func (idx *Index) readDataPage(offset int32) (*dataPage, error) {
	buf := make([]byte, idx.dataPageSize())
	if _, err := idx.dataFile.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read isam data page at %d: %w", offset, err)
	}
	return idx.unpackDataPage(buf)
}

func (idx *Index) writeDataPage(offset int32, dp *dataPage) error {
	buf, err := idx.packDataPage(dp)
	if err != nil {
		return err
	}
	_, err = idx.dataFile.WriteAt(buf, int64(offset))
	return err
}

func (idx *Index) appendDataPage(dp *dataPage) (int32, error) {
	info, err := idx.dataFile.Stat()
	if err != nil {
		return 0, err
	}
	offset := int32(info.Size())
	return offset, idx.writeDataPage(offset, dp)
}

// BuildIndex rebuilds the root, mid, and data files from scratch out of
// entries, sorted by key, matching isam.py's build_index. A nil/empty
// entries list still produces one empty data page so later Insert calls
// have a base page to land in.
func (idx *Index) BuildIndex(entries []Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.buildIndexLocked(entries)
}

func (idx *Index) buildIndexLocked(entries []Entry) error {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Compare(sorted[j].Key) < 0 })

	if err := idx.dataFile.Truncate(0); err != nil {
		return err
	}
	if err := idx.midFile.Truncate(0); err != nil {
		return err
	}
	if err := idx.rootFile.Truncate(0); err != nil {
		return err
	}

	var midEntries []Entry
	if len(sorted) == 0 {
		if _, err := idx.appendDataPage(&dataPage{nextPage: noPtr}); err != nil {
			return err
		}
	} else {
		for i := 0; i < len(sorted); i += idx.opts.BlockFactor {
			end := i + idx.opts.BlockFactor
			if end > len(sorted) {
				end = len(sorted)
			}
			block := sorted[i:end]
			recs := make([]dataRecord, len(block))
			for j, e := range block {
				recs[j] = dataRecord{key: e.Key, slot: e.Slot}
			}
			page := &dataPage{records: recs, nextPage: noPtr}
			ptr, err := idx.appendDataPage(page)
			if err != nil {
				return err
			}
			midEntries = append(midEntries, Entry{Key: block[0].Key, Slot: ptr})
		}
	}

	var rootEntries []Entry
	for i := 0; i < len(midEntries); i += idx.opts.IndexFactor {
		end := i + idx.opts.IndexFactor
		if end > len(midEntries) {
			end = len(midEntries)
		}
		block := midEntries[i:end]
		page := newIndexPage(idx.opts.IndexFactor)
		if err := page.addEntryBlock(block, idx.opts.IndexFactor); err != nil {
			return err
		}
		buf, err := idx.packIndexPage(page)
		if err != nil {
			return err
		}
		info, err := idx.midFile.Stat()
		if err != nil {
			return err
		}
		ptr := int32(info.Size())
		if _, err := idx.midFile.WriteAt(buf, int64(ptr)); err != nil {
			return err
		}
		rootEntries = append(rootEntries, Entry{Key: block[0].Key, Slot: ptr})
	}

	rootPage := newIndexPage(idx.opts.IndexFactor)
	if err := rootPage.addEntryBlock(rootEntries, idx.opts.IndexFactor); err != nil {
		return err
	}
	buf, err := idx.packIndexPage(rootPage)
	if err != nil {
		return err
	}
	_, err = idx.rootFile.WriteAt(buf, 0)
	return err
}

// locateDataPageOffset walks root -> mid -> data pointer chain for key.
func (idx *Index) locateDataPageOffset(key types.Comparable) (int32, error) {
	root, err := idx.readIndexPage(idx.rootFile, 0)
	if err != nil {
		return 0, err
	}
	midPtr := root.choosePtr(key)
	if midPtr == noPtr {
		return noPtr, nil
	}
	mid, err := idx.readIndexPage(idx.midFile, midPtr)
	if err != nil {
		return 0, err
	}
	return mid.choosePtr(key), nil
}

// Search returns the slot stored under key, if present and not tombstoned.
func (idx *Index) Search(key types.Comparable) (int32, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.search(key)
}

func (idx *Index) search(key types.Comparable) (int32, bool, error) {
	dataPtr, err := idx.locateDataPageOffset(key)
	if err != nil {
		return 0, false, err
	}
	if dataPtr == noPtr {
		return 0, false, nil
	}
	for dataPtr != noPtr {
		page, err := idx.readDataPage(dataPtr)
		if err != nil {
			return 0, false, err
		}
		for _, r := range page.records {
			if !r.deleted && r.key.Compare(key) == 0 {
				return r.slot, true, nil
			}
		}
		dataPtr = page.nextPage
	}
	return 0, false, nil
}

// Insert adds (key, slot) via the base page or its overflow chain,
// appending a fresh overflow page when every page in the chain is full.
// Rejects a key that already has a live entry, per isam.py's insert.
func (idx *Index) Insert(key types.Comparable, slot int32) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, found, err := idx.search(key); err != nil {
		return false, err
	} else if found {
		return false, nil
	}

	dataPtr, err := idx.locateDataPageOffset(key)
	if err != nil {
		return false, err
	}
	if dataPtr == noPtr {
		// The index page chain is still empty (root.n == 0): choose_ptr
		// has nothing to resolve to regardless of what is already in the
		// data file. Bootstrap the structure with this one entry so later
		// inserts land through the normal base/overflow path.
		if err := idx.buildIndexLocked([]Entry{{Key: key, Slot: slot}}); err != nil {
			return false, err
		}
		return true, nil
	}

	rec := dataRecord{key: key, slot: slot}
	base, err := idx.readDataPage(dataPtr)
	if err != nil {
		return false, err
	}
	if base.insertSorted(rec, idx.opts.BlockFactor) {
		return true, idx.writeDataPage(dataPtr, base)
	}

	prevOff := dataPtr
	prevPage := base
	for prevPage.nextPage != noPtr {
		prevOff = prevPage.nextPage
		curr, err := idx.readDataPage(prevOff)
		if err != nil {
			return false, err
		}
		if curr.insertSorted(rec, idx.opts.BlockFactor) {
			return true, idx.writeDataPage(prevOff, curr)
		}
		prevPage = curr
	}

	newOff, err := idx.appendDataPage(&dataPage{records: []dataRecord{rec}, nextPage: noPtr})
	if err != nil {
		return false, err
	}
	prevPage.nextPage = newOff
	return true, idx.writeDataPage(prevOff, prevPage)
}

// Remove tombstones key's record, if present, anywhere along its chain.
func (idx *Index) Remove(key types.Comparable) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dataPtr, err := idx.locateDataPageOffset(key)
	if err != nil {
		return false, err
	}
	if dataPtr == noPtr {
		return false, nil
	}

	tryMark := func(off int32, p *dataPage) (bool, error) {
		for i := range p.records {
			if !p.records[i].deleted && p.records[i].key.Compare(key) == 0 {
				p.records[i].deleted = true
				return true, idx.writeDataPage(off, p)
			}
		}
		return false, nil
	}

	off := dataPtr
	for off != noPtr {
		page, err := idx.readDataPage(off)
		if err != nil {
			return false, err
		}
		marked, err := tryMark(off, page)
		if err != nil {
			return false, err
		}
		if marked {
			return true, nil
		}
		off = page.nextPage
	}
	return false, nil
}

// RangeSearch returns every live slot whose key falls within [lo, hi],
// inclusive, by walking the mid-level index pages covering the range and
// their data page chains. Matches isam.py's range_search.
func (idx *Index) RangeSearch(lo, hi types.Comparable) ([]int32, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if hi.Compare(lo) < 0 {
		lo, hi = hi, lo
	}

	root, err := idx.readIndexPage(idx.rootFile, 0)
	if err != nil {
		return nil, err
	}

	iRoot := int32(-1)
	for j := int32(0); j < root.n; j++ {
		if root.keys[j].Compare(lo) <= 0 {
			iRoot = j
		} else {
			break
		}
	}
	startRootPos := int32(1)
	if iRoot != -1 {
		startRootPos = iRoot + 1
	}

	type keySlot struct {
		key  types.Comparable
		slot int32
	}
	var out []keySlot

	for rootPos := startRootPos; rootPos <= root.n; rootPos++ {
		midOff := root.ptrs[rootPos]
		if midOff == noPtr {
			continue
		}
		mid, err := idx.readIndexPage(idx.midFile, midOff)
		if err != nil {
			return nil, err
		}

		var startMidPos int32
		if rootPos == startRootPos {
			iMid := int32(-1)
			for j := int32(0); j < mid.n; j++ {
				if mid.keys[j].Compare(lo) <= 0 {
					iMid = j
				} else {
					break
				}
			}
			startMidPos = 1
			if iMid != -1 {
				startMidPos = iMid + 1
			}
		} else {
			startMidPos = 1
		}

		for midPos := startMidPos; midPos <= mid.n; midPos++ {
			baseOff := mid.ptrs[midPos]
			if baseOff == noPtr {
				continue
			}

			var chain []keySlot
			curOff := baseOff
			for curOff != noPtr {
				page, err := idx.readDataPage(curOff)
				if err != nil {
					return nil, err
				}
				for _, r := range page.records {
					if !r.deleted && lo.Compare(r.key) <= 0 && hi.Compare(r.key) >= 0 {
						chain = append(chain, keySlot{key: r.key, slot: r.slot})
					}
				}
				curOff = page.nextPage
			}
			sort.Slice(chain, func(i, j int) bool { return chain[i].key.Compare(chain[j].key) < 0 })
			out = append(out, chain...)

			if midPos < mid.n && mid.keys[midPos].Compare(hi) > 0 {
				break
			}
		}

		if rootPos < root.n && root.keys[rootPos].Compare(hi) > 0 {
			break
		}
	}

	slots := make([]int32, len(out))
	for i, ks := range out {
		slots[i] = ks.slot
	}
	return slots, nil
}

// Close closes the three backing files.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.rootFile.Close(); err != nil {
		return err
	}
	if err := idx.midFile.Close(); err != nil {
		return err
	}
	return idx.dataFile.Close()
}

// Save is a no-op: every write above is already durable in place.
func (idx *Index) Save() error { return nil }
