// Package hash implements the extendible hashing secondary index described
// by §4.4: a directory of power-of-two size, fixed-capacity buckets with a
// bounded overflow chain, and split/merge/shrink rebalancing.
package hash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/types"
)

// Defaults mirror extendible_hashing.py's module-level constants.
const (
	DefaultBucketFactor   = 3
	DefaultMaxCollisions   = 1
	DefaultMaxGlobalDepth  = 3
)

const noBucket int32 = -1

const dirHeaderSize = 4 // [global_depth: INT32]
const bucketHeaderSize = 12 // [size][next_bucket][local_depth], each INT32

// Options configures the structural limits of an Index. Zero values fall
// back to the package defaults.
type Options struct {
	BucketFactor   int
	MaxCollisions  int
	MaxGlobalDepth int
}

func (o Options) withDefaults() Options {
	if o.BucketFactor <= 0 {
		o.BucketFactor = DefaultBucketFactor
	}
	if o.MaxCollisions <= 0 {
		o.MaxCollisions = DefaultMaxCollisions
	}
	if o.MaxGlobalDepth <= 0 {
		o.MaxGlobalDepth = DefaultMaxGlobalDepth
	}
	return o
}

type record struct {
	key     types.Comparable
	slot    int32
	deleted bool
}

func recordSize(keySize int) int64 { return int64(keySize) + 4 + 4 }

type bucket struct {
	records    []record
	next       int32
	localDepth int32
}

func (b *bucket) activeCount() int {
	n := 0
	for _, r := range b.records {
		if !r.deleted {
			n++
		}
	}
	return n
}

func (b *bucket) isFull(bucketFactor int) bool { return b.activeCount() >= bucketFactor }

func (b *bucket) addRecord(r record, bucketFactor int) bool {
	if b.isFull(bucketFactor) {
		return false
	}
	b.records = append(b.records, r)
	return true
}

func (b *bucket) iterActive() []record {
	var out []record
	for _, r := range b.records {
		if !r.deleted {
			out = append(out, r)
		}
	}
	return out
}

// Index is one extendible hash file pair (directory + data) keyed by a
// single column.
type Index struct {
	dirPath, dataPath string
	kind              types.KeyKind
	keySize           int
	opts              Options

	dirFile, dataFile *os.File

	globalDepth   int32
	ptrs          []int32
	nextBucketPos int32

	mu sync.Mutex
}

// Open creates or loads an extendible hash index over a pair of files.
func Open(dirPath, dataPath string, kind types.KeyKind, strSize int, opts Options) (*Index, error) {
	opts = opts.withDefaults()
	idx := &Index{
		dirPath:  dirPath,
		dataPath: dataPath,
		kind:     kind,
		keySize:  types.KeySize(kind, strSize),
		opts:     opts,
	}

	_, dirErr := os.Stat(dirPath)
	_, dataErr := os.Stat(dataPath)
	if os.IsNotExist(dirErr) || os.IsNotExist(dataErr) {
		if err := idx.initializeFiles(); err != nil {
			return nil, err
		}
		return idx, nil
	}

	df, err := os.OpenFile(dirPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open hash directory %s: %w", dirPath, err)
	}
	idx.dirFile = df
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("open hash data file %s: %w", dataPath, err)
	}
	idx.dataFile = dataFile
	if err := idx.loadState(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) bucketSize() int64 {
	return bucketHeaderSize + int64(idx.opts.BucketFactor)*recordSize(idx.keySize)
}

func (idx *Index) initializeFiles() error {
	df, err := os.OpenFile(idx.dirPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create hash directory %s: %w", idx.dirPath, err)
	}
	idx.dirFile = df
	dataFile, err := os.OpenFile(idx.dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		df.Close()
		return fmt.Errorf("create hash data file %s: %w", idx.dataPath, err)
	}
	idx.dataFile = dataFile

	idx.globalDepth = 2
	idx.ptrs = make([]int32, 4)

	b1 := &bucket{localDepth: 1, next: noBucket}
	b2 := &bucket{localDepth: 1, next: noBucket}
	if err := idx.writeBucketAt(0, b1); err != nil {
		return err
	}
	if err := idx.writeBucketAt(1, b2); err != nil {
		return err
	}
	idx.ptrs[0], idx.ptrs[1], idx.ptrs[2], idx.ptrs[3] = 0, 1, 0, 1
	idx.nextBucketPos = 2
	return idx.writeDirectory()
}

func (idx *Index) loadState() error {
	buf := make([]byte, dirHeaderSize)
	if _, err := idx.dirFile.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read hash directory header: %w", err)
	}
	idx.globalDepth = int32(binary.LittleEndian.Uint32(buf))
	n := int32(1) << uint(idx.globalDepth)
	ptrBuf := make([]byte, 4*n)
	if _, err := idx.dirFile.ReadAt(ptrBuf, dirHeaderSize); err != nil {
		return fmt.Errorf("read hash directory pointers: %w", err)
	}
	idx.ptrs = make([]int32, n)
	for i := range idx.ptrs {
		idx.ptrs[i] = int32(binary.LittleEndian.Uint32(ptrBuf[i*4 : i*4+4]))
	}

	info, err := idx.dataFile.Stat()
	if err != nil {
		return err
	}
	idx.nextBucketPos = int32(info.Size() / idx.bucketSize())
	return nil
}

func (idx *Index) writeDirectory() error {
	n := len(idx.ptrs)
	buf := make([]byte, dirHeaderSize+4*n)
	binary.LittleEndian.PutUint32(buf, uint32(idx.globalDepth))
	for i, p := range idx.ptrs {
		binary.LittleEndian.PutUint32(buf[dirHeaderSize+i*4:dirHeaderSize+i*4+4], uint32(p))
	}
	if err := idx.dirFile.Truncate(int64(len(buf))); err != nil {
		return err
	}
	_, err := idx.dirFile.WriteAt(buf, 0)
	return err
}

func (idx *Index) readBucketAt(pos int32) (*bucket, error) {
	size := idx.bucketSize()
	buf := make([]byte, size)
	if _, err := idx.dataFile.ReadAt(buf, int64(pos)*size); err != nil {
		return nil, fmt.Errorf("read hash bucket %d: %w", pos, err)
	}
	n := int32(binary.LittleEndian.Uint32(buf[0:4]))
	next := int32(binary.LittleEndian.Uint32(buf[4:8]))
	localDepth := int32(binary.LittleEndian.Uint32(buf[8:12]))

	b := &bucket{next: next, localDepth: localDepth}
	recSize := int(recordSize(idx.keySize))
	off := bucketHeaderSize
	for i := int32(0); i < n; i++ {
		chunk := buf[off : off+recSize]
		key, err := types.DecodeKey(chunk[:idx.keySize], idx.kind, idx.keySize)
		if err != nil {
			return nil, err
		}
		slot := int32(binary.LittleEndian.Uint32(chunk[idx.keySize : idx.keySize+4]))
		deleted := int32(binary.LittleEndian.Uint32(chunk[idx.keySize+4:idx.keySize+8])) != 0
		b.records = append(b.records, record{key: key, slot: slot, deleted: deleted})
		off += recSize
	}
	return b, nil
}

func (idx *Index) writeBucketAt(pos int32, b *bucket) error {
	size := idx.bucketSize()
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.records)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.next))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(b.localDepth))

	recSize := int(recordSize(idx.keySize))
	off := bucketHeaderSize
	for _, r := range b.records {
		keyBytes, err := types.EncodeKey(r.key, idx.kind, idx.keySize)
		if err != nil {
			return err
		}
		copy(buf[off:off+idx.keySize], keyBytes)
		binary.LittleEndian.PutUint32(buf[off+idx.keySize:off+idx.keySize+4], uint32(r.slot))
		deleted := uint32(0)
		if r.deleted {
			deleted = 1
		}
		binary.LittleEndian.PutUint32(buf[off+idx.keySize+4:off+idx.keySize+8], deleted)
		off += recSize
	}
	_, err := idx.dataFile.WriteAt(buf, int64(pos)*size)
	return err
}

func (idx *Index) createNewBucket(localDepth int32) (int32, error) {
	pos := idx.nextBucketPos
	idx.nextBucketPos++
	b := &bucket{localDepth: localDepth, next: noBucket}
	return pos, idx.writeBucketAt(pos, b)
}

// hashKey reproduces §4.4's h(key) mod 2^D over the key's fixed-width
// encoding, using FNV-1a for a stable, portable hash (the source's `hash()`
// builtin has no direct Go equivalent).
func hashKey(key types.Comparable, kind types.KeyKind, keySize int) (uint64, error) {
	b, err := types.EncodeKey(key, kind, keySize)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64(), nil
}

func (idx *Index) hashIndex(key types.Comparable) (int32, error) {
	h, err := hashKey(key, idx.kind, idx.keySize)
	if err != nil {
		return 0, err
	}
	mask := (uint64(1) << uint(idx.globalDepth)) - 1
	return int32(h & mask), nil
}

// indicesForBucket returns every directory slot sharing the bucket at
// dirIdx's low localDepth bits, per §4.4's closed form.
func indicesForBucket(dirIdx, localDepth, globalDepth int32) []int32 {
	p := dirIdx & ((1 << uint(localDepth)) - 1)
	step := int32(1) << uint(localDepth)
	repeat := int32(1) << uint(globalDepth-localDepth)
	out := make([]int32, repeat)
	for k := int32(0); k < repeat; k++ {
		out[k] = p + k*step
	}
	return out
}

func (idx *Index) chainPositions(start int32) ([]int32, []*bucket, error) {
	var positions []int32
	var buckets []*bucket
	pos := start
	for pos != noBucket {
		b, err := idx.readBucketAt(pos)
		if err != nil {
			return nil, nil, err
		}
		positions = append(positions, pos)
		buckets = append(buckets, b)
		pos = b.next
	}
	return positions, buckets, nil
}

func (idx *Index) collectChainRecords(start int32) ([]record, error) {
	_, buckets, err := idx.chainPositions(start)
	if err != nil {
		return nil, err
	}
	var out []record
	for _, b := range buckets {
		out = append(out, b.iterActive()...)
	}
	return out, nil
}

func (idx *Index) truncateChainToBase(start int32) error {
	base, err := idx.readBucketAt(start)
	if err != nil {
		return err
	}
	pos := base.next
	for pos != noBucket {
		b, err := idx.readBucketAt(pos)
		if err != nil {
			return err
		}
		next := b.next
		b.records = nil
		b.next = noBucket
		if err := idx.writeBucketAt(pos, b); err != nil {
			return err
		}
		pos = next
	}
	base.next = noBucket
	return idx.writeBucketAt(start, base)
}

func (idx *Index) appendOverflow(start int32, r record) (bool, error) {
	positions, buckets, err := idx.chainPositions(start)
	if err != nil {
		return false, err
	}
	lastPos := positions[len(positions)-1]
	last := buckets[len(buckets)-1]
	chainLen := len(positions) - 1

	if last.isFull(idx.opts.BucketFactor) {
		if chainLen >= idx.opts.MaxCollisions {
			return false, nil
		}
		newPos, err := idx.createNewBucket(last.localDepth)
		if err != nil {
			return false, err
		}
		nb := &bucket{localDepth: last.localDepth, next: noBucket}
		nb.addRecord(r, idx.opts.BucketFactor)
		if err := idx.writeBucketAt(newPos, nb); err != nil {
			return false, err
		}
		last.next = newPos
		return true, idx.writeBucketAt(lastPos, last)
	}
	last.addRecord(r, idx.opts.BucketFactor)
	return true, idx.writeBucketAt(lastPos, last)
}

func (idx *Index) splitBucketAtIndex(dirIdx int32) error {
	bucketPos := idx.ptrs[dirIdx]
	base, err := idx.readBucketAt(bucketPos)
	if err != nil {
		return err
	}
	oldLD := base.localDepth
	newLD := oldLD + 1

	allRecs, err := idx.collectChainRecords(bucketPos)
	if err != nil {
		return err
	}
	if err := idx.truncateChainToBase(bucketPos); err != nil {
		return err
	}

	newBucketPos, err := idx.createNewBucket(newLD)
	if err != nil {
		return err
	}

	base, err = idx.readBucketAt(bucketPos)
	if err != nil {
		return err
	}
	base.localDepth = newLD
	if err := idx.writeBucketAt(bucketPos, base); err != nil {
		return err
	}

	indices := indicesForBucket(dirIdx, oldLD, idx.globalDepth)
	for _, i := range indices {
		bitIsOne := (i>>(uint(newLD)-1))&1 == 1
		if bitIsOne {
			idx.ptrs[i] = newBucketPos
		} else {
			idx.ptrs[i] = bucketPos
		}
	}
	if err := idx.writeDirectory(); err != nil {
		return err
	}

	baseMem := &bucket{localDepth: newLD, next: noBucket}
	broMem := &bucket{localDepth: newLD, next: noBucket}
	for _, r := range allRecs {
		h, err := hashKey(r.key, idx.kind, idx.keySize)
		if err != nil {
			return err
		}
		mask := (uint64(1) << uint(idx.globalDepth)) - 1
		rIdx := int32(h & mask)
		bitIsOne := (rIdx>>(uint(newLD)-1))&1 == 1
		if bitIsOne {
			broMem.records = append(broMem.records, r)
		} else {
			baseMem.records = append(baseMem.records, r)
		}
	}
	if err := idx.writeBucketAt(bucketPos, baseMem); err != nil {
		return err
	}
	return idx.writeBucketAt(newBucketPos, broMem)
}

func (idx *Index) expandDirectoryAndRehash(triggeringIdx int32) error {
	newPtrs := make([]int32, len(idx.ptrs)*2)
	copy(newPtrs, idx.ptrs)
	copy(newPtrs[len(idx.ptrs):], idx.ptrs)
	idx.ptrs = newPtrs
	idx.globalDepth++
	if err := idx.writeDirectory(); err != nil {
		return err
	}

	if err := idx.splitBucketAtIndex(triggeringIdx); err != nil {
		return err
	}

	uniquePositions := uniqueSortedInt32(idx.ptrs)
	var overflowRecords []record
	for _, pos := range uniquePositions {
		chainRecs, err := idx.collectChainRecords(pos)
		if err != nil {
			return err
		}
		base, err := idx.readBucketAt(pos)
		if err != nil {
			return err
		}
		baseSet := make(map[string]bool)
		for _, r := range base.iterActive() {
			baseSet[recordKeyString(r)] = true
		}
		var toReinsert []record
		for _, r := range chainRecs {
			if !baseSet[recordKeyString(r)] {
				toReinsert = append(toReinsert, r)
			}
		}
		if len(toReinsert) > 0 {
			if err := idx.truncateChainToBase(pos); err != nil {
				return err
			}
			overflowRecords = append(overflowRecords, toReinsert...)
		}
	}

	for _, r := range overflowRecords {
		if err := idx.insertLocked(r.key, r.slot); err != nil {
			return err
		}
	}
	return nil
}

func recordKeyString(r record) string {
	return fmt.Sprintf("%v|%d", r.key, r.slot)
}

func uniqueSortedInt32(in []int32) []int32 {
	seen := make(map[int32]bool)
	var out []int32
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Insert adds (key, slot), splitting/expanding as needed per §4.4's outer
// loop. Duplicate keys are appended rather than rejected or merged.
func (idx *Index) Insert(key types.Comparable, slot int32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(key, slot)
}

func (idx *Index) insertLocked(key types.Comparable, slot int32) error {
	r := record{key: key, slot: slot}
	for {
		dirIdx, err := idx.hashIndex(key)
		if err != nil {
			return err
		}
		bucketPos := idx.ptrs[dirIdx]
		b, err := idx.readBucketAt(bucketPos)
		if err != nil {
			return err
		}

		if !b.isFull(idx.opts.BucketFactor) {
			b.addRecord(r, idx.opts.BucketFactor)
			return idx.writeBucketAt(bucketPos, b)
		}

		if b.localDepth < idx.globalDepth {
			if err := idx.splitBucketAtIndex(dirIdx); err != nil {
				return err
			}
			continue
		}

		ok, err := idx.appendOverflow(bucketPos, r)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if idx.globalDepth < int32(idx.opts.MaxGlobalDepth) {
			if err := idx.expandDirectoryAndRehash(dirIdx); err != nil {
				return err
			}
			continue
		}

		return &errors.IndexCapacityError{Index: idx.dataPath, Reason: fmt.Sprintf("global depth %d at MAX_GLOBAL_DEPTH and overflow chain exhausted at idx=%d", idx.globalDepth, dirIdx)}
	}
}

// Find returns the first active slot stored under key.
func (idx *Index) Find(key types.Comparable) (int32, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	dirIdx, err := idx.hashIndex(key)
	if err != nil {
		return 0, false, err
	}
	start := idx.ptrs[dirIdx]
	_, buckets, err := idx.chainPositions(start)
	if err != nil {
		return 0, false, err
	}
	for _, b := range buckets {
		for _, r := range b.iterActive() {
			if r.key.Compare(key) == 0 {
				return r.slot, true, nil
			}
		}
	}
	return 0, false, nil
}

func (idx *Index) bucketHasOverflow(pos int32) (bool, error) {
	b, err := idx.readBucketAt(pos)
	if err != nil {
		return false, err
	}
	return b.next != noBucket, nil
}

func (idx *Index) repackChainRecords(basePos int32, records []record) error {
	base := &bucket{localDepth: 0}
	baseOld, err := idx.readBucketAt(basePos)
	if err != nil {
		return err
	}
	base.localDepth = baseOld.localDepth
	i := 0
	for i < len(records) && !base.isFull(idx.opts.BucketFactor) {
		base.addRecord(records[i], idx.opts.BucketFactor)
		i++
	}
	if err := idx.writeBucketAt(basePos, base); err != nil {
		return err
	}
	if err := idx.truncateChainToBase(basePos); err != nil {
		return err
	}

	tailPos := basePos
	overflows := 0
	for i < len(records) && overflows < idx.opts.MaxCollisions {
		newPos, err := idx.createNewBucket(base.localDepth)
		if err != nil {
			return err
		}
		nb := &bucket{localDepth: base.localDepth, next: noBucket}
		for i < len(records) && !nb.isFull(idx.opts.BucketFactor) {
			nb.addRecord(records[i], idx.opts.BucketFactor)
			i++
		}
		if err := idx.writeBucketAt(newPos, nb); err != nil {
			return err
		}
		tail, err := idx.readBucketAt(tailPos)
		if err != nil {
			return err
		}
		tail.next = newPos
		if err := idx.writeBucketAt(tailPos, tail); err != nil {
			return err
		}
		tailPos = newPos
		overflows++
	}
	if i < len(records) {
		return &errors.IndexCapacityError{Index: idx.dataPath, Reason: "repack exceeds MAX_COLLISIONS"}
	}
	return nil
}

func (idx *Index) compactChain(basePos int32) error {
	allActive, err := idx.collectChainRecords(basePos)
	if err != nil {
		return err
	}
	return idx.repackChainRecords(basePos, allActive)
}

func (idx *Index) buddyIndex(dirIdx, localDepth int32) int32 {
	if localDepth <= 0 {
		return dirIdx
	}
	return dirIdx ^ (1 << uint(localDepth-1))
}

func (idx *Index) tryMergeOnce(dirIdx int32) (bool, error) {
	posA := idx.ptrs[dirIdx]
	a, err := idx.readBucketAt(posA)
	if err != nil {
		return false, err
	}
	ld := a.localDepth
	if ld == 0 {
		return false, nil
	}
	buddyIdx := idx.buddyIndex(dirIdx, ld)
	posB := idx.ptrs[buddyIdx]
	if posB == posA {
		return false, nil
	}
	b, err := idx.readBucketAt(posB)
	if err != nil {
		return false, err
	}
	if a.localDepth != b.localDepth {
		return false, nil
	}
	aOverflow, err := idx.bucketHasOverflow(posA)
	if err != nil {
		return false, err
	}
	bOverflow, err := idx.bucketHasOverflow(posB)
	if err != nil {
		return false, err
	}
	if aOverflow || bOverflow {
		return false, nil
	}
	if a.activeCount()+b.activeCount() > idx.opts.BucketFactor {
		return false, nil
	}

	recs := append(a.iterActive(), b.iterActive()...)
	a.records, b.records = nil, nil
	if err := idx.writeBucketAt(posA, a); err != nil {
		return false, err
	}
	if err := idx.writeBucketAt(posB, b); err != nil {
		return false, err
	}
	a.localDepth = ld - 1
	if err := idx.writeBucketAt(posA, a); err != nil {
		return false, err
	}
	if err := idx.repackChainRecords(posA, recs); err != nil {
		return false, err
	}

	newLD := ld - 1
	indices := indicesForBucket(dirIdx, newLD, idx.globalDepth)
	for _, i := range indices {
		idx.ptrs[i] = posA
	}
	return true, idx.writeDirectory()
}

func (idx *Index) maybeShrinkDirectory() error {
	g := idx.globalDepth
	if g == 0 {
		return nil
	}
	half := int32(1) << uint(g-1)
	for i := int32(0); i < half; i++ {
		if idx.ptrs[i] != idx.ptrs[i+half] {
			return nil
		}
	}
	seen := uniqueSortedInt32(idx.ptrs)
	for _, pos := range seen {
		b, err := idx.readBucketAt(pos)
		if err != nil {
			return err
		}
		if b.localDepth > g-1 {
			return nil
		}
	}
	idx.ptrs = idx.ptrs[:half]
	idx.globalDepth = g - 1
	return idx.writeDirectory()
}

// Delete marks key's record deleted, compacts its chain, then repeatedly
// attempts a buddy merge and a directory shrink, per §4.4.
func (idx *Index) Delete(key types.Comparable) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dirIdx, err := idx.hashIndex(key)
	if err != nil {
		return false, err
	}
	start := idx.ptrs[dirIdx]
	positions, buckets, err := idx.chainPositions(start)
	if err != nil {
		return false, err
	}

	found := false
	for pi, b := range buckets {
		modified := false
		for ri := range b.records {
			if !b.records[ri].deleted && b.records[ri].key.Compare(key) == 0 {
				b.records[ri].deleted = true
				modified = true
				found = true
				break
			}
		}
		if modified {
			if err := idx.writeBucketAt(positions[pi], b); err != nil {
				return false, err
			}
			break
		}
	}
	if !found {
		return false, nil
	}

	if err := idx.compactChain(start); err != nil {
		return false, err
	}

	for {
		merged, err := idx.tryMergeOnce(dirIdx)
		if err != nil {
			return false, err
		}
		if !merged {
			break
		}
	}

	return true, idx.maybeShrinkDirectory()
}

// Close closes the directory and data files.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.dirFile.Close(); err != nil {
		return err
	}
	return idx.dataFile.Close()
}

// Save is a no-op: every write above is already durable in place.
func (idx *Index) Save() error { return nil }
