// Package avl implements the disk-resident AVL secondary index described
// by §4.2: a file of fixed-width nodes, a header holding the root offset,
// and the standard rotation cases kept balanced on insert and remove.
package avl

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/bobboyms/multidex/pkg/types"
)

// noChild marks an absent child or root offset.
const noChild int32 = -1

const headerSize = 4 // [root: INT32]

// nodeSize returns the width of one on-disk node for a key of keySize bytes:
// [key][slot: INT32][left: INT32][right: INT32][height: INT32].
func nodeSize(keySize int) int64 {
	return int64(keySize) + 4 + 4 + 4 + 4
}

type node struct {
	key    types.Comparable
	slot   int32
	left   int32
	right  int32
	height int32
}

// Index is one AVL disk file keyed by a single column.
type Index struct {
	path    string
	kind    types.KeyKind
	keySize int

	file *os.File
	root int32
	mu   sync.RWMutex
}

// Open opens or creates the AVL file at path for a column whose key encodes
// as kind (strSize only matters for a string key).
func Open(path string, kind types.KeyKind, strSize int) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open avl file %s: %w", path, err)
	}
	idx := &Index{
		path:    path,
		kind:    kind,
		keySize: types.KeySize(kind, strSize),
		file:    f,
	}
	if err := idx.loadOrInitHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadOrInitHeader() error {
	info, err := idx.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		idx.root = noChild
		return idx.writeHeader()
	}
	buf := make([]byte, headerSize)
	if _, err := idx.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read avl header: %w", err)
	}
	idx.root = int32(binary.LittleEndian.Uint32(buf))
	return nil
}

func (idx *Index) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf, uint32(idx.root))
	_, err := idx.file.WriteAt(buf, 0)
	return err
}

func (idx *Index) offsetOf(n int32) int64 {
	return int64(headerSize) + int64(n)*nodeSize(idx.keySize)
}

func (idx *Index) readNode(n int32) (*node, error) {
	if n == noChild {
		return nil, nil
	}
	size := nodeSize(idx.keySize)
	buf := make([]byte, size)
	if _, err := idx.file.ReadAt(buf, idx.offsetOf(n)); err != nil {
		return nil, fmt.Errorf("read avl node %d: %w", n, err)
	}
	key, err := types.DecodeKey(buf[:idx.keySize], idx.kind, idx.keySize)
	if err != nil {
		return nil, err
	}
	off := idx.keySize
	return &node{
		key:    key,
		slot:   int32(binary.LittleEndian.Uint32(buf[off : off+4])),
		left:   int32(binary.LittleEndian.Uint32(buf[off+4 : off+8])),
		right:  int32(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
		height: int32(binary.LittleEndian.Uint32(buf[off+12 : off+16])),
	}, nil
}

func (idx *Index) writeNode(n int32, nd *node) error {
	size := nodeSize(idx.keySize)
	buf := make([]byte, size)
	keyBytes, err := types.EncodeKey(nd.key, idx.kind, idx.keySize)
	if err != nil {
		return err
	}
	copy(buf[:idx.keySize], keyBytes)
	off := idx.keySize
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(nd.slot))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(nd.left))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(nd.right))
	binary.LittleEndian.PutUint32(buf[off+12:off+16], uint32(nd.height))
	_, err = idx.file.WriteAt(buf, idx.offsetOf(n))
	return err
}

// append writes nd as a brand-new node and returns its offset.
func (idx *Index) append(nd *node) (int32, error) {
	info, err := idx.file.Stat()
	if err != nil {
		return 0, err
	}
	n := int32((info.Size() - headerSize) / nodeSize(idx.keySize))
	if err := idx.writeNode(n, nd); err != nil {
		return 0, err
	}
	return n, nil
}

func nodeHeight(nd *node) int32 {
	if nd == nil {
		return 0
	}
	return nd.height
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func (idx *Index) balanceOf(nd *node) (int32, error) {
	left, err := idx.readNode(nd.left)
	if err != nil {
		return 0, err
	}
	right, err := idx.readNode(nd.right)
	if err != nil {
		return 0, err
	}
	return nodeHeight(left) - nodeHeight(right), nil
}

func (idx *Index) updateHeight(n int32, nd *node) error {
	left, err := idx.readNode(nd.left)
	if err != nil {
		return err
	}
	right, err := idx.readNode(nd.right)
	if err != nil {
		return err
	}
	nd.height = 1 + max32(nodeHeight(left), nodeHeight(right))
	return idx.writeNode(n, nd)
}

// rightRotate rotates the subtree rooted at nOff (whose left child is heavy)
// and returns the new subtree root offset.
func (idx *Index) rightRotate(nOff int32, nd *node) (int32, error) {
	lOff := nd.left
	l, err := idx.readNode(lOff)
	if err != nil {
		return 0, err
	}
	nd.left = l.right
	if err := idx.updateHeight(nOff, nd); err != nil {
		return 0, err
	}
	l.right = nOff
	if err := idx.updateHeight(lOff, l); err != nil {
		return 0, err
	}
	return lOff, nil
}

// leftRotate rotates the subtree rooted at nOff (whose right child is heavy)
// and returns the new subtree root offset.
func (idx *Index) leftRotate(nOff int32, nd *node) (int32, error) {
	rOff := nd.right
	r, err := idx.readNode(rOff)
	if err != nil {
		return 0, err
	}
	nd.right = r.left
	if err := idx.updateHeight(nOff, nd); err != nil {
		return 0, err
	}
	r.left = nOff
	if err := idx.updateHeight(rOff, r); err != nil {
		return 0, err
	}
	return rOff, nil
}

// balanceFactorAt reads the node at off and returns h(left) - h(right).
func (idx *Index) balanceFactorAt(off int32) (int32, error) {
	if off == noChild {
		return 0, nil
	}
	nd, err := idx.readNode(off)
	if err != nil {
		return 0, err
	}
	return idx.balanceOf(nd)
}

// Insert adds (key, slot) to the tree, rebalancing on the way up. A
// duplicate key updates the stored slot in place rather than creating a
// second node.
func (idx *Index) Insert(key types.Comparable, slot int32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	newRoot, err := idx.insertRec(idx.root, key, slot)
	if err != nil {
		return err
	}
	idx.root = newRoot
	return idx.writeHeader()
}

func (idx *Index) insertRec(off int32, key types.Comparable, slot int32) (int32, error) {
	if off == noChild {
		return idx.append(&node{key: key, slot: slot, left: noChild, right: noChild, height: 1})
	}
	nd, err := idx.readNode(off)
	if err != nil {
		return 0, err
	}
	switch cmp := key.Compare(nd.key); {
	case cmp < 0:
		newLeft, err := idx.insertRec(nd.left, key, slot)
		if err != nil {
			return 0, err
		}
		nd.left = newLeft
	case cmp > 0:
		newRight, err := idx.insertRec(nd.right, key, slot)
		if err != nil {
			return 0, err
		}
		nd.right = newRight
	default:
		nd.slot = slot
		return off, idx.writeNode(off, nd)
	}

	if err := idx.updateHeight(off, nd); err != nil {
		return 0, err
	}
	nd, err = idx.readNode(off)
	if err != nil {
		return 0, err
	}
	bf, err := idx.balanceOf(nd)
	if err != nil {
		return 0, err
	}

	if bf > 1 {
		left, err := idx.readNode(nd.left)
		if err != nil {
			return 0, err
		}
		if key.Compare(left.key) < 0 {
			return idx.rightRotate(off, nd)
		}
		newLeft, err := idx.leftRotate(nd.left, left)
		if err != nil {
			return 0, err
		}
		nd.left = newLeft
		if err := idx.writeNode(off, nd); err != nil {
			return 0, err
		}
		nd, err = idx.readNode(off)
		if err != nil {
			return 0, err
		}
		return idx.rightRotate(off, nd)
	}
	if bf < -1 {
		right, err := idx.readNode(nd.right)
		if err != nil {
			return 0, err
		}
		if key.Compare(right.key) > 0 {
			return idx.leftRotate(off, nd)
		}
		newRight, err := idx.rightRotate(nd.right, right)
		if err != nil {
			return 0, err
		}
		nd.right = newRight
		if err := idx.writeNode(off, nd); err != nil {
			return 0, err
		}
		nd, err = idx.readNode(off)
		if err != nil {
			return 0, err
		}
		return idx.leftRotate(off, nd)
	}
	return off, nil
}

// Find returns the slot stored under key, if present.
func (idx *Index) Find(key types.Comparable) (int32, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.findRec(idx.root, key)
}

func (idx *Index) findRec(off int32, key types.Comparable) (int32, bool, error) {
	if off == noChild {
		return 0, false, nil
	}
	nd, err := idx.readNode(off)
	if err != nil {
		return 0, false, err
	}
	switch cmp := key.Compare(nd.key); {
	case cmp == 0:
		return nd.slot, true, nil
	case cmp < 0:
		return idx.findRec(nd.left, key)
	default:
		return idx.findRec(nd.right, key)
	}
}

// Remove deletes key from the tree, if present, rebalancing on the way up.
func (idx *Index) Remove(key types.Comparable) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	newRoot, err := idx.removeRec(idx.root, key)
	if err != nil {
		return err
	}
	idx.root = newRoot
	return idx.writeHeader()
}

func (idx *Index) minNodeOffset(off int32) (int32, error) {
	for {
		nd, err := idx.readNode(off)
		if err != nil {
			return 0, err
		}
		if nd.left == noChild {
			return off, nil
		}
		off = nd.left
	}
}

func (idx *Index) removeRec(off int32, key types.Comparable) (int32, error) {
	if off == noChild {
		return noChild, nil
	}
	nd, err := idx.readNode(off)
	if err != nil {
		return 0, err
	}
	switch cmp := key.Compare(nd.key); {
	case cmp < 0:
		newLeft, err := idx.removeRec(nd.left, key)
		if err != nil {
			return 0, err
		}
		nd.left = newLeft
	case cmp > 0:
		newRight, err := idx.removeRec(nd.right, key)
		if err != nil {
			return 0, err
		}
		nd.right = newRight
	default:
		if nd.left == noChild && nd.right == noChild {
			return noChild, nil
		}
		if nd.left == noChild {
			return nd.right, nil
		}
		if nd.right == noChild {
			return nd.left, nil
		}
		succOff, err := idx.minNodeOffset(nd.right)
		if err != nil {
			return 0, err
		}
		succ, err := idx.readNode(succOff)
		if err != nil {
			return 0, err
		}
		nd.key = succ.key
		nd.slot = succ.slot
		newRight, err := idx.removeRec(nd.right, succ.key)
		if err != nil {
			return 0, err
		}
		nd.right = newRight
	}

	if err := idx.writeNode(off, nd); err != nil {
		return 0, err
	}
	if err := idx.updateHeight(off, nd); err != nil {
		return 0, err
	}
	nd, err = idx.readNode(off)
	if err != nil {
		return 0, err
	}
	bf, err := idx.balanceOf(nd)
	if err != nil {
		return 0, err
	}

	if bf > 1 {
		lbf, err := idx.balanceFactorAt(nd.left)
		if err != nil {
			return 0, err
		}
		left, err := idx.readNode(nd.left)
		if err != nil {
			return 0, err
		}
		if lbf >= 0 {
			return idx.rightRotate(off, nd)
		}
		newLeft, err := idx.leftRotate(nd.left, left)
		if err != nil {
			return 0, err
		}
		nd.left = newLeft
		if err := idx.writeNode(off, nd); err != nil {
			return 0, err
		}
		nd, err = idx.readNode(off)
		if err != nil {
			return 0, err
		}
		return idx.rightRotate(off, nd)
	}
	if bf < -1 {
		rbf, err := idx.balanceFactorAt(nd.right)
		if err != nil {
			return 0, err
		}
		right, err := idx.readNode(nd.right)
		if err != nil {
			return 0, err
		}
		if rbf <= 0 {
			return idx.leftRotate(off, nd)
		}
		newRight, err := idx.rightRotate(nd.right, right)
		if err != nil {
			return 0, err
		}
		nd.right = newRight
		if err := idx.writeNode(off, nd); err != nil {
			return 0, err
		}
		nd, err = idx.readNode(off)
		if err != nil {
			return 0, err
		}
		return idx.leftRotate(off, nd)
	}
	return off, nil
}

// RangeSearch returns every slot whose key falls within [lo, hi], inclusive,
// in ascending key order.
func (idx *Index) RangeSearch(lo, hi types.Comparable) ([]int32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []int32
	if err := idx.rangeRec(idx.root, lo, hi, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Index) rangeRec(off int32, lo, hi types.Comparable, out *[]int32) error {
	if off == noChild {
		return nil
	}
	nd, err := idx.readNode(off)
	if err != nil {
		return err
	}
	if lo.Compare(nd.key) < 0 {
		if err := idx.rangeRec(nd.left, lo, hi, out); err != nil {
			return err
		}
	}
	if lo.Compare(nd.key) <= 0 && hi.Compare(nd.key) >= 0 {
		*out = append(*out, nd.slot)
	}
	if hi.Compare(nd.key) > 0 {
		if err := idx.rangeRec(nd.right, lo, hi, out); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.file.Close()
}

// Save is a no-op: every AVL write goes straight to the index file, which
// stays open from Open until Close. Present so the index
// manager can treat every index uniformly via a save() capability.
func (idx *Index) Save() error {
	return nil
}
