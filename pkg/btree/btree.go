package btree

import (
	"fmt"
	"sort"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/types"
)

// BPlusTree is an in-memory B+ tree keyed on types.Comparable and
// valued by int64 heap slots. The engine never runs two calls into the
// same tree concurrently, so the tree carries no locking of its own:
// every Insert/Upsert/Search/Get/FindLeafLowerBound call is expected to
// run to completion before the next one starts.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool // true rejects duplicate keys instead of overwriting
}

// NewTree creates a tree whose Insert of an already-present key replaces
// that key's slot; the tree holds one entry per key.
func NewTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: false,
	}
}

// NewUniqueTree creates a tree that rejects duplicate keys, for use as
// a unique secondary or primary-key index.
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true),
		UniqueKey: true,
	}
}

// Insert adds key -> slot, honoring the tree's UniqueKey setting.
func (b *BPlusTree) Insert(key types.Comparable, slot int64) error {
	return b.insertHelper(key, slot, b.UniqueKey)
}

// Replace unconditionally overwrites key's slot, inserting it if absent.
func (b *BPlusTree) Replace(key types.Comparable, slot int64) error {
	return b.Upsert(key, func(oldValue int64, exists bool) (int64, error) {
		return slot, nil
	})
}

// Upsert runs fn against key's current slot (if any) and stores the
// slot it returns, inserting a new leaf entry when key is absent.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) insertHelper(key types.Comparable, slot int64, uniqueKey bool) error {
	return b.Upsert(key, func(oldValue int64, exists bool) (int64, error) {
		if exists && uniqueKey {
			return 0, &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
		}
		return slot, nil
	})
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	root := b.Root

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		return b.upsertTopDown(newRoot, key, fn)
	}

	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends from curr to the leaf that should hold key,
// splitting any full child it meets along the way so the leaf it
// finally reaches is guaranteed to have room for the new entry.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]

		if child.IsFull() {
			curr.SplitChild(i)
			if key.Compare(curr.Keys[i]) >= 0 {
				child = curr.Children[i+1]
			}
		}

		curr = child
	}

	// The preemptive splits above guarantee curr is not full here.
	return curr.UpsertNonFull(key, fn)
}

// Search looks up key and returns the leaf holding it.
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	curr := b.Root

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		curr = curr.Children[i]
	}

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the slot stored for key.
func (b *BPlusTree) Get(key types.Comparable) (int64, bool) {
	if b == nil || b.Root == nil {
		return 0, false
	}
	curr := b.Root

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		curr = curr.Children[i]
	}

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.Slots[j], true
		}
	}
	return 0, false
}

// FindLeafLowerBound returns the leaf and in-leaf index of the first
// entry >= key, the starting point for a range scan. A nil key returns
// the leftmost leaf at index 0, for scans that begin at the first key
// in the tree.
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	curr := b.Root

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) >= 0
			})
		}
		curr = curr.Children[i]
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is the unexported form of FindLeafLowerBound.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	return b.FindLeafLowerBound(key)
}
