package btree

import (
	"fmt"
	"sort"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/types"
)

// Node is one node of a B+ tree: an internal node holding only separator
// keys and child pointers, or a leaf holding keys paired with the heap
// slot each key maps to. Leaves are chained through Next so a range scan
// can walk them left to right without re-descending the tree.
type Node struct {
	T        int                // minimum degree
	Keys     []types.Comparable // separator keys (internal) or data keys (leaf)
	Slots    []int64            // heap slot for each key, leaves only
	Children []*Node            // child pointers, internal nodes only
	Leaf     bool
	N        int   // number of keys currently stored
	Next     *Node // next leaf in key order, leaves only
}

func NewNode(t int, leaf bool) *Node {
	return &Node{
		T:        t,
		Leaf:     leaf,
		Keys:     make([]types.Comparable, 0, 2*t-1),
		Slots:    make([]int64, 0, 2*t-1),
		Children: make([]*Node, 0, 2*t),
	}
}

// IsFull reports whether n already holds the maximum 2*T-1 keys a node
// of this degree can carry.
func (n *Node) IsFull() bool {
	return n.N == 2*n.T-1
}

// Search descends from n to the leaf that would hold key and reports
// whether key is actually present there.
func (n *Node) Search(key types.Comparable) (*Node, bool) {
	i := 0
	// A separator at index i is the smallest key in Children[i+1], so a
	// key >= Keys[i] belongs to the right of that separator.
	for i < n.N && key.Compare(n.Keys[i]) >= 0 {
		i++
	}

	if n.Leaf {
		for j := 0; j < n.N; j++ {
			if key.Compare(n.Keys[j]) == 0 {
				return n, true
			}
		}
		return nil, false
	}

	return n.Children[i].Search(key)
}

func (n *Node) findLeafLowerBound(key types.Comparable) (*Node, int) {
	i := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})

	if n.Leaf {
		return n, i
	}

	return n.Children[i].findLeafLowerBound(key)
}

// InsertNonFull inserts key -> slot under n, which must not be full.
// A duplicate key is rejected when uniqueKey is set, otherwise its slot
// is overwritten in place.
func (n *Node) InsertNonFull(key types.Comparable, slot int64, uniqueKey bool) error {
	i := n.N - 1

	if n.Leaf {
		idx := sort.Search(n.N, func(j int) bool {
			return n.Keys[j].Compare(key) >= 0
		})

		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			if uniqueKey {
				return &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
			}
			n.Slots[idx] = slot
			return nil
		}

		n.Keys = append(n.Keys, nil)
		n.Slots = append(n.Slots, 0)
		copy(n.Keys[idx+1:], n.Keys[idx:])
		copy(n.Slots[idx+1:], n.Slots[idx:])

		n.Keys[idx] = key
		n.Slots[idx] = slot
		n.N++
		return nil
	}

	for i >= 0 && key.Compare(n.Keys[i]) < 0 {
		i--
	}
	i++

	if n.Children[i].N == 2*n.T-1 {
		n.SplitChild(i)
		if key.Compare(n.Keys[i]) >= 0 {
			i++
		}
	}
	return n.Children[i].InsertNonFull(key, slot, uniqueKey)
}

// UpsertNonFull inserts or updates key under n, which must not be full,
// running fn against the key's current slot (if any) to compute the
// slot to store.
func (n *Node) UpsertNonFull(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	i := n.N - 1

	if n.Leaf {
		idx := sort.Search(n.N, func(j int) bool {
			return n.Keys[j].Compare(key) >= 0
		})

		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			newValue, err := fn(n.Slots[idx], true)
			if err != nil {
				return err
			}
			n.Slots[idx] = newValue
			return nil
		}

		newValue, err := fn(0, false)
		if err != nil {
			return err
		}

		n.Keys = append(n.Keys, nil)
		n.Slots = append(n.Slots, 0)
		copy(n.Keys[idx+1:], n.Keys[idx:])
		copy(n.Slots[idx+1:], n.Slots[idx:])

		n.Keys[idx] = key
		n.Slots[idx] = newValue
		n.N++
		return nil
	}

	// Reached only if a caller invokes UpsertNonFull directly on an
	// internal node; BPlusTree.upsertTopDown always descends to a leaf
	// itself via preemptive splitting before calling this method.
	for i >= 0 && key.Compare(n.Keys[i]) < 0 {
		i--
	}
	i++

	if n.Children[i].N == 2*n.T-1 {
		n.SplitChild(i)
		if key.Compare(n.Keys[i]) >= 0 {
			i++
		}
	}
	return n.Children[i].UpsertNonFull(key, fn)
}

// SplitChild splits n's i-th child, which must be full, into two nodes
// and inserts the new separator/child into n.
func (n *Node) SplitChild(i int) {
	t := n.T
	y := n.Children[i]
	z := NewNode(t, y.Leaf)

	if y.Leaf {
		// A leaf keeps its middle key on the right side, per the
		// B+ tree invariant that every data key lives in a leaf.
		mid := t - 1
		z.N = y.N - mid
		z.Keys = append(z.Keys, y.Keys[mid:]...)
		z.Slots = append(z.Slots, y.Slots[mid:]...)

		y.Keys = y.Keys[:mid]
		y.Slots = y.Slots[:mid]
		y.N = mid

		z.Next = y.Next
		y.Next = z
	} else {
		// An internal node's middle key moves up to the parent and
		// leaves the child entirely.
		mid := t - 1
		z.N = t - 1
		z.Keys = append(z.Keys, y.Keys[mid+1:]...)
		z.Children = append(z.Children, y.Children[mid+1:]...)

		upKey := y.Keys[mid]

		y.Keys = y.Keys[:mid]
		y.Children = y.Children[:mid+1]
		y.N = mid

		n.Keys = append(n.Keys, nil)
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = upKey

		n.Children = append(n.Children, nil)
		copy(n.Children[i+2:], n.Children[i+1:])
		n.Children[i+1] = z
		n.N++
		return
	}

	// Leaf case: z's first key becomes the new separator in the parent.
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = z.Keys[0]

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = z
	n.N++
}

func (n *Node) remove(key types.Comparable) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})

	if n.Leaf {
		if idx < n.N && n.Keys[idx].Compare(key) == 0 {
			n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
			n.Slots = append(n.Slots[:idx], n.Slots[idx+1:]...)
			n.N--
			return true
		}
		return false
	}

	// A B+ tree never stores data at internal nodes, so a key matching
	// a separator always lives in the subtree to its right.
	childIdx := idx
	if idx < n.N && n.Keys[idx].Compare(key) == 0 {
		childIdx = idx + 1
	}

	child := n.Children[childIdx]
	if child.N < n.T {
		n.fill(childIdx)
	}

	// Rebalancing above may have shifted which child now holds key.
	return n.removeRecursive(key)
}

func (n *Node) removeRecursive(key types.Comparable) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return n.Keys[i].Compare(key) >= 0
	})

	childIdx := idx
	if idx < n.N && n.Keys[idx].Compare(key) == 0 {
		childIdx = idx + 1
	}

	if childIdx > n.N {
		childIdx = n.N
	}

	ok := n.Children[childIdx].remove(key)

	if ok {
		n.fixSeparators()
	}

	return ok
}

func (n *Node) fixSeparators() {
	if n.Leaf {
		return
	}
	for i := 0; i < n.N; i++ {
		// Separator i must equal the smallest key in Children[i+1].
		curr := n.Children[i+1]
		for !curr.Leaf {
			curr = curr.Children[0]
		}
		if curr.N > 0 {
			n.Keys[i] = curr.Keys[0]
		}
	}
}

func (n *Node) fill(i int) {
	if i != 0 && n.Children[i-1].N >= n.T {
		n.borrowFromPrev(i)
	} else if i != n.N && n.Children[i+1].N >= n.T {
		n.borrowFromNext(i)
	} else {
		if i != n.N {
			n.merge(i)
		} else {
			n.merge(i - 1)
		}
	}
}

func (n *Node) borrowFromPrev(i int) {
	child := n.Children[i]
	sibling := n.Children[i-1]

	if child.Leaf {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Slots = append([]int64{0}, child.Slots...)
		child.Keys[0] = sibling.Keys[sibling.N-1]
		child.Slots[0] = sibling.Slots[sibling.N-1]
		child.N++

		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Slots = sibling.Slots[:sibling.N-1]
		sibling.N--

		n.Keys[i-1] = child.Keys[0]
	} else {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Children = append([]*Node{nil}, child.Children...)
		child.Keys[0] = n.Keys[i-1]
		child.Children[0] = sibling.Children[sibling.N]
		child.N++

		n.Keys[i-1] = sibling.Keys[sibling.N-1]
		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Children = sibling.Children[:sibling.N]
		sibling.N--
	}
}

func (n *Node) borrowFromNext(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys[0])
		child.Slots = append(child.Slots, sibling.Slots[0])
		child.N++

		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Slots = append([]int64{}, sibling.Slots[1:]...)
		sibling.N--

		n.Keys[i] = sibling.Keys[0]
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Children = append(child.Children, sibling.Children[0])
		child.N++

		n.Keys[i] = sibling.Keys[0]
		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Children = append([]*Node{}, sibling.Children[1:]...)
		sibling.N--
	}
}

func (n *Node) merge(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Slots = append(child.Slots, sibling.Slots...)
		child.Next = sibling.Next
		child.N = len(child.Keys)
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Children = append(child.Children, sibling.Children...)
		child.N = len(child.Keys)
	}

	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
	n.N--
}

// Remove deletes key from the subtree rooted at n, reporting whether it
// was present.
func (n *Node) Remove(key types.Comparable) bool {
	return n.remove(key)
}

// FindLeafLowerBound returns the leaf and in-leaf index at which key
// would be found or inserted.
func (n *Node) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	return n.findLeafLowerBound(key)
}
