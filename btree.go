// Generic B-tree of minimum degree t. Every node read or
// mutation is routed through a nodeManager so the tree itself is
// storage-agnostic. Insert and Delete hold the tree's single exclusive
// mutation permit for the whole operation; Find, FindRange, MinKey, and
// MaxKey never acquire it.
package codex

import (
	"context"
	"iter"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// BTree is an ordered key/value index with insert, delete, point, and
// range operations, backed by a block store through a node manager.
type BTree[K any, V comparable] struct {
	degree int
	cmp    func(a, b K) int
	nm     *nodeManager[K, V]
	sem    *semaphore.Weighted
	count  atomic.Int64
}

// NewBTree constructs a B-tree of the given minimum degree over store,
// using keyCodec/valCodec to persist keys and values and cmp as the
// total order over K.
func NewBTree[K any, V comparable](store *BlockStore, degree int, cmp func(a, b K) int, keyCodec Codec[K], valCodec Codec[V], metrics *Metrics) (*BTree[K, V], error) {
	if degree < 2 {
		return nil, ErrBadDegree
	}
	nm, err := newNodeManager[K, V](store, keyCodec, valCodec, degree, metrics, store.logger)
	if err != nil {
		return nil, err
	}
	return &BTree[K, V]{
		degree: degree,
		cmp:    cmp,
		nm:     nm,
		sem:    semaphore.NewWeighted(1),
	}, nil
}

// Count returns the number of (key, value) pairs inserted and not
// deleted through this BTree value. The counter is held in memory only:
// a BTree opened over a store that already holds a tree starts at zero
// and does not count the pairs already on disk.
func (t *BTree[K, V]) Count() int64 { return t.count.Load() }

// Insert adds (key, value) to the tree. Duplicate keys are permitted;
// a new key is placed after any keys equal to it, so the tie-break on
// equality descends right. Find and FindRange visit every child that
// spans an equal run, so they see duplicates on either side of a
// separator.
func (t *BTree[K, V]) Insert(ctx context.Context, key K, value V) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.sem.Release(1)

	root, err := t.nm.GetRoot()
	if err != nil {
		return err
	}

	if len(root.keys) == 2*t.degree-1 {
		newRoot, err := t.nm.Create(false)
		if err != nil {
			return err
		}
		newRoot.children = []BlockID{root.id}
		if err := t.splitChild(newRoot, 0, root); err != nil {
			return err
		}
		if err := t.nm.MakeRoot(newRoot); err != nil {
			return err
		}
		root = newRoot
	}

	if err := t.insertNonFull(root, key, value); err != nil {
		return err
	}
	t.count.Add(1)
	return nil
}

// splitChild splits parent.children[i] (child), promoting its median
// key/value into parent at position i and inserting the new sibling at
// parent.children[i+1]. Parent, child, and sibling are all saved before
// this returns, so the three mutations are atomic from the caller's
// perspective.
func (t *BTree[K, V]) splitChild(parent *treeNode[K, V], i int, child *treeNode[K, V]) error {
	d := t.degree
	sibling, err := t.nm.Create(child.isLeaf)
	if err != nil {
		return err
	}

	medianKey := child.keys[d-1]
	medianValue := child.values[d-1]

	sibling.keys = append(sibling.keys, child.keys[d:]...)
	sibling.values = append(sibling.values, child.values[d:]...)
	if !child.isLeaf {
		sibling.children = append(sibling.children, child.children[d:]...)
		child.children = child.children[:d]
	}
	child.keys = child.keys[:d-1]
	child.values = child.values[:d-1]

	parent.keys = append(parent.keys, medianKey)
	copy(parent.keys[i+1:], parent.keys[i:len(parent.keys)-1])
	parent.keys[i] = medianKey

	parent.values = append(parent.values, medianValue)
	copy(parent.values[i+1:], parent.values[i:len(parent.values)-1])
	parent.values[i] = medianValue

	parent.children = append(parent.children, BlockID(0))
	copy(parent.children[i+2:], parent.children[i+1:len(parent.children)-1])
	parent.children[i+1] = sibling.id

	if err := t.nm.Save(child); err != nil {
		return err
	}
	if err := t.nm.Save(sibling); err != nil {
		return err
	}
	return t.nm.Save(parent)
}

// insertNonFull inserts (key, value) into the subtree rooted at n,
// which must not be full.
func (t *BTree[K, V]) insertNonFull(n *treeNode[K, V], key K, value V) error {
	if n.isLeaf {
		i := len(n.keys)
		for i > 0 && t.cmp(key, n.keys[i-1]) < 0 {
			i--
		}
		n.keys = append(n.keys, key)
		copy(n.keys[i+1:], n.keys[i:len(n.keys)-1])
		n.keys[i] = key

		n.values = append(n.values, value)
		copy(n.values[i+1:], n.values[i:len(n.values)-1])
		n.values[i] = value

		return t.nm.Save(n)
	}

	i := len(n.keys)
	for i > 0 && t.cmp(key, n.keys[i-1]) < 0 {
		i--
	}

	child, err := t.nm.Get(n.children[i])
	if err != nil {
		return err
	}

	if len(child.keys) == 2*t.degree-1 {
		if err := t.splitChild(n, i, child); err != nil {
			return err
		}
		if t.cmp(key, n.keys[i]) < 0 {
			// strictly less than the promoted median: stay left; an
			// equal key descends right (chosen tie-break)
		} else {
			i++
		}
		child, err = t.nm.Get(n.children[i])
		if err != nil {
			return err
		}
	}

	return t.insertNonFull(child, key, value)
}

// Delete removes the (key, value) pair, returning false if no such pair
// exists. Deleting a key that has multiple values removes only the
// association with the specified value.
func (t *BTree[K, V]) Delete(ctx context.Context, key K, value V) (bool, error) {
	if err := t.acquire(ctx); err != nil {
		return false, err
	}
	defer t.sem.Release(1)

	root, err := t.nm.GetRoot()
	if err != nil {
		return false, err
	}

	ok, err := t.deleteFrom(root, key, value)
	if err != nil || !ok {
		return ok, err
	}
	t.count.Add(-1)

	root, err = t.nm.GetRoot()
	if err != nil {
		return true, err
	}
	if len(root.keys) == 0 && !root.isLeaf {
		newRootID := root.children[0]
		if err := t.nm.Delete(root); err != nil {
			return true, err
		}
		newRoot, err := t.nm.Get(newRootID)
		if err != nil {
			return true, err
		}
		if err := t.nm.MakeRoot(newRoot); err != nil {
			return true, err
		}
	}
	return true, nil
}

// deleteFrom removes (key, value) from the subtree rooted at n.
func (t *BTree[K, V]) deleteFrom(n *treeNode[K, V], key K, value V) (bool, error) {
	i := 0
	for i < len(n.keys) && t.cmp(n.keys[i], key) < 0 {
		i++
	}

	// key may occur as more than one separator in this node; scan the
	// whole equal run for the matching value before descending.
	for j := i; j < len(n.keys) && t.cmp(n.keys[j], key) == 0; j++ {
		if n.values[j] == value {
			if n.isLeaf {
				n.keys = append(n.keys[:j], n.keys[j+1:]...)
				n.values = append(n.values[:j], n.values[j+1:]...)
				return true, t.nm.Save(n)
			}
			return true, t.deleteFromInternal(n, j)
		}
	}

	if n.isLeaf {
		return false, nil
	}

	// Not matched among this node's own keys. A separator equal to key
	// brackets two subtrees that may both hold entries for it (duplicate
	// keys are permitted on either side of an equal separator), so try
	// every child spanning the equal run, left to right, instead of
	// just the leftmost one.
	visited := make(map[BlockID]bool)
	for {
		lo := 0
		for lo < len(n.keys) && t.cmp(n.keys[lo], key) < 0 {
			lo++
		}
		hi := lo
		for hi < len(n.keys) && t.cmp(n.keys[hi], key) == 0 {
			hi++
		}

		idx := -1
		for c := lo; c <= hi && c < len(n.children); c++ {
			if !visited[n.children[c]] {
				idx = c
				break
			}
		}
		if idx == -1 {
			return false, nil
		}

		child, err := t.nm.Get(n.children[idx])
		if err != nil {
			return false, err
		}
		descend := child
		if len(child.keys) == t.degree-1 {
			_, descend, err = t.fill(n, idx)
			if err != nil {
				return false, err
			}
		}
		visited[descend.id] = true

		ok, err := t.deleteFrom(descend, key, value)
		if err != nil || ok {
			return ok, err
		}
	}
}

// deleteFromInternal removes the entry at index i of an internal node,
// replacing it with the predecessor or successor and recursing, or
// merging the two children when neither has enough keys to spare.
func (t *BTree[K, V]) deleteFromInternal(n *treeNode[K, V], i int) error {
	key := n.keys[i]
	value := n.values[i]

	left, err := t.nm.Get(n.children[i])
	if err != nil {
		return err
	}
	right, err := t.nm.Get(n.children[i+1])
	if err != nil {
		return err
	}

	switch {
	case len(left.keys) >= t.degree:
		predKey, predValue, err := t.maxOf(left)
		if err != nil {
			return err
		}
		n.keys[i] = predKey
		n.values[i] = predValue
		if err := t.nm.Save(n); err != nil {
			return err
		}
		_, err = t.deleteFrom(left, predKey, predValue)
		return err

	case len(right.keys) >= t.degree:
		succKey, succValue, err := t.minOf(right)
		if err != nil {
			return err
		}
		n.keys[i] = succKey
		n.values[i] = succValue
		if err := t.nm.Save(n); err != nil {
			return err
		}
		_, err = t.deleteFrom(right, succKey, succValue)
		return err

	default:
		merged, err := t.merge(n, i)
		if err != nil {
			return err
		}
		_, err = t.deleteFrom(merged, key, value)
		return err
	}
}

// fill ensures n.children[i] has at least t keys before descent, by
// borrowing from a sibling or merging. Returns the parent (n itself,
// updated in place) and the child to descend into.
func (t *BTree[K, V]) fill(n *treeNode[K, V], i int) (*treeNode[K, V], *treeNode[K, V], error) {
	var left, right *treeNode[K, V]
	var err error

	if i > 0 {
		left, err = t.nm.Get(n.children[i-1])
		if err != nil {
			return nil, nil, err
		}
	}
	if i < len(n.children)-1 {
		right, err = t.nm.Get(n.children[i+1])
		if err != nil {
			return nil, nil, err
		}
	}

	child, err := t.nm.Get(n.children[i])
	if err != nil {
		return nil, nil, err
	}

	switch {
	case left != nil && len(left.keys) >= t.degree:
		if err := t.borrowFromLeft(n, i, left, child); err != nil {
			return nil, nil, err
		}
		return n, child, nil

	case right != nil && len(right.keys) >= t.degree:
		if err := t.borrowFromRight(n, i, child, right); err != nil {
			return nil, nil, err
		}
		return n, child, nil

	case i > 0:
		merged, err := t.merge(n, i-1)
		if err != nil {
			return nil, nil, err
		}
		return n, merged, nil

	default:
		merged, err := t.merge(n, i)
		if err != nil {
			return nil, nil, err
		}
		return n, merged, nil
	}
}

// borrowFromLeft rotates parent's separator into child's front and the
// left sibling's last entry into the separator slot.
func (t *BTree[K, V]) borrowFromLeft(parent *treeNode[K, V], i int, left, child *treeNode[K, V]) error {
	child.keys = append([]K{parent.keys[i-1]}, child.keys...)
	child.values = append([]V{parent.values[i-1]}, child.values...)
	if !child.isLeaf {
		lastChild := left.children[len(left.children)-1]
		child.children = append([]BlockID{lastChild}, child.children...)
		left.children = left.children[:len(left.children)-1]
	}

	parent.keys[i-1] = left.keys[len(left.keys)-1]
	parent.values[i-1] = left.values[len(left.keys)-1]
	left.keys = left.keys[:len(left.keys)-1]
	left.values = left.values[:len(left.values)-1]

	if err := t.nm.Save(left); err != nil {
		return err
	}
	if err := t.nm.Save(child); err != nil {
		return err
	}
	return t.nm.Save(parent)
}

// borrowFromRight mirrors borrowFromLeft.
func (t *BTree[K, V]) borrowFromRight(parent *treeNode[K, V], i int, child, right *treeNode[K, V]) error {
	child.keys = append(child.keys, parent.keys[i])
	child.values = append(child.values, parent.values[i])
	if !child.isLeaf {
		firstChild := right.children[0]
		child.children = append(child.children, firstChild)
		right.children = right.children[1:]
	}

	parent.keys[i] = right.keys[0]
	parent.values[i] = right.values[0]
	right.keys = right.keys[1:]
	right.values = right.values[1:]

	if err := t.nm.Save(right); err != nil {
		return err
	}
	if err := t.nm.Save(child); err != nil {
		return err
	}
	return t.nm.Save(parent)
}

// merge combines parent.children[i] and parent.children[i+1] around
// parent's separator at index i, deletes the now-empty sibling, and
// shrinks parent by one key and one child. Returns the merged node.
func (t *BTree[K, V]) merge(parent *treeNode[K, V], i int) (*treeNode[K, V], error) {
	left, err := t.nm.Get(parent.children[i])
	if err != nil {
		return nil, err
	}
	right, err := t.nm.Get(parent.children[i+1])
	if err != nil {
		return nil, err
	}

	left.keys = append(left.keys, parent.keys[i])
	left.values = append(left.values, parent.values[i])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	if !left.isLeaf {
		left.children = append(left.children, right.children...)
	}

	parent.keys = append(parent.keys[:i], parent.keys[i+1:]...)
	parent.values = append(parent.values[:i], parent.values[i+1:]...)
	parent.children = append(parent.children[:i+1], parent.children[i+2:]...)

	if err := t.nm.Delete(right); err != nil {
		return nil, err
	}
	if err := t.nm.Save(left); err != nil {
		return nil, err
	}
	if err := t.nm.Save(parent); err != nil {
		return nil, err
	}
	return left, nil
}

// minOf/maxOf descend to the leftmost/rightmost leaf of the subtree
// rooted at n and return its first/last (key, value).
func (t *BTree[K, V]) minOf(n *treeNode[K, V]) (K, V, error) {
	for !n.isLeaf {
		var err error
		n, err = t.nm.Get(n.children[0])
		if err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
	}
	if len(n.keys) == 0 {
		var zk K
		var zv V
		return zk, zv, ErrEmptyIndex
	}
	return n.keys[0], n.values[0], nil
}

func (t *BTree[K, V]) maxOf(n *treeNode[K, V]) (K, V, error) {
	for !n.isLeaf {
		var err error
		n, err = t.nm.Get(n.children[len(n.children)-1])
		if err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
	}
	if len(n.keys) == 0 {
		var zk K
		var zv V
		return zk, zv, ErrEmptyIndex
	}
	return n.keys[len(n.keys)-1], n.values[len(n.keys)-1], nil
}

// MinKey returns the smallest key in the tree.
func (t *BTree[K, V]) MinKey() (K, error) {
	root, err := t.nm.GetRoot()
	if err != nil {
		var z K
		return z, err
	}
	k, _, err := t.minOf(root)
	return k, err
}

// MaxKey returns the largest key in the tree.
func (t *BTree[K, V]) MaxKey() (K, error) {
	root, err := t.nm.GetRoot()
	if err != nil {
		var z K
		return z, err
	}
	k, _, err := t.maxOf(root)
	return k, err
}

// Find returns every value paired with key, in node-visitation order:
// the current node's value is emitted before descending into its
// right subtree.
func (t *BTree[K, V]) Find(key K) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		root, err := t.nm.GetRoot()
		if err != nil {
			yield(*new(V), err)
			return
		}
		t.find(root, key, yield)
	}
}

func (t *BTree[K, V]) find(n *treeNode[K, V], key K, yield func(V, error) bool) bool {
	i := 0
	for i < len(n.keys) && t.cmp(n.keys[i], key) < 0 {
		i++
	}

	if !n.isLeaf {
		child, err := t.nm.Get(n.children[i])
		if err != nil {
			yield(*new(V), err)
			return false
		}
		if !t.find(child, key, yield) {
			return false
		}
	}

	for i < len(n.keys) && t.cmp(n.keys[i], key) == 0 {
		if !yield(n.values[i], nil) {
			return false
		}
		if !n.isLeaf {
			child, err := t.nm.Get(n.children[i+1])
			if err != nil {
				yield(*new(V), err)
				return false
			}
			if !t.find(child, key, yield) {
				return false
			}
		}
		i++
	}
	return true
}

// bound describes one side of a range query.
type bound[K any] struct {
	value     K
	inclusive bool
}

// FindRange returns every value whose key satisfies
// min(<)/(<=) key (<)/(<=) max, in ascending key order; values sharing
// a key are emitted in their insertion order into the node.
func (t *BTree[K, V]) FindRange(min, max K, inclMin, inclMax bool) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		root, err := t.nm.GetRoot()
		if err != nil {
			yield(*new(V), err)
			return
		}
		lo := bound[K]{value: min, inclusive: inclMin}
		hi := bound[K]{value: max, inclusive: inclMax}
		t.findRange(root, lo, hi, yield)
	}
}

func (t *BTree[K, V]) geMin(k K, lo bound[K]) bool {
	c := t.cmp(k, lo.value)
	if lo.inclusive {
		return c >= 0
	}
	return c > 0
}

func (t *BTree[K, V]) leMax(k K, hi bound[K]) bool {
	c := t.cmp(k, hi.value)
	if hi.inclusive {
		return c <= 0
	}
	return c < 0
}

func (t *BTree[K, V]) findRange(n *treeNode[K, V], lo, hi bound[K], yield func(V, error) bool) bool {
	i := 0
	for i < len(n.keys) {
		if t.geMin(n.keys[i], lo) {
			break
		}
		i++
	}

	if !n.isLeaf {
		child, err := t.nm.Get(n.children[i])
		if err != nil {
			yield(*new(V), err)
			return false
		}
		if !t.findRange(child, lo, hi, yield) {
			return false
		}
	}

	for i < len(n.keys) && t.leMax(n.keys[i], hi) {
		if !yield(n.values[i], nil) {
			return false
		}
		if !n.isLeaf {
			child, err := t.nm.Get(n.children[i+1])
			if err != nil {
				yield(*new(V), err)
				return false
			}
			if !t.findRange(child, lo, hi, yield) {
				return false
			}
		}
		i++
	}

	return true
}

// acquire takes the tree's single mutation permit, honoring ctx
// cancellation.
func (t *BTree[K, V]) acquire(ctx context.Context) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return ErrCancelled
	}
	return nil
}
