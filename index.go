// A named, single-field index over a record store: a thin wrapper
// around a BTree[K, RecordID] that the query engine consults before
// falling back to a full scan.
package codex

import (
	"context"
	"iter"
)

// Index is a named B-tree index over one record field.
type Index[K any] struct {
	Field string
	tree  *BTree[K, RecordID]
}

// NewIndex wraps tree as a named index over field.
func NewIndex[K any](field string, tree *BTree[K, RecordID]) *Index[K] {
	return &Index[K]{Field: field, tree: tree}
}

// Insert records that key maps to id.
func (ix *Index[K]) Insert(ctx context.Context, key K, id RecordID) error {
	return ix.tree.Insert(ctx, key, id)
}

// Delete removes the (key, id) association.
func (ix *Index[K]) Delete(ctx context.Context, key K, id RecordID) (bool, error) {
	return ix.tree.Delete(ctx, key, id)
}

// Find returns every record id stored under key.
func (ix *Index[K]) Find(key K) iter.Seq2[RecordID, error] {
	return ix.tree.Find(key)
}

// FindRange returns every record id whose key falls within [min, max]
// per the given inclusivity flags.
func (ix *Index[K]) FindRange(min, max K, inclMin, inclMax bool) iter.Seq2[RecordID, error] {
	return ix.tree.FindRange(min, max, inclMin, inclMax)
}

// MinKey/MaxKey expose the index's key bounds.
func (ix *Index[K]) MinKey() (K, error) { return ix.tree.MinKey() }
func (ix *Index[K]) MaxKey() (K, error) { return ix.tree.MaxKey() }

// Count returns the number of (key, id) associations added and not
// removed through this index (see BTree.Count: associations already on
// disk when the index was opened are not counted).
func (ix *Index[K]) Count() int64 { return ix.tree.Count() }
