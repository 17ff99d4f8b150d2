// Node Manager: maps tree-node identity onto blocks, (de)serializes
// nodes, and exposes the root pointer. The node cache is the
// only legitimate place hiding the block store's read-after-write
// asymmetry — writes land in the cache before being enqueued, and
// reads consult the cache first.
package codex

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// defaultCacheFactor scales the node cache size with tree degree: a
// wider tree has more siblings active during a single split/merge, so
// a larger cache avoids thrashing during rebalancing.
const defaultCacheFactor = 64

// nodeManager maps tree-node identity onto blocks for a single B-tree.
type nodeManager[K any, V any] struct {
	store    *BlockStore
	keyCodec Codec[K]
	valCodec Codec[V]
	cache    *lru.Cache[BlockID, *treeNode[K, V]]
	metrics  *Metrics
	logger   zerolog.Logger
}

func newNodeManager[K any, V any](store *BlockStore, keyCodec Codec[K], valCodec Codec[V], degree int, metrics *Metrics, logger zerolog.Logger) (*nodeManager[K, V], error) {
	size := degree * defaultCacheFactor
	if size < 16 {
		size = 16
	}
	cache, err := lru.New[BlockID, *treeNode[K, V]](size)
	if err != nil {
		return nil, err
	}
	return &nodeManager[K, V]{
		store:    store,
		keyCodec: keyCodec,
		valCodec: valCodec,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// GetRoot returns the current root node, creating and persisting an
// empty leaf root on first use (the store header starts with no root).
func (nm *nodeManager[K, V]) GetRoot() (*treeNode[K, V], error) {
	id, ok := nm.store.RootBlockID()
	if !ok {
		root, err := nm.Create(true)
		if err != nil {
			return nil, err
		}
		if err := nm.Save(root); err != nil {
			return nil, err
		}
		if err := nm.MakeRoot(root); err != nil {
			return nil, err
		}
		return root, nil
	}
	return nm.Get(id)
}

// MakeRoot records n as the tree's root in the store header.
func (nm *nodeManager[K, V]) MakeRoot(n *treeNode[K, V]) error {
	return nm.store.SetRootBlockID(n.id)
}

// Create allocates a fresh block and returns a new, empty node backed
// by it. The node is not yet persisted; callers must Save it.
func (nm *nodeManager[K, V]) Create(isLeaf bool) (*treeNode[K, V], error) {
	id, err := nm.store.Allocate()
	if err != nil {
		return nil, err
	}
	n := &treeNode[K, V]{id: id, isLeaf: isLeaf}
	nm.cache.Add(id, n)
	return n, nil
}

// Get returns the node backing block id, consulting the cache first.
func (nm *nodeManager[K, V]) Get(id BlockID) (*treeNode[K, V], error) {
	if n, ok := nm.cache.Get(id); ok {
		if nm.metrics != nil {
			nm.metrics.CacheHits.Inc()
		}
		return n, nil
	}
	if nm.metrics != nil {
		nm.metrics.CacheMisses.Inc()
	}

	payload, err := nm.store.Read(id)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode[K, V](id, payload, nm.keyCodec, nm.valCodec)
	if err != nil {
		return nil, err
	}
	nm.cache.Add(id, n)
	return n, nil
}

// Save serializes and persists n. The cache is updated before the
// write is enqueued so a subsequent Get on this node manager always
// observes the write, regardless of drain timing.
func (nm *nodeManager[K, V]) Save(n *treeNode[K, V]) error {
	nm.cache.Add(n.id, n)
	payload, err := encodeNode(n, nm.keyCodec, nm.valCodec, int(nm.store.PayloadSize()))
	if err != nil {
		return err
	}
	return nm.store.Write(n.id, payload)
}

// Delete evicts n from the cache and returns its block to the free list.
func (nm *nodeManager[K, V]) Delete(n *treeNode[K, V]) error {
	nm.cache.Remove(n.id)
	return nm.store.Free(n.id)
}
