// Tree node persistence: in-memory representation, and its block
// encoding — fixed header, length-prefixed keys, length-prefixed
// values, then child block ids.
package codex

import (
	"encoding/binary"
	"fmt"
)

// nodeHeaderSize is {is_leaf: u8, key_count: u32, value_bytes: u32,
// children_count: u32}.
const nodeHeaderSize = 1 + 4 + 4 + 4

// treeNode is the persistent unit backing one B-tree vertex. It fits
// into exactly one block.
type treeNode[K any, V any] struct {
	id       BlockID
	isLeaf   bool
	keys     []K
	values   []V
	children []BlockID
}

// encodeNode serializes n into exactly capacity bytes (zero-padded
// after the meaningful content). capacity is the store's PayloadSize().
// Returns ErrNodeOverflow if the meaningful content does not fit.
func encodeNode[K any, V any](n *treeNode[K, V], keyCodec Codec[K], valCodec Codec[V], capacity int) ([]byte, error) {
	keyBytes := make([][]byte, len(n.keys))
	keysLen := 0
	for i, k := range n.keys {
		b := make([]byte, keyCodec.SizeOf(k))
		keyCodec.Encode(k, b)
		keyBytes[i] = b
		keysLen += 4 + len(b)
	}

	valBytes := make([][]byte, len(n.values))
	valuesLen := 0
	for i, v := range n.values {
		b := make([]byte, valCodec.SizeOf(v))
		valCodec.Encode(v, b)
		valBytes[i] = b
		valuesLen += 4 + len(b)
	}

	childrenLen := 4 * len(n.children)
	total := nodeHeaderSize + keysLen + valuesLen + childrenLen
	if total > capacity {
		return nil, fmt.Errorf("%w: %d bytes for %d keys (capacity %d)", ErrNodeOverflow, total, len(n.keys), capacity)
	}

	buf := make([]byte, capacity)
	off := 0

	if n.isLeaf {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.keys)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(valuesLen))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.children)))
	off += 4

	for _, b := range keyBytes {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
		off += 4
		off += copy(buf[off:], b)
	}
	for _, b := range valBytes {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
		off += 4
		off += copy(buf[off:], b)
	}
	for _, c := range n.children {
		binary.LittleEndian.PutUint32(buf[off:], uint32(c))
		off += 4
	}

	return buf, nil
}

// decodeNode parses a node out of a full-payload block buffer.
func decodeNode[K any, V any](id BlockID, buf []byte, keyCodec Codec[K], valCodec Codec[V]) (*treeNode[K, V], error) {
	if len(buf) < nodeHeaderSize {
		return nil, fmt.Errorf("codex: node %d: buffer shorter than header", id)
	}
	off := 0
	isLeaf := buf[off] == 1
	off++
	keyCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	_ = binary.LittleEndian.Uint32(buf[off:]) // value_bytes, advisory only
	off += 4
	childCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	n := &treeNode[K, V]{id: id, isLeaf: isLeaf, keys: make([]K, keyCount), values: make([]V, keyCount)}

	for i := 0; i < keyCount; i++ {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("codex: node %d: truncated key length", id)
		}
		l := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+l > len(buf) {
			return nil, fmt.Errorf("codex: node %d: truncated key data", id)
		}
		k, _, err := keyCodec.Decode(buf[off : off+l])
		if err != nil {
			return nil, fmt.Errorf("codex: node %d: decode key %d: %w", id, i, err)
		}
		n.keys[i] = k
		off += l
	}

	for i := 0; i < keyCount; i++ {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("codex: node %d: truncated value length", id)
		}
		l := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+l > len(buf) {
			return nil, fmt.Errorf("codex: node %d: truncated value data", id)
		}
		v, _, err := valCodec.Decode(buf[off : off+l])
		if err != nil {
			return nil, fmt.Errorf("codex: node %d: decode value %d: %w", id, i, err)
		}
		n.values[i] = v
		off += l
	}

	if childCount > 0 {
		n.children = make([]BlockID, childCount)
		for i := 0; i < childCount; i++ {
			if off+4 > len(buf) {
				return nil, fmt.Errorf("codex: node %d: truncated child id", id)
			}
			n.children[i] = BlockID(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}

	return n, nil
}
