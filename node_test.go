// Node block encoding round trip and overflow detection.
package codex

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeNodeRoundTripLeaf(t *testing.T) {
	n := &treeNode[int64, int64]{
		id:     BlockID(1),
		isLeaf: true,
		keys:   []int64{10, 20, 30},
		values: []int64{100, 200, 300},
	}

	buf, err := encodeNode(n, Int64Codec{}, Int64Codec{}, 8192-checksumSize)
	if err != nil {
		t.Fatalf("encodeNode: %v", err)
	}

	got, err := decodeNode[int64, int64](n.id, buf, Int64Codec{}, Int64Codec{})
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}

	if got.isLeaf != n.isLeaf {
		t.Errorf("isLeaf = %v, want %v", got.isLeaf, n.isLeaf)
	}
	if !reflect.DeepEqual(got.keys, n.keys) {
		t.Errorf("keys = %v, want %v", got.keys, n.keys)
	}
	if !reflect.DeepEqual(got.values, n.values) {
		t.Errorf("values = %v, want %v", got.values, n.values)
	}
	if len(got.children) != 0 {
		t.Errorf("leaf decoded with %d children, want 0", len(got.children))
	}
}

func TestEncodeDecodeNodeRoundTripInternal(t *testing.T) {
	n := &treeNode[int64, int64]{
		id:       BlockID(5),
		isLeaf:   false,
		keys:     []int64{50},
		values:   []int64{500},
		children: []BlockID{2, 9},
	}

	buf, err := encodeNode(n, Int64Codec{}, Int64Codec{}, 8192-checksumSize)
	if err != nil {
		t.Fatalf("encodeNode: %v", err)
	}

	got, err := decodeNode[int64, int64](n.id, buf, Int64Codec{}, Int64Codec{})
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if !reflect.DeepEqual(got.children, n.children) {
		t.Errorf("children = %v, want %v", got.children, n.children)
	}
}

func TestEncodeNodeOverflow(t *testing.T) {
	n := &treeNode[int64, int64]{
		id:     BlockID(1),
		isLeaf: true,
		keys:   make([]int64, 100),
		values: make([]int64, 100),
	}

	_, err := encodeNode(n, Int64Codec{}, Int64Codec{}, 16)
	if err == nil {
		t.Fatal("encodeNode should have reported overflow for a too-small capacity")
	}
}

func TestEncodeDecodeNodeStringKeys(t *testing.T) {
	n := &treeNode[string, int64]{
		id:     BlockID(1),
		isLeaf: true,
		keys:   []string{"alpha", "beta", "gamma"},
		values: []int64{1, 2, 3},
	}

	buf, err := encodeNode(n, StringCodec{}, Int64Codec{}, 8192-checksumSize)
	if err != nil {
		t.Fatalf("encodeNode: %v", err)
	}

	got, err := decodeNode[string, int64](n.id, buf, StringCodec{}, Int64Codec{})
	if err != nil {
		t.Fatalf("decodeNode: %v", err)
	}
	if !reflect.DeepEqual(got.keys, n.keys) {
		t.Errorf("keys = %v, want %v", got.keys, n.keys)
	}
}
