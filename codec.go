// Serialization codecs for B-tree keys and values: a size_of / encode
// / decode interface, little-endian throughout. The codecs write no
// length prefix of their own; node encoding prefixes every encoded key
// and value with its length.
package codex

import (
	"encoding/binary"
	"fmt"
)

// Codec describes how a key or value type is persisted inside a node
// block: its encoded size, how to write it into a buffer, and how to
// read it back. Encoding must be length-self-describing in the sense
// that Decode reports how many bytes it consumed.
type Codec[T any] interface {
	SizeOf(v T) int
	Encode(v T, buf []byte) int
	Decode(buf []byte) (T, int, error)
}

// Int64Codec encodes signed 64-bit integers as 8 fixed bytes,
// little-endian.
type Int64Codec struct{}

func (Int64Codec) SizeOf(int64) int { return 8 }

func (Int64Codec) Encode(v int64, buf []byte) int {
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return 8
}

func (Int64Codec) Decode(buf []byte) (int64, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("codex: int64 codec: short buffer (%d bytes)", len(buf))
	}
	return int64(binary.LittleEndian.Uint64(buf)), 8, nil
}

// StringCodec encodes UTF-8 strings as their raw bytes. It relies on
// the caller's length-prefixing (node encoding already prefixes every
// key/value with its length) rather than self-delimiting.
type StringCodec struct{}

func (StringCodec) SizeOf(v string) int { return len(v) }

func (StringCodec) Encode(v string, buf []byte) int {
	return copy(buf, v)
}

func (StringCodec) Decode(buf []byte) (string, int, error) {
	return string(buf), len(buf), nil
}

// RecordIDCodec encodes RecordID the same way Int64Codec encodes an
// int64, since RecordID is a thin wrapper around one.
type RecordIDCodec struct{}

func (RecordIDCodec) SizeOf(RecordID) int { return 8 }

func (RecordIDCodec) Encode(v RecordID, buf []byte) int {
	binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	return 8
}

func (RecordIDCodec) Decode(buf []byte) (RecordID, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("codex: record id codec: short buffer (%d bytes)", len(buf))
	}
	return RecordID(int64(binary.LittleEndian.Uint64(buf))), 8, nil
}
