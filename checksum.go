// Block checksums, selectable by algorithm, used to detect on-disk
// corruption of a block's payload.
package codex

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// checksum computes an 8-byte checksum of payload using the given
// algorithm. Unknown algorithms fall back to AlgXXHash3.
func checksum(payload []byte, alg int) [checksumSize]byte {
	var out [checksumSize]byte
	switch alg {
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(payload)
		binary.LittleEndian.PutUint64(out[:], h.Sum64())
	case AlgBlake2b:
		h, _ := blake2b.New(checksumSize, nil)
		h.Write(payload)
		copy(out[:], h.Sum(nil))
	default:
		binary.LittleEndian.PutUint64(out[:], xxh3.Hash(payload))
	}
	return out
}
