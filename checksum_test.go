// Checksum algorithm selection tests: each algorithm must be
// deterministic and sensitive to any change in the payload, since a
// collision would let a corrupted block masquerade as valid.
package codex

import "testing"

func TestChecksumDeterministic(t *testing.T) {
	for _, alg := range []int{AlgXXHash3, AlgFNV1a, AlgBlake2b} {
		payload := []byte("the quick brown fox jumps over the lazy dog")
		a := checksum(payload, alg)
		b := checksum(payload, alg)
		if a != b {
			t.Errorf("alg %d: checksum not deterministic: %v != %v", alg, a, b)
		}
	}
}

func TestChecksumDetectsChange(t *testing.T) {
	for _, alg := range []int{AlgXXHash3, AlgFNV1a, AlgBlake2b} {
		a := checksum([]byte("payload one"), alg)
		b := checksum([]byte("payload two"), alg)
		if a == b {
			t.Errorf("alg %d: distinct payloads produced the same checksum", alg)
		}
	}
}

func TestChecksumUnknownAlgorithmFallsBackToDefault(t *testing.T) {
	payload := []byte("fallback case")
	got := checksum(payload, 99)
	want := checksum(payload, AlgXXHash3)
	if got != want {
		t.Error("unrecognized algorithm should fall back to the default")
	}
}
