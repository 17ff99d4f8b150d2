// Metrics bundle construction tests.
package codex

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollectorsNonNil(t *testing.T) {
	m := NewMetrics()
	for i, c := range m.Collectors() {
		if c == nil {
			t.Errorf("collector %d is nil", i)
		}
	}
}

func TestMetricsWiredIntoBlockStore(t *testing.T) {
	metrics := NewMetrics()
	store := openTestStore(t, Config{Metrics: metrics})

	id, err := store.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := store.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// Allocate/Free each increment their respective counters; this is a
	// smoke test that wiring a non-nil Metrics doesn't panic or get
	// silently ignored, not an exact-value assertion.
	if testutil.ToFloat64(metrics.BlocksAllocated) == 0 {
		t.Error("BlocksAllocated should have been incremented")
	}
	if testutil.ToFloat64(metrics.BlocksFreed) == 0 {
		t.Error("BlocksFreed should have been incremented")
	}
}
