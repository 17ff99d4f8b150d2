// Record store tests: insert/get/update/delete round trips, multi-block
// chaining for large records, and scan completeness, with and without
// zstd compression.
package codex

import (
	"strings"
	"testing"
)

func newTestRecordStore(t *testing.T, compress bool) *FileRecordStore {
	t.Helper()
	store := openTestStore(t, Config{BlockSize: 512})
	rs, err := NewFileRecordStore(store, compress, nil)
	if err != nil {
		t.Fatalf("NewFileRecordStore: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs
}

func TestRecordStoreInsertGet(t *testing.T) {
	rs := newTestRecordStore(t, false)

	id, err := rs.Insert(map[string]any{"name": "ada", "age": float64(36)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := rs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Fields["name"] != "ada" {
		t.Errorf("Fields[name] = %v, want ada", rec.Fields["name"])
	}
	if rec.Fields["age"] != float64(36) {
		t.Errorf("Fields[age] = %v, want 36", rec.Fields["age"])
	}
}

func TestRecordStoreGetMissingReturnsNotFound(t *testing.T) {
	rs := newTestRecordStore(t, false)
	if _, err := rs.Get(RecordID(999)); err != ErrNotFound {
		t.Errorf("Get missing id: got %v, want ErrNotFound", err)
	}
}

// TestRecordStoreChainsLargeRecords verifies that a record whose
// encoded form exceeds one block's payload is split across a chain and
// reassembled correctly on Get. The store is opened with a small block
// size specifically to force this.
func TestRecordStoreChainsLargeRecords(t *testing.T) {
	rs := newTestRecordStore(t, false)

	big := strings.Repeat("x", 4000)
	id, err := rs.Insert(map[string]any{"blob": big})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := rs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Fields["blob"] != big {
		t.Error("large record did not round-trip through its block chain")
	}
}

func TestRecordStoreUpdate(t *testing.T) {
	rs := newTestRecordStore(t, false)

	id, err := rs.Insert(map[string]any{"status": "pending"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := rs.Update(id, map[string]any{"status": "done"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, err := rs.Get(id)
	if err != nil {
		t.Fatalf("Get after Update: %v", err)
	}
	if rec.Fields["status"] != "done" {
		t.Errorf("Fields[status] = %v, want done", rec.Fields["status"])
	}
}

func TestRecordStoreDelete(t *testing.T) {
	rs := newTestRecordStore(t, false)

	id, err := rs.Insert(map[string]any{"x": float64(1)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := rs.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := rs.Get(id); err != ErrNotFound {
		t.Errorf("Get after Delete: got %v, want ErrNotFound", err)
	}
}

func TestRecordStoreScanVisitsEveryLiveRecord(t *testing.T) {
	rs := newTestRecordStore(t, false)

	var ids []RecordID
	for i := 0; i < 10; i++ {
		id, err := rs.Insert(map[string]any{"i": float64(i)})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rs.Delete(ids[3]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	recs, err := collect(rs.Scan())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 9 {
		t.Fatalf("Scan returned %d records, want 9", len(recs))
	}
	for _, rec := range recs {
		if rec.ID == ids[3] {
			t.Error("Scan visited a deleted record")
		}
	}
}

// TestRecordStoreCompressedRoundTrip verifies that a compressed store
// reproduces the original fields exactly, exercising the zstd
// encode/decode path end to end.
func TestRecordStoreCompressedRoundTrip(t *testing.T) {
	rs := newTestRecordStore(t, true)

	payload := strings.Repeat("compressible-pattern ", 200)
	id, err := rs.Insert(map[string]any{"text": payload})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := rs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Fields["text"] != payload {
		t.Error("compressed record did not round-trip")
	}
}
