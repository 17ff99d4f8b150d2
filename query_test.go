// Query engine tests: plan selection (point/range/scan) and
// equivalence between an indexed query and the full-scan fallback over
// the same predicate.
package codex

import (
	"context"
	"testing"
)

// queryFixture builds a record store of people with an "age" field,
// an index over that field, and a query engine wiring the two
// together.
type queryFixture struct {
	records *FileRecordStore
	engine  *QueryEngine
	ids     []RecordID
}

func newQueryFixture(t *testing.T, ages []int64) *queryFixture {
	t.Helper()
	store := openTestStore(t, Config{})
	records, err := NewFileRecordStore(store, false, nil)
	if err != nil {
		t.Fatalf("NewFileRecordStore: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	indexStore := openTestStore(t, Config{})
	tree, err := NewBTree[int64, RecordID](indexStore, DefaultDegree, compareInt64, Int64Codec{}, RecordIDCodec{}, nil)
	if err != nil {
		t.Fatalf("NewBTree: %v", err)
	}
	ageIndex := NewIndex("age", tree)

	engine := NewQueryEngine(records, nil)
	RegisterIndex(engine, ageIndex)

	ctx := context.Background()
	var ids []RecordID
	for _, age := range ages {
		id, err := records.Insert(map[string]any{"age": float64(age)})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := ageIndex.Insert(ctx, age, id); err != nil {
			t.Fatalf("index Insert: %v", err)
		}
		ids = append(ids, id)
	}

	return &queryFixture{records: records, engine: engine, ids: ids}
}

func TestQueryEqualityUsesIndex(t *testing.T) {
	f := newQueryFixture(t, []int64{20, 30, 30, 40})

	got, err := collect(f.engine.Execute(Binary{Field: "age", Op: OpEqual, Value: int64(30)}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.Fields["age"] != float64(30) {
			t.Errorf("record age = %v, want 30", rec.Fields["age"])
		}
	}
}

func TestQueryRangeUsesIndex(t *testing.T) {
	f := newQueryFixture(t, []int64{10, 20, 30, 40, 50})

	got, err := collect(f.engine.Execute(Between{Field: "age", Min: int64(20), Max: int64(40)}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
}

func TestQueryOneSidedComparison(t *testing.T) {
	f := newQueryFixture(t, []int64{10, 20, 30, 40, 50})

	got, err := collect(f.engine.Execute(Binary{Field: "age", Op: OpGreater, Value: int64(30)}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records for age > 30, want 2", len(got))
	}
}

// TestQueryFallsBackToFullScan verifies that a predicate over a field
// with no registered index is still answered correctly, via the
// full-scan plan.
func TestQueryFallsBackToFullScan(t *testing.T) {
	f := newQueryFixture(t, []int64{10, 20, 30})

	got, err := collect(f.engine.Execute(Binary{Field: "unindexed", Op: OpEqual, Value: float64(1)}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want no matches (field never set)", got)
	}
}

// TestQueryIndexedAndScannedResultsAgree verifies that an indexed
// equality query and a full scan with an equivalent predicate return
// the same set of record ids, the core correctness property of having
// two independent ways to answer the same question.
func TestQueryIndexedAndScannedResultsAgree(t *testing.T) {
	f := newQueryFixture(t, []int64{5, 10, 10, 15, 20, 20, 20, 25})

	indexed, err := collect(f.engine.Execute(Binary{Field: "age", Op: OpEqual, Value: int64(20)}))
	if err != nil {
		t.Fatalf("Execute (indexed): %v", err)
	}

	scanned, err := collect(f.records.Scan())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var viaScan []Record
	for _, rec := range scanned {
		if rec.Fields["age"] == float64(20) {
			viaScan = append(viaScan, rec)
		}
	}

	if len(indexed) != len(viaScan) {
		t.Fatalf("indexed returned %d, scan-filtered returned %d", len(indexed), len(viaScan))
	}

	scanIDs := make(map[RecordID]bool, len(viaScan))
	for _, rec := range viaScan {
		scanIDs[rec.ID] = true
	}
	for _, rec := range indexed {
		if !scanIDs[rec.ID] {
			t.Errorf("indexed query returned record %d, which the scan did not", rec.ID)
		}
	}
}
