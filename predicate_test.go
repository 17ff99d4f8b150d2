// Predicate stringification and evaluation tests.
package codex

import "testing"

func TestBinaryString(t *testing.T) {
	p := Binary{Field: "age", Op: OpGreaterEqual, Value: float64(18)}
	want := "age >= 18"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBetweenString(t *testing.T) {
	p := Between{Field: "score", Min: float64(0), Max: float64(100)}
	want := "score BETWEEN 0 AND 100"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestEvaluateBinaryEqual(t *testing.T) {
	rec := Record{Fields: map[string]any{"status": "active"}}
	p := Binary{Field: "status", Op: OpEqual, Value: "active"}

	ok, err := evaluate(p, rec)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Error("evaluate should match equal string fields")
	}
}

func TestEvaluateBinaryNumericWidening(t *testing.T) {
	// JSON-decoded fields always surface as float64; the query value may
	// be supplied as a narrower Go numeric type.
	rec := Record{Fields: map[string]any{"count": float64(42)}}
	p := Binary{Field: "count", Op: OpEqual, Value: int64(42)}

	ok, err := evaluate(p, rec)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Error("evaluate should widen int64 against a float64 field")
	}
}

func TestEvaluateMissingFieldIsFalse(t *testing.T) {
	rec := Record{Fields: map[string]any{"a": float64(1)}}
	p := Binary{Field: "b", Op: OpEqual, Value: float64(1)}

	ok, err := evaluate(p, rec)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Error("evaluate on a missing field should be false, not an error")
	}
}

func TestEvaluateBetween(t *testing.T) {
	rec := Record{Fields: map[string]any{"score": float64(50)}}
	p := Between{Field: "score", Min: float64(0), Max: float64(100)}

	ok, err := evaluate(p, rec)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Error("50 should fall within [0, 100]")
	}

	p2 := Between{Field: "score", Min: float64(60), Max: float64(100)}
	ok2, err := evaluate(p2, rec)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok2 {
		t.Error("50 should not fall within [60, 100]")
	}
}

func TestEvaluateTypeMismatchErrors(t *testing.T) {
	rec := Record{Fields: map[string]any{"name": "ada"}}
	p := Binary{Field: "name", Op: OpEqual, Value: float64(1)}

	_, err := evaluate(p, rec)
	if err == nil {
		t.Fatal("evaluate should error comparing a string field against a numeric value")
	}
}
