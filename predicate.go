// Predicate model evaluated by the query engine: simple binary
// comparisons and closed ranges over a single field.
package codex

import "fmt"

// CompareOp is a comparison operator usable in a Binary predicate.
type CompareOp string

const (
	OpEqual        CompareOp = "="
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Predicate is satisfied by exactly one of Binary or Between.
type Predicate interface {
	fmt.Stringer
	field() string
}

// Binary compares Field against Value using Op.
type Binary struct {
	Field string
	Op    CompareOp
	Value any
}

func (b Binary) field() string { return b.Field }

func (b Binary) String() string {
	return fmt.Sprintf("%s %s %v", b.Field, b.Op, b.Value)
}

// Between selects Field values in the closed interval [Min, Max].
type Between struct {
	Field string
	Min   any
	Max   any
}

func (b Between) field() string { return b.Field }

func (b Between) String() string {
	return fmt.Sprintf("%s BETWEEN %v AND %v", b.Field, b.Min, b.Max)
}

// evaluate checks predicate against rec directly, the path the query
// engine's full scan uses when no index covers the predicate's field.
func evaluate(predicate Predicate, rec Record) (bool, error) {
	switch p := predicate.(type) {
	case Binary:
		fieldValue, ok := rec.Fields[p.Field]
		if !ok {
			return false, nil
		}
		c, err := compareAny(fieldValue, p.Value)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case OpEqual:
			return c == 0, nil
		case OpLess:
			return c < 0, nil
		case OpLessEqual:
			return c <= 0, nil
		case OpGreater:
			return c > 0, nil
		case OpGreaterEqual:
			return c >= 0, nil
		default:
			return false, fmt.Errorf("codex: unsupported comparison operator %q", p.Op)
		}

	case Between:
		fieldValue, ok := rec.Fields[p.Field]
		if !ok {
			return false, nil
		}
		cMin, err := compareAny(fieldValue, p.Min)
		if err != nil {
			return false, err
		}
		cMax, err := compareAny(fieldValue, p.Max)
		if err != nil {
			return false, err
		}
		return cMin >= 0 && cMax <= 0, nil

	default:
		return false, fmt.Errorf("codex: unrecognized predicate %T", predicate)
	}
}

// compareAny orders two field values of matching type. Field values
// decoded from JSON surface numbers as float64, so a field holding an
// int64-typed query value is widened for comparison rather than
// rejected outright as a type mismatch.
func compareAny(a, b any) (int, error) {
	af, aok := asFloat64(a)
	bf, bok := asFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrPredicateTypeMismatch, a, b)
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case RecordID:
		return float64(n), true
	}
	return 0, false
}
