// Query engine: given a predicate over a single field, choose
// between an index point lookup, an index range scan, or a full table
// scan with the predicate evaluated per record, then resolve index hits
// back to records through the record store.
package codex

import (
	"fmt"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
)

// planKind names the strategy Execute chose for one query, used only
// for the PlansChosen metric label.
type planKind string

const (
	planPoint planKind = "point"
	planRange planKind = "range"
	planScan  planKind = "scan"
)

// anyIndex erases an Index[K]'s key type so QueryEngine can hold
// indexes over different key types in one registry, while still
// reporting a type mismatch instead of panicking when a predicate's
// value doesn't match the indexed field's key type.
type anyIndex interface {
	findEqual(value any) (iter.Seq2[RecordID, error], bool, error)
	findRange(min, max any, inclMin, inclMax bool) (iter.Seq2[RecordID, error], bool, error)
	minKeyAny() (any, error)
	maxKeyAny() (any, error)
}

// indexAdapter makes Index[K] satisfy anyIndex.
type indexAdapter[K any] struct {
	ix *Index[K]
}

func (a indexAdapter[K]) findEqual(value any) (iter.Seq2[RecordID, error], bool, error) {
	k, ok := value.(K)
	if !ok {
		return nil, false, nil
	}
	return a.ix.Find(k), true, nil
}

func (a indexAdapter[K]) findRange(min, max any, inclMin, inclMax bool) (iter.Seq2[RecordID, error], bool, error) {
	lo, ok1 := min.(K)
	hi, ok2 := max.(K)
	if !ok1 || !ok2 {
		return nil, false, nil
	}
	return a.ix.FindRange(lo, hi, inclMin, inclMax), true, nil
}

func (a indexAdapter[K]) minKeyAny() (any, error) { return a.ix.MinKey() }
func (a indexAdapter[K]) maxKeyAny() (any, error) { return a.ix.MaxKey() }

// QueryEngine executes predicates over a record store, consulting
// whatever indexes have been registered for the predicate's field.
type QueryEngine struct {
	records RecordStore
	indexes map[string]anyIndex
	metrics *Metrics
}

// NewQueryEngine builds an engine over records with no indexes
// registered yet.
func NewQueryEngine(records RecordStore, metrics *Metrics) *QueryEngine {
	return &QueryEngine{records: records, indexes: make(map[string]anyIndex), metrics: metrics}
}

// RegisterIndex makes ix available to Execute for queries against its
// field.
func RegisterIndex[K any](qe *QueryEngine, ix *Index[K]) {
	qe.indexes[ix.Field] = indexAdapter[K]{ix: ix}
}

// Execute runs predicate and returns its matching records in an
// order determined by the chosen plan (index order for point/range
// plans, record-id order for a full scan).
func (qe *QueryEngine) Execute(predicate Predicate) iter.Seq2[Record, error] {
	switch p := predicate.(type) {
	case Binary:
		return qe.executeBinary(p)
	case Between:
		return qe.executeBetween(p)
	default:
		return qe.fullScan(predicate)
	}
}

func (qe *QueryEngine) observePlan(kind planKind) {
	if qe.metrics != nil && qe.metrics.PlansChosen != nil {
		qe.metrics.PlansChosen.With(prometheus.Labels{"kind": string(kind)}).Inc()
	}
}

func (qe *QueryEngine) executeBinary(p Binary) iter.Seq2[Record, error] {
	ix, ok := qe.indexes[p.Field]
	if !ok {
		return qe.fullScan(p)
	}

	switch p.Op {
	case OpEqual:
		ids, matched, err := ix.findEqual(p.Value)
		if err != nil {
			return errSeq(err)
		}
		if !matched {
			return errSeq(fmt.Errorf("%w: field %q value %v", ErrPredicateTypeMismatch, p.Field, p.Value))
		}
		qe.observePlan(planPoint)
		return qe.resolve(ids)

	case OpLess, OpLessEqual, OpGreaterEqual, OpGreater:
		min, max, inclMin, inclMax, err := unboundedRange(ix, p.Op, p.Value)
		if err != nil {
			return errSeq(err)
		}
		qe.observePlan(planRange)
		ids, matched, err := ix.findRange(min, max, inclMin, inclMax)
		if err != nil {
			return errSeq(err)
		}
		if !matched {
			return errSeq(fmt.Errorf("%w: field %q value %v", ErrPredicateTypeMismatch, p.Field, p.Value))
		}
		return qe.resolve(ids)

	default:
		return qe.fullScan(p)
	}
}

// unboundedRange resolves a one-sided comparison into a [min, max]
// bound pair, since BTree.FindRange has no notion of an open-ended
// bound: the missing side is filled in from the index's own key
// extent, inclusive, so nothing on that side is excluded.
func unboundedRange(ix anyIndex, op CompareOp, value any) (min, max any, inclMin, inclMax bool, err error) {
	switch op {
	case OpLess, OpLessEqual:
		lo, err := ix.minKeyAny()
		if err != nil {
			return nil, nil, false, false, err
		}
		return lo, value, true, op == OpLessEqual, nil
	case OpGreaterEqual, OpGreater:
		hi, err := ix.maxKeyAny()
		if err != nil {
			return nil, nil, false, false, err
		}
		return value, hi, op == OpGreaterEqual, true, nil
	default:
		return nil, nil, false, false, fmt.Errorf("codex: unsupported comparison operator %q", op)
	}
}

func (qe *QueryEngine) executeBetween(p Between) iter.Seq2[Record, error] {
	ix, ok := qe.indexes[p.Field]
	if !ok {
		return qe.fullScan(p)
	}
	qe.observePlan(planRange)
	ids, matched, err := ix.findRange(p.Min, p.Max, true, true)
	if err != nil {
		return errSeq(err)
	}
	if !matched {
		return errSeq(fmt.Errorf("%w: field %q", ErrPredicateTypeMismatch, p.Field))
	}
	return qe.resolve(ids)
}

// resolve maps an id iterator into a record iterator via the record
// store, surfacing ErrIndexInconsistency when an index points at an id
// the record store no longer has.
func (qe *QueryEngine) resolve(ids iter.Seq2[RecordID, error]) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for id, err := range ids {
			if err != nil {
				yield(Record{}, err)
				return
			}
			rec, err := qe.records.Get(id)
			if err == ErrNotFound {
				yield(Record{}, fmt.Errorf("%w: id %d", ErrIndexInconsistency, id))
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// fullScan evaluates predicate against every record directly, the plan
// of last resort when no index covers the predicate's field.
func (qe *QueryEngine) fullScan(predicate Predicate) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		qe.observePlan(planScan)
		for rec, err := range qe.records.Scan() {
			if err != nil {
				yield(Record{}, err)
				return
			}
			ok, err := evaluate(predicate, rec)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if ok {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func errSeq(err error) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		yield(Record{}, err)
	}
}
