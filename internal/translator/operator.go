package translator

import (
	"fmt"

	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// Operator is the pull-based iterator every compiled physical plan node
// becomes: Open acquires whatever the node needs (a scan cursor, a fully
// built hash table), Next produces one row at a time until exhausted, and
// Close releases resources — a trait with a small method set backing
// dynamic dispatch along the pipeline chain: each compiled stage consumes
// its child's output by calling the next stage directly.
type Operator interface {
	Open(ctx *Ctx) error
	Next(ctx *Ctx) (ir.Tuple, bool, error)
	Close(ctx *Ctx) error
}

// BuildOperator compiles node into an Operator tree and returns the Schema
// describing its output row shape, recursing into node's children first so
// every parent compiles its own expressions against an already-built child
// Schema.
func BuildOperator(ctx *Ctx, node plan.PhysicalOp) (Operator, *Schema, error) {
	switch n := node.(type) {
	case plan.SeqScan:
		return buildSeqScan(ctx, n)
	case plan.Filter:
		return buildFilter(ctx, n)
	case plan.Project:
		return buildProject(ctx, n)
	case plan.IndexScan:
		return buildIndexScan(ctx, n)
	case plan.HashJoin:
		return buildHashJoin(ctx, n)
	case plan.NLJoin:
		return buildNLJoin(ctx, n)
	case plan.IndexNLJoin:
		return buildIndexNLJoin(ctx, n)
	case plan.HashAggregate:
		return buildHashAggregate(ctx, n)
	case plan.SortGroupBy:
		return buildSortGroupBy(ctx, n)
	case plan.Sort:
		return buildSort(ctx, n)
	case plan.TopK:
		return buildTopK(ctx, n)
	case plan.Limit:
		return buildLimit(ctx, n)
	case plan.CTEScan:
		return buildCTEScan(ctx, n)
	case plan.CSVScan:
		return buildCSVScan(ctx, n)
	case plan.Values:
		return buildValues(ctx, n)
	case plan.Insert:
		return buildInsert(ctx, n)
	case plan.Update:
		return buildUpdate(ctx, n)
	case plan.Delete:
		return buildDelete(ctx, n)
	default:
		return nil, nil, errs.NotImplemented(fmt.Sprintf("physical operator %q", node.Kind()))
	}
}

// filterOp wraps a child Operator with a FilterManager, the generic
// multi-child-input counterpart of seqScanOp's pushed-down predicate.
type filterOp struct {
	child Operator
	fm    *FilterManager
}

func buildFilter(ctx *Ctx, n plan.Filter) (Operator, *Schema, error) {
	child, schema, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	fm, err := BuildFilterManager(n.Predicate, schema)
	if err != nil {
		return nil, nil, err
	}
	return &filterOp{child: child, fm: fm}, schema, nil
}

func (f *filterOp) Open(ctx *Ctx) error { return f.child.Open(ctx) }

func (f *filterOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for {
		t, ok, err := f.child.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		match, err := f.fm.Evaluate(t, ctx.Params)
		if err != nil {
			return nil, false, err
		}
		if match {
			return t, true, nil
		}
	}
}

func (f *filterOp) Close(ctx *Ctx) error { return f.child.Close(ctx) }

// materialize drains op fully into a slice of tuples, used by materializing
// boundaries such as the hash join build side and sort/top-k input; the
// aggregate operators read their input themselves.
func materialize(ctx *Ctx, op Operator) ([]ir.Tuple, error) {
	if err := op.Open(ctx); err != nil {
		return nil, err
	}
	defer op.Close(ctx)
	var rows []ir.Tuple
	for {
		t, ok, err := op.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, t)
	}
}

// sliceOperator replays a pre-materialized slice of tuples, the common leaf
// shape every materializing operator's downstream consumer pulls from.
type sliceOperator struct {
	rows []ir.Tuple
	pos  int
}

func (s *sliceOperator) Open(ctx *Ctx) error { s.pos = 0; return nil }

func (s *sliceOperator) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	t := s.rows[s.pos]
	s.pos++
	return t, true, nil
}

func (s *sliceOperator) Close(ctx *Ctx) error { return nil }
