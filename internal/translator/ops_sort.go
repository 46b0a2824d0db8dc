package translator

import (
	"sort"

	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// compiledSortKey is one ORDER BY term compiled against a child Schema.
type compiledSortKey struct {
	expr ir.Expr
	desc bool
}

func compileSortKeys(keys []plan.SortKey, schema *Schema) ([]compiledSortKey, error) {
	out := make([]compiledSortKey, len(keys))
	for i, k := range keys {
		ce, err := CompileExpr(k.Expr, schema)
		if err != nil {
			return nil, err
		}
		out[i] = compiledSortKey{expr: ce, desc: k.Desc}
	}
	return out, nil
}

// compareValues orders two Values ascending for sorting, with NULL after
// every non-NULL value. sortRows negates the result for a DESC key, so
// NULLs sort last ascending and first descending; there is no per-key
// NULLS FIRST/LAST choice.
func compareValues(a, b ir.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	if lt, ok := ir.Compare("<", a, b); ok && lt {
		return -1
	}
	if eq, ok := ir.Compare("=", a, b); ok && eq {
		return 0
	}
	return 1
}

func sortRows(rows []ir.Tuple, keys []compiledSortKey, params []ir.Value) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, k := range keys {
			vi, err := k.expr.Eval(rows[i], params)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := k.expr.Eval(rows[j], params)
			if err != nil {
				sortErr = err
				return false
			}
			c := compareValues(vi, vj)
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return sortErr
}

// sortOp fully materializes Input and sorts by Keys, used whenever
// nothing downstream needs only the first few rows.
type sortOp struct {
	input Operator
	keys  []compiledSortKey
	*sliceOperator
}

func buildSort(ctx *Ctx, n plan.Sort) (Operator, *Schema, error) {
	inputOp, inputSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	keys, err := compileSortKeys(n.Keys, inputSch)
	if err != nil {
		return nil, nil, err
	}
	return &sortOp{input: inputOp, keys: keys, sliceOperator: &sliceOperator{}}, inputSch, nil
}

func (s *sortOp) Open(ctx *Ctx) error {
	rows, err := materialize(ctx, s.input)
	if err != nil {
		return err
	}
	if err := sortRows(rows, s.keys, ctx.Params); err != nil {
		return err
	}
	s.sliceOperator = &sliceOperator{rows: rows}
	return s.sliceOperator.Open(ctx)
}

func (s *sortOp) Close(ctx *Ctx) error { return s.sliceOperator.Close(ctx) }

// topKOp sorts every input row and keeps the first Count, the physical
// counterpart the optimizer chooses whenever a Limit with no OFFSET sits
// directly atop an otherwise-plain sort. Implemented as materialize-sort-truncate rather than a running
// heap: correctness matches a heap-based top-k exactly and this engine has
// no requirement that TopK avoid the full sort's O(n log n) cost.
type topKOp struct {
	input Operator
	keys  []compiledSortKey
	count ir.Expr
	*sliceOperator
}

func buildTopK(ctx *Ctx, n plan.TopK) (Operator, *Schema, error) {
	inputOp, inputSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	keys, err := compileSortKeys(n.Keys, inputSch)
	if err != nil {
		return nil, nil, err
	}
	countE, err := CompileExpr(n.Count, NewSchema(nil))
	if err != nil {
		return nil, nil, err
	}
	return &topKOp{input: inputOp, keys: keys, count: countE, sliceOperator: &sliceOperator{}}, inputSch, nil
}

func (t *topKOp) Open(ctx *Ctx) error {
	rows, err := materialize(ctx, t.input)
	if err != nil {
		return err
	}
	if err := sortRows(rows, t.keys, ctx.Params); err != nil {
		return err
	}
	cv, err := t.count.Eval(nil, ctx.Params)
	if err != nil {
		return err
	}
	if !cv.IsNull() && int(cv.Int) < len(rows) {
		rows = rows[:cv.Int]
	}
	t.sliceOperator = &sliceOperator{rows: rows}
	return t.sliceOperator.Open(ctx)
}

func (t *topKOp) Close(ctx *Ctx) error { return t.sliceOperator.Close(ctx) }

// limitOp passes through at most Count of Input's rows after skipping the
// first Offset, streaming rather than materializing.
type limitOp struct {
	input  Operator
	countE ir.Expr
	offE   ir.Expr
	count  int64
	offset int64
	hasCnt bool
	seen   int64
	skip   int64
}

func buildLimit(ctx *Ctx, n plan.Limit) (Operator, *Schema, error) {
	inputOp, inputSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	l := &limitOp{input: inputOp}
	empty := NewSchema(nil)
	if n.Count != nil {
		ce, err := CompileExpr(n.Count, empty)
		if err != nil {
			return nil, nil, err
		}
		l.countE = ce
	}
	if n.Offset != nil {
		oe, err := CompileExpr(n.Offset, empty)
		if err != nil {
			return nil, nil, err
		}
		l.offE = oe
	}
	return l, inputSch, nil
}

func (l *limitOp) Open(ctx *Ctx) error {
	l.seen = 0
	l.hasCnt = false
	l.skip = 0
	if l.countE != nil {
		v, err := l.countE.Eval(nil, ctx.Params)
		if err != nil {
			return err
		}
		if !v.IsNull() {
			l.count = v.Int
			l.hasCnt = true
		}
	}
	if l.offE != nil {
		v, err := l.offE.Eval(nil, ctx.Params)
		if err != nil {
			return err
		}
		if !v.IsNull() {
			l.offset = v.Int
		}
	}
	return l.input.Open(ctx)
}

func (l *limitOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if l.hasCnt && l.seen >= l.count {
		return nil, false, nil
	}
	for l.skip < l.offset {
		_, ok, err := l.input.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		l.skip++
	}
	t, ok, err := l.input.Next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	l.seen++
	return t, true, nil
}

func (l *limitOp) Close(ctx *Ctx) error { return l.input.Close(ctx) }
