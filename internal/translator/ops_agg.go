package translator

import (
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// aggSpec is one compiled aggregate: which ir.AggKind it accumulates and the
// compiled argument expression it accumulates over (nil for COUNT(*)).
type aggSpec struct {
	kind ir.AggKind
	arg  ir.Expr
}

func compileAggregates(aggs []plan.FuncCall, childSchema *Schema) ([]aggSpec, error) {
	specs := make([]aggSpec, len(aggs))
	for i, fc := range aggs {
		star := len(fc.Args) == 0
		kind, err := ir.ParseAggKind(fc.Name, star)
		if err != nil {
			return nil, err
		}
		var arg ir.Expr
		if !star {
			ce, err := CompileExpr(fc.Args[0], childSchema)
			if err != nil {
				return nil, err
			}
			arg = ce
		}
		specs[i] = aggSpec{kind: kind, arg: arg}
	}
	return specs, nil
}

// derivedOutputExprs builds the output-schema expression list a
// HashAggregate/SortGroupBy produces: group-by columns first, then each
// aggregate's FuncCall.
func derivedOutputExprs(groupBy []plan.Expression, aggs []plan.FuncCall) []plan.Expression {
	out := make([]plan.Expression, 0, len(groupBy)+len(aggs))
	out = append(out, groupBy...)
	for _, a := range aggs {
		out = append(out, a)
	}
	return out
}

// hashAggregateOp groups Input's rows via an in-memory hash table keyed by
// GroupBy's compiled values.
type hashAggregateOp struct {
	input    Operator
	groupBy  []ir.Expr
	aggs     []aggSpec
	groups   map[string][]*ir.Accumulator
	groupKey map[string]ir.Tuple
	order    []string
	pos      int
}

func buildHashAggregate(ctx *Ctx, n plan.HashAggregate) (Operator, *Schema, error) {
	inputOp, inputSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	groupBy := make([]ir.Expr, len(n.GroupBy))
	for i, e := range n.GroupBy {
		ce, err := CompileExpr(e, inputSch)
		if err != nil {
			return nil, nil, err
		}
		groupBy[i] = ce
	}
	aggs, err := compileAggregates(n.Aggregates, inputSch)
	if err != nil {
		return nil, nil, err
	}
	outSchema := NewDerivedSchema(derivedOutputExprs(n.GroupBy, n.Aggregates))
	return &hashAggregateOp{input: inputOp, groupBy: groupBy, aggs: aggs}, outSchema, nil
}

func (h *hashAggregateOp) Open(ctx *Ctx) error {
	h.groups = make(map[string][]*ir.Accumulator)
	h.groupKey = make(map[string]ir.Tuple)
	h.order = nil
	h.pos = 0
	if err := h.input.Open(ctx); err != nil {
		return err
	}
	defer h.input.Close(ctx)
	for {
		t, ok, err := h.input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyVals := make([]ir.Value, len(h.groupBy))
		for i, e := range h.groupBy {
			v, err := e.Eval(t, ctx.Params)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		k := hashKey(keyVals)
		accs, ok := h.groups[k]
		if !ok {
			accs = make([]*ir.Accumulator, len(h.aggs))
			for i, spec := range h.aggs {
				accs[i] = ir.NewAccumulator(spec.kind)
			}
			h.groups[k] = accs
			h.groupKey[k] = keyVals
			h.order = append(h.order, k)
		}
		for i, spec := range h.aggs {
			var v ir.Value
			if spec.arg != nil {
				v, err = spec.arg.Eval(t, ctx.Params)
				if err != nil {
					return err
				}
			}
			accs[i].Accumulate(v)
		}
	}
	if len(h.order) == 0 && len(h.groupBy) == 0 {
		// A bare aggregate over zero input rows still yields one row
		// (e.g. COUNT(*) = 0, SUM(x) = NULL) when there is no GROUP BY.
		accs := make([]*ir.Accumulator, len(h.aggs))
		for i, spec := range h.aggs {
			accs[i] = ir.NewAccumulator(spec.kind)
		}
		h.groups[""] = accs
		h.groupKey[""] = nil
		h.order = append(h.order, "")
	}
	return nil
}

func (h *hashAggregateOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if h.pos >= len(h.order) {
		return nil, false, nil
	}
	k := h.order[h.pos]
	h.pos++
	keyVals := h.groupKey[k]
	accs := h.groups[k]
	t := make(ir.Tuple, 0, len(keyVals)+len(accs))
	t = append(t, keyVals...)
	for _, a := range accs {
		t = append(t, a.Result())
	}
	return t, true, nil
}

func (h *hashAggregateOp) Close(ctx *Ctx) error { h.groups = nil; return nil }

// sortGroupByOp groups Input's rows assuming Input is already sorted
// ascending on GroupBy, emitting one output row per run of equal keys
// without ever materializing the whole input at once.
type sortGroupByOp struct {
	input   Operator
	groupBy []ir.Expr
	aggs    []aggSpec

	pending  ir.Tuple
	havePend bool
	done     bool
}

func buildSortGroupBy(ctx *Ctx, n plan.SortGroupBy) (Operator, *Schema, error) {
	inputOp, inputSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	groupBy := make([]ir.Expr, len(n.GroupBy))
	for i, e := range n.GroupBy {
		ce, err := CompileExpr(e, inputSch)
		if err != nil {
			return nil, nil, err
		}
		groupBy[i] = ce
	}
	aggs, err := compileAggregates(n.Aggregates, inputSch)
	if err != nil {
		return nil, nil, err
	}
	outSchema := NewDerivedSchema(derivedOutputExprs(n.GroupBy, n.Aggregates))
	return &sortGroupByOp{input: inputOp, groupBy: groupBy, aggs: aggs}, outSchema, nil
}

func (s *sortGroupByOp) Open(ctx *Ctx) error {
	s.havePend = false
	s.done = false
	return s.input.Open(ctx)
}

func (s *sortGroupByOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if s.done {
		return nil, false, nil
	}
	var t ir.Tuple
	var ok bool
	var err error
	if s.havePend {
		t, ok = s.pending, true
		s.havePend = false
	} else {
		t, ok, err = s.input.Next(ctx)
		if err != nil {
			return nil, false, err
		}
	}
	if !ok {
		s.done = true
		return nil, false, nil
	}

	keyVals, err := s.evalKey(ctx, t)
	if err != nil {
		return nil, false, err
	}
	curKey := hashKey(keyVals)
	accs := make([]*ir.Accumulator, len(s.aggs))
	for i, spec := range s.aggs {
		accs[i] = ir.NewAccumulator(spec.kind)
	}
	if err := s.accumulate(ctx, accs, t); err != nil {
		return nil, false, err
	}

	for {
		nt, ok, err := s.input.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			s.done = true
			break
		}
		nk, err := s.evalKey(ctx, nt)
		if err != nil {
			return nil, false, err
		}
		if hashKey(nk) != curKey {
			s.pending = nt
			s.havePend = true
			break
		}
		if err := s.accumulate(ctx, accs, nt); err != nil {
			return nil, false, err
		}
	}

	out := make(ir.Tuple, 0, len(keyVals)+len(accs))
	out = append(out, keyVals...)
	for _, a := range accs {
		out = append(out, a.Result())
	}
	return out, true, nil
}

func (s *sortGroupByOp) evalKey(ctx *Ctx, t ir.Tuple) ([]ir.Value, error) {
	keyVals := make([]ir.Value, len(s.groupBy))
	for i, e := range s.groupBy {
		v, err := e.Eval(t, ctx.Params)
		if err != nil {
			return nil, err
		}
		keyVals[i] = v
	}
	return keyVals, nil
}

func (s *sortGroupByOp) accumulate(ctx *Ctx, accs []*ir.Accumulator, t ir.Tuple) error {
	for i, spec := range s.aggs {
		var v ir.Value
		if spec.arg != nil {
			var err error
			v, err = spec.arg.Eval(t, ctx.Params)
			if err != nil {
				return err
			}
		}
		accs[i].Accumulate(v)
	}
	return nil
}

func (s *sortGroupByOp) Close(ctx *Ctx) error { return s.input.Close(ctx) }
