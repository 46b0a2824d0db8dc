package translator

import (
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// Clause is one top-level disjunct of a predicate in DNF: a conjunction of
// compiled per-tuple evaluators, at least one of which must be a
// column-vs-literal/column-vs-parameter comparison for the clause to
// qualify as a fast vectorizable filter.
type Clause struct {
	Exprs      []ir.Expr
	Vectorized bool
}

// FilterManager evaluates a predicate that has been split into DNF
// clauses: consecutive AND-connected terms stay in the same clause, one
// clause per top-level OR disjunct.
type FilterManager struct {
	Clauses []Clause
}

// BuildFilterManager compiles pred into a FilterManager against schema.
// Mixed comparisons with the literal on the left (e.g. `5 < a.x`) are
// rejected with NotImplemented: literal-on-the-left of a mixed
// comparison is not supported.
func BuildFilterManager(pred plan.Expression, schema *Schema) (*FilterManager, error) {
	if pred == nil {
		return &FilterManager{}, nil
	}
	disjuncts := splitOr(pred)
	fm := &FilterManager{Clauses: make([]Clause, 0, len(disjuncts))}
	for _, d := range disjuncts {
		conjuncts := splitAnd(d)
		clause := Clause{}
		for _, c := range conjuncts {
			if err := checkLiteralOnLeft(c); err != nil {
				return nil, err
			}
			ce, err := CompileExpr(c, schema)
			if err != nil {
				return nil, err
			}
			clause.Exprs = append(clause.Exprs, ce)
			if isVectorizable(c) {
				clause.Vectorized = true
			}
		}
		fm.Clauses = append(fm.Clauses, clause)
	}
	return fm, nil
}

// Evaluate reports whether t satisfies fm's predicate: true iff at least
// one clause's conjuncts all hold.
func (fm *FilterManager) Evaluate(t ir.Tuple, params []ir.Value) (bool, error) {
	if len(fm.Clauses) == 0 {
		return true, nil
	}
	for _, clause := range fm.Clauses {
		ok := true
		for _, e := range clause.Exprs {
			v, err := e.Eval(t, params)
			if err != nil {
				return false, err
			}
			if !ir.Truthy(v) {
				ok = false
				break
			}
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func splitOr(e plan.Expression) []plan.Expression {
	if b, ok := e.(plan.BinaryOp); ok && b.Op == "OR" {
		return append(splitOr(b.Left), splitOr(b.Right)...)
	}
	return []plan.Expression{e}
}

func splitAnd(e plan.Expression) []plan.Expression {
	if b, ok := e.(plan.BinaryOp); ok && b.Op == "AND" {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []plan.Expression{e}
}

func isVectorizable(e plan.Expression) bool {
	b, ok := e.(plan.BinaryOp)
	if !ok {
		return false
	}
	switch b.Op {
	case "=", "<>", "!=", "<", "<=", ">", ">=":
	default:
		return false
	}
	_, leftCol := b.Left.(plan.ColumnRef)
	_, rightLit := b.Right.(plan.Literal)
	_, rightParam := b.Right.(plan.Param)
	return leftCol && (rightLit || rightParam)
}

func checkLiteralOnLeft(e plan.Expression) error {
	b, ok := e.(plan.BinaryOp)
	if !ok {
		return nil
	}
	switch b.Op {
	case "=", "<>", "!=", "<", "<=", ">", ">=":
	default:
		return nil
	}
	_, leftLit := b.Left.(plan.Literal)
	_, leftParam := b.Left.(plan.Param)
	_, rightCol := b.Right.(plan.ColumnRef)
	if (leftLit || leftParam) && rightCol {
		return errs.NotImplemented("literal-on-the-left comparison (rewrite as column OP literal)")
	}
	return nil
}
