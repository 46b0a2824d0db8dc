// Package optimizer implements a memo-based Cascades-style
// search: Group/GroupExpression/PropertySet/OptimizationContext plus a LIFO
// task stack that explores logical alternatives, implements them as
// physical operators, derives the child properties each physical choice
// needs, and costs every complete alternative to pick a winner per (group,
// required-properties) frontier entry.
//
// The Memo's group table is a plain ID-keyed slice/map structure, the
// same structural pattern internal/catalog's mvccTable already generalized
// for version chains.
package optimizer

import (
	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/txn"
)

// GroupID identifies one equivalence class of logical/physical expressions
// producing the same logical output.
type GroupID int

// GroupExpression is one (logical or physical) operator node inside a
// Group, with its children replaced by GroupID references instead of
// direct pointers.
type GroupExpression struct {
	// exactly one of Logical/Physical is set.
	Logical  plan.LogicalOp
	Physical plan.PhysicalOp

	Children []GroupID
}

func (ge GroupExpression) isPhysical() bool { return ge.Physical != nil }

// Group is an equivalence class: every logical and physical expression the
// optimizer has derived so far for one sub-plan, plus the best plan found
// per required PropertySet explored against it so far.
type Group struct {
	ID        GroupID
	Exprs     []GroupExpression
	Explored  bool
	Contexts  map[propKey]*OptimizationContext
}

func newGroup(id GroupID) *Group {
	return &Group{ID: id, Contexts: make(map[propKey]*OptimizationContext)}
}

// OptimizationContext is a (group, required-properties) frontier entry:
// the best physical expression found so far that satisfies Required, and
// its cost.
type OptimizationContext struct {
	Required plan.PropertySet
	Best     plan.PhysicalOp
	Cost     float64
	done     bool
}

// propKey makes a PropertySet hashable for the Contexts map: this engine's
// only property today is Sort, so the key is the rendered
// sort-column/direction sequence.
type propKey string

func keyOf(props plan.PropertySet) propKey {
	s := ""
	for _, k := range props.Sort {
		s += exprKey(k.Expr)
		if k.Desc {
			s += "!desc,"
		} else {
			s += "!asc,"
		}
	}
	return propKey(s)
}

func exprKey(e plan.Expression) string {
	if e == nil {
		return "<nil>"
	}
	if cr, ok := e.(plan.ColumnRef); ok {
		return "col:" + itoa(int(cr.Table)) + "." + itoa(int(cr.Column))
	}
	return e.Kind()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Memo owns every Group discovered while optimizing one query, plus the
// catalog/transaction context the cost model and property derivers consult
// (index schemas, row-count statistics).
type Memo struct {
	groups []*Group
	db     *catalog.DatabaseCatalog
	tx     *txn.Context
	cost   CostModel
}

// NewMemo returns an empty Memo bound to db as seen by tx, using cost as
// its cost model.
func NewMemo(db *catalog.DatabaseCatalog, tx *txn.Context, cost CostModel) *Memo {
	if cost == nil {
		cost = TrivialCostModel{}
	}
	return &Memo{db: db, tx: tx, cost: cost}
}

func (m *Memo) newGroup() *Group {
	g := newGroup(GroupID(len(m.groups)))
	m.groups = append(m.groups, g)
	return g
}

func (m *Memo) group(id GroupID) *Group { return m.groups[id] }

// InsertLogical converts a raw LogicalOp tree into groups, recursively
// copying each child into its own group and returning the GroupID of the
// newly built root group. This is the memo's sole entry point for getting
// a query's logical plan under optimization.
func (m *Memo) InsertLogical(op plan.LogicalOp) GroupID {
	var childIDs []GroupID
	for _, c := range op.Children() {
		childIDs = append(childIDs, m.InsertLogical(c))
	}
	g := m.newGroup()
	g.Exprs = append(g.Exprs, GroupExpression{Logical: op, Children: childIDs})
	return g.ID
}
