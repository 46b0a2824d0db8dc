package optimizer

import (
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
)

// candidate is one way of physically implementing a GroupExpression: the
// memo groups it pulls children from, the PropertySet each of those
// children must itself satisfy ("the child-property deriver
// yields pairs (provided_props, [required_child_props])"), and a builder
// that assembles the PhysicalOp once every child has been optimized.
// childGroups is listed explicitly rather than reused from
// GroupExpression.Children because one rule (Limit-over-Sort -> TopK)
// reaches past its immediate child into its grandchild.
type candidate struct {
	childGroups []GroupID
	childReq    []plan.PropertySet
	build       func(children []plan.PhysicalOp) plan.PhysicalOp
}

// implement returns every physical alternative this core's optimizer knows
// how to build for ge's logical operator. No rule consults required: the
// same candidates are proposed whatever order the parent asks for, and
// optimizeGroup checks each built candidate's Provides against it.
//
// Logical join ordering and predicate-pushdown rewriting are not performed
// here: query rewriting is a non-goal, so each group
// holds exactly one logical expression (the one the binder produced) and
// this function only ever chooses among *physical* access paths/algorithms
// for that fixed logical shape — the Cascades "explore" phase (deriving
// alternative logical forms of the same group) is a no-op in this core.
func (m *Memo) implement(ge GroupExpression, required plan.PropertySet) []candidate {
	one := func(req plan.PropertySet, build func([]plan.PhysicalOp) plan.PhysicalOp) candidate {
		return candidate{childGroups: ge.Children, childReq: repeat(req, len(ge.Children)), build: build}
	}

	switch n := ge.Logical.(type) {
	case plan.LogicalGet:
		return []candidate{{build: func([]plan.PhysicalOp) plan.PhysicalOp {
			return plan.SeqScan{Table: n.Table}
		}}}

	case plan.LogicalFilter:
		if get, ok := m.group(ge.Children[0]).Exprs[0].Logical.(plan.LogicalGet); ok {
			return m.implementFilterOverGet(n, get)
		}
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Filter{Input: c[0], Predicate: n.Predicate}
		})}

	case plan.LogicalJoin:
		return m.implementJoin(n, ge.Children)

	case plan.LogicalAggregate:
		return m.implementAggregate(n, ge.Children)

	case plan.LogicalSort:
		// A LogicalSort never survives into the physical tree as its own
		// node: its Keys become the required property the child group is
		// optimized against, and optimizeGroup's enforcer inserts a Sort
		// physical op only if nothing below already provides that order.
		return []candidate{{
			childGroups: ge.Children,
			childReq:    []plan.PropertySet{{Sort: n.Keys}},
			build:       func(c []plan.PhysicalOp) plan.PhysicalOp { return c[0] },
		}}

	case plan.LogicalLimit:
		sortGroup := m.group(ge.Children[0])
		if sortExpr, ok := sortGroup.Exprs[0].Logical.(plan.LogicalSort); ok && n.Offset == nil {
			grandchild := sortGroup.Exprs[0].Children[0]
			return []candidate{{
				childGroups: []GroupID{grandchild},
				childReq:    []plan.PropertySet{{}},
				build: func(c []plan.PhysicalOp) plan.PhysicalOp {
					return plan.TopK{Input: c[0], Keys: sortExpr.Keys, Count: n.Count}
				},
			}}
		}
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Limit{Input: c[0], Count: n.Count, Offset: n.Offset}
		})}

	case plan.LogicalProject:
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Project{Input: c[0], Exprs: n.Exprs}
		})}

	case plan.LogicalCTEScan:
		return []candidate{{build: func([]plan.PhysicalOp) plan.PhysicalOp {
			return plan.CTEScan{CTEName: n.CTEName}
		}}}

	case plan.LogicalValues:
		return []candidate{{build: func([]plan.PhysicalOp) plan.PhysicalOp {
			return plan.Values{Rows: n.Rows}
		}}}

	case plan.LogicalInsert:
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Insert{Table: n.Table, Indexes: m.indexesOf(n.Table), Input: c[0]}
		})}

	case plan.LogicalUpdate:
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Update{Table: n.Table, Indexes: m.indexesOf(n.Table), Input: c[0], Assignments: n.Assignments}
		})}

	case plan.LogicalDelete:
		return []candidate{one(plan.PropertySet{}, func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.Delete{Table: n.Table, Indexes: m.indexesOf(n.Table), Input: c[0]}
		})}

	default:
		return nil
	}
}

func repeat(p plan.PropertySet, n int) []plan.PropertySet {
	out := make([]plan.PropertySet, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func (m *Memo) indexesOf(table oid.OID) []oid.OID {
	return m.db.GetIndexOids(m.tx, table)
}

// implementFilterOverGet proposes the fused SeqScan{Predicate} alternative
//
// plus, for every index whose leading column has an equality comparison
// against a literal/parameter among the predicate's top-level AND
// conjuncts, an IndexScan point lookup on that value with any remaining
// conjuncts wrapped in a Filter. This engine's Index KV contract exposes
// only ScanKey (an equality lookup), not an ordered range
// cursor, so index selection here is a point-lookup optimization, not a
// general sort-avoiding access path — an index only ever gets proposed
// when the predicate actually pins its leading column to a single value.
func (m *Memo) implementFilterOverGet(n plan.LogicalFilter, get plan.LogicalGet) []candidate {
	cands := []candidate{{build: func([]plan.PhysicalOp) plan.PhysicalOp {
		return plan.SeqScan{Table: get.Table, Predicate: n.Predicate}
	}}}

	conjuncts := splitAndTop(n.Predicate)
	for _, idxOID := range m.db.GetIndexOids(m.tx, get.Table) {
		info, ok := m.db.IndexInfo(m.tx, idxOID)
		if !ok || len(info.Columns) == 0 {
			continue
		}
		leadCol := info.Columns[0]
		for i, c := range conjuncts {
			val, ok := equalityValue(c, get.Table, leadCol)
			if !ok {
				continue
			}
			idxOID, val := idxOID, val
			var residual plan.Expression
			for j, other := range conjuncts {
				if j != i {
					residual = andExpr(residual, other)
				}
			}
			cands = append(cands, candidate{build: func([]plan.PhysicalOp) plan.PhysicalOp {
				scan := plan.PhysicalOp(plan.IndexScan{Table: get.Table, Index: idxOID, Low: val, High: val})
				if residual != nil {
					return plan.Filter{Input: scan, Predicate: residual}
				}
				return scan
			}})
			break
		}
	}
	return cands
}

// equalityValue reports whether c is `col = literal-or-param` (or the
// reverse) for the given (table, column) pair, returning the value-side
// expression when it matches.
func equalityValue(c plan.Expression, table, column oid.OID) (plan.Expression, bool) {
	b, ok := c.(plan.BinaryOp)
	if !ok || b.Op != "=" {
		return nil, false
	}
	isCol := func(e plan.Expression) bool {
		cr, ok := e.(plan.ColumnRef)
		return ok && cr.Table == table && cr.Column == column
	}
	isVal := func(e plan.Expression) bool {
		switch e.(type) {
		case plan.Literal, plan.Param:
			return true
		}
		return false
	}
	if isCol(b.Left) && isVal(b.Right) {
		return b.Right, true
	}
	if isCol(b.Right) && isVal(b.Left) {
		return b.Left, true
	}
	return nil, false
}

// implementJoin proposes a nested-loop join (always applicable) and, when
// an equi-join key pair can be extracted from Condition, a hash join too.
// HashJoin.Provides passes the probe (right) side's sort through unchanged,
// with no check of its own, so the optimizer just builds the HashJoin and
// lets Provides report that order.
func (m *Memo) implementJoin(n plan.LogicalJoin, children []GroupID) []candidate {
	cands := []candidate{{
		childGroups: children,
		childReq:    []plan.PropertySet{{}, {}},
		build: func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.NLJoin{JoinType: n.JoinType, Outer: c[0], Inner: c[1], Cond: n.Condition}
		},
	}}

	buildKeys, probeKeys, residual := extractEquiJoinKeys(n.Condition)
	if len(buildKeys) > 0 {
		cands = append(cands, candidate{
			childGroups: children,
			childReq:    []plan.PropertySet{{}, {}},
			build: func(c []plan.PhysicalOp) plan.PhysicalOp {
				return plan.HashJoin{JoinType: n.JoinType, Build: c[0], Probe: c[1], BuildKeys: buildKeys, ProbeKeys: probeKeys, Residual: residual}
			},
		})
	}
	return cands
}

// extractEquiJoinKeys splits cond's top-level AND conjuncts into equality
// comparisons usable as hash keys (one side free of the other's table)
// versus everything else, which becomes the hash join's residual filter.
func extractEquiJoinKeys(cond plan.Expression) (buildKeys, probeKeys []plan.Expression, residual plan.Expression) {
	for _, c := range splitAndTop(cond) {
		b, ok := c.(plan.BinaryOp)
		if !ok || b.Op != "=" {
			residual = andExpr(residual, c)
			continue
		}
		lc, lok := b.Left.(plan.ColumnRef)
		rc, rok := b.Right.(plan.ColumnRef)
		if !lok || !rok || lc.Table == rc.Table {
			residual = andExpr(residual, c)
			continue
		}
		buildKeys = append(buildKeys, b.Left)
		probeKeys = append(probeKeys, b.Right)
	}
	return buildKeys, probeKeys, residual
}

func splitAndTop(e plan.Expression) []plan.Expression {
	if e == nil {
		return nil
	}
	if b, ok := e.(plan.BinaryOp); ok && b.Op == "AND" {
		return append(splitAndTop(b.Left), splitAndTop(b.Right)...)
	}
	return []plan.Expression{e}
}

func andExpr(a, b plan.Expression) plan.Expression {
	if a == nil {
		return b
	}
	return plan.BinaryOp{Op: "AND", Left: a, Right: b}
}

// implementAggregate proposes a HashAggregate (no ordering requirement on
// its input) and a SortGroupBy (requires its input sorted on GroupBy
// ascending).
func (m *Memo) implementAggregate(n plan.LogicalAggregate, children []GroupID) []candidate {
	keys := make([]plan.SortKey, len(n.GroupBy))
	for i, e := range n.GroupBy {
		keys[i] = plan.SortKey{Expr: e, Desc: false}
	}
	cands := []candidate{{
		childGroups: children,
		childReq:    []plan.PropertySet{{}},
		build: func(c []plan.PhysicalOp) plan.PhysicalOp {
			return plan.HashAggregate{Input: c[0], GroupBy: n.GroupBy, Aggregates: n.Aggregates}
		},
	}}
	if len(keys) > 0 {
		cands = append(cands, candidate{
			childGroups: children,
			childReq:    []plan.PropertySet{{Sort: keys}},
			build: func(c []plan.PhysicalOp) plan.PhysicalOp {
				return plan.SortGroupBy{Input: c[0], GroupBy: n.GroupBy, Aggregates: n.Aggregates}
			},
		})
	}
	return cands
}
