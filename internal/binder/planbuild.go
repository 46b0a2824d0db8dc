package binder

// planbuild.go translates a bound SELECT/INSERT/UPDATE/DELETE's raw
// pg_query AST, together with the Scope the rest of this package already
// resolved names against, into the plan package's sum types (LogicalOp,
// Expression, Statement). It reuses exactly the same
// resolveColumnRef/Scope machinery the rest of the binder uses, so that a
// name resolves to the same (table,col,type,depth) tuple whether it's
// being validated or compiled.

import (
	"fmt"
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
)

// BuildLogicalQuery is the canonical entry point used by the optimizer: it
// binds sel and returns both the logical plan root and its output columns.
func (b *Binder) BuildLogicalQuery(sel *pg_query.SelectStmt) (plan.LogicalOp, []plan.OutputCol, map[int32]oid.OID, error) {
	bound, err := b.BindSelect(sel)
	if err != nil {
		return nil, nil, nil, err
	}
	scope := bound.Scope
	paramTypes := bound.ParamTypes

	// Each WITH entry materializes before the main plan runs; build its
	// own logical plan now (recursively, so a CTE body's nested CTEs and
	// subselects land in the list ahead of it).
	if wc := sel.GetWithClause(); wc != nil {
		for _, cteNode := range wc.GetCtes() {
			cte := cteNode.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			name := cte.GetCtename()
			cteRoot, cteCols, _, err := b.BuildLogicalQuery(cte.GetCtequery().GetSelectStmt())
			if err != nil {
				return nil, nil, nil, fmt.Errorf("planning CTE %q: %w", name, err)
			}
			b.ctePlans = append(b.ctePlans, plan.LogicalCTE{
				Name:    name,
				Root:    cteRoot,
				Columns: cteCols,
				OutRefs: derivedOutRefs(b.cteDefs[name]),
			})
		}
	}

	var root plan.LogicalOp
	for _, item := range sel.GetFromClause() {
		node, err := b.buildFromItem(item, scope)
		if err != nil {
			return nil, nil, nil, err
		}
		root = joinCross(root, node)
	}
	if root == nil {
		// FROM-less SELECT: a single constant row feeds the projection.
		root = plan.LogicalValues{Rows: [][]plan.Expression{{}}}
	}

	if w := sel.GetWhereClause(); w != nil {
		pred, err := b.exprToPlan(w, scope, paramTypes)
		if err != nil {
			return nil, nil, nil, err
		}
		root = plan.LogicalFilter{Input: root, Predicate: pred}
	}

	groupBy := sel.GetGroupClause()
	aggregates := collectAggregates(sel.GetTargetList())
	if len(groupBy) > 0 || len(aggregates) > 0 {
		gbExprs := make([]plan.Expression, 0, len(groupBy))
		for _, g := range groupBy {
			e, err := b.exprToPlan(g, scope, paramTypes)
			if err != nil {
				return nil, nil, nil, err
			}
			gbExprs = append(gbExprs, e)
		}
		aggCalls, err := b.aggregateCalls(aggregates, scope, paramTypes)
		if err != nil {
			return nil, nil, nil, err
		}
		root = plan.LogicalAggregate{Input: root, GroupBy: gbExprs, Aggregates: aggCalls}
	}

	if h := sel.GetHavingClause(); h != nil {
		pred, err := b.exprToPlan(h, scope, paramTypes)
		if err != nil {
			return nil, nil, nil, err
		}
		root = plan.LogicalFilter{Input: root, Predicate: pred}
	}

	cols, exprs, err := b.targetExprs(bound.Targets, sel.GetTargetList(), scope, paramTypes)
	if err != nil {
		return nil, nil, nil, err
	}

	// ORDER BY and LIMIT sit beneath the final projection: sort keys are
	// resolved against the FROM scope (input columns), so ordering happens
	// over the pre-projection rows and the projection stays the plan's
	// top-level node for the optimizer to strip into Query.Project.
	if sortClause := sel.GetSortClause(); len(sortClause) > 0 {
		keys := make([]plan.SortKey, 0, len(sortClause))
		for _, sNode := range sortClause {
			sb := sNode.GetSortBy()
			if sb == nil {
				continue
			}
			e, err := b.exprToPlan(sb.GetNode(), scope, paramTypes)
			if err != nil {
				return nil, nil, nil, err
			}
			keys = append(keys, plan.SortKey{Expr: e, Desc: sb.GetSortbyDir() == pg_query.SortByDir_SORTBY_DESC})
		}
		if len(keys) > 0 {
			root = plan.LogicalSort{Input: root, Keys: keys}
		}
	}

	if lc := sel.GetLimitCount(); lc != nil {
		cnt, err := b.exprToPlan(lc, scope, paramTypes)
		if err != nil {
			return nil, nil, nil, err
		}
		var off plan.Expression
		if lo := sel.GetLimitOffset(); lo != nil {
			off, err = b.exprToPlan(lo, scope, paramTypes)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		root = plan.LogicalLimit{Input: root, Count: cnt, Offset: off}
	}

	root = plan.LogicalProject{Input: root, Exprs: exprs}
	return root, cols, paramTypes, nil
}

func joinCross(left, right plan.LogicalOp) plan.LogicalOp {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	return plan.LogicalJoin{JoinType: plan.JoinInner, Left: left, Right: right, Condition: plan.Literal{Type: oid.TypeBool, Value: true}}
}

func (b *Binder) buildFromItem(node *pg_query.Node, scope *Scope) (plan.LogicalOp, error) {
	switch {
	case node.GetRangeVar() != nil:
		rv := node.GetRangeVar()
		alias := rv.GetRelname()
		if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
			alias = rv.GetAlias().GetAliasname()
		}
		ref, ok := scope.Aliases[alias]
		if !ok || ref.Derived {
			// A CTE reference scans the materialization registered under
			// the CTE's own name, whatever the local alias is.
			name := rv.GetRelname()
			if _, isCTE := b.cteDefs[name]; !isCTE {
				name = alias
			}
			return plan.LogicalCTEScan{CTEName: name}, nil
		}
		return plan.LogicalGet{Table: ref.Table}, nil

	case node.GetJoinExpr() != nil:
		je := node.GetJoinExpr()
		left, err := b.buildFromItem(je.GetLarg(), scope)
		if err != nil {
			return nil, err
		}
		right, err := b.buildFromItem(je.GetRarg(), scope)
		if err != nil {
			return nil, err
		}
		var cond plan.Expression = plan.Literal{Type: oid.TypeBool, Value: true}
		if q := je.GetQuals(); q != nil {
			cond, err = b.exprToPlan(q, scope, nil)
			if err != nil {
				return nil, err
			}
		}
		return plan.LogicalJoin{JoinType: joinKindOf(je.GetJointype()), Left: left, Right: right, Condition: cond}, nil

	case node.GetRangeSubselect() != nil:
		rs := node.GetRangeSubselect()
		alias := ""
		if rs.GetAlias() != nil {
			alias = rs.GetAlias().GetAliasname()
		}
		// A FROM subselect materializes exactly like a single-reference
		// CTE named after its alias.
		subRoot, subCols, _, err := b.BuildLogicalQuery(rs.GetSubquery().GetSelectStmt())
		if err != nil {
			return nil, err
		}
		b.ctePlans = append(b.ctePlans, plan.LogicalCTE{
			Name:    alias,
			Root:    subRoot,
			Columns: subCols,
			OutRefs: derivedOutRefs(scope.Aliases[alias]),
		})
		return plan.LogicalCTEScan{CTEName: alias}, nil

	default:
		return nil, fmt.Errorf("binder: unsupported FROM item in plan build")
	}
}

// derivedOutRefs lists the virtual column refs a derived TableRef exposes,
// in target-list order — the key set the translator registers the
// materialized rows under.
func derivedOutRefs(ref *TableRef) []plan.ColumnRef {
	if ref == nil {
		return nil
	}
	out := make([]plan.ColumnRef, len(ref.Columns))
	for i, c := range ref.Columns {
		out[i] = plan.ColumnRef{Table: ref.Table, Column: c.Column, Type: c.Type}
	}
	return out
}

func joinKindOf(jt pg_query.JoinType) plan.JoinKind {
	switch jt {
	case pg_query.JoinType_JOIN_LEFT:
		return plan.JoinLeft
	case pg_query.JoinType_JOIN_RIGHT:
		return plan.JoinRight
	case pg_query.JoinType_JOIN_FULL:
		return plan.JoinFull
	case pg_query.JoinType_JOIN_SEMI:
		return plan.JoinSemi
	case pg_query.JoinType_JOIN_ANTI:
		return plan.JoinAnti
	default:
		return plan.JoinInner
	}
}

func collectAggregates(targets []*pg_query.Node) []*pg_query.FuncCall {
	var out []*pg_query.FuncCall
	for _, n := range targets {
		rt := n.GetResTarget()
		if rt == nil {
			continue
		}
		walkForAggregates(rt.GetVal(), &out)
	}
	return out
}

func walkForAggregates(n *pg_query.Node, out *[]*pg_query.FuncCall) {
	if n == nil {
		return
	}
	if fc := n.GetFuncCall(); fc != nil {
		*out = append(*out, fc)
		for _, a := range fc.GetArgs() {
			walkForAggregates(a, out)
		}
		return
	}
	if ae := n.GetAExpr(); ae != nil {
		walkForAggregates(ae.GetLexpr(), out)
		walkForAggregates(ae.GetRexpr(), out)
	}
}

func (b *Binder) aggregateCalls(calls []*pg_query.FuncCall, scope *Scope, paramTypes map[int32]oid.OID) ([]plan.FuncCall, error) {
	out := make([]plan.FuncCall, 0, len(calls))
	for _, fc := range calls {
		name := lastName(fc.GetFuncname())
		if !isAggregateName(name) {
			continue
		}
		args := make([]plan.Expression, 0, len(fc.GetArgs()))
		for _, a := range fc.GetArgs() {
			if a.GetColumnRef() != nil && isBareStar(a.GetColumnRef()) {
				continue // COUNT(*)
			}
			e, err := b.exprToPlan(a, scope, paramTypes)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
		out = append(out, plan.FuncCall{Name: name, Args: args, ReturnType: aggregateReturnType(name, args)})
	}
	return out, nil
}

func isAggregateName(name string) bool {
	switch name {
	case "count", "sum", "avg", "min", "max":
		return true
	default:
		return false
	}
}

func aggregateReturnType(name string, args []plan.Expression) oid.OID {
	switch name {
	case "count":
		return oid.TypeInt8
	case "avg":
		return oid.TypeFloat8
	default:
		if len(args) == 1 {
			return inferType(args[0])
		}
		return oid.TypeInt8
	}
}

func (b *Binder) targetExprs(targets []BoundTarget, rawTargets []*pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) ([]plan.OutputCol, []plan.Expression, error) {
	var cols []plan.OutputCol
	var exprs []plan.Expression

	rawIdx := 0
	for _, t := range targets {
		if t.Star {
			// Re-resolve the star's underlying column by name so the
			// expression carries a real ColumnRef, not a placeholder.
			e, typ, err := b.resolveBareColumn(t.Name, scope)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, plan.OutputCol{Name: t.Name, Type: typ})
			exprs = append(exprs, e)
			continue
		}
		for rawIdx < len(rawTargets) {
			rt := rawTargets[rawIdx].GetResTarget()
			rawIdx++
			if rt == nil {
				continue
			}
			if rt.GetVal().GetColumnRef() != nil && isBareStar(rt.GetVal().GetColumnRef()) {
				continue // consumed by a Star BoundTarget above
			}
			e, err := b.exprToPlan(rt.GetVal(), scope, paramTypes)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, plan.OutputCol{Name: t.Name, Type: inferType(e)})
			exprs = append(exprs, e)
			break
		}
	}
	return cols, exprs, nil
}

// resolveBareColumn finds the first scope column named name (used for
// expanded "*" targets) and returns a resolved ColumnRef expression.
func (b *Binder) resolveBareColumn(name string, scope *Scope) (plan.Expression, oid.OID, error) {
	for _, alias := range scope.order {
		ref := scope.Aliases[alias]
		for _, c := range ref.Columns {
			if c.Name == name {
				return plan.ColumnRef{Table: ref.Table, Column: c.Column, Type: c.Type, Depth: 0}, c.Type, nil
			}
		}
	}
	return nil, oid.Invalid, fmt.Errorf("binder: cannot resolve expanded column %q", name)
}

// exprToPlan translates a raw pg_query expression node into a plan.Expression,
// re-resolving ColumnRefs through scope the same way validateExpr already
// did (validateExpr only checks that resolution *succeeds*; this records
// the resolved triple into the plan tree the optimizer consumes).
func (b *Binder) exprToPlan(node *pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) (plan.Expression, error) {
	if node == nil {
		return nil, nil
	}
	switch {
	case node.GetColumnRef() != nil:
		bc, err := b.resolveColumnRef(node.GetColumnRef(), scope)
		if err != nil {
			return nil, err
		}
		return plan.ColumnRef{Table: bc.Table, Column: bc.ColOID, Type: bc.Type, Depth: bc.Depth}, nil

	case node.GetAConst() != nil:
		return literalFromAConst(node.GetAConst())

	case node.GetParamRef() != nil:
		n := node.GetParamRef().GetNumber()
		t := oid.TypeText
		if paramTypes != nil {
			if pt, ok := paramTypes[n]; ok {
				t = pt
			}
		}
		return plan.Param{Number: n, Type: t}, nil

	case node.GetAExpr() != nil:
		ae := node.GetAExpr()
		left, err := b.exprToPlan(ae.GetLexpr(), scope, paramTypes)
		if err != nil {
			return nil, err
		}
		right, err := b.exprToPlan(ae.GetRexpr(), scope, paramTypes)
		if err != nil {
			return nil, err
		}
		return plan.BinaryOp{Op: opName(ae), Left: left, Right: right}, nil

	case node.GetBoolExpr() != nil:
		be := node.GetBoolExpr()
		args := be.GetArgs()
		op := boolOpName(be.GetBoolop())
		if op == "NOT" {
			arg, err := b.exprToPlan(args[0], scope, paramTypes)
			if err != nil {
				return nil, err
			}
			return plan.UnaryOp{Op: "NOT", Expr: arg}, nil
		}
		var result plan.Expression
		for i, a := range args {
			e, err := b.exprToPlan(a, scope, paramTypes)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				result = e
				continue
			}
			result = plan.BinaryOp{Op: op, Left: result, Right: e}
		}
		return result, nil

	case node.GetFuncCall() != nil:
		fc := node.GetFuncCall()
		name := lastName(fc.GetFuncname())
		args := make([]plan.Expression, 0, len(fc.GetArgs()))
		for _, a := range fc.GetArgs() {
			e, err := b.exprToPlan(a, scope, paramTypes)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
		return plan.FuncCall{Name: name, Args: args, ReturnType: aggregateReturnType(name, args)}, nil

	case node.GetTypeCast() != nil:
		tc := node.GetTypeCast()
		arg, err := b.exprToPlan(tc.GetArg(), scope, paramTypes)
		if err != nil {
			return nil, err
		}
		return plan.Cast{Expr: arg, Type: sqlTypeOf(tc.GetTypeName())}, nil

	case node.GetCaseExpr() != nil:
		ce := node.GetCaseExpr()
		var arms []plan.CaseWhen
		for _, w := range ce.GetArgs() {
			when := w.GetCaseWhen()
			if when == nil {
				continue
			}
			cond, err := b.exprToPlan(when.GetExpr(), scope, paramTypes)
			if err != nil {
				return nil, err
			}
			then, err := b.exprToPlan(when.GetResult(), scope, paramTypes)
			if err != nil {
				return nil, err
			}
			arms = append(arms, plan.CaseWhen{When: cond, Then: then})
		}
		var def plan.Expression
		if ce.GetDefresult() != nil {
			var err error
			def, err = b.exprToPlan(ce.GetDefresult(), scope, paramTypes)
			if err != nil {
				return nil, err
			}
		}
		typ := oid.TypeText
		if len(arms) > 0 {
			typ = inferType(arms[0].Then)
		}
		return plan.Case{Args: arms, Default: def, Type: typ}, nil

	case node.GetSortBy() != nil:
		return b.exprToPlan(node.GetSortBy().GetNode(), scope, paramTypes)

	default:
		return nil, fmt.Errorf("binder: unsupported expression kind in plan build")
	}
}

func literalFromAConst(ac *pg_query.A_Const) (plan.Expression, error) {
	if ac.GetIsnull() {
		return plan.Literal{Type: oid.Invalid, Value: nil}, nil
	}
	switch {
	case ac.GetIval() != nil:
		return plan.Literal{Type: oid.TypeInt4, Value: int64(ac.GetIval().GetIval())}, nil
	case ac.GetFval() != nil:
		f, err := strconv.ParseFloat(ac.GetFval().GetFval(), 64)
		if err != nil {
			return nil, fmt.Errorf("binder: invalid numeric literal: %w", err)
		}
		return plan.Literal{Type: oid.TypeFloat8, Value: f}, nil
	case ac.GetBoolval() != nil:
		return plan.Literal{Type: oid.TypeBool, Value: ac.GetBoolval().GetBoolval()}, nil
	case ac.GetSval() != nil:
		return plan.Literal{Type: oid.TypeText, Value: ac.GetSval().GetSval()}, nil
	default:
		return plan.Literal{Type: oid.TypeText, Value: ""}, nil
	}
}

func opName(ae *pg_query.A_Expr) string {
	names := ae.GetName()
	if len(names) == 0 {
		return "="
	}
	return lastStringVal(names)
}

func lastStringVal(nodes []*pg_query.Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[len(nodes)-1].GetString_().GetSval()
}

func lastName(nodes []*pg_query.Node) string {
	return lastStringVal(nodes)
}

func boolOpName(op pg_query.BoolExprType) string {
	switch op {
	case pg_query.BoolExprType_AND_EXPR:
		return "AND"
	case pg_query.BoolExprType_OR_EXPR:
		return "OR"
	default:
		return "NOT"
	}
}

func sqlTypeOf(tn *pg_query.TypeName) oid.OID {
	if tn == nil {
		return oid.TypeText
	}
	name := lastStringVal(tn.GetNames())
	switch name {
	case "bool", "boolean":
		return oid.TypeBool
	case "int2", "smallint":
		return oid.TypeInt2
	case "int4", "int", "integer":
		return oid.TypeInt4
	case "int8", "bigint":
		return oid.TypeInt8
	case "float4", "real":
		return oid.TypeFloat4
	case "float8", "double precision":
		return oid.TypeFloat8
	case "varchar":
		return oid.TypeVarchar
	case "text":
		return oid.TypeText
	case "date":
		return oid.TypeDate
	case "numeric":
		return oid.TypeNumeric
	default:
		return oid.TypeText
	}
}

// inferType derives an Expression's result type for OutputCol/aggregate
// purposes without a full type-checker: enough to drive RowDescription and
// ValueKind selection for the row layout.
func inferType(e plan.Expression) oid.OID {
	switch n := e.(type) {
	case plan.ColumnRef:
		return n.Type
	case plan.Literal:
		return n.Type
	case plan.Param:
		return n.Type
	case plan.Cast:
		return n.Type
	case plan.FuncCall:
		return n.ReturnType
	case plan.Case:
		return n.Type
	case plan.BinaryOp:
		switch n.Op {
		case "=", "<>", "<", "<=", ">", ">=", "AND", "OR", "LIKE":
			return oid.TypeBool
		default:
			return inferType(n.Left)
		}
	case plan.UnaryOp:
		if n.Op == "NOT" {
			return oid.TypeBool
		}
		return inferType(n.Expr)
	default:
		return oid.TypeText
	}
}
