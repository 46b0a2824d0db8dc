// Package binder implements lexical scope construction from
// the FROM clause, resolution of every ColumnRef to a (table, column,
// type, depth) tuple, alias-uniqueness enforcement, WHERE/HAVING/GROUP
// BY/ORDER BY validation, non-recursive CTE binding, and parameter-type
// promotion for placeholder ($1, $2, ...) typing.
//
// Binding walks WITH, then FROM, then the target list, then
// WHERE/HAVING/GROUP/ORDER, resolving every ColumnRef to a catalog triple
// through a scope stack with parent links and a depth counter.
package binder

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/txn"
)

// BoundColumnRef is a fully resolved column reference.
type BoundColumnRef struct {
	Alias  string
	Column string
	Table  oid.OID
	ColOID oid.OID
	Type   oid.OID
	Depth  int
}

// BoundTarget is one resolved SELECT-list entry.
type BoundTarget struct {
	Name string
	Node *pg_query.Node
	Star bool // true if this target expands to every column of one or all FROM items
}

// BoundStatement is the output of binding one SELECT statement.
type BoundStatement struct {
	Kind       parser.StmtKind
	Scope      *Scope
	Targets    []BoundTarget
	ParamTypes map[int32]oid.OID
}

// Binder resolves a parsed statement against a database catalog snapshot
// visible to tx.
type Binder struct {
	cat         *catalog.DatabaseCatalog
	tx          *txn.Context
	log         *zap.Logger
	nextScopeID int
	cteDefs     map[string]*TableRef // visible non-recursive CTEs, innermost WITH wins
	nextVirtual oid.OID
	ctePlans    []plan.LogicalCTE // materialization order: innermost first
}

// New returns a Binder resolving names against cat as visible to tx. A
// Binder binds exactly one statement; virtual OIDs handed to derived
// columns are only unique within that statement.
func New(log *zap.Logger, cat *catalog.DatabaseCatalog, tx *txn.Context) *Binder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binder{cat: cat, tx: tx, log: log, cteDefs: make(map[string]*TableRef), nextVirtual: oid.VirtualBase}
}

// virtualOID hands out the next statement-local virtual OID for a derived
// column or derived table.
func (b *Binder) virtualOID() oid.OID {
	o := b.nextVirtual
	b.nextVirtual++
	return o
}

// CTEPlans returns the logical plans of every CTE and FROM subselect bound
// so far, in materialization order.
func (b *Binder) CTEPlans() []plan.LogicalCTE { return b.ctePlans }

// BindSelect binds sel against the catalog, with no enclosing scope.
func (b *Binder) BindSelect(sel *pg_query.SelectStmt) (*BoundStatement, error) {
	return b.bindSelect(sel, nil)
}

func (b *Binder) bindSelect(sel *pg_query.SelectStmt, parent *Scope) (*BoundStatement, error) {
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		return nil, &BindError{Kind: ErrNotImplemented, Message: "UNION/INTERSECT/EXCEPT are not supported"}
	}

	if wc := sel.GetWithClause(); wc != nil {
		if wc.GetRecursive() {
			return nil, &BindError{Kind: ErrNotImplemented, Message: "recursive CTEs are not supported"}
		}
		for _, cteNode := range wc.GetCtes() {
			cte := cteNode.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			sub := cte.GetCtequery().GetSelectStmt()
			if sub == nil {
				return nil, &BindError{Kind: ErrNotImplemented, Message: "only SELECT CTEs are supported"}
			}
			bound, err := b.bindSelect(sub, parent)
			if err != nil {
				return nil, fmt.Errorf("binding CTE %q: %w", cte.GetCtename(), err)
			}
			ref := &TableRef{Alias: cte.GetCtename(), Table: b.virtualOID(), Derived: true}
			names := cte.GetAliascolnames()
			for i, t := range bound.Targets {
				name := t.Name
				if i < len(names) {
					name = names[i].GetString_().GetSval()
				}
				ref.Columns = append(ref.Columns, RefColumn{Name: name, Column: b.virtualOID(), Type: oid.TypeText})
			}
			b.cteDefs[cte.GetCtename()] = ref
		}
	}

	scope := newScope(b.nextScopeID, depthOf(parent), parent)
	b.nextScopeID++

	for _, item := range sel.GetFromClause() {
		if err := b.bindFromItem(item, scope, parent); err != nil {
			return nil, err
		}
	}

	paramTypes := make(map[int32]oid.OID)

	targets, err := b.bindTargetList(sel.GetTargetList(), scope, paramTypes)
	if err != nil {
		return nil, err
	}

	if w := sel.GetWhereClause(); w != nil {
		if err := b.validateWhere(w, scope, paramTypes); err != nil {
			return nil, err
		}
	}
	if h := sel.GetHavingClause(); h != nil {
		if err := b.validateExpr(h, scope, paramTypes); err != nil {
			return nil, err
		}
	}
	for _, g := range sel.GetGroupClause() {
		if err := b.validateExpr(g, scope, paramTypes); err != nil {
			return nil, err
		}
	}
	for _, sortNode := range sel.GetSortClause() {
		if sb := sortNode.GetSortBy(); sb != nil && sb.GetNode() != nil {
			if err := b.validateExpr(sb.GetNode(), scope, paramTypes); err != nil {
				return nil, err
			}
		}
	}

	return &BoundStatement{Kind: parser.StmtSelect, Scope: scope, Targets: targets, ParamTypes: paramTypes}, nil
}

func depthOf(parent *Scope) int {
	if parent == nil {
		return 0
	}
	return parent.Depth + 1
}

func (b *Binder) bindFromItem(node *pg_query.Node, scope, parent *Scope) error {
	switch {
	case node.GetRangeVar() != nil:
		return b.bindRangeVar(node.GetRangeVar(), scope)
	case node.GetJoinExpr() != nil:
		je := node.GetJoinExpr()
		if je.GetLarg() != nil {
			if err := b.bindFromItem(je.GetLarg(), scope, parent); err != nil {
				return err
			}
		}
		if je.GetRarg() != nil {
			if err := b.bindFromItem(je.GetRarg(), scope, parent); err != nil {
				return err
			}
		}
		if q := je.GetQuals(); q != nil {
			if err := b.validateExpr(q, scope, nil); err != nil {
				return err
			}
		}
		return nil
	case node.GetRangeSubselect() != nil:
		rs := node.GetRangeSubselect()
		sub := rs.GetSubquery().GetSelectStmt()
		if sub == nil {
			return &BindError{Kind: ErrNotImplemented, Message: "only SELECT subqueries are supported in FROM"}
		}
		bound, err := b.bindSelect(sub, parent)
		if err != nil {
			return err
		}
		alias := ""
		if rs.GetAlias() != nil {
			alias = rs.GetAlias().GetAliasname()
		}
		if alias == "" {
			return &BindError{Kind: ErrUnknownTable, Message: "subquery in FROM must have an alias"}
		}
		ref := &TableRef{Alias: alias, Explicit: true, Table: b.virtualOID(), Derived: true}
		for _, t := range bound.Targets {
			ref.Columns = append(ref.Columns, RefColumn{Name: t.Name, Column: b.virtualOID(), Type: oid.TypeText})
		}
		return scope.addTableRef(ref)
	default:
		return &BindError{Kind: ErrNotImplemented, Message: "unsupported FROM item"}
	}
}

func (b *Binder) bindRangeVar(rv *pg_query.RangeVar, scope *Scope) error {
	relname := rv.GetRelname()
	alias := relname
	explicit := false
	if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
		alias = rv.GetAlias().GetAliasname()
		explicit = true
	}

	if cteRef, ok := b.cteDefs[relname]; ok {
		cp := *cteRef
		cp.Alias = alias
		cp.Explicit = explicit
		return scope.addTableRef(&cp)
	}

	ns := oid.PublicNamespace
	if sch := rv.GetSchemaname(); sch != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, sch)
		if !ok {
			return &BindError{Kind: ErrUnknownTable, Message: "schema \"" + sch + "\" does not exist"}
		}
		ns = resolved
	}

	schema, ok := b.cat.LookupTableByName(b.tx, ns, relname)
	if !ok {
		return &BindError{Kind: ErrUnknownTable, Message: "relation \"" + relname + "\" does not exist"}
	}

	ref := &TableRef{Alias: alias, Explicit: explicit, Schema: ns, Table: schema.TableOID}
	for _, c := range schema.Columns {
		ref.Columns = append(ref.Columns, RefColumn{Name: c.Name, Column: c.OID, Type: c.Type})
	}
	return scope.addTableRef(ref)
}

func (b *Binder) bindTargetList(list []*pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) ([]BoundTarget, error) {
	var out []BoundTarget
	for _, n := range list {
		rt := n.GetResTarget()
		if rt == nil {
			continue
		}
		val := rt.GetVal()
		if val.GetColumnRef() != nil && isBareStar(val.GetColumnRef()) {
			expanded, err := b.expandStar(val.GetColumnRef(), scope)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			continue
		}

		if err := b.validateExpr(val, scope, paramTypes); err != nil {
			return nil, err
		}
		name := rt.GetName()
		if name == "" {
			name = defaultTargetName(val)
		}
		out = append(out, BoundTarget{Name: name, Node: val})
	}
	return out, nil
}

func isBareStar(cr *pg_query.ColumnRef) bool {
	fields := cr.GetFields()
	return len(fields) >= 1 && fields[len(fields)-1].GetAStar() != nil
}

func (b *Binder) expandStar(cr *pg_query.ColumnRef, scope *Scope) ([]BoundTarget, error) {
	fields := cr.GetFields()
	if len(fields) == 1 {
		var out []BoundTarget
		for _, alias := range scope.order {
			ref := scope.Aliases[alias]
			for _, c := range ref.Columns {
				out = append(out, BoundTarget{Name: c.Name, Star: true})
			}
		}
		return out, nil
	}
	alias := fields[0].GetString_().GetSval()
	ref, ok := scope.Aliases[alias]
	if !ok {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "missing FROM-clause entry for table \"" + alias + "\""}
	}
	var out []BoundTarget
	for _, c := range ref.Columns {
		out = append(out, BoundTarget{Name: c.Name, Star: true})
	}
	return out, nil
}

func defaultTargetName(val *pg_query.Node) string {
	if cr := val.GetColumnRef(); cr != nil {
		fields := cr.GetFields()
		if len(fields) > 0 {
			if s := fields[len(fields)-1].GetString_(); s != nil {
				return s.GetSval()
			}
		}
	}
	if fc := val.GetFuncCall(); fc != nil {
		parts := fc.GetFuncname()
		if len(parts) > 0 {
			return parts[len(parts)-1].GetString_().GetSval()
		}
	}
	return "?column?"
}

// validateExpr walks expr, resolving every ColumnRef it contains through
// scope (recording ambiguity/unknown-column errors) and, where a ParamRef
// is compared directly against a typed column, recording a promoted type
// for that parameter number.
func (b *Binder) validateExpr(expr *pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) error {
	if expr == nil {
		return nil
	}
	switch {
	case expr.GetColumnRef() != nil:
		_, err := b.resolveColumnRef(expr.GetColumnRef(), scope)
		return err

	case expr.GetAExpr() != nil:
		ae := expr.GetAExpr()
		if err := b.validateExpr(ae.GetLexpr(), scope, paramTypes); err != nil {
			return err
		}
		if err := b.validateExpr(ae.GetRexpr(), scope, paramTypes); err != nil {
			return err
		}
		if paramTypes != nil {
			b.promoteParamAgainstColumn(ae.GetLexpr(), ae.GetRexpr(), scope, paramTypes)
			b.promoteParamAgainstColumn(ae.GetRexpr(), ae.GetLexpr(), scope, paramTypes)
		}
		return nil

	case expr.GetBoolExpr() != nil:
		for _, a := range expr.GetBoolExpr().GetArgs() {
			if err := b.validateExpr(a, scope, paramTypes); err != nil {
				return err
			}
		}
		return nil

	case expr.GetFuncCall() != nil:
		for _, a := range expr.GetFuncCall().GetArgs() {
			if err := b.validateExpr(a, scope, paramTypes); err != nil {
				return err
			}
		}
		return nil

	case expr.GetTypeCast() != nil:
		return b.validateExpr(expr.GetTypeCast().GetArg(), scope, paramTypes)

	case expr.GetCaseExpr() != nil:
		ce := expr.GetCaseExpr()
		for _, w := range ce.GetArgs() {
			if when := w.GetCaseWhen(); when != nil {
				if err := b.validateExpr(when.GetExpr(), scope, paramTypes); err != nil {
					return err
				}
				if err := b.validateExpr(when.GetResult(), scope, paramTypes); err != nil {
					return err
				}
			}
		}
		return b.validateExpr(ce.GetDefresult(), scope, paramTypes)

	case expr.GetCoalesceExpr() != nil:
		for _, a := range expr.GetCoalesceExpr().GetArgs() {
			if err := b.validateExpr(a, scope, paramTypes); err != nil {
				return err
			}
		}
		return nil

	case expr.GetSubLink() != nil:
		sl := expr.GetSubLink()
		sub := sl.GetSubselect().GetSelectStmt()
		if sub == nil {
			return nil
		}
		if _, err := b.bindSelect(sub, scope); err != nil {
			return err
		}
		return b.validateExpr(sl.GetTestexpr(), scope, paramTypes)

	case expr.GetSortBy() != nil:
		return b.validateExpr(expr.GetSortBy().GetNode(), scope, paramTypes)

	default:
		// Literals (A_Const), ParamRef alone, and anything without nested
		// column references are trivially valid.
		return nil
	}
}

// validateWhere applies the WHERE-specific rules on top of the general
// expression walk: the predicate must evaluate to boolean (a bare
// non-boolean constant is rejected), and aggregate calls are forbidden —
// they belong in HAVING or the select list.
func (b *Binder) validateWhere(expr *pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) error {
	if ac := expr.GetAConst(); ac != nil {
		if ac.GetBoolval() == nil && !ac.GetIsnull() {
			return &BindError{Kind: ErrTypeMismatch, Message: "argument of WHERE must be type boolean"}
		}
	}
	if fc := findAggregate(expr); fc != "" {
		return &BindError{Kind: ErrTypeMismatch, Message: "aggregate functions are not allowed in WHERE (" + fc + ")"}
	}
	return b.validateExpr(expr, scope, paramTypes)
}

// findAggregate returns the name of the first aggregate call in expr, or
// "".
func findAggregate(expr *pg_query.Node) string {
	if expr == nil {
		return ""
	}
	if fc := expr.GetFuncCall(); fc != nil {
		name := ""
		if names := fc.GetFuncname(); len(names) > 0 {
			name = names[len(names)-1].GetString_().GetSval()
		}
		if isAggregateName(name) {
			return name
		}
		for _, a := range fc.GetArgs() {
			if found := findAggregate(a); found != "" {
				return found
			}
		}
		return ""
	}
	if ae := expr.GetAExpr(); ae != nil {
		if found := findAggregate(ae.GetLexpr()); found != "" {
			return found
		}
		return findAggregate(ae.GetRexpr())
	}
	if be := expr.GetBoolExpr(); be != nil {
		for _, a := range be.GetArgs() {
			if found := findAggregate(a); found != "" {
				return found
			}
		}
	}
	return ""
}

func (b *Binder) resolveColumnRef(cr *pg_query.ColumnRef, scope *Scope) (BoundColumnRef, error) {
	fields := cr.GetFields()
	var alias, col string
	switch len(fields) {
	case 1:
		col = fields[0].GetString_().GetSval()
	case 2:
		alias = fields[0].GetString_().GetSval()
		col = fields[1].GetString_().GetSval()
	default:
		return BoundColumnRef{}, &BindError{Kind: ErrNotImplemented, Message: "schema-qualified column references are not supported"}
	}

	ref, rc, depth, err := scope.lookupColumn(alias, col)
	if err != nil {
		return BoundColumnRef{}, err
	}
	return BoundColumnRef{Alias: ref.Alias, Column: col, Table: ref.Table, ColOID: rc.Column, Type: rc.Type, Depth: depth}, nil
}

// promoteParamAgainstColumn records paramTypes[n] = columnType when side is
// a bare ParamRef and other is a ColumnRef resolvable in scope, applying
// the widening rule: a parameter already typed from one comparison is
// only widened, never narrowed, by a later one.
func (b *Binder) promoteParamAgainstColumn(side, other *pg_query.Node, scope *Scope, paramTypes map[int32]oid.OID) {
	pr := side.GetParamRef()
	cr := other.GetColumnRef()
	if pr == nil || cr == nil {
		return
	}
	bound, err := b.resolveColumnRef(cr, scope)
	if err != nil {
		return
	}
	n := pr.GetNumber()
	if existing, ok := paramTypes[n]; ok {
		paramTypes[n] = widen(existing, bound.Type)
		return
	}
	paramTypes[n] = bound.Type
}

var typePrecedence = map[oid.OID]int{
	oid.TypeBool:    0,
	oid.TypeInt2:    1,
	oid.TypeInt4:    2,
	oid.TypeInt8:    3,
	oid.TypeFloat4:  4,
	oid.TypeFloat8:  5,
	oid.TypeNumeric: 6,
	oid.TypeDate:    1,
	oid.TypeVarchar: 1,
	oid.TypeText:    1,
}

// widen returns whichever of a, b has higher precedence in the numeric
// promotion chain int2 < int4 < int8 < float4 < float8 < numeric, so a
// parameter bound against columns of two different numeric types is typed
// as the wider of the two rather than erroring.
func widen(a, b oid.OID) oid.OID {
	if a == b {
		return a
	}
	pa, oka := typePrecedence[a]
	pb, okb := typePrecedence[b]
	if !oka || !okb {
		return a
	}
	if pb > pa {
		return b
	}
	return a
}
