package binder

// planbuild_dml.go is planbuild.go's counterpart for INSERT/UPDATE/DELETE:
// it turns a BoundInsert/BoundUpdate/BoundDelete plus the statement's raw
// AST into the plan package's LogicalOp trees the optimizer consumes.

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
)

// BuildLogicalInsert binds and plans ins, returning the target table, the
// row-source LogicalOp (a LogicalValues for VALUES lists, a full query plan
// for INSERT ... SELECT), and any parameter types resolved along the way.
func (b *Binder) BuildLogicalInsert(ins *pg_query.InsertStmt) (plan.LogicalOp, oid.OID, map[int32]oid.OID, error) {
	bound, err := b.BindInsert(ins)
	if err != nil {
		return nil, oid.Invalid, nil, err
	}

	paramTypes := make(map[int32]oid.OID)
	sel := ins.GetSelectStmt().GetSelectStmt()
	if sel == nil {
		return nil, oid.Invalid, nil, &BindError{Kind: ErrNotImplemented, Message: "INSERT requires a VALUES list or SELECT"}
	}

	if valuesLists := sel.GetValuesLists(); len(valuesLists) > 0 {
		emptyScope := newScope(b.nextScopeID, 0, nil)
		b.nextScopeID++
		rows := make([][]plan.Expression, 0, len(valuesLists))
		for _, vl := range valuesLists {
			row, err := b.buildInsertRow(vl.GetList().GetItems(), bound, emptyScope, paramTypes)
			if err != nil {
				return nil, oid.Invalid, nil, err
			}
			rows = append(rows, row)
		}
		return plan.LogicalInsert{Table: bound.Table, Input: plan.LogicalValues{Rows: rows}}, bound.Table, paramTypes, nil
	}

	root, _, pt, err := b.BuildLogicalQuery(sel)
	if err != nil {
		return nil, oid.Invalid, nil, err
	}
	for k, v := range pt {
		paramTypes[k] = v
	}
	return plan.LogicalInsert{Table: bound.Table, Input: root}, bound.Table, paramTypes, nil
}

// buildInsertRow places each supplied value expression at its target
// column's position within the full schema width, filling every other
// column with NULL.
func (b *Binder) buildInsertRow(items []*pg_query.Node, bound *BoundInsert, scope *Scope, paramTypes map[int32]oid.OID) ([]plan.Expression, error) {
	if len(items) != len(bound.Columns) {
		return nil, fmt.Errorf("binder: INSERT has %d target columns but %d values", len(bound.Columns), len(items))
	}
	row := make([]plan.Expression, len(bound.Schema.Columns))
	for i, c := range bound.Schema.Columns {
		row[i] = defaultValueExpr(c.DefaultSQL, c.Type)
	}
	for i, item := range items {
		col := bound.Columns[i]
		if pr := item.GetParamRef(); pr != nil {
			paramTypes[pr.GetNumber()] = col.Type
		}
		e, err := b.exprToPlan(item, scope, paramTypes)
		if err != nil {
			return nil, err
		}
		idx := bound.ColumnIndex[i]
		if idx < 0 {
			return nil, fmt.Errorf("binder: INSERT target column %q not found in schema", col.Name)
		}
		row[idx] = e
	}
	return row, nil
}

// defaultValueExpr returns NULL for every omitted column: column DEFAULT
// expressions are stored as raw SQL text (catalog.Column.DefaultSQL) and
// re-parsing that text here would need a second pg_query.Parse round trip
// per row, so no DEFAULT is applied, whether the stored expression is a
// literal constant or not.
func defaultValueExpr(_ string, _ oid.OID) plan.Expression {
	return plan.Literal{Type: oid.Invalid, Value: nil}
}

// BuildLogicalUpdate binds and plans upd into a LogicalUpdate over a
// LogicalGet (optionally wrapped in a LogicalFilter), with a full-width
// Assignments list: unassigned columns pass through unchanged via a
// self-referencing ColumnRef.
func (b *Binder) BuildLogicalUpdate(upd *pg_query.UpdateStmt) (plan.LogicalOp, map[int32]oid.OID, error) {
	bound, err := b.BindUpdate(upd)
	if err != nil {
		return nil, nil, err
	}

	row := make([]plan.Expression, len(bound.Schema.Columns))
	for i, c := range bound.Schema.Columns {
		row[i] = plan.ColumnRef{Table: bound.Table, Column: c.OID, Type: c.Type, Depth: 0}
	}
	for _, a := range bound.Assignments {
		e, err := b.exprToPlan(a.Node, bound.Scope, bound.ParamTypes)
		if err != nil {
			return nil, nil, err
		}
		row[a.Index] = e
	}

	var input plan.LogicalOp = plan.LogicalGet{Table: bound.Table}
	if bound.Where != nil {
		pred, err := b.exprToPlan(bound.Where, bound.Scope, bound.ParamTypes)
		if err != nil {
			return nil, nil, err
		}
		input = plan.LogicalFilter{Input: input, Predicate: pred}
	}

	return plan.LogicalUpdate{Table: bound.Table, Input: input, Assignments: row}, bound.ParamTypes, nil
}

// BuildLogicalDelete binds and plans del into a LogicalDelete over a
// LogicalGet, optionally wrapped in a LogicalFilter for its WHERE clause.
func (b *Binder) BuildLogicalDelete(del *pg_query.DeleteStmt) (plan.LogicalOp, map[int32]oid.OID, error) {
	bound, err := b.BindDelete(del)
	if err != nil {
		return nil, nil, err
	}

	var input plan.LogicalOp = plan.LogicalGet{Table: bound.Table}
	if bound.Where != nil {
		pred, err := b.exprToPlan(bound.Where, bound.Scope, bound.ParamTypes)
		if err != nil {
			return nil, nil, err
		}
		input = plan.LogicalFilter{Input: input, Predicate: pred}
	}

	return plan.LogicalDelete{Table: bound.Table, Input: input}, bound.ParamTypes, nil
}
