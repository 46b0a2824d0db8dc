package binder

// dml.go extends the binder to INSERT/UPDATE/DELETE, mirroring bindSelect's
// approach: resolve the target relation and every referenced column through
// a Scope before any plan is built, so planbuild_dml.go only ever walks
// already-validated AST.

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/oid"
)

// BoundInsert is the output of binding an INSERT statement: the target
// table, its full schema (for building full-width rows), and the subset/
// order of columns the statement actually supplies values for.
type BoundInsert struct {
	Table        oid.OID
	Schema       *catalog.Schema
	Columns      []catalog.Column
	ColumnIndex  []int // position of Columns[i] within Schema.Columns
}

// BindInsert resolves an INSERT's target table and column list.
func (b *Binder) BindInsert(ins *pg_query.InsertStmt) (*BoundInsert, error) {
	rv := ins.GetRelation()
	if rv == nil {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "INSERT requires a target table"}
	}
	schema, _, err := b.resolveTargetTable(rv)
	if err != nil {
		return nil, err
	}

	var cols []catalog.Column
	var idx []int
	if len(ins.GetCols()) == 0 {
		cols = append(cols, schema.Columns...)
		for i := range schema.Columns {
			idx = append(idx, i)
		}
	} else {
		for _, c := range ins.GetCols() {
			rt := c.GetResTarget()
			if rt == nil {
				continue
			}
			col, ok := schema.ColumnByName(rt.GetName())
			if !ok {
				return nil, &BindError{Kind: ErrUnknownColumn, Message: "column \"" + rt.GetName() + "\" of relation does not exist"}
			}
			cols = append(cols, col)
			idx = append(idx, columnIndex(schema, col.OID))
		}
	}

	return &BoundInsert{Table: schema.TableOID, Schema: schema, Columns: cols, ColumnIndex: idx}, nil
}

func columnIndex(schema *catalog.Schema, colOID oid.OID) int {
	for i, c := range schema.Columns {
		if c.OID == colOID {
			return i
		}
	}
	return -1
}

// resolveTargetTable looks up rv the same way bindRangeVar does for a
// FROM-clause entry, but without building a Scope TableRef (DML targets
// aren't visible under an alias unless explicitly given).
func (b *Binder) resolveTargetTable(rv *pg_query.RangeVar) (*catalog.Schema, oid.OID, error) {
	ns := oid.PublicNamespace
	if sch := rv.GetSchemaname(); sch != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, sch)
		if !ok {
			return nil, oid.Invalid, &BindError{Kind: ErrUnknownTable, Message: "schema \"" + sch + "\" does not exist"}
		}
		ns = resolved
	}
	schema, ok := b.cat.LookupTableByName(b.tx, ns, rv.GetRelname())
	if !ok {
		return nil, oid.Invalid, &BindError{Kind: ErrUnknownTable, Message: "relation \"" + rv.GetRelname() + "\" does not exist"}
	}
	return schema, ns, nil
}

// BoundUpdate is the output of binding an UPDATE statement.
type BoundUpdate struct {
	Table      oid.OID
	Schema     *catalog.Schema
	Scope      *Scope
	Assignments []boundAssignment
	Where      *pg_query.Node
	ParamTypes map[int32]oid.OID
}

type boundAssignment struct {
	Index int // position within Schema.Columns
	Node  *pg_query.Node
}

// BindUpdate resolves an UPDATE's target table, assignment list, and WHERE
// clause. UPDATE ... FROM additional tables are not supported.
func (b *Binder) BindUpdate(upd *pg_query.UpdateStmt) (*BoundUpdate, error) {
	rv := upd.GetRelation()
	if rv == nil {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "UPDATE requires a target table"}
	}
	schema, ns, err := b.resolveTargetTable(rv)
	if err != nil {
		return nil, err
	}

	alias := rv.GetRelname()
	if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
		alias = rv.GetAlias().GetAliasname()
	}
	scope := newScope(b.nextScopeID, 0, nil)
	b.nextScopeID++
	ref := &TableRef{Alias: alias, Schema: ns, Table: schema.TableOID}
	for _, c := range schema.Columns {
		ref.Columns = append(ref.Columns, RefColumn{Name: c.Name, Column: c.OID, Type: c.Type})
	}
	if err := scope.addTableRef(ref); err != nil {
		return nil, err
	}

	paramTypes := make(map[int32]oid.OID)
	var assignments []boundAssignment
	for _, n := range upd.GetTargetList() {
		rt := n.GetResTarget()
		if rt == nil {
			continue
		}
		col, ok := schema.ColumnByName(rt.GetName())
		if !ok {
			return nil, &BindError{Kind: ErrUnknownColumn, Message: "column \"" + rt.GetName() + "\" of relation does not exist"}
		}
		if err := b.validateExpr(rt.GetVal(), scope, paramTypes); err != nil {
			return nil, err
		}
		if pr := rt.GetVal().GetParamRef(); pr != nil {
			paramTypes[pr.GetNumber()] = col.Type
		}
		assignments = append(assignments, boundAssignment{Index: columnIndex(schema, col.OID), Node: rt.GetVal()})
	}

	where := upd.GetWhereClause()
	if where != nil {
		if err := b.validateExpr(where, scope, paramTypes); err != nil {
			return nil, err
		}
	}

	return &BoundUpdate{Table: schema.TableOID, Schema: schema, Scope: scope, Assignments: assignments, Where: where, ParamTypes: paramTypes}, nil
}

// BoundDelete is the output of binding a DELETE statement.
type BoundDelete struct {
	Table      oid.OID
	Scope      *Scope
	Where      *pg_query.Node
	ParamTypes map[int32]oid.OID
}

// BindDelete resolves a DELETE's target table and WHERE clause.
func (b *Binder) BindDelete(del *pg_query.DeleteStmt) (*BoundDelete, error) {
	rv := del.GetRelation()
	if rv == nil {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "DELETE requires a target table"}
	}
	schema, ns, err := b.resolveTargetTable(rv)
	if err != nil {
		return nil, err
	}

	alias := rv.GetRelname()
	if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
		alias = rv.GetAlias().GetAliasname()
	}
	scope := newScope(b.nextScopeID, 0, nil)
	b.nextScopeID++
	ref := &TableRef{Alias: alias, Schema: ns, Table: schema.TableOID}
	for _, c := range schema.Columns {
		ref.Columns = append(ref.Columns, RefColumn{Name: c.Name, Column: c.OID, Type: c.Type})
	}
	if err := scope.addTableRef(ref); err != nil {
		return nil, err
	}

	paramTypes := make(map[int32]oid.OID)
	where := del.GetWhereClause()
	if where != nil {
		if err := b.validateExpr(where, scope, paramTypes); err != nil {
			return nil, err
		}
	}

	return &BoundDelete{Table: schema.TableOID, Scope: scope, Where: where, ParamTypes: paramTypes}, nil
}
