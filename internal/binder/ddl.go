package binder

// ddl.go binds CREATE/DROP TABLE and CREATE/DROP INDEX directly into the
// plan package's Statement values: DDL never goes through the optimizer,
// so there's no LogicalOp/PhysicalOp tree here, just AST -> Statement.

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
)

// BindCreateTable binds a CREATE TABLE statement. Table constraints
// (PRIMARY KEY/UNIQUE/CHECK/FOREIGN KEY) are not modeled as separate index
// or constraint rows here — CONSTR_PRIMARY only promotes the column
// to NOT NULL and CONSTR_UNIQUE has no effect; a following CREATE INDEX is required for an actual
// index, matching how this statement's INDEX/CONSTRAINT tables are wired
// up downstream in the catalog package, not the binder.
func (b *Binder) BindCreateTable(cs *pg_query.CreateStmt) (*plan.CreateTable, error) {
	rv := cs.GetRelation()
	if rv == nil {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "CREATE TABLE requires a table name"}
	}
	ns := oid.PublicNamespace
	if sch := rv.GetSchemaname(); sch != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, sch)
		if !ok {
			return nil, &BindError{Kind: ErrUnknownTable, Message: "schema \"" + sch + "\" does not exist"}
		}
		ns = resolved
	}

	var cols []plan.CreateTableColumn
	for _, elt := range cs.GetTableElts() {
		cd := elt.GetColumnDef()
		if cd == nil {
			continue // table-level constraints (not inline column constraints) are not supported
		}
		notNull := false
		defaultSQL := ""
		for _, c := range cd.GetConstraints() {
			con := c.GetConstraint()
			switch con.GetContype() {
			case pg_query.ConstrType_CONSTR_NOTNULL, pg_query.ConstrType_CONSTR_PRIMARY:
				notNull = true
			case pg_query.ConstrType_CONSTR_DEFAULT:
				if text, err := pg_query.DeparseExpr(con.GetRawExpr()); err == nil {
					defaultSQL = text
				}
			}
		}
		cols = append(cols, plan.CreateTableColumn{
			Name:       cd.GetColname(),
			Type:       sqlTypeOf(cd.GetTypeName()),
			Nullable:   !notNull,
			DefaultSQL: defaultSQL,
		})
	}

	return &plan.CreateTable{Namespace: ns, Name: rv.GetRelname(), Columns: cols}, nil
}

// BindDropTable binds a DROP TABLE statement naming exactly one table.
func (b *Binder) BindDropTable(ds *pg_query.DropStmt) (*plan.DropTable, error) {
	if ds.GetRemoveType() != pg_query.ObjectType_OBJECT_TABLE {
		return nil, &BindError{Kind: ErrNotImplemented, Message: "DROP statement does not target a table"}
	}
	if len(ds.GetObjects()) != 1 {
		return nil, &BindError{Kind: ErrNotImplemented, Message: "DROP TABLE only supports a single table per statement"}
	}
	ns, name := qualifiedObjectName(ds.GetObjects()[0])
	nsOID := oid.PublicNamespace
	if ns != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, ns)
		if !ok {
			return nil, &BindError{Kind: ErrUnknownTable, Message: "schema \"" + ns + "\" does not exist"}
		}
		nsOID = resolved
	}
	schema, ok := b.cat.LookupTableByName(b.tx, nsOID, name)
	if !ok {
		if ds.GetMissingOk() {
			return &plan.DropTable{Table: oid.Invalid}, nil
		}
		return nil, &BindError{Kind: ErrUnknownTable, Message: "table \"" + name + "\" does not exist"}
	}
	return &plan.DropTable{Table: schema.TableOID}, nil
}

// BindCreateIndex binds a CREATE INDEX statement.
func (b *Binder) BindCreateIndex(is *pg_query.IndexStmt) (*plan.CreateIndex, error) {
	rv := is.GetRelation()
	if rv == nil {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "CREATE INDEX requires a table name"}
	}
	ns := oid.PublicNamespace
	if sch := rv.GetSchemaname(); sch != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, sch)
		if !ok {
			return nil, &BindError{Kind: ErrUnknownTable, Message: "schema \"" + sch + "\" does not exist"}
		}
		ns = resolved
	}
	schema, ok := b.cat.LookupTableByName(b.tx, ns, rv.GetRelname())
	if !ok {
		return nil, &BindError{Kind: ErrUnknownTable, Message: "relation \"" + rv.GetRelname() + "\" does not exist"}
	}

	var cols []oid.OID
	for _, p := range is.GetIndexParams() {
		name := p.GetIndexElem().GetName()
		if name == "" {
			return nil, &BindError{Kind: ErrNotImplemented, Message: "expression indexes are not supported"}
		}
		col, ok := schema.ColumnByName(name)
		if !ok {
			return nil, &BindError{Kind: ErrUnknownColumn, Message: "column \"" + name + "\" does not exist"}
		}
		cols = append(cols, col.OID)
	}

	return &plan.CreateIndex{
		Namespace: ns,
		Table:     schema.TableOID,
		Name:      is.GetIdxname(),
		Columns:   cols,
		Unique:    is.GetUnique(),
		Primary:   false,
	}, nil
}

// BindDropIndex binds a DROP INDEX statement naming exactly one index.
func (b *Binder) BindDropIndex(ds *pg_query.DropStmt) (*plan.DropIndex, error) {
	if ds.GetRemoveType() != pg_query.ObjectType_OBJECT_INDEX {
		return nil, &BindError{Kind: ErrNotImplemented, Message: "DROP statement does not target an index"}
	}
	if len(ds.GetObjects()) != 1 {
		return nil, &BindError{Kind: ErrNotImplemented, Message: "DROP INDEX only supports a single index per statement"}
	}
	ns, name := qualifiedObjectName(ds.GetObjects()[0])
	nsOID := oid.PublicNamespace
	if ns != "" {
		resolved, ok := b.cat.NamespaceByName(b.tx, ns)
		if !ok {
			return nil, &BindError{Kind: ErrUnknownTable, Message: "schema \"" + ns + "\" does not exist"}
		}
		nsOID = resolved
	}
	idxOID, ok := b.cat.IndexByName(b.tx, nsOID, name)
	if !ok {
		if ds.GetMissingOk() {
			return &plan.DropIndex{Index: oid.Invalid}, nil
		}
		return nil, &BindError{Kind: ErrUnknownTable, Message: "index \"" + name + "\" does not exist"}
	}
	return &plan.DropIndex{Index: idxOID}, nil
}

// qualifiedObjectName splits a DropStmt object name list (a List of one or
// two String parts) into (schema, name), with schema empty if unqualified.
func qualifiedObjectName(n *pg_query.Node) (string, string) {
	items := n.GetList().GetItems()
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.GetString_().GetSval()
	}
	switch len(parts) {
	case 1:
		return "", parts[0]
	case 2:
		return parts[0], parts[1]
	default:
		return "", strings.Join(parts, ".")
	}
}
