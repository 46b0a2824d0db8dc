package plan

import "github.com/relcore/enginecore/internal/oid"

// Statement is the sum type over top-level executable statements: either a
// DML/query statement rooted at a PhysicalOp, a DDL operation against the
// catalog, or a transaction-control directive.
type Statement interface {
	stmtNode()
	Kind() string
}

// Query wraps a SELECT/INSERT/UPDATE/DELETE's chosen physical plan, the
// output column list a RowDescription is built from, and (for a SELECT) the
// final projection expressions evaluated against Root's output to produce
// each result row. The top-level projection is not a Project node in the
// tree: it is carried here and evaluated once per row by the translator's
// last compiled step.
// Project is empty for a bare DML statement (Insert/Update/Delete as Root),
// whose row shape is whatever the sink itself produces for RETURNING.
type Query struct {
	Root    PhysicalOp   `json:"root"`
	Columns []OutputCol  `json:"columns"`
	Project []Expression `json:"project,omitempty"`
	CTEs    []CTEPlan    `json:"ctes,omitempty"`
}

// CTEPlan is one WITH clause entry's chosen physical plan, materialized
// before the main Root runs; a CTEScan in Root (or in a later CTEPlan)
// reads it back by name.
type CTEPlan struct {
	Name    string       `json:"name"`
	Root    PhysicalOp   `json:"root"`
	Columns []OutputCol  `json:"columns"`
	Project []Expression `json:"project,omitempty"`
	OutRefs []ColumnRef  `json:"out_refs,omitempty"`
}

// LogicalCTE is the pre-optimization counterpart of CTEPlan: the bound
// logical plan of one WITH entry (or one FROM subselect, which
// materializes the same way), plus the virtual column refs enclosing
// scopes resolve against.
type LogicalCTE struct {
	Name    string      `json:"name"`
	Root    LogicalOp   `json:"root"`
	Columns []OutputCol `json:"columns"`
	OutRefs []ColumnRef `json:"out_refs,omitempty"`
}

func (Query) stmtNode()    {}
func (Query) Kind() string { return "query" }

// OutputCol names one column of a Query's result set, for the wire
// protocol's RowDescription.
type OutputCol struct {
	Name string  `json:"name"`
	Type oid.OID `json:"type"`
}

// CreateTable is a bound CREATE TABLE statement, ready for the catalog.
type CreateTable struct {
	Namespace oid.OID            `json:"namespace"`
	Name      string             `json:"name"`
	Columns   []CreateTableColumn `json:"columns"`
}

func (CreateTable) stmtNode()    {}
func (CreateTable) Kind() string { return "create_table" }

// CreateTableColumn is one column of a CreateTable statement before OID
// assignment.
type CreateTableColumn struct {
	Name       string  `json:"name"`
	Type       oid.OID `json:"type"`
	Nullable   bool    `json:"nullable"`
	DefaultSQL string  `json:"default_sql,omitempty"`
}

// DropTable is a bound DROP TABLE statement.
type DropTable struct {
	Table oid.OID `json:"table"`
}

func (DropTable) stmtNode()    {}
func (DropTable) Kind() string { return "drop_table" }

// CreateIndex is a bound CREATE INDEX statement.
type CreateIndex struct {
	Namespace oid.OID   `json:"namespace"`
	Table     oid.OID   `json:"table"`
	Name      string    `json:"name"`
	Columns   []oid.OID `json:"columns"`
	Unique    bool      `json:"unique"`
	Primary   bool      `json:"primary"`
}

func (CreateIndex) stmtNode()    {}
func (CreateIndex) Kind() string { return "create_index" }

// DropIndex is a bound DROP INDEX statement.
type DropIndex struct {
	Index oid.OID `json:"index"`
}

func (DropIndex) stmtNode()    {}
func (DropIndex) Kind() string { return "drop_index" }

// Begin/Commit/Rollback are transaction-control statements; they carry no
// payload beyond their kind.
type Begin struct{}

func (Begin) stmtNode()    {}
func (Begin) Kind() string { return "begin" }

type Commit struct{}

func (Commit) stmtNode()    {}
func (Commit) Kind() string { return "commit" }

type Rollback struct{}

func (Rollback) stmtNode()    {}
func (Rollback) Kind() string { return "rollback" }
