// Package plan defines four sum types in place of a deep operator-node
// inheritance hierarchy: LogicalOp, PhysicalOp, Expression, Statement.
// Each is modeled as a Go interface implemented by one concrete struct per
// variant; "visitors become exhaustive matches" is a type switch over the
// interface, and "JSON round-trip... with a tag field equal to its
// node-type discriminant" is implemented once per layer in json.go rather
// than once per node, via a shared discriminant-peek-then-dispatch helper.
package plan

import "github.com/relcore/enginecore/internal/oid"

// Expression is the sum type over every scalar expression node a bound
// query can contain, post-binding (so every ColumnRef already carries its
// resolved table/column/type OIDs — the plan layer never re-resolves
// names).
type Expression interface {
	exprNode()
	Kind() string
}

// ColumnRef is a resolved reference to a column at some depth (0 = local,
// >0 = correlated, per the binder's scope-depth convention).
type ColumnRef struct {
	Table  oid.OID `json:"table"`
	Column oid.OID `json:"column"`
	Type   oid.OID `json:"type"`
	Depth  int     `json:"depth"`
}

func (ColumnRef) exprNode()     {}
func (ColumnRef) Kind() string  { return "column_ref" }

// Literal is a constant value of a known SQL type.
type Literal struct {
	Type  oid.OID `json:"type"`
	Value any     `json:"value"`
}

func (Literal) exprNode()    {}
func (Literal) Kind() string { return "literal" }

// Param is an unbound query parameter, typed by the binder's promotion
// pass.
type Param struct {
	Number int32   `json:"number"`
	Type   oid.OID `json:"type"`
}

func (Param) exprNode()    {}
func (Param) Kind() string { return "param" }

// BinaryOp is a two-argument operator application (comparison, arithmetic,
// AND/OR).
type BinaryOp struct {
	Op    string     `json:"op"`
	Left  Expression `json:"left"`
	Right Expression `json:"right"`
}

func (BinaryOp) exprNode()    {}
func (BinaryOp) Kind() string { return "binary_op" }

// UnaryOp is a one-argument operator application (NOT, IS NULL, unary
// minus).
type UnaryOp struct {
	Op   string     `json:"op"`
	Expr Expression `json:"expr"`
}

func (UnaryOp) exprNode()    {}
func (UnaryOp) Kind() string { return "unary_op" }

// FuncCall is a call to a built-in function or operator, resolved against
// pg_proc.
type FuncCall struct {
	Proc       oid.OID      `json:"proc"`
	Name       string       `json:"name"`
	Args       []Expression `json:"args"`
	ReturnType oid.OID      `json:"return_type"`
}

func (FuncCall) exprNode()    {}
func (FuncCall) Kind() string { return "func_call" }

// CaseWhen is one WHEN/THEN arm of a Case expression.
type CaseWhen struct {
	When Expression `json:"when"`
	Then Expression `json:"then"`
}

// Case is a CASE WHEN ... THEN ... ELSE ... END expression.
type Case struct {
	Args    []CaseWhen `json:"args"`
	Default Expression `json:"default,omitempty"`
	Type    oid.OID    `json:"type"`
}

func (Case) exprNode()    {}
func (Case) Kind() string { return "case" }

// Cast converts Expr to Type.
type Cast struct {
	Expr Expression `json:"expr"`
	Type oid.OID    `json:"type"`
}

func (Cast) exprNode()    {}
func (Cast) Kind() string { return "cast" }
