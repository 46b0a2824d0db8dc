package plan

import "github.com/relcore/enginecore/internal/oid"

// LogicalOp is the sum type over algebra-level plan nodes the optimizer's
// memo is built from: access paths are not yet chosen
// (that's PhysicalOp's job), joins are not yet ordered beyond what the
// binder produced, and there is no subquery-expression node: the binder's
// plan build rejects a subquery used as an expression, so none reaches
// this layer.
type LogicalOp interface {
	logicalNode()
	Kind() string
	Children() []LogicalOp
}

// LogicalGet reads every row of a base table, unfiltered and unordered —
// the starting point for every access-path choice the optimizer derives.
type LogicalGet struct {
	Table oid.OID `json:"table"`
}

func (LogicalGet) logicalNode()          {}
func (LogicalGet) Kind() string          { return "logical_get" }
func (LogicalGet) Children() []LogicalOp { return nil }

// LogicalFilter applies Predicate to every row its Input produces.
type LogicalFilter struct {
	Input     LogicalOp  `json:"input"`
	Predicate Expression `json:"predicate"`
}

func (n LogicalFilter) logicalNode()          {}
func (LogicalFilter) Kind() string            { return "logical_filter" }
func (n LogicalFilter) Children() []LogicalOp { return []LogicalOp{n.Input} }

// LogicalProject evaluates Exprs against each row its Input produces.
type LogicalProject struct {
	Input LogicalOp    `json:"input"`
	Exprs []Expression `json:"exprs"`
}

func (n LogicalProject) logicalNode()          {}
func (LogicalProject) Kind() string            { return "logical_project" }
func (n LogicalProject) Children() []LogicalOp { return []LogicalOp{n.Input} }

// JoinKind distinguishes the join semantics a LogicalJoin implements.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full"
	JoinSemi  JoinKind = "semi"
	JoinAnti  JoinKind = "anti"
)

// LogicalJoin combines Left and Right rows satisfying Condition. The
// optimizer keeps the join order the binder produced and does not reorder
// joins; the binder only ever emits a left-deep chain of binary LogicalJoins.
type LogicalJoin struct {
	JoinType  JoinKind   `json:"join_kind"`
	Left      LogicalOp  `json:"left"`
	Right     LogicalOp  `json:"right"`
	Condition Expression `json:"condition"`
}

func (n LogicalJoin) logicalNode()          {}
func (LogicalJoin) Kind() string            { return "logical_join" }
func (n LogicalJoin) Children() []LogicalOp { return []LogicalOp{n.Left, n.Right} }

// LogicalAggregate groups Input's rows by GroupBy and evaluates Aggregates
// per group.
type LogicalAggregate struct {
	Input      LogicalOp    `json:"input"`
	GroupBy    []Expression `json:"group_by"`
	Aggregates []FuncCall   `json:"aggregates"`
}

func (n LogicalAggregate) logicalNode()          {}
func (LogicalAggregate) Kind() string            { return "logical_aggregate" }
func (n LogicalAggregate) Children() []LogicalOp { return []LogicalOp{n.Input} }

// SortKey is one ORDER BY / GROUP BY ordering column.
type SortKey struct {
	Expr Expression `json:"expr"`
	Desc bool       `json:"desc"`
}

// LogicalSort orders Input's rows by Keys.
type LogicalSort struct {
	Input LogicalOp `json:"input"`
	Keys  []SortKey `json:"keys"`
}

func (n LogicalSort) logicalNode()          {}
func (LogicalSort) Kind() string            { return "logical_sort" }
func (n LogicalSort) Children() []LogicalOp { return []LogicalOp{n.Input} }

// LogicalLimit caps Input's output at Count rows after skipping Offset.
type LogicalLimit struct {
	Input  LogicalOp  `json:"input"`
	Count  Expression `json:"count,omitempty"`
	Offset Expression `json:"offset,omitempty"`
}

func (n LogicalLimit) logicalNode()          {}
func (LogicalLimit) Kind() string            { return "logical_limit" }
func (n LogicalLimit) Children() []LogicalOp { return []LogicalOp{n.Input} }

// LogicalCTEScan reads the materialized output of a previously bound,
// non-recursive CTE.
type LogicalCTEScan struct {
	CTEName string `json:"cte_name"`
}

func (LogicalCTEScan) logicalNode()          {}
func (LogicalCTEScan) Kind() string          { return "logical_cte_scan" }
func (LogicalCTEScan) Children() []LogicalOp { return nil }

// LogicalValues is a constant row source: each entry of Rows is one tuple's
// worth of column expressions, evaluated once with no underlying table. It
// is the binder's translation of an INSERT ... VALUES list,
// the one LogicalOp the binder builds without going through a table scope.
type LogicalValues struct {
	Rows [][]Expression `json:"rows"`
}

func (LogicalValues) logicalNode()          {}
func (LogicalValues) Kind() string          { return "logical_values" }
func (LogicalValues) Children() []LogicalOp { return nil }

// LogicalInsert writes Input's rows into Table.
type LogicalInsert struct {
	Table oid.OID   `json:"table"`
	Input LogicalOp `json:"input"`
}

func (n LogicalInsert) logicalNode()          {}
func (LogicalInsert) Kind() string            { return "logical_insert" }
func (n LogicalInsert) Children() []LogicalOp { return []LogicalOp{n.Input} }

// LogicalUpdate applies Assignments to every row Input produces from
// Table.
type LogicalUpdate struct {
	Table       oid.OID      `json:"table"`
	Input       LogicalOp    `json:"input"`
	Assignments []Expression `json:"assignments"`
}

func (n LogicalUpdate) logicalNode()          {}
func (LogicalUpdate) Kind() string            { return "logical_update" }
func (n LogicalUpdate) Children() []LogicalOp { return []LogicalOp{n.Input} }

// LogicalDelete removes every row Input produces from Table.
type LogicalDelete struct {
	Table oid.OID   `json:"table"`
	Input LogicalOp `json:"input"`
}

func (n LogicalDelete) logicalNode()          {}
func (LogicalDelete) Kind() string            { return "logical_delete" }
func (n LogicalDelete) Children() []LogicalOp { return []LogicalOp{n.Input} }
