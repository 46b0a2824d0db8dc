package plan

import "github.com/relcore/enginecore/internal/oid"

// PropertySet is the unordered set of required/provided output properties
// a PhysicalOp participates in the optimizer's property-derivation pass
// with. There is exactly one property today: Sort.
type PropertySet struct {
	Sort []SortKey `json:"sort,omitempty"`
}

// PhysicalOp is the sum type over executable access paths and algorithms
// the optimizer chooses between for a given LogicalOp.
type PhysicalOp interface {
	physicalNode()
	Kind() string
	Children() []PhysicalOp
	Provides() PropertySet
}

// SeqScan reads every row of Table in storage order. Provides no sort
// order.
type SeqScan struct {
	Table     oid.OID    `json:"table"`
	Predicate Expression `json:"predicate,omitempty"`
}

func (SeqScan) physicalNode()         {}
func (SeqScan) Kind() string          { return "seq_scan" }
func (SeqScan) Children() []PhysicalOp { return nil }
func (SeqScan) Provides() PropertySet  { return PropertySet{} }

// IndexScan reads Table through Index over [Low, High] and provides
// ProvidedSort as its order. The optimizer only builds point lookups
// (Low == High) and never sets ProvidedSort, so an IndexScan it chooses
// provides no sort order.
type IndexScan struct {
	Table        oid.OID    `json:"table"`
	Index        oid.OID    `json:"index"`
	Low          Expression `json:"low,omitempty"`
	High         Expression `json:"high,omitempty"`
	ProvidedSort []SortKey  `json:"provided_sort,omitempty"`
}

func (IndexScan) physicalNode()          {}
func (IndexScan) Kind() string           { return "index_scan" }
func (IndexScan) Children() []PhysicalOp { return nil }
func (n IndexScan) Provides() PropertySet { return PropertySet{Sort: n.ProvidedSort} }

// HashJoin builds a hash table over Build's output keyed by BuildKeys and
// probes it with Probe's output keyed by ProbeKeys.
type HashJoin struct {
	JoinType  JoinKind     `json:"join_kind"`
	Build     PhysicalOp   `json:"build"`
	Probe     PhysicalOp   `json:"probe"`
	BuildKeys []Expression `json:"build_keys"`
	ProbeKeys []Expression `json:"probe_keys"`
	Residual  Expression   `json:"residual,omitempty"`
}

func (HashJoin) physicalNode() {}
func (HashJoin) Kind() string  { return "hash_join" }
func (n HashJoin) Children() []PhysicalOp { return []PhysicalOp{n.Build, n.Probe} }

// Provides passes through the probe side's sort iff every sort column
// references only the probe side's table aliases. The optimizer is
// responsible for only building a HashJoin over a Probe side whose
// provided sort actually qualifies; Provides just surfaces it.
func (n HashJoin) Provides() PropertySet { return PropertySet{Sort: n.Probe.Provides().Sort} }

// NLJoin nested-loop joins Outer against Inner, re-evaluating Inner once
// per outer row.
type NLJoin struct {
	JoinType JoinKind   `json:"join_kind"`
	Outer    PhysicalOp `json:"outer"`
	Inner    PhysicalOp `json:"inner"`
	Cond     Expression `json:"cond,omitempty"`
}

func (NLJoin) physicalNode()          {}
func (NLJoin) Kind() string           { return "nl_join" }
func (n NLJoin) Children() []PhysicalOp { return []PhysicalOp{n.Outer, n.Inner} }
func (n NLJoin) Provides() PropertySet  { return n.Inner.Provides() }

// IndexNLJoin nested-loop joins Outer against an index probe on Inner's
// table for each outer row.
type IndexNLJoin struct {
	Outer      PhysicalOp `json:"outer"`
	InnerTable oid.OID    `json:"inner_table"`
	InnerIndex oid.OID    `json:"inner_index"`
	ProbeKey   Expression `json:"probe_key"`
}

func (IndexNLJoin) physicalNode()          {}
func (IndexNLJoin) Kind() string           { return "index_nl_join" }
func (n IndexNLJoin) Children() []PhysicalOp { return []PhysicalOp{n.Outer} }
func (IndexNLJoin) Provides() PropertySet    { return PropertySet{} }

// HashAggregate groups Input's rows via an in-memory hash table.
type HashAggregate struct {
	Input      PhysicalOp   `json:"input"`
	GroupBy    []Expression `json:"group_by"`
	Aggregates []FuncCall   `json:"aggregates"`
}

func (HashAggregate) physicalNode()          {}
func (HashAggregate) Kind() string           { return "hash_aggregate" }
func (n HashAggregate) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (HashAggregate) Provides() PropertySet    { return PropertySet{} }

// SortGroupBy groups Input's rows assuming Input is already sorted on
// GroupBy ascending.
type SortGroupBy struct {
	Input      PhysicalOp   `json:"input"`
	GroupBy    []Expression `json:"group_by"`
	Aggregates []FuncCall   `json:"aggregates"`
}

func (SortGroupBy) physicalNode() {}
func (SortGroupBy) Kind() string  { return "sort_group_by" }
func (n SortGroupBy) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (n SortGroupBy) Provides() PropertySet {
	keys := make([]SortKey, len(n.GroupBy))
	for i, e := range n.GroupBy {
		keys[i] = SortKey{Expr: e, Desc: false}
	}
	return PropertySet{Sort: keys}
}

// Sort fully sorts Input's rows by Keys using an in-memory sorter.
type Sort struct {
	Input PhysicalOp `json:"input"`
	Keys  []SortKey  `json:"keys"`
}

func (Sort) physicalNode()          {}
func (Sort) Kind() string           { return "sort" }
func (n Sort) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (n Sort) Provides() PropertySet  { return PropertySet{Sort: n.Keys} }

// TopK sorts its input and keeps the first Count rows, used when a Limit
// with no Offset sits directly atop a Sort.
type TopK struct {
	Input PhysicalOp `json:"input"`
	Keys  []SortKey  `json:"keys"`
	Count Expression `json:"count"`
}

func (TopK) physicalNode()          {}
func (TopK) Kind() string           { return "top_k" }
func (n TopK) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (n TopK) Provides() PropertySet  { return PropertySet{Sort: n.Keys} }

// Limit passes through Input's first Count rows after Offset, without
// imposing an order of its own.
type Limit struct {
	Input  PhysicalOp `json:"input"`
	Count  Expression `json:"count,omitempty"`
	Offset Expression `json:"offset,omitempty"`
}

func (Limit) physicalNode()          {}
func (Limit) Kind() string           { return "limit" }
func (n Limit) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (n Limit) Provides() PropertySet  { return n.Input.Provides() }

// Filter applies Predicate to every row Input produces, passing through
// Input's provided properties unchanged. A predicate sitting immediately
// atop a SeqScan is folded onto the SeqScan node itself; Filter covers the
// remaining cases, such as the residual conjuncts over an IndexScan point
// lookup or a predicate above a join, aggregate, or other multi-child
// operator, evaluated per tuple.
type Filter struct {
	Input     PhysicalOp `json:"input"`
	Predicate Expression `json:"predicate"`
}

func (Filter) physicalNode()          {}
func (Filter) Kind() string           { return "filter" }
func (n Filter) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (n Filter) Provides() PropertySet  { return n.Input.Provides() }

// Project evaluates Exprs against each row Input produces. The top-level
// SELECT-list projection is carried on Query.Project instead; this node
// covers interior projections such as an INSERT ... SELECT row source (a
// CTE body's top-level projection is carried on CTEPlan.Project).
type Project struct {
	Input PhysicalOp   `json:"input"`
	Exprs []Expression `json:"exprs"`
}

func (Project) physicalNode()          {}
func (Project) Kind() string           { return "project" }
func (n Project) Children() []PhysicalOp { return []PhysicalOp{n.Input} }

// Provides is empty: projection renumbers columns, so an input ordering
// over (table, column) refs no longer describes the output positions.
func (Project) Provides() PropertySet { return PropertySet{} }

// CTEScan reads a materialized, previously executed CTE's buffered output.
type CTEScan struct {
	CTEName string `json:"cte_name"`
}

func (CTEScan) physicalNode()          {}
func (CTEScan) Kind() string           { return "cte_scan" }
func (CTEScan) Children() []PhysicalOp { return nil }
func (CTEScan) Provides() PropertySet  { return PropertySet{} }

// CSVScan reads rows from an external CSV source, used by the testutil
// fixture loader rather than any SQL surface.
type CSVScan struct {
	Path    string    `json:"path"`
	Columns []oid.OID `json:"columns"`
}

func (CSVScan) physicalNode()          {}
func (CSVScan) Kind() string           { return "csv_scan" }
func (CSVScan) Children() []PhysicalOp { return nil }
func (CSVScan) Provides() PropertySet  { return PropertySet{} }

// Values is the physical counterpart of LogicalValues: it hands back Rows
// verbatim with no access path of its own, feeding Insert directly.
type Values struct {
	Rows [][]Expression `json:"rows"`
}

func (Values) physicalNode()          {}
func (Values) Kind() string           { return "values" }
func (Values) Children() []PhysicalOp { return nil }
func (Values) Provides() PropertySet  { return PropertySet{} }

// Insert is the DML sink writing Input's rows into Table and every index
// covering it ("Sequential-only operators (e.g., Insert)
// reject parallelism with an unreachable contract").
type Insert struct {
	Table   oid.OID    `json:"table"`
	Indexes []oid.OID  `json:"indexes"`
	Input   PhysicalOp `json:"input"`
}

func (Insert) physicalNode()          {}
func (Insert) Kind() string           { return "insert" }
func (n Insert) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (Insert) Provides() PropertySet    { return PropertySet{} }

// Update is the DML sink applying Assignments to every row Input produces
// from Table.
type Update struct {
	Table       oid.OID      `json:"table"`
	Indexes     []oid.OID    `json:"indexes"`
	Input       PhysicalOp   `json:"input"`
	Assignments []Expression `json:"assignments"`
}

func (Update) physicalNode()          {}
func (Update) Kind() string           { return "update" }
func (n Update) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (Update) Provides() PropertySet    { return PropertySet{} }

// Delete is the DML sink removing every row Input produces from Table.
type Delete struct {
	Table   oid.OID    `json:"table"`
	Indexes []oid.OID  `json:"indexes"`
	Input   PhysicalOp `json:"input"`
}

func (Delete) physicalNode()          {}
func (Delete) Kind() string           { return "delete" }
func (n Delete) Children() []PhysicalOp { return []PhysicalOp{n.Input} }
func (Delete) Provides() PropertySet    { return PropertySet{} }
