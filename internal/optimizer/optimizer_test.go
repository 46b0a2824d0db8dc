package optimizer

import (
	"testing"
	"time"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/txn"
)

func setup(t *testing.T) (*catalog.DatabaseCatalog, *txn.Context, *catalog.Schema) {
	t.Helper()
	cat := catalog.New(nil)
	dc, err := cat.CreateDatabase("t")
	if err != nil {
		t.Fatal(err)
	}
	tx := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx, "public")
	schema, err := dc.CreateTable(tx, public, "events", []catalog.ColumnSpec{
		{Name: "id", Type: oid.TypeInt4},
		{Name: "kind", Type: oid.TypeText, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return dc, txn.Begin(nil), schema
}

func idRef(schema *catalog.Schema) plan.ColumnRef {
	c, _ := schema.ColumnByName("id")
	return plan.ColumnRef{Table: schema.TableOID, Column: c.OID, Type: c.Type}
}

// deriveProvides re-derives provided properties bottom-up, the soundness
// check for every returned plan.
func deriveProvides(op plan.PhysicalOp) plan.PropertySet {
	for _, c := range op.Children() {
		deriveProvides(c)
	}
	return op.Provides()
}

func TestGetBecomesSeqScan(t *testing.T) {
	dc, tx, schema := setup(t)
	q, err := OptimizeQuery(dc, tx, plan.LogicalGet{Table: schema.TableOID}, nil, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Root.(plan.SeqScan); !ok {
		t.Fatalf("root = %T", q.Root)
	}
}

func TestSortRequirementEnforced(t *testing.T) {
	dc, tx, schema := setup(t)
	keys := []plan.SortKey{{Expr: idRef(schema)}}
	logical := plan.LogicalSort{Input: plan.LogicalGet{Table: schema.TableOID}, Keys: keys}

	q, err := OptimizeQuery(dc, tx, logical, nil, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	provided := deriveProvides(q.Root).Sort
	if !sortSatisfies(provided, keys) {
		t.Fatalf("plan %T does not provide required sort", q.Root)
	}
}

func TestLimitOverSortBecomesTopK(t *testing.T) {
	dc, tx, schema := setup(t)
	keys := []plan.SortKey{{Expr: idRef(schema), Desc: true}}
	logical := plan.LogicalLimit{
		Input: plan.LogicalSort{Input: plan.LogicalGet{Table: schema.TableOID}, Keys: keys},
		Count: plan.Literal{Type: oid.TypeInt4, Value: int64(5)},
	}
	q, err := OptimizeQuery(dc, tx, logical, nil, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	tk, ok := q.Root.(plan.TopK)
	if !ok {
		t.Fatalf("root = %T, want TopK", q.Root)
	}
	if !sortSatisfies(tk.Provides().Sort, keys) {
		t.Fatal("TopK must provide the pushed sort")
	}
}

func TestEqualityFilterPrefersIndexScan(t *testing.T) {
	dc, tx, schema := setup(t)
	c, _ := schema.ColumnByName("id")
	if _, err := dc.CreateIndex(tx, oid.PublicNamespace, schema.TableOID, "events_id", []oid.OID{c.OID}, false, false); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	tx2 := txn.Begin(nil)

	logical := plan.LogicalFilter{
		Input: plan.LogicalGet{Table: schema.TableOID},
		Predicate: plan.BinaryOp{
			Op:    "=",
			Left:  idRef(schema),
			Right: plan.Literal{Type: oid.TypeInt4, Value: int64(7)},
		},
	}
	q, err := OptimizeQuery(dc, tx2, logical, nil, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Root.(plan.IndexScan); !ok {
		t.Fatalf("root = %T, want IndexScan (index scan costs 10 vs seq scan 100)", q.Root)
	}
}

func TestAggregateChoosesHashWithoutSortRequirement(t *testing.T) {
	dc, tx, schema := setup(t)
	logical := plan.LogicalAggregate{
		Input:      plan.LogicalGet{Table: schema.TableOID},
		GroupBy:    []plan.Expression{idRef(schema)},
		Aggregates: []plan.FuncCall{{Name: "count", ReturnType: oid.TypeInt8}},
	}
	q, err := OptimizeQuery(dc, tx, logical, nil, nil, 1000)
	if err != nil {
		t.Fatal(err)
	}
	switch q.Root.(type) {
	case plan.HashAggregate, plan.SortGroupBy:
	default:
		t.Fatalf("root = %T", q.Root)
	}
}

func TestTimeoutStillProducesPlan(t *testing.T) {
	dc, tx, schema := setup(t)
	m := NewMemo(dc, tx, TrivialCostModel{})
	root := m.InsertLogical(plan.LogicalSort{
		Input: plan.LogicalGet{Table: schema.TableOID},
		Keys:  []plan.SortKey{{Expr: idRef(schema)}},
	})
	// An already-expired deadline forces the post-timeout completion
	// path: the loop continues until at least one complete plan exists.
	phys, err := Optimize(m, root, plan.PropertySet{}, -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if phys == nil {
		t.Fatal("expected a plan despite timeout")
	}
}

func TestCTEPlansOptimizedAlongsideMain(t *testing.T) {
	dc, tx, schema := setup(t)
	cteRef := plan.ColumnRef{Table: oid.VirtualBase, Column: oid.VirtualBase + 1, Type: oid.TypeInt4}
	ctes := []plan.LogicalCTE{{
		Name:    "c",
		Root:    plan.LogicalProject{Input: plan.LogicalGet{Table: schema.TableOID}, Exprs: []plan.Expression{idRef(schema)}},
		Columns: []plan.OutputCol{{Name: "id", Type: oid.TypeInt4}},
		OutRefs: []plan.ColumnRef{cteRef},
	}}
	q, err := OptimizeQuery(dc, tx, plan.LogicalCTEScan{CTEName: "c"}, nil, ctes, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.CTEs) != 1 || q.CTEs[0].Name != "c" {
		t.Fatalf("CTEs = %+v", q.CTEs)
	}
	if _, ok := q.CTEs[0].Root.(plan.SeqScan); !ok {
		t.Fatalf("CTE root = %T", q.CTEs[0].Root)
	}
	if len(q.CTEs[0].Project) != 1 {
		t.Fatal("CTE projection must be preserved")
	}
}
