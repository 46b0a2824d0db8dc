package translator

import (
	"testing"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/exec"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/txn"
)

// fixture builds a database with table widgets(id int4, label text) and
// three committed rows.
func fixture(t *testing.T) (*catalog.Catalog, *catalog.DatabaseCatalog, *catalog.Schema) {
	t.Helper()
	cat := catalog.New(nil)
	dc, err := cat.CreateDatabase("t")
	if err != nil {
		t.Fatal(err)
	}
	tx := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx, "public")
	schema, err := dc.CreateTable(tx, public, "widgets", []catalog.ColumnSpec{
		{Name: "id", Type: oid.TypeInt4},
		{Name: "label", Type: oid.TypeText, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	seed := txn.Begin(nil)
	ctx := &Ctx{Tx: seed, Catalog: dc, Storage: cat.Registry()}
	ins := plan.Insert{Table: schema.TableOID, Input: valuesPlan(
		[]any{int64(1), "one"},
		[]any{int64(2), "two"},
		[]any{int64(3), "three"},
	)}
	op, _, err := BuildOperator(ctx, ins)
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Open(ctx); err != nil {
		t.Fatal(err)
	}
	op.Close(ctx)
	if err := seed.Commit(); err != nil {
		t.Fatal(err)
	}
	return cat, dc, schema
}

func valuesPlan(rows ...[]any) plan.Values {
	out := plan.Values{}
	for _, r := range rows {
		exprs := make([]plan.Expression, len(r))
		for i, v := range r {
			switch val := v.(type) {
			case int64:
				exprs[i] = plan.Literal{Type: oid.TypeInt4, Value: val}
			case string:
				exprs[i] = plan.Literal{Type: oid.TypeText, Value: val}
			case nil:
				exprs[i] = plan.Literal{Type: oid.TypeText, Value: nil}
			}
		}
		out.Rows = append(out.Rows, exprs)
	}
	return out
}

func colRef(schema *catalog.Schema, name string) plan.ColumnRef {
	c, _ := schema.ColumnByName(name)
	return plan.ColumnRef{Table: schema.TableOID, Column: c.OID, Type: c.Type}
}

func drain(t *testing.T, ctx *Ctx, op Operator) []ir.Tuple {
	t.Helper()
	rows, err := materialize(ctx, op)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSeqScanWithPushedPredicate(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	pred := plan.BinaryOp{Op: "<", Left: colRef(schema, "id"), Right: plan.Literal{Type: oid.TypeInt4, Value: int64(3)}}
	op, _, err := BuildOperator(ctx, plan.SeqScan{Table: schema.TableOID, Predicate: pred})
	if err != nil {
		t.Fatal(err)
	}
	rows := drain(t, ctx, op)
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
}

func TestSortAndLimit(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	node := plan.Limit{
		Input: plan.Sort{
			Input: plan.SeqScan{Table: schema.TableOID},
			Keys:  []plan.SortKey{{Expr: colRef(schema, "id"), Desc: true}},
		},
		Count: plan.Literal{Type: oid.TypeInt4, Value: int64(2)},
	}
	op, _, err := BuildOperator(ctx, node)
	if err != nil {
		t.Fatal(err)
	}
	rows := drain(t, ctx, op)
	if len(rows) != 2 || rows[0][0].Int != 3 || rows[1][0].Int != 2 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestHashAggregateCount(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	node := plan.HashAggregate{
		Input:      plan.SeqScan{Table: schema.TableOID},
		Aggregates: []plan.FuncCall{{Name: "count", ReturnType: oid.TypeInt8}},
	}
	op, _, err := BuildOperator(ctx, node)
	if err != nil {
		t.Fatal(err)
	}
	rows := drain(t, ctx, op)
	if len(rows) != 1 || rows[0][0].Int != 3 {
		t.Fatalf("count rows = %+v", rows)
	}
}

func TestUpdateRewritesRowInPlace(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	idRef := colRef(schema, "id")
	upd := plan.Update{
		Table: schema.TableOID,
		Input: plan.SeqScan{
			Table:     schema.TableOID,
			Predicate: plan.BinaryOp{Op: "=", Left: idRef, Right: plan.Literal{Type: oid.TypeInt4, Value: int64(2)}},
		},
		Assignments: []plan.Expression{idRef, plan.Literal{Type: oid.TypeText, Value: "TWO"}},
	}
	op, _, err := BuildOperator(ctx, upd)
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if got := op.(*updateOp).Affected(); got != 1 {
		t.Fatalf("affected = %d", got)
	}
	op.Close(ctx)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	check := txn.Begin(nil)
	ctx2 := &Ctx{Tx: check, Catalog: dc, Storage: cat.Registry()}
	scan, _, _ := BuildOperator(ctx2, plan.SeqScan{
		Table:     schema.TableOID,
		Predicate: plan.BinaryOp{Op: "=", Left: idRef, Right: plan.Literal{Type: oid.TypeInt4, Value: int64(2)}},
	})
	rows := drain(t, ctx2, scan)
	if len(rows) != 1 || string(rows[0][1].Bytes) != "TWO" {
		t.Fatalf("rows = %+v", rows)
	}
	// label is the assigned column and now reads TWO
}

func TestDeleteAbortLeavesRowsVisible(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	del := plan.Delete{Table: schema.TableOID, Input: plan.SeqScan{Table: schema.TableOID}}
	op, _, err := BuildOperator(ctx, del)
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if got := op.(*deleteOp).Affected(); got != 3 {
		t.Fatalf("affected = %d", got)
	}
	tx.Abort()

	check := txn.Begin(nil)
	ctx2 := &Ctx{Tx: check, Catalog: dc, Storage: cat.Registry()}
	scan, _, _ := BuildOperator(ctx2, plan.SeqScan{Table: schema.TableOID})
	if rows := drain(t, ctx2, scan); len(rows) != 3 {
		t.Fatalf("aborted delete removed rows: %d left", len(rows))
	}
}

// TestCompileFragmentShape checks the CTE-then-main fragment layout and
// that a compiled query round-trips through exec.Run.
func TestCompileFragmentShape(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	idRef := colRef(schema, "id")
	cteRef := plan.ColumnRef{Table: oid.VirtualBase, Column: oid.VirtualBase + 1, Type: oid.TypeInt4}
	q := &plan.Query{
		Root:    plan.CTEScan{CTEName: "c"},
		Columns: []plan.OutputCol{{Name: "id", Type: oid.TypeInt4}},
		Project: []plan.Expression{cteRef},
		CTEs: []plan.CTEPlan{{
			Name:    "c",
			Root:    plan.SeqScan{Table: schema.TableOID},
			Columns: []plan.OutputCol{{Name: "id", Type: oid.TypeInt4}},
			Project: []plan.Expression{idRef},
			OutRefs: []plan.ColumnRef{cteRef},
		}},
	}

	eq, err := Compile(ctx, q, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(eq.Fragments) != 2 {
		t.Fatalf("fragments = %d", len(eq.Fragments))
	}
	if eq.Fragments[0].Init == "" || len(eq.Fragments[0].TearDown) == 0 {
		t.Fatal("CTE fragment must carry init and teardown")
	}

	var got []int64
	rc := &exec.RunContext{Emit: func(tu ir.Tuple) error {
		got = append(got, tu[0].Int)
		return nil
	}}
	if err := exec.Run(rc, eq); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("emitted %d rows", len(got))
	}
}

// TestInterleavedCompilationDefersBuild checks that Interleaved mode
// builds fragment operator trees lazily at run time.
func TestInterleavedCompilationDefersBuild(t *testing.T) {
	cat, dc, schema := fixture(t)
	tx := txn.Begin(nil)
	ctx := &Ctx{Tx: tx, Catalog: dc, Storage: cat.Registry()}

	cfg := config.Default()
	cfg.Compilation = config.CompileInterleaved
	q := &plan.Query{
		Root:    plan.SeqScan{Table: schema.TableOID},
		Columns: []plan.OutputCol{{Name: "id", Type: oid.TypeInt4}},
	}
	eq, err := Compile(ctx, q, cfg)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	rc := &exec.RunContext{Emit: func(ir.Tuple) error { count++; return nil }}
	if err := exec.Run(rc, eq); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("emitted %d rows", count)
	}

	// A scan of a table with no storage object still compiles in
	// Interleaved mode; the build failure surfaces only when Run starts
	// the fragment.
	lazy, err := Compile(ctx, &plan.Query{Root: plan.SeqScan{Table: schema.TableOID + 1000}, Columns: q.Columns}, cfg)
	if err != nil {
		t.Fatalf("interleaved compile built the tree eagerly: %v", err)
	}
	if err := exec.Run(&exec.RunContext{}, lazy); err == nil {
		t.Fatal("expected the deferred build to fail at run time")
	}
}
