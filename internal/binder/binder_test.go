package binder

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/txn"
)

func setupCatalog(t *testing.T) (*catalog.DatabaseCatalog, *txn.Context) {
	t.Helper()
	cat := catalog.New(nil)
	dc, err := cat.CreateDatabase("test")
	if err != nil {
		t.Fatal(err)
	}
	tx := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx, "public")
	intOID, _ := dc.TypeByName(tx, "int4")
	textOID, _ := dc.TypeByName(tx, "text")

	if _, err := dc.CreateTable(tx, public, "widgets", []catalog.ColumnSpec{
		{Name: "id", Type: intOID},
		{Name: "name", Type: textOID, Nullable: true},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := dc.CreateTable(tx, public, "orders", []catalog.ColumnSpec{
		{Name: "id", Type: intOID},
		{Name: "widget_id", Type: intOID},
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	reader := txn.Begin(nil)
	return dc, reader
}

func parseSelect(t *testing.T, sql string) *pg_query.SelectStmt {
	t.Helper()
	res, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	if len(res.Statements) != 1 {
		t.Fatalf("expected 1 statement in %q", sql)
	}
	sel := res.Statements[0].Node.GetSelectStmt()
	if sel == nil {
		t.Fatalf("expected SELECT in %q", sql)
	}
	return sel
}

func TestBindSimpleSelect(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id, name FROM widgets WHERE id = 1")

	b := New(nil, dc, tx)
	bound, err := b.BindSelect(sel)
	if err != nil {
		t.Fatal(err)
	}
	if len(bound.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(bound.Targets))
	}
	if bound.Targets[0].Name != "id" || bound.Targets[1].Name != "name" {
		t.Fatalf("unexpected target names: %+v", bound.Targets)
	}
}

func TestBindUnknownColumnErrors(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT nonexistent FROM widgets")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestBindAmbiguousColumnErrors(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets, orders")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected ambiguous column error")
	}
}

func TestBindQualifiedColumnResolvesAmbiguity(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT widgets.id FROM widgets, orders")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err != nil {
		t.Fatal(err)
	}
}

func TestBindDuplicateAliasErrors(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT 1 FROM widgets w, orders w")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected duplicate alias error")
	}
}

func TestBindUnknownTableErrors(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT 1 FROM nonexistent_table")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected unknown table error")
	}
}

func TestBindJoinResolvesBothSides(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT widgets.id, orders.id FROM widgets JOIN orders ON widgets.id = orders.widget_id")

	b := New(nil, dc, tx)
	bound, err := b.BindSelect(sel)
	if err != nil {
		t.Fatal(err)
	}
	if len(bound.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(bound.Targets))
	}
}

func TestBindStarExpandsAllColumns(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT * FROM widgets")

	b := New(nil, dc, tx)
	bound, err := b.BindSelect(sel)
	if err != nil {
		t.Fatal(err)
	}
	if len(bound.Targets) != 2 {
		t.Fatalf("expected 2 targets from *, got %d", len(bound.Targets))
	}
}

func TestBindParamPromotion(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets WHERE id = $1")

	b := New(nil, dc, tx)
	bound, err := b.BindSelect(sel)
	if err != nil {
		t.Fatal(err)
	}
	intOID, _ := dc.TypeByName(tx, "int4")
	if got := bound.ParamTypes[1]; got != intOID {
		t.Fatalf("expected param $1 typed as int4 (%d), got %d", intOID, got)
	}
}

func TestBindRecursiveCTERejected(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "WITH RECURSIVE r AS (SELECT id FROM widgets) SELECT id FROM r")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected recursive CTE to be rejected")
	}
}

func TestBindNonRecursiveCTE(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "WITH r AS (SELECT id FROM widgets) SELECT id FROM r")

	b := New(nil, dc, tx)
	bound, err := b.BindSelect(sel)
	if err != nil {
		t.Fatal(err)
	}
	if len(bound.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(bound.Targets))
	}
}

func TestWidenPromotesToWiderNumericType(t *testing.T) {
	if got := widen(oid.TypeInt4, oid.TypeInt8); got != oid.TypeInt8 {
		t.Fatalf("expected widen(int4, int8) = int8, got %d", got)
	}
	if got := widen(oid.TypeInt8, oid.TypeInt4); got != oid.TypeInt8 {
		t.Fatalf("expected widen(int8, int4) = int8, got %d", got)
	}
}

func TestBindWhereRejectsAggregates(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets WHERE count(id) > 1")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected aggregate-in-WHERE to be rejected")
	}
}

func TestBindWhereRejectsNonBooleanConstant(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets WHERE 1")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err == nil {
		t.Fatal("expected non-boolean constant WHERE to be rejected")
	}
}

func TestBindWhereAllowsBooleanConstant(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets WHERE true")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err != nil {
		t.Fatal(err)
	}
}

func TestBindCorrelatedSubqueryDepth(t *testing.T) {
	dc, tx := setupCatalog(t)
	sel := parseSelect(t, "SELECT id FROM widgets w WHERE id = (SELECT widget_id FROM orders WHERE orders.id = w.id)")

	b := New(nil, dc, tx)
	if _, err := b.BindSelect(sel); err != nil {
		t.Fatalf("correlated subquery must bind: %v", err)
	}
}
