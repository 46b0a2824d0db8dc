package catalog

import (
	"testing"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/txn"
)

func newTestCatalog(t *testing.T) (*Catalog, *DatabaseCatalog) {
	t.Helper()
	cat := New(nil)
	dc, err := cat.CreateDatabase("testdb")
	if err != nil {
		t.Fatal(err)
	}
	return cat, dc
}

func TestCreateDatabaseSeedsBuiltins(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx := txn.Begin(nil)
	if _, ok := dc.NamespaceByName(tx, "public"); !ok {
		t.Fatal("expected public namespace to be seeded")
	}
	if _, ok := dc.TypeByName(tx, "int4"); !ok {
		t.Fatal("expected int4 builtin type to be seeded")
	}
}

func TestCreateTableVisibleAfterCommit(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx, "public")
	intOID, _ := dc.TypeByName(tx, "int4")

	schema, err := dc.CreateTable(tx, public, "widgets", []ColumnSpec{
		{Name: "id", Type: intOID, Nullable: false},
		{Name: "count", Type: intOID, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(schema.Columns))
	}

	// Not yet visible to a transaction that started before this one commits.
	other := txn.Begin(nil)
	if _, ok := dc.LookupTableByName(other, public, "widgets"); ok {
		t.Fatal("expected table not yet visible before commit")
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	after := txn.Begin(nil)
	got, ok := dc.LookupTableByName(after, public, "widgets")
	if !ok {
		t.Fatal("expected table visible after commit")
	}
	if len(got.Columns) != 2 || got.Columns[0].Name != "id" || got.Columns[1].Name != "count" {
		t.Fatalf("unexpected schema: %+v", got.Columns)
	}
}

func TestCreateTableSerializesOnDDLLock(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx1 := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx1, "public")
	intOID, _ := dc.TypeByName(tx1, "int4")

	if _, err := dc.CreateTable(tx1, public, "a", []ColumnSpec{{Name: "id", Type: intOID}}); err != nil {
		t.Fatal(err)
	}

	tx2 := txn.Begin(nil)
	if _, err := dc.CreateTable(tx2, public, "b", []ColumnSpec{{Name: "id", Type: intOID}}); err == nil {
		t.Fatal("expected second concurrent CreateTable to fail to acquire the DDL lock")
	}

	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}

	tx3 := txn.Begin(nil)
	if _, err := dc.CreateTable(tx3, public, "b", []ColumnSpec{{Name: "id", Type: intOID}}); err != nil {
		t.Fatalf("expected CreateTable to succeed once the lock is released, got %v", err)
	}
}

func TestDropTableRemovesFromCatalogAndRegistry(t *testing.T) {
	cat, dc := newTestCatalog(t)
	tx1 := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx1, "public")
	intOID, _ := dc.TypeByName(tx1, "int4")
	schema, _ := dc.CreateTable(tx1, public, "gone", []ColumnSpec{{Name: "id", Type: intOID}})
	tx1.Commit()

	if _, ok := cat.Registry().Table(schema.TableOID); !ok {
		t.Fatal("expected table installed in registry after commit")
	}

	tx2 := txn.Begin(nil)
	if err := dc.DropTable(tx2, schema.TableOID); err != nil {
		t.Fatal(err)
	}
	tx2.Commit()

	tx3 := txn.Begin(nil)
	if _, ok := dc.LookupTableByName(tx3, public, "gone"); ok {
		t.Fatal("expected table gone from catalog after drop commits")
	}
	if _, ok := cat.Registry().Table(schema.TableOID); ok {
		t.Fatal("expected table removed from registry after drop commits")
	}
}

func TestCreateIndexInstallsIndexKV(t *testing.T) {
	cat, dc := newTestCatalog(t)
	tx1 := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx1, "public")
	intOID, _ := dc.TypeByName(tx1, "int4")
	schema, _ := dc.CreateTable(tx1, public, "idx_target", []ColumnSpec{{Name: "id", Type: intOID}})
	tx1.Commit()

	tx2 := txn.Begin(nil)
	idOID := schema.Columns[0].OID
	indexOID, err := dc.CreateIndex(tx2, public, schema.TableOID, "idx_target_pkey", []oid.OID{idOID}, true, true)
	if err != nil {
		t.Fatal(err)
	}
	tx2.Commit()

	if _, ok := cat.Registry().Index(indexOID); !ok {
		t.Fatal("expected index installed in registry after commit")
	}
}

func TestUpdateSchemaBumpsColumns(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx1 := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx1, "public")
	intOID, _ := dc.TypeByName(tx1, "int4")
	schema, _ := dc.CreateTable(tx1, public, "evolve", []ColumnSpec{{Name: "id", Type: intOID}})
	tx1.Commit()

	tx2 := txn.Begin(nil)
	newSchema, err := dc.UpdateSchema(tx2, schema.TableOID, []ColumnSpec{
		{Name: "id", Type: intOID},
		{Name: "added", Type: intOID, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	tx2.Commit()

	tx3 := txn.Begin(nil)
	got, _ := dc.LookupTableByName(tx3, public, "evolve")
	if len(got.Columns) != 2 {
		t.Fatalf("expected schema update visible after commit, got %d columns", len(got.Columns))
	}
	if len(newSchema.Columns) != 2 {
		t.Fatalf("expected 2 columns in returned schema, got %d", len(newSchema.Columns))
	}
}

func TestGetColumnStatisticsDefaultsWhenAbsent(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx := txn.Begin(nil)
	stat := dc.GetColumnStatistics(tx, oid.OID(99999), oid.OID(1))
	if stat.RowCount != 0 || stat.NDistinct != 0 {
		t.Fatalf("expected zero-value stub for absent statistics, got %+v", stat)
	}
}
