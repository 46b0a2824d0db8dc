package storage

import (
	"testing"

	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/txn"
)

func mkRow(n int32) row.Row {
	init := row.NewInitializer([]row.ColumnLayout{{ColumnID: 1, Kind: row.KindInt4}})
	b := row.NewBuilder(init)
	b.SetInt4(1, n)
	return b.Finish()
}

func TestInMemoryTableInsertSelect(t *testing.T) {
	tbl := NewInMemoryTable()
	tx := txn.Begin(nil)
	slot, err := tbl.Insert(tx, mkRow(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	reader := txn.Begin(nil)
	r, ok, err := tbl.Select(reader, slot)
	if err != nil || !ok {
		t.Fatalf("expected visible row, got ok=%v err=%v", ok, err)
	}
	if v, _ := r.GetInt4(1); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
}

func TestInMemoryTableSnapshotIsolation(t *testing.T) {
	tbl := NewInMemoryTable()
	writer := txn.Begin(nil)
	slot, err := tbl.Insert(writer, mkRow(1))
	if err != nil {
		t.Fatal(err)
	}

	// The writer sees its own uncommitted write; nobody else does.
	if _, ok, _ := tbl.Select(writer, slot); !ok {
		t.Fatal("writer must see its own write")
	}
	before := txn.Begin(nil)
	if _, ok, _ := tbl.Select(before, slot); ok {
		t.Fatal("uncommitted write visible to another transaction")
	}
	if err := writer.Commit(); err != nil {
		t.Fatal(err)
	}

	// A snapshot pinned before the commit still misses the row; one
	// started after the commit sees it.
	if _, ok, _ := tbl.Select(before, slot); ok {
		t.Fatal("snapshot predating commit must not see the row")
	}
	after := txn.Begin(nil)
	if _, ok, _ := tbl.Select(after, slot); !ok {
		t.Fatal("expected a transaction started after commit to see the row")
	}
}

func TestInMemoryTableAbortDiscardsWrites(t *testing.T) {
	tbl := NewInMemoryTable()
	seed := txn.Begin(nil)
	slot, _ := tbl.Insert(seed, mkRow(1))
	seed.Commit()

	writer := txn.Begin(nil)
	if err := tbl.Delete(writer, slot); err != nil {
		t.Fatal(err)
	}
	writer.Abort()

	after := txn.Begin(nil)
	if _, ok, _ := tbl.Select(after, slot); !ok {
		t.Fatal("aborted delete must leave the row visible")
	}
}

func TestInMemoryTableUpdateDelete(t *testing.T) {
	tbl := NewInMemoryTable()
	tx1 := txn.Begin(nil)
	slot, _ := tbl.Insert(tx1, mkRow(1))
	tx1.Commit()

	tx2 := txn.Begin(nil)
	if err := tbl.Update(tx2, slot, mkRow(2)); err != nil {
		t.Fatal(err)
	}
	tx2.Commit()

	tx3 := txn.Begin(nil)
	r, ok, _ := tbl.Select(tx3, slot)
	if !ok {
		t.Fatal("expected row visible after update")
	}
	if v, _ := r.GetInt4(1); v != 2 {
		t.Fatalf("expected updated value 2, got %d", v)
	}

	tx4 := txn.Begin(nil)
	if err := tbl.Delete(tx4, slot); err != nil {
		t.Fatal(err)
	}
	tx4.Commit()

	tx5 := txn.Begin(nil)
	if _, ok, _ := tbl.Select(tx5, slot); ok {
		t.Fatal("expected row to be invisible after delete")
	}
}

func TestInMemoryIndexUniqueConstraint(t *testing.T) {
	idx := NewInMemoryIndex(true)
	tx := txn.Begin(nil)
	key := mkRow(1)
	if err := idx.InsertUnique(tx, key, Slot(1)); err != nil {
		t.Fatal(err)
	}
	if err := idx.InsertUnique(tx, key, Slot(2)); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestInMemoryIndexDeleteDeferredUntilCommit(t *testing.T) {
	idx := NewInMemoryIndex(false)
	tx := txn.Begin(nil)
	key := mkRow(1)
	idx.Insert(tx, key, Slot(1))
	tx.Commit()

	tx2 := txn.Begin(nil)
	idx.Delete(tx2, key, Slot(1))
	if got, _ := idx.ScanKey(tx2, key); len(got) != 1 {
		t.Fatalf("expected delete to not yet be visible before commit, got %v", got)
	}
	tx2.Commit()
	if got, _ := idx.ScanKey(tx2, key); len(got) != 0 {
		t.Fatalf("expected delete to apply after commit, got %v", got)
	}
}

func TestRegistryInstallAndLookup(t *testing.T) {
	reg := NewRegistry()
	tbl := NewInMemoryTable()
	reg.InstallTable(42, tbl)
	got, ok := reg.Table(42)
	if !ok || got != Table(tbl) {
		t.Fatal("expected to retrieve installed table")
	}
	reg.Remove(42)
	if _, ok := reg.Table(42); ok {
		t.Fatal("expected table removed")
	}
}
