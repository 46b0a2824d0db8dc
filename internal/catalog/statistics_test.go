package catalog

import (
	"io"
	"testing"

	"github.com/go-faker/faker/v4"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/txn"
	"github.com/relcore/enginecore/pkg/prng"
)

// synthetic column synopsis filled by faker, with the numeric fields drawn
// from a deterministic byte stream so the fixture is reproducible.
type synopsis struct {
	MostCommon []string `faker:"slice_len=4"`
}

func randUint16(t *testing.T, r io.Reader) int64 {
	t.Helper()
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		t.Fatal(err)
	}
	return (int64(b[0])<<8 | int64(b[1])) + 1
}

func TestSetAndGetColumnStatistics(t *testing.T) {
	_, dc := newTestCatalog(t)
	tx := txn.Begin(nil)
	public, _ := dc.NamespaceByName(tx, "public")
	schema, err := dc.CreateTable(tx, public, "measurements", []ColumnSpec{
		{Name: "sensor", Type: oid.TypeInt4},
		{Name: "reading", Type: oid.TypeFloat8, Nullable: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	rnd := prng.New(42)
	for _, col := range schema.Columns {
		var syn synopsis
		if err := faker.FakeData(&syn); err != nil {
			t.Fatal(err)
		}
		dc.SetColumnStatistics(tx, StatisticRow{
			Relation:   schema.TableOID,
			Column:     col.OID,
			RowCount:   randUint16(t, rnd),
			NDistinct:  float64(randUint16(t, rnd)),
			AvgWidth:   4,
			MostCommon: syn.MostCommon,
		})
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	reader := txn.Begin(nil)
	for _, col := range schema.Columns {
		stat := dc.GetColumnStatistics(reader, schema.TableOID, col.OID)
		if stat.RowCount == 0 && stat.NDistinct == 0 {
			t.Fatalf("column %d statistics not retained: %+v", col.OID, stat)
		}
		if len(stat.MostCommon) == 0 {
			t.Fatalf("column %d most-common list empty", col.OID)
		}
	}
	if dc.GetTableStatistics(reader, schema.TableOID) == 0 {
		t.Fatal("table statistics must aggregate the column row counts")
	}
}

func TestStatisticsAbsenceYieldsStub(t *testing.T) {
	_, dc := newTestCatalog(t)
	reader := txn.Begin(nil)
	stat := dc.GetColumnStatistics(reader, 999, 1000)
	if stat.RowCount != 0 || stat.NDistinct != 0 {
		t.Fatalf("expected zero-value stub, got %+v", stat)
	}
}
