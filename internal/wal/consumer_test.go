package wal

import (
	"testing"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/catalog"
)

func TestRecoveryRewindsAllocators(t *testing.T) {
	cat := catalog.New(nil)
	dc, err := cat.CreateDatabase("r")
	if err != nil {
		t.Fatal(err)
	}
	c := &Consumer{Alloc: dc, Log: zap.NewNop()}

	c.OnMessage([]byte(`{"commit_ts": 40, "database": 1, "oids": [{"kind": "class", "oid": 500}, {"kind": "column", "oid": 900}]}`))
	c.OnMessage([]byte(`{"commit_ts": 55, "database": 1, "oids": [{"kind": "class", "oid": 120}]}`))

	alloc, ok := dc.AllocatorFor("class")
	if !ok {
		t.Fatal("class allocator missing")
	}
	// The counter resumes past the max observed OID, even though a later
	// record carried a smaller one.
	if next := alloc.Next(); next <= 500 {
		t.Fatalf("next class OID = %d, want > 500", next)
	}
	colAlloc, _ := dc.AllocatorFor("column")
	if next := colAlloc.Next(); next <= 900 {
		t.Fatalf("next column OID = %d, want > 900", next)
	}

	if c.Watermark() != 55 {
		t.Fatalf("watermark = %d", c.Watermark())
	}
	if c.Records() != 2 {
		t.Fatalf("records = %d", c.Records())
	}
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	cat := catalog.New(nil)
	dc, _ := cat.CreateDatabase("r2")
	c := &Consumer{Alloc: dc, Log: zap.NewNop()}
	c.OnMessage([]byte(`{not json`))
	c.OnMessage([]byte(`{"commit_ts": 7, "oids": [{"kind": "nonsense", "oid": 3}]}`))
	if c.Records() != 1 {
		t.Fatalf("records = %d", c.Records())
	}
	if _, ok := dc.AllocatorFor("nonsense"); ok {
		t.Fatal("unknown kind must not resolve")
	}
}

var _ Allocators = (*catalog.DatabaseCatalog)(nil)
