package cache

import (
	"fmt"
	"testing"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/plan"
)

func boundStatement(sql string, refs ...oid.OID) *Statement {
	res, _ := parser.Parse(sql)
	return &Statement{
		SQL:     sql,
		Parse:   res,
		Logical: plan.LogicalGet{Table: refs[0]},
		Plan:    &plan.Query{Root: plan.SeqScan{Table: refs[0]}},
		Refs:    refs,
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New(4)
	st := boundStatement("SELECT a1 FROM a", 100)
	c.Put(st)
	got, ok := c.Get("SELECT a1 FROM a")
	if !ok || got != st {
		t.Fatal("expected cache hit with identity")
	}
	if _, ok := c.Get("select a1 from a"); ok {
		t.Fatal("keying must be bitwise, not case-folded")
	}
}

func TestInvalidateOIDsClearsPlanKeepsParse(t *testing.T) {
	c := New(4)
	st := boundStatement("SELECT a1 FROM a", 100)
	c.Put(st)

	if n := c.InvalidateOIDs(999); n != 0 {
		t.Fatalf("unrelated OID invalidated %d statements", n)
	}
	if n := c.InvalidateOIDs(100); n != 1 {
		t.Fatalf("invalidated %d statements, want 1", n)
	}

	got, ok := c.Get("SELECT a1 FROM a")
	if !ok {
		t.Fatal("entry must survive invalidation")
	}
	if got.Bound() || got.Logical != nil || got.Exec != nil {
		t.Fatal("plan must be cleared")
	}
	if got.Parse == nil {
		t.Fatal("parse result must be retained")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	a := boundStatement("SELECT 1", 1)
	b := boundStatement("SELECT 2", 2)
	c.Put(a)
	c.Put(b)
	c.Get("SELECT 1") // a is now most recently used
	c.Put(boundStatement("SELECT 3", 3))

	if _, ok := c.Get("SELECT 2"); ok {
		t.Fatal("least recently used entry must be evicted")
	}
	if _, ok := c.Get("SELECT 1"); !ok {
		t.Fatal("recently used entry must survive")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestBoundedCapacity(t *testing.T) {
	c := New(8)
	for i := 0; i < 50; i++ {
		c.Put(boundStatement(fmt.Sprintf("SELECT %d", i), oid.OID(i+1)))
	}
	if c.Len() != 8 {
		t.Fatalf("len = %d, want 8", c.Len())
	}
}
