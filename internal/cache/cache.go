// Package cache is the per-connection statement cache: query text maps (bitwise) to a Statement holding the parse result, the
// parameter types, the bound logical plan, and the compiled executable.
// DDL that touches a referenced object clears the plan and executable but
// keeps the parse result, so the next Bind re-plans without re-parsing.
package cache

import (
	"sync"

	"github.com/relcore/enginecore/internal/exec"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/plan"
)

// Statement is one cached compilation artifact chain. Fields past Parse
// are filled lazily as the statement moves through bind and execute, and
// zeroed again on invalidation.
type Statement struct {
	SQL        string
	Parse      *parser.Result
	ParamTypes []oid.OID

	// Bound/compiled state, cleared by Invalidate.
	Logical plan.LogicalOp
	CTEs    []plan.LogicalCTE
	Plan    *plan.Query
	Exec    *exec.ExecutableQuery
	Columns []plan.OutputCol

	// Refs lists every catalog OID the bound plan touches, so DDL
	// invalidation can match affected statements.
	Refs []oid.OID
}

// invalidate drops the bound plan and executable, retaining the parse
// result.
func (s *Statement) invalidate() {
	s.Logical = nil
	s.CTEs = nil
	s.Plan = nil
	s.Exec = nil
	s.Refs = nil
}

// Bound reports whether the statement currently holds a usable plan.
func (s *Statement) Bound() bool { return s.Plan != nil }

type entry struct {
	stmt *Statement
	used uint64
}

// StatementCache maps query text to compiled statements with bounded,
// LRU-style capacity. It is owned by one connection's protocol state and
// never shared, but stays internally locked the same way the
// registry it grew out of was, since the admin sideband may snapshot it
// from another goroutine.
type StatementCache struct {
	mu       sync.RWMutex
	capacity int
	clock    uint64
	data     map[string]*entry
}

// DefaultCapacity bounds a connection's cache when the caller passes 0.
const DefaultCapacity = 64

func New(capacity int) *StatementCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &StatementCache{capacity: capacity, data: make(map[string]*entry)}
}

// Get returns the cached Statement for sql, if any, marking it
// most-recently used.
func (c *StatementCache) Get(sql string) (*Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[sql]
	if !ok {
		return nil, false
	}
	c.clock++
	e.used = c.clock
	return e.stmt, true
}

// Put inserts stmt keyed by its query text, evicting the least-recently
// used entry if the cache is full.
func (c *StatementCache) Put(stmt *Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	if e, ok := c.data[stmt.SQL]; ok {
		e.stmt = stmt
		e.used = c.clock
		return
	}
	if len(c.data) >= c.capacity {
		var oldestKey string
		var oldest uint64
		first := true
		for k, e := range c.data {
			if first || e.used < oldest {
				oldestKey, oldest = k, e.used
				first = false
			}
		}
		delete(c.data, oldestKey)
	}
	c.data[stmt.SQL] = &entry{stmt: stmt, used: c.clock}
}

// InvalidateOIDs clears the plan and executable of every statement whose
// Refs intersect oids, and returns how many statements were
// invalidated.
func (c *StatementCache) InvalidateOIDs(oids ...oid.OID) int {
	affected := make(map[oid.OID]struct{}, len(oids))
	for _, o := range oids {
		affected[o] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.data {
		for _, ref := range e.stmt.Refs {
			if _, hit := affected[ref]; hit {
				e.stmt.invalidate()
				n++
				break
			}
		}
	}
	return n
}

// InvalidateAll clears every statement's plan and executable, used when a
// DDL's affected object set cannot be narrowed (CREATE/DROP DATABASE,
// schema updates).
func (c *StatementCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.data {
		e.stmt.invalidate()
	}
}

// Len reports how many statements are cached.
func (c *StatementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// ForEach visits every cached statement, stopping early if fn returns
// false. The admin sideband uses this to snapshot a connection's cache.
func (c *StatementCache) ForEach(fn func(*Statement) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.data {
		if !fn(e.stmt) {
			break
		}
	}
}
