package oid

import "sync/atomic"

// Allocator hands out monotonically increasing OIDs for a single kind
// within a single database. Each database owns one
// allocator per OID kind rather than the single shared counter the
// original "Catalog.next_oid vs per-Database Catalog counter" duplication
// implied; this resolves that ambiguity in
// favor of one authoritative counter per (database, kind) pair.
type Allocator struct {
	kind Kind
	next atomic.Uint64
}

// NewAllocator returns an allocator for kind, starting user-visible OIDs at
// a value above every built-in reserved OID.
func NewAllocator(kind Kind) *Allocator {
	a := &Allocator{kind: kind}
	a.next.Store(uint64(firstUserOID))
	return a
}

// Next atomically advances and returns a fresh OID.
func (a *Allocator) Next() OID {
	return OID(a.next.Add(1) - 1)
}

// Kind reports which numeric space this allocator serves.
func (a *Allocator) Kind() Kind { return a.kind }

// ObserveMax rewinds the allocator forward (never backward) to at least
// observed+1, as required on WAL recovery replay.
func (a *Allocator) ObserveMax(observed OID) {
	for {
		cur := a.next.Load()
		want := uint64(observed) + 1
		if want <= cur {
			return
		}
		if a.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

// Peek returns the OID that would be returned by the next call to Next,
// without consuming it. Intended for tests and diagnostics only.
func (a *Allocator) Peek() OID { return OID(a.next.Load()) }
