package catalog

import (
	"sync"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/txn"
)

// versionedEntry is one MVCC-versioned catalog row, mirroring
// storage.InMemoryTable's version chain but keyed by the row's own OID and
// holding a typed Go value instead of a Projected Row image — the catalog's
// pg_* tables are small, fixed-shape, and read far more than written, so
// paying for row.Row's binary packing buys nothing a typed struct doesn't
// already give for free.
//
// A version starts pending: visible only to its own writer. The writer's
// commit action publishes it with the commit timestamp; the abort action
// discards it. Newer versions shadow older ones, so supersession needs no
// end-timestamp bookkeeping.
type versionedEntry[T any] struct {
	writer   *txn.Context
	commitTS txn.Timestamp // 0 while uncommitted
	aborted  bool
	value    T
	deleted  bool
}

// mvccTable is a generic, OID-keyed, snapshot-isolated metadata table. Every
// pg_namespace/pg_class/pg_attribute/... table in a DatabaseCatalog is one
// of these, giving catalog reads the same start-timestamp visibility rule
// as ordinary user tables.
type mvccTable[T any] struct {
	mu   sync.RWMutex
	rows map[oid.OID][]*versionedEntry[T]
}

func newMVCCTable[T any]() *mvccTable[T] {
	return &mvccTable[T]{rows: make(map[oid.OID][]*versionedEntry[T])}
}

// addVersion appends a pending version and wires its publish/discard to
// tx's outcome.
func (m *mvccTable[T]) addVersion(tx *txn.Context, key oid.OID, v *versionedEntry[T]) {
	v.writer = tx
	m.mu.Lock()
	m.rows[key] = append(m.rows[key], v)
	m.mu.Unlock()

	tx.RegisterCommitAction("catalog_publish_version", func() {
		m.mu.Lock()
		v.commitTS = tx.Finish
		m.mu.Unlock()
	})
	tx.RegisterAbortAction("catalog_discard_version", func() {
		m.mu.Lock()
		v.aborted = true
		m.mu.Unlock()
	})
}

// Insert adds the first version of a new row under key.
func (m *mvccTable[T]) Insert(tx *txn.Context, key oid.OID, value T) {
	m.addVersion(tx, key, &versionedEntry[T]{value: value})
}

// Replace installs a new version of an existing row, shadowing the prior
// one once tx commits (used by UpdateSchema-style metadata rewrites).
func (m *mvccTable[T]) Replace(tx *txn.Context, key oid.OID, value T) {
	m.addVersion(tx, key, &versionedEntry[T]{value: value})
}

// Delete installs a tombstone version that hides key once tx commits.
func (m *mvccTable[T]) Delete(tx *txn.Context, key oid.OID) {
	m.addVersion(tx, key, &versionedEntry[T]{deleted: true})
}

// visibleIn walks newest-to-oldest for the first version tx may see: its
// own pending writes, or versions committed at or before tx's snapshot.
func visibleIn[T any](chain []*versionedEntry[T], tx *txn.Context) (T, bool) {
	var zero T
	for i := len(chain) - 1; i >= 0; i-- {
		v := chain[i]
		if v.aborted {
			continue
		}
		if v.writer != tx && (v.commitTS == 0 || v.commitTS > tx.Start) {
			continue
		}
		if v.deleted {
			return zero, false
		}
		return v.value, true
	}
	return zero, false
}

// Get returns the version of key visible to tx's snapshot.
func (m *mvccTable[T]) Get(tx *txn.Context, key oid.OID) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return visibleIn(m.rows[key], tx)
}

// Scan calls fn for every row visible to tx's snapshot, in unspecified
// order, until fn returns false.
func (m *mvccTable[T]) Scan(tx *txn.Context, fn func(oid.OID, T) bool) {
	m.mu.RLock()
	type pair struct {
		key oid.OID
		val T
	}
	var visible []pair
	for key, chain := range m.rows {
		if v, ok := visibleIn(chain, tx); ok {
			visible = append(visible, pair{key, v})
		}
	}
	m.mu.RUnlock()
	for _, p := range visible {
		if !fn(p.key, p.val) {
			return
		}
	}
}

// Find returns the first row visible to tx for which pred holds.
func (m *mvccTable[T]) Find(tx *txn.Context, pred func(T) bool) (T, bool) {
	var found T
	var ok bool
	m.Scan(tx, func(_ oid.OID, v T) bool {
		if pred(v) {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}
