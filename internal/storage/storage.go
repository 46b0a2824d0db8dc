// Package storage defines the contracts of the external collaborators the
// engine treats as black boxes (block store/GC, index KV), plus one
// in-memory reference implementation used by tests, the integration
// harness, and anywhere a real B+tree/hash-index/buffer-pool engine would
// otherwise be plugged in.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/txn"
)

// Slot is an opaque physical row locator handed back by a Table and
// consumed by an IndexKV as the payload associated with a key.
type Slot uint64

// Table is the minimal interface the executor needs against a live
// user table. The real implementation (a buffer-pool-backed, MVCC
// version-chain heap) lives outside this engine; InMemoryTable below
// is a reference double good enough to drive the rest of it.
type Table interface {
	// Insert appends row r under transaction tx and returns its Slot.
	Insert(tx *txn.Context, r row.Row) (Slot, error)
	// Select reads back the row at slot as visible to tx's snapshot, or
	// (nil, false) if the slot is not visible (deleted, or inserted by a
	// transaction not yet committed before tx.Start).
	Select(tx *txn.Context, slot Slot) (row.Row, bool, error)
	// Update replaces the row at slot with r under tx (MVCC: this installs
	// a new version rather than mutating in place).
	Update(tx *txn.Context, slot Slot, r row.Row) error
	// Delete marks the row at slot deleted as of tx.
	Delete(tx *txn.Context, slot Slot) error
	// Scan calls fn for every slot visible to tx, in an unspecified order,
	// until fn returns false.
	Scan(tx *txn.Context, fn func(Slot, row.Row) bool) error
}

// IndexKV is the opaque B+tree/hash-index contract:
// Insert, InsertUnique, Delete, ScanKey, GetSize. Index internals
// (the actual tree/hash algorithms) are out of scope; this is the
// boundary the translators' index-scan/index-insert operators compile
// against.
type IndexKV interface {
	// Insert associates key with slot. Non-unique indexes may hold more
	// than one slot per key.
	Insert(tx *txn.Context, key row.Row, slot Slot) error
	// InsertUnique associates key with slot, failing if key is already
	// present and visible (unique/primary-key enforcement).
	InsertUnique(tx *txn.Context, key row.Row, slot Slot) error
	// Delete is logically deferred through transaction callbacks: the
	// implementation registers the actual removal as a commit action so
	// an aborted transaction's delete never takes effect.
	Delete(tx *txn.Context, key row.Row, slot Slot) error
	// ScanKey returns every slot associated with key as visible to tx.
	ScanKey(tx *txn.Context, key row.Row) ([]Slot, error)
	// GetSize reports the current number of live entries.
	GetSize() int
}

// BlockStore is the untyped page supplier and garbage collector behind
// the storage engine. It is never called directly by the
// query pipeline; Table/IndexKV implementations sit on top of it. Declared
// here only so the catalog's teardown path has a contract to
// schedule reclaim actions against.
type BlockStore interface {
	// ReclaimAfter schedules pages owned by handle for reclamation once
	// every transaction below watermark has ended.
	ReclaimAfter(handle any, watermark txn.Timestamp)
}

// version is one MVCC-versioned value in an InMemoryTable's version chain.
// A version is pending until its writer commits (publishing it with the
// commit timestamp) and is discarded if the writer aborts; newer committed
// versions shadow older ones.
type version struct {
	writer   *txn.Context
	commitTS txn.Timestamp // 0 while uncommitted
	aborted  bool
	value    row.Row
	deleted  bool
}

// InMemoryTable is a reference Table implementation: a slot-indexed array
// of version chains guarded by a mutex. It exists so the rest of this
// engine (catalog, executor, integration tests) has something real to run
// against without depending on the out-of-scope production storage engine.
type InMemoryTable struct {
	mu     sync.RWMutex
	next   Slot
	chains map[Slot][]*version
}

// NewInMemoryTable returns an empty table.
func NewInMemoryTable() *InMemoryTable {
	return &InMemoryTable{chains: make(map[Slot][]*version)}
}

// addVersion appends a pending version for slot s and wires its
// publish/discard to tx's outcome.
func (t *InMemoryTable) addVersion(tx *txn.Context, s Slot, v *version) {
	v.writer = tx
	t.mu.Lock()
	t.chains[s] = append(t.chains[s], v)
	t.mu.Unlock()

	tx.RegisterCommitAction("storage_publish_version", func() {
		t.mu.Lock()
		v.commitTS = tx.Finish
		t.mu.Unlock()
	})
	tx.RegisterAbortAction("storage_discard_version", func() {
		t.mu.Lock()
		v.aborted = true
		t.mu.Unlock()
	})
}

func (t *InMemoryTable) Insert(tx *txn.Context, r row.Row) (Slot, error) {
	t.mu.Lock()
	s := t.next
	t.next++
	t.mu.Unlock()
	t.addVersion(tx, s, &version{value: r})
	return s, nil
}

// visibleVersion walks newest-to-oldest for the first version tx may see:
// its own pending writes, or versions committed at or before tx's
// snapshot.
func (t *InMemoryTable) visibleVersion(tx *txn.Context, s Slot) (version, bool) {
	chain, ok := t.chains[s]
	if !ok {
		return version{}, false
	}
	for i := len(chain) - 1; i >= 0; i-- {
		v := chain[i]
		if v.aborted {
			continue
		}
		if v.writer != tx && (v.commitTS == 0 || v.commitTS > tx.Start) {
			continue
		}
		return *v, true
	}
	return version{}, false
}

func (t *InMemoryTable) Select(tx *txn.Context, s Slot) (row.Row, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.visibleVersion(tx, s)
	if !ok || v.deleted {
		return nil, false, nil
	}
	return v.value, true, nil
}

func (t *InMemoryTable) Update(tx *txn.Context, s Slot, r row.Row) error {
	t.mu.RLock()
	_, ok := t.chains[s]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: update of unknown slot %d", s)
	}
	t.addVersion(tx, s, &version{value: r})
	return nil
}

func (t *InMemoryTable) Delete(tx *txn.Context, s Slot) error {
	t.mu.RLock()
	_, ok := t.chains[s]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: delete of unknown slot %d", s)
	}
	t.addVersion(tx, s, &version{deleted: true})
	return nil
}

func (t *InMemoryTable) Scan(tx *txn.Context, fn func(Slot, row.Row) bool) error {
	t.mu.RLock()
	slots := make([]Slot, 0, len(t.chains))
	for s := range t.chains {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	t.mu.RUnlock()

	for _, s := range slots {
		t.mu.RLock()
		v, ok := t.visibleVersion(tx, s)
		t.mu.RUnlock()
		if !ok || v.deleted {
			continue
		}
		if !fn(s, v.value) {
			break
		}
	}
	return nil
}

// Registry maps a table/index OID to its live storage object, standing in
// for the catalog's REL_PTR columns ("an externally owned
// pointer to the live table/index object... set exactly once per (oid,
// generation)").
type Registry struct {
	mu     sync.RWMutex
	tables map[oid.OID]Table
	idxs   map[oid.OID]IndexKV
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[oid.OID]Table), idxs: make(map[oid.OID]IndexKV)}
}

func (r *Registry) InstallTable(o oid.OID, t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[o] = t
}

func (r *Registry) Table(o oid.OID) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[o]
	return t, ok
}

func (r *Registry) InstallIndex(o oid.OID, idx IndexKV) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idxs[o] = idx
}

func (r *Registry) Index(o oid.OID) (IndexKV, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.idxs[o]
	return idx, ok
}

func (r *Registry) Remove(o oid.OID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, o)
	delete(r.idxs, o)
}
