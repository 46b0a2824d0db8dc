package storage

import (
	"fmt"
	"sync"

	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/txn"
)

// InMemoryIndex is a reference IndexKV keyed by the raw bytes of a
// Projected Row key. It stands in for a real B+tree/hash index
// implementation.
type InMemoryIndex struct {
	mu     sync.RWMutex
	unique bool
	data   map[string][]Slot
}

func NewInMemoryIndex(unique bool) *InMemoryIndex {
	return &InMemoryIndex{unique: unique, data: make(map[string][]Slot)}
}

func (idx *InMemoryIndex) Insert(tx *txn.Context, key row.Row, slot Slot) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	idx.data[k] = append(idx.data[k], slot)
	return nil
}

func (idx *InMemoryIndex) InsertUnique(tx *txn.Context, key row.Row, slot Slot) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if existing, ok := idx.data[k]; ok && len(existing) > 0 {
		return fmt.Errorf("storage: unique constraint violation")
	}
	idx.data[k] = []Slot{slot}
	return nil
}

// Delete removes slot from key's entry via a commit action registered on
// tx, so an aborted deleting transaction leaves the index untouched.
func (idx *InMemoryIndex) Delete(tx *txn.Context, key row.Row, slot Slot) error {
	k := string(key)
	tx.RegisterCommitAction("index_delete", func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		slots := idx.data[k]
		for i, s := range slots {
			if s == slot {
				idx.data[k] = append(slots[:i], slots[i+1:]...)
				break
			}
		}
		if len(idx.data[k]) == 0 {
			delete(idx.data, k)
		}
	})
	return nil
}

func (idx *InMemoryIndex) ScanKey(tx *txn.Context, key row.Row) ([]Slot, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Slot, len(idx.data[string(key)]))
	copy(out, idx.data[string(key)])
	return out, nil
}

func (idx *InMemoryIndex) GetSize() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, slots := range idx.data {
		n += len(slots)
	}
	return n
}
