package catalog

import (
	"testing"

	"github.com/relcore/enginecore/internal/txn"
)

func TestDDLLockMutualExclusion(t *testing.T) {
	var lock DDLLock

	tx1 := txn.Begin(nil)
	tx2 := txn.Begin(nil) // started after tx1, higher Start

	if !lock.TryLock(tx1) {
		t.Fatal("expected tx1 to acquire the uncontended lock")
	}
	if lock.TryLock(tx2) {
		t.Fatal("expected tx2 to fail while tx1 holds the lock")
	}

	if !lock.TryLock(tx1) {
		t.Fatal("expected re-acquire by the holder to succeed")
	}

	lock.Release(tx1.Start + 1000) // simulate tx1's eventual finish ts

	// tx2 started below the published watermark: it must abort on any DDL
	// attempt rather than acquire.
	if lock.TryLock(tx2) {
		t.Fatal("expected tx2's stale snapshot to fail TryLock after release")
	}
	tx3 := &txn.Context{Start: txn.Timestamp(lock.Current()) + 1}
	if !lock.TryLock(tx3) {
		t.Fatal("expected a transaction above the watermark to acquire the lock")
	}
}

func TestDDLLockRejectsStaleStart(t *testing.T) {
	var lock DDLLock
	tx1 := txn.Begin(nil)
	lock.TryLock(tx1)
	lock.Release(tx1.Start + 5000)

	// tx0 has an earlier start than the released watermark: it must abort
	// on any DDL attempt.
	stale := &txn.Context{Start: tx1.Start}
	if lock.TryLock(stale) {
		t.Fatal("expected a transaction with a stale start timestamp to fail TryLock")
	}
}
