package catalog

import (
	"sync"

	"github.com/relcore/enginecore/internal/txn"
)

// lockedMarker is the DDL lock's busy sentinel, surfaced by Current()
// while a holder is active. TryLock does not compare against it: while the
// lock is held, another transaction is turned away by the holder check.
const lockedMarker = ^uint64(0)

// DDLLock serializes metadata writes on a single Database Catalog: an
// acquire succeeds iff the transaction's start timestamp is at or above
// the current write_lock watermark and no other transaction holds the
// lock. The holder releases through commit/abort actions, publishing its
// finish (or, on abort, start) timestamp as the new watermark. Re-acquire
// by the same transaction is a no-op, so one transaction can run several
// catalog operations back to back.
type DDLLock struct {
	mu        sync.Mutex
	writeLock uint64
	holder    *txn.Context
}

// TryLock attempts to acquire the lock for tx. On success, the caller must
// register a commit or abort action that calls Release with tx's eventual
// finish timestamp (or, on abort, tx's start — an aborted DDL's timestamp
// still advances the watermark, since no other transaction could have
// validly started DDL in between).
func (l *DDLLock) TryLock(tx *txn.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == tx {
		return true
	}
	if l.holder != nil {
		return false
	}
	if uint64(tx.Start) < l.writeLock {
		return false
	}
	l.holder = tx
	return true
}

// Release publishes finish as the new write_lock watermark, allowing a
// transaction whose start timestamp is at or after finish to acquire the
// lock next. Safe to call more than once for the same holder.
func (l *DDLLock) Release(finish txn.Timestamp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holder = nil
	if uint64(finish) > l.writeLock {
		l.writeLock = uint64(finish)
	}
}

// Current returns the current watermark for diagnostics; it reads
// lockedMarker while the lock is held.
func (l *DDLLock) Current() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != nil {
		return lockedMarker
	}
	return l.writeLock
}
