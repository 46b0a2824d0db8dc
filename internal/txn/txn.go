// Package txn implements the transaction context shared by the catalog,
// storage, and executor: start/finish timestamps, the must-abort flag, and
// ordered commit/abort deferred-action lists.
//
// Commit and abort fan the registered deferred actions out in order,
// structured-logging each dispatch.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Timestamp is a logical commit-ordering clock value. Start timestamps are
// assigned at BEGIN (or at the start of an implicit single-statement
// transaction); finish timestamps are assigned at commit.
type Timestamp uint64

var clock atomic.Uint64

// NextTimestamp hands out a fresh, strictly increasing Timestamp. A single
// global clock is shared by every database, matching the single top-level
// mapping from database OID to Database Catalog.
func NextTimestamp() Timestamp {
	return Timestamp(clock.Add(1))
}

// Action is a unit of deferred work registered on a transaction, run at
// commit or abort time. An action may begin and finish a separate
// transaction of its own (the translator's compensating index delete and
// the wire layer's index backfill do); actions must not block.
type Action func()

// Context is the per-transaction state: start/finish
// timestamps, the abort flag, and the two ordered deferred-action lists.
type Context struct {
	log *zap.Logger

	Start  Timestamp
	Finish Timestamp // zero until commit/abort

	mu          sync.Mutex
	mustAbort   bool
	finished    bool
	commitActs  []namedAction
	abortActs   []namedAction
	rollbackReq bool // explicit ROLLBACK requested, vs. error-induced abort
}

type namedAction struct {
	name string
	fn   Action
}

// Begin starts a new transaction context with a fresh start timestamp.
func Begin(log *zap.Logger) *Context {
	return &Context{
		log:   log,
		Start: NextTimestamp(),
	}
}

// MustAbort reports whether an error has already poisoned this transaction
//: further DML must fail with
// ERRCODE_IN_FAILED_SQL_TRANSACTION without executing.
func (c *Context) MustAbort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mustAbort
}

// Poison marks the transaction must-abort, as any error inside an explicit
// transaction block does.
func (c *Context) Poison(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mustAbort {
		return
	}
	c.mustAbort = true
	if c.log != nil {
		c.log.Warn("txn_poisoned", zap.Uint64("start_ts", uint64(c.Start)), zap.Error(cause))
	}
}

// RegisterCommitAction appends an action to run (in registration order) if
// this transaction commits.
func (c *Context) RegisterCommitAction(name string, fn Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitActs = append(c.commitActs, namedAction{name, fn})
}

// RegisterAbortAction appends an action to run (in registration order) if
// this transaction aborts.
func (c *Context) RegisterAbortAction(name string, fn Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortActs = append(c.abortActs, namedAction{name, fn})
}

// Commit runs every registered commit action in order and assigns a finish
// timestamp, unless the transaction is must-abort, in which case Commit
// rolls back instead.
func (c *Context) Commit() error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return fmt.Errorf("txn: already finished")
	}
	if c.mustAbort {
		c.mu.Unlock()
		c.Abort()
		return fmt.Errorf("txn: must-abort transaction rolled back on COMMIT")
	}
	acts := c.commitActs
	c.finished = true
	c.Finish = NextTimestamp()
	c.mu.Unlock()

	c.dispatch("commit", acts)
	return nil
}

// Abort runs every registered abort action in order. Safe to call more
// than once; subsequent calls are no-ops.
func (c *Context) Abort() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	acts := c.abortActs
	c.finished = true
	c.Finish = NextTimestamp()
	c.mu.Unlock()

	c.dispatch("abort", acts)
}

func (c *Context) dispatch(phase string, acts []namedAction) {
	for _, a := range acts {
		if c.log != nil {
			c.log.Debug("txn_deferred_action",
				zap.String("phase", phase),
				zap.String("action", a.name),
				zap.Uint64("start_ts", uint64(c.Start)),
			)
		}
		a.fn()
	}
}

// Finished reports whether Commit or Abort has already run.
func (c *Context) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
