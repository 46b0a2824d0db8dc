package txn

import "testing"

func TestCommitRunsActionsInOrder(t *testing.T) {
	tx := Begin(nil)
	var order []int
	tx.RegisterCommitAction("a", func() { order = append(order, 1) })
	tx.RegisterCommitAction("b", func() { order = append(order, 2) })

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order: %v", order)
	}
	if tx.Finish == 0 {
		t.Fatal("expected finish timestamp to be assigned")
	}
}

func TestMustAbortForcesRollbackOnCommit(t *testing.T) {
	tx := Begin(nil)
	ranAbort := false
	ranCommit := false
	tx.RegisterAbortAction("cleanup", func() { ranAbort = true })
	tx.RegisterCommitAction("install", func() { ranCommit = true })

	tx.Poison(nil)
	if !tx.MustAbort() {
		t.Fatal("expected must-abort")
	}

	if err := tx.Commit(); err == nil {
		t.Fatal("expected Commit to fail on a must-abort transaction")
	}
	if !ranAbort || ranCommit {
		t.Fatalf("expected abort actions to run instead of commit actions: abort=%v commit=%v", ranAbort, ranCommit)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	tx := Begin(nil)
	count := 0
	tx.RegisterAbortAction("x", func() { count++ })
	tx.Abort()
	tx.Abort()
	if count != 1 {
		t.Fatalf("expected abort action to run once, ran %d times", count)
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	t1 := Begin(nil)
	t2 := Begin(nil)
	if t2.Start <= t1.Start {
		t.Fatalf("expected monotonic start timestamps: %d then %d", t1.Start, t2.Start)
	}
}
