package exec

import (
	"errors"
	"testing"
)

func recordingFragment(name string, trace *[]string, failWork bool) *Fragment {
	mod := NewModule()
	mod.Define("init", func(rc *RunContext, qs *QueryState) error {
		*trace = append(*trace, name+":init")
		return nil
	})
	mod.Define("work", func(rc *RunContext, qs *QueryState) error {
		*trace = append(*trace, name+":work")
		if failWork {
			return errors.New("work failed")
		}
		return nil
	})
	mod.Define("td1", func(rc *RunContext, qs *QueryState) error {
		*trace = append(*trace, name+":td1")
		return nil
	})
	mod.Define("td2", func(rc *RunContext, qs *QueryState) error {
		*trace = append(*trace, name+":td2")
		return nil
	})
	return &Fragment{
		Name: name, Module: mod,
		Init: "init", Work: []string{"work"}, TearDown: []string{"td1", "td2"},
	}
}

func TestFragmentsRunInOrderWithTeardown(t *testing.T) {
	var trace []string
	eq := &ExecutableQuery{
		QueryStateSize: 2,
		Fragments: []*Fragment{
			recordingFragment("f1", &trace, false),
			recordingFragment("f2", &trace, false),
		},
	}
	if err := Run(&RunContext{}, eq); err != nil {
		t.Fatal(err)
	}
	want := []string{"f1:init", "f1:work", "f1:td2", "f1:td1", "f2:init", "f2:work", "f2:td2", "f2:td1"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s (full: %v)", i, trace[i], want[i], trace)
		}
	}
}

func TestTeardownRunsOnWorkError(t *testing.T) {
	var trace []string
	eq := &ExecutableQuery{
		Fragments: []*Fragment{
			recordingFragment("f1", &trace, true),
			recordingFragment("f2", &trace, false),
		},
	}
	err := Run(&RunContext{}, eq)
	if err == nil {
		t.Fatal("expected error")
	}
	// Teardown of the failing fragment still runs, in reverse order;
	// later fragments never start.
	want := []string{"f1:init", "f1:work", "f1:td2", "f1:td1"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %s, want %s", i, trace[i], want[i])
		}
	}
}

func TestQueryIDMonotonicAndOverridable(t *testing.T) {
	a := NextQueryID()
	b := NextQueryID()
	if b <= a {
		t.Fatalf("ids not monotonic: %d then %d", a, b)
	}
	SetQueryIDOverride(b + 1000)
	if got := NextQueryID(); got != b+1000 {
		t.Fatalf("override produced %d, want %d", got, b+1000)
	}
}

func TestRowsAffectedAccumulates(t *testing.T) {
	rc := &RunContext{}
	ExecCtxAddRowsAffected(rc, 3)
	ExecCtxAddRowsAffected(rc, 2)
	if rc.RowsAffected() != 5 {
		t.Fatalf("rows affected = %d", rc.RowsAffected())
	}
}

func TestParallelFragmentJoinsAllWorkers(t *testing.T) {
	mod := NewModule()
	results := make(chan int, 4)
	for i := 0; i < 4; i++ {
		i := i
		mod.Define(workerName(i), func(rc *RunContext, qs *QueryState) error {
			results <- i
			return nil
		})
	}
	frag := &Fragment{
		Name: "par", Module: mod, Parallel: true,
		Work: []string{workerName(0), workerName(1), workerName(2), workerName(3)},
	}
	eq := &ExecutableQuery{Fragments: []*Fragment{frag}}
	if err := Run(&RunContext{}, eq); err != nil {
		t.Fatal(err)
	}
	close(results)
	n := 0
	for range results {
		n++
	}
	if n != 4 {
		t.Fatalf("joined %d workers, want 4", n)
	}
}

func workerName(i int) string {
	return "worker" + string(rune('0'+i))
}
