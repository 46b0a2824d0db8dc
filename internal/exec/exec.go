// Package exec implements the executable query and runtime: the
// query-state buffer threaded through every compiled function, the
// Fragment/Module shapes internal/translator compiles into, and the
// Run loop that invokes each Fragment's functions in order and tears every
// one down afterward, even on error.
//
// A raw byte-array query state only matters when generated machine code
// reads typed fields out of it at fixed offsets; an interpreter of a typed
// IR has no such need, so QueryState is a slice of typed Go slots indexed
// the same way a byte-offset scheme would have been. Each translator still
// claims a slot at compile time and the caller still allocates the whole
// buffer up front, just typed instead of raw bytes.
package exec

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// QueryState is the per-run mutable buffer every Fragment function in
// every Fragment is threaded through.
type QueryState struct {
	slots []any
}

// NewQueryState allocates a QueryState with size slots.
func NewQueryState(size int) *QueryState {
	return &QueryState{slots: make([]any, size)}
}

// Get returns the value stored in slot i.
func (qs *QueryState) Get(i int) any { return qs.slots[i] }

// Set stores v in slot i.
func (qs *QueryState) Set(i int, v any) { qs.slots[i] = v }

// Size returns the number of slots this QueryState has.
func (qs *QueryState) Size() int { return len(qs.slots) }

// Func is one compiled Fragment function: an Init, a parallel worker body,
// or a TearDown step, operating on rc and the run's QueryState.
type Func func(rc *RunContext, qs *QueryState) error

// Module is a Fragment's compiled function table, addressed by function
// name.
type Module struct {
	Funcs map[string]Func
}

// NewModule returns an empty Module.
func NewModule() *Module { return &Module{Funcs: make(map[string]Func)} }

// Define registers fn under name, overwriting any previous definition —
// translators call this once per pipeline stage while compiling.
func (m *Module) Define(name string, fn Func) { m.Funcs[name] = fn }

func (m *Module) lookup(name string) (Func, error) {
	fn, ok := m.Funcs[name]
	if !ok {
		return nil, fmt.Errorf("exec: module has no function %q", name)
	}
	return fn, nil
}

// Fragment owns a compiled Module, the ordered Init/work function names to
// invoke, and the ordered TearDown function names to invoke afterward.
// Every Fragment begins with an Init and ends with a TearDown; the
// intermediate functions may include parallel worker bodies.
type Fragment struct {
	Name     string
	Module   *Module
	Init     string
	Work     []string // parallel worker bodies, or a single serial body
	TearDown []string
	Parallel bool
}

// run executes this fragment's Init, then every Work function (concurrently
// if Parallel), then every TearDown function in reverse declaration order —
// unconditionally, even if Init or a Work function failed.
func (f *Fragment) run(rc *RunContext, qs *QueryState) (runErr error) {
	defer func() {
		for i := len(f.TearDown) - 1; i >= 0; i-- {
			fn, err := f.Module.lookup(f.TearDown[i])
			if err != nil {
				if runErr == nil {
					runErr = err
				}
				continue
			}
			if err := fn(rc, qs); err != nil && runErr == nil {
				runErr = fmt.Errorf("exec: fragment %q teardown %q: %w", f.Name, f.TearDown[i], err)
			}
		}
	}()

	if f.Init != "" {
		initFn, err := f.Module.lookup(f.Init)
		if err != nil {
			return err
		}
		if err := initFn(rc, qs); err != nil {
			return fmt.Errorf("exec: fragment %q init: %w", f.Name, err)
		}
	}

	if f.Parallel {
		return f.runParallel(rc, qs)
	}
	for _, name := range f.Work {
		fn, err := f.Module.lookup(name)
		if err != nil {
			return err
		}
		if err := fn(rc, qs); err != nil {
			return fmt.Errorf("exec: fragment %q work %q: %w", f.Name, name, err)
		}
	}
	return nil
}

// runParallel dispatches every Work function as a goroutine over a shared
// QueryState and joins at a barrier before any teardown runs.
func (f *Fragment) runParallel(rc *RunContext, qs *QueryState) error {
	errs := make(chan error, len(f.Work))
	for _, name := range f.Work {
		name := name
		go func() {
			fn, err := f.Module.lookup(name)
			if err != nil {
				errs <- err
				return
			}
			errs <- fn(rc, qs)
		}()
	}
	var first error
	for range f.Work {
		if err := <-errs; err != nil && first == nil {
			first = fmt.Errorf("exec: fragment %q parallel worker: %w", f.Name, err)
		}
	}
	return first
}

// OperatingUnitFeature summarizes one pipeline stage (rows, key size,
// cardinality). The engine only records it; an out-of-process consumer or
// the admin sideband reads it out of band.
type OperatingUnitFeature struct {
	PipelineName string
	OperatorKind string
	Rows         int64
	KeySize      int
	Cardinality  int64
}

// ExecutableQuery is the compiled artifact of one statement: a reference
// to the source physical plan, an execution-settings snapshot, an ordered
// list of Fragments, the query-state size every run allocates, and
// feature-telemetry metadata recorded as pipelines are prepared.
type ExecutableQuery struct {
	QueryID        uint64
	Root           plan.PhysicalOp
	Columns        []plan.OutputCol
	Settings       config.Config
	Fragments      []*Fragment
	QueryStateSize int
	Telemetry      []OperatingUnitFeature
}

var queryIDCounter atomic.Uint64

// NextQueryID hands out a fresh, globally unique query id.
func NextQueryID() uint64 { return queryIDCounter.Add(1) }

// SetQueryIDOverride forces the next NextQueryID call to return id,
// supporting plan-replay tooling that needs a captured query to keep its
// original id.
func SetQueryIDOverride(id uint64) {
	for {
		cur := queryIDCounter.Load()
		if id <= cur {
			queryIDCounter.Store(id - 1)
			return
		}
		if queryIDCounter.CompareAndSwap(cur, id-1) {
			return
		}
	}
}

// RunContext is the per-execution context Run threads through every
// Fragment: the logger, the bound parameters, the result sink, and the
// rows-affected accumulator DML sinks call into.
type RunContext struct {
	Log          *zap.Logger
	Params       []ir.Value
	Emit         func(ir.Tuple) error // called once per output row for a SELECT
	rowsAffected atomic.Int64
}

// ExecCtxAddRowsAffected adds delta to rc's rows-affected counter.
// Negative deltas are never produced by this engine's sinks and are not
// rejected.
func ExecCtxAddRowsAffected(rc *RunContext, delta int64) {
	rc.rowsAffected.Add(delta)
}

// RowsAffected reports the accumulated DML row count for CommandComplete.
func (rc *RunContext) RowsAffected() int64 { return rc.rowsAffected.Load() }

// Run executes eq's Fragments in order against a fresh QueryState and
// stops at the first Fragment that fails, returning its error. That
// Fragment's own teardown still runs (see Fragment.run); later Fragments
// are neither started nor torn down.
func Run(rc *RunContext, eq *ExecutableQuery) error {
	qs := NewQueryState(eq.QueryStateSize)
	var first error
	for _, frag := range eq.Fragments {
		if err := frag.run(rc, qs); err != nil && first == nil {
			first = err
		}
		if first != nil {
			break
		}
	}
	return first
}
