package translator

import (
	"fmt"

	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/exec"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
)

// Query-state slot layout for a compiled statement. Slot 0 holds the main
// pipeline's Operator between Init and TearDown.
const (
	slotMainOp = iota
	numStateSlots
)

// projectOp evaluates a fixed expression list against each input tuple —
// the translator of the top-level SELECT list and of a CTE's own
// projection.
type projectOp struct {
	child Operator
	exprs []ir.Expr
}

func (p *projectOp) Open(ctx *Ctx) error { return p.child.Open(ctx) }

func (p *projectOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	t, ok, err := p.child.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make(ir.Tuple, len(p.exprs))
	for i, e := range p.exprs {
		out[i], err = e.Eval(t, ctx.Params)
		if err != nil {
			return nil, false, err
		}
	}
	return out, true, nil
}

func (p *projectOp) Close(ctx *Ctx) error { return p.child.Close(ctx) }

func buildProject(ctx *Ctx, n plan.Project) (Operator, *Schema, error) {
	child, childSch, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	exprs := make([]ir.Expr, len(n.Exprs))
	for i, e := range n.Exprs {
		exprs[i], err = CompileExpr(e, childSch)
		if err != nil {
			return nil, nil, err
		}
	}
	return &projectOp{child: child, exprs: exprs}, NewDerivedSchema(n.Exprs), nil
}

// buildProjected compiles root and wraps it with project (when non-empty)
// compiled against root's output schema.
func buildProjected(ctx *Ctx, root plan.PhysicalOp, project []plan.Expression) (Operator, error) {
	op, schema, err := BuildOperator(ctx, root)
	if err != nil {
		return nil, err
	}
	if len(project) == 0 {
		return op, nil
	}
	exprs := make([]ir.Expr, len(project))
	for i, e := range project {
		exprs[i], err = CompileExpr(e, schema)
		if err != nil {
			return nil, err
		}
	}
	return &projectOp{child: op, exprs: exprs}, nil
}

// affectedReporter is implemented by the DML sinks; the fragment work
// function reads it after draining to accumulate rows-affected.
type affectedReporter interface {
	Affected() int64
}

// Compile turns a chosen physical plan into an ExecutableQuery: one
// Fragment per CTE materialization boundary plus one for the main
// pipeline tree, each with matched Init/TearDown.
//
// In OneShot mode every fragment's operator tree is built up-front; in
// Interleaved mode each fragment builds its tree when it first runs, so a
// failure in a later pipeline surfaces only after earlier pipelines have
// executed, the lazy half of the compilation-mode contract.
func Compile(ctx *Ctx, q *plan.Query, cfg config.Config) (*exec.ExecutableQuery, error) {
	eq := &exec.ExecutableQuery{
		QueryID:        exec.NextQueryID(),
		Root:           q.Root,
		Columns:        q.Columns,
		Settings:       cfg,
		QueryStateSize: numStateSlots,
	}

	// Every CTE's output schema must be visible before any tree that
	// scans it is built, in either compilation mode.
	for _, cte := range q.CTEs {
		ctx.DeclareCTE(cte.Name, NewSchema(cte.OutRefs))
	}

	for _, cte := range q.CTEs {
		frag, err := compileCTEFragment(ctx, cte, cfg)
		if err != nil {
			return nil, err
		}
		eq.Fragments = append(eq.Fragments, frag)
		if cfg.Metrics.PipelineMetrics {
			eq.Telemetry = append(eq.Telemetry, exec.OperatingUnitFeature{
				PipelineName: frag.Name,
				OperatorKind: cte.Root.Kind(),
			})
		}
	}

	frag, err := compileMainFragment(ctx, q, cfg)
	if err != nil {
		return nil, err
	}
	eq.Fragments = append(eq.Fragments, frag)
	if cfg.Metrics.PipelineMetrics {
		eq.Telemetry = append(eq.Telemetry, exec.OperatingUnitFeature{
			PipelineName: frag.Name,
			OperatorKind: q.Root.Kind(),
		})
	}
	return eq, nil
}

func compileCTEFragment(ctx *Ctx, cte plan.CTEPlan, cfg config.Config) (*exec.Fragment, error) {
	name := "cte:" + cte.Name
	mod := exec.NewModule()

	var op Operator
	build := func() error {
		var err error
		op, err = buildProjected(ctx, cte.Root, cte.Project)
		return err
	}
	if cfg.Compilation == config.CompileOneShot {
		if err := build(); err != nil {
			return nil, err
		}
	}

	mod.Define(name+":init", func(rc *exec.RunContext, qs *exec.QueryState) error {
		if op == nil {
			if err := build(); err != nil {
				return err
			}
		}
		return nil
	})
	mod.Define(name+":run", func(rc *exec.RunContext, qs *exec.QueryState) error {
		return ctx.RunCTE(cte.Name, op)
	})
	mod.Define(name+":teardown", func(rc *exec.RunContext, qs *exec.QueryState) error {
		ctx.ReleaseCTE(cte.Name)
		return nil
	})

	return &exec.Fragment{
		Name:     name,
		Module:   mod,
		Init:     name + ":init",
		Work:     []string{name + ":run"},
		TearDown: []string{name + ":teardown"},
	}, nil
}

func compileMainFragment(ctx *Ctx, q *plan.Query, cfg config.Config) (*exec.Fragment, error) {
	mod := exec.NewModule()

	var eagerOp Operator
	if cfg.Compilation == config.CompileOneShot {
		var err error
		eagerOp, err = buildProjected(ctx, q.Root, q.Project)
		if err != nil {
			return nil, err
		}
	}

	mod.Define("main:init", func(rc *exec.RunContext, qs *exec.QueryState) error {
		op := eagerOp
		if op == nil {
			var err error
			op, err = buildProjected(ctx, q.Root, q.Project)
			if err != nil {
				return err
			}
		}
		qs.Set(slotMainOp, op)
		return op.Open(ctx)
	})
	mod.Define("main:run", func(rc *exec.RunContext, qs *exec.QueryState) error {
		op, ok := qs.Get(slotMainOp).(Operator)
		if !ok {
			return fmt.Errorf("translator: query state holds no operator")
		}
		for {
			t, ok, err := op.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if rc.Emit != nil {
				if err := rc.Emit(t); err != nil {
					return err
				}
			}
		}
		if ar, ok := unwrapAffected(op); ok {
			exec.ExecCtxAddRowsAffected(rc, ar.Affected())
		}
		return nil
	})
	mod.Define("main:teardown", func(rc *exec.RunContext, qs *exec.QueryState) error {
		op, ok := qs.Get(slotMainOp).(Operator)
		if !ok {
			return nil
		}
		qs.Set(slotMainOp, nil)
		return op.Close(ctx)
	})

	return &exec.Fragment{
		Name:     "main",
		Module:   mod,
		Init:     "main:init",
		Work:     []string{"main:run"},
		TearDown: []string{"main:teardown"},
	}, nil
}

func unwrapAffected(op Operator) (affectedReporter, bool) {
	for {
		if ar, ok := op.(affectedReporter); ok {
			return ar, true
		}
		switch o := op.(type) {
		case *projectOp:
			op = o.child
		default:
			return nil, false
		}
	}
}
