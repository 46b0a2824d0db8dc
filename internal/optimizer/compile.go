package optimizer

import (
	"time"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/txn"
)

// OptimizeQuery turns a bound LogicalOp tree plus its output column list
// into a plan.Query: the chosen PhysicalOp tree plus, for a SELECT, the
// top-level projection expressions evaluated once per row. logicalRoot
// always has an empty required PropertySet at the top: an ORDER BY becomes
// a LogicalSort node the optimizer satisfies or enforces while recursing,
// never a property the caller imposes from outside.
func OptimizeQuery(db *catalog.DatabaseCatalog, tx *txn.Context, logicalRoot plan.LogicalOp, cols []plan.OutputCol, ctes []plan.LogicalCTE, timeoutMS int) (*plan.Query, error) {
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	optimizeOne := func(logical plan.LogicalOp) (plan.PhysicalOp, []plan.Expression, error) {
		var project []plan.Expression
		root := logical
		if p, ok := logical.(plan.LogicalProject); ok {
			project = p.Exprs
			root = p.Input
		}
		// A FROM-less SELECT bottoms out at a bare LogicalProject; it
		// produces exactly one row.
		if p, ok := root.(plan.LogicalProject); ok && p.Input == nil {
			root = plan.LogicalValues{Rows: [][]plan.Expression{{}}}
		}
		if root == nil {
			root = plan.LogicalValues{Rows: [][]plan.Expression{{}}}
		}
		m := NewMemo(db, tx, TrivialCostModel{})
		phys, err := Optimize(m, m.InsertLogical(root), plan.PropertySet{}, timeout)
		if err != nil {
			return nil, nil, err
		}
		return phys, project, nil
	}

	q := &plan.Query{Columns: cols}
	for _, cte := range ctes {
		phys, project, err := optimizeOne(cte.Root)
		if err != nil {
			return nil, err
		}
		q.CTEs = append(q.CTEs, plan.CTEPlan{
			Name:    cte.Name,
			Root:    phys,
			Columns: cte.Columns,
			Project: project,
			OutRefs: cte.OutRefs,
		})
	}

	phys, project, err := optimizeOne(logicalRoot)
	if err != nil {
		return nil, err
	}
	q.Root = phys
	q.Project = project
	return q, nil
}
