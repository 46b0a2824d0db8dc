package optimizer

import "github.com/relcore/enginecore/internal/plan"

// CostModel computes the cost of one physical alternative given its already
// -costed children ("the optimizer asks for ComputeCost
// (group_expr, required_props, child_costs[]) during physical-plan
// selection"). Pluggable so a production deployment can swap in a
// statistics-driven model without touching the search loop; coefficient
// tuning is deliberately out of scope for this core.
type CostModel interface {
	ComputeCost(expr GroupExpression, required plan.PropertySet, childCosts []float64) float64
}

// TrivialCostModel is the core's shipped default: a flat per-operator-kind
// constant plus the sum of child costs, with no cardinality estimation
// beyond distinguishing a handful of relative orderings (seq scan costs
// more than an index scan of the same table, a hash join costs less than
// a nested-loop join).
type TrivialCostModel struct{}

func (TrivialCostModel) ComputeCost(expr GroupExpression, required plan.PropertySet, childCosts []float64) float64 {
	sum := 0.0
	for _, c := range childCosts {
		sum += c
	}
	return sum + opCost(expr.Physical)
}

func opCost(op plan.PhysicalOp) float64 {
	switch op.(type) {
	case plan.SeqScan:
		return 100
	case plan.IndexScan:
		return 10
	case plan.HashJoin:
		return 50
	case plan.NLJoin:
		return 200
	case plan.IndexNLJoin:
		return 30
	case plan.HashAggregate:
		return 40
	case plan.SortGroupBy:
		return 20
	case plan.Sort:
		return 60
	case plan.TopK:
		return 15
	case plan.Limit:
		return 1
	case plan.CTEScan, plan.CSVScan, plan.Values:
		return 5
	case plan.Insert, plan.Update, plan.Delete:
		return 10
	case plan.Filter:
		return 5
	default:
		return 1
	}
}
