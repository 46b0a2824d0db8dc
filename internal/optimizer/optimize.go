package optimizer

import (
	"fmt"
	"time"

	"github.com/relcore/enginecore/internal/plan"
)

// task is one unit of work on the optimizer's LIFO stack.
// This core's search space needs only one task kind in practice — optimize
// this group against this required PropertySet — since logical exploration
// is a no-op and physical
// implementation/costing/property-derivation all happen synchronously
// inside a single task's Run, recursing onto the same stack for children.
type task struct {
	group    GroupID
	required plan.PropertySet
}

// Search drives one Optimize call: the task stack, the deadline derived
// from task_execution_timeout, and a reference to the memo it is filling
// in with OptimizationContexts as groups are visited.
type Search struct {
	memo     *Memo
	stack    []task
	deadline time.Time
	timedOut bool
}

// Optimize runs the `Optimize(root_group, required_props)` loop:
// seed the task stack with the root group and required properties, process
// tasks until the stack empties or task_execution_timeout elapses. On
// timeout, the best plan found so far for the root is returned if one
// exists; otherwise (per "else the loop continues until at least
// one complete plan exists") the search keeps going with the deadline
// cleared until a first complete plan is produced.
func Optimize(m *Memo, root GroupID, required plan.PropertySet, timeout time.Duration) (plan.PhysicalOp, error) {
	s := &Search{memo: m, deadline: time.Now().Add(timeout)}
	s.stack = append(s.stack, task{group: root, required: required})
	if err := s.run(); err != nil {
		return nil, err
	}

	ctx := m.group(root).Contexts[keyOf(required)]
	if ctx != nil && ctx.done {
		return ctx.Best, nil
	}

	// Timed out with nothing yet: keep going without a deadline until the
	// root group has a complete plan.
	s.deadline = time.Time{}
	s.stack = append(s.stack, task{group: root, required: required})
	if err := s.run(); err != nil {
		return nil, err
	}
	ctx = m.group(root).Contexts[keyOf(required)]
	return ctx.Best, nil
}

func (s *Search) run() error {
	for len(s.stack) > 0 {
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			s.timedOut = true
			return nil
		}
		t := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		if err := s.optimizeGroup(t.group, t.required); err != nil {
			return err
		}
	}
	return nil
}

// optimizeGroup computes group's best PhysicalOp for required, memoizing
// the result on the group's OptimizationContext map so re-visiting the
// same (group, required) pair — common once join/aggregate alternatives
// share children — is free.
func (s *Search) optimizeGroup(group GroupID, required plan.PropertySet) error {
	g := s.memo.group(group)
	key := keyOf(required)
	if ctx, ok := g.Contexts[key]; ok && ctx.done {
		return nil
	}

	ge := g.Exprs[0]
	cands := s.memo.implement(ge, required)

	var bestOp plan.PhysicalOp
	bestCost := -1.0

	for _, c := range cands {
		childOps := make([]plan.PhysicalOp, len(c.childGroups))
		childCosts := make([]float64, len(c.childGroups))
		ok := true
		for i, cg := range c.childGroups {
			req := plan.PropertySet{}
			if i < len(c.childReq) {
				req = c.childReq[i]
			}
			if err := s.optimizeGroup(cg, req); err != nil {
				return err
			}
			cctx := s.memo.group(cg).Contexts[keyOf(req)]
			if cctx == nil || !cctx.done {
				ok = false
				break
			}
			childOps[i] = cctx.Best
			childCosts[i] = cctx.Cost
		}
		if !ok {
			continue
		}
		op := c.build(childOps)
		cost := s.memo.cost.ComputeCost(GroupExpression{Physical: op}, required, childCosts)
		if !sortSatisfies(op.Provides().Sort, required.Sort) {
			// This candidate doesn't naturally satisfy the requirement;
			// an enforcer (a Sort on top) would make it satisfy, but an
			// unenforced candidate with no sort requirement of its own is
			// only useful as the basis for enforcement below, not as a
			// direct winner.
			continue
		}
		if bestOp == nil || cost < bestCost {
			bestOp, bestCost = op, cost
		}
	}

	// Enforcement: if nothing directly satisfies required.Sort, optimize
	// the same group unconstrained and wrap the winner in a Sort. Property
	// derivation only ever removes a sort requirement by explicit
	// satisfaction; when no physical alternative supplies it, the search
	// must insert the enforcing operator itself.
	if bestOp == nil && len(required.Sort) > 0 {
		if err := s.optimizeGroup(group, plan.PropertySet{}); err != nil {
			return err
		}
		base := g.Contexts[keyOf(plan.PropertySet{})]
		if base != nil && base.done {
			enforced := plan.Sort{Input: base.Best, Keys: required.Sort}
			cost := s.memo.cost.ComputeCost(GroupExpression{Physical: enforced}, required, []float64{base.Cost})
			bestOp, bestCost = enforced, cost
		}
	}

	if bestOp == nil {
		// No candidate at all (e.g. unreachable plan shape); fall back to
		// the first candidate's unconstrained build so the search always
		// terminates with *some* plan rather than no plan: the loop
		// keeps going until at least one complete plan exists.
		if len(cands) == 0 {
			return fmt.Errorf("optimizer: no physical implementation for %s", ge.Logical.Kind())
		}
		c := cands[0]
		childOps := make([]plan.PhysicalOp, len(c.childGroups))
		for i, cg := range c.childGroups {
			if err := s.optimizeGroup(cg, plan.PropertySet{}); err != nil {
				return err
			}
			cctx := s.memo.group(cg).Contexts[keyOf(plan.PropertySet{})]
			if cctx != nil {
				childOps[i] = cctx.Best
			}
		}
		bestOp = c.build(childOps)
		bestCost = 0
	}

	g.Contexts[key] = &OptimizationContext{Required: required, Best: bestOp, Cost: bestCost, done: true}
	return nil
}
