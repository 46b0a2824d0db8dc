package optimizer

import (
	"github.com/relcore/enginecore/internal/plan"
)

// sameColumn reports whether a and b are ColumnRef expressions naming the
// same (table, column) pair, the equality test every property-derivation
// rule below needs.
func sameColumn(a, b plan.Expression) bool {
	ca, ok1 := a.(plan.ColumnRef)
	cb, ok2 := b.(plan.ColumnRef)
	return ok1 && ok2 && ca.Table == cb.Table && ca.Column == cb.Column
}

// sortSatisfies reports whether provided (what a physical alternative
// actually produces) satisfies required (what the parent asked for):
// provided must be at least as long and agree column-for-column and
// direction-for-direction on every required prefix position.
func sortSatisfies(provided, required []plan.SortKey) bool {
	if len(provided) < len(required) {
		return false
	}
	for i, want := range required {
		got := provided[i]
		if want.Desc != got.Desc || !sameColumn(want.Expr, got.Expr) {
			return false
		}
	}
	return true
}
