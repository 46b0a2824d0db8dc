package ir

import "fmt"

// AggKind names a built-in aggregate function. User-defined aggregates
// beyond this set are not supported.
type AggKind uint8

const (
	AggCount AggKind = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
)

// ParseAggKind maps a pg_proc-resolved aggregate name to its AggKind. star
// indicates the call was COUNT(*) rather than COUNT(expr).
func ParseAggKind(name string, star bool) (AggKind, error) {
	switch name {
	case "count":
		if star {
			return AggCountStar, nil
		}
		return AggCount, nil
	case "sum":
		return AggSum, nil
	case "avg":
		return AggAvg, nil
	case "min":
		return AggMin, nil
	case "max":
		return AggMax, nil
	default:
		return 0, fmt.Errorf("ir: unknown aggregate function %q", name)
	}
}

// Accumulator folds a stream of Values (or, for AggCountStar, row arrivals
// with no argument) into a running aggregate result. One Accumulator
// instance lives per (group, aggregate-expression) pair in a hash or
// sort-group-by's payload.
type Accumulator struct {
	kind    AggKind
	count   int64
	sum     float64
	sumIsInt bool
	sumInt  int64
	min     Value
	max     Value
	hasMin  bool
}

// NewAccumulator returns a fresh, zero-valued accumulator for kind.
func NewAccumulator(kind AggKind) *Accumulator {
	return &Accumulator{kind: kind, sumIsInt: true}
}

// Accumulate folds one row's argument value in. v is the zero Value for
// AggCountStar, which never inspects it.
func (a *Accumulator) Accumulate(v Value) {
	if a.kind == AggCountStar {
		a.count++
		return
	}
	if v.IsNull() {
		return
	}
	a.count++
	switch a.kind {
	case AggCount:
		// count(expr) already counted above via a.count++; nothing more
		// to accumulate.
	case AggSum, AggAvg:
		if v.Kind == KindInt && a.sumIsInt {
			a.sumInt += v.Int
		} else {
			if a.sumIsInt {
				a.sum = float64(a.sumInt)
				a.sumIsInt = false
			}
			a.sum += v.AsFloat()
		}
	case AggMin:
		if !a.hasMin {
			a.min, a.hasMin = v, true
		} else if lt, ok := Compare("<", v, a.min); ok && lt {
			a.min = v
		}
	case AggMax:
		if !a.hasMin {
			a.max, a.hasMin = v, true
		} else if gt, ok := Compare(">", v, a.max); ok && gt {
			a.max = v
		}
	}
}

// Result produces the accumulator's final Value. SUM/AVG/MIN/MAX over no
// rows yield NULL; COUNT(*) and COUNT(expr) yield 0.
func (a *Accumulator) Result() Value {
	switch a.kind {
	case AggCount, AggCountStar:
		return IntValue(a.count)
	case AggSum:
		if a.count == 0 {
			return Null
		}
		if a.sumIsInt {
			return IntValue(a.sumInt)
		}
		return FloatValue(a.sum)
	case AggAvg:
		if a.count == 0 {
			return Null
		}
		total := a.sum
		if a.sumIsInt {
			total = float64(a.sumInt)
		}
		return FloatValue(total / float64(a.count))
	case AggMin:
		if !a.hasMin {
			return Null
		}
		return a.min
	case AggMax:
		if !a.hasMin {
			return Null
		}
		return a.max
	default:
		return Null
	}
}
