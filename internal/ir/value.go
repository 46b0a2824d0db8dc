// Package ir defines the typed intermediate representation the
// translators emit: a small scalar Value union, a tree of compiled Expr
// nodes (one per expression translator kind: column value, constant,
// parameter value, comparison, conjunction, arithmetic, unary, null-check,
// function, derived value, star), and the built-in function/aggregate
// registry the function translator compiles FuncCall against.
//
// This is an interpreter of a typed IR rather than JIT target codegen:
// every Expr's Eval method *is* the interpreter step for that node — no
// separate bytecode, no compile-to-closure pass beyond what
// internal/translator already does when it builds the Expr tree once per
// statement.
package ir

import (
	"fmt"
	"math"
)

// Kind tags which alternative of Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
)

// Value is the runtime scalar value every Expr.Eval returns and every
// operator passes between pipeline stages, as a Tuple's elements.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Bytes []byte
}

// Null is the SQL NULL value.
var Null = Value{Kind: KindNull}

func BoolValue(b bool) Value    { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value    { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat coerces an Int or Float value to float64 for mixed-type
// arithmetic/comparison; it panics on a non-numeric Kind, since the
// binder and optimizer must have already rejected non-numeric arithmetic
// before Expr ever sees it.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Int)
	case KindFloat:
		return v.Float
	default:
		panic(fmt.Sprintf("ir: AsFloat on non-numeric value kind %d", v.Kind))
	}
}

func (v Value) isNumeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// Tuple is one row's worth of already-evaluated output values, addressed
// positionally — the runtime counterpart of plan.OutputCol's ordering and
// of a translator's GetChildOutput(attr_idx) contract.
type Tuple []Value

// Compare implements the six comparison operators over two Values,
// promoting int/float pairs to float64 and falling back to byte-slice
// comparison for KindBytes. NULL compares as NULL (returns ok=false, the
// caller's three-valued-logic boundary): a NULL operand in a WHERE/ON
// predicate behaves as "not satisfied", honoring the boolean-only
// predicate rule without implementing full SQL three-valued logic
// in every caller.
func Compare(op string, a, b Value) (bool, bool) {
	if a.IsNull() || b.IsNull() {
		return false, false
	}
	switch {
	case a.isNumeric() && b.isNumeric():
		af, bf := a.AsFloat(), b.AsFloat()
		return compareFloat(op, af, bf), true
	case a.Kind == KindBool && b.Kind == KindBool:
		return compareBool(op, a.Bool, b.Bool), true
	case a.Kind == KindBytes && b.Kind == KindBytes:
		return compareBytes(op, a.Bytes, b.Bytes), true
	default:
		return false, false
	}
}

func compareFloat(op string, a, b float64) bool {
	switch op {
	case "=":
		return a == b
	case "<>", "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	default:
		return false
	}
}

func compareBool(op string, a, b bool) bool {
	switch op {
	case "=":
		return a == b
	case "<>", "!=":
		return a != b
	default:
		return false
	}
}

func compareBytes(op string, a, b []byte) bool {
	cmp := 0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				cmp = -1
			} else {
				cmp = 1
			}
			break
		}
	}
	if cmp == 0 {
		switch {
		case len(a) < len(b):
			cmp = -1
		case len(a) > len(b):
			cmp = 1
		}
	}
	switch op {
	case "=":
		return cmp == 0
	case "<>", "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

// Arith implements the four arithmetic operators plus modulo over numeric
// Values, returning Null on a NULL operand and an error on a non-numeric
// operand (the binder is responsible for rejecting non-numeric arithmetic
// before compile time; this is a runtime defense, not a type-checking
// pass).
func Arith(op string, a, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		return Null, nil
	}
	if !a.isNumeric() || !b.isNumeric() {
		return Value{}, fmt.Errorf("ir: arithmetic %q on non-numeric operand", op)
	}
	if a.Kind == KindInt && b.Kind == KindInt {
		switch op {
		case "+":
			return IntValue(a.Int + b.Int), nil
		case "-":
			return IntValue(a.Int - b.Int), nil
		case "*":
			return IntValue(a.Int * b.Int), nil
		case "/":
			if b.Int == 0 {
				return Value{}, fmt.Errorf("ir: division by zero")
			}
			return IntValue(a.Int / b.Int), nil
		case "%":
			if b.Int == 0 {
				return Value{}, fmt.Errorf("ir: division by zero")
			}
			return IntValue(a.Int % b.Int), nil
		}
	}
	af, bf := a.AsFloat(), b.AsFloat()
	switch op {
	case "+":
		return FloatValue(af + bf), nil
	case "-":
		return FloatValue(af - bf), nil
	case "*":
		return FloatValue(af * bf), nil
	case "/":
		if bf == 0 {
			return Value{}, fmt.Errorf("ir: division by zero")
		}
		return FloatValue(af / bf), nil
	case "%":
		if bf == 0 {
			return Value{}, fmt.Errorf("ir: division by zero")
		}
		return FloatValue(math.Mod(af, bf)), nil
	default:
		return Value{}, fmt.Errorf("ir: unknown arithmetic operator %q", op)
	}
}

// Truthy applies SQL WHERE-clause boolean semantics: NULL and non-bool
// are not-satisfied; the predicate must evaluate to boolean.
func Truthy(v Value) bool {
	return v.Kind == KindBool && v.Bool
}
