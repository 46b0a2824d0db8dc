package plan

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/relcore/enginecore/internal/oid"
)

func roundTripExpr(t *testing.T, e Expression) Expression {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeExpression(raw)
	if err != nil {
		t.Fatal(err)
	}
	return back
}

func TestExpressionJSONRoundTrip(t *testing.T) {
	e := BinaryOp{
		Op: "AND",
		Left: BinaryOp{
			Op:    "<",
			Left:  ColumnRef{Table: 100, Column: 200, Type: oid.TypeInt4},
			Right: Literal{Type: oid.TypeInt4, Value: float64(50)},
		},
		Right: UnaryOp{
			Op:   "NOT",
			Expr: FuncCall{Name: "bool_fn", ReturnType: oid.TypeBool, Args: []Expression{Param{Number: 1, Type: oid.TypeInt4}}},
		},
	}
	back := roundTripExpr(t, e)
	if !reflect.DeepEqual(e, back) {
		t.Fatalf("round trip changed expression:\n%#v\n%#v", e, back)
	}
}

func TestLogicalOpJSONRoundTrip(t *testing.T) {
	op := LogicalLimit{
		Input: LogicalSort{
			Input: LogicalFilter{
				Input:     LogicalGet{Table: 42},
				Predicate: ColumnRef{Table: 42, Column: 7, Type: oid.TypeBool},
			},
			Keys: []SortKey{{Expr: ColumnRef{Table: 42, Column: 7, Type: oid.TypeInt4}, Desc: true}},
		},
		Count: Literal{Type: oid.TypeInt4, Value: float64(10)},
	}
	raw, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeLogicalOp(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(op, back) {
		t.Fatalf("round trip changed plan:\n%#v\n%#v", op, back)
	}
}

func TestKindTagsAreStable(t *testing.T) {
	raw, err := json.Marshal(LogicalGet{Table: 1})
	if err != nil {
		t.Fatal(err)
	}
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatal(err)
	}
	if probe.Kind != "logical_get" {
		t.Fatalf("kind tag = %q", probe.Kind)
	}
}

func TestLogicalValuesRoundTrip(t *testing.T) {
	op := LogicalInsert{
		Table: 9,
		Input: LogicalValues{Rows: [][]Expression{
			{Literal{Type: oid.TypeInt4, Value: float64(1)}, Literal{Type: oid.TypeText, Value: "x"}},
		}},
	}
	raw, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeLogicalOp(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(op, back) {
		t.Fatalf("round trip changed plan:\n%#v\n%#v", op, back)
	}
}
