package plan

import (
	"encoding/json"
	"fmt"

	"github.com/relcore/enginecore/internal/oid"
)

func oidFrom(v uint32) oid.OID { return oid.OID(v) }

// JSON serialization of plan nodes is implemented once per layer
// (Expression, LogicalOp) rather than once per node: every concrete type
// gets a small
// MarshalJSON that tags its own "kind" discriminant, and each layer has one
// decode* factory that peeks the discriminant and dispatches to the right
// concrete type, recursively decoding any nested sum-type fields via
// json.RawMessage.

func withKind(kind string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	kb, _ := json.Marshal(kind)
	m["kind"] = kb
	return json.Marshal(m)
}

func peekKind(raw json.RawMessage) (string, error) {
	var peek struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", err
	}
	return peek.Kind, nil
}

// --- Expression -------------------------------------------------------

func (e ColumnRef) MarshalJSON() ([]byte, error) { type alias ColumnRef; return withKind(e.Kind(), alias(e)) }
func (e Literal) MarshalJSON() ([]byte, error)   { type alias Literal; return withKind(e.Kind(), alias(e)) }
func (e Param) MarshalJSON() ([]byte, error)     { type alias Param; return withKind(e.Kind(), alias(e)) }

func (e BinaryOp) MarshalJSON() ([]byte, error) {
	return withKind(e.Kind(), struct {
		Op    string          `json:"op"`
		Left  json.RawMessage `json:"left"`
		Right json.RawMessage `json:"right"`
	}{e.Op, mustMarshal(e.Left), mustMarshal(e.Right)})
}

func (e UnaryOp) MarshalJSON() ([]byte, error) {
	return withKind(e.Kind(), struct {
		Op   string          `json:"op"`
		Expr json.RawMessage `json:"expr"`
	}{e.Op, mustMarshal(e.Expr)})
}

func (e FuncCall) MarshalJSON() ([]byte, error) {
	args := make([]json.RawMessage, len(e.Args))
	for i, a := range e.Args {
		args[i] = mustMarshal(a)
	}
	type alias struct {
		Proc       uint32            `json:"proc"`
		Name       string            `json:"name"`
		Args       []json.RawMessage `json:"args"`
		ReturnType uint32            `json:"return_type"`
	}
	return withKind(e.Kind(), alias{uint32(e.Proc), e.Name, args, uint32(e.ReturnType)})
}

func (e Case) MarshalJSON() ([]byte, error) {
	type whenJSON struct {
		When json.RawMessage `json:"when"`
		Then json.RawMessage `json:"then"`
	}
	whens := make([]whenJSON, len(e.Args))
	for i, w := range e.Args {
		whens[i] = whenJSON{mustMarshal(w.When), mustMarshal(w.Then)}
	}
	var def json.RawMessage
	if e.Default != nil {
		def = mustMarshal(e.Default)
	}
	return withKind(e.Kind(), struct {
		Args    []whenJSON      `json:"args"`
		Default json.RawMessage `json:"default,omitempty"`
		Type    uint32          `json:"type"`
	}{whens, def, uint32(e.Type)})
}

func (e Cast) MarshalJSON() ([]byte, error) {
	return withKind(e.Kind(), struct {
		Expr json.RawMessage `json:"expr"`
		Type uint32          `json:"type"`
	}{mustMarshal(e.Expr), uint32(e.Type)})
}

func marshalExprList(exprs []Expression) []json.RawMessage {
	out := make([]json.RawMessage, len(exprs))
	for i, e := range exprs {
		out[i] = mustMarshal(e)
	}
	return out
}

func decodeExprList(raw []json.RawMessage) ([]Expression, error) {
	out := make([]Expression, len(raw))
	for i, r := range raw {
		e, err := DecodeExpression(r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func marshalFuncCallList(fns []FuncCall) []json.RawMessage {
	out := make([]json.RawMessage, len(fns))
	for i, f := range fns {
		out[i] = mustMarshal(f)
	}
	return out
}

func decodeFuncCallList(raw []json.RawMessage) ([]FuncCall, error) {
	out := make([]FuncCall, len(raw))
	for i, r := range raw {
		e, err := DecodeExpression(r)
		if err != nil {
			return nil, err
		}
		fc, ok := e.(FuncCall)
		if !ok {
			return nil, fmt.Errorf("plan: expected func_call, got %q", e.Kind())
		}
		out[i] = fc
	}
	return out, nil
}

type sortKeyJSON struct {
	Expr json.RawMessage `json:"expr"`
	Desc bool            `json:"desc"`
}

func marshalSortKeys(keys []SortKey) []sortKeyJSON {
	out := make([]sortKeyJSON, len(keys))
	for i, k := range keys {
		out[i] = sortKeyJSON{mustMarshal(k.Expr), k.Desc}
	}
	return out
}

func decodeSortKeys(raw []sortKeyJSON) ([]SortKey, error) {
	out := make([]SortKey, len(raw))
	for i, k := range raw {
		e, err := DecodeExpression(k.Expr)
		if err != nil {
			return nil, err
		}
		out[i] = SortKey{Expr: e, Desc: k.Desc}
	}
	return out, nil
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// DecodeExpression parses raw into the concrete Expression variant its
// "kind" discriminant names.
func DecodeExpression(raw json.RawMessage) (Expression, error) {
	kind, err := peekKind(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "column_ref":
		var v ColumnRef
		return v, json.Unmarshal(raw, &v)
	case "literal":
		var v Literal
		return v, json.Unmarshal(raw, &v)
	case "param":
		var v Param
		return v, json.Unmarshal(raw, &v)
	case "binary_op":
		var aux struct {
			Op    string          `json:"op"`
			Left  json.RawMessage `json:"left"`
			Right json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		left, err := DecodeExpression(aux.Left)
		if err != nil {
			return nil, err
		}
		right, err := DecodeExpression(aux.Right)
		if err != nil {
			return nil, err
		}
		return BinaryOp{Op: aux.Op, Left: left, Right: right}, nil
	case "unary_op":
		var aux struct {
			Op   string          `json:"op"`
			Expr json.RawMessage `json:"expr"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		inner, err := DecodeExpression(aux.Expr)
		if err != nil {
			return nil, err
		}
		return UnaryOp{Op: aux.Op, Expr: inner}, nil
	case "func_call":
		var aux struct {
			Proc       uint32            `json:"proc"`
			Name       string            `json:"name"`
			Args       []json.RawMessage `json:"args"`
			ReturnType uint32            `json:"return_type"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		args := make([]Expression, len(aux.Args))
		for i, a := range aux.Args {
			args[i], err = DecodeExpression(a)
			if err != nil {
				return nil, err
			}
		}
		return FuncCall{Proc: oidFrom(aux.Proc), Name: aux.Name, Args: args, ReturnType: oidFrom(aux.ReturnType)}, nil
	case "case":
		var aux struct {
			Args []struct {
				When json.RawMessage `json:"when"`
				Then json.RawMessage `json:"then"`
			} `json:"args"`
			Default json.RawMessage `json:"default"`
			Type    uint32          `json:"type"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		whens := make([]CaseWhen, len(aux.Args))
		for i, w := range aux.Args {
			when, err := DecodeExpression(w.When)
			if err != nil {
				return nil, err
			}
			then, err := DecodeExpression(w.Then)
			if err != nil {
				return nil, err
			}
			whens[i] = CaseWhen{When: when, Then: then}
		}
		var def Expression
		if len(aux.Default) > 0 && string(aux.Default) != "null" {
			def, err = DecodeExpression(aux.Default)
			if err != nil {
				return nil, err
			}
		}
		return Case{Args: whens, Default: def, Type: oidFrom(aux.Type)}, nil
	case "cast":
		var aux struct {
			Expr json.RawMessage `json:"expr"`
			Type uint32          `json:"type"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		inner, err := DecodeExpression(aux.Expr)
		if err != nil {
			return nil, err
		}
		return Cast{Expr: inner, Type: oidFrom(aux.Type)}, nil
	default:
		return nil, fmt.Errorf("plan: unknown expression kind %q", kind)
	}
}
