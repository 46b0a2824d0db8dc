package plan

import (
	"encoding/json"
	"fmt"
)

func (n LogicalGet) MarshalJSON() ([]byte, error)     { type alias LogicalGet; return withKind(n.Kind(), alias(n)) }
func (n LogicalCTEScan) MarshalJSON() ([]byte, error) { type alias LogicalCTEScan; return withKind(n.Kind(), alias(n)) }

func (n LogicalFilter) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Input     json.RawMessage `json:"input"`
		Predicate json.RawMessage `json:"predicate"`
	}{mustMarshal(n.Input), mustMarshal(n.Predicate)})
}

func (n LogicalProject) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Input json.RawMessage   `json:"input"`
		Exprs []json.RawMessage `json:"exprs"`
	}{mustMarshal(n.Input), marshalExprList(n.Exprs)})
}

func (n LogicalJoin) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		JoinKind  JoinKind        `json:"join_kind"`
		Left      json.RawMessage `json:"left"`
		Right     json.RawMessage `json:"right"`
		Condition json.RawMessage `json:"condition"`
	}{n.JoinType, mustMarshal(n.Left), mustMarshal(n.Right), mustMarshal(n.Condition)})
}

func (n LogicalAggregate) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Input      json.RawMessage   `json:"input"`
		GroupBy    []json.RawMessage `json:"group_by"`
		Aggregates []json.RawMessage `json:"aggregates"`
	}{mustMarshal(n.Input), marshalExprList(n.GroupBy), marshalFuncCallList(n.Aggregates)})
}

func (n LogicalSort) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Input json.RawMessage `json:"input"`
		Keys  []sortKeyJSON   `json:"keys"`
	}{mustMarshal(n.Input), marshalSortKeys(n.Keys)})
}

func (n LogicalLimit) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Input  json.RawMessage `json:"input"`
		Count  json.RawMessage `json:"count,omitempty"`
		Offset json.RawMessage `json:"offset,omitempty"`
	}{mustMarshal(n.Input), mustMarshal(n.Count), mustMarshal(n.Offset)})
}

func (n LogicalValues) MarshalJSON() ([]byte, error) {
	rows := make([][]json.RawMessage, len(n.Rows))
	for i, row := range n.Rows {
		rows[i] = marshalExprList(row)
	}
	return withKind(n.Kind(), struct {
		Rows [][]json.RawMessage `json:"rows"`
	}{rows})
}

func (n LogicalInsert) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Table uint32          `json:"table"`
		Input json.RawMessage `json:"input"`
	}{uint32(n.Table), mustMarshal(n.Input)})
}

func (n LogicalUpdate) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Table       uint32            `json:"table"`
		Input       json.RawMessage   `json:"input"`
		Assignments []json.RawMessage `json:"assignments"`
	}{uint32(n.Table), mustMarshal(n.Input), marshalExprList(n.Assignments)})
}

func (n LogicalDelete) MarshalJSON() ([]byte, error) {
	return withKind(n.Kind(), struct {
		Table uint32          `json:"table"`
		Input json.RawMessage `json:"input"`
	}{uint32(n.Table), mustMarshal(n.Input)})
}

// DecodeLogicalOp parses raw into the concrete LogicalOp variant its "kind"
// discriminant names.
func DecodeLogicalOp(raw json.RawMessage) (LogicalOp, error) {
	kind, err := peekKind(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "logical_get":
		var v LogicalGet
		return v, json.Unmarshal(raw, &v)
	case "logical_cte_scan":
		var v LogicalCTEScan
		return v, json.Unmarshal(raw, &v)
	case "logical_filter":
		var aux struct {
			Input     json.RawMessage `json:"input"`
			Predicate json.RawMessage `json:"predicate"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		pred, err := DecodeExpression(aux.Predicate)
		if err != nil {
			return nil, err
		}
		return LogicalFilter{Input: input, Predicate: pred}, nil
	case "logical_project":
		var aux struct {
			Input json.RawMessage   `json:"input"`
			Exprs []json.RawMessage `json:"exprs"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		exprs, err := decodeExprList(aux.Exprs)
		if err != nil {
			return nil, err
		}
		return LogicalProject{Input: input, Exprs: exprs}, nil
	case "logical_join":
		var aux struct {
			JoinKind  JoinKind        `json:"join_kind"`
			Left      json.RawMessage `json:"left"`
			Right     json.RawMessage `json:"right"`
			Condition json.RawMessage `json:"condition"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		left, err := DecodeLogicalOp(aux.Left)
		if err != nil {
			return nil, err
		}
		right, err := DecodeLogicalOp(aux.Right)
		if err != nil {
			return nil, err
		}
		cond, err := DecodeExpression(aux.Condition)
		if err != nil {
			return nil, err
		}
		return LogicalJoin{JoinType: aux.JoinKind, Left: left, Right: right, Condition: cond}, nil
	case "logical_aggregate":
		var aux struct {
			Input      json.RawMessage   `json:"input"`
			GroupBy    []json.RawMessage `json:"group_by"`
			Aggregates []json.RawMessage `json:"aggregates"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		groupBy, err := decodeExprList(aux.GroupBy)
		if err != nil {
			return nil, err
		}
		aggs, err := decodeFuncCallList(aux.Aggregates)
		if err != nil {
			return nil, err
		}
		return LogicalAggregate{Input: input, GroupBy: groupBy, Aggregates: aggs}, nil
	case "logical_sort":
		var aux struct {
			Input json.RawMessage `json:"input"`
			Keys  []sortKeyJSON   `json:"keys"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		keys, err := decodeSortKeys(aux.Keys)
		if err != nil {
			return nil, err
		}
		return LogicalSort{Input: input, Keys: keys}, nil
	case "logical_limit":
		var aux struct {
			Input  json.RawMessage `json:"input"`
			Count  json.RawMessage `json:"count"`
			Offset json.RawMessage `json:"offset"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		count, err := decodeOptionalExpr(aux.Count)
		if err != nil {
			return nil, err
		}
		offset, err := decodeOptionalExpr(aux.Offset)
		if err != nil {
			return nil, err
		}
		return LogicalLimit{Input: input, Count: count, Offset: offset}, nil
	case "logical_values":
		var aux struct {
			Rows [][]json.RawMessage `json:"rows"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		rows := make([][]Expression, len(aux.Rows))
		for i, raw := range aux.Rows {
			exprs, err := decodeExprList(raw)
			if err != nil {
				return nil, err
			}
			rows[i] = exprs
		}
		return LogicalValues{Rows: rows}, nil
	case "logical_insert":
		var aux struct {
			Table uint32          `json:"table"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		return LogicalInsert{Table: oidFrom(aux.Table), Input: input}, nil
	case "logical_update":
		var aux struct {
			Table       uint32            `json:"table"`
			Input       json.RawMessage   `json:"input"`
			Assignments []json.RawMessage `json:"assignments"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		assignments, err := decodeExprList(aux.Assignments)
		if err != nil {
			return nil, err
		}
		return LogicalUpdate{Table: oidFrom(aux.Table), Input: input, Assignments: assignments}, nil
	case "logical_delete":
		var aux struct {
			Table uint32          `json:"table"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		input, err := DecodeLogicalOp(aux.Input)
		if err != nil {
			return nil, err
		}
		return LogicalDelete{Table: oidFrom(aux.Table), Input: input}, nil
	default:
		return nil, fmt.Errorf("plan: unknown logical op kind %q", kind)
	}
}

func decodeOptionalExpr(raw json.RawMessage) (Expression, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return DecodeExpression(raw)
}
