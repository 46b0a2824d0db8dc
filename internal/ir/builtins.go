package ir

import (
	"bytes"
	"fmt"
	"strings"
)

// BuiltinFunc is a resolved scalar built-in's implementation: evaluate
// already-computed argument Values, return a result Value or a runtime
// error.
type BuiltinFunc func(args []Value) (Value, error)

// Builtins is the registry the function translator resolves a FuncCall's
// pg_proc name against.
var Builtins = map[string]BuiltinFunc{
	"upper":  builtinUpper,
	"lower":  builtinLower,
	"length": builtinLength,
	"abs":    builtinAbs,
	"coalesce": builtinCoalesce,
}

func builtinUpper(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("ir: upper() takes 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return Null, nil
	}
	return BytesValue([]byte(strings.ToUpper(string(args[0].Bytes)))), nil
}

func builtinLower(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("ir: lower() takes 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return Null, nil
	}
	return BytesValue([]byte(strings.ToLower(string(args[0].Bytes)))), nil
}

func builtinLength(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("ir: length() takes 1 argument, got %d", len(args))
	}
	if args[0].IsNull() {
		return Null, nil
	}
	return IntValue(int64(len(bytes.Runes(args[0].Bytes)))), nil
}

func builtinAbs(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("ir: abs() takes 1 argument, got %d", len(args))
	}
	v := args[0]
	if v.IsNull() {
		return Null, nil
	}
	if v.Kind == KindInt {
		if v.Int < 0 {
			return IntValue(-v.Int), nil
		}
		return v, nil
	}
	f := v.AsFloat()
	if f < 0 {
		f = -f
	}
	return FloatValue(f), nil
}

func builtinCoalesce(args []Value) (Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return Null, nil
}
