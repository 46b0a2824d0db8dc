package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
)

// Format codes per the Postgres protocol: 0 = text, 1 = binary.
const (
	formatText   int16 = 0
	formatBinary int16 = 1
)

// decodeParam converts one Bind-message parameter into an ir.Value, honoring
// its per-parameter format code and the statement's bound parameter type.
// Integer widening during re-bind is representable-by-construction (the
// wire carries the digits); narrowing past the target type's range
// fails.
func decodeParam(raw []byte, format int16, t oid.OID) (ir.Value, error) {
	if raw == nil {
		return ir.Value{}, nil // NULL
	}
	if format == formatBinary {
		return decodeBinaryParam(raw, t)
	}
	s := string(raw)
	switch t {
	case oid.TypeBool:
		switch s {
		case "t", "true", "TRUE", "1":
			return ir.BoolValue(true), nil
		case "f", "false", "FALSE", "0":
			return ir.BoolValue(false), nil
		}
		return ir.Value{}, errs.New(errs.KindRuntime, errs.CodeSyntaxError, fmt.Sprintf("invalid boolean parameter %q", s))
	case oid.TypeInt2, oid.TypeInt4, oid.TypeInt8:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ir.Value{}, errs.New(errs.KindRuntime, errs.CodeSyntaxError, fmt.Sprintf("invalid integer parameter %q", s))
		}
		if err := checkIntRange(n, t); err != nil {
			return ir.Value{}, err
		}
		return ir.IntValue(n), nil
	case oid.TypeFloat4, oid.TypeFloat8, oid.TypeNumeric:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ir.Value{}, errs.New(errs.KindRuntime, errs.CodeSyntaxError, fmt.Sprintf("invalid numeric parameter %q", s))
		}
		return ir.FloatValue(f), nil
	default:
		return ir.BytesValue([]byte(s)), nil
	}
}

func decodeBinaryParam(raw []byte, t oid.OID) (ir.Value, error) {
	switch t {
	case oid.TypeBool:
		if len(raw) != 1 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary bool")
		}
		return ir.BoolValue(raw[0] != 0), nil
	case oid.TypeInt2:
		if len(raw) != 2 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary int2")
		}
		return ir.IntValue(int64(int16(binary.BigEndian.Uint16(raw)))), nil
	case oid.TypeInt4:
		if len(raw) != 4 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary int4")
		}
		return ir.IntValue(int64(int32(binary.BigEndian.Uint32(raw)))), nil
	case oid.TypeInt8:
		if len(raw) != 8 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary int8")
		}
		return ir.IntValue(int64(binary.BigEndian.Uint64(raw))), nil
	case oid.TypeFloat4:
		if len(raw) != 4 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary float4")
		}
		return ir.FloatValue(float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))), nil
	case oid.TypeFloat8:
		if len(raw) != 8 {
			return ir.Value{}, errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "malformed binary float8")
		}
		return ir.FloatValue(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
	default:
		return ir.BytesValue(append([]byte(nil), raw...)), nil
	}
}

func checkIntRange(n int64, t oid.OID) error {
	switch t {
	case oid.TypeInt2:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return errs.New(errs.KindRuntime, errs.CodeNumericOverflow, "smallint out of range")
		}
	case oid.TypeInt4:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return errs.New(errs.KindRuntime, errs.CodeNumericOverflow, "integer out of range")
		}
	}
	return nil
}

// encodeDatum renders one output value in the requested per-column result
// format. nil return means SQL NULL (length -1 on the wire, which pgproto3
// writes for a nil Values entry).
func encodeDatum(v ir.Value, t oid.OID, format int16) ([]byte, error) {
	if v.IsNull() {
		return nil, nil
	}
	if format == formatBinary {
		return encodeBinaryDatum(v, t)
	}
	return []byte(textDatum(v)), nil
}

func textDatum(v ir.Value) string {
	switch v.Kind {
	case ir.KindBool:
		if v.Bool {
			return "t"
		}
		return "f"
	case ir.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case ir.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ir.KindBytes:
		return string(v.Bytes)
	default:
		return ""
	}
}

func encodeBinaryDatum(v ir.Value, t oid.OID) ([]byte, error) {
	switch t {
	case oid.TypeBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case oid.TypeInt2:
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(int16(v.Int)))
		return out, nil
	case oid.TypeInt4:
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(int32(v.Int)))
		return out, nil
	case oid.TypeInt8:
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(v.Int))
		return out, nil
	case oid.TypeFloat4:
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, math.Float32bits(float32(v.AsFloat())))
		return out, nil
	case oid.TypeFloat8:
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, math.Float64bits(v.AsFloat()))
		return out, nil
	default:
		// Text-transparent types are identical in both formats.
		return []byte(textDatum(v)), nil
	}
}
