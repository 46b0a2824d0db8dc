package translator

import (
	"fmt"
	"reflect"

	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
)

// Schema is the positional output shape an expression is compiled against:
// which plan.ColumnRef (table, column) OID pair, or which whole expression
// tree (a group-by key or an aggregate result a HashAggregate/SortGroupBy
// has already computed), lives at which Tuple position in the operator this
// expression will run inside. Every operator's translator builds one of
// these for its own output and for each child's output before calling
// CompileExpr.
type Schema struct {
	positions map[colKey]int
	derived   []derivedEntry
}

type colKey struct {
	table, column oid.OID
}

type derivedEntry struct {
	expr plan.Expression
	pos  int
}

// NewSchema builds a Schema mapping each (table, column) OID pair in cols
// to its position — the shape a table scan or a join's concatenated row
// has.
func NewSchema(cols []plan.ColumnRef) *Schema {
	s := &Schema{positions: make(map[colKey]int, len(cols))}
	for i, c := range cols {
		s.positions[colKey{c.Table, c.Column}] = i
	}
	return s
}

// NewDerivedSchema builds a Schema over a list of arbitrary expressions,
// for a HashAggregate/SortGroupBy's output: position i holds exprs[i]'s
// computed value. A group-by expression that is itself a plain ColumnRef is
// also registered by (table, column) so an upstream ORDER BY/projection can
// still reference the grouped column directly.
func NewDerivedSchema(exprs []plan.Expression) *Schema {
	s := &Schema{positions: make(map[colKey]int), derived: make([]derivedEntry, len(exprs))}
	for i, e := range exprs {
		if cr, ok := e.(plan.ColumnRef); ok {
			s.positions[colKey{cr.Table, cr.Column}] = i
		}
		s.derived[i] = derivedEntry{expr: e, pos: i}
	}
	return s
}

// Concat builds the schema a join produces by placing left's columns first
// and right's columns after, at shifted positions.
func Concat(left, right *Schema) *Schema {
	s := &Schema{positions: make(map[colKey]int, len(left.positions)+len(right.positions))}
	for k, p := range left.positions {
		s.positions[k] = p
	}
	offset := leftWidth(left)
	for k, p := range right.positions {
		s.positions[k] = p + offset
	}
	s.derived = append(s.derived, left.derived...)
	for _, d := range right.derived {
		s.derived = append(s.derived, derivedEntry{expr: d.expr, pos: d.pos + offset})
	}
	return s
}

// leftWidth reports how many Tuple positions left's operator emits, used by
// Concat to shift the right child's positions. Schemas built by NewSchema
// size themselves by column count; schemas built by NewDerivedSchema size
// themselves by the largest position among their entries and derived
// expressions, plus one.
func leftWidth(s *Schema) int {
	max := -1
	for _, p := range s.positions {
		if p > max {
			max = p
		}
	}
	for _, d := range s.derived {
		if d.pos > max {
			max = d.pos
		}
	}
	return max + 1
}

// Lookup returns the position of (table, column) in s, or -1.
func (s *Schema) Lookup(table, column oid.OID) int {
	if p, ok := s.positions[colKey{table, column}]; ok {
		return p
	}
	return -1
}

// Match reports whether e, as a whole expression, already corresponds to one
// of s's output positions — either a (table, column) reference or (above an
// aggregate) a group-by/aggregate expression structurally identical to one
// s was built from.
func (s *Schema) Match(e plan.Expression) (int, bool) {
	if cr, ok := e.(plan.ColumnRef); ok {
		if p, ok := s.positions[colKey{cr.Table, cr.Column}]; ok {
			return p, true
		}
	}
	for _, d := range s.derived {
		if reflect.DeepEqual(d.expr, e) {
			return d.pos, true
		}
	}
	return -1, false
}

// CompileExpr compiles a bound plan.Expression into an ir.Expr against
// schema's column positions, dispatching one translator per expression
// kind: column value, constant, parameter value, comparison, conjunction,
// arithmetic, unary, null-check, function, derived value, star.
func CompileExpr(e plan.Expression, schema *Schema) (ir.Expr, error) {
	if pos, ok := schema.Match(e); ok {
		return ir.ColumnValue{Pos: pos}, nil
	}
	switch n := e.(type) {
	case plan.ColumnRef:
		return nil, errs.New(errs.KindCodegen, errs.CodeInternalError,
			fmt.Sprintf("translator: column (table=%d,col=%d) not found in operator's input schema", n.Table, n.Column))
	case plan.Literal:
		return ir.Constant{Value: literalValue(n)}, nil
	case plan.Param:
		return ir.ParamValue{Idx: int(n.Number) - 1}, nil
	case plan.BinaryOp:
		left, err := CompileExpr(n.Left, schema)
		if err != nil {
			return nil, err
		}
		right, err := CompileExpr(n.Right, schema)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "AND", "OR":
			return ir.Conjunction{Op: n.Op, Args: []ir.Expr{left, right}}, nil
		case "=", "<>", "!=", "<", "<=", ">", ">=":
			return ir.Comparison{Op: n.Op, Left: left, Right: right}, nil
		default:
			return ir.Arithmetic{Op: n.Op, Left: left, Right: right}, nil
		}
	case plan.UnaryOp:
		input, err := CompileExpr(n.Expr, schema)
		if err != nil {
			return nil, err
		}
		if n.Op == "IS NULL" || n.Op == "IS NOT NULL" {
			return ir.NullCheckExpr{Input: input, Not: n.Op == "IS NOT NULL"}, nil
		}
		return ir.UnaryExpr{Op: n.Op, Input: input}, nil
	case plan.FuncCall:
		args := make([]ir.Expr, len(n.Args))
		for i, a := range n.Args {
			ce, err := CompileExpr(a, schema)
			if err != nil {
				return nil, err
			}
			args[i] = ce
		}
		fn, ok := ir.Builtins[n.Name]
		if !ok {
			return nil, errs.NotImplemented(fmt.Sprintf("builtin function %q", n.Name))
		}
		return ir.FuncCallExpr{Name: n.Name, Fn: fn, Args: args}, nil
	case plan.Case:
		whens := make([]ir.CaseWhen, len(n.Args))
		for i, w := range n.Args {
			when, err := CompileExpr(w.When, schema)
			if err != nil {
				return nil, err
			}
			then, err := CompileExpr(w.Then, schema)
			if err != nil {
				return nil, err
			}
			whens[i] = ir.CaseWhen{When: when, Then: then}
		}
		var def ir.Expr
		if n.Default != nil {
			var err error
			def, err = CompileExpr(n.Default, schema)
			if err != nil {
				return nil, err
			}
		}
		return ir.Case{Whens: whens, Default: def}, nil
	case plan.Cast:
		input, err := CompileExpr(n.Expr, schema)
		if err != nil {
			return nil, err
		}
		return ir.Cast{Input: input, To: castTargetOf(n.Type)}, nil
	default:
		return nil, errs.NotImplemented(fmt.Sprintf("expression kind %q", e.Kind()))
	}
}

func literalValue(l plan.Literal) ir.Value {
	if l.Value == nil {
		return ir.Null
	}
	switch v := l.Value.(type) {
	case bool:
		return ir.BoolValue(v)
	case int64:
		return ir.IntValue(v)
	case int:
		return ir.IntValue(int64(v))
	case float64:
		return ir.FloatValue(v)
	case string:
		return ir.BytesValue([]byte(v))
	case []byte:
		return ir.BytesValue(v)
	default:
		return ir.Null
	}
}

func castTargetOf(t oid.OID) ir.TargetKind {
	switch t {
	case oid.TypeInt2, oid.TypeInt4, oid.TypeInt8:
		return ir.CastToInt
	case oid.TypeFloat4, oid.TypeFloat8, oid.TypeNumeric:
		return ir.CastToFloat
	default:
		return ir.CastToBytes
	}
}
