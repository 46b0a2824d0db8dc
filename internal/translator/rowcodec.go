package translator

import (
	"fmt"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/row"
)

// RowToTuple decodes a storage-layer Projected Row into an ir.Tuple
// positioned according to schema's column order, the boundary between the
// packed row format and the typed IR.
func RowToTuple(schema *catalog.Schema, r row.Row) ir.Tuple {
	t := make(ir.Tuple, len(schema.Columns))
	for i, col := range schema.Columns {
		t[i] = readColumn(r, col)
	}
	return t
}

func readColumn(r row.Row, col catalog.Column) ir.Value {
	if r.IsNull(col.ColID) {
		return ir.Null
	}
	switch row.FromSQLType(col.Type) {
	case row.KindBool:
		v, _ := r.GetBool(col.ColID)
		return ir.BoolValue(v)
	case row.KindInt2, row.KindInt4:
		v, _ := r.GetInt4(col.ColID)
		return ir.IntValue(int64(v))
	case row.KindInt8:
		v, _ := r.GetInt8(col.ColID)
		return ir.IntValue(v)
	case row.KindFloat4, row.KindFloat8:
		v, _ := r.GetFloat8(col.ColID)
		return ir.FloatValue(v)
	case row.KindVarlen:
		v, _ := r.GetVarlen(col.ColID)
		return ir.BytesValue(v)
	default:
		return ir.Null
	}
}

// TupleToRow encodes an ir.Tuple positioned according to schema's column
// order back into a Projected Row, for INSERT/UPDATE sinks.
func TupleToRow(schema *catalog.Schema, t ir.Tuple) (row.Row, error) {
	if len(t) != len(schema.Columns) {
		return nil, fmt.Errorf("translator: row codec: tuple width %d does not match schema width %d", len(t), len(schema.Columns))
	}
	init := row.NewInitializer(schema.Layout())
	b := row.NewBuilder(init)
	for i, col := range schema.Columns {
		v := t[i]
		if v.IsNull() {
			if !col.Nullable {
				return nil, fmt.Errorf("translator: row codec: column %q is NOT NULL", col.Name)
			}
			b.SetNull(col.ColID)
			continue
		}
		if err := writeColumn(b, col, v); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func writeColumn(b *row.Builder, col catalog.Column, v ir.Value) error {
	switch row.FromSQLType(col.Type) {
	case row.KindBool:
		b.SetBool(col.ColID, v.Bool)
	case row.KindInt2:
		b.SetInt2(col.ColID, int16(v.Int))
	case row.KindInt4:
		b.SetInt4(col.ColID, int32(v.Int))
	case row.KindInt8:
		b.SetInt8(col.ColID, v.Int)
	case row.KindFloat4:
		b.SetFloat4(col.ColID, float32(v.AsFloat()))
	case row.KindFloat8:
		b.SetFloat8(col.ColID, v.AsFloat())
	case row.KindVarlen:
		b.SetVarlen(col.ColID, v.Bytes)
	default:
		return fmt.Errorf("translator: row codec: column %q has unsupported type oid %d", col.Name, col.Type)
	}
	return nil
}

// KeyRow projects key columns (by position within schema) out of a full
// tuple into a standalone Projected Row, used to build an index key from
// a table row: every index key is a Projected Row over the indexed
// columns.
func KeyRow(schema *catalog.Schema, keyColOIDs []row.ColID, t ir.Tuple) (row.Row, error) {
	layout := make([]row.ColumnLayout, 0, len(keyColOIDs))
	cols := make([]catalog.Column, 0, len(keyColOIDs))
	for _, colID := range keyColOIDs {
		for _, c := range schema.Columns {
			if c.ColID == colID {
				layout = append(layout, row.ColumnLayout{ColumnID: c.ColID, Kind: row.FromSQLType(c.Type)})
				cols = append(cols, c)
				break
			}
		}
	}
	init := row.NewInitializer(layout)
	b := row.NewBuilder(init)
	for _, col := range cols {
		pos := schemaPos(schema, col.ColID)
		v := t[pos]
		if v.IsNull() {
			b.SetNull(col.ColID)
			continue
		}
		if err := writeColumn(b, col, v); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func schemaPos(schema *catalog.Schema, colID row.ColID) int {
	for i, c := range schema.Columns {
		if c.ColID == colID {
			return i
		}
	}
	return -1
}
