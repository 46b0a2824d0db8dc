package translator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/storage"
)

// columnRefsOf builds the ColumnRef list a table's full-row schema
// corresponds to, for use as a leaf operator's output Schema.
func columnRefsOf(schema *catalog.Schema) []plan.ColumnRef {
	cols := make([]plan.ColumnRef, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = plan.ColumnRef{Table: schema.TableOID, Column: c.OID, Type: c.Type}
	}
	return cols
}

// seqScanOp reads every visible row of a table in storage order, applying
// its pushed-down predicate through a FilterManager. This interpreter
// drives the scan on a single goroutine; see DESIGN.md for why the engine
// does not split seq scans across workers.
type seqScanOp struct {
	table  storage.Table
	schema *catalog.Schema
	fm     *FilterManager
	rows   []row.Row
	slots  []storage.Slot
	idx    int
	cur    storage.Slot
}

func buildSeqScan(ctx *Ctx, n plan.SeqScan) (Operator, *Schema, error) {
	tbl, ok := ctx.Storage.Table(n.Table)
	if !ok {
		return nil, nil, fmt.Errorf("translator: seq scan: table %d has no live storage object", n.Table)
	}
	tschema := ctx.Catalog.SchemaOf(ctx.Tx, n.Table)
	schema := NewSchema(columnRefsOf(tschema))
	fm, err := BuildFilterManager(n.Predicate, schema)
	if err != nil {
		return nil, nil, err
	}
	return &seqScanOp{table: tbl, schema: tschema, fm: fm}, schema, nil
}

func (s *seqScanOp) Open(ctx *Ctx) error {
	s.rows = s.rows[:0]
	s.slots = s.slots[:0]
	s.idx = 0
	return s.table.Scan(ctx.Tx, func(slot storage.Slot, r row.Row) bool {
		s.rows = append(s.rows, r)
		s.slots = append(s.slots, slot)
		return true
	})
}

func (s *seqScanOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for s.idx < len(s.rows) {
		r := s.rows[s.idx]
		s.cur = s.slots[s.idx]
		s.idx++
		t := RowToTuple(s.schema, r)
		ok, err := s.fm.Evaluate(t, ctx.Params)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return t, true, nil
		}
	}
	return nil, false, nil
}

func (s *seqScanOp) Close(ctx *Ctx) error { s.rows, s.slots = nil, nil; return nil }

// CurrentSlot reports the storage slot of the tuple the last Next call
// returned, for DML sinks addressing the row they are about to mutate.
func (s *seqScanOp) CurrentSlot() storage.Slot { return s.cur }

// indexScanOp reads a table through an index with one point ScanKey lookup
// on the index's first key column, keyed by Low (or by High when Low is
// nil). Matching rows come back in the order ScanKey returns their slots;
// no sort order is provided.
type indexScanOp struct {
	table   storage.Table
	index   storage.IndexKV
	schema  *catalog.Schema
	keyCols []row.ColID
	lowE    ir.Expr
	highE   ir.Expr
	slots   []storage.Slot
	idx     int
	cur     storage.Slot
}

func buildIndexScan(ctx *Ctx, n plan.IndexScan) (Operator, *Schema, error) {
	tbl, ok := ctx.Storage.Table(n.Table)
	if !ok {
		return nil, nil, fmt.Errorf("translator: index scan: table %d has no live storage object", n.Table)
	}
	idx, ok := ctx.Storage.Index(n.Index)
	if !ok {
		return nil, nil, fmt.Errorf("translator: index scan: index %d has no live storage object", n.Index)
	}
	info, ok := ctx.Catalog.IndexInfo(ctx.Tx, n.Index)
	if !ok {
		return nil, nil, fmt.Errorf("translator: index scan: index %d not in catalog", n.Index)
	}
	tschema := ctx.Catalog.SchemaOf(ctx.Tx, n.Table)
	schema := NewSchema(columnRefsOf(tschema))
	keyCols := make([]row.ColID, len(info.Columns))
	for i, colOID := range info.Columns {
		c, ok := tschema.ColumnByOID(colOID)
		if !ok {
			return nil, nil, fmt.Errorf("translator: index scan: key column %d not in table schema", colOID)
		}
		keyCols[i] = c.ColID
	}
	var lowE, highE ir.Expr
	var err error
	if n.Low != nil {
		lowE, err = CompileExpr(n.Low, schema)
		if err != nil {
			return nil, nil, err
		}
	}
	if n.High != nil {
		highE, err = CompileExpr(n.High, schema)
		if err != nil {
			return nil, nil, err
		}
	}
	return &indexScanOp{table: tbl, index: idx, schema: tschema, keyCols: keyCols, lowE: lowE, highE: highE}, schema, nil
}

func (s *indexScanOp) Open(ctx *Ctx) error {
	s.idx = 0
	var keyE ir.Expr
	switch {
	case s.lowE != nil:
		keyE = s.lowE
	case s.highE != nil:
		keyE = s.highE
	default:
		s.slots = nil
		return nil
	}
	v, err := keyE.Eval(nil, ctx.Params)
	if err != nil {
		return err
	}
	keyRow, err := s.buildKeyRow(s.keyCols[:1], []ir.Value{v})
	if err != nil {
		return err
	}
	slots, err := s.index.ScanKey(ctx.Tx, keyRow)
	if err != nil {
		return err
	}
	s.slots = slots
	return nil
}

// buildKeyRow packs vals, one per colIDs entry, into a standalone Projected
// Row sized to just the index's key columns — the key an IndexKV.ScanKey
// call is made against.
func (s *indexScanOp) buildKeyRow(colIDs []row.ColID, vals []ir.Value) (row.Row, error) {
	layout := make([]row.ColumnLayout, len(colIDs))
	cols := make([]catalog.Column, len(colIDs))
	for i, colID := range colIDs {
		for _, cc := range s.schema.Columns {
			if cc.ColID == colID {
				cols[i] = cc
				break
			}
		}
		layout[i] = row.ColumnLayout{ColumnID: colID, Kind: row.FromSQLType(cols[i].Type)}
	}
	init := row.NewInitializer(layout)
	b := row.NewBuilder(init)
	for i, col := range cols {
		if vals[i].IsNull() {
			b.SetNull(col.ColID)
			continue
		}
		if err := writeColumn(b, col, vals[i]); err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}

func (s *indexScanOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for s.idx < len(s.slots) {
		slot := s.slots[s.idx]
		s.idx++
		r, ok, err := s.table.Select(ctx.Tx, slot)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		s.cur = slot
		return RowToTuple(s.schema, r), true, nil
	}
	return nil, false, nil
}

func (s *indexScanOp) Close(ctx *Ctx) error { s.slots = nil; return nil }

// CurrentSlot reports the storage slot of the tuple the last Next call
// returned.
func (s *indexScanOp) CurrentSlot() storage.Slot { return s.cur }

// cteScanOp replays a CTE's materialized output,
// looked up by name from ctx. The schema is known at build time from the
// declaration; the rows are read at Open, after the CTE's own fragment has
// run.
type cteScanOp struct {
	name string
	rows []ir.Tuple
	idx  int
}

func buildCTEScan(ctx *Ctx, n plan.CTEScan) (Operator, *Schema, error) {
	mat, ok := ctx.ctes[n.CTEName]
	if !ok {
		return nil, nil, fmt.Errorf("translator: cte scan: %q not declared", n.CTEName)
	}
	return &cteScanOp{name: n.CTEName}, mat.schema, nil
}

func (s *cteScanOp) Open(ctx *Ctx) error {
	mat, ok := ctx.ctes[s.name]
	if !ok || !mat.ready {
		return fmt.Errorf("translator: cte scan: %q not materialized", s.name)
	}
	s.rows = mat.rows
	s.idx = 0
	return nil
}

func (s *cteScanOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if s.idx >= len(s.rows) {
		return nil, false, nil
	}
	t := s.rows[s.idx]
	s.idx++
	return t, true, nil
}

func (s *cteScanOp) Close(ctx *Ctx) error { s.rows = nil; return nil }

// csvScanOp reads comma-separated rows (no quoting) out of an external
// file, one tuple per line; columns past a line's last field are NULL. No
// optimizer rule produces a plan.CSVScan, so no SQL statement reaches it.
type csvScanOp struct {
	path    string
	cols    []oid.OID
	lines   []string
	idx     int
}

func buildCSVScan(ctx *Ctx, n plan.CSVScan) (Operator, *Schema, error) {
	refs := make([]plan.ColumnRef, len(n.Columns))
	for i, t := range n.Columns {
		refs[i] = plan.ColumnRef{Table: oid.Invalid, Column: oid.OID(i + 1), Type: t}
	}
	return &csvScanOp{path: n.Path, cols: n.Columns}, NewSchema(refs), nil
}

func (s *csvScanOp) Open(ctx *Ctx) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("translator: csv scan: %w", err)
	}
	s.lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	s.idx = 0
	return nil
}

func (s *csvScanOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if s.idx >= len(s.lines) || s.lines[s.idx] == "" {
		return nil, false, nil
	}
	fields := strings.Split(s.lines[s.idx], ",")
	s.idx++
	t := make(ir.Tuple, len(s.cols))
	for i := range s.cols {
		if i >= len(fields) {
			t[i] = ir.Null
			continue
		}
		t[i] = csvField(fields[i])
	}
	return t, true, nil
}

func csvField(f string) ir.Value {
	if f == "" {
		return ir.Null
	}
	if n, err := strconv.ParseInt(f, 10, 64); err == nil {
		return ir.IntValue(n)
	}
	if fl, err := strconv.ParseFloat(f, 64); err == nil {
		return ir.FloatValue(fl)
	}
	return ir.BytesValue([]byte(f))
}

func (s *csvScanOp) Close(ctx *Ctx) error { s.lines = nil; return nil }

// valuesOp hands back a VALUES list's rows verbatim, feeding Insert
// directly.
type valuesOp struct {
	rows []ir.Tuple
	idx  int
}

func buildValues(ctx *Ctx, n plan.Values) (Operator, *Schema, error) {
	width := 0
	if len(n.Rows) > 0 {
		width = len(n.Rows[0])
	}
	refs := make([]plan.ColumnRef, width)
	for i := range refs {
		refs[i] = plan.ColumnRef{Table: oid.Invalid, Column: oid.OID(i + 1)}
	}
	empty := NewSchema(nil)
	rows := make([]ir.Tuple, len(n.Rows))
	for i, exprs := range n.Rows {
		t := make(ir.Tuple, len(exprs))
		for j, e := range exprs {
			ce, err := CompileExpr(e, empty)
			if err != nil {
				return nil, nil, err
			}
			v, err := ce.Eval(nil, ctx.Params)
			if err != nil {
				return nil, nil, err
			}
			t[j] = v
		}
		rows[i] = t
	}
	return &valuesOp{rows: rows}, NewSchema(refs), nil
}

func (v *valuesOp) Open(ctx *Ctx) error { v.idx = 0; return nil }

func (v *valuesOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	if v.idx >= len(v.rows) {
		return nil, false, nil
	}
	t := v.rows[v.idx]
	v.idx++
	return t, true, nil
}

func (v *valuesOp) Close(ctx *Ctx) error { return nil }
