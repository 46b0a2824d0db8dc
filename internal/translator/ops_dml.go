package translator

import (
	"fmt"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/storage"
	"github.com/relcore/enginecore/internal/txn"
)

// slotSource is implemented by operators whose tuples correspond 1:1 to
// storage slots (the scan leaves). Update/Delete sinks reach through their
// input chain to find one so they can address the row being mutated.
type slotSource interface {
	CurrentSlot() storage.Slot
}

// unwrappable lets a pass-through operator expose the child it forwards
// tuples from unchanged; findSlotSource walks these links.
type unwrappable interface {
	Unwrap() Operator
}

func (f *filterOp) Unwrap() Operator { return f.child }

func findSlotSource(op Operator) (slotSource, bool) {
	for {
		if ss, ok := op.(slotSource); ok {
			return ss, true
		}
		u, ok := op.(unwrappable)
		if !ok {
			return nil, false
		}
		op = u.Unwrap()
	}
}

// indexMaintainer applies one table's index set on row insert and delete,
// registering the compensating deferred actions an abort needs: an
// aborted index insert registers a compensating delete.
type indexMaintainer struct {
	schema  *catalog.Schema
	entries []indexEntry
}

type indexEntry struct {
	oid     oid.OID
	kv      storage.IndexKV
	keyCols []row.ColID
	unique  bool
}

func newIndexMaintainer(ctx *Ctx, table oid.OID, indexes []oid.OID) (*indexMaintainer, error) {
	schema := ctx.Catalog.SchemaOf(ctx.Tx, table)
	if schema == nil {
		return nil, fmt.Errorf("translator: table %d has no schema", table)
	}
	m := &indexMaintainer{schema: schema}
	for _, idxOID := range indexes {
		kv, ok := ctx.Storage.Index(idxOID)
		if !ok {
			return nil, fmt.Errorf("translator: index %d has no live storage object", idxOID)
		}
		info, ok := ctx.Catalog.IndexInfo(ctx.Tx, idxOID)
		if !ok {
			return nil, fmt.Errorf("translator: index %d not in catalog", idxOID)
		}
		keyCols := make([]row.ColID, len(info.Columns))
		for i, colOID := range info.Columns {
			c, ok := schema.ColumnByOID(colOID)
			if !ok {
				return nil, fmt.Errorf("translator: index %d key column %d not in table schema", idxOID, colOID)
			}
			keyCols[i] = c.ColID
		}
		m.entries = append(m.entries, indexEntry{oid: idxOID, kv: kv, keyCols: keyCols, unique: info.IsUnique})
	}
	return m, nil
}

func (m *indexMaintainer) onInsert(ctx *Ctx, t ir.Tuple, slot storage.Slot) error {
	for _, e := range m.entries {
		key, err := KeyRow(m.schema, e.keyCols, t)
		if err != nil {
			return err
		}
		if e.unique {
			if err := e.kv.InsertUnique(ctx.Tx, key, slot); err != nil {
				return errs.Wrap(errs.KindRuntime, errs.CodeUniqueViolation,
					fmt.Sprintf("duplicate key value violates unique constraint on index %d", e.oid), err)
			}
		} else if err := e.kv.Insert(ctx.Tx, key, slot); err != nil {
			return err
		}
		kv, k, s := e.kv, key, slot
		ctx.Tx.RegisterAbortAction("index-compensating-delete", func() {
			cleanup := txn.Begin(nil)
			_ = kv.Delete(cleanup, k, s)
			_ = cleanup.Commit()
		})
	}
	return nil
}

// onDelete removes each key through IndexKV.Delete, which the contract
// defers to commit itself, so an aborted delete leaves the index
// untouched.
func (m *indexMaintainer) onDelete(ctx *Ctx, t ir.Tuple, slot storage.Slot) error {
	for _, e := range m.entries {
		key, err := KeyRow(m.schema, e.keyCols, t)
		if err != nil {
			return err
		}
		if err := e.kv.Delete(ctx.Tx, key, slot); err != nil {
			return err
		}
	}
	return nil
}

// BackfillIndex populates kv from tbl's rows visible to ctx.Tx, used when
// CREATE INDEX runs against a table that already has contents.
func BackfillIndex(ctx *Ctx, tbl storage.Table, kv storage.IndexKV, schema *catalog.Schema, info catalog.IndexRow) error {
	keyCols := make([]row.ColID, len(info.Columns))
	for i, colOID := range info.Columns {
		c, ok := schema.ColumnByOID(colOID)
		if !ok {
			return fmt.Errorf("translator: backfill: column %d not in table schema", colOID)
		}
		keyCols[i] = c.ColID
	}
	var walkErr error
	err := tbl.Scan(ctx.Tx, func(slot storage.Slot, r row.Row) bool {
		t := RowToTuple(schema, r)
		key, err := KeyRow(schema, keyCols, t)
		if err != nil {
			walkErr = err
			return false
		}
		if info.IsUnique {
			walkErr = kv.InsertUnique(ctx.Tx, key, slot)
		} else {
			walkErr = kv.Insert(ctx.Tx, key, slot)
		}
		return walkErr == nil
	})
	if err != nil {
		return err
	}
	return walkErr
}

// insertOp is the serial Insert sink:
// drain the input, write each tuple into the table, maintain every index,
// and emit nothing — the fragment counts affected rows from the sink's
// return. Insert rejects parallel pipelines by construction: it is only
// ever compiled into a serial fragment.
type insertOp struct {
	input    Operator
	table    storage.Table
	schema   *catalog.Schema
	indexes  *indexMaintainer
	affected int64
}

func buildInsert(ctx *Ctx, n plan.Insert) (Operator, *Schema, error) {
	input, _, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	tbl, ok := ctx.Storage.Table(n.Table)
	if !ok {
		return nil, nil, fmt.Errorf("translator: insert: table %d has no live storage object", n.Table)
	}
	im, err := newIndexMaintainer(ctx, n.Table, n.Indexes)
	if err != nil {
		return nil, nil, err
	}
	return &insertOp{input: input, table: tbl, schema: im.schema, indexes: im}, &Schema{}, nil
}

func (o *insertOp) Open(ctx *Ctx) error {
	o.affected = 0
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	defer o.input.Close(ctx)
	for {
		t, ok, err := o.input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		r, err := TupleToRow(o.schema, t)
		if err != nil {
			return err
		}
		slot, err := o.table.Insert(ctx.Tx, r)
		if err != nil {
			return err
		}
		if err := o.indexes.onInsert(ctx, t, slot); err != nil {
			return err
		}
		o.affected++
	}
}

func (o *insertOp) Next(ctx *Ctx) (ir.Tuple, bool, error) { return nil, false, nil }
func (o *insertOp) Close(ctx *Ctx) error                  { return nil }
func (o *insertOp) Affected() int64                       { return o.affected }

// updateOp drains its input (a scan over the target table, possibly
// filtered), evaluates the full-width assignment list against each tuple,
// and rewrites the row in place at its slot.
type updateOp struct {
	input    Operator
	slots    slotSource
	table    storage.Table
	schema   *catalog.Schema
	assigns  []ir.Expr
	indexes  *indexMaintainer
	affected int64
}

func buildUpdate(ctx *Ctx, n plan.Update) (Operator, *Schema, error) {
	input, inSchema, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	ss, ok := findSlotSource(input)
	if !ok {
		return nil, nil, errs.NotImplemented("UPDATE over a non-scan input")
	}
	tbl, ok := ctx.Storage.Table(n.Table)
	if !ok {
		return nil, nil, fmt.Errorf("translator: update: table %d has no live storage object", n.Table)
	}
	im, err := newIndexMaintainer(ctx, n.Table, n.Indexes)
	if err != nil {
		return nil, nil, err
	}
	assigns := make([]ir.Expr, len(n.Assignments))
	for i, a := range n.Assignments {
		assigns[i], err = CompileExpr(a, inSchema)
		if err != nil {
			return nil, nil, err
		}
	}
	return &updateOp{input: input, slots: ss, table: tbl, schema: im.schema, assigns: assigns, indexes: im}, &Schema{}, nil
}

func (o *updateOp) Open(ctx *Ctx) error {
	o.affected = 0
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	defer o.input.Close(ctx)
	for {
		t, ok, err := o.input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		slot := o.slots.CurrentSlot()
		newT := make(ir.Tuple, len(o.assigns))
		for i, a := range o.assigns {
			newT[i], err = a.Eval(t, ctx.Params)
			if err != nil {
				return err
			}
		}
		r, err := TupleToRow(o.schema, newT)
		if err != nil {
			return err
		}
		if err := o.table.Update(ctx.Tx, slot, r); err != nil {
			return err
		}
		if err := o.indexes.onDelete(ctx, t, slot); err != nil {
			return err
		}
		if err := o.indexes.onInsert(ctx, newT, slot); err != nil {
			return err
		}
		o.affected++
	}
}

func (o *updateOp) Next(ctx *Ctx) (ir.Tuple, bool, error) { return nil, false, nil }
func (o *updateOp) Close(ctx *Ctx) error                  { return nil }
func (o *updateOp) Affected() int64                       { return o.affected }

// deleteOp drains its input and deletes each produced row at its slot.
type deleteOp struct {
	input    Operator
	slots    slotSource
	table    storage.Table
	indexes  *indexMaintainer
	affected int64
}

func buildDelete(ctx *Ctx, n plan.Delete) (Operator, *Schema, error) {
	input, _, err := BuildOperator(ctx, n.Input)
	if err != nil {
		return nil, nil, err
	}
	ss, ok := findSlotSource(input)
	if !ok {
		return nil, nil, errs.NotImplemented("DELETE over a non-scan input")
	}
	tbl, ok := ctx.Storage.Table(n.Table)
	if !ok {
		return nil, nil, fmt.Errorf("translator: delete: table %d has no live storage object", n.Table)
	}
	im, err := newIndexMaintainer(ctx, n.Table, n.Indexes)
	if err != nil {
		return nil, nil, err
	}
	return &deleteOp{input: input, slots: ss, table: tbl, indexes: im}, &Schema{}, nil
}

func (o *deleteOp) Open(ctx *Ctx) error {
	o.affected = 0
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	defer o.input.Close(ctx)
	for {
		t, ok, err := o.input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		slot := o.slots.CurrentSlot()
		if err := o.table.Delete(ctx.Tx, slot); err != nil {
			return err
		}
		if err := o.indexes.onDelete(ctx, t, slot); err != nil {
			return err
		}
		o.affected++
	}
}

func (o *deleteOp) Next(ctx *Ctx) (ir.Tuple, bool, error) { return nil, false, nil }
func (o *deleteOp) Close(ctx *Ctx) error                  { return nil }
func (o *deleteOp) Affected() int64                       { return o.affected }
