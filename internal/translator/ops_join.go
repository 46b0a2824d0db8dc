package translator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/storage"
)

// hashKey encodes a composite join/group-by key into a string comparable
// with Go equality, since ir.Value holds a []byte field and so is not
// itself a valid map key.
func hashKey(vals []ir.Value) string {
	var sb strings.Builder
	for _, v := range vals {
		if v.IsNull() {
			sb.WriteString("\x00N")
			continue
		}
		switch v.Kind {
		case ir.KindBool:
			sb.WriteString("\x00B")
			if v.Bool {
				sb.WriteByte(1)
			} else {
				sb.WriteByte(0)
			}
		case ir.KindInt:
			sb.WriteString("\x00I")
			sb.WriteString(strconv.FormatInt(v.Int, 10))
		case ir.KindFloat:
			sb.WriteString("\x00F")
			sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
		case ir.KindBytes:
			sb.WriteString("\x00S")
			sb.Write(v.Bytes)
		}
	}
	return sb.String()
}

// hashJoinOp builds an in-memory hash table over the build side keyed by
// BuildKeys, then probes it once per probe-side row. It requires no
// particular child order.
type hashJoinOp struct {
	joinType  plan.JoinKind
	buildKeys []ir.Expr
	probeKeys []ir.Expr
	residual  ir.Expr
	build     Operator
	probe     Operator
	buildSch  *Schema

	table     map[string][]int
	buildRows []ir.Tuple
	buildOK   map[int]bool // index into buildRows matched at least once, for right/full outer
	buildNils int          // width of a build-side null-padded row, for left/outer

	pending     []ir.Tuple
	pendPos     int
	probeDone   bool
	unmatched   []ir.Tuple // populated once, lazily, when probe is exhausted
	unmatchedAt int
}

func buildHashJoin(ctx *Ctx, n plan.HashJoin) (Operator, *Schema, error) {
	buildOp, buildSch, err := BuildOperator(ctx, n.Build)
	if err != nil {
		return nil, nil, err
	}
	probeOp, probeSch, err := BuildOperator(ctx, n.Probe)
	if err != nil {
		return nil, nil, err
	}
	joined := Concat(buildSch, probeSch)

	buildKeys := make([]ir.Expr, len(n.BuildKeys))
	for i, e := range n.BuildKeys {
		ce, err := CompileExpr(e, buildSch)
		if err != nil {
			return nil, nil, err
		}
		buildKeys[i] = ce
	}
	probeKeys := make([]ir.Expr, len(n.ProbeKeys))
	for i, e := range n.ProbeKeys {
		ce, err := CompileExpr(e, probeSch)
		if err != nil {
			return nil, nil, err
		}
		probeKeys[i] = ce
	}
	var residual ir.Expr
	if n.Residual != nil {
		residual, err = CompileExpr(n.Residual, joined)
		if err != nil {
			return nil, nil, err
		}
	}

	op := &hashJoinOp{
		joinType:  n.JoinType,
		buildKeys: buildKeys,
		probeKeys: probeKeys,
		residual:  residual,
		build:     buildOp,
		probe:     probeOp,
		buildSch:  buildSch,
	}
	return op, joined, nil
}

// Open runs the build pipeline to completion, hashing every build row by
// its key, then opens the probe side. The build side is drained here
// rather than at compile time so sources that materialize in an earlier
// fragment (CTEs) are ready.
func (h *hashJoinOp) Open(ctx *Ctx) error {
	h.pending = nil
	h.pendPos = 0
	h.probeDone = false
	h.unmatched = nil
	h.unmatchedAt = 0
	h.buildOK = make(map[int]bool)

	buildRows, err := materialize(ctx, h.build)
	if err != nil {
		return err
	}
	h.buildRows = buildRows
	h.buildNils = leftWidth(h.buildSch)
	if len(buildRows) > 0 {
		h.buildNils = len(buildRows[0])
	}
	h.table = make(map[string][]int)
	for idx, r := range buildRows {
		vals := make([]ir.Value, len(h.buildKeys))
		for i, e := range h.buildKeys {
			v, err := e.Eval(r, ctx.Params)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		k := hashKey(vals)
		h.table[k] = append(h.table[k], idx)
	}
	return h.probe.Open(ctx)
}

func (h *hashJoinOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for {
		if h.pendPos < len(h.pending) {
			t := h.pending[h.pendPos]
			h.pendPos++
			return t, true, nil
		}
		if h.probeDone {
			return h.nextUnmatchedBuild()
		}
		pr, ok, err := h.probe.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			h.probeDone = true
			continue
		}
		vals := make([]ir.Value, len(h.probeKeys))
		for i, e := range h.probeKeys {
			v, err := e.Eval(pr, ctx.Params)
			if err != nil {
				return nil, false, err
			}
			vals[i] = v
		}
		k := hashKey(vals)
		var out []ir.Tuple
		for _, bidx := range h.table[k] {
			br := h.buildRows[bidx]
			joined := append(append(ir.Tuple{}, br...), pr...)
			if h.residual != nil {
				rv, err := h.residual.Eval(joined, ctx.Params)
				if err != nil {
					return nil, false, err
				}
				if !ir.Truthy(rv) {
					continue
				}
			}
			h.buildOK[bidx] = true
			out = append(out, joined)
		}
		if len(out) == 0 && (h.joinType == plan.JoinLeft || h.joinType == plan.JoinFull) {
			out = append(out, append(append(ir.Tuple{}, nullTuple(h.buildNils)...), pr...))
		}
		if h.joinType == plan.JoinSemi && len(out) > 0 {
			out = out[:1]
		}
		if h.joinType == plan.JoinAnti {
			if len(out) > 0 {
				continue
			}
			out = []ir.Tuple{pr}
		}
		if len(out) == 0 {
			continue
		}
		h.pending = out
		h.pendPos = 0
	}
}

// nextUnmatchedBuild yields, for RIGHT/FULL joins once the probe side is
// exhausted, every build row the probe never matched, null-padded on the
// probe side.
func (h *hashJoinOp) nextUnmatchedBuild() (ir.Tuple, bool, error) {
	if h.joinType != plan.JoinRight && h.joinType != plan.JoinFull {
		return nil, false, nil
	}
	if h.unmatched == nil && h.unmatchedAt == 0 {
		for idx, br := range h.buildRows {
			if !h.buildOK[idx] {
				h.unmatched = append(h.unmatched, br)
			}
		}
		if h.unmatched == nil {
			h.unmatched = []ir.Tuple{}
		}
	}
	if h.unmatchedAt >= len(h.unmatched) {
		return nil, false, nil
	}
	br := h.unmatched[h.unmatchedAt]
	h.unmatchedAt++
	return append(append(ir.Tuple{}, br...), nullTuple(len(br))...), true, nil
}

func (h *hashJoinOp) Close(ctx *Ctx) error {
	h.table = nil
	return h.probe.Close(ctx)
}

func nullTuple(width int) ir.Tuple {
	t := make(ir.Tuple, width)
	for i := range t {
		t[i] = ir.Null
	}
	return t
}

// nlJoinOp re-evaluates Inner once per Outer row, the fallback join
// strategy: it requires no particular build side and is usable for any
// join predicate a HashJoin's equality-key shape cannot express.
type nlJoinOp struct {
	joinType plan.JoinKind
	outer    Operator
	innerFn  func(ctx *Ctx) (Operator, error)
	cond     ir.Expr
	innerW   int

	outerRow ir.Tuple
	inner    Operator
	matched  bool
	have     bool
}

func buildNLJoin(ctx *Ctx, n plan.NLJoin) (Operator, *Schema, error) {
	outerOp, outerSch, err := BuildOperator(ctx, n.Outer)
	if err != nil {
		return nil, nil, err
	}
	_, innerSch, err := BuildOperator(ctx, n.Inner)
	if err != nil {
		return nil, nil, err
	}
	joined := Concat(outerSch, innerSch)
	var cond ir.Expr
	if n.Cond != nil {
		cond, err = CompileExpr(n.Cond, joined)
		if err != nil {
			return nil, nil, err
		}
	}
	inner := n.Inner
	return &nlJoinOp{
		joinType: n.JoinType,
		outer:    outerOp,
		cond:     cond,
		innerW:   leftWidth(innerSch),
		innerFn: func(ctx *Ctx) (Operator, error) {
			op, _, err := BuildOperator(ctx, inner)
			return op, err
		},
	}, joined, nil
}

func (n *nlJoinOp) Open(ctx *Ctx) error {
	n.have = false
	return n.outer.Open(ctx)
}

func (n *nlJoinOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for {
		if !n.have {
			or, ok, err := n.outer.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			inner, err := n.innerFn(ctx)
			if err != nil {
				return nil, false, err
			}
			if err := inner.Open(ctx); err != nil {
				return nil, false, err
			}
			n.outerRow = or
			n.inner = inner
			n.matched = false
			n.have = true
		}
		ir2, ok, err := n.inner.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			n.inner.Close(ctx)
			n.have = false
			if !n.matched && (n.joinType == plan.JoinLeft || n.joinType == plan.JoinFull) {
				return append(append(ir.Tuple{}, n.outerRow...), nullTuple(n.innerW)...), true, nil
			}
			if !n.matched && n.joinType == plan.JoinAnti {
				return n.outerRow, true, nil
			}
			continue
		}
		joined := append(append(ir.Tuple{}, n.outerRow...), ir2...)
		if n.cond != nil {
			v, err := n.cond.Eval(joined, ctx.Params)
			if err != nil {
				return nil, false, err
			}
			if !ir.Truthy(v) {
				continue
			}
		}
		n.matched = true
		if n.joinType == plan.JoinAnti {
			continue
		}
		if n.joinType == plan.JoinSemi {
			n.inner.Close(ctx)
			n.have = false
			return n.outerRow, true, nil
		}
		return joined, true, nil
	}
}

func (n *nlJoinOp) Close(ctx *Ctx) error {
	if n.inner != nil {
		n.inner.Close(ctx)
	}
	return n.outer.Close(ctx)
}

// indexNLJoinOp nested-loop joins Outer against an index probe of Inner's
// table for each outer row, the strategy chosen when Inner's access path
// is an equality lookup.
type indexNLJoinOp struct {
	outer    Operator
	table    storage.Table
	index    storage.IndexKV
	schema   *catalog.Schema
	keyCol   row.ColID
	probeE   ir.Expr

	outerRow ir.Tuple
	slots    []storage.Slot
	slotIdx  int
	have     bool
}

func buildIndexNLJoin(ctx *Ctx, n plan.IndexNLJoin) (Operator, *Schema, error) {
	outerOp, outerSch, err := BuildOperator(ctx, n.Outer)
	if err != nil {
		return nil, nil, err
	}
	tbl, ok := ctx.Storage.Table(n.InnerTable)
	if !ok {
		return nil, nil, fmt.Errorf("translator: index nl join: table %d has no live storage object", n.InnerTable)
	}
	idx, ok := ctx.Storage.Index(n.InnerIndex)
	if !ok {
		return nil, nil, fmt.Errorf("translator: index nl join: index %d has no live storage object", n.InnerIndex)
	}
	info, ok := ctx.Catalog.IndexInfo(ctx.Tx, n.InnerIndex)
	if !ok || len(info.Columns) == 0 {
		return nil, nil, fmt.Errorf("translator: index nl join: index %d not in catalog", n.InnerIndex)
	}
	tschema := ctx.Catalog.SchemaOf(ctx.Tx, n.InnerTable)
	innerSch := NewSchema(columnRefsOf(tschema))
	keyCol, ok := tschema.ColumnByOID(info.Columns[0])
	if !ok {
		return nil, nil, fmt.Errorf("translator: index nl join: key column %d not in table schema", info.Columns[0])
	}
	joined := Concat(outerSch, innerSch)
	probeE, err := CompileExpr(n.ProbeKey, outerSch)
	if err != nil {
		return nil, nil, err
	}
	return &indexNLJoinOp{
		outer:  outerOp,
		table:  tbl,
		index:  idx,
		schema: tschema,
		keyCol: keyCol.ColID,
		probeE: probeE,
	}, joined, nil
}

func (i *indexNLJoinOp) Open(ctx *Ctx) error {
	i.have = false
	return i.outer.Open(ctx)
}

func (i *indexNLJoinOp) Next(ctx *Ctx) (ir.Tuple, bool, error) {
	for {
		if !i.have {
			or, ok, err := i.outer.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			i.outerRow = or
			v, err := i.probeE.Eval(or, ctx.Params)
			if err != nil {
				return nil, false, err
			}
			keyRow, err := i.buildProbeKey(v)
			if err != nil {
				return nil, false, err
			}
			slots, err := i.index.ScanKey(ctx.Tx, keyRow)
			if err != nil {
				return nil, false, err
			}
			i.slots = slots
			i.slotIdx = 0
			i.have = true
		}
		if i.slotIdx >= len(i.slots) {
			i.have = false
			continue
		}
		slot := i.slots[i.slotIdx]
		i.slotIdx++
		r, ok, err := i.table.Select(ctx.Tx, slot)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		inner := RowToTuple(i.schema, r)
		return append(append(ir.Tuple{}, i.outerRow...), inner...), true, nil
	}
}

// buildProbeKey packs a single evaluated probe value into a standalone
// Projected Row over the index's leading key column.
func (i *indexNLJoinOp) buildProbeKey(v ir.Value) (row.Row, error) {
	c := i.keyColumn()
	layout := []row.ColumnLayout{{ColumnID: c.ColID, Kind: row.FromSQLType(c.Type)}}
	init := row.NewInitializer(layout)
	b := row.NewBuilder(init)
	if v.IsNull() {
		b.SetNull(c.ColID)
		return b.Finish(), nil
	}
	if err := writeColumn(b, c, v); err != nil {
		return nil, err
	}
	return b.Finish(), nil
}

func (i *indexNLJoinOp) keyColumn() catalog.Column {
	for _, c := range i.schema.Columns {
		if c.ColID == i.keyCol {
			return c
		}
	}
	return catalog.Column{}
}

func (i *indexNLJoinOp) Close(ctx *Ctx) error { return i.outer.Close(ctx) }
