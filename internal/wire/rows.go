package wire

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/translator"
)

// rowDescription builds the RowDescription for a result column list.
// formats is per-column (nil = all text).
func rowDescription(cols []plan.OutputCol, formats []int16) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, c := range cols {
		f := formatText
		if formats != nil {
			f = formats[i]
		}
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(c.Name),
			DataTypeOID:  uint32(c.Type),
			DataTypeSize: typeSize(c.Type),
			TypeModifier: -1,
			Format:       f,
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

func typeSize(t oid.OID) int16 {
	switch t {
	case oid.TypeBool:
		return 1
	case oid.TypeInt2:
		return 2
	case oid.TypeInt4, oid.TypeFloat4, oid.TypeDate:
		return 4
	case oid.TypeInt8, oid.TypeFloat8:
		return 8
	default:
		return -1
	}
}

// dataRow encodes one output tuple in the per-column result formats.
func dataRow(t ir.Tuple, cols []plan.OutputCol, formats []int16) (*pgproto3.DataRow, error) {
	if len(t) < len(cols) {
		return nil, errs.New(errs.KindRuntime, errs.CodeInternalError,
			fmt.Sprintf("row has %d values for %d columns", len(t), len(cols)))
	}
	values := make([][]byte, len(cols))
	for i := range cols {
		f := formatText
		if formats != nil {
			f = formats[i]
		}
		v, err := encodeDatum(t[i], cols[i].Type, f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &pgproto3.DataRow{Values: values}, nil
}

// resolveFormats expands a Bind message's format-code list to one code per
// column, per the protocol's none/one/per-column convention.
func resolveFormats(codes []int16, n int) ([]int16, error) {
	out := make([]int16, n)
	switch len(codes) {
	case 0:
	case 1:
		for i := range out {
			out[i] = codes[0]
		}
	case n:
		copy(out, codes)
	default:
		return nil, errs.New(errs.KindProtocol, errs.CodeProtocolViolation,
			fmt.Sprintf("bind supplies %d format codes for %d columns", len(codes), n))
	}
	return out, nil
}

// backfillIndex populates a freshly installed index from the table's
// visible rows.
func backfillIndex(tctx *translator.Ctx, tableOID, idxOID oid.OID) error {
	tbl, ok := tctx.Storage.Table(tableOID)
	if !ok {
		return nil // table installed nothing yet; nothing to backfill
	}
	kv, ok := tctx.Storage.Index(idxOID)
	if !ok {
		return fmt.Errorf("wire: index %d not installed", idxOID)
	}
	info, ok := tctx.Catalog.IndexInfo(tctx.Tx, idxOID)
	if !ok {
		return fmt.Errorf("wire: index %d not in catalog", idxOID)
	}
	schema := tctx.Catalog.SchemaOf(tctx.Tx, tableOID)
	if schema == nil {
		return fmt.Errorf("wire: table %d has no schema", tableOID)
	}
	return translator.BackfillIndex(tctx, tbl, kv, schema, info)
}

// explainText renders a chosen physical plan as the indented node list the
// EXPLAIN result rows carry.
func explainText(q *plan.Query) []string {
	var lines []string
	for _, cte := range q.CTEs {
		lines = append(lines, "CTE "+cte.Name)
		walkExplain(cte.Root, 1, &lines)
	}
	walkExplain(q.Root, 0, &lines)
	return lines
}

func walkExplain(op plan.PhysicalOp, depth int, out *[]string) {
	indent := strings.Repeat("  ", depth)
	prefix := ""
	if depth > 0 {
		prefix = "->  "
	}
	*out = append(*out, indent+prefix+explainNode(op))
	for _, c := range op.Children() {
		walkExplain(c, depth+1, out)
	}
}

func explainNode(op plan.PhysicalOp) string {
	switch n := op.(type) {
	case plan.SeqScan:
		return fmt.Sprintf("Seq Scan on %d", uint32(n.Table))
	case plan.IndexScan:
		return fmt.Sprintf("Index Scan using %d on %d", uint32(n.Index), uint32(n.Table))
	case plan.HashJoin:
		return "Hash Join"
	case plan.NLJoin:
		return "Nested Loop"
	case plan.IndexNLJoin:
		return "Nested Loop (index inner)"
	case plan.HashAggregate:
		return "HashAggregate"
	case plan.SortGroupBy:
		return "GroupAggregate"
	case plan.Sort:
		return "Sort"
	case plan.TopK:
		return "Top-K Sort"
	case plan.Limit:
		return "Limit"
	case plan.Filter:
		return "Filter"
	case plan.Project:
		return "Subquery Scan"
	case plan.CTEScan:
		return "CTE Scan on " + n.CTEName
	case plan.Values:
		return "Values Scan"
	case plan.Insert:
		return fmt.Sprintf("Insert on %d", uint32(n.Table))
	case plan.Update:
		return fmt.Sprintf("Update on %d", uint32(n.Table))
	case plan.Delete:
		return fmt.Sprintf("Delete on %d", uint32(n.Table))
	default:
		return op.Kind()
	}
}
