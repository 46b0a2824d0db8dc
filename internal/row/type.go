package row

import "github.com/relcore/enginecore/internal/oid"

// ValueKind is the fixed-width storage class a column value belongs to.
// Every ValueKind has a static size and alignment used to compute
// Projected Row offsets; variable-length values (varchar, text) are stored
// as a fixed-width (pointer, length) pair into a side area, since
// varchar/text have no fixed width of their own.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindBool
	KindInt2
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindVarlen // varchar/text: stored as {offset uint32, length uint32} into the row's varlen area
)

// SizeOf returns the fixed in-row footprint of a value of kind k
// (KindVarlen's footprint is the size of its inline (offset,length) header).
func (k ValueKind) SizeOf() uint32 {
	switch k {
	case KindBool:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat4:
		return 4
	case KindInt8, KindFloat8:
		return 8
	case KindVarlen:
		return 8 // uint32 offset + uint32 length
	default:
		return 0
	}
}

// AlignOf returns the required alignment of a value of kind k.
func (k ValueKind) AlignOf() uint32 {
	switch k {
	case KindBool:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat4, KindVarlen:
		return 4
	case KindInt8, KindFloat8:
		return 8
	default:
		return 1
	}
}

// FromSQLType maps a catalog type OID to its storage ValueKind.
func FromSQLType(t oid.OID) ValueKind {
	switch t {
	case oid.TypeBool:
		return KindBool
	case oid.TypeInt2:
		return KindInt2
	case oid.TypeInt4:
		return KindInt4
	case oid.TypeInt8:
		return KindInt8
	case oid.TypeFloat4:
		return KindFloat4
	case oid.TypeFloat8:
		return KindFloat8
	case oid.TypeVarchar, oid.TypeText:
		return KindVarlen
	default:
		return KindInvalid
	}
}

// ColID is the storage-layer column identifier carried inline in every
// Projected Row's column-id map. It
// is deliberately distinct from oid.OID: oid.OID is the globally unique,
// never-reused catalog identifier for a pg_attribute row, while ColID is a
// small per-table-local ordinal the row format can afford to store in two
// bytes. The catalog's Schema keeps the ColID<->OID mapping (see
// internal/catalog/schema.go).
type ColID uint16

// ColumnLayout describes one column's identity and storage class for
// purposes of computing a Projected Row's offsets, stripped to what the
// layout math needs.
type ColumnLayout struct {
	ColumnID ColID
	Kind     ValueKind
}
