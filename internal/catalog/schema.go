package catalog

import (
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/row"
)

// Column describes one table column: name, SQL type, nullability, default
// expression text, and its once-assigned catalog OID plus storage-layer
// ColID.
//
// A Column is a binder/storage-facing schema entry carrying both catalog
// and row-layout identity.
type Column struct {
	OID        oid.OID
	ColID      row.ColID
	Name       string
	Type       oid.OID
	Nullable   bool
	DefaultSQL string // raw SQL text; empty if no default
}

// Schema is an ordered sequence of Columns, replaced atomically under the
// DDL lock on update.
type Schema struct {
	TableOID oid.OID
	Columns  []Column
	Version  int // not maintained: no catalog operation sets it, so it stays 0
}

// ColumnByName looks up a column by name, case-sensitively (identifiers are
// assumed already case-folded by the parser façade).
func (s *Schema) ColumnByName(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnByOID looks up a column by its catalog OID.
func (s *Schema) ColumnByOID(o oid.OID) (Column, bool) {
	for _, c := range s.Columns {
		if c.OID == o {
			return c, true
		}
	}
	return Column{}, false
}

// Layout returns the row.ColumnLayout set for every column in the schema,
// for building a full-row Initializer.
func (s *Schema) Layout() []row.ColumnLayout {
	out := make([]row.ColumnLayout, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = row.ColumnLayout{ColumnID: c.ColID, Kind: row.FromSQLType(c.Type)}
	}
	return out
}

// ColumnSpec is the caller-supplied description of a column to create,
// before OID/ColID assignment.
type ColumnSpec struct {
	Name       string
	Type       oid.OID
	Nullable   bool
	DefaultSQL string
}
