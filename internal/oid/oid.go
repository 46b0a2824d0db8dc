// Package oid defines the strongly-typed object identifiers used across the
// catalog and a per-kind monotonic allocator.
package oid

import "fmt"

// OID is a numeric identifier for a catalog object. Each catalog object
// kind owns a distinct numeric space: a DatabaseOID and a ClassOID with the
// same integer value refer to unrelated objects.
type OID uint32

// Invalid is the reserved sentinel meaning "no object".
const Invalid OID = 0

// VirtualBase is the floor of the binder's per-statement virtual OID
// range, used for CTE and FROM-subselect output columns that have no
// pg_attribute row. Virtual OIDs never reach the catalog or storage; they
// exist only so a derived column resolves to a unique (table, column)
// pair for the lifetime of one statement.
const VirtualBase OID = 1 << 30

// IsValid reports whether o is not the Invalid sentinel.
func (o OID) IsValid() bool { return o != Invalid }

func (o OID) String() string { return fmt.Sprintf("%d", uint32(o)) }

// Kind distinguishes the numeric space an OID was allocated from. Kinds
// never compare across each other even when their numeric values collide.
type Kind uint8

const (
	KindDatabase Kind = iota
	KindNamespace
	KindClass // tables and indexes share this space, like pg_class
	KindColumn
	KindType
	KindConstraint
	KindLanguage
	KindProcedure
	KindView
	KindTrigger
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindNamespace:
		return "namespace"
	case KindClass:
		return "class"
	case KindColumn:
		return "column"
	case KindType:
		return "type"
	case KindConstraint:
		return "constraint"
	case KindLanguage:
		return "language"
	case KindProcedure:
		return "procedure"
	case KindView:
		return "view"
	case KindTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// Reserved built-in OIDs. pg_catalog's namespace OID and the default
// namespace are stable compile-time constants.
const (
	PgCatalogNamespace OID = 11
	PublicNamespace    OID = 2200

	// Built-in type OIDs, stable across the process lifetime.
	TypeBool    OID = 16
	TypeInt2    OID = 21
	TypeInt4    OID = 23
	TypeInt8    OID = 20
	TypeFloat4  OID = 700
	TypeFloat8  OID = 701
	TypeVarchar OID = 1043
	TypeText    OID = 25
	TypeDate    OID = 1082
	TypeNumeric OID = 1700

	firstUserOID OID = 16384
)
