package catalog

import "github.com/relcore/enginecore/internal/oid"

// The row types below are the Go-native images of the nine pg_*-style
// metadata tables every Database Catalog exposes: pg_namespace, pg_class,
// pg_attribute, pg_index, pg_type, pg_constraint, pg_language, pg_proc,
// pg_statistic. Not a read-only introspection cache of some other
// database: this catalog *is* the thing an introspection query would
// would read from.

// NamespaceRow is one pg_namespace entry: a schema/namespace.
type NamespaceRow struct {
	OID  oid.OID
	Name string
}

// RelKind distinguishes the kinds of relation pg_class can describe.
type RelKind uint8

const (
	RelKindTable RelKind = iota
	RelKindIndex
	RelKindView
)

// ClassRow is one pg_class entry: a table, index, or view.
type ClassRow struct {
	OID       oid.OID
	Namespace oid.OID
	Name      string
	Kind      RelKind
	// RelTable is the storage.Registry key this relation's live Table
	// object is installed under once CreateTable's commit action runs
	// ("an externally owned pointer to the live table/index
	// object... set exactly once per (oid, generation)").
	RelTable oid.OID
}

// AttributeRow is one pg_attribute entry: a column belonging to a pg_class
// relation, in declaration order (AttrNum).
type AttributeRow struct {
	OID        oid.OID
	Relation   oid.OID
	Name       string
	Type       oid.OID
	AttrNum    int
	NotNull    bool
	DefaultSQL string
}

// IndexRow is one pg_index entry, linking an index relation to the table it
// indexes and the columns (by attribute OID, in key order) it covers.
type IndexRow struct {
	OID       oid.OID
	IndexRel  oid.OID // the pg_class row for the index relation itself
	TableRel  oid.OID // the pg_class row for the indexed table
	Columns   []oid.OID
	IsUnique  bool
	IsPrimary bool
}

// TypeRow is one pg_type entry describing a built-in or (eventually)
// user-defined scalar type.
type TypeRow struct {
	OID     oid.OID
	Name    string
	SizeOf  uint32
	AlignOf uint32
}

// ConstraintKind distinguishes pg_constraint entry kinds.
type ConstraintKind uint8

const (
	ConstraintPrimaryKey ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
	ConstraintNotNull
)

// ConstraintRow is one pg_constraint entry.
type ConstraintRow struct {
	OID        oid.OID
	Name       string
	Kind       ConstraintKind
	Relation   oid.OID
	Columns    []oid.OID
	FKRelation oid.OID   // for ConstraintForeignKey: the referenced table
	FKColumns  []oid.OID // for ConstraintForeignKey: the referenced columns
	CheckSQL   string    // for ConstraintCheck: the raw predicate text
}

// LanguageRow is one pg_language entry. This engine only ever populates the
// built-in "internal" language row, but the table exists so the catalog's shape matches a real
// Postgres's and the binder's builtin-function resolution has a consistent
// place to look up a function's implementing language.
type LanguageRow struct {
	OID  oid.OID
	Name string
}

// ProcRow is one pg_proc entry: a built-in function or operator
// implementation the translator can compile a call to.
type ProcRow struct {
	OID        oid.OID
	Name       string
	Language   oid.OID
	ArgTypes   []oid.OID
	ReturnType oid.OID
}

// StatisticRow is one pg_statistic entry: per-column cardinality estimates
// the optimizer's cost model consults. Columns with no StatisticRow fall
// back to GetColumnStatistics' minimal-stub defaults.
type StatisticRow struct {
	Relation    oid.OID
	Column      oid.OID
	NullFrac    float64
	NDistinct   float64
	RowCount    int64
	AvgWidth    int
	MostCommon  []string
	Histogram   []string
}
