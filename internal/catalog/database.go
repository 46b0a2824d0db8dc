package catalog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/row"
	"github.com/relcore/enginecore/internal/storage"
	"github.com/relcore/enginecore/internal/txn"
)

// TeardownMaxTuples bounds how many rows DropTable's teardown walk visits,
// so dropping a large table never blocks the DDL lock (and everything
// behind it) for an unbounded stretch.
const TeardownMaxTuples = 1024

// DatabaseCatalog is one database's full set of pg_* metadata tables plus
// the DDL lock serializing writes to them. Reads are snapshot-isolated the
// same way user-table reads are.
type DatabaseCatalog struct {
	OID  oid.OID
	Name string

	log  *zap.Logger
	lock DDLLock

	namespaces  *mvccTable[NamespaceRow]
	classes     *mvccTable[ClassRow]
	attributes  *mvccTable[AttributeRow]
	indexes     *mvccTable[IndexRow]
	types       *mvccTable[TypeRow]
	constraints *mvccTable[ConstraintRow]
	languages   *mvccTable[LanguageRow]
	procs       *mvccTable[ProcRow]
	statistics  *mvccTable[StatisticRow]

	allocNamespace  *oid.Allocator
	allocClass      *oid.Allocator
	allocColumn     *oid.Allocator
	allocType       *oid.Allocator
	allocConstraint *oid.Allocator
	allocLanguage   *oid.Allocator
	allocProc       *oid.Allocator

	registry *storage.Registry
}

// NewDatabaseCatalog creates an empty database catalog, seeded with the
// pg_catalog namespace, the built-in scalar types, and the "internal"
// language row.
func NewDatabaseCatalog(log *zap.Logger, dbOID oid.OID, name string, reg *storage.Registry) *DatabaseCatalog {
	if log == nil {
		log = zap.NewNop()
	}
	dc := &DatabaseCatalog{
		OID:  dbOID,
		Name: name,
		log:  log,

		namespaces:  newMVCCTable[NamespaceRow](),
		classes:     newMVCCTable[ClassRow](),
		attributes:  newMVCCTable[AttributeRow](),
		indexes:     newMVCCTable[IndexRow](),
		types:       newMVCCTable[TypeRow](),
		constraints: newMVCCTable[ConstraintRow](),
		languages:   newMVCCTable[LanguageRow](),
		procs:       newMVCCTable[ProcRow](),
		statistics:  newMVCCTable[StatisticRow](),

		allocNamespace:  oid.NewAllocator(oid.KindNamespace),
		allocClass:      oid.NewAllocator(oid.KindClass),
		allocColumn:     oid.NewAllocator(oid.KindColumn),
		allocType:       oid.NewAllocator(oid.KindType),
		allocConstraint: oid.NewAllocator(oid.KindConstraint),
		allocLanguage:   oid.NewAllocator(oid.KindLanguage),
		allocProc:       oid.NewAllocator(oid.KindProcedure),

		registry: reg,
	}
	dc.seedBuiltins()
	return dc
}

func (dc *DatabaseCatalog) seedBuiltins() {
	boot := txn.Begin(dc.log)
	dc.namespaces.Insert(boot, oid.PgCatalogNamespace, NamespaceRow{OID: oid.PgCatalogNamespace, Name: "pg_catalog"})
	dc.namespaces.Insert(boot, oid.PublicNamespace, NamespaceRow{OID: oid.PublicNamespace, Name: "public"})

	builtinTypes := []struct {
		o       oid.OID
		name    string
		sizeOf  uint32
		alignOf uint32
	}{
		{oid.TypeBool, "bool", 1, 1},
		{oid.TypeInt2, "int2", 2, 2},
		{oid.TypeInt4, "int4", 4, 4},
		{oid.TypeInt8, "int8", 8, 8},
		{oid.TypeFloat4, "float4", 4, 4},
		{oid.TypeFloat8, "float8", 8, 8},
		{oid.TypeVarchar, "varchar", 0, 4},
		{oid.TypeText, "text", 0, 4},
		{oid.TypeDate, "date", 4, 4},
		{oid.TypeNumeric, "numeric", 0, 4},
	}
	for _, t := range builtinTypes {
		dc.types.Insert(boot, t.o, TypeRow{OID: t.o, Name: t.name, SizeOf: t.sizeOf, AlignOf: t.alignOf})
	}

	internalLang := dc.allocLanguage.Next()
	dc.languages.Insert(boot, internalLang, LanguageRow{OID: internalLang, Name: "internal"})

	boot.Commit()
}

// CreateNamespace adds a namespace row under the DDL lock. The wire layer
// uses it for each connection's temporary namespace at startup.
func (dc *DatabaseCatalog) CreateNamespace(tx *txn.Context, name string) (oid.OID, error) {
	if !dc.lock.TryLock(tx) {
		return oid.Invalid, fmt.Errorf("catalog: cannot acquire DDL lock for CreateNamespace(%s)", name)
	}
	if _, exists := dc.NamespaceByName(tx, name); exists {
		return oid.Invalid, fmt.Errorf("catalog: namespace %q already exists", name)
	}
	o := dc.allocNamespace.Next()
	dc.namespaces.Insert(tx, o, NamespaceRow{OID: o, Name: name})
	tx.RegisterCommitAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	dc.log.Debug("catalog_create_namespace", zap.String("name", name), zap.Uint32("oid", uint32(o)))
	return o, nil
}

// DropNamespace removes a namespace row under the DDL lock. Relations in
// the namespace are not cascaded; callers drop them first.
func (dc *DatabaseCatalog) DropNamespace(tx *txn.Context, nsOID oid.OID) error {
	if !dc.lock.TryLock(tx) {
		return fmt.Errorf("catalog: cannot acquire DDL lock for DropNamespace(%d)", nsOID)
	}
	dc.namespaces.Delete(tx, nsOID)
	tx.RegisterCommitAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	return nil
}

// CreateTable allocates a pg_class row plus one pg_attribute row per column,
// installs a fresh storage.Table under the catalog's registry, and wires up
// commit/abort actions so the new relation only becomes visible on commit.
func (dc *DatabaseCatalog) CreateTable(tx *txn.Context, namespace oid.OID, name string, cols []ColumnSpec) (*Schema, error) {
	if !dc.lock.TryLock(tx) {
		return nil, fmt.Errorf("catalog: cannot acquire DDL lock for CreateTable(%s)", name)
	}

	tableOID := dc.allocClass.Next()
	schema := &Schema{TableOID: tableOID}
	for i, cs := range cols {
		colOID := dc.allocColumn.Next()
		col := Column{
			OID:        colOID,
			ColID:      row.ColID(i + 1),
			Name:       cs.Name,
			Type:       cs.Type,
			Nullable:   cs.Nullable,
			DefaultSQL: cs.DefaultSQL,
		}
		schema.Columns = append(schema.Columns, col)
	}

	dc.classes.Insert(tx, tableOID, ClassRow{OID: tableOID, Namespace: namespace, Name: name, Kind: RelKindTable, RelTable: tableOID})
	for i, col := range schema.Columns {
		attrOID := col.OID
		dc.attributes.Insert(tx, attrOID, AttributeRow{
			OID: attrOID, Relation: tableOID, Name: col.Name, Type: col.Type,
			AttrNum: i + 1, NotNull: !col.Nullable, DefaultSQL: col.DefaultSQL,
		})
	}

	tbl := storage.NewInMemoryTable()
	tx.RegisterCommitAction("catalog_install_table", func() {
		dc.registry.InstallTable(tableOID, tbl)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	tx.RegisterCommitAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Finish)
	})

	dc.log.Debug("catalog_create_table", zap.Uint32("table_oid", uint32(tableOID)), zap.String("name", name))
	return schema, nil
}

// DropTable removes a table's pg_class/pg_attribute rows and, once the
// dropping transaction commits, runs its storage object's single teardown
// walk (at most TeardownMaxTuples rows) and removes it from the registry.
func (dc *DatabaseCatalog) DropTable(tx *txn.Context, tableOID oid.OID) error {
	if !dc.lock.TryLock(tx) {
		return fmt.Errorf("catalog: cannot acquire DDL lock for DropTable(%d)", tableOID)
	}

	dc.classes.Delete(tx, tableOID)
	dc.attributes.Scan(tx, func(attrOID oid.OID, a AttributeRow) bool {
		if a.Relation == tableOID {
			dc.attributes.Delete(tx, attrOID)
		}
		return true
	})

	// Cascade: indexes, constraints, and statistics rows referencing the
	// table go with it.
	var droppedIndexes []oid.OID
	dc.indexes.Scan(tx, func(idxOID oid.OID, ir IndexRow) bool {
		if ir.TableRel == tableOID {
			dc.indexes.Delete(tx, idxOID)
			dc.classes.Delete(tx, idxOID)
			droppedIndexes = append(droppedIndexes, idxOID)
		}
		return true
	})
	dc.constraints.Scan(tx, func(conOID oid.OID, cr ConstraintRow) bool {
		if cr.Relation == tableOID {
			dc.constraints.Delete(tx, conOID)
		}
		return true
	})
	dc.statistics.Scan(tx, func(statOID oid.OID, sr StatisticRow) bool {
		if sr.Relation == tableOID {
			dc.statistics.Delete(tx, statOID)
		}
		return true
	})

	tx.RegisterCommitAction("catalog_teardown_table", func() {
		for _, idxOID := range droppedIndexes {
			dc.registry.Remove(idxOID)
		}
		if tbl, ok := dc.registry.Table(tableOID); ok {
			dc.teardown(tbl)
			dc.registry.Remove(tableOID)
		}
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	return nil
}

// AllocatorFor resolves a recovery log record's kind tag to the matching
// OID allocator, satisfying internal/wal's Allocators contract.
func (dc *DatabaseCatalog) AllocatorFor(kind string) (*oid.Allocator, bool) {
	switch kind {
	case "namespace":
		return dc.allocNamespace, true
	case "class":
		return dc.allocClass, true
	case "column":
		return dc.allocColumn, true
	case "type":
		return dc.allocType, true
	case "constraint":
		return dc.allocConstraint, true
	case "language":
		return dc.allocLanguage, true
	case "procedure":
		return dc.allocProc, true
	default:
		return nil, false
	}
}

// SnapshotView returns a JSON-ready view of this database's relations,
// the shape the admin sideband serves. A fresh read transaction pins the
// snapshot the way every other catalog read does.
func (dc *DatabaseCatalog) SnapshotView() map[string]any {
	reader := txn.Begin(dc.log)
	defer reader.Abort()

	tables := []map[string]any{}
	dc.classes.Scan(reader, func(o oid.OID, cr ClassRow) bool {
		if cr.Kind != RelKindTable {
			return true
		}
		entry := map[string]any{"oid": uint32(o), "name": cr.Name, "namespace": uint32(cr.Namespace)}
		if schema := dc.schemaOf(reader, o); schema != nil {
			cols := make([]map[string]any, 0, len(schema.Columns))
			for _, c := range schema.Columns {
				cols = append(cols, map[string]any{
					"oid": uint32(c.OID), "name": c.Name, "type": uint32(c.Type), "nullable": c.Nullable,
				})
			}
			entry["columns"] = cols
		}
		entry["indexes"] = dc.GetIndexOids(reader, o)
		tables = append(tables, entry)
		return true
	})
	return map[string]any{
		"oid":    uint32(dc.OID),
		"name":   dc.Name,
		"tables": tables,
	}
}

// Teardown scans every metadata table under a read-only transaction and
// queues deferred removal of the database's table and index storage
// objects from the registry. Each table's teardown walk visits at most
// TeardownMaxTuples rows.
func (dc *DatabaseCatalog) Teardown() {
	reader := txn.Begin(dc.log)
	var tables, indexes []oid.OID
	dc.classes.Scan(reader, func(o oid.OID, cr ClassRow) bool {
		switch cr.Kind {
		case RelKindTable:
			tables = append(tables, o)
		case RelKindIndex:
			indexes = append(indexes, o)
		}
		return true
	})
	reader.RegisterCommitAction("catalog_teardown_database", func() {
		for _, o := range indexes {
			dc.registry.Remove(o)
		}
		for _, o := range tables {
			if tbl, ok := dc.registry.Table(o); ok {
				dc.teardown(tbl)
				dc.registry.Remove(o)
			}
		}
	})
	_ = reader.Commit()
	dc.log.Info("catalog_teardown",
		zap.Int("tables", len(tables)), zap.Int("indexes", len(indexes)))
}

// teardown walks at most TeardownMaxTuples of a dropped table's live rows
// in one pass and then stops; it reclaims nothing itself, and rows past
// that bound are not visited. Callers remove the storage object from the
// registry afterwards.
func (dc *DatabaseCatalog) teardown(tbl storage.Table) {
	reader := txn.Begin(dc.log)
	batch := 0
	tbl.Scan(reader, func(s storage.Slot, _ row.Row) bool {
		batch++
		return batch < TeardownMaxTuples
	})
}

// CreateIndex allocates a pg_class row (kind index) plus a pg_index row
// linking it to tableOID and the indexed attribute OIDs, and installs a
// fresh storage.IndexKV under the registry on commit.
func (dc *DatabaseCatalog) CreateIndex(tx *txn.Context, namespace, tableOID oid.OID, name string, cols []oid.OID, unique, primary bool) (oid.OID, error) {
	if !dc.lock.TryLock(tx) {
		return oid.Invalid, fmt.Errorf("catalog: cannot acquire DDL lock for CreateIndex(%s)", name)
	}

	indexOID := dc.allocClass.Next()
	dc.classes.Insert(tx, indexOID, ClassRow{OID: indexOID, Namespace: namespace, Name: name, Kind: RelKindIndex, RelTable: indexOID})
	dc.indexes.Insert(tx, indexOID, IndexRow{OID: indexOID, IndexRel: indexOID, TableRel: tableOID, Columns: cols, IsUnique: unique, IsPrimary: primary})

	idx := storage.NewInMemoryIndex(unique)
	tx.RegisterCommitAction("catalog_install_index", func() {
		dc.registry.InstallIndex(indexOID, idx)
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	return indexOID, nil
}

// DropIndex removes an index's pg_class/pg_index rows and its storage
// object on commit.
func (dc *DatabaseCatalog) DropIndex(tx *txn.Context, indexOID oid.OID) error {
	if !dc.lock.TryLock(tx) {
		return fmt.Errorf("catalog: cannot acquire DDL lock for DropIndex(%d)", indexOID)
	}
	dc.classes.Delete(tx, indexOID)
	dc.indexes.Delete(tx, indexOID)
	tx.RegisterCommitAction("catalog_drop_index", func() {
		dc.registry.Remove(indexOID)
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	return nil
}

// SetColumnStatistics installs or replaces the pg_statistic row for one
// column, keyed by the column's OID — the entry point an ANALYZE-style
// sweep writes through.
func (dc *DatabaseCatalog) SetColumnStatistics(tx *txn.Context, stat StatisticRow) {
	dc.statistics.Replace(tx, stat.Column, stat)
}

// UpdateSchema replaces tableOID's pg_attribute rows wholesale with cols,
// under the DDL lock. The returned Schema's Version is left at 0.
func (dc *DatabaseCatalog) UpdateSchema(tx *txn.Context, tableOID oid.OID, cols []ColumnSpec) (*Schema, error) {
	if !dc.lock.TryLock(tx) {
		return nil, fmt.Errorf("catalog: cannot acquire DDL lock for UpdateSchema(%d)", tableOID)
	}

	dc.attributes.Scan(tx, func(attrOID oid.OID, a AttributeRow) bool {
		if a.Relation == tableOID {
			dc.attributes.Delete(tx, attrOID)
		}
		return true
	})

	schema := &Schema{TableOID: tableOID}
	for i, cs := range cols {
		colOID := dc.allocColumn.Next()
		col := Column{OID: colOID, ColID: row.ColID(i + 1), Name: cs.Name, Type: cs.Type, Nullable: cs.Nullable, DefaultSQL: cs.DefaultSQL}
		schema.Columns = append(schema.Columns, col)
		dc.attributes.Insert(tx, colOID, AttributeRow{OID: colOID, Relation: tableOID, Name: col.Name, Type: col.Type, AttrNum: i + 1, NotNull: !col.Nullable, DefaultSQL: col.DefaultSQL})
	}

	tx.RegisterCommitAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Finish)
	})
	tx.RegisterAbortAction("catalog_release_ddl_lock", func() {
		dc.lock.Release(tx.Start)
	})
	return schema, nil
}

// LookupTableByName resolves a (namespace, name) pair to its pg_class OID
// and reconstructed Schema, as visible to tx.
func (dc *DatabaseCatalog) LookupTableByName(tx *txn.Context, namespace oid.OID, name string) (*Schema, bool) {
	cls, ok := dc.classes.Find(tx, func(c ClassRow) bool {
		return c.Namespace == namespace && c.Name == name && c.Kind == RelKindTable
	})
	if !ok {
		return nil, false
	}
	return dc.schemaOf(tx, cls.OID), true
}

// IndexByName resolves a (namespace, name) pair to its pg_class OID for an
// index relation, as visible to tx.
func (dc *DatabaseCatalog) IndexByName(tx *txn.Context, namespace oid.OID, name string) (oid.OID, bool) {
	cls, ok := dc.classes.Find(tx, func(c ClassRow) bool {
		return c.Namespace == namespace && c.Name == name && c.Kind == RelKindIndex
	})
	if !ok {
		return oid.Invalid, false
	}
	return cls.OID, true
}

// SchemaOf reconstructs tableOID's Schema as visible to tx, for callers
// (the translator, the wire protocol's RowDescription builder) that already
// hold a table OID rather than a (namespace, name) pair.
func (dc *DatabaseCatalog) SchemaOf(tx *txn.Context, tableOID oid.OID) *Schema {
	return dc.schemaOf(tx, tableOID)
}

// IndexInfo resolves indexOID to its pg_index row, giving the translator the
// indexed table and key-column OIDs an index scan or index nested-loop join
// compiles against.
func (dc *DatabaseCatalog) IndexInfo(tx *txn.Context, indexOID oid.OID) (IndexRow, bool) {
	return dc.indexes.Get(tx, indexOID)
}

// GetIndexOids returns every index OID covering tableOID, as visible to
// tx: an index appears here within the creating transaction and, after
// commit, globally. The optimizer's index-scan property deriver calls
// this to enumerate candidate access paths for a LogicalGet.
func (dc *DatabaseCatalog) GetIndexOids(tx *txn.Context, tableOID oid.OID) []oid.OID {
	var out []oid.OID
	dc.indexes.Scan(tx, func(_ oid.OID, idx IndexRow) bool {
		if idx.TableRel == tableOID {
			out = append(out, idx.IndexRel)
		}
		return true
	})
	return out
}

func (dc *DatabaseCatalog) schemaOf(tx *txn.Context, tableOID oid.OID) *Schema {
	schema := &Schema{TableOID: tableOID}
	type numbered struct {
		attrNum int
		col     Column
	}
	var cols []numbered
	dc.attributes.Scan(tx, func(_ oid.OID, a AttributeRow) bool {
		if a.Relation != tableOID {
			return true
		}
		cols = append(cols, numbered{a.AttrNum, Column{
			OID: a.OID, ColID: row.ColID(a.AttrNum), Name: a.Name, Type: a.Type,
			Nullable: !a.NotNull, DefaultSQL: a.DefaultSQL,
		}})
		return true
	})
	for i := 1; i <= len(cols); i++ {
		for _, c := range cols {
			if c.attrNum == i {
				schema.Columns = append(schema.Columns, c.col)
			}
		}
	}
	return schema
}

// NamespaceByName resolves a schema name to its OID, as visible to tx.
func (dc *DatabaseCatalog) NamespaceByName(tx *txn.Context, name string) (oid.OID, bool) {
	ns, ok := dc.namespaces.Find(tx, func(n NamespaceRow) bool { return n.Name == name })
	if !ok {
		return oid.Invalid, false
	}
	return ns.OID, true
}

// TypeByName resolves a built-in type name to its OID.
func (dc *DatabaseCatalog) TypeByName(tx *txn.Context, name string) (oid.OID, bool) {
	t, ok := dc.types.Find(tx, func(t TypeRow) bool { return t.Name == name })
	if !ok {
		return oid.Invalid, false
	}
	return t.OID, true
}

// GetColumnStatistics returns the cardinality estimates the optimizer's cost
// model should use for column col, falling back to a conservative stub
// (zero rows known, fully selective) when no pg_statistic row exists yet —
// e.g. immediately after CreateTable and before any ANALYZE-equivalent has
// run. The fallback keeps every other component callable.
func (dc *DatabaseCatalog) GetColumnStatistics(tx *txn.Context, tableOID, colOID oid.OID) StatisticRow {
	stat, ok := dc.statistics.Find(tx, func(s StatisticRow) bool {
		return s.Relation == tableOID && s.Column == colOID
	})
	if !ok {
		return StatisticRow{Relation: tableOID, Column: colOID, NullFrac: 0, NDistinct: 0, RowCount: 0, AvgWidth: 0}
	}
	return stat
}

// GetTableStatistics returns the maximum RowCount across tableOID's
// pg_statistic rows, or 0 if none exist.
func (dc *DatabaseCatalog) GetTableStatistics(tx *txn.Context, tableOID oid.OID) int64 {
	var maxRows int64
	dc.statistics.Scan(tx, func(_ oid.OID, s StatisticRow) bool {
		if s.Relation == tableOID && s.RowCount > maxRows {
			maxRows = s.RowCount
		}
		return true
	})
	return maxRows
}
