// Package catalog implements the self-describing pg_* metadata tables
// every database in this engine carries, the DDL lock serializing writes to
// them, and the CreateTable/DropTable/CreateIndex/DropIndex/UpdateSchema
// operations that mutate them.
//
// The catalog is self-describing: the same metadata tables an
// introspection query would read are the ones DDL writes.
package catalog

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/storage"
)

// Catalog is the top-level, multi-database metadata store: one
// DatabaseCatalog per database OID, plus the name/OID indices needed to
// resolve a connection's `database` startup parameter to its catalog.
type Catalog struct {
	log *zap.Logger
	mu  sync.RWMutex

	allocDatabase *oid.Allocator
	byOID         map[oid.OID]*DatabaseCatalog
	byName        map[string]oid.OID

	registry *storage.Registry
}

// New returns an empty Catalog with no databases.
func New(log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		log:           log,
		allocDatabase: oid.NewAllocator(oid.KindDatabase),
		byOID:         make(map[oid.OID]*DatabaseCatalog),
		byName:        make(map[string]oid.OID),
		registry:      storage.NewRegistry(),
	}
}

// CreateDatabase allocates a new database OID and an empty, builtins-seeded
// DatabaseCatalog for it.
func (c *Catalog) CreateDatabase(name string) (*DatabaseCatalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[name]; exists {
		return nil, fmt.Errorf("catalog: database %q already exists", name)
	}
	dbOID := c.allocDatabase.Next()
	dc := NewDatabaseCatalog(c.log, dbOID, name, c.registry)
	c.byOID[dbOID] = dc
	c.byName[name] = dbOID
	return dc, nil
}

// DropDatabase removes name's DatabaseCatalog and tears down its
// metadata.
func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dbOID, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("catalog: database %q does not exist", name)
	}
	dc := c.byOID[dbOID]
	delete(c.byName, name)
	delete(c.byOID, dbOID)
	dc.Teardown()
	return nil
}

// Database returns the DatabaseCatalog for name, used to resolve a
// connection's startup `database` parameter.
func (c *Catalog) Database(name string) (*DatabaseCatalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dbOID, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.byOID[dbOID], true
}

// DatabaseByOID returns the DatabaseCatalog for a given database OID.
func (c *Catalog) DatabaseByOID(o oid.OID) (*DatabaseCatalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dc, ok := c.byOID[o]
	return dc, ok
}

// Registry returns the storage registry shared by every database's
// CreateTable/CreateIndex commit actions.
func (c *Catalog) Registry() *storage.Registry {
	return c.registry
}

// Databases snapshots the current database list, for the admin sideband.
func (c *Catalog) Databases() []*DatabaseCatalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*DatabaseCatalog, 0, len(c.byOID))
	for _, dc := range c.byOID {
		out = append(out, dc)
	}
	return out
}
