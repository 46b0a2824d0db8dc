// Package translator implements one translator per plan node
// and per expression kind, compiling a chosen physical plan into pipelines
// of operators that read/write internal/row.Row through internal/storage
// and evaluate internal/ir.Expr trees, packaged into internal/exec
// Fragments for the runtime to invoke.
//
// Each translator kind is a concrete Operator with its own state; a small
// method set (Open/Next/Close) backs dynamic dispatch along the pipeline
// chain.
package translator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/storage"
	"github.com/relcore/enginecore/internal/txn"
)

// Ctx is the per-run execution context every Operator's Open/Next/Close
// receives: the owning transaction, the database catalog it resolves
// table/index OIDs against, the storage registry holding live Table/
// IndexKV objects, and the portal's bound parameter values.
type Ctx struct {
	Tx      *txn.Context
	Catalog *catalog.DatabaseCatalog
	Storage *storage.Registry
	Params  []ir.Value
	Log     *zap.Logger

	ctes map[string]*materializedCTE
}

type materializedCTE struct {
	schema *Schema
	rows   []ir.Tuple
	ready  bool
}

// DeclareCTE registers name's output schema before any operator tree is
// built, so a CTEScan can compile against it while the rows themselves are
// produced later, in fragment order.
func (c *Ctx) DeclareCTE(name string, schema *Schema) {
	if c.ctes == nil {
		c.ctes = make(map[string]*materializedCTE)
	}
	c.ctes[name] = &materializedCTE{schema: schema}
}

// RunCTE runs a declared CTE's operator tree to completion and stashes its
// rows under name so a later CTEScan in the same statement can read them
// back without re-running the subquery.
func (c *Ctx) RunCTE(name string, op Operator) error {
	mat, ok := c.ctes[name]
	if !ok {
		return fmt.Errorf("translator: cte %q was never declared", name)
	}
	if err := op.Open(c); err != nil {
		return err
	}
	defer op.Close(c)
	var rows []ir.Tuple
	for {
		t, ok, err := op.Next(c)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		rows = append(rows, t)
	}
	mat.rows = rows
	mat.ready = true
	return nil
}

// ReleaseCTE frees name's materialized rows during query teardown.
func (c *Ctx) ReleaseCTE(name string) {
	if mat, ok := c.ctes[name]; ok {
		mat.rows = nil
		mat.ready = false
	}
}
