// Package wire implements the Postgres v3 wire-protocol
// state machine, the simple and extended query flows, named prepared
// statements and portals, and error recovery to Sync.
//
// Message framing is github.com/jackc/pgx/v5/pgproto3's backend side; the
// per-connection state machine lives in Session.
package wire

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/binder"
	"github.com/relcore/enginecore/internal/cache"
	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/exec"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/optimizer"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/translator"
	"github.com/relcore/enginecore/internal/txn"
)

// Engine owns the process-wide pieces every connection shares: the global
// catalog, the settings snapshot, and the root logger. Everything
// per-connection (cache, portals, transaction) lives on the session.
type Engine struct {
	Log     *zap.Logger
	Catalog *catalog.Catalog
	Config  config.Config

	// Telemetry, when set, receives each executed query's operating-unit
	// features for the admin sideband's push channel. Never on the SQL
	// data path.
	Telemetry func(msgType string, payload any)
}

func NewEngine(log *zap.Logger, cat *catalog.Catalog, cfg config.Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Log: log, Catalog: cat, Config: cfg}
}

// bindAndPlan runs the binder and logical plan build for one parsed
// statement, filling stmt's bound fields. DDL and transaction control
// never reach this path.
func (e *Engine) bindAndPlan(db *catalog.DatabaseCatalog, tx *txn.Context, st parser.Statement, stmt *cache.Statement) error {
	b := binder.New(e.Log, db, tx)

	var (
		root       plan.LogicalOp
		cols       []plan.OutputCol
		paramTypes map[int32]oid.OID
		err        error
	)
	switch st.Kind {
	case parser.StmtSelect:
		root, cols, paramTypes, err = b.BuildLogicalQuery(st.Node.GetSelectStmt())
	case parser.StmtInsert:
		root, _, paramTypes, err = b.BuildLogicalInsert(st.Node.GetInsertStmt())
	case parser.StmtUpdate:
		root, paramTypes, err = b.BuildLogicalUpdate(st.Node.GetUpdateStmt())
	case parser.StmtDelete:
		root, paramTypes, err = b.BuildLogicalDelete(st.Node.GetDeleteStmt())
	default:
		return errs.New(errs.KindProtocol, errs.CodeInternalError,
			fmt.Sprintf("bindAndPlan called for %s", st.Kind))
	}
	if err != nil {
		return bindErrToWire(err)
	}

	stmt.Logical = root
	stmt.CTEs = b.CTEPlans()
	stmt.Columns = cols
	stmt.ParamTypes = orderedParamTypes(paramTypes)
	stmt.Refs = collectRefs(root, stmt.CTEs)
	return nil
}

// optimize picks the physical plan for a bound statement.
func (e *Engine) optimize(db *catalog.DatabaseCatalog, tx *txn.Context, stmt *cache.Statement) error {
	q, err := optimizer.OptimizeQuery(db, tx, stmt.Logical, stmt.Columns, stmt.CTEs, e.Config.OptimizerTaskTimeoutMS)
	if err != nil {
		return errs.Wrap(errs.KindOptimizer, errs.CodeInternalError, "no plan produced", err)
	}
	stmt.Plan = q
	return nil
}

// compile turns the chosen plan into an ExecutableQuery against the live
// storage registry.
func (e *Engine) compile(db *catalog.DatabaseCatalog, tx *txn.Context, stmt *cache.Statement, params []ir.Value) (*exec.ExecutableQuery, *translator.Ctx, error) {
	tctx := &translator.Ctx{
		Tx:      tx,
		Catalog: db,
		Storage: e.Catalog.Registry(),
		Params:  params,
		Log:     e.Log,
	}
	eq, err := translator.Compile(tctx, stmt.Plan, e.Config)
	if err != nil {
		return nil, nil, err
	}
	stmt.Exec = eq
	return eq, tctx, nil
}

// run executes a compiled query, invoking emit once per output row, and
// returns the rows-affected count for DML.
func (e *Engine) run(eq *exec.ExecutableQuery, emit func(ir.Tuple) error) (int64, error) {
	rc := &exec.RunContext{Log: e.Log, Emit: emit}
	err := exec.Run(rc, eq)
	if e.Telemetry != nil && len(eq.Telemetry) > 0 {
		e.Telemetry("pipeline_features", eq.Telemetry)
	}
	if err != nil {
		return 0, err
	}
	return rc.RowsAffected(), nil
}

// orderedParamTypes turns the binder's sparse $n→type map into the dense,
// 1-based list ParameterDescription needs, defaulting untyped parameters
// to text.
func orderedParamTypes(m map[int32]oid.OID) []oid.OID {
	var max int32
	for n := range m {
		if n > max {
			max = n
		}
	}
	out := make([]oid.OID, max)
	for i := range out {
		out[i] = oid.TypeText
	}
	for n, t := range m {
		if n >= 1 {
			out[n-1] = t
		}
	}
	return out
}

// collectRefs gathers every base-table OID a plan reads or writes, for
// statement-cache invalidation matching.
func collectRefs(root plan.LogicalOp, ctes []plan.LogicalCTE) []oid.OID {
	seen := make(map[oid.OID]struct{})
	var walk func(op plan.LogicalOp)
	walk = func(op plan.LogicalOp) {
		if op == nil {
			return
		}
		switch n := op.(type) {
		case plan.LogicalGet:
			seen[n.Table] = struct{}{}
		case plan.LogicalInsert:
			seen[n.Table] = struct{}{}
		case plan.LogicalUpdate:
			seen[n.Table] = struct{}{}
		case plan.LogicalDelete:
			seen[n.Table] = struct{}{}
		}
		for _, c := range op.Children() {
			walk(c)
		}
	}
	walk(root)
	for _, cte := range ctes {
		walk(cte.Root)
	}
	out := make([]oid.OID, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	return out
}

// bindErrToWire maps a binder failure to the kind-tagged taxonomy the
// ErrorResponse builder consumes.
func bindErrToWire(err error) error {
	var be *binder.BindError
	if !errors.As(err, &be) {
		return errs.Wrap(errs.KindBinder, errs.CodeInternalError, "bind failed", err)
	}
	code := errs.CodeInternalError
	switch be.Kind {
	case binder.ErrUnknownColumn:
		code = errs.CodeUndefinedColumn
	case binder.ErrAmbiguousColumn:
		code = errs.CodeAmbiguousColumn
	case binder.ErrUnknownTable:
		code = errs.CodeUndefinedTable
	case binder.ErrDuplicateAlias:
		code = errs.CodeDuplicateAlias
	case binder.ErrTypeMismatch:
		code = errs.CodeSyntaxError
	case binder.ErrNotImplemented:
		code = errs.CodeFeatureNotSupported
	}
	return errs.Wrap(errs.KindBinder, code, be.Message, be)
}

// explainTarget extracts the inner statement of an EXPLAIN for planning.
func explainTarget(node *pg_query.Node) (parser.Statement, error) {
	ex := node.GetExplainStmt()
	inner := ex.GetQuery()
	if inner == nil || inner.GetSelectStmt() == nil {
		return parser.Statement{}, errs.New(errs.KindBinder, errs.CodeFeatureNotSupported, "EXPLAIN supports SELECT only")
	}
	return parser.Statement{Kind: parser.StmtSelect, Node: inner}, nil
}
