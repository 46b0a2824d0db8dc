package wire

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/binder"
	"github.com/relcore/enginecore/internal/cache"
	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/logutil"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/plan"
	"github.com/relcore/enginecore/internal/translator"
	"github.com/relcore/enginecore/internal/txn"
)

// handleSimpleQuery parses, binds, optimizes, and executes an entire
// statement list in one round-trip.
func (s *Session) handleSimpleQuery(sql string) {
	res, err := parser.Parse(sql)
	if err != nil {
		s.simpleError(errs.Wrap(errs.KindParse, errs.CodeSyntaxError, "syntax error", err))
		s.sendReady()
		return
	}
	if len(res.Statements) == 0 {
		s.backend.Send(&pgproto3.EmptyQueryResponse{})
		s.sendReady()
		return
	}
	for _, st := range res.Statements {
		if err := s.execSimple(st, statementText(res, st)); err != nil {
			s.simpleError(err)
			break
		}
	}
	s.sendReady()
}

// statementText slices one statement's text out of a multi-statement
// batch, for statement-cache keying.
func statementText(res *parser.Result, st parser.Statement) string {
	src := res.Source
	start := int(st.Location)
	if start < 0 || start >= len(src) {
		return src
	}
	end := len(src)
	if st.Length > 0 && start+int(st.Length) <= len(src) {
		end = start + int(st.Length)
	}
	return strings.TrimSpace(src[start:end])
}

// execSimple dispatches one statement of a simple-query batch. A returned
// error aborts the rest of the batch.
func (s *Session) execSimple(st parser.Statement, text string) error {
	if s.state == stateInTxnFailed && st.Kind != parser.StmtCommit && st.Kind != parser.StmtRollback {
		return errs.New(errs.KindRuntime, errs.CodeInFailedSQLTxn,
			"current transaction is aborted, commands ignored until end of transaction block")
	}

	switch st.Kind {
	case parser.StmtBegin, parser.StmtCommit, parser.StmtRollback:
		return s.execTxnControl(st.Kind)
	case parser.StmtSet, parser.StmtShow:
		return s.execSetShow(st)
	case parser.StmtCreateDatabase, parser.StmtDropDatabase:
		return s.execDatabaseDDL(st)
	case parser.StmtCreateTable, parser.StmtDropTable, parser.StmtCreateIndex, parser.StmtDropIndex:
		tx := s.ensureTxn()
		tag, err := s.execDDL(tx, st)
		if err != nil {
			return err
		}
		s.endImplicit(false)
		s.commandComplete(tag)
		return nil
	case parser.StmtExplain:
		return s.execExplain(st, text)
	case parser.StmtSelect:
		return s.execSelect(st, text, nil, nil)
	case parser.StmtInsert, parser.StmtUpdate, parser.StmtDelete:
		return s.execDML(st, text, nil)
	case parser.StmtAlterTable:
		return errs.New(errs.KindCodegen, errs.CodeFeatureNotSupported, "ALTER TABLE is not supported")
	default:
		return errs.New(errs.KindCodegen, errs.CodeFeatureNotSupported,
			fmt.Sprintf("unsupported statement kind %s", st.Kind))
	}
}

// execTxnControl handles BEGIN/COMMIT/ROLLBACK, which bypass binder,
// optimizer, and codegen entirely.
func (s *Session) execTxnControl(kind parser.StmtKind) error {
	switch kind {
	case parser.StmtBegin:
		if s.explicit {
			s.notice("there is already a transaction in progress")
			s.commandComplete("BEGIN")
			return nil
		}
		// An implicit transaction opened earlier in this batch is
		// promoted rather than restarted.
		s.ensureTxn()
		s.explicit = true
		s.state = stateInTxnBlock
		s.commandComplete("BEGIN")
		return nil

	case parser.StmtCommit:
		if !s.explicit {
			s.notice("there is no transaction in progress")
			s.commandComplete("COMMIT")
			return nil
		}
		failed := s.state == stateInTxnFailed || s.tx.MustAbort()
		if err := s.tx.Commit(); err != nil {
			failed = true
		}
		s.tx = nil
		s.explicit = false
		s.state = stateIdle
		if failed {
			s.commandComplete("ROLLBACK")
		} else {
			s.commandComplete("COMMIT")
		}
		return nil

	case parser.StmtRollback:
		if !s.explicit {
			s.notice("there is no transaction in progress")
			s.commandComplete("ROLLBACK")
			return nil
		}
		s.tx.Abort()
		s.tx = nil
		s.explicit = false
		s.state = stateIdle
		s.commandComplete("ROLLBACK")
		return nil
	}
	return nil
}

// execSetShow handles SET and SHOW, which are non-transactional and
// rejected inside explicit transaction blocks.
func (s *Session) execSetShow(st parser.Statement) error {
	if s.explicit {
		return errs.New(errs.KindProtocol, errs.CodeActiveSQLTxn,
			fmt.Sprintf("%s cannot run inside a transaction block", st.Kind))
	}
	if st.Kind == parser.StmtSet {
		vs := st.Node.GetVariableSetStmt()
		name := strings.ToLower(vs.GetName())
		s.vars[name] = setStmtValue(vs)
		s.commandComplete("SET")
		return nil
	}

	name := strings.ToLower(st.Node.GetVariableShowStmt().GetName())
	value, ok := s.vars[name]
	if !ok {
		switch name {
		case "server_version":
			value = "14.0"
		case "server_encoding", "client_encoding":
			value = "UTF8"
		case "transaction_isolation":
			value = "snapshot"
		default:
			return errs.New(errs.KindBinder, "42704", fmt.Sprintf("unrecognized configuration parameter %q", name))
		}
	}
	s.backend.Send(rowDescription([]plan.OutputCol{{Name: name, Type: oid.TypeText}}, nil))
	s.backend.Send(&pgproto3.DataRow{Values: [][]byte{[]byte(value)}})
	s.commandComplete("SHOW")
	return nil
}

func setStmtValue(vs *pg_query.VariableSetStmt) string {
	parts := make([]string, 0, len(vs.GetArgs()))
	for _, arg := range vs.GetArgs() {
		ac := arg.GetAConst()
		if ac == nil {
			continue
		}
		switch {
		case ac.GetSval() != nil:
			parts = append(parts, ac.GetSval().GetSval())
		case ac.GetIval() != nil:
			parts = append(parts, fmt.Sprintf("%d", ac.GetIval().GetIval()))
		case ac.GetFval() != nil:
			parts = append(parts, ac.GetFval().GetFval())
		case ac.GetBoolval() != nil:
			if ac.GetBoolval().GetBoolval() {
				parts = append(parts, "on")
			} else {
				parts = append(parts, "off")
			}
		}
	}
	return strings.Join(parts, ", ")
}

// execDatabaseDDL handles CREATE DATABASE and DROP DATABASE, rejected
// inside explicit transaction blocks.
func (s *Session) execDatabaseDDL(st parser.Statement) error {
	if s.explicit {
		return errs.New(errs.KindProtocol, errs.CodeActiveSQLTxn,
			fmt.Sprintf("%s cannot run inside a transaction block", st.Kind))
	}
	if st.Kind == parser.StmtCreateDatabase {
		name := st.Node.GetCreatedbStmt().GetDbname()
		if _, err := s.eng.Catalog.CreateDatabase(name); err != nil {
			return errs.Wrap(errs.KindRuntime, "42P04", fmt.Sprintf("database %q already exists", name), err)
		}
		s.commandComplete("CREATE DATABASE")
		return nil
	}
	drop := st.Node.GetDropdbStmt()
	if err := s.eng.Catalog.DropDatabase(drop.GetDbname()); err != nil {
		if drop.GetMissingOk() {
			s.notice(fmt.Sprintf("database %q does not exist, skipping", drop.GetDbname()))
			s.commandComplete("DROP DATABASE")
			return nil
		}
		return errs.Wrap(errs.KindRuntime, "3D000", fmt.Sprintf("database %q does not exist", drop.GetDbname()), err)
	}
	s.cache.InvalidateAll()
	s.commandComplete("DROP DATABASE")
	return nil
}

// planFor returns the cached compilation artifacts for text, running the
// binder and optimizer only when the cache has no usable plan.
func (s *Session) planFor(text string, st parser.Statement, tx *txn.Context) (*cache.Statement, error) {
	cs, ok := s.cache.Get(text)
	if !ok {
		cs = &cache.Statement{SQL: text}
		s.cache.Put(cs)
	}
	if cs.Bound() {
		return cs, nil
	}
	if err := s.eng.bindAndPlan(s.db, tx, st, cs); err != nil {
		return nil, err
	}
	if err := s.eng.optimize(s.db, tx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// execSelect runs a SELECT, streaming DataRows as the runtime emits them.
// When sink is non-nil, rows are appended there instead of being streamed,
// for portal materialization in the extended flow.
func (s *Session) execSelect(st parser.Statement, text string, params []ir.Value, sink *[]ir.Tuple) error {
	tx := s.ensureTxn()
	cs, err := s.planFor(text, st, tx)
	if err != nil {
		return err
	}

	eq, _, err := s.eng.compile(s.db, tx, cs, params)
	if err != nil {
		return err
	}

	if sink != nil {
		_, err = s.eng.run(eq, func(t ir.Tuple) error {
			*sink = append(*sink, cloneTuple(t))
			return nil
		})
		if err != nil {
			return translateRuntimeErr(err)
		}
		return nil
	}

	s.backend.Send(rowDescription(cs.Columns, nil))
	count := 0
	_, err = s.eng.run(eq, func(t ir.Tuple) error {
		row, encErr := dataRow(t, cs.Columns, nil)
		if encErr != nil {
			return encErr
		}
		s.backend.Send(row)
		count++
		return nil
	})
	if err != nil {
		return translateRuntimeErr(err)
	}
	s.endImplicit(false)
	s.commandComplete(fmt.Sprintf("SELECT %d", count))
	s.log.Debug("select_done", logutil.Values(zap.Int("rows", count), zap.Uint64("query_id", eq.QueryID)))
	return nil
}

// execExplain plans the inner statement without running it and emits the
// special explain RowDescription.
func (s *Session) execExplain(st parser.Statement, text string) error {
	inner, err := explainTarget(st.Node)
	if err != nil {
		return err
	}
	tx := s.ensureTxn()
	cs := &cache.Statement{SQL: text}
	if err := s.eng.bindAndPlan(s.db, tx, inner, cs); err != nil {
		return err
	}
	if err := s.eng.optimize(s.db, tx, cs); err != nil {
		return err
	}
	s.backend.Send(rowDescription([]plan.OutputCol{{Name: "QUERY PLAN", Type: oid.TypeText}}, nil))
	for _, line := range explainText(cs.Plan) {
		s.backend.Send(&pgproto3.DataRow{Values: [][]byte{[]byte(line)}})
	}
	s.endImplicit(false)
	s.commandComplete("EXPLAIN")
	return nil
}

// execDML runs an INSERT/UPDATE/DELETE and reports rows-affected via
// CommandComplete.
func (s *Session) execDML(st parser.Statement, text string, params []ir.Value) error {
	tx := s.ensureTxn()
	cs, err := s.planFor(text, st, tx)
	if err != nil {
		return err
	}
	eq, _, err := s.eng.compile(s.db, tx, cs, params)
	if err != nil {
		return err
	}
	affected, err := s.eng.run(eq, nil)
	if err != nil {
		return translateRuntimeErr(err)
	}
	s.endImplicit(false)
	s.commandComplete(dmlTag(st.Kind, affected))
	return nil
}

func dmlTag(kind parser.StmtKind, affected int64) string {
	switch kind {
	case parser.StmtInsert:
		return fmt.Sprintf("INSERT 0 %d", affected)
	case parser.StmtUpdate:
		return fmt.Sprintf("UPDATE %d", affected)
	default:
		return fmt.Sprintf("DELETE %d", affected)
	}
}

// translateRuntimeErr ensures a runtime failure carries a SQLSTATE before
// it reaches the ErrorResponse builder.
func translateRuntimeErr(err error) error {
	if _, ok := asEngineErr(err); ok {
		return err
	}
	return errs.Wrap(errs.KindRuntime, errs.CodeInternalError, err.Error(), err)
}

func cloneTuple(t ir.Tuple) ir.Tuple {
	out := make(ir.Tuple, len(t))
	copy(out, t)
	return out
}

// execDDL binds and applies one DDL statement under tx, invalidating any
// cached plans that reference the affected objects. Index creation backfills entries from the table's current
// contents once the index's storage object is installed at commit.
func (s *Session) execDDL(tx *txn.Context, st parser.Statement) (string, error) {
	b := binder.New(s.log, s.db, tx)

	switch st.Kind {
	case parser.StmtCreateTable:
		ct, err := b.BindCreateTable(st.Node.GetCreateStmt())
		if err != nil {
			return "", bindErrToWire(err)
		}
		cols := make([]catalog.ColumnSpec, 0, len(ct.Columns))
		for _, c := range ct.Columns {
			cols = append(cols, catalog.ColumnSpec{Name: c.Name, Type: c.Type, Nullable: c.Nullable, DefaultSQL: c.DefaultSQL})
		}
		if _, err := s.db.CreateTable(tx, ct.Namespace, ct.Name, cols); err != nil {
			return "", ddlErr(err, tx)
		}
		return "CREATE TABLE", nil

	case parser.StmtDropTable:
		dt, err := b.BindDropTable(st.Node.GetDropStmt())
		if err != nil {
			if notExistNotice(s, st, err) {
				return "DROP TABLE", nil
			}
			return "", bindErrToWire(err)
		}
		if err := s.db.DropTable(tx, dt.Table); err != nil {
			return "", ddlErr(err, tx)
		}
		s.cache.InvalidateOIDs(dt.Table)
		return "DROP TABLE", nil

	case parser.StmtCreateIndex:
		ci, err := b.BindCreateIndex(st.Node.GetIndexStmt())
		if err != nil {
			return "", bindErrToWire(err)
		}
		idxOID, err := s.db.CreateIndex(tx, ci.Namespace, ci.Table, ci.Name, ci.Columns, ci.Unique, ci.Primary)
		if err != nil {
			return "", ddlErr(err, tx)
		}
		s.registerIndexBackfill(tx, ci.Table, idxOID)
		s.cache.InvalidateOIDs(ci.Table)
		return "CREATE INDEX", nil

	case parser.StmtDropIndex:
		di, err := b.BindDropIndex(st.Node.GetDropStmt())
		if err != nil {
			if notExistNotice(s, st, err) {
				return "DROP INDEX", nil
			}
			return "", bindErrToWire(err)
		}
		info, _ := s.db.IndexInfo(tx, di.Index)
		if err := s.db.DropIndex(tx, di.Index); err != nil {
			return "", ddlErr(err, tx)
		}
		s.cache.InvalidateOIDs(info.TableRel)
		return "DROP INDEX", nil
	}
	return "", errs.New(errs.KindProtocol, errs.CodeInternalError, "execDDL called for non-DDL statement")
}

// notExistNotice implements DROP ... IF EXISTS local recovery: a NOTICE is
// emitted and the transaction stays healthy.
func notExistNotice(s *Session, st parser.Statement, err error) bool {
	drop := st.Node.GetDropStmt()
	if drop == nil || !drop.GetMissingOk() {
		return false
	}
	s.notice(err.Error() + ", skipping")
	return true
}

// ddlErr maps a catalog DDL failure: a lost DDL-lock race is a
// serialization failure the client retries; anything else is internal.
func ddlErr(err error, tx *txn.Context) error {
	if strings.Contains(err.Error(), "DDL lock") {
		return errs.Wrap(errs.KindRuntime, errs.CodeSerializationFailure,
			"could not serialize DDL: concurrent catalog write", err)
	}
	return errs.Wrap(errs.KindRuntime, errs.CodeInternalError, err.Error(), err)
}

// registerIndexBackfill schedules population of a just-created index from
// the table's existing rows, once the commit action installing the index's
// storage object has run (deferred actions dispatch in registration
// order).
func (s *Session) registerIndexBackfill(tx *txn.Context, tableOID, idxOID oid.OID) {
	db := s.db
	reg := s.eng.Catalog.Registry()
	log := s.log
	tx.RegisterCommitAction("index_backfill", func() {
		filler := txn.Begin(log)
		defer func() { _ = filler.Commit() }()
		tctx := &translator.Ctx{Tx: filler, Catalog: db, Storage: reg, Log: log}
		if err := backfillIndex(tctx, tableOID, idxOID); err != nil {
			log.Warn("index_backfill_failed", logutil.Values(zap.Error(err)))
		}
	})
}
