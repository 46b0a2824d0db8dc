package wire

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/relcore/enginecore/internal/cache"
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
)

// handleParse names a prepared statement.
// Responses are buffered until Flush or Sync, per the protocol.
func (s *Session) handleParse(m *pgproto3.Parse) {
	if m.Name != "" {
		if _, exists := s.stmts[m.Name]; exists {
			s.extendedError(errs.New(errs.KindProtocol, errs.CodeDuplicatePreparedStmt,
				fmt.Sprintf("prepared statement %q already exists", m.Name)))
			return
		}
	}

	res, err := parser.Parse(m.Query)
	if err != nil {
		s.extendedError(errs.Wrap(errs.KindParse, errs.CodeSyntaxError, "syntax error", err))
		return
	}
	if len(res.Statements) > 1 {
		s.extendedError(errs.New(errs.KindParse, errs.CodeSyntaxError,
			"cannot insert multiple commands into a prepared statement"))
		return
	}

	p := &prepared{name: m.Name, sql: m.Query}
	if len(res.Statements) == 1 {
		p.st = res.Statements[0]
		cs, ok := s.cache.Get(m.Query)
		if !ok {
			cs = &cache.Statement{SQL: m.Query, Parse: res}
			s.cache.Put(cs)
		}
		p.stmt = cs
	}
	s.stmts[m.Name] = p
	s.backend.Send(&pgproto3.ParseComplete{})
}

// plannable reports whether a statement kind goes through binder/optimizer
// (DDL and control statements bypass them).
func plannable(kind parser.StmtKind) bool {
	switch kind {
	case parser.StmtSelect, parser.StmtInsert, parser.StmtUpdate, parser.StmtDelete:
		return true
	default:
		return false
	}
}

// handleBind names a portal over a prepared statement with decoded
// parameter values and result formats.
func (s *Session) handleBind(m *pgproto3.Bind) {
	p, ok := s.stmts[m.PreparedStatement]
	if !ok {
		s.extendedError(errs.New(errs.KindProtocol, "26000",
			fmt.Sprintf("prepared statement %q does not exist", m.PreparedStatement)))
		return
	}

	pt := &portal{name: m.DestinationPortal, prep: p}

	if !p.empty() && plannable(p.st.Kind) {
		tx := s.ensureTxn()
		cs, err := s.planFor(p.sql, p.st, tx)
		if err != nil {
			s.extendedError(err)
			return
		}
		p.stmt = cs

		params, err := decodeBindParams(m, cs)
		if err != nil {
			s.extendedError(err)
			return
		}
		pt.params = params

		formats, err := resolveFormats(m.ResultFormatCodes, len(cs.Columns))
		if err != nil {
			s.extendedError(err)
			return
		}
		pt.formats = formats
	}

	s.portals[m.DestinationPortal] = pt
	s.backend.Send(&pgproto3.BindComplete{})
}

func decodeBindParams(m *pgproto3.Bind, cs *cache.Statement) ([]ir.Value, error) {
	if len(m.Parameters) < len(cs.ParamTypes) {
		return nil, errs.New(errs.KindProtocol, errs.CodeProtocolViolation,
			fmt.Sprintf("bind supplies %d parameters but %d are required", len(m.Parameters), len(cs.ParamTypes)))
	}
	params := make([]ir.Value, len(m.Parameters))
	for i, raw := range m.Parameters {
		format := formatText
		switch len(m.ParameterFormatCodes) {
		case 0:
		case 1:
			format = m.ParameterFormatCodes[0]
		default:
			if i < len(m.ParameterFormatCodes) {
				format = m.ParameterFormatCodes[i]
			}
		}
		t := typeOfParam(cs, i)
		v, err := decodeParam(raw, format, t)
		if err != nil {
			return nil, err
		}
		params[i] = v
	}
	return params, nil
}

func typeOfParam(cs *cache.Statement, i int) oid.OID {
	if i < len(cs.ParamTypes) {
		return cs.ParamTypes[i]
	}
	return oid.TypeText
}

// handleDescribe reports a statement's parameter and result shapes, or a
// portal's result shape.
func (s *Session) handleDescribe(m *pgproto3.Describe) {
	switch m.ObjectType {
	case 'S':
		p, ok := s.stmts[m.Name]
		if !ok {
			s.extendedError(errs.New(errs.KindProtocol, "26000",
				fmt.Sprintf("prepared statement %q does not exist", m.Name)))
			return
		}
		if p.empty() || !plannable(p.st.Kind) {
			s.backend.Send(&pgproto3.ParameterDescription{})
			s.backend.Send(&pgproto3.NoData{})
			return
		}
		tx := s.ensureTxn()
		cs, err := s.planFor(p.sql, p.st, tx)
		if err != nil {
			s.extendedError(err)
			return
		}
		oids := make([]uint32, len(cs.ParamTypes))
		for i, t := range cs.ParamTypes {
			oids[i] = uint32(t)
		}
		s.backend.Send(&pgproto3.ParameterDescription{ParameterOIDs: oids})
		if p.st.Kind == parser.StmtSelect {
			s.backend.Send(rowDescription(cs.Columns, nil))
		} else {
			s.backend.Send(&pgproto3.NoData{})
		}

	case 'P':
		pt, ok := s.portals[m.Name]
		if !ok {
			s.extendedError(errs.New(errs.KindProtocol, "34000",
				fmt.Sprintf("portal %q does not exist", m.Name)))
			return
		}
		if pt.prep.empty() || pt.prep.st.Kind != parser.StmtSelect {
			s.backend.Send(&pgproto3.NoData{})
			return
		}
		s.backend.Send(rowDescription(pt.prep.stmt.Columns, pt.formats))

	default:
		s.extendedError(errs.New(errs.KindProtocol, errs.CodeProtocolViolation,
			fmt.Sprintf("describe object type %q", m.ObjectType)))
	}
}

// handleExecute runs a portal, honoring its row limit for suspension.
func (s *Session) handleExecute(m *pgproto3.Execute) {
	pt, ok := s.portals[m.Portal]
	if !ok {
		s.extendedError(errs.New(errs.KindProtocol, "34000",
			fmt.Sprintf("portal %q does not exist", m.Portal)))
		return
	}
	if pt.prep.empty() {
		s.backend.Send(&pgproto3.EmptyQueryResponse{})
		return
	}

	st := pt.prep.st
	switch st.Kind {
	case parser.StmtBegin, parser.StmtCommit, parser.StmtRollback:
		if err := s.execTxnControl(st.Kind); err != nil {
			s.extendedError(err)
		}
	case parser.StmtSet, parser.StmtShow:
		if err := s.execSetShow(st); err != nil {
			s.extendedError(err)
		}
	case parser.StmtCreateDatabase, parser.StmtDropDatabase:
		if err := s.execDatabaseDDL(st); err != nil {
			s.extendedError(err)
		}
	case parser.StmtCreateTable, parser.StmtDropTable, parser.StmtCreateIndex, parser.StmtDropIndex:
		tx := s.ensureTxn()
		tag, err := s.execDDL(tx, st)
		if err != nil {
			s.extendedError(err)
			return
		}
		// DDL through the extended protocol invalidates cached plans the
		// same way the simple flow does.
		s.endImplicit(false)
		s.commandComplete(tag)
	case parser.StmtExplain:
		if err := s.execExplain(st, pt.prep.sql); err != nil {
			s.extendedError(err)
		}
	case parser.StmtSelect:
		s.executeSelectPortal(pt, int(m.MaxRows))
	case parser.StmtInsert, parser.StmtUpdate, parser.StmtDelete:
		if err := s.execDML(st, pt.prep.sql, pt.params); err != nil {
			s.extendedError(err)
		}
	default:
		s.extendedError(errs.New(errs.KindCodegen, errs.CodeFeatureNotSupported,
			fmt.Sprintf("unsupported statement kind %s", st.Kind)))
	}
}

// executeSelectPortal materializes the portal's result set on first
// Execute and pages through it, emitting PortalSuspended when a row limit
// stops short of the end.
func (s *Session) executeSelectPortal(pt *portal, maxRows int) {
	if !pt.executed {
		if err := s.execSelect(pt.prep.st, pt.prep.sql, pt.params, &pt.rows); err != nil {
			s.extendedError(err)
			return
		}
		pt.executed = true
		pt.pos = 0
	}

	cols := pt.prep.stmt.Columns
	end := len(pt.rows)
	if maxRows > 0 && pt.pos+maxRows < end {
		end = pt.pos + maxRows
	}
	for ; pt.pos < end; pt.pos++ {
		row, err := dataRow(pt.rows[pt.pos], cols, pt.formats)
		if err != nil {
			s.extendedError(err)
			return
		}
		s.backend.Send(row)
	}
	if pt.pos < len(pt.rows) {
		s.backend.Send(&pgproto3.PortalSuspended{})
		return
	}
	s.endImplicit(false)
	s.commandComplete(fmt.Sprintf("SELECT %d", len(pt.rows)))
}

// handleSync ends the extended sequence: the implicit transaction closes,
// the error-discard state clears, and exactly one ReadyForQuery reports
// the resulting transaction status.
func (s *Session) handleSync() {
	if s.state == stateAwaitingSync {
		s.state = stateIdle
		if s.explicit {
			s.state = stateInTxnFailed
		}
	}
	if !s.explicit && s.tx != nil {
		s.endImplicit(false)
	}
	s.sendReady()
}

// handleClose drops a named statement or portal.
func (s *Session) handleClose(m *pgproto3.Close) {
	switch m.ObjectType {
	case 'S':
		delete(s.stmts, m.Name)
	case 'P':
		delete(s.portals, m.Name)
	}
	s.backend.Send(&pgproto3.CloseComplete{})
}
