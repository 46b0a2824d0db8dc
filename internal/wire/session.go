package wire

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/cache"
	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/errs"
	"github.com/relcore/enginecore/internal/ir"
	"github.com/relcore/enginecore/internal/logutil"
	"github.com/relcore/enginecore/internal/oid"
	"github.com/relcore/enginecore/internal/parser"
	"github.com/relcore/enginecore/internal/txn"
)

// sessionState is the per-connection protocol state.
type sessionState uint8

const (
	stateAwaitingStartup sessionState = iota
	stateIdle
	stateInTxnBlock
	stateInTxnFailed
	stateAwaitingSync
	stateTerminated
)

// prepared is a named (or unnamed) statement created by a Parse message.
type prepared struct {
	name string
	sql  string
	st   parser.Statement
	stmt *cache.Statement
}

func (p *prepared) empty() bool { return p.st.Node == nil }

// portal binds a prepared statement to parameter values and per-column
// result formats. Its result set materializes on the first
// Execute so a later Execute with a row limit can resume where the
// previous one suspended.
type portal struct {
	name     string
	prep     *prepared
	params   []ir.Value
	formats  []int16
	executed bool
	rows     []ir.Tuple
	pos      int
}

// Session drives one client connection through the wire-protocol state
// machine. All state here is connection-private ("The
// statement cache is per-connection (no sharing)").
type Session struct {
	id      string
	eng     *Engine
	backend *pgproto3.Backend
	raw     io.ReadWriter
	log     *zap.Logger

	db     *catalog.DatabaseCatalog
	cache  *cache.StatementCache
	stmts  map[string]*prepared
	portals map[string]*portal
	vars   map[string]string
	tempNS oid.OID

	tx       *txn.Context
	explicit bool
	state    sessionState
}

// NewSession wraps conn in a backend framer and returns a session in
// AwaitingStartup.
func NewSession(eng *Engine, conn io.ReadWriter) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		eng:     eng,
		backend: pgproto3.NewBackend(conn, conn),
		raw:     conn,
		log:     eng.Log.With(zap.String("conn_id", id)),
		cache:   cache.New(0),
		stmts:   make(map[string]*prepared),
		portals: make(map[string]*portal),
		vars:    make(map[string]string),
		state:   stateAwaitingStartup,
	}
}

// Serve runs the startup handshake then the message loop until the client
// terminates or the connection drops.
func (s *Session) Serve() error {
	if err := s.handleStartup(); err != nil {
		return err
	}
	defer s.cleanup()

	for s.state != stateTerminated {
		msg, err := s.backend.Receive()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		// Error recovery: everything between a failed extended step and
		// the next Sync is discarded without response.
		if s.state == stateAwaitingSync {
			switch msg.(type) {
			case *pgproto3.Sync, *pgproto3.Terminate:
			default:
				continue
			}
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			s.handleSimpleQuery(m.String)
		case *pgproto3.Parse:
			s.handleParse(m)
		case *pgproto3.Bind:
			s.handleBind(m)
		case *pgproto3.Describe:
			s.handleDescribe(m)
		case *pgproto3.Execute:
			s.handleExecute(m)
		case *pgproto3.Sync:
			s.handleSync()
		case *pgproto3.Close:
			s.handleClose(m)
		case *pgproto3.Flush:
			if err := s.backend.Flush(); err != nil {
				return err
			}
		case *pgproto3.Terminate:
			s.state = stateTerminated
		case *pgproto3.PasswordMessage:
			s.extendedError(errs.New(errs.KindProtocol, errs.CodeProtocolViolation, "password authentication is not supported"))
		default:
			s.extendedError(errs.New(errs.KindProtocol, errs.CodeProtocolViolation,
				fmt.Sprintf("unexpected message %T", msg)))
		}
	}
	return nil
}

// handleStartup reads the startup packet, rejects SSL upgrade requests,
// picks the session database from the client parameters, establishes the
// per-connection temporary namespace, and reports ready.
func (s *Session) handleStartup() error {
	for {
		sm, err := s.backend.ReceiveStartupMessage()
		if err != nil {
			return err
		}
		switch m := sm.(type) {
		case *pgproto3.SSLRequest:
			if _, err := s.raw.Write([]byte{'N'}); err != nil {
				return err
			}
		case *pgproto3.CancelRequest:
			s.state = stateTerminated
			return nil
		case *pgproto3.StartupMessage:
			dbName := m.Parameters["database"]
			if dbName == "" {
				dbName = "postgres"
			}
			db, ok := s.eng.Catalog.Database(dbName)
			if !ok {
				db, err = s.eng.Catalog.CreateDatabase(dbName)
				if err != nil {
					return err
				}
			}
			s.db = db

			boot := txn.Begin(s.log)
			ns, err := db.CreateNamespace(boot, "pg_temp_"+s.id[:8])
			if err != nil {
				boot.Abort()
			} else {
				s.tempNS = ns
				if err := boot.Commit(); err != nil {
					return err
				}
			}

			s.backend.Send(&pgproto3.AuthenticationOk{})
			s.backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "14.0"})
			s.backend.Send(&pgproto3.ParameterStatus{Name: "server_encoding", Value: "UTF8"})
			s.backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
			s.backend.Send(&pgproto3.BackendKeyData{ProcessID: uuidKey(s.id), SecretKey: uuidKey(s.id[18:])})
			s.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			s.state = stateIdle
			s.log.Info("session_started", logutil.Values(zap.String("database", dbName)))
			return s.backend.Flush()
		default:
			return fmt.Errorf("wire: unexpected startup message %T", sm)
		}
	}
}

func uuidKey(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h = (h ^ uint32(s[i])) * 16777619
	}
	return h
}

// cleanup aborts any open transaction and drops the temporary namespace
// when the connection ends, however it ends.
func (s *Session) cleanup() {
	if s.tx != nil {
		s.tx.Abort()
		s.tx = nil
	}
	if s.tempNS.IsValid() && s.db != nil {
		t := txn.Begin(s.log)
		if err := s.db.DropNamespace(t, s.tempNS); err != nil {
			t.Abort()
		} else {
			_ = t.Commit()
		}
	}
}

// readyStatus maps session state to the ReadyForQuery status byte.
func (s *Session) readyStatus() byte {
	switch s.state {
	case stateInTxnBlock:
		return 'T'
	case stateInTxnFailed:
		return 'E'
	default:
		return 'I'
	}
}

func (s *Session) sendReady() {
	s.backend.Send(&pgproto3.ReadyForQuery{TxStatus: s.readyStatus()})
	_ = s.backend.Flush()
}

// ensureTxn returns the transaction the next statement runs under,
// starting an implicit one if no explicit block is open.
func (s *Session) ensureTxn() *txn.Context {
	if s.tx == nil {
		s.tx = txn.Begin(s.log)
	}
	return s.tx
}

// endImplicit finishes a statement-scoped transaction; explicit blocks are
// left open for COMMIT/ROLLBACK.
func (s *Session) endImplicit(failed bool) {
	if s.explicit || s.tx == nil {
		return
	}
	if failed || s.tx.MustAbort() {
		s.tx.Abort()
	} else {
		_ = s.tx.Commit()
	}
	s.tx = nil
}

// sendError writes an ErrorResponse built from the kind-tagged taxonomy
//, falling back to an internal-error SQLSTATE for plain
// errors.
func (s *Session) sendError(err error) {
	code := errs.CodeInternalError
	msg := err.Error()
	if ee, ok := asEngineErr(err); ok {
		code = ee.Code
		msg = ee.Message
	}
	s.backend.Send(&pgproto3.ErrorResponse{
		Severity:            "ERROR",
		SeverityUnlocalized: "ERROR",
		Code:                code,
		Message:             msg,
	})
	s.log.Warn("statement_error", logutil.Values(zap.String("code", code), zap.String("message", msg)))
}

func asEngineErr(err error) (*errs.Error, bool) {
	for e := err; e != nil; e = unwrap(e) {
		if ee, ok := e.(*errs.Error); ok {
			return ee, true
		}
	}
	return nil, false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// simpleError reports a failure within the simple-query flow: in an
// explicit block the transaction is poisoned and the session moves to
// InTxnFailed; an implicit transaction is ended immediately and the next
// ReadyForQuery reports idle.
func (s *Session) simpleError(err error) {
	s.sendError(err)
	if s.explicit {
		if s.tx != nil {
			s.tx.Poison(err)
		}
		s.state = stateInTxnFailed
		return
	}
	if s.tx != nil {
		s.tx.Poison(err)
	}
	s.endImplicit(true)
	s.state = stateIdle
}

// extendedError reports a failure within the extended-query flow: the
// session discards everything until Sync.
func (s *Session) extendedError(err error) {
	s.sendError(err)
	_ = s.backend.Flush()
	if s.tx != nil {
		s.tx.Poison(err)
	}
	if s.explicit {
		s.state = stateAwaitingSync
		return
	}
	s.endImplicit(true)
	s.state = stateAwaitingSync
}

// notice sends a NOTICE without disturbing transaction state.
func (s *Session) notice(msg string) {
	s.backend.Send(&pgproto3.NoticeResponse{
		Severity:            "NOTICE",
		SeverityUnlocalized: "NOTICE",
		Code:                "00000",
		Message:             msg,
	})
}

func (s *Session) commandComplete(tag string) {
	s.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
}
