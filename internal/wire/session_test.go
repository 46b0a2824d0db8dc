package wire

import (
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
)

// startSession wires a frontend to an in-process session over a pipe and
// completes the startup handshake.
func startSession(t *testing.T) *pgproto3.Frontend {
	t.Helper()
	cat := catalog.New(nil)
	if _, err := cat.CreateDatabase("testdb"); err != nil {
		t.Fatal(err)
	}
	eng := NewEngine(nil, cat, config.Default())

	clientConn, serverConn := net.Pipe()
	sess := NewSession(eng, serverConn)
	go func() {
		_ = sess.Serve()
		serverConn.Close()
	}()
	t.Cleanup(func() { clientConn.Close() })

	fe := pgproto3.NewFrontend(clientConn, clientConn)
	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "tester", "database": "testdb"},
	})
	if err := fe.Flush(); err != nil {
		t.Fatal(err)
	}
	waitReady(t, fe)
	return fe
}

// waitReady drains messages until ReadyForQuery and returns its status.
func waitReady(t *testing.T, fe *pgproto3.Frontend) byte {
	t.Helper()
	for {
		msg, err := fe.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if r, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return r.TxStatus
		}
	}
}

// runQuery sends a simple query and collects the response messages up to
// ReadyForQuery.
func runQuery(t *testing.T, fe *pgproto3.Frontend, sql string) ([]pgproto3.BackendMessage, byte) {
	t.Helper()
	fe.Send(&pgproto3.Query{String: sql})
	if err := fe.Flush(); err != nil {
		t.Fatal(err)
	}
	var out []pgproto3.BackendMessage
	for {
		msg, err := fe.Receive()
		if err != nil {
			t.Fatal(err)
		}
		if r, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return out, r.TxStatus
		}
		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			cp := *m
			out = append(out, &cp)
		case *pgproto3.DataRow:
			vals := make([][]byte, len(m.Values))
			for i, v := range m.Values {
				if v != nil {
					vals[i] = append([]byte(nil), v...)
				}
			}
			out = append(out, &pgproto3.DataRow{Values: vals})
		case *pgproto3.CommandComplete:
			out = append(out, &pgproto3.CommandComplete{CommandTag: append([]byte(nil), m.CommandTag...)})
		case *pgproto3.ErrorResponse:
			cp := *m
			out = append(out, &cp)
		default:
			out = append(out, msg)
		}
	}
}

func mustTag(t *testing.T, msgs []pgproto3.BackendMessage, tag string) {
	t.Helper()
	for _, m := range msgs {
		if cc, ok := m.(*pgproto3.CommandComplete); ok && string(cc.CommandTag) == tag {
			return
		}
	}
	t.Fatalf("no CommandComplete %q in %#v", tag, msgs)
}

func findError(msgs []pgproto3.BackendMessage) *pgproto3.ErrorResponse {
	for _, m := range msgs {
		if er, ok := m.(*pgproto3.ErrorResponse); ok {
			return er
		}
	}
	return nil
}

func dataRows(msgs []pgproto3.BackendMessage) []*pgproto3.DataRow {
	var out []*pgproto3.DataRow
	for _, m := range msgs {
		if dr, ok := m.(*pgproto3.DataRow); ok {
			out = append(out, dr)
		}
	}
	return out
}

func setupTables(t *testing.T, fe *pgproto3.Frontend) {
	t.Helper()
	msgs, status := runQuery(t, fe, "CREATE TABLE a (a1 int4 NOT NULL, a2 varchar)")
	mustTag(t, msgs, "CREATE TABLE")
	if status != 'I' {
		t.Fatalf("status after CREATE TABLE = %c", status)
	}
	msgs, _ = runQuery(t, fe, "CREATE TABLE b (b1 int4 NOT NULL, b2 varchar)")
	mustTag(t, msgs, "CREATE TABLE")
	msgs, _ = runQuery(t, fe, "INSERT INTO a VALUES (1, 'one'), (2, 'two'), (3, 'three')")
	mustTag(t, msgs, "INSERT 0 3")
	msgs, _ = runQuery(t, fe, "INSERT INTO b VALUES (2, 'deux'), (3, 'trois')")
	mustTag(t, msgs, "INSERT 0 2")
}

func TestSimpleQueryLifecycle(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, status := runQuery(t, fe, "SELECT a1 FROM a WHERE a1 < 3 ORDER BY a1")
	if status != 'I' {
		t.Fatalf("status = %c", status)
	}
	rows := dataRows(msgs)
	if len(rows) != 2 {
		t.Fatalf("got %d rows: %#v", len(rows), msgs)
	}
	if string(rows[0].Values[0]) != "1" || string(rows[1].Values[0]) != "2" {
		t.Fatalf("unexpected row values %q %q", rows[0].Values[0], rows[1].Values[0])
	}
	mustTag(t, msgs, "SELECT 2")
}

func TestJoinAndAggregate(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, _ := runQuery(t, fe, "SELECT a.a1, b.b2 FROM a INNER JOIN b ON a.a1 = b.b1 ORDER BY a.a1")
	rows := dataRows(msgs)
	if len(rows) != 2 {
		t.Fatalf("join produced %d rows: %#v", len(rows), msgs)
	}
	if string(rows[0].Values[1]) != "deux" {
		t.Fatalf("unexpected join row %q", rows[0].Values[1])
	}

	msgs, _ = runQuery(t, fe, "SELECT count(*) FROM a")
	rows = dataRows(msgs)
	if len(rows) != 1 || string(rows[0].Values[0]) != "3" {
		t.Fatalf("count(*) = %#v", msgs)
	}
}

func TestBinderErrorLeavesIdle(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, status := runQuery(t, fe, "SELECT a1 FROM c")
	er := findError(msgs)
	if er == nil {
		t.Fatalf("expected error, got %#v", msgs)
	}
	if er.Code != "42P01" {
		t.Fatalf("code = %s", er.Code)
	}
	if status != 'I' {
		t.Fatalf("status = %c", status)
	}
}

func TestExplicitTxnFailedState(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	_, status := runQuery(t, fe, "BEGIN")
	if status != 'T' {
		t.Fatalf("status after BEGIN = %c", status)
	}
	_, status = runQuery(t, fe, "SELECT a1 FROM missing_table")
	if status != 'E' {
		t.Fatalf("status after error = %c", status)
	}
	msgs, status := runQuery(t, fe, "INSERT INTO a VALUES (9, 'nine')")
	er := findError(msgs)
	if er == nil || er.Code != "25P02" {
		t.Fatalf("expected 25P02, got %#v", msgs)
	}
	if status != 'E' {
		t.Fatalf("status = %c", status)
	}
	msgs, status = runQuery(t, fe, "COMMIT")
	mustTag(t, msgs, "ROLLBACK")
	if status != 'I' {
		t.Fatalf("status after COMMIT-of-failed = %c", status)
	}

	// The poisoned transaction's INSERT must not have landed.
	msgs, _ = runQuery(t, fe, "SELECT count(*) FROM a")
	rows := dataRows(msgs)
	if string(rows[0].Values[0]) != "3" {
		t.Fatalf("count after rollback = %q", rows[0].Values[0])
	}
}

func TestSetShowRejectedInsideTxnBlock(t *testing.T) {
	fe := startSession(t)

	msgs, _ := runQuery(t, fe, "SET application_name = 'probe'")
	mustTag(t, msgs, "SET")
	msgs, _ = runQuery(t, fe, "SHOW application_name")
	rows := dataRows(msgs)
	if len(rows) != 1 || string(rows[0].Values[0]) != "probe" {
		t.Fatalf("SHOW = %#v", msgs)
	}

	runQuery(t, fe, "BEGIN")
	msgs, status := runQuery(t, fe, "SET application_name = 'other'")
	er := findError(msgs)
	if er == nil || er.Code != "25001" {
		t.Fatalf("expected 25001, got %#v", msgs)
	}
	if status != 'E' {
		t.Fatalf("status = %c", status)
	}
	runQuery(t, fe, "ROLLBACK")
}

func TestCreateDatabaseRejectedInsideTxnBlock(t *testing.T) {
	fe := startSession(t)
	runQuery(t, fe, "BEGIN")
	msgs, _ := runQuery(t, fe, "CREATE DATABASE blocked")
	er := findError(msgs)
	if er == nil || er.Code != "25001" {
		t.Fatalf("expected 25001, got %#v", msgs)
	}
	runQuery(t, fe, "ROLLBACK")
}

// TestExtendedProtocolFlow mirrors the end-to-end scenario: Parse, Bind
// with a parameter, Describe, Execute, Sync.
func TestExtendedProtocolFlow(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	fe.Send(&pgproto3.Parse{Name: "S1", Query: "SELECT a1, a2 FROM a WHERE a1 = $1"})
	fe.Send(&pgproto3.Bind{DestinationPortal: "", PreparedStatement: "S1", Parameters: [][]byte{[]byte("2")}})
	fe.Send(&pgproto3.Describe{ObjectType: 'P', Name: ""})
	fe.Send(&pgproto3.Execute{Portal: "", MaxRows: 0})
	fe.Send(&pgproto3.Sync{})
	if err := fe.Flush(); err != nil {
		t.Fatal(err)
	}

	expectSeq := []string{"*pgproto3.ParseComplete", "*pgproto3.BindComplete", "*pgproto3.RowDescription", "*pgproto3.DataRow", "*pgproto3.CommandComplete", "*pgproto3.ReadyForQuery"}
	for _, want := range expectSeq {
		msg, err := fe.Receive()
		if err != nil {
			t.Fatal(err)
		}
		got := typeName(msg)
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
		if dr, ok := msg.(*pgproto3.DataRow); ok {
			if string(dr.Values[0]) != "2" || string(dr.Values[1]) != "two" {
				t.Fatalf("row = %q %q", dr.Values[0], dr.Values[1])
			}
		}
		if r, ok := msg.(*pgproto3.ReadyForQuery); ok && r.TxStatus != 'I' {
			t.Fatalf("TxStatus = %c", r.TxStatus)
		}
	}
}

// TestExtendedRecoveryToSync checks that every message after a failed
// extended step is discarded until Sync, which emits exactly one
// ReadyForQuery.
func TestExtendedRecoveryToSync(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	fe.Send(&pgproto3.Bind{DestinationPortal: "", PreparedStatement: "missing"})
	fe.Send(&pgproto3.Describe{ObjectType: 'P', Name: ""})
	fe.Send(&pgproto3.Execute{Portal: "", MaxRows: 0})
	fe.Send(&pgproto3.Sync{})
	if err := fe.Flush(); err != nil {
		t.Fatal(err)
	}

	msg, err := fe.Receive()
	if err != nil {
		t.Fatal(err)
	}
	er, ok := msg.(*pgproto3.ErrorResponse)
	if !ok {
		t.Fatalf("expected ErrorResponse, got %T", msg)
	}
	if er.Code != "26000" {
		t.Fatalf("code = %s", er.Code)
	}

	msg, err = fe.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(*pgproto3.ReadyForQuery); !ok {
		t.Fatalf("expected ReadyForQuery directly after error, got %T", msg)
	}

	// The session is usable again.
	msgs, status := runQuery(t, fe, "SELECT count(*) FROM a")
	if status != 'I' || findError(msgs) != nil {
		t.Fatalf("session unusable after recovery: %#v", msgs)
	}
}

// TestDuplicateNamedStatement checks the 42P05 protocol error.
func TestDuplicateNamedStatement(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	fe.Send(&pgproto3.Parse{Name: "dup", Query: "SELECT a1 FROM a"})
	fe.Send(&pgproto3.Sync{})
	fe.Flush()
	if tn := typeName(mustReceive(t, fe)); tn != "*pgproto3.ParseComplete" {
		t.Fatalf("got %s", tn)
	}
	waitReady(t, fe)

	fe.Send(&pgproto3.Parse{Name: "dup", Query: "SELECT a2 FROM a"})
	fe.Send(&pgproto3.Sync{})
	fe.Flush()
	msg := mustReceive(t, fe)
	er, ok := msg.(*pgproto3.ErrorResponse)
	if !ok || er.Code != "42P05" {
		t.Fatalf("expected 42P05, got %#v", msg)
	}
	waitReady(t, fe)
}

// TestStatementCacheInvalidation drops and recreates a referenced table
// between binds of the same cached statement; the re-bind must produce a
// fresh, working plan.
func TestStatementCacheInvalidation(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	run := func() {
		t.Helper()
		fe.Send(&pgproto3.Parse{Name: "", Query: "SELECT a1 FROM a"})
		fe.Send(&pgproto3.Bind{DestinationPortal: "", PreparedStatement: ""})
		fe.Send(&pgproto3.Execute{Portal: "", MaxRows: 0})
		fe.Send(&pgproto3.Sync{})
		fe.Flush()
		for {
			msg, err := fe.Receive()
			if err != nil {
				t.Fatal(err)
			}
			if er, ok := msg.(*pgproto3.ErrorResponse); ok {
				t.Fatalf("unexpected error %s: %s", er.Code, er.Message)
			}
			if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
				return
			}
		}
	}

	run()
	runQuery(t, fe, "DROP TABLE a")
	runQuery(t, fe, "CREATE TABLE a (a1 int4, a2 varchar)")
	runQuery(t, fe, "INSERT INTO a VALUES (7, 'seven')")
	run()
}

func TestPortalSuspension(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	fe.Send(&pgproto3.Parse{Name: "", Query: "SELECT a1 FROM a ORDER BY a1"})
	fe.Send(&pgproto3.Bind{DestinationPortal: "p1", PreparedStatement: ""})
	fe.Send(&pgproto3.Execute{Portal: "p1", MaxRows: 2})
	fe.Send(&pgproto3.Flush{})
	fe.Flush()

	var suspended bool
	rows := 0
	for !suspended {
		msg := mustReceive(t, fe)
		switch msg.(type) {
		case *pgproto3.DataRow:
			rows++
		case *pgproto3.PortalSuspended:
			suspended = true
		case *pgproto3.ParseComplete, *pgproto3.BindComplete:
		default:
			t.Fatalf("unexpected %T", msg)
		}
	}
	if rows != 2 {
		t.Fatalf("suspended after %d rows", rows)
	}

	fe.Send(&pgproto3.Execute{Portal: "p1", MaxRows: 0})
	fe.Send(&pgproto3.Sync{})
	fe.Flush()
	rows = 0
	for {
		msg := mustReceive(t, fe)
		if _, ok := msg.(*pgproto3.DataRow); ok {
			rows++
			continue
		}
		if cc, ok := msg.(*pgproto3.CommandComplete); ok {
			if string(cc.CommandTag) != "SELECT 3" {
				t.Fatalf("tag = %s", cc.CommandTag)
			}
		}
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			break
		}
	}
	if rows != 1 {
		t.Fatalf("resumed with %d rows", rows)
	}
}

func TestCTESelect(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, status := runQuery(t, fe, "WITH c AS (SELECT a1 FROM a) SELECT c1.a1 FROM c AS c1 ORDER BY c1.a1")
	if er := findError(msgs); er != nil {
		t.Fatalf("CTE query failed: %s %s", er.Code, er.Message)
	}
	rows := dataRows(msgs)
	if len(rows) != 3 || string(rows[0].Values[0]) != "1" {
		t.Fatalf("CTE rows = %#v", msgs)
	}
	if status != 'I' {
		t.Fatalf("status = %c", status)
	}
}

func TestUpdateDelete(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, _ := runQuery(t, fe, "UPDATE a SET a2 = 'TWO' WHERE a1 = 2")
	mustTag(t, msgs, "UPDATE 1")

	msgs, _ = runQuery(t, fe, "SELECT a2 FROM a WHERE a1 = 2")
	rows := dataRows(msgs)
	if len(rows) != 1 || string(rows[0].Values[0]) != "TWO" {
		t.Fatalf("after update: %#v", msgs)
	}

	msgs, _ = runQuery(t, fe, "DELETE FROM a WHERE a1 = 1")
	mustTag(t, msgs, "DELETE 1")
	msgs, _ = runQuery(t, fe, "SELECT count(*) FROM a")
	rows = dataRows(msgs)
	if string(rows[0].Values[0]) != "2" {
		t.Fatalf("after delete: %#v", msgs)
	}
}

func TestCreateUniqueIndexVisible(t *testing.T) {
	fe := startSession(t)
	setupTables(t, fe)

	msgs, _ := runQuery(t, fe, "CREATE UNIQUE INDEX idx_d ON a (a2, a1)")
	mustTag(t, msgs, "CREATE INDEX")

	// The unique index now rejects duplicate keys.
	msgs, _ = runQuery(t, fe, "INSERT INTO a VALUES (1, 'one')")
	er := findError(msgs)
	if er == nil || er.Code != "23505" {
		t.Fatalf("expected 23505, got %#v", msgs)
	}
}

func typeName(v any) string {
	return "*pgproto3." + trimPkg(v)
}

func trimPkg(v any) string {
	s := ""
	switch v.(type) {
	case *pgproto3.ParseComplete:
		s = "ParseComplete"
	case *pgproto3.BindComplete:
		s = "BindComplete"
	case *pgproto3.RowDescription:
		s = "RowDescription"
	case *pgproto3.DataRow:
		s = "DataRow"
	case *pgproto3.CommandComplete:
		s = "CommandComplete"
	case *pgproto3.ReadyForQuery:
		s = "ReadyForQuery"
	case *pgproto3.ErrorResponse:
		s = "ErrorResponse"
	case *pgproto3.NoData:
		s = "NoData"
	case *pgproto3.PortalSuspended:
		s = "PortalSuspended"
	case *pgproto3.EmptyQueryResponse:
		s = "EmptyQueryResponse"
	default:
		s = "Unknown"
	}
	return s
}

func mustReceive(t *testing.T, fe *pgproto3.Frontend) pgproto3.BackendMessage {
	t.Helper()
	msg, err := fe.Receive()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}
