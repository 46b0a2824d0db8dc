package parser

import "testing"

func TestParseClassifiesSelect(t *testing.T) {
	res, err := Parse("SELECT id, name FROM widgets WHERE id = 1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(res.Statements))
	}
	if res.Statements[0].Kind != StmtSelect {
		t.Fatalf("expected StmtSelect, got %v", res.Statements[0].Kind)
	}
}

func TestParseMultiStatementBatchPreservesLocations(t *testing.T) {
	sql := "SELECT 1; SELECT 2;"
	res, err := Parse(sql)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(res.Statements))
	}
	if res.Statements[0].Location != 0 {
		t.Fatalf("expected first statement at location 0, got %d", res.Statements[0].Location)
	}
	if res.Statements[1].Location <= res.Statements[0].Location {
		t.Fatalf("expected second statement location to advance past the first")
	}
}

func TestParseClassifiesDDL(t *testing.T) {
	cases := []struct {
		sql  string
		want StmtKind
	}{
		{"CREATE TABLE widgets (id int4)", StmtCreateTable},
		{"DROP TABLE widgets", StmtDropTable},
		{"CREATE INDEX widgets_id_idx ON widgets (id)", StmtCreateIndex},
		{"DROP INDEX widgets_id_idx", StmtDropIndex},
		{"ALTER TABLE widgets ADD COLUMN extra int4", StmtAlterTable},
		{"BEGIN", StmtBegin},
		{"COMMIT", StmtCommit},
		{"ROLLBACK", StmtRollback},
		{"INSERT INTO widgets (id) VALUES (1)", StmtInsert},
		{"UPDATE widgets SET id = 2 WHERE id = 1", StmtUpdate},
		{"DELETE FROM widgets WHERE id = 1", StmtDelete},
		{"CREATE DATABASE app", StmtCreateDatabase},
		{"DROP DATABASE app", StmtDropDatabase},
		{"SET application_name = 'x'", StmtSet},
		{"SHOW server_version", StmtShow},
		{"EXPLAIN SELECT 1", StmtExplain},
	}
	for _, tc := range cases {
		res, err := Parse(tc.sql)
		if err != nil {
			t.Fatalf("%s: %v", tc.sql, err)
		}
		if len(res.Statements) != 1 {
			t.Fatalf("%s: expected 1 statement, got %d", tc.sql, len(res.Statements))
		}
		if got := res.Statements[0].Kind; got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.sql, tc.want, got)
		}
	}
}

func TestParseInvalidSQLErrors(t *testing.T) {
	if _, err := Parse("SELEKT * FRM widgets"); err == nil {
		t.Fatal("expected parse error for malformed SQL")
	}
}

func TestFingerprintStableAcrossLiterals(t *testing.T) {
	fp1, err := Fingerprint("SELECT * FROM widgets WHERE id = 1")
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := Fingerprint("SELECT * FROM widgets WHERE id = 2")
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Fatalf("expected fingerprints to match across differing literals, got %d vs %d", fp1, fp2)
	}
}

func TestDeparseRoundTrips(t *testing.T) {
	res, err := Parse("SELECT id FROM widgets")
	if err != nil {
		t.Fatal(err)
	}
	out, err := Deparse(res.Tree())
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Fatal("expected non-empty deparsed SQL")
	}
}
