// Package parser is the parsing façade: it wraps the
// real Postgres grammar, returns one typed statement tree per SQL
// statement in a batch, and preserves each statement's source span so later
// errors (binder, optimizer, wire protocol ErrorResponse) can be reported
// against the original query text instead of a reconstructed one.
//
// The typed v6 API is used rather than the older ParseToJSON+map[string]any
// traversal: the binder needs a real typed expression tree, not a JSON
// map, to walk.
package parser

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// StmtKind classifies a parsed statement for dispatch before the binder
// looks at it in detail.
type StmtKind uint8

const (
	StmtUnknown StmtKind = iota
	StmtSelect
	StmtInsert
	StmtUpdate
	StmtDelete
	StmtCreateTable
	StmtDropTable
	StmtCreateIndex
	StmtDropIndex
	StmtAlterTable
	StmtBegin
	StmtCommit
	StmtRollback
	StmtCreateDatabase
	StmtDropDatabase
	StmtSet
	StmtShow
	StmtExplain
)

func (k StmtKind) String() string {
	switch k {
	case StmtSelect:
		return "SELECT"
	case StmtInsert:
		return "INSERT"
	case StmtUpdate:
		return "UPDATE"
	case StmtDelete:
		return "DELETE"
	case StmtCreateTable:
		return "CREATE TABLE"
	case StmtDropTable:
		return "DROP TABLE"
	case StmtCreateIndex:
		return "CREATE INDEX"
	case StmtDropIndex:
		return "DROP INDEX"
	case StmtAlterTable:
		return "ALTER TABLE"
	case StmtBegin:
		return "BEGIN"
	case StmtCommit:
		return "COMMIT"
	case StmtRollback:
		return "ROLLBACK"
	case StmtCreateDatabase:
		return "CREATE DATABASE"
	case StmtDropDatabase:
		return "DROP DATABASE"
	case StmtSet:
		return "SET"
	case StmtShow:
		return "SHOW"
	case StmtExplain:
		return "EXPLAIN"
	default:
		return "UNKNOWN"
	}
}

// Statement is one parsed statement out of a (possibly multi-statement)
// batch: its typed AST node, its kind, and its byte span within the
// original query text, for simple-query multi-statement dispatch.
type Statement struct {
	Kind     StmtKind
	Node     *pg_query.Node
	Location int32 // byte offset of the statement's start in the source text
	Length   int32 // 0 means "to end of input"
}

// Result is the output of Parse: every statement in the batch, plus the
// original source text the locations are relative to and the raw tree for
// re-deparsing.
type Result struct {
	Source     string
	Statements []Statement
	tree       *pg_query.ParseResult
}

// Tree returns the underlying raw pg_query parse tree, for callers that
// need to pass it to Deparse.
func (r *Result) Tree() *pg_query.ParseResult { return r.tree }

// Parse parses sql, which may contain more than one semicolon-separated
// statement, into a Result.
func Parse(sql string) (*Result, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	res := &Result{Source: sql, tree: tree}
	for _, raw := range tree.GetStmts() {
		node := raw.GetStmt()
		res.Statements = append(res.Statements, Statement{
			Kind:     classify(node),
			Node:     node,
			Location: raw.GetStmtLocation(),
			Length:   raw.GetStmtLen(),
		})
	}
	return res, nil
}

// Deparse renders a parsed tree back to SQL text, for any component that
// needs to re-serialize a rewritten tree.
func Deparse(tree *pg_query.ParseResult) (string, error) {
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("parser: deparse: %w", err)
	}
	return out, nil
}

// Fingerprint returns a stable hash of sql's parse tree, ignoring literal
// values. The statement cache does not use it: it keys statements by their
// exact query text.
func Fingerprint(sql string) (uint64, error) {
	fp, err := pg_query.FingerprintToUInt64(sql)
	if err != nil {
		return 0, fmt.Errorf("parser: fingerprint: %w", err)
	}
	return fp, nil
}

func classify(node *pg_query.Node) StmtKind {
	switch {
	case node.GetSelectStmt() != nil:
		return StmtSelect
	case node.GetInsertStmt() != nil:
		return StmtInsert
	case node.GetUpdateStmt() != nil:
		return StmtUpdate
	case node.GetDeleteStmt() != nil:
		return StmtDelete
	case node.GetCreateStmt() != nil:
		return StmtCreateTable
	case node.GetIndexStmt() != nil:
		return StmtCreateIndex
	case node.GetDropStmt() != nil:
		return classifyDrop(node)
	case node.GetAlterTableStmt() != nil:
		return StmtAlterTable
	case node.GetTransactionStmt() != nil:
		return classifyTransaction(node)
	case node.GetCreatedbStmt() != nil:
		return StmtCreateDatabase
	case node.GetDropdbStmt() != nil:
		return StmtDropDatabase
	case node.GetVariableSetStmt() != nil:
		return StmtSet
	case node.GetVariableShowStmt() != nil:
		return StmtShow
	case node.GetExplainStmt() != nil:
		return StmtExplain
	default:
		return StmtUnknown
	}
}

func classifyDrop(node *pg_query.Node) StmtKind {
	drop := node.GetDropStmt()
	switch drop.GetRemoveType() {
	case pg_query.ObjectType_OBJECT_INDEX:
		return StmtDropIndex
	default:
		return StmtDropTable
	}
}

func classifyTransaction(node *pg_query.Node) StmtKind {
	switch node.GetTransactionStmt().GetKind() {
	case pg_query.TransactionStmtKind_TRANS_STMT_BEGIN, pg_query.TransactionStmtKind_TRANS_STMT_START:
		return StmtBegin
	case pg_query.TransactionStmtKind_TRANS_STMT_COMMIT:
		return StmtCommit
	case pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK:
		return StmtRollback
	default:
		return StmtUnknown
	}
}
