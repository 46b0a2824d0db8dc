// Package errs is the engine's error-kind taxonomy: parse, binder,
// optimizer, codegen, runtime, and protocol errors, each
// carrying a stable Postgres SQLSTATE error-code string so the wire layer
// can build an ErrorResponse without re-inspecting the failure.
package errs

import "fmt"

// Kind classifies which stage of the query lifecycle pipeline produced an
// error.
type Kind uint8

const (
	KindParse Kind = iota
	KindBinder
	KindOptimizer
	KindCodegen
	KindRuntime
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindBinder:
		return "binder"
	case KindOptimizer:
		return "optimizer"
	case KindCodegen:
		return "codegen"
	case KindRuntime:
		return "runtime"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error carrying a Postgres SQLSTATE code.
type Error struct {
	Kind    Kind
	Code    string // SQLSTATE
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Common SQLSTATEs this engine actually emits.
const (
	CodeSyntaxError           = "42601"
	CodeUndefinedTable        = "42P01"
	CodeUndefinedColumn       = "42703"
	CodeAmbiguousColumn       = "42702"
	CodeDuplicateAlias        = "42712"
	CodeDuplicatePreparedStmt = "42P05"
	CodeFeatureNotSupported   = "0A000"
	CodeInFailedSQLTxn        = "25P02"
	CodeActiveSQLTxn          = "25001"
	CodeNoActiveSQLTxn        = "25P01"
	CodeDivisionByZero        = "22012"
	CodeNumericOverflow       = "22003"
	CodeUniqueViolation       = "23505"
	CodeSerializationFailure  = "40001"
	CodeOutOfMemory           = "53200"
	CodeProtocolViolation     = "08P01"
	CodeInternalError         = "XX000"
)

// New builds an Error of kind with the given SQLSTATE code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error of kind wrapping cause, assigning code and message.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NotImplemented builds a KindCodegen/FEATURE_NOT_SUPPORTED error.
func NotImplemented(what string) *Error {
	return New(KindCodegen, CodeFeatureNotSupported, "not implemented: "+what)
}
