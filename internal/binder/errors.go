package binder

// ErrKind classifies a binder failure for the wire protocol's
// ErrorResponse (each kind maps to a stable SQLSTATE in internal/errs).
type ErrKind uint8

const (
	ErrUnknownColumn ErrKind = iota
	ErrAmbiguousColumn
	ErrUnknownTable
	ErrDuplicateAlias
	ErrTypeMismatch
	ErrNotImplemented
)

// BindError is a structured binder failure, carrying enough detail for the
// wire layer to build a precise ErrorResponse without re-parsing the
// message text.
type BindError struct {
	Kind    ErrKind
	Message string
}

func (e *BindError) Error() string { return e.Message }
