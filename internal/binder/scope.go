package binder

import "github.com/relcore/enginecore/internal/oid"

// TableRef is one FROM-clause entry bound to either a catalog table or a
// derived (subselect/CTE) result, carrying the output columns visible
// under its alias.
type TableRef struct {
	Alias    string
	Explicit bool // true if the alias was written by the user, not inferred from the table name
	Schema   oid.OID
	Table    oid.OID // catalog table OID, or a statement-local virtual OID for a derived source
	Derived  bool    // true for a CTE or FROM-subselect source with no pg_class row
	Columns  []RefColumn
}

// RefColumn is one column exposed by a TableRef, independent of whether it
// came from a catalog pg_attribute row or a derived SELECT's target list.
type RefColumn struct {
	Name   string
	Column oid.OID // catalog column OID; a statement-local virtual OID for a CTE or subselect output column
	Type   oid.OID
}

// Scope is one lexical level of FROM-clause visibility: a query's own
// scope, plus every enclosing scope a correlated subquery can see. A flat
// per-statement alias map is not enough: correlated subqueries and CTEs
// need a scope *stack* with parent links.
type Scope struct {
	ID       int
	Depth    int
	Parent   *Scope
	Aliases  map[string]*TableRef
	order    []string // alias insertion order, for deterministic "*" expansion
	Children []*Scope
}

func newScope(id, depth int, parent *Scope) *Scope {
	return &Scope{ID: id, Depth: depth, Parent: parent, Aliases: make(map[string]*TableRef)}
}

// addTableRef registers ref under its alias, enforcing alias uniqueness
// within this scope.
func (s *Scope) addTableRef(ref *TableRef) error {
	if _, exists := s.Aliases[ref.Alias]; exists {
		return &BindError{Kind: ErrDuplicateAlias, Message: "duplicate table alias \"" + ref.Alias + "\" in FROM clause"}
	}
	s.Aliases[ref.Alias] = ref
	s.order = append(s.order, ref.Alias)
	return nil
}

// lookupColumn searches this scope, then ancestor scopes, for a column
// named col optionally qualified by alias. depth in the returned tuple is
// the number of scope levels walked out (0 = local, >0 = correlated
// reference into an enclosing query).
func (s *Scope) lookupColumn(alias, col string) (*TableRef, RefColumn, int, error) {
	depth := 0
	for sc := s; sc != nil; sc = sc.Parent {
		ref, rc, err := sc.resolveLocal(alias, col)
		if err != nil {
			return nil, RefColumn{}, 0, err
		}
		if ref != nil {
			return ref, rc, depth, nil
		}
		depth++
	}
	return nil, RefColumn{}, 0, &BindError{Kind: ErrUnknownColumn, Message: "column \"" + qualifiedName(alias, col) + "\" does not exist"}
}

func (s *Scope) resolveLocal(alias, col string) (*TableRef, RefColumn, error) {
	if alias != "" {
		ref, ok := s.Aliases[alias]
		if !ok {
			return nil, RefColumn{}, nil
		}
		for _, c := range ref.Columns {
			if c.Name == col {
				return ref, c, nil
			}
		}
		return nil, RefColumn{}, &BindError{Kind: ErrUnknownColumn, Message: "column \"" + col + "\" does not exist on " + alias}
	}

	var found *TableRef
	var foundCol RefColumn
	matches := 0
	for _, a := range s.order {
		ref := s.Aliases[a]
		for _, c := range ref.Columns {
			if c.Name == col {
				found, foundCol = ref, c
				matches++
			}
		}
	}
	if matches > 1 {
		return nil, RefColumn{}, &BindError{Kind: ErrAmbiguousColumn, Message: "column reference \"" + col + "\" is ambiguous"}
	}
	if matches == 0 {
		return nil, RefColumn{}, nil
	}
	return found, foundCol, nil
}

func qualifiedName(alias, col string) string {
	if alias == "" {
		return col
	}
	return alias + "." + col
}
