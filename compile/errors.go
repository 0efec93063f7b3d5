package compile

import "errors"

// Compilation failures are fatal: no partial statement is ever
// returned. Unknown fields, relations, and entities surface as the
// schema package's sentinels; the errors below are specific to path
// and cardinality validation during compilation.
var (
	// ErrUnsupportedRelationKind is returned when a relation descriptor
	// carries a cardinality outside the closed OneToMany / ManyToOne /
	// ManyToMany set.
	ErrUnsupportedRelationKind = errors.New("unsupported relation kind")

	// ErrInvalidFilterPath is returned when a non-terminal segment of a
	// dotted filter path does not resolve to a relation.
	ErrInvalidFilterPath = errors.New("invalid filter path")

	// ErrInvalidSortPath is returned when a non-terminal segment of a
	// dotted sort path does not resolve to a relation.
	ErrInvalidSortPath = errors.New("invalid sort path")
)
