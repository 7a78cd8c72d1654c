package query

import "errors"

// Consistency errors surfaced by the compiler. These are never resolved by
// guessing: an ambiguous join path requires the caller to supply an
// explicit namespace map.
var (
	// ErrNoJoinPath is returned when a filter or projection references a
	// namespace with no discoverable reference path from the root model.
	ErrNoJoinPath = errors.New("no join path found")

	// ErrAmbiguousJoinPath is returned when more than one reference path
	// could satisfy a namespace.
	ErrAmbiguousJoinPath = errors.New("ambiguous join path")

	// ErrUnknownField is returned when a filter, projection or order term
	// names a field the target model does not store.
	ErrUnknownField = errors.New("unknown field")

	// ErrNoFullTextFields is returned for a MATCH filter against a model
	// with no full-text fields.
	ErrNoFullTextFields = errors.New("model has no full-text fields")

	// ErrNotUnwindable is returned when an unwind target is not an
	// array-indexed field.
	ErrNotUnwindable = errors.New("field is not array-indexed")
)
