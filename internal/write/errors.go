// Package write compiles the mutation side of the engine: temporal
// versioned upserts, soft and hard deletes, purges, tenant copies, audit
// version allocation and change-log entries. The compiler only produces
// parameterized statements; execution and transaction scoping belong to
// the engine.
package write

import "errors"

// Write-policy violations. Fatal, surfaced to the caller, never retried.
var (
	// ErrDirectPartWrite is returned when a part-model instance is written
	// directly. Parts persist only through their container.
	ErrDirectPartWrite = errors.New("direct write of a part model")

	// ErrSharedContentDeletion is returned when a shared-content model is
	// deleted or purged directly; reference counts are not tracked.
	ErrSharedContentDeletion = errors.New("direct deletion of shared content")

	// ErrMissingIdentity is returned when an object lacks a value for one
	// of its identifying fields.
	ErrMissingIdentity = errors.New("missing identifying field value")

	// ErrDuplicateIdentity is returned on an identity conflict when the
	// ignore-duplicates flag is not set.
	ErrDuplicateIdentity = errors.New("duplicate identity")
)
