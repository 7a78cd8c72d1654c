package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrDigestConflict is returned when two distinct shared objects hash
	// to the same content digest within one extraction.
	ErrDigestConflict = errors.New("conflicting content under one digest")

	// ErrPopulationFailed is returned when a shared-content id cannot be
	// resolved from any of the supplied caches.
	ErrPopulationFailed = errors.New("shared content population failed")

	// ErrNotShared is returned when a resolver operation targets a model
	// not registered as shared content.
	ErrNotShared = errors.New("model is not shared content")
)

// IsPopulationFailed returns true if the error indicates an unresolvable
// shared-content reference.
func IsPopulationFailed(err error) bool {
	return errors.Is(err, ErrPopulationFailed)
}

func populationErr(id string) error {
	return fmt.Errorf("%w: id %s not found in any cache", ErrPopulationFailed, id)
}
