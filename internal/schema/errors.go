package schema

import "errors"

// Configuration errors, raised eagerly at registration or finalize time and
// never retried.
var (
	// ErrUnsupportedFieldType is returned when a field kind has no
	// relational mapping.
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrVersionedPart is returned when versioning is declared on a part
	// model. Parts inherit versioning from their container.
	ErrVersionedPart = errors.New("versioning declared on a part model")

	// ErrVersionedWithoutIdentity is returned when a versioned model has no
	// identifying field.
	ErrVersionedWithoutIdentity = errors.New("versioned model has no identifying field")

	// ErrDuplicateModel is returned when a model name is registered twice.
	ErrDuplicateModel = errors.New("model already registered")

	// ErrUnknownModel is returned when a model name cannot be resolved.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUndefinedModel is returned by Finalize when a declared handle was
	// never defined.
	ErrUndefinedModel = errors.New("model declared but never defined")

	// ErrInvalidPath is returned for a malformed JSON path declaration.
	ErrInvalidPath = errors.New("invalid JSON path")
)

// IsConfigError returns true for errors that indicate invalid model
// metadata rather than a runtime failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnsupportedFieldType) ||
		errors.Is(err, ErrVersionedPart) ||
		errors.Is(err, ErrVersionedWithoutIdentity) ||
		errors.Is(err, ErrDuplicateModel) ||
		errors.Is(err, ErrInvalidPath)
}
