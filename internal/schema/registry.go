package schema

import (
	"fmt"
	"strings"
	"sync"
)

// Handle is a forward declaration of a model, returned by Declare before
// the model's metadata is bound. It lets mutually referencing models be
// registered in any order.
type Handle struct {
	name string
}

// Name returns the declared model name.
func (h Handle) Name() string { return h.name }

// Registry holds all registered models. Registration is two-pass: Declare
// reserves a name, Define binds its metadata; Finalize resolves reference
// targets and freezes the registry. All methods are safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*Model
	declared  map[string]bool
	finalized bool
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]*Model),
		declared: make(map[string]bool),
	}
}

// Declare reserves a model name and returns a handle for a later Define.
func (r *Registry) Declare(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared[name] {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	}
	r.declared[name] = true
	return Handle{name: name}, nil
}

// Define binds metadata to a previously declared handle. Structural
// validation happens here so configuration errors surface at registration
// time, not at first write.
func (r *Registry) Define(h Handle, model *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.declared[h.name] {
		return fmt.Errorf("%w: %s", ErrUnknownModel, h.name)
	}
	if _, exists := r.models[h.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, h.name)
	}

	model.Name = h.name
	if model.TableName == "" {
		model.TableName = toSnakeCase(h.name)
	}
	if err := validateModel(model); err != nil {
		return fmt.Errorf("model %s: %w", h.name, err)
	}

	r.models[h.name] = model
	return nil
}

// Register declares and defines a model in one step.
func (r *Registry) Register(name string, model *Model) error {
	h, err := r.Declare(name)
	if err != nil {
		return err
	}
	return r.Define(h, model)
}

// Get retrieves a model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	return m, ok
}

// MustGet retrieves a model by name or returns ErrUnknownModel.
func (r *Registry) MustGet(name string) (*Model, error) {
	if m, ok := r.Get(name); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// List returns the registered model names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// Finalize checks that every declared model was defined and that every
// reference target resolves, then freezes the registry.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.declared {
		if _, ok := r.models[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUndefinedModel, name)
		}
	}

	for _, m := range r.models {
		for _, f := range m.References() {
			target, ok := r.models[f.TargetModel]
			if !ok {
				return fmt.Errorf("%w: %s.%s references %s",
					ErrUnknownModel, m.Name, f.Name, f.TargetModel)
			}
			if f.TargetField != "" {
				if _, ok := target.Field(f.TargetField); !ok {
					return fmt.Errorf("%w: %s.%s references %s.%s",
						ErrUnknownModel, m.Name, f.Name, f.TargetModel, f.TargetField)
				}
			}
		}
		for _, p := range m.Parts {
			part, ok := r.models[p.Model]
			if !ok {
				return fmt.Errorf("%w: part %s of %s", ErrUnknownModel, p.Model, m.Name)
			}
			if !part.IsPart {
				return fmt.Errorf("model %s is used as a part of %s but is not declared as one",
					p.Model, m.Name)
			}
		}
	}

	r.finalized = true
	return nil
}

// Finalized reports whether Finalize has completed successfully.
func (r *Registry) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.finalized
}

// validateModel performs eager structural validation of model metadata.
func validateModel(m *Model) error {
	if m.Versioned && m.IsPart {
		return ErrVersionedPart
	}
	if m.Dated && !m.Versioned {
		return fmt.Errorf("dated model must also be versioned")
	}
	if m.Dated && m.AppliedAtField == "" {
		return fmt.Errorf("dated model has no applied-at field")
	}
	if m.Versioned && len(m.Identifying()) == 0 {
		return ErrVersionedWithoutIdentity
	}

	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindString, KindInt, KindFloat, KindBool, KindTime, KindDate,
			KindObject, KindStringArray, KindIntArray, KindObjectArray, KindJSON:
		default:
			return fmt.Errorf("%w: field %s has kind %d", ErrUnsupportedFieldType, f.Name, f.Kind)
		}

		if f.Tags.Has(TagArrayIndex) && !f.Kind.IsArray() {
			return fmt.Errorf("%w: array index on non-array field %s",
				ErrUnsupportedFieldType, f.Name)
		}
		if f.Tags.Has(TagArrayIndex) && m.IsPart {
			// Part arrays live aggregated inside the pbase row; no side
			// table is maintained for them.
			return fmt.Errorf("%w: array index on part field %s",
				ErrUnsupportedFieldType, f.Name)
		}
		if f.Tags.Has(TagIdentifying) && f.Kind.IsArray() {
			return fmt.Errorf("%w: identifying field %s cannot be an array",
				ErrUnsupportedFieldType, f.Name)
		}
		if (f.Tags.Has(TagReference) || f.Tags.Has(TagShared)) && f.TargetModel == "" {
			return fmt.Errorf("reference field %s has no target model", f.Name)
		}

		for _, p := range f.Paths {
			if err := validatePath(p); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}

	if m.IdentityField != "" {
		if _, ok := m.Field(m.IdentityField); !ok {
			return fmt.Errorf("identity field %s is not a stored field", m.IdentityField)
		}
	}

	return nil
}

// validatePath checks that a declared JSON path has the expected
// '$.a.b[*]' shape, after stripping any ascend prefix.
func validatePath(p string) error {
	p = strings.TrimPrefix(p, AscendPrefix)
	if p == "" || !strings.HasPrefix(p, "$") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '$' || r == '.' || r == '_' || r == '[' || r == ']' || r == '*':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, p, r)
		}
	}
	return nil
}
