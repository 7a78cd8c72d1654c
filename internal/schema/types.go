// Package schema defines the declarative model metadata consumed by the
// strata compilers: stored fields with JSON paths and capability tags,
// containment and shared-content declarations, and the model registry.
package schema

import (
	"fmt"
	"strings"
)

// Kind represents the declared value type of a stored field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindDate
	KindObject
	KindStringArray
	KindIntArray
	KindObjectArray
	KindJSON
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindDate:
		return "date"
	case KindObject:
		return "object"
	case KindStringArray:
		return "string[]"
	case KindIntArray:
		return "int[]"
	case KindObjectArray:
		return "object[]"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// IsArray returns true for array-valued kinds.
func (k Kind) IsArray() bool {
	return k == KindStringArray || k == KindIntArray || k == KindObjectArray
}

// IsScalar returns true for kinds that map onto a single relational column.
func (k Kind) IsScalar() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindTime, KindDate:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "bool":
		return KindBool, nil
	case "time":
		return KindTime, nil
	case "date":
		return KindDate, nil
	case "object":
		return KindObject, nil
	case "string[]":
		return KindStringArray, nil
	case "int[]":
		return KindIntArray, nil
	case "object[]":
		return KindObjectArray, nil
	case "json":
		return KindJSON, nil
	default:
		return 0, fmt.Errorf("unknown field kind: %s", s)
	}
}

// Tag is a bitmask of capability tags attached to a stored field.
type Tag uint16

const (
	// TagIdentifying marks a field as part of the natural key. Identifying
	// fields are bound as write parameters, never compiled as generated
	// columns.
	TagIdentifying Tag = 1 << iota
	// TagIndex requests a secondary index over the generated column.
	TagIndex
	// TagUniqueIndex requests a unique secondary index.
	TagUniqueIndex
	// TagFullText includes the field in the model's full-text index.
	TagFullText
	// TagArrayIndex stores the field's elements in a side table, one row
	// per element.
	TagArrayIndex
	// TagReference marks a field holding the value of another model's
	// identifying or unique field.
	TagReference
	// TagShared marks a reference to deduplicated shared content.
	TagShared
)

// Has reports whether all bits of other are set.
func (t Tag) Has(other Tag) bool {
	return t&other == other
}

// String returns a pipe-separated representation of the set tags.
func (t Tag) String() string {
	var parts []string
	for _, e := range []struct {
		tag  Tag
		name string
	}{
		{TagIdentifying, "identifying"},
		{TagIndex, "index"},
		{TagUniqueIndex, "unique"},
		{TagFullText, "fulltext"},
		{TagArrayIndex, "array_index"},
		{TagReference, "reference"},
		{TagShared, "shared"},
	} {
		if t.Has(e.tag) {
			parts = append(parts, e.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// AscendPrefix marks a stored-field path that is evaluated against the
// containing object instead of the object's own JSON document.
const AscendPrefix = "^"

// StoredField describes one persisted field of a model: its name, the JSON
// path(s) locating its value inside the document, its declared kind and
// capability tags, and, for references, the target model and field.
type StoredField struct {
	Name  string
	Paths []string
	Kind  Kind
	Tags  Tag

	// Reference target, set when Tags has TagReference or TagShared.
	TargetModel string
	TargetField string
}

// Ascends returns true if the field's first path reads from the containing
// object rather than the object's own document.
func (f *StoredField) Ascends() bool {
	return len(f.Paths) > 0 && strings.HasPrefix(f.Paths[0], AscendPrefix)
}

// Path returns the primary JSON path of the field, with any ascend prefix
// stripped.
func (f *StoredField) Path() string {
	if len(f.Paths) == 0 {
		return ""
	}
	return strings.TrimPrefix(f.Paths[0], AscendPrefix)
}

// Column returns the relational column name backing the field.
func (f *StoredField) Column() string {
	return toSnakeCase(f.Name)
}

// PartDef declares a containment relationship: the named field of the
// container holds instances of Model located at Path inside the container's
// document. Parts have no independent identity and persist only through
// their container.
type PartDef struct {
	Field string
	Model string
	Path  string
}

// Normalizer is invoked on a shared-content object before its digest is
// computed, so that semantically irrelevant formatting does not produce
// distinct digests.
type Normalizer func(obj map[string]interface{})

// Model is the compiled metadata for one registered model type. It is
// immutable after Registry.Finalize.
type Model struct {
	Name      string
	TableName string

	Fields []*StoredField
	Parts  []*PartDef

	// Versioned enables the temporal validity protocol; Dated additionally
	// partitions history by an applied-date key. AppliedAtField names the
	// stored field supplying that key for dated models.
	Versioned      bool
	Dated          bool
	AppliedAtField string

	// IsPart marks models that only exist inside a container's document.
	IsPart bool

	// Shared marks content-addressed, deduplicated models. IdentityField,
	// when set, overrides the content digest as the shared identity.
	Shared        bool
	IdentityField string
	Normalize     Normalizer

	// SequencePrefix, when non-empty, requests a per-type sequence whose
	// values are exposed as prefixed string identifiers.
	SequencePrefix string
}

// Field returns the stored field with the given name.
func (m *Model) Field(name string) (*StoredField, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Identifying returns the fields participating in the natural key, in
// declaration order.
func (m *Model) Identifying() []*StoredField {
	return m.tagged(TagIdentifying)
}

// FullText returns the fields included in the full-text index.
func (m *Model) FullText() []*StoredField {
	return m.tagged(TagFullText)
}

// ArrayIndexed returns the fields stored in element side tables.
func (m *Model) ArrayIndexed() []*StoredField {
	return m.tagged(TagArrayIndex)
}

// References returns the reference fields, shared-content references
// included.
func (m *Model) References() []*StoredField {
	var out []*StoredField
	for _, f := range m.Fields {
		if f.Tags.Has(TagReference) || f.Tags.Has(TagShared) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Model) tagged(tag Tag) []*StoredField {
	var out []*StoredField
	for _, f := range m.Fields {
		if f.Tags.Has(tag) {
			out = append(out, f)
		}
	}
	return out
}

// SideTable returns the name of the element side table for an array-indexed
// field.
func (m *Model) SideTable(f *StoredField) string {
	return m.TableName + "_" + f.Column()
}

// PartBaseTable returns the name of the physical table backing a part
// model. The model's TableName itself names the reconstruction view.
func (m *Model) PartBaseTable() string {
	return m.TableName + "_pbase"
}

// ModelID builds the composite identity string recorded in the change log,
// joining the identifying-field values in declaration order.
func (m *Model) ModelID(obj map[string]interface{}) string {
	ids := m.Identifying()
	parts := make([]string, 0, len(ids))
	for _, f := range ids {
		parts = append(parts, fmt.Sprintf("%v", obj[f.Name]))
	}
	return m.Name + ":" + strings.Join(parts, "/")
}

// toSnakeCase converts a string to snake_case.
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
