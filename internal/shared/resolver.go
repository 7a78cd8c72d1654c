// Package shared implements the shared-content resolver: content-digest
// identity assignment, extraction of inline shared sub-objects before a
// write, and re-population of bare id references after a read.
package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/strata-db/strata/internal/schema"
)

// Resolver walks shared-content references declared in a registry.
type Resolver struct {
	registry *schema.Registry
}

// NewResolver creates a resolver over a finalized registry.
func NewResolver(registry *schema.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// RefreshID computes and assigns the shared-content identity of obj. When
// the model configures an explicit identity field its value wins;
// otherwise the model's normalization hook runs first and the identity is
// the xxhash64 digest of the canonical JSON form, identity field
// excluded.
func (r *Resolver) RefreshID(m *schema.Model, obj map[string]interface{}) (string, error) {
	if !m.Shared {
		return "", fmt.Errorf("%w: %s", ErrNotShared, m.Name)
	}

	idField := identityField(m)
	if m.IdentityField != "" {
		v, ok := obj[m.IdentityField]
		s, isString := v.(string)
		if !ok || !isString || s == "" {
			return "", fmt.Errorf("shared %s: identity field %s is empty", m.Name, m.IdentityField)
		}
		return s, nil
	}

	if m.Normalize != nil {
		m.Normalize(obj)
	}

	canon, err := canonicalJSON(obj, idField)
	if err != nil {
		return "", fmt.Errorf("shared %s: %w", m.Name, err)
	}

	id := fmt.Sprintf("%s-%016x", m.TableName, xxhash.Sum64(canon))
	obj[idField] = id
	return id, nil
}

// Extracted is one shared object collected during extraction, with the
// model it belongs to.
type Extracted struct {
	ID     string
	Model  *schema.Model
	Object map[string]interface{}
}

// collector accumulates extracted shared objects in first-seen order.
type collector struct {
	order []Extracted
	index map[string]int
}

// Extract walks the owner's shared references depth-first, assigning each
// inline shared object its content identity and collecting the objects by
// id. Nested shared objects inside shared objects are registered too.
// When replaceWithID is set, inline content is replaced in place with the
// bare id string, which is the form that is persisted.
func (r *Resolver) Extract(owner *schema.Model, obj map[string]interface{}, replaceWithID bool) (map[string]map[string]interface{}, error) {
	all, err := r.ExtractAll(owner, obj, replaceWithID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]interface{}, len(all))
	for _, e := range all {
		out[e.ID] = e.Object
	}
	return out, nil
}

// ExtractAll is Extract with the owning model of every collected object
// preserved, in first-seen order. The engine uses it to route each shared
// object to its table.
func (r *Resolver) ExtractAll(owner *schema.Model, obj map[string]interface{}, replaceWithID bool) ([]Extracted, error) {
	col := &collector{index: make(map[string]int)}
	if err := r.extractInto(owner, obj, replaceWithID, col); err != nil {
		return nil, err
	}
	return col.order, nil
}

func (r *Resolver) extractInto(m *schema.Model, obj map[string]interface{}, replace bool, out *collector) error {
	for _, f := range m.References() {
		if !f.Tags.Has(schema.TagShared) {
			continue
		}

		target, err := r.registry.MustGet(f.TargetModel)
		if err != nil {
			return err
		}

		v, ok := pathGet(obj, f.Path())
		if !ok || v == nil {
			continue
		}

		switch vv := v.(type) {
		case map[string]interface{}:
			id, err := r.register(target, vv, replace, out)
			if err != nil {
				return err
			}
			if replace {
				pathSet(obj, f.Path(), id)
			}
		case []interface{}:
			for i, el := range vv {
				inline, ok := el.(map[string]interface{})
				if !ok {
					continue
				}
				id, err := r.register(target, inline, replace, out)
				if err != nil {
					return err
				}
				if replace {
					vv[i] = id
				}
			}
		}
	}
	return nil
}

// register assigns the identity of one inline shared object and records
// it. Nested shared references are extracted first so the digest covers
// the id-substituted form.
func (r *Resolver) register(target *schema.Model, obj map[string]interface{}, replace bool, out *collector) (string, error) {
	if err := r.extractInto(target, obj, replace, out); err != nil {
		return "", err
	}

	id, err := r.RefreshID(target, obj)
	if err != nil {
		return "", err
	}

	if i, seen := out.index[id]; seen {
		same, err := sameContent(out.order[i].Object, obj, identityField(target))
		if err != nil {
			return "", err
		}
		if !same {
			return "", fmt.Errorf("%w: %s", ErrDigestConflict, id)
		}
		return id, nil
	}

	out.index[id] = len(out.order)
	out.order = append(out.order, Extracted{ID: id, Model: target, Object: obj})
	return id, nil
}

// Populate is the inverse of Extract: it walks the owner's shared
// references and replaces bare id strings with objects resolved from the
// caches, checked in order. Resolved objects are walked recursively since
// they may themselves hold unresolved references.
func (r *Resolver) Populate(ctx context.Context, owner *schema.Model, obj map[string]interface{}, caches ...Cache) error {
	for _, f := range owner.References() {
		if !f.Tags.Has(schema.TagShared) {
			continue
		}

		target, err := r.registry.MustGet(f.TargetModel)
		if err != nil {
			return err
		}

		v, ok := pathGet(obj, f.Path())
		if !ok || v == nil {
			continue
		}

		switch vv := v.(type) {
		case string:
			resolved, err := r.resolve(ctx, vv, caches)
			if err != nil {
				return err
			}
			if err := r.Populate(ctx, target, resolved, caches...); err != nil {
				return err
			}
			pathSet(obj, f.Path(), resolved)
		case []interface{}:
			for i, el := range vv {
				id, ok := el.(string)
				if !ok {
					continue
				}
				resolved, err := r.resolve(ctx, id, caches)
				if err != nil {
					return err
				}
				if err := r.Populate(ctx, target, resolved, caches...); err != nil {
					return err
				}
				vv[i] = resolved
			}
		case map[string]interface{}:
			// Already inline; descend for nested references.
			if err := r.Populate(ctx, target, vv, caches...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, id string, caches []Cache) (map[string]interface{}, error) {
	for _, c := range caches {
		obj, found, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			return obj, nil
		}
	}
	return nil, populationErr(id)
}

// IdentityFieldName returns the field carrying a shared model's identity:
// the explicit identity field when configured, else the first identifying
// field.
func IdentityFieldName(m *schema.Model) string {
	return identityField(m)
}

// identityField returns the field carrying the shared identity: the
// explicit identity field when configured, else the first identifying
// field.
func identityField(m *schema.Model) string {
	if m.IdentityField != "" {
		return m.IdentityField
	}
	if ids := m.Identifying(); len(ids) > 0 {
		return ids[0].Name
	}
	return "id"
}

// canonicalJSON renders obj with the identity field removed. Map keys are
// marshaled in sorted order, which makes the output canonical.
func canonicalJSON(obj map[string]interface{}, idField string) ([]byte, error) {
	trimmed := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == idField {
			continue
		}
		trimmed[k] = v
	}
	return json.Marshal(trimmed)
}

func sameContent(a, b map[string]interface{}, idField string) (bool, error) {
	ca, err := canonicalJSON(a, idField)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b, idField)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// pathGet navigates a dotted JSON path ("$.a.b") through nested maps.
func pathGet(obj map[string]interface{}, path string) (interface{}, bool) {
	keys := pathKeys(path)
	if len(keys) == 0 {
		return nil, false
	}

	cur := obj
	for i, k := range keys {
		v, ok := cur[k]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// pathSet assigns through a dotted JSON path, creating intermediate maps
// as needed.
func pathSet(obj map[string]interface{}, path string, value interface{}) {
	keys := pathKeys(path)
	if len(keys) == 0 {
		return
	}

	cur := obj
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

func pathKeys(path string) []string {
	trimmed := strings.TrimPrefix(path, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ".")
}
