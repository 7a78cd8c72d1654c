package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/strata-db/strata/internal/query"
	"github.com/strata-db/strata/internal/shared"
)

// FindMany compiles and runs a read spec, converting result rows back
// into objects. Rows carrying the full document are unmarshaled from it;
// projected rows keep their column-keyed form.
func (e *Engine) FindMany(ctx context.Context, spec *query.Spec) ([]Object, error) {
	st, err := e.queries.Compile(spec)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("find", zap.String("model", spec.Model), zap.String("sql", st.SQL))

	rows, err := queryNamed(ctx, e.db, st)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", spec.Model, err)
	}
	maps, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Object, 0, len(maps))
	for _, m := range maps {
		obj, err := rowToObject(m)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// FindOne runs the spec limited to a single row.
func (e *Engine) FindOne(ctx context.Context, spec *query.Spec) (Object, error) {
	one := *spec
	limit := 1
	one.Limit = &limit

	objs, err := e.FindMany(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, spec.Model)
	}
	return objs[0], nil
}

// Count runs the spec's narrow query under COUNT(*), skipping the widen
// phase entirely.
func (e *Engine) Count(ctx context.Context, spec *query.Spec) (int64, error) {
	counted := *spec
	counted.Count = true

	st, err := e.queries.Compile(&counted)
	if err != nil {
		return 0, err
	}

	rows, err := queryNamed(ctx, e.db, st)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", spec.Model, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// Populate expands the shared-content references of objs in place,
// resolving ids through the given caches first and falling back to the
// database. A fresh request-scoped cache fronts the chain so repeated ids
// resolve once.
func (e *Engine) Populate(ctx context.Context, model string, objs []Object, setID int64, caches ...shared.Cache) error {
	m, err := e.registry.MustGet(model)
	if err != nil {
		return err
	}

	chain := make([]shared.Cache, 0, len(caches)+2)
	chain = append(chain, shared.NewMapCache())
	chain = append(chain, caches...)
	chain = append(chain, &dbCache{engine: e, setID: setID})

	for _, obj := range objs {
		if err := e.resolver.Populate(ctx, m, obj, chain...); err != nil {
			return err
		}
	}
	return nil
}

// dbCache resolves shared-content ids from their stored rows. It is the
// last cache in every population chain. Ids are unique per shared model,
// so each registered shared model is probed in turn.
type dbCache struct {
	engine *Engine
	setID  int64
}

// Get implements shared.Cache.
func (c *dbCache) Get(ctx context.Context, id string) (map[string]interface{}, bool, error) {
	for _, name := range c.engine.registry.List() {
		m, err := c.engine.registry.MustGet(name)
		if err != nil {
			return nil, false, err
		}
		if !m.Shared {
			continue
		}

		obj, err := c.engine.FindOne(ctx, &query.Spec{
			Model: m.Name,
			Filters: []query.Filter{
				{Field: shared.IdentityFieldName(m), Op: query.OpEq, Value: id},
			},
			SetID: c.setID,
		})
		if err == nil {
			return obj, true, nil
		}
		if !isNotFound(err) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// Put implements shared.Cache. Stored rows are written by Upsert, not by
// population, so Put is a no-op.
func (c *dbCache) Put(context.Context, string, map[string]interface{}) error {
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// rowToObject converts one scanned row into an object. Rows holding a doc
// column are unmarshaled from the document with the surrogate columns
// layered on top; projected rows pass through unchanged.
func rowToObject(row map[string]interface{}) (Object, error) {
	raw, ok := row["doc"]
	if !ok {
		return row, nil
	}

	docStr, ok := raw.(string)
	if !ok {
		return row, nil
	}

	obj := Object{}
	if err := json.Unmarshal([]byte(docStr), &obj); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	for k, v := range row {
		if k == "doc" {
			continue
		}
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	return obj, nil
}
