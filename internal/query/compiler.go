package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/schema"
	"github.com/strata-db/strata/internal/stmt"
)

// CurrentVersion is the sentinel version reading the open (current) row of
// a versioned model.
const CurrentVersion = ddl.MaxValidEnd - 1

// Compiler compiles read specs. It is pure and safe for concurrent use;
// compiled statement text is memoized by spec shape, which is independent
// of bound values.
type Compiler struct {
	registry *schema.Registry
	cache    *stmtCache
}

// NewCompiler creates a read query compiler over a finalized registry.
func NewCompiler(registry *schema.Registry) *Compiler {
	return &Compiler{
		registry: registry,
		cache:    newStmtCache(),
	}
}

// boundFilter is a filter with its parameter name(s) assigned. Names are
// assigned strictly in spec order, so a cache hit on statement text can
// rebind fresh values without recompiling.
type boundFilter struct {
	Filter
	param  string   // single-value operators
	params []string // IN expansion
}

// bindFilters assigns parameter names to the spec's filters in order.
func bindFilters(filters []Filter) []boundFilter {
	out := make([]boundFilter, len(filters))
	n := 1
	for i, f := range filters {
		bf := boundFilter{Filter: f}
		switch f.Op {
		case OpIsNull:
			// no parameter
		case OpIn:
			vals := inValues(f.Value)
			bf.params = make([]string, len(vals))
			for j := range vals {
				bf.params[j] = fmt.Sprintf("p%d_%d", n, j)
			}
			n++
		default:
			bf.param = fmt.Sprintf("p%d", n)
			n++
		}
		out[i] = bf
	}
	return out
}

// bindArgs builds the named-argument map for a spec, mirroring the
// parameter allocation of bindFilters.
func bindArgs(spec *Spec) map[string]interface{} {
	args := map[string]interface{}{
		"set_id": spec.SetID,
	}

	version := spec.Version
	if version == 0 {
		version = CurrentVersion
	}
	args["version"] = version
	if spec.AtDate != "" {
		args["at_date"] = spec.AtDate
	}
	if spec.Limit != nil {
		args["limit"] = *spec.Limit
	}
	if spec.Offset != nil {
		args["offset"] = *spec.Offset
	}

	for _, bf := range bindFilters(spec.Filters) {
		switch {
		case bf.param != "":
			args[bf.param] = bf.Value
		case len(bf.params) > 0:
			for j, v := range inValues(bf.Value) {
				args[bf.params[j]] = v
			}
		}
	}
	return args
}

// namespace is one model reachable from the root spec: the root itself or
// a reference target mentioned in a field path.
type namespace struct {
	name   string // dotted path; "" for the root
	model  *schema.Model
	parent string
	// ref is the reference field on the parent model that joins to this
	// namespace.
	ref *schema.StoredField
	// outer is set when an IS NULL filter demotes this namespace from the
	// inner-join anchor set.
	outer bool
	// anchored is set when a non-null filter requires matching rows.
	anchored bool

	filters   []boundFilter
	orderCols []string
	joinCols  []string // source columns of child joins, exported from the core
}

// targetColumn returns the column the parent joins against, defaulting to
// the target model's first identifying field.
func (ns *namespace) targetColumn() string {
	if ns.ref.TargetField != "" {
		if f, ok := ns.model.Field(ns.ref.TargetField); ok {
			return f.Column()
		}
	}
	if ids := ns.model.Identifying(); len(ids) > 0 {
		return ids[0].Column()
	}
	return "row_id"
}

// Compile compiles the spec into one parameterized statement. The text is
// memoized by shape; arguments are rebuilt on every call.
func (c *Compiler) Compile(spec *Spec) (*stmt.Statement, error) {
	key := spec.shapeKey()
	if sql, ok := c.cache.get(key); ok {
		return &stmt.Statement{SQL: sql, Args: bindArgs(spec)}, nil
	}

	sql, err := c.compile(spec)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, sql)
	return &stmt.Statement{SQL: sql, Args: bindArgs(spec)}, nil
}

func (c *Compiler) compile(spec *Spec) (string, error) {
	root, err := c.registry.MustGet(spec.Model)
	if err != nil {
		return "", err
	}

	namespaces, err := c.discoverNamespaces(root, spec)
	if err != nil {
		return "", err
	}

	// Phase one: per-namespace core subqueries over the minimal column
	// set, joined into the narrow base query.
	cores := make([]string, len(namespaces))
	relTerms := make([]string, 0, 1)
	for i, ns := range namespaces {
		core, rel, err := c.compileCore(spec, ns)
		if err != nil {
			return "", err
		}
		cores[i] = core
		if rel {
			relTerms = append(relTerms, fmt.Sprintf("COALESCE(c%d.`rel`, 0)", i))
		}
	}

	base, err := c.compileBase(spec, namespaces, cores, relTerms)
	if err != nil {
		return "", err
	}

	if spec.Count {
		return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS b", base), nil
	}

	// Ordering and paging wrap the narrow query so they never pay the
	// widened JSON-extraction cost.
	ordered, err := c.wrapOrder(spec, base, len(relTerms) > 0)
	if err != nil {
		return "", err
	}

	return c.compileWiden(spec, namespaces, ordered, len(relTerms) > 0)
}

// discoverNamespaces walks every field path mentioned by the spec and
// resolves the reference chain for each namespace, root first.
func (c *Compiler) discoverNamespaces(root *schema.Model, spec *Spec) ([]*namespace, error) {
	byName := map[string]*namespace{
		"": {name: "", model: root},
	}
	order := []string{""}

	ensure := func(path string) error {
		if _, ok := byName[path]; ok || path == "" {
			return nil
		}
		// Resolve every prefix of the chain so intermediate namespaces
		// participate in the join tree.
		segs := strings.Split(path, ".")
		cur := ""
		for _, seg := range segs {
			next := seg
			if cur != "" {
				next = cur + "." + seg
			}
			if _, ok := byName[next]; !ok {
				parent := byName[cur]
				ref, err := c.resolveReference(parent.model, seg, spec.Joins[next])
				if err != nil {
					return fmt.Errorf("namespace %s: %w", next, err)
				}
				target, err := c.registry.MustGet(ref.TargetModel)
				if err != nil {
					return err
				}
				byName[next] = &namespace{name: next, model: target, parent: cur, ref: ref}
				order = append(order, next)
			}
			cur = next
		}
		return nil
	}

	for _, f := range spec.Filters {
		if err := ensure(f.Namespace()); err != nil {
			return nil, err
		}
	}
	for _, fld := range spec.Fields {
		ns, _ := namespaceOf(fld)
		if err := ensure(ns); err != nil {
			return nil, err
		}
	}
	for _, o := range spec.OrderBy {
		if o.Field == OrderRelevance {
			continue
		}
		ns, _ := namespaceOf(o.Field)
		if err := ensure(ns); err != nil {
			return nil, err
		}
	}
	joinPaths := make([]string, 0, len(spec.Joins))
	for ns := range spec.Joins {
		joinPaths = append(joinPaths, ns)
	}
	sort.Strings(joinPaths)
	for _, ns := range joinPaths {
		if err := ensure(ns); err != nil {
			return nil, err
		}
	}

	out := make([]*namespace, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}

	// Distribute filters and mark anchor/outer state.
	for _, bf := range bindFilters(spec.Filters) {
		ns := byName[bf.Namespace()]
		ns.filters = append(ns.filters, bf)
		if bf.Op == OpIsNull {
			ns.outer = true
		} else {
			ns.anchored = true
		}
	}
	for _, o := range spec.OrderBy {
		if o.Field == OrderRelevance {
			continue
		}
		nsName, leaf := namespaceOf(o.Field)
		ns := byName[nsName]
		fld, ok := ns.model.Field(leaf)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownField, leaf, ns.model.Name)
		}
		ns.orderCols = append(ns.orderCols, fld.Column())
	}
	// Export each child join's source column from its parent's core.
	for _, ns := range out {
		if ns.name == "" {
			continue
		}
		byName[ns.parent].joinCols = append(byName[ns.parent].joinCols, ns.ref.Column())
	}

	return out, nil
}

// resolveReference finds the reference field joining a parent model to the
// namespace segment. The segment normally names the reference field
// itself; when it does not, the explicit join map supplies the target
// model, and exactly one reference field must point at it.
func (c *Compiler) resolveReference(parent *schema.Model, seg, joinModel string) (*schema.StoredField, error) {
	if f, ok := parent.Field(seg); ok {
		if !f.Tags.Has(schema.TagReference) && !f.Tags.Has(schema.TagShared) {
			return nil, fmt.Errorf("%w: field %s of %s is not a reference",
				ErrNoJoinPath, seg, parent.Name)
		}
		return f, nil
	}

	if joinModel == "" {
		return nil, fmt.Errorf("%w: %s from %s", ErrNoJoinPath, seg, parent.Name)
	}

	var candidates []*schema.StoredField
	for _, f := range parent.References() {
		if f.TargetModel == joinModel {
			candidates = append(candidates, f)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: %s has no reference to %s", ErrNoJoinPath, parent.Name, joinModel)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, f := range candidates {
			names[i] = f.Name
		}
		return nil, fmt.Errorf("%w: %s has %d references to %s (%s)",
			ErrAmbiguousJoinPath, parent.Name, len(candidates), joinModel,
			strings.Join(names, ", "))
	}
}

// temporal reports whether reads of a model carry validity columns:
// versioned models directly, parts through their container's view.
func (c *Compiler) temporal(m *schema.Model) bool {
	if m.Versioned {
		return true
	}
	if !m.IsPart {
		return false
	}
	root := c.rootOf(m)
	return root != nil && root.Versioned
}

// rootOf finds the top-most non-part model containing a part, walking
// part declarations transitively.
func (c *Compiler) rootOf(part *schema.Model) *schema.Model {
	var reaches func(owner *schema.Model, seen map[string]bool) bool
	reaches = func(owner *schema.Model, seen map[string]bool) bool {
		if seen[owner.Name] {
			return false
		}
		seen[owner.Name] = true
		for _, p := range owner.Parts {
			if p.Model == part.Name {
				return true
			}
			child, err := c.registry.MustGet(p.Model)
			if err == nil && reaches(child, seen) {
				return true
			}
		}
		return false
	}

	for _, name := range c.registry.List() {
		owner, err := c.registry.MustGet(name)
		if err != nil || owner.IsPart {
			continue
		}
		if reaches(owner, map[string]bool{}) {
			return owner
		}
	}
	return nil
}

// compileCore builds one namespace's narrow subquery: row_id plus only the
// columns needed for joining and ordering, filtered down as far as
// possible. Returns whether the core exports a relevance column.
func (c *Compiler) compileCore(spec *Spec, ns *namespace) (string, bool, error) {
	cols := []string{"`row_id`"}
	seen := map[string]bool{"row_id": true}
	addCol := func(col string) {
		if !seen[col] {
			seen[col] = true
			cols = append(cols, quote(col))
		}
	}
	for _, col := range ns.joinCols {
		addCol(col)
	}
	if ns.name != "" {
		addCol(ns.targetColumn())
	}
	for _, col := range ns.orderCols {
		addCol(col)
	}

	where := []string{"`set_id` = :set_id"}
	if c.temporal(ns.model) {
		where = append(where, "`valid_start` <= :version", "`valid_end` > :version")
	}

	var relExprs []string
	for _, bf := range ns.filters {
		cond, rel, err := filterSQL(ns.model, bf)
		if err != nil {
			return "", false, err
		}
		where = append(where, cond)
		if rel != "" {
			relExprs = append(relExprs, rel)
		}
	}

	hasRel := len(relExprs) > 0
	if hasRel {
		cols = append(cols, fmt.Sprintf("(%s) AS `rel`", strings.Join(relExprs, " + ")))
	}

	from := quote(ns.model.TableName)
	if ns.model.Dated && spec.AtDate != "" {
		from = "(" + datedSlice(ns.model) + ") AS `dt`"
	}

	return fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), from, strings.Join(where, " AND ")), hasRel, nil
}

// datedSlice restricts a dated model to the latest applied-date window at
// or before the reference date, per identity, using a window rank rather
// than explicit interval arithmetic.
func datedSlice(m *schema.Model) string {
	partition := []string{"`set_id`"}
	for _, f := range m.Identifying() {
		partition = append(partition, quote(f.Column()))
	}
	inner := fmt.Sprintf(
		"SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY `applied_at` DESC) AS `rn` "+
			"FROM %s WHERE `applied_at` <= :at_date",
		strings.Join(partition, ", "), quote(m.TableName))
	return fmt.Sprintf("SELECT * FROM (%s) AS `w` WHERE `w`.`rn` = 1", inner)
}

// filterSQL compiles one filter condition. MATCH compiles against the
// model's full-text field group and doubles as a relevance contribution.
func filterSQL(m *schema.Model, bf boundFilter) (cond string, relevance string, err error) {
	if bf.Op == OpMatch {
		ft := m.FullText()
		if len(ft) == 0 {
			return "", "", fmt.Errorf("%w: %s", ErrNoFullTextFields, m.Name)
		}
		cols := make([]string, len(ft))
		for i, fld := range ft {
			cols[i] = quote(fld.Column())
		}
		expr := fmt.Sprintf("MATCH (%s) AGAINST (:%s IN BOOLEAN MODE)",
			strings.Join(cols, ", "), bf.param)
		return expr, expr, nil
	}

	fld, ok := m.Field(bf.Leaf())
	if !ok {
		return "", "", fmt.Errorf("%w: %s on %s", ErrUnknownField, bf.Leaf(), m.Name)
	}
	col := quote(fld.Column())

	switch bf.Op {
	case OpIsNull:
		return col + " IS NULL", "", nil
	case OpIn:
		ph := make([]string, len(bf.params))
		for i, n := range bf.params {
			ph[i] = ":" + n
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", ")), "", nil
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpLike:
		return fmt.Sprintf("%s %s :%s", col, bf.Op, bf.param), "", nil
	default:
		return "", "", fmt.Errorf("unsupported operator %s", bf.Op)
	}
}

// compileBase joins the namespace cores on their reference columns. The
// anchor namespace drives join direction; namespaces demoted by IS NULL
// filters join outer so absent rows survive.
func (c *Compiler) compileBase(spec *Spec, namespaces []*namespace, cores []string, relTerms []string) (string, error) {
	sel := make([]string, 0, len(namespaces)+1)
	for i := range namespaces {
		sel = append(sel, fmt.Sprintf("c%d.`row_id` AS `r%d`", i, i))
	}
	oi := 0
	for i, ns := range namespaces {
		for _, col := range ns.orderCols {
			sel = append(sel, fmt.Sprintf("c%d.%s AS `o%d`", i, quote(col), oi))
			oi++
		}
	}
	if len(relTerms) > 0 {
		sel = append(sel, fmt.Sprintf("(%s) AS `relevance`", strings.Join(relTerms, " + ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM (%s) AS c0", strings.Join(sel, ", "), cores[0])

	index := make(map[string]int, len(namespaces))
	for i, ns := range namespaces {
		index[ns.name] = i
	}

	for i, ns := range namespaces {
		if i == 0 {
			continue
		}
		joinType := "LEFT"
		if ns.anchored && !ns.outer {
			joinType = "INNER"
		}
		if spec.Base != "" && spec.Base == ns.name {
			// The designated anchor drives: its rows survive even when the
			// chain toward the root has no match.
			joinType = "RIGHT"
		}
		fmt.Fprintf(&b, "\n%s JOIN (%s) AS c%d ON c%d.%s = c%d.%s",
			joinType, cores[i], i,
			index[ns.parent], quote(ns.ref.Column()),
			i, quote(ns.targetColumn()))
	}
	return b.String(), nil
}

// wrapOrder wraps the base query once to apply ORDER BY, LIMIT and OFFSET
// over the minimal row set.
func (c *Compiler) wrapOrder(spec *Spec, base string, hasRel bool) (string, error) {
	if len(spec.OrderBy) == 0 && spec.Limit == nil && spec.Offset == nil {
		return base, nil
	}

	var terms []string
	oi := 0
	for _, o := range spec.OrderBy {
		if o.Field == OrderRelevance {
			if !hasRel {
				return "", fmt.Errorf("%w: relevance ordering without a MATCH filter", ErrNoFullTextFields)
			}
			terms = append(terms, "`relevance` DESC")
			continue
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf("`o%d` %s", oi, dir))
		oi++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (%s) AS ob", base)
	if len(terms) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if spec.Limit != nil {
		b.WriteString(" LIMIT :limit")
	} else if spec.Offset != nil {
		// MySQL accepts OFFSET only as part of a LIMIT clause.
		b.WriteString(" LIMIT 18446744073709551615")
	}
	if spec.Offset != nil {
		b.WriteString(" OFFSET :offset")
	}
	return b.String(), nil
}

// compileWiden joins the surviving row ids back to each namespace's full
// table or view, paying the JSON-extraction cost only for rows that made
// it through filtering and paging.
func (c *Compiler) compileWiden(spec *Spec, namespaces []*namespace, narrow string, hasRel bool) (string, error) {
	root := namespaces[0]

	unwound := make(map[string]int, len(spec.Unwind))
	for i, name := range spec.Unwind {
		fld, ok := root.model.Field(name)
		if !ok {
			return "", fmt.Errorf("%w: %s on %s", ErrUnknownField, name, root.model.Name)
		}
		if !fld.Tags.Has(schema.TagArrayIndex) {
			return "", fmt.Errorf("%w: %s", ErrNotUnwindable, name)
		}
		unwound[name] = i
	}

	sel := []string{"t0.`row_id` AS `row_id`", "t0.`set_id` AS `set_id`"}
	if len(spec.Fields) == 0 {
		sel = append(sel, "t0.`doc` AS `doc`")
		if c.temporal(root.model) {
			sel = append(sel, "t0.`valid_start` AS `valid_start`", "t0.`valid_end` AS `valid_end`")
		}
	} else {
		index := make(map[string]int, len(namespaces))
		for i, ns := range namespaces {
			index[ns.name] = i
		}
		for _, fldPath := range spec.Fields {
			nsName, leaf := namespaceOf(fldPath)
			i, ok := index[nsName]
			if !ok {
				return "", fmt.Errorf("%w: namespace %s", ErrNoJoinPath, nsName)
			}
			if _, isUnwound := unwound[fldPath]; isUnwound && nsName == "" {
				continue // selected from the side table below
			}
			if leaf == "doc" {
				sel = append(sel, fmt.Sprintf("t%d.`doc` AS %s", i, quote(fldPath)))
				continue
			}
			fld, ok := namespaces[i].model.Field(leaf)
			if !ok {
				return "", fmt.Errorf("%w: %s on %s", ErrUnknownField, leaf, namespaces[i].model.Name)
			}
			sel = append(sel, fmt.Sprintf("t%d.%s AS %s", i, quote(fld.Column()), quote(fldPath)))
		}
	}
	for _, name := range spec.Unwind {
		sel = append(sel, fmt.Sprintf("u%d.`value` AS %s", unwound[name], quote(name)))
	}
	if hasRel {
		sel = append(sel, "b.`relevance` AS `relevance`")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM (%s) AS b", strings.Join(sel, ", "), narrow)
	for i, ns := range namespaces {
		join := "JOIN"
		if i > 0 {
			join = "LEFT JOIN"
		}
		fmt.Fprintf(&b, "\n%s %s AS t%d ON t%d.`row_id` = b.`r%d`",
			join, quote(ns.model.TableName), i, i, i)
	}
	for _, name := range spec.Unwind {
		fld, _ := root.model.Field(name)
		i := unwound[name]
		// LEFT so an empty array yields one row with a NULL element.
		fmt.Fprintf(&b, "\nLEFT JOIN %s AS u%d ON u%d.`org_row_id` = t0.`row_id`",
			quote(root.model.SideTable(fld)), i, i)
	}
	return b.String(), nil
}

func quote(ident string) string {
	return "`" + ident + "`"
}
