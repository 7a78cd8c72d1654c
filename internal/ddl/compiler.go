// Package ddl compiles model metadata into the MySQL DDL that backs it:
// row tables with generated JSON-extraction columns, element side tables,
// part base tables with their reconstruction views, audit tables and
// per-type sequences.
package ddl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strata-db/strata/internal/schema"
)

// MaxValidEnd is the open upper bound of a version-validity interval.
const MaxValidEnd = int64(9223372036854775807)

// Compiler turns registered models into ordered DDL statements.
type Compiler struct {
	registry *schema.Registry
}

// NewCompiler creates a DDL compiler over a finalized registry.
func NewCompiler(registry *schema.Registry) *Compiler {
	return &Compiler{registry: registry}
}

// CreateSchema compiles the full DDL for the given models, or for every
// registered model when none are named, ordered so that every statement
// only depends on statements before it: audit tables and sequences first,
// then row tables, side tables, part bases, and finally the part views.
func (c *Compiler) CreateSchema(models ...string) ([]string, error) {
	if len(models) == 0 {
		models = c.registry.List()
		sort.Strings(models)
	}

	stmts := []string{createVersionInfo, createModelChanges}

	var views []string
	for _, name := range models {
		m, err := c.registry.MustGet(name)
		if err != nil {
			return nil, err
		}

		if m.SequencePrefix != "" {
			stmts = append(stmts, c.createSequence(m))
		}

		if m.IsPart {
			base, err := c.createPartBase(m)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, base)

			view, err := c.createPartView(m)
			if err != nil {
				return nil, err
			}
			views = append(views, view)
		} else {
			table, err := c.createRowTable(m)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, table)
		}

		for _, f := range m.ArrayIndexed() {
			stmts = append(stmts, c.createSideTable(m, f))
		}
	}

	return append(stmts, views...), nil
}

// createRowTable compiles the row table for a non-part model.
func (c *Compiler) createRowTable(m *schema.Model) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", quote(m.TableName)))
	b.WriteString("  `row_id` BIGINT NOT NULL AUTO_INCREMENT,\n")
	b.WriteString("  `set_id` BIGINT NOT NULL DEFAULT 0,\n")
	b.WriteString("  `doc` JSON NOT NULL,\n")

	for _, f := range m.Fields {
		def, err := columnDef(f)
		if err != nil {
			return "", fmt.Errorf("model %s: %w", m.Name, err)
		}
		if def == "" {
			continue
		}
		b.WriteString("  " + def + ",\n")
	}

	if m.Versioned {
		b.WriteString("  `valid_start` BIGINT NOT NULL DEFAULT 1,\n")
		b.WriteString(fmt.Sprintf("  `valid_end` BIGINT NOT NULL DEFAULT %d,\n", MaxValidEnd))
		b.WriteString("  `squashed_from` BIGINT NULL,\n")
	}
	if m.Dated {
		b.WriteString("  `applied_at` DATE NOT NULL,\n")
	}

	b.WriteString("  PRIMARY KEY (`row_id`)")

	if idx := identityIndex(m); idx != "" {
		b.WriteString(",\n  " + idx)
	}
	for _, f := range m.Fields {
		if f.Tags.Has(schema.TagIdentifying) || !f.Kind.IsScalar() {
			continue
		}
		if f.Tags.Has(schema.TagUniqueIndex) {
			b.WriteString(fmt.Sprintf(",\n  UNIQUE KEY %s (%s)",
				quote("uq_"+m.TableName+"_"+f.Column()), quote(f.Column())))
		} else if f.Tags.Has(schema.TagIndex) {
			b.WriteString(fmt.Sprintf(",\n  KEY %s (%s)",
				quote("ix_"+m.TableName+"_"+f.Column()), quote(f.Column())))
		}
	}
	if ft := m.FullText(); len(ft) > 0 {
		cols := make([]string, len(ft))
		for i, f := range ft {
			cols[i] = quote(f.Column())
		}
		b.WriteString(fmt.Sprintf(",\n  FULLTEXT KEY %s (%s)",
			quote("ft_"+m.TableName), strings.Join(cols, ", ")))
	}

	b.WriteString("\n) ENGINE=InnoDB;")
	return b.String(), nil
}

// identityIndex builds the unique identity index. Versioned models include
// valid_start so superseded rows do not collide with their successors;
// dated models additionally include the applied-date key.
func identityIndex(m *schema.Model) string {
	ids := m.Identifying()
	if len(ids) == 0 {
		return ""
	}

	cols := []string{quote("set_id")}
	for _, f := range ids {
		cols = append(cols, quote(f.Column()))
	}
	if m.Dated {
		cols = append(cols, quote("applied_at"))
	}
	if m.Versioned {
		cols = append(cols, quote("valid_start"))
	}
	return fmt.Sprintf("UNIQUE KEY %s (%s)",
		quote("uq_"+m.TableName+"_identity"), strings.Join(cols, ", "))
}

// columnDef compiles the column definition for a stored field. Identifying
// fields become plain columns because they are bound as write parameters;
// every other scalar becomes a stored generated column extracting its JSON
// path. Arrays, objects and raw JSON stay inside the document.
func columnDef(f *schema.StoredField) (string, error) {
	if !f.Kind.IsScalar() {
		if f.Tags.Has(schema.TagIdentifying) {
			return "", fmt.Errorf("%w: identifying field %s of kind %s",
				schema.ErrUnsupportedFieldType, f.Name, f.Kind)
		}
		return "", nil
	}

	sqlType, err := ColumnType(f.Kind)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", f.Name, err)
	}

	if f.Tags.Has(schema.TagIdentifying) {
		return fmt.Sprintf("%s %s NOT NULL", quote(f.Column()), sqlType), nil
	}
	return fmt.Sprintf("%s %s GENERATED ALWAYS AS (%s) STORED",
		quote(f.Column()), sqlType, ExtractExpr("doc", f)), nil
}

// ExtractExpr builds the JSON extraction expression for a field against
// the given JSON column, cast to the field's relational type.
func ExtractExpr(docCol string, f *schema.StoredField) string {
	raw := fmt.Sprintf("JSON_EXTRACT(%s, '%s')", quote(docCol), f.Path())
	switch f.Kind {
	case schema.KindInt:
		return fmt.Sprintf("CAST(%s AS SIGNED)", raw)
	case schema.KindFloat:
		return fmt.Sprintf("CAST(%s AS DOUBLE)", raw)
	case schema.KindBool:
		return fmt.Sprintf("CAST(%s AS UNSIGNED)", raw)
	case schema.KindTime:
		return fmt.Sprintf("CAST(JSON_UNQUOTE(%s) AS DATETIME)", raw)
	case schema.KindDate:
		return fmt.Sprintf("CAST(JSON_UNQUOTE(%s) AS DATE)", raw)
	default:
		return fmt.Sprintf("JSON_UNQUOTE(%s)", raw)
	}
}

// ColumnType maps a scalar kind onto its MySQL column type.
func ColumnType(k schema.Kind) (string, error) {
	switch k {
	case schema.KindString:
		return "VARCHAR(512)", nil
	case schema.KindInt:
		return "BIGINT", nil
	case schema.KindFloat:
		return "DOUBLE", nil
	case schema.KindBool:
		return "TINYINT(1)", nil
	case schema.KindTime:
		return "DATETIME", nil
	case schema.KindDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("%w: %s", schema.ErrUnsupportedFieldType, k)
	}
}

// createSideTable compiles the element side table for an array-indexed
// field. A relational index cannot span a JSON array, so each element gets
// its own row.
func (c *Compiler) createSideTable(m *schema.Model, f *schema.StoredField) string {
	table := m.SideTable(f)

	elem := "VARCHAR(512)"
	if f.Kind == schema.KindIntArray {
		elem = "BIGINT"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", quote(table)))
	b.WriteString("  `org_row_id` BIGINT NOT NULL,\n")
	b.WriteString("  `root_row_id` BIGINT NOT NULL,\n")
	b.WriteString(fmt.Sprintf("  `value` %s NULL,\n", elem))
	b.WriteString(fmt.Sprintf("  KEY %s (`value`),\n", quote("ix_"+table+"_value")))
	b.WriteString(fmt.Sprintf("  KEY %s (`root_row_id`)\n", quote("ix_"+table+"_root")))
	b.WriteString(") ENGINE=InnoDB;")
	return b.String()
}

// createPartBase compiles the physical table backing a part model: the
// part's own stored fields plus the container linkage columns.
func (c *Compiler) createPartBase(m *schema.Model) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", quote(m.PartBaseTable())))
	b.WriteString("  `row_id` BIGINT NOT NULL AUTO_INCREMENT,\n")
	b.WriteString("  `root_row_id` BIGINT NOT NULL,\n")
	b.WriteString("  `container_row_id` BIGINT NOT NULL,\n")
	b.WriteString("  `json_path` VARCHAR(512) NOT NULL,\n")

	for _, f := range m.Fields {
		switch {
		case f.Kind.IsScalar():
			t, err := ColumnType(f.Kind)
			if err != nil {
				return "", fmt.Errorf("part %s: %w", m.Name, err)
			}
			b.WriteString(fmt.Sprintf("  %s %s NULL,\n", quote(f.Column()), t))
		case f.Kind.IsArray():
			// Element rows from expansion are re-aggregated into a JSON
			// array before storage.
			b.WriteString(fmt.Sprintf("  %s JSON NULL,\n", quote(f.Column())))
		}
	}

	b.WriteString("  PRIMARY KEY (`row_id`),\n")
	b.WriteString(fmt.Sprintf("  KEY %s (`root_row_id`)", quote("ix_"+m.PartBaseTable()+"_root")))
	for _, f := range m.Fields {
		if f.Tags.Has(schema.TagIndex) && f.Kind.IsScalar() {
			b.WriteString(fmt.Sprintf(",\n  KEY %s (%s)",
				quote("ix_"+m.PartBaseTable()+"_"+f.Column()), quote(f.Column())))
		}
	}
	b.WriteString("\n) ENGINE=InnoDB;")
	return b.String(), nil
}

// createPartView compiles the view that makes a part behave like a
// first-class row for reads: its own columns joined with the root
// container's tenancy and versioning columns, and a doc column extracted
// from the container's JSON at the stored path.
func (c *Compiler) createPartView(m *schema.Model) (string, error) {
	root, err := c.rootContainer(m)
	if err != nil {
		return "", err
	}

	cols := []string{
		"p.`row_id`",
		"c.`set_id`",
		"JSON_EXTRACT(c.`doc`, p.`json_path`) AS `doc`",
		"p.`root_row_id`",
		"p.`container_row_id`",
		"p.`json_path`",
	}
	for _, f := range m.Fields {
		if f.Kind.IsScalar() {
			cols = append(cols, "p."+quote(f.Column()))
		}
	}
	if root.Versioned {
		cols = append(cols, "c.`valid_start`", "c.`valid_end`", "c.`squashed_from`")
	}
	if root.Dated {
		cols = append(cols, "c.`applied_at`")
	}

	return fmt.Sprintf(
		"CREATE OR REPLACE VIEW %s AS\nSELECT %s\nFROM %s p\nJOIN %s c ON c.`row_id` = p.`root_row_id`;",
		quote(m.TableName),
		strings.Join(cols, ", "),
		quote(m.PartBaseTable()),
		quote(root.TableName),
	), nil
}

// rootContainer finds the top-most non-part model containing m, walking
// part declarations transitively.
func (c *Compiler) rootContainer(m *schema.Model) (*schema.Model, error) {
	for _, name := range c.registry.List() {
		owner, _ := c.registry.Get(name)
		if owner == nil || owner.IsPart {
			continue
		}
		if c.contains(owner, m.Name, map[string]bool{}) {
			return owner, nil
		}
	}
	return nil, fmt.Errorf("part model %s has no container", m.Name)
}

// contains reports whether owner reaches partName through part
// declarations.
func (c *Compiler) contains(owner *schema.Model, partName string, seen map[string]bool) bool {
	if seen[owner.Name] {
		return false
	}
	seen[owner.Name] = true

	for _, p := range owner.Parts {
		if p.Model == partName {
			return true
		}
		if child, ok := c.registry.Get(p.Model); ok && c.contains(child, partName, seen) {
			return true
		}
	}
	return false
}

// createSequence compiles the per-type sequence table. MySQL has no native
// sequences, so a one-column AUTO_INCREMENT table provides the monotonic
// counter; NextIDStatement exposes it as a prefixed string id.
func (c *Compiler) createSequence(m *schema.Model) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  `id` BIGINT NOT NULL AUTO_INCREMENT,\n  PRIMARY KEY (`id`)\n) ENGINE=InnoDB;",
		quote("seq_"+m.TableName))
}

// NextIDStatement returns the statement pair allocating the next prefixed
// identifier from a model's sequence.
func NextIDStatement(m *schema.Model) (insert string, selectID string) {
	insert = fmt.Sprintf("INSERT INTO %s () VALUES ();", quote("seq_"+m.TableName))
	selectID = fmt.Sprintf("SELECT CONCAT('%s', LAST_INSERT_ID());", m.SequencePrefix)
	return insert, selectID
}

// Audit table DDL shared by every model.
const createVersionInfo = "CREATE TABLE IF NOT EXISTS `version_info` (\n" +
	"  `version` BIGINT NOT NULL AUTO_INCREMENT,\n" +
	"  `who` VARCHAR(255) NOT NULL DEFAULT '',\n" +
	"  `where` VARCHAR(255) NOT NULL DEFAULT '',\n" +
	"  `when` DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,\n" +
	"  `why` VARCHAR(512) NOT NULL DEFAULT '',\n" +
	"  `tag` VARCHAR(255) NOT NULL DEFAULT '',\n" +
	"  PRIMARY KEY (`version`)\n" +
	") ENGINE=InnoDB;"

const createModelChanges = "CREATE TABLE IF NOT EXISTS `model_changes` (\n" +
	"  `version` BIGINT NOT NULL,\n" +
	"  `data_version` BIGINT NOT NULL,\n" +
	"  `op` VARCHAR(16) NOT NULL,\n" +
	"  `table_name` VARCHAR(128) NOT NULL,\n" +
	"  `set_id` BIGINT NOT NULL,\n" +
	"  `row_id` BIGINT NOT NULL,\n" +
	"  `model_id` VARCHAR(512) NOT NULL,\n" +
	"  KEY `ix_model_changes_version` (`version`),\n" +
	"  KEY `ix_model_changes_model` (`model_id`)\n" +
	") ENGINE=InnoDB;"

// quote wraps an identifier in backticks.
func quote(ident string) string {
	return "`" + ident + "`"
}
