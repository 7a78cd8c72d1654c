// Package parts compiles the containment maintenance statements: deleting
// a container's part rows and re-deriving them from its current JSON
// document with one JSON_TABLE expansion level per containment depth.
package parts

import (
	"fmt"
	"strings"

	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/schema"
	"github.com/strata-db/strata/internal/stmt"
)

// Compiler compiles part-row maintenance for containers. Statements are
// emitted in strict parent-to-child order because a part's rows can only
// be derived once its container's row id is known.
type Compiler struct {
	registry *schema.Registry
}

// NewCompiler creates a containment compiler over a finalized registry.
func NewCompiler(registry *schema.Registry) *Compiler {
	return &Compiler{registry: registry}
}

// SyncStatements compiles the full refresh of every part level under one
// container row: deletes first, then inserts parent-to-child.
func (c *Compiler) SyncStatements(container *schema.Model, rootRowID int64) ([]*stmt.Statement, error) {
	deletes, err := c.DeleteStatements(container, rootRowID)
	if err != nil {
		return nil, err
	}

	inserts, err := c.insertLevel(container, container, rootRowID)
	if err != nil {
		return nil, err
	}
	return append(deletes, inserts...), nil
}

// DeleteStatements compiles the removal of every part row under a
// container row, across all containment levels.
func (c *Compiler) DeleteStatements(container *schema.Model, rootRowID int64) ([]*stmt.Statement, error) {
	var out []*stmt.Statement
	err := c.walkParts(container, map[string]bool{}, func(part *schema.Model) error {
		out = append(out, &stmt.Statement{
			SQL: fmt.Sprintf("DELETE FROM %s WHERE `root_row_id` = :root_row_id",
				quote(part.PartBaseTable())),
			Args: map[string]interface{}{"root_row_id": rootRowID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walkParts visits every part model reachable from a container,
// depth-first.
func (c *Compiler) walkParts(m *schema.Model, seen map[string]bool, fn func(*schema.Model) error) error {
	if seen[m.Name] {
		return nil
	}
	seen[m.Name] = true

	for _, p := range m.Parts {
		part, err := c.registry.MustGet(p.Model)
		if err != nil {
			return err
		}
		if err := fn(part); err != nil {
			return err
		}
		if err := c.walkParts(part, seen, fn); err != nil {
			return err
		}
	}
	return nil
}

// insertLevel compiles the part inserts for one containment level and
// recurses into nested parts. root is the top-most container whose doc
// column holds the JSON; container is the immediate parent, which equals
// root at the first level.
func (c *Compiler) insertLevel(root, container *schema.Model, rootRowID int64) ([]*stmt.Statement, error) {
	var out []*stmt.Statement
	for _, pd := range container.Parts {
		part, err := c.registry.MustGet(pd.Model)
		if err != nil {
			return nil, err
		}

		ins, err := c.insertStatement(root, container, part, pd, rootRowID)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)

		nested, err := c.insertLevel(root, part, rootRowID)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// insertStatement compiles one level's INSERT ... SELECT: the container's
// document expanded through JSON_TABLE, one row per array element, with
// ascend fields evaluated against the container row and array-valued part
// fields re-aggregated into JSON arrays.
func (c *Compiler) insertStatement(root, container, part *schema.Model, pd *schema.PartDef, rootRowID int64) (*stmt.Statement, error) {
	cols := []string{"`root_row_id`", "`container_row_id`", "`json_path`"}

	firstLevel := container.Name == root.Name

	var containerDoc, pathExpr, rootIDSel, containerIDSel string
	if firstLevel {
		containerDoc = "c.`doc`"
		rootIDSel = "c.`row_id`"
		containerIDSel = "c.`row_id`"
		pathExpr = fmt.Sprintf("CONCAT('%s[', jt.`ord` - 1, ']')", pd.Path)
	} else {
		containerDoc = "JSON_EXTRACT(c.`doc`, p.`json_path`)"
		rootIDSel = "p.`root_row_id`"
		containerIDSel = "p.`row_id`"
		// Nested paths extend the parent's: '$.a[0]' + '.b[' + i + ']'.
		rel := strings.TrimPrefix(pd.Path, "$")
		pathExpr = fmt.Sprintf("CONCAT(p.`json_path`, '%s[', jt.`ord` - 1, ']')", rel)
	}

	sels := []string{rootIDSel, containerIDSel, pathExpr}

	var colDefs []string
	colDefs = append(colDefs, "`ord` FOR ORDINALITY")

	grouped := false
	for _, f := range part.Fields {
		switch {
		case f.Ascends():
			if !f.Kind.IsScalar() {
				return nil, fmt.Errorf("part %s: ascend field %s must be scalar", part.Name, f.Name)
			}
			cols = append(cols, quote(f.Column()))
			sels = append(sels, ascendExpr(containerDoc, f))
		case f.Kind.IsScalar():
			t, err := ddl.ColumnType(f.Kind)
			if err != nil {
				return nil, fmt.Errorf("part %s: %w", part.Name, err)
			}
			colDefs = append(colDefs,
				fmt.Sprintf("%s %s PATH '%s'", quote(f.Column()), t, f.Path()))
			cols = append(cols, quote(f.Column()))
			sels = append(sels, "jt."+quote(f.Column()))
		case f.Kind.IsArray():
			// One expansion row per element; collapse back to an array per
			// part row before storage.
			elem := "VARCHAR(512)"
			if f.Kind == schema.KindIntArray {
				elem = "BIGINT"
			}
			rel := strings.TrimPrefix(f.Path(), "$")
			colDefs = append(colDefs, fmt.Sprintf(
				"NESTED PATH '$%s[*]' COLUMNS (%s %s PATH '$')",
				rel, quote(f.Column()+"_elem"), elem))
			cols = append(cols, quote(f.Column()))
			sels = append(sels, fmt.Sprintf("JSON_ARRAYAGG(jt.%s)", quote(f.Column()+"_elem")))
			grouped = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s)\n", quote(part.PartBaseTable()), strings.Join(cols, ", "))

	if grouped {
		// ANY_VALUE keeps scalar selections legal under full group-by;
		// they are constant within one part element.
		for i, sel := range sels {
			if strings.HasPrefix(sel, "jt.") {
				sels[i] = fmt.Sprintf("ANY_VALUE(%s)", sel)
			}
		}
	}
	fmt.Fprintf(&b, "SELECT %s\n", strings.Join(sels, ", "))

	if firstLevel {
		fmt.Fprintf(&b, "FROM %s c,\n", quote(root.TableName))
	} else {
		fmt.Fprintf(&b, "FROM %s p\nJOIN %s c ON c.`row_id` = p.`root_row_id`,\n",
			quote(container.PartBaseTable()), quote(root.TableName))
	}
	fmt.Fprintf(&b, "JSON_TABLE(%s, '%s[*]' COLUMNS (\n  %s\n)) AS jt\n",
		containerDoc, pd.Path, strings.Join(colDefs, ",\n  "))

	if firstLevel {
		b.WriteString("WHERE c.`row_id` = :root_row_id")
	} else {
		b.WriteString("WHERE p.`root_row_id` = :root_row_id")
	}
	if grouped {
		b.WriteString("\nGROUP BY jt.`ord`")
		if !firstLevel {
			b.WriteString(", p.`row_id`")
		}
	}

	return &stmt.Statement{
		SQL:  b.String(),
		Args: map[string]interface{}{"root_row_id": rootRowID},
	}, nil
}

// ascendExpr evaluates an ascend field directly against the container's
// document expression.
func ascendExpr(containerDoc string, f *schema.StoredField) string {
	raw := fmt.Sprintf("JSON_EXTRACT(%s, '%s')", containerDoc, f.Path())
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

func quote(ident string) string {
	return "`" + ident + "`"
}
