package write

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/query"
	"github.com/strata-db/strata/internal/schema"
	"github.com/strata-db/strata/internal/stmt"
)

// Compiler compiles mutation statements for registered models. It is pure;
// the engine executes its output inside one transaction per write batch.
type Compiler struct {
	registry *schema.Registry
}

// NewCompiler creates a write compiler over a finalized registry.
func NewCompiler(registry *schema.Registry) *Compiler {
	return &Compiler{registry: registry}
}

// CheckWritable rejects models that may not be written directly.
func (c *Compiler) CheckWritable(m *schema.Model) error {
	if m.IsPart {
		return fmt.Errorf("%w: %s", ErrDirectPartWrite, m.Name)
	}
	return nil
}

// CheckDeletable rejects models that may not be deleted or purged
// directly.
func (c *Compiler) CheckDeletable(m *schema.Model) error {
	if m.IsPart {
		return fmt.Errorf("%w: %s", ErrDirectPartWrite, m.Name)
	}
	if m.Shared {
		return fmt.Errorf("%w: %s", ErrSharedContentDeletion, m.Name)
	}
	return nil
}

// identityArgs extracts the identifying-field values of obj into named
// arguments, erroring on any missing value.
func identityArgs(m *schema.Model, obj map[string]interface{}, args map[string]interface{}) error {
	for _, f := range m.Identifying() {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s.%s", ErrMissingIdentity, m.Name, f.Name)
		}
		args["id_"+f.Column()] = v
	}
	return nil
}

// identityPredicate builds the WHERE fragment matching an object's
// identity, using the id_<column> argument names of identityArgs.
func identityPredicate(m *schema.Model) string {
	terms := make([]string, 0, len(m.Identifying()))
	for _, f := range m.Identifying() {
		terms = append(terms, fmt.Sprintf("%s = :id_%s", quote(f.Column()), f.Column()))
	}
	return strings.Join(terms, " AND ")
}

// docJSON marshals the object into its stored document.
func docJSON(obj map[string]interface{}) (string, error) {
	buf, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshaling document: %w", err)
	}
	return string(buf), nil
}

// SelectCurrent compiles the lookup of the currently valid row for an
// object's identity. Locked FOR UPDATE so the close-interval plus insert
// sequence is serialized per identity by the engine's row locks.
func (c *Compiler) SelectCurrent(m *schema.Model, obj map[string]interface{}, setID int64) (*stmt.Statement, error) {
	args := map[string]interface{}{"set_id": setID}
	if err := identityArgs(m, obj, args); err != nil {
		return nil, err
	}

	where := []string{"`set_id` = :set_id", identityPredicate(m)}
	if m.Versioned {
		where = append(where, fmt.Sprintf("`valid_end` = %d", ddl.MaxValidEnd))
	}
	if m.Dated {
		args["applied_at"] = obj[m.AppliedAtField]
		where = append(where, "`applied_at` = :applied_at")
	}

	cols := "`row_id`"
	if m.Versioned {
		cols += ", `valid_start`, `squashed_from`"
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s FOR UPDATE",
		cols, quote(m.TableName), strings.Join(where, " AND "))
	return &stmt.Statement{SQL: sql, Args: args}, nil
}

// CloseInterval supersedes the current row: its open validity interval
// ends at the new version.
func (c *Compiler) CloseInterval(m *schema.Model, rowID, version int64) *stmt.Statement {
	return &stmt.Statement{
		SQL: fmt.Sprintf("UPDATE %s SET `valid_end` = :version WHERE `row_id` = :row_id",
			quote(m.TableName)),
		Args: map[string]interface{}{"version": version, "row_id": rowID},
	}
}

// InsertVersioned compiles the insert of a fresh versioned row. The
// squashed-from lineage marker is carried forward from the superseded row,
// defaulting to the new version when the identity is new.
func (c *Compiler) InsertVersioned(m *schema.Model, obj map[string]interface{}, setID, validStart, squashedFrom int64) (*stmt.Statement, error) {
	doc, err := docJSON(obj)
	if err != nil {
		return nil, err
	}
	args := map[string]interface{}{
		"set_id":        setID,
		"doc":           doc,
		"valid_start":   validStart,
		"squashed_from": squashedFrom,
	}
	if err := identityArgs(m, obj, args); err != nil {
		return nil, err
	}

	cols := []string{"`set_id`", "`doc`", "`valid_start`", "`valid_end`", "`squashed_from`"}
	vals := []string{":set_id", ":doc", ":valid_start", fmt.Sprintf("%d", ddl.MaxValidEnd), ":squashed_from"}
	for _, f := range m.Identifying() {
		cols = append(cols, quote(f.Column()))
		vals = append(vals, ":id_"+f.Column())
	}
	if m.Dated {
		args["applied_at"] = obj[m.AppliedAtField]
		cols = append(cols, "`applied_at`")
		vals = append(vals, ":applied_at")
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(m.TableName), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return &stmt.Statement{SQL: sql, Args: args}, nil
}

// UpsertPlain compiles the non-versioned upsert: insert keyed on the
// identity index with conflict-update of the document. The
// ignore-duplicates flag narrows only identity-conflict handling, turning
// the conflict-update into a keep-existing insert.
func (c *Compiler) UpsertPlain(m *schema.Model, obj map[string]interface{}, setID int64, ignoreDup bool) (*stmt.Statement, error) {
	doc, err := docJSON(obj)
	if err != nil {
		return nil, err
	}
	args := map[string]interface{}{"set_id": setID, "doc": doc}
	if err := identityArgs(m, obj, args); err != nil {
		return nil, err
	}

	cols := []string{"`set_id`", "`doc`"}
	vals := []string{":set_id", ":doc"}
	for _, f := range m.Identifying() {
		cols = append(cols, quote(f.Column()))
		vals = append(vals, ":id_"+f.Column())
	}

	var sql string
	if ignoreDup {
		sql = fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
			quote(m.TableName), strings.Join(cols, ", "), strings.Join(vals, ", "))
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE `doc` = VALUES(`doc`)",
			quote(m.TableName), strings.Join(cols, ", "), strings.Join(vals, ", "))
	}
	return &stmt.Statement{SQL: sql, Args: args}, nil
}

// SelectAffected compiles the lookup of rows matched by a delete, purge or
// copy filter, returning enough columns to build change records. Locked
// FOR UPDATE inside the write transaction.
func (c *Compiler) SelectAffected(m *schema.Model, filters []query.Filter, setID int64, currentOnly bool) (*stmt.Statement, error) {
	args := map[string]interface{}{"set_id": setID}
	where := []string{"`set_id` = :set_id"}
	if currentOnly && m.Versioned {
		where = append(where, fmt.Sprintf("`valid_end` = %d", ddl.MaxValidEnd))
	}

	for i, f := range filters {
		cond, err := simpleFilterSQL(m, f, fmt.Sprintf("w%d", i+1), args)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
	}

	cols := []string{"`row_id`"}
	for _, f := range m.Identifying() {
		cols = append(cols, quote(f.Column()))
	}
	if m.Versioned {
		cols = append(cols, "`valid_start`", "`squashed_from`")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s FOR UPDATE",
		strings.Join(cols, ", "), quote(m.TableName), strings.Join(where, " AND "))
	return &stmt.Statement{SQL: sql, Args: args}, nil
}

// simpleFilterSQL compiles a root-namespace filter for mutation
// statements. Dotted paths are a read-side feature; mutations filter the
// target table only.
func simpleFilterSQL(m *schema.Model, f query.Filter, param string, args map[string]interface{}) (string, error) {
	if strings.Contains(f.Field, ".") {
		return "", fmt.Errorf("%w: %s (joined filters are read-only)", query.ErrNoJoinPath, f.Field)
	}
	fld, ok := m.Field(f.Field)
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", query.ErrUnknownField, f.Field, m.Name)
	}
	col := quote(fld.Column())

	switch f.Op {
	case query.OpIsNull:
		return col + " IS NULL", nil
	case query.OpEq, query.OpNe, query.OpGt, query.OpGe, query.OpLt, query.OpLe, query.OpLike:
		args[param] = f.Value
		return fmt.Sprintf("%s %s :%s", col, f.Op, param), nil
	default:
		return "", fmt.Errorf("operator %s not supported in write filters", f.Op)
	}
}

// DeleteRows compiles a hard delete by row ids.
func (c *Compiler) DeleteRows(m *schema.Model, rowIDs []int64) *stmt.Statement {
	args := make(map[string]interface{}, len(rowIDs))
	ph := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		name := fmt.Sprintf("r%d", i)
		args[name] = id
		ph[i] = ":" + name
	}
	return &stmt.Statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE `row_id` IN (%s)",
			quote(m.TableName), strings.Join(ph, ", ")),
		Args: args,
	}
}

// CloseIntervals compiles the soft delete of versioned rows: their open
// intervals end at the delete version.
func (c *Compiler) CloseIntervals(m *schema.Model, rowIDs []int64, version int64) *stmt.Statement {
	args := map[string]interface{}{"version": version}
	ph := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		name := fmt.Sprintf("r%d", i)
		args[name] = id
		ph[i] = ":" + name
	}
	return &stmt.Statement{
		SQL: fmt.Sprintf("UPDATE %s SET `valid_end` = :version WHERE `row_id` IN (%s)",
			quote(m.TableName), strings.Join(ph, ", ")),
		Args: args,
	}
}

// DeleteSideRows clears an array-indexed field's side table for one owning
// row.
func (c *Compiler) DeleteSideRows(m *schema.Model, f *schema.StoredField, rowID int64) *stmt.Statement {
	return &stmt.Statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE `org_row_id` = :row_id",
			quote(m.SideTable(f))),
		Args: map[string]interface{}{"row_id": rowID},
	}
}

// InsertSideRows re-derives an array-indexed field's side rows from the
// owning row's document, one row per element.
func (c *Compiler) InsertSideRows(m *schema.Model, f *schema.StoredField, rowID int64) *stmt.Statement {
	elemType := "VARCHAR(512)"
	if f.Kind == schema.KindIntArray {
		elemType = "BIGINT"
	}
	sql := fmt.Sprintf(
		"INSERT INTO %s (`org_row_id`, `root_row_id`, `value`)\n"+
			"SELECT t.`row_id`, t.`row_id`, jt.`value`\n"+
			"FROM %s t, JSON_TABLE(t.`doc`, '%s[*]' COLUMNS (`value` %s PATH '$')) AS jt\n"+
			"WHERE t.`row_id` = :row_id",
		quote(m.SideTable(f)), quote(m.TableName), f.Path(), elemType)
	return &stmt.Statement{SQL: sql, Args: map[string]interface{}{"row_id": rowID}}
}

// InsertCopy compiles the tenant-copy insert: the source row's document
// replicated into the destination tenant. The valid_start is the later of
// the two tenants' current valid_start values; lineage is preserved.
func (c *Compiler) InsertCopy(m *schema.Model, doc string, idValues map[string]interface{}, destSet, validStart, squashedFrom int64) *stmt.Statement {
	args := map[string]interface{}{
		"set_id":        destSet,
		"doc":           doc,
		"valid_start":   validStart,
		"squashed_from": squashedFrom,
	}

	cols := []string{"`set_id`", "`doc`"}
	vals := []string{":set_id", ":doc"}
	for _, f := range m.Identifying() {
		name := "id_" + f.Column()
		args[name] = idValues[f.Column()]
		cols = append(cols, quote(f.Column()))
		vals = append(vals, ":"+name)
	}
	if m.Versioned {
		cols = append(cols, "`valid_start`", "`valid_end`", "`squashed_from`")
		vals = append(vals, ":valid_start", fmt.Sprintf("%d", ddl.MaxValidEnd), ":squashed_from")
	}

	return &stmt.Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(m.TableName), strings.Join(cols, ", "), strings.Join(vals, ", ")),
		Args: args,
	}
}

// SelectDoc compiles the full-document lookup of locked rows by id, used
// by the copy operation.
func (c *Compiler) SelectDoc(m *schema.Model, rowID int64) *stmt.Statement {
	return &stmt.Statement{
		SQL: fmt.Sprintf("SELECT `doc` FROM %s WHERE `row_id` = :row_id",
			quote(m.TableName)),
		Args: map[string]interface{}{"row_id": rowID},
	}
}

func quote(ident string) string {
	return "`" + ident + "`"
}
