package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/internal/schema"
)

// testRegistry builds the Company/Person/Address fixture: a versioned
// container with a part, a shared reference and an array-indexed field.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	require.NoError(t, reg.Register("Company", &schema.Model{
		Versioned: true,
		Fields: []*schema.StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "summary", Paths: []string{"$.summary"}, Kind: schema.KindString, Tags: schema.TagFullText},
			{Name: "founded", Paths: []string{"$.founded"}, Kind: schema.KindInt, Tags: schema.TagIndex},
			{Name: "address", Paths: []string{"$.address"}, Kind: schema.KindObject, Tags: schema.TagShared, TargetModel: "Address", TargetField: "addressId"},
			{Name: "tags", Paths: []string{"$.tags"}, Kind: schema.KindStringArray, Tags: schema.TagArrayIndex},
		},
		Parts: []*schema.PartDef{
			{Field: "members", Model: "Person", Path: "$.members"},
		},
	}))

	require.NoError(t, reg.Register("Person", &schema.Model{
		IsPart: true,
		Fields: []*schema.StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: schema.KindString, Tags: schema.TagIndex},
			{Name: "birth", Paths: []string{"$.birth"}, Kind: schema.KindDate},
			{Name: "companyName", Paths: []string{"^$.name"}, Kind: schema.KindString},
		},
	}))

	require.NoError(t, reg.Register("Address", &schema.Model{
		Shared: true,
		Fields: []*schema.StoredField{
			{Name: "addressId", Paths: []string{"$.address_id"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "city", Paths: []string{"$.city"}, Kind: schema.KindString},
		},
	}))

	require.NoError(t, reg.Finalize())
	return reg
}

func TestCreateSchemaOrdering(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	stmts, err := c.CreateSchema("Company", "Person", "Address")
	require.NoError(t, err)

	// Audit tables lead, part views trail.
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS `version_info`")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS `model_changes`")
	assert.Contains(t, stmts[len(stmts)-1], "CREATE OR REPLACE VIEW `person`")
}

func TestCreateSchemaDefaultsToAllModels(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	stmts, err := c.CreateSchema()
	require.NoError(t, err)

	all := strings.Join(stmts, "\n")
	assert.Contains(t, all, "`company`")
	assert.Contains(t, all, "`person_pbase`")
	assert.Contains(t, all, "`address`")
}

func TestRowTable(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)
	m, _ := reg.Get("Company")

	sql, err := c.createRowTable(m)
	require.NoError(t, err)

	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS `company`")
	assert.Contains(t, sql, "`row_id` BIGINT NOT NULL AUTO_INCREMENT")
	assert.Contains(t, sql, "`doc` JSON NOT NULL")

	// Identifying fields are plain write parameters, never generated.
	assert.Contains(t, sql, "`name` VARCHAR(512) NOT NULL")
	assert.NotContains(t, sql, "`name` VARCHAR(512) GENERATED")

	// Other scalars extract from the document.
	assert.Contains(t, sql,
		"`founded` BIGINT GENERATED ALWAYS AS (CAST(JSON_EXTRACT(`doc`, '$.founded') AS SIGNED)) STORED")

	// Versioned columns and the identity index including valid_start.
	assert.Contains(t, sql, "`valid_start` BIGINT NOT NULL DEFAULT 1")
	assert.Contains(t, sql, "`valid_end` BIGINT NOT NULL DEFAULT 9223372036854775807")
	assert.Contains(t, sql, "UNIQUE KEY `uq_company_identity` (`set_id`, `name`, `valid_start`)")

	assert.Contains(t, sql, "KEY `ix_company_founded` (`founded`)")
	assert.Contains(t, sql, "FULLTEXT KEY `ft_company` (`summary`)")

	// Arrays and objects stay inside the document.
	assert.NotContains(t, sql, "`tags` ")
	assert.NotContains(t, sql, "`address` ")
}

func TestSideTable(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)
	m, _ := reg.Get("Company")
	f, _ := m.Field("tags")

	sql := c.createSideTable(m, f)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS `company_tags`")
	assert.Contains(t, sql, "`org_row_id` BIGINT NOT NULL")
	assert.Contains(t, sql, "`value` VARCHAR(512) NULL")
	assert.Contains(t, sql, "KEY `ix_company_tags_value` (`value`)")
}

func TestPartBaseAndView(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)
	m, _ := reg.Get("Person")

	base, err := c.createPartBase(m)
	require.NoError(t, err)
	assert.Contains(t, base, "CREATE TABLE IF NOT EXISTS `person_pbase`")
	assert.Contains(t, base, "`root_row_id` BIGINT NOT NULL")
	assert.Contains(t, base, "`container_row_id` BIGINT NOT NULL")
	assert.Contains(t, base, "`json_path` VARCHAR(512) NOT NULL")
	assert.Contains(t, base, "`birth` DATE NULL")
	assert.Contains(t, base, "KEY `ix_person_pbase_name` (`name`)")

	view, err := c.createPartView(m)
	require.NoError(t, err)
	assert.Contains(t, view, "CREATE OR REPLACE VIEW `person`")
	assert.Contains(t, view, "JSON_EXTRACT(c.`doc`, p.`json_path`) AS `doc`")
	assert.Contains(t, view, "JOIN `company` c ON c.`row_id` = p.`root_row_id`")
	// The view re-exports the container's tenancy and validity columns.
	assert.Contains(t, view, "c.`set_id`")
	assert.Contains(t, view, "c.`valid_start`")
}

func TestSequence(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Invoice", &schema.Model{
		SequencePrefix: "INV-",
		Fields: []*schema.StoredField{
			{Name: "number", Paths: []string{"$.number"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
		},
	}))
	require.NoError(t, reg.Finalize())

	c := NewCompiler(reg)
	stmts, err := c.CreateSchema("Invoice")
	require.NoError(t, err)

	all := strings.Join(stmts, "\n")
	assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS `seq_invoice`")

	m, _ := reg.Get("Invoice")
	insert, selectID := NextIDStatement(m)
	assert.Equal(t, "INSERT INTO `seq_invoice` () VALUES ();", insert)
	assert.Equal(t, "SELECT CONCAT('INV-', LAST_INSERT_ID());", selectID)
}

func TestExtractExprCasts(t *testing.T) {
	tests := []struct {
		kind schema.Kind
		want string
	}{
		{schema.KindInt, "CAST(JSON_EXTRACT(`doc`, '$.x') AS SIGNED)"},
		{schema.KindFloat, "CAST(JSON_EXTRACT(`doc`, '$.x') AS DOUBLE)"},
		{schema.KindBool, "CAST(JSON_EXTRACT(`doc`, '$.x') AS UNSIGNED)"},
		{schema.KindDate, "CAST(JSON_UNQUOTE(JSON_EXTRACT(`doc`, '$.x')) AS DATE)"},
		{schema.KindString, "JSON_UNQUOTE(JSON_EXTRACT(`doc`, '$.x'))"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			f := &schema.StoredField{Name: "x", Paths: []string{"$.x"}, Kind: tt.kind}
			assert.Equal(t, tt.want, ExtractExpr("doc", f))
		})
	}
}

func TestDatedIdentityIndex(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Rate", &schema.Model{
		Versioned:      true,
		Dated:          true,
		AppliedAtField: "effective",
		Fields: []*schema.StoredField{
			{Name: "code", Paths: []string{"$.code"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "effective", Paths: []string{"$.effective"}, Kind: schema.KindDate},
		},
	}))
	require.NoError(t, reg.Finalize())

	c := NewCompiler(reg)
	m, _ := reg.Get("Rate")
	sql, err := c.createRowTable(m)
	require.NoError(t, err)

	assert.Contains(t, sql, "`applied_at` DATE NOT NULL")
	assert.Contains(t, sql,
		"UNIQUE KEY `uq_rate_identity` (`set_id`, `code`, `applied_at`, `valid_start`)")
}

func TestStatementsTerminated(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	stmts, err := c.CreateSchema()
	require.NoError(t, err)
	require.NotEmpty(t, stmts)

	// Every statement carries its own terminator; consumers print or
	// execute them verbatim.
	for _, s := range stmts {
		assert.True(t, strings.HasSuffix(s, ";"), s)
		assert.False(t, strings.HasSuffix(s, ";;"), s)
	}
}
