package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	require.NoError(t, reg.Register("Company", &schema.Model{
		Versioned: true,
		Fields: []*schema.StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "summary", Paths: []string{"$.summary"}, Kind: schema.KindString, Tags: schema.TagFullText},
			{Name: "founded", Paths: []string{"$.founded"}, Kind: schema.KindInt, Tags: schema.TagIndex},
			{Name: "tags", Paths: []string{"$.tags"}, Kind: schema.KindStringArray, Tags: schema.TagArrayIndex},
		},
	}))

	require.NoError(t, reg.Register("Employee", &schema.Model{
		Versioned: true,
		Fields: []*schema.StoredField{
			{Name: "empName", Paths: []string{"$.emp_name"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "company", Paths: []string{"$.company"}, Kind: schema.KindString, Tags: schema.TagReference, TargetModel: "Company", TargetField: "name"},
			{Name: "salary", Paths: []string{"$.salary"}, Kind: schema.KindInt},
		},
	}))

	require.NoError(t, reg.Register("Contract", &schema.Model{
		Fields: []*schema.StoredField{
			{Name: "contractId", Paths: []string{"$.contract_id"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
			{Name: "buyer", Paths: []string{"$.buyer"}, Kind: schema.KindString, Tags: schema.TagReference, TargetModel: "Company", TargetField: "name"},
			{Name: "seller", Paths: []string{"$.seller"}, Kind: schema.KindString, Tags: schema.TagReference, TargetModel: "Company", TargetField: "name"},
		},
	}))

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
	return reg
}

func TestCompileCurrentVersion(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{Model: "Company", SetID: 7})
	require.NoError(t, err)

	// Narrow phase restricts by tenant and validity; the widen phase joins
	// surviving row ids back to the full table.
	assert.Contains(t, st.SQL, "`set_id` = :set_id")
	assert.Contains(t, st.SQL, "`valid_start` <= :version")
	assert.Contains(t, st.SQL, "`valid_end` > :version")
	assert.Contains(t, st.SQL, "JOIN `company` AS t0 ON t0.`row_id` = b.`r0`")
	assert.Contains(t, st.SQL, "t0.`doc` AS `doc`")

	assert.Equal(t, int64(7), st.Args["set_id"])
	assert.Equal(t, CurrentVersion, st.Args["version"])
}

func TestCompileFilterParams(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model: "Company",
		Filters: []Filter{
			{Field: "founded", Op: OpGe, Value: 1970},
			{Field: "name", Op: OpIn, Value: []string{"Apple", "NeXT"}},
			{Field: "summary", Op: OpIsNull},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "`founded` >= :p1")
	assert.Contains(t, st.SQL, "`name` IN (:p2_0, :p2_1)")
	assert.Contains(t, st.SQL, "`summary` IS NULL")

	assert.Equal(t, 1970, st.Args["p1"])
	assert.Equal(t, "Apple", st.Args["p2_0"])
	assert.Equal(t, "NeXT", st.Args["p2_1"])
}

func TestCompileReferenceJoin(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model: "Employee",
		Filters: []Filter{
			{Field: "company.founded", Op: OpLt, Value: 1990},
		},
	})
	require.NoError(t, err)

	// The filtered reference namespace joins inner on the reference pair.
	assert.Contains(t, st.SQL, "INNER JOIN")
	assert.Contains(t, st.SQL, "c0.`company` = c1.`name`")
	assert.Contains(t, st.SQL, "`founded` < :p1")
}

func TestCompileIsNullDemotesJoin(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model: "Employee",
		Filters: []Filter{
			{Field: "company.founded", Op: OpIsNull},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "LEFT JOIN")
	assert.NotContains(t, st.SQL, "INNER JOIN")
}

func TestCompileJoinResolution(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	_, err := c.Compile(&Spec{
		Model:   "Contract",
		Filters: []Filter{{Field: "partner.founded", Op: OpEq, Value: 1976}},
	})
	assert.ErrorIs(t, err, ErrNoJoinPath)

	// Two reference fields target Company; an explicit model map cannot
	// disambiguate them.
	_, err = c.Compile(&Spec{
		Model:   "Contract",
		Filters: []Filter{{Field: "partner.founded", Op: OpEq, Value: 1976}},
		Joins:   map[string]string{"partner": "Company"},
	})
	assert.ErrorIs(t, err, ErrAmbiguousJoinPath)

	// Naming the reference field directly is unambiguous.
	st, err := c.Compile(&Spec{
		Model:   "Contract",
		Filters: []Filter{{Field: "buyer.founded", Op: OpEq, Value: 1976}},
	})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, "c0.`buyer` = c1.`name`")
}

func TestCompileMatchRelevance(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "summary", Op: OpMatch, Value: "+California"}},
		OrderBy: []Order{{Field: OrderRelevance}},
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "MATCH (`summary`) AGAINST (:p1 IN BOOLEAN MODE)")
	assert.Contains(t, st.SQL, "AS `rel`")
	assert.Contains(t, st.SQL, "ORDER BY `relevance` DESC")
	assert.Contains(t, st.SQL, "b.`relevance` AS `relevance`")
	assert.Equal(t, "+California", st.Args["p1"])
}

func TestCompileMatchWithoutFullTextFields(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	_, err := c.Compile(&Spec{
		Model:   "Contract",
		Filters: []Filter{{Field: "buyer", Op: OpMatch, Value: "x"}},
	})
	assert.ErrorIs(t, err, ErrNoFullTextFields)
}

func TestCompileUnwind(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model:  "Company",
		Unwind: []string{"tags"},
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "LEFT JOIN `company_tags` AS u0 ON u0.`org_row_id` = t0.`row_id`")
	assert.Contains(t, st.SQL, "u0.`value` AS `tags`")

	_, err = c.Compile(&Spec{Model: "Company", Unwind: []string{"summary"}})
	assert.ErrorIs(t, err, ErrNotUnwindable)
}

func TestCompileCount(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "founded", Op: OpGt, Value: 1970}},
		Count:   true,
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "SELECT COUNT(*) FROM (")
	// Counting never pays the widening join.
	assert.NotContains(t, st.SQL, "AS t0")
}

func TestCompileOrderLimitOffset(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	limit, offset := 10, 20
	st, err := c.Compile(&Spec{
		Model:   "Company",
		OrderBy: []Order{{Field: "founded", Desc: true}},
		Limit:   &limit,
		Offset:  &offset,
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "ORDER BY `o0` DESC")
	assert.Contains(t, st.SQL, "LIMIT :limit OFFSET :offset")
	assert.Equal(t, 10, st.Args["limit"])
	assert.Equal(t, 20, st.Args["offset"])
}

func TestCompileOffsetWithoutLimit(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	offset := 20
	st, err := c.Compile(&Spec{
		Model:  "Company",
		Offset: &offset,
	})
	require.NoError(t, err)

	// MySQL has no standalone OFFSET clause, so an offset-only page gets
	// the unbounded LIMIT.
	assert.Contains(t, st.SQL, "LIMIT 18446744073709551615 OFFSET :offset")
	assert.Equal(t, 20, st.Args["offset"])
	_, hasLimit := st.Args["limit"]
	assert.False(t, hasLimit)
}

func TestCompileProjection(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model:   "Employee",
		Fields:  []string{"empName", "company.name"},
		Filters: []Filter{{Field: "company.founded", Op: OpGt, Value: 1950}},
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "t0.`emp_name` AS `empName`")
	assert.Contains(t, st.SQL, "t1.`name` AS `company.name`")
	assert.NotContains(t, st.SQL, "t0.`doc`")
}

func TestCompileDatedSlice(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{
		Model:  "Rate",
		AtDate: "2024-06-30",
	})
	require.NoError(t, err)

	assert.Contains(t, st.SQL, "ROW_NUMBER() OVER (PARTITION BY `set_id`, `code` ORDER BY `applied_at` DESC)")
	assert.Contains(t, st.SQL, "`applied_at` <= :at_date")
	assert.Equal(t, "2024-06-30", st.Args["at_date"])
}

func TestCompileVersionPin(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	st, err := c.Compile(&Spec{Model: "Company", Version: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Args["version"])
}

func TestCompileMemoization(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	first, err := c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "founded", Op: OpEq, Value: 1976}},
	})
	require.NoError(t, err)

	second, err := c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "founded", Op: OpEq, Value: 1985}},
	})
	require.NoError(t, err)

	// Same shape memoizes the text; values rebind per call.
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, 1, c.cache.Len())
	assert.Equal(t, 1976, first.Args["p1"])
	assert.Equal(t, 1985, second.Args["p1"])

	// A different IN length is a different shape.
	_, err = c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "name", Op: OpIn, Value: []string{"a", "b"}}},
	})
	require.NoError(t, err)
	_, err = c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "name", Op: OpIn, Value: []string{"a", "b", "c"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, c.cache.Len())
}

func TestCompileUnknownField(t *testing.T) {
	c := NewCompiler(testRegistry(t))

	_, err := c.Compile(&Spec{
		Model:   "Company",
		Filters: []Filter{{Field: "nonexistent", Op: OpEq, Value: 1}},
	})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestCompilePartReadPinsRootValidity(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("Company", &schema.Model{
		Versioned: true,
		Fields: []*schema.StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: schema.KindString, Tags: schema.TagIdentifying},
		},
		Parts: []*schema.PartDef{{Field: "members", Model: "Person", Path: "$.members"}},
	}))
	require.NoError(t, reg.Register("Person", &schema.Model{
		IsPart: true,
		Fields: []*schema.StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: schema.KindString},
		},
	}))
	require.NoError(t, reg.Finalize())

	c := NewCompiler(reg)
	st, err := c.Compile(&Spec{Model: "Person"})
	require.NoError(t, err)

	// The part view re-exports the container's validity columns, so part
	// reads pin the version exactly like the container's own reads.
	assert.Contains(t, st.SQL, "`valid_start` <= :version")
	assert.Contains(t, st.SQL, "`valid_end` > :version")
	assert.Contains(t, st.SQL, "t0.`valid_start` AS `valid_start`")
	assert.Equal(t, CurrentVersion, st.Args["version"])
}
