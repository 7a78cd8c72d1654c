package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Company", "company"},
		{"companyName", "company_name"},
		{"HTTPServer", "http_server"},
		{"AddressID", "address_id"},
		{"already_snake", "already_snake"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toSnakeCase(tt.in))
		})
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{
		KindString, KindInt, KindFloat, KindBool, KindTime, KindDate,
		KindObject, KindStringArray, KindIntArray, KindObjectArray, KindJSON,
	} {
		parsed, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("quaternion")
	assert.Error(t, err)
}

func TestTagHasAndString(t *testing.T) {
	tags := TagIdentifying | TagIndex
	assert.True(t, tags.Has(TagIdentifying))
	assert.True(t, tags.Has(TagIndex))
	assert.False(t, tags.Has(TagFullText))
	assert.Equal(t, "identifying|index", tags.String())
	assert.Equal(t, "none", Tag(0).String())
}

func TestStoredFieldAscend(t *testing.T) {
	f := &StoredField{Name: "companyName", Paths: []string{"^$.name"}, Kind: KindString}
	assert.True(t, f.Ascends())
	assert.Equal(t, "$.name", f.Path())
	assert.Equal(t, "company_name", f.Column())

	plain := &StoredField{Name: "city", Paths: []string{"$.city"}, Kind: KindString}
	assert.False(t, plain.Ascends())
}

func TestModelDerivedNames(t *testing.T) {
	m := &Model{
		Name:      "Person",
		TableName: "person",
		Fields: []*StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: KindString, Tags: TagIdentifying},
			{Name: "birth", Paths: []string{"$.birth"}, Kind: KindDate, Tags: TagIdentifying},
			{Name: "tags", Paths: []string{"$.tags"}, Kind: KindStringArray, Tags: TagArrayIndex},
		},
	}

	assert.Equal(t, "person_tags", m.SideTable(m.Fields[2]))
	assert.Equal(t, "person_pbase", m.PartBaseTable())
	assert.Equal(t, "Person:Steve Jobs/1955-02-24", m.ModelID(map[string]interface{}{
		"name":  "Steve Jobs",
		"birth": "1955-02-24",
	}))
}
