package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("Company", &Model{
		Versioned: true,
		Fields: []*StoredField{
			{Name: "name", Paths: []string{"$.name"}, Kind: KindString, Tags: TagIdentifying},
		},
	})
	require.NoError(t, err)

	m, ok := reg.Get("Company")
	require.True(t, ok)
	assert.Equal(t, "Company", m.Name)
	assert.Equal(t, "company", m.TableName)

	_, err = reg.MustGet("Nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestForwardDeclaration(t *testing.T) {
	reg := NewRegistry()

	// Two mutually referencing models, declared before either is defined.
	hA, err := reg.Declare("A")
	require.NoError(t, err)
	hB, err := reg.Declare("B")
	require.NoError(t, err)

	require.NoError(t, reg.Define(hA, &Model{
		Fields: []*StoredField{
			{Name: "id", Paths: []string{"$.id"}, Kind: KindString, Tags: TagIdentifying},
			{Name: "b", Paths: []string{"$.b"}, Kind: KindString, Tags: TagReference, TargetModel: "B", TargetField: "id"},
		},
	}))
	require.NoError(t, reg.Define(hB, &Model{
		Fields: []*StoredField{
			{Name: "id", Paths: []string{"$.id"}, Kind: KindString, Tags: TagIdentifying},
			{Name: "a", Paths: []string{"$.a"}, Kind: KindString, Tags: TagReference, TargetModel: "A", TargetField: "id"},
		},
	}))

	require.NoError(t, reg.Finalize())
	assert.True(t, reg.Finalized())
}

func TestFinalizeUndefinedModel(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Declare("Ghost")
	require.NoError(t, err)

	err = reg.Finalize()
	assert.ErrorIs(t, err, ErrUndefinedModel)
}

func TestDuplicateModel(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("X", &Model{}))

	err := reg.Register("X", &Model{})
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestValidateModel(t *testing.T) {
	tests := []struct {
		name    string
		model   *Model
		wantErr error
	}{
		{
			name: "versioned part rejected",
			model: &Model{
				Versioned: true,
				IsPart:    true,
				Fields: []*StoredField{
					{Name: "id", Paths: []string{"$.id"}, Kind: KindString, Tags: TagIdentifying},
				},
			},
			wantErr: ErrVersionedPart,
		},
		{
			name:    "versioned without identity rejected",
			model:   &Model{Versioned: true},
			wantErr: ErrVersionedWithoutIdentity,
		},
		{
			name: "array index on scalar rejected",
			model: &Model{
				Fields: []*StoredField{
					{Name: "city", Paths: []string{"$.city"}, Kind: KindString, Tags: TagArrayIndex},
				},
			},
			wantErr: ErrUnsupportedFieldType,
		},
		{
			name: "array index on part rejected",
			model: &Model{
				IsPart: true,
				Fields: []*StoredField{
					{Name: "nicknames", Paths: []string{"$.nicknames"}, Kind: KindStringArray, Tags: TagArrayIndex},
				},
			},
			wantErr: ErrUnsupportedFieldType,
		},
		{
			name: "identifying array rejected",
			model: &Model{
				Fields: []*StoredField{
					{Name: "tags", Paths: []string{"$.tags"}, Kind: KindStringArray, Tags: TagIdentifying},
				},
			},
			wantErr: ErrUnsupportedFieldType,
		},
		{
			name: "bad path rejected",
			model: &Model{
				Fields: []*StoredField{
					{Name: "x", Paths: []string{"name"}, Kind: KindString},
				},
			},
			wantErr: ErrInvalidPath,
		},
		{
			name: "path injection rejected",
			model: &Model{
				Fields: []*StoredField{
					{Name: "x", Paths: []string{"$.a' OR '1"}, Kind: KindString},
				},
			},
			wantErr: ErrInvalidPath,
		},
		{
			name: "valid versioned model",
			model: &Model{
				Versioned: true,
				Fields: []*StoredField{
					{Name: "name", Paths: []string{"$.name"}, Kind: KindString, Tags: TagIdentifying},
					{Name: "scores", Paths: []string{"$.scores[*]"}, Kind: KindIntArray, Tags: TagArrayIndex},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register("M", tt.model)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsConfigError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatedValidation(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("Rate", &Model{
		Versioned: true,
		Dated:     true,
		Fields: []*StoredField{
			{Name: "code", Paths: []string{"$.code"}, Kind: KindString, Tags: TagIdentifying},
		},
	})
	assert.Error(t, err, "dated model without applied-at field must be rejected")

	err = reg.Register("Rate2", &Model{
		Versioned:      true,
		Dated:          true,
		AppliedAtField: "effective",
		Fields: []*StoredField{
			{Name: "code", Paths: []string{"$.code"}, Kind: KindString, Tags: TagIdentifying},
			{Name: "effective", Paths: []string{"$.effective"}, Kind: KindDate},
		},
	})
	assert.NoError(t, err)
}

func TestFinalizeChecksReferenceTargets(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Owner", &Model{
		Fields: []*StoredField{
			{Name: "ref", Paths: []string{"$.ref"}, Kind: KindString, Tags: TagReference, TargetModel: "Missing"},
		},
	}))

	err := reg.Finalize()
	assert.ErrorIs(t, err, ErrUnknownModel)
}
