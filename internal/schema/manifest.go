package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestField is the YAML form of a stored field declaration.
type manifestField struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Paths  []string `yaml:"paths"`
	Tags   []string `yaml:"tags"`
	Target string   `yaml:"target"` // "Model" or "Model.Field"
}

// manifestPart is the YAML form of a containment declaration.
type manifestPart struct {
	Field string `yaml:"field"`
	Model string `yaml:"model"`
	Path  string `yaml:"path"`
}

// manifestModel is the YAML form of one model declaration.
type manifestModel struct {
	Name           string          `yaml:"name"`
	Table          string          `yaml:"table"`
	Versioned      bool            `yaml:"versioned"`
	Dated          bool            `yaml:"dated"`
	AppliedAt      string          `yaml:"applied_at"`
	Part           bool            `yaml:"part"`
	Shared         bool            `yaml:"shared"`
	IdentityField  string          `yaml:"identity_field"`
	SequencePrefix string          `yaml:"sequence_prefix"`
	Fields         []manifestField `yaml:"fields"`
	Parts          []manifestPart  `yaml:"parts"`
}

type manifest struct {
	Models []manifestModel `yaml:"models"`
}

var tagNames = map[string]Tag{
	"identifying": TagIdentifying,
	"index":       TagIndex,
	"unique":      TagUniqueIndex,
	"fulltext":    TagFullText,
	"array_index": TagArrayIndex,
	"reference":   TagReference,
	"shared":      TagShared,
}

// LoadManifest builds a finalized registry from a YAML model manifest.
// All models are declared before any is defined, so declaration order in
// the manifest does not matter.
func LoadManifest(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var mf manifest
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(mf.Models) == 0 {
		return nil, fmt.Errorf("manifest declares no models")
	}

	reg := NewRegistry()

	handles := make(map[string]Handle, len(mf.Models))
	for _, mm := range mf.Models {
		h, err := reg.Declare(mm.Name)
		if err != nil {
			return nil, err
		}
		handles[mm.Name] = h
	}

	for _, mm := range mf.Models {
		model, err := buildModel(mm)
		if err != nil {
			return nil, err
		}
		if err := reg.Define(handles[mm.Name], model); err != nil {
			return nil, err
		}
	}

	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadManifestFile is LoadManifest over a file path.
func LoadManifestFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

func buildModel(mm manifestModel) (*Model, error) {
	model := &Model{
		TableName:      mm.Table,
		Versioned:      mm.Versioned,
		Dated:          mm.Dated,
		AppliedAtField: mm.AppliedAt,
		IsPart:         mm.Part,
		Shared:         mm.Shared,
		IdentityField:  mm.IdentityField,
		SequencePrefix: mm.SequencePrefix,
	}

	for _, mf := range mm.Fields {
		kind, err := ParseKind(mf.Kind)
		if err != nil {
			return nil, fmt.Errorf("model %s, field %s: %w", mm.Name, mf.Name, err)
		}

		var tags Tag
		for _, t := range mf.Tags {
			bit, ok := tagNames[t]
			if !ok {
				return nil, fmt.Errorf("model %s, field %s: unknown tag %q", mm.Name, mf.Name, t)
			}
			tags |= bit
		}

		paths := mf.Paths
		if len(paths) == 0 {
			paths = []string{"$." + toSnakeCase(mf.Name)}
		}

		field := &StoredField{
			Name:  mf.Name,
			Paths: paths,
			Kind:  kind,
			Tags:  tags,
		}
		if mf.Target != "" {
			field.TargetModel, field.TargetField = splitTarget(mf.Target)
		}
		model.Fields = append(model.Fields, field)
	}

	for _, mp := range mm.Parts {
		model.Parts = append(model.Parts, &PartDef{
			Field: mp.Field,
			Model: mp.Model,
			Path:  mp.Path,
		})
	}
	return model, nil
}

func splitTarget(target string) (model, field string) {
	if i := strings.IndexByte(target, '.'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}
