package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
	"go.uber.org/zap"
)

// typeFile holds the x- extension keywords of an entity schema file. The
// schema keywords themselves are read through jsonschema.Schema.
type typeFile struct {
	Entity             string             `json:"x-entity"`
	Key                []string           `json:"x-key"`
	Version            string             `json:"x-version"`
	ReadOnly           []string           `json:"x-readonly"`
	RequiresValidation *bool              `json:"x-requires-validation"`
	Complex            []string           `json:"x-complex"`
	Associations       []ria.Association  `json:"x-associations"`
	Methods            []ria.CustomMethod `json:"x-methods"`
}

// NewFileTypeRegistry loads every *.json entity schema in dir. The type name
// comes from x-entity, then title, then the file name.
func NewFileTypeRegistry(dir string) (ria.TypeRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read type directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	types := make([]*ria.EntityType, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
		}
		t, err := parseTypeFile(strings.TrimSuffix(name, ".json"), data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
		}
		types = append(types, t)
	}

	if err := checkAssociationTargets(types); err != nil {
		return nil, err
	}
	zap.S().Debugw("loaded entity types", "dir", dir, "count", len(types))
	return ria.NewTypeRegistry(types...)
}

func parseTypeFile(baseName string, data []byte) (*ria.EntityType, error) {
	var f typeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}

	name := f.Entity
	if name == "" {
		name = schema.Title
	}
	if name == "" {
		name = baseName
	}
	if len(f.Key) == 0 {
		return nil, fmt.Errorf("entity %s declares no x-key members", name)
	}
	for _, k := range f.Key {
		if k == f.Version {
			return nil, fmt.Errorf("entity %s: key member %s cannot be the version member", name, k)
		}
	}

	methods := NewSet[string]()
	for _, m := range f.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("entity %s: custom method without a name", name)
		}
		if methods.Contains(m.Name) {
			return nil, fmt.Errorf("entity %s: custom method %s declared twice", name, m.Name)
		}
		methods.Add(m.Name)
	}

	if _, err := schema.Resolve(&jsonschema.ResolveOptions{}); err != nil {
		return nil, fmt.Errorf("entity %s: failed to resolve schema: %w", name, err)
	}

	defaults := make(map[string]any)
	for prop, ps := range schema.Properties {
		if ps == nil || len(ps.Default) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(ps.Default, &v); err != nil {
			return nil, fmt.Errorf("entity %s: invalid default for %s: %w", name, prop, err)
		}
		if v != nil {
			defaults[prop] = wire.Normalize(v)
		}
	}
	if len(defaults) == 0 {
		defaults = nil
	}

	requiresValidation := len(schema.Required) > 0 || len(schema.Properties) > 0
	if f.RequiresValidation != nil {
		requiresValidation = *f.RequiresValidation
	}

	return &ria.EntityType{
		Name:               name,
		KeyMembers:         f.Key,
		VersionMember:      f.Version,
		Associations:       f.Associations,
		ComplexMembers:     f.Complex,
		ReadOnlyMembers:    f.ReadOnly,
		RequiresValidation: requiresValidation,
		Schema:             json.RawMessage(data),
		Methods:            f.Methods,
		Defaults:           defaults,
	}, nil
}

// checkAssociationTargets verifies that every association points at a loaded type.
func checkAssociationTargets(types []*ria.EntityType) error {
	known := NewSet[string]()
	for _, t := range types {
		known.Add(t.Name)
	}
	for _, t := range types {
		for _, a := range t.Associations {
			if a.Name == "" {
				return fmt.Errorf("entity %s: association without a name", t.Name)
			}
			if !known.Contains(a.TargetType) {
				return fmt.Errorf("entity %s: association %s targets unknown type %q", t.Name, a.Name, a.TargetType)
			}
		}
	}
	return nil
}
