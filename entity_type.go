package ria

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Association describes a member that references other entities.
type Association struct {
	Name       string `json:"name"`
	TargetType string `json:"target"`
	// IsCollection is true when the member holds []*Entity.
	IsCollection bool `json:"collection,omitempty"`
	// IsComposition marks children whose changes are submitted with the parent.
	IsComposition bool `json:"composition,omitempty"`
}

// Parameter is a declared custom method parameter.
type Parameter struct {
	Name     string          `json:"name"`
	Required bool            `json:"required,omitempty"`
	Schema   json.RawMessage `json:"schema,omitempty"`
}

// CustomMethod is a named server-side entity operation that can be recorded
// on an entity and submitted with its change set.
type CustomMethod struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// EntityType is the static descriptor of an entity type: its identity,
// association, versioning and validation metadata.
type EntityType struct {
	Name               string
	KeyMembers         []string
	VersionMember      string
	Associations       []Association
	ComplexMembers     []string
	ReadOnlyMembers    []string
	RequiresValidation bool
	// Schema is the JSON schema of the entity's member values.
	Schema   json.RawMessage
	Methods  []CustomMethod
	Defaults map[string]any
}

// New creates a blank, detached instance of the type with its defaults applied.
func (t *EntityType) New() *Entity {
	e := newEntity(t)
	for member, value := range t.Defaults {
		e.current[member] = cloneValue(value)
	}
	return e
}

// Association returns the association named name.
func (t *EntityType) Association(name string) (Association, bool) {
	for _, a := range t.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// Method returns the custom method named name.
func (t *EntityType) Method(name string) (CustomMethod, bool) {
	for _, m := range t.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return CustomMethod{}, false
}

// IsReadOnly reports whether member can only be written through ApplyState.
// The version member is always read-only.
func (t *EntityType) IsReadOnly(member string) bool {
	if t.VersionMember != "" && member == t.VersionMember {
		return true
	}
	return slices.Contains(t.ReadOnlyMembers, member)
}

// IsComplex reports whether member holds complex objects.
func (t *EntityType) IsComplex(member string) bool {
	return slices.Contains(t.ComplexMembers, member)
}

// HasComplexMembers reports whether any complex member is declared.
func (t *EntityType) HasComplexMembers() bool {
	return len(t.ComplexMembers) > 0
}

// KeyOf builds the entity key from member values.
func (t *EntityType) KeyOf(values map[string]any) (EntityKey, error) {
	if len(t.KeyMembers) == 0 {
		return EntityKey{}, fmt.Errorf("%w: type %s declares no key members", ErrInvalidKey, t.Name)
	}
	components := make([]any, len(t.KeyMembers))
	for i, m := range t.KeyMembers {
		components[i] = values[m]
	}
	k, err := NewEntityKey(components...)
	if err != nil {
		return EntityKey{}, fmt.Errorf("type %s: %w", t.Name, err)
	}
	return k, nil
}

// TypeRegistry resolves entity type descriptors by name.
type TypeRegistry interface {
	GetEntityType(name string) (*EntityType, error)
	ListEntityTypes() []string
}

type typeRegistry struct {
	mu    sync.RWMutex
	types map[string]*EntityType
}

// NewTypeRegistry creates an in-memory registry holding types.
func NewTypeRegistry(types ...*EntityType) (TypeRegistry, error) {
	r := &typeRegistry{types: make(map[string]*EntityType, len(types))}
	for _, t := range types {
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("entity type name is required")
		}
		if _, exists := r.types[t.Name]; exists {
			return nil, fmt.Errorf("entity type %s registered twice", t.Name)
		}
		r.types[t.Name] = t
	}
	return r, nil
}

func (r *typeRegistry) GetEntityType(name string) (*EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}
	return t, nil
}

func (r *typeRegistry) ListEntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
