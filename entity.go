package ria

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
)

// EntityState is the lifecycle state of a tracked entity.
type EntityState int

const (
	EntityStateDetached EntityState = iota
	EntityStateUnmodified
	EntityStateModified
	EntityStateNew
	EntityStateDeleted
)

func (s EntityState) String() string {
	switch s {
	case EntityStateDetached:
		return "Detached"
	case EntityStateUnmodified:
		return "Unmodified"
	case EntityStateModified:
		return "Modified"
	case EntityStateNew:
		return "New"
	case EntityStateDeleted:
		return "Deleted"
	default:
		return fmt.Sprintf("EntityState(%d)", int(s))
	}
}

// EntityAction is a recorded custom method invocation.
type EntityAction struct {
	Name       string `json:"name"`
	Parameters []any  `json:"parameters,omitempty"`
}

// ComplexObject is a structured value owned by an entity member. It has no
// identity of its own but carries its own validation errors.
type ComplexObject struct {
	values map[string]any
	errors *ValidationResultCollection
}

// NewComplexObject creates a complex object holding a copy of values.
func NewComplexObject(values map[string]any) *ComplexObject {
	return &ComplexObject{
		values: cloneValues(values),
		errors: NewValidationResultCollection(ValidationHooks{}),
	}
}

// Get returns the value of member.
func (c *ComplexObject) Get(member string) any {
	return c.values[member]
}

// Set writes member.
func (c *ComplexObject) Set(member string, value any) {
	c.values[member] = value
}

// Values returns a copy of the member values.
func (c *ComplexObject) Values() map[string]any {
	return cloneValues(c.values)
}

// ValidationErrors returns the object's error collection.
func (c *ComplexObject) ValidationErrors() *ValidationResultCollection {
	return c.errors
}

func (c *ComplexObject) clone() *ComplexObject {
	return NewComplexObject(c.values)
}

// Entity is a tracked domain object. Member values live in a map keyed by
// member name. Association members hold *Entity or []*Entity, and complex
// members hold *ComplexObject or []*ComplexObject.
type Entity struct {
	typ      *EntityType
	state    EntityState
	current  map[string]any
	original map[string]any
	errors   *ValidationResultCollection
	conflict *EntityConflict
	actions  []EntityAction

	// stateBeforeDelete is restored when a removal is rejected.
	stateBeforeDelete EntityState
}

func newEntity(t *EntityType) *Entity {
	e := &Entity{
		typ:     t,
		state:   EntityStateDetached,
		current: make(map[string]any),
	}
	e.errors = NewValidationResultCollection(ValidationHooks{})
	e.errors.onClear = e.clearComplexErrors
	return e
}

// NewEntity creates a detached entity of type t holding values.
func NewEntity(t *EntityType, values map[string]any) *Entity {
	e := t.New()
	e.ApplyState(values)
	return e
}

// Type returns the entity's descriptor.
func (e *Entity) Type() *EntityType {
	return e.typ
}

// State returns the lifecycle state.
func (e *Entity) State() EntityState {
	return e.state
}

// Key returns the identity built from the key members.
func (e *Entity) Key() (EntityKey, error) {
	return e.typ.KeyOf(e.current)
}

// Get returns the current value of member.
func (e *Entity) Get(member string) any {
	return e.current[member]
}

// Values returns a copy of the current member values.
func (e *Entity) Values() map[string]any {
	return cloneValues(e.current)
}

// Set writes a member through the normal change-tracking path. Read-only and
// version members are rejected; use ApplyState for those.
func (e *Entity) Set(member string, value any) error {
	if e.typ.IsReadOnly(member) {
		return fmt.Errorf("%w: %s.%s", ErrReadOnlyMember, e.typ.Name, member)
	}
	if e.state == EntityStateDeleted {
		return fmt.Errorf("%w: cannot modify deleted entity %s", ErrInvalidEntityState, e.typ.Name)
	}
	e.beginEdit()
	e.current[member] = value
	return nil
}

// ApplyState writes member values without change tracking, bypassing the
// read-only protection. It is how server-computed values reach an entity.
func (e *Entity) ApplyState(values map[string]any) {
	for member, value := range values {
		e.current[member] = value
	}
}

// InvokeAction records a custom method invocation to be executed by the
// server on submit.
func (e *Entity) InvokeAction(name string, params ...any) error {
	if _, ok := e.typ.Method(name); !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownMethod, e.typ.Name, name)
	}
	if e.state == EntityStateDeleted || e.state == EntityStateNew {
		return fmt.Errorf("%w: cannot invoke %s on %s entity", ErrInvalidEntityState, name, e.state)
	}
	e.beginEdit()
	e.actions = append(e.actions, EntityAction{Name: name, Parameters: slices.Clone(params)})
	return nil
}

// Actions returns the recorded custom method invocations in order.
func (e *Entity) Actions() []EntityAction {
	return slices.Clone(e.actions)
}

// OriginalValues returns the snapshot taken before the first modification,
// or a copy of the current values when the entity is unchanged.
func (e *Entity) OriginalValues() map[string]any {
	if e.original == nil {
		return cloneValues(e.current)
	}
	return cloneValues(e.original)
}

// ModifiedMembers returns the sorted names of members whose current value
// differs from the original.
func (e *Entity) ModifiedMembers() []string {
	if e.original == nil {
		return nil
	}
	var names []string
	for member, value := range e.current {
		if !valuesEqual(value, e.original[member]) {
			names = append(names, member)
		}
	}
	for member := range e.original {
		if _, ok := e.current[member]; !ok {
			names = append(names, member)
		}
	}
	sort.Strings(names)
	return names
}

// HasChanges reports whether the entity would take part in a change set.
func (e *Entity) HasChanges() bool {
	switch e.state {
	case EntityStateNew, EntityStateDeleted:
		return true
	case EntityStateModified:
		return len(e.actions) > 0 || len(e.ModifiedMembers()) > 0
	default:
		return false
	}
}

// ValidationErrors returns the entity's error collection.
func (e *Entity) ValidationErrors() *ValidationResultCollection {
	return e.errors
}

// Conflict returns the unresolved conflict from the last submit, if any.
func (e *Entity) Conflict() *EntityConflict {
	return e.conflict
}

// HasError reports whether the entity has a conflict or validation errors.
func (e *Entity) HasError() bool {
	return e.conflict != nil || e.errors.HasErrors()
}

func (e *Entity) String() string {
	if k, err := e.Key(); err == nil {
		return e.typ.Name + k.String()
	}
	return e.typ.Name + "{}"
}

func (e *Entity) beginEdit() {
	if e.state == EntityStateUnmodified {
		e.state = EntityStateModified
	}
	if e.state == EntityStateModified && e.original == nil {
		e.original = cloneValues(e.current)
	}
}

// snapshot returns a new detached instance holding the given values.
func (e *Entity) snapshot(values map[string]any) *Entity {
	s := e.typ.New()
	s.ApplyState(values)
	return s
}

// updateOriginalValues replaces the original snapshot, used when a conflict is
// resolved in favour of the store values.
func (e *Entity) updateOriginalValues(values map[string]any) {
	e.original = cloneValues(values)
}

func (e *Entity) acceptChanges() {
	switch e.state {
	case EntityStateDeleted:
		e.state = EntityStateDetached
	case EntityStateNew, EntityStateModified:
		e.state = EntityStateUnmodified
	}
	e.original = nil
	e.actions = nil
	e.conflict = nil
}

func (e *Entity) rejectChanges() {
	switch e.state {
	case EntityStateNew:
		e.state = EntityStateDetached
	case EntityStateDeleted:
		e.state = e.stateBeforeDelete
		if e.state == EntityStateModified {
			e.state = EntityStateUnmodified
		}
	case EntityStateModified:
		e.state = EntityStateUnmodified
	}
	if e.original != nil {
		e.current = e.original
		e.original = nil
	}
	e.actions = nil
	e.conflict = nil
	e.errors.Clear()
}

func (e *Entity) clearComplexErrors() {
	if !e.typ.HasComplexMembers() {
		return
	}
	for _, member := range e.typ.ComplexMembers {
		switch v := e.current[member].(type) {
		case *ComplexObject:
			if v != nil {
				v.errors.Clear()
			}
		case []*ComplexObject:
			for _, c := range v {
				if c != nil {
					c.errors.Clear()
				}
			}
		}
	}
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies containers and complex objects; entity references are shared.
func cloneValue(v any) any {
	switch val := v.(type) {
	case *Entity:
		return val
	case []*Entity:
		return slices.Clone(val)
	case *ComplexObject:
		if val == nil {
			return val
		}
		return val.clone()
	case []*ComplexObject:
		out := make([]*ComplexObject, len(val))
		for i, c := range val {
			if c != nil {
				out[i] = c.clone()
			}
		}
		return out
	case map[string]any:
		return cloneValues(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// valuesEqual compares member values. Entity references compare by identity.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case *Entity:
		bv, ok := b.(*Entity)
		return ok && av == bv
	case []*Entity:
		bv, ok := b.([]*Entity)
		return ok && slices.Equal(av, bv)
	case *ComplexObject:
		bv, ok := b.(*ComplexObject)
		if !ok || (av == nil) != (bv == nil) {
			return false
		}
		return av == nil || maps.EqualFunc(av.values, bv.values, valuesEqual)
	case []*ComplexObject:
		bv, ok := b.([]*ComplexObject)
		return ok && slices.EqualFunc(av, bv, func(x, y *ComplexObject) bool { return valuesEqual(x, y) })
	default:
		return reflect.DeepEqual(a, b)
	}
}
