package ria

import (
	"fmt"
	"slices"
)

type entitySet struct {
	typ      *EntityType
	entities []*Entity
}

// EntityContainer tracks entities per type and derives change sets from their
// states.
type EntityContainer struct {
	sets    map[string]*entitySet
	names   []string
	tracked map[*Entity]struct{}
}

// NewEntityContainer creates an empty container.
func NewEntityContainer() *EntityContainer {
	return &EntityContainer{
		sets:    make(map[string]*entitySet),
		tracked: make(map[*Entity]struct{}),
	}
}

// Add tracks a detached entity as New. Adding a removed entity undoes the
// removal.
func (c *EntityContainer) Add(e *Entity) error {
	if c.IsTracked(e) {
		if e.state == EntityStateDeleted {
			e.state = e.stateBeforeDelete
			return nil
		}
		return fmt.Errorf("%w: %s", ErrEntityAlreadyTracked, e)
	}
	if err := c.checkKeyFree(e); err != nil {
		return err
	}
	c.track(e)
	e.state = EntityStateNew
	return nil
}

// Attach tracks a detached entity as Unmodified. The entity must have a
// valid key.
func (c *EntityContainer) Attach(e *Entity) error {
	if c.IsTracked(e) {
		return fmt.Errorf("%w: %s", ErrEntityAlreadyTracked, e)
	}
	if _, err := e.Key(); err != nil {
		return err
	}
	if err := c.checkKeyFree(e); err != nil {
		return err
	}
	c.track(e)
	e.state = EntityStateUnmodified
	return nil
}

// Remove marks e Deleted. A New entity is detached instead, and tracked
// composition children are removed with their parent.
func (c *EntityContainer) Remove(e *Entity) error {
	if !c.IsTracked(e) {
		return fmt.Errorf("%w: %s", ErrEntityNotTracked, e)
	}
	switch e.state {
	case EntityStateDeleted:
		return nil
	case EntityStateNew:
		c.untrack(e)
		e.rejectChanges()
	default:
		e.stateBeforeDelete = e.state
		e.state = EntityStateDeleted
	}
	for _, child := range compositionChildren(e) {
		if c.IsTracked(child) && child.state != EntityStateDeleted {
			if err := c.Remove(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Detach stops tracking e without recording a change.
func (c *EntityContainer) Detach(e *Entity) error {
	if !c.IsTracked(e) {
		return fmt.Errorf("%w: %s", ErrEntityNotTracked, e)
	}
	c.untrack(e)
	e.state = EntityStateDetached
	return nil
}

// IsTracked reports whether the container tracks e.
func (c *EntityContainer) IsTracked(e *Entity) bool {
	_, ok := c.tracked[e]
	return ok
}

// Get returns the tracked entity of the named type with key.
func (c *EntityContainer) Get(typeName string, key EntityKey) (*Entity, bool) {
	set, ok := c.sets[typeName]
	if !ok {
		return nil, false
	}
	for _, e := range set.entities {
		if k, err := e.Key(); err == nil && k.Equal(key) {
			return e, true
		}
	}
	return nil, false
}

// Entities returns the tracked entities of the named type in tracking order.
func (c *EntityContainer) Entities(typeName string) []*Entity {
	if set, ok := c.sets[typeName]; ok {
		return slices.Clone(set.entities)
	}
	return nil
}

// All returns every tracked entity, grouped by type in first-tracked order.
func (c *EntityContainer) All() []*Entity {
	var out []*Entity
	for _, name := range c.names {
		out = append(out, c.sets[name].entities...)
	}
	return out
}

// HasChanges reports whether any tracked entity has pending changes.
func (c *EntityContainer) HasChanges() bool {
	for e := range c.tracked {
		if e.HasChanges() {
			return true
		}
	}
	return false
}

// ChangeSet builds a change set from the tracked entities. A parent whose
// composition child changed is marked Modified and included so the server
// receives the whole composition.
func (c *EntityContainer) ChangeSet() (*EntityChangeSet, error) {
	var added, modified, removed []*Entity
	grouped := make(map[*Entity]struct{})
	for _, e := range c.All() {
		if !e.HasChanges() {
			continue
		}
		switch e.state {
		case EntityStateNew:
			added = append(added, e)
		case EntityStateModified:
			modified = append(modified, e)
		case EntityStateDeleted:
			removed = append(removed, e)
		}
		grouped[e] = struct{}{}
	}

	pending := slices.Concat(added, modified, removed)
	for len(pending) > 0 {
		child := pending[0]
		pending = pending[1:]
		for _, parent := range c.compositionParents(child) {
			if _, ok := grouped[parent]; ok {
				continue
			}
			if parent.state != EntityStateUnmodified && parent.state != EntityStateModified {
				continue
			}
			parent.beginEdit()
			modified = append(modified, parent)
			grouped[parent] = struct{}{}
			pending = append(pending, parent)
		}
	}
	return NewEntityChangeSet(added, modified, removed)
}

// AcceptChanges commits every pending change. Deleted entities are dropped.
func (c *EntityContainer) AcceptChanges() {
	for _, e := range c.All() {
		if e.state == EntityStateDeleted {
			c.untrack(e)
		}
		e.acceptChanges()
	}
}

// RejectChanges restores original values and undoes adds and removes.
func (c *EntityContainer) RejectChanges() {
	for _, e := range c.All() {
		if e.state == EntityStateNew {
			c.untrack(e)
		}
		e.rejectChanges()
	}
}

// LoadEntities merges query results into the container and returns the
// tracked instance for each loaded entity. Associations between loaded
// entities are rewired to the tracked instances.
func (c *EntityContainer) LoadEntities(entities []*Entity, behavior LoadBehavior) ([]*Entity, error) {
	resolved := make(map[*Entity]*Entity, len(entities))
	out := make([]*Entity, 0, len(entities))
	for _, in := range entities {
		if r, ok := resolved[in]; ok {
			out = append(out, r)
			continue
		}
		key, err := in.Key()
		if err != nil {
			return out, fmt.Errorf("load %s: %w", in.typ.Name, err)
		}
		existing, ok := c.Get(in.typ.Name, key)
		if !ok {
			existing = in
			c.track(in)
			in.state = EntityStateUnmodified
		}
		resolved[in] = existing
		out = append(out, existing)
	}

	for in, existing := range resolved {
		values := remapReferences(in.current, resolved)
		if existing == in {
			in.current = values
			continue
		}
		mergeLoaded(existing, values, behavior)
	}
	return out, nil
}

// ApplySubmitResults merges the entries returned for changeSet. Errors and
// conflicts left by an earlier submit are cleared first. When any entry
// carries a conflict or validation errors, they are attached to the client
// entities and the failure status is returned with ok false. Otherwise
// server-computed values are applied and the changes accepted.
func (c *EntityContainer) ApplySubmitResults(changeSet *EntityChangeSet, results []*ChangeSetEntry) (status OperationErrorStatus, ok bool) {
	byID := make(map[int]*ChangeSetEntry)
	for _, entry := range changeSet.GetChangeSetEntries() {
		byID[entry.ID] = entry
		e := entry.ClientEntity()
		e.conflict = nil
		e.errors.Clear()
	}

	var hasConflicts, hasValidationErrors bool
	for _, result := range results {
		entry, found := byID[result.ID]
		if !found {
			continue
		}
		e := entry.ClientEntity()
		if len(result.ValidationErrors) > 0 {
			entry.ValidationErrors = slices.Clone(result.ValidationErrors)
			e.errors.ReplaceErrors(result.ValidationResults())
			hasValidationErrors = true
		}
		if result.HasConflict() {
			entry.ConflictMembers = slices.Clone(result.ConflictMembers)
			entry.IsDeleteConflict = result.IsDeleteConflict
			entry.StoreEntity = result.StoreEntity
			store := result.StoreEntity
			if result.IsDeleteConflict {
				store = nil
			}
			e.conflict = NewEntityConflict(e, store, result.ConflictMembers, result.IsDeleteConflict)
			hasConflicts = true
		}
	}
	switch {
	case hasConflicts:
		return StatusConflicts, false
	case hasValidationErrors:
		return StatusValidationFailed, false
	}

	for _, result := range results {
		entry, found := byID[result.ID]
		if !found || result.Entity == nil || entry.Operation == OperationDelete {
			continue
		}
		e := entry.ClientEntity()
		if result.Entity != e {
			e.ApplyState(scalarMembers(e.typ, result.Entity.current))
		}
	}
	for _, e := range changeSet.Entities() {
		if e.state == EntityStateDeleted {
			c.untrack(e)
		}
		e.errors.Clear()
		e.acceptChanges()
	}
	return "", true
}

func (c *EntityContainer) track(e *Entity) {
	set, ok := c.sets[e.typ.Name]
	if !ok {
		set = &entitySet{typ: e.typ}
		c.sets[e.typ.Name] = set
		c.names = append(c.names, e.typ.Name)
	}
	set.entities = append(set.entities, e)
	c.tracked[e] = struct{}{}
}

func (c *EntityContainer) untrack(e *Entity) {
	if set, ok := c.sets[e.typ.Name]; ok {
		set.entities = slices.DeleteFunc(set.entities, func(x *Entity) bool { return x == e })
	}
	delete(c.tracked, e)
}

func (c *EntityContainer) checkKeyFree(e *Entity) error {
	key, err := e.Key()
	if err != nil {
		// New entities may get their key from the server.
		return nil
	}
	if other, ok := c.Get(e.typ.Name, key); ok && other != e {
		return fmt.Errorf("%w: %s", ErrEntityAlreadyTracked, e)
	}
	return nil
}

func (c *EntityContainer) compositionParents(child *Entity) []*Entity {
	var parents []*Entity
	for _, p := range c.All() {
		if slices.Contains(compositionChildren(p), child) {
			parents = append(parents, p)
		}
	}
	return parents
}

func compositionChildren(e *Entity) []*Entity {
	var children []*Entity
	for _, assoc := range e.typ.Associations {
		if !assoc.IsComposition {
			continue
		}
		switch v := e.current[assoc.Name].(type) {
		case *Entity:
			if v != nil {
				children = append(children, v)
			}
		case []*Entity:
			children = append(children, v...)
		}
	}
	return children
}

func mergeLoaded(existing *Entity, values map[string]any, behavior LoadBehavior) {
	switch behavior {
	case LoadKeepCurrent:
		return
	case LoadRefreshCurrent:
		if existing.state == EntityStateNew {
			return
		}
		existing.ApplyState(values)
		existing.original = nil
		existing.actions = nil
		existing.state = EntityStateUnmodified
	default:
		modified := make(map[string]struct{})
		for _, m := range existing.ModifiedMembers() {
			modified[m] = struct{}{}
		}
		for member, v := range values {
			if existing.original != nil {
				existing.original[member] = cloneValue(v)
			}
			if _, dirty := modified[member]; !dirty {
				existing.current[member] = v
			}
		}
	}
}

func remapReferences(values map[string]any, resolved map[*Entity]*Entity) map[string]any {
	out := make(map[string]any, len(values))
	for member, v := range values {
		switch val := v.(type) {
		case *Entity:
			if r, ok := resolved[val]; ok {
				out[member] = r
				continue
			}
		case []*Entity:
			mapped := make([]*Entity, len(val))
			for i, ref := range val {
				if r, ok := resolved[ref]; ok {
					mapped[i] = r
				} else {
					mapped[i] = ref
				}
			}
			out[member] = mapped
			continue
		}
		out[member] = v
	}
	return out
}

// scalarMembers drops association members from server values; the client
// keeps its own references.
func scalarMembers(t *EntityType, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for member, v := range values {
		if _, isAssoc := t.Association(member); isAssoc {
			continue
		}
		out[member] = v
	}
	return out
}
