package ria

import (
	"context"
	"fmt"
	"slices"
)

// EntityChangeSet groups the added, modified and removed entities of one
// submit attempt. The groups are disjoint and fixed at construction.
type EntityChangeSet struct {
	added    []*Entity
	modified []*Entity
	removed  []*Entity

	entries []*ChangeSetEntry
}

// NewEntityChangeSet creates a change set. An entity may appear in only one group.
func NewEntityChangeSet(added, modified, removed []*Entity) (*EntityChangeSet, error) {
	seen := make(map[*Entity]struct{}, len(added)+len(modified)+len(removed))
	for _, group := range [][]*Entity{added, modified, removed} {
		for _, e := range group {
			if _, dup := seen[e]; dup {
				return nil, fmt.Errorf("%w: %s", ErrOverlappingChangeSet, e)
			}
			seen[e] = struct{}{}
		}
	}
	return &EntityChangeSet{
		added:    slices.Clone(added),
		modified: slices.Clone(modified),
		removed:  slices.Clone(removed),
	}, nil
}

// AddedEntities returns the entities to insert.
func (cs *EntityChangeSet) AddedEntities() []*Entity {
	return slices.Clone(cs.added)
}

// ModifiedEntities returns the entities to update.
func (cs *EntityChangeSet) ModifiedEntities() []*Entity {
	return slices.Clone(cs.modified)
}

// RemovedEntities returns the entities to delete.
func (cs *EntityChangeSet) RemovedEntities() []*Entity {
	return slices.Clone(cs.removed)
}

// IsEmpty reports whether all three groups are empty.
func (cs *EntityChangeSet) IsEmpty() bool {
	return len(cs.added) == 0 && len(cs.modified) == 0 && len(cs.removed) == 0
}

// Entities returns every entity in added, modified, removed order.
func (cs *EntityChangeSet) Entities() []*Entity {
	all := make([]*Entity, 0, len(cs.added)+len(cs.modified)+len(cs.removed))
	all = append(all, cs.added...)
	all = append(all, cs.modified...)
	return append(all, cs.removed...)
}

// GetChangeSetEntries flattens the change set into entries. The result is
// built on first call and the same slice is returned afterwards.
func (cs *EntityChangeSet) GetChangeSetEntries() []*ChangeSetEntry {
	if cs.entries == nil {
		cs.entries = buildChangeSetEntries(cs)
	}
	return cs.entries
}

// Validate runs the validator over every entity in the change set and
// replaces each entity's validation errors with the outcome. All entities are
// visited even after a failure. It returns true when no entity is invalid.
func (cs *EntityChangeSet) Validate(ctx context.Context, validator Validator) bool {
	valid := true
	for _, e := range cs.Entities() {
		requiresValidation := e.typ.RequiresValidation
		if !requiresValidation && len(e.actions) == 0 {
			continue
		}
		// The server deletes these regardless of their values.
		if e.state == EntityStateDeleted {
			continue
		}

		var results []ValidationResult
		if requiresValidation {
			results = append(results, validator.ValidateEntity(ctx, e)...)
		}
		for _, action := range e.actions {
			results = append(results, validator.ValidateAction(ctx, e, action)...)
		}

		if len(results) > 0 {
			e.errors.ReplaceErrors(dedupValidationResults(results))
			valid = false
		} else {
			e.errors.Clear()
		}
	}
	return valid
}

// EntitiesInError returns the entities that have a conflict or validation errors.
func (cs *EntityChangeSet) EntitiesInError() []*Entity {
	return entitiesInError(cs)
}

func (cs *EntityChangeSet) String() string {
	return fmt.Sprintf("{Added = %d, Modified = %d, Removed = %d}", len(cs.added), len(cs.modified), len(cs.removed))
}

func entitiesInError(cs *EntityChangeSet) []*Entity {
	if cs == nil {
		return nil
	}
	var out []*Entity
	for _, e := range cs.Entities() {
		if e.HasError() {
			out = append(out, e)
		}
	}
	return out
}
