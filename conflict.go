package ria

import (
	"fmt"
	"slices"
)

// EntityConflict is a concurrency conflict detected by the server for one
// entity during submit. It stays attached to the entity until resolved.
type EntityConflict struct {
	current       *Entity
	store         *Entity
	original      *Entity
	propertyNames []string
	isDeleted     bool
}

// NewEntityConflict creates a conflict for current. store is nil when the
// entity no longer exists on the server.
func NewEntityConflict(current, store *Entity, propertyNames []string, isDeleted bool) *EntityConflict {
	return &EntityConflict{
		current:       current,
		store:         store,
		propertyNames: slices.Clone(propertyNames),
		isDeleted:     isDeleted,
	}
}

// CurrentEntity returns the client entity in conflict.
func (c *EntityConflict) CurrentEntity() *Entity {
	return c.current
}

// StoreEntity returns the server's current state, or nil when deleted.
func (c *EntityConflict) StoreEntity() *Entity {
	return c.store
}

// OriginalEntity returns a detached instance holding the original values the
// client based its changes on. It is built on first access.
func (c *EntityConflict) OriginalEntity() *Entity {
	if c.original == nil {
		c.original = c.current.snapshot(c.current.OriginalValues())
	}
	return c.original
}

// IsDeleted reports whether the entity was deleted on the server.
func (c *EntityConflict) IsDeleted() bool {
	return c.isDeleted
}

// PropertyNames returns the members in conflict. It fails for delete conflicts,
// which have no store values to compare against.
func (c *EntityConflict) PropertyNames() ([]string, error) {
	if c.isDeleted {
		return nil, ErrConflictDeleted
	}
	return slices.Clone(c.propertyNames), nil
}

// Resolve accepts the store values as the new original values so the client's
// changes can be resubmitted. The version member is synced from the store.
// Resolving an already resolved conflict does nothing.
func (c *EntityConflict) Resolve() error {
	if c.current.conflict != c {
		return nil
	}
	if c.isDeleted {
		return fmt.Errorf("cannot resolve conflict for %s: %w", c.current, ErrConflictDeleted)
	}

	storeValues := c.store.Values()
	c.current.updateOriginalValues(storeValues)
	if vm := c.current.typ.VersionMember; vm != "" {
		c.current.ApplyState(map[string]any{vm: storeValues[vm]})
	}
	c.current.conflict = nil
	return nil
}

// IsResolved reports whether the conflict is no longer attached to its entity.
func (c *EntityConflict) IsResolved() bool {
	return c.current.conflict != c
}
