package ria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictedCustomer(t *testing.T) (*Entity, *EntityConflict) {
	t.Helper()
	c := NewEntityContainer()
	current := newCustomer(1, "Ada")
	require.NoError(t, c.Attach(current))
	require.NoError(t, current.Set("name", "Ada L."))

	store := current.snapshot(map[string]any{"id": 1, "name": "Ada Lovelace", "version": 4})
	conflict := NewEntityConflict(current, store, []string{"name"}, false)
	current.conflict = conflict
	return current, conflict
}

func TestEntityConflict_Accessors(t *testing.T) {
	current, conflict := conflictedCustomer(t)

	assert.Same(t, current, conflict.CurrentEntity())
	assert.Equal(t, "Ada Lovelace", conflict.StoreEntity().Get("name"))
	assert.False(t, conflict.IsDeleted())
	assert.False(t, conflict.IsResolved())

	names, err := conflict.PropertyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, names)

	original := conflict.OriginalEntity()
	assert.Equal(t, "Ada", original.Get("name"))
	assert.Same(t, original, conflict.OriginalEntity())
	assert.True(t, current.HasError())
}

func TestEntityConflict_Resolve(t *testing.T) {
	current, conflict := conflictedCustomer(t)

	require.NoError(t, conflict.Resolve())
	assert.True(t, conflict.IsResolved())
	assert.Nil(t, current.Conflict())
	assert.Equal(t, 4, current.Get("version"), "version is synced from the store")
	assert.Equal(t, "Ada L.", current.Get("name"), "client changes are kept")
	assert.Equal(t, "Ada Lovelace", current.OriginalValues()["name"])
	assert.Equal(t, []string{"name"}, current.ModifiedMembers())

	// Resolving again changes nothing.
	before := current.Values()
	require.NoError(t, conflict.Resolve())
	assert.Equal(t, before, current.Values())
	assert.Nil(t, current.Conflict())
}

func TestEntityConflict_Deleted(t *testing.T) {
	current := newCustomer(1, "Ada")
	conflict := NewEntityConflict(current, nil, nil, true)
	current.conflict = conflict

	_, err := conflict.PropertyNames()
	assert.ErrorIs(t, err, ErrConflictDeleted)
	assert.Nil(t, conflict.StoreEntity())

	err = conflict.Resolve()
	assert.ErrorIs(t, err, ErrConflictDeleted)
	assert.Same(t, conflict, current.Conflict())
}
