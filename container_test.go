package ria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Tracking
// =============================================================================

func TestEntityContainer_AddAttachRemove(t *testing.T) {
	c := NewEntityContainer()
	a := newCustomer(1, "Ada")
	require.NoError(t, c.Attach(a))
	assert.Equal(t, EntityStateUnmodified, a.State())

	got, ok := c.Get("Customer", MustEntityKey(1))
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.ErrorIs(t, c.Attach(a), ErrEntityAlreadyTracked)
	assert.ErrorIs(t, c.Attach(newCustomer(1, "dup")), ErrEntityAlreadyTracked)

	n := NewEntity(customerType(), map[string]any{"name": "no key yet"})
	require.NoError(t, c.Add(n))
	assert.Equal(t, EntityStateNew, n.State())
	assert.ErrorIs(t, c.Attach(NewEntity(customerType(), nil)), ErrInvalidKey)

	require.NoError(t, c.Remove(n))
	assert.Equal(t, EntityStateDetached, n.State(), "removing a new entity detaches it")
	assert.False(t, c.IsTracked(n))

	require.NoError(t, c.Remove(a))
	assert.Equal(t, EntityStateDeleted, a.State())
	assert.True(t, c.HasChanges())

	require.NoError(t, c.Add(a))
	assert.Equal(t, EntityStateUnmodified, a.State(), "adding a removed entity undoes the removal")
	assert.False(t, c.HasChanges())

	assert.ErrorIs(t, c.Remove(newCustomer(9, "x")), ErrEntityNotTracked)
	require.NoError(t, c.Detach(a))
	assert.Equal(t, EntityStateDetached, a.State())
	assert.Empty(t, c.All())
}

func TestEntityContainer_RemoveCascadesToComposition(t *testing.T) {
	c := NewEntityContainer()
	parent := newCustomer(1, "Ada")
	child := NewEntity(orderType(), map[string]any{"id": 10})
	parent.ApplyState(map[string]any{"orders": []*Entity{child}})
	require.NoError(t, c.Attach(parent))
	require.NoError(t, c.Attach(child))

	require.NoError(t, c.Remove(parent))
	assert.Equal(t, EntityStateDeleted, child.State())
}

func TestEntityContainer_ChangeSetIncludesCompositionParent(t *testing.T) {
	c := NewEntityContainer()
	child := NewEntity(orderType(), map[string]any{"id": 10, "total": 5})
	parent := newCustomer(1, "Ada")
	parent.ApplyState(map[string]any{"orders": []*Entity{child}})
	require.NoError(t, c.Attach(parent))
	require.NoError(t, c.Attach(child))

	require.NoError(t, child.Set("total", 6))

	cs, err := c.ChangeSet()
	require.NoError(t, err)
	assert.Equal(t, []*Entity{child, parent}, cs.ModifiedEntities())
	assert.Equal(t, EntityStateModified, parent.State())
}

func TestEntityContainer_RejectChanges(t *testing.T) {
	c := NewEntityContainer()
	edited := newCustomer(1, "Ada")
	removed := newCustomer(2, "Bob")
	added := newCustomer(3, "Cy")
	require.NoError(t, c.Attach(edited))
	require.NoError(t, c.Attach(removed))
	require.NoError(t, edited.Set("name", "changed"))
	require.NoError(t, edited.InvokeAction("Promote", "gold"))
	require.NoError(t, c.Remove(removed))
	require.NoError(t, c.Add(added))

	c.RejectChanges()

	assert.Equal(t, EntityStateUnmodified, edited.State())
	assert.Equal(t, "Ada", edited.Get("name"))
	assert.Empty(t, edited.Actions())
	assert.Equal(t, EntityStateUnmodified, removed.State())
	assert.Equal(t, EntityStateDetached, added.State())
	assert.False(t, c.IsTracked(added))
	assert.False(t, c.HasChanges())
}

// =============================================================================
// Loading
// =============================================================================

func TestEntityContainer_LoadEntities(t *testing.T) {
	tests := []struct {
		name     string
		behavior LoadBehavior
		wantName string
		wantCity string
		wantMod  bool
	}{
		{name: "merge keeps local edits", behavior: LoadMergeIntoCurrent, wantName: "local", wantCity: "London", wantMod: true},
		{name: "keep current", behavior: LoadKeepCurrent, wantName: "local", wantCity: "Paris", wantMod: true},
		{name: "refresh overwrites", behavior: LoadRefreshCurrent, wantName: "server", wantCity: "London", wantMod: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewEntityContainer()
			tracked := NewEntity(customerType(), map[string]any{"id": 1, "name": "orig", "city": "Paris"})
			require.NoError(t, c.Attach(tracked))
			require.NoError(t, tracked.Set("name", "local"))

			loaded := NewEntity(customerType(), map[string]any{"id": 1, "name": "server", "city": "London"})
			fresh := NewEntity(customerType(), map[string]any{"id": 2, "name": "new"})

			out, err := c.LoadEntities([]*Entity{loaded, fresh}, tt.behavior)
			require.NoError(t, err)
			require.Len(t, out, 2)
			assert.Same(t, tracked, out[0])
			assert.Same(t, fresh, out[1])
			assert.Equal(t, EntityStateUnmodified, fresh.State())

			assert.Equal(t, tt.wantName, tracked.Get("name"))
			assert.Equal(t, tt.wantCity, tracked.Get("city"))
			assert.Equal(t, tt.wantMod, tracked.HasChanges())
		})
	}
}

func TestEntityContainer_LoadEntities_RewiresAssociations(t *testing.T) {
	c := NewEntityContainer()
	tracked := newCustomer(1, "Ada")
	require.NoError(t, c.Attach(tracked))

	loadedCustomer := newCustomer(1, "Ada")
	order := NewEntity(orderType(), map[string]any{"id": 10, "customer": loadedCustomer})

	out, err := c.LoadEntities([]*Entity{order, loadedCustomer}, LoadMergeIntoCurrent)
	require.NoError(t, err)
	assert.Same(t, tracked, out[1])
	assert.Same(t, tracked, order.Get("customer"))
}

func TestEntityContainer_LoadEntities_RequiresKey(t *testing.T) {
	c := NewEntityContainer()
	_, err := c.LoadEntities([]*Entity{NewEntity(orderType(), nil)}, LoadMergeIntoCurrent)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// =============================================================================
// Submit results
// =============================================================================

func submitScenario(t *testing.T) (*EntityContainer, *EntityChangeSet, *Entity, *Entity) {
	t.Helper()
	c := NewEntityContainer()
	added := NewEntity(customerType(), map[string]any{"name": "New"})
	deleted := newCustomer(2, "Old")
	require.NoError(t, c.Attach(deleted))
	require.NoError(t, c.Add(added))
	require.NoError(t, c.Remove(deleted))

	cs, err := c.ChangeSet()
	require.NoError(t, err)
	return c, cs, added, deleted
}

func TestApplySubmitResults_Success(t *testing.T) {
	c, cs, added, deleted := submitScenario(t)
	entries := cs.GetChangeSetEntries()
	require.Len(t, entries, 2)

	serverAdded := added.snapshot(map[string]any{"id": 1, "name": "New", "version": 1})
	results := []*ChangeSetEntry{
		{ID: entries[0].ID, Operation: OperationInsert, Entity: serverAdded},
		{ID: entries[1].ID, Operation: OperationDelete},
	}
	op := NewSubmitOperation(cs, nil, nil, nil)

	status, ok := c.ApplySubmitResults(cs, results)
	require.True(t, ok)
	assert.Empty(t, status)
	require.NoError(t, op.Complete())

	assert.False(t, op.HasError())
	assert.Empty(t, op.EntitiesInError())
	assert.Equal(t, 1, added.Get("id"), "generated key is applied")
	assert.Equal(t, EntityStateUnmodified, added.State())
	assert.Equal(t, EntityStateDetached, deleted.State())
	assert.False(t, c.IsTracked(deleted))

	got, found := c.Get("Customer", MustEntityKey(1))
	require.True(t, found)
	assert.Same(t, added, got)
	assert.False(t, c.HasChanges())
}

func TestApplySubmitResults_Conflict(t *testing.T) {
	c, cs, _, deleted := submitScenario(t)
	entries := cs.GetChangeSetEntries()

	store := deleted.snapshot(map[string]any{"id": 2, "name": "Renamed", "version": 3})
	results := []*ChangeSetEntry{
		{ID: entries[1].ID, Operation: OperationDelete, ConflictMembers: []string{"Name"}, StoreEntity: store},
	}
	op := NewSubmitOperation(cs, nil, nil, nil)

	status, ok := c.ApplySubmitResults(cs, results)
	require.False(t, ok)
	require.NoError(t, op.CompleteWithStatus(status))

	assert.True(t, entries[1].HasConflict())
	conflict := deleted.Conflict()
	require.NotNil(t, conflict)
	assert.False(t, conflict.IsDeleted())
	names, err := conflict.PropertyNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Name"}, names)
	assert.Same(t, store, conflict.StoreEntity())

	var soe *SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Equal(t, StatusConflicts, soe.Status)
	assert.Equal(t, []*Entity{deleted}, op.EntitiesInError())
	assert.Equal(t, EntityStateDeleted, deleted.State(), "changes are kept for resubmission")
}

func TestApplySubmitResults_ValidationErrors(t *testing.T) {
	c, cs, added, _ := submitScenario(t)
	entries := cs.GetChangeSetEntries()

	results := []*ChangeSetEntry{
		{ID: entries[0].ID, Operation: OperationInsert, ValidationErrors: []ValidationResultInfo{
			{Message: "name taken", SourceMemberNames: []string{"name"}},
		}},
	}
	status, ok := c.ApplySubmitResults(cs, results)
	require.False(t, ok)
	assert.Equal(t, StatusValidationFailed, status)
	assert.Equal(t, []ValidationResult{NewValidationResult("name taken", "name")}, added.ValidationErrors().All())
	assert.Equal(t, EntityStateNew, added.State())
}

func TestApplySubmitResults_ResubmitClearsStaleErrors(t *testing.T) {
	c := NewEntityContainer()
	a := newCustomer(1, "A")
	b := newCustomer(2, "B")
	require.NoError(t, c.Attach(a))
	require.NoError(t, c.Attach(b))
	require.NoError(t, a.Set("name", "bad a"))
	require.NoError(t, b.Set("name", "B2"))

	cs, err := c.ChangeSet()
	require.NoError(t, err)
	entries := cs.GetChangeSetEntries()
	require.Len(t, entries, 2)
	store := b.snapshot(map[string]any{"id": 2, "name": "B1", "version": 2})
	status, ok := c.ApplySubmitResults(cs, []*ChangeSetEntry{
		{ID: entries[0].ID, Operation: OperationUpdate, ValidationErrors: []ValidationResultInfo{
			{Message: "bad a", SourceMemberNames: []string{"name"}},
		}},
		{ID: entries[1].ID, Operation: OperationUpdate, ConflictMembers: []string{"name"}, StoreEntity: store},
	})
	require.False(t, ok)
	assert.Equal(t, StatusConflicts, status)
	require.True(t, a.ValidationErrors().HasErrors())
	require.NotNil(t, b.Conflict())

	// A is fixed. B's conflict is resolved, then B alone fails validation.
	require.NoError(t, a.Set("name", "good a"))
	require.NoError(t, b.Conflict().Resolve())
	cs, err = c.ChangeSet()
	require.NoError(t, err)
	entries = cs.GetChangeSetEntries()
	require.Len(t, entries, 2)
	var bEntry *ChangeSetEntry
	for _, entry := range entries {
		if entry.ClientEntity() == b {
			bEntry = entry
		}
	}
	require.NotNil(t, bEntry)

	op := NewSubmitOperation(cs, nil, nil, nil)
	status, ok = c.ApplySubmitResults(cs, []*ChangeSetEntry{
		{ID: bEntry.ID, Operation: OperationUpdate, ValidationErrors: []ValidationResultInfo{
			{Message: "bad b", SourceMemberNames: []string{"name"}},
		}},
	})
	require.False(t, ok)
	require.NoError(t, op.CompleteWithStatus(status))

	assert.False(t, a.ValidationErrors().HasErrors())
	assert.Nil(t, a.Conflict())
	assert.Nil(t, b.Conflict())
	assert.Equal(t, []ValidationResult{NewValidationResult("bad b", "name")}, b.ValidationErrors().All())
	assert.Equal(t, []*Entity{b}, op.EntitiesInError())

	var soe *SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Equal(t, []*Entity{b}, soe.EntitiesInError())
}
