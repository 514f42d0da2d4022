package ria

import (
	"slices"
)

// buildChangeSetEntries assigns ids in added, modified, removed order and
// records each entry's operation, original state, actions and associations.
func buildChangeSetEntries(cs *EntityChangeSet) []*ChangeSetEntry {
	entries := make([]*ChangeSetEntry, 0, len(cs.added)+len(cs.modified)+len(cs.removed))
	ids := make(map[*Entity]int, cap(entries))

	appendEntries := func(group []*Entity, op EntityOperationType) {
		for _, e := range group {
			entry := NewChangeSetEntry(e, len(entries), op)
			entry.SetClientEntity(e)
			ids[e] = entry.ID
			entries = append(entries, entry)
		}
	}
	appendEntries(cs.added, OperationInsert)
	appendEntries(cs.modified, OperationUpdate)
	appendEntries(cs.removed, OperationDelete)

	for _, entry := range entries {
		e := entry.Entity
		entry.EntityActions = e.Actions()

		switch entry.Operation {
		case OperationUpdate:
			entry.HasMemberChanges = len(e.ModifiedMembers()) > 0
			entry.OriginalEntity = e.snapshot(e.OriginalValues())
		case OperationDelete:
			entry.OriginalEntity = e.snapshot(e.OriginalValues())
		}

		for _, assoc := range e.typ.Associations {
			current := associatedIDs(e.current[assoc.Name], ids)
			if len(current) > 0 {
				if entry.Associations == nil {
					entry.Associations = make(map[string][]int)
				}
				entry.Associations[assoc.Name] = current
			}
			if entry.Operation != OperationUpdate || e.original == nil {
				continue
			}
			original := associatedIDs(e.original[assoc.Name], ids)
			if len(original) > 0 && !slices.Equal(original, current) {
				if entry.OriginalAssociations == nil {
					entry.OriginalAssociations = make(map[string][]int)
				}
				entry.OriginalAssociations[assoc.Name] = original
			}
		}
	}
	return entries
}

// associatedIDs returns the entry ids of the related entities that take part
// in the change set.
func associatedIDs(value any, ids map[*Entity]int) []int {
	var related []*Entity
	switch v := value.(type) {
	case *Entity:
		if v != nil {
			related = []*Entity{v}
		}
	case []*Entity:
		related = v
	}
	var out []int
	for _, r := range related {
		if id, ok := ids[r]; ok {
			out = append(out, id)
		}
	}
	return out
}
