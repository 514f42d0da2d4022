package ria

import (
	"fmt"
)

// ContractNamespace is the data contract namespace shared with domain services.
const ContractNamespace = "DomainServices"

// QueryResultContractName returns the contract name of a query result over
// entities of typeName.
func QueryResultContractName(typeName string) string {
	return fmt.Sprintf("QueryResultOf%s", typeName)
}

// EntityOperationType is the operation a change-set entry asks the server to
// perform. The numeric values are part of the wire contract; 1 is reserved.
type EntityOperationType int

const (
	OperationNone   EntityOperationType = 0
	OperationInsert EntityOperationType = 2
	OperationUpdate EntityOperationType = 3
	OperationDelete EntityOperationType = 4
)

func (o EntityOperationType) String() string {
	switch o {
	case OperationNone:
		return "None"
	case OperationInsert:
		return "Insert"
	case OperationUpdate:
		return "Update"
	case OperationDelete:
		return "Delete"
	default:
		return fmt.Sprintf("EntityOperationType(%d)", int(o))
	}
}

// Valid reports whether o is one of the defined operation values.
func (o EntityOperationType) Valid() bool {
	switch o {
	case OperationNone, OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeSetEntry is the flat record of one entity's pending operation. It is
// sent to the server on submit and returned with results, conflicts and
// validation errors filled in.
type ChangeSetEntry struct {
	// ID correlates the entry with its result. It is unique within one submit.
	ID int
	// Entity is the entity state after the operation.
	Entity *Entity
	// OriginalEntity is the state before the operation, for updates and deletes.
	OriginalEntity *Entity
	// StoreEntity is the server's current state when a conflict was detected.
	StoreEntity      *Entity
	Operation        EntityOperationType
	HasMemberChanges bool
	EntityActions    []EntityAction
	ValidationErrors []ValidationResultInfo
	ConflictMembers  []string
	IsDeleteConflict bool
	// Associations maps association members to the ids of the related entries.
	Associations         map[string][]int
	OriginalAssociations map[string][]int

	clientEntity *Entity
}

// NewChangeSetEntry creates an entry for entity.
func NewChangeSetEntry(entity *Entity, id int, operation EntityOperationType) *ChangeSetEntry {
	return &ChangeSetEntry{
		ID:        id,
		Entity:    entity,
		Operation: operation,
	}
}

// ClientEntity returns the client instance the entry was built from. It
// defaults to Entity when unset.
func (c *ChangeSetEntry) ClientEntity() *Entity {
	if c.clientEntity == nil {
		return c.Entity
	}
	return c.clientEntity
}

// SetClientEntity records the client instance the entry was built from.
func (c *ChangeSetEntry) SetClientEntity(e *Entity) {
	c.clientEntity = e
}

// HasConflict reports a delete conflict or conflicting members.
func (c *ChangeSetEntry) HasConflict() bool {
	return c.IsDeleteConflict || len(c.ConflictMembers) > 0
}

// HasError reports a conflict or validation errors.
func (c *ChangeSetEntry) HasError() bool {
	return c.HasConflict() || len(c.ValidationErrors) > 0
}

// ValidationResults converts the entry's validation infos.
func (c *ChangeSetEntry) ValidationResults() []ValidationResult {
	out := make([]ValidationResult, 0, len(c.ValidationErrors))
	for _, info := range c.ValidationErrors {
		out = append(out, info.Result())
	}
	return out
}

func (c *ChangeSetEntry) String() string {
	return fmt.Sprintf("%d:%s %s", c.ID, c.Operation, c.Entity)
}
