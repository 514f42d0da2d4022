package ria

import (
	"fmt"
	"slices"
)

// LoadBehavior controls how loaded entities merge with the ones a container
// already tracks.
type LoadBehavior int

const (
	// LoadMergeIntoCurrent updates only members the client has not modified.
	LoadMergeIntoCurrent LoadBehavior = iota
	// LoadKeepCurrent leaves tracked entities untouched.
	LoadKeepCurrent
	// LoadRefreshCurrent overwrites tracked entities and discards their changes.
	LoadRefreshCurrent
)

func (b LoadBehavior) String() string {
	switch b {
	case LoadMergeIntoCurrent:
		return "MergeIntoCurrent"
	case LoadKeepCurrent:
		return "KeepCurrent"
	case LoadRefreshCurrent:
		return "RefreshCurrent"
	default:
		return fmt.Sprintf("LoadBehavior(%d)", int(b))
	}
}

// EntityQuery names a server-side query over one entity type.
type EntityQuery struct {
	EntityType        string         `json:"entityType"`
	QueryName         string         `json:"queryName"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Skip              int            `json:"skip,omitempty"`
	Take              int            `json:"take,omitempty"`
	IncludeTotalCount bool           `json:"includeTotalCount,omitempty"`
}

func (q *EntityQuery) String() string {
	return q.EntityType + "/" + q.QueryName
}

// LoadResult is the outcome of a completed load.
type LoadResult struct {
	Query        *EntityQuery
	LoadBehavior LoadBehavior
	// Entities are the top-level results of the query.
	Entities []*Entity
	// AllEntities also holds the associated entities returned with them.
	AllEntities      []*Entity
	TotalEntityCount int
}

// LoadOperation tracks one query.
type LoadOperation struct {
	operation
	query            *EntityQuery
	behavior         LoadBehavior
	result           *LoadResult
	validationErrors []ValidationResult
	callback         func(*LoadOperation)
}

// NewLoadOperation creates a pending load operation.
func NewLoadOperation(query *EntityQuery, behavior LoadBehavior, callback func(*LoadOperation), userState any, cancel func()) *LoadOperation {
	op := &LoadOperation{query: query, behavior: behavior, callback: callback}
	op.init(userState, cancel, func() {
		if op.callback != nil {
			op.callback(op)
		}
	})
	return op
}

// Query returns the executed query.
func (op *LoadOperation) Query() *EntityQuery {
	return op.query
}

// LoadBehavior returns the merge behavior the load was started with.
func (op *LoadOperation) LoadBehavior() LoadBehavior {
	return op.behavior
}

// Result returns the load result, or nil until the operation completes
// successfully.
func (op *LoadOperation) Result() *LoadResult {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// Entities returns the top-level loaded entities.
func (op *LoadOperation) Entities() []*Entity {
	if r := op.Result(); r != nil {
		return slices.Clone(r.Entities)
	}
	return nil
}

// AllEntities returns the loaded entities including associated ones.
func (op *LoadOperation) AllEntities() []*Entity {
	if r := op.Result(); r != nil {
		return slices.Clone(r.AllEntities)
	}
	return nil
}

// TotalEntityCount returns the server's total count, or -1 when unknown.
func (op *LoadOperation) TotalEntityCount() int {
	if r := op.Result(); r != nil {
		return r.TotalEntityCount
	}
	return -1
}

// ValidationErrors returns the validation results reported by the server.
func (op *LoadOperation) ValidationErrors() []ValidationResult {
	op.mu.Lock()
	defer op.mu.Unlock()
	return copyValidationResults(op.validationErrors)
}

// Complete finishes the operation with result.
func (op *LoadOperation) Complete(result *LoadResult) error {
	return op.finish(OperationCompleted, nil, func() { op.result = result })
}

// CompleteWithValidationErrors finishes the operation with a ValidationFailed
// error carrying results.
func (op *LoadOperation) CompleteWithValidationErrors(results []ValidationResult) error {
	msg := fmt.Sprintf("load operation failed for query '%s' due to validation errors", op.query)
	err := NewDomainOperationError(msg, StatusValidationFailed, results)
	return op.finish(OperationCompleted, err, func() {
		op.validationErrors = copyValidationResults(results)
	})
}

// CompleteWithError finishes the operation with err.
func (op *LoadOperation) CompleteWithError(err error) error {
	if err == nil {
		return op.Complete(&LoadResult{Query: op.query, LoadBehavior: op.behavior, TotalEntityCount: -1})
	}
	translated := translateOperationError(err, func(detail string) string {
		return fmt.Sprintf("load operation failed for query '%s': %s", op.query, detail)
	})
	return op.finish(OperationCompleted, translated, nil)
}
