package ria

import (
	"context"
)

// DomainClient is the transport to a domain service.
type DomainClient interface {
	// Query executes a named query.
	Query(ctx context.Context, query *EntityQuery) (*QueryCompletedResult, error)
	// Submit sends the change set's entries and returns the processed entries.
	Submit(ctx context.Context, changeSet *EntityChangeSet) (*SubmitCompletedResult, error)
	// Invoke calls a named domain operation.
	Invoke(ctx context.Context, args *InvokeArgs) (*InvokeCompletedResult, error)
}

// QueryCompletedResult is what a transport returns for a query.
type QueryCompletedResult struct {
	Entities         []*Entity
	IncludedEntities []*Entity
	// TotalCount is -1 when the server did not compute it.
	TotalCount       int
	ValidationErrors []ValidationResult
}

// SubmitCompletedResult carries the processed entries of a submit, matched to
// the change set's entries by ID.
type SubmitCompletedResult struct {
	ChangeSet *EntityChangeSet
	Results   []*ChangeSetEntry
}

// InvokeCompletedResult is what a transport returns for an invoke. ReturnValue
// may be a json.RawMessage left for the typed operation to decode.
type InvokeCompletedResult struct {
	ReturnValue      any
	ValidationErrors []ValidationResult
}
