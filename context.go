package ria

import (
	"context"
)

// DomainContext is the client-side session over one domain service. It owns
// an EntityContainer and drives load, submit and invoke operations through a
// DomainClient. None of its operation methods return errors directly; failures
// surface through the returned operation.
type DomainContext interface {
	// Container returns the entities tracked by this context.
	Container() *EntityContainer

	// Load runs query and merges the results into the container.
	Load(ctx context.Context, query *EntityQuery, behavior LoadBehavior, callback func(*LoadOperation), userState any) *LoadOperation

	// SubmitChanges submits the container's pending changes.
	SubmitChanges(ctx context.Context, callback func(*SubmitOperation), userState any) *SubmitOperation

	// Invoke calls a named domain operation. Use the package-level Invoke for
	// a typed return value.
	Invoke(ctx context.Context, name string, parameters map[string]any, callback func(*InvokeOperation[any]), userState any) *InvokeOperation[any]

	// HasChanges reports whether the container has pending changes.
	HasChanges() bool

	// RejectChanges discards the container's pending changes.
	RejectChanges()

	// IsSubmitting reports whether a submit is in flight.
	IsSubmitting() bool
}
