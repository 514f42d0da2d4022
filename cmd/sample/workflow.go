package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/ria"
	"go.uber.org/zap"
)

// maxResubmits bounds the resolve-and-resubmit loop after a conflict.
const maxResubmits = 3

// Workflow drives one client session: load, edit, submit, resolve.
type Workflow struct {
	dc       ria.DomainContext
	client   ria.DomainClient
	registry ria.TypeRegistry
	logger   *zap.SugaredLogger
}

// NewWorkflow creates a workflow over dc. client is used for typed invokes.
func NewWorkflow(dc ria.DomainContext, client ria.DomainClient, registry ria.TypeRegistry, logger *zap.SugaredLogger) *Workflow {
	return &Workflow{dc: dc, client: client, registry: registry, logger: logger}
}

// LoadAll loads every entity of typeName into the session.
func (w *Workflow) LoadAll(ctx context.Context, typeName string) ([]*ria.Entity, error) {
	op := w.dc.Load(ctx, &ria.EntityQuery{EntityType: typeName, IncludeTotalCount: true}, ria.LoadMergeIntoCurrent, nil, nil)
	if err := op.Wait(ctx); err != nil {
		return nil, err
	}
	if err := op.Error(); err != nil {
		return nil, fmt.Errorf("load %s: %w", typeName, err)
	}
	w.logger.Infow("loaded entities", "type", typeName, "count", len(op.Entities()), "total", op.TotalEntityCount())
	return op.Entities(), nil
}

// Add tracks a new entity of typeName with values.
func (w *Workflow) Add(typeName string, values map[string]any) (*ria.Entity, error) {
	t, err := w.registry.GetEntityType(typeName)
	if err != nil {
		return nil, err
	}
	e := ria.NewEntity(t, values)
	if err := w.dc.Container().Add(e); err != nil {
		return nil, fmt.Errorf("add %s: %w", typeName, err)
	}
	return e, nil
}

// Edit sets member on the tracked entity of typeName with key.
func (w *Workflow) Edit(typeName string, key ria.EntityKey, member string, value any) (*ria.Entity, error) {
	e, ok := w.dc.Container().Get(typeName, key)
	if !ok {
		return nil, fmt.Errorf("%s%s is not loaded", typeName, key)
	}
	if err := e.Set(member, value); err != nil {
		return nil, err
	}
	return e, nil
}

// Submit sends pending changes. Conflicted entities are resolved in favor of
// the local edits and the change set is resubmitted.
func (w *Workflow) Submit(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if !w.dc.HasChanges() {
			w.logger.Infow("nothing to submit")
			return nil
		}
		op := w.dc.SubmitChanges(ctx, nil, nil)
		if err := op.Wait(ctx); err != nil {
			return err
		}
		err := op.Error()
		if err == nil {
			w.logger.Infow("submitted changes", "attempt", attempt+1)
			return nil
		}

		var soe *ria.SubmitOperationError
		if !errors.As(err, &soe) || soe.Status != ria.StatusConflicts || attempt >= maxResubmits {
			w.logFailures(err, soe)
			return err
		}
		for _, e := range soe.EntitiesInError() {
			if err := w.resolve(e); err != nil {
				return err
			}
		}
	}
}

func (w *Workflow) resolve(e *ria.Entity) error {
	conflict := e.Conflict()
	if conflict == nil {
		return nil
	}
	members, err := conflict.PropertyNames()
	if err != nil {
		w.logger.Warnw("entity was deleted by another client", "type", e.Type().Name)
		return err
	}
	w.logger.Infow("resolving conflict", "type", e.Type().Name, "members", members)
	return conflict.Resolve()
}

func (w *Workflow) logFailures(err error, soe *ria.SubmitOperationError) {
	if soe == nil {
		w.logger.Errorw("submit failed", "error", err)
		return
	}
	for _, e := range soe.EntitiesInError() {
		for _, r := range e.ValidationErrors().All() {
			w.logger.Warnw("validation error", "type", e.Type().Name, "members", r.MemberNames, "message", r.Message)
		}
	}
	w.logger.Errorw("submit failed", "status", soe.Status, "error", err)
}

// Count returns the number of stored entities of typeName via the Count
// invoke operation.
func (w *Workflow) Count(ctx context.Context, typeName string) (int, error) {
	op := ria.Invoke[int](ctx, w.client, &ria.InvokeArgs{
		OperationName: "Count",
		Parameters:    map[string]any{"entityType": typeName},
	}, nil, nil)
	if err := op.Wait(ctx); err != nil {
		return 0, err
	}
	if err := op.Error(); err != nil {
		return 0, err
	}
	return op.Value(), nil
}
