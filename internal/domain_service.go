package internal

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
	"go.uber.org/zap"
)

// DefaultQueryName is the built-in query returning every entity of a type
// whose members equal the query parameters.
const DefaultQueryName = "All"

// QueryHandler selects the results of a named query from all entities of
// the queried type, in store order.
type QueryHandler func(ctx context.Context, entities []*ria.Entity, params map[string]any) ([]*ria.Entity, error)

// ActionHandler executes a custom method recorded on a submitted entity. It
// may change the entity's members through ApplyState.
type ActionHandler func(ctx context.Context, entity *ria.Entity, params []any) error

// InvokeHandler executes a named domain operation.
type InvokeHandler func(ctx context.Context, params map[string]any) (any, []ria.ValidationResult, error)

// DomainService processes queries, change sets and invokes against an
// EntityStore. Concurrent submits are serialized by the store's version
// checks, not by the service.
type DomainService struct {
	registry  ria.TypeRegistry
	store     EntityStore
	validator ria.Validator

	mu      sync.RWMutex
	queries map[string]QueryHandler
	actions map[string]ActionHandler
	invokes map[string]InvokeHandler

	newKey func() string
}

// NewDomainService creates a service over store. A nil validator disables
// server-side validation.
func NewDomainService(registry ria.TypeRegistry, store EntityStore, validator ria.Validator) *DomainService {
	return &DomainService{
		registry:  registry,
		store:     store,
		validator: validator,
		queries:   make(map[string]QueryHandler),
		actions:   make(map[string]ActionHandler),
		invokes:   make(map[string]InvokeHandler),
		newKey:    uuid.NewString,
	}
}

func (s *DomainService) withKeyGenerator(fn func() string) {
	if fn == nil {
		fn = uuid.NewString
	}
	s.newKey = fn
}

// Registry returns the service's type registry.
func (s *DomainService) Registry() ria.TypeRegistry {
	return s.registry
}

// RegisterQuery adds a named query over typeName.
func (s *DomainService) RegisterQuery(typeName, name string, h QueryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[typeName+"/"+name] = h
}

// RegisterAction adds the handler of a custom method of typeName.
func (s *DomainService) RegisterAction(typeName, method string, h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[typeName+"."+method] = h
}

// RegisterInvoke adds a named domain operation.
func (s *DomainService) RegisterInvoke(name string, h InvokeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes[name] = h
}

// Query runs a named query. Paging applies after the handler selected its
// results; the total count is taken before paging.
func (s *DomainService) Query(ctx context.Context, q *ria.EntityQuery) (*ria.QueryCompletedResult, error) {
	t, err := s.registry.GetEntityType(q.EntityType)
	if err != nil {
		return nil, ria.NewDomainOperationError(fmt.Sprintf("entity type %s not found", q.EntityType), ria.StatusNotFound, nil).WithCause(err)
	}

	name := q.QueryName
	if name == "" {
		name = DefaultQueryName
	}
	s.mu.RLock()
	handler, ok := s.queries[t.Name+"/"+name]
	s.mu.RUnlock()
	if !ok {
		if name != DefaultQueryName {
			return nil, ria.NewDomainOperationError(fmt.Sprintf("query %s/%s not found", t.Name, name), ria.StatusNotFound, nil)
		}
		handler = matchParameters
	}

	var invalid []ria.ValidationResult
	if q.Skip < 0 {
		invalid = append(invalid, ria.NewValidationResult("Skip must not be negative.", "skip"))
	}
	if q.Take < 0 {
		invalid = append(invalid, ria.NewValidationResult("Take must not be negative.", "take"))
	}
	if len(invalid) > 0 {
		return &ria.QueryCompletedResult{TotalCount: -1, ValidationErrors: invalid}, nil
	}

	records, err := s.store.List(ctx, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.Name, err)
	}
	entities := make([]*ria.Entity, 0, len(records))
	for _, r := range records {
		entities = append(entities, wire.DecodeEntity(t, r.Values))
	}

	selected, err := handler(ctx, entities, q.Parameters)
	if err != nil {
		return nil, err
	}

	total := -1
	if q.IncludeTotalCount {
		total = len(selected)
	}
	selected = page(selected, q.Skip, q.Take)
	zap.S().Debugw("query executed", "query", q.String(), "records", len(records), "results", len(selected))
	return &ria.QueryCompletedResult{Entities: selected, TotalCount: total}, nil
}

// Submit processes change-set entries. Entries with validation errors or
// conflicts are returned without persisting anything. Otherwise every write
// is applied atomically and the results carry the stored values, including
// generated keys and new versions.
func (s *DomainService) Submit(ctx context.Context, entries []*ria.ChangeSetEntry) ([]*ria.ChangeSetEntry, error) {
	checked := make([]*checkedEntry, 0, len(entries))
	failed := false
	for _, entry := range entries {
		c, err := s.checkEntry(ctx, entry)
		if err != nil {
			return nil, err
		}
		failed = failed || c.result.HasError()
		checked = append(checked, c)
	}

	results := make([]*ria.ChangeSetEntry, len(checked))
	for i, c := range checked {
		results[i] = c.result
	}
	if failed {
		zap.S().Debugw("change set rejected", "entries", len(entries))
		EmitSubmitEntries(ctx, "rejected", int64(len(entries)))
		return results, nil
	}

	mutations := make([]Mutation, 0, len(checked))
	for _, c := range checked {
		m, err := s.prepare(ctx, c)
		if err != nil {
			return nil, err
		}
		if m != nil {
			mutations = append(mutations, *m)
		}
	}

	if err := s.store.Apply(ctx, mutations); err != nil {
		if errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrRecordExists) {
			return nil, ria.NewDomainOperationError("change set conflicts with a concurrent update", ria.StatusConflicts, nil).WithCause(err)
		}
		return nil, fmt.Errorf("failed to apply change set: %w", err)
	}
	zap.S().Debugw("change set applied", "entries", len(entries), "mutations", len(mutations))
	EmitSubmitEntries(ctx, "applied", int64(len(entries)))
	return results, nil
}

// Invoke runs a named domain operation.
func (s *DomainService) Invoke(ctx context.Context, args *ria.InvokeArgs) (*ria.InvokeCompletedResult, error) {
	s.mu.RLock()
	h, ok := s.invokes[args.OperationName]
	s.mu.RUnlock()
	if !ok {
		return nil, ria.NewDomainOperationError(fmt.Sprintf("operation %s not found", args.OperationName), ria.StatusNotFound, nil)
	}
	value, results, err := h(ctx, args.Parameters)
	if err != nil {
		return nil, err
	}
	return &ria.InvokeCompletedResult{ReturnValue: value, ValidationErrors: results}, nil
}

type checkedEntry struct {
	entry  *ria.ChangeSetEntry
	result *ria.ChangeSetEntry
	key    string
	stored *EntityRecord
}

// checkEntry validates an entry and detects conflicts without side effects.
func (s *DomainService) checkEntry(ctx context.Context, entry *ria.ChangeSetEntry) (*checkedEntry, error) {
	if entry.Entity == nil {
		return nil, ria.NewDomainOperationError(fmt.Sprintf("entry %d carries no entity", entry.ID), ria.StatusServerError, nil)
	}
	t := entry.Entity.Type()
	result := &ria.ChangeSetEntry{
		ID:            entry.ID,
		Operation:     entry.Operation,
		Entity:        copyEntity(entry.Entity),
		EntityActions: entry.EntityActions,
	}
	c := &checkedEntry{entry: entry, result: result}

	switch entry.Operation {
	case ria.OperationInsert:
		result.ValidationErrors = s.validate(ctx, result.Entity, entry.EntityActions)
		if key, complete := s.insertKey(result.Entity); complete {
			if _, err := s.store.Get(ctx, t.Name, key); err == nil {
				result.ValidationErrors = append(result.ValidationErrors, ria.NewValidationResult(
					fmt.Sprintf("An entity with key %s already exists.", key), t.KeyMembers...).Info())
			} else if !errors.Is(err, ErrRecordNotFound) {
				return nil, fmt.Errorf("failed to read %s%s: %w", t.Name, key, err)
			}
		}
	case ria.OperationUpdate, ria.OperationDelete:
		if entry.Operation == ria.OperationUpdate {
			result.ValidationErrors = s.validate(ctx, result.Entity, entry.EntityActions)
		}
		if err := s.checkConflict(ctx, c); err != nil {
			return nil, err
		}
	}
	if err := s.checkActions(t, entry.EntityActions); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *DomainService) validate(ctx context.Context, e *ria.Entity, actions []ria.EntityAction) []ria.ValidationResultInfo {
	if s.validator == nil {
		return nil
	}
	var results []ria.ValidationResult
	if e.Type().RequiresValidation {
		results = append(results, s.validator.ValidateEntity(ctx, e)...)
	}
	for _, a := range actions {
		results = append(results, s.validator.ValidateAction(ctx, e, a)...)
	}
	return wire.EncodeValidationErrors(results)
}

func (s *DomainService) checkActions(t *ria.EntityType, actions []ria.EntityAction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range actions {
		if _, ok := s.actions[t.Name+"."+a.Name]; !ok {
			return ria.NewDomainOperationError(fmt.Sprintf("custom method %s.%s is not supported", t.Name, a.Name), ria.StatusNotSupported, nil)
		}
	}
	return nil
}

// checkConflict compares the stored record with the client's original
// values. A missing record is a delete conflict.
func (s *DomainService) checkConflict(ctx context.Context, c *checkedEntry) error {
	original := c.entry.OriginalEntity
	if original == nil {
		original = c.entry.Entity
	}
	t := original.Type()
	key, err := original.Key()
	if err != nil {
		return ria.NewDomainOperationError(fmt.Sprintf("entry %d: %v", c.entry.ID, err), ria.StatusServerError, nil).WithCause(err)
	}
	c.key = key.String()

	stored, err := s.store.Get(ctx, t.Name, c.key)
	if errors.Is(err, ErrRecordNotFound) {
		c.result.IsDeleteConflict = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s%s: %w", t.Name, c.key, err)
	}
	c.stored = stored

	if t.VersionMember == "" {
		return nil
	}
	if v, ok := toInt64(original.Get(t.VersionMember)); ok && v == stored.Version {
		return nil
	}
	c.result.ConflictMembers = conflictMembers(t, stored.Values, wire.PlainValues(original))
	c.result.StoreEntity = wire.DecodeEntity(t, stored.Values)
	return nil
}

// insertKey fills missing key members of a new entity with generated ids and
// reports whether the client supplied the whole key.
func (s *DomainService) insertKey(e *ria.Entity) (string, bool) {
	t := e.Type()
	complete := true
	for _, m := range t.KeyMembers {
		if e.Get(m) == nil {
			complete = false
		}
	}
	if complete {
		key, err := e.Key()
		if err == nil {
			return key.String(), true
		}
	}
	return "", false
}

// prepare executes the entry's custom methods and turns it into a mutation.
func (s *DomainService) prepare(ctx context.Context, c *checkedEntry) (*Mutation, error) {
	e := c.result.Entity
	t := e.Type()

	switch c.entry.Operation {
	case ria.OperationInsert:
		generated := make(map[string]any)
		for _, m := range t.KeyMembers {
			if e.Get(m) == nil {
				generated[m] = s.newKey()
			}
		}
		e.ApplyState(generated)
	case ria.OperationDelete:
		c.result.Entity = nil
		return &Mutation{Kind: MutationDelete, Record: &EntityRecord{TypeName: t.Name, Key: c.key, Version: c.stored.Version}, ExpectedVersion: c.stored.Version}, nil
	case ria.OperationUpdate:
		readOnly := make(map[string]any)
		for _, m := range t.ReadOnlyMembers {
			if v, ok := c.stored.Values[m]; ok {
				readOnly[m] = v
			}
		}
		e.ApplyState(readOnly)
	default:
		return nil, nil
	}

	for _, a := range c.entry.EntityActions {
		s.mu.RLock()
		h := s.actions[t.Name+"."+a.Name]
		s.mu.RUnlock()
		if err := h(ctx, e, a.Parameters); err != nil {
			return nil, fmt.Errorf("custom method %s.%s failed: %w", t.Name, a.Name, err)
		}
	}

	key, err := e.Key()
	if err != nil {
		return nil, ria.NewDomainOperationError(fmt.Sprintf("entry %d: %v", c.entry.ID, err), ria.StatusServerError, nil).WithCause(err)
	}

	if c.entry.Operation == ria.OperationInsert {
		if t.VersionMember != "" {
			e.ApplyState(map[string]any{t.VersionMember: 1})
		}
		return &Mutation{Kind: MutationInsert, Record: &EntityRecord{TypeName: t.Name, Key: key.String(), Version: 1, Values: wire.PlainValues(e)}}, nil
	}

	if key.String() != c.key {
		return nil, ria.NewDomainOperationError(fmt.Sprintf("entry %d changes the key of %s%s", c.entry.ID, t.Name, c.key), ria.StatusNotSupported, nil)
	}
	next := c.stored.Version + 1
	if t.VersionMember != "" {
		e.ApplyState(map[string]any{t.VersionMember: int(next)})
	}
	return &Mutation{
		Kind:            MutationUpdate,
		Record:          &EntityRecord{TypeName: t.Name, Key: c.key, Version: next, Values: wire.PlainValues(e)},
		ExpectedVersion: c.stored.Version,
	}, nil
}

// conflictMembers lists the members whose stored value differs from the
// client's original, excluding the version member. When only the version
// moved, the version member itself is reported.
func conflictMembers(t *ria.EntityType, stored, original map[string]any) []string {
	names := NewSet[string]()
	for m, v := range stored {
		if m != t.VersionMember && !reflect.DeepEqual(v, original[m]) {
			names.Add(m)
		}
	}
	for m, v := range original {
		if _, ok := stored[m]; !ok && m != t.VersionMember && v != nil {
			names.Add(m)
		}
	}
	if names.Size() == 0 {
		return []string{t.VersionMember}
	}
	return names.Sorted()
}

func copyEntity(e *ria.Entity) *ria.Entity {
	return wire.DecodeEntity(e.Type(), wire.PlainValues(e))
}

func matchParameters(_ context.Context, entities []*ria.Entity, params map[string]any) ([]*ria.Entity, error) {
	if len(params) == 0 {
		return entities, nil
	}
	var out []*ria.Entity
	for _, e := range entities {
		match := true
		for member, want := range params {
			if !reflect.DeepEqual(e.Get(member), wire.Normalize(want)) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	return out, nil
}

func page(entities []*ria.Entity, skip, take int) []*ria.Entity {
	if skip >= len(entities) {
		return nil
	}
	entities = entities[skip:]
	if take > 0 && take < len(entities) {
		entities = entities[:take]
	}
	return entities
}
