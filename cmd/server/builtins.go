package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal"
	"go.uber.org/zap"
)

// CountOperation is the built-in invoke returning the number of stored
// entities of the type named by its entityType parameter.
const CountOperation = "Count"

// registerBuiltins gives every declared custom method a default handler and
// registers the built-in invoke operations.
func registerBuiltins(service *internal.DomainService) {
	registry := service.Registry()
	for _, name := range registry.ListEntityTypes() {
		t, err := registry.GetEntityType(name)
		if err != nil {
			continue
		}
		for _, m := range t.Methods {
			service.RegisterAction(t.Name, m.Name, assignParameters(t, m))
		}
	}
	service.RegisterInvoke(CountOperation, countEntities(service))
}

// assignParameters writes each argument to the entity member named like its
// parameter. Arguments without a matching member are ignored.
func assignParameters(t *ria.EntityType, m ria.CustomMethod) internal.ActionHandler {
	members := make(map[string]bool)
	var props struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(t.Schema, &props); err == nil {
		for name := range props.Properties {
			members[name] = !t.IsReadOnly(name) && name != t.VersionMember && !slices.Contains(t.KeyMembers, name)
		}
	}

	return func(_ context.Context, e *ria.Entity, params []any) error {
		values := make(map[string]any)
		for i, p := range m.Parameters {
			if i < len(params) && members[p.Name] {
				values[p.Name] = params[i]
			}
		}
		e.ApplyState(values)
		zap.S().Debugw("custom method applied", "type", t.Name, "method", m.Name, "assigned", len(values))
		return nil
	}
}

func countEntities(service *internal.DomainService) internal.InvokeHandler {
	return func(ctx context.Context, params map[string]any) (any, []ria.ValidationResult, error) {
		typeName, _ := params["entityType"].(string)
		if typeName == "" {
			return nil, []ria.ValidationResult{ria.NewValidationResult("The entityType parameter is required.", "entityType")}, nil
		}
		res, err := service.Query(ctx, &ria.EntityQuery{EntityType: typeName, IncludeTotalCount: true})
		if err != nil {
			return nil, nil, fmt.Errorf("count %s: %w", typeName, err)
		}
		return res.TotalCount, nil, nil
	}
}
