package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
	"go.uber.org/zap"
)

type schemaCacheKey struct {
	typ  *ria.EntityType
	part string
}

// schemaValidator validates entities against the JSON schema carried by their
// type, reporting one result per failing member.
type schemaValidator struct {
	mu       sync.RWMutex
	resolved map[schemaCacheKey]*jsonschema.Resolved
	raw      map[*ria.EntityType]map[string]any
}

// NewSchemaValidator creates a validator backed by google/jsonschema-go.
// Types without a schema only get custom method parameter checks.
func NewSchemaValidator() ria.Validator {
	return &schemaValidator{
		resolved: make(map[schemaCacheKey]*jsonschema.Resolved),
		raw:      make(map[*ria.EntityType]map[string]any),
	}
}

func (v *schemaValidator) ValidateEntity(ctx context.Context, entity *ria.Entity) []ria.ValidationResult {
	t := entity.Type()
	if len(t.Schema) == 0 {
		return nil
	}
	root, err := v.rootSchema(t)
	if err != nil {
		zap.S().Warnw("entity schema unusable", "type", t.Name, "error", err)
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf("schema of %s is invalid: %v", t.Name, err))}
	}

	instance, err := jsonInstance(wire.PlainValues(entity))
	if err != nil {
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf("values of %s cannot be encoded: %v", t.Name, err))}
	}
	values, _ := instance.(map[string]any)
	for name, val := range values {
		if val == nil {
			delete(values, name)
		}
	}

	var results []ria.ValidationResult
	for _, name := range stringList(root["required"]) {
		if _, ok := values[name]; !ok {
			results = append(results, ria.NewValidationResult(fmt.Sprintf("The %s field is required.", name), name))
		}
	}

	props, _ := root["properties"].(map[string]any)
	for _, name := range SortedKeys(props) {
		val, ok := values[name]
		if !ok {
			continue
		}
		resolved, err := v.resolve(t, "property:"+name, func() (map[string]any, error) {
			return subSchema(root, props[name])
		})
		if err != nil {
			zap.S().Warnw("property schema unusable", "type", t.Name, "property", name, "error", err)
			continue
		}
		if err := resolved.Validate(val); err != nil {
			results = append(results, ria.NewValidationResult(fmt.Sprintf("The %s field is invalid: %v", name, err), name))
		}
	}
	if len(results) > 0 {
		return results
	}

	whole, err := v.resolve(t, "", func() (map[string]any, error) { return withoutExtensions(root), nil })
	if err != nil {
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf("schema of %s is invalid: %v", t.Name, err))}
	}
	if err := whole.Validate(instance); err != nil {
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf("%s is invalid: %v", t.Name, err))}
	}
	return nil
}

func (v *schemaValidator) ValidateAction(ctx context.Context, entity *ria.Entity, action ria.EntityAction) []ria.ValidationResult {
	t := entity.Type()
	method, ok := t.Method(action.Name)
	if !ok {
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf("%s has no custom method %s.", t.Name, action.Name))}
	}
	if len(action.Parameters) > len(method.Parameters) {
		return []ria.ValidationResult{ria.NewValidationResult(fmt.Sprintf(
			"%s takes %d parameters, got %d.", method.Name, len(method.Parameters), len(action.Parameters)))}
	}

	var results []ria.ValidationResult
	for i, param := range method.Parameters {
		var val any
		if i < len(action.Parameters) {
			val = action.Parameters[i]
		}
		if val == nil {
			if param.Required {
				results = append(results, ria.NewValidationResult(fmt.Sprintf("The %s parameter is required.", param.Name), param.Name))
			}
			continue
		}
		if len(param.Schema) == 0 {
			continue
		}
		resolved, err := v.resolve(t, "method:"+method.Name+"."+param.Name, func() (map[string]any, error) {
			var m map[string]any
			if err := json.Unmarshal(param.Schema, &m); err != nil {
				return nil, err
			}
			return m, nil
		})
		if err != nil {
			zap.S().Warnw("parameter schema unusable", "type", t.Name, "method", method.Name, "parameter", param.Name, "error", err)
			continue
		}
		instance, err := jsonInstance(val)
		if err == nil {
			err = resolved.Validate(instance)
		}
		if err != nil {
			results = append(results, ria.NewValidationResult(fmt.Sprintf("The %s parameter is invalid: %v", param.Name, err), param.Name))
		}
	}
	return results
}

func (v *schemaValidator) rootSchema(t *ria.EntityType) (map[string]any, error) {
	v.mu.RLock()
	root, ok := v.raw[t]
	v.mu.RUnlock()
	if ok {
		return root, nil
	}
	if err := json.Unmarshal(t.Schema, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	v.mu.Lock()
	v.raw[t] = root
	v.mu.Unlock()
	return root, nil
}

// resolve returns the cached resolved schema for part, building it with load
// on first use.
func (v *schemaValidator) resolve(t *ria.EntityType, part string, load func() (map[string]any, error)) (*jsonschema.Resolved, error) {
	key := schemaCacheKey{typ: t, part: part}
	v.mu.RLock()
	resolved, ok := v.resolved[key]
	v.mu.RUnlock()
	if ok {
		return resolved, nil
	}

	schemaMap, err := load()
	if err != nil {
		return nil, err
	}
	schemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for validation: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err = schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema: %w", err)
	}

	v.mu.Lock()
	v.resolved[key] = resolved
	v.mu.Unlock()
	return resolved, nil
}

// subSchema makes a property schema standalone by carrying the root's
// definitions along, so local $refs still resolve.
func subSchema(root map[string]any, prop any) (map[string]any, error) {
	propMap, ok := prop.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("property schema is %T, want object", prop)
	}
	out := make(map[string]any, len(propMap)+2)
	for k, val := range propMap {
		out[k] = val
	}
	for _, defs := range []string{"$defs", "definitions"} {
		if d, ok := root[defs]; ok {
			out[defs] = d
		}
	}
	return out, nil
}

// withoutExtensions drops the x- entity metadata keywords.
func withoutExtensions(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, val := range schema {
		if !strings.HasPrefix(k, "x-") {
			out[k] = val
		}
	}
	return out
}

// jsonInstance converts v into the generic form encoding/json produces.
func jsonInstance(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
