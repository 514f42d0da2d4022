// Package wire holds the JSON contract exchanged between domain clients and
// domain services, and the translators between it and the entity model.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lychee-technology/ria"
)

// TypeField is the JSON member carrying a data contract marker.
const TypeField = "__type"

// ContractName returns the data contract marker of a type, e.g.
// "Customer:#DomainServices".
func ContractName(typeName string) string {
	return typeName + ":#" + ria.ContractNamespace
}

// ParseContractName extracts the type name from a contract marker.
func ParseContractName(marker string) (string, error) {
	name, ns, ok := strings.Cut(marker, ":#")
	if !ok || name == "" {
		return "", fmt.Errorf("malformed contract marker %q", marker)
	}
	if ns != ria.ContractNamespace {
		return "", fmt.Errorf("contract marker %q is outside namespace %s", marker, ria.ContractNamespace)
	}
	return name, nil
}

// PlainMembers converts member values of type t into JSON-compatible data.
// Association members are dropped and complex objects become maps.
func PlainMembers(t *ria.EntityType, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for member, v := range values {
		if _, ok := t.Association(member); ok {
			continue
		}
		switch v.(type) {
		case *ria.Entity, []*ria.Entity:
			continue
		}
		out[member] = plainValue(v)
	}
	return out
}

// PlainValues returns e's current member values as JSON-compatible data.
func PlainValues(e *ria.Entity) map[string]any {
	return PlainMembers(e.Type(), e.Values())
}

func plainValue(v any) any {
	switch val := v.(type) {
	case *ria.ComplexObject:
		if val == nil {
			return nil
		}
		return plainMap(val.Values())
	case []*ria.ComplexObject:
		out := make([]any, len(val))
		for i, c := range val {
			out[i] = plainValue(c)
		}
		return out
	case map[string]any:
		return plainMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

// DecodeEntity builds a detached entity of type t from JSON values. Whole
// numbers become int and complex members become complex objects.
func DecodeEntity(t *ria.EntityType, values map[string]any) *ria.Entity {
	members := make(map[string]any, len(values))
	for member, v := range values {
		if member == TypeField {
			continue
		}
		v = Normalize(v)
		if t.IsComplex(member) {
			v = complexValue(v)
		}
		members[member] = v
	}
	return ria.NewEntity(t, members)
}

func complexValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ria.NewComplexObject(val)
	case []any:
		out := make([]*ria.ComplexObject, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				out = append(out, ria.NewComplexObject(m))
			}
		}
		return out
	default:
		return v
	}
}

// Normalize rewrites decoded JSON numbers so values compare equal to the ones
// a Go caller writes: whole numbers become int, the rest float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val <= math.MaxInt64 {
			return int(val)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// EncodeEntity returns e's plain values with its contract marker. A nil
// entity encodes as nil.
func EncodeEntity(e *ria.Entity) map[string]any {
	if e == nil {
		return nil
	}
	out := PlainValues(e)
	out[TypeField] = ContractName(e.Type().Name)
	return out
}

// DecodeMarkedEntity resolves the contract marker of m through registry and
// decodes the entity. fallback names the type when m carries no marker.
func DecodeMarkedEntity(registry ria.TypeRegistry, m map[string]any, fallback string) (*ria.Entity, error) {
	if m == nil {
		return nil, nil
	}
	typeName := fallback
	if marker, ok := m[TypeField].(string); ok {
		name, err := ParseContractName(marker)
		if err != nil {
			return nil, err
		}
		typeName = name
	}
	if typeName == "" {
		return nil, fmt.Errorf("entity carries no %s marker", TypeField)
	}
	t, err := registry.GetEntityType(typeName)
	if err != nil {
		return nil, err
	}
	return DecodeEntity(t, m), nil
}
