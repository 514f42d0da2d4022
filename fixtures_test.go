package ria

import (
	"context"
)

func customerType() *EntityType {
	return &EntityType{
		Name:               "Customer",
		KeyMembers:         []string{"id"},
		VersionMember:      "version",
		ReadOnlyMembers:    []string{"createdAt"},
		RequiresValidation: true,
		Associations: []Association{
			{Name: "orders", TargetType: "Order", IsCollection: true, IsComposition: true},
		},
		ComplexMembers: []string{"address"},
		Methods: []CustomMethod{
			{Name: "Promote", Parameters: []Parameter{{Name: "level", Required: true}}},
		},
	}
}

func orderType() *EntityType {
	return &EntityType{
		Name:       "Order",
		KeyMembers: []string{"id"},
		Associations: []Association{
			{Name: "customer", TargetType: "Customer"},
		},
	}
}

func newCustomer(id int, name string) *Entity {
	return NewEntity(customerType(), map[string]any{"id": id, "name": name, "version": 1})
}

// stubValidator returns canned results per entity.
type stubValidator struct {
	entity  map[*Entity][]ValidationResult
	action  map[string][]ValidationResult
	visited []*Entity
}

func newStubValidator() *stubValidator {
	return &stubValidator{
		entity: make(map[*Entity][]ValidationResult),
		action: make(map[string][]ValidationResult),
	}
}

func (v *stubValidator) ValidateEntity(_ context.Context, e *Entity) []ValidationResult {
	v.visited = append(v.visited, e)
	return v.entity[e]
}

func (v *stubValidator) ValidateAction(_ context.Context, _ *Entity, action EntityAction) []ValidationResult {
	return v.action[action.Name]
}
