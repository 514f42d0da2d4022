package wire

import (
	"encoding/json"
	"testing"

	"github.com/lychee-technology/ria"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (ria.TypeRegistry, *ria.EntityType, *ria.EntityType) {
	t.Helper()
	customer := &ria.EntityType{
		Name:           "Customer",
		KeyMembers:     []string{"id"},
		VersionMember:  "version",
		ComplexMembers: []string{"address"},
		Associations: []ria.Association{
			{Name: "orders", TargetType: "Order", IsCollection: true, IsComposition: true},
		},
		Methods: []ria.CustomMethod{{Name: "Promote", Parameters: []ria.Parameter{{Name: "level"}}}},
	}
	order := &ria.EntityType{Name: "Order", KeyMembers: []string{"id"}}
	registry, err := ria.NewTypeRegistry(customer, order)
	require.NoError(t, err)
	return registry, customer, order
}

func TestContractName(t *testing.T) {
	assert.Equal(t, "Customer:#DomainServices", ContractName("Customer"))

	name, err := ParseContractName("QueryResultOfCustomer:#DomainServices")
	require.NoError(t, err)
	assert.Equal(t, "QueryResultOfCustomer", name)

	_, err = ParseContractName("Customer")
	assert.Error(t, err)
	_, err = ParseContractName("Customer:#Other")
	assert.Error(t, err)
}

func TestPlainValues_DropsAssociationsAndFlattensComplex(t *testing.T) {
	_, customer, order := testRegistry(t)
	e := ria.NewEntity(customer, map[string]any{
		"id":      1,
		"address": ria.NewComplexObject(map[string]any{"city": "Paris"}),
		"orders":  []*ria.Entity{ria.NewEntity(order, map[string]any{"id": 2})},
	})

	assert.Equal(t, map[string]any{
		"id":      1,
		"address": map[string]any{"city": "Paris"},
	}, PlainValues(e))
}

func TestDecodeEntity_NormalizesJSON(t *testing.T) {
	_, customer, _ := testRegistry(t)
	var values map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"__type":"Customer:#DomainServices","id":7,"rate":1.5,"address":{"zip":75001}}`), &values))

	e := DecodeEntity(customer, values)
	assert.Equal(t, 7, e.Get("id"))
	assert.Equal(t, 1.5, e.Get("rate"))
	assert.Nil(t, e.Get(TypeField))

	addr, ok := e.Get("address").(*ria.ComplexObject)
	require.True(t, ok)
	assert.Equal(t, 75001, addr.Get("zip"))

	key, err := e.Key()
	require.NoError(t, err)
	assert.True(t, key.Equal(ria.MustEntityKey(7)))
}

func TestEntries_RoundTripThroughJSON(t *testing.T) {
	registry, customer, _ := testRegistry(t)
	c := ria.NewEntityContainer()
	existing := ria.NewEntity(customer, map[string]any{"id": 1, "name": "Ada", "version": 2})
	require.NoError(t, c.Attach(existing))
	require.NoError(t, existing.Set("name", "Grace"))
	require.NoError(t, existing.InvokeAction("Promote", "gold"))
	require.NoError(t, c.Add(ria.NewEntity(customer, map[string]any{"name": "New"})))

	cs, err := c.ChangeSet()
	require.NoError(t, err)

	data, err := json.Marshal(SubmitRequest{ChangeSet: EncodeEntries(cs.GetChangeSetEntries())})
	require.NoError(t, err)
	var req SubmitRequest
	require.NoError(t, json.Unmarshal(data, &req))

	entries, err := DecodeEntries(registry, req.ChangeSet)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ria.OperationInsert, entries[0].Operation)
	assert.Equal(t, "New", entries[0].Entity.Get("name"))
	assert.Nil(t, entries[0].OriginalEntity)

	update := entries[1]
	assert.Equal(t, ria.OperationUpdate, update.Operation)
	assert.True(t, update.HasMemberChanges)
	assert.Equal(t, "Grace", update.Entity.Get("name"))
	assert.Equal(t, "Ada", update.OriginalEntity.Get("name"))
	assert.Equal(t, 2, update.OriginalEntity.Get("version"))
	assert.Equal(t, []ria.EntityAction{{Name: "Promote", Parameters: []any{"gold"}}}, update.EntityActions)
	assert.NotSame(t, existing, update.Entity)
}

func TestDecodeEntries_Rejects(t *testing.T) {
	registry, _, _ := testRegistry(t)
	tests := []struct {
		name string
		dtos []ChangeSetEntryDTO
	}{
		{name: "reserved operation", dtos: []ChangeSetEntryDTO{{ID: 0, Operation: 1}}},
		{name: "duplicate id", dtos: []ChangeSetEntryDTO{{ID: 0}, {ID: 0}}},
		{name: "unknown type", dtos: []ChangeSetEntryDTO{{ID: 0, Operation: ria.OperationInsert, Entity: map[string]any{TypeField: "Ghost:#DomainServices"}}}},
		{name: "missing marker", dtos: []ChangeSetEntryDTO{{ID: 0, Operation: ria.OperationInsert, Entity: map[string]any{"id": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEntries(registry, tt.dtos)
			assert.Error(t, err)
		})
	}
}

func TestQueryResult_RoundTrip(t *testing.T) {
	registry, customer, order := testRegistry(t)
	res := &ria.QueryCompletedResult{
		Entities:         []*ria.Entity{ria.NewEntity(customer, map[string]any{"id": 1})},
		IncludedEntities: []*ria.Entity{ria.NewEntity(order, map[string]any{"id": 5})},
		TotalCount:       10,
	}

	resp := EncodeQueryResult("Customer", res)
	assert.Equal(t, "QueryResultOfCustomer:#DomainServices", resp.Type)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var decodedResp QueryResponse
	require.NoError(t, json.Unmarshal(data, &decodedResp))

	decoded, err := DecodeQueryResult(registry, "Customer", decodedResp)
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.TotalCount)
	require.Len(t, decoded.Entities, 1)
	assert.Equal(t, 1, decoded.Entities[0].Get("id"))
	require.Len(t, decoded.IncludedEntities, 1)
	assert.Equal(t, "Order", decoded.IncludedEntities[0].Type().Name)

	_, err = DecodeQueryResult(registry, "Order", decodedResp)
	assert.Error(t, err, "contract must match the queried type")
}
