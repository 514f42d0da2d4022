package wire

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lychee-technology/ria"
)

// ChangeSetEntryContract is the contract marker of a change-set entry.
var ChangeSetEntryContract = ContractName("ChangeSetEntry")

// ChangeSetEntryDTO is the JSON form of a change-set entry. Entities travel
// as marked member maps.
type ChangeSetEntryDTO struct {
	Type                 string                     `json:"__type,omitempty"`
	ID                   int                        `json:"id"`
	Operation            ria.EntityOperationType    `json:"operation"`
	Entity               map[string]any             `json:"entity,omitempty"`
	OriginalEntity       map[string]any             `json:"originalEntity,omitempty"`
	StoreEntity          map[string]any             `json:"storeEntity,omitempty"`
	HasMemberChanges     bool                       `json:"hasMemberChanges,omitempty"`
	EntityActions        []ria.EntityAction         `json:"entityActions,omitempty"`
	ValidationErrors     []ria.ValidationResultInfo `json:"validationErrors,omitempty"`
	ConflictMembers      []string                   `json:"conflictMembers,omitempty"`
	IsDeleteConflict     bool                       `json:"isDeleteConflict,omitempty"`
	Associations         map[string][]int           `json:"associations,omitempty"`
	OriginalAssociations map[string][]int           `json:"originalAssociations,omitempty"`
}

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	ChangeSet []ChangeSetEntryDTO `json:"changeSet"`
}

// SubmitResponse is the body returned by POST /submit.
type SubmitResponse struct {
	Results []ChangeSetEntryDTO `json:"results"`
}

// QueryRequest is the body of POST /{type}/query/{name}.
type QueryRequest struct {
	Parameters        map[string]any `json:"parameters,omitempty"`
	Skip              int            `json:"skip,omitempty"`
	Take              int            `json:"take,omitempty"`
	IncludeTotalCount bool           `json:"includeTotalCount,omitempty"`
}

// QueryResponse is marked QueryResultOf<Type>:#DomainServices.
type QueryResponse struct {
	Type             string                     `json:"__type"`
	RootResults      []map[string]any           `json:"rootResults"`
	IncludedResults  []map[string]any           `json:"includedResults,omitempty"`
	TotalCount       int                        `json:"totalCount"`
	ValidationErrors []ria.ValidationResultInfo `json:"validationErrors,omitempty"`
}

// InvokeRequest is the body of POST /invoke/{name}.
type InvokeRequest struct {
	Parameters     map[string]any `json:"parameters,omitempty"`
	HasSideEffects bool           `json:"hasSideEffects,omitempty"`
}

// InvokeResponse is the body returned by POST /invoke/{name}.
type InvokeResponse struct {
	ReturnValue      json.RawMessage            `json:"returnValue,omitempty"`
	ValidationErrors []ria.ValidationResultInfo `json:"validationErrors,omitempty"`
}

// ErrorResponse wraps the error payload of a failed request.
type ErrorResponse struct {
	Error ria.ErrorPayload `json:"error"`
}

// EncodeEntries converts change-set entries into their JSON form.
func EncodeEntries(entries []*ria.ChangeSetEntry) []ChangeSetEntryDTO {
	out := make([]ChangeSetEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ChangeSetEntryDTO{
			Type:                 ChangeSetEntryContract,
			ID:                   entry.ID,
			Operation:            entry.Operation,
			Entity:               EncodeEntity(entry.Entity),
			OriginalEntity:       EncodeEntity(entry.OriginalEntity),
			StoreEntity:          EncodeEntity(entry.StoreEntity),
			HasMemberChanges:     entry.HasMemberChanges,
			EntityActions:        encodeActions(entry.EntityActions),
			ValidationErrors:     slices.Clone(entry.ValidationErrors),
			ConflictMembers:      slices.Clone(entry.ConflictMembers),
			IsDeleteConflict:     entry.IsDeleteConflict,
			Associations:         entry.Associations,
			OriginalAssociations: entry.OriginalAssociations,
		})
	}
	return out
}

// DecodeEntries rebuilds change-set entries from their JSON form. The
// entities are fresh detached instances resolved through registry.
func DecodeEntries(registry ria.TypeRegistry, dtos []ChangeSetEntryDTO) ([]*ria.ChangeSetEntry, error) {
	out := make([]*ria.ChangeSetEntry, 0, len(dtos))
	seen := make(map[int]struct{}, len(dtos))
	for _, dto := range dtos {
		if !dto.Operation.Valid() {
			return nil, fmt.Errorf("entry %d: invalid operation %d", dto.ID, int(dto.Operation))
		}
		if _, dup := seen[dto.ID]; dup {
			return nil, fmt.Errorf("entry %d: duplicate id", dto.ID)
		}
		seen[dto.ID] = struct{}{}

		entity, err := DecodeMarkedEntity(registry, dto.Entity, "")
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", dto.ID, err)
		}
		fallback := ""
		if entity != nil {
			fallback = entity.Type().Name
		}
		original, err := DecodeMarkedEntity(registry, dto.OriginalEntity, fallback)
		if err != nil {
			return nil, fmt.Errorf("entry %d original: %w", dto.ID, err)
		}
		store, err := DecodeMarkedEntity(registry, dto.StoreEntity, fallback)
		if err != nil {
			return nil, fmt.Errorf("entry %d store: %w", dto.ID, err)
		}

		entry := ria.NewChangeSetEntry(entity, dto.ID, dto.Operation)
		entry.OriginalEntity = original
		entry.StoreEntity = store
		entry.HasMemberChanges = dto.HasMemberChanges
		entry.EntityActions = decodeActions(dto.EntityActions)
		entry.ValidationErrors = slices.Clone(dto.ValidationErrors)
		entry.ConflictMembers = slices.Clone(dto.ConflictMembers)
		entry.IsDeleteConflict = dto.IsDeleteConflict
		entry.Associations = dto.Associations
		entry.OriginalAssociations = dto.OriginalAssociations
		out = append(out, entry)
	}
	return out, nil
}

func encodeActions(actions []ria.EntityAction) []ria.EntityAction {
	if len(actions) == 0 {
		return nil
	}
	out := make([]ria.EntityAction, len(actions))
	for i, a := range actions {
		params := make([]any, len(a.Parameters))
		for j, p := range a.Parameters {
			params[j] = plainValue(p)
		}
		out[i] = ria.EntityAction{Name: a.Name, Parameters: params}
	}
	return out
}

func decodeActions(actions []ria.EntityAction) []ria.EntityAction {
	if len(actions) == 0 {
		return nil
	}
	out := make([]ria.EntityAction, len(actions))
	for i, a := range actions {
		params := make([]any, len(a.Parameters))
		for j, p := range a.Parameters {
			params[j] = Normalize(p)
		}
		out[i] = ria.EntityAction{Name: a.Name, Parameters: params}
	}
	return out
}

// EncodeValidationErrors converts validation results into their wire form.
func EncodeValidationErrors(results []ria.ValidationResult) []ria.ValidationResultInfo {
	if len(results) == 0 {
		return nil
	}
	out := make([]ria.ValidationResultInfo, 0, len(results))
	for _, r := range results {
		out = append(out, r.Info())
	}
	return out
}

// DecodeValidationErrors converts wire validation records into results.
func DecodeValidationErrors(infos []ria.ValidationResultInfo) []ria.ValidationResult {
	if len(infos) == 0 {
		return nil
	}
	out := make([]ria.ValidationResult, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Result())
	}
	return out
}

// EncodeQueryResult builds the marked query response for entities of typeName.
func EncodeQueryResult(typeName string, res *ria.QueryCompletedResult) QueryResponse {
	resp := QueryResponse{
		Type:             ContractName(ria.QueryResultContractName(typeName)),
		RootResults:      make([]map[string]any, 0, len(res.Entities)),
		TotalCount:       res.TotalCount,
		ValidationErrors: EncodeValidationErrors(res.ValidationErrors),
	}
	for _, e := range res.Entities {
		resp.RootResults = append(resp.RootResults, EncodeEntity(e))
	}
	for _, e := range res.IncludedEntities {
		resp.IncludedResults = append(resp.IncludedResults, EncodeEntity(e))
	}
	return resp
}

// DecodeQueryResult rebuilds a query result. Entities without a marker are
// taken to be of typeName.
func DecodeQueryResult(registry ria.TypeRegistry, typeName string, resp QueryResponse) (*ria.QueryCompletedResult, error) {
	if resp.Type != "" {
		want := ContractName(ria.QueryResultContractName(typeName))
		if resp.Type != want {
			return nil, fmt.Errorf("unexpected query result contract %q, want %q", resp.Type, want)
		}
	}
	res := &ria.QueryCompletedResult{
		TotalCount:       resp.TotalCount,
		ValidationErrors: DecodeValidationErrors(resp.ValidationErrors),
	}
	for i, m := range resp.RootResults {
		e, err := DecodeMarkedEntity(registry, m, typeName)
		if err != nil {
			return nil, fmt.Errorf("root result %d: %w", i, err)
		}
		res.Entities = append(res.Entities, e)
	}
	for i, m := range resp.IncludedResults {
		e, err := DecodeMarkedEntity(registry, m, "")
		if err != nil {
			return nil, fmt.Errorf("included result %d: %w", i, err)
		}
		res.IncludedEntities = append(res.IncludedEntities, e)
	}
	return res, nil
}
