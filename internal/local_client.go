package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
)

// localClient calls a DomainService in process. Entries and return values
// pass through the wire translators so neither side shares instances with
// the other.
type localClient struct {
	service *DomainService
}

// NewLocalClient creates a DomainClient bound to service.
func NewLocalClient(service *DomainService) ria.DomainClient {
	return &localClient{service: service}
}

func (c *localClient) Query(ctx context.Context, query *ria.EntityQuery) (*ria.QueryCompletedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.service.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return wire.DecodeQueryResult(c.service.Registry(), query.EntityType, wire.EncodeQueryResult(query.EntityType, res))
}

func (c *localClient) Submit(ctx context.Context, changeSet *ria.EntityChangeSet) (*ria.SubmitCompletedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	registry := c.service.Registry()
	entries, err := wire.DecodeEntries(registry, wire.EncodeEntries(changeSet.GetChangeSetEntries()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode change set: %w", err)
	}
	processed, err := c.service.Submit(ctx, entries)
	if err != nil {
		return nil, err
	}
	results, err := wire.DecodeEntries(registry, wire.EncodeEntries(processed))
	if err != nil {
		return nil, fmt.Errorf("failed to decode submit results: %w", err)
	}
	return &ria.SubmitCompletedResult{ChangeSet: changeSet, Results: results}, nil
}

func (c *localClient) Invoke(ctx context.Context, args *ria.InvokeArgs) (*ria.InvokeCompletedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.service.Invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res.ReturnValue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode return value of %s: %w", args.OperationName, err)
	}
	return &ria.InvokeCompletedResult{ReturnValue: json.RawMessage(raw), ValidationErrors: res.ValidationErrors}, nil
}
