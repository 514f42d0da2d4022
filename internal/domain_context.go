package internal

import (
	"context"
	"sync"
	"time"

	"github.com/lychee-technology/ria"
	"go.uber.org/zap"
)

// domainContext drives operations for one EntityContainer. Results are
// merged on the goroutine that completes the operation; callers observe them
// through callbacks or Done and must not edit tracked entities while an
// operation is in flight.
type domainContext struct {
	client           ria.DomainClient
	container        *ria.EntityContainer
	validator        ria.Validator
	validateOnSubmit bool
	timeout          time.Duration

	mu         sync.Mutex
	submitting bool
}

// DomainContextOptions configures NewDomainContext.
type DomainContextOptions struct {
	// Validator runs before submit when ValidateOnSubmit is set.
	Validator        ria.Validator
	ValidateOnSubmit bool
	// Timeout bounds each transport call. Zero means no limit.
	Timeout time.Duration
}

// NewDomainContext creates a context over client with an empty container.
func NewDomainContext(client ria.DomainClient, opts DomainContextOptions) ria.DomainContext {
	return &domainContext{
		client:           client,
		container:        ria.NewEntityContainer(),
		validator:        opts.Validator,
		validateOnSubmit: opts.ValidateOnSubmit,
		timeout:          opts.Timeout,
	}
}

func (c *domainContext) Container() *ria.EntityContainer {
	return c.container
}

func (c *domainContext) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.container.HasChanges()
}

func (c *domainContext) RejectChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.container.RejectChanges()
}

func (c *domainContext) IsSubmitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

func (c *domainContext) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *domainContext) Load(ctx context.Context, query *ria.EntityQuery, behavior ria.LoadBehavior, callback func(*ria.LoadOperation), userState any) *ria.LoadOperation {
	ctx, cancel := c.operationContext(ctx)
	op := ria.NewLoadOperation(query, behavior, callback, userState, cancel)
	start := time.Now()

	go func() {
		defer cancel()
		res, err := c.client.Query(ctx, query)
		if op.IsCanceled() {
			finishTelemetry(ctx, "load", start, nil, true)
			return
		}
		switch {
		case err != nil:
			zap.S().Warnw("load failed", "query", query.String(), "error", err)
			op.CompleteWithError(err)
		case res == nil:
			op.Complete(&ria.LoadResult{Query: query, LoadBehavior: behavior, TotalEntityCount: -1})
		case len(res.ValidationErrors) > 0:
			op.CompleteWithValidationErrors(res.ValidationErrors)
		default:
			result, mergeErr := c.merge(query, behavior, res)
			if mergeErr != nil {
				zap.S().Warnw("load results could not be merged", "query", query.String(), "error", mergeErr)
				op.CompleteWithError(mergeErr)
				break
			}
			zap.S().Debugw("load completed", "query", query.String(), "entities", len(result.Entities))
			op.Complete(result)
		}
		finishTelemetry(ctx, "load", start, op.Error(), false)
	}()
	return op
}

func (c *domainContext) merge(query *ria.EntityQuery, behavior ria.LoadBehavior, res *ria.QueryCompletedResult) (*ria.LoadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]*ria.Entity, 0, len(res.Entities)+len(res.IncludedEntities))
	all = append(all, res.Entities...)
	all = append(all, res.IncludedEntities...)
	tracked, err := c.container.LoadEntities(all, behavior)
	if err != nil {
		return nil, err
	}
	return &ria.LoadResult{
		Query:            query,
		LoadBehavior:     behavior,
		Entities:         tracked[:len(res.Entities)],
		AllEntities:      tracked,
		TotalEntityCount: res.TotalCount,
	}, nil
}

func (c *domainContext) SubmitChanges(ctx context.Context, callback func(*ria.SubmitOperation), userState any) *ria.SubmitOperation {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		op := ria.NewSubmitOperation(nil, callback, userState, nil)
		op.CompleteWithError(ria.NewDomainError("cannot submit changes", ria.ErrSubmitInProgress))
		return op
	}
	changeSet, err := c.container.ChangeSet()
	if err != nil {
		c.mu.Unlock()
		op := ria.NewSubmitOperation(nil, callback, userState, nil)
		op.CompleteWithError(err)
		return op
	}

	ctx, cancel := c.operationContext(ctx)
	op := ria.NewSubmitOperation(changeSet, callback, userState, cancel)
	if changeSet.IsEmpty() {
		c.mu.Unlock()
		cancel()
		op.Complete()
		return op
	}
	if c.validateOnSubmit && c.validator != nil && !changeSet.Validate(ctx, c.validator) {
		c.mu.Unlock()
		cancel()
		zap.S().Debugw("submit stopped by validation", "changeSet", changeSet.String())
		op.CompleteWithStatus(ria.StatusValidationFailed)
		return op
	}
	c.submitting = true
	c.mu.Unlock()

	start := time.Now()
	go func() {
		defer cancel()
		res, err := c.client.Submit(ctx, changeSet)
		if op.IsCanceled() {
			c.endSubmit()
			finishTelemetry(ctx, "submit", start, nil, true)
			return
		}
		if err != nil {
			c.endSubmit()
			zap.S().Warnw("submit failed", "changeSet", changeSet.String(), "error", err)
			op.CompleteWithError(err)
			finishTelemetry(ctx, "submit", start, err, false)
			return
		}

		var results []*ria.ChangeSetEntry
		if res != nil {
			results = res.Results
		}
		c.mu.Lock()
		status, ok := c.container.ApplySubmitResults(changeSet, results)
		c.submitting = false
		c.mu.Unlock()
		if ok {
			zap.S().Debugw("submit completed", "changeSet", changeSet.String())
			op.Complete()
		} else {
			zap.S().Infow("submit returned errors", "changeSet", changeSet.String(), "status", status)
			op.CompleteWithStatus(status)
		}
		finishTelemetry(ctx, "submit", start, op.Error(), false)
	}()
	return op
}

func (c *domainContext) endSubmit() {
	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()
}

func (c *domainContext) Invoke(ctx context.Context, name string, parameters map[string]any, callback func(*ria.InvokeOperation[any]), userState any) *ria.InvokeOperation[any] {
	ctx, cancel := c.operationContext(ctx)
	start := time.Now()
	args := &ria.InvokeArgs{OperationName: name, Parameters: parameters}
	return ria.Invoke(ctx, c.client, args, func(op *ria.InvokeOperation[any]) {
		cancel()
		if err := op.Error(); err != nil {
			zap.S().Warnw("invoke failed", "operation", name, "error", err)
		}
		finishTelemetry(ctx, "invoke", start, op.Error(), op.IsCanceled())
		if callback != nil {
			callback(op)
		}
	}, userState)
}

func finishTelemetry(ctx context.Context, kind string, start time.Time, err error, canceled bool) {
	ctx = context.WithoutCancel(ctx)
	EmitOperationCompleted(ctx, kind, operationOutcome(err, canceled))
	EmitOperationLatency(ctx, kind, time.Since(start).Milliseconds())
}
