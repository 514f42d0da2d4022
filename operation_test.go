package ria

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitFixture(t *testing.T) (*EntityChangeSet, *Entity) {
	t.Helper()
	bad := newCustomer(1, "")
	bad.ValidationErrors().Add(NewValidationResult("name is required", "name"))
	cs, err := NewEntityChangeSet([]*Entity{bad, newCustomer(2, "ok")}, nil, nil)
	require.NoError(t, err)
	return cs, bad
}

// =============================================================================
// SubmitOperation
// =============================================================================

func TestSubmitOperation_CompleteWithError_DomainErrorPassesThrough(t *testing.T) {
	cs, _ := submitFixture(t)
	op := NewSubmitOperation(cs, nil, nil, nil)
	fatal := NewDomainError("store corrupted", nil)

	require.NoError(t, op.CompleteWithError(fatal))
	assert.Same(t, fatal, op.Error())
}

func TestSubmitOperation_CompleteWithError_WrapsPlainError(t *testing.T) {
	cs, bad := submitFixture(t)
	op := NewSubmitOperation(cs, nil, nil, nil)
	cause := errors.New("connection reset")

	require.NoError(t, op.CompleteWithError(cause))

	var soe *SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Same(t, cause, soe.Cause)
	assert.ErrorIs(t, op.Error(), cause)
	assert.Same(t, cs, soe.ChangeSet())
	assert.Equal(t, StatusServerError, soe.Status)
	assert.Equal(t, "submit operation failed: connection reset", soe.Message)
	assert.Equal(t, []*Entity{bad}, soe.EntitiesInError())
	assert.Equal(t, []ValidationResult{NewValidationResult("name is required", "name")}, soe.ValidationErrors)
}

func TestSubmitOperation_CompleteWithError_RewrapsOperationError(t *testing.T) {
	cs, _ := submitFixture(t)
	op := NewSubmitOperation(cs, nil, nil, nil)
	cause := errors.New("row locked")
	src := NewDomainOperationError("access denied", StatusUnauthorized, []ValidationResult{NewValidationResult("x")}).
		WithErrorCode(42).
		WithStackTrace("remote stack").
		WithCause(cause)

	require.NoError(t, op.CompleteWithError(src))

	var soe *SubmitOperationError
	require.ErrorAs(t, op.Error(), &soe)
	assert.Equal(t, "submit operation failed: access denied", soe.Message)
	assert.Equal(t, StatusUnauthorized, soe.Status)
	assert.Equal(t, 42, soe.ErrorCode)
	assert.Equal(t, "remote stack", soe.StackTrace())
	assert.Equal(t, []ValidationResult{NewValidationResult("x")}, soe.ValidationErrors)
	assert.ErrorIs(t, op.Error(), cause)
}

func TestSubmitOperation_CompleteWithStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  OperationErrorStatus
		wantErr error
	}{
		{name: "validation failed", status: StatusValidationFailed},
		{name: "conflicts", status: StatusConflicts},
		{name: "not found is rejected", status: StatusNotFound, wantErr: ErrUnsupportedCompletionStatus},
		{name: "server error is rejected", status: StatusServerError, wantErr: ErrUnsupportedCompletionStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, bad := submitFixture(t)
			op := NewSubmitOperation(cs, nil, nil, nil)

			err := op.CompleteWithStatus(tt.status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, op.IsComplete())
				return
			}
			require.NoError(t, err)
			var soe *SubmitOperationError
			require.ErrorAs(t, op.Error(), &soe)
			assert.Equal(t, tt.status, soe.Status)
			assert.Equal(t, []*Entity{bad}, op.EntitiesInError())
		})
	}
}

func TestSubmitOperation_CallbackAndDone(t *testing.T) {
	cs, _ := submitFixture(t)
	calls := 0
	op := NewSubmitOperation(cs, func(o *SubmitOperation) {
		calls++
		assert.True(t, o.IsComplete())
	}, "state", nil)

	require.NoError(t, op.Complete())
	assert.Equal(t, 1, calls)
	assert.Equal(t, "state", op.UserState())
	assert.False(t, op.HasError())
	require.NoError(t, op.Wait(context.Background()))

	assert.ErrorIs(t, op.Complete(), ErrOperationCompleted)
	assert.ErrorIs(t, op.CompleteWithError(errors.New("late")), ErrOperationCompleted)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// Cancellation
// =============================================================================

func TestOperation_Cancel(t *testing.T) {
	cs, _ := submitFixture(t)

	op := NewSubmitOperation(cs, nil, nil, nil)
	assert.False(t, op.CanCancel())
	assert.ErrorIs(t, op.Cancel(), ErrCancelNotSupported)
	assert.False(t, op.IsComplete())

	canceled := false
	op = NewSubmitOperation(cs, nil, nil, func() { canceled = true })
	assert.True(t, op.CanCancel())
	require.NoError(t, op.Cancel())
	assert.True(t, canceled)
	assert.True(t, op.IsCanceled())
	assert.Equal(t, OperationCanceled, op.State())
	assert.ErrorIs(t, op.Cancel(), ErrOperationCompleted)
	assert.ErrorIs(t, op.Complete(), ErrOperationCompleted)
}

func TestOperation_WaitHonoursContext(t *testing.T) {
	cs, _ := submitFixture(t)
	op := NewSubmitOperation(cs, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, op.Wait(ctx), context.DeadlineExceeded)
}

// =============================================================================
// InvokeOperation
// =============================================================================

func TestInvokeOperation_Completion(t *testing.T) {
	op := NewInvokeOperation[int]("CountOrders", map[string]any{"customer": 1}, nil, nil, nil)
	require.NoError(t, op.Complete(7))
	assert.Equal(t, 7, op.Value())
	assert.Equal(t, "CountOrders", op.OperationName())
	assert.Equal(t, map[string]any{"customer": 1}, op.Parameters())

	op = NewInvokeOperation[int]("CountOrders", nil, nil, nil, nil)
	results := []ValidationResult{NewValidationResult("customer is required", "customer")}
	require.NoError(t, op.CompleteWithValidationErrors(results))
	var doe *DomainOperationError
	require.ErrorAs(t, op.Error(), &doe)
	assert.Equal(t, StatusValidationFailed, doe.Status)
	assert.Equal(t, results, op.ValidationErrors())
	assert.Equal(t, results, doe.ValidationErrors)
	assert.Zero(t, op.Value())
}

func TestInvokeOperation_CompleteWithError(t *testing.T) {
	fatal := NewDomainError("boom", nil)
	op := NewInvokeOperation[string]("Echo", nil, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(fatal))
	assert.Same(t, fatal, op.Error())

	cause := errors.New("timeout")
	op = NewInvokeOperation[string]("Echo", nil, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(cause))
	var doe *DomainOperationError
	require.ErrorAs(t, op.Error(), &doe)
	assert.Equal(t, StatusServerError, doe.Status)
	assert.Equal(t, "invoke operation 'Echo' failed: timeout", doe.Message)
	assert.ErrorIs(t, op.Error(), cause)
	assert.NotNil(t, doe.ValidationErrors)
}

func TestInvokeOperation_CompleteWithOperationError(t *testing.T) {
	results := []ValidationResult{NewValidationResult("tier is locked", "tier")}
	cause := errors.New("row locked")
	src := NewDomainOperationError("cannot promote", StatusValidationFailed, results).
		WithErrorCode(42).
		WithStackTrace("at Promote()").
		WithCause(cause)

	op := NewInvokeOperation[string]("Promote", nil, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(src))

	var doe *DomainOperationError
	require.ErrorAs(t, op.Error(), &doe)
	assert.NotSame(t, src, doe)
	assert.Equal(t, "invoke operation 'Promote' failed: cannot promote", doe.Message)
	assert.Equal(t, StatusValidationFailed, doe.Status)
	assert.Equal(t, 42, doe.ErrorCode)
	assert.Equal(t, "at Promote()", doe.StackTrace())
	assert.Equal(t, results, doe.ValidationErrors)
	assert.Equal(t, results, op.ValidationErrors())
	assert.ErrorIs(t, op.Error(), cause)
}

func TestLoadOperation_CompleteWithError(t *testing.T) {
	query := &EntityQuery{EntityType: "Customer", QueryName: "All"}

	fatal := NewDomainError("boom", nil)
	op := NewLoadOperation(query, LoadMergeIntoCurrent, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(fatal))
	assert.Same(t, fatal, op.Error())

	src := NewDomainOperationError("no access", StatusUnauthorized, nil).WithErrorCode(7).WithStackTrace("remote stack")
	op = NewLoadOperation(query, LoadMergeIntoCurrent, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(src))
	var doe *DomainOperationError
	require.ErrorAs(t, op.Error(), &doe)
	assert.Equal(t, "load operation failed for query 'Customer/All': no access", doe.Message)
	assert.Equal(t, StatusUnauthorized, doe.Status)
	assert.Equal(t, 7, doe.ErrorCode)
	assert.Equal(t, "remote stack", doe.StackTrace())

	cause := errors.New("connection reset")
	op = NewLoadOperation(query, LoadMergeIntoCurrent, nil, nil, nil)
	require.NoError(t, op.CompleteWithError(cause))
	require.ErrorAs(t, op.Error(), &doe)
	assert.Equal(t, StatusServerError, doe.Status)
	assert.ErrorIs(t, op.Error(), cause)
	assert.Nil(t, op.Result())
}

type invokeClient struct {
	result *InvokeCompletedResult
	err    error
	block  chan struct{}
}

func (c *invokeClient) Query(context.Context, *EntityQuery) (*QueryCompletedResult, error) {
	return nil, errors.New("not implemented")
}

func (c *invokeClient) Submit(context.Context, *EntityChangeSet) (*SubmitCompletedResult, error) {
	return nil, errors.New("not implemented")
}

func (c *invokeClient) Invoke(ctx context.Context, _ *InvokeArgs) (*InvokeCompletedResult, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.result, c.err
}

func TestInvoke_DecodesTypedValue(t *testing.T) {
	type summary struct {
		Count int    `json:"count"`
		Tier  string `json:"tier"`
	}
	client := &invokeClient{result: &InvokeCompletedResult{ReturnValue: json.RawMessage(`{"count":3,"tier":"gold"}`)}}

	op := Invoke[summary](context.Background(), client, &InvokeArgs{OperationName: "Summarize"}, nil, nil)
	require.NoError(t, op.Wait(context.Background()))
	require.NoError(t, op.Error())
	assert.Equal(t, summary{Count: 3, Tier: "gold"}, op.Value())
}

func TestInvoke_ConvertsBoxedNumbers(t *testing.T) {
	client := &invokeClient{result: &InvokeCompletedResult{ReturnValue: float64(12)}}

	op := Invoke[int](context.Background(), client, &InvokeArgs{OperationName: "Count"}, nil, nil)
	require.NoError(t, op.Wait(context.Background()))
	assert.Equal(t, 12, op.Value())
}

func TestInvoke_Cancel(t *testing.T) {
	client := &invokeClient{block: make(chan struct{})}
	done := make(chan struct{})
	op := Invoke[int](context.Background(), client, &InvokeArgs{OperationName: "Slow"}, func(*InvokeOperation[int]) {
		close(done)
	}, nil)

	require.NoError(t, op.Cancel())
	<-done
	assert.True(t, op.IsCanceled())
	assert.NoError(t, op.Error())
}
