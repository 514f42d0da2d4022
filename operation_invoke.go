package ria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// InvokeOperation tracks a named domain operation whose return value has type T.
type InvokeOperation[T any] struct {
	operation
	name             string
	parameters       map[string]any
	value            T
	validationErrors []ValidationResult
	callback         func(*InvokeOperation[T])
}

// NewInvokeOperation creates a pending invoke operation.
func NewInvokeOperation[T any](name string, parameters map[string]any, callback func(*InvokeOperation[T]), userState any, cancel func()) *InvokeOperation[T] {
	op := &InvokeOperation[T]{
		name:       name,
		parameters: maps.Clone(parameters),
		callback:   callback,
	}
	op.init(userState, cancel, func() {
		if op.callback != nil {
			op.callback(op)
		}
	})
	return op
}

// OperationName returns the invoked operation's name.
func (op *InvokeOperation[T]) OperationName() string {
	return op.name
}

// Parameters returns a copy of the invocation parameters.
func (op *InvokeOperation[T]) Parameters() map[string]any {
	return maps.Clone(op.parameters)
}

// Value returns the return value. It is the zero value until the operation
// completes successfully.
func (op *InvokeOperation[T]) Value() T {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.value
}

// ValidationErrors returns the validation results reported by the server.
func (op *InvokeOperation[T]) ValidationErrors() []ValidationResult {
	op.mu.Lock()
	defer op.mu.Unlock()
	return copyValidationResults(op.validationErrors)
}

// Complete finishes the operation with value.
func (op *InvokeOperation[T]) Complete(value T) error {
	return op.finish(OperationCompleted, nil, func() { op.value = value })
}

// CompleteWithValidationErrors finishes the operation with a ValidationFailed
// error carrying results.
func (op *InvokeOperation[T]) CompleteWithValidationErrors(results []ValidationResult) error {
	msg := fmt.Sprintf("invoke operation '%s' failed due to validation errors", op.name)
	err := NewDomainOperationError(msg, StatusValidationFailed, results)
	return op.finish(OperationCompleted, err, func() {
		op.validationErrors = copyValidationResults(results)
	})
}

// CompleteWithError finishes the operation with err, translated the same way
// submit errors are.
func (op *InvokeOperation[T]) CompleteWithError(err error) error {
	if err == nil {
		var zero T
		return op.Complete(zero)
	}
	translated := translateOperationError(err, func(detail string) string {
		return fmt.Sprintf("invoke operation '%s' failed: %s", op.name, detail)
	})
	var results []ValidationResult
	var doe *DomainOperationError
	if errors.As(translated, &doe) {
		results = doe.ValidationErrors
	}
	return op.finish(OperationCompleted, translated, func() {
		op.validationErrors = copyValidationResults(results)
	})
}

// InvokeArgs describes a call to a named domain operation.
type InvokeArgs struct {
	OperationName  string
	Parameters     map[string]any
	HasSideEffects bool
}

// Invoke calls a named domain operation through client and decodes the return
// value into T. The call runs on its own goroutine. Failures surface through
// the returned operation, never from Invoke itself.
func Invoke[T any](ctx context.Context, client DomainClient, args *InvokeArgs, callback func(*InvokeOperation[T]), userState any) *InvokeOperation[T] {
	ctx, cancel := context.WithCancel(ctx)
	op := NewInvokeOperation(args.OperationName, args.Parameters, callback, userState, cancel)
	go func() {
		defer cancel()
		res, err := client.Invoke(ctx, args)
		if op.IsCanceled() {
			return
		}
		CompleteInvoke(op, res, err)
	}()
	return op
}

// CompleteInvoke finishes op from a transport result.
func CompleteInvoke[T any](op *InvokeOperation[T], res *InvokeCompletedResult, err error) error {
	if err != nil {
		return op.CompleteWithError(err)
	}
	if res == nil {
		var zero T
		return op.Complete(zero)
	}
	if len(res.ValidationErrors) > 0 {
		return op.CompleteWithValidationErrors(res.ValidationErrors)
	}
	value, err := convertValue[T](res.ReturnValue)
	if err != nil {
		return op.CompleteWithError(NewDomainOperationError(
			fmt.Sprintf("cannot decode return value of '%s'", op.name), StatusServerError, nil).WithCause(err))
	}
	return op.Complete(value)
}

// convertValue turns a boxed return value into T. Raw JSON is decoded, and
// other values that are not already T are round-tripped through JSON so that
// numbers and maps land in the declared type.
func convertValue[T any](v any) (T, error) {
	var out T
	switch val := v.(type) {
	case nil:
		return out, nil
	case json.RawMessage:
		if len(val) == 0 {
			return out, nil
		}
		err := json.Unmarshal(val, &out)
		return out, err
	case T:
		return val, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// translateOperationError applies the shared completion rules: fatal domain
// errors pass through, operation errors are re-wrapped with message and all
// else becomes a ServerError caused by err.
func translateOperationError(err error, message func(string) string) error {
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	var doe *DomainOperationError
	if errors.As(err, &doe) {
		return NewDomainOperationErrorFrom(message(doe.Message), doe)
	}
	return NewDomainOperationError(message(err.Error()), StatusServerError, nil).WithCause(err)
}
