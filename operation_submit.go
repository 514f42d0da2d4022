package ria

import (
	"errors"
	"fmt"
)

const (
	submitValidationFailedMessage = "submit operation failed validation; inspect the validation errors of each entity in error"
	submitConflictsMessage        = "submit operation failed due to conflicts; inspect the conflict of each entity in error"
)

// SubmitOperation tracks the submission of one change set.
type SubmitOperation struct {
	operation
	changeSet *EntityChangeSet
	callback  func(*SubmitOperation)
}

// NewSubmitOperation creates a pending submit operation. callback, when set,
// runs once after the operation completes or is canceled.
func NewSubmitOperation(changeSet *EntityChangeSet, callback func(*SubmitOperation), userState any, cancel func()) *SubmitOperation {
	op := &SubmitOperation{changeSet: changeSet, callback: callback}
	op.init(userState, cancel, func() {
		if op.callback != nil {
			op.callback(op)
		}
	})
	return op
}

// ChangeSet returns the submitted change set.
func (op *SubmitOperation) ChangeSet() *EntityChangeSet {
	return op.changeSet
}

// EntitiesInError returns the change-set entities that currently have a
// conflict or validation errors.
func (op *SubmitOperation) EntitiesInError() []*Entity {
	return entitiesInError(op.changeSet)
}

// Complete finishes the operation successfully.
func (op *SubmitOperation) Complete() error {
	return op.finish(OperationCompleted, nil, nil)
}

// CompleteWithError finishes the operation with err. Fatal domain errors are
// kept as is; every other error is wrapped in a SubmitOperationError that
// carries the change set.
func (op *SubmitOperation) CompleteWithError(err error) error {
	if err == nil {
		return op.Complete()
	}
	return op.finish(OperationCompleted, translateSubmitError(op.changeSet, err), nil)
}

// CompleteWithStatus finishes the operation with a synthesized error for
// StatusValidationFailed or StatusConflicts. Any other status is rejected with
// ErrUnsupportedCompletionStatus and the operation stays pending.
func (op *SubmitOperation) CompleteWithStatus(status OperationErrorStatus) error {
	var message string
	switch status {
	case StatusValidationFailed:
		message = submitValidationFailedMessage
	case StatusConflicts:
		message = submitConflictsMessage
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompletionStatus, status)
	}
	return op.finish(OperationCompleted, NewSubmitOperationError(op.changeSet, message, status), nil)
}

func translateSubmitError(cs *EntityChangeSet, err error) error {
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	var soe *SubmitOperationError
	if errors.As(err, &soe) && soe.changeSet == cs {
		return err
	}
	var doe *DomainOperationError
	if errors.As(err, &doe) {
		return newSubmitOperationErrorFrom(cs, submitFailedMessage(doe.Message), doe)
	}
	soe = NewSubmitOperationError(cs, submitFailedMessage(err.Error()), StatusServerError)
	soe.Cause = err
	return soe
}

func submitFailedMessage(detail string) string {
	return fmt.Sprintf("submit operation failed: %s", detail)
}
