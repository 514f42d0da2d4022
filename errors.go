package ria

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// OperationErrorStatus categorizes a recoverable domain operation failure.
type OperationErrorStatus string

const (
	StatusNotFound         OperationErrorStatus = "not_found"
	StatusServerError      OperationErrorStatus = "server_error"
	StatusNotSupported     OperationErrorStatus = "not_supported"
	StatusUnauthorized     OperationErrorStatus = "unauthorized"
	StatusValidationFailed OperationErrorStatus = "validation_failed"
	StatusConflicts        OperationErrorStatus = "conflicts"
)

// Sentinel errors returned by the entity model and the operation types.
var (
	ErrInvalidKey                  = errors.New("invalid entity key")
	ErrReadOnlyMember              = errors.New("member is read-only")
	ErrUnknownMember               = errors.New("unknown member")
	ErrUnknownMethod               = errors.New("unknown custom method")
	ErrUnknownEntityType           = errors.New("unknown entity type")
	ErrOverlappingChangeSet        = errors.New("entity appears in more than one change set group")
	ErrConflictDeleted             = errors.New("entity was deleted on the server; no conflicting members are available")
	ErrEntityNotTracked            = errors.New("entity is not tracked by the container")
	ErrEntityAlreadyTracked        = errors.New("an entity with the same key is already tracked")
	ErrInvalidEntityState          = errors.New("invalid entity state for operation")
	ErrOperationCompleted          = errors.New("operation has already completed")
	ErrCancelNotSupported          = errors.New("operation does not support cancellation")
	ErrUnsupportedCompletionStatus = errors.New("operation error status cannot be synthesized")
	ErrSubmitInProgress            = errors.New("a submit operation is already in progress")
)

// DomainError signals an unrecoverable condition. It is never re-wrapped by
// operation completion.
type DomainError struct {
	Message    string
	ErrorCode  int
	stackTrace string
	Cause      error
}

// NewDomainError creates a fatal domain error.
func NewDomainError(message string, cause error) *DomainError {
	return &DomainError{
		Message:    message,
		Cause:      cause,
		stackTrace: captureStack(2),
	}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// WithStackTrace overrides the stack text, for errors that crossed a tier.
func (e *DomainError) WithStackTrace(stack string) *DomainError {
	e.stackTrace = stack
	return e
}

// WithErrorCode sets a user-defined error code.
func (e *DomainError) WithErrorCode(code int) *DomainError {
	e.ErrorCode = code
	return e
}

// StackTrace returns the overridden stack text or the stack captured at construction.
func (e *DomainError) StackTrace() string {
	return e.stackTrace
}

// DomainOperationError is a recoverable failure of a query, submit or invoke
// operation.
type DomainOperationError struct {
	Message          string
	Status           OperationErrorStatus
	ErrorCode        int
	ValidationErrors []ValidationResult
	Cause            error

	capturedStack string
	liveStack     string
}

// NewDomainOperationError creates an operation error. ValidationErrors is copied
// so later changes to the caller's slice do not leak in.
func NewDomainOperationError(message string, status OperationErrorStatus, validationErrors []ValidationResult) *DomainOperationError {
	return &DomainOperationError{
		Message:          message,
		Status:           status,
		ValidationErrors: copyValidationResults(validationErrors),
		liveStack:        captureStack(2),
	}
}

// NewDomainOperationErrorFrom builds a new operation error with message,
// preserving everything else carried by src.
func NewDomainOperationErrorFrom(message string, src *DomainOperationError) *DomainOperationError {
	e := NewDomainOperationError(message, src.Status, src.ValidationErrors)
	e.ErrorCode = src.ErrorCode
	e.Cause = src.Cause
	e.capturedStack = src.StackTrace()
	return e
}

func (e *DomainOperationError) Error() string {
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DomainOperationError) Unwrap() error {
	return e.Cause
}

// WithCause sets the inner error.
func (e *DomainOperationError) WithCause(cause error) *DomainOperationError {
	e.Cause = cause
	return e
}

// WithErrorCode sets a user-defined error code.
func (e *DomainOperationError) WithErrorCode(code int) *DomainOperationError {
	e.ErrorCode = code
	return e
}

// WithStackTrace records a stack text captured on another tier.
func (e *DomainOperationError) WithStackTrace(stack string) *DomainOperationError {
	e.capturedStack = stack
	return e
}

// StackTrace returns the captured stack text when one was supplied, else the
// stack of the goroutine that created the error.
func (e *DomainOperationError) StackTrace() string {
	if e.capturedStack != "" {
		return e.capturedStack
	}
	return e.liveStack
}

// Payload flattens the error into its serializable form.
func (e *DomainOperationError) Payload() ErrorPayload {
	infos := make([]ValidationResultInfo, 0, len(e.ValidationErrors))
	for _, r := range e.ValidationErrors {
		infos = append(infos, r.Info())
	}
	return ErrorPayload{
		Status:           e.Status,
		ErrorCode:        e.ErrorCode,
		Message:          e.Message,
		StackTrace:       e.capturedStack,
		ValidationErrors: infos,
	}
}

// SubmitOperationError is a DomainOperationError raised by a failed submit. It
// snapshots the entities in error at construction time.
type SubmitOperationError struct {
	*DomainOperationError
	changeSet       *EntityChangeSet
	entitiesInError []*Entity
}

// NewSubmitOperationError creates a submit error for changeSet. The validation
// errors of every entity in error are flattened into ValidationErrors.
func NewSubmitOperationError(changeSet *EntityChangeSet, message string, status OperationErrorStatus) *SubmitOperationError {
	inError := entitiesInError(changeSet)
	var results []ValidationResult
	for _, e := range inError {
		results = append(results, e.ValidationErrors().All()...)
	}
	doe := NewDomainOperationError(message, status, results)
	doe.liveStack = captureStack(2)
	return &SubmitOperationError{
		DomainOperationError: doe,
		changeSet:            changeSet,
		entitiesInError:      inError,
	}
}

// newSubmitOperationErrorFrom re-wraps src for changeSet, keeping its status,
// code, stack and cause.
func newSubmitOperationErrorFrom(changeSet *EntityChangeSet, message string, src *DomainOperationError) *SubmitOperationError {
	e := NewSubmitOperationError(changeSet, message, src.Status)
	e.ErrorCode = src.ErrorCode
	e.Cause = src.Cause
	e.capturedStack = src.StackTrace()
	if len(src.ValidationErrors) > 0 {
		e.ValidationErrors = copyValidationResults(src.ValidationErrors)
	}
	return e
}

// ChangeSet returns the change set whose submission failed.
func (e *SubmitOperationError) ChangeSet() *EntityChangeSet {
	return e.changeSet
}

// EntitiesInError returns the entities that had a conflict or validation
// errors when the error was created.
func (e *SubmitOperationError) EntitiesInError() []*Entity {
	out := make([]*Entity, len(e.entitiesInError))
	copy(out, e.entitiesInError)
	return out
}

func (e *SubmitOperationError) Unwrap() []error {
	errs := []error{e.DomainOperationError}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ErrorPayload is the serializable error exchanged with a domain service.
type ErrorPayload struct {
	Status           OperationErrorStatus   `json:"status"`
	ErrorCode        int                    `json:"errorCode,omitempty"`
	Message          string                 `json:"message"`
	StackTrace       string                 `json:"stackTrace,omitempty"`
	ValidationErrors []ValidationResultInfo `json:"validationErrors,omitempty"`
	Fatal            bool                   `json:"fatal,omitempty"`
}

// Err converts the payload back into the error taxonomy.
func (p ErrorPayload) Err() error {
	if p.Fatal {
		return NewDomainError(p.Message, nil).WithErrorCode(p.ErrorCode).WithStackTrace(p.StackTrace)
	}
	results := make([]ValidationResult, 0, len(p.ValidationErrors))
	for _, info := range p.ValidationErrors {
		results = append(results, info.Result())
	}
	status := p.Status
	if status == "" {
		status = StatusServerError
	}
	return NewDomainOperationError(p.Message, status, results).
		WithErrorCode(p.ErrorCode).
		WithStackTrace(p.StackTrace)
}

// PayloadFromError builds the wire payload for any error.
func PayloadFromError(err error) ErrorPayload {
	var doe *DomainOperationError
	if errors.As(err, &doe) {
		return doe.Payload()
	}
	var de *DomainError
	if errors.As(err, &de) {
		return ErrorPayload{
			Status:     StatusServerError,
			ErrorCode:  de.ErrorCode,
			Message:    de.Message,
			StackTrace: de.stackTrace,
			Fatal:      true,
		}
	}
	return ErrorPayload{Status: StatusServerError, Message: err.Error()}
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
