package ria

import (
	"context"
	"fmt"
	"sync"
)

// OperationState is the lifecycle state of an asynchronous operation.
type OperationState int

const (
	OperationPending OperationState = iota
	OperationCompleted
	OperationCanceled
)

func (s OperationState) String() string {
	switch s {
	case OperationPending:
		return "Pending"
	case OperationCompleted:
		return "Completed"
	case OperationCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("OperationState(%d)", int(s))
	}
}

// operation is the shared state machine of query, submit and invoke
// operations. It completes exactly once, either Completed or Canceled.
type operation struct {
	mu        sync.Mutex
	state     OperationState
	err       error
	userState any
	cancelFn  func()
	done      chan struct{}

	// notify runs the typed user callback after completion.
	notify func()
}

func (o *operation) init(userState any, cancel func(), notify func()) {
	o.userState = userState
	o.cancelFn = cancel
	o.notify = notify
	o.done = make(chan struct{})
}

// State returns the current state.
func (o *operation) State() OperationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsComplete reports whether the operation completed or was canceled.
func (o *operation) IsComplete() bool {
	return o.State() != OperationPending
}

// IsCanceled reports whether the operation was canceled.
func (o *operation) IsCanceled() bool {
	return o.State() == OperationCanceled
}

// Error returns the failure the operation completed with, if any.
func (o *operation) Error() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// HasError reports whether the operation completed with a failure.
func (o *operation) HasError() bool {
	return o.Error() != nil
}

// UserState returns the caller-supplied state object.
func (o *operation) UserState() any {
	return o.userState
}

// CanCancel reports whether the operation is pending and was given a cancel
// function.
func (o *operation) CanCancel() bool {
	return o.cancelFn != nil && !o.IsComplete()
}

// Cancel stops the operation. It fails with ErrCancelNotSupported when no
// cancel function was supplied and with ErrOperationCompleted when the
// operation already finished.
func (o *operation) Cancel() error {
	if o.cancelFn == nil {
		return ErrCancelNotSupported
	}
	// The state moves first so a producer racing with Cancel cannot complete
	// the operation after its context was canceled.
	if !o.transition(OperationCanceled, nil, nil) {
		return ErrOperationCompleted
	}
	o.cancelFn()
	o.signal()
	return nil
}

// Done is closed once the operation completes or is canceled.
func (o *operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation finishes or ctx is done.
func (o *operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish moves a pending operation to state. apply runs under the lock
// before the transition so result fields are visible once Done is closed.
func (o *operation) finish(state OperationState, err error, apply func()) error {
	if !o.transition(state, err, apply) {
		return ErrOperationCompleted
	}
	o.signal()
	return nil
}

func (o *operation) transition(state OperationState, err error, apply func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != OperationPending {
		return false
	}
	if apply != nil {
		apply()
	}
	o.state = state
	o.err = err
	return true
}

func (o *operation) signal() {
	close(o.done)
	if o.notify != nil {
		o.notify()
	}
}
