// Package task models the asynchronous completion of an application call as
// an explicit result: succeeded, faulted or cancelled.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Status is the terminal state of a Task.
type Status int

const (
	StatusSucceeded Status = iota + 1
	StatusFaulted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFaulted:
		return "faulted"
	case StatusCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// ErrCanceled lets an application report cancellation without a context.
var ErrCanceled = errors.New("task canceled")

// Result is the outcome of a completed Task. Err is set only when faulted
// or cancelled.
type Result struct {
	Status Status
	Err    error
}

// PanicError wraps a value recovered from a panicking application.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("application panicked: %v", e.Value)
}

// Task is a single-assignment future.
type Task struct {
	done chan struct{}
	res  Result
}

// Go runs fn on a new goroutine and returns a Task completed with its outcome.
func Go(ctx context.Context, fn func(context.Context) error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		t.complete(call(ctx, fn))
	}()
	return t
}

// Run calls fn synchronously and returns the already completed Task.
func Run(ctx context.Context, fn func(context.Context) error) *Task {
	t := &Task{done: make(chan struct{})}
	t.complete(call(ctx, fn))
	return t
}

// FromError returns a completed Task classified from err.
func FromError(err error) *Task {
	t := &Task{done: make(chan struct{})}
	t.complete(Classify(err))
	return t
}

// Canceled returns a Task that was already cancelled.
func Canceled() *Task {
	return FromError(ErrCanceled)
}

// Done is closed once the Task has completed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the Task completes.
func (t *Task) Wait() Result {
	<-t.done
	return t.res
}

// Classify maps an application error onto a Result.
func Classify(err error) Result {
	switch {
	case err == nil:
		return Result{Status: StatusSucceeded}
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCanceled):
		return Result{Status: StatusCancelled, Err: err}
	default:
		return Result{Status: StatusFaulted, Err: err}
	}
}

func (t *Task) complete(res Result) {
	t.res = res
	close(t.done)
}

func call(ctx context.Context, fn func(context.Context) error) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			res = Result{Status: StatusFaulted, Err: &PanicError{Value: v, Stack: debug.Stack()}}
		}
	}()
	return Classify(fn(ctx))
}
