package task

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// ErrStopped is passed to the completion of a task submitted to a stopped scheduler
var ErrStopped = errors.New("scheduler is stopped")

// PanicError is a recovered panic of a task body or completion
type PanicError struct {
	Value interface{} // the value passed to panic
	Stack []byte      // stack trace of the panicking goroutine
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func newPanicError(value interface{}) *PanicError {
	return &PanicError{Value: value, Stack: debug.Stack()}
}

// State is the lifecycle state of a task
type State int32

const (
	StatePending   State = iota // submitted, body not started
	StateRunning                // body started
	StateCompleted              // completion delivered (terminal)
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Keeper keeps the object a task operates on alive. Retain is called when the task is
// submitted, Release after its completion was delivered.
type Keeper interface {
	Retain()
	Release()
}

// Task is a unit of work: a body executed on a worker goroutine and a completion delivered
// on the loop goroutine. Tasks cannot be cancelled.
type Task struct {
	id    uint64
	state atomic.Int32

	// execute runs the body and queues the completion on the loop
	execute func()
}

var taskIDs atomic.Uint64

func newTask() *Task {
	return &Task{id: taskIDs.Add(1)}
}

// ID returns the process wide unique id of the task
func (t *Task) ID() uint64 {
	return t.id
}

// State returns the current state of the task
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}
