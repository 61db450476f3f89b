package panes

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// WorkFunc is one pane update. It must be abandonable between steps,
// propagate ctx cancellation instead of swallowing it, and commit any
// externally visible state only as its very last step.
type WorkFunc func(ctx context.Context) error

// State is a task's position in its lifecycle.
type State int32

const (
	StateCreated State = iota
	StateDebouncing
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
	StateCancelled
	StateSuperseded
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled, StateSuperseded:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDebouncing:
		return "debouncing"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Task is one scheduled pane update: a captured generation, a cancellable
// context, a debounce wait and a timeout budget. Tasks are created by
// Scheduler.Schedule and live until they reach a terminal state.
type Task struct {
	pane       string
	generation uint64
	debounce   time.Duration
	timeout    time.Duration
	work       WorkFunc

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32
	done  chan struct{}
}

func newTask(pane string, generation uint64, work WorkFunc, debounce, timeout time.Duration) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		pane:       pane,
		generation: generation,
		debounce:   debounce,
		timeout:    timeout,
		work:       work,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Pane returns the pane name the task was scheduled for.
func (t *Task) Pane() string { return t.pane }

// Generation returns the freshness marker captured at schedule time.
// It never changes afterwards.
func (t *Task) Generation() uint64 { return t.generation }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel signals cooperative cancellation. Safe to call repeatedly.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) setState(s State) { t.state.Store(int32(s)) }

// finish records the terminal state exactly once and releases waiters.
func (t *Task) finish(s State) {
	t.setState(s)
	t.cancel()
	close(t.done)
}
