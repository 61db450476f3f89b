package panes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when Schedule is called without overrides.
const (
	DefaultTimeout  = 45 * time.Second
	DefaultDebounce = 150 * time.Millisecond
)

// cancelAllGrace bounds how long CancelAll waits for stragglers beyond
// what the caller's ctx allows.
const cancelAllGrace = time.Second

// Scheduler coordinates background pane updates for one session. It owns
// the only two pieces of shared mutable state — the generation counter and
// the pane slot map — and mutates them nowhere but AdvanceGeneration,
// Schedule and CancelAll.
type Scheduler struct {
	log zerolog.Logger

	defaultTimeout  time.Duration
	defaultDebounce time.Duration

	generation atomic.Uint64

	mu     sync.Mutex
	slots  map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithDefaultTimeout overrides the per-task timeout default.
func WithDefaultTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithDefaultDebounce overrides the per-task debounce default.
func WithDefaultDebounce(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.defaultDebounce = d
		}
	}
}

// NewScheduler creates a scheduler for one session.
func NewScheduler(log zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		log:             log.With().Str("component", "panes").Logger(),
		defaultTimeout:  DefaultTimeout,
		defaultDebounce: DefaultDebounce,
		slots:           make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generation returns the current generation without advancing it.
func (s *Scheduler) Generation() uint64 { return s.generation.Load() }

// AdvanceGeneration atomically increments the session's generation and
// returns the new value. Called once per inbound exchange, before any
// Schedule calls for that exchange.
func (s *Scheduler) AdvanceGeneration() uint64 { return s.generation.Add(1) }

// ScheduleOption overrides one task's timing.
type ScheduleOption func(*Task)

// WithTimeout sets the work budget for this task only.
func WithTimeout(d time.Duration) ScheduleOption {
	return func(t *Task) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDebounce sets the pre-work wait for this task only.
func WithDebounce(d time.Duration) ScheduleOption {
	return func(t *Task) {
		if d >= 0 {
			t.debounce = d
		}
	}
}

// Schedule starts a background update for pane, tied to generation, and
// returns without blocking. Any previous task for the same pane is
// cancelled first, unconditionally — the most recent call wins even at the
// same generation. The returned Task is for observation only; the caller
// does not need to retain it.
func (s *Scheduler) Schedule(pane string, generation uint64, work WorkFunc, opts ...ScheduleOption) *Task {
	if pane == "" || work == nil {
		s.log.Error().Str("pane", pane).Msg("schedule called with empty pane or nil work")
		return nil
	}

	t := newTask(pane, generation, work, s.defaultDebounce, s.defaultTimeout)
	for _, opt := range opts {
		opt(t)
	}

	s.mu.Lock()
	// Cancel the predecessor before the new task can start its debounce
	// wait. Holding the lock across both steps is what makes the pane
	// single-flight.
	if prev, ok := s.slots[pane]; ok {
		prev.Cancel()
	}
	if s.closed {
		// Racing with CancelAll: the new task starts pre-cancelled so it
		// can never reach its work function.
		t.Cancel()
	}
	s.slots[pane] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(t)
	return t
}

// run drives one task through its lifecycle.
func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()
	defer s.detach(t)

	t.setState(StateDebouncing)

	// A generation that is already stale at schedule time is treated the
	// same as supersession; skip the debounce wait entirely.
	if t.generation < s.generation.Load() {
		s.log.Debug().Str("pane", t.pane).Uint64("gen", t.generation).Msg("stale before debounce")
		t.finish(StateSuperseded)
		return
	}

	timer := time.NewTimer(t.debounce)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		s.log.Info().Str("pane", t.pane).Uint64("gen", t.generation).Msg("pane task cancelled during debounce")
		t.finish(StateCancelled)
		return
	case <-timer.C:
	}

	if t.generation != s.generation.Load() {
		s.log.Debug().Str("pane", t.pane).Uint64("gen", t.generation).Msg("superseded after debounce")
		t.finish(StateSuperseded)
		return
	}

	t.setState(StateRunning)
	runCtx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	err := runWork(runCtx, t.work)

	switch {
	case err == nil:
		t.finish(StateSucceeded)
	case t.ctx.Err() != nil:
		s.log.Info().Str("pane", t.pane).Uint64("gen", t.generation).Msg("pane task cancelled")
		t.finish(StateCancelled)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.log.Warn().Str("pane", t.pane).Uint64("gen", t.generation).Dur("timeout", t.timeout).Msg("pane task timed out")
		t.finish(StateTimedOut)
	default:
		// Central failure logging so pane errors never get swallowed
		// silently. Not retried, not propagated.
		s.log.Error().Err(err).Str("pane", t.pane).Uint64("gen", t.generation).Msg("pane update failed")
		t.finish(StateFailed)
	}
}

// runWork invokes the work function, converting panics into errors so a
// broken worker cannot take the session down.
func runWork(ctx context.Context, work WorkFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pane work panicked: %v", r)
		}
	}()
	return work(ctx)
}

// detach removes the task from its slot unless a newer task already
// replaced it.
func (s *Scheduler) detach(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.slots[t.pane]; ok && cur == t {
		delete(s.slots, t.pane)
	}
}

// CancelAll cancels every active task and waits until none remain
// running, bounded by ctx and an internal grace period. Called once at
// session teardown; Schedule calls racing with it produce tasks that are
// cancelled before they can run their work.
func (s *Scheduler) CancelAll(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.slots {
		t.Cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(cancelAllGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("cancel all: gave up waiting (context done)")
	case <-timer.C:
		s.log.Warn().Msg("cancel all: tasks still draining after grace period")
	}
}

// Active returns the number of panes with a non-terminal task. Used by
// tests and the status endpoint.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.slots {
		if !t.State().Terminal() {
			n++
		}
	}
	return n
}
