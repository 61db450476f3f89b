// Package panes runs the background updates for auxiliary UI panes
// (history summary, scene illustration) after each primary exchange.
//
// # Overview
//
// Each session owns one Scheduler. Per inbound message the host advances a
// generation counter once and schedules one task per pane. The scheduler
// guarantees:
//
//   - Single-flight per pane: scheduling cancels the pane's previous task
//     before the new one starts, even at the same generation.
//   - Staleness guard: a task captures its generation and re-checks it
//     after its debounce wait; stale tasks never invoke their work.
//   - Bounded work: each run races a timeout that reuses the same
//     cancellation mechanism as supersession.
//
// Cancellation is cooperative. The scheduler hands the work function a
// context and relies on the work observing it at I/O boundaries; nothing
// is forcibly killed.
//
// # Components
//
//   - Scheduler: generation counter + pane slot map, one per session
//   - Task: the cancellation/timeout state machine for one scheduled run
//   - Sink: where workers push phases and results (the scheduler itself
//     never publishes anything)
//   - HistoryUpdater, SceneUpdater: the two built-in pane workers
//
// Failures inside one pane's task are logged and never reach the caller
// or other panes; the pane simply keeps its last committed content.
package panes
