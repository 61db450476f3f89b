// Package csync provides small thread-safe collections used across the
// server: the session registry and event-broker bookkeeping both need a
// map that several goroutines read and write without external locking.
package csync
