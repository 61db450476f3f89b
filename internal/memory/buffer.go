// Package memory keeps the per-session conversation transcript that pane
// workers summarize from. It is a bounded in-memory buffer; durable
// snapshots go through the store package.
package memory

import "sync"

// Role tags a transcript turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleKeeper Role = "keeper"
)

// Turn is one utterance in the transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultMaxTurns bounds a buffer when no cap is given. Matches the
// transcript cap used when building summarization prompts.
const DefaultMaxTurns = 200

// Buffer is a thread-safe, bounded list of turns. When full, the oldest
// turns are discarded.
type Buffer struct {
	mu    sync.RWMutex
	turns []Turn
	max   int
}

// NewBuffer creates a buffer holding up to max turns.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxTurns
	}
	return &Buffer{max: max}
}

// Append adds a turn, evicting the oldest if the buffer is full. Empty
// content is ignored.
func (b *Buffer) Append(role Role, content string) {
	if content == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, Turn{Role: role, Content: content})
	if len(b.turns) > b.max {
		b.turns = b.turns[len(b.turns)-b.max:]
	}
}

// All returns a copy of the whole transcript.
func (b *Buffer) All() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// LastK returns a copy of the most recent k turns (all of them if k is
// zero or exceeds the length).
func (b *Buffer) LastK(k int) []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if k <= 0 || k > len(b.turns) {
		k = len(b.turns)
	}
	out := make([]Turn, k)
	copy(out, b.turns[len(b.turns)-k:])
	return out
}

// Len returns the number of stored turns.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

// Restore replaces the transcript with a loaded snapshot, respecting the
// buffer's cap.
func (b *Buffer) Restore(turns []Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(turns) > b.max {
		turns = turns[len(turns)-b.max:]
	}
	b.turns = make([]Turn, len(turns))
	copy(b.turns, turns)
}
