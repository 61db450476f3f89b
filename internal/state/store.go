package state

import "sync"

// Store guards a session's GameState. Pane workers read through Get and
// commit through a single Edit call at the very end of their run, so an
// aborted run never leaves partial state behind.
type Store struct {
	mu   sync.RWMutex
	data GameState
}

// NewStore creates a store with fresh placeholder state.
func NewStore() *Store {
	return &Store{data: NewGameState()}
}

// NewStoreFrom creates a store seeded from a restored snapshot.
func NewStoreFrom(g GameState) *Store {
	return &Store{data: g.clone()}
}

// Get returns a copy of the current state.
func (s *Store) Get() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.clone()
}

// Edit applies fn to the state atomically.
func (s *Store) Edit(fn func(*GameState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}
