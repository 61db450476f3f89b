package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/agent"
	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/csync"
	"github.com/keeperhq/keeper/internal/dice"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/memory"
	"github.com/keeperhq/keeper/internal/panes"
	"github.com/keeperhq/keeper/internal/state"
	"github.com/keeperhq/keeper/internal/store"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Deps are the shared services every session is built from. Store may be
// nil when persistence is disabled.
type Deps struct {
	LLM    llm.Client
	Images panes.ImageGenerator
	Broker *events.Broker
	Store  *store.Store
	Config func() *config.Config
	Log    zerolog.Logger
}

// Manager owns all live sessions.
type Manager struct {
	deps     Deps
	sessions *csync.Map[string, *Session]
	log      zerolog.Logger
}

// NewManager creates an empty session manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: csync.NewMap[string, *Session](),
		log:      deps.Log.With().Str("component", "sessions").Logger(),
	}
}

// Create starts a fresh session and returns it.
func (m *Manager) Create() *Session {
	s := m.build(uuid.NewString(), time.Now().UTC(), state.NewStore(), memory.NewBuffer(0))
	m.sessions.Set(s.ID, s)
	m.log.Info().Str("session", s.ID).Msg("session created")
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Resume returns the live session for id, or rebuilds it from the
// snapshot store. Concurrent Resume calls for the same id produce a
// single session.
func (m *Manager) Resume(ctx context.Context, id string) (*Session, error) {
	if s, ok := m.sessions.Get(id); ok {
		return s, nil
	}
	if m.deps.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	snap, err := m.deps.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	mem := memory.NewBuffer(0)
	mem.Restore(snap.Transcript)
	restored := m.build(snap.ID, snap.CreatedAt, state.NewStoreFrom(snap.State), mem)

	s, existed := m.sessions.GetOrSet(id, func() *Session { return restored })
	if !existed {
		m.log.Info().Str("session", id).Msg("session resumed from snapshot")
	}
	return s, nil
}

// Close snapshots and tears down one session.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.sessions.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions.CompareAndDelete(id, s, func(a, b *Session) bool { return a == b })
	s.Close(ctx)
	m.snapshot(ctx, s)
	return nil
}

// CloseAll tears down every session, snapshotting each. Used at server
// shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, s := range m.sessions.Values() {
		s.Close(ctx)
		m.snapshot(ctx, s)
	}
	m.sessions.Clear()
}

// SnapshotAll persists every live session. Wired to the autosave cron.
func (m *Manager) SnapshotAll(ctx context.Context) {
	if m.deps.Store == nil {
		return
	}
	for _, s := range m.sessions.Values() {
		m.snapshot(ctx, s)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.sessions.Len() }

func (m *Manager) snapshot(ctx context.Context, s *Session) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.Save(ctx, s.Snapshot()); err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Msg("snapshot failed")
	}
}

func (m *Manager) build(id string, created time.Time, st *state.Store, mem *memory.Buffer) *Session {
	log := m.deps.Log.With().Str("session", id).Logger()
	sink := &panes.BrokerSink{Broker: m.deps.Broker, Session: id}

	cfg := m.deps.Config()
	var schedOpts []panes.SchedulerOption
	if d, err := cfg.PaneTimeout(); err == nil {
		schedOpts = append(schedOpts, panes.WithDefaultTimeout(d))
	}
	if d, err := cfg.PaneDebounce(); err == nil {
		schedOpts = append(schedOpts, panes.WithDefaultDebounce(d))
	}

	return &Session{
		ID:        id,
		CreatedAt: created,
		State:     st,
		Memory:    mem,
		Scheduler: panes.NewScheduler(log, schedOpts...),
		keeper:    agent.NewKeeper(m.deps.LLM, log),
		history:   panes.NewHistoryUpdater(m.deps.LLM, st, mem, sink, log),
		scene:     panes.NewSceneUpdater(m.deps.LLM, m.deps.Images, st, mem, sink, log),
		dice:      dice.NewRoller(nil),
		broker:    m.deps.Broker,
		cfg:       m.deps.Config,
		log:       log,
	}
}
