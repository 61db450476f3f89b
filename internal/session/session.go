// Package session ties one game together: its state, transcript,
// scheduler, workers and keeper agent. The manager owns the live session
// map and the snapshot lifecycle.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/agent"
	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/dice"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/memory"
	"github.com/keeperhq/keeper/internal/panes"
	"github.com/keeperhq/keeper/internal/state"
	"github.com/keeperhq/keeper/internal/store"
)

// Session is one running game. All fields are set at construction and
// safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	State     *state.Store
	Memory    *memory.Buffer
	Scheduler *panes.Scheduler

	keeper  *agent.Keeper
	history *panes.HistoryUpdater
	scene   *panes.SceneUpdater
	dice    *dice.Roller
	broker  *events.Broker

	cfg func() *config.Config
	log zerolog.Logger
}

// HandleMessage runs one exchange: the keeper (or a game command)
// answers synchronously, the transcript is extended, and the pane updates
// are kicked off in the background. It returns the reply.
func (s *Session) HandleMessage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty message")
	}

	var reply string
	if isCommand(text) {
		reply = s.runCommand(text)
	} else {
		var err error
		reply, err = s.keeper.Respond(ctx, s.Memory.All(), text)
		if err != nil {
			return "", err
		}
	}

	s.Memory.Append(memory.RoleUser, text)
	s.Memory.Append(memory.RoleKeeper, reply)

	// One generation per exchange; both panes share it. Command
	// exchanges schedule panes too: dice outcomes and character creation
	// count as story progression.
	gen := s.Scheduler.AdvanceGeneration()
	cfg := s.cfg()
	if cfg.Panes.AutoHistoryUpdate {
		s.Scheduler.Schedule(panes.PaneHistory, gen, s.history.Work(text, reply, gen))
	}
	if cfg.Panes.AutoSceneUpdate {
		s.Scheduler.Schedule(panes.PaneScene, gen, s.scene.Work(text, reply, gen))
	}

	return reply, nil
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() store.Snapshot {
	return store.Snapshot{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
		State:      s.State.Get(),
		Transcript: s.Memory.All(),
	}
}

// Close cancels all background work, bounded by ctx.
func (s *Session) Close(ctx context.Context) {
	s.Scheduler.CancelAll(ctx)
	s.log.Info().Str("session", s.ID).Msg("session closed")
}
