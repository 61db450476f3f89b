package panes

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/memory"
	"github.com/keeperhq/keeper/internal/state"
)

// maxHistoryLen caps the stored history text.
const maxHistoryLen = 1500

// HistoryUpdater decides whether the latest exchange advanced the story
// and, if so, rewrites the history pane summary. One instance per session.
type HistoryUpdater struct {
	llm   llm.Client
	state *state.Store
	mem   *memory.Buffer
	sink  Sink
	log   zerolog.Logger
}

// NewHistoryUpdater wires a history worker to its session's dependencies.
func NewHistoryUpdater(client llm.Client, st *state.Store, mem *memory.Buffer, sink Sink, log zerolog.Logger) *HistoryUpdater {
	return &HistoryUpdater{
		llm:   client,
		state: st,
		mem:   mem,
		sink:  sink,
		log:   log.With().Str("component", "history_update").Logger(),
	}
}

// Work returns the WorkFunc for one exchange. lastUser and lastKeeper are
// the turn that may not yet be in memory; generation tags the phase
// notifications.
func (u *HistoryUpdater) Work(lastUser, lastKeeper string, generation uint64) WorkFunc {
	return func(ctx context.Context) (err error) {
		defer func() {
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				u.sink.Phase(PaneHistory, PhaseCancelled, generation)
			default:
				u.sink.Phase(PaneHistory, PhaseError, generation)
			}
		}()

		transcript := buildTranscript(u.mem, lastUser, lastKeeper)
		if len(transcript) == 0 {
			u.log.Warn().Msg("no transcript found for history update")
			u.sink.Phase(PaneHistory, PhaseUnchanged, generation)
			return nil
		}

		u.sink.Phase(PaneHistory, PhaseEvaluating, generation)
		should, err := u.shouldUpdate(ctx, transcript)
		if err != nil {
			return err
		}
		if !should {
			u.sink.Phase(PaneHistory, PhaseUnchanged, generation)
			return nil
		}

		u.sink.Phase(PaneHistory, PhaseSummarizing, generation)
		current := u.state.Get().History
		summary, err := u.summarize(ctx, transcript, current)
		if err != nil {
			return err
		}
		if summary == "" {
			u.sink.Phase(PaneHistory, PhaseUnchanged, generation)
			return nil
		}

		// Commit is the last step: state write, then notifications. An
		// aborted run leaves no partial state.
		u.state.Edit(func(g *state.GameState) {
			g.History = summary
		})
		u.sink.History(summary)
		u.sink.Phase(PaneHistory, PhaseUpdated, generation)
		return nil
	}
}

func (u *HistoryUpdater) shouldUpdate(ctx context.Context, transcript []memory.Turn) (bool, error) {
	prompt := fmt.Sprintf(
		"You are monitoring a Call of Cthulhu session. Decide if the LATEST exchange materially advances the in-world story.\n"+
			"Update the 'History' pane ONLY if there was story progression (e.g., scene changes, discoveries, NPC interactions, clues found, outcomes of actions/dice, travel/time skips, character creation results).\n"+
			"Do NOT update for pure rules clarification, mechanics/Q&A, small talk, or UI/meta talk.\n\n"+
			"Conversation (most recent last):\n%s\n\n"+
			"Answer strictly with YES or NO.",
		formatTranscript(transcript, 6),
	)
	decision, err := llm.CompleteText(ctx, u.llm, prompt)
	if err != nil {
		return false, fmt.Errorf("history decision: %w", err)
	}
	return yes(decision), nil
}

func (u *HistoryUpdater) summarize(ctx context.Context, transcript []memory.Turn, current string) (string, error) {
	prompt := fmt.Sprintf(
		"You are the Keeper summarizing an ongoing Call of Cthulhu session for a left-pane 'History' box.\n"+
			"Write a concise 120-180 word summary that reflects what the players/PCs know so far.\n"+
			"Include: current location/situation, key NPCs encountered, clues discovered, notable events/outcomes, and open leads.\n"+
			"Avoid spoilers beyond player knowledge. Prefer past tense or neutral narrative, no second-person instructions.\n\n"+
			"Existing excerpt (may be empty):\n---\n%s\n---\n\n"+
			"Recent conversation (most recent last):\n---\n%s\n---\n\n"+
			"Now produce ONLY the updated summary text.",
		current,
		formatTranscript(transcript, 30),
	)
	summary, err := llm.CompleteText(ctx, u.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("history summary: %w", err)
	}
	return truncate(summary, maxHistoryLen), nil
}
