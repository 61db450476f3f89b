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

// maxSceneDescLen caps the visual description sent to the image backend.
const maxSceneDescLen = 600

// ImageGenerator renders a visual description into an image and returns
// its public URL. Satisfied by illustrate.Generator.
type ImageGenerator interface {
	Generate(ctx context.Context, description string) (string, error)
}

// SceneUpdater detects significant scene changes and refreshes the center
// pane illustration. One instance per session.
type SceneUpdater struct {
	llm    llm.Client
	images ImageGenerator
	state  *state.Store
	mem    *memory.Buffer
	sink   Sink
	log    zerolog.Logger
}

// NewSceneUpdater wires a scene worker to its session's dependencies.
func NewSceneUpdater(client llm.Client, images ImageGenerator, st *state.Store, mem *memory.Buffer, sink Sink, log zerolog.Logger) *SceneUpdater {
	return &SceneUpdater{
		llm:    client,
		images: images,
		state:  st,
		mem:    mem,
		sink:   sink,
		log:    log.With().Str("component", "scene_update").Logger(),
	}
}

// Work returns the WorkFunc for one exchange.
func (u *SceneUpdater) Work(lastUser, lastKeeper string, generation uint64) WorkFunc {
	return func(ctx context.Context) (err error) {
		defer func() {
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				u.sink.Phase(PaneScene, PhaseCancelled, generation)
			default:
				u.sink.Phase(PaneScene, PhaseError, generation)
			}
		}()

		transcript := buildTranscript(u.mem, lastUser, lastKeeper)
		if len(transcript) == 0 {
			u.log.Debug().Msg("no transcript found for scene update")
			u.sink.Phase(PaneScene, PhaseUnchanged, generation)
			return nil
		}

		u.sink.Phase(PaneScene, PhaseEvaluating, generation)
		should, err := u.shouldUpdate(ctx, transcript)
		if err != nil {
			return err
		}
		if !should {
			u.sink.Phase(PaneScene, PhaseUnchanged, generation)
			return nil
		}

		u.sink.Phase(PaneScene, PhaseDescribing, generation)
		desc, err := u.describe(ctx, transcript)
		if err != nil {
			return err
		}
		if desc == "" {
			u.log.Debug().Msg("scene change detected but no description produced")
			u.sink.Phase(PaneScene, PhaseUnchanged, generation)
			return nil
		}

		u.sink.Phase(PaneScene, PhaseImaging, generation)
		url, err := u.images.Generate(ctx, desc)
		if err != nil {
			// Respect cancellation; anything else means the illustration
			// backend is unavailable, which is non-fatal — the pane keeps
			// its last image.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.log.Info().Err(err).Msg("illustration service unavailable; skipping image")
			u.sink.Phase(PaneScene, PhaseImagingFailed, generation)
			return nil
		}

		// Commit is the last step.
		u.state.Edit(func(g *state.GameState) {
			g.IllustrationURL = url
		})
		u.sink.Illustration(url)
		u.sink.Phase(PaneScene, PhaseUpdated, generation)
		return nil
	}
}

func (u *SceneUpdater) shouldUpdate(ctx context.Context, transcript []memory.Turn) (bool, error) {
	prompt := fmt.Sprintf(
		"You are monitoring a Call of Cthulhu session. Decide if the LATEST exchange significantly changes the scene/setting.\n"+
			"Scene changes include: moving to a different location (inside/outside), entering a new room/building, time of day shifts, lighting/weather changes, a new set piece revealed, or a major shift in focus (e.g., basement to street, office to library).\n"+
			"Do NOT trigger for rules clarifications, minor dialogue, or small detail tweaks.\n\n"+
			"Conversation (most recent last):\n%s\n\n"+
			"Answer strictly with YES or NO.",
		formatTranscript(transcript, 8),
	)
	decision, err := llm.CompleteText(ctx, u.llm, prompt)
	if err != nil {
		return false, fmt.Errorf("scene decision: %w", err)
	}
	return yes(decision), nil
}

func (u *SceneUpdater) describe(ctx context.Context, transcript []memory.Turn) (string, error) {
	prompt := fmt.Sprintf(
		"From the recent Call of Cthulhu exchange, extract a concise, vivid description of the current physical scene for illustration.\n"+
			"Focus on: location, key objects, lighting/weather, mood, and perspective (e.g., mid-shot). Avoid character names unless visually important. 35-60 words.\n\n"+
			"Recent conversation (most recent last):\n---\n%s\n---\n\n"+
			"Now output only the description.",
		formatTranscript(transcript, 20),
	)
	desc, err := llm.CompleteText(ctx, u.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("scene description: %w", err)
	}
	return truncate(desc, maxSceneDescLen), nil
}
