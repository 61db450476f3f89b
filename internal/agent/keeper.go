// Package agent is the Keeper: the game master persona that answers the
// player synchronously. Pane updates happen elsewhere; the agent only
// produces the chat reply.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/memory"
)

const systemPrompt = `You are the Keeper of Arcane Lore for a Call of Cthulhu tabletop session set in the 1920s.
Run the game: narrate scenes vividly but concisely, voice NPCs, call for skill checks when the rules demand them, and keep the cosmic horror tone.
Never decide outcomes for the player's investigator; present situations and let them act.
When the player asks rules questions, answer them plainly out of character.
Keep replies under 200 words unless the scene truly needs more.`

// maxContextTurns bounds how much transcript is replayed to the model.
const maxContextTurns = 40

// Keeper produces in-character replies from the session transcript.
type Keeper struct {
	llm llm.Client
	log zerolog.Logger
}

// NewKeeper creates the responder for one session.
func NewKeeper(client llm.Client, log zerolog.Logger) *Keeper {
	return &Keeper{
		llm: client,
		log: log.With().Str("component", "keeper").Logger(),
	}
}

// Respond replays the transcript plus the new user message and returns the
// Keeper's reply.
func (k *Keeper) Respond(ctx context.Context, transcript []memory.Turn, userMessage string) (string, error) {
	messages := make([]llm.Message, 0, len(transcript)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})

	turns := transcript
	if len(turns) > maxContextTurns {
		turns = turns[len(turns)-maxContextTurns:]
	}
	for _, t := range turns {
		role := "assistant"
		if t.Role == memory.RoleUser {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	reply, err := k.llm.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("keeper reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("keeper reply: empty response")
	}
	return reply, nil
}
