package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/memory"
)

type captureLLM struct {
	reply    string
	err      error
	messages []llm.Message
}

func (c *captureLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.messages = messages
	return c.reply, c.err
}

func TestKeeper_RespondBuildsChatFromTranscript(t *testing.T) {
	client := &captureLLM{reply: "  The door is locked. Make a Strength roll.  "}
	k := NewKeeper(client, zerolog.Nop())

	transcript := []memory.Turn{
		{Role: memory.RoleUser, Content: "I enter the hallway."},
		{Role: memory.RoleKeeper, Content: "Dust covers everything."},
	}
	reply, err := k.Respond(context.Background(), transcript, "I try the door.")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "The door is locked. Make a Strength roll." {
		t.Fatalf("reply = %q, want trimmed reply", reply)
	}

	if len(client.messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 2 turns + user)", len(client.messages))
	}
	if client.messages[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", client.messages[0].Role)
	}
	if client.messages[1].Role != "user" || client.messages[2].Role != "assistant" {
		t.Fatalf("transcript roles wrong: %q/%q", client.messages[1].Role, client.messages[2].Role)
	}
	if last := client.messages[3]; last.Role != "user" || last.Content != "I try the door." {
		t.Fatalf("last message = %+v", last)
	}
}

func TestKeeper_RespondCapsContext(t *testing.T) {
	client := &captureLLM{reply: "noted"}
	k := NewKeeper(client, zerolog.Nop())

	transcript := make([]memory.Turn, maxContextTurns+10)
	for i := range transcript {
		transcript[i] = memory.Turn{Role: memory.RoleUser, Content: "turn"}
	}
	if _, err := k.Respond(context.Background(), transcript, "hi"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := len(client.messages); got != maxContextTurns+2 {
		t.Fatalf("messages = %d, want %d", got, maxContextTurns+2)
	}
}

func TestKeeper_RespondErrors(t *testing.T) {
	k := NewKeeper(&captureLLM{err: errors.New("boom")}, zerolog.Nop())
	if _, err := k.Respond(context.Background(), nil, "hi"); err == nil {
		t.Fatal("expected error from failing client")
	}

	k = NewKeeper(&captureLLM{reply: "   "}, zerolog.Nop())
	if _, err := k.Respond(context.Background(), nil, "hi"); err == nil {
		t.Fatal("expected error for empty reply")
	}
}
