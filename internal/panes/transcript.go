package panes

import (
	"strings"
	"unicode/utf8"

	"github.com/keeperhq/keeper/internal/memory"
)

// maxTranscriptTurns caps how much history a worker will ever feed into a
// prompt.
const maxTranscriptTurns = 200

// buildTranscript returns the session transcript, appending the latest
// user/keeper turn if the buffer has not captured it yet. The tail check
// looks at the last two turns only, mirroring how quickly the buffer is
// normally caught up.
func buildTranscript(mem *memory.Buffer, lastUser, lastKeeper string) []memory.Turn {
	transcript := mem.All()

	if lastUser != "" {
		tail := tailContents(transcript, 2)
		if !strings.Contains(tail, lastUser) {
			transcript = append(transcript, memory.Turn{Role: memory.RoleUser, Content: lastUser})
		}
		if lastKeeper != "" && !strings.Contains(tail, lastKeeper) {
			transcript = append(transcript, memory.Turn{Role: memory.RoleKeeper, Content: lastKeeper})
		}
	}

	if len(transcript) > maxTranscriptTurns {
		transcript = transcript[len(transcript)-maxTranscriptTurns:]
	}
	return transcript
}

func tailContents(turns []memory.Turn, k int) string {
	if k > len(turns) {
		k = len(turns)
	}
	var sb strings.Builder
	for _, t := range turns[len(turns)-k:] {
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatTranscript renders the last k turns (all when k <= 0) as
// "User:"/"Keeper:" prefixed lines for prompting.
func formatTranscript(turns []memory.Turn, k int) string {
	if k > 0 && k < len(turns) {
		turns = turns[len(turns)-k:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		prefix := "Keeper"
		if t.Role == memory.RoleUser {
			prefix = "User"
		}
		lines = append(lines, prefix+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// yes reports whether an LLM YES/NO answer starts with yes.
func yes(decision string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(decision)), "y")
}

// truncate caps s at n bytes without splitting a rune; prompts downstream
// have hard budget limits.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
