package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keeperhq/keeper/internal/dice"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/state"
)

// Game commands handled without the LLM. They mirror the keeper-side
// tools of the original tabletop loop: dice, skill checks, character
// creation and clue bookkeeping.
const commandHelp = `Commands:
  /roll [faces]                 roll a die (default d100)
  /check <skill> [difficulty]   d100 skill check (regular, hard, extreme)
  /char [name]                  create an investigator
  /clue <title>: <content>      record or update a clue
  /help                         this text`

func isCommand(text string) bool { return strings.HasPrefix(text, "/") }

// runCommand executes one slash command and returns the reply text.
// Commands never fail the exchange; bad input gets a usage reply.
func (s *Session) runCommand(text string) string {
	name, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/roll":
		return s.cmdRoll(rest)
	case "/check":
		return s.cmdCheck(rest)
	case "/char":
		return s.cmdChar(rest)
	case "/clue":
		return s.cmdClue(rest)
	case "/help":
		return commandHelp
	}
	return fmt.Sprintf("Unknown command %s.\n%s", name, commandHelp)
}

func (s *Session) cmdRoll(arg string) string {
	faces := 100
	if arg != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(arg), "d"))
		if err != nil {
			return "Usage: /roll [faces], e.g. /roll 20"
		}
		faces = n
	}
	result, err := s.dice.Roll(faces)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("You rolled a %d on a d%d.", result, faces)
}

func (s *Session) cmdCheck(arg string) string {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return "Usage: /check <skill value 0-100> [regular|hard|extreme]"
	}
	skill, err := strconv.Atoi(fields[0])
	if err != nil || skill < 0 || skill > 100 {
		return "Usage: /check <skill value 0-100> [regular|hard|extreme]"
	}
	difficulty := dice.Regular
	if len(fields) > 1 {
		difficulty, err = dice.ParseDifficulty(fields[1])
		if err != nil {
			return err.Error()
		}
	}

	res := s.dice.Check(skill, difficulty)
	return fmt.Sprintf("You rolled a %d. That's a %s!", res.Roll, res.Degree)
}

func (s *Session) cmdChar(name string) string {
	if name == "" {
		name = "Nameless Investigator"
	}
	inv := s.rollInvestigator(name)

	// Commit then notify, like the pane workers do.
	s.State.Edit(func(g *state.GameState) {
		g.Investigator = &inv
	})
	s.broker.Publish(events.Event{
		Type:    events.TypeInvestigator,
		Session: s.ID,
		Data:    events.InvestigatorPayload{Investigator: inv},
	})

	return formatInvestigator(inv)
}

// rollInvestigator builds a 7e sheet: STR/CON/DEX/APP/POW are 3d6x5,
// SIZ/INT/EDU are (2d6+6)x5, Luck is 3d6x5.
func (s *Session) rollInvestigator(name string) state.Investigator {
	threeD6 := func() int {
		total := 0
		for i := 0; i < 3; i++ {
			n, _ := s.dice.Roll(6)
			total += n
		}
		return total * 5
	}
	twoD6plus6 := func() int {
		total := 6
		for i := 0; i < 2; i++ {
			n, _ := s.dice.Roll(6)
			total += n
		}
		return total * 5
	}

	stats := map[string]int{
		"STR": threeD6(),
		"CON": threeD6(),
		"DEX": threeD6(),
		"APP": threeD6(),
		"POW": threeD6(),
		"SIZ": twoD6plus6(),
		"INT": twoD6plus6(),
		"EDU": twoD6plus6(),
		"LUK": threeD6(),
	}
	return state.Investigator{
		Name:  name,
		Stats: stats,
		Skills: map[string]int{
			"Dodge":          stats["DEX"] / 2,
			"Language (Own)": stats["EDU"],
		},
	}
}

func formatInvestigator(inv state.Investigator) string {
	keys := make([]string, 0, len(inv.Stats))
	for k := range inv.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Your investigator, %s:\n", inv.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s %d\n", k, inv.Stats[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdClue adds or updates a clue. A clue whose title already exists is
// replaced in place, keeping its id.
func (s *Session) cmdClue(arg string) string {
	title, content, ok := strings.Cut(arg, ":")
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if !ok || title == "" || content == "" {
		return "Usage: /clue <title>: <content>"
	}

	var payload events.CluePayload
	s.State.Edit(func(g *state.GameState) {
		clue := state.Clue{
			Title:   title,
			Content: content,
			FoundAt: time.Now().UTC().Format("2006-01-02 15:04"),
		}
		replaced := false
		for i, existing := range g.Clues {
			if strings.EqualFold(existing.Title, title) {
				clue.ID = existing.ID
				g.Clues[i] = clue
				replaced = true
				break
			}
		}
		if !replaced {
			clue.ID = fmt.Sprintf("c%d", len(g.Clues)+1)
			g.Clues = append(g.Clues, clue)
		}
		payload.Clues = append([]state.Clue(nil), g.Clues...)
		payload.Updated = clue
	})

	s.broker.Publish(events.Event{
		Type:    events.TypeClue,
		Session: s.ID,
		Data:    payload,
	})
	return fmt.Sprintf("Recorded clue %q.", title)
}
