// Package state holds the user-visible game state for a session and the
// store that guards it. Everything the UI panes render lives here.
package state

// DefaultHistory is shown before the story has progressed at all.
const DefaultHistory = "(start your adventure to see story progression here)"

// DefaultIllustrationURL is the placeholder image shown before any scene
// has been illustrated.
const DefaultIllustrationURL = "/public/logo_dark.png"

// Clue is a piece of evidence the players have discovered.
type Clue struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	FoundAt string `json:"found_at,omitempty"`
}

// Investigator is the player character sheet, reduced to what the UI shows.
type Investigator struct {
	Name   string         `json:"name"`
	Stats  map[string]int `json:"stats,omitempty"`
	Skills map[string]int `json:"skills,omitempty"`
}

// GameState is the in-memory state mirrored to the UI over SSE.
type GameState struct {
	History         string        `json:"history"`
	Clues           []Clue        `json:"clues"`
	IllustrationURL string        `json:"illustration_url"`
	Investigator    *Investigator `json:"investigator,omitempty"`
}

// NewGameState returns a fresh state with placeholder pane content.
func NewGameState() GameState {
	return GameState{
		History:         DefaultHistory,
		Clues:           []Clue{},
		IllustrationURL: DefaultIllustrationURL,
	}
}

// clone returns a deep copy so callers can read without racing editors.
func (g GameState) clone() GameState {
	out := g
	out.Clues = make([]Clue, len(g.Clues))
	copy(out.Clues, g.Clues)
	if g.Investigator != nil {
		inv := Investigator{Name: g.Investigator.Name}
		if g.Investigator.Stats != nil {
			inv.Stats = make(map[string]int, len(g.Investigator.Stats))
			for k, v := range g.Investigator.Stats {
				inv.Stats[k] = v
			}
		}
		if g.Investigator.Skills != nil {
			inv.Skills = make(map[string]int, len(g.Investigator.Skills))
			for k, v := range g.Investigator.Skills {
				inv.Skills[k] = v
			}
		}
		out.Investigator = &inv
	}
	return out
}
