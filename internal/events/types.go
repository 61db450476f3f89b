package events

import "github.com/keeperhq/keeper/internal/state"

// Type identifies the kind of event flowing through the broker.
type Type string

// Event types delivered to the UI stream. Pane status events carry a
// StatusPayload; the others carry their own payload shape.
const (
	// TypeHistory carries the updated history pane text.
	TypeHistory Type = "history"
	// TypeIllustration carries the URL of a newly generated scene image.
	TypeIllustration Type = "illustration"
	// TypeClue announces a newly discovered clue.
	TypeClue Type = "clue"
	// TypeInvestigator announces a change to the investigator sheet.
	TypeInvestigator Type = "investigator"
	// TypeHistoryStatus and TypeSceneStatus report pane update phases.
	TypeHistoryStatus Type = "history_status"
	TypeSceneStatus   Type = "scene_status"
	// TypeShutdown tells long-lived streams to terminate.
	TypeShutdown Type = "server_shutdown"
)

// Event is the unit published through the Broker and serialized onto the
// SSE stream.
type Event struct {
	Type    Type   `json:"type"`
	Session string `json:"session,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// HistoryPayload is the Data of a TypeHistory event.
type HistoryPayload struct {
	Text string `json:"text"`
}

// IllustrationPayload is the Data of a TypeIllustration event.
type IllustrationPayload struct {
	URL string `json:"url"`
}

// CluePayload is the Data of a TypeClue event: the full clue list (the
// UI re-renders the accordion wholesale) plus the clue that changed.
type CluePayload struct {
	Clues   []state.Clue `json:"clues"`
	Updated state.Clue   `json:"updated"`
}

// InvestigatorPayload is the Data of a TypeInvestigator event.
type InvestigatorPayload struct {
	Investigator state.Investigator `json:"investigator"`
}

// StatusPayload is the Data of pane status events. Phase values are owned
// by the pane workers, not by the broker.
type StatusPayload struct {
	Pane       string `json:"pane"`
	Phase      string `json:"phase"`
	Generation uint64 `json:"generation,omitempty"`
}
