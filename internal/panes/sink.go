package panes

import "github.com/keeperhq/keeper/internal/events"

// Built-in pane names. The scheduler itself treats pane names as opaque;
// new kinds can be added without touching it.
const (
	PaneHistory = "history"
	PaneScene   = "scene"
)

// Phase strings published by the built-in workers. Each pane kind owns its
// own vocabulary; the scheduler never inspects these.
const (
	PhaseEvaluating    = "evaluating"
	PhaseSummarizing   = "summarizing"
	PhaseDescribing    = "describing"
	PhaseImaging       = "imaging"
	PhaseImagingFailed = "imaging_failed"
	PhaseUpdated       = "updated"
	PhaseUnchanged     = "unchanged"
	PhaseCancelled     = "cancelled"
	PhaseError         = "error"
)

// Sink receives everything a pane worker wants the outside world to see.
// Workers push phases as they go and results only at their final step; the
// scheduler never publishes anything itself. Delivery is best-effort — no
// exactly-once guarantee.
type Sink interface {
	// Phase reports a progress phase for a pane.
	Phase(pane, phase string, generation uint64)
	// History delivers new history pane text.
	History(text string)
	// Illustration delivers the URL of a new scene image.
	Illustration(url string)
}

// BrokerSink forwards worker output to the session's event broker, which
// the SSE endpoint streams to the UI.
type BrokerSink struct {
	Broker  *events.Broker
	Session string
}

func (s *BrokerSink) Phase(pane, phase string, generation uint64) {
	typ := events.TypeSceneStatus
	if pane == PaneHistory {
		typ = events.TypeHistoryStatus
	}
	s.Broker.Publish(events.Event{
		Type:    typ,
		Session: s.Session,
		Data:    events.StatusPayload{Pane: pane, Phase: phase, Generation: generation},
	})
}

func (s *BrokerSink) History(text string) {
	s.Broker.Publish(events.Event{
		Type:    events.TypeHistory,
		Session: s.Session,
		Data:    events.HistoryPayload{Text: text},
	})
}

func (s *BrokerSink) Illustration(url string) {
	s.Broker.Publish(events.Event{
		Type:    events.TypeIllustration,
		Session: s.Session,
		Data:    events.IllustrationPayload{URL: url},
	})
}
