package watchui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/keeperhq/keeper/internal/events"
)

func TestModel_AppendsAndCapsRows(t *testing.T) {
	m := NewModel("http://localhost:8080/api/events")
	var model tea.Model = m
	for i := 0; i < maxRows+20; i++ {
		model, _ = model.Update(eventMsg{
			at: time.Now(),
			ev: events.Event{Type: events.TypeHistory, Data: events.HistoryPayload{Text: "line"}},
		})
	}
	got := model.(Model)
	if len(got.rows) != maxRows {
		t.Fatalf("rows = %d, want capped at %d", len(got.rows), maxRows)
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m := NewModel("url")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc}); cmd == nil {
		t.Fatal("esc did not quit")
	}
}

func TestRenderEvent(t *testing.T) {
	out := renderEvent(events.Event{
		Type:    events.TypeHistoryStatus,
		Session: "0123456789abcdef",
		Data:    events.StatusPayload{Pane: "history", Phase: "evaluating", Generation: 3},
	})
	for _, want := range []string{"history_status", "01234567", "evaluating", "gen=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered event missing %q: %s", want, out)
		}
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"type":"scene_status","session":"s1","data":{"pane":"scene","phase":"imaging","generation":2}}`))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	payload, ok := ev.Data.(events.StatusPayload)
	if !ok {
		t.Fatalf("payload type = %T", ev.Data)
	}
	if payload.Phase != "imaging" || payload.Generation != 2 {
		t.Fatalf("payload = %+v", payload)
	}

	ev, err = decodeEvent([]byte(`{"type":"illustration","data":{"url":"/public/x.png"}}`))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if ev.Data.(events.IllustrationPayload).URL != "/public/x.png" {
		t.Fatalf("payload = %+v", ev.Data)
	}

	if _, err := decodeEvent([]byte("{broken")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestView_RendersThreePanes(t *testing.T) {
	var model tea.Model = NewModel("http://x/api/events")
	feed := []events.Event{
		{Type: events.TypeHistory, Data: events.HistoryPayload{Text: "The investigators reached Arkham."}},
		{Type: events.TypeIllustration, Data: events.IllustrationPayload{URL: "/public/illustrations/scene-2.png"}},
		{Type: events.TypeSceneStatus, Data: events.StatusPayload{Pane: "scene", Phase: "imaging", Generation: 2}},
	}
	for _, ev := range feed {
		model, _ = model.Update(eventMsg{at: time.Now(), ev: ev})
	}
	out := model.View()
	for _, want := range []string{
		"history",
		"The investigators reached Arkham.",
		"scene",
		"/public/illustrations/scene-2.png",
		"imaging",
		"log",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestView_PlaceholdersBeforeFirstEvents(t *testing.T) {
	out := NewModel("url").View()
	if !strings.Contains(out, "(no history yet)") || !strings.Contains(out, "(no illustration yet)") {
		t.Fatalf("placeholders missing:\n%s", out)
	}
}

func TestDecodeEvent_ClueAndInvestigator(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"type":"clue","session":"s1","data":{"clues":[{"id":"c1","title":"Torn letter","content":"frantic handwriting"}],"updated":{"id":"c1","title":"Torn letter","content":"frantic handwriting"}}}`))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	clue, ok := ev.Data.(events.CluePayload)
	if !ok {
		t.Fatalf("payload type = %T", ev.Data)
	}
	if len(clue.Clues) != 1 || clue.Updated.ID != "c1" {
		t.Fatalf("payload = %+v", clue)
	}
	if out := renderEvent(ev); !strings.Contains(out, "Torn letter") {
		t.Fatalf("rendered clue = %q", out)
	}

	ev, err = decodeEvent([]byte(`{"type":"investigator","data":{"investigator":{"name":"Harvey Walters","stats":{"STR":50}}}}`))
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	inv, ok := ev.Data.(events.InvestigatorPayload)
	if !ok {
		t.Fatalf("payload type = %T", ev.Data)
	}
	if inv.Investigator.Name != "Harvey Walters" {
		t.Fatalf("payload = %+v", inv)
	}
	if out := renderEvent(ev); !strings.Contains(out, "Harvey Walters") {
		t.Fatalf("rendered investigator = %q", out)
	}
}

func TestView_ShowsTitleAndError(t *testing.T) {
	m := NewModel("http://x/api/events")
	model, _ := m.Update(streamErrMsg{err: errTest})
	out := model.(Model).View()
	if !strings.Contains(out, "keeper events") {
		t.Fatal("title missing")
	}
	if !strings.Contains(out, "stream error") {
		t.Fatal("error line missing")
	}
}

var errTest = &streamError{"connection reset"}

type streamError struct{ msg string }

func (e *streamError) Error() string { return e.msg }
