// Package watchui is a small terminal dashboard that tails a running
// keeper server's event stream. It is read-only: useful for watching pane
// updates happen while playing in the browser.
package watchui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/keeperhq/keeper/internal/events"
)

const maxRows = 200

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	paneStyle   = lipgloss.NewStyle().PaddingLeft(1).Foreground(lipgloss.Color("7"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	typeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Width(16)
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// eventMsg delivers one server event to the model.
type eventMsg struct {
	at time.Time
	ev events.Event
}

// streamErrMsg reports the SSE connection failing.
type streamErrMsg struct{ err error }

// row is one rendered line of the log.
type row struct {
	at   time.Time
	text string
}

// Model renders three panes: the current history text, the latest scene
// image URL with its phase, and a scrolling event log.
type Model struct {
	url    string
	rows   []row
	width  int
	height int
	err    error

	history         string
	illustrationURL string
	scenePhase      string
}

// NewModel creates the viewer for the given server events URL.
func NewModel(url string) Model {
	return Model{url: url}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case eventMsg:
		m = m.absorb(msg.ev)
		m.rows = append(m.rows, row{at: msg.at, text: renderEvent(msg.ev)})
		if len(m.rows) > maxRows {
			m.rows = m.rows[len(m.rows)-maxRows:]
		}
	case streamErrMsg:
		m.err = msg.err
	}
	return m, nil
}

// absorb keeps the persistent panes current as events stream past.
func (m Model) absorb(ev events.Event) Model {
	switch data := ev.Data.(type) {
	case events.HistoryPayload:
		m.history = data.Text
	case events.IllustrationPayload:
		m.illustrationURL = data.URL
	case events.StatusPayload:
		if ev.Type == events.TypeSceneStatus {
			m.scenePhase = data.Phase
		}
	}
	return m
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("keeper events"))
	b.WriteString(statusStyle.Render("  " + m.url + "  (q to quit)"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("history"))
	b.WriteString("\n")
	history := m.history
	if history == "" {
		history = "(no history yet)"
	}
	b.WriteString(paneStyle.Width(paneWidth(m.width)).Render(history))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("scene"))
	b.WriteString("\n")
	scene := m.illustrationURL
	if scene == "" {
		scene = "(no illustration yet)"
	}
	if m.scenePhase != "" {
		scene += "  " + phaseStyle.Render(m.scenePhase)
	}
	b.WriteString(paneStyle.Width(paneWidth(m.width)).Render(scene))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("log"))
	b.WriteString("\n")
	visible := m.rows
	if max := m.height - lipgloss.Height(b.String()) - 2; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	for _, r := range visible {
		b.WriteString(timeStyle.Render(r.at.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(r.text)
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("stream error: " + m.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

func paneWidth(w int) int {
	if w <= 0 {
		return 80
	}
	return w - 2
}

func renderEvent(ev events.Event) string {
	label := typeStyle.Render(string(ev.Type))
	detail := ""
	switch data := ev.Data.(type) {
	case events.StatusPayload:
		detail = fmt.Sprintf("%s %s", data.Pane, phaseStyle.Render(data.Phase))
		if data.Generation > 0 {
			detail += timeStyle.Render(fmt.Sprintf(" gen=%d", data.Generation))
		}
	case events.HistoryPayload:
		detail = truncateLine(data.Text, 80)
	case events.IllustrationPayload:
		detail = data.URL
	case events.CluePayload:
		detail = truncateLine(data.Updated.Title+": "+data.Updated.Content, 80)
	case events.InvestigatorPayload:
		detail = data.Investigator.Name
	default:
		if ev.Type == events.TypeShutdown {
			detail = errorStyle.Render("server shutting down")
		}
	}
	if ev.Session != "" {
		label += timeStyle.Render(" [" + shortID(ev.Session) + "]")
	}
	return label + " " + detail
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
