package watchui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/keeperhq/keeper/internal/events"
)

// Stream connects to the server's SSE endpoint and feeds events into the
// program until ctx is cancelled or the connection drops.
func Stream(ctx context.Context, url string, p *tea.Program) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect events stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events stream: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		ev, err := decodeEvent([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			continue
		}
		p.Send(eventMsg{at: time.Now(), ev: ev})
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		p.Send(streamErrMsg{err: err})
		return err
	}
	return nil
}

// decodeEvent restores the typed payload the server flattened to JSON.
func decodeEvent(data []byte) (events.Event, error) {
	var wire struct {
		Type    events.Type     `json:"type"`
		Session string          `json:"session"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return events.Event{}, err
	}

	ev := events.Event{Type: wire.Type, Session: wire.Session}
	if len(wire.Data) == 0 {
		return ev, nil
	}
	switch wire.Type {
	case events.TypeHistory:
		var p events.HistoryPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return events.Event{}, err
		}
		ev.Data = p
	case events.TypeIllustration:
		var p events.IllustrationPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return events.Event{}, err
		}
		ev.Data = p
	case events.TypeHistoryStatus, events.TypeSceneStatus:
		var p events.StatusPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return events.Event{}, err
		}
		ev.Data = p
	case events.TypeClue:
		var p events.CluePayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return events.Event{}, err
		}
		ev.Data = p
	case events.TypeInvestigator:
		var p events.InvestigatorPayload
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return events.Event{}, err
		}
		ev.Data = p
	default:
		ev.Data = json.RawMessage(wire.Data)
	}
	return ev, nil
}
