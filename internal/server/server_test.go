package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/session"
	"github.com/keeperhq/keeper/internal/state"
)

type stubLLM struct{ reply string }

func (s stubLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	if s.reply == "" {
		return "", errors.New("backend down")
	}
	if messages[0].Role == "system" {
		return s.reply, nil
	}
	return "NO", nil
}

type stubImages struct{}

func (stubImages) Generate(context.Context, string) (string, error) {
	return "", errors.New("disabled")
}

func newTestServer(t *testing.T, reply string) (*Server, *events.Broker) {
	t.Helper()
	cfg := config.Default()
	cfg.Panes.AutoHistoryUpdate = false
	cfg.Panes.AutoSceneUpdate = false
	cfgFn := func() *config.Config { return cfg }

	broker := events.NewBroker(16)
	t.Cleanup(broker.Close)

	sessions := session.NewManager(session.Deps{
		LLM:    stubLLM{reply: reply},
		Images: stubImages{},
		Broker: broker,
		Config: cfgFn,
		Log:    zerolog.Nop(),
	})
	return New(sessions, broker, cfgFn, zerolog.Nop()), broker
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp.ID
}

func TestServer_CreateSessionAndMessage(t *testing.T) {
	srv, _ := newTestServer(t, "A cold wind answers you.")
	h := srv.Handler()
	id := createSession(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/message", messageRequest{Text: "Hello?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("message: status %d: %s", rec.Code, rec.Body)
	}
	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	if resp.Reply != "A cold wind answers you." {
		t.Fatalf("reply = %q", resp.Reply)
	}
	if resp.Generation != 1 {
		t.Fatalf("generation = %d, want 1", resp.Generation)
	}
}

func TestServer_MessageUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, "x")
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/nope/message", messageRequest{Text: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServer_MessageBadBody(t *testing.T) {
	srv, _ := newTestServer(t, "x")
	h := srv.Handler()
	id := createSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/message", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServer_KeeperFailureIs502(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()
	id := createSession(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/message", messageRequest{Text: "hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestServer_State(t *testing.T) {
	srv, _ := newTestServer(t, "x")
	h := srv.Handler()
	id := createSession(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var gs state.GameState
	if err := json.Unmarshal(rec.Body.Bytes(), &gs); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if gs.History != state.DefaultHistory {
		t.Fatalf("history = %q", gs.History)
	}
	if gs.IllustrationURL != state.DefaultIllustrationURL {
		t.Fatalf("illustration = %q", gs.IllustrationURL)
	}
}

func TestServer_CloseSession(t *testing.T) {
	srv, _ := newTestServer(t, "x")
	h := srv.Handler()
	id := createSession(t, h)

	rec := doJSON(t, h, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/state", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("state after delete: status %d, want 404", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, "x")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestServer_EventsStream(t *testing.T) {
	srv, broker := newTestServer(t, "x")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events?session=s1")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// Consume the opening comment line.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ":") {
		t.Fatalf("opening line = %q, %v", line, err)
	}

	// An event for another session must be filtered out; one for s1 must
	// arrive.
	broker.Publish(events.Event{Type: events.TypeHistory, Session: "other", Data: events.HistoryPayload{Text: "nope"}})
	broker.Publish(events.Event{Type: events.TypeHistory, Session: "s1", Data: events.HistoryPayload{Text: "The story so far"}})

	type lineResult struct {
		line string
		err  error
	}
	lines := make(chan lineResult, 16)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			lines <- lineResult{line, err}
			if err != nil {
				return
			}
		}
	}()

	var event, data string
	deadline := time.After(5 * time.Second)
	for data == "" {
		select {
		case res := <-lines:
			if res.err != nil {
				t.Fatalf("read stream: %v", res.err)
			}
			line := strings.TrimRight(res.line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		}
	}

	if event != string(events.TypeHistory) {
		t.Fatalf("event = %q, want history", event)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event data %q: %v", data, err)
	}
	if ev.Session != "s1" {
		t.Fatalf("event session = %q (filter leaked)", ev.Session)
	}
}

func TestServer_EventsStreamEndsOnShutdown(t *testing.T) {
	srv, broker := newTestServer(t, "x")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				done <- err
				return
			}
		}
	}()

	// Give the handler a moment to subscribe before broadcasting.
	time.Sleep(50 * time.Millisecond)
	broker.Publish(events.Event{Type: events.TypeShutdown})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after shutdown event")
	}
}

func TestWriteSSEFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := events.Event{Type: events.TypeIllustration, Session: "s", Data: events.IllustrationPayload{URL: "/public/x.png"}}
	if err := writeSSE(rec, ev); err != nil {
		t.Fatalf("writeSSE: %v", err)
	}
	body := rec.Body.String()
	want := fmt.Sprintf("event: %s\n", events.TypeIllustration)
	if !strings.HasPrefix(body, want) {
		t.Fatalf("body = %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("missing blank line terminator: %q", body)
	}
}
