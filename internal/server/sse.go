package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/keeperhq/keeper/internal/events"
)

// keepAliveInterval paces SSE comment lines so proxies keep the
// connection open.
const keepAliveInterval = 15 * time.Second

// handleEvents streams broker events as SSE. An optional ?session= filter
// restricts the stream to one session's events; shutdown events always
// pass through so clients learn the server is going away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionFilter := r.URL.Query().Get("session")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before the opening comment goes out: once the client has
	// seen any bytes, no published event can be missed.
	sub := s.broker.Subscribe("*")
	defer s.broker.Unsubscribe(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-sub:
			if !open {
				return
			}
			if sessionFilter != "" && ev.Session != "" && ev.Session != sessionFilter {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type == events.TypeShutdown {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
