// Package server exposes the game over HTTP: a small JSON API for
// sessions and messages, an SSE stream for pane updates, and the static
// UI assets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/session"
)

// Server is the HTTP front of the keeper.
type Server struct {
	sessions *session.Manager
	broker   *events.Broker
	cfg      func() *config.Config
	log      zerolog.Logger

	httpServer *http.Server
}

// New builds the server. Start must be called to begin listening.
func New(sessions *session.Manager, broker *events.Broker, cfg func() *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		broker:   broker,
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg().Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/message", s.handleMessage)
	mux.HandleFunc("GET /api/sessions/{id}/state", s.handleState)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /public/", http.StripPrefix("/public/", http.FileServer(http.Dir(s.cfg().PublicDir))))
	return s.logRequests(mux)
}

// Start listens until the server is shut down. It returns nil on a clean
// shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	// ID resumes a persisted session instead of creating a new one.
	ID string `json:"id,omitempty"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.ID != "" {
		sess, err := s.sessions.Resume(r.Context(), req.ID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown session")
				return
			}
			s.log.Error().Err(err).Str("session", req.ID).Msg("resume failed")
			writeError(w, http.StatusInternalServerError, "resume failed")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, CreatedAt: sess.CreatedAt})
		return
	}

	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, CreatedAt: sess.CreatedAt})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Reply      string `json:"reply"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reply, err := sess.HandleMessage(r.Context(), req.Text)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-reply; nothing useful to write.
			return
		}
		s.log.Error().Err(err).Str("session", sess.ID).Msg("message failed")
		writeError(w, http.StatusBadGateway, "keeper unavailable")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Reply: reply, Generation: sess.Scheduler.Generation()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sess.State.Get())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
