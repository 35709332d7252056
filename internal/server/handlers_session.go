package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/careline-ai/careline/internal/consent"
	"github.com/careline-ai/careline/internal/generate"
	"github.com/careline-ai/careline/pkg/types"
)

// CreateSessionRequest is the body for POST /api/sessions. Both fields are
// optional; an empty body opens a session with the default locale.
type CreateSessionRequest struct {
	Locale   string            `json:"locale,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateSessionResponse pairs the new session with the opening consent
// prompt the client should show before anything else.
type CreateSessionResponse struct {
	Session  *types.Session `json:"session"`
	Greeting string         `json:"greeting"`
}

// TurnRequest is the body for POST /api/sessions/{sessionID}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// ConsentRequest is the body for POST /api/sessions/{sessionID}/consent.
type ConsentRequest struct {
	Action string `json:"action"`
}

// listSessions handles GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	sess, err := s.registry.Create(r.Context(), req.Locale, req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CreateSessionResponse{
		Session:  sess,
		Greeting: generate.ConsentPrompt,
	})
}

// getSession handles GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.registry.Get(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// closeSession handles DELETE /api/sessions/{sessionID}. This is the
// operator close; the archived session snapshot is returned.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.registry.Close(r.Context(), sessionID, types.CloseOperator)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// processTurn handles POST /api/sessions/{sessionID}/turns
func (s *Server) processTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	start := time.Now()
	result, err := s.registry.ProcessTurn(r.Context(), sessionID, req.Text)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.metrics.ObserveTurnDuration(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, result)
}

// recordConsent handles POST /api/sessions/{sessionID}/consent
func (s *Server) recordConsent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	action, err := consent.ParseAction(req.Action)
	if err != nil {
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Unknown consent action",
			map[string]any{"action": req.Action})
		return
	}

	result, err := s.registry.Consent(r.Context(), sessionID, action)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// getSessionEvents handles GET /api/sessions/{sessionID}/events. The from
// query parameter replays from that sequence inclusive; 0 or absent means
// the full stream.
func (s *Server) getSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var fromSeq uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "from must be a non-negative integer")
			return
		}
		fromSeq = v
	}

	events, err := s.registry.Events(r.Context(), sessionID, fromSeq)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if events == nil {
		events = []types.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}
