package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
)

// API exposes the session control surface over HTTP.
//
//	POST   /v1/sessions               create a session
//	GET    /v1/sessions               list session ids
//	GET    /v1/sessions/{id}          session status
//	GET    /v1/sessions/{id}/history  conversation history
//	POST   /v1/sessions/{id}/turns    run a turn: {"text": "..."}
//	POST   /v1/sessions/{id}/cancel   cancel the running turn
//	POST   /v1/sessions/{id}/reset    clear the history
//	DELETE /v1/sessions/{id}          shut the session down
type API struct {
	store  *session.Store
	logger *slog.Logger
}

// NewAPI creates the API over store.
func NewAPI(store *session.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: store, logger: logging.WithOperation(logger, "api")}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.createSession)
	mux.HandleFunc("GET /v1/sessions", a.listSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.getSession)
	mux.HandleFunc("GET /v1/sessions/{id}/history", a.getHistory)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", a.startTurn)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", a.cancelTurn)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", a.resetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.deleteSession)
}

// SessionResponse describes a session.
type SessionResponse struct {
	ID            string                     `json:"id"`
	Created       time.Time                  `json:"created"`
	LastActive    time.Time                  `json:"last_active"`
	Busy          bool                       `json:"busy"`
	HistoryLength int                        `json:"history_length"`
	Contexts      []string                   `json:"contexts"`
	Transports    []registry.TransportStatus `json:"transports"`
}

// TurnRequest is the body of POST /v1/sessions/{id}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse is returned for completed turns. Failed turns carry Error;
// an exhausted turn budget carries both Text and Error.
type TurnResponse struct {
	Text          string `json:"text,omitempty"`
	HistoryLength int    `json:"history_length"`
	Error         string `json:"error,omitempty"`
}

// ErrorResponse is the body of every 4xx and 5xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.Create(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrStoreClosed) {
			status = http.StatusServiceUnavailable
		}
		a.logger.Warn("failed to create session", logging.Err(err))
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, describe(sess))
}

func (a *API) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": a.store.IDs()})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(sess))
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]conversation.Message{"messages": sess.History()})
}

func (a *API) startTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookup(w, r)
	if !ok {
		return
	}

	var req TurnRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be JSON: {\"text\": \"...\"}"))
		return
	}

	// The request context cancels the turn when the client goes away.
	text, err := sess.StartTurn(r.Context(), req.Text)
	resp := TurnResponse{Text: text, HistoryLength: len(sess.History())}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, conversation.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, conversation.ErrTurnInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, err)
	default:
		a.logger.Info("turn failed", slog.String("session_id", sess.ID()), logging.Err(err))
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	}
}

func (a *API) cancelTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookup(w, r)
	if !ok {
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookup(w, r)
	if !ok {
		return
	}
	switch err := sess.Reset(r.Context()); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, conversation.ErrTurnInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := a.store.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		// The session is gone either way; a transport failed to close.
		a.logger.Warn("session shut down with errors", slog.String("session_id", r.PathValue("id")), logging.Err(err))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return sess, true
}

func describe(sess *session.Session) SessionResponse {
	reg := sess.Registry()
	return SessionResponse{
		ID:            sess.ID(),
		Created:       sess.Created(),
		LastActive:    sess.LastActive(),
		Busy:          sess.Busy(),
		HistoryLength: len(sess.History()),
		Contexts:      reg.Contexts(),
		Transports:    reg.Status(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
