package handlers

import (
	"net/http"

	"telego/internal/logx"
)

// SessionHandler signs users in and out.
type SessionHandler struct {
	sessions sessionUsecase
	dispatch dispatchUsecase
	logger   logx.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(logger logx.Logger, sessions sessionUsecase, dispatch dispatchUsecase) *SessionHandler {
	return &SessionHandler{sessions: sessions, dispatch: dispatch, logger: logger}
}

// Login handles POST /session/login: it authenticates against the backend
// and starts syncing the user's deliveries.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	s, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	if err := h.dispatch.Activate(s); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, sessionToResponse(s))
}

// Register handles POST /session/register.
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}

	s, err := h.sessions.Register(r.Context(), req.toInput())
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	if err := h.dispatch.Activate(s); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusCreated, sessionToResponse(s))
}

// Current handles GET /session.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	s, err := h.dispatch.Session()
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, sessionToResponse(s))
}

// Logout handles DELETE /session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatch.Logout(r.Context()); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
