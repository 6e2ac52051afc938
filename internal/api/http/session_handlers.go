package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-examprep/internal/auth/middleware"
	"github.com/mind-engage/mindengage-examprep/internal/engine"
	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
	"github.com/mind-engage/mindengage-examprep/internal/rbac"
	"github.com/mind-engage/mindengage-examprep/internal/session"
)

// SessionHandlers serves the attempt lifecycle over a Manager.
type SessionHandlers struct {
	m   *engine.Manager
	log *logger.Logger
}

func NewSessionHandlers(m *engine.Manager, log *logger.Logger) *SessionHandlers {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionHandlers{m: m, log: log.With("component", "api")}
}

type submitOut struct {
	Submitted bool                      `json:"submitted"`
	ResultID  string                    `json:"result_id,omitempty"`
	Warning   *session.PreSubmitWarning `json:"warning,omitempty"`
	Session   session.View              `json:"session"`
}

// lookup resolves {sessionID} for the caller, writing the error response
// when it fails.
func (h *SessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	s, err := h.m.Get(id, authmw.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(h.log, w, r, err)
		return nil, false
	}
	return s, true
}

// POST /sessions  {"kind":"static|dynamic|live","source_id":"..."}
func (h *SessionHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     exam.TestKind `json:"kind"`
		SourceID string        `json:"source_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	s, err := h.m.Start(r.Context(), authmw.IdentityFromContext(r.Context()), req.Kind, strings.TrimSpace(req.SourceID))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Controller().View())
}

// GET /sessions/{sessionID}
// Proctors may read any session; everyone else only their own.
func (h *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	if !rbac.Allowed(r.Context(), "session:oversee") {
		s, ok := h.lookup(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Controller().View())
		return
	}
	s, err := h.m.Oversee(strings.TrimSpace(chi.URLParam(r, "sessionID")))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller().View())
}

// POST /sessions/{sessionID}/answers  {"question_id":"...","option":"..."}
func (h *SessionHandlers) Answer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"question_id"`
		Option     string `json:"option"`
	}
	if err := decode(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	s.Monitor().Touch()
	if err := s.Controller().SelectAnswer(req.QuestionID, req.Option); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller().View())
}

// POST /sessions/{sessionID}/review  {"question_id":"..."}
func (h *SessionHandlers) Review(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"question_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	s.Monitor().Touch()
	if err := s.Controller().ToggleReview(req.QuestionID); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller().View())
}

// POST /sessions/{sessionID}/navigate  {"to":"next|prev|first_pending"} or {"index":n}
func (h *SessionHandlers) Navigate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		To    string `json:"to"`
		Index *int   `json:"index"`
	}
	if err := decode(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	s.Monitor().Touch()

	c := s.Controller()
	var err error
	switch {
	case req.Index != nil:
		err = c.Navigate(*req.Index)
	case req.To == "next":
		err = c.Next()
	case req.To == "prev":
		err = c.Prev()
	case req.To == "first_pending":
		_, err = c.JumpToFirstPending()
	default:
		err = exam.Validation("api.navigate", "index or to required")
	}
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// POST /sessions/{sessionID}/visibility  {"hidden":true}
// Losing visibility submits an in-progress session at once.
func (h *SessionHandlers) Visibility(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := decode(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if !req.Hidden {
		s.Monitor().Touch()
		writeJSON(w, http.StatusOK, s.Controller().View())
		return
	}
	id, err := s.Monitor().Hidden(r.Context())
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitOut{Submitted: true, ResultID: id, Session: s.Controller().View()})
}

// POST /sessions/{sessionID}/activity
func (h *SessionHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Monitor().Touch()
	w.WriteHeader(http.StatusNoContent)
}

// POST /sessions/{sessionID}/inactivity/ack
func (h *SessionHandlers) AckInactivity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Monitor().Acknowledge()
	w.WriteHeader(http.StatusNoContent)
}

// POST /sessions/{sessionID}/submit  {"force":false}
// Without force, pending questions come back as a warning and nothing is
// submitted.
func (h *SessionHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(h.log, w, r, err)
			return
		}
	}
	id, warn, err := s.Monitor().ManualSubmit(r.Context(), req.Force)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitOut{Submitted: warn == nil, ResultID: id, Warning: warn, Session: s.Controller().View()})
}

// DELETE /sessions/{sessionID}
func (h *SessionHandlers) Close(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	var err error
	if rbac.Allowed(r.Context(), "session:oversee") {
		err = h.m.Terminate(id)
	} else {
		err = h.m.Close(id, authmw.IdentityFromContext(r.Context()))
	}
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
