package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tvcportal/internal/app/apiresp"
	"tvcportal/internal/auth"
	"tvcportal/internal/grading"
	"tvcportal/internal/material"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	mgr *Manager
}

type openSessionRequest struct {
	MaterialID int64 `json:"material_id"`
}

type setAnswerRequest struct {
	Subject       string `json:"subject,omitempty"`
	QuestionIndex int    `json:"question_index"`
	Letter        string `json:"letter"`
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaterialID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "material_id is required")
		return
	}

	s, err := h.mgr.Open(r.Context(), user.ID, req.MaterialID)
	if err != nil {
		switch {
		case errors.Is(err, material.ErrMaterialNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotTimed), errors.Is(err, ErrNoQuestions):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, s.View())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

func (h *Handler) SetAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req setAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if strings.TrimSpace(req.Subject) != "" {
		err = s.SetSubjectAnswer(req.Subject, req.QuestionIndex, req.Letter)
	} else {
		err = s.SetAnswer(req.QuestionIndex, req.Letter)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotRunning):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidQuestion), errors.Is(err, ErrInvalidLetter), errors.Is(err, ErrUnknownSubject):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := s.Submit(r.Context()); err != nil {
		switch {
		case errors.Is(err, ErrUnanswered):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotRunning), errors.Is(err, ErrClosed):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, grading.ErrAlreadySubmitted):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		default:
			// Transient grading failure: the session is back in a
			// submittable state, tell the client to retry.
			apiresp.WriteError(w, r, http.StatusBadGateway, "grading failed, please retry")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	fresh, err := h.mgr.Restart(s.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotGraded):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, ErrSessionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, fresh.View())
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.mgr.Close(s.ID); err != nil {
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) AcknowledgeWarning(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	s.AcknowledgeWarning()
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	s, err := h.mgr.Get(sessionID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return nil, false
	}
	if s.UserID != user.ID && !user.IsStaff() {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return s, true
}
