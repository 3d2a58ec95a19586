package grading

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tvcportal/internal/app/apiresp"
	"tvcportal/internal/auth"
	"tvcportal/internal/material"
)

type Handler struct {
	svc gradingService
}

type gradingService interface {
	Verify(ctx context.Context, in VerifyInput) (*Result, error)
	VerifyMultiSubject(ctx context.Context, in MultiVerifyInput) (*MultiSubjectResult, error)
}

// verifyRequest is the wire shape of a grading request. The is_multi_subject
// tag is resolved exactly once, here, into one of the two service calls.
type verifyRequest struct {
	MaterialID          int64               `json:"material_id"`
	AttemptID           string              `json:"attempt_id"`
	IsMultiSubject      bool                `json:"is_multi_subject"`
	Answers             []string            `json:"answers"`
	MultiSubjectAnswers map[string][]string `json:"multi_subject_answers"`
	TimeSpentSeconds    int                 `json:"time_spent_seconds"`
}

func NewHandler(svc gradingService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaterialID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "material_id is required")
		return
	}
	if strings.TrimSpace(req.AttemptID) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "attempt_id is required")
		return
	}
	if req.TimeSpentSeconds < 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "time_spent_seconds must not be negative")
		return
	}

	if req.IsMultiSubject {
		if len(req.MultiSubjectAnswers) == 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "multi_subject_answers is required")
			return
		}
		result, err := h.svc.VerifyMultiSubject(r.Context(), MultiVerifyInput{
			AttemptID:        req.AttemptID,
			UserID:           user.ID,
			MaterialID:       req.MaterialID,
			AnswersBySubject: req.MultiSubjectAnswers,
			TimeSpentSeconds: req.TimeSpentSeconds,
		})
		if err != nil {
			h.writeVerifyError(w, r, err)
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, result)
		return
	}

	if req.Answers == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "answers is required")
		return
	}
	result, err := h.svc.Verify(r.Context(), VerifyInput{
		AttemptID:        req.AttemptID,
		UserID:           user.ID,
		MaterialID:       req.MaterialID,
		Answers:          req.Answers,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		h.writeVerifyError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, material.ErrMaterialNotFound), errors.Is(err, ErrNoAnswerKey):
		apiresp.WriteError(w, r, http.StatusNotFound, "cannot grade: no answer key for this material")
	case errors.Is(err, ErrAnswerShape), errors.Is(err, ErrUnknownSubject), errors.Is(err, ErrWrongVariant):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadySubmitted):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
