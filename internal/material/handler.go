package material

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"tvcportal/internal/app/apiresp"
	"tvcportal/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc materialService
}

type materialService interface {
	Create(ctx context.Context, in CreateInput) (*Material, error)
	Get(ctx context.Context, materialID int64) (*Material, error)
	StudentView(ctx context.Context, materialID int64) (*StudentMaterial, error)
	List(ctx context.Context) ([]Material, error)
	ListForStudents(ctx context.Context) ([]StudentMaterial, error)
	QuestionCount(ctx context.Context, materialID int64) (int, error)
	SaveAnswerKey(ctx context.Context, materialID int64, cfg AnswerKeyConfig) (*Material, error)
	SaveSubjectKey(ctx context.Context, materialID int64, subject string, cfg AnswerKeyConfig) (*Material, error)
	ResizeQuestionCount(ctx context.Context, materialID int64, n int) (*Material, error)
}

type createMaterialRequest struct {
	Title        string `json:"title"`
	Kind         string `json:"kind"`
	TimerMinutes int    `json:"timer_minutes"`
}

type answerKeyRequest struct {
	QuestionCount int      `json:"question_count"`
	AnswerKey     []string `json:"answer_key"`
	Oficiu        int      `json:"oficiu"`
}

type resizeRequest struct {
	QuestionCount int `json:"question_count"`
}

func NewHandler(svc materialService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	if user.IsStaff() {
		items, err := h.svc.List(r.Context())
		if err != nil {
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, items)
		return
	}

	items, err := h.svc.ListForStudents(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	materialID, err := parseID(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid material id")
		return
	}

	if user.IsStaff() {
		item, err := h.svc.Get(r.Context(), materialID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, item)
		return
	}

	item, err := h.svc.StudentView(r.Context(), materialID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMaterialRequest
	if err := decodeBody(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.Create(r.Context(), CreateInput{
		Title:        req.Title,
		Kind:         req.Kind,
		TimerMinutes: req.TimerMinutes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, item)
}

func (h *Handler) QuestionCount(w http.ResponseWriter, r *http.Request) {
	materialID, err := parseID(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid material id")
		return
	}
	count, err := h.svc.QuestionCount(r.Context(), materialID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]int{"question_count": count})
}

func (h *Handler) SaveAnswerKey(w http.ResponseWriter, r *http.Request) {
	materialID, err := parseID(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid material id")
		return
	}
	var req answerKeyRequest
	if err := decodeBody(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.SaveAnswerKey(r.Context(), materialID, AnswerKeyConfig{
		QuestionCount: req.QuestionCount,
		AnswerKey:     req.AnswerKey,
		Oficiu:        req.Oficiu,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) SaveSubjectKey(w http.ResponseWriter, r *http.Request) {
	materialID, err := parseID(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid material id")
		return
	}
	subject := chi.URLParam(r, "subject")
	var req answerKeyRequest
	if err := decodeBody(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.SaveSubjectKey(r.Context(), materialID, subject, AnswerKeyConfig{
		QuestionCount: req.QuestionCount,
		AnswerKey:     req.AnswerKey,
		Oficiu:        req.Oficiu,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) Resize(w http.ResponseWriter, r *http.Request) {
	materialID, err := parseID(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid material id")
		return
	}
	var req resizeRequest
	if err := decodeBody(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.ResizeQuestionCount(r.Context(), materialID, req.QuestionCount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMaterialNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "material not found")
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, ErrUnknownSubject):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
