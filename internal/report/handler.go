package report

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tvcportal/internal/app/apiresp"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	ids, ok := parseMaterialIDs(r)
	if !ok {
		apiresp.WriteError(w, r, http.StatusBadRequest, "material_ids is required")
		return
	}
	items, err := h.svc.ListSubmissions(r.Context(), ids)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ExportSubmissions(w http.ResponseWriter, r *http.Request) {
	ids, ok := parseMaterialIDs(r)
	if !ok {
		apiresp.WriteError(w, r, http.StatusBadRequest, "material_ids is required")
		return
	}
	data, err := h.svc.ExportSubmissionsExcel(r.Context(), ids)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	filename := "submissions-" + time.Now().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseMaterialIDs(r *http.Request) ([]int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("material_ids"))
	if raw == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}
