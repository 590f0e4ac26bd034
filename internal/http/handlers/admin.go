package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ListCallbacks handles GET /admin/callbacks?contribution_id=&limit=
func ListCallbacks(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		events, err := svc.ListCallbacks(r.Context(), q.Get("contribution_id"), limit)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events, "count": len(events)})
	}
}

// ReplayCallback handles POST /admin/callbacks/{id}/replay
func ReplayCallback(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid event id"})
			return
		}

		out, err := svc.ReplayCallback(r.Context(), id)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
