package lapsed

import (
	"encoding/json"
	"errors"
	"net/http"

	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/ports/queue"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service, q queue.Queue) {
	r.Post("/lapsed/dispatch", dispatchHandler(svc, q))
}

type dispatchResponse struct {
	Status   string `json:"status"`
	Enqueued int    `json:"enqueued"`
}

// dispatchHandler encola una conversión por cada miembro vencido.
//
// @Summary  Enqueue lapsed members for reclassification to non-member
// @Tags     lapsed
// @Produce  json
// @Success  202 {object} dispatchResponse
// @Failure  503 {string} string "lapsed query not configured"
// @Router   /lapsed/dispatch [post]
func dispatchHandler(svc *Service, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Dispatch(r.Context(), q)
		switch {
		case errors.Is(err, ErrNoQuery):
			http.Error(w, "lapsed query not configured", http.StatusServiceUnavailable)
			return
		case errors.Is(err, tenure.ErrConfiguration):
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		case err != nil:
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusAccepted, dispatchResponse{Status: "dispatched", Enqueued: n})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
