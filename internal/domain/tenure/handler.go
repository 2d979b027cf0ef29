package tenure

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"member-tenure/internal/ports/crm"
	"member-tenure/internal/ports/queue"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service, q queue.Queue) {
	r.Route("/tenure", func(tr chi.Router) {
		tr.Post("/members", enqueueMemberHandler(svc, q))
		tr.Post("/dispatch", dispatchHandler(svc, q))
		tr.Get("/members/{memberID}/preview", previewHandler(svc))
	})
}

type enqueueMemberRequest struct {
	MemberID string `json:"member_id"`
	// IMISID es el nombre de campo que usaba el trigger HTTP anterior.
	IMISID MemberID `json:"imisID"`
}

type enqueueResponse struct {
	Status   string `json:"status"`
	MemberID string `json:"member_id,omitempty"`
	Enqueued int    `json:"enqueued,omitempty"`
}

type previewResponse struct {
	MemberID          string     `json:"member_id"`
	Resolved          bool       `json:"resolved"`
	Since             *string    `json:"since,omitempty"`
	CorrectedJoinDate *string    `json:"corrected_join_date,omitempty"`
	Broken            bool       `json:"broken"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
	JoinMarker        *time.Time `json:"join_marker,omitempty"`
}

// enqueueMemberHandler encola un miembro puntual.
//
// @Summary  Enqueue one member for tenure recalculation
// @Tags     tenure
// @Accept   json
// @Produce  json
// @Param    body body enqueueMemberRequest true "member id"
// @Success  202 {object} enqueueResponse
// @Failure  400 {string} string "member_id required"
// @Router   /tenure/members [post]
func enqueueMemberHandler(svc *Service, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		id := strings.TrimSpace(req.MemberID)
		if id == "" {
			id = strings.TrimSpace(string(req.IMISID))
		}
		if id == "" {
			http.Error(w, "member_id required", http.StatusBadRequest)
			return
		}

		if err := svc.Enqueue(r.Context(), q, id); err != nil {
			http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "submitted", MemberID: id})
	}
}

// dispatchHandler encola todos los miembros elegibles.
//
// @Summary  Enqueue every member with a consecutive member type
// @Tags     tenure
// @Produce  json
// @Success  202 {object} enqueueResponse
// @Router   /tenure/dispatch [post]
func dispatchHandler(svc *Service, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Dispatch(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "dispatched", Enqueued: n})
	}
}

// previewHandler corre la inferencia sin escribir.
//
// @Summary  Preview the inferred consecutive-since date
// @Tags     tenure
// @Produce  json
// @Param    memberID path string true "member id"
// @Success  200 {object} previewResponse
// @Router   /tenure/members/{memberID}/preview [get]
func previewHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID := chi.URLParam(r, "memberID")
		res, err := svc.Preview(r.Context(), memberID)
		if err != nil {
			writeError(w, err)
			return
		}

		out := previewResponse{
			MemberID:   memberID,
			Resolved:   res.Resolved,
			Broken:     res.Broken,
			StoppedAt:  res.StoppedAt,
			JoinMarker: res.JoinMarker,
		}
		if res.Resolved {
			since := FormatCRMDate(res.Since)
			out.Since = &since
		}
		if res.CorrectedJoinDate != nil {
			c := FormatCRMDate(*res.CorrectedJoinDate)
			out.CorrectedJoinDate = &c
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, crm.ErrNotFound):
		http.Error(w, "member not found", http.StatusNotFound)
	case errors.Is(err, ErrMalformedTimestamp):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrConfiguration):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, "upstream error", http.StatusBadGateway)
	}
}

// writeJSON duplicado por módulo (igual que en lapsed) para no crear un
// paquete de helpers compartidos todavía.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
