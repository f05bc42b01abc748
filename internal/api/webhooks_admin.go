package api

import (
	"net/http"
	"strconv"

	"github.com/yungbote/neurobridge-backend/internal/httputil"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := s.store.ListDeadLetters(r.Context(), store.Page{Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]WebhookDeliveryResponse, 0, len(rows))
	for i := range rows {
		out = append(out, webhookDeliveryResponse(&rows[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse[WebhookDeliveryResponse]{
		Data:       out,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.RequeueDeadLetter(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteDeadLetter(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
