package api

import (
	"net/http"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/httputil"
)

func (s *Server) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := s.store.CountRunnable(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	hb, err := s.store.ReadHeartbeat(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := QueueSnapshotResponse{Depth: depth, WorkerStatus: "offline"}
	if hb != nil {
		resp.WorkerStatus = string(hb.Status)
		age := time.Since(hb.LastSeen).Seconds()
		resp.HeartbeatAgeSeconds = &age
		if hb.CurrentJobID != nil {
			resp.InProgressID = hb.CurrentJobID
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
