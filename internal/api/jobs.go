package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/httputil"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status: store.JobStatus(q.Get("status")),
		Model:  q.Get("model"),
	}
	if v := q.Get("created_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedAfter = &t
		}
	}
	if v := q.Get("created_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedBefore = &t
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	jobs, total, err := s.store.ListJobs(r.Context(), filter, store.Page{Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]BatchResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, batchResponse(&jobs[i], nil, nil, nil))
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse[BatchResponse]{
		Data:       out,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

// handleJobStats aggregates in memory over one ListJobs page: the 200 most
// recently created jobs of any status. Older jobs are not counted in the
// per-status figures; TotalJobs is the count of all jobs in the store.
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobs, total, err := s.store.ListJobs(ctx, store.JobFilter{}, store.Page{Limit: 200})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var completed, failed, cancelled int
	var totalDuration time.Duration
	var durationSamples int
	var totalSeconds float64

	for _, j := range jobs {
		switch j.Status {
		case store.JobStatusCompleted:
			completed++
		case store.JobStatusFailed:
			failed++
		case store.JobStatusCancelled:
			cancelled++
		}
		if j.InProgressAt != nil {
			var end *time.Time
			switch {
			case j.CompletedAt != nil:
				end = j.CompletedAt
			case j.FailedAt != nil:
				end = j.FailedAt
			case j.CancelledAt != nil:
				end = j.CancelledAt
			}
			if end != nil {
				totalDuration += end.Sub(*j.InProgressAt)
				durationSamples++
				totalSeconds += end.Sub(*j.InProgressAt).Seconds()
			}
		}
	}

	resp := JobStatsResponse{
		TotalJobs: int(total),
		Completed: completed,
		Failed:    failed,
		Cancelled: cancelled,
	}
	if n := completed + failed; n > 0 {
		resp.SuccessRate = float64(completed) / float64(n)
	}
	if durationSamples > 0 {
		resp.AverageDuration = totalDuration.Seconds() / float64(durationSamples)
	}
	if totalSeconds > 0 {
		resp.Throughput = s.sched.CurrentThroughput()
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
