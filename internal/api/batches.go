package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
	"github.com/yungbote/neurobridge-backend/internal/batchio"
	"github.com/yungbote/neurobridge-backend/internal/httputil"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

type createBatchRequest struct {
	InputFileID      string         `json:"input_file_id"`
	Endpoint         string         `json:"endpoint"`
	CompletionWindow string         `json:"completion_window"`
	Priority         int            `json:"priority"`
	Metadata         map[string]any `json:"metadata"`

	// Not part of OpenAI's batch shape, but needed since this control plane
	// has no separate webhook-subscription resource: a batch names its own
	// delivery destination at creation time.
	WebhookURL     string   `json:"webhook_url"`
	WebhookEvents  []string `json:"webhook_events"`
	WebhookSecret  string   `json:"webhook_secret"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httputil.DecodeJSON(w, r, s.cfg.HTTPMaxRequestBytes, &req); err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.InputFileID) == "" {
		httputil.WriteError(w, apierr.New(apierr.KindInvalidInput, "input_file_id is required"))
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		req.Endpoint = "/v1/chat/completions"
	}
	if strings.TrimSpace(req.CompletionWindow) == "" {
		req.CompletionWindow = "24h"
	}

	ctx := r.Context()

	if _, err := s.store.GetFile(ctx, req.InputFileID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	rc, err := s.files.Get(ctx, req.InputFileID)
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInternal, "failed to open input file", err))
		return
	}
	reader := batchio.NewReader(rc)
	first, err := reader.Next()
	_ = rc.Close()
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "input file failed schema validation", err))
		return
	}
	model := strings.TrimSpace(first.Body.Model)
	if model == "" {
		httputil.WriteError(w, apierr.New(apierr.KindInvalidInput, "first input record is missing body.model"))
		return
	}
	if err := s.models.Validate(model); err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "unknown model", err))
		return
	}

	rc2, err := s.files.Get(ctx, req.InputFileID)
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInternal, "failed to open input file", err))
		return
	}
	total, err := batchio.CountLines(rc2)
	_ = rc2.Close()
	if err != nil {
		httputil.WriteError(w, apierr.Wrap(apierr.KindInvalidInput, "failed to count input records", err))
		return
	}
	if total == 0 {
		httputil.WriteError(w, apierr.New(apierr.KindInvalidInput, "input file has no records"))
		return
	}

	if err := s.sched.CheckAdmission(ctx, s.cfg.MaxQueueDepth, s.cfg.HeartbeatOfflineThreshold); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := s.store.CreateJob(ctx, store.CreateJobSpec{
		InputFileID:      req.InputFileID,
		Model:            model,
		TotalRequests:    total,
		Priority:         req.Priority,
		WebhookURL:       req.WebhookURL,
		WebhookEvents:    req.WebhookEvents,
		WebhookSecret:    req.WebhookSecret,
		Metadata:         req.Metadata,
		EndpointPath:     req.Endpoint,
		CompletionWindow: req.CompletionWindow,
	}, s.cfg.MaxQueueDepth)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.wake.Wake(ctx); err != nil {
		s.log.Warn("wakebus publish failed, worker will pick up job on next poll", "error", err)
	}

	httputil.WriteJSON(w, http.StatusOK, batchResponse(job, nil, nil, nil))
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	queuePos, err := s.sched.QueuePosition(ctx, job)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	estStart, err := s.sched.EstimateStart(ctx, job)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	estCompletion, err := s.sched.EstimateCompletion(ctx, job)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, batchResponse(job, queuePos, estStart, estCompletion))
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.RequestCancellation(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batchResponse(job, nil, nil, nil))
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status: store.JobStatus(q.Get("status")),
		Model:  q.Get("model"),
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
