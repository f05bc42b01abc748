package api

import (
	"time"

	"github.com/yungbote/neurobridge-backend/internal/store"
)

// FileResponse mirrors the OpenAI file object for §6's upload/content surface.
type FileResponse struct {
	ID        string `json:"id"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

func fileResponse(f *store.File) FileResponse {
	return FileResponse{
		ID:        f.ID,
		Bytes:     f.Bytes,
		CreatedAt: f.CreatedAt.Unix(),
		Filename:  f.Filename,
		Purpose:   string(f.Purpose),
	}
}

// RequestCounts is the job's request accounting block.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchResponse is the GetBatch/ListBatches/CreateBatch wire shape.
type BatchResponse struct {
	ID               string         `json:"id"`
	Status           store.JobStatus `json:"status"`
	Endpoint         string         `json:"endpoint"`
	CompletionWindow string         `json:"completion_window"`
	InputFileID      string         `json:"input_file_id"`
	OutputFileID     *string        `json:"output_file_id,omitempty"`
	ErrorFileID      *string        `json:"error_file_id,omitempty"`
	Model            string         `json:"model"`
	Priority         int            `json:"priority"`
	RequestCounts    RequestCounts  `json:"request_counts"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	CreatedAt    int64  `json:"created_at"`
	InProgressAt *int64 `json:"in_progress_at,omitempty"`
	CompletedAt  *int64 `json:"completed_at,omitempty"`
	FailedAt     *int64 `json:"failed_at,omitempty"`
	CancelledAt  *int64 `json:"cancelled_at,omitempty"`

	QueuePosition         *int    `json:"queue_position,omitempty"`
	EstimatedStartTime    *int64  `json:"estimated_start_time,omitempty"`
	EstimatedCompletion   *int64  `json:"estimated_completion_time,omitempty"`

	Errors map[string]any `json:"errors,omitempty"`
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func batchResponse(j *store.Job, queuePos *int, estStart, estCompletion *time.Time) BatchResponse {
	return BatchResponse{
		ID:               j.ID,
		Status:           j.Status,
		Endpoint:         j.EndpointPath,
		CompletionWindow: j.CompletionWindow,
		InputFileID:      j.InputFileID,
		OutputFileID:     j.OutputFileID,
		ErrorFileID:      j.ErrorFileID,
		Model:            j.Model,
		Priority:         j.Priority,
		RequestCounts: RequestCounts{
			Total:     j.TotalRequests,
			Completed: j.CompletedRequests,
			Failed:    j.FailedRequests,
		},
		Metadata:            map[string]any(j.Metadata),
		CreatedAt:           j.CreatedAt.Unix(),
		InProgressAt:        unixPtr(j.InProgressAt),
		CompletedAt:         unixPtr(j.CompletedAt),
		FailedAt:            unixPtr(j.FailedAt),
		CancelledAt:         unixPtr(j.CancelledAt),
		QueuePosition:       queuePos,
		EstimatedStartTime:  unixPtr(estStart),
		EstimatedCompletion: unixPtr(estCompletion),
		Errors:              map[string]any(j.Errors),
	}
}

// ListResponse wraps a page of T with pagination metadata.
type ListResponse[T any] struct {
	Data       []T   `json:"data"`
	TotalCount int64 `json:"total_count"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// QueueSnapshotResponse answers GET /v1/queue.
type QueueSnapshotResponse struct {
	Depth               int64   `json:"depth"`
	InProgressID        *string `json:"in_progress_id,omitempty"`
	HeartbeatAgeSeconds *float64 `json:"heartbeat_age_seconds,omitempty"`
	WorkerStatus        string  `json:"worker_status"`
}

// JobStatsResponse answers GET /v1/jobs/stats.
type JobStatsResponse struct {
	WindowSeconds   int     `json:"window_seconds"`
	TotalJobs       int     `json:"total_jobs"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	SuccessRate     float64 `json:"success_rate"`
	AverageDuration float64 `json:"average_duration_seconds"`
	Throughput      float64 `json:"throughput_requests_per_second"`
}

// WebhookDeliveryResponse is the admin DLQ surface shape.
type WebhookDeliveryResponse struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	Event         string `json:"event"`
	URL           string `json:"url"`
	State         string `json:"state"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	LastAttemptAt *int64 `json:"last_attempt_at,omitempty"`
}

func webhookDeliveryResponse(d *store.WebhookDelivery) WebhookDeliveryResponse {
	return WebhookDeliveryResponse{
		ID:            d.ID,
		JobID:         d.JobID,
		Event:         string(d.Event),
		URL:           d.URL,
		State:         string(d.State),
		AttemptCount:  d.AttemptCount,
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt.Unix(),
		LastAttemptAt: unixPtr(d.LastAttemptAt),
	}
}
