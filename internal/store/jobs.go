package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
)

// CreateJobSpec is the validated input to CreateJob; the caller (the Public
// API handler) has already checked file existence and model registry
// membership before calling this.
type CreateJobSpec struct {
	InputFileID      string
	Model            string
	TotalRequests    int
	Priority         int
	WebhookURL       string
	WebhookEvents    []string
	WebhookSecret    string
	Metadata         map[string]any
	EndpointPath     string
	CompletionWindow string
}

// CreateJob inserts a new job in status=validating, enforcing the queue-depth
// admission guard. maxQueueDepth<=0 disables the guard (used in tests).
func (s *Store) CreateJob(ctx context.Context, spec CreateJobSpec, maxQueueDepth int) (*Job, error) {
	var job *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if maxQueueDepth > 0 {
			var depth int64
			if err := tx.Model(&Job{}).
				Where("status IN ?", []JobStatus{JobStatusValidating, JobStatusInProgress}).
				Count(&depth).Error; err != nil {
				return err
			}
			if depth >= int64(maxQueueDepth) {
				return apierr.New(apierr.KindQueueFull, "queue is at capacity")
			}
		}

		events := strings.Join(spec.WebhookEvents, ",")
		j := &Job{
			ID:            uuid.NewString(),
			Status:        JobStatusValidating,
			Priority:      spec.Priority,
			InputFileID:   spec.InputFileID,
			Model:         spec.Model,
			TotalRequests: spec.TotalRequests,
			CreatedAt:     time.Now().UTC(),
			WebhookURL:    spec.WebhookURL,
			WebhookEvents: events,
			WebhookSecret: spec.WebhookSecret,
			Metadata:      datatypes.JSONMap(spec.Metadata),
			EndpointPath:     spec.EndpointPath,
			CompletionWindow: spec.CompletionWindow,
		}
		if err := tx.Create(j).Error; err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TransitionJob performs a compare-and-swap on status. patch is applied in
// the same update when the CAS succeeds; it must not include "status".
func (s *Store) TransitionJob(ctx context.Context, id string, from, to JobStatus, patch map[string]any) (*Job, error) {
	if !legalTransition(from, to) {
		return nil, apierr.New(apierr.KindConflict, fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	var job Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": to}
		for k, v := range patch {
			updates[k] = v
		}
		switch to {
		case JobStatusInProgress:
			updates["in_progress_at"] = time.Now().UTC()
		case JobStatusCompleted:
			updates["completed_at"] = time.Now().UTC()
		case JobStatusFailed:
			updates["failed_at"] = time.Now().UTC()
		case JobStatusCancelled:
			updates["cancelled_at"] = time.Now().UTC()
		}

		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists Job
			if err := tx.Where("id = ?", id).First(&exists).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return apierr.New(apierr.KindNotFound, "job not found")
				}
				return err
			}
			return apierr.New(apierr.KindConflict, fmt.Sprintf("job %s is not in status %s (current: %s)", id, from, exists.Status))
		}
		return tx.Where("id = ?", id).First(&job).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func legalTransition(from, to JobStatus) bool {
	switch {
	case from == JobStatusValidating && to == JobStatusInProgress:
		return true
	case from == JobStatusValidating && to == JobStatusCancelled:
		return true
	case from == JobStatusValidating && to == JobStatusFailed:
		return true
	case from == JobStatusInProgress && to == JobStatusCompleted:
		return true
	case from == JobStatusInProgress && to == JobStatusFailed:
		return true
	case from == JobStatusInProgress && to == JobStatusCancelled:
		return true
	case from == JobStatusInProgress && to == JobStatusValidating:
		return true
	}
	return false
}

// ProgressUpdate is the monotonic per-chunk checkpoint write.
type ProgressUpdate struct {
	ChunkIndex        int
	CompletedRequests int
	FailedRequests    int
	TokensProcessed   int64
	Throughput        float64
	OutputFileID      *string
	ErrorFileID       *string
}

// UpdateProgress persists one chunk's checkpoint. Allowed only while
// status=in_progress; the caller (the worker) guarantees monotonicity since
// it is the sole writer for the job during that window.
func (s *Store) UpdateProgress(ctx context.Context, id string, u ProgressUpdate) error {
	updates := map[string]any{
		"current_chunk_index":  u.ChunkIndex,
		"completed_requests":   u.CompletedRequests,
		"failed_requests":      u.FailedRequests,
		"tokens_processed":     u.TokensProcessed,
		"current_throughput":   u.Throughput,
		"last_progress_update": time.Now().UTC(),
	}
	if u.OutputFileID != nil {
		updates["output_file_id"] = *u.OutputFileID
	}
	if u.ErrorFileID != nil {
		updates["error_file_id"] = *u.ErrorFileID
	}

	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobStatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.New(apierr.KindConflict, "job is not in_progress")
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.New(apierr.KindNotFound, "job not found")
		}
		return nil, err
	}
	return &j, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status    JobStatus
	Model     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

type Page struct {
	Limit  int
	Offset int
}

// ListJobs returns a page of jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter, page Page) ([]Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Model != "" {
		q = q.Where("model = ?", filter.Model)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := page.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var jobs []Job
	if err := q.Order("created_at DESC").Limit(limit).Offset(page.Offset).Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CountRunnable returns the admission-relevant queue depth: validating +
// in_progress.
func (s *Store) CountRunnable(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("status IN ?", []JobStatus{JobStatusValidating, JobStatusInProgress}).
		Count(&n).Error
	return n, err
}

// ClaimNextJob atomically selects the head of the validating set ordered by
// (priority DESC, created_at ASC, id ASC), transitions it to in_progress,
// and stamps the heartbeat's current_job_id. Returns (nil, nil) when the
// queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context, workerPID int) (*Job, error) {
	var claimed *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", JobStatusValidating).
			Order("priority DESC, created_at ASC, id ASC").
			Limit(1).
			First(&head).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&Job{}).Where("id = ?", head.ID).Updates(map[string]any{
			"status":         JobStatusInProgress,
			"in_progress_at": now,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&WorkerHeartbeat{}).Where("id = ?", HeartbeatSingletonID).
			Updates(map[string]any{"current_job_id": head.ID}).Error; err != nil {
			return err
		}

		head.Status = JobStatusInProgress
		head.InProgressAt = &now
		claimed = &head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// QueuePosition returns 1 + the count of validating jobs strictly ordered
// before job j by the scheduler rule; 0 for in_progress; nil for terminal.
func (s *Store) QueuePosition(ctx context.Context, j *Job) (*int, error) {
	if j.Status == JobStatusInProgress {
		zero := 0
		return &zero, nil
	}
	if j.Status.Terminal() {
		return nil, nil
	}
	if j.Status != JobStatusValidating {
		return nil, nil
	}

	var ahead int64
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", JobStatusValidating).
		Where("(priority > ?) OR (priority = ? AND created_at < ?) OR (priority = ? AND created_at = ? AND id < ?)",
			j.Priority, j.Priority, j.CreatedAt, j.Priority, j.CreatedAt, j.ID).
		Count(&ahead).Error
	if err != nil {
		return nil, err
	}
	pos := int(ahead) + 1
	return &pos, nil
}

// RequestCancellation sets the cooperative-cancellation flag. If the job is
// still validating, it transitions immediately to cancelled; otherwise the
// flag is polled by the worker at the next chunk boundary.
func (s *Store) RequestCancellation(ctx context.Context, id string) (*Job, error) {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	switch j.Status {
	case JobStatusValidating:
		return s.TransitionJob(ctx, id, JobStatusValidating, JobStatusCancelled, nil)
	case JobStatusInProgress:
		if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
			Update("cancel_requested", true).Error; err != nil {
			return nil, err
		}
		return s.GetJob(ctx, id)
	default:
		return nil, apierr.New(apierr.KindConflict, "job is already in a terminal state")
	}
}

// IsCancelRequested is polled by the worker at chunk boundaries.
func (s *Store) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var j Job
	if err := s.db.WithContext(ctx).Select("cancel_requested").Where("id = ?", id).First(&j).Error; err != nil {
		return false, err
	}
	return j.CancelRequested, nil
}

// ReconcileStray implements spec.md §4.5 item 3: on worker startup, any job
// in_progress whose id does not match the heartbeat's current_job_id (the
// row this worker instance is about to resume) is stale — it was claimed by
// a prior worker incarnation that died without clearing it — and is
// requeued to validating for re-claim.
func (s *Store) ReconcileStray(ctx context.Context, resumeJobID string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Job{}).Where("status = ?", JobStatusInProgress)
	if resumeJobID != "" {
		q = q.Where("id <> ?", resumeJobID)
	}
	res := q.Updates(map[string]any{
		"status":         JobStatusValidating,
		"in_progress_at": nil,
	})
	return res.RowsAffected, res.Error
}
