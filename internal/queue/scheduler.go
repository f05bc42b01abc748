// Package queue implements the scheduler: selecting the next runnable job,
// computing queue position, and estimating start/completion times from an
// exponentially-weighted moving average of observed throughput.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

// Scheduler wraps the Store's claim/position queries with the
// throughput-estimation state that the Store itself has no business owning.
type Scheduler struct {
	store *store.Store
	log   *logger.Logger

	bootstrapRPS float64
	alpha        float64

	mu       sync.Mutex
	emaRPS   float64
	hasEMA   bool
}

func New(st *store.Store, log *logger.Logger, bootstrapRPS, alpha float64) *Scheduler {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if bootstrapRPS <= 0 {
		bootstrapRPS = 1
	}
	return &Scheduler{
		store:        st,
		log:          log.With("component", "scheduler"),
		bootstrapRPS: bootstrapRPS,
		alpha:        alpha,
	}
}

// ClaimNext atomically picks the head of the validating queue and
// transitions it to in_progress. Returns (nil, nil) when the queue is empty.
func (s *Scheduler) ClaimNext(ctx context.Context, workerPID int) (*store.Job, error) {
	return s.store.ClaimNextJob(ctx, workerPID)
}

// ObserveThroughput folds a freshly-measured requests/sec sample (reported
// by the worker after each chunk) into the moving average used for ETAs.
func (s *Scheduler) ObserveThroughput(rps float64) {
	if rps <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasEMA {
		s.emaRPS = rps
		s.hasEMA = true
		return
	}
	s.emaRPS = s.alpha*rps + (1-s.alpha)*s.emaRPS
}

// CurrentThroughput returns the current moving-average estimate, falling
// back to the configured bootstrap value until at least one sample lands.
func (s *Scheduler) CurrentThroughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasEMA {
		return s.bootstrapRPS
	}
	return s.emaRPS
}

// QueuePosition delegates to the Store's positional count.
func (s *Scheduler) QueuePosition(ctx context.Context, job *store.Job) (*int, error) {
	return s.store.QueuePosition(ctx, job)
}

// EstimateStart computes estimated_start_time(J): now plus the remaining
// work of the currently in-progress job plus the expected duration of every
// validating job strictly ahead of J.
func (s *Scheduler) EstimateStart(ctx context.Context, job *store.Job) (*time.Time, error) {
	if job.Status == store.JobStatusInProgress {
		now := time.Now().UTC()
		return &now, nil
	}
	if job.Status.Terminal() {
		return nil, nil
	}

	throughput := s.CurrentThroughput()
	var waitSeconds float64

	// Remaining seconds of the currently in-progress job, if any.
	runnable, err := s.currentlyInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if runnable != nil {
		remaining := runnable.TotalRequests - runnable.CompletedRequests - runnable.FailedRequests
		if remaining < 0 {
			remaining = 0
		}
		rt := runnable.CurrentThroughput
		if rt <= 0 {
			rt = throughput
		}
		waitSeconds += float64(remaining) / rt
	}

	ahead, err := s.jobsAhead(ctx, job)
	if err != nil {
		return nil, err
	}
	for _, a := range ahead {
		waitSeconds += float64(a.TotalRequests) / throughput
	}

	start := time.Now().UTC().Add(time.Duration(waitSeconds * float64(time.Second)))
	return &start, nil
}

// EstimateCompletion computes estimated_completion_time(J) as
// EstimateStart(J) plus J's own expected duration at the current throughput
// estimate.
func (s *Scheduler) EstimateCompletion(ctx context.Context, job *store.Job) (*time.Time, error) {
	start, err := s.EstimateStart(ctx, job)
	if err != nil || start == nil {
		return start, err
	}
	throughput := s.CurrentThroughput()
	remaining := job.TotalRequests - job.CompletedRequests - job.FailedRequests
	if remaining < 0 {
		remaining = 0
	}
	dur := time.Duration(float64(remaining) / throughput * float64(time.Second))
	completion := start.Add(dur)
	return &completion, nil
}

func (s *Scheduler) currentlyInProgress(ctx context.Context) (*store.Job, error) {
	jobs, _, err := s.store.ListJobs(ctx, store.JobFilter{Status: store.JobStatusInProgress}, store.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *Scheduler) jobsAhead(ctx context.Context, job *store.Job) ([]store.Job, error) {
	jobs, _, err := s.store.ListJobs(ctx, store.JobFilter{Status: store.JobStatusValidating}, store.Page{Limit: 200})
	if err != nil {
		return nil, err
	}
	var ahead []store.Job
	for _, j := range jobs {
		if j.ID == job.ID {
			continue
		}
		if before(j, *job) {
			ahead = append(ahead, j)
		}
	}
	return ahead, nil
}

func before(a, b store.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CheckAdmission enforces the enqueue-time guards: queue depth and worker
// liveness.
func (s *Scheduler) CheckAdmission(ctx context.Context, maxQueueDepth int, heartbeatOfflineThreshold time.Duration) error {
	hb, err := s.store.ReadHeartbeat(ctx)
	if err != nil {
		return err
	}
	if hb == nil || time.Since(hb.LastSeen) > heartbeatOfflineThreshold {
		return apierr.New(apierr.KindServiceUnavailable, "worker is offline")
	}

	if maxQueueDepth > 0 {
		depth, err := s.store.CountRunnable(ctx)
		if err != nil {
			return err
		}
		if depth >= int64(maxQueueDepth) {
			return apierr.New(apierr.KindQueueFull, "queue is at capacity")
		}
	}
	return nil
}
