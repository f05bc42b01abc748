// Package worker implements the GPU-bound executor: the single process
// that owns the loaded model, claims jobs from the scheduler, and runs them
// to completion in fixed-size, checkpointed chunks.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/engine"
	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/queue"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/wakebus"
	"github.com/yungbote/neurobridge-backend/internal/webhook"
)

// Config tunes the worker's timers and retry budgets.
type Config struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration

	ModelLoadMaxAttempts int
	ModelLoadBackoff     time.Duration

	ChunkSize       int
	ChunkRetryLimit int
}

// Worker is the single, process-wide owner of the inference engine. At most
// one instance runs per control plane; the watchdog enforces that.
type Worker struct {
	store     *store.Store
	scheduler *queue.Scheduler
	engine    engine.Engine
	files     filestore.Store
	wake      wakebus.Bus
	log       *logger.Logger
	cfg       Config

	pid       int
	startedAt time.Time

	mu          sync.Mutex
	state       store.HeartbeatStatus
	loadedModel string
	currentJob  string
}

func New(st *store.Store, sched *queue.Scheduler, eng engine.Engine, files filestore.Store, wake wakebus.Bus, log *logger.Logger, cfg Config) *Worker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ModelLoadMaxAttempts <= 0 {
		cfg.ModelLoadMaxAttempts = 3
	}
	if cfg.ModelLoadBackoff <= 0 {
		cfg.ModelLoadBackoff = 10 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.ChunkRetryLimit <= 0 {
		cfg.ChunkRetryLimit = 3
	}
	if wake == nil {
		wake = wakebus.NoopBus{}
	}

	return &Worker{
		store:     st,
		scheduler: sched,
		engine:    eng,
		files:     files,
		wake:      wake,
		log:       log.With("component", "worker"),
		cfg:       cfg,
		pid:       os.Getpid(),
		startedAt: time.Now().UTC(),
		state:     store.HeartbeatStatusIdle,
	}
}

// Run is the main loop: starting -> idle -> loading -> processing -> idle ->
// ... -> draining -> stopped. It returns ctx's error when ctx is cancelled,
// or the fatal error runJob returns on a checkpoint I/O failure.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.reconcileOnStartup(ctx); err != nil {
		w.log.Warn("stray in_progress reconciliation failed (continuing)", "error", err)
	}

	stopHeartbeat := w.startHeartbeatLoop(ctx)
	defer stopHeartbeat()

	var wakeCh chan struct{}
	if w.wake != nil {
		wakeCh = make(chan struct{}, 1)
		_ = w.wake.Listen(ctx, func() {
			select {
			case wakeCh <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			w.setState(store.HeartbeatStatusDraining)
			w.emitHeartbeat(ctx)
			return ctx.Err()
		default:
		}

		job, err := w.scheduler.ClaimNext(ctx, w.pid)
		if err != nil {
			w.log.Error("claim next job failed", "error", err)
			job = nil
		}

		if job == nil {
			select {
			case <-ctx.Done():
				continue
			case <-wakeCh:
				continue
			case <-time.After(w.cfg.PollInterval):
				continue
			}
		}

		w.setCurrentJob(job.ID)
		fatal := w.runJob(ctx, job)
		w.setCurrentJob("")
		if fatal != nil {
			return fatal
		}
	}
}

// reconcileOnStartup implements spec.md §4.5 item 3: find the job this
// worker incarnation should resume (the heartbeat's current_job_id), and
// requeue every other stray in_progress row back to validating.
func (w *Worker) reconcileOnStartup(ctx context.Context) error {
	hb, err := w.store.ReadHeartbeat(ctx)
	if err != nil {
		return err
	}
	resumeID := ""
	if hb != nil && hb.CurrentJobID != nil {
		if j, err := w.store.GetJob(ctx, *hb.CurrentJobID); err == nil && j.Status == store.JobStatusInProgress {
			resumeID = j.ID
		}
	}
	n, err := w.store.ReconcileStray(ctx, resumeID)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Warn("requeued stray in_progress jobs on startup", "count", n, "resume_job_id", resumeID)
	}
	if resumeID != "" {
		w.log.Info("resuming claimed job from previous incarnation", "job_id", resumeID)
	}
	return nil
}

func (w *Worker) setState(s store.HeartbeatStatus) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) setCurrentJob(id string) {
	w.mu.Lock()
	w.currentJob = id
	w.mu.Unlock()
}

func (w *Worker) snapshot() (store.HeartbeatStatus, string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.loadedModel, w.currentJob
}

func (w *Worker) startHeartbeatLoop(ctx context.Context) func() {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-ticker.C:
				w.emitHeartbeat(ctx)
			}
		}
	}()
	return func() { <-done }
}

func (w *Worker) emitHeartbeat(_ context.Context) {
	status, model, _ := w.snapshot()
	hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.UpsertHeartbeat(hbCtx, status, model, w.pid, w.startedAt); err != nil {
		w.log.Error("heartbeat write failed", "error", err)
	}
}
