package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-backend/internal/httpx"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

// Config tunes the dispatcher's polling, concurrency, and retry behavior.
type Config struct {
	Workers      int
	PollInterval time.Duration
	ClaimBatch   int
	ClaimLease   time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	RequestTimeout time.Duration
}

// Dispatcher drains due WebhookDelivery rows with a bounded worker pool. Per
// §4.6, later events for the same job never start delivery ahead of an
// earlier one still in flight; inFlightJob enforces that without a
// database-level lock.
type Dispatcher struct {
	store *store.Store
	log   *logger.Logger
	cfg   Config
	http  *http.Client

	mu          sync.Mutex
	inFlightJob map[string]bool

	workQueue chan store.WebhookDelivery
}

func New(st *store.Store, log *logger.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = cfg.Workers * 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &Dispatcher{
		store:       st,
		log:         log.With("component", "webhook_dispatcher"),
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		inFlightJob: make(map[string]bool),
		workQueue:   make(chan store.WebhookDelivery, cfg.ClaimBatch),
	}
}

// Run starts the poll loop and worker pool; it blocks until ctx is
// cancelled, then drains in-flight work before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}

	g.Go(func() error {
		d.pollLoop(ctx)
		close(d.workQueue)
		return nil
	})

	return g.Wait()
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.claimAndEnqueue(ctx)
		}
	}
}

func (d *Dispatcher) claimAndEnqueue(ctx context.Context) {
	due, err := d.store.ClaimDueWebhooks(ctx, d.cfg.ClaimBatch, d.cfg.ClaimLease)
	if err != nil {
		d.log.Error("claim due webhooks failed", "error", err)
		return
	}
	for _, delivery := range due {
		select {
		case d.workQueue <- delivery:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for delivery := range d.workQueue {
		if d.tryLockJob(delivery.JobID) {
			d.process(ctx, delivery)
			d.unlockJob(delivery.JobID)
		} else {
			// Another event for this job is still being delivered; leave
			// this one pending so it is re-claimed on a later poll, after
			// next_attempt_at (already bumped by the claim lease) elapses.
			d.log.Debug("deferring webhook delivery, job has an in-flight delivery",
				"job_id", delivery.JobID, "event", delivery.Event)
		}
	}
}

func (d *Dispatcher) tryLockJob(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlightJob[jobID] {
		return false
	}
	d.inFlightJob[jobID] = true
	return true
}

func (d *Dispatcher) unlockJob(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlightJob, jobID)
}

func (d *Dispatcher) process(ctx context.Context, delivery store.WebhookDelivery) {
	now := time.Now().UTC()
	ts := unixTimestamp(now)

	var job store.Job
	signature := ""
	job.WebhookSecret = ""
	if j, err := d.store.GetJob(ctx, delivery.JobID); err == nil {
		job = *j
	}
	signature = Sign(job.WebhookSecret, ts, delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.finish(ctx, delivery, false, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Event", string(delivery.Event))
	req.Header.Set("X-Batch-Id", delivery.JobID)

	resp, err := d.http.Do(req)
	if err != nil {
		d.log.Warn("webhook delivery transport error", "delivery_id", delivery.ID, "error", err)
		d.finish(ctx, delivery, false, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.finish(ctx, delivery, true, "")
		return
	}
	if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
		d.finish(ctx, delivery, false, fmt.Sprintf("retryable status %d", resp.StatusCode))
		return
	}
	// Terminal non-2xx: route straight to DLQ by forcing the attempt count
	// to the max on this call.
	d.finishTerminal(ctx, delivery, fmt.Sprintf("terminal status %d", resp.StatusCode))
}

func (d *Dispatcher) finish(ctx context.Context, delivery store.WebhookDelivery, ok bool, lastErr string) {
	err := d.store.MarkWebhookResult(ctx, delivery.ID, ok, lastErr, d.cfg.MaxAttempts, func(attempt int) time.Duration {
		return httpx.JitterSleep(httpx.Backoff(d.cfg.BackoffBase, attempt))
	})
	if err != nil {
		d.log.Error("mark webhook result failed", "delivery_id", delivery.ID, "error", err)
	}
}

func (d *Dispatcher) finishTerminal(ctx context.Context, delivery store.WebhookDelivery, lastErr string) {
	err := d.store.MarkWebhookResult(ctx, delivery.ID, false, lastErr, 1, func(int) time.Duration { return 0 })
	if err != nil {
		d.log.Error("mark webhook result (terminal) failed", "delivery_id", delivery.ID, "error", err)
	}
}
