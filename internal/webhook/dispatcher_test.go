package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := store.Open("sqlite", ":memory:", log)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestTryLockJobSerializesPerJob(t *testing.T) {
	log, _ := logger.New("development")
	d := New(nil, log, Config{})

	if !d.tryLockJob("job-1") {
		t.Fatalf("first tryLockJob should succeed")
	}
	if d.tryLockJob("job-1") {
		t.Fatalf("second tryLockJob for the same job should fail while in flight")
	}
	if !d.tryLockJob("job-2") {
		t.Fatalf("a different job should lock independently")
	}
	d.unlockJob("job-1")
	if !d.tryLockJob("job-1") {
		t.Fatalf("tryLockJob should succeed again after unlock")
	}
}

func TestProcessMarksSuccessOn2xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.CreateJobSpec{InputFileID: "f", Model: "m", TotalRequests: 1}, 0)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	delivery, err := st.EnqueueWebhook(ctx, job.ID, store.WebhookEventCompleted, srv.URL, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	log, _ := logger.New("development")
	d := New(st, log, Config{MaxAttempts: 3, BackoffBase: time.Millisecond})
	d.process(ctx, *delivery)

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("handler hits = %d, want 1", hits)
	}
	rows, _, err := st.ListDeadLetters(ctx, store.Page{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("a successful delivery must not be dead-lettered")
	}
}

func TestProcessRoutesTerminalStatusStraightToDeadLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := newTestStore(t)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.CreateJobSpec{InputFileID: "f", Model: "m", TotalRequests: 1}, 0)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	delivery, err := st.EnqueueWebhook(ctx, job.ID, store.WebhookEventCompleted, srv.URL, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	log, _ := logger.New("development")
	d := New(st, log, Config{MaxAttempts: 10, BackoffBase: time.Millisecond})
	d.process(ctx, *delivery)

	rows, total, err := st.ListDeadLetters(ctx, store.Page{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("a terminal 4xx must dead-letter on the first attempt regardless of MaxAttempts, got total=%d", total)
	}
}

func TestProcessRetriesOnRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := newTestStore(t)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.CreateJobSpec{InputFileID: "f", Model: "m", TotalRequests: 1}, 0)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	delivery, err := st.EnqueueWebhook(ctx, job.ID, store.WebhookEventCompleted, srv.URL, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	log, _ := logger.New("development")
	d := New(st, log, Config{MaxAttempts: 5, BackoffBase: time.Millisecond})
	d.process(ctx, *delivery)

	rows, total, err := st.ListDeadLetters(ctx, store.Page{})
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("a retryable status with attempts remaining must not dead-letter yet")
	}
}
