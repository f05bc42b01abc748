// Package webhook delivers signed event notifications for job lifecycle
// transitions, with retries, a bounded worker pool, and a dead-letter queue
// for deliveries that exhaust their retry budget.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-backend/internal/store"
)

// Payload is the canonical JSON body delivered to a job's webhook_url.
type Payload struct {
	Event         store.WebhookEvent `json:"event"`
	BatchID       string              `json:"batch_id"`
	Status        store.JobStatus     `json:"status"`
	RequestCounts RequestCounts       `json:"request_counts"`
	CreatedAt     time.Time           `json:"created_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	OutputFileID  *string             `json:"output_file_id,omitempty"`
	ErrorFileID   *string             `json:"error_file_id,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BuildPayload renders the event payload for job at its current state. ok is
// false when the job carries no webhook_url or does not subscribe to event.
func BuildPayload(job *store.Job, event store.WebhookEvent) (string, []byte, bool, error) {
	if job.WebhookURL == "" {
		return "", nil, false, nil
	}
	if !job.WebhookEventSet()[event] {
		return "", nil, false, nil
	}

	completedAt := job.CompletedAt
	if event == store.WebhookEventFailed {
		completedAt = job.FailedAt
	}

	p := Payload{
		Event:   event,
		BatchID: job.ID,
		Status:  job.Status,
		RequestCounts: RequestCounts{
			Total:     job.TotalRequests,
			Completed: job.CompletedRequests,
			Failed:    job.FailedRequests,
		},
		CreatedAt:    job.CreatedAt,
		CompletedAt:  completedAt,
		OutputFileID: job.OutputFileID,
		ErrorFileID:  job.ErrorFileID,
		Metadata:     map[string]any(job.Metadata),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", nil, false, err
	}
	return job.WebhookURL, b, true, nil
}

// Sign computes the HMAC-SHA256 signature over timestamp + "." + payload,
// per §4.6: transmitted alongside X-Timestamp so receivers can reject
// requests outside a ±5-minute replay window.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func unixTimestamp(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

// Enqueue builds event's payload for job and inserts a pending delivery row.
// A no-op (nil, nil) when the job has no webhook configured for event.
func Enqueue(ctx context.Context, st *store.Store, job *store.Job, event store.WebhookEvent) (*store.WebhookDelivery, error) {
	url, payload, ok, err := BuildPayload(job, event)
	if err != nil || !ok {
		return nil, err
	}
	return st.EnqueueWebhook(ctx, job.ID, event, url, datatypes.JSON(payload))
}
