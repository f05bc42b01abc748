package store

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus enumerates the Job lifecycle states named in the data model.
type JobStatus string

const (
	JobStatusValidating JobStatus = "validating"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusExpired    JobStatus = "expired"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// FilePurpose enumerates what role a File plays in a job.
type FilePurpose string

const (
	FilePurposeBatchInput  FilePurpose = "batch"
	FilePurposeBatchOutput FilePurpose = "batch_output"
	FilePurposeBatchError  FilePurpose = "batch_error"
)

// HeartbeatStatus enumerates the worker states the heartbeat row publishes.
type HeartbeatStatus string

const (
	HeartbeatStatusIdle       HeartbeatStatus = "idle"
	HeartbeatStatusLoading    HeartbeatStatus = "loading"
	HeartbeatStatusProcessing HeartbeatStatus = "processing"
	HeartbeatStatusDraining   HeartbeatStatus = "draining"
)

// WebhookEvent enumerates event types the dispatcher delivers.
type WebhookEvent string

const (
	WebhookEventCompleted WebhookEvent = "completed"
	WebhookEventFailed    WebhookEvent = "failed"
	WebhookEventProgress  WebhookEvent = "progress"
)

// WebhookState enumerates a delivery's lifecycle.
type WebhookState string

const (
	WebhookStatePending    WebhookState = "pending"
	WebhookStateSucceeded  WebhookState = "succeeded"
	WebhookStateDeadLetter WebhookState = "dead_letter"
)

// Job is the durable record of one batch job.
type Job struct {
	ID     string    `gorm:"primaryKey;type:text"`
	Status JobStatus `gorm:"type:text;index:idx_jobs_status"`
	Priority int     `gorm:"index:idx_jobs_priority"`

	InputFileID  string `gorm:"type:text"`
	OutputFileID *string `gorm:"type:text"`
	ErrorFileID  *string `gorm:"type:text"`

	Model string `gorm:"type:text;index:idx_jobs_model"`

	TotalRequests     int
	CompletedRequests int
	FailedRequests    int
	TokensProcessed   int64

	CreatedAt           time.Time `gorm:"index:idx_jobs_created_at"`
	InProgressAt        *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	CancelledAt         *time.Time
	LastProgressUpdate  *time.Time

	CurrentChunkIndex       int
	CurrentThroughput       float64 // requests/sec measured over the last completed chunk
	EstimatedCompletionTime *time.Time

	CancelRequested bool

	WebhookURL    string
	WebhookEvents string // comma-separated subset of {completed,failed,progress}
	WebhookSecret string

	Metadata datatypes.JSONMap
	Errors   datatypes.JSONMap

	// EndpointPath and CompletionWindow are carried through from CreateBatch
	// for round-tripping in GetBatch responses; they do not affect control
	// plane behavior.
	EndpointPath     string
	CompletionWindow string
}

func (j *Job) WebhookEventSet() map[WebhookEvent]bool {
	out := map[WebhookEvent]bool{}
	for _, e := range splitCSV(j.WebhookEvents) {
		out[WebhookEvent(e)] = true
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// File is a content-addressed, immutable (after creation) byte stream.
type File struct {
	ID        string `gorm:"primaryKey;type:text"`
	Purpose   FilePurpose `gorm:"type:text"`
	Filename  string
	Bytes     int64
	CreatedAt time.Time
}

// WorkerHeartbeat is a singleton row (ID fixed at 1).
type WorkerHeartbeat struct {
	ID              uint `gorm:"primaryKey"`
	LastSeen        time.Time
	Status          HeartbeatStatus `gorm:"type:text"`
	LoadedModel     string
	ModelLoadedAt   *time.Time
	WorkerPID       int
	WorkerStartedAt *time.Time
	CurrentJobID    *string
}

const HeartbeatSingletonID uint = 1

// WebhookDelivery is one row per attempt-group.
type WebhookDelivery struct {
	ID            string `gorm:"primaryKey;type:text"`
	JobID         string `gorm:"index:idx_webhook_job_id"`
	Event         WebhookEvent `gorm:"type:text"`
	URL           string
	Payload       datatypes.JSON
	Signature     string
	AttemptCount  int
	NextAttemptAt time.Time `gorm:"index:idx_webhook_next_attempt"`
	State         WebhookState `gorm:"type:text;index:idx_webhook_state"`
	LastError     string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}

func allModels() []any {
	return []any{
		&Job{},
		&File{},
		&WorkerHeartbeat{},
		&WebhookDelivery{},
	}
}
