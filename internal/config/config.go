// Package config loads the control plane's tunables from the process
// environment, with sane defaults for local development.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/envutil"
)

// Duration unmarshals from either a JSON string ("5s") or an int nanosecond
// count.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		dd, err := time.ParseDuration(u)
		if err != nil {
			return err
		}
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

// StoreConfig configures the gorm connection. Driver is "postgres" or
// "sqlite"; DSN is the driver-specific connection string (a file path for
// sqlite).
type StoreConfig struct {
	Driver string
	DSN    string
}

// GPUTier maps a GPU memory size to a default chunk size, per §4.3.
type GPUTier struct {
	MemoryGiB int
	ChunkSize int
}

var defaultGPUTiers = []GPUTier{
	{MemoryGiB: 12, ChunkSize: 50},
	{MemoryGiB: 16, ChunkSize: 100},
	{MemoryGiB: 24, ChunkSize: 150},
	{MemoryGiB: 48, ChunkSize: 200},
}

// Config holds every tunable named by the control plane's components.
type Config struct {
	Env string

	HTTPAddr            string
	HTTPShutdownTimeout  time.Duration
	HTTPMaxRequestBytes  int64
	HTTPReadHeaderTimeout time.Duration

	Store StoreConfig

	ModelRegistryPath string

	FileStoreMode      string // "local" or "gcs"
	FileStoreLocalRoot string
	FileStoreGCSBucket string

	MaxQueueDepth             int
	HeartbeatInterval         time.Duration
	PollInterval              time.Duration
	HeartbeatOfflineThreshold time.Duration

	WatchdogInterval        time.Duration
	WatchdogStaleThreshold  time.Duration
	RestartBudget           int
	RestartBudgetWindow     time.Duration

	ModelLoadMaxAttempts int
	ModelLoadBackoff     time.Duration

	GPUMemoryTierGiB int
	ChunkSize        int // 0 means "derive from GPUMemoryTierGiB"
	ChunkRetryLimit  int

	WebhookMaxAttempts      int
	WebhookBackoffBase      time.Duration
	WebhookDispatcherWorkers int
	WebhookQueueSize        int
	ProgressWebhooksEnabled bool

	BootstrapThroughputRPS float64
	ThroughputEWMAAlpha    float64

	WorkerBinaryPath string

	RedisAddr    string
	RedisChannel string

	OTelServiceName string
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64

	EngineType string // "mock" or "http"
	EngineBaseURL string
}

// Load builds a Config from defaults overridden by environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Env: envutil.String("ENV", "development"),

		HTTPAddr:              envutil.String("HTTP_ADDR", ":8080"),
		HTTPShutdownTimeout:   envutil.Duration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		HTTPMaxRequestBytes:   int64(envutil.Int("HTTP_MAX_REQUEST_BYTES", 32<<20)),
		HTTPReadHeaderTimeout: envutil.Duration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),

		Store: StoreConfig{
			Driver: envutil.String("STORE_DRIVER", "postgres"),
			DSN:    envutil.String("STORE_DSN", ""),
		},

		ModelRegistryPath: envutil.String("MODEL_REGISTRY_PATH", ""),

		FileStoreMode:      envutil.String("FILESTORE_MODE", "local"),
		FileStoreLocalRoot: envutil.String("FILESTORE_LOCAL_ROOT", "./data/blobs"),
		FileStoreGCSBucket: envutil.String("FILESTORE_GCS_BUCKET", ""),

		MaxQueueDepth:             envutil.Int("MAX_QUEUE_DEPTH", 100),
		HeartbeatInterval:         envutil.Duration("HEARTBEAT_INTERVAL", 5*time.Second),
		PollInterval:              envutil.Duration("POLL_INTERVAL", 2*time.Second),
		HeartbeatOfflineThreshold: envutil.Duration("HEARTBEAT_OFFLINE_THRESHOLD", 60*time.Second),

		WatchdogInterval:       envutil.Duration("WATCHDOG_INTERVAL", 30*time.Second),
		WatchdogStaleThreshold: envutil.Duration("WATCHDOG_STALE_THRESHOLD", 60*time.Second),
		RestartBudget:          envutil.Int("RESTART_BUDGET", 10),
		RestartBudgetWindow:    envutil.Duration("RESTART_BUDGET_WINDOW", time.Hour),

		ModelLoadMaxAttempts: envutil.Int("MODEL_LOAD_MAX_ATTEMPTS", 3),
		ModelLoadBackoff:     envutil.Duration("MODEL_LOAD_BACKOFF", 10*time.Second),

		GPUMemoryTierGiB: envutil.Int("GPU_MEMORY_TIER_GIB", 16),
		ChunkSize:        envutil.Int("CHUNK_SIZE", 0),
		ChunkRetryLimit:  envutil.Int("CHUNK_RETRY_LIMIT", 3),

		WebhookMaxAttempts:       envutil.Int("WEBHOOK_MAX_ATTEMPTS", 3),
		WebhookBackoffBase:       envutil.Duration("WEBHOOK_BACKOFF_BASE", 2*time.Second),
		WebhookDispatcherWorkers: envutil.Int("WEBHOOK_DISPATCHER_WORKERS", 8),
		WebhookQueueSize:         envutil.Int("WEBHOOK_QUEUE_SIZE", 256),
		ProgressWebhooksEnabled:  envutil.Bool("PROGRESS_WEBHOOKS_ENABLED", false),

		BootstrapThroughputRPS: float64(envutil.Int("BOOTSTRAP_THROUGHPUT_RPS", 5)),
		ThroughputEWMAAlpha:    0.3,

		WorkerBinaryPath: envutil.String("WORKER_BINARY_PATH", "batchworker"),

		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_WAKE_CHANNEL", "batchd:worker:wake"),

		OTelServiceName: envutil.String("OTEL_SERVICE_NAME", "batchd"),
		OTelEnabled:     envutil.Bool("OTEL_ENABLED", false),
		OTelEndpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio: 0.1,

		EngineType:    envutil.String("ENGINE_TYPE", "mock"),
		EngineBaseURL: envutil.String("ENGINE_BASE_URL", ""),
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunkSizeForTier(cfg.GPUMemoryTierGiB)
	}

	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "batchd.sqlite3"
	}

	if strings.EqualFold(cfg.EngineType, "http") && strings.TrimSpace(cfg.EngineBaseURL) == "" {
		return nil, fmt.Errorf("config: ENGINE_BASE_URL required when ENGINE_TYPE=http")
	}

	return cfg, nil
}

func chunkSizeForTier(tierGiB int) int {
	best := 100
	for _, t := range defaultGPUTiers {
		if tierGiB >= t.MemoryGiB {
			best = t.ChunkSize
		}
	}
	return best
}

// LoadModelRegistryFile reads a JSON file of {"models": [{"id": "...", "upstream_model": "...", ...}]}
// when ModelRegistryPath is set, else returns nil (caller falls back to defaults).
func LoadModelRegistryFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var probe json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("config: invalid model registry file %s: %w", path, err)
	}
	return b, nil
}
