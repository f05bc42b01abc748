package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/config"
	"github.com/yungbote/neurobridge-backend/internal/engine"
	"github.com/yungbote/neurobridge-backend/internal/engine/httpengine"
	"github.com/yungbote/neurobridge-backend/internal/engine/mock"
	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/queue"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/wakebus"
	"github.com/yungbote/neurobridge-backend/internal/worker"
)

// BatchWorker is the GPU-bound process the watchdog spawns and supervises.
type BatchWorker struct {
	Log    *logger.Logger
	Config *config.Config

	w *worker.Worker
}

func NewBatchWorker() (*BatchWorker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ctx := context.Background()
	fileStore, err := filestore.New(ctx, filestore.Config{
		Mode:      filestore.Mode(cfg.FileStoreMode),
		LocalRoot: cfg.FileStoreLocalRoot,
		GCSBucket: cfg.FileStoreGCSBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("open filestore: %w", err)
	}

	sched := queue.New(st, log, cfg.BootstrapThroughputRPS, cfg.ThroughputEWMAAlpha)

	eng, err := buildEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	var wake wakebus.Bus = wakebus.NoopBus{}
	if cfg.RedisAddr != "" {
		wake, err = wakebus.New(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("init wakebus: %w", err)
		}
	}

	w := worker.New(st, sched, eng, fileStore, wake, log, worker.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		PollInterval:         cfg.PollInterval,
		ModelLoadMaxAttempts: cfg.ModelLoadMaxAttempts,
		ModelLoadBackoff:     cfg.ModelLoadBackoff,
		ChunkSize:            cfg.ChunkSize,
		ChunkRetryLimit:      cfg.ChunkRetryLimit,
	})

	return &BatchWorker{Log: log, Config: cfg, w: w}, nil
}

func (a *BatchWorker) Run(ctx context.Context) error {
	return a.w.Run(ctx)
}

func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch strings.ToLower(cfg.EngineType) {
	case "", "mock":
		return mock.New(), nil
	case "http":
		return httpengine.New(httpengine.Config{
			BaseURL:             cfg.EngineBaseURL,
			ChatCompletionsPath: "/v1/chat/completions",
			Timeout:             30 * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.EngineType)
	}
}
