// Package app assembles the control plane's two processes — the batchd
// control-plane daemon and the batchworker GPU executor — from the
// package-level components, the way the teacher's app.go wires a server
// out of config/logger/router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-backend/internal/api"
	"github.com/yungbote/neurobridge-backend/internal/config"
	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/modelregistry"
	"github.com/yungbote/neurobridge-backend/internal/observability"
	"github.com/yungbote/neurobridge-backend/internal/queue"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/wakebus"
	"github.com/yungbote/neurobridge-backend/internal/watchdog"
	"github.com/yungbote/neurobridge-backend/internal/webhook"
)

// Batchd is the control-plane process: the Public API, the webhook
// dispatcher, and the watchdog that supervises the worker subprocess.
type Batchd struct {
	Log    *logger.Logger
	Config *config.Config

	server      *http.Server
	dispatcher  *webhook.Dispatcher
	watchdog    *watchdog.Watchdog
	otelShutdown func(context.Context) error
}

func NewBatchd() (*Batchd, error) {
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

	models, err := loadModelRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}

	sched := queue.New(st, log, cfg.BootstrapThroughputRPS, cfg.ThroughputEWMAAlpha)

	var wake wakebus.Bus = wakebus.NoopBus{}
	if cfg.RedisAddr != "" {
		wake, err = wakebus.New(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("init wakebus: %w", err)
		}
	}

	otelShutdown := observability.Init(ctx, log, observability.Config{
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})

	srv := api.NewServer(cfg, log, st, sched, fileStore, models, wake)

	dispatcher := webhook.New(st, log, webhook.Config{
		Workers:        cfg.WebhookDispatcherWorkers,
		ClaimBatch:     cfg.WebhookQueueSize,
		MaxAttempts:    cfg.WebhookMaxAttempts,
		BackoffBase:    cfg.WebhookBackoffBase,
	})

	wd := watchdog.New(st, log, watchdog.Config{
		Interval:         cfg.WatchdogInterval,
		StaleThreshold:   cfg.WatchdogStaleThreshold,
		RestartBudget:    cfg.RestartBudget,
		BudgetWindow:     cfg.RestartBudgetWindow,
		WorkerBinaryPath: cfg.WorkerBinaryPath,
	})

	return &Batchd{
		Log:          log,
		Config:       cfg,
		server:       srv,
		dispatcher:   dispatcher,
		watchdog:     wd,
		otelShutdown: otelShutdown,
	}, nil
}

// Run starts the HTTP server, the webhook dispatcher, and the watchdog
// concurrently; it returns once ctx is cancelled and every component has
// shut down.
func (a *Batchd) Run(ctx context.Context) error {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- a.server.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTPShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	g.Go(func() error {
		err := a.dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := a.watchdog.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func loadModelRegistry(cfg *config.Config) (*modelregistry.Registry, error) {
	if cfg.ModelRegistryPath == "" {
		return modelregistry.Default(), nil
	}
	data, err := config.LoadModelRegistryFile(cfg.ModelRegistryPath)
	if err != nil {
		return nil, err
	}
	return modelregistry.NewFromJSON(data)
}
