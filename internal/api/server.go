// Package api implements the control plane's Public API: batch lifecycle,
// file upload/download, queue introspection, and webhook dead-letter
// administration, over a stdlib http.ServeMux.
package api

import (
	"net/http"

	"github.com/yungbote/neurobridge-backend/internal/config"
	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/modelregistry"
	"github.com/yungbote/neurobridge-backend/internal/queue"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/wakebus"
)

// Server holds every dependency the handlers close over.
type Server struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *store.Store
	sched  *queue.Scheduler
	files  filestore.Store
	models *modelregistry.Registry
	wake   wakebus.Bus
}

func NewServer(cfg *config.Config, log *logger.Logger, st *store.Store, sched *queue.Scheduler, files filestore.Store, models *modelregistry.Registry, wake wakebus.Bus) *http.Server {
	h := NewHandler(cfg, log, st, sched, files, models, wake)
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
	}
}

func NewHandler(cfg *config.Config, log *logger.Logger, st *store.Store, sched *queue.Scheduler, files filestore.Store, models *modelregistry.Registry, wake wakebus.Bus) http.Handler {
	if wake == nil {
		wake = wakebus.NoopBus{}
	}
	s := &Server{cfg: cfg, log: log, store: st, sched: sched, files: files, models: models, wake: wake}
	return s.handler()
}

// handler wires s's routes behind the standard middleware chain. Split out
// from NewHandler so tests can build a Server directly (e.g. with an
// in-memory store) without going through the full constructor.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.HandleFunc("POST /v1/files", s.handleUploadFile)
	mux.HandleFunc("GET /v1/files/{id}/content", s.handleFileContent)

	mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /v1/batches/{id}/cancel", s.handleCancelBatch)
	mux.HandleFunc("GET /v1/batches", s.handleListBatches)

	mux.HandleFunc("GET /v1/queue", s.handleQueueSnapshot)

	mux.HandleFunc("GET /v1/jobs/history", s.handleJobHistory)
	mux.HandleFunc("GET /v1/jobs/stats", s.handleJobStats)

	mux.HandleFunc("GET /v1/webhooks/dead-letter", s.handleListDeadLetters)
	mux.HandleFunc("POST /v1/webhooks/dead-letter/{id}/retry", s.handleRetryDeadLetter)
	mux.HandleFunc("DELETE /v1/webhooks/dead-letter/{id}", s.handleDeleteDeadLetter)

	var h http.Handler = mux
	h = recoverMiddleware(s.log)(h)
	h = accessLogMiddleware(s.log)(h)
	h = requestIDMiddleware()(h)
	h = maxRequestBodyMiddleware(s.cfg.HTTPMaxRequestBytes)(h)
	return h
}
