package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/config"
	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/modelregistry"
	"github.com/yungbote/neurobridge-backend/internal/queue"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/wakebus"
)

func testCfg() *config.Config {
	return &config.Config{
		Env:                       "development",
		HTTPAddr:                  ":0",
		HTTPReadHeaderTimeout:     5 * time.Second,
		MaxQueueDepth:             100,
		HeartbeatOfflineThreshold: time.Minute,
	}
}

// testServer builds a Server backed by a real in-memory sqlite store and a
// local-disk filestore rooted at a scratch directory, so handler tests
// exercise the same code paths production wiring does.
func testServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := store.Open("sqlite", ":memory:", log)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	fs, err := filestore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	models, err := modelregistry.New([]modelregistry.Entry{{ID: "mock-1"}})
	if err != nil {
		t.Fatalf("modelregistry.New: %v", err)
	}
	sched := queue.New(st, log, 5, 0.3)

	return &Server{cfg: testCfg(), log: log, store: st, sched: sched, files: fs, models: models, wake: wakebus.NoopBus{}}
}

func testHandler(t *testing.T) (http.Handler, *Server) {
	t.Helper()
	s := testServer(t)
	return s.handler(), s
}
