package worker

import (
	"testing"

	"github.com/yungbote/neurobridge-backend/internal/filestore"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/queue"
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

func newTestFiles(t *testing.T) filestore.Store {
	t.Helper()
	fs, err := filestore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.NewLocalStore: %v", err)
	}
	return fs
}
