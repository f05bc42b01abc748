package store

import (
	"testing"

	"github.com/yungbote/neurobridge-backend/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := Open("sqlite", ":memory:", log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}
