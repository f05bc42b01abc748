package watchdog

import (
	"os"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/logger"
)

func newTestWatchdog(t *testing.T, cfg Config) *Watchdog {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(nil, log, cfg)
}

func TestNewAppliesDefaults(t *testing.T) {
	wd := newTestWatchdog(t, Config{})
	if wd.cfg.Interval != 30*time.Second {
		t.Errorf("Interval = %s", wd.cfg.Interval)
	}
	if wd.cfg.StaleThreshold != 60*time.Second {
		t.Errorf("StaleThreshold = %s", wd.cfg.StaleThreshold)
	}
	if wd.cfg.RestartBudget != 10 {
		t.Errorf("RestartBudget = %d", wd.cfg.RestartBudget)
	}
	if wd.cfg.BudgetWindow != time.Hour {
		t.Errorf("BudgetWindow = %s", wd.cfg.BudgetWindow)
	}
}

func TestOverBudgetPrunesOldRestarts(t *testing.T) {
	wd := newTestWatchdog(t, Config{RestartBudget: 2, BudgetWindow: time.Minute})

	old := time.Now().Add(-2 * time.Minute)
	wd.mu.Lock()
	wd.restarts = []time.Time{old, old, old}
	wd.mu.Unlock()

	if wd.overBudget() {
		t.Fatalf("overBudget() = true, want false once stale restarts are pruned")
	}
	wd.mu.Lock()
	n := len(wd.restarts)
	wd.mu.Unlock()
	if n != 0 {
		t.Fatalf("restarts not pruned, len = %d", n)
	}
}

func TestOverBudgetTripsAfterBudgetExceeded(t *testing.T) {
	wd := newTestWatchdog(t, Config{RestartBudget: 2, BudgetWindow: time.Hour})
	for i := 0; i < 3; i++ {
		wd.recordRestart()
	}
	if !wd.overBudget() {
		t.Fatalf("overBudget() = false after exceeding budget of 2 with 3 restarts")
	}
}

func TestProcessAliveDetectsOwnProcess(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatalf("processAlive(self) = false")
	}
}

func TestProcessAliveRejectsImplausiblePID(t *testing.T) {
	// A PID this large cannot belong to a live process on any real system.
	if processAlive(1 << 30) {
		t.Fatalf("processAlive(huge pid) = true")
	}
}

func TestSpawnWorkerFailsWithoutBinaryPath(t *testing.T) {
	wd := newTestWatchdog(t, Config{})
	if err := wd.spawnWorker(); err == nil {
		t.Fatalf("spawnWorker() with no WorkerBinaryPath should fail")
	}
}
