package worker

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
	"github.com/yungbote/neurobridge-backend/internal/store"
)

// ensureModel implements spec.md §4.3 step 4: if the loaded model differs
// from job's target, unload (best-effort) then load, retrying up to
// ModelLoadMaxAttempts with ModelLoadBackoff between attempts, forcing a GC
// cycle between attempts to release any GPU-adjacent host allocations.
func (w *Worker) ensureModel(ctx context.Context, job *store.Job) error {
	_, loaded, _ := w.snapshot()
	if loaded == job.Model {
		return nil
	}

	w.setState(store.HeartbeatStatusLoading)
	w.emitHeartbeat(ctx)

	if loaded != "" {
		if err := w.engine.UnloadModel(ctx); err != nil {
			w.log.Warn("unload model failed (continuing)", "model", loaded, "error", err)
		}
		w.setLoadedModel("")
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.ModelLoadMaxAttempts; attempt++ {
		err := w.engine.LoadModel(ctx, job.Model)
		if err == nil {
			w.setLoadedModel(job.Model)
			return nil
		}
		lastErr = err
		w.log.Warn("model load attempt failed", "model", job.Model, "attempt", attempt, "error", err)

		runtime.GC()

		if attempt < w.cfg.ModelLoadMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.ModelLoadBackoff):
			}
		}
	}

	return apierr.Wrap(apierr.KindModelLoadFailed, fmt.Sprintf("failed to load model %q after %d attempts", job.Model, w.cfg.ModelLoadMaxAttempts), lastErr)
}

func (w *Worker) setLoadedModel(model string) {
	w.mu.Lock()
	w.loadedModel = model
	w.mu.Unlock()
}
