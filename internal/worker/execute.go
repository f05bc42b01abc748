package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
	"github.com/yungbote/neurobridge-backend/internal/batchio"
	"github.com/yungbote/neurobridge-backend/internal/engine"
	"github.com/yungbote/neurobridge-backend/internal/logger"
	"github.com/yungbote/neurobridge-backend/internal/store"
	"github.com/yungbote/neurobridge-backend/internal/webhook"
)

// runJob drives one claimed job from in_progress through to a terminal
// state: completed, failed, or cancelled. Per-job failures (bad input,
// engine errors, cancellation) are reflected into job state and logged, and
// runJob returns nil — a single bad job never takes down the main loop. A
// checkpoint I/O failure is different: it means the filestore itself can no
// longer be trusted, so runJob returns a non-nil fatal error that the caller
// propagates out of Run, ending the process so the watchdog can restart it
// cleanly onto reconcileOnStartup.
func (w *Worker) runJob(ctx context.Context, job *store.Job) error {
	log := w.log.With("job_id", job.ID, "model", job.Model)

	if err := w.ensureModel(ctx, job); err != nil {
		log.Error("model load failed, failing job", "error", err)
		w.failJob(ctx, job, err)
		return nil
	}

	w.setState(store.HeartbeatStatusProcessing)
	w.emitHeartbeat(ctx)

	outKey := job.ID + ":output"
	errKey := job.ID + ":error"

	chunkSize := w.cfg.ChunkSize
	numChunks := (job.TotalRequests + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	for chunkIndex := job.CurrentChunkIndex; chunkIndex < numChunks; chunkIndex++ {
		cancelled, err := w.store.IsCancelRequested(ctx, job.ID)
		if err != nil {
			log.Error("cancel check failed (continuing)", "error", err)
		}
		if cancelled {
			w.cancelJob(ctx, job)
			return nil
		}

		records, readErr := w.readChunk(ctx, job.InputFileID, chunkIndex, chunkSize)
		if readErr != nil {
			log.Error("failed to read chunk from input file, failing job", "chunk", chunkIndex, "error", readErr)
			w.failJob(ctx, job, apierr.Wrap(apierr.KindInvalidInput, "failed to read input chunk", readErr))
			return nil
		}
		if len(records) == 0 {
			break
		}

		started := time.Now()
		results := w.inferChunkWithRetry(ctx, log, job.Model, records)

		outBuf, errBuf, completed, failed, tokens := renderChunk(records, results)

		if err := w.files.Append(ctx, outKey, outBuf); err != nil {
			log.Error("checkpoint write (output) failed, aborting chunk", "chunk", chunkIndex, "error", err)
			return w.drainForCheckpointFailure(ctx, job, err)
		}
		if len(errBuf) > 0 {
			if err := w.files.Append(ctx, errKey, errBuf); err != nil {
				log.Error("checkpoint write (error) failed, aborting chunk", "chunk", chunkIndex, "error", err)
				return w.drainForCheckpointFailure(ctx, job, err)
			}
		}

		elapsed := time.Since(started).Seconds()
		throughput := 0.0
		if elapsed > 0 {
			throughput = float64(len(records)) / elapsed
		}
		w.scheduler.ObserveThroughput(throughput)

		job.CurrentChunkIndex = chunkIndex + 1
		job.CompletedRequests += completed
		job.FailedRequests += failed
		job.TokensProcessed += tokens
		job.CurrentThroughput = throughput

		if err := w.store.UpdateProgress(ctx, job.ID, store.ProgressUpdate{
			ChunkIndex:        job.CurrentChunkIndex,
			CompletedRequests: job.CompletedRequests,
			FailedRequests:    job.FailedRequests,
			TokensProcessed:   job.TokensProcessed,
			Throughput:        throughput,
		}); err != nil {
			log.Error("progress checkpoint failed", "chunk", chunkIndex, "error", err)
		}

		if w.wake != nil {
			_ = w.wake.Wake(ctx)
		}
	}

	w.finishJob(ctx, job, outKey, errKey)
	return nil
}

// chunkRecord is one line read for a chunk. Record is non-nil for a line
// that parsed successfully and should be sent to the engine; MalformedErr is
// non-nil for a line that failed to parse, in which case Record is always
// nil and the line never reaches the engine — it is rendered straight into
// the error stream with the CustomID synthesized from its line number.
type chunkRecord struct {
	CustomID     string
	Record       *batchio.InputRecord
	MalformedErr *engine.ResultError
}

// readChunk parses the input file from the beginning and returns the slice
// of records belonging to chunkIndex. Re-scanning from the start on every
// chunk keeps resumption correct without needing a seekable record cursor;
// input files are bounded by HTTPMaxRequestBytes so this stays cheap.
func (w *Worker) readChunk(ctx context.Context, inputFileID string, chunkIndex, chunkSize int) ([]*chunkRecord, error) {
	rc, err := w.files.Get(ctx, inputFileID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := batchio.NewReader(rc)
	skip := chunkIndex * chunkSize

	for i := 0; i < skip; i++ {
		if _, err := r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			var malformed *batchio.MalformedLineError
			if errors.As(err, &malformed) {
				continue // later malformed lines are per-record errors, not fatal here
			}
			return nil, err
		}
	}

	var out []*chunkRecord
	for len(out) < chunkSize {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var malformed *batchio.MalformedLineError
			if errors.As(err, &malformed) {
				out = append(out, &chunkRecord{
					CustomID: fmt.Sprintf("__malformed_line_%d", malformed.Line),
					MalformedErr: &engine.ResultError{
						Message: malformed.Error(),
						Type:    "invalid_request_error",
						Code:    string(apierr.KindInvalidInput),
					},
				})
				continue
			}
			return nil, err
		}
		out = append(out, &chunkRecord{CustomID: rec.CustomID, Record: rec})
	}
	return out, nil
}

// inferChunkWithRetry submits the chunk's well-formed records to the engine,
// retrying whole-chunk engine failures up to ChunkRetryLimit. Malformed
// records never enter the request batch — they already carry a synthesized
// error from readChunk and are passed straight through. Beyond the retry
// limit, every well-formed record is instead synthesized as a failed Result.
func (w *Worker) inferChunkWithRetry(ctx context.Context, log *logger.Logger, model string, records []*chunkRecord) []engine.Result {
	out := make([]engine.Result, len(records))

	var requests []engine.Request
	var requestIdx []int
	for i, rec := range records {
		if rec.MalformedErr != nil {
			out[i] = engine.Result{CustomID: rec.CustomID, Err: rec.MalformedErr}
			continue
		}
		requests = append(requests, toEngineRequest(model, rec.Record))
		requestIdx = append(requestIdx, i)
	}
	if len(requests) == 0 {
		return out
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.ChunkRetryLimit; attempt++ {
		results, err := w.engine.Infer(ctx, model, requests)
		if err == nil {
			for j, res := range results {
				if j < len(requestIdx) {
					out[requestIdx[j]] = res
				}
			}
			return out
		}
		lastErr = err
		log.Warn("chunk inference attempt failed", "attempt", attempt, "error", err.Error())
		if attempt < w.cfg.ChunkRetryLimit {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	for _, i := range requestIdx {
		out[i] = engine.Result{
			CustomID: records[i].CustomID,
			Model:    model,
			Err: &engine.ResultError{
				Message: fmt.Sprintf("chunk failed after %d attempts: %v", w.cfg.ChunkRetryLimit, lastErr),
				Type:    "inference_engine_error",
				Code:    string(apierr.KindInferenceEngineErr),
			},
		}
	}
	return out
}

func toEngineRequest(model string, r *batchio.InputRecord) engine.Request {
	req := engine.Request{CustomID: r.CustomID, Model: model}
	if r.Body.Model != "" {
		req.Model = r.Body.Model
	}
	req.MaxTokens = r.Body.MaxTokens
	req.Temperature = r.Body.Temperature
	req.TopP = r.Body.TopP

	var msgs []engine.Message
	if len(r.Body.Messages) > 0 {
		_ = json.Unmarshal(r.Body.Messages, &msgs)
	}
	req.Messages = msgs
	return req
}

// renderChunk splits results into output/error JSONL buffers, preserving
// input order within each stream, and returns per-chunk counters. A record
// with no engine.Request behind it (a malformed line) always lands in the
// error stream via its MalformedErr result — renderChunk never has to know
// the difference between that and an engine-reported failure.
func renderChunk(records []*chunkRecord, results []engine.Result) (out, errBuf []byte, completed, failed int, tokens int64) {
	var outW, errW bytes.Buffer
	ow := batchio.NewWriter(&outW)
	ew := batchio.NewWriter(&errW)

	for i, rec := range records {
		var res engine.Result
		if i < len(results) {
			res = results[i]
		} else {
			res = engine.Result{CustomID: rec.CustomID, Err: &engine.ResultError{Message: "no result returned", Type: "internal_error", Code: string(apierr.KindInternal)}}
		}

		if res.Err != nil {
			_ = ew.Write(batchio.OutputRecord{
				ID:       uuid.NewString(),
				CustomID: rec.CustomID,
				Response: nil,
				Error: &batchio.ResultError{
					Message: res.Err.Message,
					Type:    res.Err.Type,
					Code:    res.Err.Code,
				},
			})
			failed++
			continue
		}

		choicesJSON, _ := json.Marshal(res.Choices)
		usageJSON, _ := json.Marshal(res.Usage)
		_ = ow.Write(batchio.OutputRecord{
			ID:       uuid.NewString(),
			CustomID: rec.CustomID,
			Response: &batchio.Response{
				StatusCode: 200,
				Body: batchio.ResponseBody{
					Model:   res.Model,
					Choices: choicesJSON,
					Usage:   usageJSON,
				},
			},
		})
		completed++
		tokens += int64(res.Usage.TotalTokens)
	}

	return outW.Bytes(), errW.Bytes(), completed, failed, tokens
}

func (w *Worker) finishJob(ctx context.Context, job *store.Job, outKey, errKey string) {
	outSize, _ := w.files.Size(ctx, outKey)
	errSize, _ := w.files.Size(ctx, errKey)

	now := time.Now().UTC()
	patch := map[string]any{"last_progress_update": now}
	if outSize > 0 {
		if _, err := w.registerFile(ctx, outKey, store.FilePurposeBatchOutput, outSize); err == nil {
			patch["output_file_id"] = outKey
		}
	}
	if errSize > 0 {
		if _, err := w.registerFile(ctx, errKey, store.FilePurposeBatchError, errSize); err == nil {
			patch["error_file_id"] = errKey
		}
	}

	updated, err := w.store.TransitionJob(ctx, job.ID, store.JobStatusInProgress, store.JobStatusCompleted, patch)
	if err != nil {
		w.log.Error("failed to transition job to completed", "job_id", job.ID, "error", err)
		return
	}
	w.setState(store.HeartbeatStatusIdle)
	if err := w.store.ClearCurrentJob(ctx); err != nil {
		w.log.Warn("clear current_job_id failed", "error", err)
	}

	if _, err := webhook.Enqueue(ctx, w.store, updated, store.WebhookEventCompleted); err != nil {
		w.log.Error("enqueue completed webhook failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) failJob(ctx context.Context, job *store.Job, cause error) {
	errRec := map[string]any{"message": cause.Error(), "kind": apierr.Code(cause)}
	patch := map[string]any{"errors": datatypes.JSONMap(errRec)}

	updated, err := w.store.TransitionJob(ctx, job.ID, store.JobStatusInProgress, store.JobStatusFailed, patch)
	if err != nil {
		w.log.Error("failed to transition job to failed", "job_id", job.ID, "error", err)
		return
	}
	w.setState(store.HeartbeatStatusIdle)
	if err := w.store.ClearCurrentJob(ctx); err != nil {
		w.log.Warn("clear current_job_id failed", "error", err)
	}
	if _, err := webhook.Enqueue(ctx, w.store, updated, store.WebhookEventFailed); err != nil {
		w.log.Error("enqueue failed webhook failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) cancelJob(ctx context.Context, job *store.Job) {
	// Cancellation has no webhook event in the §4.6 contract — only
	// completed/failed/progress are delivered.
	if _, err := w.store.TransitionJob(ctx, job.ID, store.JobStatusInProgress, store.JobStatusCancelled, nil); err != nil {
		w.log.Error("failed to transition job to cancelled", "job_id", job.ID, "error", err)
		return
	}
	w.setState(store.HeartbeatStatusIdle)
	if err := w.store.ClearCurrentJob(ctx); err != nil {
		w.log.Warn("clear current_job_id failed", "error", err)
	}
}

// drainForCheckpointFailure implements the CheckpointIOError propagation
// policy: abort the chunk, re-emit heartbeat as draining, and leave the job
// untouched in in_progress — never flip it to failed, since the chunk's
// output may already be durably written. It returns a fatal error; the
// caller (runJob) must propagate it all the way out of Run so the process
// exits and the watchdog restarts it onto reconcileOnStartup, which is the
// only thing allowed to resume this job's in_progress state.
func (w *Worker) drainForCheckpointFailure(ctx context.Context, job *store.Job, cause error) error {
	w.setState(store.HeartbeatStatusDraining)
	w.emitHeartbeat(ctx)
	w.log.Error("checkpoint I/O error, draining for watchdog restart", "job_id", job.ID, "error", cause)
	return apierr.Wrap(apierr.KindCheckpointIOError, fmt.Sprintf("checkpoint write failed for job %s, exiting for restart", job.ID), cause)
}

func (w *Worker) registerFile(ctx context.Context, id string, purpose store.FilePurpose, size int64) (*store.File, error) {
	f := &store.File{ID: id, Purpose: purpose, Filename: id, Bytes: size, CreatedAt: time.Now().UTC()}
	if err := w.store.UpsertFile(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}
