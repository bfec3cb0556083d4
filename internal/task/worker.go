package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scribe/internal/credential"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/store"
)

// WorkerConfig holds the per-run knobs a worker needs.
type WorkerConfig struct {
	// BatchSize is how many records to claim per round-trip.
	BatchSize int

	// BatchDelay is the inter-batch pacing sleep, the primary rate-limit
	// control against the external service.
	BatchDelay time.Duration

	// RetryCap bounds consecutive overload retries before escalating.
	RetryCap int

	// RetryDelay is the fixed sleep before re-claiming after an overload.
	RetryDelay time.Duration

	// RotationDelay is the pause after switching credentials.
	RotationDelay time.Duration
}

// Outcome summarizes one worker's run. Err is non-nil only when the worker
// terminated fatally; a drained queue or a cooperative stop is a normal
// Outcome with a nil Err.
type Outcome struct {
	WorkerID         int
	BatchesCompleted int
	BatchesFailed    int
	ItemsProcessed   int
	Err              error
}

// Worker claims, dispatches, and resolves batches until no work remains or
// a stop is requested. Each worker runs independently; the only shared
// state is the store, the progress counters, and the credential pool.
type Worker struct {
	id       int
	store    store.RecordStore
	gen      generation.Generator
	creds    *credential.Pool
	progress *Progress
	cfg      WorkerConfig
	logger   *slog.Logger

	// requestStop triggers the pool-wide cooperative stop. Set by the
	// pool coordinator before Run.
	requestStop func()
}

// NewWorker creates a worker wired to the shared run state.
func NewWorker(
	id int,
	st store.RecordStore,
	gen generation.Generator,
	creds *credential.Pool,
	progress *Progress,
	cfg WorkerConfig,
	logger *slog.Logger,
	requestStop func(),
) *Worker {
	return &Worker{
		id:          id,
		store:       st,
		gen:         gen,
		creds:       creds,
		progress:    progress,
		cfg:         cfg,
		logger:      logger.With("worker_id", id),
		requestStop: requestStop,
	}
}

// Run executes the worker loop until the queue drains, a stop is requested,
// or a fatal failure occurs. Every claimed batch resolves to exactly one of
// commit or release before the loop proceeds.
func (w *Worker) Run(ctx context.Context) Outcome {
	// Store operations log through the context, so their lines carry the
	// worker ID too.
	ctx = logger.WithLogger(ctx, w.logger)

	outcome := Outcome{WorkerID: w.id}
	budget := NewRetryBudget(w.cfg.RetryCap)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping on stop signal")
			return outcome
		}

		batch, err := w.store.ClaimBatch(ctx, w.cfg.BatchSize)
		if err != nil {
			// A store failure means the single source of truth is gone;
			// no worker can make progress.
			w.logger.Error("claim failed, stopping pool", "error", err)
			w.requestStop()
			outcome.Err = fmt.Errorf("claim failed: %w", err)
			return outcome
		}

		if len(batch) == 0 {
			w.logger.Info("no work left, worker finished")
			return outcome
		}

		seq := w.progress.NextBatch()
		w.logger.Info("claimed batch",
			"batch_seq", seq,
			"batch_size", len(batch),
			"record_ids", batchIDs(batch))

		pace, fatal := w.processBatch(ctx, seq, batch, budget, &outcome)
		if fatal != nil {
			outcome.Err = fatal
			return outcome
		}

		if pace {
			if !sleepCtx(ctx, w.cfg.BatchDelay) {
				w.logger.Info("worker stopping on stop signal")
				return outcome
			}
		}
	}
}

// processBatch dispatches one claimed batch and resolves it. It returns
// whether the normal inter-batch pacing sleep applies, and a non-nil error
// when the worker must terminate fatally. The batch is committed or
// released on every path before returning.
func (w *Worker) processBatch(
	ctx context.Context,
	seq int64,
	batch []*domain.Record,
	budget *RetryBudget,
	outcome *Outcome,
) (pace bool, fatal error) {
	key := w.creds.Current()

	results, err := w.gen.Generate(ctx, batch, key)
	if ctx.Err() != nil {
		// Stop requested mid-dispatch: resolve the batch and exit
		// cleanly rather than misclassifying the cancellation.
		w.release(ctx, seq, batch, outcome, "stop requested")
		return false, nil
	}
	if err == nil {
		// Count mismatch is a contract violation of the generator and is
		// routed through the classifier like any validation failure.
		err = generation.ValidateResults(results, len(batch))
	}

	if err == nil {
		if commitErr := w.store.CommitBatch(context.WithoutCancel(ctx), batch, results); commitErr != nil {
			w.logger.Error("commit failed, stopping pool",
				"batch_seq", seq,
				"error", commitErr)
			w.release(ctx, seq, batch, outcome, "commit failed")
			w.requestStop()
			return false, fmt.Errorf("commit failed: %w", commitErr)
		}

		w.progress.RecordCommit(len(batch))
		outcome.BatchesCompleted++
		outcome.ItemsProcessed += len(batch)
		budget.Reset()

		w.logger.Info("committed batch",
			"batch_seq", seq,
			"batch_size", len(batch))
		return true, nil
	}

	c := Classify(err, w.cfg.RetryDelay)
	w.logger.Warn("batch failed",
		"batch_seq", seq,
		"kind", c.Kind.String(),
		"reason", c.Reason,
		"record_ids", batchIDs(batch))

	switch c.Kind {
	case KindValidationFailed, KindDefault:
		w.release(ctx, seq, batch, outcome, c.Reason)
		return true, nil

	case KindCredentialExhausted:
		w.release(ctx, seq, batch, outcome, c.Reason)

		next, rotErr := w.creds.MarkExhaustedAndRotate(key)
		if rotErr != nil {
			w.logger.Error("credential pool exhausted, stopping pool")
			w.requestStop()
			return false, fmt.Errorf("credential pool exhausted: %w", rotErr)
		}

		w.logger.Info("rotated credential",
			"remaining", w.creds.Remaining(),
			"key_suffix", keySuffix(next))
		if !sleepCtx(ctx, w.cfg.RotationDelay) {
			return false, nil
		}
		return true, nil

	case KindRetryable:
		w.release(ctx, seq, batch, outcome, c.Reason)

		if !budget.Spend() {
			w.logger.Error("retry cap exceeded, stopping pool",
				"consecutive_retries", budget.Used())
			w.requestStop()
			return false, fmt.Errorf("retry cap exceeded after %d consecutive overloads", budget.Used())
		}

		w.logger.Info("retrying after overload",
			"delay", c.RetryDelay,
			"consecutive_retries", budget.Used())
		// Skip the normal pacing sleep; the retry delay replaces it.
		if !sleepCtx(ctx, c.RetryDelay) {
			return false, nil
		}
		return false, nil

	default: // KindFatal
		w.release(ctx, seq, batch, outcome, c.Reason)
		w.requestStop()
		return false, fmt.Errorf("fatal dispatch failure: %s", c.Reason)
	}
}

// release returns the batch to the queue and tallies the failure. A release
// failure is logged but not escalated further; the startup stuck-record
// reset of the next run is the backstop for records left claimed.
func (w *Worker) release(
	ctx context.Context,
	seq int64,
	batch []*domain.Record,
	outcome *Outcome,
	reason string,
) {
	// Resolution must survive a cooperative stop: a cancelled context would
	// otherwise leave the batch stuck in claimed state.
	ctx = context.WithoutCancel(ctx)
	if err := w.store.ReleaseBatch(ctx, batch); err != nil {
		w.logger.Error("release failed",
			"batch_seq", seq,
			"record_ids", batchIDs(batch),
			"error", err)
	}
	w.progress.RecordFailure()
	outcome.BatchesFailed++

	w.logger.Info("released batch",
		"batch_seq", seq,
		"batch_size", len(batch),
		"reason", reason)
}

// sleepCtx sleeps for d unless the context is cancelled first. It returns
// false when the sleep was interrupted by cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// batchIDs extracts record IDs for log lines.
func batchIDs(batch []*domain.Record) []uuid.UUID {
	ids := make([]uuid.UUID, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
	}
	return ids
}

// keySuffix returns the last few characters of a credential for logging
// without exposing the key itself.
func keySuffix(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}
