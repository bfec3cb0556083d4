package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scribe/internal/credential"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/store"
)

// PoolConfig holds the coordinator-level knobs.
type PoolConfig struct {
	WorkerCount int
	Worker      WorkerConfig
}

// Summary aggregates the result of a completed run.
type Summary struct {
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration

	// InitialSchedulable and TotalRecords are the point-in-time counts
	// taken before workers started.
	InitialSchedulable int64
	TotalRecords       int64

	ItemsProcessed   int64
	BatchesCompleted int64
	BatchesFailed    int64

	// Done and FailedRetryable are the final status counts after all
	// workers stopped. FailedRetryable rows keep their attempt counters
	// and are picked up again by the next run.
	Done            int64
	FailedRetryable int64

	// Workers holds the per-worker breakdown in worker-ID order.
	Workers []Outcome
}

// FatalError returns the first fatal worker error, or nil when the run
// drained or stopped cleanly.
func (s *Summary) FatalError() error {
	for _, o := range s.Workers {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// Pool launches the workers, propagates the cooperative stop signal, waits
// for a graceful drain, and produces the run summary. It owns no queue
// state itself; the store is the single source of truth.
type Pool struct {
	store  store.RecordStore
	gen    generation.Generator
	creds  *credential.Pool
	cfg    PoolConfig
	logger *slog.Logger
}

// NewPool wires a pool over the shared collaborators.
func NewPool(
	st store.RecordStore,
	gen generation.Generator,
	creds *credential.Pool,
	cfg PoolConfig,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		store:  st,
		gen:    gen,
		creds:  creds,
		cfg:    cfg,
		logger: logger,
	}
}

// Run resets stuck records, takes initial counts, starts the workers, and
// blocks until every worker has stopped. Cancelling ctx requests a
// cooperative stop: workers finish their in-flight batch, resolve it, and
// exit. The summary is returned even when a worker terminated fatally; the
// caller decides the process exit code from Summary.FatalError.
func (p *Pool) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	// The stuck-record reset must complete before any worker claims,
	// otherwise a genuinely-live claim could be flipped mid-flight.
	reset, err := p.store.ResetStuckRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset stuck records: %w", err)
	}

	schedulable, err := p.store.CountSchedulable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count schedulable records: %w", err)
	}
	total, err := p.store.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	p.logger.Info("starting worker pool",
		"worker_count", p.cfg.WorkerCount,
		"batch_size", p.cfg.Worker.BatchSize,
		"schedulable", schedulable,
		"total", total,
		"reset_stuck", reset,
		"credentials", p.creds.Size())

	// Workers share a derived context so any of them can stop the pool.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := &Progress{}
	outcomes := make([]Outcome, p.cfg.WorkerCount)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(i, p.store, p.gen, p.creds, progress,
			p.cfg.Worker, p.logger, cancel)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = worker.Run(runCtx)
		}(i)
	}
	wg.Wait()

	// Final counts are taken with a fresh context: a cooperative stop
	// cancelled ctx but the summary should still report the end state.
	countCtx := context.WithoutCancel(ctx)
	done, err := p.store.CountByStatus(countCtx, domain.RecordStatusDone)
	if err != nil {
		return nil, fmt.Errorf("failed to count done records: %w", err)
	}
	failed, err := p.store.CountByStatus(countCtx, domain.RecordStatusFailedRetryable)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed records: %w", err)
	}

	summary := &Summary{
		Elapsed:            time.Since(start),
		InitialSchedulable: schedulable,
		TotalRecords:       total,
		ItemsProcessed:     progress.ItemsProcessed(),
		BatchesCompleted:   progress.BatchesCompleted(),
		BatchesFailed:      progress.BatchesFailed(),
		Done:               done,
		FailedRetryable:    failed,
		Workers:            outcomes,
	}

	p.logger.Info("worker pool finished",
		"elapsed", summary.Elapsed,
		"items_processed", summary.ItemsProcessed,
		"batches_completed", summary.BatchesCompleted,
		"batches_failed", summary.BatchesFailed,
		"done", summary.Done,
		"failed_retryable", summary.FailedRetryable)
	for _, o := range summary.Workers {
		p.logger.Info("worker summary",
			"worker_id", o.WorkerID,
			"batches_completed", o.BatchesCompleted,
			"batches_failed", o.BatchesFailed,
			"items_processed", o.ItemsProcessed,
			"fatal", o.Err != nil)
	}

	return summary, nil
}
