package store

import (
	"context"
	"database/sql"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
)

// RecordStore defines the interface for the record queue. The status column
// of the records table is the only synchronization primitive for work
// assignment: claim, commit, and release are store-level transactions, and
// workers never mutate record status directly.
// Version: 1.0
type RecordStore interface {
	// Create saves a new record to the store in unprocessed state.
	// It handles domain validation internally.
	Create(ctx context.Context, record *domain.Record) error

	// ClaimBatch atomically selects up to n schedulable records
	// (unprocessed or failed_retryable), marks them claimed, and returns
	// their full payload. The select-and-mark sequence is a single
	// transaction: two concurrent ClaimBatch calls never return
	// overlapping records. An empty result is the no-work-left signal,
	// not an error.
	ClaimBatch(ctx context.Context, n int) ([]*domain.Record, error)

	// CommitBatch transactionally writes the generated results and sets
	// status=done for every record in the batch. Requires exactly one
	// result per record; a mismatch returns ErrBatchResultMismatch
	// without touching the store.
	CommitBatch(ctx context.Context, batch []*domain.Record, results []generation.Result) error

	// ReleaseBatch sets every record in the batch back to
	// failed_retryable, making it eligible for re-claim, and increments
	// its attempt counter.
	ReleaseBatch(ctx context.Context, batch []*domain.Record) error

	// ResetStuckRecords flips any record left in claimed state by a prior
	// crashed run back to unprocessed. Must run to completion before the
	// first ClaimBatch of a run. Returns the number of records reset.
	ResetStuckRecords(ctx context.Context) (int64, error)

	// CountByStatus returns the number of records with the given status.
	// The count is point-in-time; it need not be consistent with
	// concurrent claims.
	CountByStatus(ctx context.Context, status domain.RecordStatus) (int64, error)

	// CountSchedulable returns the number of records currently eligible
	// for claiming (unprocessed plus failed_retryable).
	CountSchedulable(ctx context.Context) (int64, error)

	// CountAll returns the total number of records.
	CountAll(ctx context.Context) (int64, error)

	// WithTx returns a new RecordStore instance that uses the provided
	// transaction. This allows for multiple operations to be executed
	// within a single transaction. The transaction should be created and
	// managed by the caller.
	WithTx(tx *sql.Tx) RecordStore
}
