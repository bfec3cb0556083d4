package postgres_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/platform/postgres"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/testdb"
)

// seedRecords inserts n unprocessed records and returns them.
func seedRecords(t *testing.T, s store.RecordStore, n int) []*domain.Record {
	t.Helper()
	ctx := context.Background()

	records := make([]*domain.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := domain.NewRecord("source text for record")
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, rec))
		records = append(records, rec)
	}
	return records
}

func resultsFor(batch []*domain.Record) []generation.Result {
	results := make([]generation.Result, len(batch))
	for i := range batch {
		results[i] = generation.Result{Text: "generated output"}
	}
	return results
}

func TestClaimCommitRoundTrip(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)
	ctx := context.Background()

	seedRecords(t, s, 5)

	batch, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, rec := range batch {
		assert.Equal(t, domain.RecordStatusClaimed, rec.Status)
	}

	claimed, err := s.CountByStatus(ctx, domain.RecordStatusClaimed)
	require.NoError(t, err)
	assert.EqualValues(t, 2, claimed)

	results := resultsFor(batch)
	results[0].Metadata = json.RawMessage(`{"lang":"en"}`)
	require.NoError(t, s.CommitBatch(ctx, batch, results))

	done, err := s.CountByStatus(ctx, domain.RecordStatusDone)
	require.NoError(t, err)
	assert.EqualValues(t, 2, done)

	schedulable, err := s.CountSchedulable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, schedulable)
}

func TestClaimBatchEmptyQueue(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)

	// No work is a normal termination signal, not an error.
	batch, err := s.ClaimBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestReleaseMakesBatchReclaimable(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)
	ctx := context.Background()

	seedRecords(t, s, 2)

	batch, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, s.ReleaseBatch(ctx, batch))

	retryable, err := s.CountByStatus(ctx, domain.RecordStatusFailedRetryable)
	require.NoError(t, err)
	assert.EqualValues(t, 2, retryable)

	// Released records come back on the next claim, attempts incremented.
	again, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, again, 2)
	for _, rec := range again {
		assert.Equal(t, 1, rec.Attempts)
	}
}

func TestCommitBatchResultMismatch(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)
	ctx := context.Background()

	seedRecords(t, s, 2)
	batch, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)

	err = s.CommitBatch(ctx, batch, resultsFor(batch)[:1])
	assert.ErrorIs(t, err, store.ErrBatchResultMismatch)

	// Nothing committed.
	done, err := s.CountByStatus(ctx, domain.RecordStatusDone)
	require.NoError(t, err)
	assert.EqualValues(t, 0, done)
}

func TestResetStuckRecords(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)
	ctx := context.Background()

	seedRecords(t, s, 4)
	batch, err := s.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	before, err := s.CountByStatus(ctx, domain.RecordStatusUnprocessed)
	require.NoError(t, err)

	// Simulate a crashed run: the claimed records were never resolved.
	n, err := s.ResetStuckRecords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	after, err := s.CountByStatus(ctx, domain.RecordStatusUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, before+3, after)

	// Idempotent: a second reset finds nothing.
	n, err = s.ResetStuckRecords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)
	ctx := context.Background()

	const seeded = 30
	const claimers = 6
	const batchSize = 4

	seedRecords(t, s, seeded)

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[uuid.UUID]int)
	total := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimBatch(ctx, batchSize)
				assert.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, rec := range batch {
					seen[rec.ID]++
				}
				total += len(batch)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every record claimed exactly once, none twice.
	assert.Equal(t, seeded, total)
	assert.Len(t, seen, seeded)
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s claimed %d times", id, count)
	}
}

func TestCreateRejectsInvalidRecord(t *testing.T) {
	db := testdb.Connect(t)
	s := postgres.NewRecordStore(db)

	bad := &domain.Record{ID: uuid.New(), Status: domain.RecordStatusUnprocessed}
	err := s.Create(context.Background(), bad)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}
