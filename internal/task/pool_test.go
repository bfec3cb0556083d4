package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scribe/internal/credential"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
)

func newTestPool(t *testing.T, st *memRecordStore, gen generation.Generator, workers int) *Pool {
	t.Helper()

	creds, err := credential.NewPool([]string{"key-a", "key-b"})
	require.NoError(t, err)

	cfg := PoolConfig{
		WorkerCount: workers,
		Worker:      fastWorkerConfig(),
	}
	return NewPool(st, gen, creds, cfg, testLogger())
}

func TestPoolDrainsQueueAcrossWorkers(t *testing.T) {
	// Spec scenario: 10 items, 3 workers, batch size 2, all dispatches
	// succeed. Everything ends done and the per-worker counters sum to 10.
	st := newMemRecordStore()
	ids := st.seed(10)
	gen := newMockGenerator()

	pool := newTestPool(t, st, gen, 3)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, summary.FatalError())

	assert.EqualValues(t, 10, summary.InitialSchedulable)
	assert.EqualValues(t, 10, summary.TotalRecords)
	assert.EqualValues(t, 10, summary.ItemsProcessed)
	assert.EqualValues(t, 0, summary.BatchesFailed)
	assert.EqualValues(t, 10, summary.Done)
	assert.EqualValues(t, 0, summary.FailedRetryable)

	sum := 0
	for _, o := range summary.Workers {
		require.NoError(t, o.Err)
		sum += o.ItemsProcessed
	}
	assert.Equal(t, 10, sum)

	for _, id := range ids {
		assert.Equal(t, domain.RecordStatusDone, st.statusOf(id))
	}
	done, _ := st.CountByStatus(context.Background(), domain.RecordStatusDone)
	assert.EqualValues(t, 10, done)
}

func TestPoolResetsStuckRecordsBeforeClaiming(t *testing.T) {
	st := newMemRecordStore()
	ids := st.seed(4)

	// Simulate a crashed prior run that left two records claimed.
	st.mu.Lock()
	st.records[ids[0]].Status = domain.RecordStatusClaimed
	st.records[ids[1]].Status = domain.RecordStatusClaimed
	st.mu.Unlock()

	gen := newMockGenerator()
	pool := newTestPool(t, st, gen, 2)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, summary.FatalError())

	// Reset made the orphans schedulable again, so all four end done.
	assert.EqualValues(t, 4, summary.ItemsProcessed)
	for _, id := range ids {
		assert.Equal(t, domain.RecordStatusDone, st.statusOf(id))
	}
}

func TestPoolFatalWorkerStopsSiblings(t *testing.T) {
	st := newMemRecordStore()
	st.seed(40)

	gen := newMockGenerator()
	gen.fn = func(call int, batch []*domain.Record, apiKey string) ([]generation.Result, error) {
		if call == 1 {
			return nil, fmt.Errorf("dispatch: %w", generation.ErrTransport)
		}
		// Keep the other workers busy long enough to observe the stop.
		time.Sleep(5 * time.Millisecond)
		results := make([]generation.Result, len(batch))
		for i := range batch {
			results[i] = generation.Result{Text: "ok"}
		}
		return results, nil
	}

	pool := newTestPool(t, st, gen, 3)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)

	require.Error(t, summary.FatalError())
	assert.Contains(t, summary.FatalError().Error(), "fatal dispatch failure")

	// The stop was cooperative: no record is left claimed.
	claimed, _ := st.CountByStatus(context.Background(), domain.RecordStatusClaimed)
	assert.EqualValues(t, 0, claimed)

	// The queue did not drain.
	assert.Less(t, summary.ItemsProcessed, int64(40))
}

func TestPoolClaimFailureIsFatal(t *testing.T) {
	st := newMemRecordStore()
	st.seed(4)
	st.claimErr = fmt.Errorf("connection refused")

	gen := newMockGenerator()
	pool := newTestPool(t, st, gen, 2)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)

	require.Error(t, summary.FatalError())
	assert.Contains(t, summary.FatalError().Error(), "claim failed")
	assert.EqualValues(t, 0, summary.ItemsProcessed)
}

func TestPoolStopSignalDrainsInFlightBatches(t *testing.T) {
	st := newMemRecordStore()
	st.seed(50)

	release := make(chan struct{})
	gen := newMockGenerator()
	gen.fn = func(call int, batch []*domain.Record, apiKey string) ([]generation.Result, error) {
		<-release
		results := make([]generation.Result, len(batch))
		for i := range batch {
			results[i] = generation.Result{Text: "ok"}
		}
		return results, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := newTestPool(t, st, gen, 2)

	type runResult struct {
		summary *Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, err := pool.Run(ctx)
		done <- runResult{summary, err}
	}()

	// Let both workers claim and block in dispatch, then request a stop
	// and unblock them.
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(release)

	res := <-done
	require.NoError(t, res.err)
	summary := res.summary
	require.NoError(t, summary.FatalError(), "a stop request is not a failure")

	// In-flight batches were resolved, not abandoned.
	claimed, _ := st.CountByStatus(context.Background(), domain.RecordStatusClaimed)
	assert.EqualValues(t, 0, claimed)
	assert.Less(t, summary.ItemsProcessed, int64(50))
}

func TestPoolConcurrentClaimsAreDisjoint(t *testing.T) {
	st := newMemRecordStore()
	st.seed(30)

	seen := make(chan string, 100)
	gen := newMockGenerator()
	gen.fn = func(call int, batch []*domain.Record, apiKey string) ([]generation.Result, error) {
		results := make([]generation.Result, len(batch))
		for i, rec := range batch {
			seen <- rec.ID.String()
			results[i] = generation.Result{Text: "ok"}
		}
		return results, nil
	}

	pool := newTestPool(t, st, gen, 5)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, summary.FatalError())
	close(seen)

	// Every record was dispatched exactly once.
	counts := make(map[string]int)
	for id := range seen {
		counts[id]++
	}
	assert.Len(t, counts, 30)
	for id, n := range counts {
		assert.Equal(t, 1, n, "record %s dispatched more than once", id)
	}
}
