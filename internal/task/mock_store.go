package task

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/store"
)

// memRecordStore is an in-memory store.RecordStore used by worker and pool
// tests. It reproduces the claim protocol under one mutex: concurrent
// claims are disjoint, commit requires claimed state, release makes
// records schedulable again.
type memRecordStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.Record
	order   []uuid.UUID

	// Call tallies for assertions.
	claimCalls   int
	commitCalls  int
	releaseCalls int

	// Injectable failures.
	claimErr  error
	commitErr error
}

// newMemRecordStore returns an empty in-memory store.
func newMemRecordStore() *memRecordStore {
	return &memRecordStore{
		records: make(map[uuid.UUID]*domain.Record),
	}
}

// seed inserts n unprocessed records and returns their IDs in order.
func (m *memRecordStore) seed(n int) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		rec, _ := domain.NewRecord(fmt.Sprintf("source text %d", i))
		m.records[rec.ID] = rec
		m.order = append(m.order, rec.ID)
		ids = append(ids, rec.ID)
	}
	return ids
}

func (m *memRecordStore) Create(ctx context.Context, record *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	m.records[record.ID] = record
	m.order = append(m.order, record.ID)
	return nil
}

func (m *memRecordStore) ClaimBatch(ctx context.Context, n int) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.claimCalls++
	if m.claimErr != nil {
		return nil, m.claimErr
	}

	var batch []*domain.Record
	for _, id := range m.order {
		if len(batch) == n {
			break
		}
		rec := m.records[id]
		if rec.Status == domain.RecordStatusUnprocessed ||
			rec.Status == domain.RecordStatusFailedRetryable {
			rec.Status = domain.RecordStatusClaimed
			clone := *rec
			batch = append(batch, &clone)
		}
	}
	return batch, nil
}

func (m *memRecordStore) CommitBatch(ctx context.Context, batch []*domain.Record, results []generation.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commitCalls++
	if m.commitErr != nil {
		return m.commitErr
	}

	if len(results) != len(batch) {
		return fmt.Errorf("%w: %d results for %d records",
			store.ErrBatchResultMismatch, len(results), len(batch))
	}

	for i, rec := range batch {
		stored, ok := m.records[rec.ID]
		if !ok || stored.Status != domain.RecordStatusClaimed {
			return fmt.Errorf("%w: record %s not in claimed state",
				store.ErrUpdateFailed, rec.ID)
		}
		stored.ResultText = results[i].Text
		stored.Metadata = results[i].Metadata
		stored.Status = domain.RecordStatusDone
	}
	return nil
}

func (m *memRecordStore) ReleaseBatch(ctx context.Context, batch []*domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseCalls++
	for _, rec := range batch {
		if stored, ok := m.records[rec.ID]; ok {
			stored.Status = domain.RecordStatusFailedRetryable
			stored.Attempts++
		}
	}
	return nil
}

func (m *memRecordStore) ResetStuckRecords(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.Status == domain.RecordStatusClaimed {
			rec.Status = domain.RecordStatusUnprocessed
			n++
		}
	}
	return n, nil
}

func (m *memRecordStore) CountByStatus(ctx context.Context, status domain.RecordStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memRecordStore) CountSchedulable(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.Status == domain.RecordStatusUnprocessed ||
			rec.Status == domain.RecordStatusFailedRetryable {
			n++
		}
	}
	return n, nil
}

func (m *memRecordStore) CountAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

func (m *memRecordStore) WithTx(tx *sql.Tx) store.RecordStore {
	return m
}

// statusOf reads one record's current status.
func (m *memRecordStore) statusOf(id uuid.UUID) domain.RecordStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

// mockGenerator is a scripted generation.Generator. Each call is handled by
// fn; the default echoes the batch back as successful results.
type mockGenerator struct {
	mu       sync.Mutex
	calls    int
	keysSeen []string

	// fn receives the 1-based call number and decides the outcome.
	fn func(call int, batch []*domain.Record, apiKey string) ([]generation.Result, error)
}

func newMockGenerator() *mockGenerator {
	return &mockGenerator{}
}

func (g *mockGenerator) Generate(ctx context.Context, batch []*domain.Record, apiKey string) ([]generation.Result, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.keysSeen = append(g.keysSeen, apiKey)
	fn := g.fn
	g.mu.Unlock()

	if fn != nil {
		return fn(call, batch, apiKey)
	}

	results := make([]generation.Result, len(batch))
	for i, rec := range batch {
		results[i] = generation.Result{Text: "transformed: " + rec.SourceText}
	}
	return results, nil
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
