package task

import "sync/atomic"

// Progress holds the run-wide counters shared by all workers. Every field
// is atomic; workers never read-modify-write unsynchronized. Per-worker
// tallies live in each worker's Outcome instead, since a single goroutine
// owns them.
type Progress struct {
	batchSeq         atomic.Int64
	itemsProcessed   atomic.Int64
	batchesCompleted atomic.Int64
	batchesFailed    atomic.Int64
}

// NextBatch claims the next batch sequence number, shared across workers
// so log lines order batches globally.
func (p *Progress) NextBatch() int64 {
	return p.batchSeq.Add(1)
}

// RecordCommit tallies a successfully committed batch of n items.
func (p *Progress) RecordCommit(n int) {
	p.batchesCompleted.Add(1)
	p.itemsProcessed.Add(int64(n))
}

// RecordFailure tallies a released batch.
func (p *Progress) RecordFailure() {
	p.batchesFailed.Add(1)
}

// ItemsProcessed returns the total items committed so far.
func (p *Progress) ItemsProcessed() int64 {
	return p.itemsProcessed.Load()
}

// BatchesCompleted returns the total batches committed so far.
func (p *Progress) BatchesCompleted() int64 {
	return p.batchesCompleted.Load()
}

// BatchesFailed returns the total batches released so far.
func (p *Progress) BatchesFailed() int64 {
	return p.batchesFailed.Load()
}
