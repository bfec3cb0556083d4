package task

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressCountersUnderConcurrency(t *testing.T) {
	const (
		goroutines = 8
		perWorker  = 100
	)

	p := &Progress{}

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				p.NextBatch()
				p.RecordCommit(2)
				p.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, goroutines*perWorker*2, p.ItemsProcessed())
	assert.EqualValues(t, goroutines*perWorker, p.BatchesCompleted())
	assert.EqualValues(t, goroutines*perWorker, p.BatchesFailed())
}

func TestProgressBatchSequenceIsUnique(t *testing.T) {
	p := &Progress{}

	const n = 64
	seqs := make(chan int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seqs <- p.NextBatch()
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate batch sequence %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
}
