// Package task implements the concurrent work-distribution engine: a pool
// of workers that atomically claim record batches from the store, dispatch
// them to the external generation service, classify failures, and commit or
// release each batch exactly once.
//
// The store's status column is the only lock for work assignment; this
// package adds no in-memory claim state that could drift from it. A worker
// is an explicit state machine (claim, dispatch, classify, commit/release,
// pace) returning a typed outcome per run, and the pool coordinator owns
// all process-exit decisions, so the machine stays testable without
// terminating the host process.
package task
