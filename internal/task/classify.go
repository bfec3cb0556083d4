package task

import (
	"errors"
	"time"

	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/store"
)

// FailureKind is the classifier's verdict on a failed dispatch.
type FailureKind int

// Failure kinds, from most to least specific. KindDefault is the
// log-and-release bucket for anything the explicit kinds don't cover,
// such as a malformed response body.
const (
	KindDefault FailureKind = iota
	KindValidationFailed
	KindCredentialExhausted
	KindRetryable
	KindFatal
)

// String returns the kind name for logging.
func (k FailureKind) String() string {
	switch k {
	case KindValidationFailed:
		return "validation_failed"
	case KindCredentialExhausted:
		return "credential_exhausted"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "default"
	}
}

// Classification is the outcome of classifying one failure.
type Classification struct {
	Kind FailureKind

	// Reason is a short human-readable cause for the failure log line.
	Reason string

	// RetryDelay is how long to wait before re-claiming, set only for
	// KindRetryable.
	RetryDelay time.Duration
}

// Classify maps a dispatch error onto a failure kind. It performs no I/O
// and mutates no shared state; the retry cap and credential pool are the
// worker's concern.
//
// Priority order: structured validation failures first, then quota
// exhaustion, then transient overload, then hard server/transport
// failures. Everything else (malformed response JSON, wrong item count)
// lands in the default bucket: released and logged, the worker continues.
func Classify(err error, retryDelay time.Duration) Classification {
	var verr *generation.ValidationError
	if errors.As(err, &verr) {
		return Classification{Kind: KindValidationFailed, Reason: verr.Reason}
	}
	if errors.Is(err, store.ErrBatchResultMismatch) {
		return Classification{Kind: KindValidationFailed, Reason: "result count mismatch"}
	}

	if errors.Is(err, generation.ErrQuotaExhausted) {
		return Classification{Kind: KindCredentialExhausted, Reason: "credential quota exhausted"}
	}

	if errors.Is(err, generation.ErrOverloaded) {
		return Classification{
			Kind:       KindRetryable,
			Reason:     "service overloaded",
			RetryDelay: retryDelay,
		}
	}

	if errors.Is(err, generation.ErrServerError) || errors.Is(err, generation.ErrTransport) {
		return Classification{Kind: KindFatal, Reason: err.Error()}
	}

	return Classification{Kind: KindDefault, Reason: err.Error()}
}

// RetryBudget tracks consecutive retryable failures for one worker.
// It is owned by a single worker goroutine and needs no locking.
type RetryBudget struct {
	cap  int
	used int
}

// NewRetryBudget returns a budget allowing limit consecutive retries.
func NewRetryBudget(limit int) *RetryBudget {
	return &RetryBudget{cap: limit}
}

// Spend consumes one retry. It returns false when the budget is exhausted:
// the cap-plus-first retryable outcome escalates, not any earlier one.
func (b *RetryBudget) Spend() bool {
	b.used++
	return b.used <= b.cap
}

// Reset clears the consecutive counter after a successful batch.
func (b *RetryBudget) Reset() {
	b.used = 0
}

// Used reports how many consecutive retries have been spent.
func (b *RetryBudget) Used() int {
	return b.used
}
