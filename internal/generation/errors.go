package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by Generator implementations. The worker pool's
// failure classifier matches on these with errors.Is, so implementations
// must wrap rather than replace them.
var (
	// ErrQuotaExhausted is returned when the service reports the current
	// credential's quota is spent (HTTP 429-equivalent).
	ErrQuotaExhausted = errors.New("generation quota exhausted for current credential")

	// ErrOverloaded is returned for transient service overload
	// (HTTP 503-equivalent); the batch is safe to retry after a delay.
	ErrOverloaded = errors.New("generation service temporarily overloaded")

	// ErrServerError is returned for any other server-side failure.
	ErrServerError = errors.New("generation service error")

	// ErrTransport is returned for connectivity failures and timeouts.
	ErrTransport = errors.New("transport failure reaching generation service")

	// ErrInvalidResponse is returned when the service response cannot be
	// parsed or does not line up with the request batch.
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrInvalidConfig is returned when the generator configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// ValidationError reports a structured validation failure for a specific
// result in a batch. It is distinct from ErrInvalidResponse: the response
// was well-formed, but a result payload failed content validation.
type ValidationError struct {
	// Index is the position of the failing result within the batch.
	Index int

	// Reason describes what check failed.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("result %d failed validation: %s", e.Index, e.Reason)
}
