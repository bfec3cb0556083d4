package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scribe/internal/domain"
)

// Result is one generated output payload, positionally matched to the
// record batch that produced it.
type Result struct {
	// Text is the transformed text for the record.
	Text string `json:"text"`

	// Metadata is optional free-form JSON emitted by the model alongside
	// the text (tags, confidence, language hints). Malformed metadata is
	// stripped by SanitizeResults rather than failing the item.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Generator defines the interface for transforming a batch of records via
// an external generative-text service. This interface is the boundary
// between the work-distribution core and the LLM integration; the worker
// pool depends only on it.
type Generator interface {
	// Generate sends the batch to the external service using the given
	// credential and returns one Result per record, in batch order.
	//
	// Errors are reported through the sentinel errors in errors.go so the
	// caller can classify the failure: quota exhaustion, transient
	// overload, hard server/transport failure, or an unusable response.
	Generate(ctx context.Context, batch []*domain.Record, apiKey string) ([]Result, error)
}
