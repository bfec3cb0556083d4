package generation

import (
	"encoding/json"
	"strings"
)

// ValidateResults checks that results line up with the batch size and that
// every result carries usable text. It returns nil on success or a
// *ValidationError identifying the first failing result.
//
// Count mismatches are reported as index -1 since no single result is at
// fault.
func ValidateResults(results []Result, batchSize int) error {
	if len(results) != batchSize {
		return &ValidationError{
			Index:  -1,
			Reason: "result count does not match batch size",
		}
	}

	for i, res := range results {
		if strings.TrimSpace(res.Text) == "" {
			return &ValidationError{Index: i, Reason: "empty result text"}
		}
	}

	return nil
}

// SanitizeResults strips malformed metadata from results in place rather
// than rejecting the whole item: the generated text is the payload that
// matters, and models occasionally emit truncated or invalid JSON in the
// optional metadata field. Returns the number of results sanitized.
func SanitizeResults(results []Result) int {
	sanitized := 0
	for i := range results {
		if len(results[i].Metadata) == 0 {
			continue
		}
		if !json.Valid(results[i].Metadata) {
			results[i].Metadata = nil
			sanitized++
		}
	}
	return sanitized
}
