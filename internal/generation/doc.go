// Package generation provides interfaces and implementations for interacting
// with external AI/LLM services for content generation. It abstracts the
// details of LLM API integration (Gemini), allowing the worker pool to
// transform record batches without coupling to a specific external service.
package generation
