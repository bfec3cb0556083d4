// Package gemini provides an implementation of the generation.Generator
// interface that uses Google's Gemini API to transform record batches.
//
// This package is an infrastructure adapter: it translates between the
// application's domain models and the Gemini API without exposing the
// details of the external service to the work-distribution core. API error
// codes are mapped onto the sentinel errors in internal/generation so the
// failure classifier never sees a Gemini-specific type.
package gemini
