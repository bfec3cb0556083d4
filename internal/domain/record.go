package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RecordStatus represents the processing state of a record
type RecordStatus string

// Possible record status values. A record starts out unprocessed, is
// claimed by exactly one worker while a batch is in flight, and ends up
// either done or failed_retryable. Failed-retryable records are
// schedulable again exactly like unprocessed ones.
const (
	RecordStatusUnprocessed     RecordStatus = "unprocessed"
	RecordStatusClaimed         RecordStatus = "claimed"
	RecordStatusDone            RecordStatus = "done"
	RecordStatusFailedRetryable RecordStatus = "failed_retryable"
)

// Common validation errors for Record
var (
	ErrEmptyRecordID    = errors.New("record ID cannot be empty")
	ErrEmptySourceText  = errors.New("record source text cannot be empty")
	ErrInvalidRecStatus = errors.New("invalid record status")
	ErrInvalidMetadata  = errors.New("record metadata is not valid JSON")
)

// Record represents one unit of work: a row holding the source text to be
// transformed, the generated result once available, and the queue status.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	SourceText string          `json:"source_text"`
	ResultText string          `json:"result_text,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Status     RecordStatus    `json:"status"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewRecord creates a new Record with the given source text.
// It generates a new UUID for the record ID, sets the status to
// unprocessed, and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewRecord(sourceText string) (*Record, error) {
	record := &Record{
		ID:         uuid.New(),
		SourceText: sourceText,
		Status:     RecordStatusUnprocessed,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks if the Record has valid data.
// Returns an error if any field fails validation.
func (r *Record) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRecordID
	}

	if r.SourceText == "" {
		return ErrEmptySourceText
	}

	if !isValidRecordStatus(r.Status) {
		return ErrInvalidRecStatus
	}

	if len(r.Metadata) > 0 && !json.Valid(r.Metadata) {
		return ErrInvalidMetadata
	}

	return nil
}

// isValidRecordStatus checks if the given status is a valid RecordStatus.
func isValidRecordStatus(status RecordStatus) bool {
	switch status {
	case RecordStatusUnprocessed, RecordStatusClaimed,
		RecordStatusDone, RecordStatusFailedRetryable:
		return true
	default:
		return false
	}
}
