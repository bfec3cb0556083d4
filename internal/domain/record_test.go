package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewRecord(t *testing.T) {
	t.Parallel() // Enable parallel execution
	// Test valid record creation
	text := "This is a source text waiting to be transformed."

	record, err := NewRecord(text)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if record.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if record.SourceText != text {
		t.Errorf("Expected source text %s, got %s", text, record.SourceText)
	}

	if record.Status != RecordStatusUnprocessed {
		t.Errorf("Expected status %s, got %s", RecordStatusUnprocessed, record.Status)
	}

	if record.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if record.UpdatedAt.IsZero() {
		t.Error("Expected non-zero UpdatedAt time")
	}

	// Test empty source text
	_, err = NewRecord("")
	if err != ErrEmptySourceText {
		t.Errorf("Expected error %v, got %v", ErrEmptySourceText, err)
	}
}

func TestRecordValidate(t *testing.T) {
	t.Parallel() // Enable parallel execution
	validRecord := Record{
		ID:         uuid.New(),
		SourceText: "some source text",
		Status:     RecordStatusUnprocessed,
	}

	if err := validRecord.Validate(); err != nil {
		t.Errorf("Expected valid record, got error %v", err)
	}

	// Missing ID
	noID := validRecord
	noID.ID = uuid.Nil
	if err := noID.Validate(); err != ErrEmptyRecordID {
		t.Errorf("Expected error %v, got %v", ErrEmptyRecordID, err)
	}

	// Bad status
	badStatus := validRecord
	badStatus.Status = "sideways"
	if err := badStatus.Validate(); err != ErrInvalidRecStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidRecStatus, err)
	}

	// Malformed metadata
	badMeta := validRecord
	badMeta.Metadata = json.RawMessage(`{"truncated":`)
	if err := badMeta.Validate(); err != ErrInvalidMetadata {
		t.Errorf("Expected error %v, got %v", ErrInvalidMetadata, err)
	}

	// Valid metadata passes
	goodMeta := validRecord
	goodMeta.Metadata = json.RawMessage(`{"lang":"en"}`)
	if err := goodMeta.Validate(); err != nil {
		t.Errorf("Expected valid record with metadata, got error %v", err)
	}
}

func TestRecordStatusValues(t *testing.T) {
	t.Parallel()
	valid := []RecordStatus{
		RecordStatusUnprocessed,
		RecordStatusClaimed,
		RecordStatusDone,
		RecordStatusFailedRetryable,
	}
	for _, s := range valid {
		if !isValidRecordStatus(s) {
			t.Errorf("Expected status %s to be valid", s)
		}
	}
	if isValidRecordStatus("pending") {
		t.Error("Expected unknown status to be invalid")
	}
}
