package callback

import (
	"fmt"
	"strings"
	"time"
)

// Event is one inbound gateway report as received, before or after processing.
type Event struct {
	ID               int64             `json:"id"`
	Provider         string            `json:"provider"`
	ContributionID   string            `json:"contribution_id"`
	BillID           string            `json:"bill_id"`
	Source           string            `json:"source"`
	Payload          map[string]string `json:"payload"`
	SignatureValid   bool              `json:"signature_valid"`
	ProcessingStatus ProcessingStatus  `json:"processing_status"`
	Error            string            `json:"error,omitempty"`
	ReceivedAt       time.Time         `json:"received_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

// ProcessingStatus represents the event processing status
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingQueued    ProcessingStatus = "queued"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
	ProcessingRejected  ProcessingStatus = "rejected"
)

// NewEvent creates a new event with validation
func NewEvent(provider, contributionID, source string, payload map[string]string) (*Event, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if payload == nil {
		payload = map[string]string{}
	}

	return &Event{
		Provider:         provider,
		ContributionID:   strings.TrimSpace(contributionID),
		Source:           source,
		Payload:          payload,
		ReceivedAt:       time.Now().UTC(),
		ProcessingStatus: ProcessingPending,
	}, nil
}

// UpdateProcessingStatus updates the event processing status
func (e *Event) UpdateProcessingStatus(status ProcessingStatus, errMsg string) error {
	if !e.CanChangeStatus(status) {
		return fmt.Errorf("cannot change status from %s to %s", e.ProcessingStatus, status)
	}

	e.ProcessingStatus = status
	e.Error = errMsg

	if e.IsProcessed() {
		now := time.Now().UTC()
		e.ProcessedAt = &now
	}
	return nil
}

// MarkForReprocessing marks the event for replay
func (e *Event) MarkForReprocessing() error {
	if e.ProcessingStatus == ProcessingPending {
		return fmt.Errorf("event is already pending processing")
	}

	e.ProcessingStatus = ProcessingQueued
	e.ProcessedAt = nil
	e.Error = ""
	return nil
}

// IsProcessed checks if the event has been processed
func (e *Event) IsProcessed() bool {
	switch e.ProcessingStatus {
	case ProcessingCompleted, ProcessingFailed, ProcessingRejected:
		return true
	}
	return false
}

// CanChangeStatus checks if status can be changed
func (e *Event) CanChangeStatus(newStatus ProcessingStatus) bool {
	switch e.ProcessingStatus {
	case ProcessingPending, ProcessingQueued:
		return newStatus != ProcessingPending && newStatus != e.ProcessingStatus
	case ProcessingCompleted, ProcessingFailed, ProcessingRejected:
		return newStatus == ProcessingQueued // allow replay
	}
	return false
}
