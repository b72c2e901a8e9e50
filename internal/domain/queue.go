// Package domain contains core business types and interfaces.
//
// This file defines the QueueRecord type and related types for the
// asynchronous photo-analysis queue.
package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Queue Status
// =============================================================================

// QueueStatus represents the state of a report in the analysis queue.
type QueueStatus string

const (
	// QueueStatusPending indicates the report is waiting for a worker slot.
	QueueStatusPending QueueStatus = "pending"

	// QueueStatusProcessing indicates photo analysis is in progress.
	QueueStatusProcessing QueueStatus = "processing"

	// QueueStatusCompleted indicates every photo has been analyzed.
	QueueStatusCompleted QueueStatus = "completed"

	// QueueStatusError indicates analysis failed with a non-recoverable error.
	QueueStatusError QueueStatus = "error"

	// QueueStatusCancelled indicates the owner cancelled the run.
	QueueStatusCancelled QueueStatus = "cancelled"

	// QueueStatusPaused indicates the global circuit breaker stopped the run.
	QueueStatusPaused QueueStatus = "paused"
)

// String returns the string representation of the status.
func (s QueueStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted,
		QueueStatusError, QueueStatusCancelled, QueueStatusPaused:
		return true
	}
	return false
}

// IsTerminal returns true if no further processing will happen for this record.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusCompleted, QueueStatusError, QueueStatusCancelled:
		return true
	}
	return false
}

// IsActive returns true if the record still holds a place in the queue.
// Active records are the ones affected by a global pause.
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusPending || s == QueueStatusProcessing
}

// =============================================================================
// Queue Record
// =============================================================================

// QueueRecord is the queue's bookkeeping row for one report. At most one
// non-terminal record exists per report at a time.
type QueueRecord struct {
	ID       uuid.UUID
	ReportID uuid.UUID
	OwnerID  uuid.UUID

	Status QueueStatus

	// Position is the 1-based place among pending records, ordered by
	// creation time and compacted after every mutation of the pending set.
	// Zero when the record is not pending.
	Position int

	TotalImages     int
	ProcessedImages int

	// CurrentImageID is the photo being analyzed right now, if any.
	CurrentImageID uuid.NullUUID

	// ErrorMessage is set only when Status is QueueStatusError.
	ErrorMessage string

	// ErrorDetail carries the classified upstream error as JSON, when one
	// caused the failure.
	ErrorDetail json.RawMessage

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ProgressPercentage returns the rounded completion percentage for the record.
// Returns 0 when the record has no images.
func (r *QueueRecord) ProgressPercentage() int {
	if r.TotalImages <= 0 {
		return 0
	}
	return int(math.Round(float64(r.ProcessedImages) / float64(r.TotalImages) * 100))
}

// RemainingImages returns how many photos are still unanalyzed, never negative.
func (r *QueueRecord) RemainingImages() int {
	remaining := r.TotalImages - r.ProcessedImages
	if remaining < 0 {
		return 0
	}
	return remaining
}

// =============================================================================
// Global Pause State
// =============================================================================

// PauseState is the single process-wide circuit-breaker row. When Paused is
// true, no queue record is picked up for processing until an operator resumes.
type PauseState struct {
	Paused   bool
	Reason   string
	PausedAt *time.Time
}

// QueueEntry is the operator-facing view of one queued record, joined with
// report and owner details.
type QueueEntry struct {
	ID              uuid.UUID
	ReportID        uuid.UUID
	Address         string
	OwnerName       string
	OwnerEmail      string
	Status          QueueStatus
	Position        int
	TotalImages     int
	ProcessedImages int
	CreatedAt       time.Time
	StartedAt       *time.Time
}

// ProgressPercentage returns the rounded completion percentage for the entry.
func (e *QueueEntry) ProgressPercentage() int {
	if e.TotalImages <= 0 {
		return 0
	}
	return int(math.Round(float64(e.ProcessedImages) / float64(e.TotalImages) * 100))
}

// SecondsPerImage is the rough per-photo analysis latency used for queue ETA
// estimates.
const SecondsPerImage = 3
