// Package domain contains core business types and interfaces.
//
// This file defines the minimal report view the analysis queue needs. Report
// records are owned by the report-editing subsystem; the queue only flips the
// analysis status field.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Report Analysis Status
// =============================================================================

// ReportAnalysisStatus is the report-level view of where analysis stands.
type ReportAnalysisStatus string

const (
	ReportAnalysisNotStarted ReportAnalysisStatus = "not_started"
	ReportAnalysisInProgress ReportAnalysisStatus = "in_progress"
	ReportAnalysisDone       ReportAnalysisStatus = "done"
)

// String returns the string representation of the status.
func (s ReportAnalysisStatus) String() string {
	return string(s)
}

// =============================================================================
// Report
// =============================================================================

// Report is the inspection document whose photos are queued for analysis.
type Report struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Address        string
	AnalysisStatus ReportAnalysisStatus

	CreatedAt time.Time
}
