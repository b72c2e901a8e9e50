// Package domain contains core business types and interfaces.
//
// This file defines the Photo type consumed by the analysis queue. Photo
// records themselves are owned by the upload subsystem; the queue only reads
// labels and writes captions and analyzed flags.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Analyzed Flag
// =============================================================================

// AnalyzedFlag marks whether a photo has already been through analysis.
type AnalyzedFlag string

const (
	AnalyzedNo  AnalyzedFlag = "no"
	AnalyzedYes AnalyzedFlag = "yes"
)

// String returns the string representation of the flag.
func (f AnalyzedFlag) String() string {
	return string(f)
}

// =============================================================================
// Photo
// =============================================================================

// Photo is one uploaded image tied to a report. EnvironmentName and ItemName
// are free-text labels set at upload time and matched against the taxonomy by
// normalized name, not by identifier.
type Photo struct {
	ID       uuid.UUID
	ReportID uuid.UUID

	// StorageKey locates the original image in object storage.
	StorageKey string

	// SortOrder gives photos a stable processing order within a report.
	SortOrder int

	EnvironmentName string
	ItemName        string

	Analyzed AnalyzedFlag
	Caption  string

	CreatedAt time.Time
}

// MaxCaptionLength caps captions written by the analysis loop. Longer model
// replies are truncated before persisting.
const MaxCaptionLength = 200

// TruncateCaption trims a model reply to MaxCaptionLength runes.
func TruncateCaption(reply string) string {
	runes := []rune(reply)
	if len(runes) <= MaxCaptionLength {
		return reply
	}
	return string(runes[:MaxCaptionLength])
}
