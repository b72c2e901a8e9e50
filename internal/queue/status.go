package queue

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
)

// =============================================================================
// Status Queries
// =============================================================================

// ReportStatus is the per-user view of a report's place in the queue.
type ReportStatus struct {
	InQueue            bool               `json:"inQueue"`
	Position           int                `json:"position,omitempty"`
	Status             domain.QueueStatus `json:"status,omitempty"`
	TotalImages        int                `json:"totalImages,omitempty"`
	ProcessedImages    int                `json:"processedImages,omitempty"`
	ProgressPercentage int                `json:"progressPercentage,omitempty"`
	EstimatedMinutes   int                `json:"estimatedMinutes,omitempty"`
}

// ReportStatusFor answers "where is my report?". The ETA assumes each image
// takes about domain.SecondsPerImage and counts every image queued ahead plus
// the report's own remaining images.
func (s *Service) ReportStatusFor(ctx context.Context, reportID uuid.UUID) (ReportStatus, error) {
	record, err := s.store.GetQueueRecordByReportID(ctx, reportID)
	if err != nil {
		if s.store.IsNoRows(err) {
			return ReportStatus{InQueue: false}, nil
		}
		return ReportStatus{}, err
	}

	status := ReportStatus{
		InQueue:            true,
		Position:           record.Position,
		Status:             record.Status,
		TotalImages:        record.TotalImages,
		ProcessedImages:    record.ProcessedImages,
		ProgressPercentage: record.ProgressPercentage(),
	}

	switch record.Status {
	case domain.QueueStatusPending:
		ahead, err := s.store.SumPendingImagesBefore(ctx, record.Position)
		if err != nil {
			return ReportStatus{}, err
		}
		status.EstimatedMinutes = estimateMinutes(ahead + record.RemainingImages())
	case domain.QueueStatusProcessing:
		status.EstimatedMinutes = estimateMinutes(record.RemainingImages())
	}
	return status, nil
}

// estimateMinutes converts an image count to whole minutes, rounding up so a
// near-done queue never shows zero while work remains.
func estimateMinutes(images int) int {
	if images <= 0 {
		return 0
	}
	seconds := images * domain.SecondsPerImage
	return int(math.Ceil(float64(seconds) / 60))
}

// Stats is the aggregate dashboard view.
type Stats struct {
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Paused         int `json:"paused"`
	CompletedToday int `json:"completedToday"`
	Total          int `json:"total"`
}

// QueueStats aggregates record counts per status plus completions in the last
// 24 hours.
func (s *Service) QueueStats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error

	if stats.Pending, err = s.store.CountQueueRecordsByStatus(ctx, domain.QueueStatusPending); err != nil {
		return Stats{}, err
	}
	if stats.Processing, err = s.store.CountQueueRecordsByStatus(ctx, domain.QueueStatusProcessing); err != nil {
		return Stats{}, err
	}
	if stats.Paused, err = s.store.CountQueueRecordsByStatus(ctx, domain.QueueStatusPaused); err != nil {
		return Stats{}, err
	}
	if stats.CompletedToday, err = s.store.CountQueueRecordsCompletedSince(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		return Stats{}, err
	}
	if stats.Total, err = s.store.CountQueueRecords(ctx); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// FullQueue returns the operator listing of every active entry joined with
// report and owner details.
func (s *Service) FullQueue(ctx context.Context) ([]domain.QueueEntry, error) {
	return s.store.ListQueueEntries(ctx)
}

// GlobalStatus describes the circuit breaker for operators.
type GlobalStatus struct {
	Paused      bool       `json:"paused"`
	Reason      string     `json:"reason,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	PausedItems int        `json:"pausedItems"`
}

// GlobalPauseStatus reports whether the breaker is tripped, why, and how many
// entries are waiting on a resume.
func (s *Service) GlobalPauseStatus(ctx context.Context) (GlobalStatus, error) {
	state, err := s.store.GetPauseState(ctx)
	if err != nil {
		return GlobalStatus{}, err
	}
	pausedItems, err := s.store.CountQueueRecordsByStatus(ctx, domain.QueueStatusPaused)
	if err != nil {
		return GlobalStatus{}, err
	}
	return GlobalStatus{
		Paused:      state.Paused,
		Reason:      state.Reason,
		PausedAt:    state.PausedAt,
		PausedItems: pausedItems,
	}, nil
}
