package queue

import (
	"context"
	"fmt"

	"github.com/vistorialab/vistoria/internal/domain"
)

// Recover reconciles queue state with photo-level progress after a process
// restart. A crash can leave a record stranded in Processing, or — narrower —
// stranded after the last photo was saved but before the record was marked
// Completed. Photo analyzed-flags are the source of truth: a record whose
// processed count reached its total is force-completed, and an incomplete
// Processing record is demoted to Pending so the work loop resumes it from
// wherever photo progress left off.
func (s *Service) Recover(ctx context.Context) error {
	records, err := s.store.ListQueueRecordsByStatus(ctx, []domain.QueueStatus{
		domain.QueueStatusProcessing,
		domain.QueueStatusPending,
	})
	if err != nil {
		return fmt.Errorf("list recoverable records: %w", err)
	}

	var completed, demoted int
	for _, r := range records {
		if r.ProcessedImages >= r.TotalImages {
			if err := s.store.SetQueueRecordCompleted(ctx, r.ID); err != nil {
				return fmt.Errorf("force-complete record %s: %w", r.ID, err)
			}
			if err := s.store.SetReportAnalysisStatus(ctx, r.ReportID, domain.ReportAnalysisDone); err != nil {
				s.logger.Warn("Failed to mark recovered report done", "report_id", r.ReportID, "error", err)
			}
			completed++
			continue
		}
		if r.Status == domain.QueueStatusProcessing {
			if err := s.store.DemoteQueueRecordToPending(ctx, r.ID); err != nil {
				return fmt.Errorf("demote record %s: %w", r.ID, err)
			}
			demoted++
		}
	}

	if err := s.store.RecomputePositions(ctx); err != nil {
		return fmt.Errorf("recompute positions: %w", err)
	}

	if completed > 0 || demoted > 0 {
		s.logger.Info("Queue recovery reconciled interrupted work",
			"force_completed", completed,
			"demoted_to_pending", demoted,
		)
	}
	return nil
}
