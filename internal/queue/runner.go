package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/matcher"
	"github.com/vistorialab/vistoria/internal/metrics"
	"github.com/vistorialab/vistoria/internal/vision"
)

// ProcessReport runs a report's queue entry to completion. It is the single
// entry point for both delivery paths and is idempotent: redeliveries of
// finished or paused reports are acknowledged without work.
func (s *Service) ProcessReport(ctx context.Context, reportID uuid.UUID) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	record, err := s.store.GetQueueRecordByReportID(ctx, reportID)
	if err != nil {
		if s.store.IsNoRows(err) {
			// Entry deleted between publish and delivery (cancelled
			// while pending). Nothing to do.
			s.logger.Info("Skipping delivery for missing queue entry", "report_id", reportID)
			return nil
		}
		return fmt.Errorf("load queue entry: %w", err)
	}

	switch record.Status {
	case domain.QueueStatusCompleted, domain.QueueStatusCancelled:
		s.logger.Info("Skipping redelivery of finished report",
			"report_id", reportID, "status", record.Status)
		return nil
	case domain.QueueStatusPaused:
		// The circuit breaker will republish on resume.
		s.logger.Info("Skipping delivery for paused report", "report_id", reportID)
		return nil
	}

	paused, err := s.isGloballyPaused(ctx)
	if err != nil {
		return fmt.Errorf("check pause state: %w", err)
	}
	if paused {
		s.logger.Info("Queue is paused; leaving report untouched", "report_id", reportID)
		return nil
	}

	return s.runReport(ctx, record)
}

// runReport drives one report through its photos.
func (s *Service) runReport(ctx context.Context, record domain.QueueRecord) error {
	logger := s.logger.With("report_id", record.ReportID, "queue_id", record.ID)

	if err := s.store.SetQueueRecordProcessing(ctx, record.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	s.hub.StatusChange(record.ReportID, domain.QueueStatusProcessing.String())
	if err := s.store.SetReportAnalysisStatus(ctx, record.ReportID, domain.ReportAnalysisInProgress); err != nil {
		logger.Warn("Failed to mark report in progress", "error", err)
	}

	// Settings edits (key, model, prompts) take effect on the next report,
	// not mid-run.
	if err := s.client.Reload(ctx); err != nil {
		logger.Warn("Failed to reload analysis settings", "error", err)
	}
	settings, err := s.store.GetAnalysisSettings(ctx)
	if err != nil {
		return s.failReport(ctx, record, fmt.Errorf("load analysis settings: %w", err))
	}
	taxonomy, err := s.store.GetTaxonomy(ctx)
	if err != nil {
		return s.failReport(ctx, record, fmt.Errorf("load taxonomy: %w", err))
	}

	logger.Info("Processing report",
		"total_images", record.TotalImages,
		"processed_images", record.ProcessedImages,
	)

	for {
		// Re-read between photos so a cancel or pause issued while the
		// previous photo was in flight takes effect now.
		current, err := s.store.GetQueueRecord(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("reload queue entry: %w", err)
		}
		switch current.Status {
		case domain.QueueStatusCancelled:
			logger.Info("Report cancelled mid-run; stopping")
			metrics.ReportFinished(domain.QueueStatusCancelled.String(), 0)
			return nil
		case domain.QueueStatusPaused:
			logger.Info("Report paused mid-run; stopping")
			return nil
		}

		photo, err := s.store.NextUnanalyzedPhoto(ctx, record.ReportID)
		if err != nil {
			if s.store.IsNoRows(err) {
				return s.finishReport(ctx, current)
			}
			return fmt.Errorf("next photo: %w", err)
		}

		if err := s.store.SetQueueRecordCurrentImage(ctx, record.ID, uuid.NullUUID{UUID: photo.ID, Valid: true}); err != nil {
			logger.Warn("Failed to record current image", "error", err)
		}

		caption, err := s.analyzePhoto(ctx, settings, taxonomy, photo)
		if err != nil {
			if vision.IsCritical(err) {
				// Account or quota problem: no retry will help and
				// every queued report would hit the same wall. Trip
				// the breaker instead of burying the report in an
				// error state.
				reason := fmt.Sprintf("analysis provider rejected credentials or quota: %v", err)
				if perr := s.PauseQueue(ctx, reason); perr != nil {
					logger.Error("Failed to pause queue after critical error", "error", perr)
				}
				return fmt.Errorf("critical analysis failure: %w", err)
			}
			return s.failReport(ctx, current, fmt.Errorf("analyze photo %s: %w", photo.ID, err))
		}

		if err := s.store.MarkPhotoAnalyzed(ctx, photo.ID, caption); err != nil {
			return fmt.Errorf("mark photo analyzed: %w", err)
		}
		updated, err := s.store.IncrementProcessedImages(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("increment progress: %w", err)
		}

		logger.Info("Photo analyzed",
			"photo_id", photo.ID,
			"processed", updated.ProcessedImages,
			"total", updated.TotalImages,
		)
		s.hub.Progress(record.ReportID, updated.ProcessedImages, updated.TotalImages, updated.ProgressPercentage())
	}
}

// finishReport closes out a fully analyzed report.
func (s *Service) finishReport(ctx context.Context, record domain.QueueRecord) error {
	if err := s.store.SetQueueRecordCompleted(ctx, record.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	var elapsed time.Duration
	if record.StartedAt != nil {
		elapsed = time.Since(*record.StartedAt)
	}
	metrics.ReportFinished(domain.QueueStatusCompleted.String(), elapsed)
	if err := s.store.SetReportAnalysisStatus(ctx, record.ReportID, domain.ReportAnalysisDone); err != nil {
		s.logger.Warn("Failed to mark report done", "report_id", record.ReportID, "error", err)
	}
	if err := s.store.RecomputePositions(ctx); err != nil {
		s.logger.Warn("Failed to recompute positions", "error", err)
	}
	s.hub.StatusChange(record.ReportID, domain.QueueStatusCompleted.String())
	s.logger.Info("Report analysis completed", "report_id", record.ReportID)
	return nil
}

// failReport marks a report's entry as errored with a structured detail
// payload and propagates the cause. The persistence layer refuses the error
// transition if the breaker paused the entry in the meantime, so a pause is
// never masked by an error.
func (s *Service) failReport(ctx context.Context, record domain.QueueRecord, cause error) error {
	detail := errorDetail(cause)
	if err := s.store.SetQueueRecordError(ctx, record.ID, cause.Error(), detail); err != nil {
		s.logger.Error("Failed to mark queue entry errored", "report_id", record.ReportID, "error", err)
	}
	metrics.ReportFinished(domain.QueueStatusError.String(), 0)
	s.hub.StatusChange(record.ReportID, domain.QueueStatusError.String())
	s.logger.Error("Report analysis failed", "report_id", record.ReportID, "error", cause)
	return cause
}

// errorDetail serializes what we know about an upstream failure for the
// operator view.
func errorDetail(cause error) []byte {
	payload := map[string]any{"message": cause.Error()}
	if up, ok := vision.AsUpstream(cause); ok {
		payload["kind"] = string(up.Kind)
		payload["status"] = up.Status
		payload["retryable"] = up.Retryable
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return b
}

// =============================================================================
// Photo Analysis
// =============================================================================

// analyzePhoto produces the caption for a single photo. Taxonomy misses
// (unknown environment or item, or an unidentifiable child item) yield a
// diagnostic caption rather than an error so one mislabeled photo cannot
// stall the report.
func (s *Service) analyzePhoto(ctx context.Context, settings vision.Settings, taxonomy domain.Taxonomy, photo domain.Photo) (string, error) {
	env, ok := findEnvironment(taxonomy, photo.EnvironmentName)
	if !ok {
		metrics.PhotoDiagnostic()
		return fmt.Sprintf("Ambiente %q não encontrado", photo.EnvironmentName), nil
	}
	item, ok := findItem(taxonomy.ItemsIn(env.ID), photo.ItemName)
	if !ok {
		metrics.PhotoDiagnostic()
		return fmt.Sprintf("Item %q não encontrado", photo.ItemName), nil
	}

	url, err := s.signer.URL(ctx, photo.StorageKey, s.config.PhotoURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign photo url: %w", err)
	}

	children := taxonomy.ChildrenOf(item.ID)
	if len(children) == 0 {
		caption, err := s.client.AnalyzeImage(ctx, url, joinPrompt(settings.DefaultPrompt, item.Prompt))
		if err != nil {
			return "", err
		}
		metrics.PhotoCaptioned()
		return domain.TruncateCaption(caption), nil
	}

	// Two-stage identification: ask which child this is, match the reply
	// against the children's names, then describe with the child's prompt.
	reply, err := s.client.AnalyzeImage(ctx, url, item.Prompt)
	if err != nil {
		return "", err
	}
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name
	}
	name, ok := matcher.Resolve(reply, names)
	if !ok {
		s.logger.Info("Could not identify item variant",
			"photo_id", photo.ID,
			"item", item.Name,
			"reply", domain.TruncateCaption(reply),
		)
		metrics.PhotoDiagnostic()
		return fmt.Sprintf("Item %q não identificado", item.Name), nil
	}
	child, _ := findItem(children, name)

	caption, err := s.client.AnalyzeImage(ctx, url, joinPrompt(settings.DefaultPrompt, child.Prompt))
	if err != nil {
		return "", err
	}
	metrics.PhotoCaptioned()
	return domain.TruncateCaption(caption), nil
}

// findEnvironment matches a photo's environment label against the taxonomy
// using normalized comparison, so accents, hyphens and case differences in
// user-entered labels still resolve.
func findEnvironment(taxonomy domain.Taxonomy, name string) (domain.Environment, bool) {
	want := matcher.Normalize(name)
	for _, e := range taxonomy.Environments {
		if matcher.Normalize(e.Name) == want {
			return e, true
		}
	}
	return domain.Environment{}, false
}

func findItem(items []domain.Item, name string) (domain.Item, bool) {
	want := matcher.Normalize(name)
	for _, it := range items {
		if matcher.Normalize(it.Name) == want {
			return it, true
		}
	}
	return domain.Item{}, false
}
