// Package queue implements the asynchronous photo-analysis queue: the state
// machine for a report's position in the queue, the dual-mode execution
// engine (broker consumer with a local polling fallback), startup crash
// recovery and the global pause/resume circuit breaker.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/broker"
	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/events"
	"github.com/vistorialab/vistoria/internal/notify"
	"github.com/vistorialab/vistoria/internal/vision"
)

// =============================================================================
// Collaborator Contracts
// =============================================================================

// Store is the persistence surface the coordinator needs. Implemented by
// *repository.Queries.
type Store interface {
	CreateQueueRecord(ctx context.Context, reportID, ownerID uuid.UUID, position, totalImages int) (domain.QueueRecord, error)
	GetQueueRecord(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error)
	GetQueueRecordByReportID(ctx context.Context, reportID uuid.UUID) (domain.QueueRecord, error)
	DeleteQueueRecord(ctx context.Context, id uuid.UUID) error
	MaxPendingPosition(ctx context.Context) (int, error)
	RecomputePositions(ctx context.Context) error
	SetQueueRecordProcessing(ctx context.Context, id uuid.UUID) error
	SetQueueRecordCompleted(ctx context.Context, id uuid.UUID) error
	SetQueueRecordCancelled(ctx context.Context, id uuid.UUID) error
	SetQueueRecordError(ctx context.Context, id uuid.UUID, message string, detail []byte) error
	SetQueueRecordCurrentImage(ctx context.Context, id uuid.UUID, imageID uuid.NullUUID) error
	IncrementProcessedImages(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error)
	DemoteQueueRecordToPending(ctx context.Context, id uuid.UUID) error
	ListQueueRecordsByStatus(ctx context.Context, statuses []domain.QueueStatus) ([]domain.QueueRecord, error)
	BulkTransitionStatus(ctx context.Context, from []domain.QueueStatus, to domain.QueueStatus) (int64, error)
	CountQueueRecordsByStatus(ctx context.Context, status domain.QueueStatus) (int, error)
	CountQueueRecordsCompletedSince(ctx context.Context, since time.Time) (int, error)
	CountQueueRecords(ctx context.Context) (int, error)
	SumPendingImagesBefore(ctx context.Context, position int) (int, error)
	ListQueueEntries(ctx context.Context) ([]domain.QueueEntry, error)

	GetPauseState(ctx context.Context) (domain.PauseState, error)
	SetPaused(ctx context.Context, reason string) error
	ClearPaused(ctx context.Context) error

	CountUnanalyzedPhotos(ctx context.Context, reportID uuid.UUID) (int, error)
	NextUnanalyzedPhoto(ctx context.Context, reportID uuid.UUID) (domain.Photo, error)
	MarkPhotoAnalyzed(ctx context.Context, photoID uuid.UUID, caption string) error
	ResetPhotosForReport(ctx context.Context, reportID uuid.UUID) (int64, error)

	GetReport(ctx context.Context, id uuid.UUID) (domain.Report, error)
	SetReportAnalysisStatus(ctx context.Context, id uuid.UUID, status domain.ReportAnalysisStatus) error

	GetTaxonomy(ctx context.Context) (domain.Taxonomy, error)
	GetAnalysisSettings(ctx context.Context) (vision.Settings, error)

	IsNoRows(err error) bool
}

// Broker is the slice of the broker adapter the coordinator consumes.
type Broker interface {
	IsConnected() bool
	Publish(ctx context.Context, msg broker.AnalyzeMessage) error
	Consume(handler broker.Handler) error
	OnConnect(fn func())
}

// URLSigner issues presigned URLs for stored photos. Implemented by the
// storage package.
type URLSigner interface {
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// =============================================================================
// Service
// =============================================================================

// Config holds coordinator tuning knobs.
type Config struct {
	// PollInterval is how often the local fallback checks for pending
	// work while the broker is down.
	PollInterval time.Duration

	// PhotoURLTTL is the lifetime of presigned photo URLs handed to the
	// vision API.
	PhotoURLTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		PhotoURLTTL:  15 * time.Minute,
	}
}

// Service is the queue coordinator. One Service processes at most one report
// at a time end to end.
type Service struct {
	store    Store
	client   vision.Client
	signer   URLSigner
	broker   Broker
	hub      *events.Hub
	notifier notify.Service
	config   Config
	logger   *slog.Logger

	// runMu serializes report processing across the two delivery paths
	// (broker consumer and local poller).
	runMu sync.Mutex
}

// New creates a queue coordinator.
func New(
	store Store,
	client vision.Client,
	signer URLSigner,
	brk Broker,
	hub *events.Hub,
	notifier notify.Service,
	config Config,
	logger *slog.Logger,
) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.PhotoURLTTL <= 0 {
		config.PhotoURLTTL = DefaultConfig().PhotoURLTTL
	}
	return &Service{
		store:    store,
		client:   client,
		signer:   signer,
		broker:   brk,
		hub:      hub,
		notifier: notifier,
		config:   config,
		logger:   logger,
	}
}

// =============================================================================
// Enqueue
// =============================================================================

// EnqueueResult is returned to the caller of Enqueue.
type EnqueueResult struct {
	Position    int
	TotalImages int
}

// Enqueue places a report's unanalyzed photos on the queue. With force, an
// existing non-processing entry is replaced and every photo of the report is
// reset to unanalyzed (previously written captions are cleared).
func (s *Service) Enqueue(ctx context.Context, reportID, ownerID uuid.UUID, force bool) (EnqueueResult, error) {
	const op = "queue.enqueue"

	// Pick up credential changes made since the last run before deciding
	// whether we are configured at all.
	if err := s.client.Reload(ctx); err != nil {
		s.logger.Warn("Failed to reload analysis settings", "error", err)
	}
	if !s.client.Configured() {
		return EnqueueResult{}, domain.Unconfigured(op, "analysis service is not configured")
	}

	existing, err := s.store.GetQueueRecordByReportID(ctx, reportID)
	switch {
	case err == nil:
		if existing.Status == domain.QueueStatusProcessing {
			return EnqueueResult{}, domain.Conflict(op, "report is already being processed")
		}
		if !existing.Status.IsTerminal() && !force {
			return EnqueueResult{}, domain.Conflict(op, "report is already queued")
		}
		if err := s.store.DeleteQueueRecord(ctx, existing.ID); err != nil {
			return EnqueueResult{}, domain.Internal(err, op, "failed to replace existing queue entry")
		}
	case s.store.IsNoRows(err):
		// First enqueue for this report.
	default:
		return EnqueueResult{}, domain.Internal(err, op, "failed to look up queue entry")
	}

	if force {
		if _, err := s.store.ResetPhotosForReport(ctx, reportID); err != nil {
			return EnqueueResult{}, domain.Internal(err, op, "failed to reset photos")
		}
	}

	total, err := s.store.CountUnanalyzedPhotos(ctx, reportID)
	if err != nil {
		return EnqueueResult{}, domain.Internal(err, op, "failed to count photos")
	}
	if total == 0 {
		// Nothing to do; reflect that on the report itself.
		if err := s.store.SetReportAnalysisStatus(ctx, reportID, domain.ReportAnalysisDone); err != nil {
			s.logger.Warn("Failed to mark report done", "report_id", reportID, "error", err)
		}
		return EnqueueResult{}, domain.Invalid(op, "report has no photos to analyze")
	}

	maxPos, err := s.store.MaxPendingPosition(ctx)
	if err != nil {
		return EnqueueResult{}, domain.Internal(err, op, "failed to compute queue position")
	}

	record, err := s.store.CreateQueueRecord(ctx, reportID, ownerID, maxPos+1, total)
	if err != nil {
		return EnqueueResult{}, domain.Internal(err, op, "failed to create queue entry")
	}

	s.logger.Info("Report enqueued",
		"report_id", reportID,
		"owner_id", ownerID,
		"position", record.Position,
		"total_images", total,
		"force", force,
	)

	if s.broker.IsConnected() {
		err := s.broker.Publish(ctx, broker.AnalyzeMessage{
			ReportID: reportID,
			OwnerID:  ownerID,
			Priority: broker.DefaultPriority,
		})
		if err != nil {
			// The record stays pending; local polling or the next
			// broker reconnect will pick it up.
			s.logger.Warn("Failed to publish work message", "report_id", reportID, "error", err)
		}
	}

	return EnqueueResult{Position: record.Position, TotalImages: total}, nil
}

// =============================================================================
// Cancel
// =============================================================================

// Cancel removes a report from the queue. A processing report is flagged
// cancelled and stops cooperatively after the photo currently in flight; any
// other record is deleted outright.
func (s *Service) Cancel(ctx context.Context, reportID, ownerID uuid.UUID) error {
	const op = "queue.cancel"

	record, err := s.store.GetQueueRecordByReportID(ctx, reportID)
	if err != nil {
		if s.store.IsNoRows(err) {
			return domain.NotFound(op, "queue entry", reportID.String())
		}
		return domain.Internal(err, op, "failed to look up queue entry")
	}
	if record.OwnerID != ownerID {
		return domain.NotFound(op, "queue entry", reportID.String())
	}

	if record.Status == domain.QueueStatusProcessing {
		if err := s.store.SetQueueRecordCancelled(ctx, record.ID); err != nil {
			return domain.Internal(err, op, "failed to cancel queue entry")
		}
		s.hub.StatusChange(reportID, domain.QueueStatusCancelled.String())
	} else {
		if err := s.store.DeleteQueueRecord(ctx, record.ID); err != nil {
			return domain.Internal(err, op, "failed to delete queue entry")
		}
	}

	if err := s.store.RecomputePositions(ctx); err != nil {
		return domain.Internal(err, op, "failed to recompute positions")
	}

	s.logger.Info("Report dequeued", "report_id", reportID, "was_processing", record.Status == domain.QueueStatusProcessing)
	return nil
}

// republishPending pushes every pending record back onto the broker. Called
// from the reconnect callback and after a resume.
func (s *Service) republishPending(ctx context.Context) {
	records, err := s.store.ListQueueRecordsByStatus(ctx, []domain.QueueStatus{domain.QueueStatusPending})
	if err != nil {
		s.logger.Error("Failed to list pending records for republish", "error", err)
		return
	}
	for _, r := range records {
		err := s.broker.Publish(ctx, broker.AnalyzeMessage{
			ReportID: r.ReportID,
			OwnerID:  r.OwnerID,
			Priority: broker.DefaultPriority,
		})
		if err != nil {
			s.logger.Warn("Failed to republish pending record", "report_id", r.ReportID, "error", err)
		}
	}
	if len(records) > 0 {
		s.logger.Info("Republished pending records to broker", "count", len(records))
	}
}

// joinPrompt prefixes an item prompt with the configured default prompt,
// omitting the prefix when it is empty.
func joinPrompt(defaultPrompt, prompt string) string {
	if defaultPrompt == "" {
		return prompt
	}
	return fmt.Sprintf("%s %s", defaultPrompt, prompt)
}
