package queue

import (
	"context"
	"fmt"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/metrics"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// PauseQueue trips the global circuit breaker: the paused flag and reason are
// persisted and every pending or processing entry is bulk-moved to paused so
// nothing else hits a provider known to be rejecting us.
func (s *Service) PauseQueue(ctx context.Context, reason string) error {
	const op = "queue.pause"

	if err := s.store.SetPaused(ctx, reason); err != nil {
		return domain.Internal(err, op, "failed to persist pause state")
	}
	moved, err := s.store.BulkTransitionStatus(ctx,
		[]domain.QueueStatus{domain.QueueStatusPending, domain.QueueStatusProcessing},
		domain.QueueStatusPaused,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to pause queue entries")
	}

	metrics.BreakerTripped()
	s.logger.Warn("Queue paused", "reason", reason, "records_paused", moved)
	if err := s.notifier.NotifyQueuePaused(ctx, reason); err != nil {
		s.logger.Warn("Failed to send pause alert", "error", err)
	}
	return nil
}

// ResumeQueue lifts the breaker. Upstream connectivity is re-verified first;
// if the provider still rejects us the resume is refused and no record is
// touched. On success every paused entry returns to pending, positions are
// recompacted, and pending work is republished to the broker if it is live.
func (s *Service) ResumeQueue(ctx context.Context) (int64, error) {
	const op = "queue.resume"

	if err := s.client.Reload(ctx); err != nil {
		s.logger.Warn("Failed to reload analysis settings", "error", err)
	}
	if !s.client.Configured() {
		return 0, domain.Unconfigured(op, "analysis service is not configured")
	}
	if err := s.client.Ping(ctx); err != nil {
		return 0, domain.Conflict(op, fmt.Sprintf("analysis service still unreachable: %v", err))
	}

	if err := s.store.ClearPaused(ctx); err != nil {
		return 0, domain.Internal(err, op, "failed to clear pause state")
	}
	moved, err := s.store.BulkTransitionStatus(ctx,
		[]domain.QueueStatus{domain.QueueStatusPaused},
		domain.QueueStatusPending,
	)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to resume queue entries")
	}
	if err := s.store.RecomputePositions(ctx); err != nil {
		return 0, domain.Internal(err, op, "failed to recompute positions")
	}

	metrics.QueueResumed()
	s.logger.Info("Queue resumed", "records_resumed", moved)
	if err := s.notifier.NotifyQueueResumed(ctx, moved); err != nil {
		s.logger.Warn("Failed to send resume alert", "error", err)
	}

	if s.broker.IsConnected() {
		s.republishPending(ctx)
	}
	return moved, nil
}

func (s *Service) isGloballyPaused(ctx context.Context) (bool, error) {
	state, err := s.store.GetPauseState(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}
