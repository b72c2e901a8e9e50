package queue

import (
	"context"
	"time"

	"github.com/vistorialab/vistoria/internal/broker"
	"github.com/vistorialab/vistoria/internal/domain"
)

// Start wires the two delivery paths: it registers the reconnect callback
// and consumer, then spawns the poll loop, which runs until ctx is
// cancelled. Call Start before the broker adapter dials so the first
// connect cannot slip past the callback registration.
// Broker consumption is preferred; the local poll only performs work while
// the broker is down, and the reconnect callback is what hands outstanding
// pending records back to the broker.
func (s *Service) Start(ctx context.Context) error {
	s.broker.OnConnect(func() {
		s.logger.Info("Broker connection live; local polling idle")
		s.republishPending(ctx)
	})

	err := s.broker.Consume(func(ctx context.Context, msg broker.AnalyzeMessage) error {
		return s.ProcessReport(ctx, msg.ReportID)
	})
	if err != nil {
		return err
	}

	go s.pollLoop(ctx)
	return nil
}

// pollLoop is the fallback delivery path. Each tick it processes the frontmost
// pending record, but only while the broker is disconnected and the breaker is
// not tripped.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.broker.IsConnected() {
				continue
			}
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	paused, err := s.isGloballyPaused(ctx)
	if err != nil {
		s.logger.Error("Poll failed to read pause state", "error", err)
		return
	}
	if paused {
		return
	}

	records, err := s.store.ListQueueRecordsByStatus(ctx, []domain.QueueStatus{domain.QueueStatusPending})
	if err != nil {
		s.logger.Error("Poll failed to list pending records", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	// ListQueueRecordsByStatus orders by position, so the head of the
	// slice is the next report due.
	next := records[0]
	s.logger.Info("Polling picked up pending report", "report_id", next.ReportID, "position", next.Position)
	if err := s.ProcessReport(ctx, next.ReportID); err != nil {
		s.logger.Error("Polled report failed", "report_id", next.ReportID, "error", err)
	}
}
