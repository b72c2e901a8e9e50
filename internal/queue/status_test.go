package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistorialab/vistoria/internal/domain"
)

func TestReportStatusFor_NotInQueue(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	status, err := svc.ReportStatusFor(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, status.InQueue)
}

func TestReportStatusFor_PendingETACountsRecordsAhead(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	// 10 images ahead of a 40-image report: 50 images at ~3s each is 150s,
	// rounded up to 3 minutes.
	ahead := seedRecord(t, store, domain.QueueStatusPending, 0, 10)
	mine := seedRecord(t, store, domain.QueueStatusPending, 0, 40)
	require.NoError(t, store.RecomputePositions(ctx))

	status, err := svc.ReportStatusFor(ctx, mine.ReportID)
	require.NoError(t, err)
	assert.True(t, status.InQueue)
	assert.Equal(t, domain.QueueStatusPending, status.Status)
	assert.Equal(t, 2, status.Position)
	assert.Equal(t, 40, status.TotalImages)
	assert.Equal(t, 3, status.EstimatedMinutes)

	// The head of the queue only waits for its own images.
	status, err = svc.ReportStatusFor(ctx, ahead.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, 1, status.EstimatedMinutes)
}

func TestReportStatusFor_ProcessingUsesRemainingImages(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	record := seedRecord(t, store, domain.QueueStatusProcessing, 18, 20)

	status, err := svc.ReportStatusFor(ctx, record.ReportID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusProcessing, status.Status)
	assert.Equal(t, 18, status.ProcessedImages)
	assert.Equal(t, 90, status.ProgressPercentage)
	// 2 images left is under a minute but never reported as zero.
	assert.Equal(t, 1, status.EstimatedMinutes)
}

func TestQueueStats(t *testing.T) {
	svc, store, client, _, _ := newTestService()
	ctx := context.Background()

	seedTaxonomy(store)
	seedRecord(t, store, domain.QueueStatusPending, 0, 3)
	seedRecord(t, store, domain.QueueStatusProcessing, 1, 3)
	seedRecord(t, store, domain.QueueStatusPaused, 0, 3)

	// Run one report to completion so completedToday counts it.
	ownerID := uuid.New()
	reportID := store.addReport(ownerID)
	store.addPhoto(reportID, 1, "Sala", "Janela")
	client.Reply = "Janela conservada."
	_, err := svc.Enqueue(ctx, reportID, ownerID, false)
	require.NoError(t, err)
	require.NoError(t, svc.ProcessReport(ctx, reportID))

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Pending:        1,
		Processing:     1,
		Paused:         1,
		CompletedToday: 1,
		Total:          4,
	}, stats)
}

func TestGlobalPauseStatus(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	seedRecord(t, store, domain.QueueStatusPending, 0, 3)
	seedRecord(t, store, domain.QueueStatusProcessing, 0, 3)

	status, err := svc.GlobalPauseStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.Zero(t, status.PausedItems)

	require.NoError(t, svc.PauseQueue(ctx, "manual maintenance"))

	status, err = svc.GlobalPauseStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, "manual maintenance", status.Reason)
	assert.NotNil(t, status.PausedAt)
	assert.Equal(t, 2, status.PausedItems)
}

func TestFullQueueListsActiveEntries(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	pending := seedRecord(t, store, domain.QueueStatusPending, 0, 3)
	seedRecord(t, store, domain.QueueStatusCompleted, 3, 3)

	entries, err := svc.FullQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pending.ReportID, entries[0].ReportID)
	assert.Equal(t, "Rua das Flores 100", entries[0].Address)
}

func TestPollOnce_ProcessesFrontmostPending(t *testing.T) {
	svc, store, client, brk, _ := newTestService()
	ctx := context.Background()

	seedTaxonomy(store)
	ownerID := uuid.New()
	reportID := store.addReport(ownerID)
	store.addPhoto(reportID, 1, "Sala", "Janela")
	client.Reply = "Janela conservada."

	_, err := svc.Enqueue(ctx, reportID, ownerID, false)
	require.NoError(t, err)

	brk.setConnected(false)
	svc.pollOnce(ctx)

	record, err := store.GetQueueRecordByReportID(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, record.Status)
}

func TestPollOnce_RespectsGlobalPause(t *testing.T) {
	svc, store, client, _, _ := newTestService()
	ctx := context.Background()

	seedTaxonomy(store)
	ownerID := uuid.New()
	reportID := store.addReport(ownerID)
	store.addPhoto(reportID, 1, "Sala", "Janela")

	_, err := svc.Enqueue(ctx, reportID, ownerID, false)
	require.NoError(t, err)
	require.NoError(t, store.SetPaused(ctx, "breaker tripped"))

	svc.pollOnce(ctx)
	assert.Zero(t, client.AnalyzeCalls)
}

func TestStart_RegistersBrokerHooksBeforeReturning(t *testing.T) {
	svc, store, _, brk, _ := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, svc.Start(ctx))

	// Both delivery hooks must be in place by the time Start returns, so a
	// broker that connects immediately afterwards still finds them.
	brk.mu.Lock()
	callbacks := len(brk.onConnect)
	handler := brk.handler
	brk.mu.Unlock()
	require.Equal(t, 1, callbacks)
	require.NotNil(t, handler)

	// A connect after Start republishes outstanding pending work.
	seedTaxonomy(store)
	ownerID := uuid.New()
	reportID := store.addReport(ownerID)
	store.addPhoto(reportID, 1, "Sala", "Janela")
	_, err := svc.Enqueue(ctx, reportID, ownerID, false)
	require.NoError(t, err)

	brk.setConnected(true)
	brk.mu.Lock()
	connectFns := append([]func(){}, brk.onConnect...)
	brk.mu.Unlock()
	for _, fn := range connectFns {
		fn()
	}
	assert.Equal(t, 1, brk.publishedCount())
}
