package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistorialab/vistoria/internal/domain"
)

func seedRecord(t *testing.T, store *fakeStore, status domain.QueueStatus, processed, total int) domain.QueueRecord {
	t.Helper()
	ctx := context.Background()

	ownerID := uuid.New()
	reportID := store.addReport(ownerID)
	record, err := store.CreateQueueRecord(ctx, reportID, ownerID, 0, total)
	require.NoError(t, err)

	store.mu.Lock()
	r := store.records[record.ID]
	r.Status = status
	r.ProcessedImages = processed
	store.mu.Unlock()
	return record
}

func TestRecover_ForceCompletesFinishedWork(t *testing.T) {
	svc, store, client, _, _ := newTestService()
	ctx := context.Background()

	// Crash landed after the last photo was saved but before the record
	// was closed out.
	stranded := seedRecord(t, store, domain.QueueStatusProcessing, 2, 2)

	require.NoError(t, svc.Recover(ctx))

	record, err := store.GetQueueRecord(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, record.Status)
	assert.NotNil(t, record.CompletedAt)

	report, err := store.GetReport(ctx, stranded.ReportID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportAnalysisDone, report.AnalysisStatus)

	// No photo is reprocessed.
	assert.Zero(t, client.AnalyzeCalls)
}

func TestRecover_DemotesInterruptedProcessing(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	interrupted := seedRecord(t, store, domain.QueueStatusProcessing, 1, 3)

	require.NoError(t, svc.Recover(ctx))

	record, err := store.GetQueueRecord(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, record.Status)
	// Photo-level progress is preserved; the loop resumes where it left off.
	assert.Equal(t, 1, record.ProcessedImages)
	assert.False(t, record.CurrentImageID.Valid)
}

func TestRecover_RecompactsPositions(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	first := seedRecord(t, store, domain.QueueStatusProcessing, 0, 3)
	done := seedRecord(t, store, domain.QueueStatusPending, 2, 2)
	second := seedRecord(t, store, domain.QueueStatusPending, 0, 5)

	require.NoError(t, svc.Recover(ctx))

	// The finished record leaves the pending set; the rest are 1..N in
	// creation order.
	r, err := store.GetQueueRecord(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Position)

	r, err = store.GetQueueRecord(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Position)

	r, err = store.GetQueueRecord(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, r.Status)
}

func TestRecover_LeavesTerminalRecordsAlone(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	errored := seedRecord(t, store, domain.QueueStatusError, 1, 3)
	paused := seedRecord(t, store, domain.QueueStatusPaused, 1, 3)

	require.NoError(t, svc.Recover(ctx))

	r, err := store.GetQueueRecord(ctx, errored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusError, r.Status)

	r, err = store.GetQueueRecord(ctx, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPaused, r.Status)
}
