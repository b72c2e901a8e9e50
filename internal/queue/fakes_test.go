package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/broker"
	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/events"
	"github.com/vistorialab/vistoria/internal/notify"
	"github.com/vistorialab/vistoria/internal/vision"
	"github.com/vistorialab/vistoria/internal/vision/mock"
)

var errNoRows = errors.New("fakestore: no rows")

// fakeStore is an in-memory Store for coordinator tests.
type fakeStore struct {
	mu sync.Mutex

	records  map[uuid.UUID]*domain.QueueRecord
	order    map[uuid.UUID]int // creation order, drives position compaction
	photos   map[uuid.UUID][]*domain.Photo
	reports  map[uuid.UUID]*domain.Report
	taxonomy domain.Taxonomy
	settings vision.Settings
	pause    domain.PauseState
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[uuid.UUID]*domain.QueueRecord),
		order:   make(map[uuid.UUID]int),
		photos:  make(map[uuid.UUID][]*domain.Photo),
		reports: make(map[uuid.UUID]*domain.Report),
	}
}

func (f *fakeStore) IsNoRows(err error) bool { return errors.Is(err, errNoRows) }

func (f *fakeStore) CreateQueueRecord(ctx context.Context, reportID, ownerID uuid.UUID, position, totalImages int) (domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	r := &domain.QueueRecord{
		ID:          uuid.New(),
		ReportID:    reportID,
		OwnerID:     ownerID,
		Status:      domain.QueueStatusPending,
		Position:    position,
		TotalImages: totalImages,
		CreatedAt:   time.Now(),
	}
	f.records[r.ID] = r
	f.order[r.ID] = f.seq
	return *r, nil
}

func (f *fakeStore) GetQueueRecord(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return domain.QueueRecord{}, errNoRows
	}
	return *r, nil
}

func (f *fakeStore) GetQueueRecordByReportID(ctx context.Context, reportID uuid.UUID) (domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.byReport(reportID); r != nil {
		return *r, nil
	}
	return domain.QueueRecord{}, errNoRows
}

func (f *fakeStore) byReport(reportID uuid.UUID) *domain.QueueRecord {
	for _, r := range f.records {
		if r.ReportID == reportID {
			return r
		}
	}
	return nil
}

func (f *fakeStore) DeleteQueueRecord(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	delete(f.order, id)
	return nil
}

func (f *fakeStore) MaxPendingPosition(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, r := range f.records {
		if r.Status == domain.QueueStatusPending && r.Position > max {
			max = r.Position
		}
	}
	return max, nil
}

func (f *fakeStore) RecomputePositions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pendingInOrder()
	for i, r := range pending {
		r.Position = i + 1
	}
	return nil
}

func (f *fakeStore) pendingInOrder() []*domain.QueueRecord {
	var pending []*domain.QueueRecord
	for _, r := range f.records {
		if r.Status == domain.QueueStatusPending {
			pending = append(pending, r)
		}
	}
	for i := 1; i < len(pending); i++ {
		for j := i; j > 0 && f.order[pending[j-1].ID] > f.order[pending[j].ID]; j-- {
			pending[j-1], pending[j] = pending[j], pending[j-1]
		}
	}
	return pending
}

func (f *fakeStore) SetQueueRecordProcessing(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	r.Status = domain.QueueStatusProcessing
	r.Position = 0
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	return nil
}

func (f *fakeStore) SetQueueRecordCompleted(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	now := time.Now()
	r.Status = domain.QueueStatusCompleted
	r.Position = 0
	r.CurrentImageID = uuid.NullUUID{}
	r.CompletedAt = &now
	return nil
}

func (f *fakeStore) SetQueueRecordCancelled(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	r.Status = domain.QueueStatusCancelled
	r.Position = 0
	return nil
}

func (f *fakeStore) SetQueueRecordError(ctx context.Context, id uuid.UUID, message string, detail []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	// Pause wins over error, matching the SQL guard.
	if r.Status == domain.QueueStatusPaused {
		return nil
	}
	r.Status = domain.QueueStatusError
	r.Position = 0
	r.ErrorMessage = message
	r.ErrorDetail = detail
	return nil
}

func (f *fakeStore) SetQueueRecordCurrentImage(ctx context.Context, id uuid.UUID, imageID uuid.NullUUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	r.CurrentImageID = imageID
	return nil
}

func (f *fakeStore) IncrementProcessedImages(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return domain.QueueRecord{}, errNoRows
	}
	r.ProcessedImages++
	return *r, nil
}

func (f *fakeStore) DemoteQueueRecordToPending(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errNoRows
	}
	r.Status = domain.QueueStatusPending
	r.CurrentImageID = uuid.NullUUID{}
	return nil
}

func (f *fakeStore) ListQueueRecordsByStatus(ctx context.Context, statuses []domain.QueueStatus) ([]domain.QueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[domain.QueueStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var all []*domain.QueueRecord
	for _, r := range f.records {
		if wanted[r.Status] {
			all = append(all, r)
		}
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && f.order[all[j-1].ID] > f.order[all[j].ID]; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
	out := make([]domain.QueueRecord, len(all))
	for i, r := range all {
		out[i] = *r
	}
	return out, nil
}

func (f *fakeStore) BulkTransitionStatus(ctx context.Context, from []domain.QueueStatus, to domain.QueueStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[domain.QueueStatus]bool, len(from))
	for _, s := range from {
		wanted[s] = true
	}
	var n int64
	for _, r := range f.records {
		if wanted[r.Status] {
			r.Status = to
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountQueueRecordsByStatus(ctx context.Context, status domain.QueueStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountQueueRecordsCompletedSince(ctx context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Status == domain.QueueStatusCompleted && r.CompletedAt != nil && r.CompletedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountQueueRecords(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeStore) SumPendingImagesBefore(ctx context.Context, position int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, r := range f.records {
		if r.Status == domain.QueueStatusPending && r.Position < position {
			sum += r.TotalImages - r.ProcessedImages
		}
	}
	return sum, nil
}

func (f *fakeStore) ListQueueEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []domain.QueueEntry
	for _, r := range f.records {
		if r.Status.IsTerminal() {
			continue
		}
		e := domain.QueueEntry{
			ID:              r.ID,
			ReportID:        r.ReportID,
			Status:          r.Status,
			Position:        r.Position,
			TotalImages:     r.TotalImages,
			ProcessedImages: r.ProcessedImages,
			CreatedAt:       r.CreatedAt,
			StartedAt:       r.StartedAt,
		}
		if rep, ok := f.reports[r.ReportID]; ok {
			e.Address = rep.Address
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (f *fakeStore) GetPauseState(ctx context.Context) (domain.PauseState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pause, nil
}

func (f *fakeStore) SetPaused(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.pause = domain.PauseState{Paused: true, Reason: reason, PausedAt: &now}
	return nil
}

func (f *fakeStore) ClearPaused(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pause = domain.PauseState{}
	return nil
}

func (f *fakeStore) CountUnanalyzedPhotos(ctx context.Context, reportID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.photos[reportID] {
		if p.Analyzed == domain.AnalyzedNo {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) NextUnanalyzedPhoto(ctx context.Context, reportID uuid.UUID) (domain.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next *domain.Photo
	for _, p := range f.photos[reportID] {
		if p.Analyzed != domain.AnalyzedNo {
			continue
		}
		if next == nil || p.SortOrder < next.SortOrder {
			next = p
		}
	}
	if next == nil {
		return domain.Photo{}, errNoRows
	}
	return *next, nil
}

func (f *fakeStore) MarkPhotoAnalyzed(ctx context.Context, photoID uuid.UUID, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, photos := range f.photos {
		for _, p := range photos {
			if p.ID == photoID {
				p.Analyzed = domain.AnalyzedYes
				p.Caption = caption
				return nil
			}
		}
	}
	return errNoRows
}

func (f *fakeStore) ResetPhotosForReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.photos[reportID] {
		p.Analyzed = domain.AnalyzedNo
		p.Caption = ""
		n++
	}
	return n, nil
}

func (f *fakeStore) GetReport(ctx context.Context, id uuid.UUID) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return domain.Report{}, errNoRows
	}
	return *r, nil
}

func (f *fakeStore) SetReportAnalysisStatus(ctx context.Context, id uuid.UUID, status domain.ReportAnalysisStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[id]; ok {
		r.AnalysisStatus = status
	}
	return nil
}

func (f *fakeStore) GetTaxonomy(ctx context.Context) (domain.Taxonomy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taxonomy, nil
}

func (f *fakeStore) GetAnalysisSettings(ctx context.Context) (vision.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

// Seeding helpers.

func (f *fakeStore) addReport(ownerID uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.reports[id] = &domain.Report{
		ID:             id,
		OwnerID:        ownerID,
		Address:        "Rua das Flores 100",
		AnalysisStatus: domain.ReportAnalysisNotStarted,
		CreatedAt:      time.Now(),
	}
	return id
}

func (f *fakeStore) addPhoto(reportID uuid.UUID, sortOrder int, environment, item string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.photos[reportID] = append(f.photos[reportID], &domain.Photo{
		ID:              id,
		ReportID:        reportID,
		StorageKey:      "photos/" + id.String() + ".jpg",
		SortOrder:       sortOrder,
		EnvironmentName: environment,
		ItemName:        item,
		Analyzed:        domain.AnalyzedNo,
		CreatedAt:       time.Now(),
	})
	return id
}

func (f *fakeStore) photoByID(id uuid.UUID) domain.Photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, photos := range f.photos {
		for _, p := range photos {
			if p.ID == id {
				return *p
			}
		}
	}
	return domain.Photo{}
}

// fakeBroker records publishes and connection state.
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	published []broker.AnalyzeMessage
	handler   broker.Handler
	onConnect []func()
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *fakeBroker) Publish(ctx context.Context, msg broker.AnalyzeMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBroker) Consume(handler broker.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBroker) OnConnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = append(b.onConnect, fn)
}

// fakeNotifier records the alerts the coordinator sends.
type fakeNotifier struct {
	mu           sync.Mutex
	pauseReasons []string
	resumeCounts []int64
}

func (n *fakeNotifier) NotifyQueuePaused(ctx context.Context, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauseReasons = append(n.pauseReasons, reason)
	return nil
}

func (n *fakeNotifier) NotifyQueueResumed(ctx context.Context, resumed int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resumeCounts = append(n.resumeCounts, resumed)
	return nil
}

// fakeSigner returns deterministic URLs.
type fakeSigner struct{}

func (fakeSigner) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func newTestService() (*Service, *fakeStore, *mock.Provider, *fakeBroker, *events.Hub) {
	store := newFakeStore()
	client := mock.New()
	brk := &fakeBroker{}
	hub := events.NewHub()
	svc := New(
		store,
		client,
		fakeSigner{},
		brk,
		hub,
		notify.NewService("", 0),
		DefaultConfig(),
		slog.New(slog.DiscardHandler),
	)
	return svc, store, client, brk, hub
}
