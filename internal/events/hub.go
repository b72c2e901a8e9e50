// Package events provides the in-process pub/sub hub behind the queue's
// real-time progress feed. Subscribers register per report; the coordinator
// publishes progress and status-change events as it works.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the queue coordinator.
const (
	TypeProgress     = "progress"
	TypeStatusChange = "statusChange"
)

// Event is one real-time notification about a report's analysis run.
type Event struct {
	Type     string    `json:"type"`
	ReportID uuid.UUID `json:"reportId"`

	// Progress fields, set when Type is progress.
	ProcessedImages int `json:"processedImages,omitempty"`
	TotalImages     int `json:"totalImages,omitempty"`
	Percentage      int `json:"percentage,omitempty"`

	// Status field, set when Type is statusChange.
	Status string `json:"status,omitempty"`

	At time.Time `json:"at"`
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers drop
// events rather than blocking the coordinator's execution loop.
const subscriberBuffer = 16

// Hub fans events out to per-report subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[int]chan Event
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[int]chan Event),
	}
}

// Subscribe registers interest in one report's events. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Subscribe(reportID uuid.UUID) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[reportID] == nil {
		h.subs[reportID] = make(map[int]chan Event)
	}
	id := h.next
	h.next++

	ch := make(chan Event, subscriberBuffer)
	h.subs[reportID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if chans, ok := h.subs[reportID]; ok {
			if c, ok := chans[id]; ok {
				delete(chans, id)
				close(c)
			}
			if len(chans) == 0 {
				delete(h.subs, reportID)
			}
		}
	}
	return ch, cancel
}

// Progress publishes a progress event for a report.
func (h *Hub) Progress(reportID uuid.UUID, processed, total, percentage int) {
	h.publish(Event{
		Type:            TypeProgress,
		ReportID:        reportID,
		ProcessedImages: processed,
		TotalImages:     total,
		Percentage:      percentage,
		At:              time.Now(),
	})
}

// StatusChange publishes a status-change event for a report.
func (h *Hub) StatusChange(reportID uuid.UUID, status string) {
	h.publish(Event{
		Type:     TypeStatusChange,
		ReportID: reportID,
		Status:   status,
		At:       time.Now(),
	})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[ev.ReportID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall
			// the execution loop.
		}
	}
}

// SubscriberCount returns how many subscribers a report currently has.
func (h *Hub) SubscriberCount(reportID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[reportID])
}
