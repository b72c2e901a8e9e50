// Package broker wraps the AMQP connection used to deliver analysis work to
// the queue coordinator.
//
// The adapter keeps exactly one channel with a prefetch of one, matching the
// coordinator's one-report-at-a-time discipline, and reconnects on its own
// after unexpected connection loss. Registered OnConnect callbacks fire after
// every successful (re)connect, which is how the coordinator switches between
// broker-driven consumption and its local polling fallback.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vistorialab/vistoria/internal/metrics"
)

const (
	// QueueName is the durable work queue for analysis messages.
	QueueName = "vistoria.analysis"

	// reconnectDelay is the wait before re-dialing after a lost connection.
	reconnectDelay = 5 * time.Second

	// DefaultPriority is used when a publish does not specify one.
	DefaultPriority = 5

	// MaxPriority bounds the queue's priority range (0-10).
	MaxPriority = 10
)

// AnalyzeMessage is the wire body of one unit of analysis work.
type AnalyzeMessage struct {
	ReportID uuid.UUID `json:"reportId"`
	OwnerID  uuid.UUID `json:"ownerId"`
	Priority int       `json:"priority"`
}

// Handler processes one delivered message. A nil return acknowledges the
// delivery; an error negative-acknowledges it, requeueing only first
// deliveries so a poison message cannot loop forever.
type Handler func(ctx context.Context, msg AnalyzeMessage) error

// Adapter manages the AMQP connection lifecycle.
type Adapter struct {
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	onConnect []func()
	handler   Handler
	closing   bool
}

// New creates an unconnected adapter. Call Start to begin the connect loop.
func New(url string, logger *slog.Logger) *Adapter {
	return &Adapter{
		url:    url,
		logger: logger,
	}
}

// OnConnect registers a callback invoked after every successful (re)connect.
// Register callbacks before calling Start.
func (a *Adapter) OnConnect(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onConnect = append(a.onConnect, fn)
}

// Start dials the broker and keeps the connection alive until ctx is
// cancelled. The first dial failure is returned to the caller only through
// logs; the adapter keeps retrying so a broker outage at boot does not take
// the service down.
func (a *Adapter) Start(ctx context.Context) {
	go a.connectLoop(ctx)
}

func (a *Adapter) connectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		closeCh, err := a.connect()
		if err != nil {
			a.logger.Warn("Broker connection failed, retrying", "error", err, "delay", reconnectDelay)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		a.logger.Info("Broker connected", "queue", QueueName)
		for _, fn := range a.snapshotCallbacks() {
			fn()
		}

		select {
		case err := <-closeCh:
			a.setDisconnected()
			if a.isClosing() {
				return
			}
			a.logger.Warn("Broker connection lost, reconnecting", "error", err, "delay", reconnectDelay)
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			a.Close()
			return
		}
	}
}

// connect dials, opens the channel, declares the durable queue and restores
// the consumer if one was registered.
func (a *Adapter) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// One in-flight delivery at a time.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	_, err = channel.QueueDeclare(QueueName, true, false, false, false, amqp.Table{
		"x-max-priority": int32(MaxPriority),
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	closeCh := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeCh)

	a.mu.Lock()
	a.conn = conn
	a.channel = channel
	a.connected = true
	handler := a.handler
	a.mu.Unlock()
	metrics.SetBrokerConnected(true)

	if handler != nil {
		if err := a.startConsumer(channel, handler); err != nil {
			conn.Close()
			a.setDisconnected()
			return nil, err
		}
	}

	return closeCh, nil
}

// Consume registers the message handler. The consumer starts on the current
// connection if live, and is re-established automatically after reconnects.
func (a *Adapter) Consume(handler Handler) error {
	a.mu.Lock()
	a.handler = handler
	channel := a.channel
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return nil
	}
	return a.startConsumer(channel, handler)
}

func (a *Adapter) startConsumer(channel *amqp.Channel, handler Handler) error {
	deliveries, err := channel.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	go func() {
		for d := range deliveries {
			a.dispatch(d, handler)
		}
	}()
	return nil
}

func (a *Adapter) dispatch(d amqp.Delivery, handler Handler) {
	var msg AnalyzeMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		a.logger.Error("Discarding malformed broker message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	ctx := context.Background()
	if err := handler(ctx, msg); err != nil {
		requeue := ShouldRequeue(d.Redelivered)
		a.logger.Error("Message handler failed",
			"report_id", msg.ReportID,
			"redelivered", d.Redelivered,
			"requeue", requeue,
			"error", err,
		)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

// ShouldRequeue decides whether a failed delivery goes back on the queue.
// Redeliveries are dropped so a poison message fails at most twice.
func ShouldRequeue(redelivered bool) bool {
	return !redelivered
}

// Publish enqueues one analysis message. Messages are persistent and carry a
// priority between 0 and MaxPriority.
func (a *Adapter) Publish(ctx context.Context, msg AnalyzeMessage) error {
	a.mu.Lock()
	channel := a.channel
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return fmt.Errorf("broker not connected")
	}

	if msg.Priority < 0 {
		msg.Priority = 0
	}
	if msg.Priority > MaxPriority {
		msg.Priority = MaxPriority
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = channel.PublishWithContext(ctx, "", QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(msg.Priority),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// IsConnected reports current broker liveness.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Depth returns the number of messages waiting in the queue.
func (a *Adapter) Depth() (int, error) {
	a.mu.Lock()
	channel := a.channel
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return 0, fmt.Errorf("broker not connected")
	}
	q, err := channel.QueueInspect(QueueName)
	if err != nil {
		return 0, fmt.Errorf("inspect queue: %w", err)
	}
	return q.Messages, nil
}

// Purge drops every waiting message. Destructive, operator-only.
func (a *Adapter) Purge() (int, error) {
	a.mu.Lock()
	channel := a.channel
	connected := a.connected
	a.mu.Unlock()

	if !connected {
		return 0, fmt.Errorf("broker not connected")
	}
	n, err := channel.QueuePurge(QueueName, false)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	return n, nil
}

// Close shuts the connection down for good; the connect loop will not redial.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closing = true
	conn := a.conn
	a.connected = false
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (a *Adapter) snapshotCallbacks() []func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]func(){}, a.onConnect...)
}

func (a *Adapter) setDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	metrics.SetBrokerConnected(false)
}

func (a *Adapter) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}
