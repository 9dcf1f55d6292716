// Package fanout delivers change events to every connected client session.
//
// A client session is one running client instance, identified by the
// connection id handed out when it first connects. Reconnecting with that id
// replaces the earlier connection, so each client instance holds at most one
// stream. One authenticated session may run several instances, up to
// MaxPerSession.
//
// Each connection owns a bounded queue. Publishing never blocks: when a queue
// is full its oldest event is dropped. Clients treat events as refetch hints,
// so a dropped event costs at most a stale view until the next one arrives.
package fanout

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerName is the dispatcher subscription name of the hub
const HandlerName = "fanout-hub"

// Config holds hub settings
type Config struct {
	QueueSize int
	Heartbeat time.Duration
	// MaxPerSession caps the connections of one authenticated session. The
	// oldest connection is closed when a new one would exceed it.
	MaxPerSession int
}

// DefaultConfig returns default hub settings
func DefaultConfig() Config {
	return Config{
		QueueSize:     64,
		Heartbeat:     15 * time.Second,
		MaxPerSession: 16,
	}
}

// Metrics receives hub activity
type Metrics interface {
	EventPublished(eventType string)
	ConnectionOpened()
	ConnectionClosed()
	EventDropped()
}

type noopMetrics struct{}

func (noopMetrics) EventPublished(string) {}
func (noopMetrics) ConnectionOpened()     {}
func (noopMetrics) ConnectionClosed()     {}
func (noopMetrics) EventDropped()         {}

// Subscription is one connection's view of the hub
type Subscription struct {
	ID        string
	SessionID string

	seq uint64

	queue     chan *event.Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Events returns the connection's queue
func (s *Subscription) Events() <-chan *event.Event {
	return s.queue
}

// Done is closed when the subscription ends, either through Unregister or
// because a newer connection replaced or evicted it
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many events were evicted from this queue
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// offer enqueues evt, evicting the oldest queued events while full. It
// reports how many events were dropped.
func (s *Subscription) offer(evt *event.Event) int {
	var dropped int
	for {
		select {
		case <-s.done:
			return dropped
		case s.queue <- evt:
			return dropped
		default:
		}
		select {
		case <-s.queue:
			dropped++
			s.dropped.Add(1)
		default:
		}
	}
}

// Hub keeps one subscription per connection id
type Hub struct {
	config  Config
	metrics Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	seq    uint64
	closed bool
}

// NewHub creates a hub. metrics may be nil.
func NewHub(config Config, metrics Metrics, logger *zap.Logger) *Hub {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaults.Heartbeat
	}
	if config.MaxPerSession <= 0 {
		config.MaxPerSession = defaults.MaxPerSession
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{
		config:  config,
		metrics: metrics,
		logger:  logger,
		subs:    make(map[string]*Subscription),
	}
}

// Attach subscribes the hub to every event type on d
func (h *Hub) Attach(d dispatcher.Dispatcher) {
	d.SubscribeAll(HandlerName, func(ctx context.Context, evt *event.Event) error {
		h.Publish(evt)
		return nil
	})
}

// Heartbeat returns the keep-alive interval transports should use
func (h *Hub) Heartbeat() time.Duration {
	return h.config.Heartbeat
}

// Register opens a subscription for sessionID. connectionID is the id the
// client was given on an earlier connection, or empty. When it names a live
// connection of the same session, that connection is closed and replaced.
// Unknown or malformed ids get a fresh one.
func (h *Hub) Register(sessionID, connectionID string) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		queue:     make(chan *event.Event, h.config.QueueSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.ID = uuid.NewString()
		sub.close()
		return sub
	}

	var replaced *Subscription
	sub.ID = h.claimID(sessionID, connectionID)
	if old, ok := h.subs[sub.ID]; ok {
		replaced = old
	}
	h.seq++
	sub.seq = h.seq
	h.subs[sub.ID] = sub
	evicted := h.overflow(sessionID)
	h.mu.Unlock()

	if replaced != nil {
		h.end(replaced, "Stream connection replaced")
	}
	for _, old := range evicted {
		h.end(old, "Stream connection evicted")
	}
	h.metrics.ConnectionOpened()
	h.logger.Info("Stream connection opened",
		zap.String("session_id", sessionID),
		zap.String("connection_id", sub.ID),
		zap.Bool("resumed", replaced != nil))
	return sub
}

// claimID returns the id a new connection of sessionID may use. Caller holds h.mu.
func (h *Hub) claimID(sessionID, requested string) string {
	parsed, err := uuid.Parse(requested)
	if err != nil {
		return uuid.NewString()
	}
	id := parsed.String()
	if old, ok := h.subs[id]; ok && old.SessionID != sessionID {
		return uuid.NewString()
	}
	return id
}

// overflow removes the oldest connections of sessionID beyond MaxPerSession
// and returns them. Caller holds h.mu.
func (h *Hub) overflow(sessionID string) []*Subscription {
	var owned []*Subscription
	for _, sub := range h.subs {
		if sub.SessionID == sessionID {
			owned = append(owned, sub)
		}
	}
	if len(owned) <= h.config.MaxPerSession {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq < owned[j].seq })
	evicted := owned[:len(owned)-h.config.MaxPerSession]
	for _, sub := range evicted {
		delete(h.subs, sub.ID)
	}
	return evicted
}

// end closes a subscription the hub already removed from its map
func (h *Hub) end(sub *Subscription, msg string) {
	sub.close()
	h.metrics.ConnectionClosed()
	h.logger.Info(msg,
		zap.String("session_id", sub.SessionID),
		zap.String("connection_id", sub.ID),
		zap.Int64("dropped", sub.Dropped()))
}

// Unregister ends sub. It is safe to call more than once and after the
// subscription was replaced.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	current, ok := h.subs[sub.ID]
	owned := ok && current == sub
	if owned {
		delete(h.subs, sub.ID)
	}
	h.mu.Unlock()

	if owned {
		h.end(sub, "Stream connection closed")
		return
	}
	sub.close()
}

// Publish offers evt to every subscription without blocking
func (h *Hub) Publish(evt *event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.metrics.EventPublished(evt.Type.String())
	for _, sub := range h.subs {
		for n := sub.offer(evt); n > 0; n-- {
			h.metrics.EventDropped()
		}
	}
}

// Count returns the number of open subscriptions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		h.metrics.ConnectionClosed()
	}
}
