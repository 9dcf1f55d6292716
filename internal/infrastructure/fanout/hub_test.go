package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMetrics struct {
	mu        sync.Mutex
	published int
	open      int
	dropped   int
}

func (m *countingMetrics) EventPublished(string) { m.mu.Lock(); m.published++; m.mu.Unlock() }
func (m *countingMetrics) ConnectionOpened()     { m.mu.Lock(); m.open++; m.mu.Unlock() }
func (m *countingMetrics) ConnectionClosed()     { m.mu.Lock(); m.open--; m.mu.Unlock() }
func (m *countingMetrics) EventDropped()         { m.mu.Lock(); m.dropped++; m.mu.Unlock() }

func drain(sub *Subscription) []*event.Event {
	var events []*event.Event
	for {
		select {
		case evt := <-sub.Events():
			events = append(events, evt)
		default:
			return events
		}
	}
}

func TestHub_PublishReachesEverySession(t *testing.T) {
	hub := NewHub(Config{}, nil, zap.NewNop())
	a := hub.Register("session-a", "")
	b := hub.Register("session-b", "")

	hub.Publish(event.NewEvent(event.TypeInvoiceCreated, 1))

	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, 15*time.Second, hub.Heartbeat())
}

func TestHub_DropOldestWhenFull(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(Config{QueueSize: 3}, metrics, zap.NewNop())
	sub := hub.Register("s", "")

	for i := int64(1); i <= 5; i++ {
		hub.Publish(event.NewEvent(event.TypeInvoiceUpdated, i))
	}

	events := drain(sub)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{events[0].EntityID, events[1].EntityID, events[2].EntityID})
	assert.Equal(t, int64(2), sub.Dropped())
	assert.Equal(t, 2, metrics.dropped)
	assert.Equal(t, 5, metrics.published)
}

func TestHub_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(Config{QueueSize: 1}, nil, zap.NewNop())
	slow := hub.Register("slow", "")
	fast := hub.Register("fast", "")

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 100; i++ {
			hub.Publish(event.NewEvent(event.TypePaymentRecorded, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	assert.Len(t, drain(fast), 1)
	assert.Equal(t, int64(99), slow.Dropped())
}

func TestHub_SessionHoldsSeveralConnections(t *testing.T) {
	hub := NewHub(Config{}, nil, zap.NewNop())

	a := hub.Register("anonymous", "")
	b := hub.Register("anonymous", "")
	require.NotEqual(t, a.ID, b.ID)

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
			t.Fatalf("connection %s was closed", sub.ID)
		default:
		}
	}
	assert.Equal(t, 2, hub.Count())

	hub.Publish(event.NewEvent(event.TypeInvoiceUpdated, 7))
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestHub_ReconnectReplacesConnection(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(Config{}, metrics, zap.NewNop())

	first := hub.Register("s", "")
	other := hub.Register("s", "")
	second := hub.Register("s", first.ID)

	assert.Equal(t, first.ID, second.ID)
	select {
	case <-first.Done():
	default:
		t.Fatal("replaced subscription was not closed")
	}
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, 2, metrics.open)

	hub.Publish(event.NewEvent(event.TypeClientUpdated, 9))
	assert.Empty(t, drain(first))
	assert.Len(t, drain(second), 1)
	assert.Len(t, drain(other), 1)

	// the stale connection's deferred cleanup must not remove the new one
	hub.Unregister(first)
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, 2, metrics.open)

	hub.Unregister(second)
	hub.Unregister(second)
	hub.Unregister(other)
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0, metrics.open)
}

func TestHub_ConnectionIDBelongsToItsSession(t *testing.T) {
	hub := NewHub(Config{}, nil, zap.NewNop())
	alice := hub.Register("alice", "")

	tests := []struct {
		name      string
		requested string
	}{
		{"another session's id", alice.ID},
		{"malformed id", "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := hub.Register("mallory", tt.requested)
			defer hub.Unregister(sub)

			assert.NotEqual(t, alice.ID, sub.ID)
			assert.NotEqual(t, tt.requested, sub.ID)
			select {
			case <-alice.Done():
				t.Fatal("a foreign session closed alice's connection")
			default:
			}
		})
	}
}

func TestHub_MaxPerSessionEvictsOldest(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(Config{MaxPerSession: 2}, metrics, zap.NewNop())

	oldest := hub.Register("s", "")
	middle := hub.Register("s", "")
	bystander := hub.Register("t", "")
	newest := hub.Register("s", "")

	select {
	case <-oldest.Done():
	default:
		t.Fatal("oldest connection was not evicted")
	}
	for _, sub := range []*Subscription{middle, newest, bystander} {
		select {
		case <-sub.Done():
			t.Fatalf("connection %s closed", sub.ID)
		default:
		}
	}
	assert.Equal(t, 3, hub.Count())
	assert.Equal(t, 3, metrics.open)

	hub.Unregister(oldest)
	assert.Equal(t, 3, metrics.open)
}

func TestHub_AttachAndClose(t *testing.T) {
	hub := NewHub(Config{}, nil, zap.NewNop())
	d := dispatcher.NewDispatcher()
	hub.Attach(d)

	sub := hub.Register("s", "")
	d.Publish(context.Background(), event.NewEvent(event.TypeScheduleRun, 4).WithInvoice(12))

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeScheduleRun, events[0].Type)
	assert.Equal(t, int64(12), events[0].InvoiceID)

	hub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("Close did not end subscriptions")
	}

	late := hub.Register("late", "")
	select {
	case <-late.Done():
	default:
		t.Fatal("Register after Close should return a closed subscription")
	}
	assert.Equal(t, 0, hub.Count())
}
