package ws_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/havenline/haven/backend/internal/ws"
)

type fakeConn struct {
	mu       sync.Mutex
	payloads []any
	fail     bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.payloads = append(c.payloads, v)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := ws.NewHub()
	a, b := &fakeConn{}, &fakeConn{}

	hub.Join("sess-1", ws.NewSubscriber(a))
	hub.Join("sess-1", ws.NewSubscriber(b))

	hub.Broadcast("sess-1", map[string]string{"type": "new_message"})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", a.count(), b.count())
	}
}

func TestBroadcastScopedToSession(t *testing.T) {
	hub := ws.NewHub()
	joined, other := &fakeConn{}, &fakeConn{}

	hub.Join("sess-1", ws.NewSubscriber(joined))
	hub.Join("sess-2", ws.NewSubscriber(other))

	hub.Broadcast("sess-1", "payload")

	if joined.count() != 1 {
		t.Fatalf("joined deliveries = %d, want 1", joined.count())
	}
	if other.count() != 0 {
		t.Fatalf("other session received %d payloads", other.count())
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := ws.NewHub()
	conn := &fakeConn{}
	sub := ws.NewSubscriber(conn)

	hub.Join("sess-1", sub)
	hub.Leave("sess-1", sub)
	hub.Broadcast("sess-1", "payload")

	if conn.count() != 0 {
		t.Fatalf("deliveries after leave = %d", conn.count())
	}
	if hub.SubscriberCount("sess-1") != 0 {
		t.Fatal("subscriber still registered")
	}
}

func TestFailedWriteDropsSubscriber(t *testing.T) {
	hub := ws.NewHub()
	broken := &fakeConn{fail: true}
	healthy := &fakeConn{}

	hub.Join("sess-1", ws.NewSubscriber(broken))
	hub.Join("sess-1", ws.NewSubscriber(healthy))

	hub.Broadcast("sess-1", "payload")

	if healthy.count() != 1 {
		t.Fatalf("healthy deliveries = %d, want 1", healthy.count())
	}
	if hub.SubscriberCount("sess-1") != 1 {
		t.Fatalf("subscribers = %d, want broken one dropped", hub.SubscriberCount("sess-1"))
	}
}

func TestLeaveAll(t *testing.T) {
	hub := ws.NewHub()
	conn := &fakeConn{}
	sub := ws.NewSubscriber(conn)

	hub.Join("sess-1", sub)
	hub.Join("sess-2", sub)
	hub.LeaveAll(sub)

	if hub.SubscriberCount("sess-1") != 0 || hub.SubscriberCount("sess-2") != 0 {
		t.Fatal("LeaveAll left subscriptions behind")
	}
}
