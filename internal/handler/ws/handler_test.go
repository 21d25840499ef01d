package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	chatmodel "github.com/havenline/haven/backend/internal/model/chat"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/service/ai"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	"github.com/havenline/haven/backend/internal/service/session"
	"github.com/havenline/haven/backend/internal/storage/memory"
	wshub "github.com/havenline/haven/backend/internal/ws"
)

type fakeConn struct {
	mu     sync.Mutex
	events []outgoingEvent
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event, ok := v.(outgoingEvent); ok {
		c.events = append(c.events, event)
	}
	return nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type fakeGenerator struct{}

func (g *fakeGenerator) Generate(_ context.Context, _ *ai.Request) (*ai.Reply, error) {
	return &ai.Reply{
		Text:       "I'm listening.",
		Metadata:   ai.Metadata{Sentiment: "neutral", Parsed: true},
		Confidence: 0.7,
	}, nil
}

type fixture struct {
	handler  *Handler
	sessions *session.Service
	hub      *wshub.Hub
}

func setup(t *testing.T) *fixture {
	t.Helper()
	docs := memory.NewStore()
	sessions := session.NewService(docs, "en")
	resources := resource.NewMemoryStore(resource.Seed())
	manager := crisisservice.NewManager(docs, resources, nil)
	orch := orchestrator.New(sessions, &fakeGenerator{}, manager, 0)
	hub := wshub.NewHub()
	return &fixture{handler: New(orch, sessions, hub), sessions: sessions, hub: hub}
}

func (f *fixture) connect(userID string) (*connContext, *fakeConn) {
	conn := &fakeConn{}
	return &connContext{
		userID: userID,
		sub:    wshub.NewSubscriber(conn),
		joined: make(map[string]bool),
	}, conn
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestJoinOwnSession(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-1")

	if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := conn.types(); len(got) != 1 || got[0] != "joined" {
		t.Fatalf("expected joined ack, got %v", got)
	}
	if f.hub.SubscriberCount(sess.ID) != 1 {
		t.Fatal("expected subscriber registered with hub")
	}
}

func TestJoinForeignSessionRejected(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-2")

	if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := conn.types(); len(got) != 1 || got[0] != "error" {
		t.Fatalf("expected error event, got %v", got)
	}
	if f.hub.SubscriberCount(sess.ID) != 0 {
		t.Fatal("foreign user must not be subscribed")
	}
}

func TestSendMessageBroadcastsPair(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-1")
	if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("join: %v", err)
	}

	err = f.handler.handleSendMessage(context.Background(), state, payload(t, sendMessagePayload{
		SessionID: sess.ID,
		Content:   "Work has been exhausting lately",
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got := conn.types()
	if len(got) != 3 || got[1] != "new_message" || got[2] != "new_message" {
		t.Fatalf("expected joined + two new_message events, got %v", got)
	}
}

func TestSendMessageCrisisOrdering(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-1")
	if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("join: %v", err)
	}

	err = f.handler.handleSendMessage(context.Background(), state, payload(t, sendMessagePayload{
		SessionID: sess.ID,
		Content:   "I want to kill myself",
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got := conn.types()
	want := []string{"joined", "new_message", "crisis_resources", "new_message"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestSendMessageReachesOtherSubscribers(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	sender, _ := f.connect("user-1")
	watcher, watcherConn := f.connect("user-1")
	for _, state := range []*connContext{sender, watcher} {
		if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	err = f.handler.handleSendMessage(context.Background(), sender, payload(t, sendMessagePayload{
		SessionID: sess.ID,
		Content:   "hello there",
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got := watcherConn.types()
	if len(got) != 3 || got[1] != "new_message" || got[2] != "new_message" {
		t.Fatalf("watcher should receive both messages, got %v", got)
	}
}

func TestDuplicateSendAnswersSenderOnly(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	sender, _ := f.connect("user-1")
	watcher, watcherConn := f.connect("user-1")
	for _, state := range []*connContext{sender, watcher} {
		if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	msg := sendMessagePayload{SessionID: sess.ID, Content: "hello", ClientMessageID: "dup-1"}
	if err := f.handler.handleSendMessage(context.Background(), sender, payload(t, msg)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	before := len(watcherConn.types())
	if err := f.handler.handleSendMessage(context.Background(), sender, payload(t, msg)); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if after := len(watcherConn.types()); after != before {
		t.Fatalf("duplicate send must not re-broadcast: %d -> %d events", before, after)
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-1")
	if err := f.handler.handleJoin(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.handler.handleLeave(context.Background(), state, payload(t, joinPayload{SessionID: sess.ID})); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.hub.SubscriberCount(sess.ID) != 0 {
		t.Fatal("expected subscriber removed from hub")
	}
	if got := conn.types(); got[len(got)-1] != "left" {
		t.Fatalf("expected left ack, got %v", got)
	}
}

func TestSendMessageValidationError(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), "user-1", "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state, conn := f.connect("user-1")

	sendErr := f.handler.handleSendMessage(context.Background(), state, payload(t, sendMessagePayload{
		SessionID: sess.ID,
		Content:   "   ",
		Kind:      string(chatmodel.KindText),
	}))
	if sendErr == nil {
		t.Fatal("expected validation error")
	}
	got := conn.types()
	if len(got) != 1 || got[0] != "error" {
		t.Fatalf("expected error event, got %v", got)
	}
}
