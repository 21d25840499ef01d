package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/havenline/haven/backend/internal/model/chat"
	crisismodel "github.com/havenline/haven/backend/internal/model/crisis"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/service/ai"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	"github.com/havenline/haven/backend/internal/service/session"
	"github.com/havenline/haven/backend/internal/storage/memory"
)

// fakeGenerator is a deterministic stand-in for the AI collaborator.
type fakeGenerator struct {
	mu    sync.Mutex
	fail  bool
	calls int
	reply ai.Reply
}

func (f *fakeGenerator) Generate(_ context.Context, _ *ai.Request) (*ai.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls += 1
	if f.fail {
		return nil, fmt.Errorf("%w: injected failure", ai.ErrUnavailable)
	}
	reply := f.reply
	return &reply, nil
}

func okReply() ai.Reply {
	return ai.Reply{
		Text: "That sounds like a lot. I'm here with you.",
		Metadata: ai.Metadata{
			Sentiment: ai.SentimentNeutral,
			Keywords:  []string{"work"},
			Intent:    "vent",
			Parsed:    true,
		},
		Confidence: 0.7,
	}
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Service
	docs     *memory.Store
	gen      *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := memory.NewStore()
	sessions := session.NewService(docs, "en")
	manager := crisisservice.NewManager(docs, resource.NewMemoryStore(resource.Seed()), nil)
	gen := &fakeGenerator{reply: okReply()}
	return &fixture{
		orch:     orchestrator.New(sessions, gen, manager, 0),
		sessions: sessions,
		docs:     docs,
		gen:      gen,
	}
}

func (f *fixture) newSession(t *testing.T, user, locale string) chat.Session {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), user, locale)
	if err != nil {
		t.Fatalf("Create session err: %v", err)
	}
	return sess
}

func TestHandleMessageHappyPath(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")

	out, err := f.orch.HandleMessage(context.Background(), orchestrator.Inbound{
		SessionID: sess.ID,
		UserID:    "user-1",
		Content:   "I had a pretty good day",
	})
	if err != nil {
		t.Fatalf("HandleMessage err: %v", err)
	}

	if out.UserMessage.Sender != chat.SenderUser || out.BotMessage.Sender != chat.SenderAssistant {
		t.Fatalf("unexpected pair: %+v / %+v", out.UserMessage, out.BotMessage)
	}
	if out.Crisis != nil {
		t.Fatal("no alert expected for risk 0")
	}
	if got := out.BotMessage.Metadata.Sentiment; got != ai.SentimentPositive && got != ai.SentimentNeutral {
		t.Fatalf("bot sentiment = %q, want positive or neutral", got)
	}
	if out.Context.CurrentRiskLevel != 0 {
		t.Fatalf("risk = %d, want 0", out.Context.CurrentRiskLevel)
	}
	if out.Context.AccumulatedTopics[0] != "work" {
		t.Fatalf("topics = %v", out.Context.AccumulatedTopics)
	}

	loaded, _ := f.sessions.Load(context.Background(), sess.ID, "user-1")
	if len(loaded.Messages) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(loaded.Messages))
	}
	if loaded.Title == chat.DefaultTitle {
		t.Fatal("title should derive from the first substantive message")
	}
}

func TestHandleMessageCrisisEscalation(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")

	out, err := f.orch.HandleMessage(context.Background(), orchestrator.Inbound{
		SessionID: sess.ID,
		UserID:    "user-1",
		Content:   "I want to kill myself",
	})
	if err != nil {
		t.Fatalf("HandleMessage err: %v", err)
	}

	if out.Crisis == nil {
		t.Fatal("expected crisis payload for risk 5")
	}
	if out.Crisis.Alert.Severity != crisismodel.SeverityCritical {
		t.Fatalf("severity = %s, want critical", out.Crisis.Alert.Severity)
	}
	if len(out.Crisis.EmergencyContacts) == 0 {
		t.Fatal("expected non-empty emergency contacts")
	}
	if out.Crisis.EmergencyContacts[0].Kind != resource.KindHotline {
		t.Fatalf("top contact kind = %s, want hotline", out.Crisis.EmergencyContacts[0].Kind)
	}
	if out.Context.CurrentRiskLevel != 5 {
		t.Fatalf("context risk = %d, want 5", out.Context.CurrentRiskLevel)
	}
	if out.UserMessage.Metadata.RiskContribution != 5 {
		t.Fatalf("riskContribution = %d, want 5", out.UserMessage.Metadata.RiskContribution)
	}
}

func TestHandleMessageAIFallback(t *testing.T) {
	f := newFixture(t)
	f.gen.fail = true
	sess := f.newSession(t, "user-1", "en")

	out, err := f.orch.HandleMessage(context.Background(), orchestrator.Inbound{
		SessionID: sess.ID,
		UserID:    "user-1",
		Content:   "rough week at work",
	})
	if err != nil {
		t.Fatalf("ai failure must be recovered, got err: %v", err)
	}

	if out.BotMessage.Content != resource.FallbackReply("en") {
		t.Fatalf("bot content = %q, want locale fallback", out.BotMessage.Content)
	}
	if out.BotMessage.Metadata.Sentiment != ai.SentimentNeutral {
		t.Fatalf("sentiment = %q, want neutral", out.BotMessage.Metadata.Sentiment)
	}
	if out.BotMessage.Metadata.Confidence >= 0.5 {
		t.Fatalf("confidence = %f, want < 0.5", out.BotMessage.Metadata.Confidence)
	}
}

// Crisis handling must survive AI unavailability: the alert still fires and
// the fallback reply carries the crisis payload.
func TestCrisisEscalationSurvivesAIFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.fail = true
	sess := f.newSession(t, "user-1", "en")

	out, err := f.orch.HandleMessage(context.Background(), orchestrator.Inbound{
		SessionID: sess.ID,
		UserID:    "user-1",
		Content:   "I want to end my life",
	})
	if err != nil {
		t.Fatalf("HandleMessage err: %v", err)
	}
	if out.Crisis == nil || out.Crisis.Alert.Severity != crisismodel.SeverityCritical {
		t.Fatalf("crisis payload missing or wrong: %+v", out.Crisis)
	}
	if out.BotMessage.Content != resource.FallbackReply("en") {
		t.Fatal("expected fallback reply alongside the alert")
	}
}

func TestHandleMessageValidation(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")

	cases := []orchestrator.Inbound{
		{SessionID: sess.ID, UserID: "user-1", Content: ""},
		{SessionID: sess.ID, UserID: "user-1", Content: "   \n "},
		{SessionID: sess.ID, UserID: "user-1", Content: strings.Repeat("x", orchestrator.DefaultMaxContentLen+1)},
		{SessionID: sess.ID, UserID: "user-1", Content: "hello", Kind: chat.Kind("video")},
	}
	for i, in := range cases {
		if _, err := f.orch.HandleMessage(context.Background(), in); !errors.Is(err, orchestrator.ErrValidation) {
			t.Fatalf("case %d: err = %v, want ErrValidation", i, err)
		}
	}

	loaded, _ := f.sessions.Load(context.Background(), sess.ID, "user-1")
	if len(loaded.Messages) != 0 {
		t.Fatal("rejected input must not change state")
	}
}

func TestHandleMessageOwnershipAndLifecycle(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")
	ctx := context.Background()

	if _, err := f.orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: sess.ID, UserID: "intruder", Content: "hello",
	}); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	if _, err := f.orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: "missing", UserID: "user-1", Content: "hello",
	}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if _, err := f.sessions.Close(ctx, sess.ID, "user-1"); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if _, err := f.orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: sess.ID, UserID: "user-1", Content: "hello",
	}); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestResubmittedClientMessageIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")
	ctx := context.Background()

	in := orchestrator.Inbound{
		SessionID:       sess.ID,
		UserID:          "user-1",
		Content:         "I want to kill myself",
		ClientMessageID: "client-42",
	}

	first, err := f.orch.HandleMessage(ctx, in)
	if err != nil {
		t.Fatalf("first submit err: %v", err)
	}
	if first.Crisis == nil {
		t.Fatal("first submit must escalate")
	}

	second, err := f.orch.HandleMessage(ctx, in)
	if err != nil {
		t.Fatalf("resubmit err: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("resubmit must be flagged duplicate")
	}
	if second.UserMessage.ID != first.UserMessage.ID || second.BotMessage.ID != first.BotMessage.ID {
		t.Fatal("resubmit must return the original pair")
	}

	loaded, _ := f.sessions.Load(ctx, sess.ID, "user-1")
	if len(loaded.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (no second pair)", len(loaded.Messages))
	}

	alerts, _ := f.docs.List(ctx, "alert/")
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(alerts))
	}
}

func TestConcurrentSendsKeepPairsContiguous(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "en")
	ctx := context.Background()

	const senders = 6
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.orch.HandleMessage(ctx, orchestrator.Inbound{
				SessionID: sess.ID,
				UserID:    "user-1",
				Content:   fmt.Sprintf("message number %d", n),
			})
			if err != nil {
				t.Errorf("sender %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	loaded, _ := f.sessions.Load(ctx, sess.ID, "user-1")
	if len(loaded.Messages) != senders*2 {
		t.Fatalf("messages = %d, want %d", len(loaded.Messages), senders*2)
	}
	for i := 0; i < len(loaded.Messages); i += 2 {
		if loaded.Messages[i].Sender != chat.SenderUser || loaded.Messages[i+1].Sender != chat.SenderAssistant {
			t.Fatalf("pair broken at position %d", i)
		}
	}
}

// barrierGenerator holds every caller until all expected pipelines have
// reached the AI step, forcing their session loads to overlap.
type barrierGenerator struct {
	ready *sync.WaitGroup
}

func (g *barrierGenerator) Generate(_ context.Context, _ *ai.Request) (*ai.Reply, error) {
	g.ready.Done()
	g.ready.Wait()
	reply := okReply()
	return &reply, nil
}

func TestConcurrentCrisisMessagesEachCreateAlert(t *testing.T) {
	docs := memory.NewStore()
	sessions := session.NewService(docs, "en")
	manager := crisisservice.NewManager(docs, resource.NewMemoryStore(resource.Seed()), nil)
	var ready sync.WaitGroup
	ready.Add(2)
	orch := orchestrator.New(sessions, &barrierGenerator{ready: &ready}, manager, 0)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, "user-1", "en")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	contents := []string{"I want to kill myself", "I am going to end it all"}
	outcomes := make([]*orchestrator.Outcome, len(contents))
	errs := make([]error, len(contents))
	var wg sync.WaitGroup
	for i, content := range contents {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			outcomes[i], errs[i] = orch.HandleMessage(ctx, orchestrator.Inbound{
				SessionID: sess.ID,
				UserID:    "user-1",
				Content:   content,
			})
		}(i, content)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d err: %v", i, err)
		}
		if outcomes[i].Crisis == nil {
			t.Fatalf("send %d: expected crisis payload", i)
		}
		if outcomes[i].Crisis.Alert.TriggerText != contents[i] {
			t.Fatalf("send %d: alert trigger = %q, want %q",
				i, outcomes[i].Crisis.Alert.TriggerText, contents[i])
		}
	}
	if outcomes[0].Crisis.Alert.ID == outcomes[1].Crisis.Alert.ID {
		t.Fatal("concurrent crisis messages must not share one alert")
	}

	alerts, err := docs.List(ctx, "alert/")
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2: two distinct crisis messages must each create an alert", len(alerts))
	}
}

func TestDeriveTitleKeepsUTF8Intact(t *testing.T) {
	f := newFixture(t)
	sess := f.newSession(t, "user-1", "es")
	ctx := context.Background()

	// 81 bytes; a byte-offset cut would land mid-rune.
	content := "a" + strings.Repeat("á", 40)
	if _, err := f.orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: sess.ID, UserID: "user-1", Content: content,
	}); err != nil {
		t.Fatalf("HandleMessage err: %v", err)
	}

	loaded, err := f.sessions.Load(ctx, sess.ID, "user-1")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !utf8.ValidString(loaded.Title) {
		t.Fatalf("title is not valid UTF-8: %q", loaded.Title)
	}
	if !strings.HasSuffix(loaded.Title, "…") {
		t.Fatalf("long title should be truncated with an ellipsis: %q", loaded.Title)
	}
}

// failingStore wraps the memory store and fails alert writes, simulating a
// persistence outage on the escalation path.
type failingStore struct {
	*memory.Store
}

func (f *failingStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if strings.HasPrefix(key, "alert/") {
		return false, errors.New("disk full")
	}
	return f.Store.PutIfAbsent(ctx, key, value)
}

func TestEscalationPersistenceFailureIsFatal(t *testing.T) {
	docs := &failingStore{Store: memory.NewStore()}
	sessions := session.NewService(docs, "en")
	manager := crisisservice.NewManager(docs, resource.NewMemoryStore(resource.Seed()), nil)
	orch := orchestrator.New(sessions, &fakeGenerator{reply: okReply()}, manager, 0)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, "user-1", "en")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	_, err = orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: sess.ID,
		UserID:    "user-1",
		Content:   "I want to kill myself",
	})
	if !errors.Is(err, crisisservice.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence surfaced, not a calm reply", err)
	}

	loaded, _ := sessions.Load(ctx, sess.ID, "user-1")
	if len(loaded.Messages) != 0 {
		t.Fatal("no messages may be appended when the alert failed to save")
	}
}

func TestNilGeneratorAlwaysFallsBack(t *testing.T) {
	docs := memory.NewStore()
	sessions := session.NewService(docs, "en")
	manager := crisisservice.NewManager(docs, resource.NewMemoryStore(resource.Seed()), nil)
	orch := orchestrator.New(sessions, nil, manager, 0)
	ctx := context.Background()

	sess, _ := sessions.Create(ctx, "user-1", "es")
	out, err := orch.HandleMessage(ctx, orchestrator.Inbound{
		SessionID: sess.ID, UserID: "user-1", Content: "hola",
	})
	if err != nil {
		t.Fatalf("HandleMessage err: %v", err)
	}
	if out.BotMessage.Content != resource.FallbackReply("es") {
		t.Fatalf("bot content = %q, want spanish fallback", out.BotMessage.Content)
	}
}
