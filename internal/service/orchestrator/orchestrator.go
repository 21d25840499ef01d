// Package orchestrator runs the per-message pipeline shared by the HTTP
// and websocket channels: validate, classify, generate (with fallback),
// escalate when risk crosses the threshold, then append both turns in a
// single session mutation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	analysis "github.com/havenline/haven/backend/internal/analysis/crisis"
	"github.com/havenline/haven/backend/internal/model/chat"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/service/ai"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/internal/service/session"
)

// EscalationThreshold is the risk level at which a message must produce a
// crisis alert. Deliberately a constant, not configuration.
const EscalationThreshold = 3

// ErrValidation rejects malformed input before any state change.
var ErrValidation = errors.New("invalid message")

// DefaultMaxContentLen bounds utterance size when no override is configured.
const DefaultMaxContentLen = 4000

// Inbound is one user utterance from either channel.
type Inbound struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"-"`
	Content         string    `json:"content"`
	Kind            chat.Kind `json:"kind"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

// Outcome is the processed pair plus delivery extras.
type Outcome struct {
	UserMessage chat.Message              `json:"userMessage"`
	BotMessage  chat.Message              `json:"botMessage"`
	Context     chat.Context              `json:"sessionContext"`
	Crisis      *crisisservice.Escalation `json:"crisis,omitempty"`
	Duplicate   bool                      `json:"duplicate,omitempty"`
}

// Orchestrator composes the classifier, AI adapter, escalation manager and
// session store.
type Orchestrator struct {
	sessions    *session.Service
	generator   ai.Generator
	escalations *crisisservice.Manager
	maxLen      int
}

// New wires an orchestrator. generator may be nil when the AI collaborator
// is not configured; every reply then uses the fallback policy.
func New(sessions *session.Service, generator ai.Generator, escalations *crisisservice.Manager, maxContentLen int) *Orchestrator {
	if maxContentLen <= 0 {
		maxContentLen = DefaultMaxContentLen
	}
	return &Orchestrator{
		sessions:    sessions,
		generator:   generator,
		escalations: escalations,
		maxLen:      maxContentLen,
	}
}

// HandleMessage runs the full pipeline for one inbound utterance. The
// session mutation lock is held only for the final append; the AI call and
// escalation happen before it.
func (o *Orchestrator) HandleMessage(ctx context.Context, in Inbound) (*Outcome, error) {
	if err := o.validate(&in); err != nil {
		return nil, err
	}

	sess, err := o.sessions.Load(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}
	if sess.State != chat.StateActive {
		return nil, session.ErrClosed
	}

	// Fast path for retried submissions: answer from the log.
	if in.ClientMessageID != "" {
		if pair, ok := sess.ProcessedClientIDs[in.ClientMessageID]; ok {
			return duplicateOutcome(sess, pair), nil
		}
	}

	locale := sess.Context.Locale
	assessment := analysis.Classify(in.Content, locale)

	reply := o.generate(ctx, &sess, in)

	// The user message id is allocated before escalation so the alert's
	// idempotency key names this exact message; a log position here could
	// be claimed by a concurrent send and swallow one of two alerts.
	userMsgID := uuid.NewString()

	var escalation *crisisservice.Escalation
	if assessment.RiskLevel >= EscalationThreshold {
		escalation, err = o.escalations.Escalate(ctx, crisisservice.EscalationRequest{
			UserID:      in.UserID,
			SessionID:   in.SessionID,
			MessageKey:  messageKey(in, userMsgID),
			TriggerText: in.Content,
			RiskLevel:   assessment.RiskLevel,
			Signals:     assessment.Signals,
			Locale:      locale,
		})
		if err != nil {
			// A reply without its alert would be unsafe; fail the request.
			return nil, fmt.Errorf("escalation failed: %w", err)
		}
	}

	now := time.Now().UTC()
	userMsg := chat.Message{
		ID:        userMsgID,
		SessionID: in.SessionID,
		Sender:    chat.SenderUser,
		Content:   in.Content,
		Kind:      in.Kind,
		Metadata: &chat.Metadata{
			Sentiment:        reply.Metadata.Sentiment,
			RiskContribution: assessment.RiskLevel,
			Keywords:         reply.Metadata.Keywords,
		},
		CreatedAt: now,
	}
	botMsg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		Sender:    chat.SenderAssistant,
		Content:   reply.Text,
		Kind:      chat.KindText,
		Metadata: &chat.Metadata{
			Sentiment:  reply.Metadata.Sentiment,
			Confidence: reply.Confidence,
		},
		CreatedAt: now,
	}

	var duplicatePair [2]int
	duplicate := false

	updated, err := o.sessions.AppendAndSave(ctx, in.SessionID, in.UserID, func(cur chat.Session) (chat.Session, error) {
		// Re-check under the lock: a concurrent submission with the same
		// client id may have won the race since the fast path.
		if in.ClientMessageID != "" {
			if pair, ok := cur.ProcessedClientIDs[in.ClientMessageID]; ok {
				duplicate = true
				duplicatePair = pair
				return cur, nil
			}
		}

		userPos := len(cur.Messages)
		cur.Messages = append(cur.Messages, userMsg, botMsg)

		cur.Context.CurrentRiskLevel = assessment.RiskLevel
		if reply.Metadata.Sentiment != "" {
			cur.Context.LastKnownMood = reply.Metadata.Sentiment
		}
		cur.Context.AccumulatedTopics = mergeTopics(cur.Context.AccumulatedTopics, reply.Metadata.Keywords)
		if cur.Title == chat.DefaultTitle || cur.Title == "" {
			cur.Title = deriveTitle(in.Content)
		}

		if in.ClientMessageID != "" {
			if cur.ProcessedClientIDs == nil {
				cur.ProcessedClientIDs = make(map[string][2]int)
			}
			cur.ProcessedClientIDs[in.ClientMessageID] = [2]int{userPos, userPos + 1}
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		return duplicateOutcome(updated, duplicatePair), nil
	}

	count := len(updated.Messages)
	out := &Outcome{
		UserMessage: updated.Messages[count-2],
		BotMessage:  updated.Messages[count-1],
		Context:     updated.Context,
		Crisis:      escalation,
	}
	log.Printf("[orchestrator] processed session=%s risk=%d escalated=%t fallback=%t",
		in.SessionID, assessment.RiskLevel, escalation != nil, !reply.Metadata.Parsed && reply.Confidence == ai.FallbackConfidence)
	return out, nil
}

// generate asks the collaborator for a reply and applies the fallback
// policy on any failure. AI trouble is a recovered condition, never fatal.
func (o *Orchestrator) generate(ctx context.Context, sess *chat.Session, in Inbound) *ai.Reply {
	if o.generator != nil {
		reply, err := o.generator.Generate(ctx, &ai.Request{
			SessionID: in.SessionID,
			Locale:    sess.Context.Locale,
			Utterance: in.Content,
			Context:   sess.Context,
			History:   sess.Messages,
		})
		if err == nil {
			return reply
		}
		log.Printf("[orchestrator] ai unavailable session=%s: %v", in.SessionID, err)
	}

	return &ai.Reply{
		Text:       resource.FallbackReply(sess.Context.Locale),
		Metadata:   ai.NeutralMetadata(),
		Confidence: ai.FallbackConfidence,
	}
}

func (o *Orchestrator) validate(in *Inbound) error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(in.Content) > o.maxLen {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, o.maxLen)
	}
	if in.Kind == "" {
		in.Kind = chat.KindText
	}
	if !chat.ValidKind(in.Kind) {
		return fmt.Errorf("%w: unsupported kind %q", ErrValidation, in.Kind)
	}
	return nil
}

// messageKey identifies the triggering message for escalation idempotence:
// the client id when supplied (retries reuse it), otherwise the freshly
// allocated user-message id.
func messageKey(in Inbound, userMessageID string) string {
	if in.ClientMessageID != "" {
		return in.ClientMessageID
	}
	return userMessageID
}

func duplicateOutcome(sess chat.Session, pair [2]int) *Outcome {
	out := &Outcome{Context: sess.Context, Duplicate: true}
	if pair[0] < len(sess.Messages) {
		out.UserMessage = sess.Messages[pair[0]]
	}
	if pair[1] < len(sess.Messages) {
		out.BotMessage = sess.Messages[pair[1]]
	}
	return out
}

func mergeTopics(topics, keywords []string) []string {
	if len(keywords) == 0 {
		return topics
	}
	seen := make(map[string]struct{}, len(topics)+len(keywords))
	for _, t := range topics {
		seen[t] = struct{}{}
	}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			topics = append(topics, k)
		}
	}
	return topics
}

const titleLimit = 48

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if len(title) > titleLimit {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := titleLimit
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut]) + "…"
	}
	return title
}
