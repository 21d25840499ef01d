// Package ai wraps the language-model collaborator. It produces a reply
// plus analysis metadata; every transport, timeout or decode failure
// surfaces as ErrUnavailable so callers can apply the fallback policy.
// Crisis detection never depends on this package.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/havenline/haven/backend/internal/config"
	"github.com/havenline/haven/backend/internal/model/chat"
)

// ErrUnavailable reports that the collaborator could not produce a reply.
var ErrUnavailable = errors.New("ai collaborator unavailable")

// Metadata is the structured analysis attached to a generated reply. It is
// tagged at this boundary: Parsed marks whether it came out of the model's
// JSON trailer or from the local heuristic fallback.
type Metadata struct {
	Sentiment string   `json:"sentiment"`
	Keywords  []string `json:"keywords,omitempty"`
	Intent    string   `json:"intent,omitempty"`
	Parsed    bool     `json:"-"`
}

// Reply is one generated assistant turn.
type Reply struct {
	Text       string
	Metadata   Metadata
	Confidence float64
}

// Request carries the utterance and conversational context for generation.
type Request struct {
	SessionID string
	Locale    string
	Utterance string
	Context   chat.Context
	History   []chat.Message
}

// Generator is the surface the orchestrator consumes; the orchestrator is
// tested against a fake implementation.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Reply, error)
}

const defaultTimeout = 20 * time.Second

// Service is the ark-backed Generator.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	timeout   time.Duration
}

// NewService compiles the prompt-template → chat-model chain once.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		timeout:   timeout,
	}, nil
}

// Generate runs the chain under a bounded timeout and splits the metadata
// trailer from the reply text.
func (s *Service) Generate(ctx context.Context, req *Request) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := map[string]any{
		"system":  buildSystemPrompt(req.Locale, req.Context),
		"history": buildHistoryMessages(req.History),
		"query":   req.Utterance,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text, meta := splitMetadata(response.Content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrUnavailable)
	}

	reply := &Reply{
		Text:       text,
		Metadata:   meta,
		Confidence: scoreConfidence(text),
	}
	log.Printf("[ai] generated reply session=%s length=%d parsed=%t", req.SessionID, len(text), meta.Parsed)
	return reply, nil
}

const historyLimit = 10

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
