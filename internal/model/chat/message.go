package chat

import "time"

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Kind distinguishes typed messages from transcribed voice input.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// ValidKind reports whether k is a kind the orchestrator accepts.
func ValidKind(k Kind) bool {
	return k == KindText || k == KindVoice
}

// Metadata carries the per-message analysis attached at processing time.
type Metadata struct {
	Sentiment        string   `json:"sentiment,omitempty"`
	RiskContribution int      `json:"riskContribution,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
}

// Message is a single conversation turn. Immutable once appended; its
// identity within a session is its position in the message log.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
