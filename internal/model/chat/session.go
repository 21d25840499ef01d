package chat

import "time"

// State tracks the session lifecycle. Closed sessions are soft-deleted:
// they reject new messages but their transcript stays readable.
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// DefaultTitle is assigned at creation and replaced by the first
// substantive user message.
const DefaultTitle = "New conversation"

// Context is the rolling conversational context updated after every
// classified message.
type Context struct {
	Locale            string   `json:"locale"`
	LastKnownMood     string   `json:"lastKnownMood,omitempty"`
	AccumulatedTopics []string `json:"accumulatedTopics,omitempty"`
	CurrentRiskLevel  int      `json:"currentRiskLevel"`
}

// Session captures one user's conversation with the assistant. The message
// log is append-only; mutation goes through the session service only.
type Session struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Title    string  `json:"title"`
	State    State   `json:"state"`
	Context  Context `json:"context"`
	Messages []Message `json:"messages"`
	// ProcessedClientIDs maps a client-supplied message id to the log
	// positions of the user/assistant pair it produced, so retried
	// submissions are answered from the log instead of reprocessed.
	ProcessedClientIDs map[string][2]int `json:"processedClientIds,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Clone returns a copy whose message log and context can be mutated
// without aliasing the original.
func (s Session) Clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Context.AccumulatedTopics = append([]string(nil), s.Context.AccumulatedTopics...)
	if s.ProcessedClientIDs != nil {
		out.ProcessedClientIDs = make(map[string][2]int, len(s.ProcessedClientIDs))
		for k, v := range s.ProcessedClientIDs {
			out.ProcessedClientIDs[k] = v
		}
	}
	return out
}
