package ai

import (
	"fmt"
	"strings"

	"github.com/havenline/haven/backend/internal/model/chat"
)

const basePrompt = `You are a warm, attentive mental-health support companion. Listen first,
validate the user's feelings, and never diagnose or prescribe. Keep replies
short and conversational. If the user mentions wanting to hurt themselves,
gently point them at the crisis resources shown beside this chat; do not
lecture.

After your reply, append exactly one fenced json block with your read of the
user's message, shaped as:
{"sentiment": "positive|neutral|negative", "keywords": ["..."], "intent": "..."}`

// buildSystemPrompt folds the rolling session context into the base prompt
// so the model tracks mood and topics across turns.
func buildSystemPrompt(locale string, sessCtx chat.Context) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if locale != "" {
		b.WriteString(fmt.Sprintf("\n\nRespond in the user's language (locale %s).", locale))
	}
	if sessCtx.LastKnownMood != "" {
		b.WriteString(fmt.Sprintf("\nThe user's last known mood was %s.", sessCtx.LastKnownMood))
	}
	if len(sessCtx.AccumulatedTopics) > 0 {
		b.WriteString("\nTopics raised so far: ")
		b.WriteString(strings.Join(sessCtx.AccumulatedTopics, ", "))
		b.WriteString(".")
	}
	if sessCtx.CurrentRiskLevel >= 3 {
		b.WriteString("\nThe user may be in distress; prioritise safety and warmth over problem-solving.")
	}
	return b.String()
}
