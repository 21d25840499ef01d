package ai

import (
	"encoding/json"
	"strings"
)

// Sentiment values used in metadata records.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// NeutralMetadata is the record substituted alongside the fallback reply.
func NeutralMetadata() Metadata {
	return Metadata{Sentiment: SentimentNeutral}
}

// FallbackConfidence is attached to fallback replies; deliberately below
// any confidence a generated reply can score.
const FallbackConfidence = 0.2

// splitMetadata separates the reply text from the model's fenced JSON
// trailer. The decision between parsed and fallback metadata is made here,
// once; downstream code only looks at the Parsed tag.
func splitMetadata(content string) (string, Metadata) {
	text, raw := extractTrailer(content)

	if raw != "" {
		var parsed struct {
			Sentiment string   `json:"sentiment"`
			Keywords  []string `json:"keywords"`
			Intent    string   `json:"intent"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && validSentiment(parsed.Sentiment) {
			return text, Metadata{
				Sentiment: parsed.Sentiment,
				Keywords:  parsed.Keywords,
				Intent:    parsed.Intent,
				Parsed:    true,
			}
		}
	}

	return text, heuristicMetadata(text)
}

// extractTrailer strips the last ```json fenced block, returning the
// remaining reply text and the raw block body.
func extractTrailer(content string) (string, string) {
	trimmed := strings.TrimSpace(content)

	start := strings.LastIndex(trimmed, "```json")
	if start < 0 {
		start = strings.LastIndex(trimmed, "```")
	}
	if start < 0 {
		return trimmed, ""
	}

	body := trimmed[start:]
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	end := strings.Index(body, "```")
	if end >= 0 {
		body = body[:end]
	}

	return strings.TrimSpace(trimmed[:start]), strings.TrimSpace(body)
}

var sentimentBuckets = map[string][]string{
	SentimentPositive: {
		"glad", "happy", "proud", "hopeful", "wonderful", "great", "thank you",
		"better", "good to hear", "well done",
	},
	SentimentNegative: {
		"sorry", "hard", "difficult", "painful", "struggling", "heavy",
		"overwhelming", "scary", "lonely", "worried",
	},
}

// heuristicMetadata scans the reply for sentiment keywords when the model
// returned no usable trailer.
func heuristicMetadata(text string) Metadata {
	normalized := strings.ToLower(text)

	scores := make(map[string]int)
	for sentiment, words := range sentimentBuckets {
		for _, word := range words {
			if strings.Contains(normalized, word) {
				scores[sentiment]++
			}
		}
	}

	best := SentimentNeutral
	bestScore := 0
	for sentiment, score := range scores {
		if score > bestScore {
			best = sentiment
			bestScore = score
		}
	}
	return Metadata{Sentiment: best}
}

func validSentiment(s string) bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}

var resourceMarkers = []string{"988", "741741", "hotline", "helpline", "crisis line", "breathing exercise"}

var empatheticMarkers = []string{
	"i hear you", "i'm here", "im here", "that sounds", "you're not alone",
	"you are not alone", "thank you for sharing", "it makes sense",
}

// scoreConfidence derives auxiliary confidence from reply length, resource
// references and empathetic markers. Monotonic in each input; never used to
// gate escalation.
func scoreConfidence(text string) float64 {
	normalized := strings.ToLower(text)

	score := 0.35
	length := float64(len(text)) / 800.0
	if length > 0.3 {
		length = 0.3
	}
	score += length

	for _, marker := range resourceMarkers {
		if strings.Contains(normalized, marker) {
			score += 0.15
			break
		}
	}
	for _, marker := range empatheticMarkers {
		if strings.Contains(normalized, marker) {
			score += 0.15
			break
		}
	}

	if score > 0.95 {
		score = 0.95
	}
	return score
}
