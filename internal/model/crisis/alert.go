package crisis

import "time"

// Severity buckets a risk level for triage displays and routing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForRisk maps a classifier risk level (1..5) to a severity bucket.
func SeverityForRisk(risk int) Severity {
	switch {
	case risk >= 5:
		return SeverityCritical
	case risk == 4:
		return SeverityHigh
	case risk == 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status is the alert lifecycle. Transitions are forward-only.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusEscalated    Status = "escalated"
)

var statusRank = map[Status]int{
	StatusActive:       0,
	StatusAcknowledged: 1,
	StatusEscalated:    2,
	StatusResolved:     3,
}

// CanTransition reports whether moving from s to next is a forward move.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Intervention records a follow-up action taken against an alert.
type Intervention struct {
	Type      string    `json:"type"`
	Notes     string    `json:"notes,omitempty"`
	Helpful   *bool     `json:"helpful,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Alert is the durable record of one crisis escalation. Created exactly
// once per triggering message; afterwards mutated only through explicit
// acknowledgment or intervention appends.
type Alert struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	SessionID     string         `json:"sessionId,omitempty"`
	MessageKey    string         `json:"messageKey"`
	TriggerText   string         `json:"triggerText"`
	Severity      Severity       `json:"severity"`
	RiskLevel     int            `json:"riskLevel"`
	Signals       []string       `json:"signals,omitempty"`
	Status        Status         `json:"status"`
	Interventions []Intervention `json:"interventions,omitempty"`
	FollowUpAt    *time.Time     `json:"followUpAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
