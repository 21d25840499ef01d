// Package crisis persists and serves crisis alerts. Escalation is
// idempotent on message identity and must never fail silently: persistence
// errors surface to the caller.
package crisis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	crisismodel "github.com/havenline/haven/backend/internal/model/crisis"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/storage"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidTransition = errors.New("alert status can only move forward")
	ErrInvalidRisk       = errors.New("risk level outside 1..5")
	ErrPersistence       = errors.New("alert persistence failure")
)

const (
	alertPrefix = "alert/"

	// resourceLimit caps how many resources ride along with an alert.
	resourceLimit = 5
)

// alertIDNamespace scopes the deterministic alert ids derived from the
// triggering message identity.
var alertIDNamespace = uuid.MustParse("c7a2f1f4-9b7d-4f3e-8a15-6d4e2b9c0a31")

// AlertID derives the alert id for a (session, message key) pair. The id
// doubles as the idempotency key: the alert document is written under it
// with PutIfAbsent, so reserving the key and persisting the alert are one
// atomic step and a failed write leaves nothing behind to block retries.
func AlertID(sessionID, messageKey string) string {
	return uuid.NewSHA1(alertIDNamespace, []byte(sessionID+"/"+messageKey)).String()
}

// Notifier receives every newly created alert. Delivery is best-effort;
// the alert record itself is already durable when this fires.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert crisismodel.Alert)
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

// NotifyAlert implements Notifier.
func (LogNotifier) NotifyAlert(_ context.Context, alert crisismodel.Alert) {
	log.Printf("[crisis] ALERT severity=%s risk=%d user=%s session=%s signals=%v",
		alert.Severity, alert.RiskLevel, alert.UserID, alert.SessionID, alert.Signals)
}

// EscalationRequest identifies the triggering message and its assessment.
type EscalationRequest struct {
	UserID      string
	SessionID   string
	MessageKey  string
	TriggerText string
	RiskLevel   int
	Signals     []string
	Locale      string
}

// Escalation is the payload delivered to the client alongside the reply.
type Escalation struct {
	Alert             crisismodel.Alert   `json:"alert"`
	Created           bool                `json:"-"`
	Resources         []resource.Resource `json:"immediateResources"`
	EmergencyContacts []resource.Resource `json:"emergencyContacts"`
}

// Manager implements the escalation workflow over the document store.
type Manager struct {
	docs      storage.Store
	resources resource.Store
	notifier  Notifier
}

// NewManager wires the manager. A nil notifier falls back to LogNotifier.
func NewManager(docs storage.Store, resources resource.Store, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Manager{docs: docs, resources: resources, notifier: notifier}
}

// Escalate creates the alert for a qualifying message, exactly once per
// (session, message key). A duplicate invocation returns the existing
// alert with Created=false and no error.
func (m *Manager) Escalate(ctx context.Context, req EscalationRequest) (*Escalation, error) {
	if req.RiskLevel < 1 || req.RiskLevel > 5 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRisk, req.RiskLevel)
	}

	now := time.Now().UTC()
	alert := crisismodel.Alert{
		ID:          AlertID(req.SessionID, req.MessageKey),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		MessageKey:  req.MessageKey,
		TriggerText: req.TriggerText,
		Severity:    crisismodel.SeverityForRisk(req.RiskLevel),
		RiskLevel:   req.RiskLevel * 2, // alert records use a 1-10 scale
		Signals:     append([]string(nil), req.Signals...),
		Status:      crisismodel.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("%w: encode alert %s: %v", ErrPersistence, alert.ID, err)
	}
	created, err := m.docs.PutIfAbsent(ctx, alertPrefix+alert.ID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if !created {
		existing, err := m.GetAlert(ctx, alert.ID)
		if err != nil {
			return nil, err
		}
		return m.withResources(existing, false, req.Locale), nil
	}

	m.notifier.NotifyAlert(ctx, alert)
	log.Printf("[crisis] escalated session=%s key=%s severity=%s", req.SessionID, req.MessageKey, alert.Severity)
	return m.withResources(alert, true, req.Locale), nil
}

func (m *Manager) withResources(alert crisismodel.Alert, created bool, locale string) *Escalation {
	resources := m.resources.ForLocale(locale, true, resourceLimit)
	contacts := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if r.IsContact() {
			contacts = append(contacts, r)
		}
	}
	return &Escalation{
		Alert:             alert,
		Created:           created,
		Resources:         resources,
		EmergencyContacts: contacts,
	}
}

// GetAlert fetches one alert by id.
func (m *Manager) GetAlert(ctx context.Context, alertID string) (crisismodel.Alert, error) {
	data, err := m.docs.Get(ctx, alertPrefix+alertID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return crisismodel.Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return crisismodel.Alert{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var alert crisismodel.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return crisismodel.Alert{}, fmt.Errorf("%w: decode alert %s: %v", ErrPersistence, alertID, err)
	}
	return alert, nil
}

// UpdateStatus applies a forward-only status transition.
func (m *Manager) UpdateStatus(ctx context.Context, alertID string, next crisismodel.Status) (crisismodel.Alert, error) {
	alert, err := m.GetAlert(ctx, alertID)
	if err != nil {
		return crisismodel.Alert{}, err
	}

	if !alert.Status.CanTransition(next) {
		return crisismodel.Alert{}, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, alert.Status, next)
	}

	alert.Status = next
	alert.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, alert); err != nil {
		return crisismodel.Alert{}, err
	}
	return alert, nil
}

// AddIntervention appends a typed intervention record to an alert.
func (m *Manager) AddIntervention(ctx context.Context, alertID string, iv crisismodel.Intervention) (crisismodel.Alert, error) {
	alert, err := m.GetAlert(ctx, alertID)
	if err != nil {
		return crisismodel.Alert{}, err
	}

	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	alert.Interventions = append(alert.Interventions, iv)
	alert.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, alert); err != nil {
		return crisismodel.Alert{}, err
	}
	return alert, nil
}

// ScheduleFollowUp records a follow-up time on an alert.
func (m *Manager) ScheduleFollowUp(ctx context.Context, alertID string, at time.Time) (crisismodel.Alert, error) {
	alert, err := m.GetAlert(ctx, alertID)
	if err != nil {
		return crisismodel.Alert{}, err
	}

	alert.FollowUpAt = &at
	alert.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, alert); err != nil {
		return crisismodel.Alert{}, err
	}
	return alert, nil
}

func (m *Manager) save(ctx context.Context, alert crisismodel.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("%w: encode alert %s: %v", ErrPersistence, alert.ID, err)
	}
	if err := m.docs.Put(ctx, alertPrefix+alert.ID, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
