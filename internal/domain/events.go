package domain

import "time"

// EventType names a notification fired by the engine. Delivery is never
// awaited.
type EventType string

// Supported notification events.
const (
	EventReconciliationNeeded    EventType = "reconciliation-needed"
	EventReconciliationEscalated EventType = "reconciliation-escalated"
	EventAnomalyDetected         EventType = "anomaly-detected"
	EventScoreLocked             EventType = "score-locked"
	EventScopeUnlocked           EventType = "scope-unlocked"
)

// Event is the payload handed to a notifier.
type Event struct {
	Type         EventType         `json:"type"`
	EvaluationID string            `json:"evaluation_id"`
	VendorID     string            `json:"vendor_id,omitempty"`
	CriterionID  string            `json:"criterion_id,omitempty"`
	Scope        *LockScope        `json:"scope,omitempty"`
	Detail       map[string]string `json:"detail,omitempty"`
	At           time.Time         `json:"at"`
}
