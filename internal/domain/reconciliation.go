package domain

import (
	"slices"
	"time"
)

// ReconciliationState is the position of a disputed vendor/criterion pair in
// the consensus workflow.
type ReconciliationState string

// Supported reconciliation states.
const (
	ReconciliationOpen              ReconciliationState = "open"
	ReconciliationDiscussing        ReconciliationState = "discussing"
	ReconciliationConsensusProposed ReconciliationState = "consensus_proposed"
	ReconciliationConsensusLocked   ReconciliationState = "consensus_locked"
)

// DeadlineFallback decides what happens when a reconciliation passes its
// deadline without a locked consensus.
type DeadlineFallback string

// Supported deadline fallbacks.
const (
	// FallbackReportUnresolved leaves the pair unresolved in every report.
	FallbackReportUnresolved DeadlineFallback = "report_unresolved"

	// FallbackEscalate notifies leads and leaves the pair unresolved until a
	// lead overrides.
	FallbackEscalate DeadlineFallback = "escalate"

	// FallbackMedian locks a consensus at the median of the disputed scores
	// with a recorded system reason. It must be opted into explicitly.
	FallbackMedian DeadlineFallback = "median_fallback"
)

// DeadlineFallbackValues lists every fallback.
func DeadlineFallbackValues() []string {
	return []string{string(FallbackReportUnresolved), string(FallbackEscalate), string(FallbackMedian)}
}

// Valid reports whether f is a known fallback.
func (f DeadlineFallback) Valid() bool { return containsValue(DeadlineFallbackValues(), string(f)) }

// Proposal is a candidate consensus value awaiting acceptance.
type Proposal struct {
	Value       float64              `json:"value"`
	Rationale   string               `json:"rationale"`
	ProposedBy  string               `json:"proposed_by"`
	ProposedAt  time.Time            `json:"proposed_at"`
	Acceptances map[string]time.Time `json:"acceptances,omitempty"`
}

// DiscussionNote is a comment left during the discussion stage.
type DiscussionNote struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Reconciliation tracks one disputed vendor/criterion pair. TriggerScoreIDs
// are the submitted scores whose variance opened it; any consensus must
// reference at least those. Evaluators are the contributing evaluators whose
// acceptance locks a proposal.
type Reconciliation struct {
	ID              string              `json:"id"`
	EvaluationID    string              `json:"evaluation_id"`
	VendorID        string              `json:"vendor_id"`
	CriterionID     string              `json:"criterion_id"`
	State           ReconciliationState `json:"state"`
	Variance        float64             `json:"variance"`
	TriggerScoreIDs []string            `json:"trigger_score_ids"`
	Evaluators      []string            `json:"evaluators"`
	Proposal        *Proposal           `json:"proposal,omitempty"`
	Notes           []DiscussionNote    `json:"notes,omitempty"`
	OpenedAt        time.Time           `json:"opened_at"`
	Deadline        time.Time           `json:"deadline"`
	Escalated       bool                `json:"escalated"`
	ConsensusID     string              `json:"consensus_id,omitempty"`
	Version         int64               `json:"version"`
}

// Pair returns the vendor and criterion under reconciliation.
func (r Reconciliation) Pair() PairKey {
	return PairKey{VendorID: r.VendorID, CriterionID: r.CriterionID}
}

// Locked reports whether consensus has been locked.
func (r Reconciliation) Locked() bool { return r.State == ReconciliationConsensusLocked }

// Unresolved reports whether the deadline has passed without a locked
// consensus.
func (r Reconciliation) Unresolved(now time.Time) bool {
	return !r.Locked() && !r.Deadline.IsZero() && now.After(r.Deadline)
}

// IsContributor reports whether evaluatorID is one of the contributing
// evaluators.
func (r Reconciliation) IsContributor(evaluatorID string) bool {
	return slices.Contains(r.Evaluators, evaluatorID)
}

// AllAccepted reports whether every contributing evaluator accepted the
// current proposal.
func (r Reconciliation) AllAccepted() bool {
	if r.Proposal == nil || len(r.Evaluators) == 0 {
		return false
	}
	for _, ev := range r.Evaluators {
		if _, ok := r.Proposal.Acceptances[ev]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stored records are never aliased.
func (r Reconciliation) Clone() Reconciliation {
	out := r
	out.TriggerScoreIDs = slices.Clone(r.TriggerScoreIDs)
	out.Evaluators = slices.Clone(r.Evaluators)
	out.Notes = slices.Clone(r.Notes)
	if r.Proposal != nil {
		p := *r.Proposal
		p.Acceptances = make(map[string]time.Time, len(r.Proposal.Acceptances))
		for k, v := range r.Proposal.Acceptances {
			p.Acceptances[k] = v
		}
		out.Proposal = &p
	}
	return out
}
