// Package domain contains pure, dependency-free domain models and types
// for the weighted multi-evaluator scoring engine.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Phase is the lifecycle stage of an evaluation. Phases only move forward,
// one step at a time.
type Phase string

// Supported evaluation phases in lifecycle order.
const (
	// PhaseSetup is the configuration stage where categories, criteria and
	// weights are defined.
	PhaseSetup Phase = "setup"

	// PhaseScoring is entered through the "ready for scoring" transition and
	// requires valid weights.
	PhaseScoring Phase = "scoring"

	// PhaseSubmitted indicates that evaluators have finished scoring.
	PhaseSubmitted Phase = "submitted"

	// PhaseReconciliation reveals all scores and drives consensus.
	PhaseReconciliation Phase = "reconciliation"

	// PhaseComplete is terminal.
	PhaseComplete Phase = "complete"
)

var phaseOrder = map[Phase]int{
	PhaseSetup:          0,
	PhaseScoring:        1,
	PhaseSubmitted:      2,
	PhaseReconciliation: 3,
	PhaseComplete:       4,
}

// PhaseValues lists every phase in lifecycle order.
func PhaseValues() []string {
	return []string{
		string(PhaseSetup), string(PhaseScoring), string(PhaseSubmitted),
		string(PhaseReconciliation), string(PhaseComplete),
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Rank returns the position of the phase in the lifecycle, or -1.
func (p Phase) Rank() int {
	r, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return r
}

// Reveals reports whether all scores are visible in this phase regardless
// of the blind-scoring setting.
func (p Phase) Reveals() bool { return p.Rank() >= phaseOrder[PhaseReconciliation] }

// CanTransitionTo reports whether next is the immediate successor of p.
func (p Phase) CanTransitionTo(next Phase) bool {
	return p.Valid() && next.Valid() && next.Rank() == p.Rank()+1
}

// Scale bounds every evaluator score and consensus value.
type Scale struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultScale is the five-point scale used when an evaluation does not
// configure its own.
var DefaultScale = Scale{Min: 1, Max: 5}

// Contains reports whether v is a finite value inside the bounds.
func (s Scale) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= s.Min && v <= s.Max
}

// IsZero reports whether the scale is unset.
func (s Scale) IsZero() bool { return s.Min == 0 && s.Max == 0 }

// String renders the bounds for error messages.
func (s Scale) String() string { return fmt.Sprintf("[%g, %g]", s.Min, s.Max) }

// Evaluation is one procurement exercise. Version is the monotonically
// increasing counter bumped on every mutating operation; it keys read-path
// caches.
type Evaluation struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Phase        Phase      `json:"phase"`
	BlindScoring bool       `json:"blind_scoring"`
	Scale        Scale      `json:"scale"`
	Version      int64      `json:"version"`
	RevealedAt   *time.Time `json:"revealed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Revealed reports whether a blind-mode reveal has happened. Once true it
// stays true.
func (e Evaluation) Revealed() bool { return e.RevealedAt != nil || e.Phase.Reveals() }

// EffectiveScale returns the evaluation scale or DefaultScale when unset.
func (e Evaluation) EffectiveScale() Scale {
	if e.Scale.IsZero() {
		return DefaultScale
	}
	return e.Scale
}

// Category is a top-level weighted grouping of criteria. Weight is a
// percentage of the evaluation total.
type Category struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	Name         string    `json:"name"`
	Weight       float64   `json:"weight"`
	SortOrder    int       `json:"sort_order"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Criterion is an individually scored dimension. Weight is a percentage
// within its category.
type Criterion struct {
	ID             string   `json:"id"`
	EvaluationID   string   `json:"evaluation_id"`
	CategoryID     string   `json:"category_id"`
	Name           string   `json:"name"`
	Weight         float64  `json:"weight"`
	SortOrder      int      `json:"sort_order"`
	RequirementIDs []string `json:"requirement_ids,omitempty"`
	Version        int64    `json:"version"`
}

// VendorStage is the vendor's pipeline position. The stage itself is owned
// by an external collaborator; the engine only needs to know whether the
// vendor is still active.
type VendorStage string

// Supported vendor stages.
const (
	VendorStageInvited      VendorStage = "invited"
	VendorStageResponded    VendorStage = "responded"
	VendorStageShortlisted  VendorStage = "shortlisted"
	VendorStageSelected     VendorStage = "selected"
	VendorStageWithdrawn    VendorStage = "withdrawn"
	VendorStageDisqualified VendorStage = "disqualified"
)

// VendorStageValues lists every vendor stage.
func VendorStageValues() []string {
	return []string{
		string(VendorStageInvited), string(VendorStageResponded), string(VendorStageShortlisted),
		string(VendorStageSelected), string(VendorStageWithdrawn), string(VendorStageDisqualified),
	}
}

// Valid reports whether s is a known stage.
func (s VendorStage) Valid() bool { return containsValue(VendorStageValues(), string(s)) }

// Vendor participates in exactly one evaluation.
type Vendor struct {
	ID           string      `json:"id"`
	EvaluationID string      `json:"evaluation_id"`
	Name         string      `json:"name"`
	Stage        VendorStage `json:"stage"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Active reports whether the vendor still competes in the evaluation.
func (v Vendor) Active() bool {
	return v.Stage != VendorStageWithdrawn && v.Stage != VendorStageDisqualified
}

// Priority classifies a requirement.
type Priority string

// Supported requirement priorities.
const (
	PriorityMustHave   Priority = "must_have"
	PriorityShouldHave Priority = "should_have"
	PriorityCouldHave  Priority = "could_have"
	PriorityWontHave   Priority = "wont_have"
)

// PriorityValues lists every priority.
func PriorityValues() []string {
	return []string{
		string(PriorityMustHave), string(PriorityShouldHave),
		string(PriorityCouldHave), string(PriorityWontHave),
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return containsValue(PriorityValues(), string(p)) }

// Requirement is consumed from an external collaborator. The engine only
// reads its priority and its linkage to criteria.
type Requirement struct {
	ID           string   `json:"id"`
	EvaluationID string   `json:"evaluation_id"`
	Title        string   `json:"title"`
	Priority     Priority `json:"priority"`
	CategoryID   string   `json:"category_id,omitempty"`
	CriterionIDs []string `json:"criterion_ids,omitempty"`
}

// EvidenceType is the closed set of supporting material kinds.
type EvidenceType string

// Supported evidence types.
const (
	EvidenceDocument       EvidenceType = "document"
	EvidenceDemonstration  EvidenceType = "demonstration"
	EvidenceReferenceCheck EvidenceType = "reference_check"
	EvidenceClarification  EvidenceType = "clarification"
	EvidencePresentation   EvidenceType = "presentation"
)

// EvidenceTypeValues lists every evidence type.
func EvidenceTypeValues() []string {
	return []string{
		string(EvidenceDocument), string(EvidenceDemonstration), string(EvidenceReferenceCheck),
		string(EvidenceClarification), string(EvidencePresentation),
	}
}

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool { return containsValue(EvidenceTypeValues(), string(t)) }

// Evidence owns the link from (criterion, vendor) to supporting material.
// Scores may reference evidence IDs; evidence never points back at scores.
type Evidence struct {
	ID           string       `json:"id"`
	EvaluationID string       `json:"evaluation_id"`
	CriterionID  string       `json:"criterion_id"`
	VendorID     string       `json:"vendor_id"`
	Type         EvidenceType `json:"type"`
	Title        string       `json:"title"`
	URI          string       `json:"uri,omitempty"`
}

// Question is a prompt put to vendors for a criterion.
type Question struct {
	ID           string `json:"id"`
	EvaluationID string `json:"evaluation_id"`
	CriterionID  string `json:"criterion_id"`
	Text         string `json:"text"`
	SortOrder    int    `json:"sort_order"`
}

// VendorResponse is a vendor's answer to a question.
type VendorResponse struct {
	ID           string `json:"id"`
	EvaluationID string `json:"evaluation_id"`
	QuestionID   string `json:"question_id"`
	VendorID     string `json:"vendor_id"`
	Text         string `json:"text"`
}

// VendorMetric is a raw commercial or delivery value for a vendor, such as a
// quoted price or a schedule length in days.
type VendorMetric struct {
	VendorID  string    `json:"vendor_id"`
	Dimension Dimension `json:"dimension"`
	Value     float64   `json:"value"`
}

func containsValue(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
