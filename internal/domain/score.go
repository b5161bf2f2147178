package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScoreStatus is the evaluator-owned state of a score.
type ScoreStatus string

// Supported score statuses. A submitted score never reverts to draft.
const (
	ScoreDraft     ScoreStatus = "draft"
	ScoreSubmitted ScoreStatus = "submitted"
)

// Valid reports whether s is a known status.
func (s ScoreStatus) Valid() bool { return s == ScoreDraft || s == ScoreSubmitted }

// ScoreKey identifies the single score an evaluator may hold for a vendor
// and criterion. Writes are serialized per key.
type ScoreKey struct {
	VendorID    string `json:"vendor_id"`
	CriterionID string `json:"criterion_id"`
	EvaluatorID string `json:"evaluator_id"`
}

// String renders the key as vendor/criterion/evaluator.
func (k ScoreKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.VendorID, k.CriterionID, k.EvaluatorID)
}

// Score is one evaluator's assessment of one vendor against one criterion.
// Version is the optimistic concurrency token; zero means "not yet stored".
type Score struct {
	ID           string      `json:"id"`
	EvaluationID string      `json:"evaluation_id"`
	VendorID     string      `json:"vendor_id"`
	CriterionID  string      `json:"criterion_id"`
	EvaluatorID  string      `json:"evaluator_id"`
	Value        float64     `json:"value"`
	Rationale    string      `json:"rationale"`
	Status       ScoreStatus `json:"status"`
	SubmittedAt  time.Time   `json:"submitted_at,omitzero"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Version      int64       `json:"lock_version"`
	EvidenceIDs  []string    `json:"evidence_ids,omitempty"`
}

// Key returns the score's write-serialization key.
func (s Score) Key() ScoreKey {
	return ScoreKey{VendorID: s.VendorID, CriterionID: s.CriterionID, EvaluatorID: s.EvaluatorID}
}

// Submitted reports whether the score counts toward aggregation.
func (s Score) Submitted() bool { return s.Status == ScoreSubmitted }

// Validate checks the score against the scale and the rationale rule. Drafts
// may carry an empty rationale; submitted scores may not.
func (s Score) Validate(scale Scale) error {
	verr := NewValidationError("Score")
	if s.VendorID == "" {
		verr.AddError("vendor is required")
	}
	if s.CriterionID == "" {
		verr.AddError("criterion is required")
	}
	if s.EvaluatorID == "" {
		verr.AddError("evaluator is required")
	}
	if !s.Status.Valid() {
		verr.AddError(fmt.Sprintf("unknown status %q", s.Status))
	}
	if !scale.Contains(s.Value) {
		verr.AddError(fmt.Sprintf("value %g is outside scale %s", s.Value, scale))
	}
	if s.Status == ScoreSubmitted && strings.TrimSpace(s.Rationale) == "" {
		verr.AddError("rationale required")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ConsensusScore is the single agreed value for a vendor and criterion. Once
// locked it supersedes the individual evaluator scores in aggregation.
type ConsensusScore struct {
	ID                   string    `json:"id"`
	EvaluationID         string    `json:"evaluation_id"`
	VendorID             string    `json:"vendor_id"`
	CriterionID          string    `json:"criterion_id"`
	Value                float64   `json:"value"`
	Rationale            string    `json:"rationale"`
	ContributingScoreIDs []string  `json:"contributing_score_ids"`
	Locked               bool      `json:"locked"`
	LockedAt             time.Time `json:"locked_at,omitzero"`
	LockedBy             string    `json:"locked_by,omitempty"`
	OverrideReason       string    `json:"override_reason,omitempty"`
}

// PairKey identifies a vendor and criterion pair.
type PairKey struct {
	VendorID    string
	CriterionID string
}

// Pair returns the vendor and criterion pair of the consensus score.
func (c ConsensusScore) Pair() PairKey {
	return PairKey{VendorID: c.VendorID, CriterionID: c.CriterionID}
}
