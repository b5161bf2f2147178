package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPhase_CanTransitionTo tests that phases only move one step forward.
func TestPhase_CanTransitionTo(t *testing.T) {
	phases := []Phase{PhaseSetup, PhaseScoring, PhaseSubmitted, PhaseReconciliation, PhaseComplete}
	for i, from := range phases {
		for j, to := range phases {
			assert.Equal(t, j == i+1, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, Phase("draft").CanTransitionTo(PhaseScoring))
	assert.False(t, PhaseScoring.Reveals())
	assert.True(t, PhaseReconciliation.Reveals())
	assert.True(t, PhaseComplete.Reveals())
}

// TestAnomalyStatus_CanTransitionTo tests the resolution workflow.
func TestAnomalyStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to AnomalyStatus
		want     bool
	}{
		{AnomalyOpen, AnomalyUnderReview, true},
		{AnomalyOpen, AnomalyResolved, false},
		{AnomalyUnderReview, AnomalyResolved, true},
		{AnomalyUnderReview, AnomalyAcceptedRisk, true},
		{AnomalyUnderReview, AnomalyDismissed, true},
		{AnomalyUnderReview, AnomalyOpen, false},
		{AnomalyResolved, AnomalyUnderReview, false},
		{AnomalyDismissed, AnomalyOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestScore_Validate(t *testing.T) {
	base := Score{VendorID: "v1", CriterionID: "A", EvaluatorID: "e1", Value: 4, Rationale: "solid", Status: ScoreSubmitted}

	assert.NoError(t, base.Validate(DefaultScale))

	draft := base
	draft.Rationale = ""
	draft.Status = ScoreDraft
	assert.NoError(t, draft.Validate(DefaultScale), "drafts may omit rationale")

	tests := []struct {
		name   string
		mutate func(*Score)
		rule   string
	}{
		{"above scale", func(s *Score) { s.Value = 5.5 }, "outside scale"},
		{"below scale", func(s *Score) { s.Value = 0 }, "outside scale"},
		{"not a number", func(s *Score) { s.Value = math.NaN() }, "outside scale"},
		{"blank rationale", func(s *Score) { s.Rationale = "   " }, "rationale required"},
		{"unknown status", func(s *Score) { s.Status = "final" }, "unknown status"},
		{"missing evaluator", func(s *Score) { s.EvaluatorID = "" }, "evaluator is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			var verr *ValidationError
			require.ErrorAs(t, s.Validate(DefaultScale), &verr)
			assert.True(t, verr.Has(tt.rule), "got %v", verr.Errors)
		})
	}
}

// TestReconciliation_Helpers tests acceptance tracking, deadlines and cloning.
func TestReconciliation_Helpers(t *testing.T) {
	deadline := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	r := Reconciliation{
		Evaluators: []string{"e1", "e2"},
		Deadline:   deadline,
		State:      ReconciliationConsensusProposed,
		Proposal: &Proposal{
			Value:       3,
			Acceptances: map[string]time.Time{"e1": deadline.Add(-time.Hour)},
		},
	}

	assert.True(t, r.IsContributor("e2"))
	assert.False(t, r.IsContributor("e3"))
	assert.False(t, r.AllAccepted())
	assert.False(t, r.Unresolved(deadline))
	assert.True(t, r.Unresolved(deadline.Add(time.Second)))

	clone := r.Clone()
	clone.Proposal.Acceptances["e2"] = deadline
	clone.Evaluators[0] = "changed"
	assert.False(t, r.AllAccepted(), "clone must not alias acceptances")
	assert.Equal(t, "e1", r.Evaluators[0])
	assert.False(t, clone.AllAccepted(), "changed evaluator has not accepted")

	r.Proposal.Acceptances["e2"] = deadline
	assert.True(t, r.AllAccepted())

	r.State = ReconciliationConsensusLocked
	assert.False(t, r.Unresolved(deadline.Add(time.Hour)))
}

func TestEvaluation_EffectiveScale(t *testing.T) {
	assert.Equal(t, DefaultScale, Evaluation{}.EffectiveScale())
	assert.Equal(t, Scale{Min: 0, Max: 10}, Evaluation{Scale: Scale{Min: 0, Max: 10}}.EffectiveScale())
	assert.True(t, Evaluation{Phase: PhaseComplete}.Revealed())
	assert.False(t, Evaluation{Phase: PhaseScoring}.Revealed())
}
