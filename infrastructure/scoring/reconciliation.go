package scoring

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// SystemActor is recorded as the locking actor of consensus values produced
// by a deadline fallback.
const SystemActor = "system"

// ReconcileConfig controls variance flagging and deadline handling.
type ReconcileConfig struct {
	// VarianceThreshold flags a pair when max − min of its submitted scores
	// reaches it.
	VarianceThreshold float64 `yaml:"variance_threshold" json:"variance_threshold" validate:"gt=0"`

	// Window is the time from flagging to the reconciliation deadline.
	Window time.Duration `yaml:"window" json:"window" validate:"gt=0"`

	// Fallback decides what happens to a pair past its deadline.
	Fallback domain.DeadlineFallback `yaml:"fallback" json:"fallback" validate:"required"`
}

// DefaultReconcileConfig returns threshold 1.0, a 72h window and the
// report_unresolved fallback.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		VarianceThreshold: 1.0,
		Window:            72 * time.Hour,
		Fallback:          domain.FallbackReportUnresolved,
	}
}

// VarianceResult is the evaluator spread for one vendor and criterion.
type VarianceResult struct {
	VendorID    string         `json:"vendor_id"`
	CriterionID string         `json:"criterion_id"`
	Variance    float64        `json:"variance"`
	Threshold   float64        `json:"threshold"`
	Flagged     bool           `json:"flagged"`
	Scores      []domain.Score `json:"scores"`
}

// Coordinator computes variance and drives the consensus workflow. Its
// methods are pure: they return updated copies for the caller to persist.
type Coordinator struct {
	config ReconcileConfig
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(config ReconcileConfig) (*Coordinator, error) {
	if config.VarianceThreshold <= 0 || config.Window <= 0 {
		return nil, fmt.Errorf("%w: variance threshold and window must be positive", domain.ErrInvalidConfiguration)
	}
	if !config.Fallback.Valid() {
		return nil, fmt.Errorf("%w: unknown deadline fallback %q", domain.ErrInvalidConfiguration, config.Fallback)
	}
	return &Coordinator{config: config}, nil
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() ReconcileConfig { return c.config }

// Variance returns max − min of the submitted scores of a pair.
func (c *Coordinator) Variance(snap *Snapshot, vendorID, criterionID string) VarianceResult {
	scores := snap.SubmittedScores(domain.PairKey{VendorID: vendorID, CriterionID: criterionID})
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.Value
	}
	v := domain.Spread(values)
	return VarianceResult{
		VendorID:    vendorID,
		CriterionID: criterionID,
		Variance:    v,
		Threshold:   c.config.VarianceThreshold,
		Flagged:     len(scores) >= 2 && v >= c.config.VarianceThreshold,
		Scores:      slices.Clone(scores),
	}
}

// CriterionVariance returns the variance of one criterion for every active
// vendor.
func (c *Coordinator) CriterionVariance(snap *Snapshot, criterionID string) ([]VarianceResult, error) {
	if _, ok := snap.Criterion(criterionID); !ok {
		return nil, fmt.Errorf("criterion %s: %w", criterionID, domain.ErrNotFound)
	}
	vendors := snap.ActiveVendors()
	out := make([]VarianceResult, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, c.Variance(snap, v.ID, criterionID))
	}
	return out, nil
}

// Flag returns a new open reconciliation for every flagged pair that has no
// reconciliation and no locked consensus yet.
func (c *Coordinator) Flag(snap *Snapshot, now time.Time) []domain.Reconciliation {
	out := make([]domain.Reconciliation, 0)
	for _, v := range snap.ActiveVendors() {
		for _, crit := range snap.Criteria {
			pair := domain.PairKey{VendorID: v.ID, CriterionID: crit.ID}
			if _, ok := snap.Reconciliation(pair); ok {
				continue
			}
			if _, ok := snap.LockedConsensus(pair); ok {
				continue
			}
			vr := c.Variance(snap, v.ID, crit.ID)
			if !vr.Flagged {
				continue
			}
			r := domain.Reconciliation{
				EvaluationID: snap.Evaluation.ID,
				VendorID:     v.ID,
				CriterionID:  crit.ID,
				State:        domain.ReconciliationOpen,
				Variance:     vr.Variance,
				OpenedAt:     now,
				Deadline:     now.Add(c.config.Window),
			}
			for _, s := range vr.Scores {
				r.TriggerScoreIDs = append(r.TriggerScoreIDs, s.ID)
				r.Evaluators = append(r.Evaluators, s.EvaluatorID)
			}
			sort.Strings(r.TriggerScoreIDs)
			sort.Strings(r.Evaluators)
			out = append(out, r)
		}
	}
	return out
}

// StartDiscussion moves an open reconciliation to discussing and records
// the note. Notes may be added while discussing or proposed.
func (c *Coordinator) StartDiscussion(r domain.Reconciliation, author, text string, now time.Time) (domain.Reconciliation, error) {
	switch r.State {
	case domain.ReconciliationOpen:
		r = r.Clone()
		r.State = domain.ReconciliationDiscussing
	case domain.ReconciliationDiscussing, domain.ReconciliationConsensusProposed:
		r = r.Clone()
	default:
		return domain.Reconciliation{}, &domain.TransitionError{
			Entity: "reconciliation",
			From:   string(r.State),
			To:     string(domain.ReconciliationDiscussing),
		}
	}
	if strings.TrimSpace(text) != "" {
		r.Notes = append(r.Notes, domain.DiscussionNote{Author: author, Text: text, At: now})
	}
	return r, nil
}

// Propose records a candidate consensus value. A new proposal replaces the
// previous one and clears its acceptances.
func (c *Coordinator) Propose(
	r domain.Reconciliation,
	scale domain.Scale,
	proposer string,
	value float64,
	rationale string,
	now time.Time,
) (domain.Reconciliation, error) {
	if r.Locked() {
		return domain.Reconciliation{}, &domain.TransitionError{
			Entity: "reconciliation",
			From:   string(r.State),
			To:     string(domain.ReconciliationConsensusProposed),
		}
	}
	if err := checkConsensusValue(scale, value, rationale, "rationale required"); err != nil {
		return domain.Reconciliation{}, err
	}
	r = r.Clone()
	r.State = domain.ReconciliationConsensusProposed
	r.Proposal = &domain.Proposal{
		Value:       value,
		Rationale:   rationale,
		ProposedBy:  proposer,
		ProposedAt:  now,
		Acceptances: make(map[string]time.Time),
	}
	return r, nil
}

// Accept records evaluatorID's acceptance of the current proposal. It
// reports whether every contributing evaluator has now accepted.
func (c *Coordinator) Accept(r domain.Reconciliation, evaluatorID string, now time.Time) (domain.Reconciliation, bool, error) {
	if r.State != domain.ReconciliationConsensusProposed || r.Proposal == nil {
		return domain.Reconciliation{}, false, &domain.TransitionError{
			Entity: "reconciliation",
			From:   string(r.State),
			To:     string(domain.ReconciliationConsensusLocked),
		}
	}
	if !r.IsContributor(evaluatorID) {
		return domain.Reconciliation{}, false, fmt.Errorf("%w: %s is not a contributing evaluator", domain.ErrUnauthorized, evaluatorID)
	}
	r = r.Clone()
	if _, ok := r.Proposal.Acceptances[evaluatorID]; !ok {
		r.Proposal.Acceptances[evaluatorID] = now
	}
	return r, r.AllAccepted(), nil
}

// Consensus builds the locked consensus for r. Contributing scores are the
// trigger scores plus every score submitted for the pair since.
func (c *Coordinator) Consensus(
	snap *Snapshot,
	r domain.Reconciliation,
	value float64,
	rationale string,
	lockedBy string,
	overrideReason string,
	now time.Time,
) domain.ConsensusScore {
	ids := slices.Clone(r.TriggerScoreIDs)
	for _, s := range snap.SubmittedScores(r.Pair()) {
		if !slices.Contains(ids, s.ID) {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return domain.ConsensusScore{
		EvaluationID:         r.EvaluationID,
		VendorID:             r.VendorID,
		CriterionID:          r.CriterionID,
		Value:                value,
		Rationale:            rationale,
		ContributingScoreIDs: ids,
		Locked:               true,
		LockedAt:             now,
		LockedBy:             lockedBy,
		OverrideReason:       overrideReason,
	}
}

// Override validates a lead's override. The returned value and reason go
// into Consensus.
func (c *Coordinator) Override(r domain.Reconciliation, scale domain.Scale, value float64, reason string) error {
	if r.Locked() {
		return &domain.TransitionError{
			Entity: "reconciliation",
			From:   string(r.State),
			To:     string(domain.ReconciliationConsensusLocked),
		}
	}
	return checkConsensusValue(scale, value, reason, "reason required")
}

// DeadlineAction is what SweepDeadlines decided for one reconciliation.
type DeadlineAction struct {
	Reconciliation domain.Reconciliation
	Fallback       domain.DeadlineFallback

	// Consensus is set for median_fallback.
	Consensus *domain.ConsensusScore

	// Escalate is set the first time an escalate fallback fires.
	Escalate bool
}

// SweepDeadlines applies the configured fallback to every reconciliation
// past its deadline. It never holds anything while waiting: deadlines are
// plain timestamps compared against now.
func (c *Coordinator) SweepDeadlines(snap *Snapshot, now time.Time) []DeadlineAction {
	out := make([]DeadlineAction, 0)
	for _, r := range snap.Reconciliations {
		if !r.Unresolved(now) {
			continue
		}
		act := DeadlineAction{Reconciliation: r.Clone(), Fallback: c.config.Fallback}
		switch c.config.Fallback {
		case domain.FallbackEscalate:
			if r.Escalated {
				continue
			}
			act.Reconciliation.Escalated = true
			act.Escalate = true
		case domain.FallbackMedian:
			scores := snap.SubmittedScores(r.Pair())
			if len(scores) == 0 {
				continue
			}
			values := make([]float64, len(scores))
			for i, s := range scores {
				values[i] = s.Value
			}
			median := domain.Median(values)
			cs := c.Consensus(snap, r, median,
				fmt.Sprintf("deadline fallback: median of %d disputed scores", len(values)),
				SystemActor, "reconciliation deadline passed without consensus", now)
			act.Consensus = &cs
		}
		out = append(out, act)
	}
	return out
}

func checkConsensusValue(scale domain.Scale, value float64, text, missing string) error {
	verr := domain.NewValidationError("Consensus")
	if !scale.Contains(value) {
		verr.AddError(fmt.Sprintf("value %g is outside scale %s", value, scale))
	}
	if strings.TrimSpace(text) == "" {
		verr.AddError(missing)
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}
