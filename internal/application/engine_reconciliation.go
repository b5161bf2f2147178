package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// ConsensusOutcome is the result of a consensus action. Consensus is set
// once the reconciliation has locked.
type ConsensusOutcome struct {
	Reconciliation domain.Reconciliation
	Consensus      *domain.ConsensusScore
}

// Locked reports whether the action locked a consensus.
func (o ConsensusOutcome) Locked() bool { return o.Consensus != nil }

// GetVariance returns the evaluator variance of one criterion for every
// active vendor, flagged against the configured threshold.
func (e *Engine) GetVariance(ctx context.Context, evaluationID, criterionID string) (_ []scoring.VarianceResult, err error) {
	ctx, op := e.observer.Start(ctx, "GetVariance", middleware.Target{EvaluationID: evaluationID, CriterionID: criterionID})
	defer func() { op.End(err) }()

	return cached(ctx, e, "variance", evaluationID, criterionID, func(snap *scoring.Snapshot) ([]scoring.VarianceResult, error) {
		return e.coordinator.CriterionVariance(snap, criterionID)
	})
}

// FlagVariance opens a reconciliation for every pair whose variance reaches
// the threshold and has none yet. It fires reconciliation-needed for each.
func (e *Engine) FlagVariance(ctx context.Context, evaluationID string) (_ []domain.Reconciliation, err error) {
	ctx, op := e.observer.Start(ctx, "FlagVariance", middleware.Target{EvaluationID: evaluationID})
	defer func() { op.End(err) }()

	return e.flag(ctx, evaluationID)
}

func (e *Engine) flag(ctx context.Context, evaluationID string) ([]domain.Reconciliation, error) {
	snap, err := scoring.LoadSnapshot(ctx, e.store, e.catalog, evaluationID)
	if err != nil {
		return nil, err
	}
	opened := make([]domain.Reconciliation, 0)
	for _, r := range e.coordinator.Flag(snap, e.now()) {
		created, err := e.store.CreateReconciliation(ctx, r)
		if domain.IsConflict(err) {
			// Another writer opened it first.
			continue
		}
		if err != nil {
			return opened, err
		}
		opened = append(opened, created)
		e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "flagged"})
		e.logger.Info("reconciliation opened",
			"evaluation_id", evaluationID, "vendor_id", created.VendorID, "criterion_id", created.CriterionID,
			"variance", created.Variance)
		e.notify(ctx, domain.Event{
			Type:         domain.EventReconciliationNeeded,
			EvaluationID: evaluationID,
			VendorID:     created.VendorID,
			CriterionID:  created.CriterionID,
			Detail: map[string]string{
				"reconciliation_id": created.ID,
				"variance":          strconv.FormatFloat(created.Variance, 'f', -1, 64),
				"deadline":          created.Deadline.Format(time.RFC3339),
			},
		})
	}
	return opened, nil
}

// StartDiscussion moves an open reconciliation to discussing and records
// an optional note by a contributing evaluator or a lead.
func (e *Engine) StartDiscussion(ctx context.Context, reconciliationID, author, text string) (_ domain.Reconciliation, err error) {
	ctx, op := e.observer.Start(ctx, "StartDiscussion", middleware.Target{UserID: author})
	defer func() { op.End(err) }()

	var out domain.Reconciliation
	err = e.retry(ctx, "discussion", func() error {
		cur, err := e.store.GetReconciliation(ctx, reconciliationID)
		if err != nil {
			return err
		}
		if err := e.requireParticipant(ctx, cur, author); err != nil {
			return err
		}
		next, err := e.coordinator.StartDiscussion(cur, author, text, e.now())
		if err != nil {
			return err
		}
		out, err = e.store.UpdateReconciliation(ctx, next, cur.Version)
		return err
	})
	return out, err
}

// ProposeConsensus records a candidate value with rationale. Any evaluator,
// lead or admin of the evaluation may propose, but only contributing
// evaluators accept. A new proposal clears earlier acceptances.
func (e *Engine) ProposeConsensus(
	ctx context.Context,
	reconciliationID, proposer string,
	value float64,
	rationale string,
) (_ domain.Reconciliation, err error) {
	ctx, op := e.observer.Start(ctx, "ProposeConsensus", middleware.Target{UserID: proposer})
	defer func() { op.End(err) }()

	var out domain.Reconciliation
	err = e.retry(ctx, "propose", func() error {
		cur, err := e.store.GetReconciliation(ctx, reconciliationID)
		if err != nil {
			return err
		}
		if err := e.requireScorer(ctx, cur, proposer); err != nil {
			return err
		}
		eval, err := e.store.GetEvaluation(ctx, cur.EvaluationID)
		if err != nil {
			return err
		}
		next, err := e.coordinator.Propose(cur, eval.EffectiveScale(), proposer, value, rationale, e.now())
		if err != nil {
			return err
		}
		out, err = e.store.UpdateReconciliation(ctx, next, cur.Version)
		return err
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "proposed"})
	return out, nil
}

// AcceptConsensus records a contributing evaluator's acceptance. The last
// acceptance locks the consensus atomically and fires score-locked.
func (e *Engine) AcceptConsensus(ctx context.Context, reconciliationID, evaluatorID string) (_ ConsensusOutcome, err error) {
	ctx, op := e.observer.Start(ctx, "AcceptConsensus", middleware.Target{UserID: evaluatorID})
	defer func() { op.End(err) }()

	var out ConsensusOutcome
	err = e.retry(ctx, "accept", func() error {
		out = ConsensusOutcome{}
		cur, err := e.store.GetReconciliation(ctx, reconciliationID)
		if err != nil {
			return err
		}
		next, all, err := e.coordinator.Accept(cur, evaluatorID, e.now())
		if err != nil {
			return err
		}
		if !all {
			out.Reconciliation, err = e.store.UpdateReconciliation(ctx, next, cur.Version)
			return err
		}
		out, err = e.commitConsensus(ctx, next, cur.Version, func(snap *scoring.Snapshot) domain.ConsensusScore {
			return e.coordinator.Consensus(snap, next, next.Proposal.Value, next.Proposal.Rationale, evaluatorID, "", e.now())
		})
		return err
	})
	if err != nil {
		return ConsensusOutcome{}, err
	}
	e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "accepted"})
	return out, nil
}

// OverrideConsensus lets a lead lock a consensus value without unanimous
// acceptance. The reason is required and recorded.
func (e *Engine) OverrideConsensus(
	ctx context.Context,
	reconciliationID, lead string,
	value float64,
	reason string,
) (_ ConsensusOutcome, err error) {
	ctx, op := e.observer.Start(ctx, "OverrideConsensus", middleware.Target{UserID: lead})
	defer func() { op.End(err) }()

	var out ConsensusOutcome
	err = e.retry(ctx, "override", func() error {
		cur, err := e.store.GetReconciliation(ctx, reconciliationID)
		if err != nil {
			return err
		}
		if err := e.requirePrivileged(ctx, cur.EvaluationID, lead, "override consensus"); err != nil {
			return err
		}
		eval, err := e.store.GetEvaluation(ctx, cur.EvaluationID)
		if err != nil {
			return err
		}
		if err := e.coordinator.Override(cur, eval.EffectiveScale(), value, reason); err != nil {
			return err
		}
		out, err = e.commitConsensus(ctx, cur, cur.Version, func(snap *scoring.Snapshot) domain.ConsensusScore {
			return e.coordinator.Consensus(snap, cur, value, reason, lead, reason, e.now())
		})
		return err
	})
	if err != nil {
		return ConsensusOutcome{}, err
	}
	e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "overridden"})
	return out, nil
}

// SweepDeadlines applies the configured deadline fallback to every
// reconciliation past its deadline. report_unresolved changes nothing;
// the pair already reports as unresolved. Records moved by a concurrent
// writer are skipped and picked up by the next sweep.
func (e *Engine) SweepDeadlines(ctx context.Context, evaluationID string) (_ []scoring.DeadlineAction, err error) {
	ctx, op := e.observer.Start(ctx, "SweepDeadlines", middleware.Target{EvaluationID: evaluationID})
	defer func() { op.End(err) }()

	snap, err := scoring.LoadSnapshot(ctx, e.store, e.catalog, evaluationID)
	if err != nil {
		return nil, err
	}
	actions := e.coordinator.SweepDeadlines(snap, e.now())
	applied := make([]scoring.DeadlineAction, 0, len(actions))
	for _, act := range actions {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		r := act.Reconciliation
		switch {
		case act.Escalate:
			updated, err := e.store.UpdateReconciliation(ctx, r, r.Version)
			if domain.IsConflict(err) {
				e.logger.Debug("escalation skipped", "reconciliation_id", r.ID, "error", err)
				continue
			}
			if err != nil {
				return applied, err
			}
			act.Reconciliation = updated
			e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "escalated"})
			e.notify(ctx, domain.Event{
				Type:         domain.EventReconciliationEscalated,
				EvaluationID: evaluationID,
				VendorID:     r.VendorID,
				CriterionID:  r.CriterionID,
				Detail:       map[string]string{"reconciliation_id": r.ID, "deadline": r.Deadline.Format(time.RFC3339)},
			})
		case act.Consensus != nil:
			cs := *act.Consensus
			out, err := e.commitConsensus(ctx, r, r.Version, func(*scoring.Snapshot) domain.ConsensusScore { return cs })
			if domain.IsConflict(err) || domain.IsLocked(err) {
				e.logger.Debug("median fallback skipped", "reconciliation_id", r.ID, "error", err)
				continue
			}
			if err != nil {
				return applied, err
			}
			act.Reconciliation = out.Reconciliation
			act.Consensus = out.Consensus
			e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "median_fallback"})
		default:
			e.logger.Debug("reconciliation unresolved past deadline",
				"evaluation_id", evaluationID, "vendor_id", r.VendorID, "criterion_id", r.CriterionID)
		}
		applied = append(applied, act)
	}
	return applied, nil
}

// commitConsensus locks the consensus built by build against a fresh
// snapshot and fires score-locked.
func (e *Engine) commitConsensus(
	ctx context.Context,
	r domain.Reconciliation,
	expectedVersion int64,
	build func(*scoring.Snapshot) domain.ConsensusScore,
) (ConsensusOutcome, error) {
	snap, err := scoring.LoadSnapshot(ctx, e.store, e.catalog, r.EvaluationID)
	if err != nil {
		return ConsensusOutcome{}, err
	}
	cs := build(snap)
	committed, err := e.store.CommitConsensus(ctx, r, expectedVersion, cs)
	if err != nil {
		return ConsensusOutcome{}, err
	}
	cs.ID = committed.ConsensusID
	e.counter(middleware.MetricReconciliations, map[string]string{"outcome": "locked"})
	e.logger.Info("consensus locked",
		"evaluation_id", r.EvaluationID, "vendor_id", r.VendorID, "criterion_id", r.CriterionID,
		"value", cs.Value, "locked_by", cs.LockedBy)
	e.notify(ctx, domain.Event{
		Type:         domain.EventScoreLocked,
		EvaluationID: r.EvaluationID,
		VendorID:     r.VendorID,
		CriterionID:  r.CriterionID,
		Detail: map[string]string{
			"consensus_id": cs.ID,
			"value":        strconv.FormatFloat(cs.Value, 'f', -1, 64),
			"locked_by":    cs.LockedBy,
		},
	})
	return ConsensusOutcome{Reconciliation: committed, Consensus: &cs}, nil
}

// requireScorer checks that userID is an evaluator or holds a lead role in
// r's evaluation.
func (e *Engine) requireScorer(ctx context.Context, r domain.Reconciliation, userID string) error {
	v, err := e.viewer(ctx, r.EvaluationID, userID)
	if err != nil {
		return err
	}
	if v.Role == domain.RoleEvaluator || v.Role.Privileged() {
		return nil
	}
	return fmt.Errorf("%w: %s (%s) may not propose a consensus", domain.ErrUnauthorized, userID, v.Role)
}

// requireParticipant checks that userID contributed to r or holds a lead
// role.
func (e *Engine) requireParticipant(ctx context.Context, r domain.Reconciliation, userID string) error {
	v, err := e.viewer(ctx, r.EvaluationID, userID)
	if err != nil {
		return err
	}
	if v.Role.Privileged() || r.IsContributor(userID) {
		return nil
	}
	return fmt.Errorf("%w: %s is not a contributing evaluator", domain.ErrUnauthorized, userID)
}
