package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// WeightUpdate changes one weight. CategoryID names the parent category for
// criterion-level changes and is ignored for category-level ones.
type WeightUpdate struct {
	EvaluationID string
	Level        domain.WeightLevel
	CategoryID   string
	ChangedID    string
	Weight       float64
	Actor        string
}

// RecalculateWeights applies a weight change under the configured policy.
// Under the manual policy siblings are untouched and a resulting imbalance
// is reported in WeightChange.Mismatch rather than as an error: draft
// edits are allowed, only phase transitions are blocked.
func (e *Engine) RecalculateWeights(ctx context.Context, upd WeightUpdate) (_ domain.WeightChange, err error) {
	ctx, op := e.observer.Start(ctx, "RecalculateWeights", middleware.Target{EvaluationID: upd.EvaluationID, UserID: upd.Actor})
	defer func() { op.End(err) }()

	if err := e.requirePrivileged(ctx, upd.EvaluationID, upd.Actor, "change weights"); err != nil {
		return domain.WeightChange{}, err
	}

	var change domain.WeightChange
	err = e.retry(ctx, "weights", func() error {
		eval, err := e.store.GetEvaluation(ctx, upd.EvaluationID)
		if err != nil {
			return err
		}
		scopeID, items, err := e.weightLevel(ctx, upd)
		if err != nil {
			return err
		}
		change, err = domain.RecalcAfterChange(upd.Level, scopeID, items, upd.ChangedID, upd.Weight, e.config.WeightPolicy)
		if err != nil {
			return err
		}
		_, err = e.store.ApplyWeights(ctx, upd.EvaluationID, upd.Level, change.Weights, eval.Version)
		return err
	})
	if err != nil {
		return domain.WeightChange{}, err
	}
	if change.Mismatch != nil {
		e.logger.Info("weights need manual correction", "evaluation_id", upd.EvaluationID, "mismatch", change.Mismatch.Error())
	}
	return change, nil
}

func (e *Engine) weightLevel(ctx context.Context, upd WeightUpdate) (string, []domain.Weighted, error) {
	switch upd.Level {
	case domain.WeightLevelCategory:
		categories, err := e.store.ListCategories(ctx, upd.EvaluationID)
		if err != nil {
			return "", nil, err
		}
		items := make([]domain.Weighted, 0, len(categories))
		for _, c := range categories {
			items = append(items, domain.Weighted{ID: c.ID, Weight: c.Weight})
		}
		return upd.EvaluationID, items, nil
	case domain.WeightLevelCriterion:
		criteria, err := e.store.ListCriteria(ctx, upd.EvaluationID)
		if err != nil {
			return "", nil, err
		}
		items := make([]domain.Weighted, 0)
		for _, c := range criteria {
			if c.CategoryID == upd.CategoryID {
				items = append(items, domain.Weighted{ID: c.ID, Weight: c.Weight})
			}
		}
		if len(items) == 0 {
			return "", nil, fmt.Errorf("category %s: %w", upd.CategoryID, domain.ErrNotFound)
		}
		return upd.CategoryID, items, nil
	default:
		verr := domain.NewValidationError("Weight")
		verr.AddError(fmt.Sprintf("unknown weight level %q", upd.Level))
		return "", nil, verr
	}
}

// TransitionPhase moves an evaluation one-way through its phases. Entering
// scoring requires valid category and criterion weights. Entering
// reconciliation stamps the reveal and flags every variance.
func (e *Engine) TransitionPhase(ctx context.Context, evaluationID, actor string, next domain.Phase) (_ domain.Evaluation, err error) {
	ctx, op := e.observer.Start(ctx, "TransitionPhase", middleware.Target{EvaluationID: evaluationID, UserID: actor})
	defer func() { op.End(err) }()

	if !next.Valid() {
		if _, err := ParsePhase(string(next)); err != nil {
			return domain.Evaluation{}, err
		}
	}
	if err := e.requirePrivileged(ctx, evaluationID, actor, "change the evaluation phase"); err != nil {
		return domain.Evaluation{}, err
	}

	var out domain.Evaluation
	err = e.retry(ctx, "phase", func() error {
		eval, err := e.store.GetEvaluation(ctx, evaluationID)
		if err != nil {
			return err
		}
		if !eval.Phase.CanTransitionTo(next) {
			return &domain.TransitionError{Entity: "evaluation", From: string(eval.Phase), To: string(next)}
		}
		if next == domain.PhaseScoring {
			if err := e.checkWeights(ctx, evaluationID); err != nil {
				return err
			}
		}
		upd := eval
		upd.Phase = next
		if next.Reveals() && upd.RevealedAt == nil {
			at := e.now()
			upd.RevealedAt = &at
		}
		out, err = e.store.UpdateEvaluation(ctx, upd, eval.Version)
		return err
	})
	if err != nil {
		return domain.Evaluation{}, err
	}
	e.logger.Info("evaluation phase changed", "evaluation_id", evaluationID, "phase", next, "actor", actor)

	if next == domain.PhaseReconciliation {
		if _, ferr := e.flag(ctx, evaluationID); ferr != nil {
			e.logger.Warn("variance flagging failed", "evaluation_id", evaluationID, "error", ferr)
		}
	}
	return out, nil
}

// checkWeights validates the category level and every category's criteria.
// All mismatches are logged; the first is returned.
func (e *Engine) checkWeights(ctx context.Context, evaluationID string) error {
	categories, err := e.store.ListCategories(ctx, evaluationID)
	if err != nil {
		return err
	}
	criteria, err := e.store.ListCriteria(ctx, evaluationID)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		verr := domain.NewValidationError("Evaluation")
		verr.AddError("no categories defined")
		return verr
	}

	var errs []error
	if err := domain.ValidateCategoryWeights(categories); err != nil {
		errs = append(errs, err)
	}
	for _, c := range categories {
		own := make([]domain.Criterion, 0)
		for _, cr := range criteria {
			if cr.CategoryID == c.ID {
				own = append(own, cr)
			}
		}
		if err := domain.ValidateCriterionWeights(c, own); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	e.logger.Info("weight validation failed", "evaluation_id", evaluationID, "error", errors.Join(errs...))
	return errs[0]
}

// SetBlindScoring toggles blind mode. It can only be enabled during setup;
// disabling it is allowed at any time since it only widens visibility.
func (e *Engine) SetBlindScoring(ctx context.Context, evaluationID, actor string, enabled bool) (_ domain.Evaluation, err error) {
	ctx, op := e.observer.Start(ctx, "SetBlindScoring", middleware.Target{EvaluationID: evaluationID, UserID: actor})
	defer func() { op.End(err) }()

	if err := e.requirePrivileged(ctx, evaluationID, actor, "change blind scoring"); err != nil {
		return domain.Evaluation{}, err
	}

	var out domain.Evaluation
	err = e.retry(ctx, "blind", func() error {
		eval, err := e.store.GetEvaluation(ctx, evaluationID)
		if err != nil {
			return err
		}
		if eval.BlindScoring == enabled {
			out = eval
			return nil
		}
		if enabled && eval.Phase != domain.PhaseSetup {
			verr := domain.NewValidationError("Evaluation")
			verr.AddError(fmt.Sprintf("blind scoring cannot be enabled in phase %s", eval.Phase))
			return verr
		}
		upd := eval
		upd.BlindScoring = enabled
		out, err = e.store.UpdateEvaluation(ctx, upd, eval.Version)
		return err
	})
	return out, err
}
