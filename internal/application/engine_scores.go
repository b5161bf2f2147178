package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// ScoreRequest is an evaluator's write of one score. ExpectedVersion is the
// last-seen Version of the score, 0 for a new one.
type ScoreRequest struct {
	EvaluationID    string
	VendorID        string
	CriterionID     string
	EvaluatorID     string
	Value           float64
	Rationale       string
	EvidenceIDs     []string
	ExpectedVersion int64
}

// SubmitScore submits a score. It fails with a ValidationError for an
// out-of-scale value or an empty rationale, a LockedError when an enclosing
// scope is locked or a locked consensus supersedes the pair, and a
// ConcurrencyConflictError when ExpectedVersion is stale. Conflicts are not
// retried: the caller must refetch.
func (e *Engine) SubmitScore(ctx context.Context, req ScoreRequest) (domain.Score, error) {
	return e.writeScore(ctx, "SubmitScore", req, domain.ScoreSubmitted)
}

// SaveDraft stores a draft. Drafts may omit the rationale, do not count in
// aggregation and cannot replace a submitted score.
func (e *Engine) SaveDraft(ctx context.Context, req ScoreRequest) (domain.Score, error) {
	return e.writeScore(ctx, "SaveDraft", req, domain.ScoreDraft)
}

func (e *Engine) writeScore(ctx context.Context, name string, req ScoreRequest, status domain.ScoreStatus) (_ domain.Score, err error) {
	ctx, op := e.observer.Start(ctx, name, middleware.Target{
		EvaluationID: req.EvaluationID,
		VendorID:     req.VendorID,
		CriterionID:  req.CriterionID,
		UserID:       req.EvaluatorID,
	})
	defer func() {
		op.End(err)
		outcome := string(status)
		if err != nil {
			outcome = "rejected"
		}
		e.counter(middleware.MetricScoreSubmissions, map[string]string{"status": outcome})
	}()

	viewer, err := e.viewer(ctx, req.EvaluationID, req.EvaluatorID)
	if err != nil {
		return domain.Score{}, err
	}
	if viewer.Role != domain.RoleEvaluator && viewer.Role != domain.RoleLead {
		return domain.Score{}, fmt.Errorf("%w: %s (%s) may not score", domain.ErrUnauthorized, req.EvaluatorID, viewer.Role)
	}

	eval, err := e.store.GetEvaluation(ctx, req.EvaluationID)
	if err != nil {
		return domain.Score{}, err
	}
	if !acceptsScores(eval.Phase) {
		verr := domain.NewValidationError("Score")
		verr.AddError(fmt.Sprintf("evaluation %s does not accept scores in phase %s", eval.ID, eval.Phase))
		return domain.Score{}, verr
	}
	criterion, err := e.criterion(ctx, req.EvaluationID, req.CriterionID)
	if err != nil {
		return domain.Score{}, err
	}
	vendor, err := e.catalog.Vendor(ctx, req.VendorID)
	if err != nil {
		return domain.Score{}, err
	}
	if vendor.EvaluationID != req.EvaluationID || !vendor.Active() {
		verr := domain.NewValidationError("Score")
		verr.AddError(fmt.Sprintf("vendor %s is not an active vendor of evaluation %s", vendor.ID, req.EvaluationID))
		return domain.Score{}, verr
	}

	now := e.now()
	score := domain.Score{
		EvaluationID: req.EvaluationID,
		VendorID:     req.VendorID,
		CriterionID:  req.CriterionID,
		EvaluatorID:  req.EvaluatorID,
		Value:        req.Value,
		Rationale:    strings.TrimSpace(req.Rationale),
		Status:       status,
		UpdatedAt:    now,
		EvidenceIDs:  req.EvidenceIDs,
	}
	if status == domain.ScoreSubmitted {
		score.SubmittedAt = now
	}
	if err := score.Validate(eval.EffectiveScale()); err != nil {
		e.logger.Info("score rejected", "evaluation_id", req.EvaluationID, "key", score.Key().String(), "error", err)
		return domain.Score{}, err
	}

	scopes := domain.EnclosingScopes(req.EvaluationID, req.VendorID, criterion.CategoryID)
	written, err := e.store.WriteScore(ctx, score, req.ExpectedVersion, scopes)
	var conflict *domain.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		e.counter(middleware.MetricConflicts, map[string]string{"entity": conflict.Entity})
	}
	if err != nil {
		e.logger.Info("score write rejected", "evaluation_id", req.EvaluationID, "key", score.Key().String(), "error", err)
		return domain.Score{}, err
	}

	if status == domain.ScoreSubmitted && eval.Phase.Reveals() {
		if _, ferr := e.flag(ctx, req.EvaluationID); ferr != nil {
			e.logger.Warn("variance flagging failed", "evaluation_id", req.EvaluationID, "error", ferr)
		}
	}
	return written, nil
}

// acceptsScores reports whether evaluators may write scores in phase p.
func acceptsScores(p domain.Phase) bool {
	switch p {
	case domain.PhaseScoring, domain.PhaseSubmitted, domain.PhaseReconciliation:
		return true
	default:
		return false
	}
}

func (e *Engine) criterion(ctx context.Context, evaluationID, criterionID string) (domain.Criterion, error) {
	criteria, err := e.store.ListCriteria(ctx, evaluationID)
	if err != nil {
		return domain.Criterion{}, err
	}
	for _, c := range criteria {
		if c.ID == criterionID {
			return c, nil
		}
	}
	return domain.Criterion{}, fmt.Errorf("criterion %s: %w", criterionID, domain.ErrNotFound)
}
