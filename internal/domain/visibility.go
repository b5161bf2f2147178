package domain

import "time"

// Role is an actor's entitlement within an evaluation.
type Role string

// Supported roles.
const (
	RoleEvaluator Role = "evaluator"
	RoleLead      Role = "lead"
	RoleAdmin     Role = "admin"
)

// RoleValues lists every role.
func RoleValues() []string {
	return []string{string(RoleEvaluator), string(RoleLead), string(RoleAdmin)}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return containsValue(RoleValues(), string(r)) }

// Privileged reports whether the role always has full visibility and may
// override consensus or change weights.
func (r Role) Privileged() bool { return r == RoleLead || r == RoleAdmin }

// Viewer is the actor asking to see scores.
type Viewer struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// VisibilityContext captures everything CanView needs besides the viewer
// and the score.
type VisibilityContext struct {
	Phase      Phase
	BlindMode  bool
	RevealedAt *time.Time
	// SubmittedCriteria holds the criteria for which the viewer has
	// submitted at least one score.
	SubmittedCriteria map[string]bool
}

// NewVisibilityContext builds the context for a viewer from the evaluation
// and the scores the viewer owns.
func NewVisibilityContext(eval Evaluation, viewerID string, scores []Score) VisibilityContext {
	submitted := make(map[string]bool)
	for _, s := range scores {
		if s.EvaluatorID == viewerID && s.Submitted() {
			submitted[s.CriterionID] = true
		}
	}
	return VisibilityContext{
		Phase:             eval.Phase,
		BlindMode:         eval.BlindScoring,
		RevealedAt:        eval.RevealedAt,
		SubmittedCriteria: submitted,
	}
}

// CanView decides whether viewer may see score.
//
// Owners always see their own scores, drafts included. Nobody else sees a
// draft. Leads and admins see every submitted score. Submitted scores are
// visible to everyone once the evaluation has revealed (reconciliation or later, or a
// recorded RevealedAt) or when blind mode is off. While blind mode is on and
// nothing has been revealed, a viewer sees peers' submitted scores only for
// criteria they have submitted a score for themselves.
//
// Every input only grows toward visibility: phases move forward, RevealedAt
// is never cleared, submitted scores never revert to draft and blind mode
// cannot be enabled after setup. A score that was visible therefore stays
// visible.
func CanView(viewer Viewer, score Score, vc VisibilityContext) bool {
	if viewer.UserID != "" && viewer.UserID == score.EvaluatorID {
		return true
	}
	if !score.Submitted() {
		return false
	}
	if viewer.Role.Privileged() {
		return true
	}
	if vc.RevealedAt != nil || vc.Phase.Reveals() {
		return true
	}
	if !vc.BlindMode {
		return true
	}
	return vc.SubmittedCriteria[score.CriterionID]
}

// FilterVisible returns the subset of scores viewer may see.
func FilterVisible(viewer Viewer, scores []Score, vc VisibilityContext) []Score {
	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if CanView(viewer, s, vc) {
			out = append(out, s)
		}
	}
	return out
}
