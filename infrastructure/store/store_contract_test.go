package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// fixture names every record with a per-test prefix so contract runs can
// share one database.
type fixture struct {
	prefix string
	evalID string
}

func newFixture() fixture {
	p := uuid.NewString()[:8]
	return fixture{prefix: p, evalID: p + "-eval"}
}

func (f fixture) id(name string) string { return f.prefix + "-" + name }

func (f fixture) seed(t *testing.T, s ports.Store) domain.Evaluation {
	t.Helper()
	ctx := context.Background()
	eval, err := s.CreateEvaluation(ctx, domain.Evaluation{
		ID:        f.evalID,
		Name:      "ERP replacement",
		Phase:     domain.PhaseScoring,
		Scale:     domain.DefaultScale,
		CreatedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveCategory(ctx, domain.Category{ID: f.id("functional"), EvaluationID: f.evalID, Name: "Functional", Weight: 60, SortOrder: 1}))
	require.NoError(t, s.SaveCategory(ctx, domain.Category{ID: f.id("commercial"), EvaluationID: f.evalID, Name: "Commercial", Weight: 40, SortOrder: 2}))
	require.NoError(t, s.SaveCriterion(ctx, domain.Criterion{ID: f.id("a"), EvaluationID: f.evalID, CategoryID: f.id("functional"), Name: "A", Weight: 70, SortOrder: 1}))
	require.NoError(t, s.SaveCriterion(ctx, domain.Criterion{ID: f.id("b"), EvaluationID: f.evalID, CategoryID: f.id("functional"), Name: "B", Weight: 30, SortOrder: 2, RequirementIDs: []string{f.id("req-1")}}))
	eval, err = s.GetEvaluation(ctx, f.evalID)
	require.NoError(t, err)
	return eval
}

func (f fixture) score(evaluator string, value float64, status domain.ScoreStatus) domain.Score {
	return domain.Score{
		EvaluationID: f.evalID,
		VendorID:     f.id("acme"),
		CriterionID:  f.id("a"),
		EvaluatorID:  f.id(evaluator),
		Value:        value,
		Rationale:    "meets the brief",
		Status:       status,
		UpdatedAt:    time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
	}
}

func (f fixture) scopes() []domain.LockScope {
	return domain.EnclosingScopes(f.evalID, f.id("acme"), f.id("functional"))
}

// runStoreContract exercises the behaviour every ports.Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("evaluation versions", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		created, err := s.CreateEvaluation(ctx, domain.Evaluation{ID: f.evalID, Name: "x", Phase: domain.PhaseSetup})
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		_, err = s.CreateEvaluation(ctx, domain.Evaluation{ID: f.evalID, Name: "again", Phase: domain.PhaseSetup})
		assert.True(t, domain.IsConflict(err))

		created.Phase = domain.PhaseScoring
		_, err = s.UpdateEvaluation(ctx, created, 7)
		assert.True(t, domain.IsConflict(err))

		updated, err := s.UpdateEvaluation(ctx, created, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, domain.PhaseScoring, updated.Phase)

		_, err = s.GetEvaluation(ctx, f.id("missing"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("categories and criteria in display order", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		cats, err := s.ListCategories(ctx, f.evalID)
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, f.id("functional"), cats[0].ID)
		assert.Equal(t, 60.0, cats[0].Weight)

		crit, err := s.ListCriteria(ctx, f.evalID)
		require.NoError(t, err)
		require.Len(t, crit, 2)
		assert.Equal(t, f.id("a"), crit[0].ID)
		assert.Equal(t, []string{f.id("req-1")}, crit[1].RequirementIDs)

		err = s.SaveCriterion(ctx, domain.Criterion{ID: f.id("c"), EvaluationID: f.evalID, CategoryID: f.id("nope"), Weight: 10})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("apply weights is atomic and versioned", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		eval := f.seed(t, s)

		_, err := s.ApplyWeights(ctx, f.evalID, domain.WeightLevelCategory,
			[]domain.Weighted{{ID: f.id("functional"), Weight: 50}}, eval.Version-1)
		assert.True(t, domain.IsConflict(err))

		_, err = s.ApplyWeights(ctx, f.evalID, domain.WeightLevelCategory, []domain.Weighted{
			{ID: f.id("functional"), Weight: 50},
			{ID: f.id("ghost"), Weight: 50},
		}, eval.Version)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		cats, err := s.ListCategories(ctx, f.evalID)
		require.NoError(t, err)
		assert.Equal(t, 60.0, cats[0].Weight, "failed apply must not change weights")

		after, err := s.GetEvaluation(ctx, f.evalID)
		require.NoError(t, err)
		version, err := s.ApplyWeights(ctx, f.evalID, domain.WeightLevelCategory, []domain.Weighted{
			{ID: f.id("functional"), Weight: 55},
			{ID: f.id("commercial"), Weight: 45},
		}, after.Version)
		require.NoError(t, err)
		assert.Equal(t, after.Version+1, version)

		cats, err = s.ListCategories(ctx, f.evalID)
		require.NoError(t, err)
		assert.Equal(t, 55.0, cats[0].Weight)
		assert.Equal(t, 45.0, cats[1].Weight)
	})

	t.Run("score versions and revert", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		draft := f.score("e1", 3, domain.ScoreDraft)
		draft.Rationale = ""
		stored, err := s.WriteScore(ctx, draft, 0, f.scopes())
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.NotEmpty(t, stored.ID)

		_, err = s.WriteScore(ctx, f.score("e1", 4, domain.ScoreSubmitted), 0, f.scopes())
		assert.True(t, domain.IsConflict(err), "stale version must conflict")

		submitted, err := s.WriteScore(ctx, f.score("e1", 4, domain.ScoreSubmitted), 1, f.scopes())
		require.NoError(t, err)
		assert.Equal(t, int64(2), submitted.Version)
		assert.Equal(t, stored.ID, submitted.ID)

		_, err = s.WriteScore(ctx, f.score("e1", 2, domain.ScoreDraft), 2, f.scopes())
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.Has("cannot revert to draft"))

		got, err := s.GetScore(ctx, f.evalID, submitted.Key())
		require.NoError(t, err)
		assert.Equal(t, 4.0, got.Value)
		assert.Equal(t, domain.ScoreSubmitted, got.Status)

		_, err = s.GetScore(ctx, f.evalID, domain.ScoreKey{VendorID: "x", CriterionID: "y", EvaluatorID: "z"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("locked scope rejects writes and leaves storage unchanged", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		first, err := s.WriteScore(ctx, f.score("e1", 3, domain.ScoreSubmitted), 0, f.scopes())
		require.NoError(t, err)

		scope := domain.LockScope{Type: domain.ScopeVendor, ID: f.id("acme")}
		rec, err := s.AppendLockRecord(ctx, domain.LockRecord{
			EvaluationID: f.evalID,
			Scope:        scope,
			Action:       domain.ActionLock,
			Actor:        f.id("lead"),
			Reason:       "final review",
		}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Sequence)

		before, err := s.ListScores(ctx, f.evalID)
		require.NoError(t, err)

		_, err = s.WriteScore(ctx, f.score("e1", 5, domain.ScoreSubmitted), first.Version, f.scopes())
		var lerr *domain.LockedError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, scope, lerr.Scope)
		assert.Equal(t, f.id("lead"), lerr.Actor)

		_, err = s.WriteScore(ctx, f.score("e2", 2, domain.ScoreSubmitted), 0, f.scopes())
		assert.True(t, domain.IsLocked(err))

		after, err := s.ListScores(ctx, f.evalID)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		_, err = s.AppendLockRecord(ctx, domain.LockRecord{
			EvaluationID: f.evalID,
			Scope:        scope,
			Action:       domain.ActionUnlock,
			Actor:        f.id("lead"),
			Reason:       "reopened",
		}, 1)
		require.NoError(t, err)

		_, err = s.WriteScore(ctx, f.score("e1", 5, domain.ScoreSubmitted), first.Version, f.scopes())
		assert.NoError(t, err)
	})

	t.Run("lock records are append-only with compare-and-swap", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)
		scope := domain.LockScope{Type: domain.ScopeEvaluation, ID: f.evalID}

		state, err := s.LockState(ctx, scope)
		require.NoError(t, err)
		assert.False(t, state.Locked)
		assert.Equal(t, int64(0), state.Sequence)

		lock := domain.LockRecord{EvaluationID: f.evalID, Scope: scope, Action: domain.ActionLock, Actor: f.id("lead")}
		_, err = s.AppendLockRecord(ctx, lock, 0)
		require.NoError(t, err)

		_, err = s.AppendLockRecord(ctx, lock, 0)
		var conflict *domain.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(1), conflict.Actual)

		unlock := domain.LockRecord{EvaluationID: f.evalID, Scope: scope, Action: domain.ActionUnlock, Actor: f.id("lead"), Reason: "typo"}
		_, err = s.AppendLockRecord(ctx, unlock, 1)
		require.NoError(t, err)

		state, err = s.LockState(ctx, scope)
		require.NoError(t, err)
		assert.False(t, state.Locked)
		assert.Equal(t, int64(2), state.Sequence)

		history, err := s.LockHistory(ctx, scope)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, domain.ActionLock, history[0].Action)
		assert.Equal(t, domain.ActionUnlock, history[1].Action)
		assert.Equal(t, "typo", history[1].Reason)
		assert.False(t, history[0].At.IsZero())
	})

	t.Run("reconciliation is unique per pair and consensus supersedes scores", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		e1, err := s.WriteScore(ctx, f.score("e1", 4, domain.ScoreSubmitted), 0, f.scopes())
		require.NoError(t, err)
		e2, err := s.WriteScore(ctx, f.score("e2", 2, domain.ScoreSubmitted), 0, f.scopes())
		require.NoError(t, err)

		r, err := s.CreateReconciliation(ctx, domain.Reconciliation{
			EvaluationID:    f.evalID,
			VendorID:        f.id("acme"),
			CriterionID:     f.id("a"),
			State:           domain.ReconciliationOpen,
			Variance:        2,
			TriggerScoreIDs: []string{e1.ID, e2.ID},
			Evaluators:      []string{f.id("e1"), f.id("e2")},
			OpenedAt:        time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC),
			Deadline:        time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), r.Version)

		_, err = s.CreateReconciliation(ctx, domain.Reconciliation{EvaluationID: f.evalID, VendorID: f.id("acme"), CriterionID: f.id("a")})
		assert.True(t, domain.IsConflict(err))

		r.State = domain.ReconciliationDiscussing
		r.Notes = []domain.DiscussionNote{{Author: f.id("e1"), Text: "pricing page", At: r.OpenedAt}}
		r, err = s.UpdateReconciliation(ctx, r, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Version)

		_, err = s.UpdateReconciliation(ctx, r, 1)
		assert.True(t, domain.IsConflict(err))

		locked, err := s.CommitConsensus(ctx, r, 2, domain.ConsensusScore{
			Value:                3,
			Rationale:            "agreed after demo",
			ContributingScoreIDs: []string{e1.ID, e2.ID},
			Locked:               true,
			LockedAt:             time.Date(2026, 1, 8, 9, 0, 0, 0, time.UTC),
			LockedBy:             f.id("lead"),
		})
		require.NoError(t, err)
		assert.True(t, locked.Locked())
		assert.NotEmpty(t, locked.ConsensusID)

		got, err := s.GetReconciliation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ReconciliationConsensusLocked, got.State)
		assert.Len(t, got.Notes, 1)

		consensus, err := s.ListConsensus(ctx, f.evalID)
		require.NoError(t, err)
		require.Len(t, consensus, 1)
		assert.Equal(t, 3.0, consensus[0].Value)
		assert.ElementsMatch(t, []string{e1.ID, e2.ID}, consensus[0].ContributingScoreIDs)

		_, err = s.WriteScore(ctx, f.score("e1", 5, domain.ScoreSubmitted), e1.Version, f.scopes())
		var lerr *domain.LockedError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, locked.ConsensusID, lerr.ConsensusID)

		list, err := s.ListReconciliations(ctx, f.evalID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("anomaly versions", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		a, err := s.SaveAnomaly(ctx, domain.Anomaly{
			EvaluationID: f.evalID,
			VendorID:     f.id("acme"),
			Dimension:    domain.DimensionPrice,
			Value:        40000,
			Median:       99000,
			Severity:     domain.SeverityCritical,
			Status:       domain.AnomalyOpen,
			DetectedAt:   time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC),
		}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Version)

		a.Status = domain.AnomalyUnderReview
		_, err = s.SaveAnomaly(ctx, a, 0)
		assert.True(t, domain.IsConflict(err))

		a, err = s.SaveAnomaly(ctx, a, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), a.Version)

		got, err := s.GetAnomaly(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AnomalyUnderReview, got.Status)

		list, err := s.ListAnomalies(ctx, f.evalID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.ID, list[0].ID)
	})

	t.Run("every mutation bumps the evaluation version", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		eval := f.seed(t, s)

		last := eval.Version
		expectBump := func(step string) {
			t.Helper()
			cur, err := s.GetEvaluation(ctx, f.evalID)
			require.NoError(t, err)
			assert.Greater(t, cur.Version, last, step)
			last = cur.Version
		}

		_, err := s.WriteScore(ctx, f.score("e1", 3, domain.ScoreSubmitted), 0, f.scopes())
		require.NoError(t, err)
		expectBump("score")

		_, err = s.AppendLockRecord(ctx, domain.LockRecord{
			EvaluationID: f.evalID,
			Scope:        domain.LockScope{Type: domain.ScopeCategory, ID: f.id("commercial")},
			Action:       domain.ActionLock,
			Actor:        f.id("lead"),
		}, 0)
		require.NoError(t, err)
		expectBump("lock")

		_, err = s.ApplyWeights(ctx, f.evalID, domain.WeightLevelCriterion, []domain.Weighted{
			{ID: f.id("a"), Weight: 60}, {ID: f.id("b"), Weight: 40},
		}, last)
		require.NoError(t, err)
		expectBump("weights")
	})

	t.Run("concurrent writers on one key", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				_, err := s.WriteScore(ctx, f.score("e1", v, domain.ScoreSubmitted), 0, f.scopes())
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else if domain.IsConflict(err) {
					conflicts++
				}
			}(float64(1 + i%5))
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("concurrent lock actions on one scope", func(t *testing.T) {
		s, f, ctx := newStore(t), newFixture(), context.Background()
		f.seed(t, s)
		scope := domain.LockScope{Type: domain.ScopeVendor, ID: f.id("acme")}

		const lockers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < lockers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AppendLockRecord(ctx, domain.LockRecord{
					EvaluationID: f.evalID,
					Scope:        scope,
					Action:       domain.ActionLock,
					Actor:        f.id("lead"),
				}, 0)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)

		history, err := s.LockHistory(ctx, scope)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}
