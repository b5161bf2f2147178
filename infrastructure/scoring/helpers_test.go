package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/combiners"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/dataset"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/testutils"
)

const eps = 1e-9

func newAggregator(t *testing.T, now func() time.Time) *scoring.Aggregator {
	t.Helper()
	c, err := combiners.NewMeanCombiner(combiners.DefaultMeanConfig())
	require.NoError(t, err)
	return scoring.NewAggregator(c, now)
}

func load(t *testing.T, s testutils.Seeded) *scoring.Snapshot {
	t.Helper()
	snap, err := scoring.LoadSnapshot(context.Background(), s.Store, s.Catalog, s.Evaluation.ID)
	require.NoError(t, err)
	return snap
}

func seedAndLoad(t *testing.T, ds *dataset.Dataset) (testutils.Seeded, *scoring.Snapshot) {
	t.Helper()
	s := testutils.Seed(t, ds)
	return s, load(t, s)
}

// pairScores gives a vendor one score per evaluator for each criterion:
// values[crit] = {e1, e2}.
func pairScores(vendorID string, values map[string][2]float64) []dataset.Score {
	out := make([]dataset.Score, 0, 2*len(values))
	for crit, v := range values {
		for i, ev := range []string{testutils.Evaluator1, testutils.Evaluator2} {
			out = append(out, dataset.Score{
				VendorID:    vendorID,
				CriterionID: crit,
				EvaluatorID: ev,
				Value:       v[i],
				Rationale:   "scored",
				Status:      domain.ScoreSubmitted,
			})
		}
	}
	return out
}

// dropScores removes every score of vendorID for criterionID.
func dropScores(ds *dataset.Dataset, vendorID, criterionID string) {
	kept := ds.Scores[:0]
	for _, s := range ds.Scores {
		if s.VendorID == vendorID && s.CriterionID == criterionID {
			continue
		}
		kept = append(kept, s)
	}
	ds.Scores = kept
}

// openReconciliation flags snap with coord and persists the result.
func openReconciliation(
	t *testing.T,
	s testutils.Seeded,
	coord *scoring.Coordinator,
	snap *scoring.Snapshot,
	now time.Time,
) []domain.Reconciliation {
	t.Helper()
	out := make([]domain.Reconciliation, 0)
	for _, r := range coord.Flag(snap, now) {
		stored, err := s.Store.CreateReconciliation(context.Background(), r)
		require.NoError(t, err)
		out = append(out, stored)
	}
	return out
}

func newCoordinator(t *testing.T, fallback domain.DeadlineFallback) *scoring.Coordinator {
	t.Helper()
	cfg := scoring.DefaultReconcileConfig()
	cfg.Fallback = fallback
	coord, err := scoring.NewCoordinator(cfg)
	require.NoError(t, err)
	return coord
}

func criterionResult(t *testing.T, vr scoring.VendorResult, criterionID string) scoring.CriterionResult {
	t.Helper()
	for _, c := range vr.Categories {
		for _, cr := range c.Criteria {
			if cr.CriterionID == criterionID {
				return cr
			}
		}
	}
	t.Fatalf("criterion %s not in breakdown", criterionID)
	return scoring.CriterionResult{}
}
