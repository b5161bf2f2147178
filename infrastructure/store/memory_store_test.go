package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) ports.Store { return NewMemoryStore() })
}

// TestMemoryStore_ReturnsCopies tests that callers cannot mutate stored
// records through returned values.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s, f, ctx := NewMemoryStore(), newFixture(), context.Background()
	f.seed(t, s)

	sc := f.score("e1", 3, domain.ScoreSubmitted)
	sc.EvidenceIDs = []string{"ev-1"}
	stored, err := s.WriteScore(ctx, sc, 0, f.scopes())
	require.NoError(t, err)
	stored.EvidenceIDs[0] = "tampered"

	got, err := s.GetScore(ctx, f.evalID, sc.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-1"}, got.EvidenceIDs)

	revealed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	eval, err := s.GetEvaluation(ctx, f.evalID)
	require.NoError(t, err)
	eval.RevealedAt = &revealed
	eval, err = s.UpdateEvaluation(ctx, eval, eval.Version)
	require.NoError(t, err)
	*eval.RevealedAt = time.Time{}

	again, err := s.GetEvaluation(ctx, f.evalID)
	require.NoError(t, err)
	assert.Equal(t, revealed, *again.RevealedAt)
}

func TestMemoryStore_UnknownEvaluation(t *testing.T) {
	s, ctx := NewMemoryStore(), context.Background()

	_, err := s.WriteScore(ctx, domain.Score{EvaluationID: "nope", VendorID: "v", CriterionID: "c", EvaluatorID: "e"}, 0, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.AppendLockRecord(ctx, domain.LockRecord{EvaluationID: "nope"}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.SaveAnomaly(ctx, domain.Anomaly{EvaluationID: "nope"}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.SaveCategory(ctx, domain.Category{ID: "c", EvaluationID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
