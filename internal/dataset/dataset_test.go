package dataset_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/store"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/dataset"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/testutils"
)

const minimalYAML = `
metadata:
  name: minimal
  version: "1"
evaluation:
  id: eval-1
  name: CRM selection
  phase: scoring
  created_at: 2026-01-05T10:00:00Z
categories:
  - id: cat-1
    name: Functional
    weight: 100
    criteria:
      - id: crit-1
        name: Workflow
        weight: 100
vendors:
  - id: v1
    name: Vendor One
    stage: responded
users:
  - id: e1
    role: evaluator
scores:
  - vendor_id: v1
    criterion_id: crit-1
    evaluator_id: e1
    value: 4
    rationale: strong workflow designer
    status: submitted
`

// TestParse_Minimal tests that a small but complete dataset decodes.
func TestParse_Minimal(t *testing.T) {
	ds, err := dataset.Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "eval-1", ds.Evaluation.ID)
	assert.Equal(t, domain.PhaseScoring, ds.Evaluation.Phase)
	require.Len(t, ds.Categories, 1)
	require.Len(t, ds.Categories[0].Criteria, 1)
	assert.InDelta(t, 100.0, ds.Categories[0].Criteria[0].Weight, 1e-9)
	require.Len(t, ds.Scores, 1)
	assert.Equal(t, domain.ScoreSubmitted, ds.Scores[0].Status)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "metadata: [",
			wantErr: "failed to parse dataset YAML",
		},
		{
			name:    "missing required field",
			yaml:    "metadata:\n  version: \"1\"\nevaluation:\n  id: e\n  name: n\n  phase: setup\n",
			wantErr: "dataset validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dataset.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestValidate_Rules tests the semantic checks that struct tags cannot
// express: enums, unique IDs, cross references and score rules.
func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(ds *dataset.Dataset)
		wantMsg string
	}{
		{
			name:    "unknown phase",
			mutate:  func(ds *dataset.Dataset) { ds.Evaluation.Phase = "drafting" },
			wantMsg: `unknown phase "drafting"`,
		},
		{
			name:    "inverted scale",
			mutate:  func(ds *dataset.Dataset) { ds.Evaluation.Scale = domain.Scale{Min: 5, Max: 1} },
			wantMsg: "scale [5, 1] must have min below max",
		},
		{
			name: "duplicate vendor",
			mutate: func(ds *dataset.Dataset) {
				ds.Vendors = append(ds.Vendors, dataset.Vendor{ID: testutils.VendorAcme, Name: "Acme 2", Stage: domain.VendorStageInvited})
			},
			wantMsg: "duplicate vendor ID acme",
		},
		{
			name: "unknown vendor stage",
			mutate: func(ds *dataset.Dataset) {
				ds.Vendors[0].Stage = "sleeping"
			},
			wantMsg: `vendor acme: unknown stage "sleeping"`,
		},
		{
			name: "requirement links unknown criterion",
			mutate: func(ds *dataset.Dataset) {
				ds.Requirements[0].CriterionIDs = []string{"crit-missing"}
			},
			wantMsg: "requirement req-sso references unknown criterion crit-missing",
		},
		{
			name: "criterion links unknown requirement",
			mutate: func(ds *dataset.Dataset) {
				ds.Categories[0].Criteria[0].RequirementIDs = []string{"req-missing"}
			},
			wantMsg: "criterion crit-a references unknown requirement req-missing",
		},
		{
			name: "response to unknown question",
			mutate: func(ds *dataset.Dataset) {
				ds.Responses[0].QuestionID = "q-missing"
			},
			wantMsg: "response r-sso-acme references unknown question q-missing",
		},
		{
			name: "unknown metric dimension",
			mutate: func(ds *dataset.Dataset) {
				ds.Metrics = []dataset.Metric{{VendorID: testutils.VendorAcme, Dimension: "weight", Value: 1}}
			},
			wantMsg: `metric for acme: unknown dimension "weight"`,
		},
		{
			name: "score by unknown user",
			mutate: func(ds *dataset.Dataset) {
				ds.Scores[0].EvaluatorID = "ghost"
			},
			wantMsg: "score 0 references unknown user ghost",
		},
		{
			name: "duplicate score",
			mutate: func(ds *dataset.Dataset) {
				ds.Scores = append(ds.Scores, ds.Scores[0])
			},
			wantMsg: "duplicate score for acme/crit-a/e1",
		},
		{
			name: "score outside scale",
			mutate: func(ds *dataset.Dataset) {
				ds.Scores[0].Value = 6
			},
			wantMsg: "score 0: value 6 is outside scale [1, 5]",
		},
		{
			name: "submitted score without rationale",
			mutate: func(ds *dataset.Dataset) {
				ds.Scores[0].Rationale = "  "
			},
			wantMsg: "score 0: rationale required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := testutils.DisputedSSO()
			tt.mutate(ds)

			err := dataset.Validate(ds)
			require.Error(t, err)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr), "got %T: %v", err, err)
			assert.Equal(t, "Dataset", verr.Entity)
			assert.True(t, verr.Has(tt.wantMsg), "errors: %v", verr.Errors)
		})
	}
}

func TestValidate_Scenarios(t *testing.T) {
	assert.NoError(t, dataset.Validate(testutils.DisputedSSO()))
	assert.NoError(t, dataset.Validate(testutils.PriceOutlier()))
	assert.Error(t, dataset.Validate(nil))
}

// TestSeed_DisputedSSO tests that seeding reproduces the dataset in the
// store and catalog.
func TestSeed_DisputedSSO(t *testing.T) {
	ctx := context.Background()
	ds := testutils.DisputedSSO()
	st := store.NewMemoryStore()
	cat := store.NewMemoryCatalog()

	eval, err := dataset.Seed(ctx, ds, st, cat)
	require.NoError(t, err)

	assert.Equal(t, testutils.EvaluationID, eval.ID)
	assert.Equal(t, domain.PhaseScoring, eval.Phase)
	assert.Nil(t, eval.RevealedAt, "scoring phase does not reveal")
	assert.Greater(t, eval.Version, int64(1))

	cats, err := st.ListCategories(ctx, eval.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, testutils.CategoryFunctional, cats[0].ID)

	crits, err := st.ListCriteria(ctx, eval.ID)
	require.NoError(t, err)
	assert.Len(t, crits, 3)

	scores, err := st.ListScores(ctx, eval.ID)
	require.NoError(t, err)
	assert.Len(t, scores, len(ds.Scores))
	for _, s := range scores {
		assert.True(t, s.Submitted())
		assert.Equal(t, testutils.Epoch, s.SubmittedAt)
		assert.Equal(t, int64(1), s.Version)
	}

	vendors, err := cat.Vendors(ctx, eval.ID)
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, testutils.VendorAcme, vendors[0].ID)

	role, err := cat.Role(ctx, eval.ID, testutils.Lead)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLead, role)
}

func TestSeed_RevealingPhaseStampsReveal(t *testing.T) {
	ds := testutils.DisputedSSO()
	ds.Evaluation.Phase = domain.PhaseReconciliation

	eval, err := dataset.Seed(context.Background(), ds, store.NewMemoryStore(), store.NewMemoryCatalog())
	require.NoError(t, err)
	require.NotNil(t, eval.RevealedAt)
	assert.Equal(t, testutils.Epoch, *eval.RevealedAt)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "disputed-sso.yaml")
	want := testutils.DisputedSSO()

	require.NoError(t, dataset.Save(want, path))
	got, err := dataset.Load(path)
	require.NoError(t, err)

	assert.Equal(t, want.Metadata, got.Metadata)
	assert.Equal(t, want.Categories, got.Categories)
	assert.Equal(t, want.Scores, got.Scores)
	assert.True(t, want.Evaluation.CreatedAt.Equal(got.Evaluation.CreatedAt))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := dataset.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read dataset file")
}

func TestComputeStatistics(t *testing.T) {
	ds := testutils.DisputedSSO()
	ds.Vendors = append(ds.Vendors, dataset.Vendor{ID: "hooli", Name: "Hooli", Stage: domain.VendorStageWithdrawn})
	ds.Scores[0].Status = domain.ScoreDraft

	st := dataset.ComputeStatistics(ds)

	assert.Equal(t, 3, st.Vendors)
	assert.Equal(t, 2, st.ActiveVendors)
	assert.Equal(t, 2, st.Categories)
	assert.Equal(t, 3, st.Criteria)
	assert.Equal(t, 3, st.Requirements)
	assert.Equal(t, 2, st.ByPriority[domain.PriorityMustHave])
	assert.Equal(t, 1, st.ByPriority[domain.PriorityShouldHave])
	assert.Equal(t, len(ds.Scores)-1, st.SubmittedScores)
	assert.Equal(t, 1, st.DraftScores)
	assert.Equal(t, 2, st.Evaluators)
	assert.Equal(t, 0, st.UnlinkedCriteria)
}
