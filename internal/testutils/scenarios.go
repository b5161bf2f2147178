// Package testutils provides scenario fixtures and test doubles shared by
// the package tests.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/store"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/dataset"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// Fixed identifiers used by the scenarios.
const (
	EvaluationID = "eval-erp"

	CategoryFunctional = "cat-functional"
	CategoryCommercial = "cat-commercial"

	CriterionA = "crit-a"
	CriterionB = "crit-b"
	CriterionC = "crit-c"

	VendorAcme     = "acme"
	VendorGlobex   = "globex"
	VendorInitech  = "initech"
	VendorUmbrella = "umbrella"

	Evaluator1 = "e1"
	Evaluator2 = "e2"
	Lead       = "lead"
	Admin      = "admin"

	RequirementSSO     = "req-sso"
	RequirementReports = "req-reports"
	RequirementPricing = "req-pricing"
)

// Epoch is the creation time of every scenario evaluation.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Clock returns a controllable clock starting at Epoch.
func Clock() *FakeClock { return &FakeClock{now: Epoch} }

// FakeClock is a manually advanced clock.
type FakeClock struct {
	now time.Time
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// DisputedSSO is an evaluation where two evaluators disagree on single
// sign-on: categories Functional 60 and Commercial 40, Functional criteria
// A 70 and B 30. Evaluator1 scores A=4, B=3 and Evaluator2 scores A=2, B=3
// for acme; both score Commercial 5.
// Globex receives a flat 3 from both evaluators.
func DisputedSSO() *dataset.Dataset {
	ds := &dataset.Dataset{
		Metadata: dataset.Metadata{Name: "disputed-sso", Version: "1"},
		Evaluation: dataset.Evaluation{
			ID:        EvaluationID,
			Name:      "ERP replacement",
			Phase:     domain.PhaseScoring,
			Scale:     domain.DefaultScale,
			CreatedAt: Epoch,
		},
		Categories: []dataset.Category{
			{
				ID: CategoryFunctional, Name: "Functional", Weight: 60, SortOrder: 1,
				Criteria: []dataset.Criterion{
					{ID: CriterionA, Name: "Single sign-on", Weight: 70, SortOrder: 1},
					{ID: CriterionB, Name: "Reporting", Weight: 30, SortOrder: 2},
				},
			},
			{
				ID: CategoryCommercial, Name: "Commercial", Weight: 40, SortOrder: 2,
				Criteria: []dataset.Criterion{
					{ID: CriterionC, Name: "Total cost", Weight: 100, SortOrder: 1},
				},
			},
		},
		Vendors: []dataset.Vendor{
			{ID: VendorAcme, Name: "Acme", Stage: domain.VendorStageShortlisted, CreatedAt: Epoch},
			{ID: VendorGlobex, Name: "Globex", Stage: domain.VendorStageShortlisted, CreatedAt: Epoch.Add(time.Hour)},
		},
		Requirements: []dataset.Requirement{
			{ID: RequirementSSO, Title: "SAML single sign-on", Priority: domain.PriorityMustHave, CriterionIDs: []string{CriterionA}},
			{ID: RequirementReports, Title: "Scheduled reports", Priority: domain.PriorityShouldHave, CriterionIDs: []string{CriterionB}},
			{ID: RequirementPricing, Title: "Fixed price", Priority: domain.PriorityMustHave, CriterionIDs: []string{CriterionC}},
		},
		Evidence: []dataset.Evidence{
			{ID: "ev-demo", CriterionID: CriterionA, VendorID: VendorAcme, Type: domain.EvidenceDemonstration, Title: "SSO demo"},
		},
		Questions: []dataset.Question{
			{ID: "q-sso", CriterionID: CriterionA, Text: "Describe your SAML support", SortOrder: 1},
		},
		Responses: []dataset.Response{
			{ID: "r-sso-acme", QuestionID: "q-sso", VendorID: VendorAcme, Text: "SAML 2.0 with Okta and Entra"},
		},
		Users: []dataset.User{
			{ID: Evaluator1, Role: domain.RoleEvaluator},
			{ID: Evaluator2, Role: domain.RoleEvaluator},
			{ID: Lead, Role: domain.RoleLead},
			{ID: Admin, Role: domain.RoleAdmin},
		},
	}
	ds.Scores = []dataset.Score{
		submitted(VendorAcme, CriterionA, Evaluator1, 4),
		submitted(VendorAcme, CriterionB, Evaluator1, 3),
		submitted(VendorAcme, CriterionA, Evaluator2, 2),
		submitted(VendorAcme, CriterionB, Evaluator2, 3),
		submitted(VendorAcme, CriterionC, Evaluator1, 5),
		submitted(VendorAcme, CriterionC, Evaluator2, 5),
	}
	for _, crit := range []string{CriterionA, CriterionB, CriterionC} {
		for _, ev := range []string{Evaluator1, Evaluator2} {
			ds.Scores = append(ds.Scores, submitted(VendorGlobex, crit, ev, 3))
		}
	}
	return ds
}

// PriceOutlier carries price quotes of 100k, 105k, 98k and
// 40k across four vendors, with matching schedule lengths for the first
// two only.
func PriceOutlier() *dataset.Dataset {
	ds := DisputedSSO()
	ds.Metadata.Name = "price-outlier"
	ds.Scores = nil
	ds.Vendors = append(ds.Vendors,
		dataset.Vendor{ID: VendorInitech, Name: "Initech", Stage: domain.VendorStageResponded, CreatedAt: Epoch.Add(2 * time.Hour)},
		dataset.Vendor{ID: VendorUmbrella, Name: "Umbrella", Stage: domain.VendorStageResponded, CreatedAt: Epoch.Add(3 * time.Hour)},
	)
	ds.Metrics = []dataset.Metric{
		{VendorID: VendorAcme, Dimension: domain.DimensionPrice, Value: 100000},
		{VendorID: VendorGlobex, Dimension: domain.DimensionPrice, Value: 105000},
		{VendorID: VendorInitech, Dimension: domain.DimensionPrice, Value: 98000},
		{VendorID: VendorUmbrella, Dimension: domain.DimensionPrice, Value: 40000},
		{VendorID: VendorAcme, Dimension: domain.DimensionSchedule, Value: 120},
		{VendorID: VendorGlobex, Dimension: domain.DimensionSchedule, Value: 150},
	}
	return ds
}

func submitted(vendorID, criterionID, evaluatorID string, value float64) dataset.Score {
	return dataset.Score{
		VendorID:    vendorID,
		CriterionID: criterionID,
		EvaluatorID: evaluatorID,
		Value:       value,
		Rationale:   "scored against the response",
		Status:      domain.ScoreSubmitted,
	}
}

// Seeded is a dataset loaded into an in-memory store and catalog.
type Seeded struct {
	Store      *store.MemoryStore
	Catalog    *store.MemoryCatalog
	Evaluation domain.Evaluation
}

// Seed validates ds and loads it into fresh in-memory backends.
func Seed(t testing.TB, ds *dataset.Dataset) Seeded {
	t.Helper()
	require.NoError(t, dataset.Validate(ds))
	s := Seeded{Store: store.NewMemoryStore(), Catalog: store.NewMemoryCatalog()}
	eval, err := dataset.Seed(context.Background(), ds, s.Store, s.Catalog)
	require.NoError(t, err)
	s.Evaluation = eval
	return s
}
