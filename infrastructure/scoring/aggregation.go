package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/combiners"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// tieEpsilon is the distance under which two vendor totals count as tied.
const tieEpsilon = 1e-9

// CriterionStatus says where a criterion score came from.
type CriterionStatus string

// Criterion score statuses.
const (
	// StatusConsensus means a locked consensus supplied the value.
	StatusConsensus CriterionStatus = "consensus"

	// StatusScored means the submitted scores were combined.
	StatusScored CriterionStatus = "scored"

	// StatusUnscored means there were too few submitted scores. The
	// criterion contributes 0 and keeps its weight in the denominator.
	StatusUnscored CriterionStatus = "unscored"

	// StatusUnresolved means reconciliation passed its deadline without a
	// locked consensus. The criterion contributes 0; the combined value is
	// reported only as ProvisionalValue.
	StatusUnresolved CriterionStatus = "unresolved"
)

// CriterionResult is the score of one vendor against one criterion.
type CriterionResult struct {
	VendorID    string          `json:"vendor_id"`
	CriterionID string          `json:"criterion_id"`
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Weight      float64         `json:"weight"`
	Status      CriterionStatus `json:"status"`

	// Value is the score used in aggregation.
	Value float64 `json:"value"`

	// Contribution is Value × Weight / 100, the share of the category score.
	Contribution float64 `json:"contribution"`

	ScoreCount       int     `json:"score_count"`
	ProvisionalValue float64 `json:"provisional_value,omitempty"`
	ConsensusID      string  `json:"consensus_id,omitempty"`
	ReconciliationID string  `json:"reconciliation_id,omitempty"`
}

// Resolved reports whether the criterion has a value that counts.
func (r CriterionResult) Resolved() bool {
	return r.Status == StatusConsensus || r.Status == StatusScored
}

// CategoryResult is the score of one vendor in one category.
type CategoryResult struct {
	CategoryID string  `json:"category_id"`
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`

	// Score is Σ criterion contributions.
	Score float64 `json:"score"`

	// Contribution is Score × Weight / 100, the share of the vendor total.
	Contribution float64 `json:"contribution"`

	Criteria   []CriterionResult `json:"criteria"`
	Unscored   int               `json:"unscored"`
	Unresolved int               `json:"unresolved"`
}

// VendorResult is a vendor's total with its full breakdown.
type VendorResult struct {
	Vendor     domain.Vendor    `json:"vendor"`
	Rank       int              `json:"rank,omitempty"`
	Total      float64          `json:"total"`
	Categories []CategoryResult `json:"categories"`
	Unscored   int              `json:"unscored"`
	Unresolved int              `json:"unresolved"`
}

// Aggregator computes criterion, category and vendor scores.
//
// Concurrency: stateless after construction and safe for concurrent use.
type Aggregator struct {
	combiner domain.Combiner
	now      func() time.Time
}

// NewAggregator creates an Aggregator. A nil clock uses time.Now; the clock
// decides whether a reconciliation deadline has passed.
func NewAggregator(combiner domain.Combiner, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{combiner: combiner, now: now}
}

// CriterionScore resolves a vendor's score for one criterion: the locked
// consensus if present, else the combination of submitted scores.
func (a *Aggregator) CriterionScore(snap *Snapshot, vendorID, criterionID string) (CriterionResult, error) {
	crit, ok := snap.Criterion(criterionID)
	if !ok {
		return CriterionResult{}, fmt.Errorf("criterion %s: %w", criterionID, domain.ErrNotFound)
	}
	res := CriterionResult{
		VendorID:    vendorID,
		CriterionID: crit.ID,
		CategoryID:  crit.CategoryID,
		Name:        crit.Name,
		Weight:      crit.Weight,
	}
	pair := domain.PairKey{VendorID: vendorID, CriterionID: criterionID}
	submitted := snap.SubmittedScores(pair)
	res.ScoreCount = len(submitted)

	if c, ok := snap.LockedConsensus(pair); ok {
		res.Status = StatusConsensus
		res.Value = c.Value
		res.ConsensusID = c.ID
		res.Contribution = res.Value * res.Weight / 100
		return res, nil
	}

	if len(submitted) == 0 {
		res.Status = StatusUnscored
		return res, nil
	}
	values := make([]float64, len(submitted))
	for i, s := range submitted {
		values[i] = s.Value
	}
	combined, err := a.combiner.Combine(values)
	if errors.Is(err, combiners.ErrTooFewScores) {
		res.Status = StatusUnscored
		return res, nil
	}
	if err != nil {
		return CriterionResult{}, fmt.Errorf("combine %s/%s: %w", vendorID, criterionID, err)
	}

	if r, ok := snap.Reconciliation(pair); ok && r.Unresolved(a.now()) {
		res.Status = StatusUnresolved
		res.ProvisionalValue = combined
		res.ReconciliationID = r.ID
		return res, nil
	}

	res.Status = StatusScored
	res.Value = combined
	res.Contribution = res.Value * res.Weight / 100
	return res, nil
}

// CategoryScore sums the weighted criterion scores of one category.
func (a *Aggregator) CategoryScore(snap *Snapshot, vendorID, categoryID string) (CategoryResult, error) {
	cat, ok := snap.Category(categoryID)
	if !ok {
		return CategoryResult{}, fmt.Errorf("category %s: %w", categoryID, domain.ErrNotFound)
	}
	res := CategoryResult{
		CategoryID: cat.ID,
		Name:       cat.Name,
		Weight:     cat.Weight,
		Criteria:   make([]CriterionResult, 0, len(snap.CriteriaOf(cat.ID))),
	}
	for _, crit := range snap.CriteriaOf(cat.ID) {
		cr, err := a.CriterionScore(snap, vendorID, crit.ID)
		if err != nil {
			return CategoryResult{}, err
		}
		switch cr.Status {
		case StatusUnscored:
			res.Unscored++
		case StatusUnresolved:
			res.Unresolved++
		}
		res.Score += cr.Contribution
		res.Criteria = append(res.Criteria, cr)
	}
	res.Contribution = res.Score * res.Weight / 100
	return res, nil
}

// VendorTotal sums the weighted category scores of one vendor. It doubles
// as the category breakdown.
func (a *Aggregator) VendorTotal(snap *Snapshot, vendorID string) (VendorResult, error) {
	vendor, ok := snap.Vendor(vendorID)
	if !ok {
		return VendorResult{}, fmt.Errorf("vendor %s: %w", vendorID, domain.ErrNotFound)
	}
	res := VendorResult{Vendor: vendor, Categories: make([]CategoryResult, 0, len(snap.Categories))}
	for _, cat := range snap.Categories {
		cr, err := a.CategoryScore(snap, vendorID, cat.ID)
		if err != nil {
			return VendorResult{}, err
		}
		res.Total += cr.Contribution
		res.Unscored += cr.Unscored
		res.Unresolved += cr.Unresolved
		res.Categories = append(res.Categories, cr)
	}
	return res, nil
}

// Rank orders the active vendors by total, highest first. Totals within
// 1e-9 are tied; ties break on the score in the highest-weighted category,
// then on earlier vendor creation, then on vendor ID.
func (a *Aggregator) Rank(snap *Snapshot) ([]VendorResult, error) {
	vendors := snap.ActiveVendors()
	results := make([]VendorResult, 0, len(vendors))
	for _, v := range vendors {
		r, err := a.VendorTotal(snap, v.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	lead := leadCategory(snap.Categories)
	leadScore := func(r VendorResult) float64 {
		for _, c := range r.Categories {
			if c.CategoryID == lead {
				return c.Score
			}
		}
		return 0
	}
	sort.SliceStable(results, func(i, j int) bool {
		x, y := results[i], results[j]
		if math.Abs(x.Total-y.Total) > tieEpsilon {
			return x.Total > y.Total
		}
		if lx, ly := leadScore(x), leadScore(y); math.Abs(lx-ly) > tieEpsilon {
			return lx > ly
		}
		if !x.Vendor.CreatedAt.Equal(y.Vendor.CreatedAt) {
			return x.Vendor.CreatedAt.Before(y.Vendor.CreatedAt)
		}
		return x.Vendor.ID < y.Vendor.ID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// leadCategory returns the ID of the highest-weighted category, preferring
// the earlier display position on equal weights.
func leadCategory(categories []domain.Category) string {
	lead := ""
	var best domain.Category
	for _, c := range categories {
		if lead == "" ||
			c.Weight > best.Weight ||
			(c.Weight == best.Weight && (c.SortOrder < best.SortOrder ||
				(c.SortOrder == best.SortOrder && c.ID < best.ID))) {
			lead, best = c.ID, c
		}
	}
	return lead
}
