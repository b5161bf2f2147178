// Package scoring implements the read-side computations of the scoring
// engine: aggregation and ranking, evaluator-variance reconciliation,
// robust anomaly detection and the traceability matrix.
//
// Every computation works on a Snapshot, an immutable consistent read of
// one evaluation. The functions here never write to a store; the
// application layer persists whatever they decide.
package scoring

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// Snapshot is a point-in-time read of one evaluation. It must not be
// modified after the first computation runs on it, and it must be passed by
// pointer.
type Snapshot struct {
	Evaluation      domain.Evaluation
	Categories      []domain.Category
	Criteria        []domain.Criterion
	Vendors         []domain.Vendor
	Scores          []domain.Score
	Consensus       []domain.ConsensusScore
	Reconciliations []domain.Reconciliation
	Requirements    []domain.Requirement
	Evidence        []domain.Evidence
	Questions       []domain.Question
	Responses       []domain.VendorResponse
	Metrics         []domain.VendorMetric

	once sync.Once
	ix   *index
}

// index holds the lookups every computation shares. It is built once per
// snapshot so drilldowns and per-cell lookups never rescan the dataset.
type index struct {
	categories         map[string]domain.Category
	criteria           map[string]domain.Criterion
	vendors            map[string]domain.Vendor
	criteriaByCategory map[string][]domain.Criterion
	submitted          map[domain.PairKey][]domain.Score
	consensus          map[domain.PairKey]domain.ConsensusScore
	reconciliations    map[domain.PairKey]domain.Reconciliation

	criteriaByRequirement map[string][]string
	questionsByCriterion  map[string][]domain.Question
	responses             map[responseKey][]domain.VendorResponse
	evidence              map[domain.PairKey][]domain.Evidence
}

type responseKey struct {
	QuestionID string
	VendorID   string
}

// LoadSnapshot reads everything for evaluationID concurrently. The
// evaluation version is read before and after the fan-out; if a writer
// slipped in, the read is repeated once and then reported as a conflict.
func LoadSnapshot(ctx context.Context, store ports.Store, catalog ports.Catalog, evaluationID string) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := loadOnce(ctx, store, catalog, evaluationID)
		if err != nil {
			return nil, err
		}
		after, err := store.GetEvaluation(ctx, evaluationID)
		if err != nil {
			return nil, err
		}
		if after.Version == snap.Evaluation.Version {
			return snap, nil
		}
		lastErr = &domain.ConcurrencyConflictError{
			Entity:   "evaluation",
			Key:      evaluationID,
			Expected: snap.Evaluation.Version,
			Actual:   after.Version,
		}
	}
	return nil, lastErr
}

func loadOnce(ctx context.Context, store ports.Store, catalog ports.Catalog, evaluationID string) (*Snapshot, error) {
	eval, err := store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Evaluation: eval}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { snap.Categories, err = store.ListCategories(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Criteria, err = store.ListCriteria(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Scores, err = store.ListScores(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Consensus, err = store.ListConsensus(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Reconciliations, err = store.ListReconciliations(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Vendors, err = catalog.Vendors(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Requirements, err = catalog.Requirements(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Evidence, err = catalog.Evidence(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Questions, err = catalog.Questions(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Responses, err = catalog.Responses(gctx, evaluationID); return })
	g.Go(func() (err error) { snap.Metrics, err = catalog.VendorMetrics(gctx, evaluationID); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Snapshot) index() *index {
	s.once.Do(func() {
		ix := &index{
			categories:            make(map[string]domain.Category, len(s.Categories)),
			criteria:              make(map[string]domain.Criterion, len(s.Criteria)),
			vendors:               make(map[string]domain.Vendor, len(s.Vendors)),
			criteriaByCategory:    make(map[string][]domain.Criterion),
			submitted:             make(map[domain.PairKey][]domain.Score),
			consensus:             make(map[domain.PairKey]domain.ConsensusScore),
			reconciliations:       make(map[domain.PairKey]domain.Reconciliation),
			criteriaByRequirement: make(map[string][]string),
			questionsByCriterion:  make(map[string][]domain.Question),
			responses:             make(map[responseKey][]domain.VendorResponse),
			evidence:              make(map[domain.PairKey][]domain.Evidence),
		}
		for _, c := range s.Categories {
			ix.categories[c.ID] = c
		}
		for _, c := range s.Criteria {
			ix.criteria[c.ID] = c
			ix.criteriaByCategory[c.CategoryID] = append(ix.criteriaByCategory[c.CategoryID], c)
		}
		for _, v := range s.Vendors {
			ix.vendors[v.ID] = v
		}
		for _, sc := range s.Scores {
			if sc.Submitted() {
				p := domain.PairKey{VendorID: sc.VendorID, CriterionID: sc.CriterionID}
				ix.submitted[p] = append(ix.submitted[p], sc)
			}
		}
		for _, c := range s.Consensus {
			if c.Locked {
				ix.consensus[c.Pair()] = c
			}
		}
		for _, r := range s.Reconciliations {
			ix.reconciliations[r.Pair()] = r
		}

		links := make(map[string]map[string]bool)
		link := func(reqID, critID string) {
			if _, ok := ix.criteria[critID]; !ok {
				return
			}
			if links[reqID] == nil {
				links[reqID] = make(map[string]bool)
			}
			links[reqID][critID] = true
		}
		for _, r := range s.Requirements {
			for _, id := range r.CriterionIDs {
				link(r.ID, id)
			}
		}
		for _, c := range s.Criteria {
			for _, reqID := range c.RequirementIDs {
				link(reqID, c.ID)
			}
		}
		for reqID, set := range links {
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			ix.criteriaByRequirement[reqID] = ids
		}

		for _, q := range s.Questions {
			ix.questionsByCriterion[q.CriterionID] = append(ix.questionsByCriterion[q.CriterionID], q)
		}
		for critID := range ix.questionsByCriterion {
			qs := ix.questionsByCriterion[critID]
			sort.SliceStable(qs, func(i, j int) bool { return qs[i].SortOrder < qs[j].SortOrder })
		}
		for _, r := range s.Responses {
			k := responseKey{QuestionID: r.QuestionID, VendorID: r.VendorID}
			ix.responses[k] = append(ix.responses[k], r)
		}
		for _, e := range s.Evidence {
			p := domain.PairKey{VendorID: e.VendorID, CriterionID: e.CriterionID}
			ix.evidence[p] = append(ix.evidence[p], e)
		}
		s.ix = ix
	})
	return s.ix
}

// ActiveVendors returns the vendors still competing, in creation order.
func (s *Snapshot) ActiveVendors() []domain.Vendor {
	out := make([]domain.Vendor, 0, len(s.Vendors))
	for _, v := range s.Vendors {
		if v.Active() {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Vendor looks up a vendor of the snapshot.
func (s *Snapshot) Vendor(id string) (domain.Vendor, bool) {
	v, ok := s.index().vendors[id]
	return v, ok
}

// Criterion looks up a criterion of the snapshot.
func (s *Snapshot) Criterion(id string) (domain.Criterion, bool) {
	c, ok := s.index().criteria[id]
	return c, ok
}

// Category looks up a category of the snapshot.
func (s *Snapshot) Category(id string) (domain.Category, bool) {
	c, ok := s.index().categories[id]
	return c, ok
}

// CriteriaOf returns the criteria of a category in display order.
func (s *Snapshot) CriteriaOf(categoryID string) []domain.Criterion {
	return s.index().criteriaByCategory[categoryID]
}

// SubmittedScores returns the submitted scores of a pair.
func (s *Snapshot) SubmittedScores(pair domain.PairKey) []domain.Score {
	return s.index().submitted[pair]
}

// LockedConsensus returns the locked consensus of a pair, if any.
func (s *Snapshot) LockedConsensus(pair domain.PairKey) (domain.ConsensusScore, bool) {
	c, ok := s.index().consensus[pair]
	return c, ok
}

// Reconciliation returns the reconciliation of a pair, if any.
func (s *Snapshot) Reconciliation(pair domain.PairKey) (domain.Reconciliation, bool) {
	r, ok := s.index().reconciliations[pair]
	return r, ok
}
