// Package store provides ports.Store implementations: a mutex-guarded
// in-memory store for tests and the CLI, and a MySQL store for shared
// deployments. Both enforce the same optimistic concurrency contract.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.Store = (*MemoryStore)(nil)

// MemoryStore keeps every record in maps behind a single RWMutex. Reads take
// the read lock and return deep copies; every mutation runs its checks and
// its commit under the write lock, which gives the atomic
// check-then-commit semantics the Store contract asks for.
type MemoryStore struct {
	mu sync.RWMutex

	evaluations     map[string]domain.Evaluation
	categories      map[string]domain.Category
	criteria        map[string]domain.Criterion
	scores          map[string]map[domain.ScoreKey]domain.Score
	lockRecords     map[domain.LockScope][]domain.LockRecord
	consensus       map[string]map[domain.PairKey]domain.ConsensusScore
	reconciliations map[string]domain.Reconciliation
	anomalies       map[string]domain.Anomaly
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evaluations:     make(map[string]domain.Evaluation),
		categories:      make(map[string]domain.Category),
		criteria:        make(map[string]domain.Criterion),
		scores:          make(map[string]map[domain.ScoreKey]domain.Score),
		lockRecords:     make(map[domain.LockScope][]domain.LockRecord),
		consensus:       make(map[string]map[domain.PairKey]domain.ConsensusScore),
		reconciliations: make(map[string]domain.Reconciliation),
		anomalies:       make(map[string]domain.Anomaly),
	}
}

// CreateEvaluation stores eval with Version 1.
func (s *MemoryStore) CreateEvaluation(_ context.Context, eval domain.Evaluation) (domain.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if cur, ok := s.evaluations[eval.ID]; ok {
		return domain.Evaluation{}, &domain.ConcurrencyConflictError{
			Entity:   "evaluation",
			Key:      eval.ID,
			Expected: 0,
			Actual:   cur.Version,
		}
	}
	eval.Version = 1
	s.evaluations[eval.ID] = cloneEvaluation(eval)
	return cloneEvaluation(eval), nil
}

// GetEvaluation returns the evaluation by ID.
func (s *MemoryStore) GetEvaluation(_ context.Context, id string) (domain.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eval, ok := s.evaluations[id]
	if !ok {
		return domain.Evaluation{}, notFound("evaluation", id)
	}
	return cloneEvaluation(eval), nil
}

// UpdateEvaluation replaces the mutable evaluation fields.
func (s *MemoryStore) UpdateEvaluation(_ context.Context, eval domain.Evaluation, expectedVersion int64) (domain.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.checkEvaluationVersion(eval.ID, expectedVersion)
	if err != nil {
		return domain.Evaluation{}, err
	}
	cur.Name = eval.Name
	cur.Phase = eval.Phase
	cur.BlindScoring = eval.BlindScoring
	cur.Scale = eval.Scale
	cur.RevealedAt = eval.RevealedAt
	cur.Version++
	s.evaluations[cur.ID] = cloneEvaluation(cur)
	return cloneEvaluation(cur), nil
}

// SaveCategory inserts or replaces a category.
func (s *MemoryStore) SaveCategory(_ context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[category.EvaluationID]; !ok {
		return notFound("evaluation", category.EvaluationID)
	}
	category.Version = s.categories[category.ID].Version + 1
	s.categories[category.ID] = category
	s.bump(category.EvaluationID)
	return nil
}

// ListCategories returns the categories of an evaluation in display order.
func (s *MemoryStore) ListCategories(_ context.Context, evaluationID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0)
	for _, c := range s.categories {
		if c.EvaluationID == evaluationID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveCriterion inserts or replaces a criterion.
func (s *MemoryStore) SaveCriterion(_ context.Context, criterion domain.Criterion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[criterion.EvaluationID]; !ok {
		return notFound("evaluation", criterion.EvaluationID)
	}
	cat, ok := s.categories[criterion.CategoryID]
	if !ok || cat.EvaluationID != criterion.EvaluationID {
		return notFound("category", criterion.CategoryID)
	}
	criterion.Version = s.criteria[criterion.ID].Version + 1
	criterion.RequirementIDs = slices.Clone(criterion.RequirementIDs)
	s.criteria[criterion.ID] = criterion
	s.bump(criterion.EvaluationID)
	return nil
}

// ListCriteria returns the criteria of an evaluation in display order.
func (s *MemoryStore) ListCriteria(_ context.Context, evaluationID string) ([]domain.Criterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Criterion, 0)
	for _, c := range s.criteria {
		if c.EvaluationID == evaluationID {
			c.RequirementIDs = slices.Clone(c.RequirementIDs)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryID != out[j].CategoryID {
			return out[i].CategoryID < out[j].CategoryID
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ApplyWeights sets every weight of one level in a single commit.
func (s *MemoryStore) ApplyWeights(
	_ context.Context,
	evaluationID string,
	level domain.WeightLevel,
	weights []domain.Weighted,
	expectedVersion int64,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.checkEvaluationVersion(evaluationID, expectedVersion); err != nil {
		return 0, err
	}

	// Check every target before touching any of them.
	for _, w := range weights {
		switch level {
		case domain.WeightLevelCategory:
			if c, ok := s.categories[w.ID]; !ok || c.EvaluationID != evaluationID {
				return 0, notFound("category", w.ID)
			}
		case domain.WeightLevelCriterion:
			if c, ok := s.criteria[w.ID]; !ok || c.EvaluationID != evaluationID {
				return 0, notFound("criterion", w.ID)
			}
		default:
			return 0, fmt.Errorf("%w: unknown weight level %q", domain.ErrInvalidConfiguration, level)
		}
	}
	for _, w := range weights {
		if level == domain.WeightLevelCategory {
			c := s.categories[w.ID]
			c.Weight = w.Weight
			c.Version++
			s.categories[w.ID] = c
			continue
		}
		c := s.criteria[w.ID]
		c.Weight = w.Weight
		c.Version++
		s.criteria[w.ID] = c
	}
	return s.bump(evaluationID), nil
}

// GetScore returns the score held under key.
func (s *MemoryStore) GetScore(_ context.Context, evaluationID string, key domain.ScoreKey) (domain.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score, ok := s.scores[evaluationID][key]
	if !ok {
		return domain.Score{}, notFound("score", key.String())
	}
	return cloneScore(score), nil
}

// ListScores returns every score of the evaluation ordered by key.
func (s *MemoryStore) ListScores(_ context.Context, evaluationID string) ([]domain.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Score, 0, len(s.scores[evaluationID]))
	for _, score := range s.scores[evaluationID] {
		out = append(out, cloneScore(score))
	}
	sortScores(out)
	return out, nil
}

// WriteScore commits score after the lock, consensus, version and status
// checks, all under the write lock.
func (s *MemoryStore) WriteScore(
	_ context.Context,
	score domain.Score,
	expectedVersion int64,
	scopes []domain.LockScope,
) (domain.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[score.EvaluationID]; !ok {
		return domain.Score{}, notFound("evaluation", score.EvaluationID)
	}
	for _, scope := range scopes {
		if state := domain.DeriveLockState(scope, s.lockRecords[scope]); state.Locked {
			return domain.Score{}, domain.NewLockedError(state)
		}
	}
	pair := domain.PairKey{VendorID: score.VendorID, CriterionID: score.CriterionID}
	if c, ok := s.consensus[score.EvaluationID][pair]; ok && c.Locked {
		return domain.Score{}, &domain.LockedError{ConsensusID: c.ID, Actor: c.LockedBy, At: c.LockedAt}
	}

	key := score.Key()
	cur, exists := s.scores[score.EvaluationID][key]
	if err := checkScoreVersion(key, cur, exists, expectedVersion); err != nil {
		return domain.Score{}, err
	}
	if exists && cur.Submitted() && !score.Submitted() {
		return domain.Score{}, revertError()
	}

	if exists {
		score.ID = cur.ID
		if score.Submitted() && cur.Submitted() && score.SubmittedAt.IsZero() {
			score.SubmittedAt = cur.SubmittedAt
		}
	} else if score.ID == "" {
		score.ID = uuid.NewString()
	}
	score.Version = cur.Version + 1

	if s.scores[score.EvaluationID] == nil {
		s.scores[score.EvaluationID] = make(map[domain.ScoreKey]domain.Score)
	}
	s.scores[score.EvaluationID][key] = cloneScore(score)
	s.bump(score.EvaluationID)
	return cloneScore(score), nil
}

// LockState derives the current state of scope.
func (s *MemoryStore) LockState(_ context.Context, scope domain.LockScope) (domain.LockState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.DeriveLockState(scope, s.lockRecords[scope]), nil
}

// AppendLockRecord appends rec when the scope's sequence is still
// expectedSequence.
func (s *MemoryStore) AppendLockRecord(_ context.Context, rec domain.LockRecord, expectedSequence int64) (domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[rec.EvaluationID]; !ok {
		return domain.LockRecord{}, notFound("evaluation", rec.EvaluationID)
	}
	state := domain.DeriveLockState(rec.Scope, s.lockRecords[rec.Scope])
	if state.Sequence != expectedSequence {
		return domain.LockRecord{}, &domain.ConcurrencyConflictError{
			Entity:   "lock_scope",
			Key:      rec.Scope.String(),
			Expected: expectedSequence,
			Actual:   state.Sequence,
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Sequence = expectedSequence + 1
	rec.At = stamp(rec.At)
	s.lockRecords[rec.Scope] = append(s.lockRecords[rec.Scope], rec)
	s.bump(rec.EvaluationID)
	return rec, nil
}

// LockHistory returns every record of scope in sequence order.
func (s *MemoryStore) LockHistory(_ context.Context, scope domain.LockScope) ([]domain.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.lockRecords[scope])
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if out == nil {
		out = []domain.LockRecord{}
	}
	return out, nil
}

// ListConsensus returns every consensus score of the evaluation.
func (s *MemoryStore) ListConsensus(_ context.Context, evaluationID string) ([]domain.ConsensusScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConsensusScore, 0, len(s.consensus[evaluationID]))
	for _, c := range s.consensus[evaluationID] {
		c.ContributingScoreIDs = slices.Clone(c.ContributingScoreIDs)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VendorID != out[j].VendorID {
			return out[i].VendorID < out[j].VendorID
		}
		return out[i].CriterionID < out[j].CriterionID
	})
	return out, nil
}

// CreateReconciliation stores r. At most one reconciliation exists per
// vendor/criterion pair; a second create for the same pair is a conflict.
func (s *MemoryStore) CreateReconciliation(_ context.Context, r domain.Reconciliation) (domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[r.EvaluationID]; !ok {
		return domain.Reconciliation{}, notFound("evaluation", r.EvaluationID)
	}
	for _, existing := range s.reconciliations {
		if existing.EvaluationID == r.EvaluationID && existing.Pair() == r.Pair() {
			return domain.Reconciliation{}, &domain.ConcurrencyConflictError{
				Entity:   "reconciliation",
				Key:      pairString(r.Pair()),
				Expected: 0,
				Actual:   existing.Version,
			}
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Version = 1
	s.reconciliations[r.ID] = r.Clone()
	s.bump(r.EvaluationID)
	return r.Clone(), nil
}

// GetReconciliation returns one reconciliation.
func (s *MemoryStore) GetReconciliation(_ context.Context, id string) (domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reconciliations[id]
	if !ok {
		return domain.Reconciliation{}, notFound("reconciliation", id)
	}
	return r.Clone(), nil
}

// ListReconciliations returns the reconciliations of an evaluation ordered
// by vendor and criterion.
func (s *MemoryStore) ListReconciliations(_ context.Context, evaluationID string) ([]domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Reconciliation, 0)
	for _, r := range s.reconciliations {
		if r.EvaluationID == evaluationID {
			out = append(out, r.Clone())
		}
	}
	sortReconciliations(out)
	return out, nil
}

// UpdateReconciliation replaces r when the stored version matches.
func (s *MemoryStore) UpdateReconciliation(_ context.Context, r domain.Reconciliation, expectedVersion int64) (domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.checkReconciliationVersion(r.ID, expectedVersion)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	r.EvaluationID = cur.EvaluationID
	r.VendorID = cur.VendorID
	r.CriterionID = cur.CriterionID
	r.Version = cur.Version + 1
	s.reconciliations[r.ID] = r.Clone()
	s.bump(r.EvaluationID)
	return r.Clone(), nil
}

// CommitConsensus stores the locked consensus together with the
// reconciliation that produced it.
func (s *MemoryStore) CommitConsensus(
	_ context.Context,
	r domain.Reconciliation,
	expectedVersion int64,
	consensus domain.ConsensusScore,
) (domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.checkReconciliationVersion(r.ID, expectedVersion)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	pair := cur.Pair()
	if existing, ok := s.consensus[cur.EvaluationID][pair]; ok && existing.Locked {
		return domain.Reconciliation{}, &domain.LockedError{ConsensusID: existing.ID, Actor: existing.LockedBy, At: existing.LockedAt}
	}
	if consensus.ID == "" {
		consensus.ID = uuid.NewString()
	}
	consensus.EvaluationID = cur.EvaluationID
	consensus.VendorID = pair.VendorID
	consensus.CriterionID = pair.CriterionID
	consensus.ContributingScoreIDs = slices.Clone(consensus.ContributingScoreIDs)

	if s.consensus[cur.EvaluationID] == nil {
		s.consensus[cur.EvaluationID] = make(map[domain.PairKey]domain.ConsensusScore)
	}
	s.consensus[cur.EvaluationID][pair] = consensus

	r.EvaluationID = cur.EvaluationID
	r.VendorID = pair.VendorID
	r.CriterionID = pair.CriterionID
	r.ConsensusID = consensus.ID
	r.State = domain.ReconciliationConsensusLocked
	r.Version = cur.Version + 1
	s.reconciliations[r.ID] = r.Clone()
	s.bump(cur.EvaluationID)
	return r.Clone(), nil
}

// SaveAnomaly inserts (expectedVersion 0) or replaces an anomaly.
func (s *MemoryStore) SaveAnomaly(_ context.Context, a domain.Anomaly, expectedVersion int64) (domain.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evaluations[a.EvaluationID]; !ok {
		return domain.Anomaly{}, notFound("evaluation", a.EvaluationID)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cur := s.anomalies[a.ID]
	if cur.Version != expectedVersion {
		return domain.Anomaly{}, &domain.ConcurrencyConflictError{
			Entity:   "anomaly",
			Key:      a.ID,
			Expected: expectedVersion,
			Actual:   cur.Version,
		}
	}
	a.Version = cur.Version + 1
	s.anomalies[a.ID] = a
	s.bump(a.EvaluationID)
	return a, nil
}

// GetAnomaly returns one anomaly.
func (s *MemoryStore) GetAnomaly(_ context.Context, id string) (domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.anomalies[id]
	if !ok {
		return domain.Anomaly{}, notFound("anomaly", id)
	}
	return a, nil
}

// ListAnomalies returns the anomalies of an evaluation ordered by dimension
// then vendor.
func (s *MemoryStore) ListAnomalies(_ context.Context, evaluationID string) ([]domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Anomaly, 0)
	for _, a := range s.anomalies {
		if a.EvaluationID == evaluationID {
			out = append(out, a)
		}
	}
	sortAnomalies(out)
	return out, nil
}

// bump increments the evaluation version and returns the new value. The
// caller must hold the write lock.
func (s *MemoryStore) bump(evaluationID string) int64 {
	eval, ok := s.evaluations[evaluationID]
	if !ok {
		return 0
	}
	eval.Version++
	s.evaluations[evaluationID] = eval
	return eval.Version
}

func (s *MemoryStore) checkEvaluationVersion(id string, expected int64) (domain.Evaluation, error) {
	cur, ok := s.evaluations[id]
	if !ok {
		return domain.Evaluation{}, notFound("evaluation", id)
	}
	if cur.Version != expected {
		return domain.Evaluation{}, &domain.ConcurrencyConflictError{
			Entity:   "evaluation",
			Key:      id,
			Expected: expected,
			Actual:   cur.Version,
		}
	}
	return cur, nil
}

func (s *MemoryStore) checkReconciliationVersion(id string, expected int64) (domain.Reconciliation, error) {
	cur, ok := s.reconciliations[id]
	if !ok {
		return domain.Reconciliation{}, notFound("reconciliation", id)
	}
	if cur.Version != expected {
		return domain.Reconciliation{}, &domain.ConcurrencyConflictError{
			Entity:   "reconciliation",
			Key:      id,
			Expected: expected,
			Actual:   cur.Version,
		}
	}
	return cur, nil
}

func checkScoreVersion(key domain.ScoreKey, cur domain.Score, exists bool, expected int64) error {
	actual := int64(0)
	if exists {
		actual = cur.Version
	}
	if actual != expected {
		return &domain.ConcurrencyConflictError{
			Entity:   "score",
			Key:      key.String(),
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}

func revertError() error {
	verr := domain.NewValidationError("Score")
	verr.AddError("submitted score cannot revert to draft")
	return verr
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
}

func pairString(p domain.PairKey) string { return p.VendorID + "/" + p.CriterionID }

func cloneEvaluation(e domain.Evaluation) domain.Evaluation {
	if e.RevealedAt != nil {
		t := *e.RevealedAt
		e.RevealedAt = &t
	}
	return e
}

func cloneScore(s domain.Score) domain.Score {
	s.EvidenceIDs = slices.Clone(s.EvidenceIDs)
	return s
}

func sortScores(out []domain.Score) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VendorID != b.VendorID {
			return a.VendorID < b.VendorID
		}
		if a.CriterionID != b.CriterionID {
			return a.CriterionID < b.CriterionID
		}
		return a.EvaluatorID < b.EvaluatorID
	})
}

func sortReconciliations(out []domain.Reconciliation) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].VendorID != out[j].VendorID {
			return out[i].VendorID < out[j].VendorID
		}
		return out[i].CriterionID < out[j].CriterionID
	})
}

func sortAnomalies(out []domain.Anomaly) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		if out[i].VendorID != out[j].VendorID {
			return out[i].VendorID < out[j].VendorID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
}

// stamp returns t or the current UTC time when t is zero.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
