// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// Store is the abstract persistent store behind the scoring engine. It owns
// every mutable record: evaluations, weights, scores, lock records,
// consensus scores, reconciliations and anomalies.
//
// Every mutating method increments the owning evaluation's Version, which
// the engine uses as a cache key. Methods that take an expected version
// commit atomically against it and return *domain.ConcurrencyConflictError
// on mismatch without writing anything. Lookups of missing records return
// an error wrapping domain.ErrNotFound.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateEvaluation stores a new evaluation with Version 1.
	CreateEvaluation(ctx context.Context, eval domain.Evaluation) (domain.Evaluation, error)

	// GetEvaluation returns the evaluation including its current Version.
	GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error)

	// UpdateEvaluation replaces phase, blind mode, scale and reveal stamp
	// when the stored Version equals expectedVersion.
	UpdateEvaluation(ctx context.Context, eval domain.Evaluation, expectedVersion int64) (domain.Evaluation, error)

	// SaveCategory inserts or replaces a category definition.
	SaveCategory(ctx context.Context, category domain.Category) error

	// ListCategories returns the evaluation's categories ordered by
	// SortOrder then ID.
	ListCategories(ctx context.Context, evaluationID string) ([]domain.Category, error)

	// SaveCriterion inserts or replaces a criterion definition.
	SaveCriterion(ctx context.Context, criterion domain.Criterion) error

	// ListCriteria returns the evaluation's criteria ordered by SortOrder
	// then ID.
	ListCriteria(ctx context.Context, evaluationID string) ([]domain.Criterion, error)

	// ApplyWeights atomically sets the weights of one level (categories of
	// the evaluation, or criteria of one category) when the evaluation
	// Version equals expectedVersion. It returns the new evaluation Version.
	ApplyWeights(
		ctx context.Context,
		evaluationID string,
		level domain.WeightLevel,
		weights []domain.Weighted,
		expectedVersion int64,
	) (int64, error)

	// GetScore returns the score held under key.
	GetScore(ctx context.Context, evaluationID string, key domain.ScoreKey) (domain.Score, error)

	// ListScores returns every score, draft or submitted, of the evaluation.
	ListScores(ctx context.Context, evaluationID string) ([]domain.Score, error)

	// WriteScore commits score when the stored version for its key equals
	// expectedVersion (0 for a new score) and none of scopes is locked. The
	// lock check and the version check happen inside one critical section so
	// a lock applied mid-write cannot be bypassed. It also refuses to revert
	// a submitted score to draft and to touch a pair superseded by a locked
	// consensus. The returned score carries the new Version.
	WriteScore(
		ctx context.Context,
		score domain.Score,
		expectedVersion int64,
		scopes []domain.LockScope,
	) (domain.Score, error)

	// LockState derives the current state of scope from its records.
	LockState(ctx context.Context, scope domain.LockScope) (domain.LockState, error)

	// AppendLockRecord appends rec when the scope's current Sequence equals
	// expectedSequence. The stored record gets Sequence expectedSequence+1.
	AppendLockRecord(ctx context.Context, rec domain.LockRecord, expectedSequence int64) (domain.LockRecord, error)

	// LockHistory returns every record of scope in Sequence order.
	LockHistory(ctx context.Context, scope domain.LockScope) ([]domain.LockRecord, error)

	// ListConsensus returns every consensus score of the evaluation.
	ListConsensus(ctx context.Context, evaluationID string) ([]domain.ConsensusScore, error)

	// CreateReconciliation stores a new reconciliation with Version 1.
	CreateReconciliation(ctx context.Context, r domain.Reconciliation) (domain.Reconciliation, error)

	// GetReconciliation returns one reconciliation.
	GetReconciliation(ctx context.Context, id string) (domain.Reconciliation, error)

	// ListReconciliations returns every reconciliation of the evaluation.
	ListReconciliations(ctx context.Context, evaluationID string) ([]domain.Reconciliation, error)

	// UpdateReconciliation replaces r when its stored Version equals
	// expectedVersion.
	UpdateReconciliation(ctx context.Context, r domain.Reconciliation, expectedVersion int64) (domain.Reconciliation, error)

	// CommitConsensus atomically stores the locked consensus and the
	// reconciliation that produced it.
	CommitConsensus(
		ctx context.Context,
		r domain.Reconciliation,
		expectedVersion int64,
		consensus domain.ConsensusScore,
	) (domain.Reconciliation, error)

	// SaveAnomaly inserts a (expectedVersion 0) or replaces an anomaly.
	SaveAnomaly(ctx context.Context, a domain.Anomaly, expectedVersion int64) (domain.Anomaly, error)

	// GetAnomaly returns one anomaly.
	GetAnomaly(ctx context.Context, id string) (domain.Anomaly, error)

	// ListAnomalies returns every anomaly of the evaluation.
	ListAnomalies(ctx context.Context, evaluationID string) ([]domain.Anomaly, error)
}

// Catalog exposes the read-only entities owned by external collaborators.
type Catalog interface {
	// Vendor returns a vendor by ID.
	Vendor(ctx context.Context, id string) (domain.Vendor, error)

	// Vendors returns the vendors of an evaluation in creation order.
	Vendors(ctx context.Context, evaluationID string) ([]domain.Vendor, error)

	// Requirements returns the requirements of an evaluation.
	Requirements(ctx context.Context, evaluationID string) ([]domain.Requirement, error)

	// Evidence returns the evidence links of an evaluation.
	Evidence(ctx context.Context, evaluationID string) ([]domain.Evidence, error)

	// Questions returns the questions of an evaluation.
	Questions(ctx context.Context, evaluationID string) ([]domain.Question, error)

	// Responses returns the vendor responses of an evaluation.
	Responses(ctx context.Context, evaluationID string) ([]domain.VendorResponse, error)

	// VendorMetrics returns raw commercial and delivery values such as
	// quoted price and schedule length.
	VendorMetrics(ctx context.Context, evaluationID string) ([]domain.VendorMetric, error)
}

// Directory resolves an actor's role within an evaluation.
type Directory interface {
	// Role returns the role of userID in the evaluation, or an error
	// wrapping domain.ErrNotFound for unknown users.
	Role(ctx context.Context, evaluationID, userID string) (domain.Role, error)
}

// Notifier fires events to external collaborators. Notify must not block
// on delivery; failures are the implementation's to log.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}
