package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.Store = (*MySQLStore)(nil)

// errDuplicateEntry is the MySQL server error for a unique key violation.
const errDuplicateEntry = 1062

// MySQLStore persists the scoring records in MySQL.
//
// Every mutation runs in a transaction that first takes a row lock on the
// owning evaluation (SELECT ... FOR UPDATE). That single lock orders score
// writes against lock appends, so a lock committed while a write is in
// flight is always observed by the write's lock check. Lock records are
// append-only; the unique (scope_type, scope_id, sequence) key is the
// compare-and-swap that rejects a second append at the same sequence.
type MySQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// MySQLConfig holds connection pool settings for NewMySQLStore.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultMySQLConfig returns pool settings suitable for a handful of
// concurrent evaluators.
func DefaultMySQLConfig(dsn string) MySQLConfig {
	return MySQLConfig{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewMySQLStore opens a connection pool, verifies it with a ping and
// creates the schema when missing. The DSN is forced to parse times in UTC.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig, logger *slog.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, ports.NewStoreError("Open", "dsn", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, ports.NewStoreError("Open", dsn.Addr, err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ports.NewStoreError("Ping", dsn.Addr, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err))
	}

	s := &MySQLStore{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("mysql store ready", "addr", dsn.Addr, "database", dsn.DBName)
	return s, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS evaluations (
		id            VARCHAR(64)  NOT NULL,
		name          VARCHAR(255) NOT NULL,
		phase         VARCHAR(32)  NOT NULL,
		blind_scoring BOOLEAN      NOT NULL DEFAULT FALSE,
		scale_min     DOUBLE       NOT NULL,
		scale_max     DOUBLE       NOT NULL,
		version       BIGINT       NOT NULL,
		revealed_at   DATETIME(6)  NULL,
		created_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id            VARCHAR(64)  NOT NULL,
		evaluation_id VARCHAR(64)  NOT NULL,
		name          VARCHAR(255) NOT NULL,
		weight        DOUBLE       NOT NULL,
		sort_order    INT          NOT NULL,
		version       BIGINT       NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_categories_evaluation (evaluation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS criteria (
		id              VARCHAR(64)  NOT NULL,
		evaluation_id   VARCHAR(64)  NOT NULL,
		category_id     VARCHAR(64)  NOT NULL,
		name            VARCHAR(255) NOT NULL,
		weight          DOUBLE       NOT NULL,
		sort_order      INT          NOT NULL,
		requirement_ids JSON         NOT NULL,
		version         BIGINT       NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_criteria_evaluation (evaluation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		id            VARCHAR(64) NOT NULL,
		evaluation_id VARCHAR(64) NOT NULL,
		vendor_id     VARCHAR(64) NOT NULL,
		criterion_id  VARCHAR(64) NOT NULL,
		evaluator_id  VARCHAR(64) NOT NULL,
		value         DOUBLE      NOT NULL,
		rationale     TEXT        NOT NULL,
		status        VARCHAR(16) NOT NULL,
		submitted_at  DATETIME(6) NULL,
		updated_at    DATETIME(6) NOT NULL,
		lock_version  BIGINT      NOT NULL,
		evidence_ids  JSON        NOT NULL,
		PRIMARY KEY (evaluation_id, vendor_id, criterion_id, evaluator_id),
		UNIQUE KEY uq_scores_id (id)
	)`,
	`CREATE TABLE IF NOT EXISTS lock_records (
		id            VARCHAR(64)  NOT NULL,
		evaluation_id VARCHAR(64)  NOT NULL,
		scope_type    VARCHAR(16)  NOT NULL,
		scope_id      VARCHAR(64)  NOT NULL,
		action        VARCHAR(16)  NOT NULL,
		actor         VARCHAR(64)  NOT NULL,
		reason        TEXT         NOT NULL,
		at            DATETIME(6)  NOT NULL,
		sequence      BIGINT       NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_lock_records_scope_sequence (scope_type, scope_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS consensus (
		id                     VARCHAR(64) NOT NULL,
		evaluation_id          VARCHAR(64) NOT NULL,
		vendor_id              VARCHAR(64) NOT NULL,
		criterion_id           VARCHAR(64) NOT NULL,
		value                  DOUBLE      NOT NULL,
		rationale              TEXT        NOT NULL,
		contributing_score_ids JSON        NOT NULL,
		locked                 BOOLEAN     NOT NULL,
		locked_at              DATETIME(6) NULL,
		locked_by              VARCHAR(64) NOT NULL,
		override_reason        TEXT        NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_consensus_pair (evaluation_id, vendor_id, criterion_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reconciliations (
		id            VARCHAR(64) NOT NULL,
		evaluation_id VARCHAR(64) NOT NULL,
		vendor_id     VARCHAR(64) NOT NULL,
		criterion_id  VARCHAR(64) NOT NULL,
		doc           JSON        NOT NULL,
		version       BIGINT      NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_reconciliations_pair (evaluation_id, vendor_id, criterion_id)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id            VARCHAR(64) NOT NULL,
		evaluation_id VARCHAR(64) NOT NULL,
		vendor_id     VARCHAR(64) NOT NULL,
		dimension     VARCHAR(16) NOT NULL,
		detected_at   DATETIME(6) NOT NULL,
		doc           JSON        NOT NULL,
		version       BIGINT      NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_anomalies_evaluation (evaluation_id, dimension, vendor_id)
	)`,
}

// Migrate creates every table that does not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return ports.NewStoreError("Migrate", "schema", err)
		}
	}
	return nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateEvaluation inserts eval with Version 1.
func (s *MySQLStore) CreateEvaluation(ctx context.Context, eval domain.Evaluation) (domain.Evaluation, error) {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	eval.Version = 1
	scale := eval.EffectiveScale()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, name, phase, blind_scoring, scale_min, scale_max, version, revealed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eval.ID, eval.Name, string(eval.Phase), eval.BlindScoring, scale.Min, scale.Max,
		eval.Version, nullTime(eval.RevealedAt), eval.CreatedAt)
	if isDuplicate(err) {
		return domain.Evaluation{}, &domain.ConcurrencyConflictError{Entity: "evaluation", Key: eval.ID, Expected: 0, Actual: 1}
	}
	if err != nil {
		return domain.Evaluation{}, ports.NewStoreError("CreateEvaluation", eval.ID, err)
	}
	return eval, nil
}

// GetEvaluation returns one evaluation.
func (s *MySQLStore) GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error) {
	return getEvaluation(ctx, s.db, id, false)
}

func getEvaluation(ctx context.Context, q rowQueryer, id string, forUpdate bool) (domain.Evaluation, error) {
	query := `SELECT id, name, phase, blind_scoring, scale_min, scale_max, version, revealed_at, created_at
		FROM evaluations WHERE id = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var (
		eval     domain.Evaluation
		phase    string
		revealed sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&eval.ID, &eval.Name, &phase, &eval.BlindScoring, &eval.Scale.Min, &eval.Scale.Max,
		&eval.Version, &revealed, &eval.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Evaluation{}, notFound("evaluation", id)
	}
	if err != nil {
		return domain.Evaluation{}, ports.NewStoreError("GetEvaluation", id, err)
	}
	eval.Phase = domain.Phase(phase)
	if revealed.Valid {
		t := revealed.Time
		eval.RevealedAt = &t
	}
	return eval, nil
}

// UpdateEvaluation replaces the mutable evaluation fields.
func (s *MySQLStore) UpdateEvaluation(ctx context.Context, eval domain.Evaluation, expectedVersion int64) (domain.Evaluation, error) {
	var out domain.Evaluation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := lockEvaluation(ctx, tx, eval.ID, expectedVersion)
		if err != nil {
			return err
		}
		scale := eval.EffectiveScale()
		cur.Name = eval.Name
		cur.Phase = eval.Phase
		cur.BlindScoring = eval.BlindScoring
		cur.Scale = scale
		cur.RevealedAt = eval.RevealedAt
		cur.Version++
		_, err = tx.ExecContext(ctx,
			`UPDATE evaluations SET name = ?, phase = ?, blind_scoring = ?, scale_min = ?, scale_max = ?,
			 revealed_at = ?, version = ? WHERE id = ?`,
			cur.Name, string(cur.Phase), cur.BlindScoring, scale.Min, scale.Max,
			nullTime(cur.RevealedAt), cur.Version, cur.ID)
		if err != nil {
			return ports.NewStoreError("UpdateEvaluation", cur.ID, err)
		}
		out = cur
		return nil
	})
	return out, err
}

// SaveCategory inserts or replaces a category.
func (s *MySQLStore) SaveCategory(ctx context.Context, category domain.Category) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, category.EvaluationID, -1)
		if err != nil {
			return err
		}
		if category.CreatedAt.IsZero() {
			category.CreatedAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO categories (id, evaluation_id, name, weight, sort_order, version, created_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?) AS new
			 ON DUPLICATE KEY UPDATE name = new.name, weight = new.weight, sort_order = new.sort_order,
			 version = categories.version + 1`,
			category.ID, category.EvaluationID, category.Name, category.Weight, category.SortOrder, category.CreatedAt)
		if err != nil {
			return ports.NewStoreError("SaveCategory", category.ID, err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
}

// ListCategories returns the categories of an evaluation in display order.
func (s *MySQLStore) ListCategories(ctx context.Context, evaluationID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, name, weight, sort_order, version, created_at
		 FROM categories WHERE evaluation_id = ? ORDER BY sort_order, id`, evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListCategories", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.EvaluationID, &c.Name, &c.Weight, &c.SortOrder, &c.Version, &c.CreatedAt); err != nil {
			return nil, ports.NewStoreError("ListCategories", evaluationID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCriterion inserts or replaces a criterion.
func (s *MySQLStore) SaveCriterion(ctx context.Context, criterion domain.Criterion) error {
	reqs, err := marshalIDs(criterion.RequirementIDs)
	if err != nil {
		return ports.NewStoreError("SaveCriterion", criterion.ID, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, criterion.EvaluationID, -1)
		if err != nil {
			return err
		}
		var one int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM categories WHERE id = ? AND evaluation_id = ?`,
			criterion.CategoryID, criterion.EvaluationID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("category", criterion.CategoryID)
		}
		if err != nil {
			return ports.NewStoreError("SaveCriterion", criterion.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO criteria (id, evaluation_id, category_id, name, weight, sort_order, requirement_ids, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1) AS new
			 ON DUPLICATE KEY UPDATE category_id = new.category_id, name = new.name, weight = new.weight,
			 sort_order = new.sort_order, requirement_ids = new.requirement_ids, version = criteria.version + 1`,
			criterion.ID, criterion.EvaluationID, criterion.CategoryID, criterion.Name, criterion.Weight,
			criterion.SortOrder, reqs)
		if err != nil {
			return ports.NewStoreError("SaveCriterion", criterion.ID, err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
}

// ListCriteria returns the criteria of an evaluation in display order.
func (s *MySQLStore) ListCriteria(ctx context.Context, evaluationID string) ([]domain.Criterion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, category_id, name, weight, sort_order, requirement_ids, version
		 FROM criteria WHERE evaluation_id = ? ORDER BY category_id, sort_order, id`, evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListCriteria", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.Criterion, 0)
	for rows.Next() {
		var (
			c    domain.Criterion
			reqs []byte
		)
		if err := rows.Scan(&c.ID, &c.EvaluationID, &c.CategoryID, &c.Name, &c.Weight, &c.SortOrder, &reqs, &c.Version); err != nil {
			return nil, ports.NewStoreError("ListCriteria", evaluationID, err)
		}
		if c.RequirementIDs, err = unmarshalIDs(reqs); err != nil {
			return nil, ports.NewStoreError("ListCriteria", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyWeights sets every weight of one level in a single transaction.
func (s *MySQLStore) ApplyWeights(
	ctx context.Context,
	evaluationID string,
	level domain.WeightLevel,
	weights []domain.Weighted,
	expectedVersion int64,
) (int64, error) {
	var table string
	switch level {
	case domain.WeightLevelCategory:
		table = "categories"
	case domain.WeightLevelCriterion:
		table = "criteria"
	default:
		return 0, fmt.Errorf("%w: unknown weight level %q", domain.ErrInvalidConfiguration, level)
	}

	var version int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, evaluationID, expectedVersion)
		if err != nil {
			return err
		}
		for _, w := range weights {
			res, err := tx.ExecContext(ctx,
				"UPDATE "+table+" SET weight = ?, version = version + 1 WHERE id = ? AND evaluation_id = ?",
				w.Weight, w.ID, evaluationID)
			if err != nil {
				return ports.NewStoreError("ApplyWeights", w.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return notFound(string(level), w.ID)
			}
		}
		version = eval.Version + 1
		return bumpEvaluation(ctx, tx, eval)
	})
	return version, err
}

const scoreColumns = `id, evaluation_id, vendor_id, criterion_id, evaluator_id, value, rationale, status,
	submitted_at, updated_at, lock_version, evidence_ids`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (domain.Score, error) {
	var (
		sc        domain.Score
		status    string
		submitted sql.NullTime
		evidence  []byte
	)
	err := row.Scan(&sc.ID, &sc.EvaluationID, &sc.VendorID, &sc.CriterionID, &sc.EvaluatorID, &sc.Value,
		&sc.Rationale, &status, &submitted, &sc.UpdatedAt, &sc.Version, &evidence)
	if err != nil {
		return domain.Score{}, err
	}
	sc.Status = domain.ScoreStatus(status)
	if submitted.Valid {
		sc.SubmittedAt = submitted.Time
	}
	if sc.EvidenceIDs, err = unmarshalIDs(evidence); err != nil {
		return domain.Score{}, err
	}
	return sc, nil
}

// GetScore returns the score held under key.
func (s *MySQLStore) GetScore(ctx context.Context, evaluationID string, key domain.ScoreKey) (domain.Score, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM scores
		 WHERE evaluation_id = ? AND vendor_id = ? AND criterion_id = ? AND evaluator_id = ?`,
		evaluationID, key.VendorID, key.CriterionID, key.EvaluatorID)
	sc, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Score{}, notFound("score", key.String())
	}
	if err != nil {
		return domain.Score{}, ports.NewStoreError("GetScore", key.String(), err)
	}
	return sc, nil
}

// ListScores returns every score of the evaluation ordered by key.
func (s *MySQLStore) ListScores(ctx context.Context, evaluationID string) ([]domain.Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scoreColumns+` FROM scores WHERE evaluation_id = ?
		 ORDER BY vendor_id, criterion_id, evaluator_id`, evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListScores", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.Score, 0)
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, ports.NewStoreError("ListScores", evaluationID, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// WriteScore commits score after the lock, consensus, version and status
// checks inside one transaction holding the evaluation row lock.
func (s *MySQLStore) WriteScore(
	ctx context.Context,
	score domain.Score,
	expectedVersion int64,
	scopes []domain.LockScope,
) (domain.Score, error) {
	evidence, err := marshalIDs(score.EvidenceIDs)
	if err != nil {
		return domain.Score{}, ports.NewStoreError("WriteScore", score.Key().String(), err)
	}
	key := score.Key()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, score.EvaluationID, -1)
		if err != nil {
			return err
		}
		for _, scope := range scopes {
			state, err := lockState(ctx, tx, scope)
			if err != nil {
				return err
			}
			if state.Locked {
				return domain.NewLockedError(state)
			}
		}
		if lerr, err := lockedConsensus(ctx, tx, score.EvaluationID, score.VendorID, score.CriterionID); err != nil {
			return err
		} else if lerr != nil {
			return lerr
		}

		cur, err := scanScore(tx.QueryRowContext(ctx,
			`SELECT `+scoreColumns+` FROM scores
			 WHERE evaluation_id = ? AND vendor_id = ? AND criterion_id = ? AND evaluator_id = ? FOR UPDATE`,
			score.EvaluationID, key.VendorID, key.CriterionID, key.EvaluatorID))
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ports.NewStoreError("WriteScore", key.String(), err)
		}
		if err := checkScoreVersion(key, cur, exists, expectedVersion); err != nil {
			return err
		}
		if exists && cur.Submitted() && !score.Submitted() {
			return revertError()
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
		if score.UpdatedAt.IsZero() {
			score.UpdatedAt = time.Now().UTC()
		}

		var submittedAt any
		if !score.SubmittedAt.IsZero() {
			submittedAt = score.SubmittedAt
		}
		if exists {
			_, err = tx.ExecContext(ctx,
				`UPDATE scores SET value = ?, rationale = ?, status = ?, submitted_at = ?, updated_at = ?,
				 lock_version = ?, evidence_ids = ?
				 WHERE evaluation_id = ? AND vendor_id = ? AND criterion_id = ? AND evaluator_id = ?`,
				score.Value, score.Rationale, string(score.Status), submittedAt, score.UpdatedAt,
				score.Version, evidence, score.EvaluationID, key.VendorID, key.CriterionID, key.EvaluatorID)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO scores (`+scoreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				score.ID, score.EvaluationID, key.VendorID, key.CriterionID, key.EvaluatorID, score.Value,
				score.Rationale, string(score.Status), submittedAt, score.UpdatedAt, score.Version, evidence)
		}
		if isDuplicate(err) {
			return &domain.ConcurrencyConflictError{Entity: "score", Key: key.String(), Expected: expectedVersion, Actual: expectedVersion + 1}
		}
		if err != nil {
			return ports.NewStoreError("WriteScore", key.String(), err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
	if err != nil {
		return domain.Score{}, err
	}
	return score, nil
}

// LockState derives the current state of scope from its newest record.
func (s *MySQLStore) LockState(ctx context.Context, scope domain.LockScope) (domain.LockState, error) {
	return lockState(ctx, s.db, scope)
}

func lockState(ctx context.Context, q rowQueryer, scope domain.LockScope) (domain.LockState, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, evaluation_id, scope_type, scope_id, action, actor, reason, at, sequence
		 FROM lock_records WHERE scope_type = ? AND scope_id = ? ORDER BY sequence DESC LIMIT 1`,
		string(scope.Type), scope.ID)
	rec, err := scanLockRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeriveLockState(scope, nil), nil
	}
	if err != nil {
		return domain.LockState{}, ports.NewStoreError("LockState", scope.String(), err)
	}
	return domain.DeriveLockState(scope, []domain.LockRecord{rec}), nil
}

func scanLockRecord(row rowScanner) (domain.LockRecord, error) {
	var (
		rec       domain.LockRecord
		scopeType string
		action    string
	)
	err := row.Scan(&rec.ID, &rec.EvaluationID, &scopeType, &rec.Scope.ID, &action, &rec.Actor, &rec.Reason, &rec.At, &rec.Sequence)
	rec.Scope.Type = domain.LockScopeType(scopeType)
	rec.Action = domain.LockAction(action)
	return rec, err
}

// AppendLockRecord appends rec when the scope's sequence is still
// expectedSequence.
func (s *MySQLStore) AppendLockRecord(ctx context.Context, rec domain.LockRecord, expectedSequence int64) (domain.LockRecord, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, rec.EvaluationID, -1)
		if err != nil {
			return err
		}
		state, err := lockState(ctx, tx, rec.Scope)
		if err != nil {
			return err
		}
		conflict := &domain.ConcurrencyConflictError{
			Entity:   "lock_scope",
			Key:      rec.Scope.String(),
			Expected: expectedSequence,
			Actual:   state.Sequence,
		}
		if state.Sequence != expectedSequence {
			return conflict
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.Sequence = expectedSequence + 1
		rec.At = stamp(rec.At)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lock_records (id, evaluation_id, scope_type, scope_id, action, actor, reason, at, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.EvaluationID, string(rec.Scope.Type), rec.Scope.ID, string(rec.Action),
			rec.Actor, rec.Reason, rec.At, rec.Sequence)
		if isDuplicate(err) {
			conflict.Actual = rec.Sequence
			return conflict
		}
		if err != nil {
			return ports.NewStoreError("AppendLockRecord", rec.Scope.String(), err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
	if err != nil {
		return domain.LockRecord{}, err
	}
	return rec, nil
}

// LockHistory returns every record of scope in sequence order.
func (s *MySQLStore) LockHistory(ctx context.Context, scope domain.LockScope) ([]domain.LockRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, scope_type, scope_id, action, actor, reason, at, sequence
		 FROM lock_records WHERE scope_type = ? AND scope_id = ? ORDER BY sequence`,
		string(scope.Type), scope.ID)
	if err != nil {
		return nil, ports.NewStoreError("LockHistory", scope.String(), err)
	}
	defer rows.Close()

	out := make([]domain.LockRecord, 0)
	for rows.Next() {
		rec, err := scanLockRecord(rows)
		if err != nil {
			return nil, ports.NewStoreError("LockHistory", scope.String(), err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListConsensus returns every consensus score of the evaluation.
func (s *MySQLStore) ListConsensus(ctx context.Context, evaluationID string) ([]domain.ConsensusScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluation_id, vendor_id, criterion_id, value, rationale, contributing_score_ids,
		 locked, locked_at, locked_by, override_reason
		 FROM consensus WHERE evaluation_id = ? ORDER BY vendor_id, criterion_id`, evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListConsensus", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.ConsensusScore, 0)
	for rows.Next() {
		var (
			c        domain.ConsensusScore
			ids      []byte
			lockedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.EvaluationID, &c.VendorID, &c.CriterionID, &c.Value, &c.Rationale,
			&ids, &c.Locked, &lockedAt, &c.LockedBy, &c.OverrideReason); err != nil {
			return nil, ports.NewStoreError("ListConsensus", evaluationID, err)
		}
		if c.ContributingScoreIDs, err = unmarshalIDs(ids); err != nil {
			return nil, ports.NewStoreError("ListConsensus", c.ID, err)
		}
		if lockedAt.Valid {
			c.LockedAt = lockedAt.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func lockedConsensus(ctx context.Context, tx *sql.Tx, evaluationID, vendorID, criterionID string) (*domain.LockedError, error) {
	var (
		id       string
		by       string
		lockedAt sql.NullTime
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, locked_by, locked_at FROM consensus
		 WHERE evaluation_id = ? AND vendor_id = ? AND criterion_id = ? AND locked = TRUE`,
		evaluationID, vendorID, criterionID).Scan(&id, &by, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ports.NewStoreError("LockedConsensus", vendorID+"/"+criterionID, err)
	}
	return &domain.LockedError{ConsensusID: id, Actor: by, At: lockedAt.Time}, nil
}

// CreateReconciliation inserts r. The unique pair key rejects a second
// reconciliation for the same vendor and criterion.
func (s *MySQLStore) CreateReconciliation(ctx context.Context, r domain.Reconciliation) (domain.Reconciliation, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Version = 1
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, r.EvaluationID, -1)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(r)
		if err != nil {
			return ports.NewStoreError("CreateReconciliation", r.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reconciliations (id, evaluation_id, vendor_id, criterion_id, doc, version)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.EvaluationID, r.VendorID, r.CriterionID, doc, r.Version)
		if isDuplicate(err) {
			return &domain.ConcurrencyConflictError{Entity: "reconciliation", Key: pairString(r.Pair()), Expected: 0, Actual: 1}
		}
		if err != nil {
			return ports.NewStoreError("CreateReconciliation", r.ID, err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	return r, nil
}

// GetReconciliation returns one reconciliation.
func (s *MySQLStore) GetReconciliation(ctx context.Context, id string) (domain.Reconciliation, error) {
	return getReconciliation(ctx, s.db, id, false)
}

func getReconciliation(ctx context.Context, q rowQueryer, id string, forUpdate bool) (domain.Reconciliation, error) {
	query := `SELECT doc, version FROM reconciliations WHERE id = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var (
		doc []byte
		r   domain.Reconciliation
		ver int64
	)
	err := q.QueryRowContext(ctx, query, id).Scan(&doc, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reconciliation{}, notFound("reconciliation", id)
	}
	if err != nil {
		return domain.Reconciliation{}, ports.NewStoreError("GetReconciliation", id, err)
	}
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.Reconciliation{}, ports.NewStoreError("GetReconciliation", id, err)
	}
	r.Version = ver
	return r, nil
}

// ListReconciliations returns the reconciliations of an evaluation.
func (s *MySQLStore) ListReconciliations(ctx context.Context, evaluationID string) ([]domain.Reconciliation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, version FROM reconciliations WHERE evaluation_id = ? ORDER BY vendor_id, criterion_id`,
		evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListReconciliations", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.Reconciliation, 0)
	for rows.Next() {
		var (
			doc []byte
			r   domain.Reconciliation
			ver int64
		)
		if err := rows.Scan(&doc, &ver); err != nil {
			return nil, ports.NewStoreError("ListReconciliations", evaluationID, err)
		}
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, ports.NewStoreError("ListReconciliations", evaluationID, err)
		}
		r.Version = ver
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReconciliation replaces r when the stored version matches.
func (s *MySQLStore) UpdateReconciliation(ctx context.Context, r domain.Reconciliation, expectedVersion int64) (domain.Reconciliation, error) {
	var out domain.Reconciliation
	err := s.withReconciliation(ctx, r.ID, expectedVersion, func(tx *sql.Tx, eval domain.Evaluation, cur domain.Reconciliation) error {
		r.EvaluationID, r.VendorID, r.CriterionID = cur.EvaluationID, cur.VendorID, cur.CriterionID
		r.Version = cur.Version + 1
		if err := writeReconciliation(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return bumpEvaluation(ctx, tx, eval)
	})
	return out, err
}

// CommitConsensus stores the locked consensus together with the
// reconciliation that produced it.
func (s *MySQLStore) CommitConsensus(
	ctx context.Context,
	r domain.Reconciliation,
	expectedVersion int64,
	consensus domain.ConsensusScore,
) (domain.Reconciliation, error) {
	ids, err := marshalIDs(consensus.ContributingScoreIDs)
	if err != nil {
		return domain.Reconciliation{}, ports.NewStoreError("CommitConsensus", r.ID, err)
	}
	var out domain.Reconciliation
	err = s.withReconciliation(ctx, r.ID, expectedVersion, func(tx *sql.Tx, eval domain.Evaluation, cur domain.Reconciliation) error {
		if lerr, err := lockedConsensus(ctx, tx, cur.EvaluationID, cur.VendorID, cur.CriterionID); err != nil {
			return err
		} else if lerr != nil {
			return lerr
		}
		if consensus.ID == "" {
			consensus.ID = uuid.NewString()
		}
		var lockedAt any
		if !consensus.LockedAt.IsZero() {
			lockedAt = consensus.LockedAt
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO consensus (id, evaluation_id, vendor_id, criterion_id, value, rationale,
			 contributing_score_ids, locked, locked_at, locked_by, override_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			consensus.ID, cur.EvaluationID, cur.VendorID, cur.CriterionID, consensus.Value, consensus.Rationale,
			ids, consensus.Locked, lockedAt, consensus.LockedBy, consensus.OverrideReason)
		if err != nil {
			return ports.NewStoreError("CommitConsensus", consensus.ID, err)
		}

		r.EvaluationID, r.VendorID, r.CriterionID = cur.EvaluationID, cur.VendorID, cur.CriterionID
		r.ConsensusID = consensus.ID
		r.State = domain.ReconciliationConsensusLocked
		r.Version = cur.Version + 1
		if err := writeReconciliation(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return bumpEvaluation(ctx, tx, eval)
	})
	return out, err
}

// withReconciliation locks the evaluation, then the reconciliation row, and
// checks the reconciliation version before running fn. The evaluation row
// is always locked first to keep a single lock order across mutations.
func (s *MySQLStore) withReconciliation(
	ctx context.Context,
	id string,
	expectedVersion int64,
	fn func(tx *sql.Tx, eval domain.Evaluation, cur domain.Reconciliation) error,
) error {
	peek, err := getReconciliation(ctx, s.db, id, false)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, peek.EvaluationID, -1)
		if err != nil {
			return err
		}
		cur, err := getReconciliation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return &domain.ConcurrencyConflictError{
				Entity:   "reconciliation",
				Key:      id,
				Expected: expectedVersion,
				Actual:   cur.Version,
			}
		}
		return fn(tx, eval, cur)
	})
}

func writeReconciliation(ctx context.Context, tx *sql.Tx, r domain.Reconciliation) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return ports.NewStoreError("UpdateReconciliation", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reconciliations SET doc = ?, version = ? WHERE id = ?`, doc, r.Version, r.ID); err != nil {
		return ports.NewStoreError("UpdateReconciliation", r.ID, err)
	}
	return nil
}

// SaveAnomaly inserts (expectedVersion 0) or replaces an anomaly.
func (s *MySQLStore) SaveAnomaly(ctx context.Context, a domain.Anomaly, expectedVersion int64) (domain.Anomaly, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		eval, err := lockEvaluation(ctx, tx, a.EvaluationID, -1)
		if err != nil {
			return err
		}
		var current int64
		err = tx.QueryRowContext(ctx, `SELECT version FROM anomalies WHERE id = ? FOR UPDATE`, a.ID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ports.NewStoreError("SaveAnomaly", a.ID, err)
		}
		if current != expectedVersion {
			return &domain.ConcurrencyConflictError{Entity: "anomaly", Key: a.ID, Expected: expectedVersion, Actual: current}
		}
		a.Version = current + 1
		doc, err := json.Marshal(a)
		if err != nil {
			return ports.NewStoreError("SaveAnomaly", a.ID, err)
		}
		if current == 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO anomalies (id, evaluation_id, vendor_id, dimension, detected_at, doc, version)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				a.ID, a.EvaluationID, a.VendorID, string(a.Dimension), stamp(a.DetectedAt), doc, a.Version)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE anomalies SET doc = ?, version = ? WHERE id = ?`, doc, a.Version, a.ID)
		}
		if isDuplicate(err) {
			return &domain.ConcurrencyConflictError{Entity: "anomaly", Key: a.ID, Expected: expectedVersion, Actual: a.Version}
		}
		if err != nil {
			return ports.NewStoreError("SaveAnomaly", a.ID, err)
		}
		return bumpEvaluation(ctx, tx, eval)
	})
	if err != nil {
		return domain.Anomaly{}, err
	}
	return a, nil
}

// GetAnomaly returns one anomaly.
func (s *MySQLStore) GetAnomaly(ctx context.Context, id string) (domain.Anomaly, error) {
	var (
		doc []byte
		ver int64
		a   domain.Anomaly
	)
	err := s.db.QueryRowContext(ctx, `SELECT doc, version FROM anomalies WHERE id = ?`, id).Scan(&doc, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Anomaly{}, notFound("anomaly", id)
	}
	if err != nil {
		return domain.Anomaly{}, ports.NewStoreError("GetAnomaly", id, err)
	}
	if err := json.Unmarshal(doc, &a); err != nil {
		return domain.Anomaly{}, ports.NewStoreError("GetAnomaly", id, err)
	}
	a.Version = ver
	return a, nil
}

// ListAnomalies returns the anomalies of an evaluation ordered by dimension
// then vendor.
func (s *MySQLStore) ListAnomalies(ctx context.Context, evaluationID string) ([]domain.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, version FROM anomalies WHERE evaluation_id = ? ORDER BY dimension, vendor_id, detected_at`,
		evaluationID)
	if err != nil {
		return nil, ports.NewStoreError("ListAnomalies", evaluationID, err)
	}
	defer rows.Close()

	out := make([]domain.Anomaly, 0)
	for rows.Next() {
		var (
			doc []byte
			ver int64
			a   domain.Anomaly
		)
		if err := rows.Scan(&doc, &ver); err != nil {
			return nil, ports.NewStoreError("ListAnomalies", evaluationID, err)
		}
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, ports.NewStoreError("ListAnomalies", evaluationID, err)
		}
		a.Version = ver
		out = append(out, a)
	}
	return out, rows.Err()
}

// withTx runs fn in a transaction, committing on success and rolling back on
// any error.
func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.NewStoreError("Begin", "", fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return ports.NewStoreError("Commit", "", err)
	}
	return nil
}

// lockEvaluation takes the evaluation row lock. A non-negative expected
// version must match the stored one.
func lockEvaluation(ctx context.Context, tx *sql.Tx, id string, expected int64) (domain.Evaluation, error) {
	eval, err := getEvaluation(ctx, tx, id, true)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if expected >= 0 && eval.Version != expected {
		return domain.Evaluation{}, &domain.ConcurrencyConflictError{
			Entity:   "evaluation",
			Key:      id,
			Expected: expected,
			Actual:   eval.Version,
		}
	}
	return eval, nil
}

func bumpEvaluation(ctx context.Context, tx *sql.Tx, eval domain.Evaluation) error {
	if _, err := tx.ExecContext(ctx, `UPDATE evaluations SET version = ? WHERE id = ?`, eval.Version+1, eval.ID); err != nil {
		return ports.NewStoreError("BumpVersion", eval.ID, err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func unmarshalIDs(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}
