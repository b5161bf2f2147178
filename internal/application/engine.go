package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/cache"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/combiners"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/notify"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// Dependencies are the collaborators of an Engine. Store, Catalog and
// Directory are required; the rest fall back to in-process defaults.
type Dependencies struct {
	Store     ports.Store
	Catalog   ports.Catalog
	Directory ports.Directory

	// Notifier defaults to a LogNotifier on Logger.
	Notifier ports.Notifier

	// Cache defaults to an in-memory cache bounded by EngineConfig.Cache.
	Cache ports.CacheStore

	// Metrics may be nil.
	Metrics ports.MetricsCollector

	// Tracer defaults to the globally registered tracer provider.
	Tracer trace.Tracer

	Logger *slog.Logger
	Clock  func() time.Time
}

// Engine is the scoring engine facade. Read operations compute over a
// consistent snapshot and are cached by evaluation version; mutations go
// through the store's optimistic concurrency checks.
//
// Concurrency: safe for concurrent use.
type Engine struct {
	store     ports.Store
	catalog   ports.Catalog
	directory ports.Directory
	notifier  ports.Notifier
	cache     ports.CacheStore
	metrics   ports.MetricsCollector
	observer  *middleware.OperationObserver
	logger    *slog.Logger
	now       func() time.Time

	config      EngineConfig
	aggregator  *scoring.Aggregator
	coordinator *scoring.Coordinator
	detector    *scoring.Detector
	linker      *scoring.Linker

	flight singleflight.Group
}

// NewEngine validates cfg and assembles an Engine.
func NewEngine(cfg EngineConfig, deps Dependencies) (*Engine, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Directory == nil {
		return nil, fmt.Errorf("%w: store, catalog and directory are required", domain.ErrInvalidConfiguration)
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	readCache := deps.Cache
	if readCache == nil {
		readCache = cache.NewMemoryCache(cache.WithMaxEntries(cfg.Cache.MaxEntries), cache.WithClock(clock))
	}

	combiner, err := combiners.New(cfg.Combination.Method, cfg.Combination.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	coordinator, err := scoring.NewCoordinator(cfg.Reconciliation)
	if err != nil {
		return nil, err
	}
	detector, err := scoring.NewDetector(cfg.Anomaly)
	if err != nil {
		return nil, err
	}
	aggregator := scoring.NewAggregator(combiner, clock)
	linker, err := scoring.NewLinker(aggregator, cfg.RAG)
	if err != nil {
		return nil, err
	}

	observerOpts := []middleware.ObserverOption{middleware.WithObserverClock(clock)}
	if deps.Tracer != nil {
		observerOpts = append(observerOpts, middleware.WithTracer(deps.Tracer))
	}

	return &Engine{
		store:       deps.Store,
		catalog:     deps.Catalog,
		directory:   deps.Directory,
		notifier:    notifier,
		cache:       readCache,
		metrics:     deps.Metrics,
		observer:    middleware.NewOperationObserver(deps.Metrics, observerOpts...),
		logger:      logger,
		now:         clock,
		config:      cfg,
		aggregator:  aggregator,
		coordinator: coordinator,
		detector:    detector,
		linker:      linker,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig { return e.config }

// GetVendorRanking returns the active vendors of an evaluation ordered by
// total, each with its full category breakdown. The slice is shared with
// the cache and must not be modified.
func (e *Engine) GetVendorRanking(ctx context.Context, evaluationID string) (_ []scoring.VendorResult, err error) {
	ctx, op := e.observer.Start(ctx, "GetVendorRanking", middleware.Target{EvaluationID: evaluationID})
	defer func() { op.End(err) }()

	return cached(ctx, e, "ranking", evaluationID, "", func(snap *scoring.Snapshot) ([]scoring.VendorResult, error) {
		ranking, err := e.aggregator.Rank(snap)
		if err != nil {
			return nil, err
		}
		for _, r := range ranking {
			e.histogram(middleware.MetricVendorTotal, r.Total, map[string]string{"evaluation_id": evaluationID})
		}
		return ranking, nil
	})
}

// GetCategoryBreakdown returns one vendor's total with per-category and
// per-criterion contributions and their unscored/unresolved flags.
func (e *Engine) GetCategoryBreakdown(ctx context.Context, vendorID string) (_ scoring.VendorResult, err error) {
	ctx, op := e.observer.Start(ctx, "GetCategoryBreakdown", middleware.Target{VendorID: vendorID})
	defer func() { op.End(err) }()

	vendor, err := e.catalog.Vendor(ctx, vendorID)
	if err != nil {
		return scoring.VendorResult{}, err
	}
	op.SetAttributes(middleware.AttrEvaluationID.String(vendor.EvaluationID))
	return cached(ctx, e, "breakdown", vendor.EvaluationID, vendorID, func(snap *scoring.Snapshot) (scoring.VendorResult, error) {
		return e.aggregator.VendorTotal(snap, vendorID)
	})
}

// GetTraceabilityMatrix returns the requirement × vendor matrix. Coverage
// always spans every requirement; filters only narrow the rows and cells.
func (e *Engine) GetTraceabilityMatrix(ctx context.Context, evaluationID string, filters scoring.Filters) (_ *scoring.Matrix, err error) {
	ctx, op := e.observer.Start(ctx, "GetTraceabilityMatrix", middleware.Target{EvaluationID: evaluationID})
	defer func() { op.End(err) }()

	key, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	return cached(ctx, e, "matrix", evaluationID, string(key), func(snap *scoring.Snapshot) (*scoring.Matrix, error) {
		m, err := e.linker.Build(snap, filters)
		if err != nil {
			return nil, err
		}
		e.gauge(middleware.MetricCoverage, m.Coverage.Percent, map[string]string{"evaluation_id": evaluationID})
		return m, nil
	})
}

// GetCellDrilldown resolves the chain behind one matrix cell. Evaluator
// scores are filtered through the visibility policy for viewerID.
func (e *Engine) GetCellDrilldown(
	ctx context.Context,
	evaluationID, requirementID, vendorID, viewerID string,
) (_ scoring.Drilldown, err error) {
	ctx, op := e.observer.Start(ctx, "GetCellDrilldown", middleware.Target{
		EvaluationID: evaluationID, VendorID: vendorID, UserID: viewerID,
	})
	defer func() { op.End(err) }()

	viewer, err := e.viewer(ctx, evaluationID, viewerID)
	if err != nil {
		return scoring.Drilldown{}, err
	}
	m, err := e.GetTraceabilityMatrix(ctx, evaluationID, scoring.Filters{})
	if err != nil {
		return scoring.Drilldown{}, err
	}
	d, err := m.Drilldown(requirementID, vendorID)
	if err != nil {
		return scoring.Drilldown{}, err
	}
	eval, err := e.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return scoring.Drilldown{}, err
	}
	scores, err := e.store.ListScores(ctx, evaluationID)
	if err != nil {
		return scoring.Drilldown{}, err
	}
	vc := domain.NewVisibilityContext(eval, viewerID, scores)
	for i := range d.Criteria {
		d.Criteria[i].Scores = domain.FilterVisible(viewer, d.Criteria[i].Scores, vc)
	}
	return d, nil
}

// VisibleScores returns the scores of an evaluation that viewerID may see
// under the blind-scoring policy.
func (e *Engine) VisibleScores(ctx context.Context, evaluationID, viewerID string) (_ []domain.Score, err error) {
	ctx, op := e.observer.Start(ctx, "VisibleScores", middleware.Target{EvaluationID: evaluationID, UserID: viewerID})
	defer func() { op.End(err) }()

	viewer, err := e.viewer(ctx, evaluationID, viewerID)
	if err != nil {
		return nil, err
	}
	eval, err := e.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	scores, err := e.store.ListScores(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	return domain.FilterVisible(viewer, scores, domain.NewVisibilityContext(eval, viewerID, scores)), nil
}

// cacheEntry is what the read path stores. A result depending on a
// reconciliation deadline is valid only until that deadline passes, even
// when the evaluation version has not moved.
type cacheEntry struct {
	value      any
	validUntil time.Time
}

// cached serves compute's result from the cache keyed by the evaluation
// version, de-duplicating concurrent computations of the same key.
func cached[T any](
	ctx context.Context,
	e *Engine,
	kind, evaluationID, variant string,
	compute func(*scoring.Snapshot) (T, error),
) (T, error) {
	var zero T
	eval, err := e.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return zero, err
	}
	key := cacheKey(kind, evaluationID, eval.Version, variant)
	if v, ok := e.cacheGet(ctx, kind, key); ok {
		if out, ok := v.(T); ok {
			return out, nil
		}
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		snap, err := scoring.LoadSnapshot(ctx, e.store, e.catalog, evaluationID)
		if err != nil {
			return nil, err
		}
		out, err := compute(snap)
		if err != nil {
			return nil, err
		}
		entry := cacheEntry{value: out, validUntil: nextDeadline(snap, e.now())}
		storeKey := cacheKey(kind, evaluationID, snap.Evaluation.Version, variant)
		if err := e.cache.Set(ctx, storeKey, entry, e.config.Cache.TTL); err != nil {
			e.logger.Warn("cache set failed", "key", storeKey, "error", err)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, ports.NewCacheError(key, "Decode", ports.ErrCacheCorrupted)
	}
	return out, nil
}

func (e *Engine) cacheGet(ctx context.Context, kind, key string) (any, bool) {
	v, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	entry, isEntry := v.(cacheEntry)
	hit := ok && isEntry && (entry.validUntil.IsZero() || !e.now().After(entry.validUntil))
	result := "miss"
	if hit {
		result = "hit"
	}
	e.counter(middleware.MetricCacheLookups, map[string]string{"operation": kind, "result": result})
	if !hit {
		return nil, false
	}
	return entry.value, true
}

func cacheKey(kind, evaluationID string, version int64, variant string) string {
	return fmt.Sprintf("%s:%s:v%d:%s", kind, evaluationID, version, variant)
}

// nextDeadline returns the earliest reconciliation deadline still ahead of
// now, or zero when no pending deadline can change the result.
func nextDeadline(snap *scoring.Snapshot, now time.Time) time.Time {
	var next time.Time
	for _, r := range snap.Reconciliations {
		if r.Locked() || r.Deadline.IsZero() || r.Deadline.Before(now) {
			continue
		}
		if next.IsZero() || r.Deadline.Before(next) {
			next = r.Deadline
		}
	}
	return next
}

// retry runs fn and repeats it after a concurrency conflict, up to the
// configured number of retries. fn must re-read whatever it compares.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.config.ConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn()
		var conflict *domain.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		e.counter(middleware.MetricConflicts, map[string]string{"entity": conflict.Entity})
		e.logger.Debug("retrying after conflict", "operation", op, "attempt", attempt+1, "error", err)
	}
	return err
}

// viewer resolves userID's role.
func (e *Engine) viewer(ctx context.Context, evaluationID, userID string) (domain.Viewer, error) {
	role, err := e.directory.Role(ctx, evaluationID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Viewer{}, fmt.Errorf("%w: %s has no role in evaluation %s", domain.ErrUnauthorized, userID, evaluationID)
	}
	if err != nil {
		return domain.Viewer{}, err
	}
	return domain.Viewer{UserID: userID, Role: role}, nil
}

// requirePrivileged checks that userID is a lead or admin.
func (e *Engine) requirePrivileged(ctx context.Context, evaluationID, userID, action string) error {
	v, err := e.viewer(ctx, evaluationID, userID)
	if err != nil {
		return err
	}
	if !v.Role.Privileged() {
		return fmt.Errorf("%w: %s (%s) may not %s", domain.ErrUnauthorized, userID, v.Role, action)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, event domain.Event) {
	if event.At.IsZero() {
		event.At = e.now()
	}
	e.notifier.Notify(ctx, event)
}

func (e *Engine) counter(metric string, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordCounter(metric, 1, labels)
	}
}

func (e *Engine) gauge(metric string, value float64, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordGauge(metric, value, labels)
	}
}

func (e *Engine) histogram(metric string, value float64, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordHistogram(metric, value, labels)
	}
}
