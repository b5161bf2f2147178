package application

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/middleware"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// AnomalyFilters narrow an anomaly report. Zero values match everything.
type AnomalyFilters struct {
	Dimensions  []domain.Dimension
	MinSeverity domain.Severity
	Statuses    []domain.AnomalyStatus
	VendorID    string
}

func (f AnomalyFilters) matchDimension(d domain.Dimension) bool {
	return len(f.Dimensions) == 0 || slices.Contains(f.Dimensions, d)
}

func (f AnomalyFilters) match(a domain.Anomaly) bool {
	if !f.matchDimension(a.Dimension) {
		return false
	}
	if f.MinSeverity != "" && a.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	return f.VendorID == "" || a.VendorID == f.VendorID
}

// AnomalyReport pairs the per-dimension detector results, including
// explicit insufficient-data abstentions, with the persisted anomalies.
type AnomalyReport struct {
	Dimensions []scoring.DimensionResult `json:"dimensions"`
	Anomalies  []domain.Anomaly          `json:"anomalies"`
}

// GetAnomalies runs the detector over price, schedule and score totals of
// the active vendors. New findings are persisted as open anomalies and
// fire anomaly-detected; an existing anomaly keeps its workflow status and
// is refreshed when its value or severity moved. An open anomaly the
// current data no longer supports is left out of the report; reviewed
// anomalies are always reported.
func (e *Engine) GetAnomalies(ctx context.Context, evaluationID string, filters AnomalyFilters) (_ AnomalyReport, err error) {
	ctx, op := e.observer.Start(ctx, "GetAnomalies", middleware.Target{EvaluationID: evaluationID})
	defer func() { op.End(err) }()

	results, err := cached(ctx, e, "anomalies", evaluationID, "", func(snap *scoring.Snapshot) ([]scoring.DimensionResult, error) {
		ranking, err := e.aggregator.Rank(snap)
		if err != nil {
			return nil, err
		}
		active := make(map[string]bool, len(snap.Vendors))
		for _, v := range snap.ActiveVendors() {
			active[v.ID] = true
		}
		metrics := make([]domain.VendorMetric, 0, len(snap.Metrics)+len(ranking))
		for _, m := range snap.Metrics {
			if active[m.VendorID] && m.Dimension != domain.DimensionScore {
				metrics = append(metrics, m)
			}
		}
		metrics = append(metrics, scoring.ScoreMetrics(ranking)...)
		return e.detector.Detect(ctx, metrics)
	})
	if err != nil {
		return AnomalyReport{}, err
	}
	for _, r := range results {
		if r.Insufficient != nil {
			e.logger.Debug("anomaly detection abstained", "evaluation_id", evaluationID, "reason", r.Insufficient.Error())
		}
	}

	anomalies, current, err := e.persistFindings(ctx, evaluationID, results)
	if err != nil {
		return AnomalyReport{}, err
	}

	report := AnomalyReport{
		Dimensions: make([]scoring.DimensionResult, 0, len(results)),
		Anomalies:  make([]domain.Anomaly, 0, len(anomalies)),
	}
	for _, r := range results {
		if filters.matchDimension(r.Dimension) {
			report.Dimensions = append(report.Dimensions, r)
		}
	}
	for _, a := range anomalies {
		if a.Status == domain.AnomalyOpen && !current[anomalyKey{a.VendorID, a.Dimension}] {
			e.logger.Debug("stale anomaly omitted", "evaluation_id", evaluationID, "anomaly_id", a.ID)
			continue
		}
		if filters.match(a) {
			report.Anomalies = append(report.Anomalies, a)
		}
	}
	sort.Slice(report.Anomalies, func(i, j int) bool {
		a, b := report.Anomalies[i], report.Anomalies[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		return a.VendorID < b.VendorID
	})
	return report, nil
}

type anomalyKey struct {
	vendorID  string
	dimension domain.Dimension
}

// persistFindings reconciles detector findings with stored anomalies. It
// returns every anomaly of the evaluation and the keys the findings cover.
func (e *Engine) persistFindings(
	ctx context.Context,
	evaluationID string,
	results []scoring.DimensionResult,
) ([]domain.Anomaly, map[anomalyKey]bool, error) {
	stored, err := e.store.ListAnomalies(ctx, evaluationID)
	if err != nil {
		return nil, nil, err
	}
	current := make(map[anomalyKey]bool)
	byKey := make(map[anomalyKey]int, len(stored))
	for i, a := range stored {
		byKey[anomalyKey{a.VendorID, a.Dimension}] = i
	}

	now := e.now()
	for _, r := range results {
		for _, f := range r.Findings {
			current[anomalyKey{f.VendorID, r.Dimension}] = true
			next := domain.Anomaly{
				EvaluationID: evaluationID,
				VendorID:     f.VendorID,
				Dimension:    r.Dimension,
				Value:        f.Value,
				Median:       r.Median,
				MAD:          r.MAD,
				Deviation:    f.Deviation,
				Threshold:    r.Threshold,
				Severity:     f.Severity,
				Status:       domain.AnomalyOpen,
				DetectedAt:   now,
				UpdatedAt:    now,
			}
			i, exists := byKey[anomalyKey{f.VendorID, r.Dimension}]
			var escalated bool
			var expected int64
			if exists {
				cur := stored[i]
				if cur.Value == next.Value && cur.Severity == next.Severity && cur.Median == next.Median {
					continue
				}
				escalated = next.Severity.Rank() > cur.Severity.Rank()
				next.ID = cur.ID
				next.Status = cur.Status
				next.DetectedAt = cur.DetectedAt
				next.ReviewedBy = cur.ReviewedBy
				next.Note = cur.Note
				expected = cur.Version
			}

			saved, err := e.store.SaveAnomaly(ctx, next, expected)
			if domain.IsConflict(err) {
				e.logger.Debug("anomaly refresh skipped", "evaluation_id", evaluationID, "vendor_id", f.VendorID, "error", err)
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			if exists {
				stored[i] = saved
			} else {
				byKey[anomalyKey{saved.VendorID, saved.Dimension}] = len(stored)
				stored = append(stored, saved)
			}
			if exists && !escalated {
				continue
			}
			e.counter(middleware.MetricAnomaliesFlagged, map[string]string{
				"dimension": string(saved.Dimension),
				"severity":  string(saved.Severity),
			})
			e.logger.Info("anomaly detected",
				"evaluation_id", evaluationID, "vendor_id", saved.VendorID, "dimension", saved.Dimension,
				"value", saved.Value, "median", saved.Median, "severity", saved.Severity)
			e.notify(ctx, domain.Event{
				Type:         domain.EventAnomalyDetected,
				EvaluationID: evaluationID,
				VendorID:     saved.VendorID,
				Detail: map[string]string{
					"anomaly_id": saved.ID,
					"dimension":  string(saved.Dimension),
					"severity":   string(saved.Severity),
					"value":      strconv.FormatFloat(saved.Value, 'f', -1, 64),
					"deviation":  strconv.FormatFloat(saved.Deviation, 'f', -1, 64),
				},
			})
		}
	}
	return stored, current, nil
}

// TransitionAnomaly moves an anomaly through open -> under_review ->
// resolved | accepted_risk | dismissed. Only leads and admins may review;
// closing an anomaly requires a note.
func (e *Engine) TransitionAnomaly(
	ctx context.Context,
	anomalyID, actor string,
	next domain.AnomalyStatus,
	note string,
) (_ domain.Anomaly, err error) {
	ctx, op := e.observer.Start(ctx, "TransitionAnomaly", middleware.Target{UserID: actor})
	defer func() { op.End(err) }()

	if !next.Valid() {
		if _, err := ParseAnomalyStatus(string(next)); err != nil {
			return domain.Anomaly{}, err
		}
	}
	note = strings.TrimSpace(note)
	if next.Terminal() && note == "" {
		verr := domain.NewValidationError("Anomaly")
		verr.AddError("note required")
		return domain.Anomaly{}, verr
	}

	var out domain.Anomaly
	err = e.retry(ctx, "anomaly", func() error {
		cur, err := e.store.GetAnomaly(ctx, anomalyID)
		if err != nil {
			return err
		}
		if err := e.requirePrivileged(ctx, cur.EvaluationID, actor, "review anomalies"); err != nil {
			return err
		}
		if !cur.Status.CanTransitionTo(next) {
			return &domain.TransitionError{Entity: "anomaly", From: string(cur.Status), To: string(next)}
		}
		upd := cur
		upd.Status = next
		upd.ReviewedBy = actor
		upd.UpdatedAt = e.now()
		if note != "" {
			upd.Note = note
		}
		out, err = e.store.SaveAnomaly(ctx, upd, cur.Version)
		return err
	})
	if err != nil {
		return domain.Anomaly{}, err
	}
	e.logger.Info("anomaly transitioned", "anomaly_id", anomalyID, "status", next, "actor", actor)
	return out, nil
}
