package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// DimensionConfig tunes detection for one dimension.
type DimensionConfig struct {
	// K scales the MAD into the flagging threshold.
	K float64 `yaml:"k" json:"k" validate:"gt=0"`

	// MinVendors is the number of vendors with a value below which the
	// detector abstains.
	MinVendors int `yaml:"min_vendors" json:"min_vendors" validate:"min=3"`
}

// AnomalyConfig controls the detector.
type AnomalyConfig struct {
	Dimensions map[domain.Dimension]DimensionConfig `yaml:"dimensions" json:"dimensions" validate:"dive"`

	// WarningMultiplier and CriticalMultiplier grade deviation/threshold:
	// up to WarningMultiplier is info, up to CriticalMultiplier is warning,
	// beyond is critical.
	WarningMultiplier  float64 `yaml:"warning_multiplier" json:"warning_multiplier" validate:"gt=1"`
	CriticalMultiplier float64 `yaml:"critical_multiplier" json:"critical_multiplier" validate:"gtfield=WarningMultiplier"`
}

// DefaultAnomalyConfig returns k=2.5 and three vendors for every dimension,
// with severity multipliers 1.5 and 2.0.
func DefaultAnomalyConfig() AnomalyConfig {
	dims := make(map[domain.Dimension]DimensionConfig, 3)
	for _, d := range []domain.Dimension{domain.DimensionPrice, domain.DimensionSchedule, domain.DimensionScore} {
		dims[d] = DimensionConfig{K: 2.5, MinVendors: 3}
	}
	return AnomalyConfig{Dimensions: dims, WarningMultiplier: 1.5, CriticalMultiplier: 2.0}
}

// Finding is one flagged vendor value.
type Finding struct {
	VendorID  string          `json:"vendor_id"`
	Value     float64         `json:"value"`
	Deviation float64         `json:"deviation"`
	Severity  domain.Severity `json:"severity"`
}

// DimensionResult is the detector output for one dimension. Insufficient is
// set instead of Findings when too few vendors have a value.
type DimensionResult struct {
	Dimension    domain.Dimension              `json:"dimension"`
	Values       int                           `json:"values"`
	Median       float64                       `json:"median"`
	MAD          float64                       `json:"mad"`
	Threshold    float64                       `json:"threshold"`
	Findings     []Finding                     `json:"findings"`
	Insufficient *domain.InsufficientDataError `json:"insufficient,omitempty"`
}

// Detector flags outliers with the median absolute deviation.
//
// Concurrency: stateless after construction and safe for concurrent use.
type Detector struct {
	config AnomalyConfig
}

// NewDetector creates a Detector.
func NewDetector(config AnomalyConfig) (*Detector, error) {
	if config.WarningMultiplier <= 1 || config.CriticalMultiplier <= config.WarningMultiplier {
		return nil, fmt.Errorf("%w: severity multipliers must satisfy 1 < warning < critical", domain.ErrInvalidConfiguration)
	}
	for d, dc := range config.Dimensions {
		if !d.Valid() {
			return nil, fmt.Errorf("%w: unknown dimension %q", domain.ErrInvalidConfiguration, d)
		}
		if dc.K <= 0 || dc.MinVendors < 3 {
			return nil, fmt.Errorf("%w: dimension %s needs k > 0 and at least 3 vendors", domain.ErrInvalidConfiguration, d)
		}
	}
	return &Detector{config: config}, nil
}

// DetectDimension flags the values of one dimension. Values are keyed by
// vendor; the first value per vendor wins. The result is deterministic:
// findings are ordered by vendor ID.
func (d *Detector) DetectDimension(dim domain.Dimension, metrics []domain.VendorMetric) DimensionResult {
	dc, ok := d.config.Dimensions[dim]
	if !ok {
		dc = DimensionConfig{K: 2.5, MinVendors: 3}
	}

	seen := make(map[string]bool, len(metrics))
	vendors := make([]string, 0, len(metrics))
	values := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		if m.Dimension != dim || seen[m.VendorID] || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			continue
		}
		seen[m.VendorID] = true
		vendors = append(vendors, m.VendorID)
		values = append(values, m.Value)
	}

	res := DimensionResult{Dimension: dim, Values: len(values), Findings: make([]Finding, 0)}
	if len(values) < dc.MinVendors {
		res.Insufficient = &domain.InsufficientDataError{Dimension: dim, Have: len(values), Need: dc.MinVendors}
		return res
	}

	res.MAD, res.Median = domain.MedianAbsoluteDeviation(values)
	res.Threshold = dc.K * res.MAD
	for i, v := range values {
		dev := math.Abs(v - res.Median)
		if dev <= res.Threshold || dev == 0 {
			continue
		}
		res.Findings = append(res.Findings, Finding{
			VendorID:  vendors[i],
			Value:     v,
			Deviation: dev,
			Severity:  d.severity(dev, res.Threshold),
		})
	}
	sort.Slice(res.Findings, func(i, j int) bool { return res.Findings[i].VendorID < res.Findings[j].VendorID })
	return res
}

// severity grades dev against threshold. A zero threshold (all other
// values identical) makes any deviation critical.
func (d *Detector) severity(dev, threshold float64) domain.Severity {
	if threshold == 0 {
		return domain.SeverityCritical
	}
	ratio := dev / threshold
	switch {
	case ratio > d.config.CriticalMultiplier:
		return domain.SeverityCritical
	case ratio > d.config.WarningMultiplier:
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

// Detect runs every dimension present in the configuration concurrently.
// It stops early when ctx is cancelled. Results are ordered by dimension.
func (d *Detector) Detect(ctx context.Context, metrics []domain.VendorMetric) ([]DimensionResult, error) {
	dims := make([]domain.Dimension, 0, len(d.config.Dimensions))
	for dim := range d.config.Dimensions {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	results := make([]DimensionResult, len(dims))
	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range dims {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.DetectDimension(dim, metrics)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ScoreMetrics turns vendor totals into score-dimension metrics so the
// detector can flag outlying totals.
func ScoreMetrics(ranking []VendorResult) []domain.VendorMetric {
	out := make([]domain.VendorMetric, 0, len(ranking))
	for _, r := range ranking {
		out = append(out, domain.VendorMetric{VendorID: r.Vendor.ID, Dimension: domain.DimensionScore, Value: r.Total})
	}
	return out
}
