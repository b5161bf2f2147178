package domain

import "time"

// Dimension is a numeric attribute compared across vendors.
type Dimension string

// Supported anomaly dimensions.
const (
	DimensionPrice    Dimension = "price"
	DimensionSchedule Dimension = "schedule"
	DimensionScore    Dimension = "score"
)

// DimensionValues lists every dimension.
func DimensionValues() []string {
	return []string{string(DimensionPrice), string(DimensionSchedule), string(DimensionScore)}
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool { return containsValue(DimensionValues(), string(d)) }

// Severity grades how far a deviation exceeds its threshold.
type Severity string

// Supported severities, least to most severe.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityValues lists every severity.
func SeverityValues() []string {
	return []string{string(SeverityInfo), string(SeverityWarning), string(SeverityCritical)}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return containsValue(SeverityValues(), string(s)) }

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AnomalyStatus is the resolution workflow state of an anomaly.
type AnomalyStatus string

// Supported anomaly statuses.
const (
	AnomalyOpen         AnomalyStatus = "open"
	AnomalyUnderReview  AnomalyStatus = "under_review"
	AnomalyResolved     AnomalyStatus = "resolved"
	AnomalyAcceptedRisk AnomalyStatus = "accepted_risk"
	AnomalyDismissed    AnomalyStatus = "dismissed"
)

// AnomalyStatusValues lists every anomaly status.
func AnomalyStatusValues() []string {
	return []string{
		string(AnomalyOpen), string(AnomalyUnderReview), string(AnomalyResolved),
		string(AnomalyAcceptedRisk), string(AnomalyDismissed),
	}
}

// Valid reports whether s is a known status.
func (s AnomalyStatus) Valid() bool { return containsValue(AnomalyStatusValues(), string(s)) }

// Terminal reports whether no further transition is allowed.
func (s AnomalyStatus) Terminal() bool {
	return s == AnomalyResolved || s == AnomalyAcceptedRisk || s == AnomalyDismissed
}

// CanTransitionTo enforces open -> under_review -> resolved | accepted_risk | dismissed.
func (s AnomalyStatus) CanTransitionTo(next AnomalyStatus) bool {
	switch s {
	case AnomalyOpen:
		return next == AnomalyUnderReview
	case AnomalyUnderReview:
		return next.Terminal()
	default:
		return false
	}
}

// Anomaly is a flagged outlier value for one vendor in one dimension.
type Anomaly struct {
	ID           string        `json:"id"`
	EvaluationID string        `json:"evaluation_id"`
	VendorID     string        `json:"vendor_id"`
	Dimension    Dimension     `json:"dimension"`
	Value        float64       `json:"value"`
	Median       float64       `json:"median"`
	MAD          float64       `json:"mad"`
	Deviation    float64       `json:"deviation"`
	Threshold    float64       `json:"threshold"`
	Severity     Severity      `json:"severity"`
	Status       AnomalyStatus `json:"status"`
	DetectedAt   time.Time     `json:"detected_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ReviewedBy   string        `json:"reviewed_by,omitempty"`
	Note         string        `json:"note,omitempty"`
	Version      int64         `json:"version"`
}
