package application

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// NewValidator returns a validator with the engine's custom rules
// registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterEngineValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterEngineValidators registers the closed-enum tags (weightpolicy,
// combination, fallback, dimension) and the struct-level ordering rules for
// scales, RAG thresholds and anomaly severity multipliers.
func RegisterEngineValidators(v *validator.Validate) error {
	tags := map[string][]string{
		"weightpolicy": {string(domain.WeightPolicyManual), string(domain.WeightPolicyAutoRedistribute)},
		"combination":  domain.CombinationMethodValues(),
		"fallback":     domain.DeadlineFallbackValues(),
		"dimension":    domain.DimensionValues(),
	}
	for tag, allowed := range tags {
		if err := v.RegisterValidation(tag, enumValidator(allowed)); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}

	v.RegisterStructValidation(validateScale, domain.Scale{})
	v.RegisterStructValidation(validateRAG, scoring.RAGThresholds{})
	v.RegisterStructValidation(validateAnomaly, scoring.AnomalyConfig{})
	v.RegisterStructValidation(validateReconcile, scoring.ReconcileConfig{})
	return nil
}

func enumValidator(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return slices.Contains(allowed, fl.Field().String())
	}
}

// validateScale requires min below max.
func validateScale(sl validator.StructLevel) {
	s := sl.Current().Interface().(domain.Scale)
	if s.Min >= s.Max {
		sl.ReportError(s.Max, "Max", "max", "scaleorder", "")
	}
}

// validateRAG requires amber below green.
func validateRAG(sl validator.StructLevel) {
	t := sl.Current().Interface().(scoring.RAGThresholds)
	if t.Green <= t.Amber {
		sl.ReportError(t.Green, "Green", "green", "ragorder", "")
	}
}

// validateAnomaly requires 1 < warning < critical and known dimensions.
func validateAnomaly(sl validator.StructLevel) {
	c := sl.Current().Interface().(scoring.AnomalyConfig)
	if c.WarningMultiplier <= 1 || c.CriticalMultiplier <= c.WarningMultiplier {
		sl.ReportError(c.CriticalMultiplier, "CriticalMultiplier", "critical_multiplier", "severityorder", "")
	}
	for d := range c.Dimensions {
		if !d.Valid() {
			sl.ReportError(d, "Dimensions", "dimensions", "dimension", string(d))
		}
	}
}

// validateReconcile requires a known deadline fallback.
func validateReconcile(sl validator.StructLevel) {
	c := sl.Current().Interface().(scoring.ReconcileConfig)
	if !c.Fallback.Valid() {
		sl.ReportError(c.Fallback, "Fallback", "fallback", "fallback", string(c.Fallback))
	}
}

// ParseEnum normalizes value (case, surrounding space, hyphens) and checks
// it against allowed. Unknown values produce a ValidationError naming the
// closest allowed value when one is near enough to be a likely typo.
func ParseEnum(kind, value string, allowed []string) (string, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	if slices.Contains(allowed, norm) {
		return norm, nil
	}
	verr := domain.NewValidationError(kind)
	msg := fmt.Sprintf("unknown %s %q", kind, value)
	if s := suggest(norm, allowed); s != "" {
		msg += fmt.Sprintf(", did you mean %q?", s)
	} else {
		msg += fmt.Sprintf(", must be one of %s", strings.Join(allowed, ", "))
	}
	verr.AddError(msg)
	return "", verr
}

// suggest returns the allowed value closest to value by edit distance, or
// "" when nothing is within a third of the value's length (at least 2).
func suggest(value string, allowed []string) string {
	best, bestDist := "", -1
	for _, a := range allowed {
		d := levenshtein.ComputeDistance(value, a)
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	limit := max(2, len(value)/3)
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}

func parseTyped[T ~string](kind, value string, allowed []string) (T, error) {
	v, err := ParseEnum(kind, value, allowed)
	return T(v), err
}

// ParsePriority parses a requirement priority.
func ParsePriority(s string) (domain.Priority, error) {
	return parseTyped[domain.Priority]("priority", s, domain.PriorityValues())
}

// ParseDimension parses an anomaly dimension.
func ParseDimension(s string) (domain.Dimension, error) {
	return parseTyped[domain.Dimension]("dimension", s, domain.DimensionValues())
}

// ParseSeverity parses an anomaly severity.
func ParseSeverity(s string) (domain.Severity, error) {
	return parseTyped[domain.Severity]("severity", s, domain.SeverityValues())
}

// ParseAnomalyStatus parses an anomaly workflow status.
func ParseAnomalyStatus(s string) (domain.AnomalyStatus, error) {
	return parseTyped[domain.AnomalyStatus]("anomaly status", s, domain.AnomalyStatusValues())
}

// ParseScopeType parses a lock scope type.
func ParseScopeType(s string) (domain.LockScopeType, error) {
	return parseTyped[domain.LockScopeType]("scope type", s, domain.LockScopeTypeValues())
}

// ParsePhase parses an evaluation phase.
func ParsePhase(s string) (domain.Phase, error) {
	return parseTyped[domain.Phase]("phase", s, domain.PhaseValues())
}

// ParseFallback parses a reconciliation deadline fallback.
func ParseFallback(s string) (domain.DeadlineFallback, error) {
	return parseTyped[domain.DeadlineFallback]("fallback", s, domain.DeadlineFallbackValues())
}

// ParseRAG parses a traceability RAG status.
func ParseRAG(s string) (scoring.RAG, error) {
	return parseTyped[scoring.RAG]("rag", s, []string{
		string(scoring.RAGGreen), string(scoring.RAGAmber), string(scoring.RAGRed), string(scoring.RAGNone),
	})
}
