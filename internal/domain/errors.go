package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Common domain errors that can occur during scoring operations.
var (
	// ErrNotFound indicates that a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates that the actor's role does not permit the
	// operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError represents a user-correctable input problem such as an
// out-of-range value, a missing rationale, or a malformed weight.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of violated rules.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// Has reports whether any recorded rule contains msg.
func (e *ValidationError) Has(msg string) bool {
	for _, m := range e.Errors {
		if strings.Contains(m, msg) {
			return true
		}
	}
	return false
}

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// LockedError is returned when a mutation targets a scope with an active
// lock. Callers should surface the target as read-only.
type LockedError struct {
	Scope  LockScope
	Actor  string
	Reason string
	At     time.Time

	// ConsensusID is set when the target is frozen because a locked
	// consensus supersedes it rather than by a scope lock.
	ConsensusID string
}

// Error implements the error interface for LockedError.
func (e *LockedError) Error() string {
	if e.ConsensusID != "" {
		return fmt.Sprintf("score is superseded by locked consensus %s", e.ConsensusID)
	}
	msg := fmt.Sprintf("%s %s is locked", e.Scope.Type, e.Scope.ID)
	if e.Actor != "" {
		msg += " by " + e.Actor
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// NewLockedError builds a LockedError from the head record of a scope.
func NewLockedError(state LockState) *LockedError {
	err := &LockedError{Scope: state.Scope}
	if state.Head != nil {
		err.Actor = state.Head.Actor
		err.Reason = state.Head.Reason
		err.At = state.Head.At
	}
	return err
}

// WeightLevel names the level of the weight hierarchy being validated.
type WeightLevel string

// Weight hierarchy levels.
const (
	WeightLevelCategory  WeightLevel = "category"
	WeightLevelCriterion WeightLevel = "criterion"
)

// WeightMismatchError reports weights that do not sum to 100 within
// tolerance. It blocks phase transitions but not draft edits.
type WeightMismatchError struct {
	Level WeightLevel

	// ScopeID is the evaluation for category weights, or the category for
	// criterion weights.
	ScopeID string

	// Total is the actual sum at full precision.
	Total float64
}

// Error implements the error interface for WeightMismatchError.
func (e *WeightMismatchError) Error() string {
	return fmt.Sprintf("%s weights total %s%%, must equal 100%%", e.Level, formatPercent(e.Total))
}

// InsufficientDataError explains why a computation abstained. It is carried
// inside typed results rather than returned for expected outcomes.
type InsufficientDataError struct {
	Dimension Dimension
	Have      int
	Need      int
}

// Error implements the error interface for InsufficientDataError.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d values, need %d", e.Dimension, e.Have, e.Need)
}

// ConcurrencyConflictError is returned when an optimistic version check
// fails. The caller must refetch and retry; nothing was written.
type ConcurrencyConflictError struct {
	Entity   string
	Key      string
	Expected int64
	Actual   int64
}

// Error implements the error interface for ConcurrencyConflictError.
func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s %s: expected version %d, found %d",
		e.Entity, e.Key, e.Expected, e.Actual)
}

// TransitionError is returned for a workflow move the state machine does
// not allow.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

// Error implements the error interface for TransitionError.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Entity, e.From, e.To)
}

// IsConflict reports whether err is or wraps a ConcurrencyConflictError.
func IsConflict(err error) bool {
	var c *ConcurrencyConflictError
	return errors.As(err, &c)
}

// IsLocked reports whether err is or wraps a LockedError.
func IsLocked(err error) bool {
	var l *LockedError
	return errors.As(err, &l)
}

// formatPercent renders a weight total with at most two decimals for
// messages only; the error keeps the full-precision total.
func formatPercent(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
