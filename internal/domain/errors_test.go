package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Score")
		err.AddError("rationale required")

		assert.Equal(t, "validation error for Score: rationale required", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.True(t, err.Has("rationale required"))
		assert.False(t, err.Has("reason required"))
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Score")
		err.AddError("vendor is required")
		err.AddError("value 9 is outside scale [1, 5]")

		assert.Contains(t, err.Error(), "validation errors for Score")
		assert.Len(t, err.Errors, 2, "Should have two errors")
		assert.True(t, err.Has("outside scale"))
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.Empty(t, err.Errors, "Errors slice should be empty")
	})
}

func TestCommonDomainErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrNotFound, "not found"},
		{ErrUnauthorized, "unauthorized"},
		{ErrInvalidConfiguration, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "Error message mismatch")
		})
	}
}

// TestLockedError_Message tests both the scope-lock and the superseded
// consensus renderings of LockedError.
func TestLockedError_Message(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := LockState{
		Scope:  LockScope{Type: ScopeEvaluation, ID: "eval-1"},
		Locked: true,
		Head: &LockRecord{
			Action: ActionLock,
			Actor:  "lead-1",
			Reason: "final review",
			At:     at,
		},
		Sequence: 1,
	}

	err := NewLockedError(state)
	assert.Equal(t, "evaluation eval-1 is locked by lead-1: final review", err.Error())
	assert.Equal(t, at, err.At)

	bare := NewLockedError(LockState{Scope: LockScope{Type: ScopeVendor, ID: "v1"}, Locked: true})
	assert.Equal(t, "vendor v1 is locked", bare.Error())

	superseded := &LockedError{ConsensusID: "cons-9"}
	assert.Equal(t, "score is superseded by locked consensus cons-9", superseded.Error())
}

// TestWeightMismatchError_Message tests that the message reports the actual
// total while the field keeps full precision.
func TestWeightMismatchError_Message(t *testing.T) {
	tests := []struct {
		name  string
		level WeightLevel
		total float64
		want  string
	}{
		{"integral total", WeightLevelCategory, 110, "category weights total 110%, must equal 100%"},
		{"fractional total", WeightLevelCriterion, 99.98, "criterion weights total 99.98%, must equal 100%"},
		{"rounded display", WeightLevelCategory, 100.0333333, "category weights total 100.03%, must equal 100%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &WeightMismatchError{Level: tt.level, ScopeID: "x", Total: tt.total}
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, tt.total, err.Total)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	conflict := fmt.Errorf("submit: %w", &ConcurrencyConflictError{Entity: "score", Key: "k", Expected: 1, Actual: 2})
	locked := fmt.Errorf("submit: %w", &LockedError{Scope: LockScope{Type: ScopeCategory, ID: "c1"}})

	assert.True(t, IsConflict(conflict))
	assert.False(t, IsConflict(locked))
	assert.True(t, IsLocked(locked))
	assert.False(t, IsLocked(conflict))
	assert.Contains(t, conflict.Error(), "expected version 1, found 2")

	var insufficient *InsufficientDataError
	err := fmt.Errorf("detect: %w", &InsufficientDataError{Dimension: DimensionPrice, Have: 2, Need: 3})
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "insufficient data for price: have 2 values, need 3", insufficient.Error())

	transition := &TransitionError{Entity: "phase", From: "setup", To: "complete"}
	assert.Equal(t, "invalid phase transition from setup to complete", transition.Error())
}
