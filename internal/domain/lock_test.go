package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeriveLockState tests that the current state always follows the record
// with the highest sequence, regardless of input order.
func TestDeriveLockState(t *testing.T) {
	scope := LockScope{Type: ScopeVendor, ID: "v1"}
	other := LockScope{Type: ScopeVendor, ID: "v2"}

	tests := []struct {
		name       string
		records    []LockRecord
		wantLocked bool
		wantSeq    int64
	}{
		{name: "no history", wantLocked: false, wantSeq: 0},
		{
			name:       "single lock",
			records:    []LockRecord{{Scope: scope, Action: ActionLock, Sequence: 1}},
			wantLocked: true,
			wantSeq:    1,
		},
		{
			name: "lock then unlock out of order",
			records: []LockRecord{
				{Scope: scope, Action: ActionUnlock, Sequence: 2},
				{Scope: scope, Action: ActionLock, Sequence: 1},
			},
			wantLocked: false,
			wantSeq:    2,
		},
		{
			name: "relocked",
			records: []LockRecord{
				{Scope: scope, Action: ActionLock, Sequence: 1},
				{Scope: scope, Action: ActionUnlock, Sequence: 2},
				{Scope: scope, Action: ActionLock, Sequence: 3},
			},
			wantLocked: true,
			wantSeq:    3,
		},
		{
			name: "other scopes ignored",
			records: []LockRecord{
				{Scope: other, Action: ActionLock, Sequence: 5},
				{Scope: scope, Action: ActionUnlock, Sequence: 1},
			},
			wantLocked: false,
			wantSeq:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := DeriveLockState(scope, tt.records)
			assert.Equal(t, tt.wantLocked, state.Locked)
			assert.Equal(t, tt.wantSeq, state.Sequence)
			assert.Equal(t, scope, state.Scope)
			if tt.wantSeq > 0 {
				require.NotNil(t, state.Head)
				assert.Equal(t, tt.wantSeq, state.Head.Sequence)
			}
		})
	}
}

func TestEnclosingScopes(t *testing.T) {
	scopes := EnclosingScopes("eval-1", "v1", "functional")
	assert.Equal(t, []LockScope{
		{Type: ScopeEvaluation, ID: "eval-1"},
		{Type: ScopeVendor, ID: "v1"},
		{Type: ScopeCategory, ID: "functional"},
	}, scopes)
	assert.Equal(t, "vendor:v1", scopes[1].String())
	assert.True(t, ScopeCategory.Valid())
	assert.False(t, LockScopeType("criterion").Valid())
}
