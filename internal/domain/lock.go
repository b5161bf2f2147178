package domain

import (
	"fmt"
	"time"
)

// LockScopeType is the granularity at which score mutation is frozen.
type LockScopeType string

// Supported lock scope types.
const (
	ScopeEvaluation LockScopeType = "evaluation"
	ScopeVendor     LockScopeType = "vendor"
	ScopeCategory   LockScopeType = "category"
)

// LockScopeTypeValues lists every scope type.
func LockScopeTypeValues() []string {
	return []string{string(ScopeEvaluation), string(ScopeVendor), string(ScopeCategory)}
}

// Valid reports whether t is a known scope type.
func (t LockScopeType) Valid() bool { return containsValue(LockScopeTypeValues(), string(t)) }

// LockAction is the action recorded by a lock audit entry.
type LockAction string

// Supported lock actions.
const (
	ActionLock   LockAction = "lock"
	ActionUnlock LockAction = "unlock"
)

// LockScope names one lockable scope.
type LockScope struct {
	Type LockScopeType `json:"type"`
	ID   string        `json:"id"`
}

// String renders the scope as type:id.
func (s LockScope) String() string { return fmt.Sprintf("%s:%s", s.Type, s.ID) }

// EnclosingScopes returns every scope that freezes a score for the given
// evaluation, vendor and category.
func EnclosingScopes(evaluationID, vendorID, categoryID string) []LockScope {
	return []LockScope{
		{Type: ScopeEvaluation, ID: evaluationID},
		{Type: ScopeVendor, ID: vendorID},
		{Type: ScopeCategory, ID: categoryID},
	}
}

// LockRecord is an append-only audit entry. Records are never updated or
// deleted. Sequence increases by one per scope, starting at 1.
type LockRecord struct {
	ID           string     `json:"id"`
	EvaluationID string     `json:"evaluation_id"`
	Scope        LockScope  `json:"scope"`
	Action       LockAction `json:"action"`
	Actor        string     `json:"actor"`
	Reason       string     `json:"reason,omitempty"`
	At           time.Time  `json:"at"`
	Sequence     int64      `json:"sequence"`
}

// LockState is the current lock state of a scope, derived from the most
// recent record. Sequence is the compare-and-swap token for the next append.
type LockState struct {
	Scope    LockScope   `json:"scope"`
	Locked   bool        `json:"locked"`
	Head     *LockRecord `json:"head,omitempty"`
	Sequence int64       `json:"sequence"`
}

// DeriveLockState computes the current state from a scope's history. The
// records need not be sorted.
func DeriveLockState(scope LockScope, records []LockRecord) LockState {
	state := LockState{Scope: scope}
	for i := range records {
		rec := records[i]
		if rec.Scope != scope {
			continue
		}
		if state.Head == nil || rec.Sequence > state.Head.Sequence {
			state.Head = &rec
		}
	}
	if state.Head != nil {
		state.Locked = state.Head.Action == ActionLock
		state.Sequence = state.Head.Sequence
	}
	return state
}
