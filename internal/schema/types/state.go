package types

import (
	"fmt"
	"time"
)

// SchemaState is the lifecycle state of a stored schema version.
type SchemaState string

const (
	// StateDraft is a registered but not yet activated version. Drafts are
	// never part of compatibility comparison sets.
	StateDraft SchemaState = "DRAFT"
	// StateActive is a version current consumers rely on.
	StateActive SchemaState = "ACTIVE"
	// StateDeprecated is still served and still compared against, but marked
	// for retirement.
	StateDeprecated SchemaState = "DEPRECATED"
	// StateDeleted is a terminal tombstone. The version number stays burned.
	StateDeleted SchemaState = "DELETED"
)

// ParseSchemaState validates a state name received from the API.
func ParseSchemaState(s string) (SchemaState, error) {
	switch st := SchemaState(s); st {
	case StateDraft, StateActive, StateDeprecated, StateDeleted:
		return st, nil
	default:
		return "", fmt.Errorf("invalid schema state %q", s)
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Allowed: Draft->Active, Active->Deprecated, Active->Deleted,
// Deprecated->Deleted. Deleted is terminal.
func (s SchemaState) CanTransitionTo(next SchemaState) bool {
	switch s {
	case StateDraft:
		return next == StateActive
	case StateActive:
		return next == StateDeprecated || next == StateDeleted
	case StateDeprecated:
		return next == StateDeleted
	default:
		return false
	}
}

// Transition returns the next state, or ErrIllegalTransition when the
// lifecycle does not allow the move.
func (s SchemaState) Transition(next SchemaState) (SchemaState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// Comparable reports whether versions in this state participate in
// compatibility comparison sets.
func (s SchemaState) Comparable() bool {
	return s == StateActive || s == StateDeprecated
}

// StateTransition records one applied lifecycle change on a version.
type StateTransition struct {
	From   SchemaState `json:"from"`
	To     SchemaState `json:"to"`
	Actor  string      `json:"actor,omitempty"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}
