// Package lifecycle defines the state machines for opportunities and drafts.
//
// Opportunity status graph:
//
//	pending ──► in_progress ──► completed
//	   ▲  │          │              │
//	   │  │          └──► pending   ├──► pending
//	   │  └──► dismissed            └──► dismissed
//
// Draft status graph:
//
//	pending_review ──► approved ──► published
//	       │
//	       └──► rejected
//
// dismissed, rejected and published are terminal.
package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is wrapped by every TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
)

// TransitionError reports a rejected move between two states.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// OpportunityStatus mirrors the opportunities.status column.
type OpportunityStatus string

const (
	OpportunityPending    OpportunityStatus = "pending"
	OpportunityInProgress OpportunityStatus = "in_progress"
	OpportunityCompleted  OpportunityStatus = "completed"
	OpportunityDismissed  OpportunityStatus = "dismissed"
)

var opportunityTransitions = map[OpportunityStatus][]OpportunityStatus{
	OpportunityPending:    {OpportunityInProgress, OpportunityDismissed},
	OpportunityInProgress: {OpportunityCompleted, OpportunityPending},
	OpportunityCompleted:  {OpportunityPending, OpportunityDismissed},
}

// ParseOpportunityStatus converts a raw string, rejecting unknown values.
func ParseOpportunityStatus(s string) (OpportunityStatus, error) {
	st := OpportunityStatus(s)
	switch st {
	case OpportunityPending, OpportunityInProgress, OpportunityCompleted, OpportunityDismissed:
		return st, nil
	}
	return "", fmt.Errorf("%w: opportunity status %q", ErrUnknownStatus, s)
}

// CanTransition reports whether from → to is allowed.
func (from OpportunityStatus) CanTransition(to OpportunityStatus) bool {
	for _, s := range opportunityTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (from OpportunityStatus) Terminal() bool {
	return len(opportunityTransitions[from]) == 0
}

// CheckOpportunity returns a *TransitionError when from → to is not allowed.
func CheckOpportunity(from, to OpportunityStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return &TransitionError{Entity: "opportunity", From: string(from), To: string(to)}
}

// OpportunityType classifies how an opportunity should be worked.
type OpportunityType string

const (
	TypeNewContent       OpportunityType = "new_content"
	TypeOptimizeExisting OpportunityType = "optimize_existing"
	TypeQuickWin         OpportunityType = "quick_win"
)

// ParseOpportunityType converts a raw string, rejecting unknown values.
func ParseOpportunityType(s string) (OpportunityType, error) {
	t := OpportunityType(s)
	switch t {
	case TypeNewContent, TypeOptimizeExisting, TypeQuickWin:
		return t, nil
	}
	return "", fmt.Errorf("%w: opportunity type %q", ErrUnknownStatus, s)
}
