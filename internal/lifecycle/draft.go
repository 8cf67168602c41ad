package lifecycle

import "fmt"

// DraftStatus mirrors the content_drafts.status column.
type DraftStatus string

const (
	DraftPendingReview DraftStatus = "pending_review"
	DraftApproved      DraftStatus = "approved"
	DraftRejected      DraftStatus = "rejected"
	DraftPublished     DraftStatus = "published"
)

// MinQualityScore is the lowest review score a draft may be stored with.
const MinQualityScore = 50

var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftPendingReview: {DraftApproved, DraftRejected},
	DraftApproved:      {DraftPublished},
}

// ParseDraftStatus converts a raw string, rejecting unknown values.
func ParseDraftStatus(s string) (DraftStatus, error) {
	st := DraftStatus(s)
	switch st {
	case DraftPendingReview, DraftApproved, DraftRejected, DraftPublished:
		return st, nil
	}
	return "", fmt.Errorf("%w: draft status %q", ErrUnknownStatus, s)
}

// CanTransition reports whether from → to is allowed.
func (from DraftStatus) CanTransition(to DraftStatus) bool {
	for _, s := range draftTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (from DraftStatus) Terminal() bool {
	return len(draftTransitions[from]) == 0
}

// Approvable reports whether an approve action may start from this state.
// Approved drafts are accepted so a repeated approval finishes publishing.
func (from DraftStatus) Approvable() bool {
	return from == DraftPendingReview || from == DraftApproved
}

// CheckDraft returns a *TransitionError when from → to is not allowed.
func CheckDraft(from, to DraftStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return &TransitionError{Entity: "draft", From: string(from), To: string(to)}
}
