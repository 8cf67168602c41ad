package publish

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeIndex struct {
	added []string
}

func (f *fakeIndex) Add(item *database.ContentItem) error {
	f.added = append(f.added, item.Slug)
	return nil
}

const articleBody = `# Paper Cups Guide

Paper cups are the workhorse of every takeaway counter. Choosing the right wall
thickness keeps drinks hot and hands cool.

## Single or double wall

Double wall cups cost more but skip the sleeve.
`

// seedDraft creates an opportunity, brief and draft. A non-zero score marks
// the draft as reviewed.
func seedDraft(t *testing.T, db *database.DB, query, title string, score int) (oppID, draftID int64) {
	t.Helper()
	opp, _, err := db.UpsertOpportunity(database.OpportunityUpsert{Query: query, Score: 60})
	if err != nil {
		t.Fatalf("seeding opportunity: %v", err)
	}
	if err := db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress); err != nil {
		t.Fatal(err)
	}
	if err := db.TransitionOpportunity(opp.ID, lifecycle.OpportunityInProgress, lifecycle.OpportunityCompleted); err != nil {
		t.Fatal(err)
	}
	briefID, err := db.InsertBrief(&database.ContentBrief{OpportunityID: opp.ID, TargetKeyword: query})
	if err != nil {
		t.Fatalf("seeding brief: %v", err)
	}
	draftID, err = db.InsertDraft(&database.ContentDraft{
		BriefID:        briefID,
		ContentType:    "blog_post",
		Title:          title,
		Body:           articleBody,
		TargetKeywords: []string{query},
	})
	if err != nil {
		t.Fatalf("seeding draft: %v", err)
	}
	if score > 0 {
		if err := db.UpdateDraftReview(draftID, score, map[string]any{}, "claude-haiku-4"); err != nil {
			t.Fatalf("reviewing draft: %v", err)
		}
	}
	return opp.ID, draftID
}

func TestApprovePublishesOnce(t *testing.T) {
	db := openTestDB(t)
	index := &fakeIndex{}
	p := New(db, index, "GreenServe Editorial")
	_, draftID := seedDraft(t, db, "paper cups", "Paper Cups Guide", 75)

	item, err := p.Approve(draftID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if item.Slug != "paper-cups-guide" || item.AuthorCredit != "GreenServe Editorial" {
		t.Errorf("unexpected item %+v", item)
	}
	if !strings.Contains(item.BodyHTML, "<h2") || !strings.HasPrefix(item.Excerpt, "Paper cups are") {
		t.Errorf("unexpected rendering: html=%q excerpt=%q", item.BodyHTML, item.Excerpt)
	}
	if item.WordCount < 20 {
		t.Errorf("word count = %d", item.WordCount)
	}
	if len(index.added) != 1 || index.added[0] != item.Slug {
		t.Errorf("index not updated: %v", index.added)
	}

	d, _ := db.GetDraft(draftID)
	if d.Status != lifecycle.DraftPublished {
		t.Errorf("draft status = %s, want published", d.Status)
	}

	if _, err := p.Approve(draftID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("second approve: expected ErrInvalidTransition, got %v", err)
	}
}

func TestApproveDisambiguatesSlugs(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil, "")
	_, first := seedDraft(t, db, "paper cups", "Paper Cups Guide", 70)
	_, second := seedDraft(t, db, "paper cup sizes", "Paper Cups Guide", 80)

	a, err := p.Approve(first)
	if err != nil {
		t.Fatalf("Approve first: %v", err)
	}
	b, err := p.Approve(second)
	if err != nil {
		t.Fatalf("Approve second: %v", err)
	}
	if a.Slug != "paper-cups-guide" || b.Slug != "paper-cups-guide-1" {
		t.Errorf("slugs = %q, %q", a.Slug, b.Slug)
	}
}

func TestApproveRequiresReview(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil, "")
	_, draftID := seedDraft(t, db, "paper cups", "Paper Cups Guide", 0)

	if _, err := p.Approve(draftID); !errors.Is(err, database.ErrQualityTooLow) {
		t.Fatalf("expected ErrQualityTooLow, got %v", err)
	}
	d, _ := db.GetDraft(draftID)
	if d.Status != lifecycle.DraftPendingReview {
		t.Errorf("failed approve changed status to %s", d.Status)
	}
	if item, _ := db.GetItemByDraft(draftID); item != nil {
		t.Error("failed approve left a content item behind")
	}
}

func TestApproveMissingDraft(t *testing.T) {
	p := New(openTestDB(t), nil, "")
	if _, err := p.Approve(42); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectReturnsOpportunityToPending(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil, "")
	oppID, draftID := seedDraft(t, db, "paper cups", "Paper Cups Guide", 75)

	if err := p.Reject(draftID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	d, _ := db.GetDraft(draftID)
	opp, _ := db.GetOpportunity(oppID)
	if d.Status != lifecycle.DraftRejected || opp.Status != lifecycle.OpportunityPending {
		t.Errorf("draft %s, opportunity %s", d.Status, opp.Status)
	}

	if _, err := p.Approve(draftID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("approving a rejected draft: expected ErrInvalidTransition, got %v", err)
	}
}

func TestDismiss(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil, "")
	oppID, _ := seedDraft(t, db, "paper cups", "Paper Cups Guide", 75)

	if err := p.Dismiss(oppID); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	opp, _ := db.GetOpportunity(oppID)
	if opp.Status != lifecycle.OpportunityDismissed {
		t.Errorf("status = %s", opp.Status)
	}
	if err := p.Dismiss(oppID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("dismissing twice: expected ErrInvalidTransition, got %v", err)
	}
	if err := p.Dismiss(999); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
