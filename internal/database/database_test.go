package database

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/scoring"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func intp(n int) *int { return &n }

func seedOpportunity(t *testing.T, db *DB, query string) *Opportunity {
	t.Helper()
	opp, _, err := db.UpsertOpportunity(OpportunityUpsert{
		Query:        query,
		Score:        55,
		SearchVolume: intp(2000),
		Competition:  scoring.CompetitionLow,
		Metadata:     map[string]any{"competitor_urls": []string{"https://example.com/a"}},
	})
	if err != nil {
		t.Fatalf("seeding opportunity: %v", err)
	}
	return opp
}

func seedBrief(t *testing.T, db *DB, oppID int64) int64 {
	t.Helper()
	id, err := db.InsertBrief(&ContentBrief{
		OpportunityID: oppID,
		TargetKeyword: "paper cups",
		Structure: BriefStructure{
			Title:           "The Complete Guide to Paper Cups",
			Headings:        []string{"What", "Why"},
			WordCountTarget: 1500,
		},
		InternalLinks:  InternalLinks{Opportunities: []string{"category pages"}},
		ResearchData:   map[string]any{"competitor_urls": []string{"https://example.com/a"}},
		CreatedByModel: "mock",
	})
	if err != nil {
		t.Fatalf("seeding brief: %v", err)
	}
	return id
}

func seedDraft(t *testing.T, db *DB, briefID int64, title string) int64 {
	t.Helper()
	id, err := db.InsertDraft(&ContentDraft{
		BriefID:        briefID,
		ContentType:    "blog_post",
		Title:          title,
		Body:           "# " + title + "\n\nBody text.",
		TargetKeywords: []string{"paper cups"},
		GenerationCost: 2.5,
	})
	if err != nil {
		t.Fatalf("seeding draft: %v", err)
	}
	return id
}

func TestUpsertOpportunityCreatesAndUpdates(t *testing.T) {
	db := openTestDB(t)

	opp, created, err := db.UpsertOpportunity(OpportunityUpsert{Query: "compostable cups", Score: 40, CurrentPosition: intp(12)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected first upsert to create")
	}
	if opp.Type != lifecycle.TypeNewContent || opp.Status != lifecycle.OpportunityPending {
		t.Errorf("unexpected new opportunity: type=%s status=%s", opp.Type, opp.Status)
	}

	if err := db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress); err != nil {
		t.Fatalf("transition: %v", err)
	}

	updated, created, err := db.UpsertOpportunity(OpportunityUpsert{
		Query:           "compostable cups",
		Score:           61,
		CurrentPosition: intp(12),
		ExistingType:    lifecycle.TypeQuickWin,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected second upsert to update")
	}
	if updated.ID != opp.ID {
		t.Errorf("expected same id %d, got %d", opp.ID, updated.ID)
	}
	if updated.Type != lifecycle.TypeQuickWin || updated.Score != 61 {
		t.Errorf("expected quick_win/61, got %s/%d", updated.Type, updated.Score)
	}
	if updated.Status != lifecycle.OpportunityInProgress {
		t.Errorf("status should be preserved, got %s", updated.Status)
	}
	if !updated.DiscoveredAt.Equal(opp.DiscoveredAt) {
		t.Errorf("discovered_at changed: %v → %v", opp.DiscoveredAt, updated.DiscoveredAt)
	}
}

func TestUpsertOpportunityRejectsInvalidCompetition(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.UpsertOpportunity(OpportunityUpsert{Query: "x", Competition: "extreme"}); err == nil {
		t.Error("expected error for invalid competition")
	}
}

func TestListOpportunitiesFilters(t *testing.T) {
	db := openTestDB(t)
	db.UpsertOpportunity(OpportunityUpsert{Query: "a", Score: 20})
	db.UpsertOpportunity(OpportunityUpsert{Query: "b", Score: 70})
	c, _, _ := db.UpsertOpportunity(OpportunityUpsert{Query: "c", Score: 50})
	db.MoveOpportunity(c.ID, lifecycle.OpportunityDismissed)

	all, err := db.ListOpportunities(OpportunityFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].Query != "b" {
		t.Errorf("expected 3 sorted by score, got %+v", all)
	}

	pending, _ := db.ListOpportunities(OpportunityFilter{Status: lifecycle.OpportunityPending, MinScore: 30})
	if len(pending) != 1 || pending[0].Query != "b" {
		t.Errorf("expected only 'b', got %+v", pending)
	}
}

func TestTransitionOpportunityCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "paper straws")

	if err := db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress)
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError for stale from-state, got %v", err)
	}
	if te.From != "in_progress" {
		t.Errorf("expected current state in error, got %q", te.From)
	}

	if err := db.MoveOpportunity(opp.ID, lifecycle.OpportunityDismissed); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("in_progress → dismissed should be rejected, got %v", err)
	}
	if err := db.MoveOpportunity(9999, lifecycle.OpportunityDismissed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBriefIsUniquePerOpportunity(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "paper plates")
	seedBrief(t, db, opp.ID)

	_, err := db.InsertBrief(&ContentBrief{OpportunityID: opp.ID, TargetKeyword: "again"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	brief, err := db.GetBriefByOpportunity(opp.ID)
	if err != nil || brief == nil {
		t.Fatalf("expected brief, got %v %v", brief, err)
	}
	if brief.Structure.WordCountTarget != 1500 || len(brief.Structure.Headings) != 2 {
		t.Errorf("structure not round-tripped: %+v", brief.Structure)
	}
	if urls := brief.CompetitorURLs(); len(urls) != 1 {
		t.Errorf("expected competitor urls, got %v", urls)
	}
}

func TestDraftQualityInvariant(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "kraft boxes")
	briefID := seedBrief(t, db, opp.ID)

	_, err := db.InsertDraft(&ContentDraft{BriefID: briefID, ContentType: "blog_post", Title: "T", Body: "B", QualityScore: intp(40)})
	if !errors.Is(err, ErrQualityTooLow) {
		t.Fatalf("expected ErrQualityTooLow on insert, got %v", err)
	}

	draftID := seedDraft(t, db, briefID, "Kraft Boxes")
	if err := db.UpdateDraftReview(draftID, 49, nil, "reviewer"); !errors.Is(err, ErrQualityTooLow) {
		t.Errorf("expected ErrQualityTooLow on review, got %v", err)
	}
	if err := db.UpdateDraftReview(draftID, 50, map[string]any{"seo_score": 70}, "reviewer"); err != nil {
		t.Fatalf("score 50 should be accepted: %v", err)
	}

	d, _ := db.GetDraft(draftID)
	if d.QualityScore == nil || *d.QualityScore != 50 || d.ReviewerModel != "reviewer" {
		t.Errorf("review not stored: %+v", d)
	}
	if d.Status != lifecycle.DraftPendingReview {
		t.Errorf("expected pending_review, got %s", d.Status)
	}
}

func TestDraftProductInvariant(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "napkins")
	briefID := seedBrief(t, db, opp.ID)
	if err := db.UpsertProduct(Product{ID: "sku-1", Name: "Napkin"}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	_, err := db.InsertDraft(&ContentDraft{
		BriefID: briefID, ContentType: "blog_post", Title: "T", Body: "B",
		RelatedProductIDs: []string{"sku-1", "sku-missing"},
	})
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}

	id, err := db.InsertDraft(&ContentDraft{
		BriefID: briefID, ContentType: "blog_post", Title: "T", Body: "B",
		RelatedProductIDs: []string{"sku-1"},
	})
	if err != nil {
		t.Fatalf("valid products rejected: %v", err)
	}
	d, _ := db.GetDraft(id)
	if len(d.RelatedProductIDs) != 1 || d.RelatedProductIDs[0] != "sku-1" {
		t.Errorf("products not stored: %v", d.RelatedProductIDs)
	}
}

func TestDraftIsUniquePerBrief(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "lids")
	briefID := seedBrief(t, db, opp.ID)
	seedDraft(t, db, briefID, "Lids")

	_, err := db.InsertDraft(&ContentDraft{BriefID: briefID, ContentType: "blog_post", Title: "T", Body: "B"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestPublishDraftCreatesItemWithUniqueSlug(t *testing.T) {
	db := openTestDB(t)

	var drafts []int64
	for _, q := range []string{"cups one", "cups two", "cups three"} {
		opp := seedOpportunity(t, db, q)
		draftID := seedDraft(t, db, seedBrief(t, db, opp.ID), "Paper Cups Guide")
		if err := db.UpdateDraftReview(draftID, 75, nil, "reviewer"); err != nil {
			t.Fatalf("review: %v", err)
		}
		drafts = append(drafts, draftID)
	}

	want := []string{"paper-cups-guide", "paper-cups-guide-1", "paper-cups-guide-2"}
	for i, id := range drafts {
		item, err := db.PublishDraft(id, ContentItem{Slug: "paper-cups-guide", WordCount: 3, AuthorCredit: "Team"})
		if err != nil {
			t.Fatalf("PublishDraft(%d): %v", id, err)
		}
		if item.Slug != want[i] {
			t.Errorf("slug = %q, want %q", item.Slug, want[i])
		}
		if item.Title != "Paper Cups Guide" || item.AuthorCredit != "Team" {
			t.Errorf("fields not copied: %+v", item)
		}
		d, _ := db.GetDraft(id)
		if d.Status != lifecycle.DraftPublished {
			t.Errorf("draft status = %s, want published", d.Status)
		}
	}

	// Publishing twice never creates a second item.
	_, err := db.PublishDraft(drafts[0], ContentItem{Slug: "paper-cups-guide"})
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on republish, got %v", err)
	}
	items, _ := db.ListItems(0)
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
}

func TestPublishDraftRequiresReview(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "unreviewed")
	draftID := seedDraft(t, db, seedBrief(t, db, opp.ID), "Unreviewed")

	_, err := db.PublishDraft(draftID, ContentItem{Slug: "unreviewed"})
	if !errors.Is(err, ErrQualityTooLow) {
		t.Fatalf("expected ErrQualityTooLow, got %v", err)
	}
	d, _ := db.GetDraft(draftID)
	if d.Status != lifecycle.DraftPendingReview {
		t.Errorf("failed publish changed status to %s", d.Status)
	}
	if item, _ := db.GetItemByDraft(draftID); item != nil {
		t.Error("failed publish left a content item behind")
	}
}

func TestPublishDraftRollsBackOnDanglingProduct(t *testing.T) {
	db := openTestDB(t)
	db.UpsertProduct(Product{ID: "sku-9", Name: "Straw"})
	opp := seedOpportunity(t, db, "straws")
	briefID := seedBrief(t, db, opp.ID)
	draftID, err := db.InsertDraft(&ContentDraft{
		BriefID: briefID, ContentType: "blog_post", Title: "Straws", Body: "B",
		RelatedProductIDs: []string{"sku-9"}, QualityScore: intp(80),
	})
	if err != nil {
		t.Fatalf("InsertDraft: %v", err)
	}

	// The catalog changes after the draft was written.
	if _, err := db.conn.Exec("DELETE FROM products WHERE id = 'sku-9'"); err != nil {
		t.Fatalf("delete product: %v", err)
	}

	if _, err := db.PublishDraft(draftID, ContentItem{Slug: "straws"}); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	d, _ := db.GetDraft(draftID)
	if d.Status != lifecycle.DraftPendingReview {
		t.Errorf("status = %s, want pending_review after rollback", d.Status)
	}
}

func TestRejectDraftReturnsOpportunityToPending(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "cutlery")
	draftID := seedDraft(t, db, seedBrief(t, db, opp.ID), "Cutlery")
	db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress)
	db.TransitionOpportunity(opp.ID, lifecycle.OpportunityInProgress, lifecycle.OpportunityCompleted)

	if err := db.RejectDraft(draftID); err != nil {
		t.Fatalf("RejectDraft: %v", err)
	}
	d, _ := db.GetDraft(draftID)
	if d.Status != lifecycle.DraftRejected {
		t.Errorf("draft status = %s, want rejected", d.Status)
	}
	o, _ := db.GetOpportunity(opp.ID)
	if o.Status != lifecycle.OpportunityPending {
		t.Errorf("opportunity status = %s, want pending", o.Status)
	}

	if err := db.RejectDraft(draftID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("second reject should fail, got %v", err)
	}
}

func TestDeleteBriefCascadesToDraft(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "bags")
	briefID := seedBrief(t, db, opp.ID)
	draftID := seedDraft(t, db, briefID, "Bags")

	if err := db.DeleteBrief(briefID); err != nil {
		t.Fatalf("DeleteBrief: %v", err)
	}
	if d, _ := db.GetDraft(draftID); d != nil {
		t.Error("expected draft to be deleted with its brief")
	}
	if o, _ := db.GetOpportunity(opp.ID); o == nil {
		t.Error("opportunity must survive brief deletion")
	}
}

func TestBudgetTotalIsDerived(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, c := range []float64{0.5, 2.5, 0.3} {
		if _, err := db.RecordBudgetEvent("2026-03", "llm", c, at); err != nil {
			t.Fatalf("RecordBudgetEvent: %v", err)
		}
	}
	p, err := db.RecordBudgetEvent("2026-03", "serpapi", 1.33, at)
	if err != nil {
		t.Fatalf("RecordBudgetEvent: %v", err)
	}
	db.RecordBudgetEvent("2026-03", "gsc", 0, at)
	db.RecordBudgetEvent("2026-03", ContentPieceEvent, 0, at)

	p, _ = db.GetBudgetPeriod("2026-03")
	if p.LLMRequests != 3 || p.SerpAPIRequests != 1 || p.GSCRequests != 1 || p.ContentPiecesGenerated != 1 {
		t.Errorf("unexpected counters: %+v", p)
	}
	sum := p.LLMCost + p.SerpAPICost + p.GSCCost
	if diff := p.TotalCost - sum; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("total_cost %v != sum %v", p.TotalCost, sum)
	}
	if diff := p.TotalCost - 4.63; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("total_cost = %v, want 4.63", p.TotalCost)
	}

	if _, err := db.RecordBudgetEvent("2026-03", "email", 1, at); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestEnsureBudgetPeriodConcurrent(t *testing.T) {
	db := openTestDB(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.EnsureBudgetPeriod("2026-04"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("EnsureBudgetPeriod: %v", err)
	}

	periods, _ := db.ListBudgetPeriods(10)
	if len(periods) != 1 {
		t.Errorf("expected exactly one period, got %d", len(periods))
	}
}

func TestCountBudgetEventsWindow(t *testing.T) {
	db := openTestDB(t)
	day := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	db.RecordBudgetEvent("2026-05", "serpapi", 1.33, day.Add(-time.Hour))
	db.RecordBudgetEvent("2026-05", "serpapi", 1.33, day.Add(time.Hour))
	db.RecordBudgetEvent("2026-05", "serpapi", 1.33, day.Add(23*time.Hour))

	n, err := db.CountBudgetEvents("serpapi", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("CountBudgetEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events in window, got %d", n)
	}
}

func TestSnapshotInvariantsAndIdempotency(t *testing.T) {
	db := openTestDB(t)
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	if _, err := db.SaveSnapshot(&PerformanceSnapshot{PeriodStart: end, PeriodEnd: start}); err == nil {
		t.Error("expected error when period_start >= period_end")
	}
	if _, err := db.SaveSnapshot(&PerformanceSnapshot{PeriodStart: start, PeriodEnd: end, Clicks: -1}); err == nil {
		t.Error("expected error for negative clicks")
	}

	first := &PerformanceSnapshot{PeriodStart: start, PeriodEnd: end, Impressions: 100, Clicks: 4}
	created, err := db.SaveSnapshot(first)
	if err != nil || !created || first.ID == 0 {
		t.Fatalf("first save: created=%v id=%d err=%v", created, first.ID, err)
	}
	pos := 7.5
	again := &PerformanceSnapshot{PeriodStart: start, PeriodEnd: end, Impressions: 999, Clicks: 12, AvgPosition: &pos}
	created, err = db.SaveSnapshot(again)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if created {
		t.Error("expected the site-wide snapshot for the same week to be updated, not created")
	}
	if again.ID != first.ID {
		t.Errorf("second save reported id %d, want stored row %d", again.ID, first.ID)
	}

	snaps, _ := db.LatestSnapshots(nil, 5)
	if len(snaps) != 1 || snaps[0].ContentItemID != nil {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
	if snaps[0].Impressions != 999 || snaps[0].Clicks != 12 || snaps[0].AvgPosition == nil || *snaps[0].AvgPosition != 7.5 {
		t.Errorf("snapshot not overwritten: %+v", snaps[0])
	}
}

func TestTaskClaimIsExclusive(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	db.InsertTask(TaskRecord{ID: "t1", Kind: "discovery", RunAt: now.Add(-time.Minute)})
	db.InsertTask(TaskRecord{ID: "t2", Kind: "generation", Payload: `{"opportunity_id":1}`, RunAt: now.Add(time.Hour)})

	claimed, err := db.ClaimDueTasks(now, 10)
	if err != nil {
		t.Fatalf("ClaimDueTasks: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "t1" {
		t.Fatalf("expected only t1 due, got %+v", claimed)
	}
	again, _ := db.ClaimDueTasks(now, 10)
	if len(again) != 0 {
		t.Errorf("task claimed twice: %+v", again)
	}

	if err := db.RetryTask("t1", now.Add(time.Minute), 1, "boom"); err != nil {
		t.Fatalf("RetryTask: %v", err)
	}
	task, _ := db.GetTask("t1")
	if task.Status != "queued" || task.Attempts != 1 || task.LastError != "boom" {
		t.Errorf("unexpected retried task: %+v", task)
	}

	if err := db.BuryTask("t2", 3, "gave up"); err != nil {
		t.Fatalf("BuryTask: %v", err)
	}
	if err := db.CompleteTask("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "trays")
	seedDraft(t, db, seedBrief(t, db, opp.ID), "Trays")
	db.UpsertProduct(Product{ID: "p", Name: "Tray"})
	db.InsertTask(TaskRecord{ID: "q", Kind: "discovery", RunAt: time.Now()})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Opportunities["pending"] != 1 || stats.Drafts["pending_review"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Products != 1 || stats.QueuedTasks != 1 || stats.Items != 0 {
		t.Errorf("unexpected counters: %+v", stats)
	}
}

func TestMalformedJSONColumnIsLoggedAndSkipped(t *testing.T) {
	db := openTestDB(t)
	opp := seedOpportunity(t, db, "paper cups")
	if _, err := db.conn.Exec("UPDATE opportunities SET metadata = '{broken' WHERE id = ?", opp.ID); err != nil {
		t.Fatalf("corrupting metadata: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	got, err := db.GetOpportunity(opp.ID)
	if err != nil || got == nil {
		t.Fatalf("GetOpportunity: %v, %v", got, err)
	}
	if len(got.Metadata) != 0 {
		t.Errorf("expected empty metadata, got %+v", got.Metadata)
	}
	if !strings.Contains(buf.String(), "malformed JSON") {
		t.Errorf("expected decode failure to be logged, got %q", buf.String())
	}
}
