package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/performance"
	"github.com/TobiSchelling/contentpilot/internal/publish"
	"github.com/TobiSchelling/contentpilot/internal/queue"
)

const testSecret = "s3cret"

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, t queue.Task) (queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = fmt.Sprintf("task-%d", len(f.tasks)+1)
	f.tasks = append(f.tasks, t)
	return t, nil
}

type harness struct {
	db    *database.DB
	queue *fakeQueue
	srv   *Server
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	db := openTestDB(t)
	q := &fakeQueue{}
	gov := budget.NewGovernor(db, budget.DefaultLimits)
	tracker := performance.NewTracker(db, nil, gov, performance.Options{BaseURL: "https://example.com/blog"})
	srv := New(db, publish.New(db, nil, "Editorial Team"), gov, tracker, q, Options{
		SiteName:    "Catering Supplies",
		BaseURL:     "https://example.com/blog/",
		AdminSecret: secret,
	})
	return &harness{db: db, queue: q, srv: srv}
}

func (h *harness) do(method, path string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if admin {
		req.Header.Set("X-Admin-Secret", testSecret)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// seedDraft creates a completed opportunity with one draft. A non-zero score
// marks the draft reviewed.
func (h *harness) seedDraft(t *testing.T, query, title string, score int) (oppID, draftID int64) {
	t.Helper()
	opp, _, err := h.db.UpsertOpportunity(database.OpportunityUpsert{Query: query, Score: 70})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress); err != nil {
		t.Fatal(err)
	}
	if err := h.db.TransitionOpportunity(opp.ID, lifecycle.OpportunityInProgress, lifecycle.OpportunityCompleted); err != nil {
		t.Fatal(err)
	}
	briefID, err := h.db.InsertBrief(&database.ContentBrief{OpportunityID: opp.ID, TargetKeyword: query})
	if err != nil {
		t.Fatal(err)
	}
	draftID, err = h.db.InsertDraft(&database.ContentDraft{
		BriefID:     briefID,
		ContentType: "blog_post",
		Title:       title,
		Body:        "# " + title + "\n\nCompostable cups break down in industrial composting within twelve weeks.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if score > 0 {
		if err := h.db.UpdateDraftReview(draftID, score, map[string]any{"notes": "ok"}, "claude-haiku-4"); err != nil {
			t.Fatal(err)
		}
	}
	return opp.ID, draftID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthRoute(t *testing.T) {
	h := newHarness(t, testSecret)
	rec := h.do("GET", "/api/v1/health", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("expected 200 ok, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestFeedListsPublishedItems(t *testing.T) {
	h := newHarness(t, testSecret)
	_, draftID := h.seedDraft(t, "compostable cups", "Compostable Cups Explained", 80)
	if rec := h.do("POST", fmt.Sprintf("/api/v1/drafts/%d/approve", draftID), true); rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	rec := h.do("GET", "/api/v1/feed.xml", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("content type = %q", ct)
	}

	feed, err := gofeed.NewParser().ParseString(rec.Body.String())
	if err != nil {
		t.Fatalf("parsing feed: %v", err)
	}
	if feed.Title != "Catering Supplies" || len(feed.Items) != 1 {
		t.Fatalf("unexpected feed %q with %d items", feed.Title, len(feed.Items))
	}
	item := feed.Items[0]
	if item.Title != "Compostable Cups Explained" {
		t.Errorf("item title = %q", item.Title)
	}
	if item.Link != "https://example.com/blog/compostable-cups-explained" {
		t.Errorf("item link = %q", item.Link)
	}
	if !strings.Contains(item.Description, "Compostable cups break down") {
		t.Errorf("item description = %q", item.Description)
	}
}

func TestItemRoutes(t *testing.T) {
	h := newHarness(t, testSecret)
	_, draftID := h.seedDraft(t, "compostable cups", "Compostable Cups Explained", 80)
	h.do("POST", fmt.Sprintf("/api/v1/drafts/%d/approve", draftID), true)

	list := decode[[]itemView](t, h.do("GET", "/api/v1/items", false))
	if len(list) != 1 || list[0].BodyHTML != "" {
		t.Fatalf("unexpected listing %+v", list)
	}

	rec := h.do("GET", "/api/v1/items/compostable-cups-explained", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	item := decode[itemView](t, rec)
	if !strings.Contains(item.BodyHTML, "<h1") || item.AuthorCredit != "Editorial Team" {
		t.Errorf("unexpected item %+v", item)
	}

	if rec := h.do("GET", "/api/v1/items/nope", false); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRequiresSecret(t *testing.T) {
	h := newHarness(t, testSecret)
	if rec := h.do("GET", "/api/v1/opportunities", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/opportunities", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/opportunities", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	rec = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong secret, got %d", rec.Code)
	}

	unconfigured := newHarness(t, "")
	if rec := unconfigured.do("GET", "/api/v1/opportunities", true); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without configured secret, got %d", rec.Code)
	}
}

func TestListOpportunitiesFilters(t *testing.T) {
	h := newHarness(t, testSecret)
	h.db.UpsertOpportunity(database.OpportunityUpsert{Query: "paper straws", Score: 80})
	h.db.UpsertOpportunity(database.OpportunityUpsert{Query: "wooden cutlery", Score: 35})
	h.seedDraft(t, "compostable cups", "Compostable Cups", 0)

	all := decode[[]opportunityView](t, h.do("GET", "/api/v1/opportunities", true))
	if len(all) != 3 {
		t.Errorf("expected 3 opportunities, got %d", len(all))
	}

	pending := decode[[]opportunityView](t, h.do("GET", "/api/v1/opportunities?status=pending&min_score=50", true))
	if len(pending) != 1 || pending[0].Query != "paper straws" {
		t.Errorf("unexpected filtered list %+v", pending)
	}

	if rec := h.do("GET", "/api/v1/opportunities?status=someday", true); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := h.do("GET", "/api/v1/opportunities/abc", true); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := h.do("GET", "/api/v1/opportunities/999", true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGenerateEnqueues(t *testing.T) {
	h := newHarness(t, testSecret)
	opp, _, _ := h.db.UpsertOpportunity(database.OpportunityUpsert{Query: "paper straws", Score: 80})

	rec := h.do("POST", fmt.Sprintf("/api/v1/opportunities/%d/generate", opp.ID), true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	task := decode[queue.Task](t, rec)
	if task.Kind != queue.KindGeneration || task.OpportunityID != opp.ID {
		t.Errorf("unexpected task %+v", task)
	}
	if len(h.queue.tasks) != 1 {
		t.Errorf("expected 1 queued task, got %d", len(h.queue.tasks))
	}

	completed, _ := h.seedDraft(t, "compostable cups", "Compostable Cups", 0)
	if rec := h.do("POST", fmt.Sprintf("/api/v1/opportunities/%d/generate", completed), true); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a completed opportunity, got %d", rec.Code)
	}
	if rec := h.do("POST", "/api/v1/opportunities/999/generate", true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDiscoveryEnqueues(t *testing.T) {
	h := newHarness(t, testSecret)
	rec := h.do("POST", "/api/v1/discovery", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(h.queue.tasks) != 1 || h.queue.tasks[0].Kind != queue.KindDiscovery {
		t.Errorf("unexpected queue %+v", h.queue.tasks)
	}
}

func TestDismissRoute(t *testing.T) {
	h := newHarness(t, testSecret)
	opp, _, _ := h.db.UpsertOpportunity(database.OpportunityUpsert{Query: "paper straws", Score: 80})

	path := fmt.Sprintf("/api/v1/opportunities/%d/dismiss", opp.ID)
	if rec := h.do("POST", path, true); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := h.do("POST", path, true); rec.Code != http.StatusConflict {
		t.Errorf("dismissing twice: expected 409, got %d", rec.Code)
	}
}

func TestDraftReviewRoutes(t *testing.T) {
	h := newHarness(t, testSecret)
	_, unreviewed := h.seedDraft(t, "paper straws", "Paper Straws", 0)
	oppID, reviewed := h.seedDraft(t, "compostable cups", "Compostable Cups", 75)

	drafts := decode[[]draftView](t, h.do("GET", "/api/v1/drafts?status=pending_review", true))
	if len(drafts) != 2 || drafts[0].Body != "" {
		t.Errorf("unexpected draft listing %+v", drafts)
	}
	full := decode[draftView](t, h.do("GET", fmt.Sprintf("/api/v1/drafts/%d", reviewed), true))
	if full.Body == "" || full.ReviewNotes["notes"] != "ok" {
		t.Errorf("expected body and notes on detail view, got %+v", full)
	}

	if rec := h.do("POST", fmt.Sprintf("/api/v1/drafts/%d/approve", unreviewed), true); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("approving an unreviewed draft: expected 422, got %d", rec.Code)
	}

	if rec := h.do("POST", fmt.Sprintf("/api/v1/drafts/%d/reject", reviewed), true); rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", rec.Code)
	}
	opp, _ := h.db.GetOpportunity(oppID)
	if opp.Status != lifecycle.OpportunityPending {
		t.Errorf("rejected draft should return opportunity to pending, got %s", opp.Status)
	}
	if rec := h.do("POST", fmt.Sprintf("/api/v1/drafts/%d/approve", reviewed), true); rec.Code != http.StatusConflict {
		t.Errorf("approving a rejected draft: expected 409, got %d", rec.Code)
	}
	if rec := h.do("POST", "/api/v1/drafts/999/approve", true); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestBudgetRoute(t *testing.T) {
	h := newHarness(t, testSecret)
	gov := budget.NewGovernor(h.db, budget.DefaultLimits)
	gov.RecordCost(budget.LLM, 3.30)

	view := decode[budgetView](t, h.do("GET", "/api/v1/budget", true))
	if view.Month != time.Now().UTC().Format("2006-01") {
		t.Errorf("month = %q", view.Month)
	}
	if view.LLMRequests != 1 || view.TotalCost != 3.3 || view.Status != string(budget.StatusOK) {
		t.Errorf("unexpected budget %+v", view)
	}
}

func TestPerformanceRoute(t *testing.T) {
	h := newHarness(t, testSecret)
	end := time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC)
	h.db.SaveSnapshot(&database.PerformanceSnapshot{
		PeriodStart: end.AddDate(0, 0, -7),
		PeriodEnd:   end,
		Impressions: 400,
		Clicks:      10,
	})

	view := decode[performanceView](t, h.do("GET", "/api/v1/performance", true))
	if len(view.Snapshots) != 1 || view.Snapshots[0].CTR != 2.5 || view.Snapshots[0].PeriodStart != "2026-04-01" {
		t.Errorf("unexpected performance %+v", view)
	}
}
