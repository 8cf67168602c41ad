// Package pipeline turns one opportunity into a reviewed draft in three
// sequential stages: strategist (brief), writer (draft) and reviewer (score).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/content"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/gateway"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/queue"
	"github.com/TobiSchelling/contentpilot/internal/research"
)

var (
	// ErrAlreadyGenerated means the opportunity owns a draft that is still
	// live (reviewed and pending, approved or published).
	ErrAlreadyGenerated = errors.New("opportunity already has a live draft")
	// ErrNotEligible means the opportunity is not pending.
	ErrNotEligible = errors.New("opportunity is not eligible for generation")
)

// ContentType is stored on every generated draft.
const ContentType = "blog_post"

// Scheduler pushes a task into the future.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, t queue.Task) (queue.Task, error)
}

// LinkSuggester finds published content related to a text.
type LinkSuggester interface {
	Suggest(text string, limit int) ([]database.LinkSuggestion, error)
}

// CompetitorResearch reads the pages ranking for a query.
type CompetitorResearch interface {
	Fetch(ctx context.Context, urls []string) []research.Page
}

// StepResult holds the result of a single pipeline stage.
type StepResult struct {
	Name    string
	Summary string
	Cost    float64
	Err     error
}

// Result holds the results of one generation run.
type Result struct {
	OpportunityID int64
	Rescheduled   bool
	BriefID       int64
	DraftID       int64
	QualityScore  int
	Cost          float64
	Steps         []StepResult
}

// Options tunes a Pipeline.
type Options struct {
	WeeklyLimit int
	Links       LinkSuggester      // optional
	Similarity  SimilarityChecker  // defaults to StubSimilarity
	Competitors CompetitorResearch // optional
}

// Pipeline orchestrates the three-stage generation workflow.
type Pipeline struct {
	db          *database.DB
	gateway     *gateway.Gateway
	governor    *budget.Governor
	scheduler   Scheduler
	links       LinkSuggester
	similarity  SimilarityChecker
	competitors CompetitorResearch
	weekly      int
}

// New creates a pipeline.
func New(db *database.DB, gw *gateway.Gateway, governor *budget.Governor, scheduler Scheduler, opts Options) *Pipeline {
	if opts.WeeklyLimit <= 0 {
		opts.WeeklyLimit = 10
	}
	if opts.Similarity == nil {
		opts.Similarity = StubSimilarity{}
	}
	return &Pipeline{
		db:          db,
		gateway:     gw,
		governor:    governor,
		scheduler:   scheduler,
		links:       opts.Links,
		similarity:  opts.Similarity,
		competitors: opts.Competitors,
		weekly:      opts.WeeklyLimit,
	}
}

// Run generates content for one opportunity. When the weekly generation
// allowance is spent the run is pushed back a week without touching the
// opportunity. A stage failure returns the opportunity to pending and the
// error to the caller, so the queue's retry policy decides what happens next.
func (p *Pipeline) Run(ctx context.Context, opportunityID int64) (*Result, error) {
	r := &Result{OpportunityID: opportunityID}

	ok, err := p.governor.WithinWeeklyGenerationLimit(p.weekly)
	if err != nil {
		return nil, fmt.Errorf("checking weekly limit: %w", err)
	}
	if !ok {
		if _, err := p.scheduler.ScheduleAfter(ctx, 7*24*time.Hour, queue.Generation(opportunityID)); err != nil {
			return nil, fmt.Errorf("rescheduling generation: %w", err)
		}
		log.Printf("[pipeline] Weekly generation limit reached, opportunity #%d rescheduled for next week", opportunityID)
		r.Rescheduled = true
		return r, nil
	}

	opp, err := p.db.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity %d: %w", opportunityID, database.ErrNotFound)
	}
	if opp.Status != lifecycle.OpportunityPending {
		return nil, fmt.Errorf("opportunity %d is %s: %w", opportunityID, opp.Status, ErrNotEligible)
	}

	stale, err := p.staleBrief(opp.ID)
	if err != nil {
		return nil, err
	}

	// A lost race surfaces as ErrInvalidTransition; the winner owns the
	// opportunity, so there is nothing to roll back.
	if err := p.db.TransitionOpportunity(opp.ID, lifecycle.OpportunityPending, lifecycle.OpportunityInProgress); err != nil {
		return nil, err
	}
	log.Printf("[pipeline] Starting generation for opportunity #%d (%q)", opp.ID, opp.Query)

	if err := p.generate(ctx, opp, stale, r); err != nil {
		log.Printf("[pipeline] Generation failed for opportunity #%d: %v", opp.ID, err)
		if rbErr := p.db.TransitionOpportunity(opp.ID, lifecycle.OpportunityInProgress, lifecycle.OpportunityPending); rbErr != nil {
			log.Printf("[pipeline] Rolling back opportunity #%d failed: %v", opp.ID, rbErr)
		}
		return r, err
	}

	log.Printf("[pipeline] Completed opportunity #%d: draft #%d, score %d, cost %.2f",
		opp.ID, r.DraftID, r.QualityScore, r.Cost)
	return r, nil
}

func (p *Pipeline) generate(ctx context.Context, opp *database.Opportunity, stale *database.ContentBrief, r *Result) error {
	if stale != nil {
		log.Printf("[pipeline] Superseding brief #%d for opportunity #%d", stale.ID, opp.ID)
		if err := p.db.DeleteBrief(stale.ID); err != nil {
			return err
		}
	}

	brief, step := p.runStrategist(ctx, opp)
	r.Steps = append(r.Steps, step)
	r.Cost += step.Cost
	if step.Err != nil {
		return step.Err
	}
	r.BriefID = brief.ID

	draft, step := p.runWriter(ctx, brief)
	r.Steps = append(r.Steps, step)
	r.Cost += step.Cost
	if step.Err != nil {
		return step.Err
	}
	r.DraftID = draft.ID

	score, step := p.runReviewer(ctx, brief, draft)
	r.Steps = append(r.Steps, step)
	r.Cost += step.Cost
	if step.Err != nil {
		return step.Err
	}
	r.QualityScore = score

	if err := p.governor.RecordContentPiece(); err != nil {
		return err
	}
	return p.db.TransitionOpportunity(opp.ID, lifecycle.OpportunityInProgress, lifecycle.OpportunityCompleted)
}

// staleBrief returns the opportunity's existing brief when a new run may
// replace it: it has no draft, its draft was rejected, or its draft never got
// a review score. A live draft blocks the run with ErrAlreadyGenerated.
func (p *Pipeline) staleBrief(opportunityID int64) (*database.ContentBrief, error) {
	brief, err := p.db.GetBriefByOpportunity(opportunityID)
	if err != nil || brief == nil {
		return nil, err
	}
	draft, err := p.db.GetDraftByBrief(brief.ID)
	if err != nil {
		return nil, err
	}
	if draft == nil || draft.Status == lifecycle.DraftRejected || draft.QualityScore == nil {
		return brief, nil
	}
	return nil, fmt.Errorf("opportunity %d has draft #%d (%s): %w", opportunityID, draft.ID, draft.Status, ErrAlreadyGenerated)
}

func (p *Pipeline) runStrategist(ctx context.Context, opp *database.Opportunity) (*database.ContentBrief, StepResult) {
	log.Println("[pipeline] Stage 1/3: Strategist...")
	res, err := p.gateway.GenerateBrief(ctx, opp)
	if err != nil {
		return nil, StepResult{Name: "Strategist", Err: err}
	}
	if _, err := p.governor.RecordCost(budget.LLM, res.Cost); err != nil {
		return nil, StepResult{Name: "Strategist", Err: err}
	}

	links := database.InternalLinks{Opportunities: res.InternalLinks}
	if p.links != nil {
		existing, err := p.links.Suggest(opp.Query+" "+res.Structure.Title, 5)
		if err != nil {
			log.Printf("[pipeline] Internal link lookup failed: %v", err)
		}
		links.ExistingContent = existing
	}

	brief := &database.ContentBrief{
		OpportunityID:  opp.ID,
		TargetKeyword:  res.TargetKeyword,
		SearchIntent:   res.SearchIntent,
		Structure:      res.Structure,
		InternalLinks:  links,
		CreatedByModel: res.Model,
		ResearchData: map[string]any{
			"competitor_urls":   opp.CompetitorURLs(),
			"content_angle":     res.ContentAngle,
			"opportunity_score": opp.Score,
		},
	}
	if urls := opp.CompetitorURLs(); p.competitors != nil && len(urls) > 0 {
		brief.ResearchData["competitor_pages"] = p.competitors.Fetch(ctx, urls)
	}
	id, err := p.db.InsertBrief(brief)
	if err != nil {
		return nil, StepResult{Name: "Strategist", Err: err}
	}
	brief.ID = id

	return brief, StepResult{
		Name: "Strategist",
		Cost: res.Cost,
		Summary: fmt.Sprintf("Brief #%d: %q, %d sections, %d link suggestions",
			id, res.Structure.Title, len(res.Structure.Headings), len(links.ExistingContent)),
	}
}

func (p *Pipeline) runWriter(ctx context.Context, brief *database.ContentBrief) (*database.ContentDraft, StepResult) {
	log.Println("[pipeline] Stage 2/3: Writer...")
	products, err := p.db.ListProducts()
	if err != nil {
		return nil, StepResult{Name: "Writer", Err: err}
	}

	res, err := p.gateway.GenerateArticle(ctx, brief, products)
	if err != nil {
		return nil, StepResult{Name: "Writer", Err: err}
	}
	if _, err := p.governor.RecordCost(budget.LLM, res.Cost); err != nil {
		return nil, StepResult{Name: "Writer", Err: err}
	}

	draft := &database.ContentDraft{
		BriefID:           brief.ID,
		ContentType:       ContentType,
		Title:             res.Title,
		Body:              res.Body,
		MetaTitle:         res.MetaTitle,
		MetaDescription:   res.MetaDescription,
		TargetKeywords:    res.TargetKeywords,
		RelatedProductIDs: res.RelatedProductIDs,
		GenerationCost:    res.Cost,
		Status:            lifecycle.DraftPendingReview,
	}
	id, err := p.db.InsertDraft(draft)
	if err != nil {
		return nil, StepResult{Name: "Writer", Err: err}
	}
	draft.ID = id

	return draft, StepResult{
		Name:    "Writer",
		Cost:    res.Cost,
		Summary: fmt.Sprintf("Draft #%d: %q, %d words", id, res.Title, content.WordCount(res.Body)),
	}
}

func (p *Pipeline) runReviewer(ctx context.Context, brief *database.ContentBrief, draft *database.ContentDraft) (int, StepResult) {
	log.Println("[pipeline] Stage 3/3: Reviewer...")
	res, err := p.gateway.ReviewDraft(ctx, draft)
	if err != nil {
		return 0, StepResult{Name: "Reviewer", Err: err}
	}
	if _, err := p.governor.RecordCost(budget.LLM, res.Cost); err != nil {
		return 0, StepResult{Name: "Reviewer", Err: err}
	}

	notes := res.Notes
	if notes == nil {
		notes = map[string]any{}
	}
	similarity, err := p.similarity.Check(ctx, draft.Body, brief.CompetitorURLs())
	if err != nil {
		return 0, StepResult{Name: "Reviewer", Err: fmt.Errorf("similarity check: %w", err)}
	}
	notes["plagiarism_check"] = similarity

	html, err := content.Render(draft.Body)
	if err != nil {
		return 0, StepResult{Name: "Reviewer", Err: err}
	}
	notes["heading_coverage"] = content.HeadingCoverage(brief.Structure.Headings, html)

	if err := p.db.UpdateDraftReview(draft.ID, res.QualityScore, notes, res.Model); err != nil {
		return 0, StepResult{Name: "Reviewer", Err: err}
	}

	return res.QualityScore, StepResult{
		Name:    "Reviewer",
		Cost:    res.Cost,
		Summary: fmt.Sprintf("Draft #%d scored %d (plagiarism %v)", draft.ID, res.QualityScore, similarity["status"]),
	}
}

// DryRun reports what Run would do without calling the model or writing.
func (p *Pipeline) DryRun(opportunityID int64) (*Result, error) {
	r := &Result{OpportunityID: opportunityID}

	ok, err := p.governor.WithinWeeklyGenerationLimit(p.weekly)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.Rescheduled = true
		r.Steps = append(r.Steps, StepResult{Name: "Budget", Summary: "[dry-run] Weekly limit reached, would reschedule in 7 days"})
		return r, nil
	}

	opp, err := p.db.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, fmt.Errorf("opportunity %d: %w", opportunityID, database.ErrNotFound)
	}
	if opp.Status != lifecycle.OpportunityPending {
		return nil, fmt.Errorf("opportunity %d is %s: %w", opportunityID, opp.Status, ErrNotEligible)
	}
	stale, err := p.staleBrief(opp.ID)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("[dry-run] Would write a brief for %q", opp.Query)
	if stale != nil {
		summary = fmt.Sprintf("[dry-run] Would replace brief #%d for %q", stale.ID, opp.Query)
	}
	r.Steps = append(r.Steps,
		StepResult{Name: "Strategist", Summary: summary},
		StepResult{Name: "Writer", Summary: "[dry-run] Would write a draft from the brief"},
		StepResult{Name: "Reviewer", Summary: "[dry-run] Would score the draft"},
	)
	return r, nil
}
