// Package discovery finds search queries worth writing about. One cycle pulls
// candidate queries from search analytics, enriches them with SERP data,
// scores them and upserts opportunities.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/queue"
	"github.com/TobiSchelling/contentpilot/internal/scoring"
	"github.com/TobiSchelling/contentpilot/internal/sources"
)

// Product relevance for a query that does or does not mention a catalog term.
const (
	matchRelevance   = 0.8
	noMatchRelevance = 0.3
)

// gapHorizon is the ranking position at which the content gap reaches zero.
const gapHorizon = 50.0

// DefaultProductTerms is the vocabulary used when none is configured.
var DefaultProductTerms = []string{"cup", "container", "plate", "straw", "napkin", "packaging", "box"}

// Scheduler pushes a task into the future.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, t queue.Task) (queue.Task, error)
}

// Options tunes a Cycle. Zero values take the defaults.
type Options struct {
	SerpDailyLimit int
	SerpCost       float64
	LookbackDays   int
	MinImpressions int
	MaxCandidates  int
	MinScore       int
	QuickWinMaxPos int
	Brand          string
	ProductTerms   []string
}

func (o *Options) applyDefaults() {
	if o.SerpDailyLimit <= 0 {
		o.SerpDailyLimit = 3
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 28
	}
	if o.MinImpressions <= 0 {
		o.MinImpressions = 10
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 3
	}
	if o.MinScore <= 0 {
		o.MinScore = 30
	}
	if o.QuickWinMaxPos <= 0 {
		o.QuickWinMaxPos = 20
	}
	if len(o.ProductTerms) == 0 {
		o.ProductTerms = DefaultProductTerms
	}
}

// Result summarises one cycle.
type Result struct {
	Rescheduled bool
	Candidates  int
	Analyzed    int
	Saved       int
	Created     int
	Skipped     int
}

// Cycle runs discovery.
type Cycle struct {
	db        *database.DB
	governor  *budget.Governor
	analytics sources.Analytics
	serp      sources.SERP
	scheduler Scheduler
	opts      Options
	now       func() time.Time
}

// New creates a cycle.
func New(db *database.DB, governor *budget.Governor, analytics sources.Analytics, serp sources.SERP, scheduler Scheduler, opts Options) *Cycle {
	opts.applyDefaults()
	return &Cycle{
		db:        db,
		governor:  governor,
		analytics: analytics,
		serp:      serp,
		scheduler: scheduler,
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes one discovery cycle. When the daily SERP allowance is already
// spent the whole cycle is pushed back a day and nothing else happens.
func (c *Cycle) Run(ctx context.Context) (*Result, error) {
	r := &Result{}

	ok, err := c.governor.WithinDailyCallLimit(budget.SerpAPI, c.opts.SerpDailyLimit)
	if err != nil {
		return nil, fmt.Errorf("checking serp limit: %w", err)
	}
	if !ok {
		if _, err := c.scheduler.ScheduleAfter(ctx, 24*time.Hour, queue.Discovery()); err != nil {
			return nil, fmt.Errorf("rescheduling discovery: %w", err)
		}
		log.Println("[discovery] Daily SERP limit reached, rescheduled for tomorrow")
		r.Rescheduled = true
		return r, nil
	}

	rows, err := c.candidates(ctx)
	if err != nil {
		return nil, err
	}
	r.Candidates = len(rows)
	if len(rows) > c.opts.MaxCandidates {
		rows = rows[:c.opts.MaxCandidates]
	}

	for _, row := range rows {
		ok, err := c.governor.WithinDailyCallLimit(budget.SerpAPI, c.opts.SerpDailyLimit)
		if err != nil {
			return r, fmt.Errorf("checking serp limit: %w", err)
		}
		if !ok {
			log.Println("[discovery] Daily SERP limit reached mid-cycle, stopping")
			break
		}

		serp, err := c.serp.Analyze(ctx, row.Query)
		if errors.Is(err, sources.ErrEmptyQuery) || errors.Is(err, sources.ErrAPI) {
			log.Printf("[discovery] Skipping %q: %v", row.Query, err)
			r.Skipped++
			continue
		}
		if err != nil {
			return r, fmt.Errorf("analyzing %q: %w", row.Query, err)
		}
		r.Analyzed++
		if _, err := c.governor.RecordCost(budget.SerpAPI, c.opts.SerpCost); err != nil {
			return r, err
		}

		created, saved, err := c.save(row, serp)
		if err != nil {
			return r, err
		}
		if saved {
			r.Saved++
			if created {
				r.Created++
			}
		} else {
			r.Skipped++
		}
	}

	log.Printf("[discovery] Cycle complete: %d candidates, %d analyzed, %d saved (%d new), %d skipped",
		r.Candidates, r.Analyzed, r.Saved, r.Created, r.Skipped)
	return r, nil
}

// candidates fetches analytics rows for the lookback window. Rejected
// credentials mean an empty cycle rather than a failure.
func (c *Cycle) candidates(ctx context.Context) ([]sources.Row, error) {
	end := c.now().UTC()
	q := sources.AnalyticsQuery{
		Start:          end.AddDate(0, 0, -c.opts.LookbackDays),
		End:            end,
		Dimensions:     []string{"query"},
		MinImpressions: c.opts.MinImpressions,
		ExcludeBranded: c.opts.Brand != "",
		Brand:          c.opts.Brand,
	}

	rows, err := c.analytics.Query(ctx, q)
	if errors.Is(err, sources.ErrAuthentication) {
		log.Printf("[discovery] Analytics authentication failed, no candidates this cycle: %v", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %w", err)
	}
	if _, err := c.governor.RecordCost(budget.GSC, 0); err != nil {
		return nil, err
	}

	// Sources filter too; fakes and third-party sources may not.
	return sources.Filter(rows, q), nil
}

func (c *Cycle) save(row sources.Row, serp *sources.SERPResult) (created, saved bool, err error) {
	position := positionOf(row.Position)
	volume := serp.SearchVolume

	score := scoring.Score(scoring.Input{
		SearchVolume:     volume,
		Competition:      serp.Competition,
		ProductRelevance: ProductRelevance(row.Query, c.opts.ProductTerms),
		ContentGap:       ContentGap(position),
	})
	if score < c.opts.MinScore {
		log.Printf("[discovery] Discarding %q: score %d below %d", row.Query, score, c.opts.MinScore)
		return false, false, nil
	}

	existingType := lifecycle.TypeOptimizeExisting
	if position != nil && *position <= c.opts.QuickWinMaxPos {
		existingType = lifecycle.TypeQuickWin
	}

	questions := serp.RelatedQuestions
	if questions == nil {
		questions = []string{}
	}
	opp, created, err := c.db.UpsertOpportunity(database.OpportunityUpsert{
		Query:           row.Query,
		Score:           score,
		SearchVolume:    &volume,
		Competition:     serp.Competition,
		CurrentPosition: position,
		ExistingType:    existingType,
		Metadata: map[string]any{
			"impressions":     row.Impressions,
			"clicks":          row.Clicks,
			"serp_features":   map[string]any{"paa": questions},
			"competitor_urls": serp.Links(),
		},
	})
	if err != nil {
		return false, false, fmt.Errorf("saving opportunity %q: %w", row.Query, err)
	}
	log.Printf("[discovery] Saved %q (score %d, %s)", opp.Query, opp.Score, opp.Type)
	return created, true, nil
}

// ProductRelevance rates how closely query matches the product vocabulary.
func ProductRelevance(query string, terms []string) float64 {
	q := strings.ToLower(query)
	for _, term := range terms {
		if term != "" && strings.Contains(q, strings.ToLower(term)) {
			return matchRelevance
		}
	}
	return noMatchRelevance
}

// ContentGap is the room left between the current ranking and the horizon.
// An unknown position counts as the horizon itself.
func ContentGap(position *int) float64 {
	pos := gapHorizon
	if position != nil {
		pos = float64(*position)
	}
	return math.Max(1-pos/gapHorizon, 0)
}

func positionOf(p float64) *int {
	if p <= 0 {
		return nil
	}
	n := int(math.Round(p))
	return &n
}
