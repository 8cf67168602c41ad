// Package gateway is the single path to the language model for the three
// generation capabilities. All of them share one circuit breaker, since they
// share one upstream.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/llm"
)

// Costs are the estimated prices charged per capability call.
type Costs struct {
	Brief   float64
	Article float64
	Review  float64
}

// Models names the model used by each capability.
type Models struct {
	Strategist string
	Writer     string
	Reviewer   string
}

// Options configures a Gateway. A nil provider puts that capability in mock
// mode.
type Options struct {
	Strategist llm.Provider
	Writer     llm.Provider
	Reviewer   llm.Provider
	Models     Models
	Costs      Costs
	MaxTokens  int
	SiteName   string

	FailureThreshold int
	Cooldown         time.Duration
}

// Gateway generates briefs, articles and reviews behind one breaker.
type Gateway struct {
	breaker    *Breaker
	strategist llm.Provider
	writer     llm.Provider
	reviewer   llm.Provider
	models     Models
	costs      Costs
	maxTokens  int
	siteName   string
}

// New creates a gateway. Construct one per process and share it.
func New(opts Options) *Gateway {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = 15 * time.Minute
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Gateway{
		breaker:    NewBreaker("llm", opts.FailureThreshold, opts.Cooldown),
		strategist: usable(opts.Strategist),
		writer:     usable(opts.Writer),
		reviewer:   usable(opts.Reviewer),
		models:     opts.Models,
		costs:      opts.Costs,
		maxTokens:  opts.MaxTokens,
		siteName:   opts.SiteName,
	}
}

// Breaker exposes the shared breaker for status reporting.
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// BriefResult is the strategist's plan for one opportunity.
type BriefResult struct {
	TargetKeyword string
	SearchIntent  string
	ContentAngle  string
	Structure     database.BriefStructure
	InternalLinks []string
	Cost          float64
	Model         string
}

// ArticleResult is a written draft.
type ArticleResult struct {
	Title             string
	Body              string
	MetaTitle         string
	MetaDescription   string
	TargetKeywords    []string
	RelatedProductIDs []string
	Cost              float64
	Model             string
}

// ReviewResult is the reviewer's verdict on a draft.
type ReviewResult struct {
	QualityScore int
	Notes        map[string]any
	Cost         float64
	Model        string
}

// GenerateBrief plans an article for opp.
func (g *Gateway) GenerateBrief(ctx context.Context, opp *database.Opportunity) (*BriefResult, error) {
	var res *BriefResult
	err := g.breaker.Execute(func() error {
		if g.strategist == nil {
			res = mockBrief(opp)
		} else {
			var err error
			if res, err = g.callBrief(ctx, opp); err != nil {
				return err
			}
		}
		res.Cost = g.costs.Brief
		res.Model = modelName(g.strategist, g.models.Strategist)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generating brief: %w", err)
	}
	return res, nil
}

// GenerateArticle writes a draft from brief. products is the catalog the
// writer may reference.
func (g *Gateway) GenerateArticle(ctx context.Context, brief *database.ContentBrief, products []database.Product) (*ArticleResult, error) {
	var res *ArticleResult
	err := g.breaker.Execute(func() error {
		if g.writer == nil {
			res = mockArticle(brief, g.siteName)
		} else {
			var err error
			if res, err = g.callArticle(ctx, brief, products); err != nil {
				return err
			}
		}
		res.Cost = g.costs.Article
		res.Model = modelName(g.writer, g.models.Writer)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generating article: %w", err)
	}
	return res, nil
}

// ReviewDraft scores a draft.
func (g *Gateway) ReviewDraft(ctx context.Context, draft *database.ContentDraft) (*ReviewResult, error) {
	var res *ReviewResult
	err := g.breaker.Execute(func() error {
		if g.reviewer == nil {
			res = mockReview()
		} else {
			var err error
			if res, err = g.callReview(ctx, draft); err != nil {
				return err
			}
		}
		res.Cost = g.costs.Review
		res.Model = modelName(g.reviewer, g.models.Reviewer)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reviewing draft: %w", err)
	}
	return res, nil
}

func usable(p llm.Provider) llm.Provider {
	if p == nil || !p.IsConfigured() {
		return nil
	}
	return p
}

func modelName(p llm.Provider, configured string) string {
	if p == nil {
		return configured
	}
	if n, ok := p.(llm.Named); ok && n.ModelName() != "" {
		return n.ModelName()
	}
	return configured
}
