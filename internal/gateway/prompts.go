package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/llm"
)

const briefPrompt = `Create a comprehensive content brief for the keyword "%s".

Context:
- Search Volume: %s
- Competition: %s
- Current Position: %s
- Questions people also ask: %s

Respond with ONLY this JSON:
{
    "target_keyword": "primary keyword",
    "search_intent": "informational" | "commercial" | "transactional" | "navigational",
    "title": "SEO title under 60 characters",
    "headings": ["5-7 H2 section headings"],
    "word_count_target": 1500-2000,
    "content_angle": "e.g. Educational guide for business buyers",
    "key_points": ["points to cover"],
    "internal_linking_opportunities": ["pages or topics to link to"],
    "meta_description": "under 160 characters"
}`

const articlePrompt = `Write a comprehensive, SEO-optimized article based on this content brief.

Target Keyword: %s
Title: %s
Word Count: %d words
Sections: %s
Key Points: %s

Requirements:
- Professional, engaging style for a B2B audience buying sustainable catering supplies
- Practical advice and actionable tips
- Naturally incorporate the target keyword and variations
- Markdown body with one H1 title and an H2 per section
- Mention relevant products from the catalog below where they genuinely help the reader

Product catalog (id: name):
%s

Respond with ONLY this JSON:
{
    "title": "article title",
    "body": "full markdown article",
    "meta_title": "under 60 characters",
    "meta_description": "under 160 characters",
    "target_keywords": ["primary", "secondary"],
    "related_product_ids": ["ids from the catalog above only"]
}`

const reviewPrompt = `Review this content draft and score its quality.

Title: %s
Word Count: %d words
Target Keywords: %s

Content:
%s

Evaluate SEO optimization, content quality, readability for a B2B audience, engagement, and technical accuracy about eco-friendly products.

Respond with ONLY this JSON:
{
    "quality_score": 0-100,
    "seo_score": 0-100,
    "readability_score": 0-100,
    "strengths": ["3-5 points"],
    "improvements": ["3-5 points"],
    "keyword_density": "e.g. 2.1%%"
}`

type briefResponse struct {
	TargetKeyword   string   `json:"target_keyword"`
	SearchIntent    string   `json:"search_intent"`
	Title           string   `json:"title"`
	Headings        []string `json:"headings"`
	WordCountTarget int      `json:"word_count_target"`
	ContentAngle    string   `json:"content_angle"`
	KeyPoints       []string `json:"key_points"`
	InternalLinks   []string `json:"internal_linking_opportunities"`
	MetaDescription string   `json:"meta_description"`
}

type articleResponse struct {
	Title             string   `json:"title"`
	Body              string   `json:"body"`
	MetaTitle         string   `json:"meta_title"`
	MetaDescription   string   `json:"meta_description"`
	TargetKeywords    []string `json:"target_keywords"`
	RelatedProductIDs []string `json:"related_product_ids"`
}

type reviewResponse struct {
	QualityScore     *int     `json:"quality_score"`
	SEOScore         int      `json:"seo_score"`
	ReadabilityScore int      `json:"readability_score"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	KeywordDensity   string   `json:"keyword_density"`
}

func (g *Gateway) callBrief(ctx context.Context, opp *database.Opportunity) (*BriefResult, error) {
	prompt := fmt.Sprintf(briefPrompt,
		opp.Query,
		intOr(opp.SearchVolume, "Unknown"),
		stringOr(string(opp.Competition), "Unknown"),
		intOr(opp.CurrentPosition, "Not ranking"),
		stringOr(strings.Join(relatedQuestions(opp), "; "), "None"),
	)

	text, err := g.strategist.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, err
	}
	var resp briefResponse
	if err := llm.DecodeJSONResponse(text, &resp); err != nil {
		return nil, fmt.Errorf("parsing brief: %w", err)
	}
	if resp.Title == "" || len(resp.Headings) == 0 {
		return nil, fmt.Errorf("parsing brief: missing title or headings")
	}
	if resp.TargetKeyword == "" {
		resp.TargetKeyword = opp.Query
	}
	if resp.WordCountTarget <= 0 {
		resp.WordCountTarget = 1500
	}

	return &BriefResult{
		TargetKeyword: resp.TargetKeyword,
		SearchIntent:  resp.SearchIntent,
		ContentAngle:  resp.ContentAngle,
		Structure: database.BriefStructure{
			Title:           resp.Title,
			Headings:        resp.Headings,
			WordCountTarget: resp.WordCountTarget,
			KeyPoints:       resp.KeyPoints,
			MetaDescription: resp.MetaDescription,
		},
		InternalLinks: resp.InternalLinks,
	}, nil
}

func (g *Gateway) callArticle(ctx context.Context, brief *database.ContentBrief, products []database.Product) (*ArticleResult, error) {
	var catalog strings.Builder
	for _, p := range products {
		fmt.Fprintf(&catalog, "- %s: %s\n", p.ID, p.Name)
	}
	if catalog.Len() == 0 {
		catalog.WriteString("(empty)\n")
	}

	prompt := fmt.Sprintf(articlePrompt,
		brief.TargetKeyword,
		brief.Structure.Title,
		brief.Structure.WordCountTarget,
		strings.Join(brief.Structure.Headings, ", "),
		strings.Join(brief.Structure.KeyPoints, "; "),
		catalog.String(),
	)

	text, err := g.writer.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, err
	}
	var resp articleResponse
	if err := llm.DecodeJSONResponse(text, &resp); err != nil {
		return nil, fmt.Errorf("parsing article: %w", err)
	}
	if strings.TrimSpace(resp.Body) == "" {
		return nil, fmt.Errorf("parsing article: empty body")
	}
	if resp.Title == "" {
		resp.Title = brief.Structure.Title
	}
	if resp.MetaDescription == "" {
		resp.MetaDescription = brief.Structure.MetaDescription
	}

	return &ArticleResult{
		Title:             resp.Title,
		Body:              resp.Body,
		MetaTitle:         resp.MetaTitle,
		MetaDescription:   resp.MetaDescription,
		TargetKeywords:    resp.TargetKeywords,
		RelatedProductIDs: resp.RelatedProductIDs,
	}, nil
}

func (g *Gateway) callReview(ctx context.Context, draft *database.ContentDraft) (*ReviewResult, error) {
	body := draft.Body
	if len(body) > 8000 {
		body = body[:8000]
	}
	prompt := fmt.Sprintf(reviewPrompt,
		draft.Title,
		len(strings.Fields(draft.Body)),
		strings.Join(draft.TargetKeywords, ", "),
		body,
	)

	text, err := g.reviewer.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return nil, err
	}
	var resp reviewResponse
	if err := llm.DecodeJSONResponse(text, &resp); err != nil {
		return nil, fmt.Errorf("parsing review: %w", err)
	}
	if resp.QualityScore == nil {
		return nil, fmt.Errorf("parsing review: missing quality_score")
	}
	score := *resp.QualityScore
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("parsing review: quality_score %d out of range", score)
	}

	return &ReviewResult{
		QualityScore: score,
		Notes: map[string]any{
			"strengths":         resp.Strengths,
			"improvements":      resp.Improvements,
			"seo_score":         resp.SEOScore,
			"readability_score": resp.ReadabilityScore,
			"keyword_density":   resp.KeywordDensity,
		},
	}, nil
}

func relatedQuestions(opp *database.Opportunity) []string {
	features, _ := opp.Metadata["serp_features"].(map[string]any)
	var out []string
	switch qs := features["paa"].(type) {
	case []any:
		for _, q := range qs {
			if s, ok := q.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = qs
	}
	return out
}

func intOr(p *int, fallback string) string {
	if p == nil {
		return fallback
	}
	return fmt.Sprint(*p)
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
