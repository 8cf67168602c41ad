package server

import (
	"time"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/performance"
)

type opportunityView struct {
	ID              int64          `json:"id"`
	Query           string         `json:"query"`
	Type            string         `json:"opportunity_type"`
	Score           int            `json:"score"`
	SearchVolume    *int           `json:"search_volume"`
	Competition     string         `json:"competition_difficulty,omitempty"`
	CurrentPosition *int           `json:"current_position"`
	Metadata        map[string]any `json:"metadata"`
	Status          string         `json:"status"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newOpportunityView(o *database.Opportunity) opportunityView {
	return opportunityView{
		ID:              o.ID,
		Query:           o.Query,
		Type:            string(o.Type),
		Score:           o.Score,
		SearchVolume:    o.SearchVolume,
		Competition:     string(o.Competition),
		CurrentPosition: o.CurrentPosition,
		Metadata:        o.Metadata,
		Status:          string(o.Status),
		DiscoveredAt:    o.DiscoveredAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type draftView struct {
	ID                int64          `json:"id"`
	BriefID           int64          `json:"brief_id"`
	ContentType       string         `json:"content_type"`
	Title             string         `json:"title"`
	Body              string         `json:"body,omitempty"`
	MetaTitle         string         `json:"meta_title"`
	MetaDescription   string         `json:"meta_description"`
	TargetKeywords    []string       `json:"target_keywords"`
	RelatedProductIDs []string       `json:"related_product_ids"`
	QualityScore      *int           `json:"quality_score"`
	ReviewNotes       map[string]any `json:"review_notes,omitempty"`
	ReviewerModel     string         `json:"reviewer_model,omitempty"`
	GenerationCost    float64        `json:"generation_cost"`
	Status            string         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
}

// newDraftView omits the body and review notes from listings.
func newDraftView(d *database.ContentDraft, full bool) draftView {
	v := draftView{
		ID:                d.ID,
		BriefID:           d.BriefID,
		ContentType:       d.ContentType,
		Title:             d.Title,
		MetaTitle:         d.MetaTitle,
		MetaDescription:   d.MetaDescription,
		TargetKeywords:    d.TargetKeywords,
		RelatedProductIDs: d.RelatedProductIDs,
		QualityScore:      d.QualityScore,
		ReviewerModel:     d.ReviewerModel,
		GenerationCost:    d.GenerationCost,
		Status:            string(d.Status),
		CreatedAt:         d.CreatedAt,
	}
	if full {
		v.Body = d.Body
		v.ReviewNotes = d.ReviewNotes
	}
	return v
}

type itemView struct {
	Slug              string    `json:"slug"`
	Title             string    `json:"title"`
	Excerpt           string    `json:"excerpt"`
	BodyHTML          string    `json:"body_html,omitempty"`
	MetaTitle         string    `json:"meta_title"`
	MetaDescription   string    `json:"meta_description"`
	TargetKeywords    []string  `json:"target_keywords"`
	RelatedProductIDs []string  `json:"related_product_ids"`
	WordCount         int       `json:"word_count"`
	AuthorCredit      string    `json:"author_credit"`
	PublishedAt       time.Time `json:"published_at"`
}

func newItemView(it *database.ContentItem, full bool) itemView {
	v := itemView{
		Slug:              it.Slug,
		Title:             it.Title,
		Excerpt:           it.Excerpt,
		MetaTitle:         it.MetaTitle,
		MetaDescription:   it.MetaDescription,
		TargetKeywords:    it.TargetKeywords,
		RelatedProductIDs: it.RelatedProductIDs,
		WordCount:         it.WordCount,
		AuthorCredit:      it.AuthorCredit,
		PublishedAt:       it.PublishedAt,
	}
	if full {
		v.BodyHTML = it.BodyHTML
	}
	return v
}

type budgetView struct {
	Month            string  `json:"month"`
	GSCRequests      int     `json:"gsc_requests"`
	SerpAPIRequests  int     `json:"serpapi_requests"`
	LLMRequests      int     `json:"llm_requests"`
	GSCCost          float64 `json:"gsc_cost"`
	SerpAPICost      float64 `json:"serpapi_cost"`
	LLMCost          float64 `json:"llm_cost"`
	ContentPieces    int     `json:"content_pieces_generated"`
	TotalCost        float64 `json:"total_cost"`
	Status           string  `json:"status"`
	BudgetPercentage float64 `json:"budget_percentage"`
	AvgCostPerPiece  float64 `json:"avg_cost_per_piece"`
	SavingsVsAgency  float64 `json:"savings_vs_agency"`
	MonthlyTarget    float64 `json:"monthly_target"`
}

func newBudgetView(r *budget.Report) budgetView {
	p := r.Period
	return budgetView{
		Month:            p.Month,
		GSCRequests:      p.GSCRequests,
		SerpAPIRequests:  p.SerpAPIRequests,
		LLMRequests:      p.LLMRequests,
		GSCCost:          p.GSCCost,
		SerpAPICost:      p.SerpAPICost,
		LLMCost:          p.LLMCost,
		ContentPieces:    p.ContentPiecesGenerated,
		TotalCost:        p.TotalCost,
		Status:           string(r.Status),
		BudgetPercentage: r.BudgetPercentage,
		AvgCostPerPiece:  r.AvgCostPerPiece,
		SavingsVsAgency:  r.SavingsVsAgency,
		MonthlyTarget:    r.MonthlyTarget,
	}
}

type snapshotView struct {
	ContentItemID *int64    `json:"content_item_id"`
	PeriodStart   string    `json:"period_start"`
	PeriodEnd     string    `json:"period_end"`
	Impressions   int       `json:"impressions"`
	Clicks        int       `json:"clicks"`
	CTR           float64   `json:"ctr"`
	AvgPosition   *float64  `json:"avg_position"`
	CreatedAt     time.Time `json:"created_at"`
}

func newSnapshotView(s *database.PerformanceSnapshot) snapshotView {
	return snapshotView{
		ContentItemID: s.ContentItemID,
		PeriodStart:   s.PeriodStart.Format("2006-01-02"),
		PeriodEnd:     s.PeriodEnd.Format("2006-01-02"),
		Impressions:   s.Impressions,
		Clicks:        s.Clicks,
		CTR:           performance.CTR(s.Clicks, s.Impressions),
		AvgPosition:   s.AvgPosition,
		CreatedAt:     s.CreatedAt,
	}
}

type underperformerView struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Impressions int       `json:"impressions"`
	PublishedAt time.Time `json:"published_at"`
}

type performanceView struct {
	Snapshots       []snapshotView       `json:"snapshots"`
	Underperformers []underperformerView `json:"underperformers"`
}
