package database

import (
	"time"

	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/scoring"
)

// Opportunity is a candidate search query worth producing content for.
type Opportunity struct {
	ID              int64
	Query           string
	Type            lifecycle.OpportunityType
	Score           int
	SearchVolume    *int
	Competition     scoring.Competition // empty when unknown
	CurrentPosition *int
	Metadata        map[string]any
	Status          lifecycle.OpportunityStatus
	DiscoveredAt    time.Time
	UpdatedAt       time.Time
}

// CompetitorURLs returns the organic result links stored at discovery time.
func (o *Opportunity) CompetitorURLs() []string {
	return stringList(o.Metadata["competitor_urls"])
}

// OpportunityUpsert carries discovery results for one query.
// ExistingType is applied only when the query is already known.
type OpportunityUpsert struct {
	Query           string
	Score           int
	SearchVolume    *int
	Competition     scoring.Competition
	CurrentPosition *int
	Metadata        map[string]any
	ExistingType    lifecycle.OpportunityType
}

// OpportunityFilter narrows ListOpportunities.
type OpportunityFilter struct {
	Status   lifecycle.OpportunityStatus // empty for all
	MinScore int
	Limit    int
}

// BriefStructure is the outline suggested for an article.
type BriefStructure struct {
	Title           string   `json:"title"`
	Headings        []string `json:"headings"`
	WordCountTarget int      `json:"word_count_target"`
	KeyPoints       []string `json:"key_points"`
	MetaDescription string   `json:"meta_description"`
}

// LinkSuggestion points at already published content.
type LinkSuggestion struct {
	Slug  string  `json:"slug"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// InternalLinks holds link ideas for a brief.
type InternalLinks struct {
	Opportunities   []string         `json:"opportunities"`
	ExistingContent []LinkSuggestion `json:"existing_content,omitempty"`
}

// ContentBrief is the structured plan derived from an opportunity.
type ContentBrief struct {
	ID             int64
	OpportunityID  int64
	TargetKeyword  string
	SearchIntent   string
	Structure      BriefStructure
	InternalLinks  InternalLinks
	ResearchData   map[string]any
	CreatedByModel string
	CreatedAt      time.Time
}

// CompetitorURLs returns the URLs the similarity check runs against.
func (b *ContentBrief) CompetitorURLs() []string {
	return stringList(b.ResearchData["competitor_urls"])
}

// ContentDraft is generated article content awaiting review.
type ContentDraft struct {
	ID                int64
	BriefID           int64
	ContentType       string
	Title             string
	Body              string
	MetaTitle         string
	MetaDescription   string
	TargetKeywords    []string
	RelatedProductIDs []string
	QualityScore      *int
	ReviewNotes       map[string]any
	ReviewerModel     string
	GenerationCost    float64
	Status            lifecycle.DraftStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContentItem is the published artifact of an approved draft.
type ContentItem struct {
	ID                int64
	DraftID           int64
	Slug              string
	Title             string
	Body              string
	BodyHTML          string
	Excerpt           string
	MetaTitle         string
	MetaDescription   string
	TargetKeywords    []string
	RelatedProductIDs []string
	WordCount         int
	AuthorCredit      string
	PublishedAt       time.Time
}

// PerformanceSnapshot is one week of search metrics. A nil ContentItemID
// denotes a site-wide snapshot.
type PerformanceSnapshot struct {
	ID            int64
	ContentItemID *int64
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Impressions   int
	Clicks        int
	AvgPosition   *float64
	CreatedAt     time.Time
}

// BudgetPeriod holds one calendar month of external-service usage.
// TotalCost is a generated column and always equals the sum of the costs.
type BudgetPeriod struct {
	ID                     int64
	Month                  string
	GSCRequests            int
	SerpAPIRequests        int
	LLMRequests            int
	GSCCost                float64
	SerpAPICost            float64
	LLMCost                float64
	ContentPiecesGenerated int
	TotalCost              float64
	UpdatedAt              time.Time
}

// Product mirrors one entry of the external product catalog.
type Product struct {
	ID   string
	Name string
	URL  string
}

// TaskRecord is a persisted queue entry.
type TaskRecord struct {
	ID        string
	Kind      string
	Payload   string
	RunAt     time.Time
	Attempts  int
	LastError string
	Status    string
	CreatedAt time.Time
}

// Stats holds counters for the status command.
type Stats struct {
	Opportunities map[string]int
	Drafts        map[string]int
	Items         int
	Products      int
	QueuedTasks   int
	DeadTasks     int
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
