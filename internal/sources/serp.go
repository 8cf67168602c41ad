package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/content"
	"github.com/TobiSchelling/contentpilot/internal/scoring"
)

// ErrEmptyQuery is returned for a blank query. It rejects the single item;
// callers keep going with the rest of a batch.
var ErrEmptyQuery = errors.New("query must not be empty")

// OrganicResult is one organic search listing.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// SERPResult describes the results page for a query.
type SERPResult struct {
	Query            string
	SearchVolume     int
	Competition      scoring.Competition
	OrganicResults   []OrganicResult
	RelatedQuestions []string
}

// Links returns the organic result URLs in rank order.
func (r *SERPResult) Links() []string {
	out := make([]string, 0, len(r.OrganicResults))
	for _, o := range r.OrganicResults {
		if o.Link != "" {
			out = append(out, o.Link)
		}
	}
	return out
}

// SERP analyzes search results pages.
type SERP interface {
	Analyze(ctx context.Context, query string) (*SERPResult, error)
}

// SerpAPI calls serpapi.com.
type SerpAPI struct {
	Endpoint string
	APIKey   string
	Location string
	client   *http.Client
}

// NewSerpAPI creates a SerpAPI client.
func NewSerpAPI(endpoint, apiKey, location string) *SerpAPI {
	return &SerpAPI{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Location: location,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type serpAPIResponse struct {
	Error             string `json:"error"`
	SearchInformation struct {
		TotalResults int64 `json:"total_results"`
	} `json:"search_information"`
	Ads              []json.RawMessage `json:"ads"`
	OrganicResults   []OrganicResult   `json:"organic_results"`
	RelatedQuestions []struct {
		Question string `json:"question"`
	} `json:"related_questions"`
}

// Analyze fetches the results page for query.
func (s *SerpAPI) Analyze(ctx context.Context, query string) (*SERPResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.APIKey == "" {
		return nil, fmt.Errorf("serpapi key not configured: %w: %w", ErrAuthentication, ErrAPI)
	}

	params := url.Values{
		"engine":   {"google"},
		"q":        {query},
		"api_key":  {s.APIKey},
		"location": {s.Location},
		"gl":       {"uk"},
		"hl":       {"en"},
	}
	req, err := http.NewRequestWithContext(ctx, "GET", s.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %v: %w", err, ErrAPI)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("serpapi returned 401: %w: %w", ErrAuthentication, ErrAPI)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("serpapi returned %d: %s: %w", resp.StatusCode, string(body), ErrAPI)
	}

	var raw serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding serpapi response: %v: %w", err, ErrAPI)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("serpapi: %s: %w", raw.Error, ErrAPI)
	}

	result := &SERPResult{
		Query:        query,
		SearchVolume: int(min(raw.SearchInformation.TotalResults, 1<<31-1)),
		Competition:  competitionFromAds(len(raw.Ads)),
	}
	for i, o := range raw.OrganicResults {
		if i == 10 {
			break
		}
		result.OrganicResults = append(result.OrganicResults, o)
	}
	for _, q := range raw.RelatedQuestions {
		result.RelatedQuestions = append(result.RelatedQuestions, q.Question)
	}
	return result, nil
}

// competitionFromAds rates competition by how many ads the page carries.
func competitionFromAds(n int) scoring.Competition {
	switch {
	case n >= 4:
		return scoring.CompetitionHigh
	case n >= 2:
		return scoring.CompetitionMedium
	default:
		return scoring.CompetitionLow
	}
}

// Estimator produces deterministic SERP data from the query text alone. It
// is used when no SerpAPI key is configured.
type Estimator struct{}

// Analyze returns synthetic results for query.
func (Estimator) Analyze(_ context.Context, query string) (*SERPResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	n := len(query)
	title := content.TitleCase(query)
	slug := content.Slugify(query)

	var competition scoring.Competition
	switch n % 3 {
	case 0:
		competition = scoring.CompetitionLow
	case 1:
		competition = scoring.CompetitionMedium
	default:
		competition = scoring.CompetitionHigh
	}

	return &SERPResult{
		Query:        query,
		SearchVolume: 1000 * (10 - n%10),
		Competition:  competition,
		OrganicResults: []OrganicResult{
			{Position: 1, Title: title + " - Ultimate Guide", Link: "https://example.com/" + slug,
				Snippet: "Everything you need to know about " + query},
			{Position: 2, Title: "Best " + title, Link: "https://example2.com/" + slug,
				Snippet: "Top rated " + query + " products and reviews"},
			{Position: 3, Title: "Buy " + title + " Online", Link: "https://shop.example.com/" + slug,
				Snippet: "Shop our selection of " + query + " at great prices"},
		},
		RelatedQuestions: []string{
			fmt.Sprintf("What are the best %s?", query),
			fmt.Sprintf("How to choose %s?", query),
			fmt.Sprintf("Where to buy %s?", query),
		},
	}, nil
}
