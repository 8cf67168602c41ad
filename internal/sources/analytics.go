// Package sources holds the clients for the external data the pipeline reads:
// search analytics and SERP analysis.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrAuthentication means the credentials were rejected or are missing.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAPI is any other upstream failure.
	ErrAPI = errors.New("upstream API error")
)

// AnalyticsQuery selects search analytics rows.
type AnalyticsQuery struct {
	Start          time.Time
	End            time.Time
	Dimensions     []string // "query", "page"
	MinImpressions int
	ExcludeBranded bool
	Brand          string
	Page           string // restrict to one URL
	RowLimit       int
}

// Row is one aggregated analytics row.
type Row struct {
	Query       string
	Page        string
	Impressions int
	Clicks      int
	Position    float64 // 0 when unknown
}

// Analytics is a search analytics source.
type Analytics interface {
	Query(ctx context.Context, q AnalyticsQuery) ([]Row, error)
}

// Filter applies the impression floor and brand exclusion to rows.
func Filter(rows []Row, q AnalyticsQuery) []Row {
	brand := strings.ToLower(strings.TrimSpace(q.Brand))
	var out []Row
	for _, r := range rows {
		if r.Impressions < q.MinImpressions {
			continue
		}
		if q.ExcludeBranded && brand != "" && strings.Contains(strings.ToLower(r.Query), brand) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SearchConsole queries the Search Console searchAnalytics endpoint with a
// bearer token.
type SearchConsole struct {
	Endpoint string
	SiteURL  string
	Token    string
	client   *http.Client
}

// NewSearchConsole creates a client. An empty token makes every query fail
// with ErrAuthentication.
func NewSearchConsole(endpoint, siteURL, token string) *SearchConsole {
	return &SearchConsole{
		Endpoint: strings.TrimRight(endpoint, "/"),
		SiteURL:  siteURL,
		Token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a token and site are set.
func (s *SearchConsole) Configured() bool {
	return s.Token != "" && s.SiteURL != ""
}

type gscRequest struct {
	StartDate             string           `json:"startDate"`
	EndDate               string           `json:"endDate"`
	Dimensions            []string         `json:"dimensions,omitempty"`
	RowLimit              int              `json:"rowLimit,omitempty"`
	DimensionFilterGroups []gscFilterGroup `json:"dimensionFilterGroups,omitempty"`
}

type gscFilterGroup struct {
	Filters []gscFilter `json:"filters"`
}

type gscFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type gscResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// Query fetches rows and applies the impression and brand filters.
func (s *SearchConsole) Query(ctx context.Context, q AnalyticsQuery) ([]Row, error) {
	if s.Token == "" {
		return nil, fmt.Errorf("search console token not configured: %w", ErrAuthentication)
	}

	body := gscRequest{
		StartDate:  q.Start.Format("2006-01-02"),
		EndDate:    q.End.Format("2006-01-02"),
		Dimensions: q.Dimensions,
		RowLimit:   q.RowLimit,
	}
	if body.RowLimit == 0 {
		body.RowLimit = 1000
	}
	if q.Page != "" {
		body.DimensionFilterGroups = []gscFilterGroup{{
			Filters: []gscFilter{{Dimension: "page", Operator: "equals", Expression: q.Page}},
		}}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", s.Endpoint, url.PathEscape(s.SiteURL))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search console request: %v: %w", err, ErrAPI)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("search console returned %d: %w", resp.StatusCode, ErrAuthentication)
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search console returned %d: %s: %w", resp.StatusCode, string(respBody), ErrAPI)
	}

	var result gscResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search console response: %v: %w", err, ErrAPI)
	}

	rows := make([]Row, 0, len(result.Rows))
	for _, r := range result.Rows {
		row := Row{
			Impressions: int(r.Impressions),
			Clicks:      int(r.Clicks),
			Position:    r.Position,
		}
		for i, dim := range q.Dimensions {
			if i >= len(r.Keys) {
				break
			}
			switch dim {
			case "query":
				row.Query = r.Keys[i]
			case "page":
				row.Page = r.Keys[i]
			}
		}
		rows = append(rows, row)
	}
	return Filter(rows, q), nil
}

// SampleAnalytics returns stable synthetic rows for a fixed keyword list. It
// stands in for Search Console when no token is configured.
type SampleAnalytics struct {
	Keywords []string
}

// Query returns one row per keyword (or one aggregate row when no query
// dimension is requested), filtered like the real source.
func (s *SampleAnalytics) Query(_ context.Context, q AnalyticsQuery) ([]Row, error) {
	byQuery := false
	for _, d := range q.Dimensions {
		if d == "query" {
			byQuery = true
		}
	}

	if q.Page != "" {
		h := hash(q.Page)
		return Filter([]Row{{
			Page:        q.Page,
			Impressions: int(h % 500),
			Clicks:      5 + int(h%26),
			Position:    8 + float64(h%1700)/100,
		}}, AnalyticsQuery{MinImpressions: q.MinImpressions}), nil
	}

	var rows []Row
	for _, kw := range s.Keywords {
		h := hash(kw)
		rows = append(rows, Row{
			Query:       kw,
			Impressions: 500 + int(h%4501),
			Clicks:      10 + int(h%191),
			Position:    float64(10 + h%41),
		})
	}
	if byQuery {
		return Filter(rows, q), nil
	}

	var total Row
	var weighted float64
	for _, r := range rows {
		total.Impressions += r.Impressions
		total.Clicks += r.Clicks
		weighted += r.Position * float64(r.Impressions)
	}
	if total.Impressions > 0 {
		total.Position = weighted / float64(total.Impressions)
	}
	return []Row{total}, nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
