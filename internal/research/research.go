// Package research fetches the pages currently ranking for a query so the
// strategist's brief records what it is competing against.
package research

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/contentpilot/internal/content"
)

const maxBodyBytes = 4 << 20

// Page summarises one competitor page.
type Page struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	WordCount int      `json:"word_count"`
	Headings  []string `json:"headings"`
}

// Fetcher downloads competitor pages and extracts their outline.
type Fetcher struct {
	client   *http.Client
	maxPages int
}

// NewFetcher creates a fetcher that reads at most maxPages pages per call.
func NewFetcher(timeout time.Duration, maxPages int) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxPages <= 0 {
		maxPages = 3
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		maxPages: maxPages,
	}
}

// Fetch returns the pages that could be read. Failures are logged and
// skipped; after an HTTP error the remaining URLs of that domain are skipped.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) []Page {
	var pages []Page
	failedDomains := make(map[string]struct{})

	for _, pageURL := range urls {
		if len(pages) >= f.maxPages || ctx.Err() != nil {
			break
		}
		u, err := url.Parse(pageURL)
		if err != nil || u.Host == "" {
			continue
		}
		domain := strings.ToLower(u.Host)
		if _, failed := failedDomains[domain]; failed {
			continue
		}

		page, err := f.fetchPage(ctx, u)
		if err != nil {
			if _, ok := err.(*httpError); ok {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("Fetching competitor page %s failed: %v", pageURL, err)
			continue
		}
		pages = append(pages, *page)
	}
	return pages
}

func (f *Fetcher) fetchPage(ctx context.Context, u *url.URL) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "contentpilot/1.0 (content research)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return nil, fmt.Errorf("extracting article: %w", err)
	}
	return &Page{
		URL:       u.String(),
		Title:     strings.TrimSpace(article.Title),
		WordCount: content.WordCount(article.TextContent),
		Headings:  content.Headings(string(body)),
	}, nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
