package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/scoring"
)

func TestFilter(t *testing.T) {
	rows := []Row{
		{Query: "paper cups", Impressions: 50},
		{Query: "acme paper cups", Impressions: 500},
		{Query: "straws", Impressions: 9},
	}
	got := Filter(rows, AnalyticsQuery{MinImpressions: 10, ExcludeBranded: true, Brand: "ACME"})
	if len(got) != 1 || got[0].Query != "paper cups" {
		t.Errorf("unexpected rows %+v", got)
	}
}

func TestSearchConsoleQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/searchAnalytics/query") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		var req gscRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.StartDate != "2026-01-01" || len(req.Dimensions) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"rows":[
			{"keys":["paper cups"],"clicks":12,"impressions":340,"position":14.2},
			{"keys":["acme cups"],"clicks":3,"impressions":90,"position":2},
			{"keys":["rare"],"clicks":0,"impressions":4,"position":60}
		]}`))
	}))
	defer srv.Close()

	gsc := NewSearchConsole(srv.URL, "https://shop.example.com/", "tok")
	rows, err := gsc.Query(context.Background(), AnalyticsQuery{
		Start:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
		Dimensions:     []string{"query"},
		MinImpressions: 10,
		ExcludeBranded: true,
		Brand:          "acme",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || rows[0].Query != "paper cups" || rows[0].Clicks != 12 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestSearchConsoleErrors(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	gsc := NewSearchConsole(srv.URL, "site", "tok")
	if _, err := gsc.Query(context.Background(), AnalyticsQuery{}); !errors.Is(err, ErrAuthentication) {
		t.Errorf("403: expected ErrAuthentication, got %v", err)
	}

	status = http.StatusInternalServerError
	if _, err := gsc.Query(context.Background(), AnalyticsQuery{}); !errors.Is(err, ErrAPI) {
		t.Errorf("500: expected ErrAPI, got %v", err)
	}

	noToken := NewSearchConsole(srv.URL, "site", "")
	if _, err := noToken.Query(context.Background(), AnalyticsQuery{}); !errors.Is(err, ErrAuthentication) {
		t.Errorf("no token: expected ErrAuthentication, got %v", err)
	}
}

func TestSampleAnalyticsIsDeterministic(t *testing.T) {
	s := &SampleAnalytics{Keywords: []string{"eco-friendly paper cups", "compostable coffee cups"}}
	q := AnalyticsQuery{Dimensions: []string{"query"}, MinImpressions: 10}

	a, _ := s.Query(context.Background(), q)
	b, _ := s.Query(context.Background(), q)
	if len(a) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("row %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
		if a[i].Position < 10 || a[i].Position > 50 {
			t.Errorf("position %v out of range", a[i].Position)
		}
	}

	site, _ := s.Query(context.Background(), AnalyticsQuery{})
	if len(site) != 1 || site[0].Impressions != a[0].Impressions+a[1].Impressions {
		t.Errorf("unexpected site-wide row %+v", site)
	}
}

func TestEstimator(t *testing.T) {
	res, err := Estimator{}.Analyze(context.Background(), "compostable coffee cups")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// 23 characters
	if res.SearchVolume != 7000 {
		t.Errorf("search volume = %d, want 7000", res.SearchVolume)
	}
	if res.Competition != scoring.CompetitionHigh {
		t.Errorf("competition = %s, want high", res.Competition)
	}
	if len(res.OrganicResults) != 3 || len(res.RelatedQuestions) != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if links := res.Links(); links[0] != "https://example.com/compostable-coffee-cups" {
		t.Errorf("unexpected links %v", links)
	}

	if _, err := (Estimator{}).Analyze(context.Background(), "  "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSerpAPIAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "paper straws" || r.URL.Query().Get("api_key") != "k" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"search_information": {"total_results": 1200},
			"ads": [{}, {}],
			"organic_results": [{"position":1,"title":"Straws","link":"https://a.example/straws"}],
			"related_questions": [{"question":"Are paper straws recyclable?"}]
		}`))
	}))
	defer srv.Close()

	res, err := NewSerpAPI(srv.URL, "k", "United Kingdom").Analyze(context.Background(), "paper straws")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.SearchVolume != 1200 || res.Competition != scoring.CompetitionMedium {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.RelatedQuestions) != 1 || res.Links()[0] != "https://a.example/straws" {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := NewSerpAPI(srv.URL, "k", "").Analyze(context.Background(), ""); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSerpAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSerpAPI(srv.URL, "k", "").Analyze(context.Background(), "cups")
	if !errors.Is(err, ErrAPI) {
		t.Errorf("expected ErrAPI, got %v", err)
	}
}

func TestSerpAPIRejectedCredentialsAreAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewSerpAPI(srv.URL, "k", "").Analyze(context.Background(), "cups")
	if !errors.Is(err, ErrAPI) || !errors.Is(err, ErrAuthentication) {
		t.Errorf("401: expected ErrAPI and ErrAuthentication, got %v", err)
	}

	_, err = NewSerpAPI(srv.URL, "", "").Analyze(context.Background(), "cups")
	if !errors.Is(err, ErrAPI) || !errors.Is(err, ErrAuthentication) {
		t.Errorf("no key: expected ErrAPI and ErrAuthentication, got %v", err)
	}
}
