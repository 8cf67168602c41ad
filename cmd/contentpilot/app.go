package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/discovery"
	"github.com/TobiSchelling/contentpilot/internal/gateway"
	"github.com/TobiSchelling/contentpilot/internal/linking"
	"github.com/TobiSchelling/contentpilot/internal/llm"
	"github.com/TobiSchelling/contentpilot/internal/performance"
	"github.com/TobiSchelling/contentpilot/internal/pipeline"
	"github.com/TobiSchelling/contentpilot/internal/publish"
	"github.com/TobiSchelling/contentpilot/internal/queue"
	"github.com/TobiSchelling/contentpilot/internal/research"
	"github.com/TobiSchelling/contentpilot/internal/sources"
)

// app holds the shared objects of one process. The governor and the gateway
// breaker must be shared by every task, so everything is built once here.
type app struct {
	db        *database.DB
	rdb       *redis.Client
	governor  *budget.Governor
	gateway   *gateway.Gateway
	index     *linking.Index
	queue     *queue.Queue
	discovery *discovery.Cycle
	pipeline  *pipeline.Pipeline
	publisher *publish.Publisher
	tracker   *performance.Tracker
}

func newApp(ctx context.Context) (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	a.governor = budget.NewGovernor(db, budget.Limits{
		MonthlyTarget: cfg.Budget.MonthlyTarget,
		Warning:       cfg.Budget.WarningThreshold,
		Alert:         cfg.Budget.AlertThreshold,
		AgencyCost:    cfg.Costs.AgencyCost,
	})
	a.gateway = newGateway()

	a.index, err = linking.New()
	if err != nil {
		a.Close()
		return nil, err
	}
	items, err := db.ListItems(0)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.index.Load(items); err != nil {
		a.Close()
		return nil, err
	}
	if feedURL := cfg.Site.ExistingFeedURL; feedURL != "" {
		if _, err := a.index.ImportFeed(ctx, feedURL); err != nil {
			log.Printf("Importing existing articles failed: %v", err)
		}
	}

	store, err := a.newStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = queue.New(store)

	analytics := newAnalytics()
	a.discovery = discovery.New(db, a.governor, analytics, newSERP(), a.queue, discovery.Options{
		SerpDailyLimit: cfg.Budget.SerpAPIDailyLimit,
		SerpCost:       cfg.Costs.SerpAPI,
		LookbackDays:   cfg.Discovery.LookbackDays,
		MinImpressions: cfg.Discovery.MinImpressions,
		MaxCandidates:  cfg.Discovery.MaxCandidates,
		MinScore:       cfg.Discovery.MinScore,
		QuickWinMaxPos: cfg.Discovery.QuickWinMaxPos,
		Brand:          cfg.Site.Brand,
		ProductTerms:   cfg.Discovery.ProductTerms,
	})
	popts := pipeline.Options{
		WeeklyLimit: cfg.Budget.WeeklyContentLimit,
		Links:       a.index,
	}
	if cp := cfg.Sources.CompetitorPages; cp.Enabled {
		popts.Competitors = research.NewFetcher(cp.Timeout, cp.MaxPages)
	}
	a.pipeline = pipeline.New(db, a.gateway, a.governor, a.queue, popts)
	a.publisher = publish.New(db, a.index, cfg.Site.AuthorCredit)
	a.tracker = performance.NewTracker(db, analytics, a.governor, performance.Options{
		BaseURL:             cfg.Site.BaseURL,
		ValuePerClick:       cfg.Performance.ValuePerClick,
		UnderperformerWeeks: cfg.Performance.UnderperformerWeeks,
		MinImpressions:      cfg.Performance.MinImpressions,
	})
	return a, nil
}

func (a *app) newStore(ctx context.Context) (queue.Store, error) {
	if cfg.Queue.Backend == "redis" {
		rdb, err := queue.NewRedisClient(ctx, cfg.Queue.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		return queue.NewRedisStore(rdb, "contentpilot"), nil
	}

	store := queue.NewSQLiteStore(a.db)
	if n, err := store.Recover(); err != nil {
		return nil, fmt.Errorf("recovering tasks: %w", err)
	} else if n > 0 {
		log.Printf("[queue] Requeued %d task(s) left running by a previous process", n)
	}
	return store, nil
}

// worker returns a queue worker with a handler for every task kind.
func (a *app) worker() *queue.Worker {
	w := queue.NewWorker(a.queue.Store(), queue.WorkerOptions{
		Concurrency:  cfg.Queue.Concurrency,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBase:    cfg.Queue.RetryBase,
		PollInterval: cfg.Queue.PollInterval,
	})
	w.Handle(queue.KindDiscovery, func(ctx context.Context, _ queue.Task) error {
		_, err := a.discovery.Run(ctx)
		return err
	})
	w.Handle(queue.KindGeneration, func(ctx context.Context, t queue.Task) error {
		_, err := a.pipeline.Run(ctx, t.OpportunityID)
		return err
	})
	w.Handle(queue.KindPerformance, func(ctx context.Context, _ queue.Task) error {
		_, err := a.tracker.Track(ctx)
		return err
	})
	return w
}

func (a *app) Close() {
	if a.index != nil {
		a.index.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}

func newGateway() *gateway.Gateway {
	provider := func(model string) llm.Provider {
		return llm.CreateProvider(llm.Options{
			Provider:  cfg.LLM.Provider,
			Model:     model,
			APIKeyEnv: cfg.LLM.APIKeyEnv,
			BaseURL:   cfg.LLM.BaseURL,
			Timeout:   cfg.LLM.Timeout,
		})
	}
	return gateway.New(gateway.Options{
		Strategist: provider(cfg.LLM.StrategistModel),
		Writer:     provider(cfg.LLM.WriterModel),
		Reviewer:   provider(cfg.LLM.ReviewerModel),
		Models: gateway.Models{
			Strategist: cfg.LLM.StrategistModel,
			Writer:     cfg.LLM.WriterModel,
			Reviewer:   cfg.LLM.ReviewerModel,
		},
		Costs: gateway.Costs{
			Brief:   cfg.Costs.Brief,
			Article: cfg.Costs.Article,
			Review:  cfg.Costs.Review,
		},
		MaxTokens:        cfg.LLM.MaxTokens,
		SiteName:         cfg.Site.Name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})
}

func newAnalytics() sources.Analytics {
	sc := cfg.Sources.SearchConsole
	if token := os.Getenv(sc.TokenEnv); token != "" && sc.SiteURL != "" {
		return sources.NewSearchConsole(sc.Endpoint, sc.SiteURL, token)
	}
	log.Println("No Search Console token configured, using sample analytics")
	return &sources.SampleAnalytics{Keywords: cfg.Discovery.SampleKeywords}
}

func newSERP() sources.SERP {
	sa := cfg.Sources.SerpAPI
	if key := os.Getenv(sa.APIKeyEnv); key != "" {
		return sources.NewSerpAPI(sa.Endpoint, key, sa.Location)
	}
	log.Println("No SerpAPI key configured, using keyword estimates")
	return sources.Estimator{}
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}
