package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/performance"
	"github.com/TobiSchelling/contentpilot/internal/pipeline"
	"github.com/TobiSchelling/contentpilot/internal/publish"
	"github.com/TobiSchelling/contentpilot/internal/queue"
)

const feedSize = 20

// Enqueuer accepts tasks for the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (queue.Task, error)
}

// Options configures the public site details and admin access.
type Options struct {
	SiteName    string
	BaseURL     string
	AdminSecret string
}

// Server is the HTTP API for published content and editorial review.
type Server struct {
	db        *database.DB
	publisher *publish.Publisher
	governor  *budget.Governor
	tracker   *performance.Tracker
	queue     Enqueuer
	opts      Options
	echo      *echo.Echo
}

// New creates a new Server. tracker may be nil.
func New(db *database.DB, publisher *publish.Publisher, governor *budget.Governor,
	tracker *performance.Tracker, q Enqueuer, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		db:        db,
		publisher: publisher,
		governor:  governor,
		tracker:   tracker,
		queue:     q,
		opts:      opts,
		echo:      e,
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	api := s.echo.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/feed.xml", s.handleFeed)
	api.GET("/items", s.handleListItems)
	api.GET("/items/:slug", s.handleGetItem)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.GET("/opportunities", s.handleListOpportunities)
	admin.GET("/opportunities/:id", s.handleGetOpportunity)
	admin.POST("/opportunities/:id/dismiss", s.handleDismiss)
	admin.POST("/opportunities/:id/generate", s.handleGenerate)
	admin.POST("/discovery", s.handleDiscovery)
	admin.GET("/drafts", s.handleListDrafts)
	admin.GET("/drafts/:id", s.handleGetDraft)
	admin.POST("/drafts/:id/approve", s.handleApprove)
	admin.POST("/drafts/:id/reject", s.handleReject)
	admin.GET("/budget", s.handleBudget)
	admin.GET("/performance", s.handlePerformance)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(c echo.Context) error {
	items, err := s.db.ListItems(feedSize)
	if err != nil {
		return jsonError(c, err)
	}

	base := strings.TrimRight(s.opts.BaseURL, "/")
	feed := &feeds.Feed{
		Title:       s.opts.SiteName,
		Link:        &feeds.Link{Href: base},
		Description: "Latest articles from " + s.opts.SiteName,
		Created:     time.Now(),
	}
	for _, it := range items {
		link := base + "/" + it.Slug
		fi := &feeds.Item{
			Id:          link,
			Title:       it.Title,
			Link:        &feeds.Link{Href: link},
			Description: it.Excerpt,
			Created:     it.PublishedAt,
		}
		if it.AuthorCredit != "" {
			fi.Author = &feeds.Author{Name: it.AuthorCredit}
		}
		feed.Items = append(feed.Items, fi)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return jsonError(c, fmt.Errorf("rendering feed: %w", err))
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

func (s *Server) handleListItems(c echo.Context) error {
	items, err := s.db.ListItems(queryInt(c, "limit", 50))
	if err != nil {
		return jsonError(c, err)
	}
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, newItemView(&it, false))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetItem(c echo.Context) error {
	item, err := s.db.GetItemBySlug(c.Param("slug"))
	if err != nil {
		return jsonError(c, err)
	}
	if item == nil {
		return jsonError(c, database.ErrNotFound)
	}
	return c.JSON(http.StatusOK, newItemView(item, true))
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	f := database.OpportunityFilter{MinScore: queryInt(c, "min_score", 0), Limit: queryInt(c, "limit", 0)}
	if v := c.QueryParam("status"); v != "" {
		status, err := lifecycle.ParseOpportunityStatus(v)
		if err != nil {
			return jsonError(c, err)
		}
		f.Status = status
	}
	opps, err := s.db.ListOpportunities(f)
	if err != nil {
		return jsonError(c, err)
	}
	out := make([]opportunityView, 0, len(opps))
	for _, o := range opps {
		out = append(out, newOpportunityView(&o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	opp, err := s.db.GetOpportunity(id)
	if err != nil {
		return jsonError(c, err)
	}
	if opp == nil {
		return jsonError(c, database.ErrNotFound)
	}
	return c.JSON(http.StatusOK, newOpportunityView(opp))
}

func (s *Server) handleDismiss(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	if err := s.publisher.Dismiss(id); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": lifecycle.OpportunityDismissed})
}

// handleGenerate enqueues a generation run. The pipeline rechecks
// eligibility when the task runs.
func (s *Server) handleGenerate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	opp, err := s.db.GetOpportunity(id)
	if err != nil {
		return jsonError(c, err)
	}
	if opp == nil {
		return jsonError(c, database.ErrNotFound)
	}
	if opp.Status != lifecycle.OpportunityPending {
		return jsonError(c, fmt.Errorf("opportunity %d is %s: %w", id, opp.Status, pipeline.ErrNotEligible))
	}
	return s.enqueue(c, queue.Generation(id))
}

func (s *Server) handleDiscovery(c echo.Context) error {
	return s.enqueue(c, queue.Discovery())
}

func (s *Server) enqueue(c echo.Context, t queue.Task) error {
	task, err := s.queue.Enqueue(c.Request().Context(), t)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleListDrafts(c echo.Context) error {
	var status lifecycle.DraftStatus
	if v := c.QueryParam("status"); v != "" {
		parsed, err := lifecycle.ParseDraftStatus(v)
		if err != nil {
			return jsonError(c, err)
		}
		status = parsed
	}
	drafts, err := s.db.ListDrafts(status)
	if err != nil {
		return jsonError(c, err)
	}
	out := make([]draftView, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, newDraftView(&d, false))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetDraft(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	d, err := s.db.GetDraft(id)
	if err != nil {
		return jsonError(c, err)
	}
	if d == nil {
		return jsonError(c, database.ErrNotFound)
	}
	return c.JSON(http.StatusOK, newDraftView(d, true))
}

func (s *Server) handleApprove(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	item, err := s.publisher.Approve(id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, newItemView(item, false))
}

func (s *Server) handleReject(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return jsonError(c, err)
	}
	if err := s.publisher.Reject(id); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": lifecycle.DraftRejected})
}

func (s *Server) handleBudget(c echo.Context) error {
	report, err := s.governor.Report()
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, newBudgetView(report))
}

func (s *Server) handlePerformance(c echo.Context) error {
	snaps, err := s.db.ListSnapshots(queryInt(c, "limit", 50))
	if err != nil {
		return jsonError(c, err)
	}
	resp := performanceView{Snapshots: make([]snapshotView, 0, len(snaps))}
	for _, sn := range snaps {
		resp.Snapshots = append(resp.Snapshots, newSnapshotView(&sn))
	}
	if s.tracker != nil {
		under, err := s.tracker.Underperformers()
		if err != nil {
			return jsonError(c, err)
		}
		for _, u := range under {
			resp.Underperformers = append(resp.Underperformers, underperformerView{
				Slug:        u.Item.Slug,
				Title:       u.Item.Title,
				Impressions: u.Impressions,
				PublishedAt: u.Item.PublishedAt,
			})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.AdminSecret == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// X-Admin-Secret header or Bearer token
		provided := c.Request().Header.Get("X-Admin-Secret")
		if authHeader := c.Request().Header.Get("Authorization"); provided == "" &&
			len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			provided = authHeader[7:]
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.opts.AdminSecret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

var errBadID = errors.New("invalid id")

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q: %w", c.Param("id"), errBadID)
	}
	return id, nil
}

func queryInt(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// jsonError maps domain errors onto HTTP status codes.
func jsonError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadID), errors.Is(err, lifecycle.ErrUnknownStatus):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrAlreadyGenerated),
		errors.Is(err, pipeline.ErrNotEligible),
		errors.Is(err, database.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, database.ErrQualityTooLow), errors.Is(err, database.ErrUnknownProduct):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Printf("[server] %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, s *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
