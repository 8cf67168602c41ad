// Package performance records weekly search metrics for published content
// and flags items that never found an audience.
package performance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/budget"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/sources"
)

// DefaultValuePerClick is the estimated worth of one organic click.
const DefaultValuePerClick = 2.50

// CTR is clicks per impression as a percentage, rounded to two decimals.
// It is 0 when there were no impressions.
func CTR(clicks, impressions int) float64 {
	if impressions == 0 {
		return 0
	}
	return round2(float64(clicks) / float64(impressions) * 100)
}

// TrafficValue is the estimated value of the clicks.
func TrafficValue(clicks int, valuePerClick float64) float64 {
	return round2(float64(clicks) * valuePerClick)
}

// PercentChange is (current-previous)/previous*100, defined as 0 when
// previous is 0. A 0 result is a real 0%, not "no data".
func PercentChange(previous, current float64) float64 {
	if previous == 0 {
		return 0
	}
	return round2((current - previous) / previous * 100)
}

// Change is the week-over-week movement of one item.
type Change struct {
	Impressions float64 `json:"impressions"`
	Clicks      float64 `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

// WeekOverWeek compares two consecutive snapshots.
func WeekOverWeek(previous, current database.PerformanceSnapshot) Change {
	return Change{
		Impressions: PercentChange(float64(previous.Impressions), float64(current.Impressions)),
		Clicks:      PercentChange(float64(previous.Clicks), float64(current.Clicks)),
		CTR: PercentChange(
			CTR(previous.Clicks, previous.Impressions),
			CTR(current.Clicks, current.Impressions),
		),
	}
}

// Underperformer is an old item whose latest week was too quiet.
type Underperformer struct {
	Item        database.ContentItem `json:"item"`
	Impressions int                  `json:"impressions"`
}

// Options tunes a Tracker.
type Options struct {
	BaseURL             string
	ValuePerClick       float64
	UnderperformerWeeks int
	MinImpressions      int
}

// Report summarises one tracking run.
type Report struct {
	PeriodStart     time.Time                     `json:"period_start"`
	PeriodEnd       time.Time                     `json:"period_end"`
	Site            *database.PerformanceSnapshot `json:"site,omitempty"`
	ItemsTracked    int                           `json:"items_tracked"`
	TrafficValue    float64                       `json:"traffic_value"`
	Underperformers []Underperformer              `json:"underperformers"`
}

// Tracker writes weekly snapshots.
type Tracker struct {
	db        *database.DB
	analytics sources.Analytics
	governor  *budget.Governor
	opts      Options
	now       func() time.Time
}

// NewTracker creates a tracker. governor may be nil.
func NewTracker(db *database.DB, analytics sources.Analytics, governor *budget.Governor, opts Options) *Tracker {
	if opts.ValuePerClick <= 0 {
		opts.ValuePerClick = DefaultValuePerClick
	}
	if opts.UnderperformerWeeks <= 0 {
		opts.UnderperformerWeeks = 8
	}
	if opts.MinImpressions <= 0 {
		opts.MinImpressions = 50
	}
	return &Tracker{db: db, analytics: analytics, governor: governor, opts: opts, now: time.Now}
}

// Track records the site-wide and per-item snapshots for the seven days
// ending today and returns the underperformers. Re-running a week is a no-op
// for snapshots already stored. Rejected analytics credentials skip the
// snapshots but still evaluate underperformers.
func (t *Tracker) Track(ctx context.Context) (*Report, error) {
	now := t.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	r := &Report{PeriodStart: end.AddDate(0, 0, -7), PeriodEnd: end}
	log.Printf("[performance] Tracking %s to %s", r.PeriodStart.Format("2006-01-02"), r.PeriodEnd.Format("2006-01-02"))

	err := t.trackSite(ctx, r)
	if err == nil {
		err = t.trackItems(ctx, r)
	}
	if errors.Is(err, sources.ErrAuthentication) {
		log.Printf("[performance] Analytics authentication failed, skipping snapshots: %v", err)
	} else if err != nil {
		return nil, err
	}

	under, err := t.Underperformers()
	if err != nil {
		return nil, err
	}
	r.Underperformers = under
	for _, u := range under {
		log.Printf("[performance] Underperformer: %s (%d impressions)", u.Item.Title, u.Impressions)
	}

	log.Printf("[performance] Done: %d items tracked, %d underperformers, traffic value %.2f",
		r.ItemsTracked, len(r.Underperformers), r.TrafficValue)
	return r, nil
}

func (t *Tracker) trackSite(ctx context.Context, r *Report) error {
	rows, err := t.query(ctx, sources.AnalyticsQuery{Start: r.PeriodStart, End: r.PeriodEnd})
	if err != nil {
		return err
	}
	snap := aggregate(rows)
	snap.PeriodStart, snap.PeriodEnd = r.PeriodStart, r.PeriodEnd
	if _, err := t.db.SaveSnapshot(&snap); err != nil {
		return err
	}
	r.Site = &snap
	log.Printf("[performance] Site-wide: %d impressions, %d clicks", snap.Impressions, snap.Clicks)
	return nil
}

func (t *Tracker) trackItems(ctx context.Context, r *Report) error {
	items, err := t.db.ListItems(0)
	if err != nil {
		return err
	}
	for _, item := range items {
		rows, err := t.query(ctx, sources.AnalyticsQuery{
			Start:      r.PeriodStart,
			End:        r.PeriodEnd,
			Dimensions: []string{"page"},
			Page:       t.pageURL(item.Slug),
		})
		if err != nil {
			return fmt.Errorf("tracking %s: %w", item.Slug, err)
		}

		id := item.ID
		snap := aggregate(rows)
		snap.ContentItemID = &id
		snap.PeriodStart, snap.PeriodEnd = r.PeriodStart, r.PeriodEnd
		if _, err := t.db.SaveSnapshot(&snap); err != nil {
			return err
		}
		r.ItemsTracked++
		r.TrafficValue = round2(r.TrafficValue + TrafficValue(snap.Clicks, t.opts.ValuePerClick))

		latest, err := t.db.LatestSnapshots(&id, 2)
		if err != nil {
			return err
		}
		if len(latest) == 2 {
			c := WeekOverWeek(latest[1], latest[0])
			log.Printf("[performance] %s: impressions %+.2f%%, clicks %+.2f%%, ctr %+.2f%%",
				item.Title, c.Impressions, c.Clicks, c.CTR)
		}
	}
	return nil
}

// Underperformers lists items published more than UnderperformerWeeks ago
// whose latest snapshot has fewer than MinImpressions impressions. Items
// without any snapshot are not judged.
func (t *Tracker) Underperformers() ([]Underperformer, error) {
	cutoff := t.now().UTC().AddDate(0, 0, -7*t.opts.UnderperformerWeeks)
	items, err := t.db.ListItemsPublishedBefore(cutoff)
	if err != nil {
		return nil, err
	}
	var out []Underperformer
	for _, item := range items {
		id := item.ID
		latest, err := t.db.LatestSnapshots(&id, 1)
		if err != nil {
			return nil, err
		}
		if len(latest) == 1 && latest[0].Impressions < t.opts.MinImpressions {
			out = append(out, Underperformer{Item: item, Impressions: latest[0].Impressions})
		}
	}
	return out, nil
}

func (t *Tracker) query(ctx context.Context, q sources.AnalyticsQuery) ([]sources.Row, error) {
	rows, err := t.analytics.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if t.governor != nil {
		if _, err := t.governor.RecordCost(budget.GSC, 0); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (t *Tracker) pageURL(slug string) string {
	return strings.TrimRight(t.opts.BaseURL, "/") + "/" + slug
}

// aggregate sums rows, weighting position by impressions.
func aggregate(rows []sources.Row) database.PerformanceSnapshot {
	var s database.PerformanceSnapshot
	var weighted float64
	for _, r := range rows {
		s.Impressions += r.Impressions
		s.Clicks += r.Clicks
		weighted += r.Position * float64(r.Impressions)
	}
	if s.Impressions > 0 && weighted > 0 {
		pos := round2(weighted / float64(s.Impressions))
		s.AvgPosition = &pos
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
