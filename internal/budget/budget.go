// Package budget meters spend on the paid upstream services and enforces the
// daily and weekly throughput caps that discovery and generation check before
// doing work.
package budget

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/database"
)

var ErrUnknownService = errors.New("unknown budget service")

// Metered services.
const (
	LLM     = "llm"
	SerpAPI = "serpapi"
	GSC     = "gsc"
)

// ThresholdStatus classifies a month's total spend.
type ThresholdStatus string

const (
	StatusOK       ThresholdStatus = "ok"
	StatusWarning  ThresholdStatus = "warning"
	StatusExceeded ThresholdStatus = "exceeded"
)

// Limits holds the spend thresholds in the billing currency.
type Limits struct {
	MonthlyTarget float64
	Warning       float64
	Alert         float64
	AgencyCost    float64
}

// DefaultLimits are the thresholds used when none are configured.
var DefaultLimits = Limits{MonthlyTarget: 90, Warning: 80, Alert: 100, AgencyCost: 600}

// Governor records spend and answers limit checks. It is safe for concurrent
// use; one instance is shared by every task in the process.
type Governor struct {
	db     *database.DB
	limits Limits
	now    func() time.Time
	mu     sync.Mutex
}

// NewGovernor creates a governor backed by db.
func NewGovernor(db *database.DB, limits Limits) *Governor {
	return &Governor{db: db, limits: limits, now: time.Now}
}

// SetClock replaces the time source. Tests use it to cross period boundaries.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// RecordCost counts one call to service and adds amount to the current
// month. It returns the resulting threshold status; it never blocks work.
func (g *Governor) RecordCost(service string, amount float64) (ThresholdStatus, error) {
	switch service {
	case LLM, SerpAPI, GSC:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if amount < 0 {
		return "", fmt.Errorf("negative cost %.2f for %s", amount, service)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	p, err := g.db.RecordBudgetEvent(monthKey(now), service, amount, now)
	if err != nil {
		return "", fmt.Errorf("recording %s cost: %w", service, err)
	}

	status := g.Classify(p.TotalCost)
	switch status {
	case StatusExceeded:
		log.Printf("[budget] Budget EXCEEDED: %.2f / %.2f", p.TotalCost, g.limits.Alert)
	case StatusWarning:
		log.Printf("[budget] Budget warning: %.2f / %.2f", p.TotalCost, g.limits.Warning)
	}
	return status, nil
}

// RecordContentPiece counts one generated draft against the current month
// and the weekly generation window.
func (g *Governor) RecordContentPiece() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	if _, err := g.db.RecordBudgetEvent(monthKey(now), database.ContentPieceEvent, 0, now); err != nil {
		return fmt.Errorf("recording content piece: %w", err)
	}
	return nil
}

// CurrentPeriod returns this month's record, creating it on first use.
func (g *Governor) CurrentPeriod() (*database.BudgetPeriod, error) {
	g.mu.Lock()
	now := g.now().UTC()
	g.mu.Unlock()
	return g.db.EnsureBudgetPeriod(monthKey(now))
}

// WithinDailyCallLimit reports whether service has been called fewer than
// limit times since 00:00 UTC today.
//
// The daily and weekly checks count real calendar windows in the event
// ledger rather than approximating them from the monthly counters.
func (g *Governor) WithinDailyCallLimit(service string, limit int) (bool, error) {
	switch service {
	case LLM, SerpAPI, GSC:
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	start := startOfDay(g.now())
	n, err := g.db.CountBudgetEvents(service, start, start.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	return n < limit, nil
}

// WithinWeeklyGenerationLimit reports whether fewer than limit content pieces
// have been generated in the current ISO week (Monday 00:00 UTC onwards).
func (g *Governor) WithinWeeklyGenerationLimit(limit int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := startOfWeek(g.now())
	n, err := g.db.CountBudgetEvents(database.ContentPieceEvent, start, start.AddDate(0, 0, 7))
	if err != nil {
		return false, err
	}
	return n < limit, nil
}

// Classify maps a total spend onto a threshold status.
func (g *Governor) Classify(total float64) ThresholdStatus {
	switch {
	case total >= g.limits.Alert:
		return StatusExceeded
	case total >= g.limits.Warning:
		return StatusWarning
	default:
		return StatusOK
	}
}

// Report summarises a month's spend.
type Report struct {
	Period           *database.BudgetPeriod `json:"period"`
	Status           ThresholdStatus        `json:"status"`
	BudgetPercentage float64                `json:"budget_percentage"`
	AvgCostPerPiece  float64                `json:"avg_cost_per_piece"`
	SavingsVsAgency  float64                `json:"savings_vs_agency"`
	MonthlyTarget    float64                `json:"monthly_target"`
}

// Report builds the summary for the current month.
func (g *Governor) Report() (*Report, error) {
	p, err := g.CurrentPeriod()
	if err != nil {
		return nil, err
	}
	return g.ReportFor(p), nil
}

// ReportFor builds the summary for an existing period record.
func (g *Governor) ReportFor(p *database.BudgetPeriod) *Report {
	r := &Report{
		Period:          p,
		Status:          g.Classify(p.TotalCost),
		SavingsVsAgency: round2(g.limits.AgencyCost - p.TotalCost),
		MonthlyTarget:   g.limits.MonthlyTarget,
	}
	if g.limits.MonthlyTarget > 0 {
		r.BudgetPercentage = round2(p.TotalCost / g.limits.MonthlyTarget * 100)
	}
	if p.ContentPiecesGenerated > 0 {
		r.AvgCostPerPiece = round2(p.TotalCost / float64(p.ContentPiecesGenerated))
	}
	return r
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns Monday 00:00 UTC of t's ISO week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
