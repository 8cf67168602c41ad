package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ContentPieceEvent is the ledger service name for a generated content piece.
const ContentPieceEvent = "content_piece"

// budgetColumns maps a metered service to its request and cost columns.
var budgetColumns = map[string][2]string{
	"gsc":     {"gsc_requests", "gsc_cost"},
	"serpapi": {"serpapi_requests", "serpapi_cost"},
	"llm":     {"llm_requests", "llm_cost"},
}

const budgetPeriodColumns = `id, month, gsc_requests, serpapi_requests, llm_requests, gsc_cost,
    serpapi_cost, llm_cost, content_pieces_generated, total_cost, updated_at`

// EnsureBudgetPeriod fetches the record for month (YYYY-MM), creating it when
// missing. Concurrent callers converge on the same row.
func (db *DB) EnsureBudgetPeriod(month string) (*BudgetPeriod, error) {
	var p *BudgetPeriod
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		p, err = ensureBudgetPeriod(tx, month)
		return err
	})
	return p, err
}

// GetBudgetPeriod returns the record for month, or nil if none exists.
func (db *DB) GetBudgetPeriod(month string) (*BudgetPeriod, error) {
	p, err := scanBudgetPeriod(db.conn.QueryRow("SELECT "+budgetPeriodColumns+" FROM budget_periods WHERE month = ?", month))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListBudgetPeriods returns the most recent months first.
func (db *DB) ListBudgetPeriods(limit int) ([]BudgetPeriod, error) {
	rows, err := db.conn.Query("SELECT "+budgetPeriodColumns+" FROM budget_periods ORDER BY month DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []BudgetPeriod
	for rows.Next() {
		p, err := scanBudgetPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

// RecordBudgetEvent applies one metered call (or a content piece) to the
// month's counters and appends it to the ledger, atomically.
func (db *DB) RecordBudgetEvent(month, service string, amount float64, at time.Time) (*BudgetPeriod, error) {
	var update string
	var args []any
	if service == ContentPieceEvent {
		update = "content_pieces_generated = content_pieces_generated + 1"
	} else {
		cols, ok := budgetColumns[service]
		if !ok {
			return nil, fmt.Errorf("unknown budget service %q", service)
		}
		update = fmt.Sprintf("%s = %s + 1, %s = %s + ?", cols[0], cols[0], cols[1], cols[1])
		args = append(args, amount)
	}
	args = append(args, formatTime(at), month)

	var p *BudgetPeriod
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := ensureBudgetPeriod(tx, month); err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE budget_periods SET "+update+", updated_at = ? WHERE month = ?", args...); err != nil {
			return fmt.Errorf("updating budget period: %w", err)
		}
		if _, err := tx.Exec(
			"INSERT INTO budget_events (service, amount, occurred_at) VALUES (?, ?, ?)",
			service, amount, formatTime(at),
		); err != nil {
			return fmt.Errorf("appending budget event: %w", err)
		}
		var err error
		p, err = scanBudgetPeriod(tx.QueryRow("SELECT "+budgetPeriodColumns+" FROM budget_periods WHERE month = ?", month))
		return err
	})
	return p, err
}

// CountBudgetEvents counts ledger entries for service in [from, to).
func (db *DB) CountBudgetEvents(service string, from, to time.Time) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM budget_events WHERE service = ? AND occurred_at >= ? AND occurred_at < ?",
		service, formatTime(from), formatTime(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting budget events: %w", err)
	}
	return n, nil
}

func ensureBudgetPeriod(q querier, month string) (*BudgetPeriod, error) {
	if _, err := q.Exec("INSERT INTO budget_periods (month) VALUES (?) ON CONFLICT(month) DO NOTHING", month); err != nil {
		return nil, fmt.Errorf("creating budget period %s: %w", month, err)
	}
	return scanBudgetPeriod(q.QueryRow("SELECT "+budgetPeriodColumns+" FROM budget_periods WHERE month = ?", month))
}

func scanBudgetPeriod(row rowScanner) (*BudgetPeriod, error) {
	var p BudgetPeriod
	var updated string
	if err := row.Scan(&p.ID, &p.Month, &p.GSCRequests, &p.SerpAPIRequests, &p.LLMRequests,
		&p.GSCCost, &p.SerpAPICost, &p.LLMCost, &p.ContentPiecesGenerated, &p.TotalCost, &updated); err != nil {
		return nil, err
	}
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
