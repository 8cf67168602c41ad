package database

import (
	"database/sql"
	"fmt"
)

const snapshotColumns = `id, content_item_id, period_start, period_end, impressions, clicks,
    avg_position, created_at`

// SaveSnapshot stores a performance snapshot. A snapshot for the same item
// (or site-wide) and period start is overwritten with the new figures, so
// re-tracking a week is idempotent. s.ID is set to the stored row.
func (db *DB) SaveSnapshot(s *PerformanceSnapshot) (created bool, err error) {
	if !s.PeriodStart.Before(s.PeriodEnd) {
		return false, fmt.Errorf("snapshot period start %s is not before end %s",
			s.PeriodStart.Format(dateLayout), s.PeriodEnd.Format(dateLayout))
	}
	if s.Impressions < 0 || s.Clicks < 0 {
		return false, fmt.Errorf("snapshot counts must be non-negative")
	}

	var itemID any
	var key int64
	if s.ContentItemID != nil {
		itemID = *s.ContentItemID
		key = *s.ContentItemID
	}
	var position any
	if s.AvgPosition != nil {
		position = *s.AvgPosition
	}
	start := s.PeriodStart.UTC().Format(dateLayout)
	end := s.PeriodEnd.UTC().Format(dateLayout)

	err = db.withTx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(`
SELECT id FROM performance_snapshots
WHERE COALESCE(content_item_id, 0) = ? AND period_start = ?`, key, start).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.Exec(`
INSERT INTO performance_snapshots (content_item_id, period_start, period_end,
    impressions, clicks, avg_position)
VALUES (?, ?, ?, ?, ?, ?)`, itemID, start, end, s.Impressions, s.Clicks, position)
			if err != nil {
				return fmt.Errorf("inserting snapshot: %w", err)
			}
			s.ID, _ = res.LastInsertId()
			created = true
			return nil
		case err != nil:
			return fmt.Errorf("looking up snapshot: %w", err)
		}

		if _, err := tx.Exec(`
UPDATE performance_snapshots
SET period_end = ?, impressions = ?, clicks = ?, avg_position = ?
WHERE id = ?`, end, s.Impressions, s.Clicks, position, id); err != nil {
			return fmt.Errorf("updating snapshot %d: %w", id, err)
		}
		s.ID = id
		return nil
	})
	return created, err
}

// LatestSnapshots returns up to n snapshots for an item (nil for site-wide),
// most recent period first.
func (db *DB) LatestSnapshots(itemID *int64, n int) ([]PerformanceSnapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM performance_snapshots WHERE "
	var args []any
	if itemID == nil {
		query += "content_item_id IS NULL"
	} else {
		query += "content_item_id = ?"
		args = append(args, *itemID)
	}
	query += " ORDER BY period_end DESC LIMIT ?"
	args = append(args, n)
	return db.querySnapshots(query, args...)
}

// ListSnapshots returns the most recent snapshots across all items.
func (db *DB) ListSnapshots(limit int) ([]PerformanceSnapshot, error) {
	return db.querySnapshots(
		"SELECT "+snapshotColumns+" FROM performance_snapshots ORDER BY period_end DESC, id DESC LIMIT ?",
		limit,
	)
}

func (db *DB) querySnapshots(query string, args ...any) ([]PerformanceSnapshot, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []PerformanceSnapshot
	for rows.Next() {
		var s PerformanceSnapshot
		var item sql.NullInt64
		var position sql.NullFloat64
		var start, end, created string
		if err := rows.Scan(&s.ID, &item, &start, &end, &s.Impressions, &s.Clicks, &position, &created); err != nil {
			return nil, err
		}
		if item.Valid {
			id := item.Int64
			s.ContentItemID = &id
		}
		if position.Valid {
			p := position.Float64
			s.AvgPosition = &p
		}
		s.PeriodStart = parseTime(start)
		s.PeriodEnd = parseTime(end)
		s.CreatedAt = parseTime(created)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
