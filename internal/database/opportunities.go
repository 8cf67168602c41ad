package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
	"github.com/TobiSchelling/contentpilot/internal/scoring"
)

const opportunityColumns = `id, query, opportunity_type, score, search_volume, competition_difficulty,
    current_position, metadata, status, discovered_at, updated_at`

// UpsertOpportunity inserts a new opportunity as new_content, or refreshes an
// existing one keyed by query. Updates keep discovered_at and status.
func (db *DB) UpsertOpportunity(u OpportunityUpsert) (opp *Opportunity, created bool, err error) {
	if strings.TrimSpace(u.Query) == "" {
		return nil, false, fmt.Errorf("opportunity query is empty")
	}
	if u.Competition != "" && !u.Competition.Valid() {
		return nil, false, fmt.Errorf("invalid competition difficulty %q", u.Competition)
	}
	meta, err := toJSON(u.Metadata)
	if err != nil {
		return nil, false, err
	}
	now := formatTime(time.Now())

	err = db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
INSERT INTO opportunities (query, opportunity_type, score, search_volume, competition_difficulty,
    current_position, metadata, status, discovered_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
ON CONFLICT(query) DO NOTHING`,
			u.Query, string(lifecycle.TypeNewContent), u.Score, nullInt(u.SearchVolume),
			nullString(string(u.Competition)), nullInt(u.CurrentPosition), meta, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting opportunity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = true
			return nil
		}

		existingType := u.ExistingType
		if existingType == "" {
			existingType = lifecycle.TypeOptimizeExisting
		}
		_, err = tx.Exec(`
UPDATE opportunities
SET opportunity_type = ?, score = ?, search_volume = ?, competition_difficulty = ?,
    current_position = ?, metadata = ?, updated_at = ?
WHERE query = ?`,
			string(existingType), u.Score, nullInt(u.SearchVolume), nullString(string(u.Competition)),
			nullInt(u.CurrentPosition), meta, now, u.Query,
		)
		if err != nil {
			return fmt.Errorf("updating opportunity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	opp, err = db.GetOpportunityByQuery(u.Query)
	if err != nil {
		return nil, false, err
	}
	return opp, created, nil
}

// GetOpportunity returns a single opportunity by ID, or nil if absent.
func (db *DB) GetOpportunity(id int64) (*Opportunity, error) {
	return db.getOpportunity(db.conn, "SELECT "+opportunityColumns+" FROM opportunities WHERE id = ?", id)
}

// GetOpportunityByQuery returns the opportunity for a query, or nil if absent.
func (db *DB) GetOpportunityByQuery(query string) (*Opportunity, error) {
	return db.getOpportunity(db.conn, "SELECT "+opportunityColumns+" FROM opportunities WHERE query = ?", query)
}

func (db *DB) getOpportunity(q querier, query string, args ...any) (*Opportunity, error) {
	o, err := scanOpportunity(q.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOpportunities returns opportunities ordered by score, highest first.
func (db *DB) ListOpportunities(f OpportunityFilter) ([]Opportunity, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.MinScore > 0 {
		where = append(where, "score >= ?")
		args = append(args, f.MinScore)
	}

	query := "SELECT " + opportunityColumns + " FROM opportunities"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY score DESC, discovered_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, *o)
	}
	return opps, rows.Err()
}

// TransitionOpportunity moves an opportunity from one status to another.
// The update only applies while the row still holds the expected status.
func (db *DB) TransitionOpportunity(id int64, from, to lifecycle.OpportunityStatus) error {
	return transitionOpportunity(db.conn, id, from, to)
}

// MoveOpportunity moves an opportunity from its current status to another,
// validating the transition against the lifecycle.
func (db *DB) MoveOpportunity(id int64, to lifecycle.OpportunityStatus) error {
	var current string
	err := db.conn.QueryRow("SELECT status FROM opportunities WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return transitionOpportunity(db.conn, id, lifecycle.OpportunityStatus(current), to)
}

func transitionOpportunity(q querier, id int64, from, to lifecycle.OpportunityStatus) error {
	if err := lifecycle.CheckOpportunity(from, to); err != nil {
		return err
	}
	res, err := q.Exec(
		"UPDATE opportunities SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), formatTime(time.Now()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating opportunity status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current string
	err = q.QueryRow("SELECT status FROM opportunities WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("opportunity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return &lifecycle.TransitionError{Entity: "opportunity", From: current, To: string(to)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (*Opportunity, error) {
	var o Opportunity
	var oppType, status, discovered, updated string
	var volume, position sql.NullInt64
	var competition, meta *string
	if err := row.Scan(&o.ID, &o.Query, &oppType, &o.Score, &volume, &competition,
		&position, &meta, &status, &discovered, &updated); err != nil {
		return nil, err
	}
	o.Type = lifecycle.OpportunityType(oppType)
	o.Status = lifecycle.OpportunityStatus(status)
	o.SearchVolume = intPtr(volume)
	o.CurrentPosition = intPtr(position)
	if competition != nil {
		o.Competition = scoring.Competition(*competition)
	}
	fromJSON(meta, &o.Metadata)
	o.DiscoveredAt = parseTime(discovered)
	o.UpdatedAt = parseTime(updated)
	return &o, nil
}
