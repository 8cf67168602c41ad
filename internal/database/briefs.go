package database

import (
	"database/sql"
	"fmt"
)

const briefColumns = `id, opportunity_id, target_keyword, search_intent, suggested_structure,
    internal_links, research_data, created_by_model, created_at`

// InsertBrief stores a brief. Each opportunity owns at most one brief.
func (db *DB) InsertBrief(b *ContentBrief) (int64, error) {
	structure, err := toJSON(b.Structure)
	if err != nil {
		return 0, err
	}
	links, err := toJSON(b.InternalLinks)
	if err != nil {
		return 0, err
	}
	research, err := toJSON(b.ResearchData)
	if err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(`
INSERT INTO content_briefs (opportunity_id, target_keyword, search_intent, suggested_structure,
    internal_links, research_data, created_by_model)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.OpportunityID, b.TargetKeyword, nullString(b.SearchIntent), structure, links, research,
		nullString(b.CreatedByModel),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("brief for opportunity %d: %w", b.OpportunityID, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("inserting brief: %w", err)
	}
	return result.LastInsertId()
}

// GetBrief returns a brief by ID, or nil if absent.
func (db *DB) GetBrief(id int64) (*ContentBrief, error) {
	return getBrief(db.conn, "SELECT "+briefColumns+" FROM content_briefs WHERE id = ?", id)
}

// GetBriefByOpportunity returns the brief owned by an opportunity, or nil.
func (db *DB) GetBriefByOpportunity(opportunityID int64) (*ContentBrief, error) {
	return getBrief(db.conn, "SELECT "+briefColumns+" FROM content_briefs WHERE opportunity_id = ?", opportunityID)
}

// DeleteBrief removes a brief and, through the cascade, its draft.
// Briefs whose draft has been published cannot be deleted.
func (db *DB) DeleteBrief(id int64) error {
	_, err := db.conn.Exec("DELETE FROM content_briefs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting brief %d: %w", id, err)
	}
	return nil
}

func getBrief(q querier, query string, args ...any) (*ContentBrief, error) {
	var b ContentBrief
	var intent, links, research, model *string
	var structure, created string
	err := q.QueryRow(query, args...).Scan(&b.ID, &b.OpportunityID, &b.TargetKeyword, &intent,
		&structure, &links, &research, &model, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if intent != nil {
		b.SearchIntent = *intent
	}
	if model != nil {
		b.CreatedByModel = *model
	}
	fromJSON(&structure, &b.Structure)
	fromJSON(links, &b.InternalLinks)
	fromJSON(research, &b.ResearchData)
	b.CreatedAt = parseTime(created)
	return &b, nil
}
