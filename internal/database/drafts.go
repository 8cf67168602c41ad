package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
)

const draftColumns = `id, brief_id, content_type, title, body, meta_title, meta_description,
    target_keywords, related_product_ids, quality_score, review_notes, reviewer_model,
    generation_cost, status, created_at, updated_at`

// InsertDraft stores a new draft in pending_review. The quality score and
// product references are validated before anything is written.
func (db *DB) InsertDraft(d *ContentDraft) (int64, error) {
	keywords, err := toJSON(nonNil(d.TargetKeywords))
	if err != nil {
		return 0, err
	}
	products, err := toJSON(nonNil(d.RelatedProductIDs))
	if err != nil {
		return 0, err
	}
	notes, err := toJSON(d.ReviewNotes)
	if err != nil {
		return 0, err
	}
	status := d.Status
	if status == "" {
		status = lifecycle.DraftPendingReview
	}

	var id int64
	err = db.withTx(func(tx *sql.Tx) error {
		if err := validateDraft(tx, d.QualityScore, d.RelatedProductIDs); err != nil {
			return err
		}
		now := formatTime(time.Now())
		res, err := tx.Exec(`
INSERT INTO content_drafts (brief_id, content_type, title, body, meta_title, meta_description,
    target_keywords, related_product_ids, quality_score, review_notes, reviewer_model,
    generation_cost, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.BriefID, d.ContentType, d.Title, d.Body, nullString(d.MetaTitle), nullString(d.MetaDescription),
			keywords, products, nullInt(d.QualityScore), notes, nullString(d.ReviewerModel),
			d.GenerationCost, string(status), now, now,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("draft for brief %d: %w", d.BriefID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("inserting draft: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UpdateDraftReview merges review results into a draft.
func (db *DB) UpdateDraftReview(id int64, score int, notes map[string]any, reviewerModel string) error {
	notesJSON, err := toJSON(notes)
	if err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		d, err := getDraft(tx, "SELECT "+draftColumns+" FROM content_drafts WHERE id = ?", id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("draft %d: %w", id, ErrNotFound)
		}
		if err := validateDraft(tx, &score, d.RelatedProductIDs); err != nil {
			return err
		}
		_, err = tx.Exec(`
UPDATE content_drafts SET quality_score = ?, review_notes = ?, reviewer_model = ?, updated_at = ?
WHERE id = ?`,
			score, notesJSON, nullString(reviewerModel), formatTime(time.Now()), id,
		)
		if isCheckViolation(err) {
			return fmt.Errorf("draft %d score %d: %w", id, score, ErrQualityTooLow)
		}
		if err != nil {
			return fmt.Errorf("updating draft review: %w", err)
		}
		return nil
	})
}

// GetDraft returns a draft by ID, or nil if absent.
func (db *DB) GetDraft(id int64) (*ContentDraft, error) {
	return getDraft(db.conn, "SELECT "+draftColumns+" FROM content_drafts WHERE id = ?", id)
}

// GetDraftByBrief returns the draft written from a brief, or nil.
func (db *DB) GetDraftByBrief(briefID int64) (*ContentDraft, error) {
	return getDraft(db.conn, "SELECT "+draftColumns+" FROM content_drafts WHERE brief_id = ?", briefID)
}

// ListDrafts returns drafts, newest first, optionally filtered by status.
func (db *DB) ListDrafts(status lifecycle.DraftStatus) ([]ContentDraft, error) {
	query := "SELECT " + draftColumns + " FROM content_drafts"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []ContentDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// OpportunityForDraft returns the opportunity that owns a draft's brief.
func (db *DB) OpportunityForDraft(draftID int64) (*Opportunity, error) {
	return db.getOpportunity(db.conn, `
SELECT o.id, o.query, o.opportunity_type, o.score, o.search_volume, o.competition_difficulty,
    o.current_position, o.metadata, o.status, o.discovered_at, o.updated_at
FROM opportunities o
JOIN content_briefs b ON b.opportunity_id = o.id
JOIN content_drafts d ON d.brief_id = b.id
WHERE d.id = ?`, draftID)
}

// RejectDraft marks a draft rejected and returns its opportunity to pending in
// one transaction. A dismissed opportunity stays dismissed.
func (db *DB) RejectDraft(draftID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		if err := transitionDraft(tx, draftID, lifecycle.DraftPendingReview, lifecycle.DraftRejected); err != nil {
			return err
		}

		var oppID int64
		var status string
		err := tx.QueryRow(`
SELECT o.id, o.status FROM opportunities o
JOIN content_briefs b ON b.opportunity_id = o.id
JOIN content_drafts d ON d.brief_id = b.id
WHERE d.id = ?`, draftID).Scan(&oppID, &status)
		if err != nil {
			return fmt.Errorf("loading opportunity for draft %d: %w", draftID, err)
		}

		current := lifecycle.OpportunityStatus(status)
		if current == lifecycle.OpportunityPending || current == lifecycle.OpportunityDismissed {
			return nil
		}
		return transitionOpportunity(tx, oppID, current, lifecycle.OpportunityPending)
	})
}

// PublishDraft approves a reviewed draft and creates its content item in one
// transaction. item.Slug is the base slug; a numeric suffix is appended when it
// is taken. Content fields are copied from the draft.
func (db *DB) PublishDraft(draftID int64, item ContentItem) (*ContentItem, error) {
	var itemID int64
	err := db.withTx(func(tx *sql.Tx) error {
		d, err := getDraft(tx, "SELECT "+draftColumns+" FROM content_drafts WHERE id = ?", draftID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("draft %d: %w", draftID, ErrNotFound)
		}
		if !d.Status.Approvable() {
			return &lifecycle.TransitionError{Entity: "draft", From: string(d.Status), To: string(lifecycle.DraftPublished)}
		}
		if d.QualityScore == nil {
			return fmt.Errorf("draft %d has not been reviewed: %w", draftID, ErrQualityTooLow)
		}
		if err := validateDraft(tx, d.QualityScore, d.RelatedProductIDs); err != nil {
			return err
		}

		if d.Status == lifecycle.DraftPendingReview {
			if err := transitionDraft(tx, draftID, lifecycle.DraftPendingReview, lifecycle.DraftApproved); err != nil {
				return err
			}
		}

		slug, err := uniqueSlug(tx, item.Slug)
		if err != nil {
			return err
		}
		keywords, err := toJSON(nonNil(d.TargetKeywords))
		if err != nil {
			return err
		}
		products, err := toJSON(nonNil(d.RelatedProductIDs))
		if err != nil {
			return err
		}
		publishedAt := item.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = time.Now()
		}

		res, err := tx.Exec(`
INSERT INTO content_items (draft_id, slug, title, body, body_html, excerpt, meta_title,
    meta_description, target_keywords, related_product_ids, word_count, author_credit, published_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			draftID, slug, d.Title, d.Body, nullString(item.BodyHTML), nullString(item.Excerpt),
			nullString(d.MetaTitle), nullString(d.MetaDescription), keywords, products,
			item.WordCount, nullString(item.AuthorCredit), formatTime(publishedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("content item for draft %d: %w", draftID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("inserting content item: %w", err)
		}
		if itemID, err = res.LastInsertId(); err != nil {
			return err
		}

		return transitionDraft(tx, draftID, lifecycle.DraftApproved, lifecycle.DraftPublished)
	})
	if err != nil {
		return nil, err
	}
	return db.GetItem(itemID)
}

// uniqueSlug returns base, or base-1, base-2, ... for the first unused slug.
func uniqueSlug(q querier, base string) (string, error) {
	base = strings.Trim(base, "-")
	if base == "" {
		base = "article"
	}
	candidate := base
	for i := 1; ; i++ {
		var exists int
		err := q.QueryRow("SELECT COUNT(*) FROM content_items WHERE slug = ?", candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("checking slug: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func transitionDraft(q querier, id int64, from, to lifecycle.DraftStatus) error {
	if err := lifecycle.CheckDraft(from, to); err != nil {
		return err
	}
	res, err := q.Exec(
		"UPDATE content_drafts SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), formatTime(time.Now()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating draft status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current string
	err = q.QueryRow("SELECT status FROM content_drafts WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("draft %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return &lifecycle.TransitionError{Entity: "draft", From: current, To: string(to)}
}

// validateDraft enforces the save-time invariants shared by every draft write.
func validateDraft(q querier, score *int, productIDs []string) error {
	if score != nil && *score < lifecycle.MinQualityScore {
		return fmt.Errorf("score %d (minimum %d): %w", *score, lifecycle.MinQualityScore, ErrQualityTooLow)
	}
	return checkProducts(q, productIDs)
}

func getDraft(q querier, query string, args ...any) (*ContentDraft, error) {
	d, err := scanDraft(q.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanDraft(row rowScanner) (*ContentDraft, error) {
	var d ContentDraft
	var metaTitle, metaDesc, keywords, products, notes, reviewer *string
	var score sql.NullInt64
	var status, created, updated string
	if err := row.Scan(&d.ID, &d.BriefID, &d.ContentType, &d.Title, &d.Body, &metaTitle, &metaDesc,
		&keywords, &products, &score, &notes, &reviewer, &d.GenerationCost, &status,
		&created, &updated); err != nil {
		return nil, err
	}
	if metaTitle != nil {
		d.MetaTitle = *metaTitle
	}
	if metaDesc != nil {
		d.MetaDescription = *metaDesc
	}
	if reviewer != nil {
		d.ReviewerModel = *reviewer
	}
	fromJSON(keywords, &d.TargetKeywords)
	fromJSON(products, &d.RelatedProductIDs)
	fromJSON(notes, &d.ReviewNotes)
	d.QualityScore = intPtr(score)
	d.Status = lifecycle.DraftStatus(status)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
