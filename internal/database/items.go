package database

import (
	"database/sql"
	"time"
)

const itemColumns = `id, draft_id, slug, title, body, body_html, excerpt, meta_title, meta_description,
    target_keywords, related_product_ids, word_count, author_credit, published_at`

// GetItem returns a content item by ID, or nil if absent.
func (db *DB) GetItem(id int64) (*ContentItem, error) {
	return db.getItem("SELECT "+itemColumns+" FROM content_items WHERE id = ?", id)
}

// GetItemBySlug returns the content item with the given slug, or nil.
func (db *DB) GetItemBySlug(slug string) (*ContentItem, error) {
	return db.getItem("SELECT "+itemColumns+" FROM content_items WHERE slug = ?", slug)
}

// GetItemByDraft returns the content item published from a draft, or nil.
func (db *DB) GetItemByDraft(draftID int64) (*ContentItem, error) {
	return db.getItem("SELECT "+itemColumns+" FROM content_items WHERE draft_id = ?", draftID)
}

// ListItems returns published items, newest first. A limit of 0 returns all.
func (db *DB) ListItems(limit int) ([]ContentItem, error) {
	query := "SELECT " + itemColumns + " FROM content_items ORDER BY published_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return db.queryItems(query, args...)
}

// ListItemsPublishedBefore returns items published strictly before t.
func (db *DB) ListItemsPublishedBefore(t time.Time) ([]ContentItem, error) {
	return db.queryItems(
		"SELECT "+itemColumns+" FROM content_items WHERE published_at < ? ORDER BY published_at",
		formatTime(t),
	)
}

func (db *DB) getItem(query string, args ...any) (*ContentItem, error) {
	item, err := scanItem(db.conn.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (db *DB) queryItems(query string, args ...any) ([]ContentItem, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*ContentItem, error) {
	var it ContentItem
	var html, excerpt, metaTitle, metaDesc, keywords, products, author *string
	var published string
	if err := row.Scan(&it.ID, &it.DraftID, &it.Slug, &it.Title, &it.Body, &html, &excerpt,
		&metaTitle, &metaDesc, &keywords, &products, &it.WordCount, &author, &published); err != nil {
		return nil, err
	}
	it.BodyHTML = deref(html)
	it.Excerpt = deref(excerpt)
	it.MetaTitle = deref(metaTitle)
	it.MetaDescription = deref(metaDesc)
	it.AuthorCredit = deref(author)
	fromJSON(keywords, &it.TargetKeywords)
	fromJSON(products, &it.RelatedProductIDs)
	it.PublishedAt = parseTime(published)
	return &it, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
