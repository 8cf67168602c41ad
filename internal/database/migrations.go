package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS opportunities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query TEXT UNIQUE NOT NULL,
    opportunity_type TEXT NOT NULL
        CHECK(opportunity_type IN ('new_content', 'optimize_existing', 'quick_win')),
    score INTEGER NOT NULL DEFAULT 0 CHECK(score BETWEEN 0 AND 100),
    search_volume INTEGER CHECK(search_volume IS NULL OR search_volume >= 0),
    competition_difficulty TEXT
        CHECK(competition_difficulty IS NULL OR competition_difficulty IN ('low', 'medium', 'high')),
    current_position INTEGER CHECK(current_position IS NULL OR current_position >= 0),
    metadata TEXT,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'in_progress', 'completed', 'dismissed')),
    discovered_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS content_briefs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    opportunity_id INTEGER UNIQUE NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
    target_keyword TEXT NOT NULL,
    search_intent TEXT,
    suggested_structure TEXT NOT NULL,
    internal_links TEXT,
    research_data TEXT,
    created_by_model TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS content_drafts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    brief_id INTEGER UNIQUE NOT NULL REFERENCES content_briefs(id) ON DELETE CASCADE,
    content_type TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    meta_title TEXT,
    meta_description TEXT,
    target_keywords TEXT,
    related_product_ids TEXT,
    quality_score INTEGER CHECK(quality_score IS NULL OR quality_score >= 50),
    review_notes TEXT,
    reviewer_model TEXT,
    generation_cost REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending_review'
        CHECK(status IN ('pending_review', 'approved', 'rejected', 'published')),
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS content_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    draft_id INTEGER UNIQUE NOT NULL REFERENCES content_drafts(id),
    slug TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    body_html TEXT,
    excerpt TEXT,
    meta_title TEXT,
    meta_description TEXT,
    target_keywords TEXT,
    related_product_ids TEXT,
    word_count INTEGER NOT NULL DEFAULT 0,
    author_credit TEXT,
    published_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS performance_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_item_id INTEGER REFERENCES content_items(id) ON DELETE CASCADE,
    period_start TEXT NOT NULL,
    period_end TEXT NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0 CHECK(impressions >= 0),
    clicks INTEGER NOT NULL DEFAULT 0 CHECK(clicks >= 0),
    avg_position REAL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    CHECK(period_start < period_end)
);

CREATE TABLE IF NOT EXISTS budget_periods (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    month TEXT UNIQUE NOT NULL,
    gsc_requests INTEGER NOT NULL DEFAULT 0,
    serpapi_requests INTEGER NOT NULL DEFAULT 0,
    llm_requests INTEGER NOT NULL DEFAULT 0,
    gsc_cost REAL NOT NULL DEFAULT 0,
    serpapi_cost REAL NOT NULL DEFAULT 0,
    llm_cost REAL NOT NULL DEFAULT 0,
    content_pieces_generated INTEGER NOT NULL DEFAULT 0,
    total_cost REAL GENERATED ALWAYS AS (gsc_cost + serpapi_cost + llm_cost) VIRTUAL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_score ON opportunities(score);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON content_drafts(status);
CREATE INDEX IF NOT EXISTS idx_items_published ON content_items(published_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_period
    ON performance_snapshots(COALESCE(content_item_id, 0), period_start);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "budget event ledger",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS budget_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    service TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    occurred_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budget_events_service ON budget_events(service, occurred_at);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "task queue",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload TEXT,
    run_at TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    status TEXT NOT NULL DEFAULT 'queued'
        CHECK(status IN ('queued', 'running', 'done', 'dead')),
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, run_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
