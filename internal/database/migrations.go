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
CREATE TABLE IF NOT EXISTS feedback_items (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL,
    text TEXT NOT NULL,
    author_id TEXT,
    channel TEXT,
    url TEXT,
    metadata TEXT,
    created_at TEXT,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_feedback_product ON feedback_items(product_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_url ON feedback_items(url) WHERE url IS NOT NULL AND url != '';

CREATE TABLE IF NOT EXISTS areas (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    keywords TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_areas_product ON areas(product_id);

CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL,
    state TEXT NOT NULL,
    feedback_count INTEGER DEFAULT 0,
    enriched_count INTEGER DEFAULT 0,
    cluster_count INTEGER DEFAULT 0,
    insight_count INTEGER DEFAULT 0,
    fallback_count INTEGER DEFAULT 0,
    error TEXT,
    started_at TEXT DEFAULT (datetime('now')),
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
    type TEXT NOT NULL,
    stage TEXT,
    payload TEXT,
    occurred_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run ON pipeline_events(run_id);

CREATE TABLE IF NOT EXISTS clusters (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
    theme TEXT NOT NULL,
    size INTEGER DEFAULT 0,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clusters_run ON clusters(run_id);

CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
    cluster_id TEXT REFERENCES clusters(id),
    title TEXT NOT NULL,
    severity TEXT,
    confidence REAL DEFAULT 0,
    fallback INTEGER DEFAULT 0,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
`)
			return err
		},
	},
}

// latestVersion returns the version number of the newest migration.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
