package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "candidates: wallpaper catalog with precomputed features",
		SQL: `
CREATE TABLE candidates (
    id             TEXT PRIMARY KEY,
    embedding      BLOB NOT NULL,
    dimensions     INTEGER NOT NULL,
    colors         TEXT NOT NULL DEFAULT '[]',
    category       TEXT NOT NULL,
    brightness     INTEGER NOT NULL DEFAULT 50 CHECK (brightness BETWEEN 0 AND 100),
    contrast       INTEGER NOT NULL DEFAULT 50 CHECK (contrast BETWEEN 0 AND 100),

    -- Composition features, NULL when the extractor did not produce them
    symmetry       REAL,
    rule_of_thirds REAL,
    center_weight  REAL,
    edge_density   REAL,
    complexity     REAL,

    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_candidates_category ON candidates(category);
`,
	},
	{
		Version:     2,
		Description: "preference_state: single learned state row, version-guarded",
		SQL: `
CREATE TABLE preference_state (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    vector             BLOB NOT NULL,
    momentum           BLOB NOT NULL,
    original_embedding BLOB NOT NULL,
    liked_ids          TEXT NOT NULL DEFAULT '[]',
    disliked_ids       TEXT NOT NULL DEFAULT '[]',
    feedback_count     INTEGER NOT NULL DEFAULT 0,
    epsilon            REAL NOT NULL,
    mode               TEXT NOT NULL CHECK (mode IN ('auto', 'personalized')),
    last_updated       INTEGER NOT NULL,
    version            INTEGER NOT NULL DEFAULT 0
);
`,
	},
	{
		Version:     3,
		Description: "trackers: per-category and per-color stats, composition profile",
		SQL: `
CREATE TABLE category_stats (
    name       TEXT PRIMARY KEY,
    likes      INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
    dislikes   INTEGER NOT NULL DEFAULT 0 CHECK (dislikes >= 0),
    views      INTEGER NOT NULL DEFAULT 0 CHECK (views >= 0),
    last_shown INTEGER
);

CREATE TABLE color_stats (
    hex        TEXT PRIMARY KEY,
    likes      INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
    dislikes   INTEGER NOT NULL DEFAULT 0 CHECK (dislikes >= 0),
    views      INTEGER NOT NULL DEFAULT 0 CHECK (views >= 0),
    last_shown INTEGER
);

CREATE TABLE composition_profile (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    avg_symmetry       REAL NOT NULL DEFAULT 0,
    avg_rule_of_thirds REAL NOT NULL DEFAULT 0,
    avg_center_weight  REAL NOT NULL DEFAULT 0,
    avg_edge_density   REAL NOT NULL DEFAULT 0,
    avg_complexity     REAL NOT NULL DEFAULT 0,
    prefers_symmetry   REAL NOT NULL DEFAULT 0,
    prefers_minimal    REAL NOT NULL DEFAULT 0,
    prefers_centered   REAL NOT NULL DEFAULT 0,
    prefers_detailed   REAL NOT NULL DEFAULT 0,
    sample_count       INTEGER NOT NULL DEFAULT 0
);
`,
	},
	{
		Version:     4,
		Description: "download_queue: bounded priority queue, rebuilt per ranking pass",
		SQL: `
CREATE TABLE download_queue (
    candidate_id TEXT PRIMARY KEY,
    priority     REAL NOT NULL,
    position     INTEGER NOT NULL,
    downloaded   INTEGER NOT NULL DEFAULT 0,
    retry_count  INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
    updated_at   INTEGER NOT NULL
);

CREATE INDEX idx_queue_position ON download_queue(position);
`,
	},
	{
		Version:     5,
		Description: "feedback_events: audit log of ingested feedback",
		SQL: `
CREATE TABLE feedback_events (
    id               TEXT PRIMARY KEY,
    candidate_id     TEXT NOT NULL,
    kind             TEXT NOT NULL CHECK (kind IN ('like', 'dislike', 'implicit')),
    duration_seconds INTEGER,
    created_at       INTEGER NOT NULL
);

CREATE INDEX idx_feedback_created ON feedback_events(created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
