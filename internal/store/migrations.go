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
		Description: "memories: free-text memory records with lifecycle status",
		SQL: `
CREATE TABLE memories (
    id                TEXT PRIMARY KEY,
    content           TEXT NOT NULL,
    topic             TEXT,
    source_type       TEXT,
    ts                INTEGER NOT NULL,
    importance        REAL NOT NULL DEFAULT 0.5,
    confidence        REAL NOT NULL DEFAULT 0.5,
    tags              TEXT,
    status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'retired')),
    worldview_version TEXT,
    retire_reason     TEXT,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX idx_memories_status ON memories(status);
CREATE INDEX idx_memories_topic  ON memories(topic);
CREATE INDEX idx_memories_ts     ON memories(ts DESC);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: embedding vectors per record",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "graph_nodes: derived concept index built from records",
		SQL: `
CREATE TABLE graph_nodes (
    id         INTEGER PRIMARY KEY,
    concept    TEXT NOT NULL,
    content    TEXT NOT NULL,
    weight     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX idx_graph_concept ON graph_nodes(concept);
`,
	},
	{
		Version:     4,
		Description: "maintenance_runs + deletion_audit: run history and delete reasons",
		SQL: `
CREATE TABLE maintenance_runs (
    id             INTEGER PRIMARY KEY,
    trigger_kind   TEXT NOT NULL CHECK (trigger_kind IN ('scheduled', 'manual')),
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER,
    status         TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'success', 'failed')),
    total          INTEGER NOT NULL DEFAULT 0,
    rewritten      INTEGER NOT NULL DEFAULT 0,
    deleted        INTEGER NOT NULL DEFAULT 0,
    archived       INTEGER NOT NULL DEFAULT 0,
    failed         INTEGER NOT NULL DEFAULT 0,
    avg_confidence REAL NOT NULL DEFAULT 0,
    deletion_rate  REAL NOT NULL DEFAULT 0
);

CREATE INDEX idx_runs_started ON maintenance_runs(started_at DESC);

CREATE TABLE deletion_audit (
    id         INTEGER PRIMARY KEY,
    run_id     INTEGER,
    memory_id  TEXT NOT NULL,
    reason     TEXT NOT NULL,
    content    TEXT,
    deleted_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES maintenance_runs(id)
);

CREATE INDEX idx_audit_run ON deletion_audit(run_id);
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
