package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MaintenanceRun is one recorded reconstruction pass.
type MaintenanceRun struct {
	ID            int64
	TriggerKind   string // "scheduled" or "manual"
	StartedAt     int64
	FinishedAt    *int64
	Status        string // running, success, failed
	Total         int
	Rewritten     int
	Deleted       int
	Archived      int
	Failed        int
	AvgConfidence float64
	DeletionRate  float64
}

// AuditEntry is one recorded deletion with its verdict reason.
type AuditEntry struct {
	ID        int64
	RunID     int64
	MemoryID  string
	Reason    string
	Content   string
	DeletedAt int64
}

// BeginRun records the start of a maintenance pass and returns its run ID.
func (db *DB) BeginRun(triggerKind string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO maintenance_runs (trigger_kind, started_at, status)
		VALUES (?, ?, 'running')
	`, triggerKind, now)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// FinishRun records the outcome of a maintenance pass.
func (db *DB) FinishRun(run *MaintenanceRun) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE maintenance_runs
		SET finished_at = ?, status = ?, total = ?, rewritten = ?, deleted = ?,
			archived = ?, failed = ?, avg_confidence = ?, deletion_rate = ?
		WHERE id = ?
	`, now, run.Status, run.Total, run.Rewritten, run.Deleted,
		run.Archived, run.Failed, run.AvgConfidence, run.DeletionRate, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", run.ID, err)
	}
	run.FinishedAt = &now
	return nil
}

// RecordDeletion appends a deletion to the audit trail. Every delete a pass
// commits must land here with a non-empty reason.
func (db *DB) RecordDeletion(runID int64, memoryID, reason, content string) error {
	if reason == "" {
		return fmt.Errorf("record deletion %s: empty reason", memoryID)
	}
	// Keep a short prefix of the content for the audit trail. Truncate on a
	// rune boundary so multi-byte content stays valid UTF-8.
	if runes := []rune(content); len(runes) > 200 {
		content = string(runes[:200])
	}
	_, err := db.Exec(`
		INSERT INTO deletion_audit (run_id, memory_id, reason, content, deleted_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, memoryID, reason, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record deletion %s: %w", memoryID, err)
	}
	return nil
}

// RunsSince returns runs that started at or after the given time, oldest first.
func (db *DB) RunsSince(since time.Time) ([]MaintenanceRun, error) {
	rows, err := db.Query(`
		SELECT id, trigger_kind, started_at, finished_at, status, total, rewritten,
			deleted, archived, failed, avg_confidence, deletion_rate
		FROM maintenance_runs WHERE started_at >= ?
		ORDER BY started_at ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("runs since: %w", err)
	}
	defer rows.Close()

	var runs []MaintenanceRun
	for rows.Next() {
		var r MaintenanceRun
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.TriggerKind, &r.StartedAt, &finished, &r.Status,
			&r.Total, &r.Rewritten, &r.Deleted, &r.Archived, &r.Failed,
			&r.AvgConfidence, &r.DeletionRate); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Int64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AuditForRun returns the deletion audit entries for one run, in order.
func (db *DB) AuditForRun(runID int64) ([]AuditEntry, error) {
	rows, err := db.Query(`
		SELECT id, run_id, memory_id, reason, content, deleted_at
		FROM deletion_audit WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit for run %d: %w", runID, err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var content sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.MemoryID, &e.Reason, &content, &e.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Content = content.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
