package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pmorton/custodian/internal/model"
)

// InsertMemory stores a new record. A missing ID gets a fresh ULID; a
// missing status defaults to active.
func (db *DB) InsertMemory(m *model.Memory) error {
	if m.ID == "" {
		m.ID = model.NewID()
	}
	if m.Status == "" {
		m.Status = model.StatusActive
	}
	if !model.ValidStatuses[m.Status] {
		return fmt.Errorf("insert memory: unknown status %q", m.Status)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	tags, err := encodeTags(m.Tags)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO memories (id, content, topic, source_type, ts, importance, confidence,
			tags, status, worldview_version, retire_reason, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)
	`, m.ID, m.Content, m.Topic, m.SourceType, m.Timestamp.UnixMilli(),
		m.Importance, m.Confidence, tags, string(m.Status),
		m.WorldviewVersion, m.RetireReason, now, now)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// GetMemory returns a record by ID, or nil if not found.
func (db *DB) GetMemory(id string) (*model.Memory, error) {
	row := db.QueryRow(`
		SELECT id, content, topic, source_type, ts, importance, confidence,
			tags, status, worldview_version, retire_reason, created_at, updated_at
		FROM memories WHERE id = ?
	`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// ListAll returns every non-retired record, newest first. This is the view
// a reconstruction pass sweeps; retired rows only exist transiently while a
// deletion is being committed.
func (db *DB) ListAll() ([]model.Memory, error) {
	rows, err := db.Query(`
		SELECT id, content, topic, source_type, ts, importance, confidence,
			tags, status, worldview_version, retire_reason, created_at, updated_at
		FROM memories WHERE status != 'retired'
		ORDER BY ts DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListByStatus returns records in the given lifecycle state, newest first.
func (db *DB) ListByStatus(status model.Status) ([]model.Memory, error) {
	rows, err := db.Query(`
		SELECT id, content, topic, source_type, ts, importance, confidence,
			tags, status, worldview_version, retire_reason, created_at, updated_at
		FROM memories WHERE status = ?
		ORDER BY ts DESC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// UpdateContent replaces a record's content in place. Status is untouched.
func (db *DB) UpdateContent(id, content string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE memories SET content = ?, updated_at = ? WHERE id = ?
	`, content, now, id)
	if err != nil {
		return fmt.Errorf("update content %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update content %s: no such memory", id)
	}
	return nil
}

// UpdateStatus moves a record to a new lifecycle state, validating the
// transition. Lifecycle only moves forward; an invalid move returns
// model.ErrInvalidTransition.
func (db *DB) UpdateStatus(id string, next model.Status, reason string) error {
	m, err := db.GetMemory(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("update status %s: no such memory", id)
	}

	if _, err := m.Status.Transition(next); err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}

	now := time.Now().UnixMilli()
	retireReason := ""
	if next == model.StatusRetired {
		retireReason = reason
	}
	_, err = db.Exec(`
		UPDATE memories SET status = ?, retire_reason = NULLIF(?, ''), updated_at = ?
		WHERE id = ?
	`, string(next), retireReason, now, id)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	return nil
}

// SetWorldview stamps the maintenance generation that last touched a record.
func (db *DB) SetWorldview(id, version string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE memories SET worldview_version = NULLIF(?, ''), updated_at = ? WHERE id = ?
	`, version, now, id)
	if err != nil {
		return fmt.Errorf("set worldview %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set worldview %s: no such memory", id)
	}
	return nil
}

// DeleteMemory removes a record and its vector.
func (db *DB) DeleteMemory(id string) error {
	if err := db.DeleteVector(id); err != nil {
		return fmt.Errorf("delete vector for %s: %w", id, err)
	}
	_, err := db.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// CountByStatus returns the number of records per lifecycle state.
func (db *DB) CountByStatus() (map[model.Status]int, error) {
	rows, err := db.Query("SELECT status, COUNT(*) FROM memories GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Status(s)] = n
	}
	return counts, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var status string
	var ts int64
	var topic, sourceType, tags, worldview, retireReason sql.NullString

	err := row.Scan(&m.ID, &m.Content, &topic, &sourceType, &ts,
		&m.Importance, &m.Confidence, &tags, &status,
		&worldview, &retireReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Topic = topic.String
	m.SourceType = sourceType.String
	m.Timestamp = time.UnixMilli(ts)
	m.Tags = decodeTags(tags.String)
	m.Status = model.Status(status)
	m.WorldviewVersion = worldview.String
	m.RetireReason = retireReason.String
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]model.Memory, error) {
	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}
