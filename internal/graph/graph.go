// Package graph maintains the derived concept index: deduplicated concept
// nodes built from memory records. The index is rebuildable at any time and
// is allowed to lag the primary store between rebuilds.
package graph

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/model"
	"github.com/pmorton/custodian/internal/store"
)

// Embedder is the minimal encoding contract the index needs during rebuild.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Node is one concept node in the index.
type Node struct {
	ID        int64
	Concept   string
	Content   string
	Weight    int
	CreatedAt int64
	UpdatedAt int64
}

// RebuildStats summarizes an index rebuild.
type RebuildStats struct {
	TotalNodes int
	Merged     int
}

// Index is the sqlite-backed concept index.
type Index struct {
	db *store.DB
}

// NewIndex creates an index over the given database.
func NewIndex(db *store.DB) *Index {
	return &Index{db: db}
}

// mergeThreshold is the cosine similarity above which two concept nodes
// are considered the same concept during rebuild.
const mergeThreshold = 0.92

// RemoveByContent deletes the node whose content matches the given text,
// by exact or near-identical match. Returns false when no node matches;
// the index and primary store are eventually, not strictly, consistent.
func (ix *Index) RemoveByContent(content string) (bool, error) {
	nodes, err := ix.allNodes()
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if textNearIdentical(n.Content, content) {
			if _, err := ix.db.Exec("DELETE FROM graph_nodes WHERE id = ?", n.ID); err != nil {
				return false, fmt.Errorf("delete graph node %d: %w", n.ID, err)
			}
			return true, nil
		}
	}
	return false, nil
}

// Rebuild reconstructs the whole index from the given records. Each active
// record contributes one concept node; near-duplicate nodes are merged by
// bigram overlap, or by embedding similarity when a stored vector or an
// embedder is available.
func (ix *Index) Rebuild(ctx context.Context, memories []model.Memory, emb Embedder) (RebuildStats, error) {
	var stats RebuildStats

	if _, err := ix.db.Exec("DELETE FROM graph_nodes"); err != nil {
		return stats, fmt.Errorf("clear graph nodes: %w", err)
	}

	type candidate struct {
		node Node
		vec  []float64
	}
	var accepted []candidate

	for i := range memories {
		m := &memories[i]
		if m.Status != model.StatusActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		cand := candidate{node: Node{
			Concept: conceptFor(m),
			Content: m.Content,
			Weight:  1,
		}}

		// A stored vector spares re-embedding; fresh records fall back to
		// the embedder, then to text match.
		if vec := ix.storedVector(m.ID); vec != nil {
			cand.vec = vec
		} else if emb != nil {
			vec, err := emb.Embed(ctx, m.Content)
			if err != nil {
				log.Debug().Err(err).Str("memory", m.ID).Msg("graph: embed during rebuild failed, falling back to text match")
			} else {
				cand.vec = vec
			}
		}

		merged := false
		for j := range accepted {
			other := &accepted[j]
			if textNearIdentical(other.node.Content, cand.node.Content) ||
				(cand.vec != nil && other.vec != nil && cosine(cand.vec, other.vec) >= mergeThreshold) {
				other.node.Weight++
				merged = true
				stats.Merged++
				break
			}
		}
		if !merged {
			accepted = append(accepted, cand)
		}
	}

	now := time.Now().UnixMilli()
	for _, c := range accepted {
		if _, err := ix.db.Exec(`
			INSERT INTO graph_nodes (concept, content, weight, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, c.node.Concept, c.node.Content, c.node.Weight, now, now); err != nil {
			return stats, fmt.Errorf("insert graph node: %w", err)
		}
	}

	stats.TotalNodes = len(accepted)
	return stats, nil
}

// storedVector returns a record's persisted embedding, or nil when none is
// stored or the lookup fails.
func (ix *Index) storedVector(memoryID string) []float64 {
	rec, err := ix.db.GetVector(memoryID)
	if err != nil || rec == nil {
		return nil
	}
	return rec.Embedding
}

// Count returns the number of nodes in the index.
func (ix *Index) Count() (int, error) {
	var n int
	err := ix.db.QueryRow("SELECT COUNT(*) FROM graph_nodes").Scan(&n)
	return n, err
}

// AddNode inserts a single concept node directly. Used by tests and by
// incremental updates outside a full rebuild.
func (ix *Index) AddNode(concept, content string) error {
	now := time.Now().UnixMilli()
	_, err := ix.db.Exec(`
		INSERT INTO graph_nodes (concept, content, weight, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
	`, concept, content, now, now)
	if err != nil {
		return fmt.Errorf("add graph node: %w", err)
	}
	return nil
}

func (ix *Index) allNodes() ([]Node, error) {
	rows, err := ix.db.Query(`
		SELECT id, concept, content, weight, created_at, updated_at FROM graph_nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("list graph nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Concept, &n.Content, &n.Weight, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan graph node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// conceptFor picks the concept label for a record: its topic when set,
// otherwise the longest token of its content.
func conceptFor(m *model.Memory) string {
	if m.Topic != "" {
		return m.Topic
	}
	longest := ""
	for _, tok := range strings.Fields(m.Content) {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	if longest == "" {
		return "untitled"
	}
	return longest
}

// textNearIdentical returns true if two strings are near-identical by
// shared-bigram Jaccard ratio. Cheap on purpose: no embeddings needed for
// the content-match path.
func textNearIdentical(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return a == b
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}

	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return true
	}

	similarity := float64(shared) / float64(union) // Jaccard index
	return similarity > 0.95
}

// bigrams works on runes so CJK content compares correctly.
func bigrams(s string) map[string]bool {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	m := make(map[string]bool, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		m[string(runes[i:i+2])] = true
	}
	return m
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
