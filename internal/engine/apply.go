package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/model"
)

// MemoryStore is the store contract the applier mutates through.
type MemoryStore interface {
	GetMemory(id string) (*model.Memory, error)
	UpdateContent(id, content string) error
	UpdateStatus(id string, next model.Status, reason string) error
	SetWorldview(id, version string) error
	DeleteMemory(id string) error
	RecordDeletion(runID int64, memoryID, reason, content string) error
}

// GraphIndex is the derived-index contract: best-effort removal by content
// match. The primary store and the index are eventually consistent; a miss
// is logged, never fatal.
type GraphIndex interface {
	RemoveByContent(content string) (bool, error)
}

// ApplyResult reports applied-vs-attempted counts for one committed plan.
// Per-record failures are logged and skipped; the batch never aborts.
type ApplyResult struct {
	RewritesApplied    int
	RewritesAttempted  int
	ArchivesApplied    int
	ArchivesAttempted  int
	DeletionsApplied   int
	DeletionsAttempted int
	GraphRemoved       int
	Failed             int
	DeletionReasons    []string // ordered, the audit contract
}

// LifecycleApplier commits a reconciliation plan to the store and the
// derived graph index. It is the only maintenance-path writer of record
// lifecycle state.
type LifecycleApplier struct {
	store MemoryStore
	graph GraphIndex
}

// NewLifecycleApplier wires an applier over the store and graph index.
func NewLifecycleApplier(store MemoryStore, graph GraphIndex) *LifecycleApplier {
	return &LifecycleApplier{store: store, graph: graph}
}

// Apply commits the plan: rewrites in place, archives, then deletions.
// Each deletion is retired first (audit trail), removed from the primary
// store, and best-effort removed from the graph index. runID ties audit
// entries to the maintenance run. Cancellation stops the commit; every plan
// entry not yet attempted counts toward Failed.
func (a *LifecycleApplier) Apply(ctx context.Context, runID int64, plan *model.ReconciliationPlan) *ApplyResult {
	res := &ApplyResult{}
	version := fmt.Sprintf("run-%d", runID)

	for i, rw := range plan.Rewrites {
		if ctx.Err() != nil {
			skipped := len(plan.Rewrites) - i + len(plan.Archives) + len(plan.Deletions)
			res.Failed += skipped
			log.Info().Int("skipped", skipped).Msg("apply cancelled during rewrites")
			return res
		}
		res.RewritesAttempted++
		if err := a.store.UpdateContent(rw.ID, rw.NewContent); err != nil {
			log.Error().Err(err).Str("memory", rw.ID).Msg("apply: rewrite failed, skipping")
			res.Failed++
			continue
		}
		a.stampWorldview(rw.ID, version)
		res.RewritesApplied++
	}

	for i, ar := range plan.Archives {
		if ctx.Err() != nil {
			skipped := len(plan.Archives) - i + len(plan.Deletions)
			res.Failed += skipped
			log.Info().Int("skipped", skipped).Msg("apply cancelled during archives")
			return res
		}
		res.ArchivesAttempted++
		if err := a.store.UpdateStatus(ar.ID, model.StatusArchived, ar.Reason); err != nil {
			log.Error().Err(err).Str("memory", ar.ID).Msg("apply: archive failed, skipping")
			res.Failed++
			continue
		}
		a.stampWorldview(ar.ID, version)
		res.ArchivesApplied++
	}

	for i, del := range plan.Deletions {
		if ctx.Err() != nil {
			skipped := len(plan.Deletions) - i
			res.Failed += skipped
			log.Info().Int("skipped", skipped).Msg("apply cancelled during deletions")
			return res
		}
		res.DeletionsAttempted++
		graphRemoved, err := a.applyDeletion(runID, del)
		if err != nil {
			log.Error().Err(err).Str("memory", del.ID).Msg("apply: deletion failed, skipping")
			res.Failed++
			continue
		}
		res.DeletionsApplied++
		res.DeletionReasons = append(res.DeletionReasons, del.Reason)
		if graphRemoved {
			res.GraphRemoved++
		}
	}

	log.Info().
		Int("rewrites", res.RewritesApplied).
		Int("archives", res.ArchivesApplied).
		Int("deletions", res.DeletionsApplied).
		Int("failed", res.Failed).
		Msg("plan applied")
	return res
}

// stampWorldview records which maintenance generation last touched a
// surviving record. Best effort: the lifecycle change already committed.
func (a *LifecycleApplier) stampWorldview(id, version string) {
	if err := a.store.SetWorldview(id, version); err != nil {
		log.Warn().Err(err).Str("memory", id).Msg("apply: worldview stamp failed")
	}
}

// applyDeletion retires, audits, and removes one record, then best-effort
// drops the matching graph node.
func (a *LifecycleApplier) applyDeletion(runID int64, del model.Deletion) (bool, error) {
	m, err := a.store.GetMemory(del.ID)
	if err != nil {
		return false, err
	}
	if m == nil {
		log.Warn().Str("memory", del.ID).Msg("apply: deletion target already gone")
		return false, nil
	}

	// Retire before removal so the audit trail always precedes the delete.
	if m.Status.CanTransition(model.StatusRetired) {
		if err := a.store.UpdateStatus(del.ID, model.StatusRetired, del.Reason); err != nil {
			return false, err
		}
	}
	if err := a.store.RecordDeletion(runID, del.ID, del.Reason, m.Content); err != nil {
		return false, err
	}
	if err := a.store.DeleteMemory(del.ID); err != nil {
		return false, err
	}

	if a.graph == nil {
		return false, nil
	}
	removed, err := a.graph.RemoveByContent(m.Content)
	if err != nil {
		log.Error().Err(err).Str("memory", del.ID).Msg("apply: graph removal errored, continuing")
		return false, nil
	}
	if !removed {
		log.Debug().Str("memory", del.ID).Msg("apply: no matching graph node, continuing")
	}
	return removed, nil
}
