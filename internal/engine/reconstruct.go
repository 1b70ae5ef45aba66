package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/model"
)

// BatchReconstructor sweeps records through the verdict engine and
// produces a reconciliation plan. It never mutates storage; records are
// assessed independently, so ordering is irrelevant.
type BatchReconstructor struct {
	engine           *VerdictEngine
	batchSize        int
	archiveThreshold float64
}

// NewBatchReconstructor wires a reconstructor over a verdict engine.
// batchSize bounds the chunk between cancellation checks.
func NewBatchReconstructor(engine *VerdictEngine, batchSize int, archiveThreshold float64) *BatchReconstructor {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &BatchReconstructor{
		engine:           engine,
		batchSize:        batchSize,
		archiveThreshold: archiveThreshold,
	}
}

// ReconstructAll visits every record exactly once and returns the plan.
// Cancellation is cooperative: the context is checked between chunks, and
// an in-flight record always finishes. A cancelled pass returns the
// partial plan alongside the context error.
func (r *BatchReconstructor) ReconstructAll(ctx context.Context, records []model.Memory) (*model.ReconciliationPlan, error) {
	plan := &model.ReconciliationPlan{}
	plan.Stats.Total = len(records)

	var keptConfidence float64

	for i := range records {
		if i%r.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				log.Info().Int("visited", i).Int("total", len(records)).Msg("reconstruction cancelled between chunks")
				finalizeStats(plan, keptConfidence)
				return plan, err
			}
			if i > 0 {
				log.Debug().Int("visited", i).Int("total", len(records)).
					Int("deletions", len(plan.Deletions)).Msg("reconstruction progress")
			}
		}

		m := &records[i]
		v := r.engine.Assess(m)

		switch v.Action {
		case model.ActionDelete:
			plan.Deletions = append(plan.Deletions, model.Deletion{
				ID:     m.ID,
				Reason: firstReason(v),
			})
			plan.Stats.Deleted++
		case model.ActionRewrite:
			plan.Rewrites = append(plan.Rewrites, model.Rewrite{
				ID:         m.ID,
				NewContent: v.RewrittenContent,
			})
			plan.Stats.Rewritten++
			keptConfidence += v.Confidence
			r.maybeArchive(plan, m, v)
		case model.ActionKeep:
			plan.Stats.Kept++
			keptConfidence += v.Confidence
			r.maybeArchive(plan, m, v)
		}

		if v.Priority == "high" {
			plan.Stats.HighPriority++
		}
	}

	finalizeStats(plan, keptConfidence)
	return plan, nil
}

// maybeArchive flags a retained active record whose blended confidence sits
// below the archive threshold. Archived records stay in the store and are
// revisited by later passes.
func (r *BatchReconstructor) maybeArchive(plan *model.ReconciliationPlan, m *model.Memory, v model.Verdict) {
	if m.Status != model.StatusActive {
		return
	}
	if v.Confidence >= r.archiveThreshold {
		return
	}
	plan.Archives = append(plan.Archives, model.Archive{
		ID:     m.ID,
		Reason: firstReason(v),
	})
}

func finalizeStats(plan *model.ReconciliationPlan, keptConfidence float64) {
	retained := plan.Stats.Kept + plan.Stats.Rewritten
	if retained > 0 {
		plan.Stats.AverageConfidence = keptConfidence / float64(retained)
	}
	if plan.Stats.Total > 0 {
		plan.Stats.DeletionRate = float64(plan.Stats.Deleted) / float64(plan.Stats.Total)
	}
}

func firstReason(v model.Verdict) string {
	if len(v.Reasons) > 0 {
		return v.Reasons[0]
	}
	return "unspecified"
}
