package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/graph"
	"github.com/pmorton/custodian/internal/store"
)

// ErrRunInFlight is returned when a maintenance pass is requested while
// another one is still executing.
var ErrRunInFlight = errors.New("maintenance run already in flight")

// RunResult summarizes one completed maintenance pass.
type RunResult struct {
	RunID             int64   `json:"run_id"`
	TriggerKind       string  `json:"trigger_kind"`
	Status            string  `json:"status"`
	Total             int     `json:"total"`
	Rewritten         int     `json:"rewritten"`
	Deleted           int     `json:"deleted"`
	Archived          int     `json:"archived"`
	Failed            int     `json:"failed"`
	AverageConfidence float64 `json:"average_confidence"`
	DeletionRate      float64 `json:"deletion_rate"`
	Duration          string  `json:"duration"`
}

// Runner owns the full maintenance pass: load, assess, apply, record. At
// most one pass executes at a time regardless of trigger source.
type Runner struct {
	db       *store.DB
	recon    *BatchReconstructor
	applier  *LifecycleApplier
	index    *graph.Index
	embedder Embedder

	inFlight atomic.Bool

	mu   sync.Mutex
	last *RunResult
}

// NewRunner wires a maintenance runner. The embedder may be nil, in which
// case graph rebuilds after a pass are skipped.
func NewRunner(db *store.DB, recon *BatchReconstructor, applier *LifecycleApplier, index *graph.Index, emb Embedder) *Runner {
	return &Runner{
		db:       db,
		recon:    recon,
		applier:  applier,
		index:    index,
		embedder: emb,
	}
}

// InFlight reports whether a pass is currently executing.
func (r *Runner) InFlight() bool {
	return r.inFlight.Load()
}

// LastResult returns the outcome of the most recent pass, or nil if none
// has completed since startup.
func (r *Runner) LastResult() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// RunOnce executes a single maintenance pass. Concurrent calls beyond the
// first fail fast with ErrRunInFlight; the caller decides whether to retry.
func (r *Runner) RunOnce(ctx context.Context, triggerKind string) (*RunResult, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer r.inFlight.Store(false)

	started := time.Now()
	runID, err := r.db.BeginRun(triggerKind)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("run_id", runID).Str("trigger", triggerKind).Msg("maintenance pass started")

	records, err := r.db.ListAll()
	if err != nil {
		r.finishFailed(runID, triggerKind, started)
		return nil, err
	}

	plan, reconErr := r.recon.ReconstructAll(ctx, records)
	if reconErr != nil && plan == nil {
		r.finishFailed(runID, triggerKind, started)
		return nil, reconErr
	}

	// A cancelled pass still applies the verdicts it produced so far; the
	// run is marked failed so the report shows the truncation.
	applied := r.applier.Apply(ctx, runID, plan)

	status := "success"
	if reconErr != nil || ctx.Err() != nil {
		status = "failed"
	}

	run := &store.MaintenanceRun{
		ID:            runID,
		Status:        status,
		Total:         plan.Stats.Total,
		Rewritten:     applied.RewritesApplied,
		Deleted:       applied.DeletionsApplied,
		Archived:      applied.ArchivesApplied,
		Failed:        applied.Failed,
		AvgConfidence: plan.Stats.AverageConfidence,
		DeletionRate:  plan.Stats.DeletionRate,
	}
	if err := r.db.FinishRun(run); err != nil {
		log.Error().Err(err).Int64("run_id", runID).Msg("finish run record")
	}

	result := &RunResult{
		RunID:             runID,
		TriggerKind:       triggerKind,
		Status:            status,
		Total:             plan.Stats.Total,
		Rewritten:         applied.RewritesApplied,
		Deleted:           applied.DeletionsApplied,
		Archived:          applied.ArchivesApplied,
		Failed:            applied.Failed,
		AverageConfidence: plan.Stats.AverageConfidence,
		DeletionRate:      plan.Stats.DeletionRate,
		Duration:          time.Since(started).Round(time.Millisecond).String(),
	}

	r.mu.Lock()
	r.last = result
	r.mu.Unlock()

	log.Info().
		Int64("run_id", runID).
		Str("status", status).
		Int("total", result.Total).
		Int("rewritten", result.Rewritten).
		Int("deleted", result.Deleted).
		Int("archived", result.Archived).
		Float64("avg_confidence", result.AverageConfidence).
		Msg("maintenance pass finished")

	if applied.DeletionsApplied > 0 {
		r.rebuildAsync()
	}

	return result, reconErr
}

// RefreshVectors embeds active records whose stored vector is missing or was
// produced by a different model, and persists the result. The stored vectors
// feed graph rebuilds so records are not re-embedded on every pass. Returns
// the number of vectors written.
func (r *Runner) RefreshVectors(ctx context.Context) (int, error) {
	if r.embedder == nil {
		log.Debug().Msg("vector refresh skipped, no embedder")
		return 0, nil
	}

	memories, err := r.db.ListByStatus("active")
	if err != nil {
		return 0, err
	}
	stored, err := r.db.AllVectors()
	if err != nil {
		return 0, err
	}
	have := make(map[string]string, len(stored))
	for _, v := range stored {
		have[v.MemoryID] = v.Model
	}

	written := 0
	for i := range memories {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		m := &memories[i]
		if have[m.ID] == r.embedder.Model() {
			continue
		}
		vec, err := r.embedder.Embed(ctx, m.Content)
		if err != nil {
			log.Warn().Err(err).Str("memory", m.ID).Msg("vector refresh: embed failed, skipping")
			continue
		}
		if err := r.db.SaveVector(m.ID, vec, r.embedder.Model()); err != nil {
			log.Warn().Err(err).Str("memory", m.ID).Msg("vector refresh: save failed, skipping")
			continue
		}
		written++
	}
	log.Info().Int("written", written).Int("active", len(memories)).Msg("vector index refreshed")
	return written, nil
}

// rebuildAsync refreshes stored vectors and regenerates the concept graph in
// the background. Failures are logged and never affect the pass outcome.
func (r *Runner) rebuildAsync() {
	if r.index == nil || r.embedder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := r.RefreshVectors(ctx); err != nil {
			log.Warn().Err(err).Msg("graph rebuild: vector refresh")
		}
		memories, err := r.db.ListByStatus("active")
		if err != nil {
			log.Warn().Err(err).Msg("graph rebuild: list memories")
			return
		}
		stats, err := r.index.Rebuild(ctx, memories, r.embedder)
		if err != nil {
			log.Warn().Err(err).Msg("graph rebuild failed")
			return
		}
		log.Info().Int("nodes", stats.TotalNodes).Int("merged", stats.Merged).Msg("graph rebuilt")
	}()
}

func (r *Runner) finishFailed(runID int64, triggerKind string, started time.Time) {
	run := &store.MaintenanceRun{ID: runID, Status: "failed"}
	if err := r.db.FinishRun(run); err != nil {
		log.Error().Err(err).Int64("run_id", runID).Msg("finish failed run record")
	}
	r.mu.Lock()
	r.last = &RunResult{
		RunID:       runID,
		TriggerKind: triggerKind,
		Status:      "failed",
		Duration:    time.Since(started).Round(time.Millisecond).String(),
	}
	r.mu.Unlock()
}
