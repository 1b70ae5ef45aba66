// Package engine implements the per-record verdict pipeline and the batch
// reconstruction pass over the memory store.
package engine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/config"
	"github.com/pmorton/custodian/internal/model"
)

// Thresholds are the verdict decision bounds, taken from config.
type Thresholds struct {
	RiskCeiling      float64
	ConfidenceFloor  float64
	DeleteConfidence float64
	DeleteRisk       float64
}

// Weights are the scorer blend weights, taken from config.
type Weights struct {
	Consistency  float64
	Risk         float64
	Completeness float64
}

// VerdictEngine combines three pluggable scorers into one Verdict per
// record. Construct once at process start and inject where needed;
// scorers are swappable in tests.
type VerdictEngine struct {
	weights      Weights
	thresholds   Thresholds
	consistency  ConsistencyScorer
	risk         RiskScorer
	completeness CompletenessScorer
}

// NewVerdictEngine builds an engine from scoring config. Nil scorers fall
// back to the built-in heuristics.
func NewVerdictEngine(cfg config.ScoringConfig, c ConsistencyScorer, r RiskScorer, k CompletenessScorer) *VerdictEngine {
	if c == nil {
		c = HeuristicConsistency{}
	}
	if r == nil {
		r = HeuristicRisk{}
	}
	if k == nil {
		k = HeuristicCompleteness{}
	}
	return &VerdictEngine{
		weights: Weights{
			Consistency:  cfg.ConsistencyWeight,
			Risk:         cfg.RiskWeight,
			Completeness: cfg.CompletenessWeight,
		},
		thresholds: Thresholds{
			RiskCeiling:      cfg.RiskCeiling,
			ConfidenceFloor:  cfg.ConfidenceFloor,
			DeleteConfidence: cfg.DeleteConfidence,
			DeleteRisk:       cfg.DeleteRisk,
		},
		consistency:  c,
		risk:         r,
		completeness: k,
	}
}

// neutralScore substitutes for a scorer that fails; the record still gets
// a complete assessment.
const neutralScore = 0.5

// safeScore shields the assessment from a scorer error or panic.
func safeScore(name string, f func() (float64, string, error)) (score float64, explanation string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("scorer", name).Any("panic", r).Msg("scorer panicked, substituting neutral score")
			score = neutralScore
			explanation = fmt.Sprintf("%s scorer panicked, neutral substitute", name)
		}
	}()

	s, expl, err := f()
	if err != nil {
		log.Warn().Str("scorer", name).Err(err).Msg("scorer failed, substituting neutral score")
		return neutralScore, fmt.Sprintf("%s scorer failed, neutral substitute", name)
	}
	return clamp01(s), expl
}

// Assess produces the verdict for one record: exactly one of keep, rewrite,
// or delete. Deletion is decided before any rewrite; the hard-marker rule
// bypasses scoring entirely.
func (e *VerdictEngine) Assess(m *model.Memory) model.Verdict {
	if reason, ok := hardDeleteReason(m.Content); ok {
		return model.Verdict{
			Action:          model.ActionDelete,
			Confidence:      0,
			RiskProbability: 1,
			Reasons:         []string{reason},
			Priority:        "high",
		}
	}

	rc := RecordContext{
		Topic:      m.Topic,
		SourceType: m.SourceType,
		Timestamp:  m.Timestamp,
		Importance: m.Importance,
	}

	consScore, consExpl := safeScore("consistency", func() (float64, string, error) {
		return e.consistency.ScoreConsistency(m.Content)
	})
	riskScore, riskExpl := safeScore("risk", func() (float64, string, error) {
		return e.risk.ScoreRisk(m.Content, rc)
	})
	compScore, compExpl := safeScore("completeness", func() (float64, string, error) {
		return e.completeness.ScoreCompleteness(m.Content)
	})

	w := e.weights
	confidence := clamp01(w.Consistency*consScore + w.Risk*(1-riskScore) + w.Completeness*compScore)
	risk := clamp01(w.Consistency*(1-consScore) + w.Risk*riskScore + w.Completeness*(1-compScore))

	reasons := []string{
		"consistency: " + consExpl,
		"risk: " + riskExpl,
		"completeness: " + compExpl,
	}
	priority := classifyPriority(risk, confidence)

	if reason, ok := deleteReason(m.Content, confidence, risk, e.thresholds); ok {
		return model.Verdict{
			Action:          model.ActionDelete,
			Confidence:      confidence,
			RiskProbability: risk,
			Reasons:         append([]string{reason}, reasons...),
			Priority:        priority,
		}
	}

	completenessMissing := compScore == 0
	needsRewrite := risk > e.thresholds.RiskCeiling ||
		confidence < e.thresholds.ConfidenceFloor ||
		completenessMissing

	if !needsRewrite {
		return model.Verdict{
			Action:          model.ActionKeep,
			Confidence:      confidence,
			RiskProbability: risk,
			Reasons:         reasons,
			Priority:        priority,
		}
	}

	flags := rewriteFlags{
		consistency:  consScore < e.thresholds.ConfidenceFloor,
		risk:         riskScore > e.thresholds.RiskCeiling,
		completeness: completenessMissing,
	}
	rewritten, applied := rewrite(m.Content, flags)

	return model.Verdict{
		Action:           model.ActionRewrite,
		Confidence:       confidence,
		RiskProbability:  risk,
		Reasons:          append(reasons, "strategies: "+strings.Join(applied, ", ")),
		RewrittenContent: rewritten,
		Priority:         priority,
	}
}

// classifyPriority buckets a record for reporting.
func classifyPriority(risk, confidence float64) string {
	switch {
	case risk > 0.5 || confidence < 0.3:
		return "high"
	case risk > 0.3 || confidence < 0.5:
		return "medium"
	default:
		return "low"
	}
}
