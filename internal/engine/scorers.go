package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// RecordContext carries the record metadata scorers may consult alongside
// the content itself.
type RecordContext struct {
	Topic      string
	SourceType string
	Timestamp  time.Time
	Importance float64
}

// ConsistencyScorer rates internal coherence of content in [0,1].
type ConsistencyScorer interface {
	ScoreConsistency(content string) (float64, string, error)
}

// RiskScorer rates hallucination / unreliability probability in [0,1].
type RiskScorer interface {
	ScoreRisk(content string, rc RecordContext) (float64, string, error)
}

// CompletenessScorer rates structural and metadata sufficiency in [0,1].
// A zero score means completeness is missing entirely.
type CompletenessScorer interface {
	ScoreCompleteness(content string) (float64, string, error)
}

// The built-in scorers are keyword and pattern heuristics. They are
// replaceable policy behind the scorer interfaces, not part of the engine
// contract.

var contradictionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`既(.+?)又(.+?)矛盾`),
	regexp.MustCompile(`一方面(.+?)另一方面(.+?)冲突`),
}

// HeuristicConsistency flags contradiction phrasing and dangling
// connectives.
type HeuristicConsistency struct{}

func (HeuristicConsistency) ScoreConsistency(content string) (float64, string, error) {
	score := 0.85
	var notes []string

	for _, p := range contradictionPatterns {
		if p.MatchString(content) {
			score -= 0.35
			notes = append(notes, "contradiction phrasing")
			break
		}
	}

	// A "因为" without a "所以" (or the reverse) reads as a broken chain.
	hasBecause := strings.Contains(content, "因为")
	hasTherefore := strings.Contains(content, "所以")
	if hasBecause != hasTherefore {
		score -= 0.15
		notes = append(notes, "incomplete reasoning chain")
	}

	if len(notes) == 0 {
		return clamp01(score), "coherent", nil
	}
	return clamp01(score), strings.Join(notes, "; "), nil
}

var absolutistTerms = []string{"绝对", "肯定", "毫无疑问", "必然", "永远不会"}

// HeuristicRisk treats absolutist phrasing and sourceless claims as risk.
type HeuristicRisk struct{}

func (HeuristicRisk) ScoreRisk(content string, rc RecordContext) (float64, string, error) {
	risk := 0.1
	hits := 0
	for _, term := range absolutistTerms {
		if strings.Contains(content, term) {
			hits++
		}
	}
	risk += 0.2 * float64(hits)

	// Low-importance records from unknown sources carry more risk.
	if rc.SourceType == "" && rc.Importance < 0.3 {
		risk += 0.1
	}

	explanation := "no risk markers"
	if hits > 0 {
		explanation = fmt.Sprintf("%d absolutist terms", hits)
	}
	return clamp01(risk), explanation, nil
}

// HeuristicCompleteness rates structural sufficiency: enough content to
// stand alone, with some sentence structure. Returns zero for fragments.
type HeuristicCompleteness struct{}

func (HeuristicCompleteness) ScoreCompleteness(content string) (float64, string, error) {
	runes := utf8.RuneCountInString(strings.TrimSpace(content))
	if runes == 0 {
		return 0, "empty", nil
	}
	if runes < 10 {
		return 0, "fragment", nil
	}

	score := 0.5
	if runes >= 30 {
		score += 0.2
	}
	if strings.ContainsAny(content, "。.！!？?") {
		score += 0.2
	}
	if strings.ContainsAny(content, "，,；;") {
		score += 0.1
	}
	return clamp01(score), "structurally sufficient", nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
