package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/pmorton/custodian/internal/config"
	"github.com/pmorton/custodian/internal/model"
)

// fixedScores implements all three scorer interfaces with constant output.
type fixedScores struct {
	cons, risk, comp float64
}

func (f fixedScores) ScoreConsistency(string) (float64, string, error) {
	return f.cons, "stub", nil
}
func (f fixedScores) ScoreRisk(string, RecordContext) (float64, string, error) {
	return f.risk, "stub", nil
}
func (f fixedScores) ScoreCompleteness(string) (float64, string, error) {
	return f.comp, "stub", nil
}

type failingConsistency struct{}

func (failingConsistency) ScoreConsistency(string) (float64, string, error) {
	return 0, "", errors.New("model unavailable")
}

type panickingConsistency struct{}

func (panickingConsistency) ScoreConsistency(string) (float64, string, error) {
	panic("scorer bug")
}

func testEngine(c ConsistencyScorer, r RiskScorer, k CompletenessScorer) *VerdictEngine {
	return NewVerdictEngine(config.Default().Scoring, c, r, k)
}

func record(content string) *model.Memory {
	return &model.Memory{
		ID:         model.NewID(),
		Content:    content,
		Topic:      "架构",
		SourceType: "conversation",
		Timestamp:  time.Now(),
		Importance: 0.5,
		Status:     model.StatusActive,
	}
}

func TestAssessKeepsHealthyRecord(t *testing.T) {
	s := fixedScores{cons: 0.9, risk: 0.1, comp: 0.9}
	e := testEngine(s, s, s)

	v := e.Assess(record("早上我们讨论了系统架构优化方案，决定采用分层设计来提升模块解耦程度。"))
	if v.Action != model.ActionKeep {
		t.Fatalf("action = %s, want keep; reasons %v", v.Action, v.Reasons)
	}
	// 0.5*0.9 + 0.3*(1-0.1) + 0.2*0.9 = 0.90
	if v.Confidence < 0.89 || v.Confidence > 0.91 {
		t.Errorf("confidence = %f, want ~0.90", v.Confidence)
	}
	if v.Priority != "low" {
		t.Errorf("priority = %s, want low", v.Priority)
	}
}

func TestAssessHeuristicsKeepHealthyRecord(t *testing.T) {
	e := testEngine(nil, nil, nil)

	v := e.Assess(record("早上我们讨论了系统架构优化方案，决定采用分层设计来提升模块解耦程度。"))
	if v.Action != model.ActionKeep {
		t.Errorf("action = %s, want keep; reasons %v", v.Action, v.Reasons)
	}
	if v.Confidence < 0.8 {
		t.Errorf("confidence = %f, want >= 0.8", v.Confidence)
	}
}

func TestAssessHardMarkerBypassesScorers(t *testing.T) {
	// A panicking scorer proves the hard rule short-circuits before scoring.
	e := testEngine(panickingConsistency{}, nil, nil)

	v := e.Assess(record("提示词文件未找到: base_prompt.txt"))
	if v.Action != model.ActionDelete {
		t.Fatalf("action = %s, want delete", v.Action)
	}
	if v.Confidence != 0 || v.RiskProbability != 1 {
		t.Errorf("confidence/risk = %f/%f, want 0/1", v.Confidence, v.RiskProbability)
	}
	if v.Priority != "high" {
		t.Errorf("priority = %s, want high", v.Priority)
	}
	if len(v.Reasons) == 0 {
		t.Error("hard delete must carry a reason")
	}
}

func TestAssessDeletesLowConfidenceHighRisk(t *testing.T) {
	s := fixedScores{cons: 0.0, risk: 1.0, comp: 0.0}
	e := testEngine(s, s, s)

	v := e.Assess(record("some content with no redeeming structure whatsoever"))
	if v.Action != model.ActionDelete {
		t.Fatalf("action = %s, want delete; reasons %v", v.Action, v.Reasons)
	}
}

func TestAssessRewritesLowConfidence(t *testing.T) {
	s := fixedScores{cons: 0.5, risk: 0.5, comp: 0.5}
	e := testEngine(s, s, s)

	v := e.Assess(record("这个方案大概是可行的，非常值得继续推进。"))
	if v.Action != model.ActionRewrite {
		t.Fatalf("action = %s, want rewrite; reasons %v", v.Action, v.Reasons)
	}
	if v.RewrittenContent == "" {
		t.Error("rewrite verdict must carry new content")
	}
	if v.RewrittenContent == "这个方案大概是可行的，非常值得继续推进。" {
		t.Error("modifier stripping should have changed the content")
	}
}

func TestAssessScorerErrorSubstitutesNeutral(t *testing.T) {
	s := fixedScores{risk: 0.0, comp: 1.0}
	e := testEngine(failingConsistency{}, s, s)

	v := e.Assess(record("团队确认下一阶段目标是完成存储层重构并补齐回归用例。"))
	// consistency falls back to 0.5: 0.5*0.5 + 0.3*1.0 + 0.2*1.0 = 0.75
	if v.Confidence < 0.74 || v.Confidence > 0.76 {
		t.Errorf("confidence = %f, want ~0.75", v.Confidence)
	}
	if v.Action != model.ActionKeep {
		t.Errorf("action = %s, want keep", v.Action)
	}
}

func TestAssessScorerPanicSubstitutesNeutral(t *testing.T) {
	s := fixedScores{risk: 0.0, comp: 1.0}
	e := testEngine(panickingConsistency{}, s, s)

	v := e.Assess(record("团队确认下一阶段目标是完成存储层重构并补齐回归用例。"))
	if v.Confidence < 0.74 || v.Confidence > 0.76 {
		t.Errorf("confidence = %f, want ~0.75", v.Confidence)
	}
}

func TestAssessScoresStayInBounds(t *testing.T) {
	cases := []fixedScores{
		{0, 0, 0}, {1, 1, 1}, {1, 0, 1}, {0, 1, 0}, {0.5, 0.5, 0.5},
	}
	for _, s := range cases {
		e := testEngine(s, s, s)
		v := e.Assess(record("一段用于边界检查的普通记录内容，描述项目进展与决策。"))
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Errorf("scores %+v: confidence %f out of bounds", s, v.Confidence)
		}
		if v.RiskProbability < 0 || v.RiskProbability > 1 {
			t.Errorf("scores %+v: risk %f out of bounds", s, v.RiskProbability)
		}
		switch v.Action {
		case model.ActionKeep, model.ActionRewrite, model.ActionDelete:
		default:
			t.Errorf("scores %+v: invalid action %q", s, v.Action)
		}
	}
}

func TestAssessMissingCompletenessForcesRewrite(t *testing.T) {
	s := fixedScores{cons: 1.0, risk: 0.0, comp: 0.0}
	e := testEngine(s, s, s)

	// Confidence 0.8 and risk 0.2 alone would keep; zero completeness
	// forces reconstruction anyway.
	v := e.Assess(record("记录了一个结论但缺少任何支撑细节与来源信息。"))
	if v.Action != model.ActionRewrite {
		t.Errorf("action = %s, want rewrite; reasons %v", v.Action, v.Reasons)
	}
}

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		risk, conf float64
		want       string
	}{
		{0.6, 0.9, "high"},
		{0.1, 0.2, "high"},
		{0.4, 0.9, "medium"},
		{0.1, 0.4, "medium"},
		{0.1, 0.9, "low"},
	}
	for _, c := range cases {
		if got := classifyPriority(c.risk, c.conf); got != c.want {
			t.Errorf("classifyPriority(%v, %v) = %s, want %s", c.risk, c.conf, got, c.want)
		}
	}
}
