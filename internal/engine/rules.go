package engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Hard deletion rules. These mark records that are captured tooling noise
// rather than user content: missing-prompt errors, test fragments, stack
// traces, and short junk. Matching is checked before any rewrite.

// hardErrorMarkers force deletion regardless of scorer output.
var hardErrorMarkers = []string{
	"提示词文件未找到",
	"base_prompt.txt",
	"test_prompt.md",
	"base_agent_prompt.md",
	"agent_prompts",
}

var errorTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`文件未找到`),
	regexp.MustCompile(`FileNotFoundError`),
	regexp.MustCompile(`ModuleNotFoundError`),
	regexp.MustCompile(`错误[:：].*未找到`),
	regexp.MustCompile(`(?i)Failed to .+`),
}

var testArtifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`test_type智能体`),
	regexp.MustCompile(`test_agent智能体`),
	regexp.MustCompile(`# test_`),
	regexp.MustCompile(`测试智能体`),
}

var stackTracePatterns = []*regexp.Regexp{
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`File ".*\.py", line \d+`),
	regexp.MustCompile(`raise \w*Error`),
	regexp.MustCompile(`Exception:`),
}

// punctDigitsOnly matches content with no letters or CJK at all.
var punctDigitsOnly = regexp.MustCompile(`^[\s\d\pP\pS]+$`)

// hardDeleteReason reports the absolute-override rule, checked before
// scoring runs at all.
func hardDeleteReason(content string) (string, bool) {
	for _, marker := range hardErrorMarkers {
		if strings.Contains(content, marker) {
			return fmt.Sprintf("hard rule: captured error record (marker %q)", marker), true
		}
	}
	return "", false
}

// deleteReason applies the remaining deletion rules in order, after
// scoring. First match wins.
func deleteReason(content string, confidence, risk float64, cfg Thresholds) (string, bool) {
	trimmed := strings.TrimSpace(content)

	if confidence < cfg.DeleteConfidence && risk > cfg.DeleteRisk {
		return fmt.Sprintf("confidence %.2f below %.2f with risk %.2f above %.2f",
			confidence, cfg.DeleteConfidence, risk, cfg.DeleteRisk), true
	}

	for _, p := range errorTextPatterns {
		if p.MatchString(content) {
			return fmt.Sprintf("error text (pattern %s)", p.String()), true
		}
	}

	for _, p := range testArtifactPatterns {
		if p.MatchString(content) {
			return fmt.Sprintf("test artifact (pattern %s)", p.String()), true
		}
	}

	if utf8.RuneCountInString(trimmed) < 30 {
		if punctDigitsOnly.MatchString(trimmed) {
			return fmt.Sprintf("short junk: %d runes of punctuation/digits", utf8.RuneCountInString(trimmed)), true
		}
		if containsAny(trimmed, "错误", "失败", "未") && containsAny(trimmed, "提示词", "文件") {
			return "single-line error phrase", true
		}
	}

	for _, p := range stackTracePatterns {
		if p.MatchString(content) {
			return fmt.Sprintf("stack trace (pattern %s)", p.String()), true
		}
	}

	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
