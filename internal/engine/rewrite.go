package engine

import "regexp"

// Rewrite strategies are ordered text transforms. Which ones run depends
// on which signal flagged the record; each returns content unchanged when
// its patterns don't match, so strategies compose safely.

type rewriteStrategy struct {
	name  string
	apply func(string) string
}

type replacement struct {
	pattern *regexp.Regexp
	with    string
}

func applyReplacements(content string, reps []replacement) string {
	for _, r := range reps {
		content = r.pattern.ReplaceAllString(content, r.with)
	}
	return content
}

// softenContradictions rewrites "both X yet Y contradict" phrasings into a
// reconciling form.
var contradictionReplacements = []replacement{
	{regexp.MustCompile(`既(.+?)又(.+?)矛盾`), `${1}与${2}需要协调统一`},
	{regexp.MustCompile(`一方面(.+?)另一方面(.+?)冲突`), `${1}和${2}需要综合考虑`},
}

func softenContradictions(content string) string {
	return applyReplacements(content, contradictionReplacements)
}

// removeHedges downgrades absolutist claims to evidential phrasing.
var hedgeReplacements = []replacement{
	{regexp.MustCompile(`绝对`), `通常`},
	{regexp.MustCompile(`肯定`), `很可能`},
	{regexp.MustCompile(`毫无疑问`), `有证据表明`},
}

func removeHedges(content string) string {
	return applyReplacements(content, hedgeReplacements)
}

// normalizeConnectives restates cause/condition chains explicitly.
var connectiveReplacements = []replacement{
	{regexp.MustCompile(`因为(.+?)，?所以(.+?)`), `基于${1}，可以得出${2}`},
	{regexp.MustCompile(`如果(.+?)，?那么(.+?)`), `在${1}的条件下，${2}成立`},
}

func normalizeConnectives(content string) string {
	return applyReplacements(content, connectiveReplacements)
}

// stripModifiers drops redundant intensity and vagueness modifiers.
var modifierReplacements = []replacement{
	{regexp.MustCompile(`非常`), ``},
	{regexp.MustCompile(`极其`), ``},
	{regexp.MustCompile(`大概`), ``},
}

func stripModifiers(content string) string {
	return applyReplacements(content, modifierReplacements)
}

// rewriteFlags records which signals asked for a rewrite.
type rewriteFlags struct {
	consistency  bool // consistency scorer flagged the record
	risk         bool // risk scorer flagged the record
	completeness bool // completeness missing or low
}

// selectStrategies returns the ordered strategies for the given flags.
// Modifier stripping always runs last as the base refinement.
func selectStrategies(f rewriteFlags) []rewriteStrategy {
	var strategies []rewriteStrategy
	if f.consistency {
		strategies = append(strategies,
			rewriteStrategy{"contradiction softening", softenContradictions})
	}
	if f.risk {
		strategies = append(strategies,
			rewriteStrategy{"hedge removal", removeHedges})
	}
	if f.consistency {
		strategies = append(strategies,
			rewriteStrategy{"connective normalization", normalizeConnectives})
	}
	strategies = append(strategies,
		rewriteStrategy{"redundant-modifier stripping", stripModifiers})
	return strategies
}

// rewrite applies the selected strategies in order and reports which were
// applied.
func rewrite(content string, f rewriteFlags) (string, []string) {
	var applied []string
	for _, s := range selectStrategies(f) {
		content = s.apply(content)
		applied = append(applied, s.name)
	}
	return content, applied
}
