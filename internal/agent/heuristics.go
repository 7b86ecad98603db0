package agent

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/ragent-go/internal/calc"
	"github.com/54b3r/ragent-go/internal/memory"
	"github.com/54b3r/ragent-go/internal/tools"
)

// shortQuestionTokens is the token count at or below which an unclassified
// question without document cues is answered without tools.
const shortQuestionTokens = 8

var (
	budgetTopicRe = regexp.MustCompile(`(年度?预算|budget)`)
	budgetAskRe   = regexp.MustCompile(`(股价|price|评级|分析师|买入|卖出|增持|减持|\b(rating|analyst|buy|sell)\b)`)

	// symbolicExprRe finds expressions like "A + B - C" or "REVENUE / 4".
	symbolicExprRe = regexp.MustCompile(`[A-Z_][A-Z0-9_]*(?:\s+[+\-*/]\s+(?:[A-Z_][A-Z0-9_]*|\d+(?:\.\d+)?))+`)

	upperIdentRe = regexp.MustCompile(`\b[A-Z_][A-Z0-9_]{2,}\b`)
	codeIdentRe  = regexp.MustCompile(`\b[A-Z0-9]{2,}(?:[-_][A-Z0-9]{2,}){1,}\b`)
	pageRefRe    = regexp.MustCompile(`(?i)(page\s*\d+|p\.?\s*\d+|第?\s*\d+\s*页)`)

	tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// docKeywords are words that suggest the answer lives in the corpus.
var docKeywords = []string{
	"文档", "文件", "报告", "pdf", "表", "图", "章节", "附录", "引用", "来源",
	"根据", "检索", "查找", "搜索", "资料", "数据", "指标", "年报", "公告", "财报",
	"document", "report", "reference", "cite",
}

// followUp is one arithmetic follow-up pattern, e.g. "add 10 to that".
type followUp struct {
	re *regexp.Regexp
	op string
}

var (
	zhFollowUpCueRe = regexp.MustCompile(`(刚才|上次|上一步|之前|那个结果|这个结果|上个结果|再)`)
	enFollowUpCueRe = regexp.MustCompile(`(?i)\b(that|it|the result|previous result|last result|again|then)\b`)

	zhFollowUps = []followUp{
		{regexp.MustCompile(`加上?\s*(-?\d+(?:\.\d+)?)`), "+"},
		{regexp.MustCompile(`减去?\s*(-?\d+(?:\.\d+)?)`), "-"},
		{regexp.MustCompile(`乘[以上]?\s*(-?\d+(?:\.\d+)?)`), "*"},
		{regexp.MustCompile(`除以?\s*(-?\d+(?:\.\d+)?)`), "/"},
	}
	enFollowUps = []followUp{
		{regexp.MustCompile(`(?i)\b(?:add|plus)\s+(-?\d+(?:\.\d+)?)`), "+"},
		{regexp.MustCompile(`(?i)\b(?:subtract|minus)\s+(-?\d+(?:\.\d+)?)`), "-"},
		{regexp.MustCompile(`(?i)\bmultiply(?:\s+(?:it|that))?\s+by\s+(-?\d+(?:\.\d+)?)`), "*"},
		{regexp.MustCompile(`(?i)\btimes\s+(-?\d+(?:\.\d+)?)`), "*"},
		{regexp.MustCompile(`(?i)\bdivide(?:\s+(?:it|that))?\s+by\s+(-?\d+(?:\.\d+)?)`), "/"},
	}
)

// hasDocHints reports whether q carries cues that it should be answered
// from documents: symbolic expressions, upper-case identifiers, codes, page
// references or document keywords.
func hasDocHints(q string) bool {
	if symbolicExprRe.MatchString(q) || upperIdentRe.MatchString(q) ||
		codeIdentRe.MatchString(q) || pageRefRe.MatchString(q) {
		return true
	}
	lower := strings.ToLower(q)
	for _, kw := range docKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// countTokens counts word runs, treating each CJK character as one token.
func countTokens(q string) int {
	n := 0
	for _, tok := range tokenRe.FindAllString(q, -1) {
		cjk := 0
		for _, r := range tok {
			if r >= 0x4e00 && r <= 0x9fff {
				cjk++
			}
		}
		if cjk == 0 {
			n++
			continue
		}
		n += cjk
		if cjk < utf8.RuneCountInString(tok) {
			n++
		}
	}
	return n
}

// shouldSkipTools reports whether an unclassified question can be answered
// without any tool call.
func shouldSkipTools(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" {
		return true
	}
	if hasDocHints(q) {
		return false
	}
	if isSmalltalk(q) {
		return true
	}
	return countTokens(q) <= shortQuestionTokens
}

// Heuristics proposes a plan without calling the chat backend. Plan returns
// nil when no rule applies.
type Heuristics interface {
	Plan(question string, mem *memory.Memory) []Step
}

// DefaultHeuristics applies the budget, symbolic expression and numeric
// follow-up rules, in that order.
type DefaultHeuristics struct{}

// Plan implements Heuristics.
func (DefaultHeuristics) Plan(question string, mem *memory.Memory) []Step {
	return heuristicPlan(question, mem)
}

// heuristicPlan returns a deterministic plan for well-known question shapes
// or nil when none applies.
func heuristicPlan(question string, mem *memory.Memory) []Step {
	if steps := budgetPlan(question); steps != nil {
		return steps
	}
	if steps := symbolicPlan(question, mem); steps != nil {
		return steps
	}
	return followUpPlan(question, mem)
}

func budgetPlan(question string) []Step {
	lower := strings.ToLower(question)
	if !budgetTopicRe.MatchString(lower) || !budgetAskRe.MatchString(lower) {
		return nil
	}
	return []Step{
		{Tool: tools.Retrieve, Input: question, Reason: "collect annual budget data"},
		{Tool: tools.BudgetAnalyst, Input: tools.UseQuestion, Reason: "analyze budget-based rating"},
	}
}

func symbolicPlan(question string, mem *memory.Memory) []Step {
	expr := strings.TrimSpace(symbolicExprRe.FindString(question))
	if expr == "" {
		return nil
	}
	if allKnown(calc.Variables(expr), mem) {
		return []Step{{Tool: tools.Calculate, Input: expr, Reason: "reuse variables from memory"}}
	}
	return []Step{
		{Tool: tools.Retrieve, Input: question, Reason: "collect variable values from docs"},
		{Tool: tools.Calculate, Input: expr, Reason: "evaluate requested expression"},
	}
}

// allKnown reports whether every name is available in memory. LAST_RESULT
// counts as known once a previous calculation produced a value.
func allKnown(names []string, mem *memory.Memory) bool {
	if mem == nil {
		return false
	}
	for _, name := range names {
		if name == calc.LastResult && mem.LastCalcValue != nil {
			continue
		}
		if _, ok := mem.Variables[name]; !ok {
			return false
		}
	}
	return true
}

// followUpPlan turns "add 10 to that" style questions into a calculation
// over LAST_RESULT. It needs a previous result in memory.
func followUpPlan(question string, mem *memory.Memory) []Step {
	if mem == nil || mem.LastCalcValue == nil {
		return nil
	}

	var table []followUp
	switch {
	case zhFollowUpCueRe.MatchString(question):
		table = zhFollowUps
	case enFollowUpCueRe.MatchString(question):
		table = enFollowUps
	default:
		return nil
	}

	for _, f := range table {
		m := f.re.FindStringSubmatch(question)
		if m == nil {
			continue
		}
		expr := calc.LastResult + " " + f.op + " " + m[1]
		return []Step{{Tool: tools.Calculate, Input: expr, Reason: "reuse LAST_RESULT from memory"}}
	}
	return nil
}
