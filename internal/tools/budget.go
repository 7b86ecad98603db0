package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"github.com/54b3r/ragent-go/internal/memory"
)

// Ratings produced by the budget analyst.
const (
	RatingBuy         = "buy"
	RatingOverweight  = "overweight"
	RatingNeutral     = "neutral"
	RatingUnderweight = "underweight"
	RatingSell        = "sell"
	RatingUnrated     = "unrated"
)

// Variables written to memory by the budget analyst.
const (
	VarBudgetLatest    = "BUDGET_LATEST"
	VarBudgetPrev      = "BUDGET_PREV"
	VarBudgetGrowthPct = "BUDGET_GROWTH_PCT"
	VarStockPrice      = "STOCK_PRICE"
	VarBudgetScore     = "BUDGET_ANALYST_SCORE"
)

const (
	amountPat = `([0-9]+(?:\.[0-9]+)?)`
	zhUnitPat = `\s*([^\s,，。；;]{0,6})`
	enUnitPat = `\s*([A-Za-z$¥]{0,10})`
)

var (
	// yearBudgetPatterns capture (year, amount, unit).
	yearBudgetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(20\d{2})[^0-9]{0,6}(?:年度|年)?预算[^0-9]{0,6}` + amountPat + zhUnitPat),
		regexp.MustCompile(`(?:年度|年)?预算[^0-9]{0,6}(20\d{2})[^0-9]{0,6}` + amountPat + zhUnitPat),
		regexp.MustCompile(`(?i)(20\d{2})\s+(?:annual\s+)?budget[^0-9]{0,12}` + amountPat + enUnitPat),
		regexp.MustCompile(`(?i)budget\s+(?:for|in|of)\s+(20\d{2})[^0-9]{0,12}` + amountPat + enUnitPat),
	}
	// plainBudgetPatterns capture (amount, unit) when no year is present.
	plainBudgetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:年度|年)?预算[^0-9]{0,6}` + amountPat + zhUnitPat),
		regexp.MustCompile(`(?i)budget[^0-9]{0,12}` + amountPat + enUnitPat),
	}

	stockPricePattern = regexp.MustCompile(`(?i)(?:股价|股价为|股价是|stock\s*price|price)[^0-9]{0,6}` + amountPat)

	budgetCutPattern   = regexp.MustCompile(`(?i)(下调|削减|减少|缩减|压缩).{0,6}预算|预算.{0,6}(下调|削减|减少|缩减|压缩)|\b(cut|cuts|reduce[ds]?|slash(?:ed|es)?|trim(?:med|s)?)\b.{0,12}budget|budget.{0,12}\b(cut|reduced|slashed|trimmed)\b`)
	budgetRaisePattern = regexp.MustCompile(`(?i)(上调|增加|提升|扩张).{0,6}预算|预算.{0,6}(上调|增加|提升|扩张)|\b(raise[ds]?|increase[ds]?|expand(?:ed|s)?|boost(?:ed|s)?)\b.{0,12}budget|budget.{0,12}\b(raised|increased|expanded|boosted)\b`)

	currencyTokens = []string{"人民币", "美元", "元", "圆", "rmb", "cny", "usd", "¥", "$"}
)

// unitScale maps a unit token to its multiplier. Order matters: longer
// Chinese units are checked before their suffixes.
var unitScale = []struct {
	token string
	scale float64
}{
	{"万亿", 1e12},
	{"十亿", 1e9},
	{"亿", 1e8},
	{"千万", 1e7},
	{"百万", 1e6},
	{"万", 1e4},
	{"千", 1e3},
	{"百", 1e2},
	{"billion", 1e9},
	{"million", 1e6},
	{"thousand", 1e3},
}

// budgetItem is one budget figure, normalized to base units.
type budgetItem struct {
	year  int // 0 when unknown
	value float64
}

// BudgetAnalystTool rates a company from its yearly budget trajectory.
type BudgetAnalystTool struct{}

// NewBudgetAnalystTool returns a BudgetAnalystTool.
func NewBudgetAnalystTool() *BudgetAnalystTool { return &BudgetAnalystTool{} }

// Name returns the tool name.
func (t *BudgetAnalystTool) Name() Name { return BudgetAnalyst }

// Description returns the LLM-facing description.
func (t *BudgetAnalystTool) Description() string {
	return "Extracts yearly budgets and the stock price from retrieved text or a JSON payload, " +
		"computes budget growth and returns a buy/overweight/neutral/underweight/sell rating."
}

// Info returns the eino tool metadata.
func (t *BudgetAnalystTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return info(t, `Optional JSON {"budgets":[{"year":2024,"amount":120,"unit":"亿"}],"stock_price":10.5} or `+UseQuestion+"."), nil
}

// Run analyses the budgets found in input, the question and the latest
// retrieval text.
func (t *BudgetAnalystTool) Run(_ context.Context, input string, tc *Context) (*Output, error) {
	in := strings.TrimSpace(input)

	var parts []string
	if !IsQuestionPlaceholder(in) {
		parts = append(parts, in)
	}
	if tc.Question != "" {
		parts = append(parts, tc.Question)
	}
	if rt := tc.latestRetrievalText(); rt != "" {
		parts = append(parts, rt)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))

	var (
		budgets []budgetItem
		price   *float64
	)
	if strings.HasPrefix(in, "{") && gjson.Valid(in) {
		payload := gjson.Parse(in)
		budgets = budgetsFromJSON(payload)
		price = priceFromJSON(payload)
	}
	if len(budgets) == 0 {
		budgets = budgetsFromText(text)
	}
	if price == nil {
		price = priceFromText(text)
	}

	return analyze(budgets, price, text), nil
}

func budgetsFromJSON(payload gjson.Result) []budgetItem {
	raw := payload.Get("budgets")
	if !truthy(raw) {
		raw = payload.Get("budget")
	}
	var items []gjson.Result
	switch {
	case raw.IsObject():
		items = []gjson.Result{raw}
	case raw.IsArray():
		items = raw.Array()
	default:
		return nil
	}

	var out []budgetItem
	for _, it := range items {
		if !it.IsObject() {
			continue
		}
		amount := it.Get("amount")
		if !truthy(amount) {
			amount = it.Get("value")
		}
		v, ok := number(amount)
		if !ok {
			continue
		}
		b := budgetItem{value: v * unitMultiplier(it.Get("unit").String())}
		if y, ok := number(it.Get("year")); ok {
			b.year = int(y)
		}
		out = append(out, b)
	}
	return out
}

func priceFromJSON(payload gjson.Result) *float64 {
	for _, key := range []string{"stock_price", "price", "股价"} {
		if v := payload.Get(key); v.Exists() {
			if f, ok := number(v); ok {
				return &f
			}
			return nil
		}
	}
	return nil
}

func budgetsFromText(text string) []budgetItem {
	if text == "" {
		return nil
	}
	type key struct {
		year  int
		value float64
	}
	seen := make(map[key]bool)
	var out []budgetItem
	add := func(year int, amount, unit string) {
		v, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return
		}
		b := budgetItem{year: year, value: v * unitMultiplier(unit)}
		k := key{b.year, b.value}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, b)
	}

	for _, re := range yearBudgetPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			year, _ := strconv.Atoi(m[1])
			add(year, m[2], m[3])
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, re := range plainBudgetPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			add(0, m[1], m[2])
		}
	}
	return out
}

func priceFromText(text string) *float64 {
	m := stockPricePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &f
}

// unitMultiplier converts a unit such as 亿, million or bn into a scale
// factor. Currency markers are ignored; unknown units scale by 1.
func unitMultiplier(unit string) float64 {
	u := strings.ToLower(strings.TrimSpace(unit))
	for _, c := range currencyTokens {
		u = strings.ReplaceAll(u, c, "")
	}
	u = strings.TrimSpace(u)
	if u == "" {
		return 1
	}
	for _, s := range unitScale {
		if strings.Contains(u, s.token) {
			return s.scale
		}
	}
	switch u {
	case "b", "bn":
		return 1e9
	case "m":
		return 1e6
	case "k":
		return 1e3
	}
	return 1
}

func formatAmount(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2f万亿", v/1e12)
	case v >= 1e8:
		return fmt.Sprintf("%.2f亿", v/1e8)
	case v >= 1e4:
		return fmt.Sprintf("%.2f万", v/1e4)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// budgetTone returns -1 when the text signals a budget cut, +1 for a raise
// and 0 otherwise. Cuts take precedence.
func budgetTone(text string) int {
	switch {
	case text == "":
		return 0
	case budgetCutPattern.MatchString(text):
		return -1
	case budgetRaisePattern.MatchString(text):
		return 1
	default:
		return 0
	}
}

// latestAndPrev picks the two most recent dated budgets, or the last undated
// one when no budget carries a year.
func latestAndPrev(budgets []budgetItem) (latest, prev *budgetItem) {
	var dated []budgetItem
	for _, b := range budgets {
		if b.year != 0 {
			dated = append(dated, b)
		}
	}
	if len(dated) > 0 {
		sort.SliceStable(dated, func(i, j int) bool { return dated[i].year < dated[j].year })
		latest = &dated[len(dated)-1]
		if len(dated) >= 2 {
			prev = &dated[len(dated)-2]
		}
		return latest, prev
	}
	if len(budgets) > 0 {
		b := budgets[len(budgets)-1]
		return &b, nil
	}
	return nil, nil
}

func rating(score int) string {
	switch {
	case score >= 2:
		return RatingBuy
	case score == 1:
		return RatingOverweight
	case score == 0:
		return RatingNeutral
	case score == -1:
		return RatingUnderweight
	default:
		return RatingSell
	}
}

func analyze(budgets []budgetItem, price *float64, text string) *Output {
	latest, prev := latestAndPrev(budgets)

	var (
		growth *float64
		notes  []string
	)
	switch {
	case latest != nil && prev != nil && prev.value > 0:
		g := (latest.value - prev.value) / prev.value * 100
		growth = &g
		notes = append(notes, "computed year-over-year budget growth")
	case latest != nil:
		notes = append(notes, "single budget figure found, growth unavailable")
	default:
		notes = append(notes, "no yearly budget data found")
	}

	score := 0
	if growth != nil {
		switch g := *growth; {
		case g >= 15:
			score += 2
		case g >= 5:
			score++
		case g <= -15:
			score -= 2
		case g <= -5:
			score--
		}
	}
	if tone := budgetTone(text); tone != 0 {
		score += tone
		notes = append(notes, "text signals a budget raise or cut")
	}

	r := RatingUnrated
	if latest != nil {
		r = rating(score)
	}

	sorted := append([]budgetItem(nil), budgets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.year == 0) != (b.year == 0) {
			return b.year == 0
		}
		return a.year < b.year
	})
	lines := make([]string, len(sorted))
	for i, b := range sorted {
		lines[i] = labeled(b, "budget")
	}

	latestText, prevText := "<none>", "<none>"
	if latest != nil {
		latestText = labeled(*latest, "latest")
	}
	if prev != nil {
		prevText = labeled(*prev, "previous")
	}
	growthText, priceText := "<none>", "<none>"
	if growth != nil {
		growthText = fmt.Sprintf("%.2f%%", *growth)
	}
	if price != nil {
		priceText = fmt.Sprintf("%.4f", *price)
	}
	budgetsText := "<none>"
	if len(lines) > 0 {
		budgetsText = strings.Join(lines, ", ")
	}

	observation := fmt.Sprintf(
		"budget_analyst: rating=%s; score=%d; budget_latest=%s; budget_prev=%s; budget_growth_pct=%s; stock_price=%s; budgets=%s; notes=%s",
		r, score, latestText, prevText, growthText, priceText, budgetsText, strings.Join(notes, " | "))

	vars := map[string]float64{VarBudgetScore: float64(score)}
	if latest != nil {
		vars[VarBudgetLatest] = latest.value
	}
	if prev != nil {
		vars[VarBudgetPrev] = prev.value
	}
	if growth != nil {
		vars[VarBudgetGrowthPct] = *growth
	}
	if price != nil {
		vars[VarStockPrice] = *price
	}

	return &Output{
		Observation: observation,
		MemoryDelta: memory.Delta{
			Variables:        vars,
			ToolObservations: map[string]string{string(BudgetAnalyst): observation},
		},
		Metadata: Metadata{
			Budget: &BudgetMeta{
				Rating:          r,
				Score:           score,
				GrowthPct:       growth,
				StockPrice:      price,
				BudgetsObserved: len(budgets),
			},
		},
	}
}

func labeled(b budgetItem, fallback string) string {
	label := fallback
	if b.year != 0 {
		label = strconv.Itoa(b.year)
	}
	return label + "=" + formatAmount(b.value)
}

// truthy mirrors JSON truthiness: missing, null, false, 0, "" and empty
// containers are false.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) > 0
		}
		return len(v.Map()) > 0
	default:
		return true
	}
}

// number reads a JSON number or numeric string.
func number(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
