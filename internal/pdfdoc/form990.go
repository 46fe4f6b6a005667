package pdfdoc

import (
	"regexp"
	"strconv"
	"strings"
)

// Form990Data is the deterministic parser's output. Every numeric
// field is validated against financialBounds before being set; a
// field that fails validation is left at its zero value rather than
// stored with a suspect number.
//
// Grounded on original_source/data-pipeline/src/parsers/form_990_parser.py's
// Form990Data dataclass, trimmed to the fields a regex-over-flattened-text
// approach can recover reliably.
type Form990Data struct {
	OrganizationName string
	EIN              string
	FiscalYear       int
	MissionStatement string
	TotalRevenue     float64
	TotalExpenses    float64
	ProgramExpenses  float64
	NetAssets        float64
}

// financialBounds are spec.md §4.7's "plausibility bounds on every
// numeric field", verbatim from original_source's FINANCIAL_BOUNDS
// table.
var financialBounds = map[string][2]float64{
	"total_revenue":    {100, 50_000_000_000},
	"total_expenses":   {100, 50_000_000_000},
	"program_expenses": {0, 50_000_000_000},
	"net_assets":       {-10_000_000_000, 100_000_000_000},
}

func withinBounds(field string, value float64) bool {
	b, ok := financialBounds[field]
	if !ok {
		return true
	}
	return value >= b[0] && value <= b[1]
}

var (
	einRe             = regexp.MustCompile(`(\d{2})-?(\d{7})`)
	fiscalYearLineRe  = regexp.MustCompile(`(?i)(\d{4})\s+Form\s*990`)
	totalRevenueRe    = regexp.MustCompile(`(?im)Total revenue[^\n]+?([\d,]+)\.\s*$`)
	totalExpensesRe   = regexp.MustCompile(`(?im)Total expenses[^\n]+?([\d,]+)\.\s*$`)
	programExpensesRe = regexp.MustCompile(`(?im)Program service expenses[^\n]+?([\d,]+)\.\s*$`)
	netAssetsRe       = regexp.MustCompile(`(?im)Net assets or fund balances[^\n]+?([\d,]+)\.\s*$`)
	missionRe         = regexp.MustCompile(`(?i)Briefly describe[^:]*?activities:?\s+([^\n]{20,400})`)
)

func parseFinancial(re *regexp.Regexp, text, field string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if !withinBounds(field, value) {
		return 0, false
	}
	return value, true
}

// ParseForm990 runs the deterministic regex-over-text-extracted-pages
// parser from spec.md §4.7. found reports whether at least one field
// was recovered; callers fall back to LLM extraction when it is
// false, since an empty Form990Data is indistinguishable from "this
// wasn't really a Form 990" otherwise.
func ParseForm990(pdfBytes []byte) (data Form990Data, found bool) {
	text := extractText(pdfBytes)
	if len(text) < 100 {
		return Form990Data{}, false
	}

	if m := einRe.FindStringSubmatch(text); m != nil {
		data.EIN = m[1] + "-" + m[2]
		found = true
	}
	if m := fiscalYearLineRe.FindStringSubmatch(text); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil && year >= 1990 && year <= 2100 {
			data.FiscalYear = year
			found = true
		}
	}
	if v, ok := parseFinancial(totalRevenueRe, text, "total_revenue"); ok {
		data.TotalRevenue = v
		found = true
	}
	if v, ok := parseFinancial(totalExpensesRe, text, "total_expenses"); ok {
		data.TotalExpenses = v
		found = true
	}
	if v, ok := parseFinancial(programExpensesRe, text, "program_expenses"); ok {
		data.ProgramExpenses = v
		found = true
	}
	if v, ok := parseFinancial(netAssetsRe, text, "net_assets"); ok {
		data.NetAssets = v
		found = true
	}
	if m := missionRe.FindStringSubmatch(text); m != nil {
		data.MissionStatement = strings.TrimSpace(m[1])
		found = true
	}

	return data, found
}
