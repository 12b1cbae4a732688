// Package credits converts model token usage into workspace credits.
package credits

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTokensPerCredit applies to models missing from the table.
const DefaultTokensPerCredit int64 = 1000

// Precision is the number of decimal places credits are rounded to.
const Precision int32 = 4

var tokensPerCredit = map[string]int64{
	"gpt-4o":            1000,
	"gpt-4o-mini":       10000,
	"gpt-4.1":           1000,
	"gpt-4.1-mini":      5000,
	"claude-3-5-sonnet": 1000,
	"claude-3-haiku":    8000,
	"gemini-1.5-pro":    1500,
	"gemini-1.5-flash":  10000,
}

// TokensPerCredit returns the conversion rate for model and whether the
// model is known.
func TokensPerCredit(model string) (int64, bool) {
	tpc, ok := tokensPerCredit[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		return DefaultTokensPerCredit, false
	}
	return tpc, true
}

// ModelLabel is the metric label for model: its canonical name when the
// rate table knows it, "unknown" otherwise.
func ModelLabel(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	if _, ok := tokensPerCredit[name]; !ok {
		return "unknown"
	}
	return name
}

// FromTokens returns round(tokens / TPC(model), 4).
func FromTokens(model string, tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	tpc, _ := TokensPerCredit(model)
	return decimal.NewFromInt(tokens).
		DivRound(decimal.NewFromInt(tpc), Precision+4).
		Round(Precision)
}
