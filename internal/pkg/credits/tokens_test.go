package credits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromTokens(t *testing.T) {
	tests := []struct {
		model  string
		tokens int64
		want   string
	}{
		{"gpt-4o", 2500, "2.5"},
		{"gpt-4o-mini", 1234, "0.1234"},
		{"gemini-1.5-pro", 1000, "0.6667"},
		{"claude-3-haiku", 1, "0.0001"},
		{"gpt-4.1-mini", 0, "0"},
		{"unknown-model", 1500, "1.5"},
		{"GPT-4O", 1000, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := FromTokens(tt.model, tt.tokens)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestTokensPerCreditDefault(t *testing.T) {
	tpc, known := TokensPerCredit("mystery")
	assert.False(t, known)
	assert.Equal(t, DefaultTokensPerCredit, tpc)
}

func TestModelLabel(t *testing.T) {
	assert.Equal(t, "gpt-4o", ModelLabel(" GPT-4o "))
	assert.Equal(t, "unknown", ModelLabel("my-finetune-2024-10-14"))
	assert.Equal(t, "unknown", ModelLabel(""))
}
