package advisory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		action     models.Action
		confidence float64
		ok         bool
	}{
		{"plain buy", "BUY. Momentum supports an entry.\nConfidence: 0.8", models.ActionBuy, 0.8, true},
		{"plain sell", "I would SELL here.\nConfidence: 0.65", models.ActionSell, 0.65, true},
		{"hold wins when first", "HOLD for now, do not BUY yet", models.ActionHold, 0.5, true},
		{"first keyword wins", "SELL signal is stronger than the BUY case", models.ActionSell, 0.5, true},
		{"german wait maps to hold", "WARTEN, der Markt ist unklar", models.ActionHold, 0.5, true},
		{"wait maps to hold", "Best to WAIT for confirmation", models.ActionHold, 0.5, true},
		{"percentage confidence scaled", "BUY\nConfidence: 85", models.ActionBuy, 0.85, true},
		{"missing confidence defaults", "SELL", models.ActionSell, 0.5, true},
		{"lowercase works", "buy with confidence: 0.7", models.ActionBuy, 0.7, true},
		{"no keyword", "The market looks interesting today.", models.ActionHold, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, ok := ParseRecommendation(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.action, signal.Action)
			assert.InDelta(t, tt.confidence, signal.Confidence, 1e-9)
		})
	}
}

func TestParseRecommendation_ConfidenceClamped(t *testing.T) {
	signal, ok := ParseRecommendation("BUY\nConfidence: 0.999")
	require.True(t, ok)
	assert.LessOrEqual(t, signal.Confidence, 1.0)
	assert.GreaterOrEqual(t, signal.Confidence, 0.0)
}

func TestBuildPrompt_NamesIndicators(t *testing.T) {
	snap := &models.IndicatorSnapshot{
		Symbol:     "EURUSD",
		Timeframe:  "M15",
		Trend:      models.TrendBullish,
		RSI:        62.4,
		MACDLine:   0.00031,
		MACDSignal: 0.00022,
		Support:    &models.Level{Price: decimal.NewFromFloat(1.0810), Strength: 3},
		Resistance: &models.Level{Price: decimal.NewFromFloat(1.0920), Strength: 2},
		Bid:        decimal.NewFromFloat(1.0860),
		Ask:        decimal.NewFromFloat(1.0862),
	}

	prompt := BuildPrompt(snap)

	assert.Contains(t, prompt, "EURUSD")
	assert.Contains(t, prompt, "RSI(14): 62.40")
	assert.Contains(t, prompt, "support: 1.081")
	assert.Contains(t, prompt, "resistance: 1.092")
	assert.Contains(t, prompt, "BUY, SELL or HOLD")
}
