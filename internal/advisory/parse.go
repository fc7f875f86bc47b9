package advisory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([0-9]*\.?[0-9]+)`)

// defaultConfidence is assumed when a model states a direction without a
// usable confidence figure.
const defaultConfidence = 0.5

// ParseRecommendation extracts an action and confidence from free-form
// model output. The first actionable keyword wins; "WARTEN" and "WAIT" map
// to HOLD. Confidence is clamped into [0,1]; values that read like
// percentages are scaled down.
func ParseRecommendation(text string) (*models.AdvisorySignal, bool) {
	upper := strings.ToUpper(text)

	var action models.Action
	buyIdx := strings.Index(upper, "BUY")
	sellIdx := strings.Index(upper, "SELL")
	holdIdx := firstIndex(upper, "HOLD", "WARTEN", "WAIT")

	switch {
	case buyIdx < 0 && sellIdx < 0 && holdIdx < 0:
		return nil, false
	case holdIdx >= 0 && (buyIdx < 0 || holdIdx < buyIdx) && (sellIdx < 0 || holdIdx < sellIdx):
		action = models.ActionHold
	case sellIdx >= 0 && (buyIdx < 0 || sellIdx < buyIdx):
		action = models.ActionSell
	default:
		action = models.ActionBuy
	}

	confidence := defaultConfidence
	if m := confidencePattern.FindStringSubmatch(text); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if v > 1 {
				v /= 100
			}
			confidence = v
		}
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &models.AdvisorySignal{
		Action:     action,
		Confidence: confidence,
		Reasoning:  firstLine(text),
	}, true
}

// BuildPrompt assembles the analysis request for one snapshot, naming the
// indicator readings the model should weigh.
func BuildPrompt(snap *models.IndicatorSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s (%s) for a trading decision.\n", snap.Symbol, snap.Timeframe)
	fmt.Fprintf(&b, "Trend: %s (strength %.5f)\n", snap.Trend, snap.TrendStrength)
	fmt.Fprintf(&b, "RSI(14): %.2f\n", snap.RSI)
	fmt.Fprintf(&b, "MACD: line %.6f signal %.6f histogram %.6f\n", snap.MACDLine, snap.MACDSignal, snap.MACDHistogram)
	if snap.Support != nil {
		fmt.Fprintf(&b, "Nearest support: %s (strength %d)\n", snap.Support.Price.String(), snap.Support.Strength)
	}
	if snap.Resistance != nil {
		fmt.Fprintf(&b, "Nearest resistance: %s (strength %d)\n", snap.Resistance.Price.String(), snap.Resistance.Strength)
	}
	fmt.Fprintf(&b, "Bid %s / Ask %s\n", snap.Bid.String(), snap.Ask.String())
	b.WriteString("Consider overbought/oversold conditions, MACD crossings and momentum, ")
	b.WriteString("breakouts or bounces at support/resistance, and the prevailing trend.\n")
	b.WriteString("Answer with exactly one of BUY, SELL or HOLD, a line 'Confidence: <0..1>', and a one-line reason.")
	return b.String()
}

func firstIndex(s string, subs ...string) int {
	best := -1
	for _, sub := range subs {
		if i := strings.Index(s, sub); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
