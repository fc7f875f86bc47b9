package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is a trading verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// TrendDirection labels the higher-timeframe trend.
type TrendDirection string

const (
	TrendBullish TrendDirection = "BULLISH"
	TrendBearish TrendDirection = "BEARISH"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// Level is a support or resistance price with a touch-count strength.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Strength int             `json:"strength"`
}

// IndicatorSnapshot is the per-symbol technical picture produced upstream
// each cycle. Read-only; discarded after the cycle.
type IndicatorSnapshot struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Trend     TrendDirection `json:"trend"`
	// TrendStrength is the relative EMA spread backing the trend label.
	TrendStrength float64 `json:"trend_strength"`

	RSI           float64 `json:"rsi"`
	MACDLine      float64 `json:"macd_line"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`

	Support    *Level `json:"support,omitempty"`
	Resistance *Level `json:"resistance,omitempty"`

	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
	// PipSize is the price increment of one pip for the symbol.
	PipSize decimal.Decimal `json:"pip_size"`

	Timestamp time.Time `json:"timestamp"`
}

// AdvisorySignal is the model vote returned by the advisory provider.
// Confidence is always kept in [0,1]; absence of a signal (provider
// unavailable) is a valid outcome.
type AdvisorySignal struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StageVote records one pipeline stage's verdict for the decision trace.
type StageVote struct {
	Stage  string `json:"stage"`
	Action Action `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// CompositeDecision merges the rule filters and the advisory vote.
// Degraded marks a rule-only fallback taken because the advisory provider
// was unavailable.
type CompositeDecision struct {
	Symbol     string      `json:"symbol"`
	Action     Action      `json:"action"`
	Confidence float64     `json:"confidence"`
	Degraded   bool        `json:"degraded"`
	Votes      []StageVote `json:"votes"`
	CreatedAt  time.Time   `json:"created_at"`
}

// PartialCloseLevel is one rung of the partial-close ladder attached to an
// approved assessment. Targets are strictly increasing, fractions in (0,1],
// cumulative fraction at most 1.
type PartialCloseLevel struct {
	TargetPips float64 `json:"target_pips"`
	Fraction   float64 `json:"fraction"`
}

// RiskAssessment is the risk manager's verdict for one decision.
type RiskAssessment struct {
	Approved   bool                `json:"approved"`
	VetoReason string              `json:"veto_reason,omitempty"`
	LotSize    decimal.Decimal     `json:"lot_size"`
	StopLoss   decimal.Decimal     `json:"stop_loss"`
	TakeProfit decimal.Decimal     `json:"take_profit"`
	Ladder     []PartialCloseLevel `json:"ladder,omitempty"`
}

// AccountState is the brokerage account picture read by the risk manager.
type AccountState struct {
	Equity     decimal.Decimal `json:"equity"`
	Balance    decimal.Decimal `json:"balance"`
	FreeMargin decimal.Decimal `json:"free_margin"`
}

// SymbolSpec carries per-symbol contract arithmetic constants.
type SymbolSpec struct {
	Symbol string `json:"symbol"`
	// PipSize is the price increment of one pip.
	PipSize decimal.Decimal `json:"pip_size"`
	// PipValue is the account-currency value of one pip for one lot.
	PipValue decimal.Decimal `json:"pip_value"`
	// MarginPerLot is the margin required to open one lot.
	MarginPerLot decimal.Decimal `json:"margin_per_lot"`
	Digits       int             `json:"digits"`
}

// OrderStatus is the terminal state of an order submission.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	// OrderAmbiguous means the submission timed out with unknown outcome.
	OrderAmbiguous OrderStatus = "AMBIGUOUS"
)

// OrderRequest is a brokerage order submission. ClientID is the
// client-assigned idempotency identifier (symbol + sequence + session id).
type OrderRequest struct {
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Side       Action          `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Comment    string          `json:"comment,omitempty"`
}

// OrderResult is the brokerage response to a submission.
type OrderResult struct {
	ClientID     string          `json:"client_id"`
	Status       OrderStatus     `json:"status"`
	Ticket       string          `json:"ticket,omitempty"`
	FilledVolume decimal.Decimal `json:"filled_volume"`
	Error        string          `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Position is an open brokerage position.
type Position struct {
	Ticket   string `json:"ticket"`
	ClientID string `json:"client_id"`
	Symbol   string `json:"symbol"`
	Side     Action `json:"side"`
	// Volume is the original order size; OpenVolume is what remains open
	// after partial closes and is what the ladder fractions apply to.
	Volume     decimal.Decimal `json:"volume"`
	OpenVolume decimal.Decimal `json:"open_volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Profit     decimal.Decimal `json:"profit"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// CycleOutcome is the structured record produced for every symbol every
// cycle, whatever happened.
type CycleOutcome struct {
	Cycle      int64              `json:"cycle"`
	Symbol     string             `json:"symbol"`
	Decision   *CompositeDecision `json:"decision,omitempty"`
	Assessment *RiskAssessment    `json:"assessment,omitempty"`
	Order      *OrderResult       `json:"order,omitempty"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}
