package scheduler

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// symbolState tracks a symbol's health within the rotation.
type symbolState struct {
	consecutiveFailures int
	disabledUntil       time.Time
	lastTradeAt         time.Time
	traded              bool
}

// SessionState is the mutable state of one trading session. The scheduler
// is its single writer; workers and the status API read it concurrently, so
// every accessor locks.
type SessionState struct {
	mu sync.RWMutex

	symbols []string
	cursor  int

	halted     bool
	haltReason string

	// dayStartEquity anchors the daily P&L; it resets at the first
	// equity update of each calendar day.
	day            time.Time
	dayStartEquity decimal.Decimal
	equity         decimal.Decimal
	haveEquity     bool

	perSymbol map[string]*symbolState

	cycle         int64
	cycleFailures int
}

// NewSessionState creates session state over the configured symbol list.
func NewSessionState(symbols []string) *SessionState {
	perSymbol := make(map[string]*symbolState, len(symbols))
	for _, s := range symbols {
		perSymbol[s] = &symbolState{}
	}
	return &SessionState{
		symbols:   append([]string(nil), symbols...),
		perSymbol: perSymbol,
	}
}

// Halted reports whether trading is stopped.
func (s *SessionState) Halted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}

// HaltReason returns why the session halted, or "".
func (s *SessionState) HaltReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haltReason
}

// Halt stops trading. The first reason wins until cleared.
func (s *SessionState) Halt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted {
		s.halted = true
		s.haltReason = reason
	}
}

// ClearHalt resumes trading after operator intervention.
func (s *SessionState) ClearHalt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = false
	s.haltReason = ""
}

// UpdateEquity records the account equity, resetting the daily anchor on
// the first update of a new calendar day.
func (s *SessionState) UpdateEquity(equity decimal.Decimal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.Truncate(24 * time.Hour)
	if !s.haveEquity || !day.Equal(s.day) {
		s.day = day
		s.dayStartEquity = equity
		s.haveEquity = true
	}
	s.equity = equity
}

// DailyPnL is today's equity change. Zero before the first equity update.
func (s *SessionState) DailyPnL() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveEquity {
		return decimal.Zero
	}
	return s.equity.Sub(s.dayStartEquity)
}

// LastTradeAt returns when the symbol last traded in this session.
func (s *SessionState) LastTradeAt(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.perSymbol[symbol]
	if !ok || !st.traded {
		return time.Time{}, false
	}
	return st.lastTradeAt, true
}

// RecordTrade notes a fill and resets the symbol's failure streak.
func (s *SessionState) RecordTrade(symbol string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.perSymbol[symbol]; ok {
		st.lastTradeAt = at
		st.traded = true
		st.consecutiveFailures = 0
	}
}

// RecordSymbolSuccess resets the symbol's failure streak.
func (s *SessionState) RecordSymbolSuccess(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.perSymbol[symbol]; ok {
		st.consecutiveFailures = 0
	}
}

// RecordSymbolFailure bumps the symbol's failure streak and disables the
// symbol for cooldown once the streak reaches limit. It returns the streak
// and whether this call disabled the symbol.
func (s *SessionState) RecordSymbolFailure(symbol string, limit int, cooldown time.Duration, now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.perSymbol[symbol]
	if !ok {
		return 0, false
	}
	st.consecutiveFailures++
	if limit > 0 && st.consecutiveFailures >= limit && st.disabledUntil.Before(now) {
		st.disabledUntil = now.Add(cooldown)
		return st.consecutiveFailures, true
	}
	return st.consecutiveFailures, false
}

// NextBatch advances the rotation cursor and returns up to n symbols that
// are currently enabled. A symbol's cooldown expiring re-enables it without
// operator action; its failure streak restarts from zero.
func (s *SessionState) NextBatch(n int, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.symbols) == 0 || n <= 0 {
		return nil
	}

	batch := make([]string, 0, n)
	for scanned := 0; scanned < len(s.symbols) && len(batch) < n; scanned++ {
		symbol := s.symbols[s.cursor]
		s.cursor = (s.cursor + 1) % len(s.symbols)

		st := s.perSymbol[symbol]
		if st.disabledUntil.After(now) {
			continue
		}
		if !st.disabledUntil.IsZero() && !st.disabledUntil.After(now) {
			st.disabledUntil = time.Time{}
			st.consecutiveFailures = 0
		}
		batch = append(batch, symbol)
	}
	return batch
}

// BeginCycle increments the cycle counter and clears the per-cycle failure
// count. It returns the new cycle number.
func (s *SessionState) BeginCycle() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++
	s.cycleFailures = 0
	return s.cycle
}

// RecordCycleFailure bumps this cycle's failure count and returns it.
func (s *SessionState) RecordCycleFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleFailures++
	return s.cycleFailures
}

// Snapshot is a point-in-time view of the session for the status API.
type Snapshot struct {
	Cycle         int64           `json:"cycle"`
	Halted        bool            `json:"halted"`
	HaltReason    string          `json:"halt_reason,omitempty"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	Equity        decimal.Decimal `json:"equity"`
	CycleFailures int             `json:"cycle_failures"`
	Disabled      []string        `json:"disabled_symbols,omitempty"`
}

// View returns the current session snapshot.
func (s *SessionState) View(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Cycle:         s.cycle,
		Halted:        s.halted,
		HaltReason:    s.haltReason,
		DailyPnL:      s.equity.Sub(s.dayStartEquity),
		Equity:        s.equity,
		CycleFailures: s.cycleFailures,
	}
	if !s.haveEquity {
		snap.DailyPnL = decimal.Zero
	}
	for _, symbol := range s.symbols {
		if s.perSymbol[symbol].disabledUntil.After(now) {
			snap.Disabled = append(snap.Disabled, symbol)
		}
	}
	return snap
}
