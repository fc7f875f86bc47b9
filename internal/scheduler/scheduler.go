package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/execution"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/market"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/risk"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/signal"
)

// Trader is the execution surface the scheduler drives. Implemented by
// execution.Executor.
type Trader interface {
	Submit(ctx context.Context, decision *models.CompositeDecision, assessment *models.RiskAssessment) (*models.OrderResult, error)
	Positions(ctx context.Context) ([]models.Position, error)
	ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error
	ClosePartial(ctx context.Context, ticket string, volume decimal.Decimal) error
	Account(ctx context.Context) (*models.AccountState, error)
	Spec(ctx context.Context, symbol string) (*models.SymbolSpec, error)
}

// Journal records cycle outcomes. Implemented by journal.Journal.
type Journal interface {
	Record(ctx context.Context, outcome *models.CycleOutcome)
}

// Notifier pushes operational events. Implemented by notify.Notifier.
type Notifier interface {
	TradeOpened(ctx context.Context, decision *models.CompositeDecision, result *models.OrderResult)
	PartialClose(ctx context.Context, pos *models.Position, volume string)
	SessionHalted(ctx context.Context, reason string)
	SymbolDisabled(ctx context.Context, symbol string, failures int)
	BreakerOpened(ctx context.Context, dependency string)
}

// Scheduler runs the trading loop: a cycle starts on a fixed cadence, walks
// a round-robin batch of symbols through the decision pipeline on a bounded
// worker pool, and manages open positions. Cycles never overlap; a cycle
// that outlasts the interval simply delays the next tick.
type Scheduler struct {
	cfg       *config.Config
	session   *SessionState
	provider  market.SnapshotProvider
	feed      market.Feed
	aggregate *signal.Aggregator
	risk      *risk.Manager
	trader    Trader
	layer     *resilience.Layer
	journal   Journal
	notifier  Notifier
	logger    logging.Logger

	// busy guards per-symbol work so a symbol is never processed twice
	// at once, even when position management and the decision pipeline
	// touch it in the same cycle.
	busy sync.Map

	// firedMu protects fired, the partial-close levels already taken per
	// ticket. Entries are dropped when the position disappears.
	firedMu sync.Mutex
	fired   map[string]map[int]bool

	// breakerOpen remembers each dependency's breaker state between cycles
	// so an opening is announced exactly once. Only RunCycle touches it.
	breakerOpen map[string]bool

	now func() time.Time
}

// New wires a scheduler from its collaborators.
func New(
	cfg *config.Config,
	session *SessionState,
	provider market.SnapshotProvider,
	feed market.Feed,
	aggregate *signal.Aggregator,
	riskMgr *risk.Manager,
	trader Trader,
	layer *resilience.Layer,
	jnl Journal,
	notifier Notifier,
	logger logging.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		session:     session,
		provider:    provider,
		feed:        feed,
		aggregate:   aggregate,
		risk:        riskMgr,
		trader:      trader,
		layer:       layer,
		journal:     jnl,
		notifier:    notifier,
		logger:      logger.WithComponent("scheduler"),
		fired:       make(map[string]map[int]bool),
		breakerOpen: make(map[string]bool),
		now:         time.Now,
	}
}

// Run executes cycles until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Trading.CycleInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full cycle: account refresh, position management,
// then the decision pipeline over the next symbol batch.
func (s *Scheduler) RunCycle(ctx context.Context) {
	cycle := s.session.BeginCycle()
	now := s.now()
	log := s.logger.WithCycle(cycle)
	log.Info("cycle started")
	defer s.notifyBreakerChanges(ctx)

	account := s.refreshAccount(ctx, log)

	positions, err := s.trader.Positions(ctx)
	if err != nil {
		log.WithError(err).Warn("position fetch failed")
		positions = nil
	}

	// Open positions are protected even while trading is halted.
	s.managePositions(ctx, cycle, positions)

	if s.session.Halted() {
		log.WithFields(map[string]interface{}{"reason": s.session.HaltReason()}).Info("cycle skipped: session halted")
		return
	}
	if account == nil {
		s.countCycleFailure(ctx, log)
		return
	}

	batch := s.session.NextBatch(s.cfg.Trading.WorkerPoolSize, now)
	if len(batch) == 0 {
		log.Info("no enabled symbols in rotation")
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := s.cfg.Trading.WorkerPoolSize
	if workers > len(batch) {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				outcome := s.processSymbol(ctx, cycle, symbol, account, positions)
				s.finishOutcome(ctx, log, outcome)
			}
		}()
	}
	for _, symbol := range batch {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	log.Info("cycle finished")
}

// refreshAccount pulls the account snapshot, feeds the daily P&L tracker
// and halts the session when the daily loss limit is breached.
func (s *Scheduler) refreshAccount(ctx context.Context, log logging.Logger) *models.AccountState {
	account, err := s.trader.Account(ctx)
	if err != nil {
		log.WithError(err).Warn("account fetch failed")
		return nil
	}
	s.session.UpdateEquity(account.Equity, s.now())

	maxLoss := decimal.NewFromFloat(s.cfg.Risk.MaxDailyLoss)
	if pnl := s.session.DailyPnL(); pnl.LessThanOrEqual(maxLoss) {
		reason := fmt.Sprintf("daily loss limit breached: %s", pnl.StringFixed(2))
		s.halt(ctx, reason)
	}
	return account
}

// processSymbol walks one symbol through snapshot, signal, risk and
// execution. A halt between stages abandons the remainder of the pipeline.
func (s *Scheduler) processSymbol(ctx context.Context, cycle int64, symbol string, account *models.AccountState, positions []models.Position) *models.CycleOutcome {
	outcome := &models.CycleOutcome{Cycle: cycle, Symbol: symbol, Timestamp: s.now()}
	log := s.logger.WithCycle(cycle).WithSymbol(symbol)

	if !s.tryLock(symbol) {
		outcome.SkipReason = "trade context busy"
		return outcome
	}
	defer s.unlock(symbol)

	spec, err := s.trader.Spec(ctx, symbol)
	if err != nil {
		s.haltIfFatal(ctx, err)
		outcome.Error = err.Error()
		return outcome
	}

	snap, err := s.fetchSnapshot(ctx, symbol)
	if err != nil {
		s.haltIfFatal(ctx, err)
		outcome.Error = err.Error()
		return outcome
	}

	if s.session.Halted() {
		outcome.SkipReason = "session halted"
		return outcome
	}

	decision := s.aggregate.Evaluate(ctx, symbol, snap)
	outcome.Decision = decision
	if decision.Action == models.ActionHold {
		outcome.SkipReason = "no entry signal"
		return outcome
	}

	assessment := s.risk.Assess(risk.AssessmentInput{
		Decision:      decision,
		Snapshot:      snap,
		Account:       *account,
		Spec:          *spec,
		OpenPositions: positions,
		Session:       s.session,
		Now:           s.now(),
	})
	outcome.Assessment = assessment
	if !assessment.Approved {
		outcome.SkipReason = assessment.VetoReason
		return outcome
	}

	if s.session.Halted() {
		outcome.SkipReason = "session halted"
		return outcome
	}

	result, err := s.trader.Submit(ctx, decision, assessment)
	if err != nil {
		s.haltIfFatal(ctx, err)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Order = result
	s.session.RecordTrade(symbol, s.now())
	if s.notifier != nil {
		s.notifier.TradeOpened(ctx, decision, result)
	}
	log.WithFields(map[string]interface{}{"ticket": result.Ticket}).Info("trade opened")
	return outcome
}

// fetchSnapshot pulls the indicator snapshot behind the brokerage
// protection chain, cached briefly so retries within a cycle reuse it.
func (s *Scheduler) fetchSnapshot(ctx context.Context, symbol string) (*models.IndicatorSnapshot, error) {
	key := "snapshot:" + symbol + ":" + s.cfg.Market.Timeframe
	out, err := s.layer.Call(ctx, execution.DependencyBrokerage, key, func(ctx context.Context) (interface{}, error) {
		return s.provider.Fetch(ctx, symbol, s.cfg.Market.Timeframe)
	})
	if err != nil {
		return nil, err
	}
	snap, ok := out.(*models.IndicatorSnapshot)
	if !ok {
		// The shared cache handed back something that is not a snapshot.
		// Drop the entry and halt rather than trade on corrupted state.
		s.layer.Invalidate(execution.DependencyBrokerage, key)
		return nil, errs.Newf(errs.KindFatal, "corrupted cache entry %q holds %T", key, out)
	}
	return snap, nil
}

// finishOutcome journals the outcome and applies failure accounting: symbol
// failure streaks, cycle failure count and the resulting halts.
func (s *Scheduler) finishOutcome(ctx context.Context, log logging.Logger, outcome *models.CycleOutcome) {
	if s.journal != nil {
		s.journal.Record(ctx, outcome)
	}
	if outcome.Error == "" {
		s.session.RecordSymbolSuccess(outcome.Symbol)
		return
	}

	log.WithSymbol(outcome.Symbol).WithFields(map[string]interface{}{
		"error": outcome.Error,
	}).Warn("symbol pipeline failed")

	streak, disabled := s.session.RecordSymbolFailure(
		outcome.Symbol,
		s.cfg.Trading.SymbolFailureLimit,
		s.cfg.Trading.SymbolCooldown,
		s.now(),
	)
	if disabled {
		log.WithSymbol(outcome.Symbol).Warn("symbol disabled for cooldown")
		if s.notifier != nil {
			s.notifier.SymbolDisabled(ctx, outcome.Symbol, streak)
		}
	}
	s.countCycleFailure(ctx, log)
}

// countCycleFailure bumps the cycle failure count and halts the session
// when it reaches the configured ceiling.
func (s *Scheduler) countCycleFailure(ctx context.Context, log logging.Logger) {
	failures := s.session.RecordCycleFailure()
	if s.cfg.Trading.MaxCycleFailures > 0 && failures >= s.cfg.Trading.MaxCycleFailures {
		s.halt(ctx, fmt.Sprintf("%d failures in one cycle", failures))
	}
}

// haltIfFatal halts the session when err marks corrupted shared state.
// Anything else is left to the ordinary failure accounting.
func (s *Scheduler) haltIfFatal(ctx context.Context, err error) {
	if errs.IsFatal(err) {
		s.halt(ctx, err.Error())
	}
}

// halt stops the session once and notifies. Repeat calls with the session
// already halted are no-ops.
func (s *Scheduler) halt(ctx context.Context, reason string) {
	if s.session.Halted() {
		return
	}
	s.session.Halt(reason)
	s.logger.WithFields(map[string]interface{}{"reason": reason}).Error("session halted")
	if s.notifier != nil {
		s.notifier.SessionHalted(ctx, reason)
	}
}

// managePositions runs the trailing-stop and partial-close pass over every
// open position.
func (s *Scheduler) managePositions(ctx context.Context, cycle int64, positions []models.Position) {
	live := make(map[string]bool, len(positions))
	for i := range positions {
		pos := &positions[i]
		live[pos.Ticket] = true
		s.managePosition(ctx, cycle, pos)
	}
	s.pruneFired(live)
}

func (s *Scheduler) managePosition(ctx context.Context, cycle int64, pos *models.Position) {
	log := s.logger.WithCycle(cycle).WithSymbol(pos.Symbol).WithFields(map[string]interface{}{
		"ticket": pos.Ticket,
	})

	if !s.tryLock(pos.Symbol) {
		return
	}
	defer s.unlock(pos.Symbol)

	spec, err := s.trader.Spec(ctx, pos.Symbol)
	if err != nil {
		log.WithError(err).Warn("spec fetch failed during position pass")
		return
	}
	quote, err := s.fetchQuote(ctx, pos.Symbol)
	if err != nil {
		s.haltIfFatal(ctx, err)
		log.WithError(err).Warn("quote fetch failed during position pass")
		return
	}

	// Exits settle at the opposite side of the book.
	current := quote.Bid
	if pos.Side == models.ActionSell {
		current = quote.Ask
	}

	if stop, ok := s.risk.TrailingStop(pos, current, *spec); ok {
		if err := s.trader.ModifyStops(ctx, pos.Ticket, stop, pos.TakeProfit); err != nil {
			log.WithError(err).Warn("trailing stop update failed")
		} else {
			log.WithFields(map[string]interface{}{"stop": stop.String()}).Info("trailing stop advanced")
		}
	}

	for _, order := range s.risk.DuePartialCloses(pos, current, *spec, s.firedLevels(pos.Ticket)) {
		if err := s.trader.ClosePartial(ctx, pos.Ticket, order.Volume); err != nil {
			log.WithError(err).Warn("partial close failed")
			continue
		}
		s.markFired(pos.Ticket, order.LevelIndex)
		pos.OpenVolume = pos.OpenVolume.Sub(order.Volume)
		log.WithFields(map[string]interface{}{
			"level":  order.LevelIndex,
			"volume": order.Volume.String(),
		}).Info("partial close taken")
		if s.notifier != nil {
			s.notifier.PartialClose(ctx, pos, order.Volume.String())
		}
	}
}

// notifyBreakerChanges announces dependencies whose circuit breaker opened
// since the previous cycle.
func (s *Scheduler) notifyBreakerChanges(ctx context.Context) {
	for dep, stats := range s.layer.Stats() {
		open := stats.Breaker.State == "open"
		if open && !s.breakerOpen[dep] {
			s.logger.WithDependency(dep).Warn("circuit breaker opened")
			if s.notifier != nil {
				s.notifier.BreakerOpened(ctx, dep)
			}
		}
		s.breakerOpen[dep] = open
	}
}

func (s *Scheduler) fetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	out, err := s.layer.Call(ctx, execution.DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		q, err := s.feed.Quote(ctx, symbol)
		if err != nil {
			return nil, errs.Wrap(errs.KindConnection, "quote fetch failed", err)
		}
		return &q, nil
	})
	if err != nil {
		return nil, err
	}
	quote, ok := out.(*market.Quote)
	if !ok {
		return nil, errs.Newf(errs.KindFatal, "quote payload for %s holds %T", symbol, out)
	}
	return quote, nil
}

func (s *Scheduler) tryLock(symbol string) bool {
	_, loaded := s.busy.LoadOrStore(symbol, struct{}{})
	return !loaded
}

func (s *Scheduler) unlock(symbol string) {
	s.busy.Delete(symbol)
}

// firedLevels returns a copy of the ladder levels already taken for a
// ticket.
func (s *Scheduler) firedLevels(ticket string) map[int]bool {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	fired := make(map[int]bool, len(s.fired[ticket]))
	for level := range s.fired[ticket] {
		fired[level] = true
	}
	return fired
}

func (s *Scheduler) markFired(ticket string, level int) {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	if s.fired[ticket] == nil {
		s.fired[ticket] = make(map[int]bool)
	}
	s.fired[ticket][level] = true
}

// pruneFired drops ladder tracking for tickets no longer open.
func (s *Scheduler) pruneFired(live map[string]bool) {
	s.firedMu.Lock()
	defer s.firedMu.Unlock()
	for ticket := range s.fired {
		if !live[ticket] {
			delete(s.fired, ticket)
		}
	}
}
