package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// Notifier pushes operational events to a Telegram chat. Without a bot
// token it degrades to a no-op so trading never depends on Telegram being
// reachable or configured.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	logger logging.Logger
}

// New builds a notifier. An empty bot token yields a disabled notifier and
// no error.
func New(cfg config.TelegramConfig, logger logging.Logger) (*Notifier, error) {
	n := &Notifier{chatID: cfg.ChatID, logger: logger.WithComponent("notify")}
	if cfg.BotToken == "" {
		n.logger.Info("telegram notifications disabled")
		return n, nil
	}
	b, err := bot.New(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	n.bot = b
	return n, nil
}

func (n *Notifier) send(ctx context.Context, text string) {
	if n.bot == nil {
		return
	}
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.WithError(err).Warn("failed to send telegram message")
	}
}

// TradeOpened announces a filled order.
func (n *Notifier) TradeOpened(ctx context.Context, decision *models.CompositeDecision, result *models.OrderResult) {
	n.send(ctx, fmt.Sprintf("Opened %s %s %s lots (ticket %s, confidence %.2f)",
		decision.Action, decision.Symbol, result.FilledVolume.String(), result.Ticket, decision.Confidence))
}

// PartialClose announces a ladder level firing.
func (n *Notifier) PartialClose(ctx context.Context, pos *models.Position, volume string) {
	n.send(ctx, fmt.Sprintf("Partial close %s: %s of ticket %s", pos.Symbol, volume, pos.Ticket))
}

// SessionHalted announces that trading stopped and why.
func (n *Notifier) SessionHalted(ctx context.Context, reason string) {
	n.send(ctx, "Trading halted: "+reason)
}

// SymbolDisabled announces a symbol leaving the rotation.
func (n *Notifier) SymbolDisabled(ctx context.Context, symbol string, failures int) {
	n.send(ctx, fmt.Sprintf("Symbol %s disabled after %d consecutive failures", symbol, failures))
}

// BreakerOpened announces a dependency's circuit breaker opening.
func (n *Notifier) BreakerOpened(ctx context.Context, dependency string) {
	n.send(ctx, "Circuit breaker open for "+dependency)
}
