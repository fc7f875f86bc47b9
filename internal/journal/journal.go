package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

const (
	outcomesKey = "trader:outcomes"
	lastKeyFmt  = "trader:last:%s"

	// maxOutcomes bounds the journal list so it never grows unchecked.
	maxOutcomes = 1000
)

// Journal persists per-symbol cycle outcomes in Redis. It is an audit trail;
// trading never depends on it, so failures are logged and swallowed.
type Journal struct {
	client *redis.Client
	logger logging.Logger
	ttl    time.Duration
}

// New connects a journal to Redis. The connection is verified so a
// misconfigured address fails at startup rather than on the first cycle.
func New(ctx context.Context, cfg config.RedisConfig, logger logging.Logger) (*Journal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Journal{
		client: client,
		logger: logger.WithComponent("journal"),
		ttl:    7 * 24 * time.Hour,
	}, nil
}

// Record appends an outcome to the journal and updates the per-symbol
// latest entry.
func (j *Journal) Record(ctx context.Context, outcome *models.CycleOutcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		j.logger.WithError(err).Warn("failed to encode outcome")
		return
	}

	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, outcomesKey, payload)
	pipe.LTrim(ctx, outcomesKey, 0, maxOutcomes-1)
	lastKey := fmt.Sprintf(lastKeyFmt, outcome.Symbol)
	pipe.Set(ctx, lastKey, payload, j.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		j.logger.WithSymbol(outcome.Symbol).WithError(err).Warn("failed to journal outcome")
	}
}

// Recent returns up to n outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]*models.CycleOutcome, error) {
	raw, err := j.client.LRange(ctx, outcomesKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	outcomes := make([]*models.CycleOutcome, 0, len(raw))
	for _, item := range raw {
		var outcome models.CycleOutcome
		if err := json.Unmarshal([]byte(item), &outcome); err != nil {
			j.logger.WithError(err).Warn("skipping undecodable journal entry")
			continue
		}
		outcomes = append(outcomes, &outcome)
	}
	return outcomes, nil
}

// Last returns the most recent outcome for a symbol, or nil when the symbol
// has no journaled cycle yet.
func (j *Journal) Last(ctx context.Context, symbol string) (*models.CycleOutcome, error) {
	raw, err := j.client.Get(ctx, fmt.Sprintf(lastKeyFmt, symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var outcome models.CycleOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &outcome, nil
}

// Close releases the Redis connection.
func (j *Journal) Close() error {
	return j.client.Close()
}
