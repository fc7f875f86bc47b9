package journal

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

func newTestJournal(t *testing.T) (*Journal, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	jnl, err := New(context.Background(), config.RedisConfig{
		Host: mr.Host(),
		Port: port,
	}, logging.NewStandardLogger("error", "development"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jnl.Close() })
	return jnl, mr
}

func outcomeFor(symbol string, cycle int64) *models.CycleOutcome {
	return &models.CycleOutcome{
		Cycle:      cycle,
		Symbol:     symbol,
		SkipReason: "no entry signal",
		Timestamp:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	jnl, _ := newTestJournal(t)
	ctx := context.Background()

	jnl.Record(ctx, outcomeFor("EURUSD", 1))
	jnl.Record(ctx, outcomeFor("GBPUSD", 1))
	jnl.Record(ctx, outcomeFor("EURUSD", 2))

	recent, err := jnl.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// Newest first.
	assert.Equal(t, int64(2), recent[0].Cycle)
	assert.Equal(t, "EURUSD", recent[0].Symbol)
	assert.Equal(t, "GBPUSD", recent[1].Symbol)
	assert.Equal(t, "no entry signal", recent[0].SkipReason)
}

func TestJournal_RecentHonorsLimit(t *testing.T) {
	jnl, _ := newTestJournal(t)
	ctx := context.Background()

	for cycle := int64(1); cycle <= 5; cycle++ {
		jnl.Record(ctx, outcomeFor("EURUSD", cycle))
	}

	recent, err := jnl.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].Cycle)
	assert.Equal(t, int64(4), recent[1].Cycle)
}

func TestJournal_LastPerSymbol(t *testing.T) {
	jnl, _ := newTestJournal(t)
	ctx := context.Background()

	jnl.Record(ctx, outcomeFor("EURUSD", 1))
	jnl.Record(ctx, outcomeFor("EURUSD", 7))

	last, err := jnl.Last(ctx, "EURUSD")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(7), last.Cycle)

	missing, err := jnl.Last(ctx, "USDJPY")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJournal_LastEntryExpires(t *testing.T) {
	jnl, mr := newTestJournal(t)
	ctx := context.Background()

	jnl.Record(ctx, outcomeFor("EURUSD", 1))
	mr.FastForward(8 * 24 * time.Hour)

	last, err := jnl.Last(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestJournal_ListTrimmed(t *testing.T) {
	jnl, mr := newTestJournal(t)
	ctx := context.Background()

	for cycle := int64(0); cycle < maxOutcomes+10; cycle++ {
		jnl.Record(ctx, outcomeFor("EURUSD", cycle))
	}

	items, err := mr.List(outcomesKey)
	require.NoError(t, err)
	assert.Len(t, items, maxOutcomes)
}

func TestJournal_SkipsUndecodableEntries(t *testing.T) {
	jnl, mr := newTestJournal(t)
	ctx := context.Background()

	jnl.Record(ctx, outcomeFor("EURUSD", 3))
	_, err := mr.Lpush(outcomesKey, "{not json")
	require.NoError(t, err)

	recent, err := jnl.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(3), recent[0].Cycle)
}

func TestJournal_BadAddressFailsFast(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{
		Host: "127.0.0.1",
		Port: 1,
	}, logging.NewStandardLogger("error", "development"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis ping"), "got %v", err)
}
