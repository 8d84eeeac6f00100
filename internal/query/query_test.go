package query

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-receipt-bot/internal/ledger"
	"telegram-receipt-bot/internal/model"
)

func seededEngine() *Engine {
	m := ledger.NewMemory()
	m.Seed(
		model.Transaction{ID: 1, Name: "Acme", Amount: decimal.RequireFromString("10.00"), Category: "Food"},
		model.Transaction{ID: 2, Name: "acme", Amount: decimal.RequireFromString("5.50"), Category: "Food"},
		model.Transaction{ID: 3, Name: "Beta", Amount: decimal.RequireFromString("20.00"), Category: "Transport"},
		model.Transaction{ID: 4, Name: "Acme", Amount: decimal.RequireFromString("4.50")},
	)
	return NewEngine(m)
}

func TestTransactionsForMatchesCaseInsensitive(t *testing.T) {
	e := seededEngine()

	rows, err := e.TransactionsFor(context.Background(), "ACME")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Insertion order is preserved.
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, int64(2), rows[1].ID)
	assert.Equal(t, int64(4), rows[2].ID)
}

func TestTransactionsForEmptyNameReturnsAll(t *testing.T) {
	e := seededEngine()

	rows, err := e.TransactionsFor(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestTotalFor(t *testing.T) {
	e := seededEngine()
	ctx := context.Background()

	total, err := e.TotalFor(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("20.00")), "got %s", total)

	// Idempotent: no intervening commits, identical result.
	again, err := e.TotalFor(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, again.Equal(total))

	missing, err := e.TotalFor(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}

func TestDistinctNamesSortedAsStored(t *testing.T) {
	e := seededEngine()

	names, err := e.DistinctNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Beta", "acme"}, names)
}

func TestStats(t *testing.T) {
	e := seededEngine()

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Count)
	assert.True(t, stats.Total.Equal(decimal.RequireFromString("40.00")), "got %s", stats.Total)
	assert.True(t, stats.Average.Equal(decimal.RequireFromString("10.00")), "got %s", stats.Average)
	assert.Equal(t, "Acme", stats.MostFrequentVendor)

	require.Len(t, stats.ByCategory, 3)
	// Sorted by amount descending; the empty category groups as Unknown.
	assert.Equal(t, "Transport", stats.ByCategory[0].Category)
	assert.Equal(t, "Food", stats.ByCategory[1].Category)
	assert.Equal(t, "Unknown", stats.ByCategory[2].Category)
	assert.True(t, stats.ByCategory[2].Total.Equal(decimal.RequireFromString("4.50")))
}

func TestStatsEmptyLedger(t *testing.T) {
	e := NewEngine(ledger.NewMemory())

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Count)
	assert.True(t, stats.Total.IsZero())
	assert.True(t, stats.Average.IsZero())
	assert.Empty(t, stats.ByCategory)
	assert.Empty(t, stats.MostFrequentVendor)
}
