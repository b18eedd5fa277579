package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

func seedCandle(t *testing.T, ms *store.MemoryStore, code string, date calendar.TradingDate, close float64) {
	t.Helper()
	err := ms.UpsertCandle(context.Background(), &model.Candle{
		InstrumentCode: code,
		Date:           date,
		Open:           d(close),
		High:           d(close),
		Low:            d(close),
		Close:          d(close),
		Volume:         1000,
	})
	require.NoError(t, err)
}

func seedUser(ms *store.MemoryStore, id string, initialCapital float64, createdAt time.Time) {
	ms.AddUser(model.User{
		ID:             id,
		Nickname:       id,
		InitialCapital: d(initialCapital),
		Cash:           d(initialCapital),
		League:         model.LeagueRookie,
		CreatedAt:      createdAt,
	})
}

// TestReconstruct_HistoricalValuation is the core correctness scenario:
// each day is valued with that day's close, so the series must move as
// historical prices move; a flat line at today's valuation is a defect.
func TestReconstruct_HistoricalValuation(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)
	ctx := context.Background()

	today := calendar.Today()
	dayBuy := today.AddDays(-4)
	dayMid := today.AddDays(-2)

	createdAt := dayBuy.Time().Add(9 * time.Hour)
	seedUser(ms, "u1", 10_000_000, createdAt)
	ms.AddTransaction(model.Transaction{
		UserID:         "u1",
		Type:           model.TxBuy,
		InstrumentCode: "005930",
		Quantity:       d(10),
		Price:          d(68000),
		Fee:            decimal.Zero,
		Timestamp:      createdAt.Add(time.Hour),
	})

	seedCandle(t, ms, "005930", dayBuy, 68000)
	seedCandle(t, ms, "005930", dayMid, 69000)
	seedCandle(t, ms, "005930", today, 70000)

	snaps, err := r.Reconstruct(ctx, "u1", dayBuy, today, false)
	require.NoError(t, err)
	require.Len(t, snaps, 5)

	// Day of purchase: cash 9,320,000 + 10×68,000 = 10,000,000, return 0%.
	assert.True(t, snaps[0].Cash.Equal(d(9_320_000)), "cash %s", snaps[0].Cash)
	assert.True(t, snaps[0].TotalAssets.Equal(d(10_000_000)), "assets %s", snaps[0].TotalAssets)
	assert.True(t, snaps[0].TotalReturn.IsZero(), "return %s", snaps[0].TotalReturn)

	// Mid date: historical close 69,000 → 10,010,000, +0.10%.
	assert.True(t, snaps[2].TotalAssets.Equal(d(10_010_000)), "assets %s", snaps[2].TotalAssets)
	assert.True(t, snaps[2].TotalReturn.Equal(d(0.1)), "return %s", snaps[2].TotalReturn)

	// Today: close 70,000 → 10,020,000, +0.20%.
	assert.True(t, snaps[4].TotalAssets.Equal(d(10_020_000)), "assets %s", snaps[4].TotalAssets)
	assert.True(t, snaps[4].TotalReturn.Equal(d(0.2)), "return %s", snaps[4].TotalReturn)

	// The three valuations must all differ.
	assert.False(t, snaps[0].TotalAssets.Equal(snaps[2].TotalAssets))
	assert.False(t, snaps[2].TotalAssets.Equal(snaps[4].TotalAssets))
}

func TestReconstruct_GapFallsBackToPriorClose(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	dayBuy := today.AddDays(-3)
	createdAt := dayBuy.Time().Add(9 * time.Hour)
	seedUser(ms, "u1", 1_000_000, createdAt)
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxBuy, InstrumentCode: "005930",
		Quantity: d(5), Price: d(10000), Fee: decimal.Zero,
		Timestamp: createdAt,
	})
	// Only the purchase day has a candle; later days fall back to it.
	seedCandle(t, ms, "005930", dayBuy, 10000)

	snaps, err := r.Reconstruct(context.Background(), "u1", dayBuy, today, false)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	for _, s := range snaps {
		assert.True(t, s.TotalAssets.Equal(d(1_000_000)), "date %s assets %s", s.Date, s.TotalAssets)
		assert.Empty(t, s.PriceGaps)
	}
}

func TestReconstruct_WideGapIsSurfacedNotFalsified(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	start := today.AddDays(-20)
	createdAt := start.Time().Add(9 * time.Hour)
	seedUser(ms, "u1", 1_000_000, createdAt)
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxBuy, InstrumentCode: "005930",
		Quantity: d(5), Price: d(10000), Fee: decimal.Zero,
		Timestamp: createdAt,
	})
	// No candle anywhere within the lookback of today.
	seedCandle(t, ms, "005930", start, 10000)

	snaps, err := r.Reconstruct(context.Background(), "u1", today, today, false)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	// The holding is excluded and the gap named; cash-only valuation.
	assert.Equal(t, []string{"005930"}, snaps[0].PriceGaps)
	assert.True(t, snaps[0].TotalAssets.Equal(d(950_000)), "assets %s", snaps[0].TotalAssets)
}

func TestReconstruct_SellRestoresCash(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	dayBuy := today.AddDays(-2)
	createdAt := dayBuy.Time().Add(9 * time.Hour)
	seedUser(ms, "u1", 1_000_000, createdAt)
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxBuy, InstrumentCode: "005930",
		Quantity: d(10), Price: d(10000), Fee: d(100),
		Timestamp: createdAt,
	})
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxSell, InstrumentCode: "005930",
		Quantity: d(10), Price: d(11000), Fee: d(100),
		Timestamp: createdAt.Add(24 * time.Hour),
	})
	seedCandle(t, ms, "005930", dayBuy, 10000)
	seedCandle(t, ms, "005930", dayBuy.AddDays(1), 11000)
	seedCandle(t, ms, "005930", today, 12000)

	snaps, err := r.Reconstruct(context.Background(), "u1", dayBuy, today, false)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	// After the sell: 1,000,000 - 100,100 + 109,900 = 1,009,800, no holdings.
	final := snaps[2]
	assert.True(t, final.Cash.Equal(d(1_009_800)), "cash %s", final.Cash)
	assert.True(t, final.TotalAssets.Equal(final.Cash))
}

func TestReconstruct_TradingDaysOnlyExcludesWeekends(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	start := today.AddDays(-13) // always spans at least one weekend
	seedUser(ms, "u1", 1_000_000, start.Time())

	snaps, err := r.Reconstruct(context.Background(), "u1", start, today, true)
	require.NoError(t, err)
	for _, s := range snaps {
		assert.False(t, s.Date.IsWeekend(), "weekend snapshot %s", s.Date)
	}
}

func TestReconstruct_UnknownUser(t *testing.T) {
	r := NewReconstructor(store.NewMemoryStore())
	_, err := r.Reconstruct(context.Background(), "ghost", calendar.Today(), calendar.Today(), false)
	require.Error(t, err)
}

func TestCurrentHoldings_AvgPriceRule(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	createdAt := today.AddDays(-5).Time()
	seedUser(ms, "u1", 10_000_000, createdAt)

	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxBuy, InstrumentCode: "005930",
		Quantity: d(10), Price: d(68000), Fee: decimal.Zero, Timestamp: createdAt,
	})
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxBuy, InstrumentCode: "005930",
		Quantity: d(10), Price: d(70000), Fee: decimal.Zero, Timestamp: createdAt.Add(time.Hour),
	})
	ms.AddTransaction(model.Transaction{
		UserID: "u1", Type: model.TxSell, InstrumentCode: "005930",
		Quantity: d(5), Price: d(71000), Fee: decimal.Zero, Timestamp: createdAt.Add(2 * time.Hour),
	})
	seedCandle(t, ms, "005930", today, 70000)

	holdings, err := r.CurrentHoldings(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)

	h := holdings[0]
	assert.True(t, h.Quantity.Equal(d(15)), "qty %s", h.Quantity)
	// Selling does not move the average: still 69,000.
	assert.True(t, h.AvgPrice.Equal(d(69000)), "avg %s", h.AvgPrice)
	assert.True(t, h.CurrentPrice.Equal(d(70000)), "price %s", h.CurrentPrice)
}

func TestSnapshotAllUsers_SkipsNotYetCreated(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewReconstructor(ms)

	today := calendar.Today()
	date := today.AddDays(-1)
	seedUser(ms, "old", 1_000_000, date.AddDays(-10).Time())
	seedUser(ms, "new", 1_000_000, today.Time())

	summary := r.SnapshotAllUsers(context.Background(), date)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)

	_, err := ms.GetSnapshot(context.Background(), "old", date)
	assert.NoError(t, err)
}
