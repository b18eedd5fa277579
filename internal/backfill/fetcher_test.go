package backfill

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricehistory"
	"github.com/stocksim/portfolio-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeSource serves canned candles per instrument and records call order.
type fakeSource struct {
	candles  map[string][]model.Candle
	failFor  map[string]bool
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSource) FetchDailyOHLCV(_ context.Context, code string, from, to calendar.TradingDate) ([]model.Candle, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if cur > f.maxSeen.Load() {
		f.maxSeen.Store(cur)
	}

	f.calls = append(f.calls, code)
	if f.failFor[code] {
		return nil, errors.New("quote source timeout")
	}
	return f.candles[code], nil
}

func validCandle(code string, date calendar.TradingDate, close float64) model.Candle {
	return model.Candle{
		InstrumentCode: code,
		Date:           date,
		Open:           d(close - 500),
		High:           d(close + 1000),
		Low:            d(close - 1000),
		Close:          d(close),
		Volume:         10_000,
	}
}

func newFetcherEnv(src *fakeSource) (*Fetcher, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	prices := pricehistory.NewService(ms)
	// High test rate so the limiter never slows the suite down.
	return NewFetcher(ms, src, prices, 10_000), ms
}

func TestBackfillInstrument_InsertsValidCandles(t *testing.T) {
	today := calendar.Today()
	src := &fakeSource{candles: map[string][]model.Candle{
		"005930": {
			validCandle("005930", today.AddDays(-2), 68000),
			validCandle("005930", today.AddDays(-1), 69000),
		},
	}}
	f, ms := newFetcherEnv(src)

	result := f.BackfillInstrument(context.Background(), "005930", 5)
	assert.Equal(t, 2, result.Inserted)
	assert.Empty(t, result.Errors)

	got, err := ms.GetCandle(context.Background(), "005930", today.AddDays(-1))
	require.NoError(t, err)
	assert.True(t, got.Close.Equal(d(69000)))
}

func TestBackfillInstrument_SkipsInvalidCandles(t *testing.T) {
	today := calendar.Today()
	bad := validCandle("005930", today.AddDays(-1), 69000)
	bad.Close = decimal.Zero

	src := &fakeSource{candles: map[string][]model.Candle{
		"005930": {validCandle("005930", today.AddDays(-2), 68000), bad},
	}}
	f, _ := newFetcherEnv(src)

	result := f.BackfillInstrument(context.Background(), "005930", 5)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Errors)
}

func TestBackfillInstrument_InvalidDayCount(t *testing.T) {
	f, _ := newFetcherEnv(&fakeSource{})
	result := f.BackfillInstrument(context.Background(), "005930", 0)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "dayCount")
}

func TestBackfillAll_FailureIsolatedPerInstrument(t *testing.T) {
	today := calendar.Today()
	src := &fakeSource{
		candles: map[string][]model.Candle{
			"000660": {validCandle("000660", today.AddDays(-1), 105000)},
			"035720": {validCandle("035720", today.AddDays(-1), 42000)},
		},
		failFor: map[string]bool{"005930": true},
	}
	f, ms := newFetcherEnv(src)
	ms.AddInstrument("000660", "SK hynix")
	ms.AddInstrument("005930", "Samsung Electronics")
	ms.AddInstrument("035720", "Kakao")

	results, err := f.BackfillAll(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, results, 3)

	summary := Summarize(results)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "005930")
}

func TestBackfillAll_StrictlySequential(t *testing.T) {
	src := &fakeSource{candles: map[string][]model.Candle{}}
	f, ms := newFetcherEnv(src)
	for _, code := range []string{"000100", "000200", "000300", "000400"} {
		ms.AddInstrument(code, code)
	}

	_, err := f.BackfillAll(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.maxSeen.Load(), "fetches must never overlap")
	assert.Equal(t, []string{"000100", "000200", "000300", "000400"}, src.calls)
}

func TestBackfillAll_CancellationAtBoundary(t *testing.T) {
	today := calendar.Today()
	src := &fakeSource{candles: map[string][]model.Candle{
		"000100": {validCandle("000100", today.AddDays(-1), 10000)},
	}}
	f, ms := newFetcherEnv(src)
	ms.AddInstrument("000100", "a")
	ms.AddInstrument("000200", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.BackfillAll(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results, "cancelled run leaves the remainder untouched")
}
