package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Historical candle lookups dominate reconstruction, so candles and
// ranking pages are cached; writes go to the primary store and invalidate
// the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertCandle(ctx context.Context, c *model.Candle) error {
	if err := s.primary.UpsertCandle(ctx, c); err != nil {
		return err
	}
	// Re-populate rather than just invalidate: backfill reads what it
	// writes on the very next date pass.
	s.cacheCandle(ctx, c)
	return nil
}

func (s *CachedStore) ReplaceRankings(ctx context.Context, period model.Period, rows []model.RankingRow) error {
	if err := s.primary.ReplaceRankings(ctx, period, rows); err != nil {
		return err
	}
	s.rdb.Del(ctx, rankingsKey(period))
	return nil
}

func (s *CachedStore) ApplyReward(ctx context.Context, userID string, period model.Period, amount decimal.Decimal, reason string) (bool, error) {
	paid, err := s.primary.ApplyReward(ctx, userID, period, amount, reason)
	if err != nil {
		return false, err
	}
	if paid {
		s.rdb.Del(ctx, rankingsKey(period))
	}
	return paid, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetCandle(ctx context.Context, code string, date calendar.TradingDate) (*model.Candle, error) {
	data, err := s.rdb.Get(ctx, candleKey(code, date)).Bytes()
	if err == nil {
		var c model.Candle
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCandle(ctx, code, date)
	if err != nil {
		return nil, err
	}

	s.cacheCandle(ctx, c)
	return c, nil
}

func (s *CachedStore) GetRankings(ctx context.Context, period model.Period) ([]model.RankingRow, error) {
	data, err := s.rdb.Get(ctx, rankingsKey(period)).Bytes()
	if err == nil {
		var rows []model.RankingRow
		if json.Unmarshal(data, &rows) == nil {
			return rows, nil
		}
	}

	rows, err := s.primary.GetRankings(ctx, period)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rows); err == nil {
		s.rdb.Set(ctx, rankingsKey(period), data, s.ttl)
	}
	return rows, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetCandlesByDate(ctx context.Context, date calendar.TradingDate) ([]model.Candle, error) {
	return s.primary.GetCandlesByDate(ctx, date)
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.GetTransactionsByUser(ctx, userID)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) UpdateUserLeague(ctx context.Context, userID string, league model.League, changedAt time.Time) error {
	return s.primary.UpdateUserLeague(ctx, userID, league, changedAt)
}

func (s *CachedStore) UpdateUserMetrics(ctx context.Context, userID string, totalAssets, totalReturn decimal.Decimal) error {
	return s.primary.UpdateUserMetrics(ctx, userID, totalAssets, totalReturn)
}

func (s *CachedStore) UpdateUserBaseline(ctx context.Context, userID string, period model.Period, baseline decimal.Decimal) error {
	return s.primary.UpdateUserBaseline(ctx, userID, period, baseline)
}

func (s *CachedStore) UpsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	return s.primary.UpsertSnapshot(ctx, snap)
}

func (s *CachedStore) GetSnapshot(ctx context.Context, userID string, date calendar.TradingDate) (*model.PortfolioSnapshot, error) {
	return s.primary.GetSnapshot(ctx, userID, date)
}

func (s *CachedStore) UpsertDailySummary(ctx context.Context, sum *model.DailyMarketSummary) error {
	return s.primary.UpsertDailySummary(ctx, sum)
}

func (s *CachedStore) GetDailySummary(ctx context.Context, date calendar.TradingDate) (*model.DailyMarketSummary, error) {
	return s.primary.GetDailySummary(ctx, date)
}

func (s *CachedStore) DeleteDailySummary(ctx context.Context, date calendar.TradingDate) error {
	return s.primary.DeleteDailySummary(ctx, date)
}

func (s *CachedStore) GetCapitalHistory(ctx context.Context, userID string) ([]model.CapitalHistory, error) {
	return s.primary.GetCapitalHistory(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheCandle(ctx context.Context, c *model.Candle) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, candleKey(c.InstrumentCode, c.Date), data, s.ttl)
	}
}

func candleKey(code string, date calendar.TradingDate) string {
	return fmt.Sprintf("candle:%s:%s", code, date)
}

func rankingsKey(period model.Period) string {
	return fmt.Sprintf("rankings:%s", period)
}
