package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	candles     map[string]model.Candle // key: code|date
	instruments map[string]model.Instrument
	ledger      []model.Transaction
	users       map[string]*model.User
	snapshots   map[string]model.PortfolioSnapshot // key: userID|date
	summaries   map[string]model.DailyMarketSummary
	rankings    map[model.Period][]model.RankingRow
	capital     map[string][]model.CapitalHistory
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles:     make(map[string]model.Candle),
		instruments: make(map[string]model.Instrument),
		users:       make(map[string]*model.User),
		snapshots:   make(map[string]model.PortfolioSnapshot),
		summaries:   make(map[string]model.DailyMarketSummary),
		rankings:    make(map[model.Period][]model.RankingRow),
		capital:     make(map[string][]model.CapitalHistory),
	}
}

func candleMapKey(code string, date calendar.TradingDate) string {
	return code + "|" + date.String()
}

// --- Seeding helpers for tests ---

// AddInstrument registers a tracked instrument.
func (s *MemoryStore) AddInstrument(code, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[code] = model.Instrument{Code: code, Name: name, Tracked: true}
}

// AddTransaction appends an immutable ledger entry.
func (s *MemoryStore) AddTransaction(t model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.ledger = append(s.ledger, t)
}

// AddUser registers a user.
func (s *MemoryStore) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := u
	s.users[u.ID] = &copy
}

// --- Candles ---

func (s *MemoryStore) UpsertCandle(_ context.Context, c *model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[candleMapKey(c.InstrumentCode, c.Date)] = *c
	return nil
}

func (s *MemoryStore) GetCandle(_ context.Context, code string, date calendar.TradingDate) (*model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candles[candleMapKey(code, date)]
	if !ok {
		return nil, fmt.Errorf("%w: candle %s@%s", faults.ErrNotFound, code, date)
	}
	copy := c
	return &copy, nil
}

func (s *MemoryStore) GetCandlesByDate(_ context.Context, date calendar.TradingDate) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Candle
	for _, c := range s.candles {
		if c.Date.Equal(date) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentCode < out[j].InstrumentCode })
	return out, nil
}

// --- Instruments ---

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		if inst.Tracked {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// --- Ledger ---

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for _, t := range s.ledger {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- Users ---

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", faults.ErrNotFound, id)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateUserLeague(_ context.Context, userID string, league model.League, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	u.League = league
	u.LeagueChangedAt = changedAt
	return nil
}

func (s *MemoryStore) UpdateUserMetrics(_ context.Context, userID string, totalAssets, totalReturn decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	u.TotalAssets = totalAssets
	u.TotalReturn = totalReturn
	return nil
}

func (s *MemoryStore) UpdateUserBaseline(_ context.Context, userID string, period model.Period, baseline decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	switch period {
	case model.PeriodWeekly:
		u.WeeklyBaseline = baseline
	case model.PeriodMonthly:
		u.MonthlyBaseline = baseline
	default:
		return fmt.Errorf("%w: no baseline for period %s", faults.ErrValidation, period)
	}
	return nil
}

// --- Snapshots ---

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *model.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.UserID+"|"+snap.Date.String()] = *snap
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID string, date calendar.TradingDate) (*model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[userID+"|"+date.String()]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s@%s", faults.ErrNotFound, userID, date)
	}
	copy := snap
	return &copy, nil
}

// --- Daily summaries ---

func (s *MemoryStore) UpsertDailySummary(_ context.Context, sum *model.DailyMarketSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.Date.String()] = *sum
	return nil
}

func (s *MemoryStore) GetDailySummary(_ context.Context, date calendar.TradingDate) (*model.DailyMarketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[date.String()]
	if !ok {
		return nil, fmt.Errorf("%w: daily summary %s", faults.ErrNotFound, date)
	}
	copy := sum
	return &copy, nil
}

func (s *MemoryStore) DeleteDailySummary(_ context.Context, date calendar.TradingDate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, date.String())
	return nil
}

// --- Rankings ---

func (s *MemoryStore) ReplaceRankings(_ context.Context, period model.Period, rows []model.RankingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]model.RankingRow, len(rows))
	copy(replaced, rows)
	s.rankings[period] = replaced
	return nil
}

func (s *MemoryStore) GetRankings(_ context.Context, period model.Period) ([]model.RankingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.rankings[period]
	out := make([]model.RankingRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].League != out[j].League {
			return out[i].League < out[j].League
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

// --- Rewards ---

func (s *MemoryStore) ApplyReward(_ context.Context, userID string, period model.Period, amount decimal.Decimal, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rankings[period]
	idx := -1
	for i, r := range rows {
		if r.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("%w: ranking row %s/%s", faults.ErrNotFound, userID, period)
	}
	if rows[idx].RewardGiven {
		return false, nil
	}

	// Resolve the user before flipping the flag so a failed payment
	// leaves the row payable on the next run.
	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}

	rows[idx].RewardGiven = true
	u.Cash = u.Cash.Add(amount)
	u.TotalAssets = u.TotalAssets.Add(amount)
	s.capital[userID] = append(s.capital[userID], model.CapitalHistory{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		NewTotal:  u.TotalAssets,
		Timestamp: time.Now().UTC(),
	})
	return true, nil
}

func (s *MemoryStore) GetCapitalHistory(_ context.Context, userID string) ([]model.CapitalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.capital[userID]
	out := make([]model.CapitalHistory, len(entries))
	copy(out, entries)
	return out, nil
}
