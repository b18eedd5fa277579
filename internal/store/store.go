// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Transactions (the ledger)
// are read-only to this engine; the trading flow writes them.
type Store interface {
	// --- Price candles ---

	// UpsertCandle creates or corrects the candle for (instrument, date).
	// Never appends a duplicate.
	UpsertCandle(ctx context.Context, c *model.Candle) error

	// GetCandle returns the candle for (code, date), or a faults.ErrNotFound
	// wrapped error when the date is a historical gap.
	GetCandle(ctx context.Context, code string, date calendar.TradingDate) (*model.Candle, error)

	// GetCandlesByDate returns all candles stored for one date.
	GetCandlesByDate(ctx context.Context, date calendar.TradingDate) ([]model.Candle, error)

	// --- Instruments ---

	// ListInstruments returns tracked instruments ordered by code.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// --- Immutable ledger (read-only) ---

	// GetTransactionsByUser returns a user's ledger entries ordered by
	// timestamp ascending.
	GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Users ---

	// GetUser retrieves one user, faults.ErrNotFound when missing.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListUsers returns all users ordered by ID. The deterministic order
	// keeps ranking recomputation byte-identical on unchanged input.
	ListUsers(ctx context.Context) ([]model.User, error)

	// UpdateUserLeague records a league transition with its timestamp.
	UpdateUserLeague(ctx context.Context, userID string, league model.League, changedAt time.Time) error

	// UpdateUserMetrics writes the user's recomputed totals.
	UpdateUserMetrics(ctx context.Context, userID string, totalAssets, totalReturn decimal.Decimal) error

	// UpdateUserBaseline captures the period baseline used by WEEKLY or
	// MONTHLY ranking returns.
	UpdateUserBaseline(ctx context.Context, userID string, period model.Period, baseline decimal.Decimal) error

	// --- Portfolio snapshots (derived cache) ---

	// UpsertSnapshot creates or replaces the snapshot for (user, date).
	UpsertSnapshot(ctx context.Context, s *model.PortfolioSnapshot) error

	// GetSnapshot returns the snapshot for (user, date), faults.ErrNotFound
	// when absent.
	GetSnapshot(ctx context.Context, userID string, date calendar.TradingDate) (*model.PortfolioSnapshot, error)

	// --- Daily market summaries (stage-1 backfill artifact) ---

	UpsertDailySummary(ctx context.Context, s *model.DailyMarketSummary) error
	GetDailySummary(ctx context.Context, date calendar.TradingDate) (*model.DailyMarketSummary, error)
	DeleteDailySummary(ctx context.Context, date calendar.TradingDate) error

	// --- Rankings ---

	// ReplaceRankings atomically deletes every row for period and inserts
	// the fresh set. The stored ranking is always the product of exactly
	// one computation, never a mix of two runs.
	ReplaceRankings(ctx context.Context, period model.Period, rows []model.RankingRow) error

	// GetRankings returns the rows for period ordered by league, rank.
	GetRankings(ctx context.Context, period model.Period) ([]model.RankingRow, error)

	// --- Rewards (exactly-once) ---

	// ApplyReward pays amount to the (user, period) ranking row as one
	// logical operation: it sets reward_given only if currently unset,
	// adjusts the user's cash/capital, and appends a CapitalHistory entry.
	// Returns paid=false without any write when the flag was already set.
	ApplyReward(ctx context.Context, userID string, period model.Period, amount decimal.Decimal, reason string) (paid bool, err error)

	// GetCapitalHistory returns a user's capital adjustments, oldest first.
	GetCapitalHistory(ctx context.Context, userID string) ([]model.CapitalHistory, error)
}
