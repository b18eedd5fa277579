package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Candles ---

func (s *PostgresStore) UpsertCandle(ctx context.Context, c *model.Candle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_candles (instrument_code, date, open, high, low, close, volume)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (instrument_code, date)
		 DO UPDATE SET open = EXCLUDED.open, high = EXCLUDED.high,
		               low = EXCLUDED.low, close = EXCLUDED.close,
		               volume = EXCLUDED.volume`,
		c.InstrumentCode, c.Date.Time(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
		c.Volume,
	)
	return err
}

func (s *PostgresStore) GetCandle(ctx context.Context, code string, date calendar.TradingDate) (*model.Candle, error) {
	var c model.Candle
	var open, high, low, closeP string
	var d time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT instrument_code, date,
		        open::TEXT, high::TEXT, low::TEXT, close::TEXT, volume
		 FROM price_candles WHERE instrument_code = $1 AND date = $2`,
		code, date.Time()).
		Scan(&c.InstrumentCode, &d, &open, &high, &low, &closeP, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: candle %s@%s", faults.ErrNotFound, code, date)
	}
	if err != nil {
		return nil, fmt.Errorf("get candle %s@%s: %w", code, date, err)
	}

	c.Date = calendar.FromTime(d)
	c.Open, _ = decimal.NewFromString(open)
	c.High, _ = decimal.NewFromString(high)
	c.Low, _ = decimal.NewFromString(low)
	c.Close, _ = decimal.NewFromString(closeP)
	return &c, nil
}

func (s *PostgresStore) GetCandlesByDate(ctx context.Context, date calendar.TradingDate) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instrument_code, date,
		        open::TEXT, high::TEXT, low::TEXT, close::TEXT, volume
		 FROM price_candles WHERE date = $1 ORDER BY instrument_code`,
		date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var open, high, low, closeP string
		var d time.Time
		if err := rows.Scan(&c.InstrumentCode, &d, &open, &high, &low, &closeP, &c.Volume); err != nil {
			return nil, err
		}
		c.Date = calendar.FromTime(d)
		c.Open, _ = decimal.NewFromString(open)
		c.High, _ = decimal.NewFromString(high)
		c.Low, _ = decimal.NewFromString(low)
		c.Close, _ = decimal.NewFromString(closeP)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// --- Instruments ---

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, name, tracked FROM instruments WHERE tracked ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(&inst.Code, &inst.Name, &inst.Tracked); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// --- Ledger ---

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, instrument_code,
		        quantity::TEXT, price::TEXT, fee::TEXT, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var qty, price, fee string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.InstrumentCode,
			&qty, &price, &fee, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Fee, _ = decimal.NewFromString(fee)
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

// --- Users ---

const userColumns = `id, nickname,
	initial_capital::TEXT, cash::TEXT, total_assets::TEXT, total_return::TEXT,
	weekly_baseline::TEXT, monthly_baseline::TEXT,
	league, league_changed_at, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var initial, cash, assets, ret, weekly, monthly string
	if err := row.Scan(&u.ID, &u.Nickname,
		&initial, &cash, &assets, &ret, &weekly, &monthly,
		&u.League, &u.LeagueChangedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.InitialCapital, _ = decimal.NewFromString(initial)
	u.Cash, _ = decimal.NewFromString(cash)
	u.TotalAssets, _ = decimal.NewFromString(assets)
	u.TotalReturn, _ = decimal.NewFromString(ret)
	u.WeeklyBaseline, _ = decimal.NewFromString(weekly)
	u.MonthlyBaseline, _ = decimal.NewFromString(monthly)
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", faults.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserLeague(ctx context.Context, userID string, league model.League, changedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET league = $2, league_changed_at = $3 WHERE id = $1`,
		userID, league, changedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	return nil
}

func (s *PostgresStore) UpdateUserMetrics(ctx context.Context, userID string, totalAssets, totalReturn decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET total_assets = $2::NUMERIC, total_return = $3::NUMERIC WHERE id = $1`,
		userID, totalAssets.String(), totalReturn.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	return nil
}

func (s *PostgresStore) UpdateUserBaseline(ctx context.Context, userID string, period model.Period, baseline decimal.Decimal) error {
	var column string
	switch period {
	case model.PeriodWeekly:
		column = "weekly_baseline"
	case model.PeriodMonthly:
		column = "monthly_baseline"
	default:
		return fmt.Errorf("%w: no baseline for period %s", faults.ErrValidation, period)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET `+column+` = $2::NUMERIC WHERE id = $1`,
		userID, baseline.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	return nil
}

// --- Snapshots ---

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.PortfolioSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (user_id, date, cash, total_assets, total_return, price_gaps)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (user_id, date)
		 DO UPDATE SET cash = EXCLUDED.cash, total_assets = EXCLUDED.total_assets,
		               total_return = EXCLUDED.total_return,
		               price_gaps = EXCLUDED.price_gaps`,
		snap.UserID, snap.Date.Time(),
		snap.Cash.String(), snap.TotalAssets.String(), snap.TotalReturn.String(),
		snap.PriceGaps)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, userID string, date calendar.TradingDate) (*model.PortfolioSnapshot, error) {
	var snap model.PortfolioSnapshot
	var cash, assets, ret string
	var d time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, date, cash::TEXT, total_assets::TEXT, total_return::TEXT, price_gaps
		 FROM portfolio_snapshots WHERE user_id = $1 AND date = $2`,
		userID, date.Time()).
		Scan(&snap.UserID, &d, &cash, &assets, &ret, &snap.PriceGaps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot %s@%s", faults.ErrNotFound, userID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s@%s: %w", userID, date, err)
	}

	snap.Date = calendar.FromTime(d)
	snap.Cash, _ = decimal.NewFromString(cash)
	snap.TotalAssets, _ = decimal.NewFromString(assets)
	snap.TotalReturn, _ = decimal.NewFromString(ret)
	return &snap, nil
}

// --- Daily summaries ---

func (s *PostgresStore) UpsertDailySummary(ctx context.Context, sum *model.DailyMarketSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO daily_market_summaries (date, instrument_count, total_volume, top_gainer_code, top_gainer_change, generated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (date)
		 DO UPDATE SET instrument_count = EXCLUDED.instrument_count,
		               total_volume = EXCLUDED.total_volume,
		               top_gainer_code = EXCLUDED.top_gainer_code,
		               top_gainer_change = EXCLUDED.top_gainer_change,
		               generated_at = EXCLUDED.generated_at`,
		sum.Date.Time(), sum.InstrumentCount, sum.TotalVolume,
		sum.TopGainerCode, sum.TopGainerChange.String(), sum.GeneratedAt)
	return err
}

func (s *PostgresStore) GetDailySummary(ctx context.Context, date calendar.TradingDate) (*model.DailyMarketSummary, error) {
	var sum model.DailyMarketSummary
	var change string
	var d time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT date, instrument_count, total_volume, top_gainer_code, top_gainer_change::TEXT, generated_at
		 FROM daily_market_summaries WHERE date = $1`, date.Time()).
		Scan(&d, &sum.InstrumentCount, &sum.TotalVolume, &sum.TopGainerCode, &change, &sum.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: daily summary %s", faults.ErrNotFound, date)
	}
	if err != nil {
		return nil, fmt.Errorf("get daily summary %s: %w", date, err)
	}

	sum.Date = calendar.FromTime(d)
	sum.TopGainerChange, _ = decimal.NewFromString(change)
	return &sum, nil
}

func (s *PostgresStore) DeleteDailySummary(ctx context.Context, date calendar.TradingDate) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM daily_market_summaries WHERE date = $1`, date.Time())
	return err
}

// --- Rankings ---

func (s *PostgresStore) ReplaceRankings(ctx context.Context, period model.Period, rankRows []model.RankingRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM rankings WHERE period = $1`, period); err != nil {
		return fmt.Errorf("clear rankings for %s: %w", period, err)
	}

	for _, r := range rankRows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rankings (user_id, period, league, rank, period_return, reward_given)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
			r.UserID, r.Period, r.League, r.Rank, r.PeriodReturn.String(), r.RewardGiven); err != nil {
			return fmt.Errorf("insert ranking %s/%s: %w", r.UserID, period, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRankings(ctx context.Context, period model.Period) ([]model.RankingRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, period, league, rank, period_return::TEXT, reward_given
		 FROM rankings WHERE period = $1 ORDER BY league, rank`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RankingRow
	for rows.Next() {
		var r model.RankingRow
		var ret string
		if err := rows.Scan(&r.UserID, &r.Period, &r.League, &r.Rank, &ret, &r.RewardGiven); err != nil {
			return nil, err
		}
		r.PeriodReturn, _ = decimal.NewFromString(ret)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Rewards ---

// ApplyReward runs the check-and-set, capital update, and audit append in
// one transaction. The conditional UPDATE on reward_given is the
// exactly-once guard: a second run matches zero rows and pays nothing.
func (s *PostgresStore) ApplyReward(ctx context.Context, userID string, period model.Period, amount decimal.Decimal, reason string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rankings SET reward_given = TRUE
		 WHERE user_id = $1 AND period = $2 AND reward_given = FALSE`,
		userID, period)
	if err != nil {
		return false, fmt.Errorf("set reward flag %s/%s: %w", userID, period, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	var newTotal string
	err = tx.QueryRow(ctx,
		`UPDATE users
		 SET cash = cash + $2::NUMERIC, total_assets = total_assets + $2::NUMERIC
		 WHERE id = $1
		 RETURNING total_assets::TEXT`,
		userID, amount.String()).Scan(&newTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: user %s", faults.ErrNotFound, userID)
	}
	if err != nil {
		return false, fmt.Errorf("credit reward %s: %w", userID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO capital_history (id, user_id, amount, reason, new_total, timestamp)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC, $6)`,
		newCapitalHistoryID(), userID, amount.String(), reason, newTotal, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("append capital history %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func newCapitalHistoryID() string { return uuid.New().String() }

func (s *PostgresStore) GetCapitalHistory(ctx context.Context, userID string) ([]model.CapitalHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount::TEXT, reason, new_total::TEXT, timestamp
		 FROM capital_history WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CapitalHistory
	for rows.Next() {
		var e model.CapitalHistory
		var amount, newTotal string
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &e.Reason, &newTotal, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		e.NewTotal, _ = decimal.NewFromString(newTotal)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
