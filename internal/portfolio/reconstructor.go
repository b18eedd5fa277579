package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// maxGapLookback bounds the fallback search for a missing historical
// candle. Beyond this many prior calendar days the gap is surfaced on the
// snapshot instead; a past date must never be valued with today's price.
const maxGapLookback = 10

// Reconstructor replays a user's ledger against historical candles.
type Reconstructor struct {
	store store.Store
}

// NewReconstructor creates a portfolio reconstructor.
func NewReconstructor(st store.Store) *Reconstructor {
	return &Reconstructor{store: st}
}

// Reconstruct computes one snapshot per calendar day in [from, to], bounded
// by the user's creation date and today. With tradingDaysOnly, weekends are
// omitted. Zero from/to default to the widest valid window. Every holding
// is valued at the historical close for that date (with a bounded prior-day
// fallback), never at the current price.
func (r *Reconstructor) Reconstruct(ctx context.Context, userID string, from, to calendar.TradingDate, tradingDaysOnly bool) ([]model.PortfolioSnapshot, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := r.store.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger for %s: %w", userID, err)
	}

	created := calendar.FromTime(user.CreatedAt)
	today := calendar.Today()
	if from.IsZero() || from.Before(created) {
		from = created
	}
	if to.IsZero() || to.After(today) {
		to = today
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: window start %s after end %s", faults.ErrValidation, from, to)
	}

	var dates []calendar.TradingDate
	if tradingDaysOnly {
		dates = calendar.TradingDays(from, to)
	} else {
		dates = calendar.Range(from, to)
	}

	cash := user.InitialCapital
	quantities := make(map[string]decimal.Decimal)
	txIdx := 0

	snapshots := make([]model.PortfolioSnapshot, 0, len(dates))
	for _, date := range dates {
		// Fold in every transaction on or before this date.
		for txIdx < len(txs) && !calendar.FromTime(txs[txIdx].Timestamp).After(date) {
			tx := txs[txIdx]
			q := quantities[tx.InstrumentCode]
			if tx.Type == model.TxSell {
				cash = cash.Add(tx.TotalAmount())
				quantities[tx.InstrumentCode] = q.Sub(tx.Quantity)
			} else {
				cash = cash.Sub(tx.TotalAmount())
				quantities[tx.InstrumentCode] = q.Add(tx.Quantity)
			}
			txIdx++
		}

		snap := model.PortfolioSnapshot{
			UserID: userID,
			Date:   date,
			Cash:   cash,
		}

		total := cash
		for code, q := range quantities {
			if !q.IsPositive() {
				continue
			}
			price, ok := r.closePriceAt(ctx, code, date)
			if !ok {
				snap.PriceGaps = append(snap.PriceGaps, code)
				continue
			}
			total = total.Add(q.Mul(price))
		}
		sort.Strings(snap.PriceGaps)

		snap.TotalAssets = total
		snap.TotalReturn = TotalReturn(total, user.InitialCapital)
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

// closePriceAt returns the close for (code, date), falling back to the
// nearest prior candle within maxGapLookback days. Reports ok=false when
// the gap is too wide to value.
func (r *Reconstructor) closePriceAt(ctx context.Context, code string, date calendar.TradingDate) (decimal.Decimal, bool) {
	for back := 0; back <= maxGapLookback; back++ {
		c, err := r.store.GetCandle(ctx, code, date.AddDays(-back))
		if err == nil {
			return c.Close, true
		}
		if !errors.Is(err, faults.ErrNotFound) {
			slog.Warn("candle lookup failed during reconstruction",
				"instrument", code, "date", date.String(), "err", err)
			return decimal.Zero, false
		}
	}
	return decimal.Zero, false
}

// CurrentHoldings replays the full ledger into present positions with the
// weighted-average purchase price rule. Selling leaves the average price
// unchanged; a position sold to zero resets it.
func (r *Reconstructor) CurrentHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	txs, err := r.store.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger for %s: %w", userID, err)
	}

	positions := make(map[string]*model.Holding)
	for _, tx := range txs {
		pos, ok := positions[tx.InstrumentCode]
		if !ok {
			pos = &model.Holding{UserID: userID, InstrumentCode: tx.InstrumentCode}
			positions[tx.InstrumentCode] = pos
		}
		if tx.Type == model.TxSell {
			pos.Quantity = pos.Quantity.Sub(tx.Quantity)
			if !pos.Quantity.IsPositive() {
				pos.Quantity = decimal.Zero
				pos.AvgPrice = decimal.Zero
			}
		} else {
			pos.AvgPrice = NextAvgPrice(pos.Quantity, pos.AvgPrice, tx.Quantity, tx.Price)
			pos.Quantity = pos.Quantity.Add(tx.Quantity)
		}
	}

	today := calendar.Today()
	var holdings []model.Holding
	for code, pos := range positions {
		if !pos.Quantity.IsPositive() {
			continue
		}
		if price, ok := r.closePriceAt(ctx, code, today); ok {
			pos.CurrentPrice = price
		}
		holdings = append(holdings, *pos)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].InstrumentCode < holdings[j].InstrumentCode })
	return holdings, nil
}

// SnapshotAllUsers reconstructs and persists every user's snapshot for one
// date (backfill stage 2). Users created after the date are skipped;
// per-user failures are isolated into the summary.
func (r *Reconstructor) SnapshotAllUsers(ctx context.Context, date calendar.TradingDate) model.BatchSummary {
	var summary model.BatchSummary

	users, err := r.store.ListUsers(ctx)
	if err != nil {
		summary.AddError(fmt.Errorf("list users: %w", err))
		return summary
	}

	for _, u := range users {
		summary.Attempted++
		if calendar.FromTime(u.CreatedAt).After(date) {
			summary.Skipped++
			continue
		}

		snaps, err := r.Reconstruct(ctx, u.ID, date, date, false)
		if err != nil || len(snaps) == 0 {
			summary.AddError(fmt.Errorf("snapshot %s@%s: %w", u.ID, date, err))
			continue
		}
		if err := r.store.UpsertSnapshot(ctx, &snaps[0]); err != nil {
			summary.AddError(fmt.Errorf("persist snapshot %s@%s: %w", u.ID, date, err))
			continue
		}
		summary.Succeeded++
	}
	return summary
}

// RefreshUserMetrics recomputes each user's tracked totals from the
// snapshot for date (backfill stage 3) and captures period baselines:
// weekly on Mondays, monthly on the first of the month.
func (r *Reconstructor) RefreshUserMetrics(ctx context.Context, date calendar.TradingDate) model.BatchSummary {
	var summary model.BatchSummary

	users, err := r.store.ListUsers(ctx)
	if err != nil {
		summary.AddError(fmt.Errorf("list users: %w", err))
		return summary
	}

	for _, u := range users {
		summary.Attempted++
		if calendar.FromTime(u.CreatedAt).After(date) {
			summary.Skipped++
			continue
		}

		snap, err := r.store.GetSnapshot(ctx, u.ID, date)
		if err != nil {
			summary.AddError(fmt.Errorf("metrics %s@%s: %w", u.ID, date, err))
			continue
		}
		if err := r.store.UpdateUserMetrics(ctx, u.ID, snap.TotalAssets, snap.TotalReturn); err != nil {
			summary.AddError(fmt.Errorf("update metrics %s: %w", u.ID, err))
			continue
		}
		if date.IsMonday() {
			if err := r.store.UpdateUserBaseline(ctx, u.ID, model.PeriodWeekly, snap.TotalAssets); err != nil {
				summary.AddError(fmt.Errorf("weekly baseline %s: %w", u.ID, err))
				continue
			}
		}
		if date.IsMonthStart() {
			if err := r.store.UpdateUserBaseline(ctx, u.ID, model.PeriodMonthly, snap.TotalAssets); err != nil {
				summary.AddError(fmt.Errorf("monthly baseline %s: %w", u.ID, err))
				continue
			}
		}
		summary.Succeeded++
	}
	return summary
}
