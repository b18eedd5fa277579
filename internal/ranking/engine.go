// Package ranking computes period-scoped league tables.
//
// Persistence is a full replace: every row for the period is deleted and
// the fresh top-N set inserted in one transaction, so the stored ranking
// is always the product of exactly one computation. Recomputing over
// unchanged input yields an identical set.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/portfolio"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// TopN is the number of rows kept per league.
const TopN = 100

// Engine computes and persists rankings.
type Engine struct {
	store store.Store
}

// NewEngine creates a ranking engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Compute builds the ranked set for period and replaces the stored rows.
// Users are partitioned by league, sorted descending by period return with
// a stable sort (ties keep the store's user-ID order, no secondary key is
// invented), ranked 1..N, and truncated to TopN per league.
func (e *Engine) Compute(ctx context.Context, period model.Period) (model.BatchSummary, error) {
	var summary model.BatchSummary
	if !model.ValidPeriod(period) {
		return summary, fmt.Errorf("%w: unknown period %q", faults.ErrValidation, period)
	}

	start := time.Now()
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("list users: %w", err)
	}

	byLeague := make(map[model.League][]model.RankingRow)
	for _, u := range users {
		summary.Attempted++
		byLeague[u.League] = append(byLeague[u.League], model.RankingRow{
			UserID:       u.ID,
			Period:       period,
			League:       u.League,
			PeriodReturn: periodReturn(u, period),
		})
	}

	var rows []model.RankingRow
	for _, league := range []model.League{model.LeagueRookie, model.LeagueHallOfFame} {
		pool := byLeague[league]
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].PeriodReturn.GreaterThan(pool[j].PeriodReturn)
		})
		if len(pool) > TopN {
			pool = pool[:TopN]
		}
		for i := range pool {
			pool[i].Rank = i + 1
		}
		rows = append(rows, pool...)
		metrics.RankingRows.WithLabelValues(string(period), string(league)).Set(float64(len(pool)))
	}

	if err := e.store.ReplaceRankings(ctx, period, rows); err != nil {
		return summary, fmt.Errorf("replace rankings for %s: %w", period, err)
	}
	summary.Succeeded = len(rows)
	summary.Skipped = summary.Attempted - len(rows)

	slog.Info("rankings recomputed",
		"period", string(period),
		"users", summary.Attempted,
		"rows", len(rows),
		"duration", time.Since(start).String(),
	)
	return summary, nil
}

// ComputeAll recomputes every period, collecting per-period failures.
func (e *Engine) ComputeAll(ctx context.Context) model.BatchSummary {
	var summary model.BatchSummary
	for _, p := range []model.Period{model.PeriodWeekly, model.PeriodMonthly, model.PeriodAllTime} {
		summary.Attempted++
		if _, err := e.Compute(ctx, p); err != nil {
			summary.AddError(err)
			continue
		}
		summary.Succeeded++
	}
	return summary
}

// periodReturn selects the user's return for the period. WEEKLY and
// MONTHLY measure against the baseline captured at the period start,
// guarded to 0 when the baseline is 0.
func periodReturn(u model.User, period model.Period) decimal.Decimal {
	switch period {
	case model.PeriodWeekly:
		return portfolio.PeriodReturn(u.TotalAssets, u.WeeklyBaseline)
	case model.PeriodMonthly:
		return portfolio.PeriodReturn(u.TotalAssets, u.MonthlyBaseline)
	default:
		return u.TotalReturn
	}
}
