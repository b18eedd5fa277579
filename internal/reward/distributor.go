// Package reward pays one-time capital bonuses to top-ranked users.
//
// Exactly-once semantics rest on the store's check-and-set of the
// reward_given flag: a row already flagged is skipped, so re-running a
// period's distribution never double-pays.
package reward

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// Monthly bonus amounts for the ROOKIE league. HALL_OF_FAME has no
// defined reward and is skipped.
var (
	TopTierBonus  = decimal.NewFromInt(1_000_000) // ranks 1-10
	LowTierBonus  = decimal.NewFromInt(100_000)   // ranks 11-100
	maxRewardRank = 100
)

// BonusFor returns the bonus for a ranking row, or zero when the row earns
// nothing.
func BonusFor(row model.RankingRow) decimal.Decimal {
	if row.League != model.LeagueRookie || row.Rank < 1 || row.Rank > maxRewardRank {
		return decimal.Zero
	}
	if row.Rank <= 10 {
		return TopTierBonus
	}
	return LowTierBonus
}

// Distributor pays monthly ranking rewards.
type Distributor struct {
	store store.Store
}

// NewDistributor creates a reward distributor.
func NewDistributor(st store.Store) *Distributor {
	return &Distributor{store: st}
}

// DistributeMonthly pays each eligible MONTHLY ranking row its one-time
// bonus. Already-paid rows count as skipped; per-user failures are
// isolated and do not block other users.
func (d *Distributor) DistributeMonthly(ctx context.Context, period model.Period) (model.BatchSummary, error) {
	var summary model.BatchSummary
	if period != model.PeriodMonthly {
		return summary, fmt.Errorf("%w: rewards apply to MONTHLY rankings, got %q", faults.ErrValidation, period)
	}

	rows, err := d.store.GetRankings(ctx, period)
	if err != nil {
		return summary, fmt.Errorf("load %s rankings: %w", period, err)
	}

	for _, row := range rows {
		summary.Attempted++
		bonus := BonusFor(row)
		if bonus.IsZero() {
			// Ineligible (wrong league or rank): counted, never silent.
			summary.Skipped++
			continue
		}

		reason := fmt.Sprintf("monthly ranking reward (rank %d, %s)", row.Rank, row.League)
		paid, err := d.store.ApplyReward(ctx, row.UserID, period, bonus, reason)
		switch {
		case err != nil:
			summary.AddError(fmt.Errorf("reward %s: %w", row.UserID, err))
		case !paid:
			metrics.RewardsSkipped.Inc()
			summary.Skipped++
		default:
			metrics.RewardsPaid.Inc()
			summary.Succeeded++
			slog.Info("reward paid",
				"user", row.UserID,
				"rank", row.Rank,
				"amount", bonus.String(),
			)
		}
	}

	slog.Info("monthly reward distribution finished",
		"attempted", summary.Attempted,
		"paid", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}
