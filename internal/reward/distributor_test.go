package reward

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

func TestBonusFor(t *testing.T) {
	cases := []struct {
		league model.League
		rank   int
		want   decimal.Decimal
	}{
		{model.LeagueRookie, 1, TopTierBonus},
		{model.LeagueRookie, 10, TopTierBonus},
		{model.LeagueRookie, 11, LowTierBonus},
		{model.LeagueRookie, 100, LowTierBonus},
		{model.LeagueRookie, 101, decimal.Zero},
		{model.LeagueHallOfFame, 1, decimal.Zero}, // no defined reward
	}
	for _, tc := range cases {
		got := BonusFor(model.RankingRow{League: tc.league, Rank: tc.rank})
		assert.True(t, got.Equal(tc.want), "league=%s rank=%d got %s", tc.league, tc.rank, got)
	}
}

func seedPeriod(t *testing.T, ms *store.MemoryStore, rookies int) {
	t.Helper()
	var rows []model.RankingRow
	for i := 1; i <= rookies; i++ {
		id := fmt.Sprintf("u%03d", i)
		ms.AddUser(model.User{
			ID:          id,
			League:      model.LeagueRookie,
			Cash:        decimal.NewFromInt(1_000_000),
			TotalAssets: decimal.NewFromInt(10_000_000),
		})
		rows = append(rows, model.RankingRow{
			UserID: id, Period: model.PeriodMonthly,
			League: model.LeagueRookie, Rank: i,
			PeriodReturn: decimal.NewFromInt(int64(100 - i)),
		})
	}
	require.NoError(t, ms.ReplaceRankings(context.Background(), model.PeriodMonthly, rows))
}

func TestDistributeMonthly_PaysByRankTier(t *testing.T) {
	ms := store.NewMemoryStore()
	seedPeriod(t, ms, 12)

	d := NewDistributor(ms)
	summary, err := d.DistributeMonthly(context.Background(), model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Attempted)
	assert.Equal(t, 12, summary.Succeeded)

	top, _ := ms.GetUser(context.Background(), "u001")
	assert.True(t, top.Cash.Equal(decimal.NewFromInt(2_000_000)), "cash %s", top.Cash)
	assert.True(t, top.TotalAssets.Equal(decimal.NewFromInt(11_000_000)))

	low, _ := ms.GetUser(context.Background(), "u011")
	assert.True(t, low.Cash.Equal(decimal.NewFromInt(1_100_000)), "cash %s", low.Cash)

	history, _ := ms.GetCapitalHistory(context.Background(), "u001")
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(TopTierBonus))
	assert.True(t, history[0].NewTotal.Equal(decimal.NewFromInt(11_000_000)))
}

func TestDistributeMonthly_SecondRunPaysNobody(t *testing.T) {
	ms := store.NewMemoryStore()
	seedPeriod(t, ms, 5)

	d := NewDistributor(ms)
	ctx := context.Background()

	first, err := d.DistributeMonthly(ctx, model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Succeeded)

	second, err := d.DistributeMonthly(ctx, model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Succeeded, "no double payment")
	assert.Equal(t, 5, second.Skipped, "first run's recipients reported as skipped")

	u, _ := ms.GetUser(ctx, "u001")
	assert.True(t, u.Cash.Equal(decimal.NewFromInt(2_000_000)), "cash %s", u.Cash)
	history, _ := ms.GetCapitalHistory(ctx, "u001")
	assert.Len(t, history, 1)
}

func TestDistributeMonthly_SkipsHallOfFame(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.AddUser(model.User{ID: "hof", League: model.LeagueHallOfFame})
	require.NoError(t, ms.ReplaceRankings(context.Background(), model.PeriodMonthly, []model.RankingRow{
		{UserID: "hof", Period: model.PeriodMonthly, League: model.LeagueHallOfFame, Rank: 1},
	}))

	d := NewDistributor(ms)
	summary, err := d.DistributeMonthly(context.Background(), model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted, "ineligible rows still count")
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)

	history, _ := ms.GetCapitalHistory(context.Background(), "hof")
	assert.Empty(t, history)
}

func TestDistributeMonthly_FailureIsolated(t *testing.T) {
	ms := store.NewMemoryStore()
	seedPeriod(t, ms, 3)
	// Ranking row without a backing user: payment fails for it alone.
	rows, _ := ms.GetRankings(context.Background(), model.PeriodMonthly)
	rows = append(rows, model.RankingRow{
		UserID: "ghost", Period: model.PeriodMonthly,
		League: model.LeagueRookie, Rank: 4,
	})
	require.NoError(t, ms.ReplaceRankings(context.Background(), model.PeriodMonthly, rows))

	d := NewDistributor(ms)
	summary, err := d.DistributeMonthly(context.Background(), model.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "ghost")
}

func TestDistributeMonthly_RejectsOtherPeriods(t *testing.T) {
	d := NewDistributor(store.NewMemoryStore())
	_, err := d.DistributeMonthly(context.Background(), model.PeriodWeekly)
	require.Error(t, err)
}
