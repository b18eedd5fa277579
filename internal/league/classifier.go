// Package league reclassifies users into tiers by total assets.
package league

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// Threshold promotes a user to HALL_OF_FAME at exactly 100,000,000 total
// assets. The bound is inclusive on the upper tier.
var Threshold = decimal.NewFromInt(100_000_000)

// Classify applies the tier rule to a total-assets value.
func Classify(totalAssets decimal.Decimal) model.League {
	if totalAssets.GreaterThanOrEqual(Threshold) {
		return model.LeagueHallOfFame
	}
	return model.LeagueRookie
}

// Classifier reclassifies users against the threshold.
type Classifier struct {
	store store.Store
}

// NewClassifier creates a league classifier.
func NewClassifier(st store.Store) *Classifier {
	return &Classifier{store: st}
}

// ReclassifyAll applies the rule to every user, writing only when the
// league actually changes (idempotent no-op otherwise) and recording the
// change timestamp. Per-user failures are counted, never abort the batch.
func (c *Classifier) ReclassifyAll(ctx context.Context) model.BatchSummary {
	var summary model.BatchSummary

	users, err := c.store.ListUsers(ctx)
	if err != nil {
		summary.AddError(fmt.Errorf("list users: %w", err))
		return summary
	}

	now := time.Now().UTC()
	for _, u := range users {
		summary.Attempted++

		next := Classify(u.TotalAssets)
		if next == u.League {
			summary.Skipped++
			continue
		}

		if err := c.store.UpdateUserLeague(ctx, u.ID, next, now); err != nil {
			summary.AddError(fmt.Errorf("reclassify %s: %w", u.ID, err))
			continue
		}
		slog.Info("league changed",
			"user", u.ID,
			"from", string(u.League),
			"to", string(next),
			"total_assets", u.TotalAssets.String(),
		)
		summary.Succeeded++
	}
	return summary
}
