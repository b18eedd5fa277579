// Package orchestrator detects calendar dates whose downstream artifacts
// are missing and re-runs the pipeline stages for each in dependency
// order: market context → snapshots → personalized analysis → rankings.
// Later stages structurally depend on earlier ones: rankings need
// snapshots, snapshots need price data.
//
// The orchestrator is a single-writer sequential batch. It takes no
// distributed lock; in a multi-instance deployment the caller must ensure
// only one run is in flight (advisory lock or leader election).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricehistory"
	"github.com/stocksim/portfolio-engine/internal/portfolio"
	"github.com/stocksim/portfolio-engine/internal/ranking"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// Stage names in execution order.
const (
	StageMarketContext = "market_context"
	StageSnapshots     = "snapshots"
	StageAnalysis      = "personalized_analysis"
	StageRankings      = "rankings"
)

// DateResult is the per-date outcome of a backfill run.
type DateResult struct {
	Date        calendar.TradingDate `json:"date"`
	StageErrors map[string]string    `json:"stage_errors,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// OK reports whether every stage completed for the date.
func (r DateResult) OK() bool { return len(r.StageErrors) == 0 }

// Report aggregates a whole backfill run.
type Report struct {
	Dates    []DateResult  `json:"dates"`
	Duration time.Duration `json:"duration"`
}

// Summary folds the report into the standard batch shape.
func (r Report) Summary() model.BatchSummary {
	var s model.BatchSummary
	for _, d := range r.Dates {
		s.Attempted++
		if d.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		for stage, msg := range d.StageErrors {
			s.Errors = append(s.Errors, fmt.Sprintf("%s %s: %s", d.Date, stage, msg))
		}
	}
	return s
}

// Orchestrator drives the per-date pipeline.
type Orchestrator struct {
	store    store.Store
	prices   *pricehistory.Service
	rebuilds *portfolio.Reconstructor
	rankings *ranking.Engine
}

// New creates a backfill orchestrator.
func New(st store.Store, prices *pricehistory.Service, rebuilds *portfolio.Reconstructor, rankings *ranking.Engine) *Orchestrator {
	return &Orchestrator{
		store:    st,
		prices:   prices,
		rebuilds: rebuilds,
		rankings: rankings,
	}
}

// ScanMissingDates returns the trading days in the lookback window whose
// stage-1 artifact (the daily market summary) is absent, oldest first.
// Weekends are excluded; today is, too, since it may still be in progress.
func (o *Orchestrator) ScanMissingDates(ctx context.Context, lookbackDays int) ([]calendar.TradingDate, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: lookbackDays must be positive, got %d", faults.ErrValidation, lookbackDays)
	}

	today := calendar.Today()
	from := today.AddDays(-lookbackDays)
	to := today.AddDays(-1)

	var missing []calendar.TradingDate
	for _, date := range calendar.TradingDays(from, to) {
		_, err := o.store.GetDailySummary(ctx, date)
		if err == nil {
			continue
		}
		if !errors.Is(err, faults.ErrNotFound) {
			return nil, fmt.Errorf("scan %s: %w", date, err)
		}
		missing = append(missing, date)
	}
	return missing, nil
}

// BackfillDate runs the stages for one date. With force, the stage-1
// artifact is deleted and regenerated even if present. Stage 1 is the
// foundation: when it fails the date ends there, since snapshots and
// rankings built over a day with no market context would only have to be
// redone. Per-item failures inside a stage are captured in the result and
// never fatal to the orchestrator.
//
// Stages 3 and 4 mutate current state (user totals, period baselines, the
// league tables). They run only when date is the newest covered date:
// repairing an interior gap must backfill that day's artifacts without
// regressing today's totals or rankings to week-old values.
func (o *Orchestrator) BackfillDate(ctx context.Context, date calendar.TradingDate, force bool) DateResult {
	result := DateResult{Date: date, StageErrors: make(map[string]string)}
	start := time.Now()

	// Stage 1: market context.
	if err := o.ensureMarketContext(ctx, date, force); err != nil {
		result.StageErrors[StageMarketContext] = err.Error()
		return o.finishDate(result, start)
	}

	// Stage 2: portfolio snapshots.
	if s := o.rebuilds.SnapshotAllUsers(ctx, date); s.Failed > 0 {
		result.StageErrors[StageSnapshots] = fmt.Sprintf("%d of %d users failed: %v", s.Failed, s.Attempted, firstError(s))
	}

	newest, err := o.newestCovered(ctx, date)
	switch {
	case err != nil:
		result.StageErrors[StageAnalysis] = err.Error()
	case !newest:
		slog.Info("interior date repaired, current-state stages skipped", "date", date.String())
	default:
		// Stage 3: personalized analysis (user metrics + period baselines).
		if s := o.rebuilds.RefreshUserMetrics(ctx, date); s.Failed > 0 {
			result.StageErrors[StageAnalysis] = fmt.Sprintf("%d of %d users failed: %v", s.Failed, s.Attempted, firstError(s))
		}

		// Stage 4: rankings.
		if s := o.rankings.ComputeAll(ctx); s.Failed > 0 {
			result.StageErrors[StageRankings] = fmt.Sprintf("%d periods failed: %v", s.Failed, firstError(s))
		}
	}

	return o.finishDate(result, start)
}

// ensureMarketContext makes the stage-1 artifact exist for date. A present
// artifact is left alone unless force, which deletes and regenerates it.
func (o *Orchestrator) ensureMarketContext(ctx context.Context, date calendar.TradingDate, force bool) error {
	if force {
		if err := o.store.DeleteDailySummary(ctx, date); err != nil {
			return err
		}
	} else if _, err := o.store.GetDailySummary(ctx, date); err == nil {
		return nil
	}
	_, err := o.prices.BuildDailySummary(ctx, date)
	return err
}

// newestCovered reports whether no trading day after date (through
// yesterday) already has a stage-1 artifact, i.e. date is the pipeline's
// frontier and its snapshot legitimately is the current state.
func (o *Orchestrator) newestCovered(ctx context.Context, date calendar.TradingDate) (bool, error) {
	yesterday := calendar.Today().AddDays(-1)
	for _, later := range calendar.TradingDays(date.AddDays(1), yesterday) {
		_, err := o.store.GetDailySummary(ctx, later)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, faults.ErrNotFound) {
			return false, fmt.Errorf("scan %s: %w", later, err)
		}
	}
	return true, nil
}

func (o *Orchestrator) finishDate(result DateResult, start time.Time) DateResult {
	if len(result.StageErrors) == 0 {
		result.StageErrors = nil
	}
	result.Duration = time.Since(start)

	outcome := "succeeded"
	if !result.OK() {
		outcome = "failed"
	}
	metrics.BackfillDates.WithLabelValues(outcome).Inc()
	slog.Info("backfill date finished",
		"date", result.Date.String(),
		"outcome", outcome,
		"duration", result.Duration.String(),
	)
	return result
}

// BackfillMissing scans the lookback window and repairs each missing date
// in order. Cancellation is cooperative at the date boundary: completed
// dates stay finalized and the rest is left for the next run.
func (o *Orchestrator) BackfillMissing(ctx context.Context, lookbackDays int, force bool) (Report, error) {
	var report Report
	start := time.Now()

	var dates []calendar.TradingDate
	var err error
	if force {
		if lookbackDays <= 0 {
			return report, fmt.Errorf("%w: lookbackDays must be positive, got %d", faults.ErrValidation, lookbackDays)
		}
		today := calendar.Today()
		dates = calendar.TradingDays(today.AddDays(-lookbackDays), today.AddDays(-1))
	} else {
		dates, err = o.ScanMissingDates(ctx, lookbackDays)
		if err != nil {
			return report, err
		}
	}

	for _, date := range dates {
		if ctx.Err() != nil {
			report.Duration = time.Since(start)
			return report, ctx.Err()
		}
		report.Dates = append(report.Dates, o.BackfillDate(ctx, date, force))
	}

	report.Duration = time.Since(start)
	slog.Info("backfill run finished",
		"dates", len(report.Dates),
		"duration", report.Duration.String(),
	)
	return report, nil
}

func firstError(s model.BatchSummary) string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[0]
}
