// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CandlesUpserted counts daily candles written, partitioned by source.
	CandlesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_candles_upserted_total",
		Help: "Daily candles created or corrected",
	}, []string{"source"}) // "close", "backfill"

	// CandlesSkipped counts candles rejected before storage.
	CandlesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_candles_skipped_total",
		Help: "Candles rejected by OHLC validation",
	}, []string{"reason"})

	// FetchErrors counts per-instrument price-source failures.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_price_fetch_errors_total",
		Help: "External price-source failures during backfill",
	})

	// JobDuration tracks trigger-surface job duration.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_job_duration_seconds",
		Help:    "Batch job duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})

	// RankingRows tracks the stored ranking set size per period and league.
	RankingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stocksim_ranking_rows",
		Help: "Ranking rows stored after the last full replace",
	}, []string{"period", "league"})

	// RewardsPaid counts one-time reward payouts.
	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_rewards_paid_total",
		Help: "Monthly reward payouts applied",
	})

	// RewardsSkipped counts payouts skipped by the reward-given guard.
	RewardsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stocksim_rewards_skipped_total",
		Help: "Reward payouts skipped because already paid",
	})

	// BackfillDates counts orchestrated per-date backfill outcomes.
	BackfillDates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_backfill_dates_total",
		Help: "Backfilled dates by outcome",
	}, []string{"outcome"}) // "succeeded", "failed"

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small and
		// fixed, so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
