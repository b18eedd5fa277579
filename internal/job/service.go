// Package job exposes the HTTP trigger surface: every batch job in the
// engine (collection, candle close, rankings, leagues, rewards, backfill)
// is invoked by an external scheduler through these endpoints, plus the
// read APIs for reconstructed portfolios, rankings, and candles.
package job

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocksim/portfolio-engine/internal/backfill"
	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/instrument"
	"github.com/stocksim/portfolio-engine/internal/league"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/orchestrator"
	"github.com/stocksim/portfolio-engine/internal/portfolio"
	"github.com/stocksim/portfolio-engine/internal/pricehistory"
	"github.com/stocksim/portfolio-engine/internal/ranking"
	"github.com/stocksim/portfolio-engine/internal/reward"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// Service handles job triggers and read queries.
type Service struct {
	store    store.Store
	prices   *pricehistory.Service
	fetcher  *backfill.Fetcher
	rebuilds *portfolio.Reconstructor
	rankings *ranking.Engine
	leagues  *league.Classifier
	rewards  *reward.Distributor
	orch     *orchestrator.Orchestrator
	hub      *Hub // optional WebSocket hub for job-completion broadcasts
}

// NewService creates the trigger-surface service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(
	st store.Store,
	prices *pricehistory.Service,
	fetcher *backfill.Fetcher,
	rebuilds *portfolio.Reconstructor,
	rankings *ranking.Engine,
	leagues *league.Classifier,
	rewards *reward.Distributor,
	orch *orchestrator.Orchestrator,
	hub *Hub,
) *Service {
	return &Service{
		store:    st,
		prices:   prices,
		fetcher:  fetcher,
		rebuilds: rebuilds,
		rankings: rankings,
		leagues:  leagues,
		rewards:  rewards,
		orch:     orch,
		hub:      hub,
	}
}

// Routes mounts every endpoint on a fresh router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/collect", s.RunCollect)
		r.Post("/candle-close", s.RunCandleClose)
		r.Post("/rankings", s.RunRankingsAll)
		r.Post("/rankings/{period}", s.RunRankings)
		r.Post("/leagues/reclassify", s.RunLeagueReclassify)
		r.Post("/rewards/{period}", s.RunRewards)
		r.Post("/backfill", s.RunBackfill)
		r.Post("/backfill/prices", s.RunPriceBackfill)
		r.Get("/missing-dates", s.GetMissingDates)
	})

	r.Get("/portfolio/{userID}/history", s.GetPortfolioHistory)
	r.Get("/portfolio/{userID}/holdings", s.GetHoldings)
	r.Get("/portfolio/{userID}/capital-history", s.GetCapitalHistory)
	r.Get("/rankings/{period}", s.GetRankings)
	r.Get("/candles/{code}/{date}", s.GetCandle)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}

// BackfillRequest is the JSON body for POST /jobs/backfill.
type BackfillRequest struct {
	LookbackDays int  `json:"lookback_days"`
	Force        bool `json:"force"`
}

// PriceBackfillRequest is the JSON body for POST /jobs/backfill/prices.
type PriceBackfillRequest struct {
	DayCount int `json:"day_count"`
}

// --- Job triggers ---

// RunCollect handles POST /api/v1/jobs/collect
func (s *Service) RunCollect(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "collect", "", func() model.BatchSummary {
		return s.fetcher.CollectToday(r.Context())
	})
}

// RunCandleClose handles POST /api/v1/jobs/candle-close
func (s *Service) RunCandleClose(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "candle_close", "", func() model.BatchSummary {
		return s.prices.CloseDailyCandles(r.Context())
	})
}

// RunRankingsAll handles POST /api/v1/jobs/rankings
func (s *Service) RunRankingsAll(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "rankings", "", func() model.BatchSummary {
		return s.rankings.ComputeAll(r.Context())
	})
}

// RunRankings handles POST /api/v1/jobs/rankings/{period}
func (s *Service) RunRankings(w http.ResponseWriter, r *http.Request) {
	period := model.Period(chi.URLParam(r, "period"))
	if !model.ValidPeriod(period) {
		writeError(w, "unknown period: "+string(period), http.StatusBadRequest)
		return
	}
	s.runJob(w, r, "rankings", period, func() model.BatchSummary {
		summary, err := s.rankings.Compute(r.Context(), period)
		if err != nil {
			summary.AddError(err)
		}
		return summary
	})
}

// RunLeagueReclassify handles POST /api/v1/jobs/leagues/reclassify
func (s *Service) RunLeagueReclassify(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "league_reclassify", "", func() model.BatchSummary {
		return s.leagues.ReclassifyAll(r.Context())
	})
}

// RunRewards handles POST /api/v1/jobs/rewards/{period}
func (s *Service) RunRewards(w http.ResponseWriter, r *http.Request) {
	period := model.Period(chi.URLParam(r, "period"))
	start := time.Now()
	summary, err := s.rewards.DistributeMonthly(r.Context(), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.finishJob(w, "rewards", period, summary, start)
}

// RunBackfill handles POST /api/v1/jobs/backfill
// Repairs missing pipeline dates; with force, regenerates the whole window.
func (s *Service) RunBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	report, err := s.orch.BackfillMissing(r.Context(), req.LookbackDays, req.Force)
	if err != nil && len(report.Dates) == 0 {
		writeDomainError(w, err)
		return
	}
	metrics.JobDuration.WithLabelValues("backfill").Observe(time.Since(start).Seconds())
	s.broadcast("backfill", "", report.Summary(), time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// RunPriceBackfill handles POST /api/v1/jobs/backfill/prices
func (s *Service) RunPriceBackfill(w http.ResponseWriter, r *http.Request) {
	var req PriceBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DayCount <= 0 {
		writeError(w, "day_count must be positive", http.StatusBadRequest)
		return
	}

	s.runJob(w, r, "price_backfill", "", func() model.BatchSummary {
		results, err := s.fetcher.BackfillAll(r.Context(), req.DayCount)
		summary := backfill.Summarize(results)
		if err != nil {
			summary.AddError(err)
		}
		return summary
	})
}

// GetMissingDates handles GET /api/v1/jobs/missing-dates?lookback=N
func (s *Service) GetMissingDates(w http.ResponseWriter, r *http.Request) {
	lookback := 30
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "lookback must be an integer", http.StatusBadRequest)
			return
		}
		lookback = n
	}

	missing, err := s.orch.ScanMissingDates(r.Context(), lookback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if missing == nil {
		missing = []calendar.TradingDate{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"lookback_days": lookback,
		"missing_dates": missing,
	})
}

// --- Read APIs ---

// GetPortfolioHistory handles GET /api/v1/portfolio/{userID}/history
// Query: from, to (YYYY-MM-DD, both required), trading_days_only (bool).
func (s *Service) GetPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	from, err := calendar.Parse(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := calendar.Parse(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, "invalid to date", http.StatusBadRequest)
		return
	}
	tradingDaysOnly := r.URL.Query().Get("trading_days_only") == "true"

	snapshots, err := s.rebuilds.Reconstruct(r.Context(), userID, from, to, tradingDaysOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []model.PortfolioSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

// GetHoldings handles GET /api/v1/portfolio/{userID}/holdings
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	holdings, err := s.rebuilds.CurrentHoldings(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id":      userID,
		"cash":         user.Cash,
		"total_assets": user.TotalAssets,
		"total_return": user.TotalReturn,
		"league":       user.League,
		"holdings":     holdings,
	})
}

// GetCapitalHistory handles GET /api/v1/portfolio/{userID}/capital-history
func (s *Service) GetCapitalHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := s.store.GetCapitalHistory(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.CapitalHistory{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetRankings handles GET /api/v1/rankings/{period}
func (s *Service) GetRankings(w http.ResponseWriter, r *http.Request) {
	period := model.Period(chi.URLParam(r, "period"))
	if !model.ValidPeriod(period) {
		writeError(w, "unknown period: "+string(period), http.StatusBadRequest)
		return
	}

	rows, err := s.store.GetRankings(r.Context(), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []model.RankingRow{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// GetCandle handles GET /api/v1/candles/{code}/{date}
func (s *Service) GetCandle(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := instrument.ValidateCode(code); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := calendar.Parse(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, "invalid date", http.StatusBadRequest)
		return
	}

	candle, err := s.prices.GetCandle(r.Context(), code, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candle)
}

// --- Helpers ---

// runJob executes a batch job, records its duration, broadcasts the
// completion event, and writes the summary. A summary with failures is
// still a 200: the job ran, the summary says what happened.
func (s *Service) runJob(w http.ResponseWriter, _ *http.Request, name string, period model.Period, fn func() model.BatchSummary) {
	start := time.Now()
	summary := fn()
	metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	slog.Info("job finished",
		"job", name,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", time.Since(start).String(),
	)
	s.broadcast(name, period, summary, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Service) finishJob(w http.ResponseWriter, name string, period model.Period, summary model.BatchSummary, startedAt time.Time) {
	elapsed := time.Since(startedAt)
	metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	s.broadcast(name, period, summary, elapsed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Service) broadcast(name string, period model.Period, summary model.BatchSummary, elapsed time.Duration) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(Event{
		Type:      name,
		Period:    string(period),
		Summary:   summary,
		Duration:  elapsed.String(),
		Timestamp: time.Now().UTC(),
	})
}

// writeDomainError maps sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, faults.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, faults.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, faults.ErrExternalService):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
