package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// HTTPSource fetches daily OHLCV bars from a JSON quote API:
//
//	GET {base}/daily?code={code}&from={YYYY-MM-DD}&to={YYYY-MM-DD}
//
// responding with {"candles": [{date, open, high, low, close, volume}]}.
// Prices arrive as strings to avoid float truncation.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource creates a quote client for the given base URL.
func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type quoteBar struct {
	Date   calendar.TradingDate `json:"date"`
	Open   decimal.Decimal      `json:"open"`
	High   decimal.Decimal      `json:"high"`
	Low    decimal.Decimal      `json:"low"`
	Close  decimal.Decimal      `json:"close"`
	Volume int64                `json:"volume"`
}

type quoteResponse struct {
	Candles []quoteBar `json:"candles"`
}

// FetchDailyOHLCV implements QuoteSource.
func (s *HTTPSource) FetchDailyOHLCV(ctx context.Context, code string, from, to calendar.TradingDate) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("from", from.String())
	q.Set("to", to.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/daily?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: instrument %s", faults.ErrNotFound, code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: quote API returned %d", faults.ErrExternalService, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode quote response: %v", faults.ErrExternalService, err)
	}

	candles := make([]model.Candle, 0, len(body.Candles))
	for _, b := range body.Candles {
		candles = append(candles, model.Candle{
			InstrumentCode: code,
			Date:           b.Date,
			Open:           b.Open,
			High:           b.High,
			Low:            b.Low,
			Close:          b.Close,
			Volume:         b.Volume,
		})
	}
	return candles, nil
}
