package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// Yahoo adapter for the Yahoo Finance v8 chart API. The only free source
// in the set that serves both spot prices and OHLCV candles.
type Yahoo struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewYahoo creates the Yahoo Finance adapter.
func NewYahoo(log zerolog.Logger) *Yahoo {
	return &Yahoo{
		baseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
		client:  newHTTPClient(),
		log:     log.With().Str("client", "yahoo-finance").Logger(),
	}
}

// Name implements Adapter.
func (c *Yahoo) Name() string { return NameYahoo }

// Kinds implements Adapter.
func (c *Yahoo) Kinds() []market.Kind {
	return []market.Kind{market.KindPrice, market.KindCandles}
}

// yahooSymbol maps a pair symbol to Yahoo's FX ticker format.
func yahooSymbol(pair string) string {
	return market.NormalizePair(pair) + "=X"
}

// intervalFor maps our timeframe names onto chart API parameters.
func intervalFor(timeframe string) (interval, rng string) {
	switch timeframe {
	case "5m":
		return "5m", "5d"
	case "15m":
		return "15m", "5d"
	case "1d":
		return "1d", "6mo"
	default:
		return "1h", "1mo"
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch implements Adapter.
func (c *Yahoo) Fetch(ctx context.Context, req Request) (market.Payload, error) {
	interval, rng := intervalFor(req.Timeframe)
	url := fmt.Sprintf("%s/%s?interval=%s&range=%s", c.baseURL, yahooSymbol(req.Symbol), interval, rng)
	c.log.Debug().Str("url", url).Msg("Fetching chart")

	var result yahooChartResponse
	if err := getJSON(ctx, c.client, c.Name(), url, &result); err != nil {
		return nil, err
	}

	if result.Chart.Error != nil {
		return nil, &APIError{Provider: c.Name(), Message: result.Chart.Error.Description}
	}
	if len(result.Chart.Result) == 0 {
		return nil, &APIError{Provider: c.Name(), Message: "empty chart result"}
	}
	chart := result.Chart.Result[0]

	switch req.Kind {
	case market.KindPrice:
		if chart.Meta.RegularMarketPrice <= 0 {
			return nil, &APIError{Provider: c.Name(), Message: "no market price in response"}
		}
		return &market.PriceSnapshot{
			Pair:      market.NormalizePair(req.Symbol),
			Price:     chart.Meta.RegularMarketPrice,
			Timestamp: time.Now().UTC(),
			Source:    c.Name(),
		}, nil

	case market.KindCandles:
		if len(chart.Indicators.Quote) == 0 {
			return nil, &APIError{Provider: c.Name(), Message: "no quote data in response"}
		}
		quote := chart.Indicators.Quote[0]

		candles := make([]market.Candle, 0, len(chart.Timestamp))
		for i, ts := range chart.Timestamp {
			// Yahoo pads unfinished bars with nulls; skip incomplete rows.
			if i >= len(quote.Close) || quote.Open[i] == nil || quote.High[i] == nil ||
				quote.Low[i] == nil || quote.Close[i] == nil {
				continue
			}
			candle := market.Candle{
				Time:  time.Unix(ts, 0).UTC(),
				Open:  *quote.Open[i],
				High:  *quote.High[i],
				Low:   *quote.Low[i],
				Close: *quote.Close[i],
			}
			if i < len(quote.Volume) && quote.Volume[i] != nil {
				candle.Volume = *quote.Volume[i]
			}
			candles = append(candles, candle)
		}
		if len(candles) == 0 {
			return nil, &APIError{Provider: c.Name(), Message: "no usable candles in response"}
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

		return &market.CandleSeries{
			Pair:      market.NormalizePair(req.Symbol),
			Timeframe: req.Timeframe,
			Candles:   candles,
			Source:    c.Name(),
		}, nil
	}

	return nil, fmt.Errorf("yahoo_finance does not serve dataset kind %s", req.Kind)
}
