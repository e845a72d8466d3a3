package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// AlphaVantage adapter. Requires an API key and has a tight daily cap, so
// it sits low in the priority lists. Serves both spot rates and intraday
// FX candles.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewAlphaVantage creates the Alpha Vantage adapter. An empty apiKey makes
// every fetch fail fast instead of burning quota on rejected calls.
func NewAlphaVantage(apiKey string, log zerolog.Logger) *AlphaVantage {
	return &AlphaVantage{
		baseURL: "https://www.alphavantage.co/query",
		apiKey:  apiKey,
		client:  newHTTPClient(),
		log:     log.With().Str("client", "alpha-vantage").Logger(),
	}
}

// Name implements Adapter.
func (c *AlphaVantage) Name() string { return NameAlphaVantage }

// Kinds implements Adapter.
func (c *AlphaVantage) Kinds() []market.Kind {
	return []market.Kind{market.KindPrice, market.KindCandles}
}

// avTimeLayout is the timestamp format of the FX_INTRADAY series.
const avTimeLayout = "2006-01-02 15:04:05"

// Fetch implements Adapter.
func (c *AlphaVantage) Fetch(ctx context.Context, req Request) (market.Payload, error) {
	if c.apiKey == "" {
		return nil, &APIError{Provider: c.Name(), Message: "no API key configured"}
	}

	base, quote, err := market.SplitPair(req.Symbol)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case market.KindPrice:
		return c.fetchPrice(ctx, req.Symbol, base, quote)
	case market.KindCandles:
		return c.fetchCandles(ctx, req, base, quote)
	}
	return nil, fmt.Errorf("alpha_vantage does not serve dataset kind %s", req.Kind)
}

func (c *AlphaVantage) fetchPrice(ctx context.Context, symbol, base, quote string) (market.Payload, error) {
	url := fmt.Sprintf("%s?function=CURRENCY_EXCHANGE_RATE&from_currency=%s&to_currency=%s&apikey=%s",
		c.baseURL, base, quote, c.apiKey)
	c.log.Debug().Str("from", base).Str("to", quote).Msg("Fetching exchange rate")

	var result struct {
		Rate map[string]string `json:"Realtime Currency Exchange Rate"`
		Note string            `json:"Note"`
		Err  string            `json:"Error Message"`
	}
	if err := getJSON(ctx, c.client, c.Name(), url, &result); err != nil {
		return nil, err
	}
	if err := c.checkServiceMessages(result.Note, result.Err); err != nil {
		return nil, err
	}

	raw, ok := result.Rate["5. Exchange Rate"]
	if !ok {
		return nil, &APIError{Provider: c.Name(), Message: "no exchange rate in response"}
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &APIError{Provider: c.Name(), Message: fmt.Sprintf("unparseable rate %q", raw)}
	}

	return &market.PriceSnapshot{
		Pair:      market.NormalizePair(symbol),
		Price:     rate,
		Timestamp: time.Now().UTC(),
		Source:    c.Name(),
	}, nil
}

func (c *AlphaVantage) fetchCandles(ctx context.Context, req Request, base, quote string) (market.Payload, error) {
	interval := "60min"
	switch req.Timeframe {
	case "5m":
		interval = "5min"
	case "15m":
		interval = "15min"
	}

	url := fmt.Sprintf("%s?function=FX_INTRADAY&from_symbol=%s&to_symbol=%s&interval=%s&outputsize=compact&apikey=%s",
		c.baseURL, base, quote, interval, c.apiKey)
	c.log.Debug().Str("from", base).Str("to", quote).Str("interval", interval).Msg("Fetching intraday series")

	var result struct {
		Series map[string]map[string]string `json:"Time Series FX (60min)"`
		Small  map[string]map[string]string `json:"Time Series FX (5min)"`
		Medium map[string]map[string]string `json:"Time Series FX (15min)"`
		Note   string                       `json:"Note"`
		Err    string                       `json:"Error Message"`
	}
	if err := getJSON(ctx, c.client, c.Name(), url, &result); err != nil {
		return nil, err
	}
	if err := c.checkServiceMessages(result.Note, result.Err); err != nil {
		return nil, err
	}

	series := result.Series
	if series == nil {
		series = result.Small
	}
	if series == nil {
		series = result.Medium
	}
	if len(series) == 0 {
		return nil, &APIError{Provider: c.Name(), Message: "no time series in response"}
	}

	candles := make([]market.Candle, 0, len(series))
	for ts, row := range series {
		when, err := time.Parse(avTimeLayout, ts)
		if err != nil {
			continue
		}
		open, err1 := strconv.ParseFloat(row["1. open"], 64)
		high, err2 := strconv.ParseFloat(row["2. high"], 64)
		low, err3 := strconv.ParseFloat(row["3. low"], 64)
		closePrice, err4 := strconv.ParseFloat(row["4. close"], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		candles = append(candles, market.Candle{
			Time:  when.UTC(),
			Open:  open,
			High:  high,
			Low:   low,
			Close: closePrice,
		})
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

// checkServiceMessages maps Alpha Vantage's in-band error fields to errors.
// A "Note" means the service-side rate limit fired.
func (c *AlphaVantage) checkServiceMessages(note, errMsg string) error {
	if errMsg != "" {
		return &APIError{Provider: c.Name(), Message: errMsg}
	}
	if note != "" {
		return &APIError{Provider: c.Name(), StatusCode: http.StatusTooManyRequests, Message: note}
	}
	return nil
}
