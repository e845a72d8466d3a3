package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// ExchangeRateAPI adapter for api.exchangerate-api.com. Free tier, spot
// rates only, no candles.
type ExchangeRateAPI struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewExchangeRateAPI creates the exchangerate-api.com adapter.
func NewExchangeRateAPI(log zerolog.Logger) *ExchangeRateAPI {
	return &ExchangeRateAPI{
		baseURL: "https://api.exchangerate-api.com/v4/latest",
		client:  newHTTPClient(),
		log:     log.With().Str("client", "exchangerate-api").Logger(),
	}
}

// Name implements Adapter.
func (c *ExchangeRateAPI) Name() string { return NameExchangeRateAPI }

// Kinds implements Adapter.
func (c *ExchangeRateAPI) Kinds() []market.Kind { return []market.Kind{market.KindPrice} }

// Fetch implements Adapter.
func (c *ExchangeRateAPI) Fetch(ctx context.Context, req Request) (market.Payload, error) {
	base, quote, err := market.SplitPair(req.Symbol)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	c.log.Debug().Str("url", url).Msg("Fetching rates")

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, c.client, c.Name(), url, &result); err != nil {
		return nil, err
	}

	rate, ok := result.Rates[quote]
	if !ok {
		return nil, &APIError{
			Provider: c.Name(),
			Message:  fmt.Sprintf("rate not found for %s->%s", base, quote),
		}
	}

	return &market.PriceSnapshot{
		Pair:      market.NormalizePair(req.Symbol),
		Price:     rate,
		Timestamp: time.Now().UTC(),
		Source:    c.Name(),
	}, nil
}
