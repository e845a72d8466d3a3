package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// ExchangeRateHost adapter for api.exchangerate.host. Generous free tier,
// spot rates only.
type ExchangeRateHost struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewExchangeRateHost creates the exchangerate.host adapter.
func NewExchangeRateHost(log zerolog.Logger) *ExchangeRateHost {
	return &ExchangeRateHost{
		baseURL: "https://api.exchangerate.host",
		client:  newHTTPClient(),
		log:     log.With().Str("client", "exchangerate-host").Logger(),
	}
}

// Name implements Adapter.
func (c *ExchangeRateHost) Name() string { return NameExchangeRateHost }

// Kinds implements Adapter.
func (c *ExchangeRateHost) Kinds() []market.Kind { return []market.Kind{market.KindPrice} }

// Fetch implements Adapter.
func (c *ExchangeRateHost) Fetch(ctx context.Context, req Request) (market.Payload, error) {
	base, quote, err := market.SplitPair(req.Symbol)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/latest?base=%s&symbols=%s", c.baseURL, base, quote)
	c.log.Debug().Str("url", url).Msg("Fetching rates")

	var result struct {
		Success bool               `json:"success"`
		Rates   map[string]float64 `json:"rates"`
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
