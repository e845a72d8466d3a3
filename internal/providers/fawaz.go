package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// Fawaz adapter for the fawazahmed0 currency API served from the jsdelivr
// CDN. No API key, very high effective limits, rates updated daily.
type Fawaz struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewFawaz creates the fawazahmed0 currency API adapter.
func NewFawaz(log zerolog.Logger) *Fawaz {
	return &Fawaz{
		baseURL: "https://cdn.jsdelivr.net/npm/@fawazahmed0/currency-api@latest/v1/currencies",
		client:  newHTTPClient(),
		log:     log.With().Str("client", "fawaz").Logger(),
	}
}

// Name implements Adapter.
func (c *Fawaz) Name() string { return NameFawaz }

// Kinds implements Adapter.
func (c *Fawaz) Kinds() []market.Kind { return []market.Kind{market.KindPrice} }

// Fetch implements Adapter.
func (c *Fawaz) Fetch(ctx context.Context, req Request) (market.Payload, error) {
	base, quote, err := market.SplitPair(req.Symbol)
	if err != nil {
		return nil, err
	}

	// The CDN keys currencies in lowercase.
	baseLower := strings.ToLower(base)
	quoteLower := strings.ToLower(quote)

	url := fmt.Sprintf("%s/%s.json", c.baseURL, baseLower)
	c.log.Debug().Str("url", url).Msg("Fetching rates")

	var result map[string]any
	if err := getJSON(ctx, c.client, c.Name(), url, &result); err != nil {
		return nil, err
	}

	rates, ok := result[baseLower].(map[string]any)
	if !ok {
		return nil, &APIError{Provider: c.Name(), Message: "unexpected response shape"}
	}
	rate, ok := rates[quoteLower].(float64)
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
