// Package providers contains the upstream data source adapters. Each
// adapter knows how to talk to exactly one external API and returns typed
// payloads. Adapters never touch the cache or the rate limiter - the
// fetch layer owns both.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxlens/fxlens/internal/market"
)

// Provider name constants. These are the keys used in quota configuration
// and priority lists.
const (
	NameYahoo            = "yahoo_finance"
	NameAlphaVantage     = "alpha_vantage"
	NameExchangeRateAPI  = "exchangerate_api"
	NameExchangeRateHost = "exchangerate_host"
	NameFawaz            = "fawaz_currency"
	NameSynthetic        = "synthetic"
)

// Request describes one dataset to fetch.
type Request struct {
	Symbol    string      // pair symbol, e.g. EURUSD
	Timeframe string      // only meaningful for candle requests
	Kind      market.Kind // dataset kind
}

// Adapter is the contract every upstream source implements.
type Adapter interface {
	// Name returns the provider identifier used in quotas and priorities.
	Name() string
	// Kinds lists the dataset kinds this provider can serve.
	Kinds() []market.Kind
	// Fetch retrieves one dataset. It must honor ctx cancellation and
	// return an *APIError for upstream-reported failures.
	Fetch(ctx context.Context, req Request) (market.Payload, error)
}

// APIError is an error reported by an upstream API, as opposed to a
// transport failure.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// newHTTPClient is shared by all adapters. The fetch layer applies the
// per-provider call timeout through the request context, so the client
// timeout is only a safety net.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// getJSON performs a GET request and decodes the JSON response into out.
// Non-200 responses become *APIError.
func getJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "fxlens/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Provider: provider, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	return nil
}

// supportsKind reports whether kind appears in the adapter's kind list.
func supportsKind(a Adapter, kind market.Kind) bool {
	for _, k := range a.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
