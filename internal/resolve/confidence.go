package resolve

import (
	"time"

	"github.com/fxlens/fxlens/internal/providers"
)

// baseConfidence rates how much we trust each source on a 0-100 scale,
// before its recent track record is taken into account. Synthetic data
// always ranks last.
var baseConfidence = map[string]float64{
	providers.NameYahoo:            95,
	providers.NameAlphaVantage:     90,
	providers.NameExchangeRateAPI:  90,
	providers.NameExchangeRateHost: 85,
	providers.NameFawaz:            75,
	providers.NameSynthetic:        10,
}

// defaultBaseConfidence applies to sources added without a rating.
const defaultBaseConfidence = 50

// confidenceFor blends the static provider rating with the provider's
// recent error rate: a source failing half its calls is worth half its
// base rating. Monotone non-increasing in errorRate, bounded to [0, 100].
func confidenceFor(provider string, errorRate float64) float64 {
	base, ok := baseConfidence[provider]
	if !ok {
		base = defaultBaseConfidence
	}
	if errorRate < 0 {
		errorRate = 0
	}
	if errorRate > 1 {
		errorRate = 1
	}
	return base * (1 - errorRate)
}

// freshnessOf rates payload age against its TTL on a 0-1 scale. A payload
// within its TTL scores at least 0.75; the score reaches zero at four
// times the TTL. Kept separate from provider confidence so consumers can
// weigh "who said it" and "how old is it" independently.
func freshnessOf(age, ttl time.Duration) float64 {
	if ttl <= 0 || age <= 0 {
		return 1
	}
	f := 1 - float64(age)/float64(4*ttl)
	if f < 0 {
		return 0
	}
	return f
}
