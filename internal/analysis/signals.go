package analysis

import (
	"time"

	"github.com/fxlens/fxlens/internal/market"
)

// Signal thresholds. The technical score starts neutral at 50 and each
// indicator votes it up or down.
const (
	buyThreshold  = 65
	sellThreshold = 35

	rsiOversold   = 30
	rsiOverbought = 70
)

// Confidence blends how decisive the indicators are with how trustworthy
// the underlying data source is.
const (
	signalWeight = 0.6
	sourceWeight = 0.4
)

// Signals derives a trading signal bundle from a candle series.
// sourceConfidence is the 0-100 trust rating of the data source the
// series came from; synthetic input yields a low-confidence bundle, never
// a hidden one.
func (a *Analyzer) Signals(series *market.CandleSeries, sourceConfidence float64) (*market.SignalBundle, error) {
	indicators, err := a.Indicators(series)
	if err != nil {
		return nil, err
	}

	price := indicators["price"]
	score := 50.0

	// Momentum votes.
	switch rsi := indicators["rsi"]; {
	case rsi < rsiOversold:
		score += 15
	case rsi > rsiOverbought:
		score -= 15
	}
	if indicators["macd_hist"] > 0 {
		score += 10
	} else {
		score -= 10
	}

	// Trend votes.
	if price > indicators["sma_20"] {
		score += 10
	} else {
		score -= 10
	}
	if price > indicators["ema_50"] {
		score += 10
	} else {
		score -= 10
	}

	// Band reversion votes.
	switch {
	case price < indicators["bb_lower"]:
		score += 5
	case price > indicators["bb_upper"]:
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	action := market.ActionNeutral
	switch {
	case score >= buyThreshold:
		action = market.ActionBuy
	case score <= sellThreshold:
		action = market.ActionSell
	}

	// Distance from neutral measures decisiveness.
	strength := (score - 50) * 2
	if strength < 0 {
		strength = -strength
	}
	confidence := signalWeight*strength + sourceWeight*sourceConfidence

	bundle := &market.SignalBundle{
		Pair:           series.Pair,
		Timeframe:      series.Timeframe,
		Action:         action,
		TechnicalScore: score,
		Confidence:     confidence,
		Indicators:     indicators,
		GeneratedAt:    time.Now().UTC(),
		Source:         series.Source,
	}

	a.log.Debug().
		Str("pair", series.Pair).
		Str("action", string(action)).
		Float64("score", score).
		Float64("confidence", confidence).
		Msg("Generated signal bundle")
	return bundle, nil
}
