// Package market defines the typed payloads exchanged between providers,
// the cache, and the resolution layer. Each dataset kind has an explicit
// schema instead of passing untyped maps around.
package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a dataset kind. The cache keeps one table per kind and
// the orchestrator keeps one provider priority list per kind.
type Kind string

const (
	KindPrice   Kind = "price"   // live spot rate
	KindCandles Kind = "candles" // OHLCV series
	KindSignals Kind = "signals" // computed signal bundle
)

// Kinds lists every known dataset kind.
var Kinds = []Kind{KindPrice, KindCandles, KindSignals}

// QualityLabel tags a resolved payload with its origin. Downstream consumers
// must never drop this label - a synthetic result has to stay distinguishable
// from live data.
type QualityLabel string

const (
	LabelCached    QualityLabel = "cached"    // served from the cache
	LabelPrimary   QualityLabel = "primary"   // first provider in the priority list
	LabelFallback  QualityLabel = "fallback"  // a lower-priority provider answered
	LabelSynthetic QualityLabel = "synthetic" // deterministic placeholder data
)

// Payload is the tagged union over dataset kinds.
type Payload interface {
	PayloadKind() Kind
}

// PriceSnapshot is a single spot rate observation.
type PriceSnapshot struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PayloadKind implements Payload.
func (p *PriceSnapshot) PayloadKind() Kind { return KindPrice }

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// CandleSeries is an ordered OHLCV series for one pair and timeframe.
type CandleSeries struct {
	Pair      string   `json:"pair"`
	Timeframe string   `json:"timeframe"`
	Candles   []Candle `json:"candles"`
	Source    string   `json:"source"`
}

// PayloadKind implements Payload.
func (c *CandleSeries) PayloadKind() Kind { return KindCandles }

// Closes returns the close column, oldest first.
func (c *CandleSeries) Closes() []float64 {
	out := make([]float64, len(c.Candles))
	for i, candle := range c.Candles {
		out[i] = candle.Close
	}
	return out
}

// SignalAction is the direction of a trading signal.
type SignalAction string

const (
	ActionBuy     SignalAction = "BUY"
	ActionSell    SignalAction = "SELL"
	ActionNeutral SignalAction = "NEUTRAL"
)

// SignalBundle is the output of the analysis layer for one pair/timeframe.
type SignalBundle struct {
	Pair           string             `json:"pair"`
	Timeframe      string             `json:"timeframe"`
	Action         SignalAction       `json:"action"`
	TechnicalScore float64            `json:"technical_score"` // 0-100
	Confidence     float64            `json:"confidence"`      // 0-100
	Indicators     map[string]float64 `json:"indicators"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Source         string             `json:"source"`
}

// PayloadKind implements Payload.
func (s *SignalBundle) PayloadKind() Kind { return KindSignals }

// SourceOf returns the provider tag carried by a payload.
func SourceOf(p Payload) string {
	switch v := p.(type) {
	case *PriceSnapshot:
		return v.Source
	case *CandleSeries:
		return v.Source
	case *SignalBundle:
		return v.Source
	}
	return ""
}

// Decode unmarshals a cached JSON blob back into the typed payload for kind.
func Decode(kind Kind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindPrice:
		var p PriceSnapshot
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode price payload: %w", err)
		}
		return &p, nil
	case KindCandles:
		var c CandleSeries
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode candle payload: %w", err)
		}
		return &c, nil
	case KindSignals:
		var s SignalBundle
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode signal payload: %w", err)
		}
		return &s, nil
	}
	return nil, fmt.Errorf("unknown dataset kind: %s", kind)
}

// NormalizePair uppercases a pair symbol and strips separators, so
// "eur/usd" and "EURUSD" address the same cache entry.
func NormalizePair(pair string) string {
	pair = strings.ToUpper(pair)
	pair = strings.ReplaceAll(pair, "/", "")
	pair = strings.ReplaceAll(pair, "-", "")
	return pair
}

// SplitPair returns the base and quote currencies of a six-letter pair
// symbol like EURUSD.
func SplitPair(pair string) (base, quote string, err error) {
	pair = NormalizePair(pair)
	if len(pair) != 6 {
		return "", "", fmt.Errorf("invalid pair symbol: %s", pair)
	}
	return pair[:3], pair[3:], nil
}
