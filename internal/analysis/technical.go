// Package analysis computes technical indicators and trading signals from
// candle series. Pure computation; fetching and caching happen elsewhere.
package analysis

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
)

// Indicator periods. Standard settings, matching what the dashboard charts
// draw client-side.
const (
	rsiPeriod    = 14
	smaPeriod    = 20
	emaPeriod    = 50
	bbandsPeriod = 20
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
)

// minBars is the shortest series the indicator set can be computed on.
// The EMA-50 is the binding constraint.
const minBars = emaPeriod + macdSignal

// Analyzer computes indicators and signals.
type Analyzer struct {
	log zerolog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: log.With().Str("component", "analysis").Logger()}
}

// last returns the final element of a talib output column.
func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Indicators computes the standard indicator set over a candle series and
// returns the latest value of each.
func (a *Analyzer) Indicators(series *market.CandleSeries) (map[string]float64, error) {
	closes := series.Closes()
	if len(closes) < minBars {
		return nil, fmt.Errorf("need at least %d candles for %s, got %d", minBars, series.Pair, len(closes))
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	upper, middle, lower := talib.BBands(closes, bbandsPeriod, 2.0, 2.0, talib.SMA)
	sma := talib.Sma(closes, smaPeriod)
	ema := talib.Ema(closes, emaPeriod)

	return map[string]float64{
		"price":       last(closes),
		"rsi":         last(rsi),
		"macd":        last(macd),
		"macd_signal": last(signal),
		"macd_hist":   last(hist),
		"sma_20":      last(sma),
		"ema_50":      last(ema),
		"bb_upper":    last(upper),
		"bb_middle":   last(middle),
		"bb_lower":    last(lower),
	}, nil
}
